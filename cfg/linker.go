package cfg

import (
	"errors"
	"fmt"
)

// ErrGraphInconsistent reports a link that contradicts an existing edge.
// It means the selector missed a divergence between graph and memory.
var ErrGraphInconsistent = errors.New("control flow graph inconsistent")

// Linker maintains the edges of the graph.
type Linker struct{}

// NewLinker creates a linker.
func NewLinker() *Linker {
	return &Linker{}
}

// Link ensures next is a successor of current. Linking an existing edge is
// a no-op.
func (l *Linker) Link(current, next Node) error {
	switch c := current.(type) {
	case *InstructionNode:
		return l.linkInstruction(c, next)
	case *DiscriminatedNode:
		return l.linkDiscriminated(c, next)
	}
	return fmt.Errorf("%w: unknown node kind %T", ErrGraphInconsistent, current)
}

func (l *Linker) linkInstruction(current *InstructionNode, next Node) error {
	existing := current.SuccessorAt(next.Address())
	if existing == nil {
		l.LinkCurrentToNext(current, next)
		return nil
	}
	if existing != next {
		return fmt.Errorf("%w: %s already continues to %s, not %s",
			ErrGraphInconsistent, NodeString(current), NodeString(existing), NodeString(next))
	}
	return nil
}

func (l *Linker) linkDiscriminated(current *DiscriminatedNode, next Node) error {
	inst, ok := next.(*InstructionNode)
	if !ok {
		return fmt.Errorf("%w: %s cannot follow %s",
			ErrGraphInconsistent, NodeString(next), NodeString(current))
	}

	existing := current.SuccessorFor(inst.Discriminator())
	if existing == nil {
		l.LinkCurrentToNext(current, next)
		return nil
	}
	if existing != inst {
		return fmt.Errorf("%w: %s already has variant %s, not %s",
			ErrGraphInconsistent, NodeString(current), NodeString(existing), NodeString(next))
	}
	return nil
}

// LinkCurrentToNext adds the edge current -> next in both directions and
// refreshes the successor cache of current.
func (l *Linker) LinkCurrentToNext(current, next Node) {
	current.base().successors.add(next)
	next.base().predecessors.add(current)
	current.UpdateSuccessorCache()
}

// ReplacePredecessors moves every predecessor edge of old to replacement.
// An edge from replacement to old is left alone.
func (l *Linker) ReplacePredecessors(old, replacement Node) {
	for _, pred := range old.Predecessors() {
		if pred == replacement {
			continue
		}
		pred.base().successors.remove(old)
		old.base().predecessors.remove(pred)
		l.LinkCurrentToNext(pred, replacement)
	}
	replacement.UpdateSuccessorCache()
	old.UpdateSuccessorCache()
}

// ReplaceInstruction rewires the graph so that replacement takes the place
// of old: predecessors now point at replacement and replacement continues
// to every successor of old. The successor edges of old are left intact
// for code still holding old.
func (l *Linker) ReplaceInstruction(old, replacement *InstructionNode) error {
	l.ReplacePredecessors(old, replacement)
	for _, succ := range old.Successors() {
		l.LinkCurrentToNext(replacement, succ)
	}
	return nil
}
