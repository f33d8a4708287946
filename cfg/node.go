// Package cfg provides the control flow graph of decoded instructions.
//
// The graph has two node kinds. An InstructionNode wraps one decoded
// instruction at one physical address. A DiscriminatedNode stands in for
// several instruction variants observed at the same address and selects
// among them by matching live memory. Edges record control flow observed
// during execution and are kept in insertion order so that traversals are
// deterministic.
package cfg

import "sync/atomic"

var nextID atomic.Uint64

// Node is a vertex of the control flow graph. The set of implementations
// is closed: *InstructionNode and *DiscriminatedNode.
type Node interface {
	// ID returns a process-unique identifier.
	ID() uint64
	// Address returns the physical address the node stands for.
	Address() uint32
	// IsInstruction reports whether the node is a decoded instruction.
	IsInstruction() bool
	// Successors returns the successor nodes in link order.
	Successors() []Node
	// Predecessors returns the predecessor nodes in link order.
	Predecessors() []Node
	// HasSuccessor reports whether next is a successor.
	HasSuccessor(next Node) bool
	// HasPredecessor reports whether prev is a predecessor.
	HasPredecessor(prev Node) bool
	// UpdateSuccessorCache rebuilds the lookup structures derived from the
	// successor set.
	UpdateSuccessorCache()

	base() *nodeBase
}

type nodeBase struct {
	id           uint64
	address      uint32
	successors   nodeSet
	predecessors nodeSet
}

func newNodeBase(address uint32) nodeBase {
	return nodeBase{
		id:      nextID.Add(1),
		address: address,
	}
}

// ID returns the node identifier.
func (b *nodeBase) ID() uint64 {
	return b.id
}

// Address returns the physical address of the node.
func (b *nodeBase) Address() uint32 {
	return b.address
}

// Successors returns a copy of the successor set.
func (b *nodeBase) Successors() []Node {
	return b.successors.items()
}

// Predecessors returns a copy of the predecessor set.
func (b *nodeBase) Predecessors() []Node {
	return b.predecessors.items()
}

// HasSuccessor reports whether next is a successor.
func (b *nodeBase) HasSuccessor(next Node) bool {
	return b.successors.contains(next)
}

// HasPredecessor reports whether prev is a predecessor.
func (b *nodeBase) HasPredecessor(prev Node) bool {
	return b.predecessors.contains(prev)
}

func (b *nodeBase) base() *nodeBase {
	return b
}

// nodeSet is a set of nodes that remembers insertion order.
type nodeSet struct {
	order []Node
	index map[uint64]int
}

func (s *nodeSet) add(n Node) bool {
	if s.contains(n) {
		return false
	}
	if s.index == nil {
		s.index = make(map[uint64]int)
	}
	s.index[n.ID()] = len(s.order)
	s.order = append(s.order, n)
	return true
}

func (s *nodeSet) remove(n Node) bool {
	i, ok := s.index[n.ID()]
	if !ok {
		return false
	}
	delete(s.index, n.ID())
	s.order = append(s.order[:i], s.order[i+1:]...)
	for j := i; j < len(s.order); j++ {
		s.index[s.order[j].ID()] = j
	}
	return true
}

func (s *nodeSet) contains(n Node) bool {
	if n == nil {
		return false
	}
	_, ok := s.index[n.ID()]
	return ok
}

func (s *nodeSet) items() []Node {
	out := make([]Node, len(s.order))
	copy(out, s.order)
	return out
}

func (s *nodeSet) len() int {
	return len(s.order)
}
