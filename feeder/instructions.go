package feeder

import (
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/sarchlab/x86cfg/cfg"
	"github.com/sarchlab/x86cfg/memory"
)

// Statistics holds decode cache counters.
type Statistics struct {
	// Decodes is the number of instructions produced by the parser.
	Decodes uint64
	// CurrentHits counts lookups answered by the current store.
	CurrentHits uint64
	// PreviousHits counts lookups answered by a previously seen variant.
	PreviousHits uint64
	// Evictions counts current instructions invalidated by memory writes.
	Evictions uint64
	// Replacements counts instructions replaced through the registry.
	Replacements uint64
}

// InstructionsFeeder is the decode cache. For every address it returns the
// instruction node that matches memory, reusing nodes it has produced
// before so that equal instructions are the same node.
type InstructionsFeeder struct {
	parser   Parser
	current  *CurrentInstructions
	previous *PreviousInstructions
	matcher  *Matcher
	logger   *log.Logger

	stats Statistics
}

// NewInstructionsFeeder creates a decode cache over mem and subscribes it
// to replacements broadcast by registry.
func NewInstructionsFeeder(
	mem Memory,
	parser Parser,
	registry *cfg.ReplacerRegistry,
	opts ...Option,
) *InstructionsFeeder {
	o := buildOptions(opts)

	f := &InstructionsFeeder{
		parser:   parser,
		current:  NewCurrentInstructions(mem, o.logger),
		previous: NewPreviousInstructions(),
		matcher:  NewMatcher(mem),
		logger:   o.logger,
	}
	registry.Register(f)

	return f
}

// GetOrDecode returns the instruction at segment:offset as memory holds it
// now. The lookup tries the current store, then the previously seen
// variants, and decodes only when neither matches.
func (f *InstructionsFeeder) GetOrDecode(segment, offset uint16) *cfg.InstructionNode {
	addr := memory.ToPhysical(segment, offset)

	if n := f.current.At(addr); n != nil {
		f.stats.CurrentHits++
		return n
	}

	if n := f.matcher.MatchExisting(f.previous.At(addr)); n != nil {
		f.stats.PreviousHits++
		f.promote(n)
		f.logger.Debug("instruction restored", "node", cfg.NodeString(n))
		return n
	}

	n := cfg.NewInstructionNode(f.parser.Parse(segment, offset))
	f.stats.Decodes++
	f.previous.Add(n)
	f.current.SetAsCurrent(n)
	f.logger.Debug("instruction decoded", "node", cfg.NodeString(n))

	return n
}

func (f *InstructionsFeeder) promote(n *cfg.InstructionNode) {
	f.matcher.Reconcile(n)
	f.current.SetAsCurrent(n)
}

// Reconcile refreshes which value fields of n still match memory.
func (f *InstructionsFeeder) Reconcile(n *cfg.InstructionNode) {
	f.matcher.Reconcile(n)
}

// IsCurrent reports whether n is the current instruction at its address.
func (f *InstructionsFeeder) IsCurrent(n *cfg.InstructionNode) bool {
	return f.current.At(n.Address()) == n
}

// CurrentAt returns the current instruction at a physical address, or nil.
func (f *InstructionsFeeder) CurrentAt(addr uint32) *cfg.InstructionNode {
	return f.current.At(addr)
}

// PreviousAt returns every variant seen at a physical address.
func (f *InstructionsFeeder) PreviousAt(addr uint32) []*cfg.InstructionNode {
	return f.previous.At(addr)
}

// CheckReplacement refuses to replace a node this cache never produced.
func (f *InstructionsFeeder) CheckReplacement(old, _ *cfg.InstructionNode) error {
	if !f.previous.Contains(old) {
		return fmt.Errorf("%w: %s", ErrUnknownInstruction, cfg.NodeString(old))
	}
	return nil
}

// ReplaceInstruction makes replacement take the place of old in both
// stores. If old was current, replacement becomes current.
func (f *InstructionsFeeder) ReplaceInstruction(old, replacement *cfg.InstructionNode) error {
	if err := f.CheckReplacement(old, replacement); err != nil {
		return err
	}

	f.previous.ReplaceInstruction(old, replacement)
	if f.current.At(old.Address()) == old {
		f.current.ReplaceInstruction(old, replacement)
		f.matcher.Reconcile(replacement)
	}
	f.stats.Replacements++

	return nil
}

// Stats returns the cache counters.
func (f *InstructionsFeeder) Stats() Statistics {
	s := f.stats
	s.Evictions = f.current.Evictions()
	return s
}
