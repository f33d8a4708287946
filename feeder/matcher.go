package feeder

import (
	"bytes"

	"github.com/sarchlab/x86cfg/cfg"
)

// Matcher compares cached instructions with the bytes in memory.
type Matcher struct {
	mem Memory
}

// NewMatcher creates a matcher reading from mem.
func NewMatcher(mem Memory) *Matcher {
	return &Matcher{mem: mem}
}

// MatchExisting returns the first candidate whose discriminator matches the
// bytes at its address, or nil.
func (m *Matcher) MatchExisting(candidates []*cfg.InstructionNode) *cfg.InstructionNode {
	for _, c := range candidates {
		if m.mem.Matches(c.Address(), c.Discriminator()) {
			return c
		}
	}
	return nil
}

// Reconcile makes each value field trust its captured value only when
// memory still holds the captured bytes.
func (m *Matcher) Reconcile(n *cfg.InstructionNode) {
	for _, f := range n.Inst.Fields() {
		if !f.IsValueField() {
			continue
		}
		phys, length := f.Span()
		f.SetUseValue(bytes.Equal(m.mem.ReadBytes(phys, length), f.CapturedBytes()))
	}
}
