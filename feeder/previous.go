package feeder

import (
	"github.com/sarchlab/x86cfg/cfg"
)

// PreviousInstructions remembers every instruction variant ever decoded, per
// address. Variants at one address are kept longest first, then in insertion
// order, so the first matching variant is also the most specific one.
type PreviousInstructions struct {
	atAddress map[uint32][]*cfg.InstructionNode
}

// NewPreviousInstructions creates an empty previous store.
func NewPreviousInstructions() *PreviousInstructions {
	return &PreviousInstructions{
		atAddress: make(map[uint32][]*cfg.InstructionNode),
	}
}

// Add records n. Adding a node twice is a no-op.
func (p *PreviousInstructions) Add(n *cfg.InstructionNode) {
	addr := n.Address()
	variants := p.atAddress[addr]

	pos := len(variants)
	for i, v := range variants {
		if v == n {
			return
		}
		if pos == len(variants) && v.Length() < n.Length() {
			pos = i
		}
	}

	variants = append(variants, nil)
	copy(variants[pos+1:], variants[pos:])
	variants[pos] = n
	p.atAddress[addr] = variants
}

// At returns the variants recorded at a physical address.
func (p *PreviousInstructions) At(addr uint32) []*cfg.InstructionNode {
	variants := p.atAddress[addr]
	out := make([]*cfg.InstructionNode, len(variants))
	copy(out, variants)
	return out
}

// Contains reports whether n has been recorded.
func (p *PreviousInstructions) Contains(n *cfg.InstructionNode) bool {
	for _, v := range p.atAddress[n.Address()] {
		if v == n {
			return true
		}
	}
	return false
}

// Len returns the number of recorded variants over all addresses.
func (p *PreviousInstructions) Len() int {
	total := 0
	for _, variants := range p.atAddress {
		total += len(variants)
	}
	return total
}

// ReplaceInstruction drops old and records replacement. It reports whether
// old was present.
func (p *PreviousInstructions) ReplaceInstruction(old, replacement *cfg.InstructionNode) bool {
	addr := old.Address()
	variants := p.atAddress[addr]

	found := false
	kept := variants[:0]
	for _, v := range variants {
		if v == old {
			found = true
			continue
		}
		kept = append(kept, v)
	}
	p.atAddress[addr] = kept

	if found {
		p.Add(replacement)
	}
	return found
}
