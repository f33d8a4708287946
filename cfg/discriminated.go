package cfg

import (
	"sort"

	"github.com/sarchlab/x86cfg/insts"
	"github.com/sarchlab/x86cfg/memory"
)

// Matcher compares byte patterns against live memory.
type Matcher interface {
	Matches(addr uint32, pattern memory.BytePattern) bool
}

// DiscriminatedNode stands for an address where more than one instruction
// variant has been observed. Its successors are those variants, keyed by
// their discriminators. It is never replaced, only grown.
type DiscriminatedNode struct {
	nodeBase

	// entries is ordered by decreasing discriminator length, then by the
	// order in which the variants were linked.
	entries []*InstructionNode
}

// NewDiscriminatedNode creates an empty discriminated node.
func NewDiscriminatedNode(address uint32) *DiscriminatedNode {
	return &DiscriminatedNode{nodeBase: newNodeBase(address)}
}

// IsInstruction returns false.
func (d *DiscriminatedNode) IsInstruction() bool {
	return false
}

// Len returns the number of variants.
func (d *DiscriminatedNode) Len() int {
	return len(d.entries)
}

// Variants returns the variants in matching order.
func (d *DiscriminatedNode) Variants() []*InstructionNode {
	out := make([]*InstructionNode, len(d.entries))
	copy(out, d.entries)
	return out
}

// SuccessorFor returns the variant with the given discriminator, or nil.
func (d *DiscriminatedNode) SuccessorFor(discriminator insts.Discriminator) *InstructionNode {
	for _, e := range d.entries {
		if e.Discriminator().Equal(discriminator) {
			return e
		}
	}
	return nil
}

// SuccessorsPerDiscriminator returns the variants keyed by discriminator.
func (d *DiscriminatedNode) SuccessorsPerDiscriminator() map[string]*InstructionNode {
	out := make(map[string]*InstructionNode, len(d.entries))
	for _, e := range d.entries {
		out[e.Discriminator().Key()] = e
	}
	return out
}

// Match returns the first variant whose discriminator matches live memory,
// or nil when memory holds none of the known variants.
func (d *DiscriminatedNode) Match(mem Matcher) *InstructionNode {
	for _, e := range d.entries {
		if mem.Matches(d.address, e.Discriminator()) {
			return e
		}
	}
	return nil
}

// UpdateSuccessorCache rebuilds the variant list from the successor set.
func (d *DiscriminatedNode) UpdateSuccessorCache() {
	d.entries = d.entries[:0]
	for _, s := range d.successors.order {
		if inst, ok := s.(*InstructionNode); ok {
			d.entries = append(d.entries, inst)
		}
	}
	sort.SliceStable(d.entries, func(i, j int) bool {
		return d.entries[i].Length() > d.entries[j].Length()
	})
}
