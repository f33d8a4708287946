package cfg

import (
	"github.com/sarchlab/x86cfg/insts"
)

// InstructionNode is a decoded instruction placed in the graph.
//
// Two instruction nodes are the same instruction iff they sit at the same
// physical address and their discriminators are equal. The decode cache
// guarantees a single node per (address, discriminator) pair.
type InstructionNode struct {
	nodeBase

	// Inst is the decoded instruction.
	Inst *insts.Instruction

	live                 bool
	successorsPerAddress map[uint32]Node
}

// NewInstructionNode wraps a decoded instruction in a new graph node.
func NewInstructionNode(inst *insts.Instruction) *InstructionNode {
	return &InstructionNode{
		nodeBase:             newNodeBase(inst.Physical),
		Inst:                 inst,
		successorsPerAddress: make(map[uint32]Node),
	}
}

// IsInstruction returns true.
func (n *InstructionNode) IsInstruction() bool {
	return true
}

// IsLive reports whether the node is what the decode cache currently
// asserts is in memory at its address.
func (n *InstructionNode) IsLive() bool {
	return n.live
}

// SetLive is called by the decode cache when the node enters or leaves the
// current store.
func (n *InstructionNode) SetLive(live bool) {
	n.live = live
}

// Discriminator returns the identity pattern of the instruction.
func (n *InstructionNode) Discriminator() insts.Discriminator {
	return n.Inst.Discriminator()
}

// Length returns the instruction length in bytes.
func (n *InstructionNode) Length() int {
	return n.Inst.Length()
}

// SameInstruction reports whether other decodes to the same instruction at
// the same address.
func (n *InstructionNode) SameInstruction(other *InstructionNode) bool {
	return n.Address() == other.Address() && n.Discriminator().Equal(other.Discriminator())
}

// SuccessorAt returns the successor located at the physical address, or nil.
func (n *InstructionNode) SuccessorAt(addr uint32) Node {
	return n.successorsPerAddress[addr]
}

// SuccessorsPerAddress returns a copy of the successor-per-address cache.
func (n *InstructionNode) SuccessorsPerAddress() map[uint32]Node {
	out := make(map[uint32]Node, len(n.successorsPerAddress))
	for addr, s := range n.successorsPerAddress {
		out[addr] = s
	}
	return out
}

// UpdateSuccessorCache rebuilds the successor-per-address cache.
func (n *InstructionNode) UpdateSuccessorCache() {
	clear(n.successorsPerAddress)
	for _, s := range n.successors.order {
		n.successorsPerAddress[s.Address()] = s
	}
}

// FallThrough returns the successor at the next instruction in memory, or
// nil when execution has not been observed to continue there.
func (n *InstructionNode) FallThrough() Node {
	return n.SuccessorAt(n.Inst.Next().Physical())
}
