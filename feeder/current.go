package feeder

import (
	"github.com/charmbracelet/log"

	"github.com/sarchlab/x86cfg/cfg"
	"github.com/sarchlab/x86cfg/memory"
)

// CurrentInstructions holds the instruction the cache asserts is in memory
// at each address. Every byte of a current instruction is watched; the first
// write that changes one of them evicts the instruction.
type CurrentInstructions struct {
	mem    Memory
	logger *log.Logger

	atAddress map[uint32]*cfg.InstructionNode
	watches   map[uint32][]*memory.Watchpoint

	evictions uint64
}

// NewCurrentInstructions creates an empty current store.
func NewCurrentInstructions(mem Memory, logger *log.Logger) *CurrentInstructions {
	return &CurrentInstructions{
		mem:       mem,
		logger:    orDiscard(logger),
		atAddress: make(map[uint32]*cfg.InstructionNode),
		watches:   make(map[uint32][]*memory.Watchpoint),
	}
}

// At returns the current instruction at a physical address, or nil.
func (c *CurrentInstructions) At(addr uint32) *cfg.InstructionNode {
	return c.atAddress[addr]
}

// Len returns the number of current instructions.
func (c *CurrentInstructions) Len() int {
	return len(c.atAddress)
}

// Evictions returns how many instructions were evicted by writes.
func (c *CurrentInstructions) Evictions() uint64 {
	return c.evictions
}

// SetAsCurrent makes n the current instruction at its address and starts
// watching its bytes.
func (c *CurrentInstructions) SetAsCurrent(n *cfg.InstructionNode) {
	addr := n.Address()
	if existing := c.atAddress[addr]; existing != nil {
		c.clear(existing)
	}

	watches := make([]*memory.Watchpoint, 0, n.Length())
	for i := 0; i < n.Length(); i++ {
		watches = append(watches, c.mem.AddWriteWatch(addr+uint32(i), c.hookFor(n)))
	}

	c.watches[addr] = watches
	c.atAddress[addr] = n
	n.SetLive(true)
}

func (c *CurrentInstructions) hookFor(n *cfg.InstructionNode) memory.WriteHook {
	return func(addr uint32, oldValue, newValue byte) {
		if oldValue == newValue {
			return
		}
		staleValueFields(n, addr)
		c.clear(n)
		c.evictions++
		c.logger.Debug("instruction overwritten", "node", cfg.NodeString(n), "addr", addr)
	}
}

// staleValueFields stops trusting the captured value of the field that
// covers addr, so an instruction rewriting its own operand sees the new
// bytes when it executes.
func staleValueFields(n *cfg.InstructionNode, addr uint32) {
	for _, f := range n.Inst.Fields() {
		phys, length := f.Span()
		if f.IsValueField() && addr >= phys && addr < phys+uint32(length) {
			f.SetUseValue(false)
		}
	}
}

// clear removes n from the store along with its watchpoints.
func (c *CurrentInstructions) clear(n *cfg.InstructionNode) {
	addr := n.Address()
	if c.atAddress[addr] != n {
		return
	}

	for _, w := range c.watches[addr] {
		c.mem.RemoveWriteWatch(w)
	}
	delete(c.watches, addr)
	delete(c.atAddress, addr)
	n.SetLive(false)
}

// ReplaceInstruction swaps old for replacement if old is current.
func (c *CurrentInstructions) ReplaceInstruction(old, replacement *cfg.InstructionNode) bool {
	if c.atAddress[old.Address()] != old {
		return false
	}
	c.clear(old)
	c.SetAsCurrent(replacement)
	return true
}
