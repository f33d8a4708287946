// Package latency provides a per-instruction cycle model.
//
// The model charges each instruction the cost of its class plus a penalty
// for a memory operand. It is not cycle-accurate: it gives run statistics a
// rough time base and can be tuned via TimingConfig.
package latency

import (
	"github.com/sarchlab/x86cfg/insts"
)

// Table provides instruction latency lookups.
type Table struct {
	config *TimingConfig
}

// NewTable creates a new latency table with default timing values.
func NewTable() *Table {
	return &Table{
		config: DefaultTimingConfig(),
	}
}

// NewTableWithConfig creates a new latency table with custom timing configuration.
func NewTableWithConfig(config *TimingConfig) *Table {
	return &Table{
		config: config,
	}
}

// GetLatency returns the cost in cycles of the given instruction.
// For variable-latency operations, returns the midpoint of the range.
func (t *Table) GetLatency(inst *insts.Instruction) uint64 {
	if inst == nil {
		return 1
	}

	base := t.classLatency(inst)
	if t.IsMemoryOp(inst) {
		base += t.config.MemoryOperandPenalty
	}
	return base
}

func (t *Table) classLatency(inst *insts.Instruction) uint64 {
	switch inst.Op {
	case insts.OpADD, insts.OpOR, insts.OpADC, insts.OpSBB, insts.OpAND, insts.OpSUB,
		insts.OpXOR, insts.OpCMP, insts.OpTEST, insts.OpINC, insts.OpDEC, insts.OpNOT,
		insts.OpNEG, insts.OpROL, insts.OpROR, insts.OpRCL, insts.OpRCR, insts.OpSHL,
		insts.OpSHR, insts.OpSAR:
		return t.config.ALULatency

	case insts.OpMOV, insts.OpXCHG, insts.OpLEA, insts.OpCBW, insts.OpCWD, insts.OpNOP,
		insts.OpCLC, insts.OpSTC, insts.OpCMC, insts.OpCLI, insts.OpSTI, insts.OpCLD,
		insts.OpSTD:
		return t.config.MoveLatency

	case insts.OpJcc, insts.OpJMP, insts.OpJMPFar, insts.OpCALL, insts.OpCALLFar,
		insts.OpRET, insts.OpRETF, insts.OpLOOP, insts.OpJCXZ:
		return t.config.BranchLatency

	case insts.OpPUSH, insts.OpPOP, insts.OpPUSHF, insts.OpPOPF:
		return t.config.StackLatency

	case insts.OpMOVS, insts.OpSTOS, insts.OpLODS:
		return t.config.StringLatency

	case insts.OpINT, insts.OpIRET, insts.OpInvalid:
		return t.config.InterruptLatency

	case insts.OpMUL, insts.OpIMUL:
		return t.config.MultiplyLatency

	case insts.OpDIV, insts.OpIDIV:
		return (t.config.DivideLatencyMin + t.config.DivideLatencyMax) / 2

	default:
		return 1
	}
}

// GetMinLatency returns the minimum cost for variable-latency operations.
func (t *Table) GetMinLatency(inst *insts.Instruction) uint64 {
	if inst == nil {
		return 1
	}
	if t.IsDivideOp(inst) {
		return t.config.DivideLatencyMin
	}
	return t.GetLatency(inst)
}

// GetMaxLatency returns the maximum cost for variable-latency operations.
func (t *Table) GetMaxLatency(inst *insts.Instruction) uint64 {
	if inst == nil {
		return 1
	}
	if t.IsDivideOp(inst) {
		return t.config.DivideLatencyMax
	}
	return t.GetLatency(inst)
}

// IsMemoryOp returns true if the instruction has a ModRM memory operand or
// a direct memory offset.
func (t *Table) IsMemoryOp(inst *insts.Instruction) bool {
	if inst == nil {
		return false
	}
	return inst.HasMemoryOperand()
}

// IsDivideOp returns true for DIV and IDIV.
func (t *Table) IsDivideOp(inst *insts.Instruction) bool {
	if inst == nil {
		return false
	}
	return inst.Op == insts.OpDIV || inst.Op == insts.OpIDIV
}

// IsBranchOp returns true if the instruction transfers control.
func (t *Table) IsBranchOp(inst *insts.Instruction) bool {
	if inst == nil {
		return false
	}
	switch inst.Op {
	case insts.OpJcc, insts.OpJMP, insts.OpJMPFar, insts.OpCALL, insts.OpCALLFar,
		insts.OpRET, insts.OpRETF, insts.OpLOOP, insts.OpJCXZ:
		return true
	default:
		return false
	}
}

// Config returns the current timing configuration.
func (t *Table) Config() *TimingConfig {
	return t.config
}
