// Package emu provides functional x86 real-mode emulation.
package emu

import (
	"github.com/sarchlab/x86cfg/insts"
)

// displacement returns the signed branch displacement of a FormRel
// instruction.
func (e *Executor) displacement(inst *insts.Instruction) int32 {
	if inst.Rel8 != nil {
		return int32(ResolveField(e.bus, inst.Rel8))
	}
	if inst.Rel16 != nil {
		return int32(ResolveField(e.bus, inst.Rel16))
	}
	return 0
}

func (e *Executor) branch(inst *insts.Instruction) {
	e.regs.IP = relativeTarget(e.regs.IP, e.displacement(inst))
}

// farPointer returns the segment and offset target of a far JMP or CALL.
// FormFarRM reads the offset and then the segment from memory.
func (e *Executor) farPointer(inst *insts.Instruction) (seg, off uint16) {
	if inst.Form == insts.FormFarPtr {
		return ResolveField(e.bus, inst.Segment), ResolveField(e.bus, inst.Offset)
	}
	seg0, off0 := e.effectiveAddress(inst)
	off = uint16(e.readMem(seg0, off0, 2))
	seg = uint16(e.readMem(seg0, off0+2, 2))
	return seg, off
}

func (e *Executor) execJcc(inst *insts.Instruction) (ExecResult, error) {
	if CheckCondition(&e.regs.Flags, inst.Cond) {
		e.branch(inst)
	}
	return ExecResult{}, nil
}

func (e *Executor) execJMP(inst *insts.Instruction) (ExecResult, error) {
	if inst.Form == insts.FormRel {
		e.branch(inst)
	} else {
		e.regs.IP = uint16(e.read(e.rm(inst), 2))
	}
	return ExecResult{}, nil
}

func (e *Executor) execJMPFar(inst *insts.Instruction) (ExecResult, error) {
	seg, off := e.farPointer(inst)
	e.regs.SetSegment(insts.SegCS, seg)
	e.regs.IP = off
	return ExecResult{}, nil
}

func (e *Executor) execCALL(inst *insts.Instruction) (ExecResult, error) {
	target := relativeTarget(e.regs.IP, e.displacement(inst))
	if inst.Form != insts.FormRel {
		// The operand may use SP, so read it before pushing.
		target = uint16(e.read(e.rm(inst), 2))
	}
	e.push(uint32(e.regs.IP), 2)
	e.regs.IP = target
	return ExecResult{}, nil
}

func (e *Executor) execCALLFar(inst *insts.Instruction) (ExecResult, error) {
	seg, off := e.farPointer(inst)
	e.push(uint32(e.regs.Segment(insts.SegCS)), 2)
	e.push(uint32(e.regs.IP), 2)
	e.regs.SetSegment(insts.SegCS, seg)
	e.regs.IP = off
	return ExecResult{}, nil
}

// releaseStack drops the Imm16 bytes of arguments a RET imm16 removes.
func (e *Executor) releaseStack(inst *insts.Instruction) {
	if inst.Form != insts.FormImm || inst.Imm16 == nil {
		return
	}
	n := ResolveField(e.bus, inst.Imm16)
	e.regs.Write16(SP, e.regs.Read16(SP)+n)
}

func (e *Executor) execRET(inst *insts.Instruction) (ExecResult, error) {
	e.regs.IP = uint16(e.pop(2))
	e.releaseStack(inst)
	return ExecResult{}, nil
}

func (e *Executor) execRETF(inst *insts.Instruction) (ExecResult, error) {
	e.regs.IP = uint16(e.pop(2))
	e.regs.SetSegment(insts.SegCS, uint16(e.pop(2)))
	e.releaseStack(inst)
	return ExecResult{}, nil
}

func (e *Executor) execLOOP(inst *insts.Instruction) (ExecResult, error) {
	cx := e.regs.Read16(CX) - 1
	e.regs.Write16(CX, cx)
	if cx != 0 {
		e.branch(inst)
	}
	return ExecResult{}, nil
}

func (e *Executor) execJCXZ(inst *insts.Instruction) (ExecResult, error) {
	if e.regs.Read16(CX) == 0 {
		e.branch(inst)
	}
	return ExecResult{}, nil
}
