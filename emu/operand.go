// Package emu provides functional x86 real-mode emulation.
package emu

import (
	"github.com/sarchlab/x86cfg/insts"
	"github.com/sarchlab/x86cfg/memory"
)

// Bus is the memory seen by the executor. Writes go through the watchpoints
// that keep the decode cache coherent.
type Bus interface {
	memory.Reader
	Write8(addr uint32, value uint8)
	Matches(addr uint32, pattern memory.BytePattern) bool
}

// ResolveField returns the value of a decoded field. A field whose bytes
// were overwritten since decoding is read from memory instead of using the
// captured value.
func ResolveField[T insts.Value](r memory.Reader, f *insts.Field[T]) T {
	if f.UseValue {
		return f.Value
	}

	var raw uint32
	for i := 0; i < f.Length; i++ {
		raw |= uint32(r.Read8(f.PhysicalAddress+uint32(i))) << (8 * i)
	}
	return T(raw)
}

// operand is a resolved register or memory location.
type operand struct {
	isMem bool
	reg   int
	seg   uint16
	off   uint16
}

func regOperand(reg int) operand {
	return operand{reg: reg}
}

// effectiveAddress computes the segment and offset of a ModRM memory
// operand.
func (e *Executor) effectiveAddress(inst *insts.Instruction) (uint16, uint16) {
	m := inst.ModRM
	r := e.regs

	var off uint16
	defaultSeg := insts.SegDS

	switch m.RM {
	case 0:
		off = r.Read16(BX) + r.Read16(SI)
	case 1:
		off = r.Read16(BX) + r.Read16(DI)
	case 2:
		off = r.Read16(BP) + r.Read16(SI)
		defaultSeg = insts.SegSS
	case 3:
		off = r.Read16(BP) + r.Read16(DI)
		defaultSeg = insts.SegSS
	case 4:
		off = r.Read16(SI)
	case 5:
		off = r.Read16(DI)
	case 6:
		if m.Mod != 0 {
			off = r.Read16(BP)
			defaultSeg = insts.SegSS
		}
	case 7:
		off = r.Read16(BX)
	}

	switch {
	case inst.Disp8 != nil:
		off += uint16(int16(ResolveField(e.bus, inst.Disp8)))
	case inst.Disp16 != nil:
		off += uint16(ResolveField(e.bus, inst.Disp16))
	}

	return e.segmentFor(inst, defaultSeg), off
}

// segmentFor applies a segment override prefix.
func (e *Executor) segmentFor(inst *insts.Instruction, defaultSeg insts.SegReg) uint16 {
	if inst.SegmentOverride != insts.SegNone {
		return e.regs.Segment(inst.SegmentOverride)
	}
	return e.regs.Segment(defaultSeg)
}

// rm resolves the r/m operand of a ModRM instruction.
func (e *Executor) rm(inst *insts.Instruction) operand {
	if inst.ModRM.IsRegister() {
		return regOperand(int(inst.ModRM.RM))
	}
	seg, off := e.effectiveAddress(inst)
	return operand{isMem: true, seg: seg, off: off}
}

// moffs resolves the direct memory operand of MOV AL/AX, [moffs].
func (e *Executor) moffs(inst *insts.Instruction) operand {
	return operand{
		isMem: true,
		seg:   e.segmentFor(inst, insts.SegDS),
		off:   ResolveField(e.bus, inst.Offset),
	}
}

func (e *Executor) read(op operand, width int) uint32 {
	if !op.isMem {
		return e.regs.Read(width, op.reg)
	}
	return e.readMem(op.seg, op.off, width)
}

func (e *Executor) write(op operand, width int, value uint32) {
	if !op.isMem {
		e.regs.Write(width, op.reg, value)
		return
	}
	e.writeMem(op.seg, op.off, width, value)
}

// readMem reads a little-endian value. The offset wraps within the segment.
func (e *Executor) readMem(seg, off uint16, width int) uint32 {
	var v uint32
	for i := 0; i < width; i++ {
		v |= uint32(e.bus.Read8(memory.ToPhysical(seg, off+uint16(i)))) << (8 * i)
	}
	return v
}

func (e *Executor) writeMem(seg, off uint16, width int, value uint32) {
	for i := 0; i < width; i++ {
		e.bus.Write8(memory.ToPhysical(seg, off+uint16(i)), uint8(value>>(8*i)))
	}
}

// immediate returns the immediate operand widened to 32 bits. Sign-extended
// 8-bit immediates are widened to the operand width.
func (e *Executor) immediate(inst *insts.Instruction) uint32 {
	switch {
	case inst.SImm8 != nil:
		return uint32(int32(ResolveField(e.bus, inst.SImm8))) & mask(inst.Width)
	case inst.Imm8 != nil:
		return uint32(ResolveField(e.bus, inst.Imm8))
	case inst.Imm16 != nil:
		return uint32(ResolveField(e.bus, inst.Imm16))
	case inst.Imm32 != nil:
		return ResolveField(e.bus, inst.Imm32)
	}
	return 0
}

func (e *Executor) push(value uint32, width int) {
	sp := e.regs.Read16(SP) - uint16(width)
	e.regs.Write16(SP, sp)
	e.writeMem(e.regs.Segment(insts.SegSS), sp, width, value)
}

func (e *Executor) pop(width int) uint32 {
	sp := e.regs.Read16(SP)
	value := e.readMem(e.regs.Segment(insts.SegSS), sp, width)
	e.regs.Write16(SP, sp+uint16(width))
	return value
}
