// Package emu provides functional x86 real-mode emulation.
package emu

import (
	"fmt"

	"github.com/sarchlab/x86cfg/insts"
)

// source and destination operands of a two-operand instruction.
func (e *Executor) operands(inst *insts.Instruction) (dst operand, src uint32) {
	switch inst.Form {
	case insts.FormRMReg:
		return e.rm(inst), e.regs.Read(inst.Width, inst.Reg)
	case insts.FormRegRM:
		return regOperand(inst.Reg), e.read(e.rm(inst), inst.Width)
	case insts.FormRMImm:
		dst = e.rm(inst)
		return dst, e.immediate(inst)
	case insts.FormAccImm:
		return regOperand(AX), e.immediate(inst)
	case insts.FormRegImm:
		return regOperand(inst.Reg), e.immediate(inst)
	}
	panic(fmt.Sprintf("form %d has no operand pair", inst.Form))
}

func (e *Executor) execMOV(inst *insts.Instruction) (ExecResult, error) {
	switch inst.Form {
	case insts.FormAccMoffs:
		e.regs.Write(inst.Width, AX, e.read(e.moffs(inst), inst.Width))
	case insts.FormMoffsAcc:
		e.write(e.moffs(inst), inst.Width, e.regs.Read(inst.Width, AX))
	case insts.FormRMSreg:
		e.write(e.rm(inst), 2, uint32(e.regs.Segment(insts.SegReg(inst.Reg))))
	case insts.FormSregRM:
		e.regs.SetSegment(insts.SegReg(inst.Reg), uint16(e.read(e.rm(inst), 2)))
	default:
		dst, src := e.operands(inst)
		e.write(dst, inst.Width, src)
	}
	return ExecResult{}, nil
}

func (e *Executor) execArith(inst *insts.Instruction) (ExecResult, error) {
	dst, src := e.operands(inst)
	result, store := e.alu.Arith(inst.Op, e.read(dst, inst.Width), src, inst.Width)
	if store {
		e.write(dst, inst.Width, result)
	}
	return ExecResult{}, nil
}

// target returns the single operand of INC, DEC, NOT, NEG and shifts.
func (e *Executor) target(inst *insts.Instruction) operand {
	if inst.Form == insts.FormReg {
		return regOperand(inst.Reg)
	}
	return e.rm(inst)
}

func (e *Executor) execIncDec(inst *insts.Instruction) (ExecResult, error) {
	op := e.target(inst)
	value := e.read(op, inst.Width)
	if inst.Op == insts.OpINC {
		value = e.alu.Inc(value, inst.Width)
	} else {
		value = e.alu.Dec(value, inst.Width)
	}
	e.write(op, inst.Width, value)
	return ExecResult{}, nil
}

func (e *Executor) execNOT(inst *insts.Instruction) (ExecResult, error) {
	op := e.target(inst)
	e.write(op, inst.Width, ^e.read(op, inst.Width))
	return ExecResult{}, nil
}

func (e *Executor) execNEG(inst *insts.Instruction) (ExecResult, error) {
	op := e.target(inst)
	e.write(op, inst.Width, e.alu.Neg(e.read(op, inst.Width), inst.Width))
	return ExecResult{}, nil
}

func (e *Executor) execShift(inst *insts.Instruction) (ExecResult, error) {
	var count uint8
	switch inst.Form {
	case insts.FormShiftOne:
		count = 1
	case insts.FormShiftCL:
		count = e.regs.Read8(CX)
	case insts.FormShiftImm:
		count = ResolveField(e.bus, inst.Imm8)
	}

	op := e.rm(inst)
	e.write(op, inst.Width, e.alu.Shift(inst.Op, e.read(op, inst.Width), count, inst.Width))
	return ExecResult{}, nil
}

// accumulatorPair reads the double-width accumulator used by MUL and DIV:
// AX for bytes, DX:AX for words and EDX:EAX for double words.
func (e *Executor) accumulatorPair(width int) uint64 {
	switch width {
	case 1:
		return uint64(e.regs.Read16(AX))
	case 2:
		return uint64(e.regs.Read16(DX))<<16 | uint64(e.regs.Read16(AX))
	default:
		return uint64(e.regs.Read32(DX))<<32 | uint64(e.regs.Read32(AX))
	}
}

// setAccumulatorPair stores low and high halves of a MUL result or the
// quotient and remainder of a DIV.
func (e *Executor) setAccumulatorPair(width int, low, high uint32) {
	if width == 1 {
		e.regs.Write8(0, uint8(low))  // AL
		e.regs.Write8(4, uint8(high)) // AH
		return
	}
	e.regs.Write(width, AX, low)
	e.regs.Write(width, DX, high)
}

func (e *Executor) execMUL(inst *insts.Instruction) (ExecResult, error) {
	w := inst.Width
	src := uint64(e.read(e.rm(inst), w))
	acc := uint64(e.regs.Read(w, AX))
	product := acc * src

	bitsPerHalf := uint(w * 8)
	high := uint32(product >> bitsPerHalf)
	e.setAccumulatorPair(w, uint32(product)&mask(w), high&mask(w))

	e.regs.Flags.CF = high != 0
	e.regs.Flags.OF = high != 0
	return ExecResult{}, nil
}

func (e *Executor) execIMUL(inst *insts.Instruction) (ExecResult, error) {
	w := inst.Width
	src := int64(signExtend(e.read(e.rm(inst), w), w))
	acc := int64(signExtend(e.regs.Read(w, AX), w))
	product := acc * src

	bitsPerHalf := uint(w * 8)
	low := uint32(product) & mask(w)
	high := uint32(uint64(product)>>bitsPerHalf) & mask(w)
	e.setAccumulatorPair(w, low, high)

	overflow := int64(signExtend(low, w)) != product
	e.regs.Flags.CF = overflow
	e.regs.Flags.OF = overflow
	return ExecResult{}, nil
}

func divideError(inst *insts.Instruction) error {
	return &cpuException{vector: insts.VectorDivideError, reason: inst.Op.String() + " overflow"}
}

func (e *Executor) execDIV(inst *insts.Instruction) (ExecResult, error) {
	w := inst.Width
	divisor := uint64(e.read(e.rm(inst), w))
	if divisor == 0 {
		return ExecResult{}, divideError(inst)
	}

	dividend := e.accumulatorPair(w)
	quotient := dividend / divisor
	if quotient > uint64(mask(w)) {
		return ExecResult{}, divideError(inst)
	}

	e.setAccumulatorPair(w, uint32(quotient), uint32(dividend%divisor))
	return ExecResult{}, nil
}

func (e *Executor) execIDIV(inst *insts.Instruction) (ExecResult, error) {
	w := inst.Width
	divisor := int64(signExtend(e.read(e.rm(inst), w), w))
	if divisor == 0 {
		return ExecResult{}, divideError(inst)
	}

	var dividend int64
	switch w {
	case 1:
		dividend = int64(int16(e.regs.Read16(AX)))
	case 2:
		dividend = int64(int32(e.accumulatorPair(w)))
	default:
		dividend = int64(e.accumulatorPair(w))
	}

	quotient := dividend / divisor
	limit := int64(signBit(w))
	if quotient >= limit || quotient < -limit {
		return ExecResult{}, divideError(inst)
	}

	e.setAccumulatorPair(w, uint32(quotient)&mask(w), uint32(dividend%divisor)&mask(w))
	return ExecResult{}, nil
}

func (e *Executor) execPUSH(inst *insts.Instruction) (ExecResult, error) {
	switch inst.Form {
	case insts.FormReg:
		e.push(e.regs.Read(inst.Width, inst.Reg), inst.Width)
	case insts.FormSreg:
		e.push(uint32(e.regs.Segment(insts.SegReg(inst.Reg))), 2)
	case insts.FormImm:
		e.push(e.immediate(inst), inst.Width)
	case insts.FormRM:
		e.push(e.read(e.rm(inst), inst.Width), inst.Width)
	}
	return ExecResult{}, nil
}

func (e *Executor) execPOP(inst *insts.Instruction) (ExecResult, error) {
	switch inst.Form {
	case insts.FormReg:
		e.regs.Write(inst.Width, inst.Reg, e.pop(inst.Width))
	case insts.FormSreg:
		e.regs.SetSegment(insts.SegReg(inst.Reg), uint16(e.pop(2)))
	case insts.FormRM:
		value := e.pop(inst.Width)
		e.write(e.rm(inst), inst.Width, value)
	}
	return ExecResult{}, nil
}

func (e *Executor) execPUSHF(inst *insts.Instruction) (ExecResult, error) {
	e.push(uint32(e.regs.Flags.Word()), inst.Width)
	return ExecResult{}, nil
}

func (e *Executor) execPOPF(inst *insts.Instruction) (ExecResult, error) {
	e.regs.Flags.SetWord(uint16(e.pop(inst.Width)))
	return ExecResult{}, nil
}

func (e *Executor) execXCHG(inst *insts.Instruction) (ExecResult, error) {
	a := regOperand(inst.Reg)
	b := regOperand(AX)
	if inst.Form == insts.FormRMReg {
		b = e.rm(inst)
	}

	va, vb := e.read(a, inst.Width), e.read(b, inst.Width)
	e.write(a, inst.Width, vb)
	e.write(b, inst.Width, va)
	return ExecResult{}, nil
}

func (e *Executor) execLEA(inst *insts.Instruction) (ExecResult, error) {
	_, off := e.effectiveAddress(inst)
	e.regs.Write(inst.Width, inst.Reg, uint32(off))
	return ExecResult{}, nil
}

func (e *Executor) execCBW(inst *insts.Instruction) (ExecResult, error) {
	if inst.Width == 4 {
		e.regs.Write32(AX, uint32(int32(int16(e.regs.Read16(AX)))))
	} else {
		e.regs.Write16(AX, uint16(int16(int8(e.regs.Read8(0)))))
	}
	return ExecResult{}, nil
}

func (e *Executor) execCWD(inst *insts.Instruction) (ExecResult, error) {
	acc := e.regs.Read(inst.Width, AX)
	high := uint32(0)
	if acc&signBit(inst.Width) != 0 {
		high = mask(inst.Width)
	}
	e.regs.Write(inst.Width, DX, high)
	return ExecResult{}, nil
}

// execString runs MOVS, STOS or LODS. With a REP prefix the whole loop
// runs in one step.
func (e *Executor) execString(inst *insts.Instruction) (ExecResult, error) {
	w := inst.Width
	delta := uint16(w)
	if e.regs.Flags.DF {
		delta = -delta
	}

	once := func() {
		switch inst.Op {
		case insts.OpMOVS:
			v := e.readMem(e.segmentFor(inst, insts.SegDS), e.regs.Read16(SI), w)
			e.writeMem(e.regs.Segment(insts.SegES), e.regs.Read16(DI), w, v)
			e.regs.Write16(SI, e.regs.Read16(SI)+delta)
			e.regs.Write16(DI, e.regs.Read16(DI)+delta)
		case insts.OpSTOS:
			e.writeMem(e.regs.Segment(insts.SegES), e.regs.Read16(DI), w, e.regs.Read(w, AX))
			e.regs.Write16(DI, e.regs.Read16(DI)+delta)
		case insts.OpLODS:
			e.regs.Write(w, AX, e.readMem(e.segmentFor(inst, insts.SegDS), e.regs.Read16(SI), w))
			e.regs.Write16(SI, e.regs.Read16(SI)+delta)
		}
	}

	if inst.Rep == insts.RepNone {
		once()
		return ExecResult{}, nil
	}

	for e.regs.Read16(CX) != 0 {
		once()
		e.regs.Write16(CX, e.regs.Read16(CX)-1)
	}
	return ExecResult{}, nil
}
