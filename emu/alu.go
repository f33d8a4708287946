// Package emu provides functional x86 real-mode emulation.
package emu

import (
	"math/bits"

	"github.com/sarchlab/x86cfg/insts"
)

// ALU implements x86 arithmetic and logic operations on 8, 16 and 32-bit
// operands. Operands and results are carried in uint32 and truncated to the
// operand width.
type ALU struct {
	flags *Flags
}

// NewALU creates a new ALU updating the given flags.
func NewALU(flags *Flags) *ALU {
	return &ALU{flags: flags}
}

func mask(width int) uint32 {
	switch width {
	case 1:
		return 0xFF
	case 2:
		return 0xFFFF
	default:
		return 0xFFFFFFFF
	}
}

func signBit(width int) uint32 {
	return 1 << (uint(width)*8 - 1)
}

// signExtend widens a value of the given width to a signed 32-bit integer.
func signExtend(value uint32, width int) int32 {
	switch width {
	case 1:
		return int32(int8(value))
	case 2:
		return int32(int16(value))
	default:
		return int32(value)
	}
}

// setResultFlags sets SF, ZF and PF from a result.
func (a *ALU) setResultFlags(result uint32, width int) {
	a.flags.ZF = result&mask(width) == 0
	a.flags.SF = result&signBit(width) != 0
	a.flags.PF = bits.OnesCount8(uint8(result))%2 == 0
}

// Add computes x + y (+ CF when withCarry) and sets all arithmetic flags.
func (a *ALU) Add(x, y uint32, withCarry bool, width int) uint32 {
	carry := uint64(0)
	if withCarry && a.flags.CF {
		carry = 1
	}

	m := mask(width)
	wide := uint64(x&m) + uint64(y&m) + carry
	result := uint32(wide) & m

	a.flags.CF = wide > uint64(m)
	a.flags.OF = (x^result)&(y^result)&signBit(width) != 0
	a.flags.AF = (x^y^result)&0x10 != 0
	a.setResultFlags(result, width)

	return result
}

// Sub computes x - y (- CF when withBorrow) and sets all arithmetic flags.
func (a *ALU) Sub(x, y uint32, withBorrow bool, width int) uint32 {
	borrow := uint64(0)
	if withBorrow && a.flags.CF {
		borrow = 1
	}

	m := mask(width)
	result := (x - y - uint32(borrow)) & m

	a.flags.CF = uint64(x&m) < uint64(y&m)+borrow
	a.flags.OF = (x^y)&(x^result)&signBit(width) != 0
	a.flags.AF = (x^y^result)&0x10 != 0
	a.setResultFlags(result, width)

	return result
}

// Logic sets the flags of a bitwise result: CF and OF cleared, AF cleared.
func (a *ALU) Logic(result uint32, width int) uint32 {
	result &= mask(width)
	a.flags.CF = false
	a.flags.OF = false
	a.flags.AF = false
	a.setResultFlags(result, width)
	return result
}

// Inc computes x + 1. CF is preserved.
func (a *ALU) Inc(x uint32, width int) uint32 {
	cf := a.flags.CF
	result := a.Add(x, 1, false, width)
	a.flags.CF = cf
	return result
}

// Dec computes x - 1. CF is preserved.
func (a *ALU) Dec(x uint32, width int) uint32 {
	cf := a.flags.CF
	result := a.Sub(x, 1, false, width)
	a.flags.CF = cf
	return result
}

// Neg computes 0 - x. CF is set unless x is zero.
func (a *ALU) Neg(x uint32, width int) uint32 {
	result := a.Sub(0, x, false, width)
	a.flags.CF = x&mask(width) != 0
	return result
}

// Arith applies one of the eight ALU group operations. The second return
// value is false for CMP, whose result is discarded.
func (a *ALU) Arith(op insts.Op, x, y uint32, width int) (uint32, bool) {
	switch op {
	case insts.OpADD:
		return a.Add(x, y, false, width), true
	case insts.OpOR:
		return a.Logic(x|y, width), true
	case insts.OpADC:
		return a.Add(x, y, true, width), true
	case insts.OpSBB:
		return a.Sub(x, y, true, width), true
	case insts.OpAND:
		return a.Logic(x&y, width), true
	case insts.OpSUB:
		return a.Sub(x, y, false, width), true
	case insts.OpXOR:
		return a.Logic(x^y, width), true
	case insts.OpCMP:
		a.Sub(x, y, false, width)
		return x, false
	case insts.OpTEST:
		a.Logic(x&y, width)
		return x, false
	}
	return x, false
}

// Shift applies a shift or rotate. The count is masked to five bits; a zero
// count leaves value and flags unchanged. Rotates only touch CF and OF.
func (a *ALU) Shift(op insts.Op, x uint32, count uint8, width int) uint32 {
	count &= 0x1F
	if count == 0 {
		return x & mask(width)
	}

	m := mask(width)
	msb := signBit(width)
	x &= m
	original := x
	cf := a.flags.CF

	for i := uint8(0); i < count; i++ {
		switch op {
		case insts.OpROL:
			cf = x&msb != 0
			x = (x << 1) & m
			if cf {
				x |= 1
			}
		case insts.OpROR:
			cf = x&1 != 0
			x >>= 1
			if cf {
				x |= msb
			}
		case insts.OpRCL:
			out := x&msb != 0
			x = (x << 1) & m
			if cf {
				x |= 1
			}
			cf = out
		case insts.OpRCR:
			out := x&1 != 0
			x >>= 1
			if cf {
				x |= msb
			}
			cf = out
		case insts.OpSHL:
			cf = x&msb != 0
			x = (x << 1) & m
		case insts.OpSHR:
			cf = x&1 != 0
			x >>= 1
		case insts.OpSAR:
			cf = x&1 != 0
			x = x>>1 | x&msb
		}
	}

	a.flags.CF = cf
	top := x&msb != 0
	switch op {
	case insts.OpROL, insts.OpRCL, insts.OpSHL:
		a.flags.OF = top != cf
	case insts.OpROR, insts.OpRCR:
		a.flags.OF = top != (x&(msb>>1) != 0)
	case insts.OpSHR:
		a.flags.OF = original&msb != 0
	case insts.OpSAR:
		a.flags.OF = false
	}

	if op == insts.OpSHL || op == insts.OpSHR || op == insts.OpSAR {
		a.setResultFlags(x, width)
	}

	return x
}
