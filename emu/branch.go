// Package emu provides functional x86 real-mode emulation.
package emu

import "github.com/sarchlab/x86cfg/insts"

// CheckCondition evaluates a Jcc condition against the flags.
func CheckCondition(flags *Flags, cond insts.Cond) bool {
	var result bool

	switch cond &^ 1 {
	case insts.CondO:
		result = flags.OF
	case insts.CondB:
		result = flags.CF
	case insts.CondE:
		result = flags.ZF
	case insts.CondBE:
		result = flags.CF || flags.ZF
	case insts.CondS:
		result = flags.SF
	case insts.CondP:
		result = flags.PF
	case insts.CondL:
		result = flags.SF != flags.OF
	case insts.CondLE:
		result = flags.ZF || flags.SF != flags.OF
	}

	// Odd condition codes are the negation of the preceding even one.
	if cond&1 != 0 {
		return !result
	}
	return result
}

// relativeTarget adds a signed displacement to IP, wrapping within the
// code segment.
func relativeTarget(ip uint16, rel int32) uint16 {
	return uint16(int32(ip) + rel)
}
