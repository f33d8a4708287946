// Package emu provides functional x86 real-mode emulation.
package emu

import (
	"github.com/sarchlab/x86cfg/insts"
	"github.com/sarchlab/x86cfg/memory"
)

// General-purpose register indices in x86 encoding order. For byte
// operands, indices 0-3 select AL, CL, DL, BL and 4-7 select AH, CH, DH, BH.
const (
	AX = iota
	CX
	DX
	BX
	SP
	BP
	SI
	DI
)

// RegFile represents the x86 register file.
type RegFile struct {
	// GP holds EAX, ECX, EDX, EBX, ESP, EBP, ESI and EDI.
	GP [8]uint32

	// Seg holds ES, CS, SS, DS, FS and GS, indexed by insts.SegReg.
	Seg [6]uint16

	// IP is the instruction pointer.
	IP uint16

	// Flags holds the status and control flags.
	Flags Flags
}

// Flags represents the FLAGS register.
type Flags struct {
	CF bool // carry
	PF bool // parity
	AF bool // auxiliary carry
	ZF bool // zero
	SF bool // sign
	TF bool // trap
	IF bool // interrupt enable
	DF bool // direction
	OF bool // overflow
}

// FLAGS bit positions.
const (
	flagCF = 1 << 0
	flagPF = 1 << 2
	flagAF = 1 << 4
	flagZF = 1 << 6
	flagSF = 1 << 7
	flagTF = 1 << 8
	flagIF = 1 << 9
	flagDF = 1 << 10
	flagOF = 1 << 11

	// flagsReserved is always set when FLAGS is read.
	flagsReserved = 1 << 1
)

// Word packs the flags into their FLAGS register layout.
func (f *Flags) Word() uint16 {
	w := uint16(flagsReserved)
	for _, b := range []struct {
		set bool
		bit uint16
	}{
		{f.CF, flagCF}, {f.PF, flagPF}, {f.AF, flagAF}, {f.ZF, flagZF},
		{f.SF, flagSF}, {f.TF, flagTF}, {f.IF, flagIF}, {f.DF, flagDF},
		{f.OF, flagOF},
	} {
		if b.set {
			w |= b.bit
		}
	}
	return w
}

// SetWord unpacks a FLAGS register value.
func (f *Flags) SetWord(w uint16) {
	f.CF = w&flagCF != 0
	f.PF = w&flagPF != 0
	f.AF = w&flagAF != 0
	f.ZF = w&flagZF != 0
	f.SF = w&flagSF != 0
	f.TF = w&flagTF != 0
	f.IF = w&flagIF != 0
	f.DF = w&flagDF != 0
	f.OF = w&flagOF != 0
}

// Read8 reads a byte register.
func (r *RegFile) Read8(reg int) uint8 {
	if reg < 4 {
		return uint8(r.GP[reg])
	}
	return uint8(r.GP[reg-4] >> 8)
}

// Write8 writes a byte register, leaving the rest of the register intact.
func (r *RegFile) Write8(reg int, value uint8) {
	if reg < 4 {
		r.GP[reg] = r.GP[reg]&^0xFF | uint32(value)
		return
	}
	r.GP[reg-4] = r.GP[reg-4]&^0xFF00 | uint32(value)<<8
}

// Read16 reads the low word of a register.
func (r *RegFile) Read16(reg int) uint16 {
	return uint16(r.GP[reg])
}

// Write16 writes the low word of a register, preserving the high word.
func (r *RegFile) Write16(reg int, value uint16) {
	r.GP[reg] = r.GP[reg]&^0xFFFF | uint32(value)
}

// Read32 reads a full register.
func (r *RegFile) Read32(reg int) uint32 {
	return r.GP[reg]
}

// Write32 writes a full register.
func (r *RegFile) Write32(reg int, value uint32) {
	r.GP[reg] = value
}

// Read reads a register of the given width in bytes.
func (r *RegFile) Read(width, reg int) uint32 {
	switch width {
	case 1:
		return uint32(r.Read8(reg))
	case 2:
		return uint32(r.Read16(reg))
	default:
		return r.Read32(reg)
	}
}

// Write writes a register of the given width in bytes.
func (r *RegFile) Write(width, reg int, value uint32) {
	switch width {
	case 1:
		r.Write8(reg, uint8(value))
	case 2:
		r.Write16(reg, uint16(value))
	default:
		r.Write32(reg, value)
	}
}

// Segment returns the value of a segment register.
func (r *RegFile) Segment(seg insts.SegReg) uint16 {
	return r.Seg[seg]
}

// SetSegment sets a segment register.
func (r *RegFile) SetSegment(seg insts.SegReg, value uint16) {
	r.Seg[seg] = value
}

// CodeAddress returns CS:IP.
func (r *RegFile) CodeAddress() memory.SegmentedAddress {
	return memory.SegmentedAddress{Segment: r.Seg[insts.SegCS], Offset: r.IP}
}
