package insts

import (
	"fmt"

	"github.com/sarchlab/x86cfg/memory"
)

// maxPrefixes keeps the instruction within the 15-byte architectural limit.
const maxPrefixes = 14

// Decoder decodes x86 real-mode instructions from memory.
type Decoder struct {
	mem memory.Reader
}

// NewDecoder creates a decoder reading from mem.
func NewDecoder(mem memory.Reader) *Decoder {
	return &Decoder{mem: mem}
}

// Decode decodes the instruction at segment:offset. It never fails:
// undefined or unsupported encodings produce an OpInvalid instruction.
func (d *Decoder) Decode(segment, offset uint16) *Instruction {
	addr := memory.SegmentedAddress{Segment: segment, Offset: offset}
	return decode(addr, d.mem.Read8)
}

// DecodeBytes decodes an instruction from code as if it were located at
// addr. Bytes past the end of code read as zero.
func DecodeBytes(addr memory.SegmentedAddress, code []byte) *Instruction {
	base := addr.Physical()
	return decode(addr, func(phys uint32) byte {
		i := phys - base
		if i >= uint32(len(code)) {
			return 0
		}
		return code[i]
	})
}

// decodeState tracks the bytes consumed while decoding one instruction.
type decodeState struct {
	fetch  func(uint32) byte
	inst   *Instruction
	pos    uint16
	fields []FieldInfo
	failed bool
}

func decode(addr memory.SegmentedAddress, fetch func(uint32) byte) *Instruction {
	inst := &Instruction{
		Address:         addr,
		Physical:        addr.Physical(),
		SegmentOverride: SegNone,
	}
	s := &decodeState{fetch: fetch, inst: inst}

	opcode := s.decodePrefixes()
	s.decodeOpcode(opcode)

	inst.finalize(s.fields)
	return inst
}

func (s *decodeState) physical(delta uint16) uint32 {
	return s.inst.Address.Add(s.pos + delta).Physical()
}

func (s *decodeState) peek() byte {
	return s.fetch(s.physical(0))
}

// takeField consumes length bytes as one field.
func takeField[T Value](s *decodeState, length int, exact bool) *Field[T] {
	phys := s.physical(0)
	captured := make([]byte, length)
	var raw uint32
	for i := 0; i < length; i++ {
		b := s.fetch(s.physical(uint16(i)))
		captured[i] = b
		raw |= uint32(b) << (8 * i)
	}

	f := NewField[T](int(s.pos), phys, T(raw), captured, exact)
	s.pos += uint16(length)
	s.fields = append(s.fields, f)
	s.inst.Raw = append(s.inst.Raw, captured...)
	return f
}

func (s *decodeState) invalid(format string, args ...any) {
	s.failed = true
	s.inst.Op = OpInvalid
	s.inst.Form = FormNone
	s.inst.Exception = &Exception{
		Vector: VectorInvalidOpcode,
		Reason: fmt.Sprintf(format, args...),
	}
}

// decodePrefixes consumes prefixes and returns the opcode byte, which is
// also consumed as the opcode field.
func (s *decodeState) decodePrefixes() byte {
	inst := s.inst
	for len(inst.Prefixes) < maxPrefixes {
		b := s.peek()
		switch b {
		case 0x26:
			inst.SegmentOverride = SegES
		case 0x2E:
			inst.SegmentOverride = SegCS
		case 0x36:
			inst.SegmentOverride = SegSS
		case 0x3E:
			inst.SegmentOverride = SegDS
		case 0x64:
			inst.SegmentOverride = SegFS
		case 0x65:
			inst.SegmentOverride = SegGS
		case 0x66:
			inst.OperandSize32 = true
		case 0x67:
			inst.AddressSize32 = true
		case 0xF0:
			inst.Lock = true
		case 0xF2:
			inst.Rep = RepNE
		case 0xF3:
			inst.Rep = RepE
		default:
			inst.Opcode = takeField[uint8](s, 1, true)
			return b
		}
		inst.Prefixes = append(inst.Prefixes, takeField[uint8](s, 1, true))
	}

	inst.Opcode = takeField[uint8](s, 1, true)
	return inst.Opcode.Value
}

// wordWidth is the width of a word-sized operand under the current
// operand-size attribute.
func (s *decodeState) wordWidth() int {
	if s.inst.OperandSize32 {
		return 4
	}
	return 2
}

// widthOf decodes the w bit of an opcode.
func (s *decodeState) widthOf(opcode byte) int {
	if opcode&1 == 0 {
		return 1
	}
	return s.wordWidth()
}

func (s *decodeState) modRM() *ModRM {
	f := takeField[uint8](s, 1, true)
	m := &ModRM{
		Field: f,
		Mod:   f.Value >> 6,
		Reg:   (f.Value >> 3) & 7,
		RM:    f.Value & 7,
	}
	s.inst.ModRM = m

	if m.IsRegister() {
		return m
	}
	if s.inst.AddressSize32 {
		s.invalid("32-bit addressing is not supported")
		return m
	}

	switch {
	case m.Mod == 0 && m.RM == 6:
		s.inst.Disp16 = takeField[int16](s, 2, false)
	case m.Mod == 1:
		s.inst.Disp8 = takeField[int8](s, 1, false)
	case m.Mod == 2:
		s.inst.Disp16 = takeField[int16](s, 2, false)
	}
	return m
}

func (s *decodeState) memoryModRM() *ModRM {
	m := s.modRM()
	if m.IsRegister() {
		s.invalid("register operand not allowed")
	}
	return m
}

func (s *decodeState) immediate(width int) {
	switch width {
	case 1:
		s.inst.Imm8 = takeField[uint8](s, 1, false)
	case 2:
		s.inst.Imm16 = takeField[uint16](s, 2, false)
	case 4:
		s.inst.Imm32 = takeField[uint32](s, 4, false)
	}
}

// nearTransfer rejects operand-size overrides on near and far control
// transfers, which would use 32-bit instruction pointers.
func (s *decodeState) nearTransfer() bool {
	if s.inst.OperandSize32 {
		s.invalid("32-bit control transfer is not supported")
		return false
	}
	return true
}

func (s *decodeState) decodeOpcode(b byte) {
	inst := s.inst

	switch {
	case b < 0x40 && b&7 < 6:
		s.decodeALU(b)
	case b >= 0x40 && b <= 0x47:
		inst.Op, inst.Form, inst.Reg, inst.Width = OpINC, FormReg, int(b&7), s.wordWidth()
	case b >= 0x48 && b <= 0x4F:
		inst.Op, inst.Form, inst.Reg, inst.Width = OpDEC, FormReg, int(b&7), s.wordWidth()
	case b >= 0x50 && b <= 0x57:
		inst.Op, inst.Form, inst.Reg, inst.Width = OpPUSH, FormReg, int(b&7), s.wordWidth()
	case b >= 0x58 && b <= 0x5F:
		inst.Op, inst.Form, inst.Reg, inst.Width = OpPOP, FormReg, int(b&7), s.wordWidth()
	case b >= 0x70 && b <= 0x7F:
		inst.Op, inst.Form, inst.Cond = OpJcc, FormRel, Cond(b&0xF)
		inst.Rel8 = takeField[int8](s, 1, true)
	case b >= 0x80 && b <= 0x83:
		s.decodeGroup1(b)
	case b >= 0x91 && b <= 0x97:
		inst.Op, inst.Form, inst.Reg, inst.Width = OpXCHG, FormAccReg, int(b&7), s.wordWidth()
	case b >= 0xB0 && b <= 0xB7:
		inst.Op, inst.Form, inst.Reg, inst.Width = OpMOV, FormRegImm, int(b&7), 1
		s.immediate(1)
	case b >= 0xB8 && b <= 0xBF:
		inst.Op, inst.Form, inst.Reg, inst.Width = OpMOV, FormRegImm, int(b&7), s.wordWidth()
		s.immediate(inst.Width)
	case b == 0xC0 || b == 0xC1 || (b >= 0xD0 && b <= 0xD3):
		s.decodeShift(b)
	case b >= 0xF8 && b <= 0xFD:
		inst.Op = [...]Op{OpCLC, OpSTC, OpCLI, OpSTI, OpCLD, OpSTD}[b-0xF8]
	default:
		s.decodeSingle(b)
	}
}

func (s *decodeState) decodeALU(b byte) {
	inst := s.inst
	inst.Op = aluOps[b>>3]
	inst.Width = s.widthOf(b)

	switch b & 7 {
	case 0, 1:
		inst.Form = FormRMReg
		inst.Reg = int(s.modRM().Reg)
	case 2, 3:
		inst.Form = FormRegRM
		inst.Reg = int(s.modRM().Reg)
	case 4, 5:
		inst.Form = FormAccImm
		s.immediate(inst.Width)
	}
}

func (s *decodeState) decodeGroup1(b byte) {
	inst := s.inst
	m := s.modRM()
	if s.failed {
		return
	}
	inst.Op, inst.Form = aluOps[m.Reg], FormRMImm
	inst.Width = s.widthOf(b)

	switch b {
	case 0x80, 0x82:
		s.immediate(1)
	case 0x81:
		s.immediate(inst.Width)
	case 0x83:
		inst.SImm8 = takeField[int8](s, 1, false)
	}
}

func (s *decodeState) decodeShift(b byte) {
	inst := s.inst
	m := s.modRM()
	if s.failed {
		return
	}
	inst.Op = shiftOps[m.Reg]
	inst.Width = s.widthOf(b)

	switch b {
	case 0xC0, 0xC1:
		inst.Form = FormShiftImm
		s.immediate(1)
	case 0xD0, 0xD1:
		inst.Form = FormShiftOne
	case 0xD2, 0xD3:
		inst.Form = FormShiftCL
	}
}

func (s *decodeState) decodeGroup3(b byte) {
	inst := s.inst
	m := s.modRM()
	if s.failed {
		return
	}
	inst.Width = s.widthOf(b)
	inst.Form = FormRM

	switch m.Reg {
	case 0, 1:
		inst.Op, inst.Form = OpTEST, FormRMImm
		s.immediate(inst.Width)
	case 2:
		inst.Op = OpNOT
	case 3:
		inst.Op = OpNEG
	case 4:
		inst.Op = OpMUL
	case 5:
		inst.Op = OpIMUL
	case 6:
		inst.Op = OpDIV
	case 7:
		inst.Op = OpIDIV
	}
}

func (s *decodeState) decodeGroup4() {
	inst := s.inst
	m := s.modRM()
	if s.failed {
		return
	}
	inst.Form, inst.Width = FormRM, 1

	switch m.Reg {
	case 0:
		inst.Op = OpINC
	case 1:
		inst.Op = OpDEC
	default:
		s.invalid("undefined group 4 operation /%d", m.Reg)
	}
}

func (s *decodeState) decodeGroup5() {
	inst := s.inst
	m := s.modRM()
	if s.failed {
		return
	}
	inst.Form, inst.Width = FormRM, s.wordWidth()

	switch m.Reg {
	case 0:
		inst.Op = OpINC
	case 1:
		inst.Op = OpDEC
	case 2:
		if s.nearTransfer() {
			inst.Op = OpCALL
		}
	case 3:
		if s.nearTransfer() && !m.IsRegister() {
			inst.Op, inst.Form = OpCALLFar, FormFarRM
		} else if !s.failed {
			s.invalid("far call through a register")
		}
	case 4:
		if s.nearTransfer() {
			inst.Op = OpJMP
		}
	case 5:
		if s.nearTransfer() && !m.IsRegister() {
			inst.Op, inst.Form = OpJMPFar, FormFarRM
		} else if !s.failed {
			s.invalid("far jump through a register")
		}
	case 6:
		inst.Op = OpPUSH
	default:
		s.invalid("undefined group 5 operation /7")
	}
}

func (s *decodeState) decodeSegmentModRM(op Op, form Form) {
	inst := s.inst
	m := s.modRM()
	if s.failed {
		return
	}
	inst.Op, inst.Form, inst.Reg, inst.Width = op, form, int(m.Reg), 2
	if m.Reg > uint8(SegGS) {
		s.invalid("undefined segment register %d", m.Reg)
		return
	}
	if form == FormSregRM && SegReg(m.Reg) == SegCS {
		s.invalid("CS cannot be loaded with MOV")
	}
}

func (s *decodeState) farPointer() {
	s.inst.Offset = takeField[uint16](s, 2, true)
	s.inst.Segment = takeField[uint16](s, 2, true)
}

func (s *decodeState) directAddress() {
	if s.inst.AddressSize32 {
		s.invalid("32-bit addressing is not supported")
		return
	}
	s.inst.Offset = takeField[uint16](s, 2, false)
}

//nolint:gocyclo // one case per opcode
func (s *decodeState) decodeSingle(b byte) {
	inst := s.inst

	switch b {
	case 0x06, 0x0E, 0x16, 0x1E:
		inst.Op, inst.Form, inst.Reg, inst.Width = OpPUSH, FormSreg, int(b>>3), 2
	case 0x07, 0x17, 0x1F:
		inst.Op, inst.Form, inst.Reg, inst.Width = OpPOP, FormSreg, int(b>>3), 2
	case 0x68:
		inst.Op, inst.Form, inst.Width = OpPUSH, FormImm, s.wordWidth()
		s.immediate(inst.Width)
	case 0x6A:
		inst.Op, inst.Form, inst.Width = OpPUSH, FormImm, s.wordWidth()
		inst.SImm8 = takeField[int8](s, 1, false)
	case 0x84, 0x85:
		inst.Op, inst.Form, inst.Width = OpTEST, FormRMReg, s.widthOf(b)
		inst.Reg = int(s.modRM().Reg)
	case 0x86, 0x87:
		inst.Op, inst.Form, inst.Width = OpXCHG, FormRMReg, s.widthOf(b)
		inst.Reg = int(s.modRM().Reg)
	case 0x88, 0x89:
		inst.Op, inst.Form, inst.Width = OpMOV, FormRMReg, s.widthOf(b)
		inst.Reg = int(s.modRM().Reg)
	case 0x8A, 0x8B:
		inst.Op, inst.Form, inst.Width = OpMOV, FormRegRM, s.widthOf(b)
		inst.Reg = int(s.modRM().Reg)
	case 0x8C:
		s.decodeSegmentModRM(OpMOV, FormRMSreg)
	case 0x8D:
		inst.Op, inst.Form, inst.Width = OpLEA, FormRegRM, s.wordWidth()
		inst.Reg = int(s.memoryModRM().Reg)
	case 0x8E:
		s.decodeSegmentModRM(OpMOV, FormSregRM)
	case 0x8F:
		m := s.modRM()
		if s.failed {
			return
		}
		if m.Reg != 0 {
			s.invalid("undefined POP r/m operation /%d", m.Reg)
			return
		}
		inst.Op, inst.Form, inst.Width = OpPOP, FormRM, s.wordWidth()
	case 0x90:
		inst.Op = OpNOP
	case 0x98:
		inst.Op, inst.Width = OpCBW, s.wordWidth()
	case 0x99:
		inst.Op, inst.Width = OpCWD, s.wordWidth()
	case 0x9A:
		if s.nearTransfer() {
			inst.Op, inst.Form = OpCALLFar, FormFarPtr
			s.farPointer()
		}
	case 0x9C:
		inst.Op, inst.Width = OpPUSHF, s.wordWidth()
	case 0x9D:
		inst.Op, inst.Width = OpPOPF, s.wordWidth()
	case 0xA0, 0xA1:
		inst.Op, inst.Form, inst.Width = OpMOV, FormAccMoffs, s.widthOf(b)
		s.directAddress()
	case 0xA2, 0xA3:
		inst.Op, inst.Form, inst.Width = OpMOV, FormMoffsAcc, s.widthOf(b)
		s.directAddress()
	case 0xA4, 0xA5:
		s.decodeString(OpMOVS, b)
	case 0xA8, 0xA9:
		inst.Op, inst.Form, inst.Width = OpTEST, FormAccImm, s.widthOf(b)
		s.immediate(inst.Width)
	case 0xAA, 0xAB:
		s.decodeString(OpSTOS, b)
	case 0xAC, 0xAD:
		s.decodeString(OpLODS, b)
	case 0xC2:
		if s.nearTransfer() {
			inst.Op, inst.Form = OpRET, FormImm
			s.immediate(2)
		}
	case 0xC3:
		if s.nearTransfer() {
			inst.Op = OpRET
		}
	case 0xC6, 0xC7:
		m := s.modRM()
		if s.failed {
			return
		}
		if m.Reg != 0 {
			s.invalid("undefined MOV r/m, imm operation /%d", m.Reg)
			return
		}
		inst.Op, inst.Form, inst.Width = OpMOV, FormRMImm, s.widthOf(b)
		s.immediate(inst.Width)
	case 0xCA:
		if s.nearTransfer() {
			inst.Op, inst.Form = OpRETF, FormImm
			s.immediate(2)
		}
	case 0xCB:
		if s.nearTransfer() {
			inst.Op = OpRETF
		}
	case 0xCC:
		inst.Op = OpINT
	case 0xCD:
		inst.Op, inst.Form = OpINT, FormImm
		inst.Vector = takeField[uint8](s, 1, true)
	case 0xCF:
		if s.nearTransfer() {
			inst.Op = OpIRET
		}
	case 0xE2:
		inst.Op, inst.Form = OpLOOP, FormRel
		inst.Rel8 = takeField[int8](s, 1, true)
	case 0xE3:
		inst.Op, inst.Form = OpJCXZ, FormRel
		inst.Rel8 = takeField[int8](s, 1, true)
	case 0xE8:
		if s.nearTransfer() {
			inst.Op, inst.Form = OpCALL, FormRel
			inst.Rel16 = takeField[int16](s, 2, true)
		}
	case 0xE9:
		if s.nearTransfer() {
			inst.Op, inst.Form = OpJMP, FormRel
			inst.Rel16 = takeField[int16](s, 2, true)
		}
	case 0xEA:
		if s.nearTransfer() {
			inst.Op, inst.Form = OpJMPFar, FormFarPtr
			s.farPointer()
		}
	case 0xEB:
		inst.Op, inst.Form = OpJMP, FormRel
		inst.Rel8 = takeField[int8](s, 1, true)
	case 0xF4:
		inst.Op = OpHLT
	case 0xF5:
		inst.Op = OpCMC
	case 0xF6, 0xF7:
		s.decodeGroup3(b)
	case 0xFE:
		s.decodeGroup4()
	case 0xFF:
		s.decodeGroup5()
	default:
		s.invalid("unsupported opcode 0x%02X", b)
	}
}

func (s *decodeState) decodeString(op Op, b byte) {
	if s.inst.AddressSize32 {
		s.invalid("32-bit string addressing is not supported")
		return
	}
	s.inst.Op, s.inst.Width = op, s.widthOf(b)
}
