package insts

import (
	"fmt"

	"github.com/sarchlab/x86cfg/memory"
)

// Op represents an x86 operation.
type Op uint16

// x86 operations.
const (
	OpInvalid Op = iota
	OpNOP
	OpHLT
	OpMOV
	OpADD
	OpOR
	OpADC
	OpSBB
	OpAND
	OpSUB
	OpXOR
	OpCMP
	OpTEST
	OpINC
	OpDEC
	OpNOT
	OpNEG
	OpMUL
	OpIMUL
	OpDIV
	OpIDIV
	OpROL
	OpROR
	OpRCL
	OpRCR
	OpSHL
	OpSHR
	OpSAR
	OpPUSH
	OpPOP
	OpPUSHF
	OpPOPF
	OpXCHG
	OpLEA
	OpCBW
	OpCWD
	OpJcc
	OpJMP
	OpJMPFar
	OpCALL
	OpCALLFar
	OpRET
	OpRETF
	OpLOOP
	OpJCXZ
	OpINT
	OpIRET
	OpCLC
	OpSTC
	OpCMC
	OpCLI
	OpSTI
	OpCLD
	OpSTD
	OpMOVS
	OpSTOS
	OpLODS

	opCount
)

// OpCount is the number of defined operations.
const OpCount = int(opCount)

var opNames = [...]string{
	OpInvalid: "INVALID", OpNOP: "NOP", OpHLT: "HLT", OpMOV: "MOV",
	OpADD: "ADD", OpOR: "OR", OpADC: "ADC", OpSBB: "SBB", OpAND: "AND",
	OpSUB: "SUB", OpXOR: "XOR", OpCMP: "CMP", OpTEST: "TEST", OpINC: "INC",
	OpDEC: "DEC", OpNOT: "NOT", OpNEG: "NEG", OpMUL: "MUL", OpIMUL: "IMUL",
	OpDIV: "DIV", OpIDIV: "IDIV", OpROL: "ROL", OpROR: "ROR", OpRCL: "RCL",
	OpRCR: "RCR", OpSHL: "SHL", OpSHR: "SHR", OpSAR: "SAR", OpPUSH: "PUSH",
	OpPOP: "POP", OpPUSHF: "PUSHF", OpPOPF: "POPF", OpXCHG: "XCHG",
	OpLEA: "LEA", OpCBW: "CBW", OpCWD: "CWD", OpJcc: "Jcc", OpJMP: "JMP",
	OpJMPFar: "JMPF", OpCALL: "CALL", OpCALLFar: "CALLF", OpRET: "RET",
	OpRETF: "RETF", OpLOOP: "LOOP", OpJCXZ: "JCXZ", OpINT: "INT",
	OpIRET: "IRET", OpCLC: "CLC", OpSTC: "STC", OpCMC: "CMC", OpCLI: "CLI",
	OpSTI: "STI", OpCLD: "CLD", OpSTD: "STD", OpMOVS: "MOVS", OpSTOS: "STOS",
	OpLODS: "LODS",
}

func (o Op) String() string {
	if int(o) < len(opNames) && opNames[o] != "" {
		return opNames[o]
	}
	return fmt.Sprintf("Op(%d)", uint16(o))
}

// aluOps maps the reg field of ALU opcodes (00-3F and group 1) to operations.
var aluOps = [8]Op{OpADD, OpOR, OpADC, OpSBB, OpAND, OpSUB, OpXOR, OpCMP}

// shiftOps maps the reg field of group 2 opcodes to operations.
var shiftOps = [8]Op{OpROL, OpROR, OpRCL, OpRCR, OpSHL, OpSHR, OpSHL, OpSAR}

// Form describes where the operands of an instruction come from.
type Form uint8

// Operand forms.
const (
	FormNone     Form = iota
	FormReg           // register encoded in the opcode
	FormRegImm        // register encoded in the opcode, immediate source
	FormRM            // single r/m operand
	FormRMReg         // r/m destination, ModRM.reg source
	FormRegRM         // ModRM.reg destination, r/m source
	FormRMImm         // r/m destination, immediate source
	FormAccImm        // AL/AX/EAX destination, immediate source
	FormAccMoffs      // AL/AX/EAX destination, direct memory source
	FormMoffsAcc      // direct memory destination, AL/AX/EAX source
	FormAccReg        // AX/EAX exchanged with the register in the opcode
	FormSreg          // segment register encoded in the opcode
	FormRMSreg        // r/m destination, segment register source
	FormSregRM        // segment register destination, r/m source
	FormImm           // immediate operand only
	FormRel           // relative branch target
	FormFarPtr        // immediate segment:offset target
	FormFarRM         // segment:offset target read from memory
	FormShiftOne      // r/m shifted by one
	FormShiftCL       // r/m shifted by CL
	FormShiftImm      // r/m shifted by an immediate count
)

// Cond represents an x86 condition code as encoded in Jcc opcodes.
type Cond uint8

// x86 condition codes.
const (
	CondO  Cond = 0x0 // Overflow (OF == 1)
	CondNO Cond = 0x1 // No overflow (OF == 0)
	CondB  Cond = 0x2 // Below (CF == 1)
	CondAE Cond = 0x3 // Above or equal (CF == 0)
	CondE  Cond = 0x4 // Equal (ZF == 1)
	CondNE Cond = 0x5 // Not equal (ZF == 0)
	CondBE Cond = 0x6 // Below or equal (CF == 1 || ZF == 1)
	CondA  Cond = 0x7 // Above (CF == 0 && ZF == 0)
	CondS  Cond = 0x8 // Sign (SF == 1)
	CondNS Cond = 0x9 // No sign (SF == 0)
	CondP  Cond = 0xA // Parity even (PF == 1)
	CondNP Cond = 0xB // Parity odd (PF == 0)
	CondL  Cond = 0xC // Less (SF != OF)
	CondGE Cond = 0xD // Greater or equal (SF == OF)
	CondLE Cond = 0xE // Less or equal (ZF == 1 || SF != OF)
	CondG  Cond = 0xF // Greater (ZF == 0 && SF == OF)
)

// SegReg is a segment register index in x86 encoding order.
type SegReg int8

// Segment registers. SegNone means no override prefix.
const (
	SegNone SegReg = -1
	SegES   SegReg = 0
	SegCS   SegReg = 1
	SegSS   SegReg = 2
	SegDS   SegReg = 3
	SegFS   SegReg = 4
	SegGS   SegReg = 5
)

// Rep is the repeat prefix of a string instruction.
type Rep uint8

// Repeat prefixes.
const (
	RepNone Rep = iota
	RepE        // F3
	RepNE       // F2
)

// Exception is a CPU exception raised when an instruction executes.
type Exception struct {
	Vector uint8
	Reason string
}

// Exception vectors raised by the core.
const (
	VectorDivideError   uint8 = 0
	VectorInvalidOpcode uint8 = 6
)

// ModRM is a decoded ModRM byte.
type ModRM struct {
	Field *Field[uint8]
	Mod   uint8
	Reg   uint8
	RM    uint8
}

// IsRegister reports whether the r/m operand is a register.
func (m *ModRM) IsRegister() bool {
	return m.Mod == 3
}

// Instruction is a decoded x86 instruction.
type Instruction struct {
	// Address is the segmented address the instruction was decoded at.
	Address memory.SegmentedAddress
	// Physical is the physical address of the first byte.
	Physical uint32

	Op    Op
	Form  Form
	Width int // operand width in bytes: 1, 2 or 4

	Prefixes []*Field[uint8]
	Opcode   *Field[uint8]
	ModRM    *ModRM

	Disp8   *Field[int8]
	Disp16  *Field[int16]
	Imm8    *Field[uint8]
	Imm16   *Field[uint16]
	Imm32   *Field[uint32]
	SImm8   *Field[int8] // immediate sign-extended to the operand width
	Rel8    *Field[int8]
	Rel16   *Field[int16]
	Offset  *Field[uint16] // moffs or far pointer offset
	Segment *Field[uint16] // far pointer segment
	Vector  *Field[uint8]  // INT vector

	// Reg is the register index encoded in the opcode or ModRM.reg.
	Reg  int
	Cond Cond

	SegmentOverride SegReg
	Rep             Rep
	Lock            bool
	OperandSize32   bool
	AddressSize32   bool

	// Exception is set for instructions that always fault.
	Exception *Exception

	// Raw holds the bytes seen at decode time.
	Raw []byte

	fields        []FieldInfo
	discriminator Discriminator
}

// Length returns the instruction length in bytes.
func (i *Instruction) Length() int {
	return len(i.discriminator)
}

// Discriminator returns the concatenated discriminator of all fields.
func (i *Instruction) Discriminator() Discriminator {
	return i.discriminator
}

// Fields returns all fields in instruction order.
func (i *Instruction) Fields() []FieldInfo {
	return i.fields
}

// Next returns the address of the instruction that follows in memory.
func (i *Instruction) Next() memory.SegmentedAddress {
	return i.Address.Add(uint16(i.Length()))
}

// IsInvalid reports whether the instruction faults with #UD.
func (i *Instruction) IsInvalid() bool {
	return i.Op == OpInvalid
}

// IsControlTransfer reports whether the instruction may continue anywhere
// other than the next instruction in memory.
func (i *Instruction) IsControlTransfer() bool {
	switch i.Op {
	case OpJcc, OpJMP, OpJMPFar, OpCALL, OpCALLFar, OpRET, OpRETF,
		OpLOOP, OpJCXZ, OpINT, OpIRET, OpHLT, OpInvalid,
		OpDIV, OpIDIV:
		return true
	}
	return false
}

// HasMemoryOperand reports whether the instruction reads or writes memory
// through a ModRM or direct address operand.
func (i *Instruction) HasMemoryOperand() bool {
	if i.ModRM != nil && !i.ModRM.IsRegister() && i.Op != OpLEA {
		return true
	}
	return i.Form == FormAccMoffs || i.Form == FormMoffsAcc
}

// String returns the Intel-syntax disassembly of the instruction.
func (i *Instruction) String() string {
	return disassembleOne(i.Raw, i.Address.Offset)
}

// finalize freezes the field list and computes the discriminator.
func (i *Instruction) finalize(fields []FieldInfo) {
	i.fields = fields
	i.discriminator = i.discriminator[:0]
	for _, f := range fields {
		i.discriminator = append(i.discriminator, f.Signature()...)
	}
}
