// Package insts provides x86 real-mode instruction definitions and decoding.
//
// This package decodes 8086/80386 real-mode machine code into structured
// instructions. Every decoded byte run is kept as a typed Field so that an
// instruction can be compared against live memory and its operand values
// re-read when the bytes underneath change. It supports:
//   - Data movement: MOV (all forms), XCHG, LEA, PUSH, POP, CBW, CWD
//   - Arithmetic and logic: ADD, OR, ADC, SBB, AND, SUB, XOR, CMP, TEST,
//     INC, DEC, NOT, NEG, MUL, IMUL, DIV, IDIV, shifts and rotates
//   - Control transfer: Jcc, JMP, CALL, RET, RETF, LOOP, JCXZ, INT, IRET
//   - String operations: MOVS, STOS, LODS with REP
//   - Flag control and HLT
//
// Opcodes outside this set decode to OpInvalid with a #UD exception payload.
//
// Usage:
//
//	decoder := insts.NewDecoder(mem)
//	inst := decoder.Decode(0x0000, 0x0100) // B8 FF FF -> MOV AX, 0xFFFF
//	fmt.Printf("Op: %v, Reg: %d, Imm: 0x%X\n", inst.Op, inst.Reg, inst.Imm16.Value)
package insts
