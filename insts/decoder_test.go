package insts_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/x86cfg/insts"
	"github.com/sarchlab/x86cfg/memory"
)

var _ = Describe("Decoder", func() {
	var (
		mem     *memory.Memory
		decoder *insts.Decoder
	)

	BeforeEach(func() {
		mem = memory.New(0x20000)
		decoder = insts.NewDecoder(mem)
	})

	decodeAt := func(segment, offset uint16, code ...byte) *insts.Instruction {
		mem.LoadBytes(memory.ToPhysical(segment, offset), code)
		return decoder.Decode(segment, offset)
	}

	Describe("MOV reg, imm", func() {
		// B8 FF FF -> MOV AX, 0xFFFF
		It("should decode MOV AX, 0xFFFF", func() {
			inst := decodeAt(0, 0, 0xB8, 0xFF, 0xFF)

			Expect(inst.Op).To(Equal(insts.OpMOV))
			Expect(inst.Form).To(Equal(insts.FormRegImm))
			Expect(inst.Reg).To(Equal(0))
			Expect(inst.Width).To(Equal(2))
			Expect(inst.Length()).To(Equal(3))
			Expect(inst.Imm16.Value).To(Equal(uint16(0xFFFF)))
			Expect(inst.Imm16.UseValue).To(BeTrue())
			Expect(inst.Imm16.PhysicalAddress).To(Equal(uint32(1)))
			Expect(inst.Imm16.IndexInInstruction).To(Equal(1))
		})

		It("should wildcard the immediate in the discriminator", func() {
			inst := decodeAt(0, 0, 0xBB, 0x34, 0x12)

			Expect(inst.Reg).To(Equal(3))
			Expect(inst.Discriminator().String()).To(Equal("BB ?? ??"))
		})

		It("should widen with the operand-size prefix", func() {
			inst := decodeAt(0, 0, 0x66, 0xB9, 0x78, 0x56, 0x34, 0x12)

			Expect(inst.OperandSize32).To(BeTrue())
			Expect(inst.Width).To(Equal(4))
			Expect(inst.Prefixes).To(HaveLen(1))
			Expect(inst.Imm32.Value).To(Equal(uint32(0x12345678)))
			Expect(inst.Discriminator().String()).To(Equal("66 B9 ?? ?? ?? ??"))
		})

		It("should decode byte registers", func() {
			inst := decodeAt(0, 0, 0xB4, 0x09)

			Expect(inst.Width).To(Equal(1))
			Expect(inst.Reg).To(Equal(4))
			Expect(inst.Imm8.Value).To(Equal(uint8(9)))
		})
	})

	Describe("ModRM operands", func() {
		// 89 47 05 -> MOV [BX+5], AX
		It("should decode a disp8 memory operand", func() {
			inst := decodeAt(0, 0, 0x89, 0x47, 0x05)

			Expect(inst.Op).To(Equal(insts.OpMOV))
			Expect(inst.Form).To(Equal(insts.FormRMReg))
			Expect(inst.ModRM.Mod).To(Equal(uint8(1)))
			Expect(inst.ModRM.RM).To(Equal(uint8(7)))
			Expect(inst.Reg).To(Equal(0))
			Expect(inst.Disp8.Value).To(Equal(int8(5)))
			Expect(inst.HasMemoryOperand()).To(BeTrue())
			Expect(inst.Discriminator().String()).To(Equal("89 47 ??"))
		})

		// C7 06 34 12 CD AB -> MOV WORD [0x1234], 0xABCD
		It("should decode a direct address with an immediate", func() {
			inst := decodeAt(0, 0, 0xC7, 0x06, 0x34, 0x12, 0xCD, 0xAB)

			Expect(inst.Form).To(Equal(insts.FormRMImm))
			Expect(inst.Disp16.Value).To(Equal(int16(0x1234)))
			Expect(inst.Imm16.Value).To(Equal(uint16(0xABCD)))
			Expect(inst.Length()).To(Equal(6))
		})

		It("should decode group 1 with a sign-extended immediate", func() {
			// 83 C0 FF -> ADD AX, -1
			inst := decodeAt(0, 0, 0x83, 0xC0, 0xFF)

			Expect(inst.Op).To(Equal(insts.OpADD))
			Expect(inst.Form).To(Equal(insts.FormRMImm))
			Expect(inst.ModRM.IsRegister()).To(BeTrue())
			Expect(inst.SImm8.Value).To(Equal(int8(-1)))
		})

		It("should record segment overrides as exact prefixes", func() {
			// 26 8B 07 -> MOV AX, ES:[BX]
			inst := decodeAt(0, 0, 0x26, 0x8B, 0x07)

			Expect(inst.SegmentOverride).To(Equal(insts.SegES))
			Expect(inst.Form).To(Equal(insts.FormRegRM))
			Expect(inst.Discriminator().String()).To(Equal("26 8B 07"))
		})

		It("should reject 32-bit addressing", func() {
			inst := decodeAt(0, 0, 0x67, 0x8B, 0x07)

			Expect(inst.IsInvalid()).To(BeTrue())
		})
	})

	Describe("Control transfer", func() {
		// EB FE -> JMP $
		It("should keep relative offsets in the discriminator", func() {
			inst := decodeAt(0, 0, 0xEB, 0xFE)

			Expect(inst.Op).To(Equal(insts.OpJMP))
			Expect(inst.Rel8.Value).To(Equal(int8(-2)))
			Expect(inst.Discriminator().String()).To(Equal("EB FE"))
			Expect(inst.IsControlTransfer()).To(BeTrue())
		})

		It("should decode conditional jumps", func() {
			inst := decodeAt(0, 0, 0x75, 0x10)

			Expect(inst.Op).To(Equal(insts.OpJcc))
			Expect(inst.Cond).To(Equal(insts.CondNE))
		})

		It("should decode far jumps with an exact pointer", func() {
			inst := decodeAt(0, 0, 0xEA, 0x00, 0x01, 0x00, 0x20)

			Expect(inst.Op).To(Equal(insts.OpJMPFar))
			Expect(inst.Offset.Value).To(Equal(uint16(0x0100)))
			Expect(inst.Segment.Value).To(Equal(uint16(0x2000)))
			Expect(inst.Discriminator().String()).To(Equal("EA 00 01 00 20"))
		})

		It("should keep interrupt vectors exact", func() {
			inst := decodeAt(0, 0, 0xCD, 0x21)

			Expect(inst.Op).To(Equal(insts.OpINT))
			Expect(inst.Vector.Value).To(Equal(uint8(0x21)))
			Expect(inst.Discriminator().String()).To(Equal("CD 21"))
		})

		It("should wildcard the RET pop count", func() {
			inst := decodeAt(0, 0, 0xC2, 0x04, 0x00)

			Expect(inst.Op).To(Equal(insts.OpRET))
			Expect(inst.Discriminator().String()).To(Equal("C2 ?? ??"))
		})

		It("should reject 32-bit near calls", func() {
			inst := decodeAt(0, 0, 0x66, 0xE8, 0x00, 0x00)

			Expect(inst.IsInvalid()).To(BeTrue())
		})
	})

	Describe("Invalid opcodes", func() {
		It("should produce an invalid instruction with a #UD payload", func() {
			inst := decodeAt(0, 0, 0x0F, 0x0B)

			Expect(inst.Op).To(Equal(insts.OpInvalid))
			Expect(inst.Exception).NotTo(BeNil())
			Expect(inst.Exception.Vector).To(Equal(insts.VectorInvalidOpcode))
			Expect(inst.Length()).To(Equal(1))
			Expect(inst.Discriminator().String()).To(Equal("0F"))
		})

		It("should reject undefined group encodings", func() {
			inst := decodeAt(0, 0, 0xFE, 0xD0)

			Expect(inst.IsInvalid()).To(BeTrue())
			Expect(inst.Length()).To(Equal(2))
		})
	})

	Describe("Addressing", func() {
		It("should compute physical addresses from segment and offset", func() {
			inst := decodeAt(0x1000, 0x0010, 0x90)

			Expect(inst.Physical).To(Equal(uint32(0x10010)))
			Expect(inst.Next()).To(Equal(memory.SegmentedAddress{Segment: 0x1000, Offset: 0x11}))
		})

		It("should decode from a byte slice", func() {
			inst := insts.DecodeBytes(memory.SegmentedAddress{Offset: 0x100}, []byte{0xB8, 0x01, 0x00})

			Expect(inst.Op).To(Equal(insts.OpMOV))
			Expect(inst.Imm16.Value).To(Equal(uint16(1)))
			Expect(inst.Imm16.PhysicalAddress).To(Equal(uint32(0x101)))
		})
	})

	Describe("Disassembly", func() {
		It("should render Intel syntax", func() {
			inst := decodeAt(0, 0, 0xB8, 0xFF, 0xFF)

			Expect(inst.String()).To(ContainSubstring("mov ax"))
		})

		It("should list a code buffer", func() {
			listing := insts.Disassemble(memory.SegmentedAddress{Offset: 0x100},
				[]byte{0xB8, 0xFF, 0xFF, 0xEB, 0xFE})

			Expect(listing).To(ContainSubstring("0000:0100: b8 ff ff"))
			Expect(listing).To(ContainSubstring("0000:0103: eb fe"))
			Expect(listing).To(ContainSubstring("jmp"))
		})
	})
})
