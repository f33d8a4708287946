package emu_test

import (
	"bytes"
	"context"
	"errors"
	"io"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/x86cfg/cfg"
	"github.com/sarchlab/x86cfg/emu"
	"github.com/sarchlab/x86cfg/insts"
	"github.com/sarchlab/x86cfg/jit"
	"github.com/sarchlab/x86cfg/memory"
)

const (
	codeSegment    = 0x1000
	handlerSegment = 0x2000
)

var smallBlocks = jit.Config{
	Sets:         8,
	Ways:         2,
	MinBlockSize: 2,
	MaxBlockSize: 8,
	HotThreshold: 2,
}

func load(code []byte, opts ...emu.EmulatorOption) *emu.Emulator {
	mem := memory.New(memory.DefaultSize)
	mem.LoadBytes(memory.ToPhysical(codeSegment, 0x100), code)

	all := append([]emu.EmulatorOption{
		emu.WithMemory(mem),
		emu.WithStdout(io.Discard),
		emu.WithStderr(io.Discard),
	}, opts...)

	e := emu.NewEmulator(all...)
	e.Boot(codeSegment, 0x100, 0xFFFE)
	return e
}

// installVector points an IVT entry at handlerSegment:0000 and places code
// there.
func installVector(e *emu.Emulator, vector uint8, code []byte) {
	e.Memory().Write16(uint32(vector)*4, 0x0000)
	e.Memory().Write16(uint32(vector)*4+2, handlerSegment)
	e.Memory().LoadBytes(memory.ToPhysical(handlerSegment, 0), code)
}

func stackTop(e *emu.Emulator) uint16 {
	regs := e.RegFile()
	return e.Memory().Read16(memory.ToPhysical(regs.Segment(insts.SegSS), regs.Read16(emu.SP)))
}

var (
	// sum CX..1 into AX
	loopSum = []byte{
		0xB9, 0x0A, 0x00, // MOV CX, 10
		0x31, 0xC0, // XOR AX, AX
		0x01, 0xC8, // ADD AX, CX
		0xE2, 0xFC, // LOOP -4
		0xF4, // HLT
	}

	// adds 1..20 into BX by incrementing the immediate of MOV AX
	selfModifyingValue = []byte{
		0xB9, 0x14, 0x00, // MOV CX, 20
		0x31, 0xDB, // XOR BX, BX
		0xB8, 0x01, 0x00, // 0105: MOV AX, 1
		0x01, 0xC3, // ADD BX, AX
		0xFE, 0x06, 0x06, 0x01, // INC BYTE [0106]
		0xE2, 0xF5, // LOOP 0105
		0xF4, // HLT
	}

	// alternates INC AX and INC BX by flipping the opcode
	selfModifyingOpcode = []byte{
		0xB9, 0x04, 0x00, // MOV CX, 4
		0x31, 0xC0, // XOR AX, AX
		0x31, 0xDB, // XOR BX, BX
		0x40,                         // 0107: INC AX
		0x80, 0x36, 0x07, 0x01, 0x03, // XOR BYTE [0107], 3
		0xE2, 0xF8, // LOOP 0107
		0xF4, // HLT
	}
)

var _ = Describe("Emulator", func() {
	It("should register the linker, decode cache and context", func() {
		Expect(load(nil).Registry().Len()).To(Equal(3))
		Expect(load(nil, emu.WithBlockCache(smallBlocks)).Registry().Len()).To(Equal(4))
	})

	It("should run straight-line code until HLT", func() {
		e := load([]byte{
			0xB8, 0x05, 0x00, // MOV AX, 5
			0x05, 0x03, 0x00, // ADD AX, 3
			0xF4, // HLT
		})

		result := e.Run()

		Expect(result.Err).NotTo(HaveOccurred())
		Expect(result.Halted).To(BeTrue())
		Expect(e.RegFile().Read16(emu.AX)).To(Equal(uint16(8)))
		Expect(e.InstructionCount()).To(Equal(uint64(3)))
		Expect(e.Cycles()).To(BeNumerically(">", 0))
	})

	It("should run a counted loop", func() {
		e := load(loopSum)

		result := e.Run()

		Expect(result.Halted).To(BeTrue())
		Expect(e.RegFile().Read16(emu.AX)).To(Equal(uint16(55)))
		Expect(e.RegFile().Read16(emu.CX)).To(Equal(uint16(0)))
		Expect(e.InstructionCount()).To(Equal(uint64(23)))
		Expect(e.Feeder().Stats().GraphHits).To(BeNumerically(">", 0))
	})

	It("should take a conditional branch", func() {
		e := load([]byte{
			0xB8, 0x03, 0x00, // MOV AX, 3
			0x3D, 0x05, 0x00, // CMP AX, 5
			0x7C, 0x03, // JL +3
			0xB3, 0x01, // MOV BL, 1
			0xF4,       // HLT
			0xB3, 0x02, // MOV BL, 2
			0xF4, // HLT
		})

		Expect(e.Run().Halted).To(BeTrue())
		Expect(e.RegFile().Read8(emu.BX)).To(Equal(uint8(2)))
	})

	It("should call and return through the stack", func() {
		e := load([]byte{
			0xB8, 0x34, 0x12, // MOV AX, 1234
			0xE8, 0x04, 0x00, // CALL 010A
			0x89, 0xC3, // MOV BX, AX
			0xF4, // HLT
			0x90, // NOP
			0x50, // 010A: PUSH AX
			0x40, // INC AX
			0x59, // POP CX
			0xC3, // RET
		})

		Expect(e.Run().Halted).To(BeTrue())
		Expect(e.RegFile().Read16(emu.AX)).To(Equal(uint16(0x1235)))
		Expect(e.RegFile().Read16(emu.BX)).To(Equal(uint16(0x1235)))
		Expect(e.RegFile().Read16(emu.CX)).To(Equal(uint16(0x1234)))
		Expect(e.RegFile().Read16(emu.SP)).To(Equal(uint16(0xFFFE)))
	})

	It("should make far calls", func() {
		e := load([]byte{
			0x9A, 0x00, 0x00, 0x00, 0x20, // CALL FAR 2000:0000
			0xF4, // HLT
		})
		e.Memory().LoadBytes(memory.ToPhysical(handlerSegment, 0), []byte{
			0xB8, 0x09, 0x00, // MOV AX, 9
			0xCB, // RETF
		})

		Expect(e.Run().Halted).To(BeTrue())
		Expect(e.RegFile().Read16(emu.AX)).To(Equal(uint16(9)))
		Expect(e.RegFile().Segment(insts.SegCS)).To(Equal(uint16(codeSegment)))
		Expect(e.RegFile().IP).To(Equal(uint16(0x106)))
	})

	It("should divide into AL and AH", func() {
		e := load([]byte{
			0xB8, 0x64, 0x00, // MOV AX, 100
			0xB3, 0x07, // MOV BL, 7
			0xF6, 0xF3, // DIV BL
			0xF4, // HLT
		})

		Expect(e.Run().Halted).To(BeTrue())
		Expect(e.RegFile().Read16(emu.AX)).To(Equal(uint16(0x020E)))
	})

	It("should multiply into DX:AX", func() {
		e := load([]byte{
			0xB8, 0x00, 0x10, // MOV AX, 1000
			0xB9, 0x10, 0x00, // MOV CX, 10
			0xF7, 0xE1, // MUL CX
			0xF4, // HLT
		})

		Expect(e.Run().Halted).To(BeTrue())
		Expect(e.RegFile().Read16(emu.DX)).To(Equal(uint16(1)))
		Expect(e.RegFile().Read16(emu.AX)).To(Equal(uint16(0)))
		Expect(e.RegFile().Flags.CF).To(BeTrue())
	})

	It("should run REP STOSB in one step", func() {
		e := load([]byte{
			0xBF, 0x00, 0x02, // MOV DI, 0200
			0xB9, 0x05, 0x00, // MOV CX, 5
			0xB0, 0xAA, // MOV AL, AA
			0xFC,       // CLD
			0xF3, 0xAA, // REP STOSB
			0xF4, // HLT
		})

		Expect(e.Run().Halted).To(BeTrue())
		Expect(e.InstructionCount()).To(Equal(uint64(6)))
		Expect(e.Memory().ReadBytes(memory.ToPhysical(codeSegment, 0x200), 6)).
			To(Equal([]byte{0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0x00}))
		Expect(e.RegFile().Read16(emu.CX)).To(Equal(uint16(0)))
		Expect(e.RegFile().Read16(emu.DI)).To(Equal(uint16(0x205)))
	})

	It("should print through DOS and exit with a code", func() {
		stdout := new(bytes.Buffer)
		e := load([]byte{
			0xB4, 0x09, // MOV AH, 09
			0xBA, 0x0C, 0x01, // MOV DX, 010C
			0xCD, 0x21, // INT 21
			0xB8, 0x03, 0x4C, // MOV AX, 4C03
			0xCD, 0x21, // INT 21
			'h', 'i', '$',
		}, emu.WithStdout(stdout))

		result := e.Run()

		Expect(result.Err).NotTo(HaveOccurred())
		Expect(result.Exited).To(BeTrue())
		Expect(result.ExitCode).To(Equal(int64(3)))
		Expect(stdout.String()).To(Equal("hi"))
	})

	It("should stop at the instruction limit", func() {
		e := load([]byte{0xEB, 0xFE}, emu.WithMaxInstructions(5))

		result := e.Run()

		Expect(errors.Is(result.Err, emu.ErrMaxInstructions)).To(BeTrue())
		Expect(e.InstructionCount()).To(Equal(uint64(5)))
	})

	It("should stop when the context is cancelled", func() {
		e := load([]byte{0xEB, 0xFE})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		result := e.RunContext(ctx)

		Expect(errors.Is(result.Err, context.Canceled)).To(BeTrue())
		Expect(e.InstructionCount()).To(Equal(uint64(0)))
	})

	Describe("Exceptions and interrupts", func() {
		It("should raise #UD through the IVT at the faulting instruction", func() {
			e := load([]byte{0xFF, 0xFF})
			installVector(e, insts.VectorInvalidOpcode, []byte{
				0xBB, 0x77, 0x00, // MOV BX, 77
				0xF4, // HLT
			})

			result := e.Run()

			Expect(result.Err).NotTo(HaveOccurred())
			Expect(result.Halted).To(BeTrue())
			Expect(e.RegFile().Read16(emu.BX)).To(Equal(uint16(0x77)))
			Expect(e.RegFile().Segment(insts.SegCS)).To(Equal(uint16(handlerSegment)))
			Expect(e.RegFile().Read16(emu.SP)).To(Equal(uint16(0xFFF8)))
			Expect(stackTop(e)).To(Equal(uint16(0x100)))
		})

		It("should fail on #UD without a handler", func() {
			e := load([]byte{0xFF, 0xFF})

			result := e.Run()

			Expect(errors.Is(result.Err, emu.ErrUnhandledException)).To(BeTrue())
		})

		It("should raise #DE on division by zero", func() {
			e := load([]byte{
				0xB3, 0x00, // MOV BL, 0
				0xF6, 0xF3, // DIV BL
			})
			installVector(e, insts.VectorDivideError, []byte{0xF4})

			Expect(e.Run().Halted).To(BeTrue())
			Expect(e.RegFile().Segment(insts.SegCS)).To(Equal(uint16(handlerSegment)))
			Expect(stackTop(e)).To(Equal(uint16(0x102)))
		})

		It("should fail on an interrupt nobody services", func() {
			e := load([]byte{0xCD, 0x80})

			result := e.Run()

			Expect(errors.Is(result.Err, emu.ErrUnhandledInterrupt)).To(BeTrue())
		})
	})

	Describe("Self-modifying code", func() {
		for _, enabled := range []bool{false, true} {
			jitEnabled := enabled
			label := "without block cache"
			var opts []emu.EmulatorOption
			if jitEnabled {
				label = "with block cache"
				opts = append(opts, emu.WithBlockCache(smallBlocks))
			}

			Context(label, func() {
				It("should read overwritten immediates from memory", func() {
					e := load(selfModifyingValue, opts...)

					Expect(e.Run().Halted).To(BeTrue())
					Expect(e.RegFile().Read16(emu.BX)).To(Equal(uint16(210)))
					Expect(e.InstructionCount()).To(Equal(uint64(83)))

					stats := e.Feeder().Instructions().Stats()
					Expect(stats.Decodes).To(Equal(uint64(7)))
					Expect(stats.Evictions).To(Equal(uint64(20)))

					// The last INC evicted the MOV, which stays in the previous store.
					movs := e.Feeder().Instructions().PreviousAt(memory.ToPhysical(codeSegment, 0x105))
					Expect(movs).To(HaveLen(1))
					Expect(movs[0].IsLive()).To(BeFalse())
					Expect(movs[0].Inst.Imm16.UseValue).To(BeFalse())

					if jitEnabled {
						Expect(e.Blocks().Stats().Hits).To(BeNumerically(">", 0))
						Expect(e.BlockRuns()).To(BeNumerically(">", 0))
					}
				})

				It("should discriminate between rewritten opcodes", func() {
					e := load(selfModifyingOpcode, opts...)

					Expect(e.Run().Halted).To(BeTrue())
					Expect(e.RegFile().Read16(emu.AX)).To(Equal(uint16(2)))
					Expect(e.RegFile().Read16(emu.BX)).To(Equal(uint16(2)))
					Expect(e.Feeder().Stats().DiscriminatedNodes).To(Equal(uint64(1)))
				})
			})
		}
	})

	Describe("Patch", func() {
		var (
			e   *emu.Emulator
			old *cfg.InstructionNode
		)

		BeforeEach(func() {
			e = load([]byte{
				0xB8, 0x05, 0x00, // MOV AX, 5
				0xF4, // HLT
			})
			Expect(e.Run().Halted).To(BeTrue())
			old = e.Feeder().Instructions().CurrentAt(memory.ToPhysical(codeSegment, 0x100))
			Expect(old).NotTo(BeNil())
		})

		It("should make the replacement current everywhere", func() {
			inst := insts.DecodeBytes(memory.SegmentedAddress{Segment: codeSegment, Offset: 0x100},
				[]byte{0xB8, 0x05, 0x00})

			replacement, err := e.Patch(old, inst)

			Expect(err).NotTo(HaveOccurred())
			Expect(e.Feeder().Instructions().CurrentAt(old.Address())).To(BeIdenticalTo(replacement))
			Expect(replacement.IsLive()).To(BeTrue())
			Expect(old.IsLive()).To(BeFalse())
			Expect(replacement.Successors()).To(Equal(old.Successors()))

			e.Jump(codeSegment, 0x100)
			Expect(e.Run().Halted).To(BeTrue())
			Expect(e.RegFile().Read16(emu.AX)).To(Equal(uint16(5)))
			Expect(e.Feeder().Instructions().CurrentAt(old.Address())).To(BeIdenticalTo(replacement))
		})

		It("should refuse a replacement at another address", func() {
			inst := insts.DecodeBytes(memory.SegmentedAddress{Segment: codeSegment, Offset: 0x200},
				[]byte{0xB8, 0x05, 0x00})

			_, err := e.Patch(old, inst)

			Expect(errors.Is(err, cfg.ErrAddressMismatch)).To(BeTrue())
		})
	})
})
