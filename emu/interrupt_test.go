package emu_test

import (
	"bytes"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/x86cfg/emu"
	"github.com/sarchlab/x86cfg/insts"
	"github.com/sarchlab/x86cfg/memory"
)

var _ = Describe("DOS Handler", func() {
	var (
		regFile *emu.RegFile
		mem     *memory.Memory
		stdout  *bytes.Buffer
		stderr  *bytes.Buffer
		handler *emu.DOSHandler
	)

	BeforeEach(func() {
		regFile = &emu.RegFile{}
		mem = memory.New(memory.DefaultSize)
		stdout = new(bytes.Buffer)
		stderr = new(bytes.Buffer)
		handler = emu.NewDOSHandler(regFile, mem, stdout, stderr)
		regFile.SetSegment(insts.SegDS, 0x1000)
	})

	It("should not handle unknown vectors", func() {
		Expect(handler.Handle(0x10).Handled).To(BeFalse())
	})

	It("should not handle unknown DOS functions", func() {
		regFile.Write8(4, 0x7F)
		Expect(handler.Handle(emu.VectorDOS).Handled).To(BeFalse())
	})

	It("should exit on INT 20h", func() {
		result := handler.Handle(emu.VectorDOSTerminate)
		Expect(result.Handled).To(BeTrue())
		Expect(result.Exited).To(BeTrue())
		Expect(result.ExitCode).To(Equal(int64(0)))
	})

	It("should exit with the code in AL", func() {
		regFile.Write16(emu.AX, 0x4C2A)

		result := handler.Handle(emu.VectorDOS)

		Expect(result.Exited).To(BeTrue())
		Expect(result.ExitCode).To(Equal(int64(42)))
	})

	It("should write the character in DL", func() {
		regFile.Write8(4, emu.DOSWriteChar)
		regFile.Write8(emu.DX, 'x')

		handler.Handle(emu.VectorDOS)

		Expect(stdout.String()).To(Equal("x"))
	})

	It("should write a dollar-terminated string", func() {
		mem.LoadBytes(0x10020, []byte("hello$world"))
		regFile.Write8(4, emu.DOSWriteString)
		regFile.Write16(emu.DX, 0x0020)

		handler.Handle(emu.VectorDOS)

		Expect(stdout.String()).To(Equal("hello"))
		Expect(regFile.Read8(0)).To(Equal(uint8('$')))
	})

	It("should write to stderr through handle 2", func() {
		mem.LoadBytes(0x10000, []byte("oops"))
		regFile.Write8(4, emu.DOSWriteHandle)
		regFile.Write16(emu.BX, 2)
		regFile.Write16(emu.CX, 4)
		regFile.Write16(emu.DX, 0)
		regFile.Flags.CF = true

		handler.Handle(emu.VectorDOS)

		Expect(stderr.String()).To(Equal("oops"))
		Expect(regFile.Read16(emu.AX)).To(Equal(uint16(4)))
		Expect(regFile.Flags.CF).To(BeFalse())
	})

	It("should fail writes to unknown handles", func() {
		regFile.Write8(4, emu.DOSWriteHandle)
		regFile.Write16(emu.BX, 9)

		result := handler.Handle(emu.VectorDOS)

		Expect(result.Handled).To(BeTrue())
		Expect(regFile.Flags.CF).To(BeTrue())
		Expect(regFile.Read16(emu.AX)).To(Equal(uint16(6)))
	})

	It("should read and echo a character", func() {
		handler.SetStdin(strings.NewReader("k"))
		regFile.Write8(4, emu.DOSReadCharEcho)

		handler.Handle(emu.VectorDOS)

		Expect(regFile.Read8(0)).To(Equal(uint8('k')))
		Expect(stdout.String()).To(Equal("k"))
	})

	It("should report DOS 5.0", func() {
		regFile.Write8(4, emu.DOSVersion)

		handler.Handle(emu.VectorDOS)

		Expect(regFile.Read16(emu.AX)).To(Equal(uint16(0x0005)))
	})
})
