package loader_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/x86cfg/loader"
	"github.com/sarchlab/x86cfg/memory"
)

var _ = Describe("Loader", func() {
	var tempDir string

	// MOV AX, 4C00; INT 21
	code := []byte{0xB8, 0x00, 0x4C, 0xCD, 0x21}

	write := func(name string, data []byte) string {
		path := filepath.Join(tempDir, name)
		Expect(os.WriteFile(path, data, 0644)).To(Succeed())
		return path
	}

	BeforeEach(func() {
		tempDir = GinkgoT().TempDir()
	})

	Context("with a .COM program", func() {
		It("should start at offset 0100 with the stack at the segment top", func() {
			prog, err := loader.Load(write("HELLO.COM", code), 0x1000)

			Expect(err).NotTo(HaveOccurred())
			Expect(prog.COM).To(BeTrue())
			Expect(prog.Segment).To(Equal(uint16(0x1000)))
			Expect(prog.EntryOffset).To(Equal(uint16(0x0100)))
			Expect(prog.StackOffset).To(Equal(uint16(0xFFFE)))
		})

		It("should install the image behind a PSP stub", func() {
			prog, err := loader.Load(write("hello.com", code), 0x1000)
			Expect(err).NotTo(HaveOccurred())
			mem := memory.New(memory.DefaultSize)

			Expect(prog.Install(mem)).To(Succeed())

			Expect(mem.ReadBytes(0x10000, 2)).To(Equal([]byte{0xCD, 0x20}))
			Expect(mem.ReadBytes(0x10100, len(code))).To(Equal(code))
		})

		It("should reject images that overlap the stack", func() {
			_, err := loader.NewCOM(make([]byte, loader.MaxCOMSize+1), 0x1000)
			Expect(err).To(MatchError(loader.ErrImageTooLarge))
		})
	})

	Context("with a flat image", func() {
		It("should start at offset 0", func() {
			prog, err := loader.Load(write("boot.bin", code), 0x2000)
			Expect(err).NotTo(HaveOccurred())
			mem := memory.New(memory.DefaultSize)

			Expect(prog.Install(mem)).To(Succeed())

			Expect(prog.COM).To(BeFalse())
			Expect(prog.EntryOffset).To(Equal(uint16(0)))
			Expect(mem.ReadBytes(0x20000, len(code))).To(Equal(code))
		})

		It("should not fit beyond the end of memory", func() {
			prog, err := loader.NewFlat(make([]byte, 0x20), 0xFFFF)
			Expect(err).NotTo(HaveOccurred())

			Expect(prog.Install(memory.New(0x100000))).To(MatchError(loader.ErrImageTooLarge))
		})
	})

	It("should reject empty files", func() {
		_, err := loader.Load(write("empty.com", nil), 0x1000)
		Expect(err).To(MatchError(loader.ErrEmptyImage))
	})

	It("should wrap read errors", func() {
		_, err := loader.Load(filepath.Join(tempDir, "missing.com"), 0x1000)
		Expect(err).To(MatchError(os.ErrNotExist))
		Expect(err.Error()).To(ContainSubstring("failed to read program image"))
	})
})
