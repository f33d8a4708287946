package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/x86cfg/config"
	"github.com/sarchlab/x86cfg/emu"
)

var (
	// prints "hi" and exits with code 7
	helloCOM = []byte{
		0xBA, 0x0C, 0x01, // MOV DX, 010C
		0xB4, 0x09, // MOV AH, 09
		0xCD, 0x21, // INT 21h
		0xB8, 0x07, 0x4C, // MOV AX, 4C07
		0xCD, 0x21, // INT 21h
		'h', 'i', '$',
	}

	// sum CX..1 into AX
	loopCOM = []byte{
		0xB9, 0x0A, 0x00, // MOV CX, 10
		0x31, 0xC0, // XOR AX, AX
		0x01, 0xC8, // ADD AX, CX
		0xE2, 0xFC, // LOOP -4
		0xF4, // HLT
	}

	spinCOM = []byte{0xEB, 0xFE} // JMP $
)

var _ = Describe("Commands", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		exitCode = 0
	})

	write := func(name string, data []byte) string {
		path := filepath.Join(dir, name)
		Expect(os.WriteFile(path, data, 0o644)).To(Succeed())
		return path
	}

	execute := func(args ...string) (stdout, stderr string, err error) {
		root := newRootCmd()
		var out, errOut bytes.Buffer
		root.SetArgs(args)
		root.SetOut(&out)
		root.SetErr(&errOut)
		root.SetIn(&bytes.Buffer{})

		err = root.ExecuteContext(context.Background())
		return out.String(), errOut.String(), err
	}

	Describe("run", func() {
		It("should run a program and keep its exit code", func() {
			stdout, _, err := execute("run", write("hello.com", helloCOM))

			Expect(err).NotTo(HaveOccurred())
			Expect(stdout).To(Equal("hi"))
			Expect(exitCode).To(Equal(7))
		})

		It("should print statistics when verbose", func() {
			_, stderr, err := execute("run", "-v", write("hello.com", helloCOM))

			Expect(err).NotTo(HaveOccurred())
			Expect(stderr).To(ContainSubstring("Exit code: 7"))
			Expect(stderr).To(ContainSubstring("Instructions executed: 5"))
			Expect(stderr).To(ContainSubstring("Node selection:"))
			Expect(stderr).To(ContainSubstring("Decode cache:"))
			Expect(stderr).NotTo(ContainSubstring("Block cache:"))
		})

		It("should report block cache statistics with --jit", func() {
			_, stderr, err := execute("run", "-v", "--jit", write("loop.com", loopCOM))

			Expect(err).NotTo(HaveOccurred())
			Expect(stderr).To(ContainSubstring("Halted at: 1000:010A"))
			Expect(stderr).To(ContainSubstring("Block cache:"))
			Expect(exitCode).To(BeZero())
		})

		It("should enable the block cache from a configuration file", func() {
			c := config.Default()
			c.JIT.Enabled = true
			configPath := filepath.Join(dir, "machine.json")
			Expect(c.Save(configPath)).To(Succeed())

			_, stderr, err := execute("run", "-v", "--config", configPath, write("loop.com", loopCOM))

			Expect(err).NotTo(HaveOccurred())
			Expect(stderr).To(ContainSubstring("Block cache:"))
		})

		It("should stop at the instruction limit", func() {
			_, _, err := execute("run", "--max-instr", "10", write("spin.com", spinCOM))

			Expect(errors.Is(err, emu.ErrMaxInstructions)).To(BeTrue())
			Expect(exitCode).To(BeZero())
		})

		It("should print the graph after running", func() {
			stdout, _, err := execute("run", "--graph", write("loop.com", loopCOM))

			Expect(err).NotTo(HaveOccurred())
			Expect(stdout).To(ContainSubstring("1000:0100 #"))
			Expect(stdout).To(ContainSubstring("1000:0109 #"))
			Expect(stdout).To(ContainSubstring("↺"))
		})

		It("should fail on a missing program", func() {
			_, _, err := execute("run", filepath.Join(dir, "missing.com"))

			Expect(err).To(HaveOccurred())
		})
	})

	Describe("graph", func() {
		It("should print the graph from the entry point", func() {
			stdout, _, err := execute("graph", write("loop.com", loopCOM))

			Expect(err).NotTo(HaveOccurred())
			Expect(stdout).To(HavePrefix("1000:0100 #"))
			Expect(stdout).To(ContainSubstring("1000:0107 #"))
		})

		It("should stop a runaway program at its default limit", func() {
			stdout, _, err := execute("graph", write("spin.com", spinCOM))

			Expect(errors.Is(err, emu.ErrMaxInstructions)).To(BeTrue())
			Expect(stdout).To(ContainSubstring("1000:0100 #"))
		})
	})

	Describe("disasm", func() {
		It("should list the image from the entry offset", func() {
			stdout, _, err := execute("disasm", write("hello.com", helloCOM))

			Expect(err).NotTo(HaveOccurred())
			Expect(stdout).To(HavePrefix("1000:0100: ba 0c 01"))
			Expect(stdout).To(ContainSubstring("1000:0105: cd 21"))
			Expect(stdout).To(ContainSubstring("1000:010A: b8 07 4c"))
		})
	})

	Describe("schema", func() {
		It("should print the configuration schema", func() {
			stdout, _, err := execute("schema")

			Expect(err).NotTo(HaveOccurred())
			Expect(stdout).To(ContainSubstring("memory_size"))
			Expect(stdout).To(ContainSubstring("hot_threshold"))
		})
	})
})
