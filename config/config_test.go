package config_test

import (
	"encoding/json"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/x86cfg/config"
	"github.com/sarchlab/x86cfg/memory"
)

var _ = Describe("Config", func() {
	It("should produce a valid default", func() {
		c := config.Default()

		Expect(c.Validate()).To(Succeed())
		Expect(c.MemorySize).To(Equal(memory.DefaultSize))
		Expect(c.LoadSegment).To(Equal(uint16(0x1000)))
		Expect(c.JIT.Enabled).To(BeFalse())
		Expect(c.JIT.Block().HotThreshold).To(Equal(16))
		Expect(c.Timing.ALULatency).To(Equal(uint64(3)))
	})

	It("should overlay a file on the defaults", func() {
		path := filepath.Join(GinkgoT().TempDir(), "machine.json")
		Expect(os.WriteFile(path, []byte(`{
			"max_instructions": 1000,
			"jit": {"enabled": true, "hot_threshold": 4},
			"timing": {"branch_latency": 4}
		}`), 0644)).To(Succeed())

		c, err := config.Load(path)

		Expect(err).NotTo(HaveOccurred())
		Expect(c.MaxInstructions).To(Equal(uint64(1000)))
		Expect(c.JIT.Enabled).To(BeTrue())
		Expect(c.JIT.HotThreshold).To(Equal(4))
		Expect(c.JIT.Sets).To(Equal(64))
		Expect(c.Timing.BranchLatency).To(Equal(uint64(4)))
		Expect(c.Timing.ALULatency).To(Equal(uint64(3)))
		Expect(c.LoadSegment).To(Equal(uint16(0x1000)))
	})

	It("should round-trip through Save and Load", func() {
		path := filepath.Join(GinkgoT().TempDir(), "machine.json")
		c := config.Default()
		c.A20Enabled = true
		c.LogLevel = "debug"

		Expect(c.Save(path)).To(Succeed())
		loaded, err := config.Load(path)

		Expect(err).NotTo(HaveOccurred())
		Expect(loaded).To(Equal(c))
	})

	It("should report missing and malformed files", func() {
		_, err := config.Load(filepath.Join(GinkgoT().TempDir(), "missing.json"))
		Expect(err).To(HaveOccurred())

		path := filepath.Join(GinkgoT().TempDir(), "bad.json")
		Expect(os.WriteFile(path, []byte("{"), 0644)).To(Succeed())
		_, err = config.Load(path)
		Expect(err).To(MatchError(ContainSubstring("failed to parse config")))
	})

	DescribeTable("Validate",
		func(mutate func(*config.Config), message string) {
			c := config.Default()
			mutate(c)
			Expect(c.Validate()).To(MatchError(ContainSubstring(message)))
		},
		Entry("small memory", func(c *config.Config) { c.MemorySize = 1024 }, "memory_size"),
		Entry("bad log level", func(c *config.Config) { c.LogLevel = "loud" }, "log_level"),
		Entry("no sets", func(c *config.Config) { c.JIT.Sets = 0 }, "jit.sets"),
		Entry("inverted block sizes", func(c *config.Config) { c.JIT.MinBlockSize = 64 }, "jit.min_block_size"),
		Entry("zero threshold", func(c *config.Config) { c.JIT.HotThreshold = 0 }, "jit.hot_threshold"),
		Entry("timing", func(c *config.Config) { c.Timing.ALULatency = 0 }, "alu_latency"),
	)

	It("should clone independently", func() {
		c := config.Default()
		clone := c.Clone()
		clone.JIT.Enabled = true
		clone.Timing.ALULatency = 99

		Expect(c.JIT.Enabled).To(BeFalse())
		Expect(c.Timing.ALULatency).To(Equal(uint64(3)))
	})

	It("should describe the file format as a JSON schema", func() {
		data, err := config.Schema()
		Expect(err).NotTo(HaveOccurred())

		var schema map[string]any
		Expect(json.Unmarshal(data, &schema)).To(Succeed())
		Expect(string(data)).To(ContainSubstring("max_instructions"))
		Expect(string(data)).To(ContainSubstring("hot_threshold"))
	})
})
