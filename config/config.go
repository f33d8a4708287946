// Package config holds the machine configuration: memory layout, load
// address, execution limits, block cache and cycle model.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/sarchlab/x86cfg/jit"
	"github.com/sarchlab/x86cfg/memory"
	"github.com/sarchlab/x86cfg/timing/latency"
)

// JITConfig configures the block cache.
type JITConfig struct {
	Enabled      bool `json:"enabled" jsonschema:"title=Enabled,description=Execute hot straight-line runs as cached blocks"`
	Sets         int  `json:"sets" jsonschema:"title=Sets,description=Number of sets in the block tag directory,minimum=1"`
	Ways         int  `json:"ways" jsonschema:"title=Ways,description=Associativity of the block tag directory,minimum=1"`
	MinBlockSize int  `json:"min_block_size" jsonschema:"title=Minimum Block Size,description=Shortest chain worth caching,minimum=1"`
	MaxBlockSize int  `json:"max_block_size" jsonschema:"title=Maximum Block Size,description=Longest chain in one block,minimum=1"`
	HotThreshold int  `json:"hot_threshold" jsonschema:"title=Hot Threshold,description=Selections of a node before a block is built from it,minimum=1"`
}

// Block returns the block cache parameters.
func (j JITConfig) Block() jit.Config {
	return jit.Config{
		Sets:         j.Sets,
		Ways:         j.Ways,
		MinBlockSize: j.MinBlockSize,
		MaxBlockSize: j.MaxBlockSize,
		HotThreshold: j.HotThreshold,
	}
}

// Config is the machine configuration.
type Config struct {
	MemorySize      int    `json:"memory_size" jsonschema:"title=Memory Size,description=Physical memory size in bytes"`
	A20Enabled      bool   `json:"a20_enabled" jsonschema:"title=A20,description=Reach the high memory area instead of wrapping at 1 MiB"`
	LoadSegment     uint16 `json:"load_segment" jsonschema:"title=Load Segment,description=Segment the program image is loaded into"`
	EntryOffset     uint16 `json:"entry_offset,omitempty" jsonschema:"title=Entry Offset,description=Overrides the loader's entry offset when non-zero"`
	MaxInstructions uint64 `json:"max_instructions" jsonschema:"title=Max Instructions,description=Stop after this many instructions; 0 means no limit"`
	LogLevel        string `json:"log_level" jsonschema:"title=Log Level,enum=debug,enum=info,enum=warn,enum=error"`

	JIT    JITConfig             `json:"jit" jsonschema:"title=Block Cache"`
	Timing latency.TimingConfig `json:"timing" jsonschema:"title=Timing,description=Cycle cost per instruction class"`
}

// Default returns the default configuration.
func Default() *Config {
	block := jit.DefaultConfig()
	return &Config{
		MemorySize:  memory.DefaultSize,
		LoadSegment: 0x1000,
		LogLevel:    "info",
		JIT: JITConfig{
			Sets:         block.Sets,
			Ways:         block.Ways,
			MinBlockSize: block.MinBlockSize,
			MaxBlockSize: block.MaxBlockSize,
			HotThreshold: block.HotThreshold,
		},
		Timing: *latency.DefaultTimingConfig(),
	}
}

// Load reads a configuration from a JSON file. Missing fields keep their
// default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// Save writes the configuration to a JSON file.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for values the machine cannot run
// with.
func (c *Config) Validate() error {
	if c.MemorySize < 0x100000 {
		return fmt.Errorf("memory_size must be at least 1 MiB")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error")
	}
	if c.JIT.Sets <= 0 {
		return fmt.Errorf("jit.sets must be > 0")
	}
	if c.JIT.Ways <= 0 {
		return fmt.Errorf("jit.ways must be > 0")
	}
	if c.JIT.MinBlockSize <= 0 {
		return fmt.Errorf("jit.min_block_size must be > 0")
	}
	if c.JIT.MinBlockSize > c.JIT.MaxBlockSize {
		return fmt.Errorf("jit.min_block_size must be <= jit.max_block_size")
	}
	if c.JIT.HotThreshold <= 0 {
		return fmt.Errorf("jit.hot_threshold must be > 0")
	}
	if err := c.Timing.Validate(); err != nil {
		return fmt.Errorf("timing: %w", err)
	}
	return nil
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// Schema returns the JSON schema of the configuration file.
func Schema() ([]byte, error) {
	reflector := new(jsonschema.Reflector)
	data, err := json.MarshalIndent(reflector.Reflect(&Config{}), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}
