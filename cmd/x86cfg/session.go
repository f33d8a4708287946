package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/sarchlab/x86cfg/cfg"
	"github.com/sarchlab/x86cfg/config"
	"github.com/sarchlab/x86cfg/emu"
	"github.com/sarchlab/x86cfg/loader"
	"github.com/sarchlab/x86cfg/logging"
	"github.com/sarchlab/x86cfg/memory"
	"github.com/sarchlab/x86cfg/timing/latency"
)

// session is a loaded program ready to run.
type session struct {
	config   *config.Config
	program  *loader.Program
	emulator *emu.Emulator
	logger   *log.Logger
	entry    memory.SegmentedAddress
}

// loadConfig reads --config over the defaults and applies flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	c := config.Default()

	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		var err error
		c, err = config.Load(path)
		if err != nil {
			return nil, err
		}
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		c.LogLevel = level
	} else if env := os.Getenv(logging.LevelEnv); env != "" && path == "" {
		c.LogLevel = env
	}

	if f := cmd.Flags().Lookup("max-instr"); f != nil && (f.Changed || c.MaxInstructions == 0) {
		c.MaxInstructions, _ = cmd.Flags().GetUint64("max-instr")
	}
	if f := cmd.Flags().Lookup("jit"); f != nil && f.Changed {
		c.JIT.Enabled, _ = cmd.Flags().GetBool("jit")
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

// newSession loads the program at path into a fresh machine.
func newSession(cmd *cobra.Command, path string) (*session, error) {
	c, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	prog, err := loader.Load(path, c.LoadSegment)
	if err != nil {
		return nil, err
	}

	mem := memory.New(c.MemorySize, memory.WithA20(c.A20Enabled))
	if err := prog.Install(mem); err != nil {
		return nil, err
	}

	logger := logging.New(cmd.ErrOrStderr(), c.LogLevel)

	opts := []emu.EmulatorOption{
		emu.WithMemory(mem),
		emu.WithLogger(logger),
		emu.WithMaxInstructions(c.MaxInstructions),
		emu.WithLatencyTable(latency.NewTableWithConfig(&c.Timing)),
		emu.WithStdin(cmd.InOrStdin()),
		emu.WithStdout(cmd.OutOrStdout()),
		emu.WithStderr(cmd.ErrOrStderr()),
	}
	if c.JIT.Enabled {
		opts = append(opts, emu.WithBlockCache(c.JIT.Block()))
	}

	entry := prog.EntryOffset
	if c.EntryOffset != 0 {
		entry = c.EntryOffset
	}

	e := emu.NewEmulator(opts...)
	e.Boot(prog.Segment, entry, prog.StackOffset)

	logger.Debug("loaded program", "path", path, "size", len(prog.Image),
		"entry", memory.SegmentedAddress{Segment: prog.Segment, Offset: entry})

	return &session{
		config:   c,
		program:  prog,
		emulator: e,
		logger:   logger,
		entry:    memory.SegmentedAddress{Segment: prog.Segment, Offset: entry},
	}, nil
}

// run executes the program until it halts, exits or fails.
func (s *session) run(cmd *cobra.Command) emu.StepResult {
	result := s.emulator.RunContext(cmd.Context())
	if result.Err != nil {
		s.logger.Error("execution stopped", "at", s.emulator.RegFile().CodeAddress(), "err", result.Err)
	}
	return result
}

// entryNode returns the graph node standing for the program entry point.
func (s *session) entryNode() cfg.Node {
	decoded := s.emulator.Feeder().Instructions()
	addr := s.entry.Physical()

	var root *cfg.InstructionNode
	if n := decoded.CurrentAt(addr); n != nil {
		root = n
	} else if previous := decoded.PreviousAt(addr); len(previous) > 0 {
		root = previous[0]
	}
	if root == nil {
		return nil
	}

	for _, pred := range root.Predecessors() {
		if d, ok := pred.(*cfg.DiscriminatedNode); ok && d.Address() == addr {
			return d
		}
	}
	return root
}
