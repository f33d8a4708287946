// Package emu provides functional x86 real-mode emulation.
package emu

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"

	"github.com/sarchlab/x86cfg/cfg"
	"github.com/sarchlab/x86cfg/feeder"
	"github.com/sarchlab/x86cfg/insts"
	"github.com/sarchlab/x86cfg/jit"
	"github.com/sarchlab/x86cfg/memory"
	"github.com/sarchlab/x86cfg/timing/latency"
)

// StepResult represents the result of a single step.
type StepResult struct {
	// Halted is true after HLT.
	Halted bool

	// Exited is true if the program terminated through an interrupt
	// handler.
	Exited bool

	// ExitCode is the exit status if Exited is true.
	ExitCode int64

	// Err is set if an error occurred during execution.
	Err error
}

// Emulator runs a real-mode program through the control flow graph: each
// step asks the node feeder for the node at CS:IP and dispatches it.
type Emulator struct {
	regFile  *RegFile
	memory   *memory.Memory
	registry *cfg.ReplacerRegistry
	feeder   *feeder.NodeFeeder
	executor *Executor
	ctx      cfg.ExecutionContext

	interrupts InterruptHandler
	blocks     *jit.BlockCache
	blockCfg   *jit.Config
	latency    *latency.Table
	logger     *log.Logger

	// I/O
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	// Execution state
	instructionCount uint64
	maxInstructions  uint64 // 0 means no limit
	cycles           uint64
	blockRuns        uint64
}

// EmulatorOption is a functional option for configuring the Emulator.
type EmulatorOption func(*Emulator)

// WithMemory runs the emulator on mem instead of a fresh memory.
func WithMemory(mem *memory.Memory) EmulatorOption {
	return func(e *Emulator) {
		e.memory = mem
	}
}

// WithLogger sets the logger shared by the emulator components.
func WithLogger(logger *log.Logger) EmulatorOption {
	return func(e *Emulator) {
		e.logger = logger
	}
}

// WithMaxInstructions sets the maximum number of instructions to execute.
// A value of 0 means no limit.
func WithMaxInstructions(max uint64) EmulatorOption {
	return func(e *Emulator) {
		e.maxInstructions = max
	}
}

// WithInterruptHandler sets a custom software interrupt handler.
func WithInterruptHandler(handler InterruptHandler) EmulatorOption {
	return func(e *Emulator) {
		e.interrupts = handler
	}
}

// WithBlockCache enables the block cache.
func WithBlockCache(config jit.Config) EmulatorOption {
	return func(e *Emulator) {
		e.blockCfg = &config
	}
}

// WithLatencyTable sets the table used to accumulate cycles.
func WithLatencyTable(table *latency.Table) EmulatorOption {
	return func(e *Emulator) {
		e.latency = table
	}
}

// WithStdin sets the reader behind DOS character input.
func WithStdin(r io.Reader) EmulatorOption {
	return func(e *Emulator) {
		e.stdin = r
	}
}

// WithStdout sets a custom stdout writer.
func WithStdout(w io.Writer) EmulatorOption {
	return func(e *Emulator) {
		e.stdout = w
	}
}

// WithStderr sets a custom stderr writer.
func WithStderr(w io.Writer) EmulatorOption {
	return func(e *Emulator) {
		e.stderr = w
	}
}

// NewEmulator creates a new x86 real-mode emulator.
func NewEmulator(opts ...EmulatorOption) *Emulator {
	e := &Emulator{
		regFile:  &RegFile{},
		registry: cfg.NewReplacerRegistry(),
		stdout:   os.Stdout,
		stderr:   os.Stderr,
	}

	// Apply options first (may set memory and I/O)
	for _, opt := range opts {
		opt(e)
	}

	if e.memory == nil {
		e.memory = memory.New(memory.DefaultSize)
	}
	if e.logger == nil {
		e.logger = log.New(io.Discard)
	}
	if e.latency == nil {
		e.latency = latency.NewTable()
	}
	if e.interrupts == nil {
		dos := NewDOSHandler(e.regFile, e.memory, e.stdout, e.stderr)
		if e.stdin != nil {
			dos.SetStdin(e.stdin)
		}
		e.interrupts = dos
	}

	e.feeder = feeder.NewNodeFeeder(
		e.memory,
		feeder.NewDecoderParser(e.memory),
		e.registry,
		feeder.WithLogger(e.logger),
	)
	if e.blockCfg != nil {
		e.blocks = jit.NewBlockCache(*e.blockCfg, e.memory, e.registry, e.logger)
	}
	e.registry.Register(&e.ctx)

	e.executor = NewExecutor(e.regFile, e.memory, e.interrupts, e.logger)

	return e
}

// RegFile returns the emulator's register file.
func (e *Emulator) RegFile() *RegFile {
	return e.regFile
}

// Memory returns the emulator's memory.
func (e *Emulator) Memory() *memory.Memory {
	return e.memory
}

// Feeder returns the node feeder.
func (e *Emulator) Feeder() *feeder.NodeFeeder {
	return e.feeder
}

// Registry returns the replacement registry shared by all components.
func (e *Emulator) Registry() *cfg.ReplacerRegistry {
	return e.registry
}

// Context returns the current graph position.
func (e *Emulator) Context() *cfg.ExecutionContext {
	return &e.ctx
}

// Blocks returns the block cache, or nil when it is disabled.
func (e *Emulator) Blocks() *jit.BlockCache {
	return e.blocks
}

// InstructionCount returns the number of instructions executed.
func (e *Emulator) InstructionCount() uint64 {
	return e.instructionCount
}

// Cycles returns the estimated number of cycles spent.
func (e *Emulator) Cycles() uint64 {
	return e.cycles
}

// BlockRuns returns the number of steps served by the block cache.
func (e *Emulator) BlockRuns() uint64 {
	return e.blockRuns
}

// Boot points all segment registers at segment and starts execution at
// segment:entry with the stack at segment:stack.
func (e *Emulator) Boot(segment, entry, stack uint16) {
	for _, s := range []insts.SegReg{insts.SegES, insts.SegCS, insts.SegSS, insts.SegDS} {
		e.regFile.SetSegment(s, segment)
	}
	e.regFile.Write16(SP, stack)
	e.Jump(segment, entry)
}

// Jump moves execution to segment:offset. The graph position is forgotten
// since no edge leads there.
func (e *Emulator) Jump(segment, offset uint16) {
	e.regFile.SetSegment(insts.SegCS, segment)
	e.regFile.IP = offset
	e.ctx.Reset()
}

// Patch replaces old with a node built from inst in every component.
func (e *Emulator) Patch(old *cfg.InstructionNode, inst *insts.Instruction) (*cfg.InstructionNode, error) {
	replacement := cfg.NewInstructionNode(inst)
	if err := e.registry.ReplaceInstruction(old, replacement); err != nil {
		return nil, fmt.Errorf("patching %s: %w", cfg.NodeString(old), err)
	}
	return replacement, nil
}

func (e *Emulator) limitReached() bool {
	return e.maxInstructions > 0 && e.instructionCount >= e.maxInstructions
}

// Step selects the node at CS:IP and executes it, or executes a whole
// block when the block cache holds one starting there.
func (e *Emulator) Step() StepResult {
	// Check instruction limit before executing
	if e.limitReached() {
		return StepResult{
			Err: fmt.Errorf("%w: %d", ErrMaxInstructions, e.maxInstructions),
		}
	}

	node, err := e.feeder.NodeToExecute(&e.ctx, e.regFile.CodeAddress())
	if err != nil {
		return StepResult{Err: err}
	}

	if e.blocks != nil {
		if n, ok := node.(*cfg.InstructionNode); ok {
			if block := e.blocks.Lookup(n); block != nil {
				return e.runBlock(block)
			}
		}
	}

	return e.execute(node)
}

// runBlock executes the block while the graph keeps predicting its next
// node and that node stays live.
func (e *Emulator) runBlock(block *jit.Block) StepResult {
	e.blockRuns++

	for i, n := range block.Nodes {
		if i > 0 {
			if e.ctx.NextAccordingToGraph != cfg.Node(n) || !n.IsLive() || e.limitReached() {
				break
			}
		}

		result := e.execute(n)
		if result.Halted || result.Exited || result.Err != nil {
			return result
		}
	}

	return StepResult{}
}

func (e *Emulator) execute(node cfg.Node) StepResult {
	res, err := e.executor.Execute(node)
	if err != nil {
		return StepResult{Err: err}
	}

	if res.Instruction != nil {
		e.instructionCount++
		e.cycles += e.latency.GetLatency(res.Instruction)
	}

	e.ctx.LastExecuted = node
	e.ctx.NextAccordingToGraph = res.Next

	return StepResult{
		Halted:   res.Halted,
		Exited:   res.Exited,
		ExitCode: res.ExitCode,
	}
}

// Run executes until the program halts, exits or fails.
func (e *Emulator) Run() StepResult {
	return e.RunContext(context.Background())
}

// RunContext is Run with cancellation checked between steps.
func (e *Emulator) RunContext(ctx context.Context) StepResult {
	for {
		if err := ctx.Err(); err != nil {
			return StepResult{Err: err}
		}

		result := e.Step()
		if result.Halted || result.Exited || result.Err != nil {
			return result
		}
	}
}
