// Package emu provides functional x86 real-mode emulation.
package emu

import (
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"github.com/sarchlab/x86cfg/cfg"
	"github.com/sarchlab/x86cfg/insts"
)

// Errors that abort execution.
var (
	// ErrUnhandledInterrupt reports an INT whose vector nobody services.
	ErrUnhandledInterrupt = errors.New("unhandled interrupt")
	// ErrUnhandledException reports a CPU exception with no IVT handler.
	ErrUnhandledException = errors.New("unhandled CPU exception")
	// ErrMaxInstructions reports that the instruction limit was reached.
	ErrMaxInstructions = errors.New("max instructions reached")
)

// cpuException is raised by handlers for faults that restart at the
// faulting instruction.
type cpuException struct {
	vector uint8
	reason string
}

func (c *cpuException) Error() string {
	return fmt.Sprintf("exception %d: %s", c.vector, c.reason)
}

// ExecResult represents the result of executing one node.
type ExecResult struct {
	// Next is the graph successor at the new CS:IP, or nil when execution
	// has never continued there from this node.
	Next cfg.Node

	// Instruction is the instruction executed, nil for a discriminated
	// node.
	Instruction *insts.Instruction

	// Halted is true after HLT.
	Halted bool

	// Exited is true if an interrupt handler terminated the program.
	Exited bool

	// ExitCode is the exit status if Exited is true.
	ExitCode int64
}

type handler func(e *Executor, inst *insts.Instruction) (ExecResult, error)

// Executor executes graph nodes against the register file and memory.
type Executor struct {
	regs       *RegFile
	bus        Bus
	alu        *ALU
	interrupts InterruptHandler
	logger     *log.Logger

	handlers [insts.OpCount]handler
}

// NewExecutor creates an executor. interrupts may be nil.
func NewExecutor(regs *RegFile, bus Bus, interrupts InterruptHandler, logger *log.Logger) *Executor {
	if logger == nil {
		logger = log.New(io.Discard)
	}

	e := &Executor{
		regs:       regs,
		bus:        bus,
		alu:        NewALU(&regs.Flags),
		interrupts: interrupts,
		logger:     logger,
	}
	e.handlers = dispatchTable()

	return e
}

func dispatchTable() [insts.OpCount]handler {
	var t [insts.OpCount]handler

	t[insts.OpInvalid] = (*Executor).execInvalid
	t[insts.OpNOP] = (*Executor).execNOP
	t[insts.OpHLT] = (*Executor).execHLT
	t[insts.OpMOV] = (*Executor).execMOV
	for _, op := range []insts.Op{
		insts.OpADD, insts.OpOR, insts.OpADC, insts.OpSBB, insts.OpAND,
		insts.OpSUB, insts.OpXOR, insts.OpCMP, insts.OpTEST,
	} {
		t[op] = (*Executor).execArith
	}
	t[insts.OpINC] = (*Executor).execIncDec
	t[insts.OpDEC] = (*Executor).execIncDec
	t[insts.OpNOT] = (*Executor).execNOT
	t[insts.OpNEG] = (*Executor).execNEG
	t[insts.OpMUL] = (*Executor).execMUL
	t[insts.OpIMUL] = (*Executor).execIMUL
	t[insts.OpDIV] = (*Executor).execDIV
	t[insts.OpIDIV] = (*Executor).execIDIV
	for _, op := range []insts.Op{
		insts.OpROL, insts.OpROR, insts.OpRCL, insts.OpRCR,
		insts.OpSHL, insts.OpSHR, insts.OpSAR,
	} {
		t[op] = (*Executor).execShift
	}
	t[insts.OpPUSH] = (*Executor).execPUSH
	t[insts.OpPOP] = (*Executor).execPOP
	t[insts.OpPUSHF] = (*Executor).execPUSHF
	t[insts.OpPOPF] = (*Executor).execPOPF
	t[insts.OpXCHG] = (*Executor).execXCHG
	t[insts.OpLEA] = (*Executor).execLEA
	t[insts.OpCBW] = (*Executor).execCBW
	t[insts.OpCWD] = (*Executor).execCWD
	t[insts.OpJcc] = (*Executor).execJcc
	t[insts.OpJMP] = (*Executor).execJMP
	t[insts.OpJMPFar] = (*Executor).execJMPFar
	t[insts.OpCALL] = (*Executor).execCALL
	t[insts.OpCALLFar] = (*Executor).execCALLFar
	t[insts.OpRET] = (*Executor).execRET
	t[insts.OpRETF] = (*Executor).execRETF
	t[insts.OpLOOP] = (*Executor).execLOOP
	t[insts.OpJCXZ] = (*Executor).execJCXZ
	t[insts.OpINT] = (*Executor).execINT
	t[insts.OpIRET] = (*Executor).execIRET
	for _, op := range []insts.Op{
		insts.OpCLC, insts.OpSTC, insts.OpCMC, insts.OpCLI,
		insts.OpSTI, insts.OpCLD, insts.OpSTD,
	} {
		t[op] = (*Executor).execFlagOp
	}
	t[insts.OpMOVS] = (*Executor).execString
	t[insts.OpSTOS] = (*Executor).execString
	t[insts.OpLODS] = (*Executor).execString

	return t
}

// Execute runs one node. A discriminated node executes nothing: it selects
// the variant matching memory as the next node. An instruction node
// advances IP past the instruction, runs it and looks up the graph
// successor at the resulting CS:IP.
func (e *Executor) Execute(node cfg.Node) (ExecResult, error) {
	switch n := node.(type) {
	case *cfg.DiscriminatedNode:
		result := ExecResult{}
		if variant := n.Match(e.bus); variant != nil {
			result.Next = variant
		}
		return result, nil
	case *cfg.InstructionNode:
		return e.executeInstruction(n)
	}
	return ExecResult{}, fmt.Errorf("%w: cannot execute %s", cfg.ErrGraphInconsistent, cfg.NodeString(node))
}

func (e *Executor) executeInstruction(n *cfg.InstructionNode) (ExecResult, error) {
	inst := n.Inst
	faultIP := e.regs.IP
	e.regs.IP += uint16(inst.Length())

	h := e.handlers[inst.Op]
	if h == nil {
		h = (*Executor).execInvalid
	}
	result, err := h(e, inst)

	var exc *cpuException
	if errors.As(err, &exc) {
		e.regs.IP = faultIP
		err = e.raise(exc)
	}
	if err != nil {
		return ExecResult{Instruction: inst}, err
	}

	result.Instruction = inst
	if !result.Halted && !result.Exited {
		result.Next = n.SuccessorAt(e.regs.CodeAddress().Physical())
	}
	return result, nil
}

// raise delivers a CPU exception through the IVT. IP already points at the
// faulting instruction so that a handler returning with IRET retries it.
func (e *Executor) raise(exc *cpuException) error {
	if !e.vectorInstalled(exc.vector) {
		return fmt.Errorf("%w: %s at %s", ErrUnhandledException, exc.Error(), e.regs.CodeAddress())
	}
	e.logger.Debug("cpu exception", "vector", exc.vector, "reason", exc.reason, "at", e.regs.CodeAddress())
	e.vector(exc.vector)
	return nil
}

func (e *Executor) vectorInstalled(vector uint8) bool {
	return e.bus.Read32(uint32(vector)*4) != 0
}

// vector pushes FLAGS, CS and IP and jumps through the IVT entry.
func (e *Executor) vector(vector uint8) {
	e.push(uint32(e.regs.Flags.Word()), 2)
	e.push(uint32(e.regs.Segment(insts.SegCS)), 2)
	e.push(uint32(e.regs.IP), 2)
	e.regs.Flags.IF = false
	e.regs.Flags.TF = false

	entry := uint32(vector) * 4
	e.regs.IP = e.bus.Read16(entry)
	e.regs.SetSegment(insts.SegCS, e.bus.Read16(entry+2))
}

func (e *Executor) execInvalid(inst *insts.Instruction) (ExecResult, error) {
	reason := "invalid opcode"
	if inst.Exception != nil {
		reason = inst.Exception.Reason
	}
	return ExecResult{}, &cpuException{vector: insts.VectorInvalidOpcode, reason: reason}
}

func (e *Executor) execNOP(*insts.Instruction) (ExecResult, error) {
	return ExecResult{}, nil
}

func (e *Executor) execHLT(*insts.Instruction) (ExecResult, error) {
	return ExecResult{Halted: true}, nil
}

func (e *Executor) execINT(inst *insts.Instruction) (ExecResult, error) {
	vector := uint8(3)
	if inst.Vector != nil {
		vector = ResolveField(e.bus, inst.Vector)
	}

	if e.interrupts != nil {
		r := e.interrupts.Handle(vector)
		if r.Handled {
			return ExecResult{Exited: r.Exited, ExitCode: r.ExitCode}, nil
		}
	}

	if !e.vectorInstalled(vector) {
		e.logger.Warn("unhandled interrupt", "vector", fmt.Sprintf("%02Xh", vector), "ah", e.regs.Read8(4))
		return ExecResult{}, fmt.Errorf("%w: INT %02Xh at %s", ErrUnhandledInterrupt, vector, e.regs.CodeAddress())
	}

	e.vector(vector)
	return ExecResult{}, nil
}

func (e *Executor) execIRET(*insts.Instruction) (ExecResult, error) {
	e.regs.IP = uint16(e.pop(2))
	e.regs.SetSegment(insts.SegCS, uint16(e.pop(2)))
	e.regs.Flags.SetWord(uint16(e.pop(2)))
	return ExecResult{}, nil
}

func (e *Executor) execFlagOp(inst *insts.Instruction) (ExecResult, error) {
	f := &e.regs.Flags
	switch inst.Op {
	case insts.OpCLC:
		f.CF = false
	case insts.OpSTC:
		f.CF = true
	case insts.OpCMC:
		f.CF = !f.CF
	case insts.OpCLI:
		f.IF = false
	case insts.OpSTI:
		f.IF = true
	case insts.OpCLD:
		f.DF = false
	case insts.OpSTD:
		f.DF = true
	}
	return ExecResult{}, nil
}
