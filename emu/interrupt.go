// Package emu provides functional x86 real-mode emulation.
package emu

import (
	"bufio"
	"io"

	"github.com/sarchlab/x86cfg/insts"
	"github.com/sarchlab/x86cfg/memory"
)

// DOS services.
const (
	VectorDOSTerminate uint8 = 0x20
	VectorDOS          uint8 = 0x21

	DOSReadCharEcho  uint8 = 0x01
	DOSWriteChar     uint8 = 0x02
	DOSWriteString   uint8 = 0x09
	DOSVersion       uint8 = 0x30
	DOSWriteHandle   uint8 = 0x40
	DOSTerminate     uint8 = 0x00
	DOSExitWithCode  uint8 = 0x4C
	dosInvalidHandle       = 6
)

// InterruptResult represents the result of a high-level interrupt handler.
type InterruptResult struct {
	// Handled is false when the vector should be dispatched through the
	// interrupt vector table instead.
	Handled bool

	// Exited is true if the interrupt terminated the program.
	Exited bool

	// ExitCode is the exit status if Exited is true.
	ExitCode int64
}

// InterruptHandler services software interrupts in Go before they reach the
// interrupt vector table.
type InterruptHandler interface {
	// Handle executes the service selected by the vector and the register
	// file state.
	Handle(vector uint8) InterruptResult
}

// DOSHandler implements the small subset of DOS services that .COM
// programs need to print and exit.
type DOSHandler struct {
	regFile *RegFile
	memory  memory.Reader
	stdin   *bufio.Reader
	stdout  io.Writer
	stderr  io.Writer
}

// NewDOSHandler creates a DOS interrupt handler.
func NewDOSHandler(regFile *RegFile, mem memory.Reader, stdout, stderr io.Writer) *DOSHandler {
	return &DOSHandler{
		regFile: regFile,
		memory:  mem,
		stdout:  stdout,
		stderr:  stderr,
	}
}

// SetStdin sets the stdin reader for the handler.
func (h *DOSHandler) SetStdin(stdin io.Reader) {
	h.stdin = bufio.NewReader(stdin)
}

// Handle services INT 20h and INT 21h.
func (h *DOSHandler) Handle(vector uint8) InterruptResult {
	switch vector {
	case VectorDOSTerminate:
		return InterruptResult{Handled: true, Exited: true}
	case VectorDOS:
		return h.handleDOS()
	}
	return InterruptResult{}
}

func (h *DOSHandler) handleDOS() InterruptResult {
	switch h.regFile.Read8(4) { // AH
	case DOSTerminate:
		return InterruptResult{Handled: true, Exited: true}
	case DOSExitWithCode:
		return InterruptResult{Handled: true, Exited: true, ExitCode: int64(h.regFile.Read8(0))}
	case DOSReadCharEcho:
		return h.handleReadChar()
	case DOSWriteChar:
		_, _ = h.stdout.Write([]byte{h.regFile.Read8(DX)})
		return InterruptResult{Handled: true}
	case DOSWriteString:
		return h.handleWriteString()
	case DOSWriteHandle:
		return h.handleWriteHandle()
	case DOSVersion:
		h.regFile.Write16(AX, 0x0005) // 5.0
		return InterruptResult{Handled: true}
	}
	return InterruptResult{}
}

// handleReadChar reads one character into AL, echoing it. AL is 0 at end
// of input.
func (h *DOSHandler) handleReadChar() InterruptResult {
	if h.stdin == nil {
		h.regFile.Write8(0, 0)
		return InterruptResult{Handled: true}
	}

	b, err := h.stdin.ReadByte()
	if err != nil {
		h.regFile.Write8(0, 0)
		return InterruptResult{Handled: true}
	}

	h.regFile.Write8(0, b)
	_, _ = h.stdout.Write([]byte{b})
	return InterruptResult{Handled: true}
}

// handleWriteString writes the '$'-terminated string at DS:DX.
func (h *DOSHandler) handleWriteString() InterruptResult {
	ds := h.regFile.Segment(insts.SegDS)
	off := h.regFile.Read16(DX)

	var buf []byte
	for i := 0; i < 0x10000; i++ {
		b := h.memory.Read8(memory.ToPhysical(ds, off+uint16(i)))
		if b == '$' {
			break
		}
		buf = append(buf, b)
	}

	_, _ = h.stdout.Write(buf)
	h.regFile.Write8(0, '$')
	return InterruptResult{Handled: true}
}

// handleWriteHandle writes CX bytes at DS:DX to handle BX. AX receives the
// number of bytes written, or an error code with CF set.
func (h *DOSHandler) handleWriteHandle() InterruptResult {
	var writer io.Writer
	switch h.regFile.Read16(BX) {
	case 1:
		writer = h.stdout
	case 2:
		writer = h.stderr
	default:
		h.setError(dosInvalidHandle)
		return InterruptResult{Handled: true}
	}

	ds := h.regFile.Segment(insts.SegDS)
	off := h.regFile.Read16(DX)
	count := h.regFile.Read16(CX)

	buf := make([]byte, count)
	for i := range buf {
		buf[i] = h.memory.Read8(memory.ToPhysical(ds, off+uint16(i)))
	}

	n, err := writer.Write(buf)
	if err != nil {
		h.setError(dosInvalidHandle)
		return InterruptResult{Handled: true}
	}

	h.regFile.Write16(AX, uint16(n))
	h.regFile.Flags.CF = false
	return InterruptResult{Handled: true}
}

func (h *DOSHandler) setError(code uint16) {
	h.regFile.Write16(AX, code)
	h.regFile.Flags.CF = true
}
