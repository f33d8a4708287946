// Package feeder keeps the control flow graph coherent with memory.
//
// InstructionsFeeder answers "which instruction occupies this address right
// now". It keeps a current store guarded by write watchpoints and a previous
// store of every variant ever decoded, so that code toggling between byte
// patterns reuses the nodes it already has. NodeFeeder decides, each step,
// which node actually executes given what the graph predicts and what
// memory holds, and records the observed edge.
package feeder

import (
	"errors"
	"io"

	"github.com/charmbracelet/log"

	"github.com/sarchlab/x86cfg/insts"
	"github.com/sarchlab/x86cfg/memory"
)

// ErrUnknownInstruction reports a replacement of a node the decode cache
// never produced.
var ErrUnknownInstruction = errors.New("instruction unknown to the decode cache")

// Memory is the memory collaborator of the decode cache.
type Memory interface {
	memory.Reader
	ReadBytes(addr uint32, n int) []byte
	Matches(addr uint32, pattern memory.BytePattern) bool
	AddWriteWatch(addr uint32, hook memory.WriteHook) *memory.Watchpoint
	RemoveWriteWatch(w *memory.Watchpoint)
}

// Parser decodes one instruction at a segmented address. It must never
// fail: undefined encodings are returned as invalid instructions.
type Parser interface {
	Parse(segment, offset uint16) *insts.Instruction
}

// DecoderParser adapts insts.Decoder to Parser.
type DecoderParser struct {
	decoder *insts.Decoder
}

// NewDecoderParser creates a parser decoding from mem.
func NewDecoderParser(mem memory.Reader) *DecoderParser {
	return &DecoderParser{decoder: insts.NewDecoder(mem)}
}

// Parse decodes the instruction at segment:offset.
func (p *DecoderParser) Parse(segment, offset uint16) *insts.Instruction {
	return p.decoder.Decode(segment, offset)
}

type options struct {
	logger *log.Logger
}

// Option configures the feeders.
type Option func(*options)

// WithLogger sets the logger used for cache and graph events.
func WithLogger(logger *log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = orDiscard(o.logger)
	return o
}

func orDiscard(logger *log.Logger) *log.Logger {
	if logger == nil {
		return log.New(io.Discard)
	}
	return logger
}
