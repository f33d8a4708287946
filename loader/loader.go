// Package loader provides flat image loading for real-mode DOS programs.
package loader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sarchlab/x86cfg/memory"
)

const (
	// COMEntryOffset is where a .COM image starts, right after the PSP.
	COMEntryOffset = 0x0100

	// DefaultStackOffset is the initial SP: the top of the load segment,
	// leaving one zero word so that a near RET lands on the PSP stub.
	DefaultStackOffset = 0xFFFE

	// MaxCOMSize is the largest image that fits between the PSP and the
	// stack.
	MaxCOMSize = DefaultStackOffset - COMEntryOffset

	// MaxFlatSize is the largest flat image, one full segment.
	MaxFlatSize = 0x10000
)

// pspStub is placed at offset 0 of the PSP: INT 20h terminates the program
// when it returns to PSP:0000.
var pspStub = []byte{0xCD, 0x20}

var (
	// ErrEmptyImage reports a file with no code.
	ErrEmptyImage = errors.New("empty program image")
	// ErrImageTooLarge reports an image that does not fit its segment.
	ErrImageTooLarge = errors.New("program image too large")
)

// Program is a flat image ready to be installed into memory.
type Program struct {
	// Segment is the segment every segment register starts with.
	Segment uint16
	// EntryOffset is the initial IP.
	EntryOffset uint16
	// StackOffset is the initial SP.
	StackOffset uint16
	// Image holds the file contents.
	Image []byte
	// COM is true when the image is a .COM program with a PSP.
	COM bool
}

// IsCOM reports whether path names a .COM program.
func IsCOM(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".com")
}

// Load reads a program image. A .COM file is placed at segment:0100 behind
// a PSP stub; any other file is a flat image placed at segment:0000.
func Load(path string, segment uint16) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read program image: %w", err)
	}

	if IsCOM(path) {
		return NewCOM(data, segment)
	}
	return NewFlat(data, segment)
}

// NewCOM wraps .COM image bytes.
func NewCOM(data []byte, segment uint16) (*Program, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	if len(data) > MaxCOMSize {
		return nil, fmt.Errorf("%w: %d bytes, at most %d fit a .COM segment", ErrImageTooLarge, len(data), MaxCOMSize)
	}

	return &Program{
		Segment:     segment,
		EntryOffset: COMEntryOffset,
		StackOffset: DefaultStackOffset,
		Image:       data,
		COM:         true,
	}, nil
}

// NewFlat wraps flat image bytes that start executing at offset 0.
func NewFlat(data []byte, segment uint16) (*Program, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	if len(data) > MaxFlatSize {
		return nil, fmt.Errorf("%w: %d bytes, at most %d fit a segment", ErrImageTooLarge, len(data), MaxFlatSize)
	}

	return &Program{
		Segment:     segment,
		StackOffset: DefaultStackOffset,
		Image:       data,
	}, nil
}

// Install copies the image, and the PSP stub for a .COM program, into
// memory.
func (p *Program) Install(mem *memory.Memory) error {
	base := memory.ToPhysical(p.Segment, 0)
	start := base
	if p.COM {
		start += COMEntryOffset
	}

	end := int(start) + len(p.Image)
	if end > mem.Size() {
		return fmt.Errorf("%w: image ends at 0x%X beyond memory size 0x%X", ErrImageTooLarge, end, mem.Size())
	}

	if p.COM {
		mem.LoadBytes(base, pspStub)
	}
	mem.LoadBytes(start, p.Image)

	return nil
}
