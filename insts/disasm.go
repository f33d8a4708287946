package insts

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"

	"github.com/sarchlab/x86cfg/memory"
)

// disassembleOne renders raw bytes located at offset in Intel syntax.
func disassembleOne(raw []byte, offset uint16) string {
	inst, err := x86asm.Decode(raw, 16)
	if err != nil {
		return "(bad)"
	}
	return x86asm.IntelSyntax(inst, uint64(offset), nil)
}

// Disassemble lists code as if it were loaded at origin, one instruction per
// line. Lengths come from this package's decoder so that the listing walks
// the same instruction boundaries the emulator does.
func Disassemble(origin memory.SegmentedAddress, code []byte) string {
	var sb strings.Builder
	pos := 0

	for pos < len(code) {
		addr := origin.Add(uint16(pos))
		inst := DecodeBytes(addr, code[pos:])
		length := inst.Length()
		if pos+length > len(code) {
			length = len(code) - pos
		}

		hexBytes := make([]string, 0, length)
		for i := 0; i < length; i++ {
			hexBytes = append(hexBytes, fmt.Sprintf("%02x", code[pos+i]))
		}

		text := inst.String()
		if inst.IsInvalid() {
			text = fmt.Sprintf("%s ; %s", text, inst.Exception.Reason)
		}

		fmt.Fprintf(&sb, "%s: %-20s %s\n", addr, strings.Join(hexBytes, " "), text)
		pos += length
	}

	return sb.String()
}
