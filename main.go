// Package main provides the entry point for x86cfg.
// x86cfg is a real-mode x86 emulator that executes from a control flow graph
// kept coherent with self-modifying code.
//
// For the full CLI, use: go run ./cmd/x86cfg
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("x86cfg - Real-mode x86 emulator")
	fmt.Println("Executes from a self-modifying-code aware control flow graph")
	fmt.Println("")
	fmt.Println("Usage: x86cfg <command> [options] <program>")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  run        Run a .COM or flat binary program")
	fmt.Println("  graph      Run a program and print its control flow graph")
	fmt.Println("  disasm     Disassemble a program image")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/x86cfg' for the full CLI.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: You provided arguments. Use 'go run ./cmd/x86cfg' instead.")
	}
}
