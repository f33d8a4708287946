package main

import (
	"github.com/spf13/cobra"
)

// exitCode is the guest program's exit status, reported once fang returns.
var exitCode int

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "x86cfg",
		Short: "Real-mode x86 emulator built on a control flow graph",
		Long: `x86cfg runs real-mode DOS programs. Decoded instructions are kept in a
control flow graph that stays coherent with self-modifying code.`,
		Example: `
# Run a .COM program and print statistics
x86cfg run -v hello.com

# Run with the block cache and a machine configuration
x86cfg run --jit --config machine.json hello.com

# Print the control flow graph after running
x86cfg graph hello.com
  `,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "Machine configuration JSON file")
	root.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error")

	root.AddCommand(newRunCmd(), newGraphCmd(), newDisasmCmd(), newSchemaCmd())

	return root
}
