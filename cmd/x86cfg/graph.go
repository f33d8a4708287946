package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sarchlab/x86cfg/cfg"
)

func newGraphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph <program>",
		Short: "Run a program and print its control flow graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, args[0])
			if err != nil {
				return err
			}

			result := s.run(cmd)

			root := s.entryNode()
			if root == nil {
				return fmt.Errorf("no instruction was decoded at %s", s.entry)
			}
			_, _ = fmt.Fprint(cmd.OutOrStdout(), cfg.Dump(root))

			return result.Err
		},
	}

	cmd.Flags().Uint64("max-instr", 100000, "Max instructions to execute (0 = unlimited)")
	cmd.Flags().Bool("jit", false, "Enable the block cache")

	return cmd
}
