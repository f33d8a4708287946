package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sarchlab/x86cfg/insts"
	"github.com/sarchlab/x86cfg/loader"
	"github.com/sarchlab/x86cfg/memory"
)

func newDisasmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disasm <program>",
		Short: "Disassemble a program image linearly",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			prog, err := loader.Load(args[0], c.LoadSegment)
			if err != nil {
				return err
			}

			origin := memory.SegmentedAddress{Segment: prog.Segment, Offset: prog.EntryOffset}
			_, _ = fmt.Fprint(cmd.OutOrStdout(), insts.Disassemble(origin, prog.Image))
			return nil
		},
	}
}
