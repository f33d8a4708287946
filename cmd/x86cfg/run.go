package main

import (
	"fmt"
	"io"
	"os"
	"runtime/pprof"

	"github.com/spf13/cobra"

	"github.com/sarchlab/x86cfg/cfg"
	"github.com/sarchlab/x86cfg/emu"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <program>",
		Short: "Run a .COM or flat binary program",
		Args:  cobra.ExactArgs(1),
		RunE:  runProgram,
	}

	cmd.Flags().Uint64("max-instr", 0, "Max instructions to execute (0 = unlimited)")
	cmd.Flags().Bool("jit", false, "Enable the block cache")
	cmd.Flags().String("cpuprofile", "", "Write CPU profile to file")
	cmd.Flags().Bool("graph", false, "Print the control flow graph after running")
	cmd.Flags().BoolP("verbose", "v", false, "Print execution statistics")

	return cmd
}

func runProgram(cmd *cobra.Command, args []string) error {
	cpuprofile, _ := cmd.Flags().GetString("cpuprofile")
	if cpuprofile != "" {
		f, err := os.Create(cpuprofile)
		if err != nil {
			return fmt.Errorf("could not create CPU profile: %w", err)
		}
		defer func() { _ = f.Close() }()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("could not start CPU profile: %w", err)
		}
		defer pprof.StopCPUProfile()
	}

	s, err := newSession(cmd, args[0])
	if err != nil {
		return err
	}

	result := s.run(cmd)

	verbose, _ := cmd.Flags().GetBool("verbose")
	if verbose {
		printStats(cmd.ErrOrStderr(), args[0], s.emulator, result)
	}

	graph, _ := cmd.Flags().GetBool("graph")
	if graph {
		if root := s.entryNode(); root != nil {
			_, _ = fmt.Fprint(cmd.OutOrStdout(), cfg.Dump(root))
		}
	}

	if result.Err != nil {
		return result.Err
	}
	exitCode = int(result.ExitCode)
	return nil
}

func printStats(w io.Writer, path string, e *emu.Emulator, result emu.StepResult) {
	regs := e.RegFile()
	selection := e.Feeder().Stats()
	decoding := e.Feeder().Instructions().Stats()

	_, _ = fmt.Fprintf(w, "\nProgram: %s\n", path)
	switch {
	case result.Exited:
		_, _ = fmt.Fprintf(w, "Exit code: %d\n", result.ExitCode)
	case result.Halted:
		_, _ = fmt.Fprintf(w, "Halted at: %s\n", regs.CodeAddress())
	}
	_, _ = fmt.Fprintf(w, "Instructions executed: %d\n", e.InstructionCount())
	_, _ = fmt.Fprintf(w, "Estimated cycles: %d\n", e.Cycles())

	_, _ = fmt.Fprintf(w, "\nNode selection:\n")
	_, _ = fmt.Fprintf(w, "  Selections:          %d\n", selection.Selections)
	_, _ = fmt.Fprintf(w, "  Graph hits:          %d\n", selection.GraphHits)
	_, _ = fmt.Fprintf(w, "  Divergences:         %d\n", selection.Divergences)
	_, _ = fmt.Fprintf(w, "  Discriminated nodes: %d\n", selection.DiscriminatedNodes)

	_, _ = fmt.Fprintf(w, "\nDecode cache:\n")
	_, _ = fmt.Fprintf(w, "  Decodes:       %d\n", decoding.Decodes)
	_, _ = fmt.Fprintf(w, "  Current hits:  %d\n", decoding.CurrentHits)
	_, _ = fmt.Fprintf(w, "  Previous hits: %d\n", decoding.PreviousHits)
	_, _ = fmt.Fprintf(w, "  Evictions:     %d\n", decoding.Evictions)
	_, _ = fmt.Fprintf(w, "  Replacements:  %d\n", decoding.Replacements)

	if blocks := e.Blocks(); blocks != nil {
		stats := blocks.Stats()
		_, _ = fmt.Fprintf(w, "\nBlock cache:\n")
		_, _ = fmt.Fprintf(w, "  Lookups:       %d\n", stats.Lookups)
		_, _ = fmt.Fprintf(w, "  Hits:          %d\n", stats.Hits)
		_, _ = fmt.Fprintf(w, "  Builds:        %d\n", stats.Builds)
		_, _ = fmt.Fprintf(w, "  Invalidations: %d\n", stats.Invalidations)
		_, _ = fmt.Fprintf(w, "  Evictions:     %d\n", stats.Evictions)
		_, _ = fmt.Fprintf(w, "  Block runs:    %d\n", e.BlockRuns())
	}
}
