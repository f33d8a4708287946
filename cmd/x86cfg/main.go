// Package main provides the x86cfg command line: it runs real-mode DOS
// programs through the control flow graph decode cache.
package main

import (
	"context"
	"os"

	"github.com/charmbracelet/fang"
)

func main() {
	if err := fang.Execute(
		context.Background(),
		newRootCmd(),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
	os.Exit(exitCode)
}
