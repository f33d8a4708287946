// Package logging builds the structured loggers shared by the emulator
// components.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// LevelEnv names the environment variable holding the default log level.
const LevelEnv = "X86CFG_LOG_LEVEL"

const prefix = "x86cfg"

// ParseLevel maps debug, info, warn and error to a log level. Anything else
// selects info.
func ParseLevel(level string) log.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// New creates a logger writing to w at the given level.
func New(w io.Writer, level string) *log.Logger {
	lg := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Prefix:          prefix,
	})
	lg.SetLevel(ParseLevel(level))
	return lg
}

// FromEnv creates a stderr logger at the level named by X86CFG_LOG_LEVEL.
func FromEnv() *log.Logger {
	return New(os.Stderr, os.Getenv(LevelEnv))
}
