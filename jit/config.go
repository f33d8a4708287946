// Package jit caches straight-line runs of graph nodes so that the emulator
// can execute them without consulting the node selector between
// instructions.
package jit

// Config holds block cache parameters.
type Config struct {
	// Sets is the number of sets in the tag directory.
	Sets int
	// Ways is the associativity of the tag directory.
	Ways int
	// MinBlockSize is the shortest chain worth caching.
	MinBlockSize int
	// MaxBlockSize caps the number of nodes in a block.
	MaxBlockSize int
	// HotThreshold is the number of selections of a start node before a
	// block is built from it.
	HotThreshold int
}

// DefaultConfig returns the default block cache configuration.
func DefaultConfig() Config {
	return Config{
		Sets:         64,
		Ways:         4,
		MinBlockSize: 2,
		MaxBlockSize: 32,
		HotThreshold: 16,
	}
}
