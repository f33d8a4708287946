package latency

import (
	"encoding/json"
	"fmt"
	"os"
)

// TimingConfig holds cycle costs for the instruction classes of a real-mode
// x86 core. Defaults follow the published 8086 timings, rounded to one
// value per class.
type TimingConfig struct {
	// ALULatency is the cost of register ALU operations (ADD, SUB, AND, OR,
	// XOR, CMP, TEST, INC, DEC, NOT, NEG, shifts). Default: 3 cycles.
	ALULatency uint64 `json:"alu_latency"`

	// MoveLatency is the cost of register moves, XCHG, LEA and flag
	// operations. Default: 2 cycles.
	MoveLatency uint64 `json:"move_latency"`

	// BranchLatency is the cost of jumps, calls, returns and loops.
	// Default: 15 cycles.
	BranchLatency uint64 `json:"branch_latency"`

	// MemoryOperandPenalty is added when an instruction has a memory
	// operand, covering effective address calculation and the bus cycle.
	// Default: 8 cycles.
	MemoryOperandPenalty uint64 `json:"memory_operand_penalty"`

	// StackLatency is the cost of PUSH, POP, PUSHF and POPF.
	// Default: 11 cycles.
	StackLatency uint64 `json:"stack_latency"`

	// StringLatency is the cost of one iteration of a string instruction.
	// Default: 17 cycles.
	StringLatency uint64 `json:"string_latency"`

	// InterruptLatency is the cost of INT and IRET. Default: 51 cycles.
	InterruptLatency uint64 `json:"interrupt_latency"`

	// MultiplyLatency is the cost of MUL and IMUL. Default: 118 cycles.
	MultiplyLatency uint64 `json:"multiply_latency"`

	// DivideLatencyMin is the minimum cost of DIV and IDIV.
	// Default: 80 cycles.
	DivideLatencyMin uint64 `json:"divide_latency_min"`

	// DivideLatencyMax is the maximum cost of DIV and IDIV.
	// Default: 184 cycles.
	DivideLatencyMax uint64 `json:"divide_latency_max"`
}

// DefaultTimingConfig returns a TimingConfig with 8086-based default values.
func DefaultTimingConfig() *TimingConfig {
	return &TimingConfig{
		ALULatency:           3,
		MoveLatency:          2,
		BranchLatency:        15,
		MemoryOperandPenalty: 8,
		StackLatency:         11,
		StringLatency:        17,
		InterruptLatency:     51,
		MultiplyLatency:      118,
		DivideLatencyMin:     80,
		DivideLatencyMax:     184,
	}
}

// LoadConfig loads a TimingConfig from a JSON file. Missing fields keep
// their default values.
func LoadConfig(path string) (*TimingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read timing config file: %w", err)
	}

	config := DefaultTimingConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse timing config: %w", err)
	}

	return config, nil
}

// SaveConfig writes a TimingConfig to a JSON file.
func (c *TimingConfig) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize timing config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write timing config file: %w", err)
	}

	return nil
}

// Validate checks that all latency values are valid (> 0).
func (c *TimingConfig) Validate() error {
	if c.ALULatency == 0 {
		return fmt.Errorf("alu_latency must be > 0")
	}
	if c.MoveLatency == 0 {
		return fmt.Errorf("move_latency must be > 0")
	}
	if c.BranchLatency == 0 {
		return fmt.Errorf("branch_latency must be > 0")
	}
	if c.StackLatency == 0 {
		return fmt.Errorf("stack_latency must be > 0")
	}
	if c.StringLatency == 0 {
		return fmt.Errorf("string_latency must be > 0")
	}
	if c.InterruptLatency == 0 {
		return fmt.Errorf("interrupt_latency must be > 0")
	}
	if c.DivideLatencyMin > c.DivideLatencyMax {
		return fmt.Errorf("divide_latency_min must be <= divide_latency_max")
	}
	return nil
}

// Clone returns a copy of the TimingConfig.
func (c *TimingConfig) Clone() *TimingConfig {
	clone := *c
	return &clone
}
