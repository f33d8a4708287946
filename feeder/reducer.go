package feeder

import (
	"bytes"

	"github.com/charmbracelet/log"

	"github.com/sarchlab/x86cfg/cfg"
)

// DiscriminatorReducer collapses instruction nodes that are the same
// instruction into one node.
type DiscriminatorReducer struct {
	registry *cfg.ReplacerRegistry
	logger   *log.Logger
}

// NewDiscriminatorReducer creates a reducer that broadcasts its merges
// through registry.
func NewDiscriminatorReducer(registry *cfg.ReplacerRegistry, logger *log.Logger) *DiscriminatorReducer {
	return &DiscriminatorReducer{registry: registry, logger: orDiscard(logger)}
}

// ReduceAll returns candidates with duplicates removed. Of two nodes with
// equal discriminators the earlier one survives; value fields on which the
// two disagree stop using their captured value, and the later node is
// replaced by the survivor everywhere.
func (r *DiscriminatorReducer) ReduceAll(candidates []*cfg.InstructionNode) ([]*cfg.InstructionNode, error) {
	out := make([]*cfg.InstructionNode, 0, len(candidates))

	for _, c := range candidates {
		survivor := findEqual(out, c)
		if survivor == nil {
			out = append(out, c)
			continue
		}
		if survivor == c {
			continue
		}

		mergeValueFields(survivor, c)
		if err := r.registry.ReplaceInstruction(c, survivor); err != nil {
			return nil, err
		}
		r.logger.Debug("instructions merged", "kept", cfg.NodeString(survivor), "dropped", cfg.NodeString(c))
	}

	return out, nil
}

func findEqual(nodes []*cfg.InstructionNode, n *cfg.InstructionNode) *cfg.InstructionNode {
	for _, other := range nodes {
		if other == n || other.SameInstruction(n) {
			return other
		}
	}
	return nil
}

func mergeValueFields(survivor, dropped *cfg.InstructionNode) {
	kept := survivor.Inst.Fields()
	other := dropped.Inst.Fields()
	if len(kept) != len(other) {
		return
	}

	for i, f := range kept {
		if f.IsValueField() && !bytes.Equal(f.CapturedBytes(), other[i].CapturedBytes()) {
			f.SetUseValue(false)
		}
	}
}
