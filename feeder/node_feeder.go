package feeder

import (
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/sarchlab/x86cfg/cfg"
	"github.com/sarchlab/x86cfg/memory"
)

// SelectionStats counts the outcomes of node selection.
type SelectionStats struct {
	// Selections is the number of nodes selected.
	Selections uint64
	// GraphHits counts selections where the graph prediction was still
	// live.
	GraphHits uint64
	// Divergences counts selections where memory no longer held the
	// predicted instruction.
	Divergences uint64
	// DiscriminatedNodes counts discriminated nodes created.
	DiscriminatedNodes uint64
}

// NodeFeeder selects the node to execute at each step and records the edge
// from the previously executed node.
type NodeFeeder struct {
	instructions *InstructionsFeeder
	linker       *cfg.Linker
	reducer      *DiscriminatorReducer
	logger       *log.Logger

	stats SelectionStats
}

// NewNodeFeeder creates the selector together with its decode cache and
// linker. Both are subscribed to registry, linker first.
func NewNodeFeeder(
	mem Memory,
	parser Parser,
	registry *cfg.ReplacerRegistry,
	opts ...Option,
) *NodeFeeder {
	o := buildOptions(opts)

	linker := cfg.NewLinker()
	registry.Register(linker)

	return &NodeFeeder{
		instructions: NewInstructionsFeeder(mem, parser, registry, opts...),
		linker:       linker,
		reducer:      NewDiscriminatorReducer(registry, o.logger),
		logger:       o.logger,
	}
}

// Instructions returns the decode cache.
func (f *NodeFeeder) Instructions() *InstructionsFeeder {
	return f.instructions
}

// Linker returns the linker maintaining the graph.
func (f *NodeFeeder) Linker() *cfg.Linker {
	return f.linker
}

// Stats returns the selection counters.
func (f *NodeFeeder) Stats() SelectionStats {
	return f.stats
}

// NodeToExecute returns the node to execute at the instruction pointer at,
// given the graph position in ctx, and links it after ctx.LastExecuted.
func (f *NodeFeeder) NodeToExecute(ctx *cfg.ExecutionContext, at memory.SegmentedAddress) (cfg.Node, error) {
	node, err := f.determine(ctx.NextAccordingToGraph, at)
	if err != nil {
		return nil, err
	}
	f.stats.Selections++

	if ctx.LastExecuted != nil {
		if err := f.linker.Link(ctx.LastExecuted, node); err != nil {
			return nil, fmt.Errorf("linking %s at %s: %w", cfg.NodeString(ctx.LastExecuted), at, err)
		}
	}

	return node, nil
}

func (f *NodeFeeder) determine(hint cfg.Node, at memory.SegmentedAddress) (cfg.Node, error) {
	if hint == nil {
		return f.instructions.GetOrDecode(at.Segment, at.Offset), nil
	}

	fromGraph, ok := hint.(*cfg.InstructionNode)
	if !ok {
		return hint, nil
	}

	if fromGraph.IsLive() && fromGraph.Address() == at.Physical() {
		f.stats.GraphHits++
		return fromGraph, nil
	}

	fromMemory := f.instructions.GetOrDecode(at.Segment, at.Offset)
	if fromMemory == fromGraph {
		return fromGraph, nil
	}

	if fromGraph.SameInstruction(fromMemory) {
		if _, err := f.reducer.ReduceAll([]*cfg.InstructionNode{fromGraph, fromMemory}); err != nil {
			return nil, err
		}
		f.instructions.Reconcile(fromGraph)
		return fromGraph, nil
	}

	f.stats.Divergences++
	f.logger.Debug("graph diverged from memory",
		"predicted", cfg.NodeString(fromGraph), "found", cfg.NodeString(fromMemory))

	return f.Disambiguate(fromMemory, fromGraph)
}

// Disambiguate merges candidates that sit at the same address. A single
// surviving candidate is returned as is. Otherwise a discriminated node
// takes over every incoming edge of the candidates and lists them as its
// variants; an existing discriminated node in front of any candidate is
// reused.
func (f *NodeFeeder) Disambiguate(candidates ...*cfg.InstructionNode) (cfg.Node, error) {
	reduced, err := f.reducer.ReduceAll(candidates)
	if err != nil {
		return nil, err
	}
	if len(reduced) == 0 {
		return nil, nil
	}
	if len(reduced) == 1 {
		return reduced[0], nil
	}

	d := findDiscriminated(reduced)
	if d == nil {
		d = cfg.NewDiscriminatedNode(reduced[0].Address())
		f.stats.DiscriminatedNodes++
	} else {
		reduced, err = f.reducer.ReduceAll(append(d.Variants(), reduced...))
		if err != nil {
			return nil, err
		}
	}

	// A variant already under d can still have gained a direct edge from a
	// node that reached it while no prediction existed.
	for _, inst := range reduced {
		f.linker.ReplacePredecessors(inst, d)
		if !d.HasSuccessor(inst) {
			f.linker.LinkCurrentToNext(d, inst)
		}
	}

	f.logger.Debug("discriminated node", "node", cfg.NodeString(d))

	return d, nil
}

func findDiscriminated(candidates []*cfg.InstructionNode) *cfg.DiscriminatedNode {
	for _, c := range candidates {
		for _, pred := range c.Predecessors() {
			if d, ok := pred.(*cfg.DiscriminatedNode); ok && d.Address() == c.Address() {
				return d
			}
		}
	}
	return nil
}
