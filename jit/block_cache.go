package jit

import (
	"io"

	"github.com/charmbracelet/log"
	akitacache "github.com/sarchlab/akita/v4/mem/cache"

	"github.com/sarchlab/x86cfg/cfg"
)

// Watcher reports whether writes to an address are being observed. A node
// whose first byte is no longer watched has left the decode cache.
type Watcher interface {
	IsWatched(addr uint32) bool
}

// Block is a straight-line chain of instruction nodes. Every node but the
// last has the next node as its only successor, located right after it in
// memory.
type Block struct {
	Nodes []*cfg.InstructionNode
}

// Start returns the first node of the block.
func (b *Block) Start() *cfg.InstructionNode {
	return b.Nodes[0]
}

// Len returns the number of nodes in the block.
func (b *Block) Len() int {
	return len(b.Nodes)
}

// Contains reports whether n is part of the block.
func (b *Block) Contains(n *cfg.InstructionNode) bool {
	for _, m := range b.Nodes {
		if m == n {
			return true
		}
	}
	return false
}

// Statistics holds block cache statistics.
type Statistics struct {
	Lookups       uint64
	Hits          uint64
	Builds        uint64
	Invalidations uint64
	Evictions     uint64
}

// BlockCache maps start addresses to blocks. Tags are kept in a
// set-associative directory with LRU replacement.
type BlockCache struct {
	config  Config
	watcher Watcher
	logger  *log.Logger

	// Akita directory for tag management, one tag per start address
	directory *akitacache.DirectoryImpl

	// Block storage - indexed by (setID * ways + wayID)
	blocks []*Block

	heat  map[uint64]int
	stats Statistics
}

// NewBlockCache creates a block cache and registers it for instruction
// replacements. logger may be nil.
func NewBlockCache(
	config Config,
	watcher Watcher,
	registry *cfg.ReplacerRegistry,
	logger *log.Logger,
) *BlockCache {
	if logger == nil {
		logger = log.New(io.Discard)
	}

	c := &BlockCache{
		config:  config,
		watcher: watcher,
		logger:  logger,
		directory: akitacache.NewDirectory(
			config.Sets,
			config.Ways,
			1,
			akitacache.NewLRUVictimFinder(),
		),
		blocks: make([]*Block, config.Sets*config.Ways),
		heat:   make(map[uint64]int),
	}
	registry.Register(c)

	return c
}

// Config returns the block cache configuration.
func (c *BlockCache) Config() Config {
	return c.config
}

// Stats returns block cache statistics.
func (c *BlockCache) Stats() Statistics {
	return c.stats
}

func (c *BlockCache) blockIndex(block *akitacache.Block) int {
	return block.SetID*c.config.Ways + block.WayID
}

// Lookup returns the block starting at node, building it once the node is
// hot. It returns nil when no valid block starts there.
func (c *BlockCache) Lookup(node *cfg.InstructionNode) *Block {
	c.stats.Lookups++

	tag := c.directory.Lookup(0, uint64(node.Address()))
	if tag != nil && tag.IsValid {
		block := c.blocks[c.blockIndex(tag)]
		if block != nil && block.Start() == node {
			if c.valid(block) {
				c.stats.Hits++
				c.directory.Visit(tag)
				return block
			}
			c.invalidate(tag)
		}
	}

	c.heat[node.ID()]++
	if c.heat[node.ID()] < c.config.HotThreshold {
		return nil
	}

	block := c.build(node)
	if block == nil {
		c.heat[node.ID()] = 0
		return nil
	}
	delete(c.heat, node.ID())
	c.insert(block)

	return block
}

// valid reports whether every node of the block is still what the decode
// cache holds.
func (c *BlockCache) valid(block *Block) bool {
	for _, n := range block.Nodes {
		if !n.IsLive() || !c.watcher.IsWatched(n.Address()) {
			return false
		}
	}
	return true
}

// build follows fall-through edges from start.
func (c *BlockCache) build(start *cfg.InstructionNode) *Block {
	if !start.IsLive() {
		return nil
	}

	nodes := []*cfg.InstructionNode{start}
	n := start
	for len(nodes) < c.config.MaxBlockSize && !n.Inst.IsControlTransfer() {
		next, ok := onlyFallThrough(n)
		if !ok {
			break
		}
		nodes = append(nodes, next)
		n = next
	}

	if len(nodes) < c.config.MinBlockSize {
		return nil
	}

	c.stats.Builds++
	c.logger.Debug("built block", "start", start.Inst.Address, "len", len(nodes))
	return &Block{Nodes: nodes}
}

func onlyFallThrough(n *cfg.InstructionNode) (*cfg.InstructionNode, bool) {
	successors := n.Successors()
	if len(successors) != 1 || successors[0] != n.FallThrough() {
		return nil, false
	}
	next, ok := successors[0].(*cfg.InstructionNode)
	if !ok || !next.IsLive() {
		return nil, false
	}
	return next, true
}

func (c *BlockCache) insert(block *Block) {
	addr := uint64(block.Start().Address())

	tag := c.directory.Lookup(0, addr)
	if tag == nil || !tag.IsValid {
		tag = c.directory.FindVictim(addr)
		if tag == nil {
			return
		}
		if tag.IsValid {
			c.stats.Evictions++
		}
	}

	tag.Tag = addr
	tag.IsValid = true
	c.blocks[c.blockIndex(tag)] = block
	c.directory.Visit(tag)
}

func (c *BlockCache) invalidate(tag *akitacache.Block) {
	tag.IsValid = false
	c.blocks[c.blockIndex(tag)] = nil
	c.stats.Invalidations++
}

// Invalidate drops the block starting at the physical address, if any.
func (c *BlockCache) Invalidate(addr uint32) {
	tag := c.directory.Lookup(0, uint64(addr))
	if tag != nil && tag.IsValid {
		c.invalidate(tag)
	}
}

// ReplaceInstruction drops every block that contains old.
func (c *BlockCache) ReplaceInstruction(old, _ *cfg.InstructionNode) error {
	for _, set := range c.directory.GetSets() {
		for _, tag := range set.Blocks {
			if !tag.IsValid {
				continue
			}
			block := c.blocks[c.blockIndex(tag)]
			if block != nil && block.Contains(old) {
				c.invalidate(tag)
			}
		}
	}
	delete(c.heat, old.ID())
	return nil
}

// Reset drops all blocks and statistics.
func (c *BlockCache) Reset() {
	c.directory.Reset()
	clear(c.blocks)
	clear(c.heat)
	c.stats = Statistics{}
}
