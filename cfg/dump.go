package cfg

import (
	"fmt"

	"github.com/xlab/treeprint"
)

// NodeString renders a node as "address #id description".
func NodeString(n Node) string {
	switch node := n.(type) {
	case *InstructionNode:
		state := ""
		if !node.IsLive() {
			state = " (stale)"
		}
		return fmt.Sprintf("%s #%d %s%s", node.Inst.Address, node.ID(), node.Inst, state)
	case *DiscriminatedNode:
		return fmt.Sprintf("%05X #%d discriminated[%d]", node.Address(), node.ID(), node.Len())
	case nil:
		return "<nil>"
	}
	return fmt.Sprintf("%05X #%d", n.Address(), n.ID())
}

// Reachable returns every node reachable from roots through successor
// edges, in breadth-first order.
func Reachable(roots ...Node) []Node {
	seen := make(map[uint64]bool)
	var out []Node
	queue := make([]Node, 0, len(roots))

	for _, r := range roots {
		if r != nil && !seen[r.ID()] {
			seen[r.ID()] = true
			queue = append(queue, r)
		}
	}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		out = append(out, n)
		for _, s := range n.Successors() {
			if !seen[s.ID()] {
				seen[s.ID()] = true
				queue = append(queue, s)
			}
		}
	}

	return out
}

// Dump renders the graph reachable from root as a tree. A node already
// printed elsewhere in the tree appears as a leaf marked with "↺".
func Dump(root Node) string {
	tree := treeprint.New()
	if root == nil {
		tree.SetValue("<empty>")
		return tree.String()
	}

	tree.SetValue(NodeString(root))
	seen := map[uint64]bool{root.ID(): true}
	dumpSuccessors(tree, root, seen)

	return tree.String()
}

func dumpSuccessors(branch treeprint.Tree, n Node, seen map[uint64]bool) {
	for _, s := range n.Successors() {
		if seen[s.ID()] {
			branch.AddNode("↺ " + NodeString(s))
			continue
		}
		seen[s.ID()] = true

		if len(s.Successors()) == 0 {
			branch.AddNode(NodeString(s))
			continue
		}
		dumpSuccessors(branch.AddBranch(NodeString(s)), s, seen)
	}
}
