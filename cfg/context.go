package cfg

// ExecutionContext carries the graph position from one step to the next.
type ExecutionContext struct {
	// LastExecuted is the node executed by the previous step.
	LastExecuted Node
	// NextAccordingToGraph is what the graph predicts comes next. It is nil
	// when the executed node has never been seen continuing to the current
	// instruction pointer.
	NextAccordingToGraph Node
}

// Reset forgets the graph position, e.g. after an external jump.
func (c *ExecutionContext) Reset() {
	c.LastExecuted = nil
	c.NextAccordingToGraph = nil
}

// ReplaceInstruction redirects references to old.
func (c *ExecutionContext) ReplaceInstruction(old, replacement *InstructionNode) error {
	if c.LastExecuted == Node(old) {
		c.LastExecuted = replacement
	}
	if c.NextAccordingToGraph == Node(old) {
		c.NextAccordingToGraph = replacement
	}
	return nil
}
