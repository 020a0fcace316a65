// Package emit provides observability events for workflow execution.
package emit

// Standard event messages emitted by the engine.
const (
	// WorkflowStart marks the beginning of a run.
	WorkflowStart = "workflow_start"

	// WorkflowComplete marks a run that reached the end of its root
	// sequence.
	WorkflowComplete = "workflow_complete"

	// WorkflowFailed marks an aborted run; Meta carries the cause.
	WorkflowFailed = "workflow_failed"

	// NodeComplete marks a node invocation; Edge carries the emitted
	// edge name.
	NodeComplete = "node_complete"

	// LoopReenter marks a loop node re-invocation after its branch
	// subgraph completed.
	LoopReenter = "loop_reenter"

	// LoopExit marks a loop node emitting a branch-less (terminal) edge.
	LoopExit = "loop_exit"

	// EdgeMapViolation marks a non-conforming node that returned more
	// than one edge in its result.
	EdgeMapViolation = "edge_map_violation"
)

// Event is an observability event emitted during workflow execution.
//
// Events describe node invocations, edge routing decisions, loop
// re-entries, and run lifecycle transitions. They are consumed by an
// Emitter which can log them, convert them to spans, or buffer them for
// test assertions.
type Event struct {
	// ExecutionID identifies the run that emitted this event.
	ExecutionID string

	// Step is the sequential invocation number within the run
	// (1-indexed). Zero for run-level events.
	Step int

	// NodeID is the instance identifier of the node this event concerns.
	// Empty for run-level events.
	NodeID string

	// Edge is the edge name emitted by the node, when applicable.
	Edge string

	// Msg names the event; see the constants above.
	Msg string

	// Meta carries additional structured data. Common keys:
	//   - "duration_ms": invocation duration in milliseconds
	//   - "error": failure details
	//   - "cause": failure cause discriminator
	//   - "iteration": loop re-entry ordinal
	Meta map[string]any
}
