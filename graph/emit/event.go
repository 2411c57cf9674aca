package emit

// Event represents an observability event emitted during graph execution.
//
// Events cover node start/end, routing, flow lifecycle (push/pop), task
// suspension, and errors. They are delivered to an Emitter which can log
// them, convert them to OpenTelemetry spans, or discard them.
type Event struct {
	// RunID identifies the execution that emitted this event. The dialogue
	// runtime uses "<userKey>:<turn>" so events for one conversation group.
	RunID string

	// Step is the sequential step number within the run (1-indexed).
	// Zero for run-level events.
	Step int

	// NodeID identifies which node emitted this event.
	// Empty for run-level events.
	NodeID string

	// Msg is a short machine-friendly event name, e.g. "node_start",
	// "flow_pushed", "task_suspend", "node_error".
	Msg string

	// Meta contains additional structured data specific to this event.
	// Common keys: "error", "flow_id", "task_kind", "duration_ms".
	Meta map[string]interface{}
}
