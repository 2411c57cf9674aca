package graph

// EngineError represents a graph-level execution error with a machine code.
type EngineError struct {
	// Message is the human-readable error description.
	Message string

	// Code is a machine-readable error code, e.g. "MAX_STEPS_EXCEEDED",
	// "NODE_NOT_FOUND", "NO_ROUTE", "NODE_TIMEOUT".
	Code string
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}
