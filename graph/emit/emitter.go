// Package emit provides event emission and observability for graph execution.
package emit

import "context"

// Emitter receives and processes observability events from graph execution.
//
// Implementations must be thread-safe and resilient: Emit is called from the
// execution hot path and must not panic or block on backend failures.
type Emitter interface {
	// Emit sends a single observability event to the configured backend.
	// Errors are handled internally; Emit never fails the caller.
	Emit(event Event)

	// EmitBatch sends multiple events in a single operation. Events must be
	// processed in order. Returns an error only on catastrophic failures;
	// individual event failures are logged and skipped.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush ensures all buffered events are delivered. Call before shutdown.
	// Safe to call multiple times.
	Flush(ctx context.Context) error
}
