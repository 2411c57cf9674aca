package emit

import "context"

// NullEmitter implements Emitter by discarding all events.
//
// It is the default emitter when observability is not configured.
// Safe for concurrent use, zero overhead.
type NullEmitter struct{}

// NewNullEmitter creates a new NullEmitter.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (n *NullEmitter) Emit(Event) {}

// EmitBatch discards all events.
func (n *NullEmitter) EmitBatch(context.Context, []Event) error { return nil }

// Flush is a no-op.
func (n *NullEmitter) Flush(context.Context) error { return nil }
