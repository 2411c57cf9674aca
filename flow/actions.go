package flow

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrUnknownAction is returned when an action name has no registered handler.
var ErrUnknownAction = errors.New("unknown action")

// DefaultActionTimeout bounds a single action handler call when the registry
// has no explicit timeout configured.
const DefaultActionTimeout = 30 * time.Second

// ActionFunc is an external-effect handler. It receives the resolved input
// slots and returns named outputs mapped back into slots. Handlers should be
// cancellation-aware; the registry enforces a per-call timeout.
type ActionFunc func(ctx context.Context, inputs map[string]interface{}) (map[string]interface{}, error)

// ActionRegistry holds action handlers by name. Built once at startup and
// immutable during serving; registration is idempotent.
type ActionRegistry struct {
	mu      sync.RWMutex
	actions map[string]ActionFunc

	// Timeout bounds each Invoke. Zero uses DefaultActionTimeout.
	Timeout time.Duration
}

// NewActionRegistry returns an empty registry with the given per-call
// timeout (zero selects the default).
func NewActionRegistry(timeout time.Duration) *ActionRegistry {
	return &ActionRegistry{
		actions: make(map[string]ActionFunc),
		Timeout: timeout,
	}
}

// Register installs a handler under the given name.
func (r *ActionRegistry) Register(name string, fn ActionFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[name] = fn
}

// Has reports whether a handler is registered under the name.
func (r *ActionRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actions[name]
	return ok
}

// Invoke runs the named handler with the per-call timeout applied.
// The handler's context is cancelled when the timeout elapses; the timeout
// itself surfaces as context.DeadlineExceeded.
func (r *ActionRegistry) Invoke(ctx context.Context, name string, inputs map[string]interface{}) (map[string]interface{}, error) {
	r.mu.RLock()
	fn, ok := r.actions[name]
	r.mu.RUnlock()

	if !ok {
		return nil, ErrUnknownAction
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultActionTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outputs, err := fn(callCtx, inputs)
	if err != nil {
		return nil, err
	}
	if callCtx.Err() != nil {
		return nil, callCtx.Err()
	}
	return outputs, nil
}
