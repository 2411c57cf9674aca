package graph

import (
	"context"
	"sync"
	"time"

	"github.com/jmorenobl/soni/graph/emit"
)

// Reducer merges a partial state update (delta) into the previous state.
//
// Reducers are responsible for deterministic state composition. They must be
// pure: same (prev, delta) always produces the same result, and applying a
// sequence of deltas always yields the same state regardless of when the
// sequence is replayed.
type Reducer[S, D any] func(prev S, delta D) S

// Engine executes a graph of nodes sequentially, merging each node's delta
// into the accumulated state via the reducer.
//
// An Engine is built once (Add/Connect/StartAt) and is immutable during
// Invoke. A single Invoke is logically single-threaded: one node runs at a
// time, and routing decides the next. Invoke may be called concurrently with
// independent states.
//
// Type parameters: S is the state type, D the delta type merged by the reducer.
type Engine[S, D any] struct {
	mu sync.RWMutex

	reducer   Reducer[S, D]
	nodes     map[string]Node[S, D]
	edges     []Edge[S]
	startNode string
	emitter   emit.Emitter
	opts      Options
}

// Options configures Engine execution behavior. Zero values are valid.
type Options struct {
	// MaxSteps limits an Invoke to prevent infinite loops. If 0, no limit.
	// Loops (guard -> body -> guard) are fully supported; MaxSteps is the
	// backstop when a conditional exit is missing or misconfigured.
	// When exceeded, Invoke returns EngineError with code "MAX_STEPS_EXCEEDED".
	MaxSteps int

	// NodeTimeout bounds the execution time of a single node. If 0, nodes
	// run without a deadline. When exceeded the node's context is cancelled
	// and Invoke returns EngineError with code "NODE_TIMEOUT".
	NodeTimeout time.Duration
}

// New creates a new Engine with the given reducer, emitter, and options.
// The emitter may be nil; events are then discarded.
func New[S, D any](reducer Reducer[S, D], emitter emit.Emitter, opts Options) *Engine[S, D] {
	return &Engine[S, D]{
		reducer: reducer,
		nodes:   make(map[string]Node[S, D]),
		edges:   make([]Edge[S], 0),
		emitter: emitter,
		opts:    opts,
	}
}

// Add registers a node in the graph. Node IDs must be unique.
func (e *Engine[S, D]) Add(nodeID string, node Node[S, D]) error {
	if e == nil {
		return &EngineError{Message: "engine is nil", Code: "NIL_ENGINE"}
	}
	if nodeID == "" {
		return &EngineError{Message: "node ID cannot be empty", Code: "EMPTY_NODE_ID"}
	}
	if node == nil {
		return &EngineError{Message: "node cannot be nil", Code: "NIL_NODE"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; exists {
		return &EngineError{
			Message: "duplicate node ID: " + nodeID,
			Code:    "DUPLICATE_NODE",
		}
	}

	e.nodes[nodeID] = node
	return nil
}

// StartAt sets the entry point for graph execution.
// The node must have been registered via Add.
func (e *Engine[S, D]) StartAt(nodeID string) error {
	if e == nil {
		return &EngineError{Message: "engine is nil", Code: "NIL_ENGINE"}
	}
	if nodeID == "" {
		return &EngineError{Message: "start node ID cannot be empty", Code: "EMPTY_NODE_ID"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; !exists {
		return &EngineError{
			Message: "start node does not exist: " + nodeID,
			Code:    "NODE_NOT_FOUND",
		}
	}

	e.startNode = nodeID
	return nil
}

// Connect creates an edge between two nodes. A nil predicate makes the edge
// unconditional. Node existence is not validated here so graphs can be built
// in any order; a dangling edge surfaces as NODE_NOT_FOUND at Invoke time.
func (e *Engine[S, D]) Connect(from, to string, predicate Predicate[S]) error {
	if e == nil {
		return &EngineError{Message: "engine is nil", Code: "NIL_ENGINE"}
	}
	if from == "" {
		return &EngineError{Message: "from node ID cannot be empty", Code: "EMPTY_NODE_ID"}
	}
	if to == "" {
		return &EngineError{Message: "to node ID cannot be empty", Code: "EMPTY_NODE_ID"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.edges = append(e.edges, Edge[S]{From: from, To: to, When: predicate})
	return nil
}

// Invoke executes the graph from the start node until a node stops execution
// or an error occurs, and returns the accumulated state.
//
// Execution per step: run the node, merge its delta via the reducer, emit
// events, then follow the routing decision (explicit Route first, then the
// first matching edge). runID labels emitted events only; the engine itself
// holds no per-run state between invocations.
func (e *Engine[S, D]) Invoke(ctx context.Context, runID string, initial S) (S, error) {
	var zero S

	if e == nil {
		return zero, &EngineError{Message: "engine is nil", Code: "NIL_ENGINE"}
	}
	if e.reducer == nil {
		return zero, &EngineError{Message: "reducer is required", Code: "MISSING_REDUCER"}
	}
	if e.startNode == "" {
		return zero, &EngineError{Message: "start node not set (call StartAt before Invoke)", Code: "NO_START_NODE"}
	}

	currentState := initial
	currentNode := e.startNode
	step := 0

	for {
		step++

		if e.opts.MaxSteps > 0 && step > e.opts.MaxSteps {
			return zero, &EngineError{
				Message: "graph exceeded MaxSteps limit",
				Code:    "MAX_STEPS_EXCEEDED",
			}
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		e.mu.RLock()
		nodeImpl, exists := e.nodes[currentNode]
		e.mu.RUnlock()

		if !exists {
			return zero, &EngineError{
				Message: "node not found during execution: " + currentNode,
				Code:    "NODE_NOT_FOUND",
			}
		}

		e.emitEvent(runID, currentNode, step, "node_start", nil)

		result, timeoutErr := e.runWithTimeout(ctx, nodeImpl, currentNode, currentState)
		if timeoutErr != nil {
			e.emitEvent(runID, currentNode, step, "node_error", map[string]interface{}{
				"error": timeoutErr.Error(),
			})
			return zero, timeoutErr
		}

		if result.Err != nil {
			e.emitEvent(runID, currentNode, step, "node_error", map[string]interface{}{
				"error": result.Err.Error(),
			})
			return zero, result.Err
		}

		currentState = e.reducer(currentState, result.Delta)

		e.emitEvent(runID, currentNode, step, "node_end", nil)

		if result.Route.Terminal {
			return currentState, nil
		}

		if result.Route.To != "" {
			currentNode = result.Route.To
			continue
		}

		nextNode := e.evaluateEdges(currentNode, currentState)
		if nextNode == "" {
			return zero, &EngineError{
				Message: "no valid route from node: " + currentNode,
				Code:    "NO_ROUTE",
			}
		}
		currentNode = nextNode
	}
}

// runWithTimeout executes a node, bounding it by Options.NodeTimeout if set.
func (e *Engine[S, D]) runWithTimeout(ctx context.Context, node Node[S, D], nodeID string, state S) (NodeResult[S, D], error) {
	if e.opts.NodeTimeout <= 0 {
		return node.Run(ctx, state), nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, e.opts.NodeTimeout)
	defer cancel()

	result := node.Run(timeoutCtx, state)
	if timeoutCtx.Err() == context.DeadlineExceeded {
		return result, &EngineError{
			Message: "node " + nodeID + " exceeded timeout",
			Code:    "NODE_TIMEOUT",
		}
	}
	return result, nil
}

// evaluateEdges finds the first matching edge from the given node.
// Unconditional edges always match; conditional edges match when their
// predicate returns true. First match wins, in Connect order.
func (e *Engine[S, D]) evaluateEdges(fromNode string, state S) string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, edge := range e.edges {
		if edge.From != fromNode {
			continue
		}
		if edge.When == nil || edge.When(state) {
			return edge.To
		}
	}
	return ""
}

func (e *Engine[S, D]) emitEvent(runID, nodeID string, step int, msg string, meta map[string]interface{}) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(emit.Event{
		RunID:  runID,
		Step:   step,
		NodeID: nodeID,
		Msg:    msg,
		Meta:   meta,
	})
}
