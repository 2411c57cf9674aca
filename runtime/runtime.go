// Package runtime ties the dialogue engine together: it loads a user's
// checkpoint, runs the orchestrator graph for one turn, and persists the
// resulting state. The serving layer above it only ever calls
// ProcessMessage, ResetState, and GetState.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jmorenobl/soni/config"
	"github.com/jmorenobl/soni/dialogue"
	"github.com/jmorenobl/soni/flow"
	"github.com/jmorenobl/soni/graph"
	"github.com/jmorenobl/soni/graph/emit"
	"github.com/jmorenobl/soni/nlu"
	"github.com/jmorenobl/soni/store"
)

// Reply is what one processed turn returns to the serving layer.
type Reply struct {
	// Response is the assistant utterance for this turn. May be empty.
	Response string

	// Paused reports whether the runtime awaits more user input — always
	// true after a collect or confirm prompt.
	Paused bool
}

// Deps are the pluggable collaborators of a Runtime. NLU is required; nil
// fields otherwise take defaults (a store built from the configuration, an
// empty action registry, a null emitter, no metrics).
type Deps struct {
	NLU     nlu.Service
	Store   store.Store[dialogue.State]
	Actions *flow.ActionRegistry
	Emitter emit.Emitter
	Metrics *Metrics
}

// Runtime advances stateful multi-turn conversations according to the
// configured flows. Immutable after New: all registries and compiled
// subgraphs are built once. Turns for different users may run concurrently;
// turns for the same user are serialized internally.
type Runtime struct {
	cfg          *config.Config
	limits       config.Limits
	flows        *flow.Registry
	flowManager  *dialogue.FlowManager
	handlers     *dialogue.HandlerRegistry
	slotProc     *flow.SlotProcessor
	nluService   nlu.Service
	checkpoints  store.Store[dialogue.State]
	emitter      emit.Emitter
	metrics      *Metrics
	templates    dialogue.ResponseTemplates
	orchestrator *graph.Engine[dialogue.State, dialogue.Delta]

	flowSummaries []nlu.FlowSummary
	actionNames   []string

	keysMu   sync.Mutex
	keyLocks map[string]*sync.Mutex
	turns    map[string]int
}

// New builds a Runtime from validated configuration. Flow compilation
// happens here; a broken flow definition fails construction and the runtime
// refuses to serve.
func New(cfg *config.Config, deps Deps) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("runtime: config is required")
	}
	if deps.NLU == nil {
		return nil, errors.New("runtime: NLU service is required")
	}

	emitter := deps.Emitter
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}

	actions := deps.Actions
	if actions == nil {
		actions = flow.NewActionRegistry(time.Duration(cfg.Settings.Limits.ActionTimeoutSeconds) * time.Second)
	}
	if actions.Timeout == 0 {
		actions.Timeout = time.Duration(cfg.Settings.Limits.ActionTimeoutSeconds) * time.Second
	}

	checkpoints := deps.Store
	if checkpoints == nil {
		var err error
		checkpoints, err = buildStore(cfg.Settings.Persistence)
		if err != nil {
			return nil, err
		}
	}

	templates := cfg.Settings.Responses.Templates()
	flowManager := dialogue.NewFlowManager(
		cfg.Settings.Limits.MaxFlowStackDepth,
		cfg.Settings.Limits.StackOverflowPolicy,
	)
	slotProc := flow.NewSlotProcessor(cfg.Slots)

	registry, err := flow.BuildRegistry(cfg.Flows, flow.CompileOptions{
		Actions:                 actions,
		Slots:                   slotProc,
		Flows:                   flowManager,
		Emitter:                 emitter,
		Templates:               templates,
		MaxConfirmationAttempts: cfg.Settings.Limits.MaxConfirmationAttempts,
	})
	if err != nil {
		return nil, err
	}

	r := &Runtime{
		cfg:         cfg,
		limits:      cfg.Settings.Limits,
		flows:       registry,
		flowManager: flowManager,
		handlers:    dialogue.NewHandlerRegistry(),
		slotProc:    slotProc,
		nluService:  deps.NLU,
		checkpoints: checkpoints,
		emitter:     emitter,
		metrics:     deps.Metrics,
		templates:   templates,
		keyLocks:    make(map[string]*sync.Mutex),
		turns:       make(map[string]int),
	}

	for _, name := range registry.Names() {
		fc, _ := registry.Config(name)
		r.flowSummaries = append(r.flowSummaries, nlu.FlowSummary{
			Name:        name,
			Description: fc.Description,
		})
	}
	for name := range cfg.Actions {
		r.actionNames = append(r.actionNames, name)
	}
	sort.Strings(r.actionNames)

	orchestrator, err := r.buildOrchestrator()
	if err != nil {
		return nil, err
	}
	r.orchestrator = orchestrator

	return r, nil
}

// buildStore constructs the checkpoint backend named in the configuration.
func buildStore(p config.Persistence) (store.Store[dialogue.State], error) {
	switch p.Backend {
	case "memory":
		return store.NewMemStore[dialogue.State](), nil
	case "sqlite":
		return store.NewSQLiteStore[dialogue.State](p.Connection)
	case "mysql":
		return store.NewMySQLStore[dialogue.State](p.Connection)
	}
	return nil, fmt.Errorf("runtime: unknown persistence backend: %s", p.Backend)
}

// ProcessMessage advances the conversation for one user by one turn: load
// the checkpoint, bind the message, run the orchestrator graph, persist,
// and return the reply. Turns for the same key are serialized; the
// checkpoint is not written when the context is cancelled or the turn
// fails, so state rolls back to the last durable checkpoint.
func (r *Runtime) ProcessMessage(ctx context.Context, userKey, message string) (Reply, error) {
	unlock := r.lockKey(userKey)
	defer unlock()

	started := time.Now()

	state, err := r.checkpoints.Load(ctx, userKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			r.metrics.RecordTurn(time.Since(started), "error")
			return Reply{}, fmt.Errorf("failed to load checkpoint: %w", err)
		}
		state = dialogue.NewState()
	}

	state = dialogue.Apply(state, dialogue.Delta{UserMessage: message})

	runID := r.nextRunID(userKey)
	final, err := r.orchestrator.Invoke(ctx, runID, state)
	if err != nil {
		r.metrics.RecordTurn(time.Since(started), "error")
		return Reply{}, fmt.Errorf("turn failed: %w", err)
	}

	if ctx.Err() != nil {
		// Cancelled turns persist nothing; the next turn resumes from
		// the previous checkpoint.
		r.metrics.RecordTurn(time.Since(started), "cancelled")
		return Reply{}, ctx.Err()
	}

	if err := r.checkpoints.Save(ctx, userKey, final); err != nil {
		r.metrics.RecordTurn(time.Since(started), "error")
		return Reply{}, fmt.Errorf("failed to save checkpoint: %w", err)
	}

	reply := Reply{Paused: final.PendingTask != nil}
	if n := len(final.Messages); n > 0 && final.Messages[n-1].Role == dialogue.RoleAssistant {
		reply.Response = final.Messages[n-1].Content
	}

	r.metrics.RecordTurn(time.Since(started), "ok")
	r.metrics.RecordStackDepth(len(final.FlowStack))
	return reply, nil
}

// ResetState deletes the user's checkpoint.
func (r *Runtime) ResetState(ctx context.Context, userKey string) error {
	unlock := r.lockKey(userKey)
	defer unlock()
	return r.checkpoints.Delete(ctx, userKey)
}

// GetState returns the user's persisted state for inspection. A user with
// no checkpoint gets a fresh empty state.
func (r *Runtime) GetState(ctx context.Context, userKey string) (dialogue.State, error) {
	state, err := r.checkpoints.Load(ctx, userKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return dialogue.NewState(), nil
		}
		return dialogue.State{}, err
	}
	return state, nil
}

// lockKey serializes turns per user key.
func (r *Runtime) lockKey(userKey string) func() {
	r.keysMu.Lock()
	lock, ok := r.keyLocks[userKey]
	if !ok {
		lock = &sync.Mutex{}
		r.keyLocks[userKey] = lock
	}
	r.keysMu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// nextRunID labels one turn's events: "<userKey>:<turn index>".
func (r *Runtime) nextRunID(userKey string) string {
	r.keysMu.Lock()
	defer r.keysMu.Unlock()
	r.turns[userKey]++
	return fmt.Sprintf("%s:%d", userKey, r.turns[userKey])
}
