package flow

import (
	"context"
	"time"

	"github.com/jmorenobl/soni/dialogue"
	"github.com/jmorenobl/soni/graph"
	"github.com/jmorenobl/soni/graph/emit"
)

// EndNode is the synthetic terminal node appended to every compiled flow.
const EndNode = "__end_flow__"

// defaultSubgraphMaxSteps backstops runaway while loops inside one
// subgraph invocation.
const defaultSubgraphMaxSteps = 256

// CompileOptions carries the shared collaborators compiled nodes close over.
// The same options value is used for every flow in a configuration.
type CompileOptions struct {
	// Actions resolves action step handlers. Required when any flow has
	// action steps.
	Actions *ActionRegistry

	// Slots applies normalizers and validators. Optional.
	Slots *SlotProcessor

	// Flows performs stack bookkeeping from inside step nodes.
	Flows *dialogue.FlowManager

	// Emitter receives step-level observability events. Optional.
	Emitter emit.Emitter

	// Templates supplies the generic error utterance for failed actions.
	Templates dialogue.ResponseTemplates

	// MaxConfirmationAttempts bounds confirm re-prompts; an exhausted
	// confirmation resolves as denied. Zero means unlimited.
	MaxConfirmationAttempts int

	// MaxSteps bounds nodes executed per subgraph invocation.
	// Zero selects a generous default.
	MaxSteps int

	// ActionTimeout is not read by the compiled steps; each action call is
	// bounded by the Actions registry's Timeout (DefaultActionTimeout when
	// that is zero).
	ActionTimeout time.Duration
}

// Subgraph is the compiled, executable representation of one flow.
type Subgraph struct {
	// Name is the flow name this subgraph was compiled from.
	Name string

	// StepOrder lists the compiled step names in execution layout order,
	// after while desugaring.
	StepOrder []string

	engine *graph.Engine[dialogue.State, dialogue.Delta]
}

// Invoke executes the subgraph over the projected state until the flow
// completes or a step pauses for input, returning the accumulated state.
func (s *Subgraph) Invoke(ctx context.Context, runID string, state dialogue.State) (dialogue.State, error) {
	return s.engine.Invoke(ctx, runID, state)
}

// normStep is a step after while desugaring: its configuration plus the
// resolved default successor.
type normStep struct {
	cfg       StepConfig
	successor string

	// loopGuard marks a branch node synthesized from a while step; its
	// condition routes to bodyHead (true) or successor (false).
	loopGuard bool
	bodyHead  string
}

// Compile translates a declarative flow definition into an executable
// subgraph. It is deterministic and never mutates its input: the step list
// is deep-copied before any transformation.
func Compile(cfg FlowConfig, opts CompileOptions) (*Subgraph, error) {
	steps := copySteps(cfg.Steps)

	normalized, err := normalize(cfg.Name, steps, EndNode)
	if err != nil {
		return nil, err
	}

	if err := validateSteps(cfg.Name, normalized, opts); err != nil {
		return nil, err
	}

	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultSubgraphMaxSteps
	}

	engine := graph.New(dialogue.Apply, opts.Emitter, graph.Options{MaxSteps: maxSteps})

	order := make([]string, 0, len(normalized))
	for _, n := range normalized {
		node := makeStepNode(cfg.Name, n, opts)
		if err := engine.Add(n.cfg.Step, node); err != nil {
			return nil, &CompilationError{Flow: cfg.Name, Step: n.cfg.Step, Reason: err.Error()}
		}
		if err := engine.Connect(n.cfg.Step, n.successor, nil); err != nil {
			return nil, &CompilationError{Flow: cfg.Name, Step: n.cfg.Step, Reason: err.Error()}
		}
		order = append(order, n.cfg.Step)
	}

	if err := engine.Add(EndNode, endNode(cfg.Name, opts.Emitter)); err != nil {
		return nil, &CompilationError{Flow: cfg.Name, Reason: err.Error()}
	}

	start := EndNode
	if len(normalized) > 0 {
		start = normalized[0].cfg.Step
	}
	if err := engine.StartAt(start); err != nil {
		return nil, &CompilationError{Flow: cfg.Name, Reason: err.Error()}
	}

	return &Subgraph{Name: cfg.Name, StepOrder: order, engine: engine}, nil
}

// normalize flattens the step list, desugaring each while into a guard
// branch followed by its body. The body's exit target is the guard itself,
// so the last body step loops back unless it declares its own jump_to.
func normalize(flowName string, steps []StepConfig, exit string) ([]normStep, error) {
	out := make([]normStep, 0, len(steps))

	for i, s := range steps {
		successor := exit
		if i+1 < len(steps) {
			successor = steps[i+1].Step
		}

		if s.Type == StepWhile {
			if len(s.Do) == 0 {
				return nil, &CompilationError{Flow: flowName, Step: s.Step, Reason: "while body is empty"}
			}
			guard := normStep{
				cfg:       s,
				successor: successor,
				loopGuard: true,
				bodyHead:  s.Do[0].Step,
			}
			body, err := normalize(flowName, s.Do, s.Step)
			if err != nil {
				return nil, err
			}
			out = append(out, guard)
			out = append(out, body...)
			continue
		}

		if s.JumpTo != "" {
			successor = s.JumpTo
		}
		out = append(out, normStep{cfg: s, successor: successor})
	}

	return out, nil
}

// validateSteps rejects definitions a subgraph cannot be built from:
// duplicate or missing step names, unknown step types, absent per-type
// fields, dangling jump and branch targets, unregistered actions and
// validators, and loops no gate can ever break.
func validateSteps(flowName string, steps []normStep, opts CompileOptions) error {
	names := make(map[string]bool, len(steps))
	for _, n := range steps {
		if n.cfg.Step == "" {
			return &CompilationError{Flow: flowName, Reason: "step with empty name"}
		}
		if names[n.cfg.Step] {
			return &CompilationError{Flow: flowName, Step: n.cfg.Step, Reason: "duplicate step name"}
		}
		names[n.cfg.Step] = true
	}

	exists := func(target string) bool {
		return target == EndNode || names[target]
	}

	for _, n := range steps {
		s := n.cfg

		if !exists(n.successor) {
			return &CompilationError{Flow: flowName, Step: s.Step, Reason: "jump_to target does not exist: " + n.successor}
		}

		switch s.Type {
		case StepCollect:
			if s.Slot == "" || s.Prompt == "" {
				return &CompilationError{Flow: flowName, Step: s.Step, Reason: "collect requires slot and prompt"}
			}
			if s.Validator != "" && opts.Slots != nil && !opts.Slots.HasValidator(s.Validator) {
				return &CompilationError{Flow: flowName, Step: s.Step, Reason: "unknown validator: " + s.Validator}
			}
		case StepConfirm:
			if s.Slot == "" || s.Prompt == "" {
				return &CompilationError{Flow: flowName, Step: s.Step, Reason: "confirm requires slot and prompt"}
			}
		case StepAction:
			if s.Call == "" {
				return &CompilationError{Flow: flowName, Step: s.Step, Reason: "action requires call"}
			}
			if opts.Actions != nil && !opts.Actions.Has(s.Call) {
				return &CompilationError{Flow: flowName, Step: s.Step, Reason: "unknown action: " + s.Call}
			}
		case StepSay:
			if s.Message == "" {
				return &CompilationError{Flow: flowName, Step: s.Step, Reason: "say requires message"}
			}
		case StepSet:
			if s.Slot == "" {
				return &CompilationError{Flow: flowName, Step: s.Step, Reason: "set requires slot"}
			}
		case StepBranch:
			if s.Input == "" || len(s.Cases) == 0 {
				return &CompilationError{Flow: flowName, Step: s.Step, Reason: "branch requires input and cases"}
			}
			for value, target := range s.Cases {
				if !exists(target) {
					return &CompilationError{Flow: flowName, Step: s.Step, Reason: "branch case " + value + " targets unknown step: " + target}
				}
			}
			if s.Default != "" && !exists(s.Default) {
				return &CompilationError{Flow: flowName, Step: s.Step, Reason: "branch default targets unknown step: " + s.Default}
			}
		case StepWhile:
			// Desugared into a guard; the condition is required.
			if s.Condition == "" {
				return &CompilationError{Flow: flowName, Step: s.Step, Reason: "while requires condition"}
			}
		default:
			return &CompilationError{Flow: flowName, Step: s.Step, Reason: "unknown step type: " + string(s.Type)}
		}
	}

	return detectUnbreakableCycles(flowName, steps)
}

// detectUnbreakableCycles rejects cycles formed purely of say/set/action
// steps via default successors. Such a loop has no gate and no condition, so
// once every member has executed it can never make progress nor exit.
func detectUnbreakableCycles(flowName string, steps []normStep) error {
	byName := make(map[string]normStep, len(steps))
	for _, n := range steps {
		byName[n.cfg.Step] = n
	}

	breakable := func(n normStep) bool {
		switch n.cfg.Type {
		case StepSay, StepSet, StepAction:
			return false
		}
		return true
	}

	for _, start := range steps {
		if breakable(start) {
			continue
		}
		seen := map[string]bool{}
		current := start
		for {
			next, ok := byName[current.successor]
			if !ok || breakable(next) {
				break
			}
			if next.cfg.Step == start.cfg.Step {
				return &CompilationError{
					Flow:   flowName,
					Step:   start.cfg.Step,
					Reason: "unbreakable cycle: loop contains no collect, confirm, or branch step",
				}
			}
			if seen[next.cfg.Step] {
				break
			}
			seen[next.cfg.Step] = true
			current = next
		}
	}
	return nil
}
