package flow

import (
	"context"

	"github.com/jmorenobl/soni/dialogue"
	"github.com/jmorenobl/soni/graph"
	"github.com/jmorenobl/soni/graph/emit"
)

// stepOutcome is what a step body produces: a delta and whether the
// subgraph must stop here (pause for input, or halt after a failure).
type stepOutcome struct {
	delta dialogue.Delta
	stop  bool
}

// stepFunc is the inner logic of one compiled step, before wrapping.
type stepFunc func(ctx context.Context, state dialogue.State) (stepOutcome, error)

// makeStepNode builds the executable node for a normalized step: the
// per-kind body wrapped with the shared routing and bookkeeping shell.
func makeStepNode(flowName string, n normStep, opts CompileOptions) graph.NodeFunc[dialogue.State, dialogue.Delta] {
	var body stepFunc

	if n.loopGuard {
		body = whileGuardStep(n)
	} else {
		switch n.cfg.Type {
		case StepCollect:
			body = collectStep(n.cfg, opts)
		case StepConfirm:
			body = confirmStep(n.cfg, opts)
		case StepSay:
			body = sayStep(n.cfg, opts)
		case StepAction:
			body = actionStep(flowName, n.cfg, opts)
		case StepSet:
			body = setStep(n.cfg)
		case StepBranch:
			body = branchStep(n.cfg, n.successor)
		}
	}

	return wrapStep(n.cfg.Step, n.successor, body, opts)
}

// wrapStep is the routing shell shared by every step node. It consumes a
// stale branch target, runs the body, keeps the flow context's current-step
// marker accurate, and turns the outcome into a routing decision: stop on
// pause, follow the branch target when the body set one, otherwise go to the
// textual successor.
func wrapStep(stepName, successor string, body stepFunc, opts CompileOptions) graph.NodeFunc[dialogue.State, dialogue.Delta] {
	return func(ctx context.Context, state dialogue.State) graph.NodeResult[dialogue.State, dialogue.Delta] {
		var delta dialogue.Delta
		if state.BranchTarget != "" {
			delta.ClearBranchTarget = true
		}

		out, err := body(ctx, state)
		if err != nil {
			return graph.NodeResult[dialogue.State, dialogue.Delta]{Err: err}
		}
		delta.Merge(out.delta)

		if active := state.ActiveContext(); active != nil && opts.Flows != nil {
			applied := dialogue.Apply(state, delta)
			delta.Merge(opts.Flows.UpdateCurrentStep(applied, active.FlowID, stepName))
			if out.stop && out.delta.PendingTask.RequiresInput() {
				applied = dialogue.Apply(state, delta)
				delta.Merge(opts.Flows.MarkWaiting(applied, active.FlowID))
			}
		}

		if out.stop {
			return graph.NodeResult[dialogue.State, dialogue.Delta]{Delta: delta, Route: graph.Stop()}
		}

		if target := out.delta.BranchTarget; target != "" {
			return graph.NodeResult[dialogue.State, dialogue.Delta]{Delta: delta, Route: graph.Goto(target)}
		}

		next := successor
		if next == "" {
			next = EndNode
		}
		return graph.NodeResult[dialogue.State, dialogue.Delta]{Delta: delta, Route: graph.Goto(next)}
	}
}

// collectStep passes through once its slot is filled (whether by an earlier
// turn, a StartFlow pre-population, or a SetSlot applied in understand) and
// otherwise pauses with a collect task.
func collectStep(cfg StepConfig, opts CompileOptions) stepFunc {
	return func(_ context.Context, state dialogue.State) (stepOutcome, error) {
		active := state.ActiveContext()
		if active == nil {
			return stepOutcome{}, dialogue.ErrEmptyStack
		}

		if _, ok := state.Slot(active.FlowID, cfg.Slot); ok {
			return stepOutcome{}, nil
		}

		slots := state.FlowSlots[active.FlowID]
		prompt := Interpolate(cfg.Prompt, slots, missingSlotWarner(opts.Emitter, cfg.Step))
		task := dialogue.NewCollectTask(prompt, cfg.Slot, cfg.Options)

		return stepOutcome{
			delta: dialogue.Delta{PendingTask: task},
			stop:  true,
		}, nil
	}
}

// confirmStep mirrors collect over the confirmation slot. Affirm and deny
// commands were already resolved into the slot by the understand node, so an
// unset slot always re-prompts — up to the attempt limit, after which the
// confirmation resolves as denied.
func confirmStep(cfg StepConfig, opts CompileOptions) stepFunc {
	attemptsSlot := "__attempts__" + cfg.Step

	return func(_ context.Context, state dialogue.State) (stepOutcome, error) {
		active := state.ActiveContext()
		if active == nil {
			return stepOutcome{}, dialogue.ErrEmptyStack
		}

		if _, ok := state.Slot(active.FlowID, cfg.Slot); ok {
			return stepOutcome{}, nil
		}

		slots := state.FlowSlots[active.FlowID]

		attempts := 0
		if raw, ok := state.Slot(active.FlowID, attemptsSlot); ok {
			if n, isNum := asNumber(raw); isNum {
				attempts = int(n)
			}
		}
		if opts.MaxConfirmationAttempts > 0 && attempts >= opts.MaxConfirmationAttempts {
			return stepOutcome{delta: dialogue.Delta{
				FlowSlots: map[string]dialogue.Slots{
					active.FlowID: {cfg.Slot: false},
				},
			}}, nil
		}

		prompt := Interpolate(cfg.Prompt, slots, missingSlotWarner(opts.Emitter, cfg.Step))
		task := dialogue.NewConfirmTask(prompt, cfg.Slot, cfg.Options)

		return stepOutcome{
			delta: dialogue.Delta{
				PendingTask: task,
				FlowSlots: map[string]dialogue.Slots{
					active.FlowID: {attemptsSlot: attempts + 1},
				},
			},
			stop: true,
		}, nil
	}
}

// sayStep interpolates its template and appends the utterance, at most once
// per flow instance. With wait_for_ack it instead pauses with an inform task.
func sayStep(cfg StepConfig, opts CompileOptions) stepFunc {
	return func(_ context.Context, state dialogue.State) (stepOutcome, error) {
		active := state.ActiveContext()
		if active == nil {
			return stepOutcome{}, dialogue.ErrEmptyStack
		}
		if state.StepExecuted(active.FlowID, cfg.Step) {
			return stepOutcome{}, nil
		}

		slots := state.FlowSlots[active.FlowID]
		text := Interpolate(cfg.Message, slots, missingSlotWarner(opts.Emitter, cfg.Step))

		delta := dialogue.Delta{
			ExecutedSteps: map[string][]string{active.FlowID: {cfg.Step}},
		}

		if cfg.WaitForAck {
			delta.PendingTask = dialogue.NewInformTask(text, true)
			return stepOutcome{delta: delta, stop: true}, nil
		}

		delta.Responses = []string{text}
		return stepOutcome{delta: delta}, nil
	}
}

// actionStep resolves input slots, invokes the registered handler under the
// registry timeout, and maps outputs back to slots. It runs at most once per
// flow instance. A failed or timed-out handler emits the generic error
// utterance, marks the flow errored, and halts the subgraph; the execute
// loop pops the flow.
func actionStep(flowName string, cfg StepConfig, opts CompileOptions) stepFunc {
	return func(ctx context.Context, state dialogue.State) (stepOutcome, error) {
		active := state.ActiveContext()
		if active == nil {
			return stepOutcome{}, dialogue.ErrEmptyStack
		}
		if state.StepExecuted(active.FlowID, cfg.Step) {
			return stepOutcome{}, nil
		}

		slots := state.FlowSlots[active.FlowID]
		inputs := make(map[string]interface{}, len(cfg.Inputs))
		for _, name := range cfg.Inputs {
			inputs[name] = slots[name]
		}

		outputs, err := opts.Actions.Invoke(ctx, cfg.Call, inputs)
		if err != nil {
			if opts.Emitter != nil {
				opts.Emitter.Emit(emit.Event{
					NodeID: cfg.Step,
					Msg:    "action_error",
					Meta: map[string]interface{}{
						"flow":   flowName,
						"action": cfg.Call,
						"error":  err.Error(),
					},
				})
			}
			return stepOutcome{
				delta: dialogue.Delta{
					Responses: []string{opts.Templates.ErrorMessage()},
					FlowStack: markErrored(state.FlowStack, active.FlowID),
				},
				stop: true,
			}, nil
		}

		written := make(dialogue.Slots, len(cfg.MapOutputs))
		for outputName, slotName := range cfg.MapOutputs {
			value, ok := outputs[outputName]
			if !ok {
				if opts.Emitter != nil {
					opts.Emitter.Emit(emit.Event{
						NodeID: cfg.Step,
						Msg:    "action_output_missing",
						Meta:   map[string]interface{}{"action": cfg.Call, "output": outputName},
					})
				}
				continue
			}
			written[slotName] = value
		}

		delta := dialogue.Delta{
			ExecutedSteps: map[string][]string{active.FlowID: {cfg.Step}},
		}
		if len(written) > 0 {
			delta.FlowSlots = map[string]dialogue.Slots{active.FlowID: written}
		}
		return stepOutcome{delta: delta}, nil
	}
}

// setStep writes a literal, or the value of another slot when the literal is
// a "$slot" reference. At most once per flow instance.
func setStep(cfg StepConfig) stepFunc {
	return func(_ context.Context, state dialogue.State) (stepOutcome, error) {
		active := state.ActiveContext()
		if active == nil {
			return stepOutcome{}, dialogue.ErrEmptyStack
		}
		if state.StepExecuted(active.FlowID, cfg.Step) {
			return stepOutcome{}, nil
		}

		value := cfg.Value
		if ref, ok := value.(string); ok && len(ref) > 1 && ref[0] == '$' {
			value = state.FlowSlots[active.FlowID][ref[1:]]
		}

		return stepOutcome{delta: dialogue.Delta{
			FlowSlots:     map[string]dialogue.Slots{active.FlowID: {cfg.Slot: value}},
			ExecutedSteps: map[string][]string{active.FlowID: {cfg.Step}},
		}}, nil
	}
}

// branchStep reads its input slot, selects the matching case or the default,
// and records the choice as the branch target. With neither a match nor a
// default, execution falls through to the textual successor.
func branchStep(cfg StepConfig, successor string) stepFunc {
	return func(_ context.Context, state dialogue.State) (stepOutcome, error) {
		active := state.ActiveContext()
		if active == nil {
			return stepOutcome{}, dialogue.ErrEmptyStack
		}

		input := cfg.Input
		if len(input) > 1 && input[0] == '$' {
			input = input[1:]
		}
		value := asString(state.FlowSlots[active.FlowID][input])

		target, ok := cfg.Cases[value]
		if !ok {
			target = cfg.Default
		}
		if target == "" {
			target = successor
		}

		return stepOutcome{delta: dialogue.Delta{BranchTarget: target}}, nil
	}
}

// whileGuardStep is the branch synthesized from a while step: condition true
// loops into the body head, false exits to the step after the loop.
func whileGuardStep(n normStep) stepFunc {
	return func(_ context.Context, state dialogue.State) (stepOutcome, error) {
		active := state.ActiveContext()
		if active == nil {
			return stepOutcome{}, dialogue.ErrEmptyStack
		}

		target := n.successor
		if EvalCondition(n.cfg.Condition, state.FlowSlots[active.FlowID]) {
			target = n.bodyHead
		}
		return stepOutcome{delta: dialogue.Delta{BranchTarget: target}}, nil
	}
}

// endNode is the synthetic terminal every compiled flow stops at.
func endNode(flowName string, emitter emit.Emitter) graph.NodeFunc[dialogue.State, dialogue.Delta] {
	return func(_ context.Context, state dialogue.State) graph.NodeResult[dialogue.State, dialogue.Delta] {
		var delta dialogue.Delta
		if state.BranchTarget != "" {
			delta.ClearBranchTarget = true
		}
		if emitter != nil {
			emitter.Emit(emit.Event{
				NodeID: EndNode,
				Msg:    "flow_end",
				Meta:   map[string]interface{}{"flow": flowName},
			})
		}
		return graph.NodeResult[dialogue.State, dialogue.Delta]{Delta: delta, Route: graph.Stop()}
	}
}

// markErrored returns a copy of the stack with the given flow marked ERROR.
func markErrored(stack []dialogue.FlowContext, flowID string) []dialogue.FlowContext {
	out := append([]dialogue.FlowContext{}, stack...)
	for i := range out {
		if out[i].FlowID == flowID {
			out[i].State = dialogue.FlowError
		}
	}
	return out
}

// missingSlotWarner reports template placeholders with no slot value.
func missingSlotWarner(emitter emit.Emitter, stepName string) func(string) {
	if emitter == nil {
		return nil
	}
	return func(name string) {
		emitter.Emit(emit.Event{
			NodeID: stepName,
			Msg:    "template_missing_slot",
			Meta:   map[string]interface{}{"slot": name},
		})
	}
}
