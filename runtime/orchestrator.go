package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/jmorenobl/soni/dialogue"
	"github.com/jmorenobl/soni/graph"
	"github.com/jmorenobl/soni/graph/emit"
	"github.com/jmorenobl/soni/nlu"
)

// Orchestrator node names.
const (
	nodeGate       = "human_input_gate"
	nodeUnderstand = "understand"
	nodeExecute    = "execute_flow"
	nodeResume     = "resume"
	nodeRespond    = "respond"
)

// orchestratorMaxSteps backstops the execute/resume loop. Each pass through
// the loop pops at least one flow, so the stack depth bounds real usage far
// below this.
const orchestratorMaxSteps = 64

// buildOrchestrator wires the top-level turn graph:
//
//	START -> human_input_gate -> understand -> execute_flow -> resume
//	resume -> execute_flow   (stack non-empty, nothing pending)
//	resume -> respond -> END
func (r *Runtime) buildOrchestrator() (*graph.Engine[dialogue.State, dialogue.Delta], error) {
	engine := graph.New(dialogue.Apply, r.emitter, graph.Options{MaxSteps: orchestratorMaxSteps})

	nodes := map[string]graph.NodeFunc[dialogue.State, dialogue.Delta]{
		nodeGate:       r.gateNode(),
		nodeUnderstand: r.understandNode(),
		nodeExecute:    r.executeFlowNode(),
		nodeResume:     r.resumeNode(),
		nodeRespond:    r.respondNode(),
	}
	for id, fn := range nodes {
		if err := engine.Add(id, fn); err != nil {
			return nil, err
		}
	}
	if err := engine.StartAt(nodeGate); err != nil {
		return nil, err
	}

	if err := engine.Connect(nodeGate, nodeUnderstand, nil); err != nil {
		return nil, err
	}
	if err := engine.Connect(nodeUnderstand, nodeExecute, nil); err != nil {
		return nil, err
	}
	if err := engine.Connect(nodeExecute, nodeResume, nil); err != nil {
		return nil, err
	}
	if err := engine.Connect(nodeResume, nodeExecute, func(s dialogue.State) bool {
		return s.PendingTask == nil && len(s.FlowStack) > 0
	}); err != nil {
		return nil, err
	}
	if err := engine.Connect(nodeResume, nodeRespond, nil); err != nil {
		return nil, err
	}

	return engine, nil
}

// gateNode is the single suspension point of the runtime. On entry the
// caller has already bound the new user message; the gate appends it to the
// history and lets interpretation take over. The pending task stays on the
// state until understand has built the NLU context from it.
func (r *Runtime) gateNode() graph.NodeFunc[dialogue.State, dialogue.Delta] {
	return func(_ context.Context, state dialogue.State) graph.NodeResult[dialogue.State, dialogue.Delta] {
		delta := dialogue.Delta{}
		if state.UserMessage != "" {
			delta.Messages = []dialogue.Message{{Role: dialogue.RoleUser, Content: state.UserMessage}}
		}
		if state.PendingTask != nil {
			r.emitTurnEvent("task_resume", map[string]interface{}{
				"kind": string(state.PendingTask.Kind),
			})
		}
		return graph.NodeResult[dialogue.State, dialogue.Delta]{Delta: delta}
	}
}

// understandNode runs the NLU exactly once for the turn, records its
// commands on the state, and dispatches every command through the handler
// registry so that execute_flow sees the correct stack and slots. It also
// consumes the pending task the turn resumed from.
func (r *Runtime) understandNode() graph.NodeFunc[dialogue.State, dialogue.Delta] {
	return func(ctx context.Context, state dialogue.State) graph.NodeResult[dialogue.State, dialogue.Delta] {
		dctx := r.buildNLUContext(state)

		out, err := r.nluService.Interpret(ctx, state.UserMessage, dctx)
		if err != nil {
			// NLU failure: neutral fallback, stack untouched.
			r.metrics.RecordNLUFailure()
			r.emitTurnEvent("nlu_error", map[string]interface{}{"error": err.Error()})
			return graph.NodeResult[dialogue.State, dialogue.Delta]{
				Delta: dialogue.Delta{
					Responses:        []string{r.templates.ErrorMessage()},
					ClearPendingTask: true,
				},
				Route: graph.Goto(nodeRespond),
			}
		}

		delta := dialogue.Delta{Commands: out.Commands}
		working := dialogue.Apply(state, delta)

		validated, vdelta := r.validateSetSlots(out.Commands)
		if len(vdelta.Responses) > 0 {
			delta.Merge(vdelta)
			working = dialogue.Apply(working, vdelta)
		}

		for _, cmd := range validated {
			d, err := r.handlers.Dispatch(cmd, working, r.handlerContext())
			if err != nil {
				if errors.Is(err, dialogue.ErrStackOverflow) {
					r.emitTurnEvent("stack_overflow_rejected", map[string]interface{}{
						"command": cmd.CommandType(),
					})
					continue
				}
				var unknown *dialogue.UnknownCommandError
				if errors.As(err, &unknown) {
					return graph.NodeResult[dialogue.State, dialogue.Delta]{Err: err}
				}
				r.emitTurnEvent("command_error", map[string]interface{}{
					"command": cmd.CommandType(),
					"error":   err.Error(),
				})
				continue
			}
			r.metrics.RecordCommand(cmd.CommandType())
			working = dialogue.Apply(working, d)
			delta.Merge(d)
		}

		// The resumed task is consumed; steps re-emit theirs if still unmet.
		delta.Merge(dialogue.Delta{ClearPendingTask: true})

		// Steer the user back after too many consecutive digressions.
		if r.limits.MaxDigressionDepth > 0 &&
			working.DigressionCount > r.limits.MaxDigressionDepth &&
			state.PendingTask != nil {
			delta.Merge(dialogue.Delta{
				Responses:        []string{"Let's get back to it."},
				ResetDigressions: true,
			})
		}

		return graph.NodeResult[dialogue.State, dialogue.Delta]{Delta: delta}
	}
}

// validateSetSlots normalizes and validates set_slot values against the
// configured slot schemas. Rejected commands are dropped and replaced with a
// re-prompt utterance; the unfilled collect step then asks again.
func (r *Runtime) validateSetSlots(cmds dialogue.CommandList) (dialogue.CommandList, dialogue.Delta) {
	if r.slotProc == nil {
		return cmds, dialogue.Delta{}
	}

	var delta dialogue.Delta
	kept := make(dialogue.CommandList, 0, len(cmds))
	for _, cmd := range cmds {
		set, ok := cmd.(dialogue.SetSlot)
		if !ok {
			kept = append(kept, cmd)
			continue
		}
		value, err := r.slotProc.Process(set.Name, set.Value, "")
		if err != nil {
			r.emitTurnEvent("slot_validation_failed", map[string]interface{}{
				"slot":  set.Name,
				"error": err.Error(),
			})
			delta.Merge(dialogue.Delta{Responses: []string{err.Error() + " Please provide it again."}})
			continue
		}
		kept = append(kept, dialogue.SetSlot{Name: set.Name, Value: value})
	}
	return kept, delta
}

// executeFlowNode drives the active flow's compiled subgraph to completion
// or to an input gate. Step nodes never suspend themselves: the subgraph is
// re-invoked fresh from its start on every resume, with collect/confirm
// short-circuiting on filled slots and say/action/set guarded by the
// executed-steps record.
func (r *Runtime) executeFlowNode() graph.NodeFunc[dialogue.State, dialogue.Delta] {
	return func(ctx context.Context, state dialogue.State) graph.NodeResult[dialogue.State, dialogue.Delta] {
		var delta dialogue.Delta
		working := state

		for iteration := 0; ; iteration++ {
			if iteration >= r.limits.SubgraphIterationLimit {
				r.emitTurnEvent("iteration_limit_exceeded", nil)
				d := r.terminateActive(working)
				working = dialogue.Apply(working, d)
				delta.Merge(d)
				break
			}

			active := working.ActiveContext()
			if active == nil {
				break
			}

			sub, ok := r.flows.Get(active.FlowName)
			if !ok {
				r.emitTurnEvent("subgraph_missing", map[string]interface{}{"flow": active.FlowName})
				d := r.terminateActive(working)
				working = dialogue.Apply(working, d)
				delta.Merge(d)
				continue
			}

			result, err := sub.Invoke(ctx, active.FlowID, projectSubgraphInput(working))
			if err != nil {
				r.emitTurnEvent("subgraph_error", map[string]interface{}{
					"flow":  active.FlowName,
					"error": err.Error(),
				})
				d := r.terminateActive(working)
				working = dialogue.Apply(working, d)
				delta.Merge(d)
				continue
			}

			d := adoptSubgraphResult(result)
			working = dialogue.Apply(working, d)
			delta.Merge(d)

			if result.PendingTask == nil {
				// Subgraph ran to its terminal node: the flow finished
				// (or halted in error). Pop and move to the next flow.
				outcome := dialogue.ResultCompleted
				if top := working.ActiveContext(); top != nil && top.State == dialogue.FlowError {
					outcome = dialogue.ResultError
				}
				_, pd, err := r.flowManager.PopFlow(working, outcome)
				if err != nil {
					break
				}
				r.emitTurnEvent("flow_popped", map[string]interface{}{
					"flow":   active.FlowName,
					"result": string(outcome),
				})
				working = dialogue.Apply(working, pd)
				delta.Merge(pd)
				continue
			}

			if !result.PendingTask.RequiresInput() {
				// Inform without acknowledgement: deliver and keep going.
				d := dialogue.Delta{
					Responses:        []string{result.PendingTask.Prompt},
					ClearPendingTask: true,
				}
				working = dialogue.Apply(working, d)
				delta.Merge(d)
				continue
			}

			// Input required: surface the task and end the loop; the
			// next turn re-enters through the gate.
			r.metrics.RecordPendingTask(string(result.PendingTask.Kind))
			break
		}

		return graph.NodeResult[dialogue.State, dialogue.Delta]{Delta: delta}
	}
}

// terminateActive marks the active flow errored, pops it, and emits the
// generic failure utterance.
func (r *Runtime) terminateActive(state dialogue.State) dialogue.Delta {
	_, delta, err := r.flowManager.PopFlow(state, dialogue.ResultError)
	if err != nil {
		return dialogue.Delta{}
	}
	delta.Merge(dialogue.Delta{
		Responses:        []string{r.templates.ErrorMessage()},
		ClearPendingTask: true,
	})
	return delta
}

// resumeNode cleans up after subgraph execution: it compacts stale per-flow
// entries whose flow is no longer on the stack. Routing decides whether
// another flow continues or the turn responds.
func (r *Runtime) resumeNode() graph.NodeFunc[dialogue.State, dialogue.Delta] {
	return func(_ context.Context, state dialogue.State) graph.NodeResult[dialogue.State, dialogue.Delta] {
		live := make(map[string]bool, len(state.FlowStack))
		for _, fc := range state.FlowStack {
			live[fc.FlowID] = true
		}

		var stale []string
		for flowID := range state.FlowSlots {
			if !live[flowID] {
				stale = append(stale, flowID)
			}
		}
		for flowID := range state.ExecutedSteps {
			if !live[flowID] && !contains(stale, flowID) {
				stale = append(stale, flowID)
			}
		}

		var delta dialogue.Delta
		if len(stale) > 0 {
			delta.PurgeFlows = stale
		}
		return graph.NodeResult[dialogue.State, dialogue.Delta]{Delta: delta}
	}
}

// respondNode joins the turn's accumulated utterances — plus the pending
// task's prompt when the runtime is pausing — into the assistant reply,
// appends it to the history, and clears all per-turn state.
func (r *Runtime) respondNode() graph.NodeFunc[dialogue.State, dialogue.Delta] {
	return func(_ context.Context, state dialogue.State) graph.NodeResult[dialogue.State, dialogue.Delta] {
		reply := assembleReply(state)

		delta := dialogue.Delta{
			FlushResponses:   true,
			ClearCommands:    true,
			ClearUserMessage: true,
		}
		if reply != "" {
			delta.Messages = []dialogue.Message{{Role: dialogue.RoleAssistant, Content: reply}}
		}

		return graph.NodeResult[dialogue.State, dialogue.Delta]{
			Delta: delta,
			Route: graph.Stop(),
		}
	}
}

// assembleReply joins pending responses and, when paused, the task prompt.
func assembleReply(state dialogue.State) string {
	parts := append([]string{}, state.PendingResponses...)
	if state.PendingTask != nil && state.PendingTask.Prompt != "" {
		parts = append(parts, state.PendingTask.Prompt)
	}

	reply := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if reply != "" {
			reply += "\n"
		}
		reply += p
	}
	return reply
}

// projectSubgraphInput builds the state a subgraph invocation starts from:
// the flow data it needs, with the suspension fields reset so the run
// begins clean.
func projectSubgraphInput(state dialogue.State) dialogue.State {
	return dialogue.State{
		FlowStack:     state.FlowStack,
		FlowSlots:     state.FlowSlots,
		Commands:      state.Commands,
		ExecutedSteps: state.ExecutedSteps,
		UserMessage:   state.UserMessage,
	}
}

// adoptSubgraphResult converts a finished subgraph invocation back into a
// delta against the orchestrator state.
func adoptSubgraphResult(result dialogue.State) dialogue.Delta {
	delta := dialogue.Delta{
		FlowStack:     result.FlowStack,
		FlowSlots:     result.FlowSlots,
		ExecutedSteps: result.ExecutedSteps,
		Responses:     result.PendingResponses,
	}
	if result.PendingTask != nil {
		delta.PendingTask = result.PendingTask
	}
	return delta
}

// buildNLUContext renders the dialogue context the NLU interprets against.
func (r *Runtime) buildNLUContext(state dialogue.State) nlu.Context {
	dctx := nlu.Context{
		AvailableFlows:   r.flowSummaries,
		AvailableActions: r.actionNames,
		RecentMessages:   state.Messages,
		Now:              time.Now(),
	}
	if active := state.ActiveContext(); active != nil {
		dctx.ActiveFlow = active.FlowName
	}
	if task := state.PendingTask; task != nil {
		dctx.PendingPrompt = task.Prompt
		switch task.Kind {
		case dialogue.TaskCollect:
			dctx.WaitingSlot = task.SlotName
		case dialogue.TaskConfirm:
			dctx.PendingConfirmation = true
		}
	}
	return dctx
}

func (r *Runtime) handlerContext() *dialogue.HandlerContext {
	return &dialogue.HandlerContext{
		Flows:     r.flowManager,
		Emitter:   r.emitter,
		Templates: r.templates,
	}
}

func (r *Runtime) emitTurnEvent(msg string, meta map[string]interface{}) {
	if r.emitter == nil {
		return
	}
	r.emitter.Emit(emit.Event{Msg: msg, Meta: meta})
}

func contains(list []string, item string) bool {
	for _, s := range list {
		if s == item {
			return true
		}
	}
	return false
}
