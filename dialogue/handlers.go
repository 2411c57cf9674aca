package dialogue

import (
	"strings"
	"sync"

	"github.com/jmorenobl/soni/graph/emit"
)

// ResponseTemplates holds the canned utterances command handlers emit.
// Zero-value fields fall back to the defaults below.
type ResponseTemplates struct {
	// Cancelled is spoken when the user cancels the active flow.
	Cancelled string

	// NothingActive is spoken when a cancel arrives with an empty stack.
	NothingActive string

	// Clarify is spoken for a clarification digression; {flow} and
	// {prompt} interpolate the active flow name and pending prompt.
	Clarify string

	// Error is the generic unrecoverable-failure utterance.
	Error string
}

const (
	defaultCancelled     = "Okay, I've cancelled that."
	defaultNothingActive = "There's nothing in progress to cancel."
	defaultClarify       = "We're working on {flow}. {prompt}"
	defaultError         = "Sorry, something went wrong. Let's start over."
)

func (t ResponseTemplates) cancelled() string {
	if t.Cancelled != "" {
		return t.Cancelled
	}
	return defaultCancelled
}

func (t ResponseTemplates) nothingActive() string {
	if t.NothingActive != "" {
		return t.NothingActive
	}
	return defaultNothingActive
}

func (t ResponseTemplates) clarify() string {
	if t.Clarify != "" {
		return t.Clarify
	}
	return defaultClarify
}

// ErrorMessage returns the generic failure utterance.
func (t ResponseTemplates) ErrorMessage() string {
	if t.Error != "" {
		return t.Error
	}
	return defaultError
}

// HandlerContext carries the collaborators a command handler may use.
type HandlerContext struct {
	Flows     *FlowManager
	Emitter   emit.Emitter
	Templates ResponseTemplates
}

// Handler reacts to one command by returning a state delta. Handlers are
// pure with respect to the state: they read it and describe changes, they do
// not mutate it.
type Handler func(cmd Command, state State, hctx *HandlerContext) (Delta, error)

// HandlerRegistry dispatches commands to handlers by type. Built once at
// startup; registration is idempotent (last registration for a type wins).
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler

	// Strict makes Dispatch fail on unknown command types instead of
	// ignoring them.
	Strict bool
}

// NewHandlerRegistry returns a registry pre-populated with the built-in
// handlers for the full command set.
func NewHandlerRegistry() *HandlerRegistry {
	r := &HandlerRegistry{handlers: make(map[string]Handler)}
	r.Register(TypeStartFlow, handleStartFlow)
	r.Register(TypeCancelFlow, handleCancelFlow)
	r.Register(TypeSetSlot, handleSetSlot)
	r.Register(TypeAffirmConfirmation, handleAffirm)
	r.Register(TypeDenyConfirmation, handleDeny)
	r.Register(TypeChitChat, handleChitChat)
	r.Register(TypeClarify, handleClarify)
	r.Register(TypeContinuation, handleContinuation)
	return r
}

// Register installs a handler for the given command type.
func (r *HandlerRegistry) Register(commandType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[commandType] = h
}

// Dispatch routes one command to its handler. Unknown types are an error in
// strict mode; otherwise they are reported via the emitter and skipped.
func (r *HandlerRegistry) Dispatch(cmd Command, state State, hctx *HandlerContext) (Delta, error) {
	r.mu.RLock()
	h, ok := r.handlers[cmd.CommandType()]
	r.mu.RUnlock()

	if !ok {
		if r.Strict {
			return Delta{}, &UnknownCommandError{CommandType: cmd.CommandType()}
		}
		if hctx.Emitter != nil {
			hctx.Emitter.Emit(emit.Event{
				Msg:  "command_ignored",
				Meta: map[string]interface{}{"type": cmd.CommandType()},
			})
		}
		return Delta{}, nil
	}
	return h(cmd, state, hctx)
}

func handleStartFlow(cmd Command, state State, hctx *HandlerContext) (Delta, error) {
	start := cmd.(StartFlow)

	ctx, delta, err := hctx.Flows.PushFlow(state, start.FlowName)
	if err != nil {
		return Delta{}, err
	}

	if len(start.Slots) > 0 {
		pre := make(Slots, len(start.Slots))
		for name, value := range start.Slots {
			pre[name] = value
		}
		delta.Merge(Delta{FlowSlots: map[string]Slots{ctx.FlowID: pre}})
	}
	delta.Merge(Delta{ResetDigressions: true})
	return delta, nil
}

func handleCancelFlow(_ Command, state State, hctx *HandlerContext) (Delta, error) {
	if state.ActiveContext() == nil {
		return Delta{Responses: []string{hctx.Templates.nothingActive()}}, nil
	}

	_, delta, err := hctx.Flows.PopFlow(state, ResultCancelled)
	if err != nil {
		return Delta{}, err
	}
	delta.Merge(Delta{
		Responses:        []string{hctx.Templates.cancelled()},
		ClearPendingTask: true,
		ResetDigressions: true,
	})
	return delta, nil
}

func handleSetSlot(cmd Command, state State, hctx *HandlerContext) (Delta, error) {
	set := cmd.(SetSlot)
	delta := hctx.Flows.SetSlot(state, set.Name, set.Value)
	delta.Merge(Delta{ResetDigressions: true})
	return delta, nil
}

// confirmationSlot names the slot an affirm/deny resolves: the one the
// pending confirm task is waiting on, or a sentinel when no task is pending.
func confirmationSlot(state State) string {
	if state.PendingTask != nil && state.PendingTask.Kind == TaskConfirm && state.PendingTask.SlotName != "" {
		return state.PendingTask.SlotName
	}
	return "__confirmed__"
}

func handleAffirm(_ Command, state State, hctx *HandlerContext) (Delta, error) {
	delta := hctx.Flows.SetSlot(state, confirmationSlot(state), true)
	delta.Merge(Delta{ResetDigressions: true})
	return delta, nil
}

func handleDeny(_ Command, state State, hctx *HandlerContext) (Delta, error) {
	delta := hctx.Flows.SetSlot(state, confirmationSlot(state), false)
	delta.Merge(Delta{ResetDigressions: true})
	return delta, nil
}

func handleChitChat(cmd Command, state State, _ *HandlerContext) (Delta, error) {
	chat := cmd.(ChitChat)
	delta := Delta{Digressions: state.DigressionCount + 1}
	if chat.Content != "" {
		delta.Responses = []string{chat.Content}
	}
	return delta, nil
}

func handleClarify(_ Command, state State, hctx *HandlerContext) (Delta, error) {
	flowName := ""
	if active := state.ActiveContext(); active != nil {
		flowName = active.FlowName
	}
	prompt := ""
	if state.PendingTask != nil {
		prompt = state.PendingTask.Prompt
	}

	text := hctx.Templates.clarify()
	text = strings.ReplaceAll(text, "{flow}", flowName)
	text = strings.ReplaceAll(text, "{prompt}", prompt)

	return Delta{
		Responses:   []string{text},
		Digressions: state.DigressionCount + 1,
	}, nil
}

func handleContinuation(_ Command, _ State, _ *HandlerContext) (Delta, error) {
	return Delta{ResetDigressions: true}, nil
}
