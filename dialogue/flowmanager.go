package dialogue

import (
	"time"

	"github.com/google/uuid"
)

// Stack-overflow policies.
const (
	// OverflowCancelOldest drops the bottom-most flow to make room.
	OverflowCancelOldest = "cancel_oldest"

	// OverflowRejectNew refuses the push with ErrStackOverflow.
	OverflowRejectNew = "reject_new"
)

// FlowManager performs stack, slot, and step operations over a State. It is
// stateless and safe for concurrent use; every mutation is expressed as a
// returned Delta, never as an in-place write.
type FlowManager struct {
	// MaxStackDepth caps the flow stack. Zero means unlimited.
	MaxStackDepth int

	// OverflowPolicy selects behavior at max depth. Defaults to
	// OverflowCancelOldest when empty.
	OverflowPolicy string

	// now is swappable for tests.
	now func() time.Time
}

// NewFlowManager returns a FlowManager with the given depth limit and policy.
func NewFlowManager(maxDepth int, overflowPolicy string) *FlowManager {
	if overflowPolicy == "" {
		overflowPolicy = OverflowCancelOldest
	}
	return &FlowManager{
		MaxStackDepth:  maxDepth,
		OverflowPolicy: overflowPolicy,
		now:            time.Now,
	}
}

// PushFlow mints a new instance of the named flow and pushes it on the
// stack. The previous top is suspended. At max depth, the overflow policy
// decides: cancel the oldest flow or reject the push.
func (m *FlowManager) PushFlow(state State, flowName string) (FlowContext, Delta, error) {
	stack := append([]FlowContext{}, state.FlowStack...)

	var purge []string
	if m.MaxStackDepth > 0 && len(stack) >= m.MaxStackDepth {
		if m.OverflowPolicy == OverflowRejectNew {
			return FlowContext{}, Delta{}, ErrStackOverflow
		}
		oldest := stack[0]
		purge = append(purge, oldest.FlowID)
		stack = append([]FlowContext{}, stack[1:]...)
	}

	if len(stack) > 0 {
		stack[len(stack)-1].State = FlowIdle
	}

	ctx := FlowContext{
		FlowID:    mintFlowID(flowName),
		FlowName:  flowName,
		State:     FlowActive,
		CreatedAt: m.now().UTC(),
	}
	stack = append(stack, ctx)

	return ctx, Delta{FlowStack: stack, PurgeFlows: purge}, nil
}

// PopFlow removes the top of the stack, records the result on the popped
// context, and purges the instance's slots and executed steps. The next flow
// down, if any, becomes active again.
func (m *FlowManager) PopFlow(state State, result FlowResult) (FlowContext, Delta, error) {
	if len(state.FlowStack) == 0 {
		return FlowContext{}, Delta{}, ErrEmptyStack
	}

	popped := state.FlowStack[len(state.FlowStack)-1]
	popped.Result = result
	switch result {
	case ResultError:
		popped.State = FlowError
	default:
		popped.State = FlowCompleted
	}

	rest := append([]FlowContext{}, state.FlowStack[:len(state.FlowStack)-1]...)
	if len(rest) > 0 {
		rest[len(rest)-1].State = FlowActive
	}

	return popped, Delta{
		FlowStack:  rest,
		PurgeFlows: []string{popped.FlowID},
	}, nil
}

// GetSlot reads a slot from the active flow. Returns false on an empty stack
// or a missing slot.
func (m *FlowManager) GetSlot(state State, name string) (interface{}, bool) {
	active := state.ActiveContext()
	if active == nil {
		return nil, false
	}
	return state.Slot(active.FlowID, name)
}

// SetSlot writes a slot in the active flow. On an empty stack the delta is
// empty, not an error.
func (m *FlowManager) SetSlot(state State, name string, value interface{}) Delta {
	active := state.ActiveContext()
	if active == nil {
		return Delta{}
	}
	return Delta{FlowSlots: map[string]Slots{
		active.FlowID: {name: value},
	}}
}

// HasSlot reports whether the active flow has the named slot filled.
func (m *FlowManager) HasSlot(state State, name string) bool {
	_, ok := m.GetSlot(state, name)
	return ok
}

// AllSlots returns a copy of the active flow's slots, or nil on empty stack.
func (m *FlowManager) AllSlots(state State) Slots {
	active := state.ActiveContext()
	if active == nil {
		return nil
	}
	return copySlots(state.FlowSlots[active.FlowID])
}

// UpdateCurrentStep emits a delta moving the matching flow context's
// CurrentStep marker. Unknown flow ids yield an empty delta.
func (m *FlowManager) UpdateCurrentStep(state State, flowID, stepName string) Delta {
	found := false
	stack := append([]FlowContext{}, state.FlowStack...)
	for i := range stack {
		if stack[i].FlowID == flowID {
			stack[i].CurrentStep = stepName
			found = true
		}
	}
	if !found {
		return Delta{}
	}
	return Delta{FlowStack: stack}
}

// MarkWaiting flags the matching flow context as waiting for user input.
func (m *FlowManager) MarkWaiting(state State, flowID string) Delta {
	stack := append([]FlowContext{}, state.FlowStack...)
	for i := range stack {
		if stack[i].FlowID == flowID {
			stack[i].State = FlowWaitingInput
			return Delta{FlowStack: stack}
		}
	}
	return Delta{}
}

// HandleIntentChange pushes the named flow if it differs from the active
// one; a repeated intent for the already-active flow is a no-op.
func (m *FlowManager) HandleIntentChange(state State, newFlowName string) (Delta, error) {
	active := state.ActiveContext()
	if active != nil && active.FlowName == newFlowName {
		return Delta{}, nil
	}
	_, delta, err := m.PushFlow(state, newFlowName)
	return delta, err
}

// mintFlowID derives a fresh unique instance id from the flow name, so
// multiple live instances of one flow never share slot storage.
func mintFlowID(flowName string) string {
	return flowName + "-" + uuid.NewString()[:8]
}
