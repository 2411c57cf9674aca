package dialogue

import (
	"errors"
	"strings"
	"testing"
)

func TestFlowManager_PushFlow(t *testing.T) {
	fm := NewFlowManager(8, "")
	state := NewState()

	ctx1, delta1, err := fm.PushFlow(state, "book_flight")
	if err != nil {
		t.Fatalf("PushFlow failed: %v", err)
	}
	if !strings.HasPrefix(ctx1.FlowID, "book_flight-") {
		t.Errorf("expected minted flow id with name prefix, got %s", ctx1.FlowID)
	}
	if ctx1.State != FlowActive {
		t.Errorf("expected new flow active, got %s", ctx1.State)
	}

	state = Apply(state, delta1)

	ctx2, delta2, err := fm.PushFlow(state, "book_flight")
	if err != nil {
		t.Fatalf("second PushFlow failed: %v", err)
	}
	if ctx2.FlowID == ctx1.FlowID {
		t.Error("expected unique flow ids for concurrent instances")
	}

	state = Apply(state, delta2)
	if len(state.FlowStack) != 2 {
		t.Fatalf("expected 2 stacked flows, got %d", len(state.FlowStack))
	}
	if state.FlowStack[0].State != FlowIdle {
		t.Errorf("expected previous top suspended, got %s", state.FlowStack[0].State)
	}
	if state.FlowStack[1].State != FlowActive {
		t.Errorf("expected new top active, got %s", state.FlowStack[1].State)
	}
}

func TestFlowManager_PopFlow(t *testing.T) {
	fm := NewFlowManager(8, "")
	state := NewState()

	ctx, delta, _ := fm.PushFlow(state, "outer")
	state = Apply(state, delta)
	inner, delta, _ := fm.PushFlow(state, "inner")
	state = Apply(state, delta)

	state = Apply(state, Delta{
		FlowSlots:     map[string]Slots{inner.FlowID: {"x": 1}},
		ExecutedSteps: map[string][]string{inner.FlowID: {"s"}},
	})

	popped, popDelta, err := fm.PopFlow(state, ResultCompleted)
	if err != nil {
		t.Fatalf("PopFlow failed: %v", err)
	}
	if popped.FlowID != inner.FlowID {
		t.Errorf("expected top popped, got %s", popped.FlowID)
	}
	if popped.Result != ResultCompleted {
		t.Errorf("expected completed result, got %s", popped.Result)
	}

	state = Apply(state, popDelta)
	if len(state.FlowStack) != 1 || state.FlowStack[0].FlowID != ctx.FlowID {
		t.Errorf("expected outer flow remaining, got %+v", state.FlowStack)
	}
	if state.FlowStack[0].State != FlowActive {
		t.Errorf("expected outer flow reactivated, got %s", state.FlowStack[0].State)
	}
	if _, ok := state.FlowSlots[inner.FlowID]; ok {
		t.Error("expected popped flow slots purged")
	}
	if _, ok := state.ExecutedSteps[inner.FlowID]; ok {
		t.Error("expected popped flow executed steps purged")
	}
}

func TestFlowManager_PopEmptyStack(t *testing.T) {
	fm := NewFlowManager(8, "")

	_, _, err := fm.PopFlow(NewState(), ResultCompleted)
	if !errors.Is(err, ErrEmptyStack) {
		t.Errorf("expected ErrEmptyStack, got %v", err)
	}
}

func TestFlowManager_PopError(t *testing.T) {
	fm := NewFlowManager(8, "")
	state := NewState()
	_, delta, _ := fm.PushFlow(state, "f")
	state = Apply(state, delta)

	popped, _, err := fm.PopFlow(state, ResultError)
	if err != nil {
		t.Fatalf("PopFlow failed: %v", err)
	}
	if popped.State != FlowError || popped.Result != ResultError {
		t.Errorf("expected error state recorded, got %+v", popped)
	}
}

func TestFlowManager_Overflow(t *testing.T) {
	t.Run("cancel oldest", func(t *testing.T) {
		fm := NewFlowManager(2, OverflowCancelOldest)
		state := NewState()

		first, delta, _ := fm.PushFlow(state, "a")
		state = Apply(state, delta)
		state = Apply(state, Delta{FlowSlots: map[string]Slots{first.FlowID: {"x": 1}}})
		_, delta, _ = fm.PushFlow(state, "b")
		state = Apply(state, delta)

		_, delta, err := fm.PushFlow(state, "c")
		if err != nil {
			t.Fatalf("expected cancel-oldest to make room, got %v", err)
		}
		state = Apply(state, delta)

		if len(state.FlowStack) != 2 {
			t.Fatalf("expected depth capped at 2, got %d", len(state.FlowStack))
		}
		for _, fc := range state.FlowStack {
			if fc.FlowID == first.FlowID {
				t.Error("expected oldest flow dropped")
			}
		}
		if _, ok := state.FlowSlots[first.FlowID]; ok {
			t.Error("expected dropped flow slots purged")
		}
	})

	t.Run("reject new", func(t *testing.T) {
		fm := NewFlowManager(1, OverflowRejectNew)
		state := NewState()
		_, delta, _ := fm.PushFlow(state, "a")
		state = Apply(state, delta)

		_, _, err := fm.PushFlow(state, "b")
		if !errors.Is(err, ErrStackOverflow) {
			t.Errorf("expected ErrStackOverflow, got %v", err)
		}
	})
}

func TestFlowManager_SlotOps(t *testing.T) {
	fm := NewFlowManager(8, "")
	state := NewState()

	t.Run("empty stack", func(t *testing.T) {
		if _, ok := fm.GetSlot(state, "x"); ok {
			t.Error("expected no slot on empty stack")
		}
		delta := fm.SetSlot(state, "x", 1)
		if delta.FlowSlots != nil {
			t.Error("expected empty delta on empty stack")
		}
		if fm.AllSlots(state) != nil {
			t.Error("expected nil slots on empty stack")
		}
	})

	ctx, delta, _ := fm.PushFlow(state, "f")
	state = Apply(state, delta)

	t.Run("set and get", func(t *testing.T) {
		delta := fm.SetSlot(state, "origin", "NYC")
		state = Apply(state, delta)

		if v, ok := fm.GetSlot(state, "origin"); !ok || v != "NYC" {
			t.Errorf("expected origin=NYC, got %v %v", v, ok)
		}
		if !fm.HasSlot(state, "origin") {
			t.Error("expected HasSlot true")
		}
		if fm.HasSlot(state, "destination") {
			t.Error("expected HasSlot false for unset slot")
		}
		all := fm.AllSlots(state)
		if all["origin"] != "NYC" {
			t.Errorf("expected all slots to include origin, got %v", all)
		}
		// AllSlots returns a copy.
		all["origin"] = "LAX"
		if v, _ := fm.GetSlot(state, "origin"); v != "NYC" {
			t.Error("AllSlots copy aliases state")
		}
	})

	t.Run("slots scoped to active flow", func(t *testing.T) {
		inner, delta, _ := fm.PushFlow(state, "g")
		state = Apply(state, delta)
		state = Apply(state, fm.SetSlot(state, "origin", "BOS"))

		if v, _ := state.Slot(inner.FlowID, "origin"); v != "BOS" {
			t.Errorf("expected inner flow slot, got %v", v)
		}
		if v, _ := state.Slot(ctx.FlowID, "origin"); v != "NYC" {
			t.Errorf("expected outer flow slot untouched, got %v", v)
		}
	})
}

func TestFlowManager_UpdateCurrentStep(t *testing.T) {
	fm := NewFlowManager(8, "")
	state := NewState()
	ctx, delta, _ := fm.PushFlow(state, "f")
	state = Apply(state, delta)

	state = Apply(state, fm.UpdateCurrentStep(state, ctx.FlowID, "ask_origin"))
	if state.FlowStack[0].CurrentStep != "ask_origin" {
		t.Errorf("expected current step updated, got %q", state.FlowStack[0].CurrentStep)
	}

	if d := fm.UpdateCurrentStep(state, "ghost", "s"); d.FlowStack != nil {
		t.Error("expected empty delta for unknown flow id")
	}
}

func TestFlowManager_HandleIntentChange(t *testing.T) {
	fm := NewFlowManager(8, "")
	state := NewState()
	_, delta, _ := fm.PushFlow(state, "book_flight")
	state = Apply(state, delta)

	t.Run("same intent is no-op", func(t *testing.T) {
		d, err := fm.HandleIntentChange(state, "book_flight")
		if err != nil {
			t.Fatalf("HandleIntentChange failed: %v", err)
		}
		if d.FlowStack != nil {
			t.Error("expected no-op delta for repeated intent")
		}
	})

	t.Run("new intent pushes", func(t *testing.T) {
		d, err := fm.HandleIntentChange(state, "cancel_booking")
		if err != nil {
			t.Fatalf("HandleIntentChange failed: %v", err)
		}
		next := Apply(state, d)
		if len(next.FlowStack) != 2 || next.FlowStack[1].FlowName != "cancel_booking" {
			t.Errorf("expected new flow pushed, got %+v", next.FlowStack)
		}
	})
}
