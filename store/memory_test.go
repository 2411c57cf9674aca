package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jmorenobl/soni/dialogue"
)

func sampleState() dialogue.State {
	state := dialogue.NewState()
	return dialogue.Apply(state, dialogue.Delta{
		Messages: []dialogue.Message{{Role: dialogue.RoleUser, Content: "hi"}},
		FlowStack: []dialogue.FlowContext{{
			FlowID:   "f-1",
			FlowName: "book_flight",
			State:    dialogue.FlowActive,
		}},
		FlowSlots:   map[string]dialogue.Slots{"f-1": {"origin": "NYC"}},
		PendingTask: dialogue.NewCollectTask("Where to?", "destination", nil),
	})
}

func TestMemStore_RoundTrip(t *testing.T) {
	s := NewMemStore[dialogue.State]()
	ctx := context.Background()

	if err := s.Save(ctx, "alice", sampleState()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := s.Load(ctx, "alice")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.FlowStack[0].FlowName != "book_flight" {
		t.Errorf("flow stack lost: %+v", loaded.FlowStack)
	}
	if loaded.FlowSlots["f-1"]["origin"] != "NYC" {
		t.Errorf("slots lost: %+v", loaded.FlowSlots)
	}
	if loaded.PendingTask == nil || loaded.PendingTask.SlotName != "destination" {
		t.Errorf("pending task lost: %+v", loaded.PendingTask)
	}

	// save(load(k)) == load(k)
	if err := s.Save(ctx, "alice", loaded); err != nil {
		t.Fatalf("re-save failed: %v", err)
	}
	again, err := s.Load(ctx, "alice")
	if err != nil {
		t.Fatalf("re-load failed: %v", err)
	}
	if again.FlowSlots["f-1"]["origin"] != loaded.FlowSlots["f-1"]["origin"] {
		t.Error("round-trip law violated")
	}
}

func TestMemStore_NotFound(t *testing.T) {
	s := NewMemStore[dialogue.State]()
	_, err := s.Load(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemStore_Delete(t *testing.T) {
	s := NewMemStore[dialogue.State]()
	ctx := context.Background()

	_ = s.Save(ctx, "alice", sampleState())
	if err := s.Delete(ctx, "alice"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Load(ctx, "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	// Deleting an absent key is not an error.
	if err := s.Delete(ctx, "ghost"); err != nil {
		t.Errorf("expected no error for absent key, got %v", err)
	}
}

func TestMemStore_Isolation(t *testing.T) {
	s := NewMemStore[dialogue.State]()
	ctx := context.Background()

	original := sampleState()
	_ = s.Save(ctx, "alice", original)

	loaded, _ := s.Load(ctx, "alice")
	loaded.FlowSlots["f-1"]["origin"] = "LAX"

	reloaded, _ := s.Load(ctx, "alice")
	if reloaded.FlowSlots["f-1"]["origin"] != "NYC" {
		t.Error("loaded state aliases stored state")
	}
}

func TestMemStore_Overwrite(t *testing.T) {
	s := NewMemStore[dialogue.State]()
	ctx := context.Background()

	_ = s.Save(ctx, "alice", sampleState())

	updated := sampleState()
	updated = dialogue.Apply(updated, dialogue.Delta{
		FlowSlots: map[string]dialogue.Slots{"f-1": {"origin": "BOS"}},
	})
	_ = s.Save(ctx, "alice", updated)

	loaded, _ := s.Load(ctx, "alice")
	if loaded.FlowSlots["f-1"]["origin"] != "BOS" {
		t.Errorf("expected overwrite, got %v", loaded.FlowSlots["f-1"])
	}
	if s.Len() != 1 {
		t.Errorf("expected single checkpoint, got %d", s.Len())
	}
}
