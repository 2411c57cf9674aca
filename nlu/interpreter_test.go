package nlu

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jmorenobl/soni/dialogue"
)

// fakeModel captures the prompt and returns a canned reply.
type fakeModel struct {
	reply    string
	err      error
	messages []Message
}

func (f *fakeModel) Chat(_ context.Context, messages []Message) (string, error) {
	f.messages = messages
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func TestInterpreter_ParsesCommands(t *testing.T) {
	model := &fakeModel{reply: `{
		"commands": [
			{"type": "start_flow", "flow_name": "book_flight"},
			{"type": "set_slot", "slot_name": "origin", "value": "NYC"}
		],
		"message_type": "task",
		"confidence": 0.92,
		"reasoning": "user wants a flight"
	}`}

	interp := NewInterpreter(model)
	out, err := interp.Interpret(context.Background(), "book a flight from NYC", Context{})
	if err != nil {
		t.Fatalf("Interpret failed: %v", err)
	}

	if len(out.Commands) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(out.Commands))
	}
	start, ok := out.Commands[0].(dialogue.StartFlow)
	if !ok || start.FlowName != "book_flight" {
		t.Errorf("expected start_flow, got %+v", out.Commands[0])
	}
	if out.MessageType != MessageTask {
		t.Errorf("expected task message type, got %s", out.MessageType)
	}
	if out.Confidence != 0.92 {
		t.Errorf("expected confidence preserved, got %f", out.Confidence)
	}
}

func TestInterpreter_PromptIncludesContext(t *testing.T) {
	model := &fakeModel{reply: `{"commands": [], "message_type": "task", "confidence": 1}`}
	interp := NewInterpreter(model)

	dctx := Context{
		ActiveFlow:    "book_flight",
		WaitingSlot:   "origin",
		PendingPrompt: "Where from?",
		AvailableFlows: []FlowSummary{
			{Name: "book_flight", Description: "Book a flight"},
			{Name: "cancel_booking", Description: "Cancel a booking"},
		},
		RecentMessages: []dialogue.Message{
			{Role: dialogue.RoleUser, Content: "hi"},
			{Role: dialogue.RoleAssistant, Content: "Where from?"},
		},
	}

	if _, err := interp.Interpret(context.Background(), "NYC", dctx); err != nil {
		t.Fatalf("Interpret failed: %v", err)
	}

	if len(model.messages) == 0 || model.messages[0].Role != RoleSystem {
		t.Fatal("expected system prompt first")
	}
	system := model.messages[0].Content
	for _, want := range []string{"book_flight", "cancel_booking", "Waiting for slot: origin", "Where from?"} {
		if !strings.Contains(system, want) {
			t.Errorf("expected system prompt to mention %q", want)
		}
	}

	last := model.messages[len(model.messages)-1]
	if last.Role != RoleUser || last.Content != "NYC" {
		t.Errorf("expected user message last, got %+v", last)
	}
}

func TestInterpreter_ModelError(t *testing.T) {
	model := &fakeModel{err: errors.New("rate limited")}
	interp := NewInterpreter(model)

	if _, err := interp.Interpret(context.Background(), "hi", Context{}); err == nil {
		t.Error("expected error propagated")
	}
}

func TestInterpreter_UnparseableReply(t *testing.T) {
	model := &fakeModel{reply: "I cannot help with that."}
	interp := NewInterpreter(model)

	if _, err := interp.Interpret(context.Background(), "hi", Context{}); err == nil {
		t.Error("expected parse error for non-JSON reply")
	}
}

func TestParseOutput(t *testing.T) {
	t.Run("bare object", func(t *testing.T) {
		out, err := ParseOutput(`{"commands": [{"type": "cancel_flow"}], "message_type": "task", "confidence": 0.5}`)
		if err != nil {
			t.Fatalf("ParseOutput failed: %v", err)
		}
		if len(out.Commands) != 1 || out.Commands[0].CommandType() != dialogue.TypeCancelFlow {
			t.Errorf("unexpected commands: %+v", out.Commands)
		}
	})

	t.Run("code fences and prose", func(t *testing.T) {
		reply := "Sure! Here you go:\n```json\n{\"commands\": [], \"message_type\": \"digression\", \"confidence\": 1}\n```\nLet me know."
		out, err := ParseOutput(reply)
		if err != nil {
			t.Fatalf("ParseOutput failed: %v", err)
		}
		if out.MessageType != MessageDigression {
			t.Errorf("expected digression, got %s", out.MessageType)
		}
	})

	t.Run("nested braces in strings", func(t *testing.T) {
		reply := `{"commands": [{"type": "chitchat", "content": "use {braces} carefully"}], "message_type": "digression", "confidence": 1}`
		out, err := ParseOutput(reply)
		if err != nil {
			t.Fatalf("ParseOutput failed: %v", err)
		}
		chat := out.Commands[0].(dialogue.ChitChat)
		if chat.Content != "use {braces} carefully" {
			t.Errorf("string content mangled: %q", chat.Content)
		}
	})

	t.Run("no JSON at all", func(t *testing.T) {
		if _, err := ParseOutput("nope"); err == nil {
			t.Error("expected error")
		}
	})
}

func TestMock_ScriptedOutputs(t *testing.T) {
	mock := &Mock{Outputs: []Output{
		{Commands: dialogue.CommandList{dialogue.StartFlow{FlowName: "a"}}},
		{Commands: dialogue.CommandList{dialogue.CancelFlow{}}},
	}}

	first, _ := mock.Interpret(context.Background(), "one", Context{})
	second, _ := mock.Interpret(context.Background(), "two", Context{})
	third, _ := mock.Interpret(context.Background(), "three", Context{})

	if first.Commands[0].CommandType() != dialogue.TypeStartFlow {
		t.Errorf("unexpected first output: %+v", first)
	}
	if second.Commands[0].CommandType() != dialogue.TypeCancelFlow {
		t.Errorf("unexpected second output: %+v", second)
	}
	// Script exhausted: last output repeats.
	if third.Commands[0].CommandType() != dialogue.TypeCancelFlow {
		t.Errorf("expected last output repeated, got %+v", third)
	}

	if len(mock.Calls) != 3 || mock.Calls[0].UserMessage != "one" {
		t.Errorf("expected calls recorded, got %+v", mock.Calls)
	}

	mock.Reset()
	again, _ := mock.Interpret(context.Background(), "one", Context{})
	if again.Commands[0].CommandType() != dialogue.TypeStartFlow {
		t.Error("expected Reset to rewind the script")
	}
}
