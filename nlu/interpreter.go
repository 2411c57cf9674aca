package nlu

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// historyWindow bounds how many recent messages the prompt includes.
const historyWindow = 10

// Interpreter is the LLM-backed Service: it renders the dialogue context
// into a system prompt, asks the model for a JSON command list, and parses
// the reply into typed commands.
type Interpreter struct {
	model ChatModel
}

// NewInterpreter builds an Interpreter over the given chat model.
func NewInterpreter(model ChatModel) *Interpreter {
	return &Interpreter{model: model}
}

// Interpret implements Service.
func (i *Interpreter) Interpret(ctx context.Context, userMessage string, dctx Context) (Output, error) {
	messages := []Message{{Role: RoleSystem, Content: buildSystemPrompt(dctx)}}

	history := dctx.RecentMessages
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	for _, m := range history {
		role := m.Role
		if role != RoleUser && role != RoleAssistant {
			continue
		}
		messages = append(messages, Message{Role: role, Content: m.Content})
	}
	messages = append(messages, Message{Role: RoleUser, Content: userMessage})

	reply, err := i.model.Chat(ctx, messages)
	if err != nil {
		return Output{}, fmt.Errorf("nlu chat failed: %w", err)
	}

	out, err := ParseOutput(reply)
	if err != nil {
		return Output{}, fmt.Errorf("nlu reply unparseable: %w", err)
	}
	return out, nil
}

// buildSystemPrompt renders the dialogue context and the command vocabulary
// into the instruction the model answers against.
func buildSystemPrompt(dctx Context) string {
	var b strings.Builder

	b.WriteString("You convert a user message into dialogue commands. ")
	b.WriteString("Reply with a single JSON object and nothing else:\n")
	b.WriteString(`{"commands": [...], "message_type": "task|digression|correction", "confidence": 0.0-1.0, "reasoning": "..."}` + "\n\n")

	b.WriteString("Command objects:\n")
	b.WriteString(`  {"type": "start_flow", "flow_name": "...", "slots": {...}}` + "\n")
	b.WriteString(`  {"type": "cancel_flow"}` + "\n")
	b.WriteString(`  {"type": "set_slot", "slot_name": "...", "value": ...}` + "\n")
	b.WriteString(`  {"type": "affirm_confirmation"}` + "\n")
	b.WriteString(`  {"type": "deny_confirmation"}` + "\n")
	b.WriteString(`  {"type": "chitchat", "content": "...your short reply..."}` + "\n")
	b.WriteString(`  {"type": "clarify"}` + "\n")
	b.WriteString(`  {"type": "continuation"}` + "\n\n")

	if len(dctx.AvailableFlows) > 0 {
		b.WriteString("Available flows:\n")
		for _, f := range dctx.AvailableFlows {
			fmt.Fprintf(&b, "  - %s: %s\n", f.Name, f.Description)
		}
		b.WriteString("\n")
	}

	if dctx.ActiveFlow != "" {
		fmt.Fprintf(&b, "Active flow: %s\n", dctx.ActiveFlow)
	}
	if dctx.WaitingSlot != "" {
		fmt.Fprintf(&b, "Waiting for slot: %s\n", dctx.WaitingSlot)
	}
	if dctx.PendingConfirmation {
		b.WriteString("A yes/no confirmation is pending. Map agreement to affirm_confirmation and refusal to deny_confirmation.\n")
	}
	if dctx.PendingPrompt != "" {
		fmt.Fprintf(&b, "Last question asked: %q\n", dctx.PendingPrompt)
	}
	if !dctx.Now.IsZero() {
		fmt.Fprintf(&b, "Current datetime: %s\n", dctx.Now.Format("2006-01-02T15:04:05Z07:00"))
	}

	b.WriteString("\nRules: a direct answer to the waiting slot is a set_slot for that slot. ")
	b.WriteString("A request matching a flow description is a start_flow, with any mentioned values as slots. ")
	b.WriteString("Off-task questions are chitchat with a brief helpful reply. ")
	b.WriteString("Never invent flow or slot names.")

	return b.String()
}

// ParseOutput extracts the JSON object from a model reply, tolerating code
// fences and surrounding prose, and decodes it.
func ParseOutput(reply string) (Output, error) {
	payload := extractJSON(reply)
	if payload == "" {
		return Output{}, fmt.Errorf("no JSON object in reply")
	}

	var out Output
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return Output{}, err
	}
	return out, nil
}

// extractJSON returns the first balanced top-level JSON object in s.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
