package dialogue

import (
	"encoding/json"
	"fmt"
)

// Command type discriminators as they appear on the wire.
const (
	TypeStartFlow          = "start_flow"
	TypeCancelFlow         = "cancel_flow"
	TypeSetSlot            = "set_slot"
	TypeAffirmConfirmation = "affirm_confirmation"
	TypeDenyConfirmation   = "deny_confirmation"
	TypeChitChat           = "chitchat"
	TypeClarify            = "clarify"
	TypeContinuation       = "continuation"
)

// Command is a typed directive emitted by the NLU describing a requested
// state change. The set of commands is closed; each variant serializes as a
// {"type": ..., ...fields} object.
type Command interface {
	// CommandType returns the wire discriminator for this command.
	CommandType() string
}

// StartFlow pushes a new instance of the named flow onto the stack.
// Slots optionally pre-populates the new instance's slot values.
type StartFlow struct {
	FlowName string                 `json:"flow_name"`
	Slots    map[string]interface{} `json:"slots,omitempty"`
}

// CancelFlow pops the active flow, marking it cancelled.
type CancelFlow struct{}

// SetSlot writes a slot value in the active flow's context.
type SetSlot struct {
	Name  string      `json:"slot_name"`
	Value interface{} `json:"value"`
}

// AffirmConfirmation resolves a pending confirm step positively.
type AffirmConfirmation struct{}

// DenyConfirmation resolves a pending confirm step negatively.
type DenyConfirmation struct{}

// ChitChat is a digression: small talk or an off-flow question. It carries
// the response content and does not mutate the flow stack.
type ChitChat struct {
	Content string `json:"content"`
}

// Clarify signals the user asked what is going on; handled as a digression.
type Clarify struct{}

// Continuation is an explicit "proceed" without content.
type Continuation struct{}

func (StartFlow) CommandType() string          { return TypeStartFlow }
func (CancelFlow) CommandType() string         { return TypeCancelFlow }
func (SetSlot) CommandType() string            { return TypeSetSlot }
func (AffirmConfirmation) CommandType() string { return TypeAffirmConfirmation }
func (DenyConfirmation) CommandType() string   { return TypeDenyConfirmation }
func (ChitChat) CommandType() string           { return TypeChitChat }
func (Clarify) CommandType() string            { return TypeClarify }
func (Continuation) CommandType() string       { return TypeContinuation }

// CommandList is a JSON round-trippable list of commands.
type CommandList []Command

// MarshalJSON serializes each command as a {"type": ..., ...fields} object.
func (l CommandList) MarshalJSON() ([]byte, error) {
	raw := make([]map[string]interface{}, 0, len(l))
	for _, cmd := range l {
		obj := map[string]interface{}{"type": cmd.CommandType()}

		fields, err := json.Marshal(cmd)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(fields, &obj); err != nil {
			return nil, err
		}
		obj["type"] = cmd.CommandType()
		raw = append(raw, obj)
	}
	return json.Marshal(raw)
}

// UnmarshalJSON reads a list of {"type": ..., ...} objects back into typed
// commands. Unknown types fail with UnknownCommandError.
func (l *CommandList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	cmds := make(CommandList, 0, len(raw))
	for _, item := range raw {
		cmd, err := UnmarshalCommand(item)
		if err != nil {
			return err
		}
		cmds = append(cmds, cmd)
	}
	*l = cmds
	return nil
}

// UnmarshalCommand decodes a single {"type": ..., ...} object into a typed
// command.
func UnmarshalCommand(data []byte) (Command, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("command missing type discriminator: %w", err)
	}

	switch head.Type {
	case TypeStartFlow:
		var cmd StartFlow
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, err
		}
		return cmd, nil
	case TypeCancelFlow:
		return CancelFlow{}, nil
	case TypeSetSlot:
		var cmd SetSlot
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, err
		}
		return cmd, nil
	case TypeAffirmConfirmation:
		return AffirmConfirmation{}, nil
	case TypeDenyConfirmation:
		return DenyConfirmation{}, nil
	case TypeChitChat:
		var cmd ChitChat
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, err
		}
		return cmd, nil
	case TypeClarify:
		return Clarify{}, nil
	case TypeContinuation:
		return Continuation{}, nil
	}
	return nil, &UnknownCommandError{CommandType: head.Type}
}

// FindSetSlot returns the first SetSlot command for the named slot, if any.
func (l CommandList) FindSetSlot(name string) (SetSlot, bool) {
	for _, cmd := range l {
		if set, ok := cmd.(SetSlot); ok && set.Name == name {
			return set, true
		}
	}
	return SetSlot{}, false
}

// HasType reports whether any command of the given type is present.
func (l CommandList) HasType(commandType string) bool {
	for _, cmd := range l {
		if cmd.CommandType() == commandType {
			return true
		}
	}
	return false
}
