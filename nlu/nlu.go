// Package nlu defines the natural-language-understanding boundary of the
// dialogue runtime. The runtime calls Interpret exactly once per turn and
// receives a typed list of commands; everything about prompting and model
// choice stays behind the Service interface.
package nlu

import (
	"context"
	"time"

	"github.com/jmorenobl/soni/dialogue"
)

// MessageType classifies the user utterance as a whole.
type MessageType string

const (
	// MessageTask engages the current task or starts a new one.
	MessageTask MessageType = "task"

	// MessageDigression is small talk or an off-flow question.
	MessageDigression MessageType = "digression"

	// MessageCorrection revises previously provided information.
	MessageCorrection MessageType = "correction"
)

// FlowSummary describes one available flow to the NLU.
type FlowSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Context is the dialogue context handed to Interpret: what the
// conversation is doing and what the runtime is waiting for.
type Context struct {
	// ActiveFlow is the name of the flow on top of the stack, if any.
	ActiveFlow string

	// WaitingSlot is the slot a pending collect task waits for, if any.
	WaitingSlot string

	// PendingPrompt is the question last asked of the user, if any.
	PendingPrompt string

	// PendingConfirmation is true when a confirm task is pending.
	PendingConfirmation bool

	// AvailableFlows lists the flows the user can start.
	AvailableFlows []FlowSummary

	// AvailableActions lists registered action names, for context only.
	AvailableActions []string

	// RecentMessages is a window of the conversation history.
	RecentMessages []dialogue.Message

	// Now is the current time, for temporal expressions.
	Now time.Time
}

// Output is what one interpretation produces: the commands to run, plus
// classification metadata.
type Output struct {
	Commands    dialogue.CommandList `json:"commands"`
	MessageType MessageType          `json:"message_type"`
	Confidence  float64              `json:"confidence"`
	Reasoning   string               `json:"reasoning,omitempty"`
}

// Service interprets a user utterance against the dialogue context.
type Service interface {
	Interpret(ctx context.Context, userMessage string, dctx Context) (Output, error)
}

// ChatModel is the minimal LLM surface the interpreter needs: a chat
// completion returning text. Provider adapters live in the subpackages.
type ChatModel interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// Message is a single chat message sent to a ChatModel.
type Message struct {
	// Role is "system", "user", or "assistant".
	Role string

	// Content is the message text.
	Content string
}

// Standard chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
