// Package anthropic provides an nlu.ChatModel adapter for the Anthropic
// Claude API.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/jmorenobl/soni/nlu"
)

// defaultModel is used when no model name is configured.
const defaultModel = "claude-sonnet-4-5-20250929"

// maxTokens bounds the interpretation reply; command JSON is small.
const maxTokens = 1024

// ChatModel implements nlu.ChatModel over Anthropic's Messages API.
// The system message is extracted into the API's separate system parameter.
type ChatModel struct {
	apiKey    string
	modelName string
}

// NewChatModel creates an Anthropic-backed chat model. An empty modelName
// selects the default.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = defaultModel
	}
	return &ChatModel{apiKey: apiKey, modelName: modelName}
}

// Chat implements nlu.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []nlu.Message) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if m.apiKey == "" {
		return "", errors.New("anthropic API key is required")
	}

	client := anthropicsdk.NewClient(option.WithAPIKey(m.apiKey))

	systemPrompt, conversation := splitSystemPrompt(messages)

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(m.modelName),
		Messages:  convertMessages(conversation),
		MaxTokens: maxTokens,
	}
	if systemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: systemPrompt}}
	}

	resp, err := client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic API error: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if b, ok := block.AsAny().(anthropicsdk.TextBlock); ok {
			if text != "" {
				text += "\n"
			}
			text += b.Text
		}
	}
	return text, nil
}

// splitSystemPrompt separates system messages from the conversation;
// Anthropic takes the system prompt as a dedicated parameter.
func splitSystemPrompt(messages []nlu.Message) (string, []nlu.Message) {
	var system string
	var rest []nlu.Message

	for _, msg := range messages {
		if msg.Role == nlu.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}
		rest = append(rest, msg)
	}
	return system, rest
}

func convertMessages(messages []nlu.Message) []anthropicsdk.MessageParam {
	result := make([]anthropicsdk.MessageParam, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case nlu.RoleAssistant:
			result[i] = anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(msg.Content))
		default:
			result[i] = anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(msg.Content))
		}
	}
	return result
}
