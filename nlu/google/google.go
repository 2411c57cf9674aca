// Package google provides an nlu.ChatModel adapter for the Google Gemini
// API.
package google

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"github.com/jmorenobl/soni/nlu"
	"google.golang.org/api/option"
)

// defaultModel is used when no model name is configured.
const defaultModel = "gemini-2.5-flash"

// ChatModel implements nlu.ChatModel over the Gemini generative API.
type ChatModel struct {
	apiKey    string
	modelName string
}

// NewChatModel creates a Gemini-backed chat model. An empty modelName
// selects the default.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = defaultModel
	}
	return &ChatModel{apiKey: apiKey, modelName: modelName}
}

// Chat implements nlu.ChatModel. Gemini has no separate role structure for
// our text-in/text-out use, so messages concatenate into ordered parts.
func (m *ChatModel) Chat(ctx context.Context, messages []nlu.Message) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if m.apiKey == "" {
		return "", errors.New("google API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(m.apiKey))
	if err != nil {
		return "", fmt.Errorf("failed to create Google client: %w", err)
	}
	defer func() { _ = client.Close() }()

	genModel := client.GenerativeModel(m.modelName)

	parts := make([]genai.Part, 0, len(messages))
	for _, msg := range messages {
		if msg.Content != "" {
			parts = append(parts, genai.Text(msg.Content))
		}
	}

	resp, err := genModel.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("google API error: %w", err)
	}

	var text string
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				if text != "" {
					text += "\n"
				}
				text += string(t)
			}
		}
	}
	return text, nil
}
