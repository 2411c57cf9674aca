// Package openai provides an nlu.ChatModel adapter for the OpenAI API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmorenobl/soni/nlu"
	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// defaultModel is used when no model name is configured.
const defaultModel = "gpt-4o"

// ChatModel implements nlu.ChatModel over OpenAI's chat completions API,
// with a small retry loop for transient failures.
type ChatModel struct {
	apiKey     string
	modelName  string
	maxRetries int
	retryDelay time.Duration
}

// NewChatModel creates an OpenAI-backed chat model. An empty modelName
// selects the default.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = defaultModel
	}
	return &ChatModel{
		apiKey:     apiKey,
		modelName:  modelName,
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// Chat implements nlu.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []nlu.Message) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if m.apiKey == "" {
		return "", errors.New("openai API key is required")
	}

	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		text, err := m.createCompletion(ctx, messages)
		if err == nil {
			return text, nil
		}
		lastErr = err

		if !isTransient(err) {
			return "", err
		}
		if attempt >= m.maxRetries {
			break
		}

		select {
		case <-time.After(m.retryDelay * time.Duration(attempt+1)):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("openai API failed after %d retries: %w", m.maxRetries, lastErr)
}

func (m *ChatModel) createCompletion(ctx context.Context, messages []nlu.Message) (string, error) {
	client := openaisdk.NewClient(option.WithAPIKey(m.apiKey))

	params := openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel(m.modelName),
		Messages: convertMessages(messages),
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func convertMessages(messages []nlu.Message) []openaisdk.ChatCompletionMessageParamUnion {
	result := make([]openaisdk.ChatCompletionMessageParamUnion, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case nlu.RoleSystem:
			result[i] = openaisdk.SystemMessage(msg.Content)
		case nlu.RoleAssistant:
			result[i] = openaisdk.AssistantMessage(msg.Content)
		default:
			result[i] = openaisdk.UserMessage(msg.Content)
		}
	}
	return result
}

// isTransient classifies errors worth retrying: rate limits, timeouts, and
// 5xx-shaped failures.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "network", "connection", "temporary", "rate limit", "429", "503", "502", "500"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
