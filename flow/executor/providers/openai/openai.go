// Package openai adapts OpenAI's chat completions API to the executor's
// ChatModel shape. Grounded in the teacher's graph/model/openai adapter.
package openai

import (
	"context"
	"errors"
	"fmt"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultModel is used when a task node leaves model_id unset.
const DefaultModel = "gpt-4o"

// ChatModel calls OpenAI's Chat Completions API.
type ChatModel struct {
	APIKey string
	Model  string
}

// New constructs a ChatModel, applying DefaultModel when modelName is empty.
func New(apiKey, modelName string) (*ChatModel, error) {
	if apiKey == "" {
		return nil, errors.New("openai: OPENAI_API_KEY is not set")
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	return &ChatModel{APIKey: apiKey, Model: modelName}, nil
}

func (m *ChatModel) Chat(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	client := openaisdk.NewClient(option.WithAPIKey(m.APIKey))

	messages := make([]openaisdk.ChatCompletionMessageParamUnion, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, openaisdk.SystemMessage(systemPrompt))
	}
	messages = append(messages, openaisdk.UserMessage(userPrompt))

	resp, err := client.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel(m.Model),
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}
