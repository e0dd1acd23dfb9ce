// Package anthropic adapts Anthropic's Claude API to the executor's
// ChatModel shape. Grounded in the teacher's graph/model/anthropic adapter:
// same SDK, same system-prompt-as-separate-parameter handling, narrowed to
// the single text-in/text-out turn the executor needs.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultModel is used when a task node leaves model_id unset.
const DefaultModel = "claude-sonnet-4-5-20250929"

// ChatModel calls Claude's Messages API.
type ChatModel struct {
	APIKey string
	Model  string
}

// New constructs a ChatModel, applying DefaultModel when modelName is empty.
func New(apiKey, modelName string) (*ChatModel, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: ANTHROPIC_API_KEY is not set")
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	return &ChatModel{APIKey: apiKey, Model: modelName}, nil
}

func (m *ChatModel) Chat(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	client := anthropicsdk.NewClient(option.WithAPIKey(m.APIKey))

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(m.Model),
		MaxTokens: 4096,
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(userPrompt)),
		},
	}
	if systemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: systemPrompt}}
	}

	resp, err := client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic: %w", err)
	}
	return concatText(resp), nil
}

func concatText(resp *anthropicsdk.Message) string {
	var out string
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropicsdk.TextBlock); ok {
			if out != "" {
				out += "\n"
			}
			out += tb.Text
		}
	}
	return out
}
