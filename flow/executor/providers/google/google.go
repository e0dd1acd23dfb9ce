// Package google adapts Google's Gemini API to the executor's ChatModel
// shape. Grounded in the teacher's graph/model/google adapter, including its
// SafetyFilterError translation for blocked content.
package google

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DefaultModel is used when a task node leaves model_id unset.
const DefaultModel = "gemini-2.5-flash"

// ChatModel calls Gemini's GenerateContent API.
type ChatModel struct {
	APIKey string
	Model  string
}

// New constructs a ChatModel, applying DefaultModel when modelName is empty.
func New(apiKey, modelName string) (*ChatModel, error) {
	if apiKey == "" {
		return nil, errors.New("google: GOOGLE_API_KEY is not set")
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	return &ChatModel{APIKey: apiKey, Model: modelName}, nil
}

func (m *ChatModel) Chat(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(m.APIKey))
	if err != nil {
		return "", fmt.Errorf("google: failed to create client: %w", err)
	}
	defer client.Close()

	genModel := client.GenerativeModel(m.Model)
	if systemPrompt != "" {
		genModel.SystemInstruction = genai.NewUserContent(genai.Text(systemPrompt))
	}

	resp, err := genModel.GenerateContent(ctx, genai.Text(userPrompt))
	if err != nil {
		return "", fmt.Errorf("google: %w", err)
	}
	return concatText(resp), handleSafety(resp)
}

func concatText(resp *genai.GenerateContentResponse) string {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var out string
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			if out != "" {
				out += "\n"
			}
			out += string(t)
		}
	}
	return out
}

// handleSafety reports a SafetyFilterError when the only candidate was
// blocked, since genai returns a 200 with no text rather than a transport
// error in that case.
func handleSafety(resp *genai.GenerateContentResponse) error {
	if len(resp.Candidates) == 0 {
		return nil
	}
	c := resp.Candidates[0]
	if c.FinishReason == genai.FinishReasonSafety {
		return &SafetyFilterError{Reason: c.FinishReason.String()}
	}
	return nil
}

// SafetyFilterError reports that Gemini blocked the response for safety
// reasons rather than returning text.
type SafetyFilterError struct {
	Reason string
}

func (e *SafetyFilterError) Error() string {
	return "content blocked by safety filter: " + e.Reason
}
