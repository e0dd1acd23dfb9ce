package executor

import (
	"fmt"
	"os"

	"github.com/llmctl/flowruntime/flow/executor/providers/anthropic"
	"github.com/llmctl/flowruntime/flow/executor/providers/google"
	"github.com/llmctl/flowruntime/flow/executor/providers/openai"
)

// DefaultResolver maps the provider names flow/handler_task.go assigns to
// task nodes (spec §4.4's instructionFilenames keys, plus each SDK's own
// family name as an alias) onto live provider adapters. API keys are read
// from the executor process's own environment, never from the
// ExecutionPayload — credentials don't travel through the dispatch wire
// contract.
func DefaultResolver(provider string) (ProviderFactory, error) {
	switch provider {
	case "claude", "anthropic":
		return func(modelName string) (ChatModel, error) {
			m, err := anthropic.New(os.Getenv("ANTHROPIC_API_KEY"), modelName)
			if err != nil {
				return nil, err
			}
			return m, nil
		}, nil
	case "codex", "openai":
		return func(modelName string) (ChatModel, error) {
			m, err := openai.New(os.Getenv("OPENAI_API_KEY"), modelName)
			if err != nil {
				return nil, err
			}
			return m, nil
		}, nil
	case "gemini", "google":
		return func(modelName string) (ChatModel, error) {
			m, err := google.New(os.Getenv("GOOGLE_API_KEY"), modelName)
			if err != nil {
				return nil, err
			}
			return m, nil
		}, nil
	default:
		return nil, fmt.Errorf("executor: unknown provider %q", provider)
	}
}
