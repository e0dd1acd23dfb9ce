package executor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/llmctl/flowruntime/flow/dispatch"
)

type fakeChatModel struct {
	text string
	err  error
	wait time.Duration
}

func (f fakeChatModel) Chat(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if f.wait > 0 {
		select {
		case <-time.After(f.wait):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func resolverFor(model fakeChatModel) Resolver {
	return func(provider string) (ProviderFactory, error) {
		return func(string) (ChatModel, error) { return model, nil }, nil
	}
}

func payloadWith(request map[string]interface{}, env map[string]string) dispatch.ExecutionPayload {
	return dispatch.ExecutionPayload{
		ContractVersion: dispatch.ContractVersion,
		NodeExecution:   &dispatch.NodeExecutionPayload{Entrypoint: "task.run", Request: request},
		Env:             env,
	}
}

func TestRun_SuccessReturnsAnswerAsStdout(t *testing.T) {
	payload := payloadWith(map[string]interface{}{
		"user_request": "summarize the release notes",
		"task_context": map[string]interface{}{"agent_prompt": "You are terse."},
	}, map[string]string{"LLMCTL_LLM_PROVIDER": "claude"})

	res := Run(context.Background(), resolverFor(fakeChatModel{text: "done"}), payload)

	if res.Status != dispatch.StatusSuccess || res.ExitCode != 0 {
		t.Fatalf("status=%s exitCode=%d, want success/0", res.Status, res.ExitCode)
	}
	if res.Stdout != "done" {
		t.Errorf("stdout = %q, want %q", res.Stdout, "done")
	}
	if res.Error != nil {
		t.Errorf("unexpected error: %+v", res.Error)
	}
}

func TestRun_MissingNodeExecutionFails(t *testing.T) {
	payload := dispatch.ExecutionPayload{ContractVersion: dispatch.ContractVersion}

	res := Run(context.Background(), resolverFor(fakeChatModel{text: "unused"}), payload)

	if res.Status != dispatch.StatusFailed || res.ExitCode != 1 {
		t.Fatalf("status=%s exitCode=%d, want failed/1", res.Status, res.ExitCode)
	}
	if res.Error == nil || res.Error.Retryable {
		t.Fatalf("error = %+v, want a non-retryable execution_error", res.Error)
	}
}

func TestRun_ProviderErrorIsNotRetryable(t *testing.T) {
	payload := payloadWith(map[string]interface{}{"user_request": "hi"}, map[string]string{"LLMCTL_LLM_PROVIDER": "claude"})

	res := Run(context.Background(), resolverFor(fakeChatModel{err: errors.New("anthropic: rate limited")}), payload)

	if res.Status != dispatch.StatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	if res.Error.Retryable {
		t.Error("provider failures surfaced to the dispatcher must not claim scheduler-level retryability")
	}
}

func TestRun_MissingProviderFallsBackToDefault(t *testing.T) {
	var seenProvider string
	resolve := func(provider string) (ProviderFactory, error) {
		seenProvider = provider
		return func(string) (ChatModel, error) { return fakeChatModel{text: "ok"}, nil }, nil
	}
	payload := payloadWith(map[string]interface{}{"user_request": "hi"}, nil)

	res := Run(context.Background(), resolve, payload)

	if seenProvider != defaultProvider {
		t.Errorf("resolved provider = %q, want default %q", seenProvider, defaultProvider)
	}
	if res.Status != dispatch.StatusSuccess {
		t.Fatalf("status = %s, want success", res.Status)
	}
}

func TestRun_TimeoutMapsToTimeoutStatus(t *testing.T) {
	payload := dispatch.ExecutionPayload{
		ContractVersion: dispatch.ContractVersion,
		NodeExecution:   &dispatch.NodeExecutionPayload{Entrypoint: "task.run", Request: map[string]interface{}{"user_request": "hi"}},
		Env:             map[string]string{"LLMCTL_LLM_PROVIDER": "claude"},
		TimeoutSeconds:  1,
	}

	res := Run(context.Background(), resolverFor(fakeChatModel{wait: 2 * time.Second}), payload)

	if res.Status != dispatch.StatusTimeout || res.ExitCode != 124 {
		t.Fatalf("status=%s exitCode=%d, want timeout/124", res.Status, res.ExitCode)
	}
	if !res.Error.Retryable {
		t.Error("a self-timeout should be marked retryable for the executor's own narrow internal retry, per spec's retry policy")
	}
}

func TestBuildPrompt_ComposesAgentPromptInstructionsAndPriorities(t *testing.T) {
	system, user := buildPrompt(map[string]interface{}{
		"user_request": "ship it",
		"task_context": map[string]interface{}{
			"agent_prompt": "Be concise.",
			"priorities":   []interface{}{"correctness", "speed"},
			"instructions": map[string]interface{}{"instructions_markdown": "Follow the style guide."},
		},
	})

	if user != "ship it" {
		t.Errorf("user prompt = %q, want %q", user, "ship it")
	}
	wantParts := []string{"Be concise.", "Follow the style guide.", "Priorities:", "- correctness", "- speed"}
	for _, part := range wantParts {
		if !strings.Contains(system, part) {
			t.Errorf("system prompt %q missing expected fragment %q", system, part)
		}
	}
}
