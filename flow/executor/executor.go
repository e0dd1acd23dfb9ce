package executor

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/llmctl/flowruntime/flow/dispatch"
)

// defaultProvider mirrors flow/handler_task.go's resolveProvider fallback,
// so a payload that never set LLMCTL_LLM_PROVIDER still runs instead of
// failing outright.
const defaultProvider = "claude"

// Resolver maps a provider name (spec §4.4's "claude"/"codex"/"gemini", or
// the raw SDK family name) to a ProviderFactory. Production wiring is
// DefaultResolver; tests substitute a fake Resolver to avoid live API calls.
type Resolver func(provider string) (ProviderFactory, error)

// Run executes one ExecutionPayload end-to-end: resolves the requested
// provider/model, builds the prompt from the node's request envelope, calls
// the model, and normalizes the outcome into an ExecutionResult (spec
// §6.1). It never panics on a malformed envelope or a provider failure —
// both become a failed ExecutionResult, since a bare panic would leave the
// Job's container with no result marker line at all.
func Run(ctx context.Context, resolve Resolver, payload dispatch.ExecutionPayload) dispatch.ExecutionResult {
	startedAt := time.Now().UTC()
	res := dispatch.ExecutionResult{
		ContractVersion: dispatch.ContractVersion,
		StartedAt:       startedAt.Format(time.RFC3339Nano),
	}

	if payload.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(payload.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	answer, execErr := execute(ctx, resolve, payload)
	res.FinishedAt = time.Now().UTC().Format(time.RFC3339Nano)

	if execErr != nil {
		if errors.Is(execErr, context.DeadlineExceeded) {
			res.Status = dispatch.StatusTimeout
			res.ExitCode = 124
			res.Error = &dispatch.ExecutionResultError{Code: "timeout", Message: execErr.Error(), Retryable: true}
			return res
		}
		res.Status = dispatch.StatusFailed
		res.ExitCode = 1
		res.Error = &dispatch.ExecutionResultError{Code: "execution_error", Message: execErr.Error(), Retryable: false}
		return res
	}

	res.Status = dispatch.StatusSuccess
	res.ExitCode = 0
	res.Stdout = answer
	res.OutputState = map[string]interface{}{"text": answer}
	return res
}

func execute(ctx context.Context, resolve Resolver, payload dispatch.ExecutionPayload) (string, error) {
	if payload.NodeExecution == nil {
		return "", errors.New("executor: payload carries no node_execution entrypoint")
	}

	providerName := payload.Env["LLMCTL_LLM_PROVIDER"]
	if providerName == "" {
		providerName = defaultProvider
	}
	modelName := payload.Env["LLMCTL_MODEL_ID"]

	factory, err := resolve(providerName)
	if err != nil {
		return "", err
	}
	model, err := factory(modelName)
	if err != nil {
		return "", err
	}

	systemPrompt, userPrompt := buildPrompt(payload.NodeExecution.Request)
	return model.Chat(ctx, systemPrompt, userPrompt)
}

// buildPrompt mirrors flow/handler_task.go's buildPromptEnvelope shape:
// {user_request, task_context: {agent_prompt, priorities, instructions}}.
func buildPrompt(request map[string]interface{}) (systemPrompt, userPrompt string) {
	if request == nil {
		return "", ""
	}

	var sb strings.Builder
	if taskContext, ok := request["task_context"].(map[string]interface{}); ok {
		writePart(&sb, stringField(taskContext, "agent_prompt"))
		if instructions, ok := taskContext["instructions"].(map[string]interface{}); ok {
			writePart(&sb, stringField(instructions, "instructions_markdown"))
		}
		if priorities := stringSliceField(taskContext, "priorities"); len(priorities) > 0 {
			var p strings.Builder
			p.WriteString("Priorities:")
			for _, item := range priorities {
				p.WriteString("\n- " + item)
			}
			writePart(&sb, p.String())
		}
	}

	userPrompt, _ = request["user_request"].(string)
	return sb.String(), userPrompt
}

func writePart(sb *strings.Builder, s string) {
	if s == "" {
		return
	}
	if sb.Len() > 0 {
		sb.WriteString("\n\n")
	}
	sb.WriteString(s)
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func stringSliceField(m map[string]interface{}, key string) []string {
	raw, ok := m[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
