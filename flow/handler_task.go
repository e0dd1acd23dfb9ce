package flow

import (
	"context"
	"fmt"
)

// instructionFilenames maps a provider to the native instruction filename it
// expects to find in the ephemeral workspace (spec §4.4 task handler).
var instructionFilenames = map[string]string{
	"codex":  "AGENTS.md",
	"gemini": "GEMINI.md",
	"claude": "CLAUDE.md",
}

// taskHandler implements the "task" node type: LLM execution via the
// dispatcher. It resolves provider/model, composes the prompt envelope with
// native-or-fallback instruction and skill materialization, invokes the
// Dispatcher, and maps the result into output_state.
type taskHandler struct {
	dispatcher Dispatcher
}

// NewTaskHandler constructs the task node handler. deps.Dispatcher must be
// non-nil — a task node with no dispatcher configured is a wiring bug, not
// a runtime condition to recover from.
func NewTaskHandler(deps HandlerDeps) Handler {
	return &taskHandler{dispatcher: deps.Dispatcher}
}

func (h *taskHandler) Handle(ctx context.Context, in HandlerInput) (HandlerOutput, error) {
	provider := resolveProvider(in)
	model := in.NodeConfig.String("model_id")
	if model == "" {
		model = in.DefaultModelID
	}

	envelope, adapterModes := buildPromptEnvelope(in, provider)

	if h.dispatcher == nil {
		return HandlerOutput{}, NewResultError(KindInfra, "task node has no dispatcher configured", nil)
	}

	res, err := h.dispatcher.Dispatch(ctx, DispatchRequest{
		NodeID:           in.NodeID,
		NodeType:         NodeTask,
		NodeConfig:       in.NodeConfig,
		InputContext:     in.InputContext,
		RunID:            in.ExecutionID,
		ExecutionID:      in.ExecutionID,
		ExecutionIndex:   in.ExecutionIndex,
		ModelID:          model,
		Provider:         provider,
		EnabledProviders: in.EnabledProviders,
		Entrypoint:       "task.run",
		Request:          envelope,
	})
	if err != nil {
		return HandlerOutput{}, err
	}
	if res.Error != nil {
		return HandlerOutput{}, res.Error
	}

	out := map[string]interface{}{
		"raw_output":             res.Stdout,
		"structured_output":      res.OutputState,
		"resolved_provider_id":   provider,
		"resolved_model_id":      model,
		"skill_adapter_mode":     adapterModes.skill,
		"instruction_adapter_mode": adapterModes.instruction,
		"task_current_stage":    "completed",
		"task_stage_logs":       []string{"dispatched", "collected"},
		"runtime_evidence":      res.RuntimeEvidence,
	}
	return HandlerOutput{OutputState: out}, nil
}

func resolveProvider(in HandlerInput) string {
	if p := in.NodeConfig.String("provider"); p != "" {
		return p
	}
	if len(in.EnabledProviders) > 0 {
		return in.EnabledProviders[0]
	}
	return "claude"
}

type adapterModes struct {
	instruction string
	skill       string
}

// buildPromptEnvelope composes the {user_request, task_context, output_contract}
// envelope (spec §4.4) and decides native-vs-fallback materialization for
// instructions and skills per provider.
func buildPromptEnvelope(in HandlerInput, provider string) (map[string]interface{}, adapterModes) {
	modes := adapterModes{instruction: "fallback", skill: "fallback"}

	instructionsMarkdown := in.NodeConfig.String("task_prompt")
	taskContext := map[string]interface{}{
		"agent_prompt": in.NodeConfig.String("agent_prompt"),
		"priorities":   in.NodeConfig.StringSlice("priorities"),
		"inputs":       in.InputContext,
	}

	if filename, ok := instructionFilenames[provider]; ok {
		// Native mode: the dispatcher's packaging step writes `filename` into
		// the ephemeral workspace; the envelope records the filename instead
		// of inlining the markdown.
		modes.instruction = "native"
		taskContext["instructions"] = map[string]interface{}{
			"materialized_filename": filename,
		}
	} else if customName := in.NodeConfig.String("custom_instruction_filename"); customName != "" {
		modes.instruction = "native"
		taskContext["instructions"] = map[string]interface{}{
			"materialized_filename": customName,
		}
	} else {
		taskContext["instructions"] = map[string]interface{}{
			"instructions_markdown": instructionsMarkdown,
			"materialized_filename": "",
		}
	}

	skillIDs := in.NodeConfig.StringSlice("skill_ids")
	if len(skillIDs) > 0 {
		if modes.instruction == "native" {
			// Skill packaging follows the same native/fallback pattern as
			// instructions: native mode materializes files under
			// .llmctl/skills/<slug>/ plus the provider home directory.
			modes.skill = "native"
			paths := make([]string, 0, len(skillIDs))
			for _, id := range skillIDs {
				paths = append(paths, fmt.Sprintf(".llmctl/skills/%s/", id))
			}
			taskContext["skills"] = map[string]interface{}{"materialized_paths": paths}
		} else {
			taskContext["skills"] = map[string]interface{}{"skill_ids": skillIDs}
		}
	}

	envelope := map[string]interface{}{
		"user_request": in.NodeConfig.String("user_request"),
		"task_context": taskContext,
		"output_contract": map[string]interface{}{
			"type": "structured",
		},
	}
	return envelope, modes
}
