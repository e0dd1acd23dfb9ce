// Package executor implements the reference local executor: the process a
// dispatched Kubernetes Job actually runs (spec §6.1 of the wire contract
// flow/dispatch packages). It reads an ExecutionPayload from
// LLMCTL_EXECUTOR_PAYLOAD_JSON, resolves the node's requested LLM provider
// to an adapter, and reports an ExecutionResult back over stdout.
//
// Grounded in the teacher's graph/model package: one narrow ChatModel
// interface in front of whichever provider SDK the node asked for, so the
// executor itself never branches on SDK-specific types.
package executor

import "context"

// ChatModel is the provider abstraction the executor dispatches against.
// Unlike the teacher's model.ChatModel, task nodes in this runtime carry no
// tool specs (flow/handler_task.go's envelope is plain request/response
// text), so the interface narrows to one turn of system+user text in, text
// out.
type ChatModel interface {
	Chat(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ProviderFactory builds a ChatModel for a given model name, reading
// whatever API key environment variable the provider needs.
type ProviderFactory func(modelName string) (ChatModel, error)
