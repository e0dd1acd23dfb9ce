// Command executor is the reference local executor the Kubernetes
// dispatcher (flow/dispatch) runs inside each node's Job container (spec
// §6.1). It reads an ExecutionPayload from LLMCTL_EXECUTOR_PAYLOAD_JSON,
// calls the requested LLM provider, and reports an ExecutionResult back as
// the one authoritative line on its own stdout.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/llmctl/flowruntime/flow/dispatch"
	"github.com/llmctl/flowruntime/flow/executor"
)

// resultMarker/startedMarker must stay byte-identical to the private
// constants of the same name in flow/dispatch/kubernetes.go — that's the
// other half of this contract, reading what this binary writes.
const (
	payloadEnvVar = "LLMCTL_EXECUTOR_PAYLOAD_JSON"
	resultMarker  = "LLMCTL_EXECUTOR_RESULT_JSON="
	startedMarker = "LLMCTL_EXECUTOR_STARTED"
)

func main() {
	os.Exit(run())
}

func run() int {
	raw := os.Getenv(payloadEnvVar)
	if raw == "" {
		fmt.Fprintln(os.Stderr, "executor: "+payloadEnvVar+" is not set")
		return 1
	}

	var payload dispatch.ExecutionPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		fmt.Fprintln(os.Stderr, "executor: failed to parse payload: "+err.Error())
		return 1
	}

	if payload.EmitStartMarkers {
		fmt.Println(startedMarker)
	}

	result := executor.Run(context.Background(), executor.DefaultResolver, payload)

	if result.Stdout != "" {
		fmt.Println(result.Stdout)
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		fmt.Fprintln(os.Stderr, "executor: failed to marshal result: "+err.Error())
		return 1
	}
	fmt.Println(resultMarker + string(encoded))

	return result.ExitCode
}
