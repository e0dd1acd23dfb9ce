// Package dispatch implements the Executor Dispatcher: it packages a node
// execution as an ExecutionPayload, runs it as an isolated Kubernetes Job,
// and normalizes the job's result into a flow.DispatchResult. Grounded in
// the teacher's graph/model adapter shape (a thin Dispatcher in front of an
// external API, with a small mockable client interface underneath) applied
// here to client-go instead of an LLM SDK.
package dispatch

import "encoding/json"

// ContractVersion is the only ExecutionPayload/ExecutionResult version this
// dispatcher and the reference executor understand (spec §6.1).
const ContractVersion = "v1"

// ExecutionPayload is the wire contract handed to the executor process as
// JSON in the LLMCTL_EXECUTOR_PAYLOAD_JSON environment variable of the Job's
// container.
type ExecutionPayload struct {
	ContractVersion string                 `json:"contract_version"`
	RequestID       string                 `json:"request_id"`
	Provider        string                 `json:"provider"`
	Command         []string               `json:"command,omitempty"`
	ShellCommand    string                 `json:"shell_command,omitempty"`
	NodeExecution   *NodeExecutionPayload  `json:"node_execution,omitempty"`
	Env             map[string]string      `json:"env"`
	Cwd             string                 `json:"cwd"`
	Stdin           string                 `json:"stdin,omitempty"`
	TimeoutSeconds  int                    `json:"timeout_seconds"`
	CaptureLimitBytes int                  `json:"capture_limit_bytes"`
	EmitStartMarkers bool                  `json:"emit_start_markers"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// NodeExecutionPayload is the structured dispatch block used when a node
// invokes an in-process entrypoint (e.g. "task.run") rather than a shell
// command.
type NodeExecutionPayload struct {
	Entrypoint     string                 `json:"entrypoint"`
	Request        map[string]interface{} `json:"request"`
	RequestContext map[string]interface{} `json:"request_context"`
}

// ExecutionResult is the wire contract the executor reports back, read from
// the result marker line in the pod's collected stdout log. No result file
// is read.
type ExecutionResult struct {
	ContractVersion  string                 `json:"contract_version"`
	Status           string                 `json:"status"`
	ExitCode         int                    `json:"exit_code"`
	StartedAt        string                 `json:"started_at"`
	FinishedAt       string                 `json:"finished_at"`
	Stdout           string                 `json:"stdout"`
	Stderr           string                 `json:"stderr"`
	Error            *ExecutionResultError  `json:"error,omitempty"`
	ProviderMetadata map[string]interface{} `json:"provider_metadata,omitempty"`
	Usage            map[string]interface{} `json:"usage,omitempty"`
	Metrics          map[string]interface{} `json:"metrics,omitempty"`
	Warnings         []string               `json:"warnings,omitempty"`
	OutputState      map[string]interface{} `json:"output_state,omitempty"`
	RoutingState     map[string]interface{} `json:"routing_state,omitempty"`
}

// ExecutionResultError mirrors spec §6.1's embedded error envelope.
type ExecutionResultError struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Retryable bool                   `json:"retryable"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Result status values (spec §3's ExecutionResult.status enum).
const (
	StatusSuccess          = "success"
	StatusFailed           = "failed"
	StatusCancelled        = "cancelled"
	StatusTimeout          = "timeout"
	StatusDispatchFailed   = "dispatch_failed"
	StatusDispatchUncertain = "dispatch_uncertain"
	StatusInfraError       = "infra_error"
)

// dispatch_status values (spec §4.3's state machine), distinct from the
// ExecutionResult.status enum above: this tracks submission to the
// Kubernetes API, not the executor process outcome.
const (
	DispatchPending   = "dispatch_pending"
	DispatchSubmitted = "dispatch_submitted"
	DispatchConfirmed = "dispatch_confirmed"
	DispatchFailed    = "dispatch_failed"
)

// api_failure_category values (spec §4.3).
const (
	FailureSocketMissing    = "socket_missing"
	FailureSocketUnreachable = "socket_unreachable"
	FailureAPIUnreachable   = "api_unreachable"
	FailureAuthError        = "auth_error"
	FailureTLSError         = "tls_error"
	FailureTimeout          = "timeout"
	FailurePreflightFailed  = "preflight_failed"
	FailureUnknown          = "unknown"
)

// RuntimeEvidence is persisted on a node-run's terminal transition (spec
// §4.3) describing exactly how the dispatch happened.
type RuntimeEvidence struct {
	SelectedProvider   string `json:"selected_provider"`
	FinalProvider      string `json:"final_provider"`
	ProviderDispatchID string `json:"provider_dispatch_id,omitempty"`
	WorkspaceIdentity  string `json:"workspace_identity"`
	DispatchStatus     string `json:"dispatch_status"`
	FallbackAttempted  bool   `json:"fallback_attempted"`
	FallbackReason     string `json:"fallback_reason,omitempty"`
	DispatchUncertain  bool   `json:"dispatch_uncertain"`
	APIFailureCategory string `json:"api_failure_category,omitempty"`
	K8sJobName         string `json:"k8s_job_name,omitempty"`
	K8sPodName         string `json:"k8s_pod_name,omitempty"`
	K8sTerminalReason  string `json:"k8s_terminal_reason,omitempty"`
}

// ToMap renders RuntimeEvidence the way handler code expects
// (HandlerOutput/DispatchResult carry map[string]interface{}, not structs).
func (e RuntimeEvidence) ToMap() map[string]interface{} {
	b, _ := json.Marshal(e)
	var m map[string]interface{}
	_ = json.Unmarshal(b, &m)
	return m
}
