package dispatch

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/llmctl/flowruntime/flow"
)

// resultMarker is the literal stdout prefix the executor contract (spec
// §6.1) requires on the one authoritative result line.
const resultMarker = "LLMCTL_EXECUTOR_RESULT_JSON="

// startedMarker is the literal stdout line emitted first when
// EmitStartMarkers is set.
const startedMarker = "LLMCTL_EXECUTOR_STARTED"

// KubernetesDispatcher implements flow.Dispatcher (C3) as the spec's sole
// provider: every node execution becomes one isolated batch/v1 Job.
// Grounded in the teacher's graph/model adapter shape (a thin wrapper over
// an external client with a narrow mockable interface) applied here to
// client-go instead of an LLM SDK client.
type KubernetesDispatcher struct {
	client      kubernetes.Interface
	namespace   string
	image       string
	breaker     *apiBreaker
	podPollTick time.Duration
	cancelGrace time.Duration

	mu       sync.Mutex
	canceled map[string]bool // run_id -> run_end_requested
}

// KubernetesDispatcherOption mutates a KubernetesDispatcher at construction.
type KubernetesDispatcherOption func(*KubernetesDispatcher)

func WithPodPollInterval(d time.Duration) KubernetesDispatcherOption {
	return func(k *KubernetesDispatcher) { k.podPollTick = d }
}

func WithCancelGraceTimeout(d time.Duration) KubernetesDispatcherOption {
	return func(k *KubernetesDispatcher) { k.cancelGrace = d }
}

// NewKubernetesDispatcher constructs a dispatcher that creates executor Jobs
// in namespace using image as the executor container image.
func NewKubernetesDispatcher(client kubernetes.Interface, namespace, image string, opts ...KubernetesDispatcherOption) *KubernetesDispatcher {
	k := &KubernetesDispatcher{
		client:      client,
		namespace:   namespace,
		image:       image,
		breaker:     newAPIBreaker("k8s-job-create"),
		podPollTick: 2 * time.Second,
		cancelGrace: 30 * time.Second,
		canceled:    make(map[string]bool),
	}
	for _, apply := range opts {
		apply(k)
	}
	return k
}

// Dispatch packages req as an ExecutionPayload, creates a Kubernetes Job
// carrying it, waits for the Job's Pod to reach a terminal phase, and
// normalizes the collected log tail into a flow.DispatchResult (spec §4.3).
func (k *KubernetesDispatcher) Dispatch(ctx context.Context, req flow.DispatchRequest) (flow.DispatchResult, error) {
	requestID := uuid.NewString()
	payload := k.buildPayload(req, requestID)

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return flow.DispatchResult{}, flow.NewResultError(flow.KindInfra, "failed to marshal execution payload", err)
	}

	jobName := fmt.Sprintf("llmctl-node-%s-%s", sanitizeName(req.NodeID), uuid.NewString()[:8])
	evidence := RuntimeEvidence{
		SelectedProvider: "kubernetes",
		FinalProvider:    "kubernetes",
		DispatchStatus:   DispatchPending,
	}

	job := k.buildJob(jobName, req, payloadJSON)

	var created *batchv1.Job
	createErr := k.breaker.call(ctx, func(ctx context.Context) error {
		var e error
		created, e = k.client.BatchV1().Jobs(k.namespace).Create(ctx, job, metav1.CreateOptions{})
		return e
	})

	if createErr != nil {
		evidence.DispatchStatus = DispatchFailed
		category, uncertain := classifyAPIFailure(createErr)
		evidence.APIFailureCategory = category
		evidence.DispatchUncertain = uncertain
		status := StatusDispatchFailed
		if uncertain {
			status = StatusDispatchUncertain
		}
		return flow.DispatchResult{
			Status:          status,
			Error:           flow.NewResultError(flow.KindDispatch, "job create failed: "+createErr.Error(), createErr),
			RuntimeEvidence: evidence.ToMap(),
		}, nil
	}

	evidence.DispatchStatus = DispatchSubmitted
	evidence.K8sJobName = created.Name
	evidence.ProviderDispatchID = fmt.Sprintf("kubernetes:%s/%s", k.namespace, created.Name)
	evidence.WorkspaceIdentity = created.Name

	pod, waitErr := k.waitForPod(ctx, jobName)
	if waitErr != nil {
		// Ambiguous: the create API call succeeded but we could not observe
		// a terminal Pod phase (context cancellation, watch failure, or the
		// caller's timeout). This is the dispatch_uncertain case, not a
		// create-API failure.
		evidence.DispatchUncertain = true
		evidence.APIFailureCategory = FailureUnknown
		if errors.Is(waitErr, context.DeadlineExceeded) {
			evidence.APIFailureCategory = FailureTimeout
		}
		return flow.DispatchResult{
			Status:             StatusDispatchUncertain,
			ProviderDispatchID: evidence.ProviderDispatchID,
			Error:              flow.NewResultError(flow.KindInfra, "could not confirm job terminal state: "+waitErr.Error(), waitErr),
			RuntimeEvidence:    evidence.ToMap(),
		}, nil
	}

	evidence.DispatchStatus = DispatchConfirmed
	evidence.K8sPodName = pod.Name
	evidence.K8sTerminalReason = terminalReason(pod)

	stdout, stderr := k.collectLogs(ctx, pod)
	result := k.normalizeResult(pod, stdout, stderr, payload.CaptureLimitBytes)

	dispatchResult := flow.DispatchResult{
		Status:             result.Status,
		ExitCode:           result.ExitCode,
		Stdout:             result.Stdout,
		Stderr:             result.Stderr,
		ProviderMetadata:   result.ProviderMetadata,
		OutputState:        result.OutputState,
		RoutingState:       result.RoutingState,
		ProviderDispatchID: evidence.ProviderDispatchID,
		RuntimeEvidence:    evidence.ToMap(),
	}
	if result.Error != nil {
		dispatchResult.Error = &flow.ResultError{
			Code:      mapErrorCodeToKind(result.Error.Code),
			Message:   result.Error.Message,
			Retryable: result.Error.Retryable,
			Details:   result.Error.Details,
		}
	}
	return dispatchResult, nil
}

// Cancel requests deletion of the Job associated with runID's in-flight
// node-runs. It is idempotent: a second call against an already-deleting
// Job is a no-op. After cancelGraceTimeoutSeconds the caller's grace period
// elapses and the scheduler force-cancels; this method itself only issues
// the graceful delete, matching the teacher's "never block a suspension
// point" rule (spec §5).
func (k *KubernetesDispatcher) Cancel(ctx context.Context, runID string) error {
	k.mu.Lock()
	alreadyRequested := k.canceled[runID]
	k.canceled[runID] = true
	k.mu.Unlock()
	if alreadyRequested {
		return nil
	}

	jobs, err := k.client.BatchV1().Jobs(k.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: "llmctl.io/run-id=" + runID,
	})
	if err != nil {
		return flow.NewResultError(flow.KindInfra, "failed to list jobs for cancellation", err)
	}
	grace := int64(k.cancelGrace.Seconds())
	policy := metav1.DeletePropagationBackground
	for _, j := range jobs.Items {
		delErr := k.client.BatchV1().Jobs(k.namespace).Delete(ctx, j.Name, metav1.DeleteOptions{
			GracePeriodSeconds: &grace,
			PropagationPolicy:  &policy,
		})
		if delErr != nil && !apierrors.IsNotFound(delErr) {
			return flow.NewResultError(flow.KindInfra, "failed to delete job "+j.Name, delErr)
		}
	}
	return nil
}

func (k *KubernetesDispatcher) buildPayload(req flow.DispatchRequest, requestID string) ExecutionPayload {
	env := map[string]string{
		"LLMCTL_FLOWCHART_RUN_ID": req.RunID,
		"LLMCTL_NODE_ID":          req.NodeID,
		"LLMCTL_EXECUTION_INDEX":  fmt.Sprintf("%d", req.ExecutionIndex),
	}
	if req.ModelID != "" {
		env["LLMCTL_MODEL_ID"] = req.ModelID
	}
	if req.Provider != "" {
		// Distinct from ExecutionPayload.Provider ("kubernetes", the dispatch
		// transport): this is which LLM the executor process should call.
		env["LLMCTL_LLM_PROVIDER"] = req.Provider
	}

	timeout := req.NodeConfig.Int("timeout_seconds", 300)
	if timeout < 1 {
		timeout = 1
	} else if timeout > 86400 {
		timeout = 86400
	}
	capture := req.NodeConfig.Int("capture_limit_bytes", 1_000_000)
	if capture < 1024 {
		capture = 1024
	} else if capture > 10_000_000 {
		capture = 10_000_000
	}

	inputCtx, _ := json.Marshal(req.InputContext)
	var requestContext map[string]interface{}
	_ = json.Unmarshal(inputCtx, &requestContext)

	return ExecutionPayload{
		ContractVersion: ContractVersion,
		RequestID:       requestID,
		Provider:        "kubernetes",
		NodeExecution: &NodeExecutionPayload{
			Entrypoint:     req.Entrypoint,
			Request:        req.Request,
			RequestContext: requestContext,
		},
		Env:               env,
		Cwd:               "/workspace",
		TimeoutSeconds:    timeout,
		CaptureLimitBytes: capture,
		EmitStartMarkers:  true,
		Metadata: map[string]interface{}{
			"node_type":    string(req.NodeType),
			"run_id":       req.RunID,
			"llm_provider": req.Provider,
		},
	}
}

func (k *KubernetesDispatcher) buildJob(jobName string, req flow.DispatchRequest, payloadJSON []byte) *batchv1.Job {
	backoff := int32(0)
	deadline := int64(req.NodeConfig.Int("timeout_seconds", 300))
	ttl := int32(3600)
	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      jobName,
			Namespace: k.namespace,
			Labels: map[string]string{
				"llmctl.io/run-id":  req.RunID,
				"llmctl.io/node-id": sanitizeName(req.NodeID),
			},
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            &backoff,
			ActiveDeadlineSeconds:   &deadline,
			TTLSecondsAfterFinished: &ttl,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: map[string]string{
						"llmctl.io/run-id": req.RunID,
						"job-name":         jobName,
					},
				},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{
						{
							Name:  "executor",
							Image: k.image,
							Env: []corev1.EnvVar{
								{Name: "LLMCTL_EXECUTOR_PAYLOAD_JSON", Value: string(payloadJSON)},
							},
						},
					},
				},
			},
		},
	}
}

// waitForPod polls for the Job's Pod to reach a terminal phase
// (Succeeded/Failed), bounded by ctx's deadline/cancellation.
func (k *KubernetesDispatcher) waitForPod(ctx context.Context, jobName string) (*corev1.Pod, error) {
	ticker := time.NewTicker(k.podPollTick)
	defer ticker.Stop()
	for {
		pods, err := k.client.CoreV1().Pods(k.namespace).List(ctx, metav1.ListOptions{
			LabelSelector: "job-name=" + jobName,
		})
		if err == nil && len(pods.Items) > 0 {
			pod := pods.Items[0]
			if pod.Status.Phase == corev1.PodSucceeded || pod.Status.Phase == corev1.PodFailed {
				return &pod, nil
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (k *KubernetesDispatcher) collectLogs(ctx context.Context, pod *corev1.Pod) (stdout, stderr string) {
	req := k.client.CoreV1().Pods(k.namespace).GetLogs(pod.Name, &corev1.PodLogOptions{Container: "executor"})
	stream, err := req.Stream(ctx)
	if err != nil {
		return "", ""
	}
	defer stream.Close()
	b, _ := io.ReadAll(stream)
	return string(b), ""
}

// normalizeResult reads the executor's authoritative result line from the
// collected stdout tail and maps the Pod's terminal phase + exit code onto
// spec §6.1's status/exit-code table when the marker line is absent or
// unparseable.
func (k *KubernetesDispatcher) normalizeResult(pod *corev1.Pod, stdout, stderr string, captureLimit int) ExecutionResult {
	if line, ok := findResultLine(stdout); ok {
		var res ExecutionResult
		if err := json.Unmarshal([]byte(line), &res); err == nil {
			res.Stdout = truncate(stdout, captureLimit)
			res.Stderr = truncate(stderr, captureLimit)
			if res.ProviderMetadata == nil {
				res.ProviderMetadata = map[string]interface{}{}
			}
			res.ProviderMetadata["executor"] = "llmctl-executor"
			return res
		}
	}

	exitCode, terminationReason := podExitInfo(pod)
	res := ExecutionResult{
		ContractVersion:  ContractVersion,
		Stdout:           truncate(stdout, captureLimit),
		Stderr:           truncate(stderr, captureLimit),
		ExitCode:         exitCode,
		ProviderMetadata: map[string]interface{}{"executor": "llmctl-executor", "termination_reason": terminationReason},
	}
	switch exitCode {
	case 0:
		res.Status = StatusSuccess
	case 124:
		res.Status = StatusTimeout
		res.Error = &ExecutionResultError{Code: "timeout", Message: "node execution timed out", Retryable: true}
	case 130:
		res.Status = StatusCancelled
		res.Error = &ExecutionResultError{Code: "cancelled", Message: "node execution cancelled", Retryable: false}
	default:
		res.Status = StatusFailed
		res.Error = &ExecutionResultError{Code: "execution_error", Message: fmt.Sprintf("executor exited %d without a result marker", exitCode), Retryable: false}
	}
	return res
}

func findResultLine(stdout string) (string, bool) {
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, resultMarker) {
			return strings.TrimPrefix(line, resultMarker), true
		}
	}
	return "", false
}

func podExitInfo(pod *corev1.Pod) (exitCode int, reason string) {
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.State.Terminated != nil {
			return int(cs.State.Terminated.ExitCode), cs.State.Terminated.Reason
		}
	}
	if pod.Status.Phase == corev1.PodFailed {
		return 1, string(pod.Status.Phase)
	}
	return 0, string(pod.Status.Phase)
}

func terminalReason(pod *corev1.Pod) string {
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.State.Terminated != nil {
			return cs.State.Terminated.Reason
		}
	}
	return string(pod.Status.Phase)
}

func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	const marker = "\n...[truncated]"
	if limit <= len(marker) {
		return s[:limit]
	}
	return s[:limit-len(marker)] + marker
}

func mapErrorCodeToKind(code string) flow.ErrorKind {
	switch code {
	case "timeout":
		return flow.KindTimeout
	case "cancelled":
		return flow.KindCancelled
	case "execution_error":
		return flow.KindExecution
	case "infra_error":
		return flow.KindInfra
	case "provider_error":
		return flow.KindProvider
	default:
		return flow.KindUnknown
	}
}

// classifyAPIFailure maps a Kubernetes API error into spec §4.3's
// api_failure_category enum and decides whether the failure is a confirmed
// dispatch_failed (category known, request definitely rejected) or an
// uncertain one (category unknown or a network-level failure where the
// Job's existence cannot be ruled out).
func classifyAPIFailure(err error) (category string, uncertain bool) {
	if errors.Is(err, errCircuitOpen) {
		return FailureUnknown, true
	}
	switch {
	case apierrors.IsUnauthorized(err), apierrors.IsForbidden(err):
		return FailureAuthError, false
	case apierrors.IsTimeout(err), apierrors.IsServerTimeout(err):
		return FailureTimeout, true
	case apierrors.IsServiceUnavailable(err):
		return FailureAPIUnreachable, true
	case apierrors.IsInvalid(err), apierrors.IsBadRequest(err):
		return FailurePreflightFailed, false
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "no such host"), strings.Contains(msg, "connection refused"):
		return FailureAPIUnreachable, true
	case strings.Contains(msg, "x509"), strings.Contains(msg, "certificate"):
		return FailureTLSError, false
	case strings.Contains(msg, "socket"):
		return FailureSocketUnreachable, true
	}
	return FailureUnknown, true
}

func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if len(out) > 40 {
		out = out[:40]
	}
	if out == "" {
		out = "node"
	}
	return out
}
