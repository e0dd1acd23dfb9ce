package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/llmctl/flowruntime/internal/idgen"
)

// SchedulerOptions configures a Scheduler, following the teacher's
// functional-options convention (graph/options.go) adapted to this
// package's concrete domain rather than a generic Options[S].
type SchedulerOptions struct {
	MaxConcurrentNodes int
	NodeTimeout        time.Duration
	CancelGracePeriod  time.Duration
	Metrics            *Metrics
	Validator          Validator
	RAG                RAGContract

	// DispatchCanceler requests Job deletion for a run's outstanding
	// dispatches (spec §4.3 cancel(run_id)). Optional: when unset, Cancel
	// only stops admitting new work and waits out the grace period.
	DispatchCanceler func(ctx context.Context, runID string) error
}

// SchedulerOption mutates SchedulerOptions.
type SchedulerOption func(*SchedulerOptions)

func WithMaxConcurrentNodes(n int) SchedulerOption {
	return func(o *SchedulerOptions) { o.MaxConcurrentNodes = n }
}

func WithNodeTimeout(d time.Duration) SchedulerOption {
	return func(o *SchedulerOptions) { o.NodeTimeout = d }
}

func WithCancelGracePeriod(d time.Duration) SchedulerOption {
	return func(o *SchedulerOptions) { o.CancelGracePeriod = d }
}

func WithMetrics(m *Metrics) SchedulerOption {
	return func(o *SchedulerOptions) { o.Metrics = m }
}

// WithValidator configures the C7 pre-run validation gate (spec §4.6). When
// unset, Run skips structural/policy validation entirely (e.g. in tests
// exercising scheduling logic in isolation).
func WithValidator(v Validator) SchedulerOption {
	return func(o *SchedulerOptions) { o.Validator = v }
}

// WithRAG configures the retrieval contract used for the pre-run health
// probe of rag nodes (spec §4.6). When unset, rag nodes skip the probe and
// rely on the rag handler's own mid-execution health check.
func WithRAG(r RAGContract) SchedulerOption {
	return func(o *SchedulerOptions) { o.RAG = r }
}

// WithDispatchCanceler wires the dispatcher's cancel(run_id) call into
// Scheduler.Cancel (spec §4.3/§5).
func WithDispatchCanceler(fn func(ctx context.Context, runID string) error) SchedulerOption {
	return func(o *SchedulerOptions) { o.DispatchCanceler = fn }
}

func defaultSchedulerOptions() SchedulerOptions {
	return SchedulerOptions{
		MaxConcurrentNodes: 8,
		NodeTimeout:        15 * time.Minute,
		CancelGracePeriod:  30 * time.Second,
	}
}

// workItem is one admitted, ready-to-execute node-run, generalized from the
// teacher's WorkItem[S any] (graph/scheduler.go) to a concrete node-run
// unit: no generic State payload, since the only state this domain carries
// between nodes is the InputContextEnvelope assembled by the fan-in gate.
type workItem struct {
	node     *FlowchartNode
	cycle    int
	envelope InputContextEnvelope
}

// Scheduler is the C6 node-run scheduler: it walks a Flowchart's adjacency
// index, admits nodes through the FanInGate, dispatches to the
// HandlerRegistry, resolves routing to the next tokens, and enforces
// max_node_executions and cancellation. Grounded in the teacher's
// Engine.runConcurrent worker-pool pattern (graph/engine.go), generalized
// from a single shared-state reducer loop to a node-run lifecycle tracked
// per FlowchartRunNode row.
type Scheduler struct {
	store     Store
	emitter   Emitter
	handlers  *HandlerRegistry
	opts      SchedulerOptions
}

func NewScheduler(store Store, emitter Emitter, handlers *HandlerRegistry, opts ...SchedulerOption) *Scheduler {
	o := defaultSchedulerOptions()
	for _, apply := range opts {
		apply(&o)
	}
	return &Scheduler{store: store, emitter: emitter, handlers: handlers, opts: o}
}

// Run executes fc as a new FlowchartRun to completion (or failure, or
// cancellation) and returns the finished run record.
func (s *Scheduler) Run(ctx context.Context, fc *Flowchart) (*FlowchartRun, error) {
	idx := BuildAdjacencyIndex(fc)
	if idx.StartNodeID() == "" {
		return nil, NewResultError(KindValidation, "flowchart has no start node", ErrNoStartNode)
	}

	run := &FlowchartRun{ID: idgen.RunID(), FlowchartID: fc.ID, Status: RunRunning}
	now := time.Now()
	run.StartedAt = &now
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, NewResultError(KindInfra, "failed to persist run", err)
	}
	if err := s.emitter.Emit(ctx, "flowchart_run:"+run.ID, "run_started", map[string]interface{}{"flowchart_id": fc.ID}); err != nil {
		return nil, NewResultError(KindInfra, "failed to emit run_started", err)
	}

	// Pre-run validation (spec §4.6): a structural/policy error or an
	// unhealthy rag backend transitions the run directly to failed with no
	// node-runs executed.
	if failRun, err := s.preRunCheck(ctx, fc, run); err != nil {
		return nil, err
	} else if failRun != nil {
		return s.failRunWithoutDispatch(ctx, run, failRun)
	}

	gate := NewFanInGate(idx)
	maxWorkers := s.opts.MaxConcurrentNodes
	if maxWorkers <= 0 {
		maxWorkers = 1
	}

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan workItem, maxWorkers*4)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var runErr error
	pending := 0

	// cycleOf tracks, per node id, which execution_index the node's NEXT
	// admission will receive (spec §3 "execution_index monotonically
	// increases per node id per run (loops reuse node ids)"). It is only
	// ever read/written from this single-threaded scheduling loop (via
	// advance), never from the worker goroutines, so it needs no lock.
	cycleOf := make(map[string]int)

	startNode, _ := idx.Node(idx.StartNodeID())
	cycleOf[startNode.ID] = 1
	queue <- workItem{node: startNode, cycle: 0, envelope: InputContextEnvelope{TriggerSources: []string{"__start__"}}}
	pending = 1

	results := make(chan nodeRunOutcome, maxWorkers*2)

	for i := 0; i < maxWorkers; i++ {
		wg.Add(1)
		go s.worker(workerCtx, &wg, queue, results, run, fc)
	}

	for pending > 0 {
		select {
		case <-workerCtx.Done():
			mu.Lock()
			runErr = workerCtx.Err()
			mu.Unlock()
			pending = 0
		case outcome := <-results:
			pending--
			s.opts.Metrics.UpdateQueueDepth(len(queue))

			if outcome.err != nil {
				// Any node-run failure fails the run: there are no
				// compensating routes (spec §7 propagation policy).
				// ResultError.Retryable only describes whether the
				// executor itself may retry narrow cases internally
				// before returning; it is not a scheduler-level retry
				// signal.
				mu.Lock()
				runErr = asResultError(outcome.err)
				mu.Unlock()
				cancel()
				continue
			}

			nexts, err := s.advance(ctx, fc, run, idx, gate, cycleOf, outcome)
			if err != nil {
				mu.Lock()
				runErr = err
				mu.Unlock()
				cancel()
				continue
			}
			for _, item := range nexts {
				select {
				case queue <- item:
					pending++
				case <-workerCtx.Done():
				}
			}
		}
	}

	close(queue)
	wg.Wait()

	finish := time.Now()
	run.FinishedAt = &finish
	if runErr != nil {
		run.Status = RunFailed
		run.Error = runErr.Error()
	} else {
		run.Status = RunCompleted
	}
	if err := s.store.UpdateRun(ctx, run); err != nil {
		return run, NewResultError(KindInfra, "failed to persist run completion", err)
	}
	_ = s.emitter.Emit(ctx, "flowchart_run:"+run.ID, "run_finished", map[string]interface{}{"status": string(run.Status)})
	if runErr != nil {
		return run, runErr
	}
	return run, nil
}

type nodeRunOutcome struct {
	node   *FlowchartNode
	cycle  int
	output HandlerOutput
	err    error
}

func (s *Scheduler) worker(ctx context.Context, wg *sync.WaitGroup, queue <-chan workItem, results chan<- nodeRunOutcome, run *FlowchartRun, fc *Flowchart) {
	defer wg.Done()
	for item := range queue {
		handler, ok := s.handlers.Lookup(item.node.NodeType)
		if !ok {
			results <- nodeRunOutcome{node: item.node, cycle: item.cycle, err: NewResultError(KindValidation, fmt.Sprintf("no handler for node type %q", item.node.NodeType), nil)}
			continue
		}

		nodeCtx := context.WithValue(ctx, RunIDKey, run.ID)
		var cancelTimeout context.CancelFunc
		if s.opts.NodeTimeout > 0 {
			nodeCtx, cancelTimeout = context.WithTimeout(nodeCtx, s.opts.NodeTimeout)
		}

		rn := &FlowchartRunNode{
			ID:              fmt.Sprintf("%s:%s:%d", run.ID, item.node.ID, item.cycle),
			FlowchartRunID:  run.ID,
			FlowchartNodeID: item.node.ID,
			ExecutionIndex:  item.cycle,
			Status:          NodeRunRunning,
		}
		started := time.Now()
		rn.StartedAt = &started
		_ = s.store.CreateRunNode(ctx, rn)
		_ = s.emitter.Emit(ctx, "flowchart_run:"+run.ID, "node_started", map[string]interface{}{"node_id": item.node.ID})

		out, err := handler.Handle(nodeCtx, HandlerInput{
			NodeID:         item.node.ID,
			NodeType:       item.node.NodeType,
			NodeRefID:      item.node.RefID,
			NodeConfig:     item.node.Config,
			InputContext:   item.envelope,
			ExecutionID:    run.ID,
			ExecutionIndex: item.cycle,
			DefaultModelID: item.node.ModelID,
		})
		if cancelTimeout != nil {
			cancelTimeout()
		}

		finished := time.Now()
		rn.FinishedAt = &finished
		if err != nil {
			rn.Status = NodeRunFailed
			rn.Error = err.Error()
		} else {
			rn.Status = NodeRunSucceeded
			if b, mErr := json.Marshal(out.OutputState); mErr == nil {
				rn.OutputState = b
			}
			if b, mErr := json.Marshal(out.RoutingState); mErr == nil {
				rn.RoutingState = b
			}
		}
		_ = s.store.UpdateRunNode(ctx, rn)
		_ = s.emitter.Emit(ctx, "flowchart_run:"+run.ID, "node_finished", map[string]interface{}{"node_id": item.node.ID, "status": string(rn.Status)})

		s.opts.Metrics.RecordNodeLatency(item.node.NodeType, rn.Status, finished.Sub(started))
		s.opts.Metrics.IncNodeExecution(item.node.NodeType, rn.Status)
		s.opts.Metrics.IncFanInAdmission(item.node.Config.FanInMode())

		select {
		case results <- nodeRunOutcome{node: item.node, cycle: item.cycle, output: out, err: err}:
		case <-ctx.Done():
			return
		}
	}
}

// advance resolves routing for a finished node-run and admits any
// downstream nodes whose fan-in gate becomes ready as a result. Each
// target's token is keyed on cycleOf[target.ID], the target's own pending
// execution_index, not the source node's cycle — two nodes at different
// points in a loop must not share a fan-in bucket. When admission would
// push a target past fc.MaxNodeExecutions, the target's node-run is
// recorded failed with "max_node_executions" and no token is emitted
// downstream of it (spec §4.6, §8 scenario 5).
func (s *Scheduler) advance(ctx context.Context, fc *Flowchart, run *FlowchartRun, idx *AdjacencyIndex, gate *FanInGate, cycleOf map[string]int, outcome nodeRunOutcome) ([]workItem, error) {
	if outcome.err != nil {
		return nil, nil
	}

	edges, err := ResolveRouting(idx, outcome.node, outcome.output.RoutingState)
	if err != nil {
		return nil, err
	}

	outBytes, _ := json.Marshal(outcome.output.OutputState)

	var next []workItem
	for _, e := range edges {
		target, ok := idx.Node(e.TargetNodeID)
		if !ok {
			continue
		}
		cycle := cycleOf[target.ID]
		token := FanInToken{NodeID: target.ID, RunCycle: cycle}
		gate.Arrive(token, outcome.node.ID, outBytes, false)
		if ready, env := gate.Ready(token, target); ready {
			gate.Reset(token)
			if fc.MaxNodeExecutions > 0 && cycle >= fc.MaxNodeExecutions {
				return nil, s.recordMaxExecutionsFailure(ctx, run, target, cycle)
			}
			cycleOf[target.ID] = cycle + 1
			next = append(next, workItem{node: target, cycle: cycle, envelope: env})
		}
	}

	// Dotted edges from this node pull its output into any target's next
	// admission context without gating on it.
	for _, e := range idx.DottedOutgoing(outcome.node.ID) {
		target, ok := idx.Node(e.TargetNodeID)
		if !ok {
			continue
		}
		token := FanInToken{NodeID: target.ID, RunCycle: cycleOf[target.ID]}
		gate.Arrive(token, outcome.node.ID, outBytes, true)
	}

	return next, nil
}

// recordMaxExecutionsFailure persists and emits the terminal failed
// node-run for a node that was about to exceed fc.MaxNodeExecutions, and
// returns the error that fails the whole run (current fail-fast policy,
// spec §7 propagation policy / §9 Open Questions).
func (s *Scheduler) recordMaxExecutionsFailure(ctx context.Context, run *FlowchartRun, target *FlowchartNode, cycle int) error {
	rn := &FlowchartRunNode{
		ID:              fmt.Sprintf("%s:%s:%d", run.ID, target.ID, cycle),
		FlowchartRunID:  run.ID,
		FlowchartNodeID: target.ID,
		ExecutionIndex:  cycle,
		Status:          NodeRunFailed,
		Error:           "max_node_executions",
	}
	now := time.Now()
	rn.StartedAt = &now
	rn.FinishedAt = &now
	_ = s.store.CreateRunNode(ctx, rn)
	_ = s.emitter.Emit(ctx, "flowchart_run:"+run.ID, "node_finished", map[string]interface{}{"node_id": target.ID, "status": string(NodeRunFailed)})
	return NewResultError(KindExecution, "max_node_executions", ErrMaxNodeExecutions)
}

// Cancel requests cooperative cancellation of a running flowchart run: it
// cancels the run's worker context and then blocks until either in-flight
// node-runs finish or CancelGracePeriod elapses, whichever comes first. The
// caller is expected to have derived ctx from the context passed to Run so
// cancel() there observes this signal.
func (s *Scheduler) Cancel(ctx context.Context, runID string, cancel context.CancelFunc, done <-chan struct{}) {
	cancel()
	if s.opts.DispatchCanceler != nil {
		_ = s.opts.DispatchCanceler(ctx, runID)
	}
	grace := s.opts.CancelGracePeriod
	if grace <= 0 {
		return
	}
	select {
	case <-done:
	case <-time.After(grace):
	}
}

// preRunCheck runs C7 structural/policy validation and, for rag nodes, a
// pre-run C2.health probe. A non-nil returned error is an internal failure
// (e.g. the validator or health probe itself errored); a non-nil returned
// *ResultError (first return value) means the graph was rejected and the
// caller must fail the run without dispatching any node.
func (s *Scheduler) preRunCheck(ctx context.Context, fc *Flowchart, run *FlowchartRun) (*ResultError, error) {
	if s.opts.Validator != nil {
		res, err := s.opts.Validator.Validate(ctx, fc)
		if err != nil {
			return nil, NewResultError(KindInfra, "pre-run validation failed", err)
		}
		if !res.OK {
			return NewResultError(KindValidation, strings.Join(res.Errors, "; "), nil), nil
		}
	}

	if s.opts.RAG != nil {
		health, err := s.opts.RAG.Health(ctx)
		if err != nil {
			return nil, NewResultError(KindInfra, "rag health probe failed", err)
		}
		for _, n := range fc.Nodes {
			if n.NodeType != NodeRAG {
				continue
			}
			collections := n.Config.StringSlice("collections")
			if n.Config.String("mode") == "query" && len(collections) == 0 {
				continue
			}
			if health.State != RAGConfiguredHealthy {
				failed := &FlowchartRunNode{
					ID:              run.ID + ":" + n.ID + ":0",
					FlowchartRunID:  run.ID,
					FlowchartNodeID: n.ID,
					ExecutionIndex:  0,
					Status:          NodeRunFailed,
					Error:           "pre-run validation failed",
				}
				started := time.Now()
				failed.StartedAt = &started
				failed.FinishedAt = &started
				_ = s.store.CreateRunNode(ctx, failed)
				_ = s.emitter.Emit(ctx, "flowchart_run:"+run.ID, "node_finished", map[string]interface{}{"node_id": n.ID, "status": string(NodeRunFailed)})
				return NewResultError(KindInfra, "pre-run validation failed: rag backend "+health.State, nil), nil
			}
		}
	}
	return nil, nil
}

// failRunWithoutDispatch persists run as failed using reErr's message and
// returns it as the Run error, without ever starting the worker pool.
func (s *Scheduler) failRunWithoutDispatch(ctx context.Context, run *FlowchartRun, reErr *ResultError) (*FlowchartRun, error) {
	finish := time.Now()
	run.FinishedAt = &finish
	run.Status = RunFailed
	run.Error = reErr.Error()
	if err := s.store.UpdateRun(ctx, run); err != nil {
		return run, NewResultError(KindInfra, "failed to persist run failure", err)
	}
	_ = s.emitter.Emit(ctx, "flowchart_run:"+run.ID, "run_finished", map[string]interface{}{"status": string(run.Status)})
	return run, reErr
}

func asResultError(err error) *ResultError {
	if re, ok := err.(*ResultError); ok {
		return re
	}
	return NewResultError(KindUnknown, err.Error(), err)
}
