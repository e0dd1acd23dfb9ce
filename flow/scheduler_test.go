package flow

import (
	"context"
	"testing"

	"github.com/llmctl/flowruntime/flow/emit"
)

// memStore is a tiny local double over the Store interface so this file
// doesn't need to import flow/store (which would otherwise import this
// package back for its own tests). It's intentionally simpler than
// flow/store.MemoryStore: no flowchart registry, since tests build the
// Flowchart in-process and pass it to Scheduler.Run directly.
type memStore struct {
	runs     map[string]*FlowchartRun
	runNodes map[string][]*FlowchartRunNode
}

func newMemStore() *memStore {
	return &memStore{runs: map[string]*FlowchartRun{}, runNodes: map[string][]*FlowchartRunNode{}}
}

func (s *memStore) CreateRun(_ context.Context, r *FlowchartRun) error {
	cp := *r
	s.runs[r.ID] = &cp
	return nil
}

func (s *memStore) UpdateRun(_ context.Context, r *FlowchartRun) error {
	cp := *r
	s.runs[r.ID] = &cp
	return nil
}

func (s *memStore) GetRun(_ context.Context, runID string) (*FlowchartRun, error) {
	return s.runs[runID], nil
}

func (s *memStore) CreateRunNode(_ context.Context, n *FlowchartRunNode) error {
	cp := *n
	s.runNodes[n.FlowchartRunID] = append(s.runNodes[n.FlowchartRunID], &cp)
	return nil
}

func (s *memStore) UpdateRunNode(_ context.Context, n *FlowchartRunNode) error {
	for i, existing := range s.runNodes[n.FlowchartRunID] {
		if existing.ID == n.ID {
			cp := *n
			s.runNodes[n.FlowchartRunID][i] = &cp
			return nil
		}
	}
	return nil
}

func (s *memStore) ListRunNodes(_ context.Context, runID string) ([]*FlowchartRunNode, error) {
	return s.runNodes[runID], nil
}

func (s *memStore) GetFlowchart(_ context.Context, _ string) (*Flowchart, error) {
	return nil, ErrRunNotFound
}

func (s *memStore) CountNodeExecutions(_ context.Context, runID string) (int, error) {
	return len(s.runNodes[runID]), nil
}

func (s *memStore) countByNode(runID, nodeID string) int {
	n := 0
	for _, rn := range s.runNodes[runID] {
		if rn.FlowchartNodeID == nodeID {
			n++
		}
	}
	return n
}

func (s *memStore) statusOf(runID, nodeID string) NodeRunStatus {
	var last NodeRunStatus
	for _, rn := range s.runNodes[runID] {
		if rn.FlowchartNodeID == nodeID {
			last = rn.Status
		}
	}
	return last
}

// noopHandlers wires every closed node type to a trivial handler so tests
// can exercise scheduling/fan-in/routing logic without touching C2/C3.
func noopHandlers() *HandlerRegistry {
	r := &HandlerRegistry{handlers: map[NodeType]Handler{
		NodeStart:    HandlerFunc(StartHandler),
		NodeEnd:      HandlerFunc(EndHandler),
		NodeTask:     HandlerFunc(PassthroughHandler("task")),
		NodeMemory:   HandlerFunc(PassthroughHandler("memory")),
		NodeDecision: HandlerFunc(DecisionHandler),
		NodeRAG:      HandlerFunc(PassthroughHandler("rag")),
	}}
	return r
}

func newTestScheduler(store Store, opts ...SchedulerOption) *Scheduler {
	return NewScheduler(store, emit.NewNullEmitter(), noopHandlers(), opts...)
}

func node(id string, nt NodeType, cfg NodeConfig) FlowchartNode {
	return FlowchartNode{ID: id, FlowchartID: "fc1", NodeType: nt, Config: cfg}
}

func solidEdge(id, from, to string) FlowchartEdge {
	return FlowchartEdge{ID: id, FlowchartID: "fc1", SourceNodeID: from, TargetNodeID: to, EdgeMode: EdgeSolid}
}

func dottedEdge(id, from, to string) FlowchartEdge {
	return FlowchartEdge{ID: id, FlowchartID: "fc1", SourceNodeID: from, TargetNodeID: to, EdgeMode: EdgeDotted}
}

// Scenario 1: fan-out x2. start -> A, start -> B (both solid). Run completes
// with exactly one node-run for start, A, and B each.
func TestScheduler_FanOutTwoWay(t *testing.T) {
	fc := &Flowchart{
		ID: "fc1",
		Nodes: []FlowchartNode{
			node("start", NodeStart, nil),
			node("A", NodeTask, nil),
			node("B", NodeTask, nil),
		},
		Edges: []FlowchartEdge{
			solidEdge("e1", "start", "A"),
			solidEdge("e2", "start", "B"),
		},
	}
	store := newMemStore()
	sched := newTestScheduler(store)

	run, err := sched.Run(context.Background(), fc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != RunCompleted {
		t.Fatalf("status = %s, want completed", run.Status)
	}
	for _, id := range []string{"start", "A", "B"} {
		if n := store.countByNode(run.ID, id); n != 1 {
			t.Errorf("node %s executed %d times, want 1", id, n)
		}
	}
}

// Scenario 2: fan-in "any". Two solid parents into T; expect two executions.
func TestScheduler_FanInAny(t *testing.T) {
	fc := &Flowchart{
		ID: "fc1",
		Nodes: []FlowchartNode{
			node("start", NodeStart, nil),
			node("P1", NodeTask, nil),
			node("P2", NodeTask, nil),
			node("T", NodeTask, NodeConfig{"fan_in_mode": "any"}),
		},
		Edges: []FlowchartEdge{
			solidEdge("e1", "start", "P1"),
			solidEdge("e2", "start", "P2"),
			solidEdge("e3", "P1", "T"),
			solidEdge("e4", "P2", "T"),
		},
	}
	store := newMemStore()
	sched := newTestScheduler(store)

	run, err := sched.Run(context.Background(), fc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != RunCompleted {
		t.Fatalf("status = %s, want completed", run.Status)
	}
	if n := store.countByNode(run.ID, "T"); n != 2 {
		t.Errorf("T executed %d times, want 2", n)
	}
}

// Scenario 3: fan-in "custom=2". Two solid parents into T; expect exactly
// one execution of T, after both parents arrive.
func TestScheduler_FanInCustom(t *testing.T) {
	fc := &Flowchart{
		ID: "fc1",
		Nodes: []FlowchartNode{
			node("start", NodeStart, nil),
			node("P1", NodeTask, nil),
			node("P2", NodeTask, nil),
			node("T", NodeTask, NodeConfig{"fan_in_mode": "custom", "fan_in_custom_count": 2}),
		},
		Edges: []FlowchartEdge{
			solidEdge("e1", "start", "P1"),
			solidEdge("e2", "start", "P2"),
			solidEdge("e3", "P1", "T"),
			solidEdge("e4", "P2", "T"),
		},
	}
	store := newMemStore()
	sched := newTestScheduler(store)

	run, err := sched.Run(context.Background(), fc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != RunCompleted {
		t.Fatalf("status = %s, want completed", run.Status)
	}
	if n := store.countByNode(run.ID, "T"); n != 1 {
		t.Errorf("T executed %d times, want 1", n)
	}
}

// Scenario 4: decision with three routes, only the first matches. Only the
// route_1 solid outgoing edge emits a token.
func TestScheduler_DecisionThreeRoutesFirstMatches(t *testing.T) {
	fc := &Flowchart{
		ID: "fc1",
		Nodes: []FlowchartNode{
			node("start", NodeStart, nil),
			node("D", NodeDecision, NodeConfig{
				"branches": []interface{}{
					map[string]interface{}{"condition_key": "route_1"},
				},
			}),
			node("R1", NodeTask, nil),
			node("R2", NodeTask, nil),
			node("R3", NodeTask, nil),
		},
		Edges: []FlowchartEdge{
			solidEdge("e1", "start", "D"),
			{ID: "e2", FlowchartID: "fc1", SourceNodeID: "D", TargetNodeID: "R1", EdgeMode: EdgeSolid, ConditionKey: "route_1"},
			{ID: "e3", FlowchartID: "fc1", SourceNodeID: "D", TargetNodeID: "R2", EdgeMode: EdgeSolid, ConditionKey: "route_2"},
			{ID: "e4", FlowchartID: "fc1", SourceNodeID: "D", TargetNodeID: "R3", EdgeMode: EdgeSolid, ConditionKey: "route_3"},
		},
	}
	store := newMemStore()
	sched := newTestScheduler(store)

	run, err := sched.Run(context.Background(), fc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != RunCompleted {
		t.Fatalf("status = %s, want completed", run.Status)
	}
	if n := store.countByNode(run.ID, "R1"); n != 1 {
		t.Errorf("R1 executed %d times, want 1", n)
	}
	if n := store.countByNode(run.ID, "R2"); n != 0 {
		t.Errorf("R2 executed %d times, want 0", n)
	}
	if n := store.countByNode(run.ID, "R3"); n != 0 {
		t.Errorf("R3 executed %d times, want 0", n)
	}
}

// Scenario 5: mixed loop guardrail. max_node_executions=1 with a loop back
// to start. On the second admission of start, the node-run fails with
// max_node_executions and a downstream observer reachable only through a
// dotted edge never executes.
func TestScheduler_LoopGuardrail(t *testing.T) {
	fc := &Flowchart{
		ID:                "fc1",
		MaxNodeExecutions: 1,
		Nodes: []FlowchartNode{
			node("start", NodeStart, nil),
			node("loop", NodeTask, nil),
			node("observer", NodeTask, nil),
		},
		Edges: []FlowchartEdge{
			solidEdge("e1", "start", "loop"),
			solidEdge("e2", "loop", "start"),
			dottedEdge("e3", "loop", "observer"),
		},
	}
	store := newMemStore()
	sched := newTestScheduler(store)

	run, err := sched.Run(context.Background(), fc)
	if err == nil {
		t.Fatalf("expected max_node_executions failure, got nil error")
	}
	if run.Status != RunFailed {
		t.Fatalf("status = %s, want failed", run.Status)
	}
	if store.statusOf(run.ID, "start") != NodeRunFailed {
		t.Errorf("start's second admission should be recorded failed, got %s", store.statusOf(run.ID, "start"))
	}
	if n := store.countByNode(run.ID, "observer"); n != 0 {
		t.Errorf("observer (dotted-only downstream) executed %d times, want 0", n)
	}
	if n := store.countByNode(run.ID, "start"); n != 2 {
		t.Errorf("start admitted %d times, want 2 (1 success + 1 guardrail failure)", n)
	}
}

// Dotted edges never admit: B is reachable from A only through a dotted
// edge, so B never executes even though A completes and the run completes.
func TestScheduler_DottedEdgeNeverAdmits(t *testing.T) {
	fc := &Flowchart{
		ID: "fc1",
		Nodes: []FlowchartNode{
			node("start", NodeStart, nil),
			node("A", NodeTask, nil),
			node("B", NodeTask, nil),
		},
		Edges: []FlowchartEdge{
			solidEdge("e1", "start", "A"),
			dottedEdge("e2", "A", "B"),
		},
	}
	store := newMemStore()
	sched := newTestScheduler(store)

	run, err := sched.Run(context.Background(), fc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != RunCompleted {
		t.Fatalf("status = %s, want completed", run.Status)
	}
	if n := store.countByNode(run.ID, "B"); n != 0 {
		t.Errorf("B reachable only by a dotted edge executed %d times, want 0", n)
	}
}
