package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/llmctl/flowruntime/flow"
)

// testStore is the subset of flow.Store this suite exercises against every
// backend, plus the package-local extras (PutFlowchart) common to all three.
type testStore interface {
	flow.Store
	PutFlowchart(ctx context.Context, fc *flow.Flowchart) error
}

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flowruntime-test.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// TestStores_RunLifecycle exercises CreateRun/UpdateRun/GetRun and the
// not-found sentinel across every flow.Store backend (T-mirrors the
// teacher's SaveLoadStep-per-backend pattern in graph/store/*_test.go).
func TestStores_RunLifecycle(t *testing.T) {
	backends := map[string]testStore{
		"memory": NewMemoryStore(),
		"sqlite": newTestSQLiteStore(t),
	}
	for name, s := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			run := &flow.FlowchartRun{ID: "run-1", FlowchartID: "fc-1", Status: flow.RunQueued}
			if err := s.CreateRun(ctx, run); err != nil {
				t.Fatalf("CreateRun: %v", err)
			}

			got, err := s.GetRun(ctx, "run-1")
			if err != nil {
				t.Fatalf("GetRun: %v", err)
			}
			if got.Status != flow.RunQueued {
				t.Errorf("status = %q, want queued", got.Status)
			}

			now := time.Now().UTC().Truncate(time.Second)
			run.Status = flow.RunRunning
			run.StartedAt = &now
			if err := s.UpdateRun(ctx, run); err != nil {
				t.Fatalf("UpdateRun: %v", err)
			}
			got, err = s.GetRun(ctx, "run-1")
			if err != nil {
				t.Fatalf("GetRun after update: %v", err)
			}
			if got.Status != flow.RunRunning {
				t.Errorf("status after update = %q, want running", got.Status)
			}
			if got.StartedAt == nil {
				t.Fatal("StartedAt not persisted")
			}

			if _, err := s.GetRun(ctx, "no-such-run"); !errors.Is(err, ErrNotFound) {
				t.Errorf("GetRun(missing) = %v, want ErrNotFound", err)
			}

			missing := &flow.FlowchartRun{ID: "no-such-run", Status: flow.RunFailed}
			if err := s.UpdateRun(ctx, missing); !errors.Is(err, ErrNotFound) {
				t.Errorf("UpdateRun(missing) = %v, want ErrNotFound", err)
			}
		})
	}
}

// TestStores_RunNodeOrdering verifies ListRunNodes returns node-runs ordered
// by execution_index (spec §3: "execution_index monotonically increases per
// node id per run"), and CountNodeExecutions reflects every row regardless
// of node id — the scheduler narrows the per-node-id count itself.
func TestStores_RunNodeOrdering(t *testing.T) {
	backends := map[string]testStore{
		"memory": NewMemoryStore(),
		"sqlite": newTestSQLiteStore(t),
	}
	for name, s := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			run := &flow.FlowchartRun{ID: "run-2", FlowchartID: "fc-1", Status: flow.RunRunning}
			if err := s.CreateRun(ctx, run); err != nil {
				t.Fatalf("CreateRun: %v", err)
			}

			for i, id := range []string{"rn-c", "rn-a", "rn-b"} {
				n := &flow.FlowchartRunNode{
					ID:              id,
					FlowchartRunID:  "run-2",
					FlowchartNodeID: "node-x",
					ExecutionIndex:  []int{2, 0, 1}[i],
					Status:          flow.NodeRunQueued,
				}
				if err := s.CreateRunNode(ctx, n); err != nil {
					t.Fatalf("CreateRunNode(%s): %v", id, err)
				}
			}

			nodes, err := s.ListRunNodes(ctx, "run-2")
			if err != nil {
				t.Fatalf("ListRunNodes: %v", err)
			}
			if len(nodes) != 3 {
				t.Fatalf("len(nodes) = %d, want 3", len(nodes))
			}
			for i, want := range []string{"rn-a", "rn-b", "rn-c"} {
				if nodes[i].ID != want {
					t.Errorf("nodes[%d].ID = %q, want %q (execution_index order)", i, nodes[i].ID, want)
				}
			}

			target := nodes[0]
			target.Status = flow.NodeRunSucceeded
			target.OutputState = []byte(`{"ok":true}`)
			if err := s.UpdateRunNode(ctx, target); err != nil {
				t.Fatalf("UpdateRunNode: %v", err)
			}
			nodes, err = s.ListRunNodes(ctx, "run-2")
			if err != nil {
				t.Fatalf("ListRunNodes after update: %v", err)
			}
			if nodes[0].Status != flow.NodeRunSucceeded {
				t.Errorf("status after update = %q, want succeeded", nodes[0].Status)
			}

			n, err := s.CountNodeExecutions(ctx, "run-2")
			if err != nil {
				t.Fatalf("CountNodeExecutions: %v", err)
			}
			if n != 3 {
				t.Errorf("CountNodeExecutions = %d, want 3", n)
			}
		})
	}
}

// TestStores_Flowchart verifies PutFlowchart/GetFlowchart round-trips a
// Flowchart's nodes and edges, the path every backend uses to stand in for
// the (out of scope) graph write path's final commit.
func TestStores_Flowchart(t *testing.T) {
	fc := &flow.Flowchart{
		ID:                "fc-1",
		Name:              "demo",
		MaxNodeExecutions: 5,
		Nodes: []flow.FlowchartNode{
			{ID: "start", FlowchartID: "fc-1", NodeType: flow.NodeStart},
			{ID: "end", FlowchartID: "fc-1", NodeType: flow.NodeEnd},
		},
		Edges: []flow.FlowchartEdge{
			{ID: "e1", FlowchartID: "fc-1", SourceNodeID: "start", TargetNodeID: "end", EdgeMode: flow.EdgeSolid},
		},
	}

	t.Run("memory", func(t *testing.T) {
		s := NewMemoryStore()
		s.SeedFlowchart(fc)
		got, err := s.GetFlowchart(context.Background(), "fc-1")
		if err != nil {
			t.Fatalf("GetFlowchart: %v", err)
		}
		if len(got.Nodes) != 2 || len(got.Edges) != 1 {
			t.Errorf("got %d nodes / %d edges, want 2/1", len(got.Nodes), len(got.Edges))
		}
	})

	t.Run("sqlite", func(t *testing.T) {
		s := newTestSQLiteStore(t)
		ctx := context.Background()
		if err := s.PutFlowchart(ctx, fc); err != nil {
			t.Fatalf("PutFlowchart: %v", err)
		}
		got, err := s.GetFlowchart(ctx, "fc-1")
		if err != nil {
			t.Fatalf("GetFlowchart: %v", err)
		}
		if got.MaxNodeExecutions != 5 {
			t.Errorf("MaxNodeExecutions = %d, want 5", got.MaxNodeExecutions)
		}
		if len(got.Nodes) != 2 || len(got.Edges) != 1 {
			t.Errorf("got %d nodes / %d edges, want 2/1", len(got.Nodes), len(got.Edges))
		}

		// PutFlowchart is an upsert: re-putting with a changed name updates
		// in place rather than erroring on a duplicate primary key.
		fc.Name = "demo-renamed"
		if err := s.PutFlowchart(ctx, fc); err != nil {
			t.Fatalf("PutFlowchart (update): %v", err)
		}
		got, err = s.GetFlowchart(ctx, "fc-1")
		if err != nil {
			t.Fatalf("GetFlowchart after update: %v", err)
		}
		if got.Name != "demo-renamed" {
			t.Errorf("Name = %q, want demo-renamed", got.Name)
		}
	})
}

// TestSQLiteStore_PutEvent verifies the events_outbox write path (the
// append-only table every SQL backend creates on open).
func TestSQLiteStore_PutEvent(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	if err := s.PutEvent(ctx, "flowchart_run:run-1", "flowchart_run.node.updated", []byte(`{"node_run_id":"rn-a"}`)); err != nil {
		t.Fatalf("PutEvent: %v", err)
	}
	var count int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events_outbox WHERE room = ?`, "flowchart_run:run-1")
	if err := row.Scan(&count); err != nil {
		t.Fatalf("scan count: %v", err)
	}
	if count != 1 {
		t.Errorf("events_outbox rows = %d, want 1", count)
	}
}
