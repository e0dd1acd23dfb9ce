package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/llmctl/flowruntime/flow"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists flow.Store's rows in a single SQLite file. Grounded
// in the teacher's graph/store/sqlite.go SQLiteStore[S]: WAL mode, a
// single-writer connection pool, busy_timeout, and auto-migrated schema on
// open, adapted from the teacher's workflow_steps/workflow_checkpoints
// tables to this domain's flowchart_runs/flowchart_run_nodes/flowcharts
// tables.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("flow/store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("flow/store: %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS flowchart_runs (
			id TEXT PRIMARY KEY,
			flowchart_id TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TIMESTAMP,
			finished_at TIMESTAMP,
			error TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS flowchart_run_nodes (
			id TEXT PRIMARY KEY,
			flowchart_run_id TEXT NOT NULL,
			flowchart_node_id TEXT NOT NULL,
			execution_index INTEGER NOT NULL,
			status TEXT NOT NULL,
			input_context TEXT,
			output_state TEXT,
			routing_state TEXT,
			provider_dispatch_id TEXT,
			runtime_evidence TEXT,
			started_at TIMESTAMP,
			finished_at TIMESTAMP,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_nodes_run_id ON flowchart_run_nodes(flowchart_run_id)`,
		`CREATE TABLE IF NOT EXISTS flowcharts (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			max_node_executions INTEGER NOT NULL,
			definition TEXT NOT NULL,
			created_at TIMESTAMP,
			updated_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS rag_retrieval_audit (
			id TEXT PRIMARY KEY,
			flowchart_run_node_id TEXT NOT NULL,
			request_id TEXT NOT NULL,
			collection TEXT NOT NULL,
			citations TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS events_outbox (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			room TEXT NOT NULL,
			event_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			delivered INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_outbox_room ON events_outbox(room, delivered)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("flow/store: migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) CreateRun(ctx context.Context, run *flow.FlowchartRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO flowchart_runs (id, flowchart_id, status, started_at, finished_at, error) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.FlowchartID, string(run.Status), run.StartedAt, run.FinishedAt, run.Error)
	if err != nil {
		return fmt.Errorf("flow/store: create run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *flow.FlowchartRun) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE flowchart_runs SET status=?, started_at=?, finished_at=?, error=? WHERE id=?`,
		string(run.Status), run.StartedAt, run.FinishedAt, run.Error, run.ID)
	if err != nil {
		return fmt.Errorf("flow/store: update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*flow.FlowchartRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, flowchart_id, status, started_at, finished_at, error FROM flowchart_runs WHERE id=?`, runID)
	run := &flow.FlowchartRun{}
	var status string
	var startedAt, finishedAt sql.NullTime
	var errStr sql.NullString
	if err := row.Scan(&run.ID, &run.FlowchartID, &status, &startedAt, &finishedAt, &errStr); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("flow/store: get run: %w", err)
	}
	run.Status = flow.RunStatus(status)
	if startedAt.Valid {
		t := startedAt.Time
		run.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	run.Error = errStr.String
	return run, nil
}

func (s *SQLiteStore) CreateRunNode(ctx context.Context, node *flow.FlowchartRunNode) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO flowchart_run_nodes
			(id, flowchart_run_id, flowchart_node_id, execution_index, status, input_context, output_state, routing_state, provider_dispatch_id, runtime_evidence, started_at, finished_at, error)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		node.ID, node.FlowchartRunID, node.FlowchartNodeID, node.ExecutionIndex, string(node.Status),
		nullableRaw(node.InputContext), nullableRaw(node.OutputState), nullableRaw(node.RoutingState),
		node.ProviderDispatchID, nullableRaw(node.RuntimeEvidence), node.StartedAt, node.FinishedAt, node.Error)
	if err != nil {
		return fmt.Errorf("flow/store: create run node: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateRunNode(ctx context.Context, node *flow.FlowchartRunNode) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE flowchart_run_nodes SET status=?, input_context=?, output_state=?, routing_state=?, provider_dispatch_id=?, runtime_evidence=?, started_at=?, finished_at=?, error=? WHERE id=?`,
		string(node.Status), nullableRaw(node.InputContext), nullableRaw(node.OutputState), nullableRaw(node.RoutingState),
		node.ProviderDispatchID, nullableRaw(node.RuntimeEvidence), node.StartedAt, node.FinishedAt, node.Error, node.ID)
	if err != nil {
		return fmt.Errorf("flow/store: update run node: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListRunNodes(ctx context.Context, runID string) ([]*flow.FlowchartRunNode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, flowchart_run_id, flowchart_node_id, execution_index, status, input_context, output_state, routing_state, provider_dispatch_id, runtime_evidence, started_at, finished_at, error
		 FROM flowchart_run_nodes WHERE flowchart_run_id=? ORDER BY execution_index ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("flow/store: list run nodes: %w", err)
	}
	defer rows.Close()

	var out []*flow.FlowchartRunNode
	for rows.Next() {
		n := &flow.FlowchartRunNode{}
		var status string
		var inputContext, outputState, routingState, runtimeEvidence sql.NullString
		var startedAt, finishedAt sql.NullTime
		var errStr sql.NullString
		if err := rows.Scan(&n.ID, &n.FlowchartRunID, &n.FlowchartNodeID, &n.ExecutionIndex, &status,
			&inputContext, &outputState, &routingState, &n.ProviderDispatchID, &runtimeEvidence,
			&startedAt, &finishedAt, &errStr); err != nil {
			return nil, fmt.Errorf("flow/store: scan run node: %w", err)
		}
		n.Status = flow.NodeRunStatus(status)
		n.InputContext = rawOrNil(inputContext)
		n.OutputState = rawOrNil(outputState)
		n.RoutingState = rawOrNil(routingState)
		n.RuntimeEvidence = rawOrNil(runtimeEvidence)
		if startedAt.Valid {
			t := startedAt.Time
			n.StartedAt = &t
		}
		if finishedAt.Valid {
			t := finishedAt.Time
			n.FinishedAt = &t
		}
		n.Error = errStr.String
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetFlowchart(ctx context.Context, flowchartID string) (*flow.Flowchart, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, max_node_executions, definition, created_at, updated_at FROM flowcharts WHERE id=?`, flowchartID)
	fc := &flow.Flowchart{}
	var definition string
	if err := row.Scan(&fc.ID, &fc.Name, &fc.MaxNodeExecutions, &definition, &fc.CreatedAt, &fc.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("flow/store: get flowchart: %w", err)
	}
	var body struct {
		Nodes []flow.FlowchartNode `json:"nodes"`
		Edges []flow.FlowchartEdge `json:"edges"`
	}
	if err := json.Unmarshal([]byte(definition), &body); err != nil {
		return nil, fmt.Errorf("flow/store: decode flowchart definition: %w", err)
	}
	fc.Nodes = body.Nodes
	fc.Edges = body.Edges
	return fc, nil
}

// PutFlowchart persists or replaces a Flowchart's definition, standing in
// for the (out of scope) graph write path's final commit step.
func (s *SQLiteStore) PutFlowchart(ctx context.Context, fc *flow.Flowchart) error {
	body, err := json.Marshal(struct {
		Nodes []flow.FlowchartNode `json:"nodes"`
		Edges []flow.FlowchartEdge `json:"edges"`
	}{fc.Nodes, fc.Edges})
	if err != nil {
		return fmt.Errorf("flow/store: encode flowchart definition: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO flowcharts (id, name, max_node_executions, definition, created_at, updated_at)
		 VALUES (?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, max_node_executions=excluded.max_node_executions,
			definition=excluded.definition, updated_at=excluded.updated_at`,
		fc.ID, fc.Name, fc.MaxNodeExecutions, string(body), fc.CreatedAt, fc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("flow/store: put flowchart: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CountNodeExecutions(ctx context.Context, runID string) (int, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM flowchart_run_nodes WHERE flowchart_run_id=?`, runID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("flow/store: count node executions: %w", err)
	}
	return n, nil
}

// PutEvent appends one row to the durable events_outbox table. No emitter
// in flow/emit writes to or reads from this table.
func (s *SQLiteStore) PutEvent(ctx context.Context, room, eventType string, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO events_outbox (room, event_type, payload) VALUES (?, ?, ?)`, room, eventType, string(payload))
	if err != nil {
		return fmt.Errorf("flow/store: put event: %w", err)
	}
	return nil
}

func nullableRaw(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func rawOrNil(s sql.NullString) []byte {
	if !s.Valid {
		return nil
	}
	return []byte(s.String)
}
