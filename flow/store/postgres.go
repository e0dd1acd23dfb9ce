package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/llmctl/flowruntime/flow"
)

// PostgresStore persists flow.Store's rows in PostgreSQL. It is the
// recommended production backend. Its queries are plain inserts and updates
// that take no row locks, so it does not coordinate multiple scheduler
// replicas. Uses sqlx over pgx's
// database/sql adapter, the same combination several of the pack's
// non-teacher repos reach for, rather than pgx's native pool API, so this
// store shares a dialect (`?`-less, `$N`) boundary cleanly with
// database/sql-based testing helpers.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("flow/store: connect postgres: %w", err)
	}
	s := &PostgresStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS flowchart_runs (
			id TEXT PRIMARY KEY,
			flowchart_id TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TIMESTAMPTZ,
			finished_at TIMESTAMPTZ,
			error TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS flowchart_run_nodes (
			id TEXT PRIMARY KEY,
			flowchart_run_id TEXT NOT NULL,
			flowchart_node_id TEXT NOT NULL,
			execution_index INT NOT NULL,
			status TEXT NOT NULL,
			input_context JSONB,
			output_state JSONB,
			routing_state JSONB,
			provider_dispatch_id TEXT,
			runtime_evidence JSONB,
			started_at TIMESTAMPTZ,
			finished_at TIMESTAMPTZ,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_nodes_run_id ON flowchart_run_nodes(flowchart_run_id)`,
		`CREATE TABLE IF NOT EXISTS rag_retrieval_audit (
			id TEXT PRIMARY KEY,
			flowchart_run_node_id TEXT NOT NULL,
			request_id TEXT NOT NULL,
			collection TEXT NOT NULL,
			citations JSONB NOT NULL,
			created_at TIMESTAMPTZ DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS flowcharts (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			max_node_executions INT NOT NULL,
			definition JSONB NOT NULL,
			created_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS events_outbox (
			id BIGSERIAL PRIMARY KEY,
			room TEXT NOT NULL,
			event_type TEXT NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ DEFAULT now(),
			delivered BOOLEAN NOT NULL DEFAULT false
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_outbox_room ON events_outbox(room, delivered)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("flow/store: migrate postgres: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) CreateRun(ctx context.Context, run *flow.FlowchartRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO flowchart_runs (id, flowchart_id, status, started_at, finished_at, error) VALUES ($1,$2,$3,$4,$5,$6)`,
		run.ID, run.FlowchartID, string(run.Status), run.StartedAt, run.FinishedAt, run.Error)
	if err != nil {
		return fmt.Errorf("flow/store: create run: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateRun(ctx context.Context, run *flow.FlowchartRun) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE flowchart_runs SET status=$1, started_at=$2, finished_at=$3, error=$4 WHERE id=$5`,
		string(run.Status), run.StartedAt, run.FinishedAt, run.Error, run.ID)
	if err != nil {
		return fmt.Errorf("flow/store: update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*flow.FlowchartRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, flowchart_id, status, started_at, finished_at, error FROM flowchart_runs WHERE id=$1`, runID)
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

func (s *PostgresStore) CreateRunNode(ctx context.Context, node *flow.FlowchartRunNode) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO flowchart_run_nodes
			(id, flowchart_run_id, flowchart_node_id, execution_index, status, input_context, output_state, routing_state, provider_dispatch_id, runtime_evidence, started_at, finished_at, error)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		node.ID, node.FlowchartRunID, node.FlowchartNodeID, node.ExecutionIndex, string(node.Status),
		nullableRaw(node.InputContext), nullableRaw(node.OutputState), nullableRaw(node.RoutingState),
		node.ProviderDispatchID, nullableRaw(node.RuntimeEvidence), node.StartedAt, node.FinishedAt, node.Error)
	if err != nil {
		return fmt.Errorf("flow/store: create run node: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateRunNode(ctx context.Context, node *flow.FlowchartRunNode) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE flowchart_run_nodes SET status=$1, input_context=$2, output_state=$3, routing_state=$4, provider_dispatch_id=$5, runtime_evidence=$6, started_at=$7, finished_at=$8, error=$9 WHERE id=$10`,
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

func (s *PostgresStore) ListRunNodes(ctx context.Context, runID string) ([]*flow.FlowchartRunNode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, flowchart_run_id, flowchart_node_id, execution_index, status, input_context, output_state, routing_state, provider_dispatch_id, runtime_evidence, started_at, finished_at, error
		 FROM flowchart_run_nodes WHERE flowchart_run_id=$1 ORDER BY execution_index ASC`, runID)
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

func (s *PostgresStore) GetFlowchart(ctx context.Context, flowchartID string) (*flow.Flowchart, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, max_node_executions, definition, created_at, updated_at FROM flowcharts WHERE id=$1`, flowchartID)
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
func (s *PostgresStore) PutFlowchart(ctx context.Context, fc *flow.Flowchart) error {
	body, err := json.Marshal(struct {
		Nodes []flow.FlowchartNode `json:"nodes"`
		Edges []flow.FlowchartEdge `json:"edges"`
	}{fc.Nodes, fc.Edges})
	if err != nil {
		return fmt.Errorf("flow/store: encode flowchart definition: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO flowcharts (id, name, max_node_executions, definition, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (id) DO UPDATE SET name=excluded.name, max_node_executions=excluded.max_node_executions,
			definition=excluded.definition, updated_at=excluded.updated_at`,
		fc.ID, fc.Name, fc.MaxNodeExecutions, string(body), fc.CreatedAt, fc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("flow/store: put flowchart: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountNodeExecutions(ctx context.Context, runID string) (int, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM flowchart_run_nodes WHERE flowchart_run_id=$1`, runID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("flow/store: count node executions: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) PutEvent(ctx context.Context, room, eventType string, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO events_outbox (room, event_type, payload) VALUES ($1,$2,$3)`, room, eventType, string(payload))
	if err != nil {
		return fmt.Errorf("flow/store: put event: %w", err)
	}
	return nil
}
