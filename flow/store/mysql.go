package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/llmctl/flowruntime/flow"
)

// MySQLStore persists flow.Store's rows in MySQL, for deployments that
// already run a MySQL fleet rather than Postgres or SQLite. Mirrors the
// teacher's graph/store/mysql.go MySQLStore[S] connection setup and
// migration-on-open convention, adapted to this package's schema.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens a MySQL-backed store. dsn follows
// github.com/go-sql-driver/mysql's DSN format
// (user:pass@tcp(host:port)/dbname?parseTime=true) — parseTime=true is
// required so TIMESTAMP/DATETIME columns scan into time.Time directly.
func NewMySQLStore(ctx context.Context, dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("flow/store: open mysql: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("flow/store: ping mysql: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MySQLStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS flowchart_runs (
			id VARCHAR(64) PRIMARY KEY,
			flowchart_id VARCHAR(64) NOT NULL,
			status VARCHAR(32) NOT NULL,
			started_at DATETIME NULL,
			finished_at DATETIME NULL,
			error TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS flowchart_run_nodes (
			id VARCHAR(128) PRIMARY KEY,
			flowchart_run_id VARCHAR(64) NOT NULL,
			flowchart_node_id VARCHAR(64) NOT NULL,
			execution_index INT NOT NULL,
			status VARCHAR(32) NOT NULL,
			input_context JSON NULL,
			output_state JSON NULL,
			routing_state JSON NULL,
			provider_dispatch_id VARCHAR(255),
			runtime_evidence JSON NULL,
			started_at DATETIME NULL,
			finished_at DATETIME NULL,
			error TEXT,
			INDEX idx_run_nodes_run_id (flowchart_run_id)
		)`,
		`CREATE TABLE IF NOT EXISTS flowcharts (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			max_node_executions INT NOT NULL,
			definition JSON NOT NULL,
			created_at DATETIME NULL,
			updated_at DATETIME NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rag_retrieval_audit (
			id VARCHAR(64) PRIMARY KEY,
			flowchart_run_node_id VARCHAR(128) NOT NULL,
			request_id VARCHAR(64) NOT NULL,
			collection VARCHAR(255) NOT NULL,
			citations JSON NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS events_outbox (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			room VARCHAR(255) NOT NULL,
			event_type VARCHAR(128) NOT NULL,
			payload JSON NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			delivered TINYINT NOT NULL DEFAULT 0,
			INDEX idx_events_outbox_room (room, delivered)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("flow/store: migrate mysql: %w", err)
		}
	}
	return nil
}

func (s *MySQLStore) Close() error { return s.db.Close() }

func (s *MySQLStore) CreateRun(ctx context.Context, run *flow.FlowchartRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO flowchart_runs (id, flowchart_id, status, started_at, finished_at, error) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.FlowchartID, string(run.Status), run.StartedAt, run.FinishedAt, run.Error)
	if err != nil {
		return fmt.Errorf("flow/store: create run: %w", err)
	}
	return nil
}

func (s *MySQLStore) UpdateRun(ctx context.Context, run *flow.FlowchartRun) error {
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

func (s *MySQLStore) GetRun(ctx context.Context, runID string) (*flow.FlowchartRun, error) {
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

func (s *MySQLStore) CreateRunNode(ctx context.Context, node *flow.FlowchartRunNode) error {
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

func (s *MySQLStore) UpdateRunNode(ctx context.Context, node *flow.FlowchartRunNode) error {
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

func (s *MySQLStore) ListRunNodes(ctx context.Context, runID string) ([]*flow.FlowchartRunNode, error) {
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

func (s *MySQLStore) GetFlowchart(ctx context.Context, flowchartID string) (*flow.Flowchart, error) {
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
func (s *MySQLStore) PutFlowchart(ctx context.Context, fc *flow.Flowchart) error {
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
		 ON DUPLICATE KEY UPDATE name=VALUES(name), max_node_executions=VALUES(max_node_executions),
			definition=VALUES(definition), updated_at=VALUES(updated_at)`,
		fc.ID, fc.Name, fc.MaxNodeExecutions, string(body), fc.CreatedAt, fc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("flow/store: put flowchart: %w", err)
	}
	return nil
}

func (s *MySQLStore) CountNodeExecutions(ctx context.Context, runID string) (int, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM flowchart_run_nodes WHERE flowchart_run_id=?`, runID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("flow/store: count node executions: %w", err)
	}
	return n, nil
}

func (s *MySQLStore) PutEvent(ctx context.Context, room, eventType string, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO events_outbox (room, event_type, payload) VALUES (?, ?, ?)`, room, eventType, string(payload))
	if err != nil {
		return fmt.Errorf("flow/store: put event: %w", err)
	}
	return nil
}
