package flow

import "context"

// Dispatcher is the C3 contract the task handler invokes to run a node's
// work as an isolated executor job. Implemented by flow/dispatch.
type Dispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) (DispatchResult, error)
}

// DispatchRequest carries everything the dispatcher needs to package an
// ExecutionPayload (spec §6.1) for one node execution.
type DispatchRequest struct {
	NodeID          string
	NodeType        NodeType
	NodeConfig      NodeConfig
	InputContext    InputContextEnvelope
	ExecutionID     string
	ExecutionIndex  int
	RunID           string
	ModelID         string
	Provider        string
	EnabledProviders []string
	Entrypoint      string
	Request         map[string]interface{}
}

// DispatchResult is the normalized outcome the task/memory handlers fold
// into their output_state/routing_state.
type DispatchResult struct {
	Status             string
	ExitCode           int
	Stdout             string
	Stderr             string
	Error              *ResultError
	ProviderMetadata   map[string]interface{}
	OutputState        map[string]interface{}
	RoutingState       map[string]interface{}
	ProviderDispatchID string
	RuntimeEvidence    map[string]interface{}
}

// RAGContract is the C2 contract the rag handler invokes. Implemented by
// flow/rag.
type RAGContract interface {
	Health(ctx context.Context) (RAGHealth, error)
	ListCollections(ctx context.Context) ([]string, error)
	Query(ctx context.Context, req RAGQueryRequest) (RAGQueryResult, error)
	Index(ctx context.Context, req RAGIndexRequest) (RAGIndexResult, error)
}

// RAGHealth mirrors the health() envelope from spec §4.2.
type RAGHealth struct {
	State    string
	Provider string
	Host     string
	Port     int
	Error    string
}

const (
	RAGUnconfigured        = "unconfigured"
	RAGConfiguredUnhealthy = "configured_unhealthy"
	RAGConfiguredHealthy   = "configured_healthy"
)

// RAGQueryRequest mirrors query()'s parameters.
type RAGQueryRequest struct {
	Question        string
	Collections      []string
	TopK            int
	RequestID       string
	RuntimeKind     string
	FlowchartRunID     string
	FlowchartNodeRunID string
}

// RAGContextRow is retrieval context fed to a prompt: rank + text +
// collection + path only. It must never carry chunk_id/source_id/score —
// those are audit-only (spec §4.2).
type RAGContextRow struct {
	Rank       int
	Text       string
	Collection string
	Path       string
}

// RAGCitation is the audit-only record alongside a context row.
type RAGCitation struct {
	SourceID string
	ChunkID  string
	Score    float64
	Snippet  string
}

// RAGQueryResult splits retrieval context from citation records per spec
// §4.2's envelope rule.
type RAGQueryResult struct {
	Context        []RAGContextRow
	Citations      []RAGCitation
	Answer         string
	SynthesisError string
}

// RAGIndexRequest mirrors index()'s parameters.
type RAGIndexRequest struct {
	Mode           string
	Collections    []string
	ModelProvider  string
	OnLog          func(string)
}

// RAGIndexResult summarizes a fresh_index/delta_index run.
type RAGIndexResult struct {
	FilesIndexed int
	FilesRemoved int
	ChunksAdded  int
	ChunksRemoved int
	Errors       map[string]string // source_id -> last_error
}

// MemoryStore is the C4 memory-node contract: deterministic CRUD plus the
// parameters an LLM-guided retrieve resolves to before calling Retrieve.
type MemoryStore interface {
	Create(ctx context.Context, text string, metadata map[string]interface{}) (string, error)
	Update(ctx context.Context, id string, text string, metadata map[string]interface{}) error
	Delete(ctx context.Context, id string) error
	Retrieve(ctx context.Context, memoryID, queryText string, limit int, confidence float64) ([]MemoryRecord, error)
}

// MemoryRecord is one stored memory item.
type MemoryRecord struct {
	ID         string
	Text       string
	Metadata   map[string]interface{}
	Confidence float64
}

// MemoryGuide asks the provider to resolve retrieve parameters when a memory
// node's retrieve is LLM-guided rather than deterministic.
type MemoryGuide interface {
	GuideRetrieve(ctx context.Context, in HandlerInput) (MemoryGuideResult, error)
}

// MemoryGuideResult is the provider's proposed retrieve parameters.
type MemoryGuideResult struct {
	MemoryID   string
	QueryText  string
	Limit      int
	Confidence float64
}

// SubScheduler lets the "flowchart" node type recursively invoke the C6
// scheduler against a child flowchart_id (SPEC_FULL.md supplemental
// feature).
type SubScheduler interface {
	RunSubFlowchart(ctx context.Context, flowchartID string, inputContext InputContextEnvelope) (map[string]interface{}, error)
}

// HandlerDeps bundles every external collaborator a handler may need. Nil
// fields are valid for handlers that don't need them (e.g. StartHandler
// needs none); the task/memory/rag/flowchart constructors that do need a
// dependency should be passed it explicitly.
type HandlerDeps struct {
	Dispatcher  Dispatcher
	RAG         RAGContract
	Memory      MemoryStore
	MemoryGuide MemoryGuide
	Sub         SubScheduler
}

// Store is the durable persistence contract the scheduler depends on.
// Implemented by flow/store's memory/sqlite/mysql/postgres backends.
type Store interface {
	CreateRun(ctx context.Context, run *FlowchartRun) error
	UpdateRun(ctx context.Context, run *FlowchartRun) error
	GetRun(ctx context.Context, runID string) (*FlowchartRun, error)

	CreateRunNode(ctx context.Context, node *FlowchartRunNode) error
	UpdateRunNode(ctx context.Context, node *FlowchartRunNode) error
	ListRunNodes(ctx context.Context, runID string) ([]*FlowchartRunNode, error)

	GetFlowchart(ctx context.Context, flowchartID string) (*Flowchart, error)

	// CountNodeExecutions returns how many node-runs (any status) a run has
	// accumulated so far. The scheduler's max_node_executions guardrail
	// counts admissions per node id in memory and does not call it.
	CountNodeExecutions(ctx context.Context, runID string) (int, error)
}

// Validator is the C7 pre-run validation contract the scheduler calls
// before admitting any node-run (spec §4.6). Implemented by
// flow/validate.Adapter.
type Validator interface {
	Validate(ctx context.Context, fc *Flowchart) (ValidationResult, error)
}

// ValidationResult is a deliberately narrow projection of flow/validate's
// richer Result: the scheduler only needs to know whether the graph is
// admissible and, if not, a human-readable reason for FlowchartRun.error.
type ValidationResult struct {
	OK     bool
	Errors []string
}

// Emitter is the event/audit stream contract (C1). Implemented by
// flow/emit. The scheduler writes each run and node-run state change to the
// Store first and emits the matching event through this interface after it;
// no event is written ahead of its state change.
type Emitter interface {
	Emit(ctx context.Context, room string, eventType string, payload map[string]interface{}) error
}
