package rag

import "context"

// BackendConfig describes the retrieval backend's network address, as
// registered by the (out-of-scope) integration-settings admin surface.
type BackendConfig struct {
	Provider string
	Host     string
	Port     int
}

// AuditRow mirrors spec §3's RAGRetrievalAudit, written once per retrieved
// chunk and never mutated.
type AuditRow struct {
	ID                 string
	RequestID          string
	RuntimeKind        string
	FlowchartRunID     string
	FlowchartNodeRunID string
	Provider           string
	Collection         string
	SourceID           string
	Path               string
	ChunkID            string
	Score              float64
	Snippet            string
	RetrievalRank      int
}

// Store is C2's persistence contract: collection registry, source file
// state (for delta indexing), chunk storage, and the immutable audit log.
// Implemented by MemoryStore (in-process default/test backend); this
// package has no database/sql-backed implementation.
type Store interface {
	BackendConfig(ctx context.Context) (BackendConfig, error)
	ListCollections(ctx context.Context) ([]string, error)
	ListSources(ctx context.Context, collection string) ([]Source, error)
	SetSourceError(ctx context.Context, sourceID, lastError string) error

	GetFileStates(ctx context.Context, sourceID string) (map[string]SourceFileState, error)
	PutFileState(ctx context.Context, state SourceFileState) error
	DeleteFileState(ctx context.Context, sourceID, path string) error

	ListChunks(ctx context.Context, collection string) ([]Chunk, error)
	PutChunks(ctx context.Context, chunks []Chunk) error
	DeleteChunksForPath(ctx context.Context, sourceID, path string) error
	DropCollection(ctx context.Context, collection string) error

	RecordAudit(ctx context.Context, row AuditRow) error
}
