package rag

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store, grounded the same way
// flow/store/memory.go is: a mutex-guarded map keyed by id, for tests and
// single-process development.
type MemoryStore struct {
	mu      sync.RWMutex
	backend BackendConfig
	sources map[string]Source            // sourceID -> Source
	byColl  map[string][]string          // collection -> sourceIDs
	files   map[string]map[string]SourceFileState // sourceID -> path -> state
	chunks  map[string][]Chunk           // collection -> chunks
	audit   []AuditRow
}

func NewMemoryStore(backend BackendConfig) *MemoryStore {
	return &MemoryStore{
		backend: backend,
		sources: make(map[string]Source),
		byColl:  make(map[string][]string),
		files:   make(map[string]map[string]SourceFileState),
		chunks:  make(map[string][]Chunk),
	}
}

// AddSource registers a Source the indexer will walk. Standing in for the
// (out-of-scope) admin CRUD surface that normally creates these rows.
func (m *MemoryStore) AddSource(src Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[src.ID] = src
	m.byColl[src.Collection] = append(m.byColl[src.Collection], src.ID)
	if m.files[src.ID] == nil {
		m.files[src.ID] = make(map[string]SourceFileState)
	}
}

func (m *MemoryStore) BackendConfig(context.Context) (BackendConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.backend, nil
}

func (m *MemoryStore) ListCollections(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.byColl))
	for c := range m.byColl {
		out = append(out, c)
	}
	return out, nil
}

func (m *MemoryStore) ListSources(_ context.Context, collection string) ([]Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Source
	for _, id := range m.byColl[collection] {
		out = append(out, m.sources[id])
	}
	return out, nil
}

func (m *MemoryStore) SetSourceError(_ context.Context, sourceID, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.sources[sourceID]
	if !ok {
		return fmt.Errorf("flow/rag: unknown source %s", sourceID)
	}
	src.LastError = lastError
	m.sources[sourceID] = src
	return nil
}

func (m *MemoryStore) GetFileStates(_ context.Context, sourceID string) (map[string]SourceFileState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]SourceFileState, len(m.files[sourceID]))
	for k, v := range m.files[sourceID] {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) PutFileState(_ context.Context, state SourceFileState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files[state.SourceID] == nil {
		m.files[state.SourceID] = make(map[string]SourceFileState)
	}
	m.files[state.SourceID][state.Path] = state
	return nil
}

func (m *MemoryStore) DeleteFileState(_ context.Context, sourceID, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files[sourceID], path)
	return nil
}

func (m *MemoryStore) ListChunks(_ context.Context, collection string) ([]Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Chunk, len(m.chunks[collection]))
	copy(out, m.chunks[collection])
	return out, nil
}

func (m *MemoryStore) PutChunks(_ context.Context, chunks []Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		m.chunks[c.Collection] = append(m.chunks[c.Collection], c)
	}
	return nil
}

func (m *MemoryStore) DeleteChunksForPath(_ context.Context, sourceID, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for collection, chunks := range m.chunks {
		kept := chunks[:0]
		for _, c := range chunks {
			if c.SourceID == sourceID && c.Path == path {
				continue
			}
			kept = append(kept, c)
		}
		m.chunks[collection] = kept
	}
	return nil
}

func (m *MemoryStore) DropCollection(_ context.Context, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chunks, collection)
	for _, id := range m.byColl[collection] {
		m.files[id] = make(map[string]SourceFileState)
	}
	return nil
}

func (m *MemoryStore) RecordAudit(_ context.Context, row AuditRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, row)
	return nil
}

// Audit returns a snapshot of every recorded audit row, for tests asserting
// spec §8's "one row per retrieved chunk" property.
func (m *MemoryStore) Audit() []AuditRow {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]AuditRow, len(m.audit))
	copy(out, m.audit)
	return out
}
