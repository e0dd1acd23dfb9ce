// Package rag implements the Retrieval Contract Store (C2): collection
// health, query with context/citation envelope splitting, and fresh/delta
// indexing of RAGSource file trees. Grounded in
// original_source/app/llmctl-studio-backend/src/rag/domain/contracts.py's
// envelope shape and engine/pdf_pipeline.py's fresh/delta indexing
// semantics, since spec.md §4.2 describes the contract prose-wise only.
package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/llmctl/flowruntime/flow"
)

// Chunk is one indexed unit of a source file, the atom both Query's
// similarity search and Index's delta comparison operate over.
type Chunk struct {
	ID         string
	Collection string
	SourceID   string
	Path       string
	ChunkIndex int
	Text       string
}

// Source is a directory/Git repo/Drive folder indexed into one collection
// (spec §3 "RAGSource"). Glob is matched against each file's relative path
// with doublestar semantics (`**` crosses directory boundaries).
type Source struct {
	ID         string
	Collection string
	Root       string
	Glob       string
	LastError  string
}

// SourceFileState is the per-file delta-indexing fingerprint row (spec §3).
type SourceFileState struct {
	SourceID    string
	Path        string
	Fingerprint string
	Indexed     bool
	DocType     string
	ChunkCount  int
}

// FileSystem abstracts the tree a Source walks, so indexing is testable
// without a real filesystem and so Google Drive/Git-backed sources (out of
// scope per spec §1) could implement the same small surface later.
type FileSystem interface {
	// Walk returns every file path under root whose relative path matches
	// glob, paired with its current content.
	Walk(ctx context.Context, root, glob string) (map[string][]byte, error)
}

// Embedder is the opaque retrieval backend contract spec §1 declares out of
// scope for this runtime to implement for real (pgvector/Pinecone/etc. are
// not vendored here). A deterministic in-repo default (token-overlap
// scoring, see embedder.go) satisfies the contract for local/dev/test use.
type Embedder interface {
	// Score ranks candidate chunk text against question, returning a
	// relevance score in [0,1].
	Score(question, text string) float64
}

// Synthesizer optionally composes a natural-language answer from retrieved
// context rows. A nil Synthesizer means query() never attempts synthesis.
type Synthesizer interface {
	Synthesize(ctx context.Context, question string, rows []flow.RAGContextRow) (string, error)
}

// Service implements flow.RAGContract (C2).
type Service struct {
	store       Store
	fs          FileSystem
	embedder    Embedder
	synthesizer Synthesizer
	healthProbe HealthProbe
}

// ServiceOption mutates a Service at construction.
type ServiceOption func(*Service)

func WithSynthesizer(s Synthesizer) ServiceOption {
	return func(svc *Service) { svc.synthesizer = s }
}

func WithFileSystem(fs FileSystem) ServiceOption {
	return func(svc *Service) { svc.fs = fs }
}

func WithHealthProbe(p HealthProbe) ServiceOption {
	return func(svc *Service) { svc.healthProbe = p }
}

// NewService constructs a Service. store and embedder must be non-nil; fs
// defaults to OSFileSystem, healthProbe to TCPHealthProbe.
func NewService(store Store, embedder Embedder, opts ...ServiceOption) *Service {
	svc := &Service{
		store:       store,
		embedder:    embedder,
		fs:          OSFileSystem{},
		healthProbe: TCPHealthProbe{Timeout: 2 * time.Second},
	}
	for _, apply := range opts {
		apply(svc)
	}
	return svc
}

var _ flow.RAGContract = (*Service)(nil)

// Health runs the 2s-timeout TCP probe (spec §4.2) against the configured
// backend address.
func (s *Service) Health(ctx context.Context) (flow.RAGHealth, error) {
	cfg, err := s.store.BackendConfig(ctx)
	if err != nil {
		return flow.RAGHealth{}, err
	}
	if cfg.Host == "" {
		return flow.RAGHealth{State: flow.RAGUnconfigured, Provider: cfg.Provider}, nil
	}
	if err := s.healthProbe.Probe(ctx, cfg.Host, cfg.Port); err != nil {
		return flow.RAGHealth{
			State:    flow.RAGConfiguredUnhealthy,
			Provider: cfg.Provider,
			Host:     cfg.Host,
			Port:     cfg.Port,
			Error:    err.Error(),
		}, nil
	}
	return flow.RAGHealth{
		State:    flow.RAGConfiguredHealthy,
		Provider: cfg.Provider,
		Host:     cfg.Host,
		Port:     cfg.Port,
	}, nil
}

func (s *Service) ListCollections(ctx context.Context) ([]string, error) {
	return s.store.ListCollections(ctx)
}

// errRAGUnavailable mirrors spec §4.2's RAG_UNAVAILABLE_FOR_SELECTED_COLLECTIONS.
const errRAGUnavailable = "RAG_UNAVAILABLE_FOR_SELECTED_COLLECTIONS"

// Query implements the query() operation (spec §4.2): it health-gates,
// validates the named collections, ranks chunk candidates with the
// configured Embedder, splits the result into prompt-safe context rows and
// audit-only citations, optionally synthesizes an answer, and persists one
// RAGRetrievalAudit row per returned chunk.
func (s *Service) Query(ctx context.Context, req flow.RAGQueryRequest) (flow.RAGQueryResult, error) {
	if len(req.Collections) > 0 {
		health, err := s.Health(ctx)
		if err != nil {
			return flow.RAGQueryResult{}, err
		}
		if health.State != flow.RAGConfiguredHealthy {
			return flow.RAGQueryResult{}, flow.NewResultError(flow.KindInfra, errRAGUnavailable, nil)
		}
		known, err := s.store.ListCollections(ctx)
		if err != nil {
			return flow.RAGQueryResult{}, err
		}
		knownSet := make(map[string]bool, len(known))
		for _, c := range known {
			knownSet[c] = true
		}
		for _, c := range req.Collections {
			if !knownSet[c] {
				return flow.RAGQueryResult{}, flow.NewResultError(flow.KindValidation, errRAGUnavailable+": unknown collection "+c, nil)
			}
		}
	}

	topK := req.TopK
	if topK <= 0 {
		topK = 5
	}

	var candidates []scoredChunk
	for _, collection := range req.Collections {
		chunks, err := s.store.ListChunks(ctx, collection)
		if err != nil {
			return flow.RAGQueryResult{}, err
		}
		for _, c := range chunks {
			candidates = append(candidates, scoredChunk{chunk: c, score: s.embedder.Score(req.Question, c.Text)})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	result := flow.RAGQueryResult{}
	for i, c := range candidates {
		rank := i + 1
		result.Context = append(result.Context, flow.RAGContextRow{
			Rank:       rank,
			Text:       c.chunk.Text,
			Collection: c.chunk.Collection,
			Path:       c.chunk.Path,
		})
		result.Citations = append(result.Citations, flow.RAGCitation{
			SourceID: c.chunk.SourceID,
			ChunkID:  c.chunk.ID,
			Score:    c.score,
			Snippet:  snippet(c.chunk.Text, 240),
		})
		if err := s.store.RecordAudit(ctx, AuditRow{
			ID:                 uuid.NewString(),
			RequestID:          req.RequestID,
			RuntimeKind:        req.RuntimeKind,
			FlowchartRunID:     req.FlowchartRunID,
			FlowchartNodeRunID: req.FlowchartNodeRunID,
			Provider:           "local",
			Collection:         c.chunk.Collection,
			SourceID:           c.chunk.SourceID,
			Path:               c.chunk.Path,
			ChunkID:            c.chunk.ID,
			Score:              c.score,
			Snippet:            snippet(c.chunk.Text, 240),
			RetrievalRank:      rank,
		}); err != nil {
			return flow.RAGQueryResult{}, err
		}
	}

	if s.synthesizer != nil {
		answer, err := s.synthesizer.Synthesize(ctx, req.Question, result.Context)
		if err != nil {
			// Synthesis failure is non-fatal (spec §4.2): context + stats are
			// still returned, the failure is reported alongside them.
			result.SynthesisError = err.Error()
		} else {
			result.Answer = answer
		}
	}
	return result, nil
}

type scoredChunk struct {
	chunk Chunk
	score float64
}

func snippet(text string, limit int) string {
	text = strings.TrimSpace(text)
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "…"
}

const (
	ModeFreshIndex = "fresh_index"
	ModeDeltaIndex = "delta_index"
)

// Index implements the index() operation (spec §4.2) for fresh_index and
// delta_index modes, with per-source rollback on failure.
func (s *Service) Index(ctx context.Context, req flow.RAGIndexRequest) (flow.RAGIndexResult, error) {
	result := flow.RAGIndexResult{Errors: map[string]string{}}
	for _, collection := range req.Collections {
		sources, err := s.store.ListSources(ctx, collection)
		if err != nil {
			return result, err
		}
		for _, src := range sources {
			logf(req.OnLog, "indexing source %s (%s) mode=%s", src.ID, src.Root, req.Mode)
			switch req.Mode {
			case ModeFreshIndex:
				if err := s.freshIndexSource(ctx, src, &result); err != nil {
					result.Errors[src.ID] = err.Error()
					_ = s.store.SetSourceError(ctx, src.ID, err.Error())
					return result, flow.NewResultError(flow.KindExecution, fmt.Sprintf("fresh_index failed for source %s", src.ID), err)
				}
			default:
				if err := s.deltaIndexSource(ctx, src, &result); err != nil {
					result.Errors[src.ID] = err.Error()
					_ = s.store.SetSourceError(ctx, src.ID, err.Error())
					return result, flow.NewResultError(flow.KindExecution, fmt.Sprintf("delta_index failed for source %s", src.ID), err)
				}
			}
		}
	}
	return result, nil
}

func logf(onLog func(string), format string, args ...interface{}) {
	if onLog != nil {
		onLog(fmt.Sprintf(format, args...))
	}
}

func chunkText(path, text string) []Chunk {
	const chunkSize = 1200
	if len(text) <= chunkSize {
		return []Chunk{{Path: path, ChunkIndex: 0, Text: text}}
	}
	var chunks []Chunk
	for i, idx := 0, 0; i < len(text); i += chunkSize {
		end := i + chunkSize
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, Chunk{Path: path, ChunkIndex: idx, Text: text[i:end]})
		idx++
	}
	return chunks
}
