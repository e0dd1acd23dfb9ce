package flow

import "context"

// ragHandler implements the "rag" node type (spec §4.4/§4.2): health-gated
// query/index dispatch against the retrieval contract store.
type ragHandler struct {
	rag RAGContract
}

func NewRAGHandler(deps HandlerDeps) Handler {
	return &ragHandler{rag: deps.RAG}
}

func (h *ragHandler) Handle(ctx context.Context, in HandlerInput) (HandlerOutput, error) {
	if h.rag == nil {
		return HandlerOutput{}, NewResultError(KindInfra, "rag node has no retrieval contract configured", nil)
	}

	health, err := h.rag.Health(ctx)
	if err != nil {
		return HandlerOutput{}, NewResultError(KindInfra, "rag health probe failed", err)
	}
	if health.State != RAGConfiguredHealthy {
		// A scheduler-level pre-run probe already gates run admission for rag
		// nodes (flow/scheduler.go); reaching here with an unhealthy backend
		// means the backend degraded mid-run.
		return HandlerOutput{}, NewResultError(KindInfra, "rag backend unhealthy: "+health.State, nil)
	}

	mode := in.NodeConfig.String("mode")
	switch mode {
	case "fresh_index", "delta_index":
		res, err := h.rag.Index(ctx, RAGIndexRequest{
			Mode:          mode,
			Collections:   in.NodeConfig.StringSlice("collections"),
			ModelProvider: resolveProvider(in),
		})
		if err != nil {
			return HandlerOutput{}, NewResultError(KindExecution, "rag index failed", err)
		}
		return HandlerOutput{OutputState: map[string]interface{}{
			"files_indexed":  res.FilesIndexed,
			"files_removed":  res.FilesRemoved,
			"chunks_added":   res.ChunksAdded,
			"chunks_removed": res.ChunksRemoved,
			"errors":         res.Errors,
		}}, nil

	default: // "query"
		res, err := h.rag.Query(ctx, RAGQueryRequest{
			Question:           in.NodeConfig.String("question"),
			Collections:        in.NodeConfig.StringSlice("collections"),
			TopK:                in.NodeConfig.Int("top_k", 5),
			RequestID:          in.ExecutionTaskID,
			FlowchartNodeRunID: in.NodeID,
		})
		if err != nil {
			return HandlerOutput{}, NewResultError(KindExecution, "rag query failed", err)
		}

		contextRows := make([]map[string]interface{}, 0, len(res.Context))
		for _, c := range res.Context {
			contextRows = append(contextRows, map[string]interface{}{
				"rank":       c.Rank,
				"text":       c.Text,
				"collection": c.Collection,
				"path":       c.Path,
			})
		}
		// Citations are audit-only: they ride along in output_state for the
		// caller to persist, but callers must not re-forward them as prompt
		// context (spec §4.2).
		citations := make([]map[string]interface{}, 0, len(res.Citations))
		for _, c := range res.Citations {
			citations = append(citations, map[string]interface{}{
				"source_id": c.SourceID,
				"chunk_id":  c.ChunkID,
				"score":     c.Score,
				"snippet":   c.Snippet,
			})
		}

		return HandlerOutput{OutputState: map[string]interface{}{
			"context":         contextRows,
			"citations":       citations,
			"answer":          res.Answer,
			"synthesis_error": res.SynthesisError,
		}}, nil
	}
}
