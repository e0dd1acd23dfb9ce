package flow

import (
	"context"
)

// memoryHandler implements the "memory" node type: deterministic CRUD, or
// an LLM-guided retrieve that first asks the provider for
// {memory_id?, query_text?, limit, confidence} and then runs the
// deterministic retrieve with those parameters (spec §4.4).
type memoryHandler struct {
	store MemoryStore
	guide MemoryGuide
}

func NewMemoryHandler(deps HandlerDeps) Handler {
	return &memoryHandler{store: deps.Memory, guide: deps.MemoryGuide}
}

func (h *memoryHandler) Handle(ctx context.Context, in HandlerInput) (HandlerOutput, error) {
	if h.store == nil {
		return HandlerOutput{}, NewResultError(KindInfra, "memory node has no store configured", nil)
	}

	op := in.NodeConfig.String("operation")
	switch op {
	case "create":
		id, err := h.store.Create(ctx, in.NodeConfig.String("text"), nil)
		if err != nil {
			return HandlerOutput{}, NewResultError(KindExecution, "memory create failed", err)
		}
		return HandlerOutput{OutputState: map[string]interface{}{"memory_id": id}}, nil

	case "update":
		if err := h.store.Update(ctx, in.NodeRefID, in.NodeConfig.String("text"), nil); err != nil {
			return HandlerOutput{}, NewResultError(KindExecution, "memory update failed", err)
		}
		return HandlerOutput{OutputState: map[string]interface{}{"memory_id": in.NodeRefID}}, nil

	case "delete":
		if err := h.store.Delete(ctx, in.NodeRefID); err != nil {
			return HandlerOutput{}, NewResultError(KindExecution, "memory delete failed", err)
		}
		return HandlerOutput{OutputState: map[string]interface{}{"memory_id": in.NodeRefID}}, nil

	case "retrieve_llm_guided":
		return h.retrieveLLMGuided(ctx, in)

	default: // "retrieve" deterministic
		return h.retrieveDeterministic(ctx, in, in.NodeRefID, in.NodeConfig.String("query_text"),
			in.NodeConfig.Int("limit", 10), 0)
	}
}

func (h *memoryHandler) retrieveLLMGuided(ctx context.Context, in HandlerInput) (HandlerOutput, error) {
	if h.guide == nil {
		return HandlerOutput{}, NewResultError(KindInfra, "memory node has no LLM guide configured", nil)
	}
	guided, err := h.guide.GuideRetrieve(ctx, in)
	if err != nil {
		return HandlerOutput{}, NewResultError(KindProvider, "memory retrieve guidance failed", err)
	}

	// Precedence rule (spec §9 Open Questions): when both node_ref_id and an
	// inferred memory_id are available, node_ref_id wins — preserved here to
	// match the original's audit trail tie-break.
	memoryID := guided.MemoryID
	if in.NodeRefID != "" {
		memoryID = in.NodeRefID
	}

	limit := clampInt(guided.Limit, 1, 50, 10)
	confidence := clampFloat(guided.Confidence, 0, 1, 0)

	return h.retrieveDeterministic(ctx, in, memoryID, guided.QueryText, limit, confidence)
}

func (h *memoryHandler) retrieveDeterministic(ctx context.Context, in HandlerInput, memoryID, queryText string, limit int, confidence float64) (HandlerOutput, error) {
	limit = clampInt(limit, 1, 50, limit)
	confidence = clampFloat(confidence, 0, 1, confidence)

	records, err := h.store.Retrieve(ctx, memoryID, queryText, limit, confidence)
	if err != nil {
		return HandlerOutput{}, NewResultError(KindExecution, "memory retrieve failed", err)
	}

	items := make([]map[string]interface{}, 0, len(records))
	for _, r := range records {
		items = append(items, map[string]interface{}{
			"id":         r.ID,
			"text":       r.Text,
			"metadata":   r.Metadata,
			"confidence": r.Confidence,
		})
	}
	return HandlerOutput{OutputState: map[string]interface{}{
		"memory_id": memoryID,
		"records":   items,
	}}, nil
}

func clampInt(v, lo, hi, def int) int {
	if v == 0 {
		v = def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi, def float64) float64 {
	if v == 0 {
		v = def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
