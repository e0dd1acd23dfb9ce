package flow

import "context"

// flowchartHandler implements the "flowchart" node type: a recursive
// sub-flowchart invocation. This is a supplemental feature pulled from
// original_source's agent_runtime.py handling of nested flowcharts — the
// distilled spec names the node type but leaves sub-invocation semantics
// unspecified.
type flowchartHandler struct {
	sub SubScheduler
}

func NewFlowchartHandler(deps HandlerDeps) Handler {
	return &flowchartHandler{sub: deps.Sub}
}

func (h *flowchartHandler) Handle(ctx context.Context, in HandlerInput) (HandlerOutput, error) {
	subFlowchartID := in.NodeConfig.String("sub_flowchart_id")
	if subFlowchartID == "" {
		return HandlerOutput{}, NewResultError(KindValidation, "flowchart node missing sub_flowchart_id", nil)
	}
	if h.sub == nil {
		return HandlerOutput{}, NewResultError(KindInfra, "flowchart node has no sub-scheduler configured", nil)
	}

	out, err := h.sub.RunSubFlowchart(ctx, subFlowchartID, in.InputContext)
	if err != nil {
		if re, ok := err.(*ResultError); ok {
			return HandlerOutput{}, re
		}
		return HandlerOutput{}, NewResultError(KindExecution, "sub-flowchart run failed", err)
	}

	return HandlerOutput{OutputState: map[string]interface{}{
		"sub_flowchart_id": subFlowchartID,
		"sub_flowchart_output": out,
	}}, nil
}
