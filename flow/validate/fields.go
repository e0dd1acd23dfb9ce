package validate

import "github.com/llmctl/flowruntime/flow"

// fanInBounds and memoryRetrieveBounds carry the numeric config fields go-playground
// validator checks by struct tag (spec §4.5's fan_in_custom_count bound,
// spec §4.4's memory-node limit/confidence bounds) rather than hand-rolled
// if-statements, per the domain-stack wiring goal.
type fanInBounds struct {
	Mode           string `validate:"oneof=all any custom"`
	CustomCount    int    `validate:"required_if=Mode custom,omitempty,min=1"`
	SolidParents   int
}

type memoryRetrieveBounds struct {
	Limit      int     `validate:"min=1,max=50"`
	Confidence float64 `validate:"min=0,max=1"`
}

// validateFieldBounds runs go-playground/validator struct-tag checks over
// every node's numeric config fields that spec.md constrains to a bounded
// range, surfacing violations as findings rather than a panic or silent
// clamp.
func validateFieldBounds(fc *flow.Flowchart, idx *flow.AdjacencyIndex, res *Result) {
	for _, n := range fc.Nodes {
		switch n.NodeType {
		case flow.NodeTask, flow.NodeDecision, flow.NodeFlowchart, flow.NodeMilestone, flow.NodePlan, flow.NodeStart, flow.NodeEnd:
			if mode := n.Config.FanInMode(); mode != "" {
				bounds := fanInBounds{
					Mode:         string(mode),
					CustomCount:  n.Config.Int("fan_in_custom_count", 0),
					SolidParents: idx.SolidParentCount(n.ID),
				}
				if err := fieldValidator.Struct(bounds); err != nil {
					res.addError(n.ID, "", "fan_in config invalid: %s", err.Error())
				} else if bounds.Mode == "custom" && bounds.CustomCount > bounds.SolidParents && bounds.SolidParents > 0 {
					res.addError(n.ID, "", "fan_in_custom_count %d exceeds solid parent count %d", bounds.CustomCount, bounds.SolidParents)
				}
			}
		case flow.NodeMemory:
			if n.Config.String("operation") == "retrieve_llm_guided" {
				bounds := memoryRetrieveBounds{
					Limit:      n.Config.Int("limit", 10),
					Confidence: confidenceOf(n.Config),
				}
				if err := fieldValidator.Struct(bounds); err != nil {
					res.addError(n.ID, "", "memory retrieve bounds invalid: %s", err.Error())
				}
			}
		}
	}
}

func confidenceOf(c flow.NodeConfig) float64 {
	switch v := c["confidence"].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0.5
	}
}
