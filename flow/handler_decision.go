package flow

import (
	"context"
	"encoding/json"
)

// DecisionHandler implements the "decision" node type (spec §4.4): it
// evaluates the node's condition branches against input_context and
// produces routing_state instead of dispatching any executor work. Routing
// resolution itself (matching condition_key against outgoing edges) lives
// in flow/routing.go — this handler only decides WHICH condition_key(s)
// matched.
func DecisionHandler(_ context.Context, in HandlerInput) (HandlerOutput, error) {
	branches, _ := in.NodeConfig["branches"].([]interface{})
	matched := make([]string, 0, len(branches))

	for _, raw := range branches {
		branch, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		conditionKey, _ := branch["condition_key"].(string)
		if conditionKey == "" {
			continue
		}
		if evaluateBranch(branch, in.InputContext) {
			matched = append(matched, conditionKey)
		}
	}

	noMatch := len(matched) == 0
	if noMatch {
		switch in.NodeConfig.NoMatchPolicy() {
		case NoMatchFallback:
			fallback := in.NodeConfig.String("fallback_condition_key")
			if fallback != "" {
				return HandlerOutput{
					OutputState: map[string]interface{}{"matched": false},
					RoutingState: RoutingState{
						MatchedConnectorIDs: nil,
						RouteKey:            fallback,
						NoMatch:             true,
					},
				}, nil
			}
			fallthrough
		default: // fail
			return HandlerOutput{}, NewResultError(KindExecution, "decision_no_match", ErrDecisionNoMatch)
		}
	}

	return HandlerOutput{
		OutputState: map[string]interface{}{"matched": true, "condition_keys": matched},
		RoutingState: RoutingState{
			MatchedConnectorIDs: matched,
			NoMatch:             false,
		},
	}, nil
}

// evaluateBranch runs the branch's declared comparison against
// input_context. Branches with no expression always match (the
// "otherwise"/default-branch convention carried from original_source's
// decision_router.py).
func evaluateBranch(branch map[string]interface{}, ctx InputContextEnvelope) bool {
	expr, ok := branch["when"].(map[string]interface{})
	if !ok {
		return true
	}
	field, _ := expr["field"].(string)
	op, _ := expr["op"].(string)
	want := expr["value"]

	got, found := lookupContextField(ctx, field)
	switch op {
	case "exists":
		return found
	case "not_exists":
		return !found
	case "eq":
		return found && got == want
	case "neq":
		return !found || got != want
	default:
		return false
	}
}

// lookupContextField resolves a dotted "upstream_node_id.key" path against
// the upstream nodes carried in input_context.
func lookupContextField(ctx InputContextEnvelope, field string) (interface{}, bool) {
	if field == "" {
		return nil, false
	}
	var nodeID, key string
	for i, r := range field {
		if r == '.' {
			nodeID, key = field[:i], field[i+1:]
			break
		}
	}
	if key == "" {
		return nil, false
	}
	for _, u := range ctx.UpstreamNodes {
		if u.NodeID != nodeID {
			continue
		}
		var state map[string]interface{}
		if err := json.Unmarshal(u.OutputState, &state); err != nil {
			return nil, false
		}
		v, ok := state[key]
		return v, ok
	}
	return nil, false
}
