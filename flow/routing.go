package flow

// ResolveRouting picks the outgoing solid edges a node-run's completion
// should activate, given its RoutingState (empty for non-decision node
// types) and the node's solid outgoing edges from the AdjacencyIndex.
// Non-decision nodes activate every solid outgoing edge; decision nodes
// activate the edges whose condition_key matched. It does not check how many
// outgoing edges a node has or whether a non-decision edge carries a
// condition_key.
func ResolveRouting(idx *AdjacencyIndex, node *FlowchartNode, routing RoutingState) ([]FlowchartEdge, error) {
	outgoing := idx.SolidOutgoing(node.ID)
	if len(outgoing) == 0 {
		return nil, nil
	}

	if node.NodeType != NodeDecision {
		// Non-decision nodes activate every solid outgoing edge
		// unconditionally (spec §4.5 default fan-out behavior).
		return outgoing, nil
	}

	if routing.NoMatch {
		// decision_no_match with fallback policy: route_key carries the
		// fallback_condition_key; match edges whose ConditionKey equals it.
		return matchByConditionKey(outgoing, routing.RouteKey), nil
	}

	if len(routing.MatchedConnectorIDs) == 0 {
		return nil, NewResultError(KindExecution, "decision_no_match", ErrDecisionNoMatch)
	}

	matched := make([]FlowchartEdge, 0, len(outgoing))
	for _, e := range outgoing {
		if containsString(routing.MatchedConnectorIDs, e.ConditionKey) {
			matched = append(matched, e)
		}
	}
	if len(matched) == 0 {
		return nil, NewResultError(KindExecution, "decision_no_match", ErrDecisionNoMatch)
	}
	return matched, nil
}

func matchByConditionKey(edges []FlowchartEdge, key string) []FlowchartEdge {
	out := make([]FlowchartEdge, 0, 1)
	for _, e := range edges {
		if e.ConditionKey == key {
			out = append(out, e)
		}
	}
	return out
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
