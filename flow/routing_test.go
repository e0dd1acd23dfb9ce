package flow

import (
	"errors"
	"testing"
)

func decisionFixture() (*AdjacencyIndex, *FlowchartNode) {
	fc := &Flowchart{
		ID: "fc1",
		Nodes: []FlowchartNode{
			{ID: "d", NodeType: NodeDecision},
			{ID: "yes", NodeType: NodeTask},
			{ID: "no", NodeType: NodeTask},
			{ID: "fallback", NodeType: NodeTask},
		},
		Edges: []FlowchartEdge{
			{ID: "e1", SourceNodeID: "d", TargetNodeID: "yes", EdgeMode: EdgeSolid, ConditionKey: "yes"},
			{ID: "e2", SourceNodeID: "d", TargetNodeID: "no", EdgeMode: EdgeSolid, ConditionKey: "no"},
			{ID: "e3", SourceNodeID: "d", TargetNodeID: "fallback", EdgeMode: EdgeSolid, ConditionKey: "fallback"},
		},
	}
	idx := BuildAdjacencyIndex(fc)
	n, _ := idx.Node("d")
	return idx, n
}

func TestResolveRouting_NonDecisionFanOutAll(t *testing.T) {
	fc := &Flowchart{
		Nodes: []FlowchartNode{{ID: "t", NodeType: NodeTask}, {ID: "x", NodeType: NodeTask}, {ID: "y", NodeType: NodeTask}},
		Edges: []FlowchartEdge{
			{ID: "e1", SourceNodeID: "t", TargetNodeID: "x", EdgeMode: EdgeSolid},
			{ID: "e2", SourceNodeID: "t", TargetNodeID: "y", EdgeMode: EdgeSolid},
		},
	}
	idx := BuildAdjacencyIndex(fc)
	n, _ := idx.Node("t")
	edges, err := ResolveRouting(idx, n, RoutingState{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("expected both solid outgoing edges activated, got %d", len(edges))
	}
}

func TestResolveRouting_DecisionMatchedConnector(t *testing.T) {
	idx, n := decisionFixture()
	edges, err := ResolveRouting(idx, n, RoutingState{MatchedConnectorIDs: []string{"yes"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(edges) != 1 || edges[0].TargetNodeID != "yes" {
		t.Fatalf("expected single edge to 'yes', got %+v", edges)
	}
}

func TestResolveRouting_DecisionNoMatchWithoutFallbackPolicyFails(t *testing.T) {
	idx, n := decisionFixture()
	_, err := ResolveRouting(idx, n, RoutingState{MatchedConnectorIDs: nil})
	if !errors.Is(err, ErrDecisionNoMatch) {
		t.Fatalf("expected ErrDecisionNoMatch, got %v", err)
	}
}

func TestResolveRouting_DecisionNoMatchFallback(t *testing.T) {
	idx, n := decisionFixture()
	edges, err := ResolveRouting(idx, n, RoutingState{NoMatch: true, RouteKey: "fallback"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(edges) != 1 || edges[0].TargetNodeID != "fallback" {
		t.Fatalf("expected fallback edge selected, got %+v", edges)
	}
}

func TestResolveRouting_UnmatchedConnectorIDFails(t *testing.T) {
	idx, n := decisionFixture()
	_, err := ResolveRouting(idx, n, RoutingState{MatchedConnectorIDs: []string{"nonexistent"}})
	if !errors.Is(err, ErrDecisionNoMatch) {
		t.Fatalf("expected ErrDecisionNoMatch for an unrecognized condition key, got %v", err)
	}
}

func TestResolveRouting_NoOutgoingEdgesReturnsEmpty(t *testing.T) {
	fc := &Flowchart{Nodes: []FlowchartNode{{ID: "end", NodeType: NodeEnd}}}
	idx := BuildAdjacencyIndex(fc)
	n, _ := idx.Node("end")
	edges, err := ResolveRouting(idx, n, RoutingState{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if edges != nil {
		t.Fatalf("expected nil edges for a node with no outgoing edges, got %v", edges)
	}
}
