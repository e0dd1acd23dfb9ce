package flow

import "testing"

func fanInFixture(mode FanInMode, customCount int) *AdjacencyIndex {
	fc := &Flowchart{
		ID: "fc1",
		Nodes: []FlowchartNode{
			{ID: "a", NodeType: NodeTask},
			{ID: "b", NodeType: NodeTask},
			{ID: "c", NodeType: NodeTask},
			{ID: "target", NodeType: NodeTask, Config: NodeConfig{
				"fan_in_mode":        string(mode),
				"fan_in_custom_count": customCount,
			}},
		},
		Edges: []FlowchartEdge{
			{ID: "e1", SourceNodeID: "a", TargetNodeID: "target", EdgeMode: EdgeSolid},
			{ID: "e2", SourceNodeID: "b", TargetNodeID: "target", EdgeMode: EdgeSolid},
			{ID: "e3", SourceNodeID: "c", TargetNodeID: "target", EdgeMode: EdgeSolid},
		},
	}
	return BuildAdjacencyIndex(fc)
}

func TestFanInGate_AllMode(t *testing.T) {
	idx := fanInFixture(FanInAll, 0)
	gate := NewFanInGate(idx)
	target, _ := idx.Node("target")
	token := FanInToken{NodeID: "target", RunCycle: 0}

	gate.Arrive(token, "a", []byte(`{}`), false)
	if ready, _ := gate.Ready(token, target); ready {
		t.Fatal("expected not ready after one of three solid parents arrived")
	}

	gate.Arrive(token, "b", []byte(`{}`), false)
	gate.Arrive(token, "c", []byte(`{}`), false)
	ready, env := gate.Ready(token, target)
	if !ready {
		t.Fatal("expected ready once all solid parents arrived")
	}
	if len(env.UpstreamNodes) != 3 {
		t.Fatalf("expected 3 upstream nodes in envelope, got %d", len(env.UpstreamNodes))
	}
}

func TestFanInGate_AnyMode(t *testing.T) {
	idx := fanInFixture(FanInAny, 0)
	gate := NewFanInGate(idx)
	target, _ := idx.Node("target")
	token := FanInToken{NodeID: "target", RunCycle: 0}

	gate.Arrive(token, "a", []byte(`{}`), false)
	ready, _ := gate.Ready(token, target)
	if !ready {
		t.Fatal("expected ready after first solid parent under fan_in_any")
	}
}

func TestFanInGate_CustomMode(t *testing.T) {
	idx := fanInFixture(FanInCustom, 2)
	gate := NewFanInGate(idx)
	target, _ := idx.Node("target")
	token := FanInToken{NodeID: "target", RunCycle: 0}

	gate.Arrive(token, "a", []byte(`{}`), false)
	if ready, _ := gate.Ready(token, target); ready {
		t.Fatal("expected not ready with 1 of 2 required arrivals")
	}
	gate.Arrive(token, "b", []byte(`{}`), false)
	if ready, _ := gate.Ready(token, target); !ready {
		t.Fatal("expected ready with 2 of 2 required arrivals")
	}
}

func TestFanInGate_CustomCountClampedToSolidParents(t *testing.T) {
	// fan_in_custom_count exceeds the actual solid parent count (3); the
	// gate must clamp to 3, not hang waiting for an unreachable 5th arrival.
	idx := fanInFixture(FanInCustom, 5)
	gate := NewFanInGate(idx)
	target, _ := idx.Node("target")
	token := FanInToken{NodeID: "target", RunCycle: 0}

	gate.Arrive(token, "a", []byte(`{}`), false)
	gate.Arrive(token, "b", []byte(`{}`), false)
	gate.Arrive(token, "c", []byte(`{}`), false)
	if ready, _ := gate.Ready(token, target); !ready {
		t.Fatal("expected ready once all 3 solid parents arrived despite custom_count=5")
	}
}

func TestFanInGate_DottedArrivalsDoNotGate(t *testing.T) {
	idx := fanInFixture(FanInAll, 0)
	gate := NewFanInGate(idx)
	target, _ := idx.Node("target")
	token := FanInToken{NodeID: "target", RunCycle: 0}

	gate.Arrive(token, "a", []byte(`{}`), false)
	gate.Arrive(token, "b", []byte(`{}`), false)
	gate.Arrive(token, "z", []byte(`{"x":1}`), true) // dotted, not a solid parent
	ready, env := gate.Ready(token, target)
	if ready {
		t.Fatal("dotted arrivals must not satisfy fan_in_all admission")
	}
	if len(env.DottedUpstreamNodes) != 1 {
		t.Fatalf("expected dotted snapshot carried in envelope, got %d", len(env.DottedUpstreamNodes))
	}
}

func TestFanInGate_ResetClearsState(t *testing.T) {
	idx := fanInFixture(FanInAny, 0)
	gate := NewFanInGate(idx)
	target, _ := idx.Node("target")
	token := FanInToken{NodeID: "target", RunCycle: 0}

	gate.Arrive(token, "a", []byte(`{}`), false)
	gate.Reset(token)
	ready, env := gate.Ready(token, target)
	if ready {
		t.Fatal("expected gate to report not-ready after Reset")
	}
	if len(env.UpstreamNodes) != 0 {
		t.Fatal("expected empty envelope after Reset")
	}
}

func TestFanInGate_DistinctRunCyclesDoNotConflate(t *testing.T) {
	idx := fanInFixture(FanInAll, 0)
	gate := NewFanInGate(idx)
	target, _ := idx.Node("target")
	cycle0 := FanInToken{NodeID: "target", RunCycle: 0}
	cycle1 := FanInToken{NodeID: "target", RunCycle: 1}

	gate.Arrive(cycle0, "a", []byte(`{}`), false)
	gate.Arrive(cycle0, "b", []byte(`{}`), false)
	gate.Arrive(cycle0, "c", []byte(`{}`), false)
	gate.Arrive(cycle1, "a", []byte(`{}`), false)

	if ready, _ := gate.Ready(cycle0, target); !ready {
		t.Fatal("expected cycle 0 ready")
	}
	if ready, _ := gate.Ready(cycle1, target); ready {
		t.Fatal("cycle 1 arrivals must not be satisfied by cycle 0's arrivals")
	}
}
