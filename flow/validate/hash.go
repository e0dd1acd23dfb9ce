package validate

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/llmctl/flowruntime/flow"
)

// canonicalNode/canonicalEdge/canonicalGraph give Hash a stable field order
// independent of flow.FlowchartNode/FlowchartEdge's Go struct layout, so
// map[string]interface{} config values serialize with sorted keys too.
type canonicalGraph struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	MaxNodeExecutions int             `json:"max_node_executions"`
	Nodes             []canonicalNode `json:"nodes"`
	Edges             []canonicalEdge `json:"edges"`
}

type canonicalNode struct {
	ID       string                 `json:"id"`
	NodeType string                 `json:"node_type"`
	RefID    string                 `json:"ref_id"`
	Config   map[string]interface{} `json:"config"`
}

type canonicalEdge struct {
	ID           string `json:"id"`
	Source       string `json:"source_node_id"`
	Target       string `json:"target_node_id"`
	EdgeMode     string `json:"edge_mode"`
	ConditionKey string `json:"condition_key"`
}

// Hash computes the sha256 of fc's canonical JSON serialization with sorted
// keys (spec §4.7), used to detect whether a migration pass actually
// changed anything.
func Hash(fc *flow.Flowchart) string {
	g := canonicalGraph{
		ID:                fc.ID,
		Name:              fc.Name,
		MaxNodeExecutions: fc.MaxNodeExecutions,
	}
	for _, n := range fc.Nodes {
		g.Nodes = append(g.Nodes, canonicalNode{ID: n.ID, NodeType: string(n.NodeType), RefID: n.RefID, Config: map[string]interface{}(n.Config)})
	}
	sort.Slice(g.Nodes, func(i, j int) bool { return g.Nodes[i].ID < g.Nodes[j].ID })
	for _, e := range fc.Edges {
		g.Edges = append(g.Edges, canonicalEdge{ID: e.ID, Source: e.SourceNodeID, Target: e.TargetNodeID, EdgeMode: string(e.EdgeMode), ConditionKey: e.ConditionKey})
	}
	sort.Slice(g.Edges, func(i, j int) bool { return g.Edges[i].ID < g.Edges[j].ID })

	// encoding/json sorts map[string]interface{} keys during Marshal, which
	// is what gives this hash its "sorted keys" canonical property for each
	// node's Config bag.
	b, err := json.Marshal(g)
	if err != nil {
		// Config bags are caller-controlled json.RawMessage-compatible data;
		// a marshal failure here means a non-JSON-safe value (e.g. a channel)
		// was stuffed into NodeConfig, which is a caller bug, not a runtime
		// condition to recover from.
		panic("flow/validate: canonical graph failed to marshal: " + err.Error())
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
