package flow

import "time"

// NodeType is the closed enumeration of flowchart node kinds. Dispatch by
// node type is a discriminated union, not open-world extensible: every
// handler lives in flow/handler_*.go and is registered by NewHandlerRegistry
// (flow/handler.go).
type NodeType string

const (
	NodeStart     NodeType = "start"
	NodeEnd       NodeType = "end"
	NodeTask      NodeType = "task"
	NodeDecision  NodeType = "decision"
	NodeMemory    NodeType = "memory"
	NodeRAG       NodeType = "rag"
	NodeFlowchart NodeType = "flowchart"
	NodePlan      NodeType = "plan"
	NodeMilestone NodeType = "milestone"
)

// EdgeMode distinguishes control-flow (solid) edges from context-pull
// (dotted) edges. Solid edges admit and route tokens; dotted edges only
// expose their source's last output_state to the target at admission time.
type EdgeMode string

const (
	EdgeSolid  EdgeMode = "solid"
	EdgeDotted EdgeMode = "dotted"
)

// FanInMode controls how many solid parent tokens a node must accumulate
// before the fan-in gate admits it. See flow/fanin.go.
type FanInMode string

const (
	FanInAll    FanInMode = "all"
	FanInAny    FanInMode = "any"
	FanInCustom FanInMode = "custom"
)

// NoMatchPolicy controls decision-node behavior when no condition matches.
type NoMatchPolicy string

const (
	NoMatchFail     NoMatchPolicy = "fail"
	NoMatchFallback NoMatchPolicy = "fallback"
)

// Flowchart is a persisted directed graph of nodes and edges (spec §3).
// It is mutated only through the validated graph write path (flow/validate);
// the scheduler treats it as read-only once loaded for a run.
type Flowchart struct {
	ID                string
	Name              string
	MaxNodeExecutions int
	CreatedAt         time.Time
	UpdatedAt         time.Time

	Nodes []FlowchartNode
	Edges []FlowchartEdge
}

// FlowchartNode is one vertex of a Flowchart. NodeConfig carries node-type
// specific knobs (task_prompt, fan_in_mode, decision_conditions, RAG
// mode/collections/top_k, ...); it is intentionally a loosely typed map so
// the graph write path (out of scope here) can evolve node configuration
// without a runtime schema migration.
type FlowchartNode struct {
	ID             string
	FlowchartID    string
	NodeType       NodeType
	RefID          string
	Title          string
	X, Y           float64
	Config         NodeConfig
	ModelID        string
	MCPServerIDs   []string
	ScriptIDs      []string
	SkillIDs       []string
	AttachmentIDs  []string
}

// NodeConfig is the node-type-specific configuration bag described in spec
// §3. Accessors return zero values for absent keys so handlers never need to
// guard every map lookup.
type NodeConfig map[string]interface{}

func (c NodeConfig) String(key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

func (c NodeConfig) StringSlice(key string) []string {
	raw, ok := c[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func (c NodeConfig) Int(key string, def int) int {
	switch v := c[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func (c NodeConfig) Bool(key string, def bool) bool {
	if v, ok := c[key].(bool); ok {
		return v
	}
	return def
}

func (c NodeConfig) FanInMode() FanInMode {
	switch FanInMode(c.String("fan_in_mode")) {
	case FanInAny:
		return FanInAny
	case FanInCustom:
		return FanInCustom
	default:
		return FanInAll
	}
}

func (c NodeConfig) NoMatchPolicy() NoMatchPolicy {
	if NoMatchPolicy(c.String("no_match_policy")) == NoMatchFallback {
		return NoMatchFallback
	}
	return NoMatchFail
}

// FlowchartEdge connects two FlowchartNodes. ConditionKey is meaningful only
// on solid outgoing edges of decision nodes.
type FlowchartEdge struct {
	ID             string
	FlowchartID    string
	SourceNodeID   string
	TargetNodeID   string
	EdgeMode       EdgeMode
	ConditionKey   string
	SourceHandleID string
	TargetHandleID string
	Label          string
}

// AdjacencyIndex is a rebuilt-at-load traversal index over a Flowchart's
// edges, grounded in the teacher's practice of never relying on object
// identity for a cyclic graph (spec §9 "Cyclic reference mapping"): nodes
// and edges are referenced by ID and walked via per-node adjacency lists.
type AdjacencyIndex struct {
	nodes map[string]*FlowchartNode

	solidOut    map[string][]FlowchartEdge
	solidIn     map[string][]FlowchartEdge
	dottedOut   map[string][]FlowchartEdge
	dottedIn    map[string][]FlowchartEdge
	startNodeID string
}

// BuildAdjacencyIndex constructs the traversal index for a Flowchart. It
// does not validate the graph — call flow/validate.Validate first.
func BuildAdjacencyIndex(fc *Flowchart) *AdjacencyIndex {
	idx := &AdjacencyIndex{
		nodes:    make(map[string]*FlowchartNode, len(fc.Nodes)),
		solidOut:  make(map[string][]FlowchartEdge),
		solidIn:   make(map[string][]FlowchartEdge),
		dottedOut: make(map[string][]FlowchartEdge),
		dottedIn:  make(map[string][]FlowchartEdge),
	}
	for i := range fc.Nodes {
		n := &fc.Nodes[i]
		idx.nodes[n.ID] = n
		if n.NodeType == NodeStart {
			idx.startNodeID = n.ID
		}
	}
	for _, e := range fc.Edges {
		switch e.EdgeMode {
		case EdgeDotted:
			idx.dottedIn[e.TargetNodeID] = append(idx.dottedIn[e.TargetNodeID], e)
			idx.dottedOut[e.SourceNodeID] = append(idx.dottedOut[e.SourceNodeID], e)
		default:
			idx.solidOut[e.SourceNodeID] = append(idx.solidOut[e.SourceNodeID], e)
			idx.solidIn[e.TargetNodeID] = append(idx.solidIn[e.TargetNodeID], e)
		}
	}
	return idx
}

func (idx *AdjacencyIndex) Node(id string) (*FlowchartNode, bool) {
	n, ok := idx.nodes[id]
	return n, ok
}

func (idx *AdjacencyIndex) StartNodeID() string { return idx.startNodeID }

func (idx *AdjacencyIndex) SolidOutgoing(nodeID string) []FlowchartEdge { return idx.solidOut[nodeID] }
func (idx *AdjacencyIndex) SolidIncoming(nodeID string) []FlowchartEdge { return idx.solidIn[nodeID] }
func (idx *AdjacencyIndex) DottedIncoming(nodeID string) []FlowchartEdge {
	return idx.dottedIn[nodeID]
}

// DottedOutgoing returns the dotted (context-pull) edges leaving nodeID.
func (idx *AdjacencyIndex) DottedOutgoing(nodeID string) []FlowchartEdge {
	return idx.dottedOut[nodeID]
}

// SolidParentCount returns the number of distinct solid parent node ids for
// a target node, used by the fan-in gate to bound fan_in_custom_count.
func (idx *AdjacencyIndex) SolidParentCount(nodeID string) int {
	seen := make(map[string]struct{})
	for _, e := range idx.solidIn[nodeID] {
		seen[e.SourceNodeID] = struct{}{}
	}
	return len(seen)
}
