// Package validate implements the Validation & Migration component (C7):
// a transform phase (legacy-field normalization, default-filling,
// condition_key generation, connector de-duplication) followed by a
// validate phase (structural integrity plus a binding-type compatibility
// gate), and a canonical-JSON snapshot hash used to make graph migration
// idempotent. Grounded in
// original_source/app/llmctl-studio-backend/src/services/flow_migration.py
// for the exact transform steps spec.md §4.7 only describes by name.
package validate

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/llmctl/flowruntime/flow"
)

// Severity mirrors spec §4.7's compatibility gate severities.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Finding is one structural or policy issue surfaced by Validate.
type Finding struct {
	Severity Severity
	NodeID   string
	EdgeID   string
	Message  string
}

// Result is Validate's output: a graph is admissible for a run only when
// Errors is empty (warnings are recorded but pass, spec §4.7).
type Result struct {
	Errors   []Finding
	Warnings []Finding
}

func (r Result) OK() bool { return len(r.Errors) == 0 }

func (r *Result) addError(nodeID, edgeID, format string, args ...interface{}) {
	r.Errors = append(r.Errors, Finding{Severity: SeverityError, NodeID: nodeID, EdgeID: edgeID, Message: fmt.Sprintf(format, args...)})
}

func (r *Result) addWarning(nodeID, edgeID, format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, Finding{Severity: SeverityWarning, NodeID: nodeID, EdgeID: edgeID, Message: fmt.Sprintf(format, args...)})
}

// fieldValidator is shared across calls the way the teacher shares a single
// *validator.Validate instance rather than constructing one per call
// (validator.New() builds and caches struct-tag reflection metadata).
var fieldValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate runs the structural and policy checks (spec §4.7) against fc. It
// does not mutate fc — call Transform first if normalization is needed.
func Validate(ctx context.Context, fc *flow.Flowchart) (Result, error) {
	var res Result
	validateStructural(fc, &res)
	idx := flow.BuildAdjacencyIndex(fc)
	validateFieldBounds(fc, idx, &res)
	if err := validateCompat(ctx, fc, &res); err != nil {
		return res, err
	}
	return res, nil
}

// validateStructural checks spec §3's graph invariants: exactly one start
// node, end nodes have no outgoing edges, edges resolve to nodes in the
// same flowchart, decision nodes' solid outgoing edges have unique
// non-empty condition_keys, and no (source,target) pair mixes solid and
// dotted edges.
func validateStructural(fc *flow.Flowchart, res *Result) {
	nodes := make(map[string]*flow.FlowchartNode, len(fc.Nodes))
	for i := range fc.Nodes {
		nodes[fc.Nodes[i].ID] = &fc.Nodes[i]
	}

	startCount := 0
	for _, n := range fc.Nodes {
		if n.NodeType == flow.NodeStart {
			startCount++
		}
	}
	if startCount == 0 {
		res.addError("", "", "flowchart has no start node")
	} else if startCount > 1 {
		res.addError("", "", "flowchart has %d start nodes, exactly one is required", startCount)
	}

	outgoing := make(map[string][]flow.FlowchartEdge)
	pairMode := make(map[[2]string]map[flow.EdgeMode]bool)
	decisionKeys := make(map[string]map[string]bool)

	for _, e := range fc.Edges {
		if e.FlowchartID != fc.ID {
			res.addError("", e.ID, "edge %s belongs to flowchart %s, not %s", e.ID, e.FlowchartID, fc.ID)
		}
		src, srcOK := nodes[e.SourceNodeID]
		_, tgtOK := nodes[e.TargetNodeID]
		if !srcOK {
			res.addError("", e.ID, "edge %s references unknown source node %s", e.ID, e.SourceNodeID)
		}
		if !tgtOK {
			res.addError("", e.ID, "edge %s references unknown target node %s", e.ID, e.TargetNodeID)
		}
		if !srcOK || !tgtOK {
			continue
		}
		outgoing[e.SourceNodeID] = append(outgoing[e.SourceNodeID], e)

		pair := [2]string{e.SourceNodeID, e.TargetNodeID}
		if pairMode[pair] == nil {
			pairMode[pair] = make(map[flow.EdgeMode]bool)
		}
		pairMode[pair][e.EdgeMode] = true

		if e.EdgeMode == flow.EdgeSolid && src.NodeType == flow.NodeDecision {
			if e.ConditionKey == "" {
				res.addError(src.ID, e.ID, "decision node %s solid outgoing edge %s has no condition_key", src.ID, e.ID)
			} else {
				if decisionKeys[src.ID] == nil {
					decisionKeys[src.ID] = make(map[string]bool)
				}
				if decisionKeys[src.ID][e.ConditionKey] {
					res.addError(src.ID, e.ID, "decision node %s has duplicate condition_key %q", src.ID, e.ConditionKey)
				}
				decisionKeys[src.ID][e.ConditionKey] = true
			}
		} else if e.ConditionKey != "" {
			res.addWarning(src.ID, e.ID, "condition_key is only meaningful on a decision node's solid outgoing edges; downgrading")
		}
	}

	for pair, modes := range pairMode {
		if modes[flow.EdgeSolid] && modes[flow.EdgeDotted] {
			res.addError("", "", "edge pair (%s -> %s) mixes solid and dotted edges", pair[0], pair[1])
		}
	}

	for _, n := range fc.Nodes {
		if n.NodeType == flow.NodeEnd && len(outgoing[n.ID]) > 0 {
			res.addError(n.ID, "", "end node %s has %d outgoing edges, end nodes must have none", n.ID, len(outgoing[n.ID]))
		}
	}
}
