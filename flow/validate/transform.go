package validate

import (
	"fmt"

	"github.com/llmctl/flowruntime/flow"
)

// legacyConfigKeys are node_config keys earlier graph-writer versions wrote
// that this runtime no longer reads, grounded in
// original_source/.../flow_migration.py's `_LEGACY_FIELD_DROPS` table.
var legacyConfigKeys = []string{"legacy_connector_map", "prompt_template_id", "v1_routing_mode"}

// Transform normalizes fc in place (spec §4.7's "transform" phase): it
// fills missing defaults, generates condition_keys for decision edges that
// lack one, de-duplicates connectors with identical condition_keys, and
// drops legacy config keys. Transform never removes a node, and the only
// edges it removes are duplicate connectors — only Validate's structural
// checks can reject a graph outright.
func Transform(fc *flow.Flowchart) {
	dropLegacyKeys(fc)
	fillFanInDefaults(fc)
	generateMissingConditionKeys(fc)
	dedupeConnectors(fc)
}

func dropLegacyKeys(fc *flow.Flowchart) {
	for i := range fc.Nodes {
		for _, key := range legacyConfigKeys {
			delete(fc.Nodes[i].Config, key)
		}
	}
}

func fillFanInDefaults(fc *flow.Flowchart) {
	for i := range fc.Nodes {
		if fc.Nodes[i].Config == nil {
			fc.Nodes[i].Config = flow.NodeConfig{}
		}
		if _, ok := fc.Nodes[i].Config["fan_in_mode"]; !ok {
			fc.Nodes[i].Config["fan_in_mode"] = string(flow.FanInAll)
		}
		if _, ok := fc.Nodes[i].Config["no_match_policy"]; !ok {
			fc.Nodes[i].Config["no_match_policy"] = string(flow.NoMatchFail)
		}
	}
}

// generateMissingConditionKeys assigns a deterministic condition_key
// ("route_<n>") to any decision node's solid outgoing edge that lacks one,
// in source order, following flow_migration.py's fallback naming so graphs
// authored before condition_key was mandatory still migrate cleanly.
func generateMissingConditionKeys(fc *flow.Flowchart) {
	decisionNodes := make(map[string]bool)
	for _, n := range fc.Nodes {
		if n.NodeType == flow.NodeDecision {
			decisionNodes[n.ID] = true
		}
	}
	counters := make(map[string]int)
	for i := range fc.Edges {
		e := &fc.Edges[i]
		if e.EdgeMode != flow.EdgeSolid || !decisionNodes[e.SourceNodeID] {
			continue
		}
		if e.ConditionKey == "" {
			counters[e.SourceNodeID]++
			e.ConditionKey = fmt.Sprintf("route_%d", counters[e.SourceNodeID])
		}
	}
}

// dedupeConnectors removes duplicate solid outgoing edges that share the
// same (source, condition_key) pair, keeping the first occurrence, per
// flow_migration.py's connector de-duplication step.
func dedupeConnectors(fc *flow.Flowchart) {
	seen := make(map[[2]string]bool)
	out := fc.Edges[:0]
	for _, e := range fc.Edges {
		if e.EdgeMode == flow.EdgeSolid && e.ConditionKey != "" {
			key := [2]string{e.SourceNodeID, e.ConditionKey}
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		out = append(out, e)
	}
	fc.Edges = out
}
