package validate

import (
	"context"
	_ "embed"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/llmctl/flowruntime/flow"
)

//go:embed compat.rego
var compatPolicy string

// binding is one (node_id, node_type, binding_type) triple the compat
// policy evaluates. MCPServerIDs/ScriptIDs/SkillIDs/AttachmentIDs each
// contribute bindings of their own kind.
type binding struct {
	NodeID      string `json:"node_id"`
	NodeType    string `json:"node_type"`
	BindingType string `json:"binding_type"`
}

func bindingsFor(fc *flow.Flowchart) []binding {
	var out []binding
	add := func(n *flow.FlowchartNode, kind string, ids []string) {
		if len(ids) > 0 {
			out = append(out, binding{NodeID: n.ID, NodeType: string(n.NodeType), BindingType: kind})
		}
	}
	for i := range fc.Nodes {
		n := &fc.Nodes[i]
		if n.ModelID != "" {
			out = append(out, binding{NodeID: n.ID, NodeType: string(n.NodeType), BindingType: "model"})
		}
		add(n, "mcp_server", n.MCPServerIDs)
		add(n, "script", n.ScriptIDs)
		add(n, "skill", n.SkillIDs)
		add(n, "attachment", n.AttachmentIDs)
	}
	return out
}

// validateCompat evaluates fc's bindings against the embedded Rego
// compatibility policy (spec §4.7's binding-type compatibility gate),
// appending its error/warning findings to res.
func validateCompat(ctx context.Context, fc *flow.Flowchart, res *Result) error {
	bindings := bindingsFor(fc)
	if len(bindings) == 0 {
		return nil
	}

	query, err := rego.New(
		rego.Query("data.flowvalidate.compat"),
		rego.Module("compat.rego", compatPolicy),
	).PrepareForEval(ctx)
	if err != nil {
		return flow.NewResultError(flow.KindInfra, "failed to prepare compatibility policy", err)
	}

	input := map[string]interface{}{"bindings": bindings}
	rs, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return flow.NewResultError(flow.KindInfra, "failed to evaluate compatibility policy", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil
	}
	doc, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return nil
	}
	for _, raw := range asSlice(doc["violations"]) {
		v, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		res.addError(stringOf(v["node_id"]), "", "%s", stringOf(v["message"]))
	}
	for _, raw := range asSlice(doc["warnings"]) {
		w, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		res.addWarning(stringOf(w["node_id"]), "", "%s", stringOf(w["message"]))
	}
	return nil
}

func asSlice(v interface{}) []interface{} {
	s, _ := v.([]interface{})
	return s
}

func stringOf(v interface{}) string {
	s, _ := v.(string)
	return s
}
