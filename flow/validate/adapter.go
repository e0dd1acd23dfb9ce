package validate

import (
	"context"

	"github.com/llmctl/flowruntime/flow"
)

// Adapter implements flow.Validator by narrowing Validate's Result down to
// the OK/Errors projection the scheduler's pre-run gate needs (spec §4.6).
// Kept separate from Validate itself so callers that want the full
// Result (e.g. an admin-surface graph-save endpoint, out of scope here)
// still can.
type Adapter struct{}

func (Adapter) Validate(ctx context.Context, fc *flow.Flowchart) (flow.ValidationResult, error) {
	res, err := Validate(ctx, fc)
	if err != nil {
		return flow.ValidationResult{}, err
	}
	out := flow.ValidationResult{OK: res.OK()}
	for _, f := range res.Errors {
		out.Errors = append(out.Errors, f.Message)
	}
	return out, nil
}
