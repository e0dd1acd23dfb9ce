package flow

import "context"

// contextKey is a private type for context value keys, grounded in the
// teacher's graph/engine.go convention of avoiding collisions with other
// packages' context keys.
type contextKey string

const (
	// RunIDKey carries the current FlowchartRun id.
	RunIDKey contextKey = "flow.run_id"

	// NodeRunIDKey carries the current FlowchartRunNode id.
	NodeRunIDKey contextKey = "flow.node_run_id"

	// RunCycleKey carries the current fan-in run_cycle counter for the
	// node being admitted (spec §4.5 token keying).
	RunCycleKey contextKey = "flow.run_cycle"
)

// RunIDFromContext returns the run id stashed by the scheduler, if any.
func RunIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(RunIDKey).(string); ok {
		return v
	}
	return ""
}
