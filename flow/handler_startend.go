package flow

import "context"

// StartHandler is the no-op entry handler (spec §4.4): it produces the
// trigger marker that fan-out uses to seed the first tokens.
func StartHandler(_ context.Context, _ HandlerInput) (HandlerOutput, error) {
	return HandlerOutput{
		OutputState: map[string]interface{}{"trigger": true},
	}, nil
}

// EndHandler consumes a token and records terminal node status. It performs
// no further routing — end nodes have no outgoing edges (spec §3 invariant).
func EndHandler(_ context.Context, _ HandlerInput) (HandlerOutput, error) {
	return HandlerOutput{
		OutputState: map[string]interface{}{"terminal": true},
	}, nil
}

// PassthroughHandler returns a Handler for the organizational marker node
// types (plan, milestone) supplemented from original_source's agent_runtime
// treatment of them: no executor dispatch, just a stamped output_state.
func PassthroughHandler(kind string) HandlerFunc {
	return func(_ context.Context, _ HandlerInput) (HandlerOutput, error) {
		return HandlerOutput{
			OutputState: map[string]interface{}{"kind": kind},
		}, nil
	}
}
