package emit

import "context"

// Emitter publishes one Event to the stream. Generalized from the
// teacher's graph/emit.Emitter (which took a bare Event with a separate
// EmitBatch/Flush surface) down to the single-event shape flow.Emitter
// requires, since room-based fan-out here is handled by Broker rather than
// by batching at the emitter boundary.
type Emitter interface {
	Emit(ctx context.Context, room, eventType string, payload map[string]interface{}) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, room, eventType string, payload map[string]interface{}) error

func (f EmitterFunc) Emit(ctx context.Context, room, eventType string, payload map[string]interface{}) error {
	return f(ctx, room, eventType, payload)
}

// MultiEmitter fans one Emit call out to every delegate, grounded in the
// teacher's doc-comment-described "Multi-emit: Fan out to multiple
// backends" pattern for Emitter implementations. It returns the first
// error encountered but still calls every delegate (best-effort delivery,
// matching the teacher's resilience guidance).
type MultiEmitter struct {
	Delegates []Emitter
}

func (m *MultiEmitter) Emit(ctx context.Context, room, eventType string, payload map[string]interface{}) error {
	var firstErr error
	for _, d := range m.Delegates {
		if d == nil {
			continue
		}
		if err := d.Emit(ctx, room, eventType, payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
