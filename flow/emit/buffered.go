package emit

import (
	"context"
	"sync"
)

// BufferedEmitter stores events in memory, keyed by room, with query
// support. Mirrors the teacher's BufferedEmitter (graph/emit/buffered.go),
// generalized from a runID-only index to a room-keyed one since this
// domain addresses task/thread/flowchart_run rooms rather than a single
// run id. Intended for tests and short-lived dashboards, not production
// durability — flow/store's events_outbox table (PutEvent) is the durable
// store, and no emitter in this package writes to it.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event
}

func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

func (b *BufferedEmitter) Emit(_ context.Context, room, eventType string, payload map[string]interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[room] = append(b.events[room], Event{Room: room, Type: eventType, Payload: payload})
	return nil
}

// HistoryFilter narrows GetHistory results. All fields optional, combined
// with AND logic, mirroring the teacher's filter semantics.
type HistoryFilter struct {
	Type string
}

func (b *BufferedEmitter) GetHistory(room string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Event, len(b.events[room]))
	copy(out, b.events[room])
	return out
}

func (b *BufferedEmitter) GetHistoryWithFilter(room string, f HistoryFilter) []Event {
	all := b.GetHistory(room)
	if f.Type == "" {
		return all
	}
	out := make([]Event, 0, len(all))
	for _, e := range all {
		if e.Type == f.Type {
			out = append(out, e)
		}
	}
	return out
}

func (b *BufferedEmitter) Clear(room string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.events, room)
}
