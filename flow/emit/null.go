package emit

import "context"

// NullEmitter discards every event. Mirrors the teacher's NullEmitter
// (graph/emit/null.go) used for tests and deployments that don't want
// observability overhead.
type NullEmitter struct{}

func NewNullEmitter() *NullEmitter { return &NullEmitter{} }

func (n *NullEmitter) Emit(_ context.Context, _, _ string, _ map[string]interface{}) error {
	return nil
}
