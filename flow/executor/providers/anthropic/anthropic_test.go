package anthropic

import (
	"testing"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
)

// TestNew_Construction mirrors the teacher's anthropic_test.go construction
// coverage (NewChatModel with/without an explicit model name); unlike the
// teacher's ChatModel the SDK client here is constructed per-call rather than
// injected, so Chat itself is exercised end-to-end by flow/executor's tests
// against a fake resolver, not here.
func TestNew_Construction(t *testing.T) {
	t.Run("rejects empty api key", func(t *testing.T) {
		if _, err := New("", "claude-sonnet-4-5-20250929"); err == nil {
			t.Fatal("expected error for empty api key")
		}
	})

	t.Run("applies default model when unset", func(t *testing.T) {
		m, err := New("test-key", "")
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if m.Model != DefaultModel {
			t.Errorf("Model = %q, want default %q", m.Model, DefaultModel)
		}
	})

	t.Run("keeps an explicit model name", func(t *testing.T) {
		m, err := New("test-key", "claude-3-opus-20240229")
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if m.Model != "claude-3-opus-20240229" {
			t.Errorf("Model = %q, want claude-3-opus-20240229", m.Model)
		}
	})
}

func TestConcatText_Empty(t *testing.T) {
	out := concatText(&anthropicsdk.Message{})
	if out != "" {
		t.Errorf("concatText(empty) = %q, want empty", out)
	}
}
