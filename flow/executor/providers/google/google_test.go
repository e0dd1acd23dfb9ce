package google

import (
	"testing"

	"github.com/google/generative-ai-go/genai"
)

// TestNew_Construction mirrors the teacher's google_test.go construction
// coverage; Chat itself is exercised end-to-end by flow/executor's tests
// against a fake resolver rather than here, since genai.NewClient dials out.
func TestNew_Construction(t *testing.T) {
	t.Run("rejects empty api key", func(t *testing.T) {
		if _, err := New("", "gemini-2.5-flash"); err == nil {
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
}

func TestConcatText(t *testing.T) {
	t.Run("no candidates yields empty text", func(t *testing.T) {
		out := concatText(&genai.GenerateContentResponse{})
		if out != "" {
			t.Errorf("concatText = %q, want empty", out)
		}
	})

	t.Run("concatenates text parts with newlines", func(t *testing.T) {
		resp := &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{
				Content: &genai.Content{
					Parts: []genai.Part{genai.Text("hello"), genai.Text("world")},
				},
			}},
		}
		out := concatText(resp)
		if out != "hello\nworld" {
			t.Errorf("concatText = %q, want %q", out, "hello\nworld")
		}
	})
}

func TestHandleSafety(t *testing.T) {
	t.Run("no candidates is not an error", func(t *testing.T) {
		if err := handleSafety(&genai.GenerateContentResponse{}); err != nil {
			t.Errorf("handleSafety = %v, want nil", err)
		}
	})

	t.Run("safety-blocked candidate reports SafetyFilterError", func(t *testing.T) {
		resp := &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}},
		}
		err := handleSafety(resp)
		if err == nil {
			t.Fatal("expected SafetyFilterError")
		}
		var sfe *SafetyFilterError
		if !asSafetyFilterError(err, &sfe) {
			t.Fatalf("err = %v (%T), want *SafetyFilterError", err, err)
		}
	})

	t.Run("non-safety finish reason is not an error", func(t *testing.T) {
		resp := &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonStop}},
		}
		if err := handleSafety(resp); err != nil {
			t.Errorf("handleSafety = %v, want nil", err)
		}
	})
}

func asSafetyFilterError(err error, target **SafetyFilterError) bool {
	sfe, ok := err.(*SafetyFilterError)
	if !ok {
		return false
	}
	*target = sfe
	return true
}
