package idgen

import "testing"

func TestNew_ReturnsUniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := New()
		if id == "" {
			t.Fatal("expected a non-empty id")
		}
		if seen[id] {
			t.Fatalf("expected unique ids, got duplicate %s", id)
		}
		seen[id] = true
	}
}

func TestNew_IsLexicographicallySortableWithinAMillisecond(t *testing.T) {
	// ULIDs generated back-to-back within the same session share a
	// monotonic entropy source, so their string encodings must not
	// decrease even when generated faster than the clock's resolution.
	a := New()
	b := New()
	if b < a {
		t.Fatalf("expected monotonically non-decreasing ids, got %s then %s", a, b)
	}
}

func TestNamedConstructors(t *testing.T) {
	for name, fn := range map[string]func() string{
		"RunID": RunID, "NodeRunID": NodeRunID, "RequestID": RequestID, "ExecutionID": ExecutionID,
	} {
		if fn() == "" {
			t.Fatalf("%s() returned empty string", name)
		}
	}
}
