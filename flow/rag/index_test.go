package rag

import (
	"context"
	"testing"

	"github.com/llmctl/flowruntime/flow"
)

func TestIndex_FreshIndexIngestsEveryFile(t *testing.T) {
	store := NewMemoryStore(BackendConfig{Provider: "local"})
	store.AddSource(Source{ID: "src1", Collection: "docs", Root: "/repo", Glob: "**/*.md"})
	fs := fakeFS{files: map[string]map[string][]byte{
		"/repo": {
			"a.md": []byte("alpha content"),
			"b.md": []byte("beta content"),
		},
	}}
	svc := NewService(store, TokenOverlapEmbedder{}, WithFileSystem(fs))

	result, err := svc.Index(context.Background(), flow.RAGIndexRequest{Mode: ModeFreshIndex, Collections: []string{"docs"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.FilesIndexed != 2 {
		t.Fatalf("expected 2 files indexed, got %d", result.FilesIndexed)
	}
	if result.ChunksAdded != 2 {
		t.Fatalf("expected 2 chunks added (one per small file), got %d", result.ChunksAdded)
	}
	chunks, _ := store.ListChunks(context.Background(), "docs")
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks persisted, got %d", len(chunks))
	}
}

func TestIndex_DeltaIndexOnlyReindexesChangedFiles(t *testing.T) {
	store := NewMemoryStore(BackendConfig{Provider: "local"})
	store.AddSource(Source{ID: "src1", Collection: "docs", Root: "/repo", Glob: "**/*.md"})
	fs := &mutableFS{files: map[string][]byte{
		"a.md": []byte("alpha content v1"),
		"b.md": []byte("beta content v1"),
	}}
	svc := NewService(store, TokenOverlapEmbedder{}, WithFileSystem(fs))

	if _, err := svc.Index(context.Background(), flow.RAGIndexRequest{Mode: ModeFreshIndex, Collections: []string{"docs"}}); err != nil {
		t.Fatalf("unexpected error on initial fresh_index: %v", err)
	}

	// Only a.md changes; b.md is untouched and should not be reindexed.
	fs.files["a.md"] = []byte("alpha content v2, much longer and different")

	result, err := svc.Index(context.Background(), flow.RAGIndexRequest{Mode: ModeDeltaIndex, Collections: []string{"docs"}})
	if err != nil {
		t.Fatalf("unexpected error on delta_index: %v", err)
	}
	if result.FilesIndexed != 1 {
		t.Fatalf("expected exactly 1 file reindexed by delta_index, got %d", result.FilesIndexed)
	}
}

func TestIndex_DeltaIndexRemovesDeletedFiles(t *testing.T) {
	store := NewMemoryStore(BackendConfig{Provider: "local"})
	store.AddSource(Source{ID: "src1", Collection: "docs", Root: "/repo", Glob: "**/*.md"})
	fs := &mutableFS{files: map[string][]byte{
		"a.md": []byte("alpha content"),
		"b.md": []byte("beta content"),
	}}
	svc := NewService(store, TokenOverlapEmbedder{}, WithFileSystem(fs))

	if _, err := svc.Index(context.Background(), flow.RAGIndexRequest{Mode: ModeFreshIndex, Collections: []string{"docs"}}); err != nil {
		t.Fatalf("unexpected error on initial fresh_index: %v", err)
	}

	delete(fs.files, "b.md")
	result, err := svc.Index(context.Background(), flow.RAGIndexRequest{Mode: ModeDeltaIndex, Collections: []string{"docs"}})
	if err != nil {
		t.Fatalf("unexpected error on delta_index: %v", err)
	}
	if result.FilesRemoved != 1 {
		t.Fatalf("expected 1 file removed, got %d", result.FilesRemoved)
	}
	if result.ChunksRemoved != 1 {
		t.Fatalf("expected 1 chunk removed along with the deleted file, got %d", result.ChunksRemoved)
	}

	chunks, _ := store.ListChunks(context.Background(), "docs")
	for _, c := range chunks {
		if c.Path == "b.md" {
			t.Fatal("expected b.md's chunks to be gone after its file was removed")
		}
	}
}

// mutableFS lets tests mutate file contents between Index calls to exercise
// delta_index's fingerprint diffing.
type mutableFS struct {
	files map[string][]byte
}

func (m *mutableFS) Walk(_ context.Context, _ string, _ string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(m.files))
	for k, v := range m.files {
		out[k] = v
	}
	return out, nil
}

func TestFingerprint_ChangesWithContent(t *testing.T) {
	a := fingerprint([]byte("hello"))
	b := fingerprint([]byte("hello world"))
	if a == b {
		t.Fatal("expected different content to produce different fingerprints")
	}
	if fingerprint([]byte("hello")) != a {
		t.Fatal("expected fingerprint to be deterministic for identical content")
	}
}

func TestTokenOverlapEmbedder_ScoresHigherForMoreOverlap(t *testing.T) {
	e := TokenOverlapEmbedder{}
	high := e.Score("kubernetes executor dispatch", "kubernetes job dispatch executor")
	low := e.Score("kubernetes executor dispatch", "unrelated cooking recipes")
	if high <= low {
		t.Fatalf("expected higher overlap to score higher: high=%f low=%f", high, low)
	}
}
