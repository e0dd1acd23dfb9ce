package rag

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/llmctl/flowruntime/flow"
)

// freshIndexSource drops the collection and re-ingests every current file
// under src.Root, resetting the source's file-state (spec §4.2 fresh_index).
func (s *Service) freshIndexSource(ctx context.Context, src Source, result *flow.RAGIndexResult) error {
	if err := s.store.DropCollection(ctx, src.Collection); err != nil {
		return err
	}
	files, err := s.fs.Walk(ctx, src.Root, src.Glob)
	if err != nil {
		return err
	}
	for path, content := range files {
		n, err := s.indexFile(ctx, src, path, content)
		if err != nil {
			// Rollback: fresh mode's rollback is drop+recreate, so the chunks
			// written earlier in this pass are dropped with the collection.
			_ = s.store.DropCollection(ctx, src.Collection)
			return fmt.Errorf("indexing %s: %w", path, err)
		}
		result.FilesIndexed++
		result.ChunksAdded += n
	}
	return nil
}

// deltaIndexSource computes per-file fingerprints, removes rows for paths
// no longer present, and re-indexes only changed paths (spec §4.2
// delta_index). On a per-path failure it deletes the touched paths it had
// already written this pass (rollback) and returns an error.
func (s *Service) deltaIndexSource(ctx context.Context, src Source, result *flow.RAGIndexResult) error {
	current, err := s.fs.Walk(ctx, src.Root, src.Glob)
	if err != nil {
		return err
	}
	prev, err := s.store.GetFileStates(ctx, src.ID)
	if err != nil {
		return err
	}

	var touched []string
	rollback := func() {
		for _, path := range touched {
			_ = s.store.DeleteChunksForPath(ctx, src.ID, path)
			_ = s.store.DeleteFileState(ctx, src.ID, path)
		}
	}

	for path, state := range prev {
		if _, stillPresent := current[path]; !stillPresent {
			if err := s.store.DeleteChunksForPath(ctx, src.ID, path); err != nil {
				return err
			}
			if err := s.store.DeleteFileState(ctx, src.ID, path); err != nil {
				return err
			}
			result.FilesRemoved++
			result.ChunksRemoved += state.ChunkCount
		}
	}

	for path, content := range current {
		fp := fingerprint(content)
		if prevState, ok := prev[path]; ok && prevState.Fingerprint == fp {
			continue // unchanged: zero file changes, zero new chunks
		}
		if err := s.store.DeleteChunksForPath(ctx, src.ID, path); err != nil {
			rollback()
			return err
		}
		n, err := s.indexFile(ctx, src, path, content)
		if err != nil {
			rollback()
			return fmt.Errorf("indexing %s: %w", path, err)
		}
		touched = append(touched, path)
		result.FilesIndexed++
		result.ChunksAdded += n
	}
	return nil
}

func (s *Service) indexFile(ctx context.Context, src Source, path string, content []byte) (int, error) {
	pieces := chunkText(path, string(content))
	chunks := make([]Chunk, 0, len(pieces))
	for _, p := range pieces {
		chunks = append(chunks, Chunk{
			ID:         uuid.NewString(),
			Collection: src.Collection,
			SourceID:   src.ID,
			Path:       p.Path,
			ChunkIndex: p.ChunkIndex,
			Text:       p.Text,
		})
	}
	if err := s.store.PutChunks(ctx, chunks); err != nil {
		return 0, err
	}
	if err := s.store.PutFileState(ctx, SourceFileState{
		SourceID:    src.ID,
		Path:        path,
		Fingerprint: fingerprint(content),
		Indexed:     true,
		ChunkCount:  len(chunks),
	}); err != nil {
		return 0, err
	}
	return len(chunks), nil
}
