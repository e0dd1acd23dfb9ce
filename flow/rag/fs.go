package rag

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// OSFileSystem walks a real directory tree, matching each file's
// root-relative path against glob with doublestar semantics (`**` crosses
// directory boundaries, unlike filepath.Match).
type OSFileSystem struct{}

func (OSFileSystem) Walk(ctx context.Context, root, glob string) (map[string][]byte, error) {
	if glob == "" {
		glob = "**/*"
	}
	out := make(map[string][]byte)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		matched, matchErr := doublestar.Match(glob, rel)
		if matchErr != nil {
			return matchErr
		}
		if !matched {
			return nil
		}
		content, readErr := os.ReadFile(path)
		if readErr != nil {
			return readErr
		}
		out[rel] = content
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
