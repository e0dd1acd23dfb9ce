package rag

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// fingerprint computes a content-addressed fingerprint for delta indexing.
// blake3 is used instead of sha256 (as flow/validate uses for graph
// snapshots) because this runs over every file in a source tree on each
// delta_index pass, and blake3's throughput matters at that scale more than
// at the once-per-migration scale flow/validate operates at.
func fingerprint(content []byte) string {
	h := blake3.New()
	_, _ = h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}
