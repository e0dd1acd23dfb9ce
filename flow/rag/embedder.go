package rag

import "strings"

// TokenOverlapEmbedder is the deterministic in-repo default Embedder (spec
// §1 treats the real embedding/vector-store client as an opaque retrieval
// backend out of scope for this runtime). It scores candidate text by
// Jaccard overlap of lowercased word tokens against the question, which is
// enough to exercise query()'s ranking/top_k contract in tests without a
// real vector index.
type TokenOverlapEmbedder struct{}

func (TokenOverlapEmbedder) Score(question, text string) float64 {
	q := tokenSet(question)
	t := tokenSet(text)
	if len(q) == 0 || len(t) == 0 {
		return 0
	}
	intersection := 0
	for tok := range q {
		if t[tok] {
			intersection++
		}
	}
	union := len(q)
	for tok := range t {
		if !q[tok] {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f != "" {
			set[f] = true
		}
	}
	return set
}
