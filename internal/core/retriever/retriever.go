// Package retriever assembles a token-budgeted generation context from
// similarity-search results.
package retriever

import (
	"github.com/corpora-hq/corpora/internal/models"
)

// Candidate is a chunk paired with its similarity score against a query
// vector. Candidates are ephemeral; they are never persisted.
type Candidate struct {
	Chunk models.DocumentChunk
	Score float64
}

// Budget bounds a single context assembly.
//
// TokenLimit caps the summed token count of the selected chunks.
// MaxChunkTokens excludes any single oversized chunk outright.
// RelevanceCeiling stops selection once enough highly relevant material has
// accumulated, instead of padding the context with low-value filler.
type Budget struct {
	TokenLimit       int
	MaxChunkTokens   int
	RelevanceCeiling float64
}

// SelectContext picks an ordered, token-budgeted subset of candidates.
//
// Candidates are visited in the order supplied; callers pass them pre-sorted
// by descending relevance and SelectContext never re-sorts. A candidate whose
// token count exceeds MaxChunkTokens is skipped entirely, never truncated.
// The first candidate that would push the running total past TokenLimit ends
// the scan (hard cutoff, not best-fit packing). A candidate whose inclusion
// pushes the cumulative score past RelevanceCeiling is kept and ends the scan.
// The result is always a subsequence of the input.
func SelectContext(candidates []Candidate, b Budget) []Candidate {
	var (
		selected  []Candidate
		tokens    int
		relevance float64
	)

	for _, c := range candidates {
		if b.MaxChunkTokens > 0 && c.Chunk.TokenCount > b.MaxChunkTokens {
			continue
		}
		if tokens+c.Chunk.TokenCount > b.TokenLimit {
			break
		}

		selected = append(selected, c)
		tokens += c.Chunk.TokenCount
		relevance += c.Score

		if b.RelevanceCeiling > 0 && relevance > b.RelevanceCeiling {
			break
		}
	}

	return selected
}
