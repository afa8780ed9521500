// Package chunker segments extracted text into content-addressable fragments
// with metadata. Two interchangeable strategies exist: a deterministic
// fixed-window splitter and a semantic splitter driven by a completion model.
package chunker

import (
	"context"
)

// Draft is a chunk produced by a strategy before persistence. Index is the
// draft's position in final emission order and becomes the chunk_index.
type Draft struct {
	Index        int
	Content      string
	SectionTitle string
	Summary      string
	Keywords     []string
	TokenCount   int
	StartChar    int
	EndChar      int
	PageNumber   int
}

// Stats reports partial failures of a chunking attempt. A dropped block is a
// non-fatal event: the rest of the document still chunks.
type Stats struct {
	Blocks        int
	DroppedBlocks int
}

// Strategy turns extracted text into chunk drafts. Empty input yields an
// empty draft list and no error.
type Strategy interface {
	Name() string
	Chunk(ctx context.Context, text string, pageBoundaries []int) ([]Draft, Stats, error)
}

// ApproxTokens is a cheap deterministic token estimator (~4 chars ≈ 1 token).
// It is computed once per chunk at creation time and never recomputed, so
// determinism matters more than tokenizer parity.
func ApproxTokens(s string) int {
	n := len([]rune(s))
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}

// InferPageNumber maps a chunk's start offset back to a 1-indexed page: the
// first boundary whose cumulative length exceeds startChar marks the page.
// Returns 0 when no boundary map exists.
func InferPageNumber(pageBoundaries []int, startChar int) int {
	for i, end := range pageBoundaries {
		if end > startChar {
			return i + 1
		}
	}
	if n := len(pageBoundaries); n > 0 {
		return n
	}
	return 0
}
