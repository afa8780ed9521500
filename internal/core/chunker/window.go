package chunker

import (
	"context"
)

var _ Strategy = (*WindowStrategy)(nil)

// WindowStrategy splits text into fixed-size character windows, independent
// of semantic boundaries. It is cheap, always succeeds, and serves as the
// fallback when the semantic strategy is unavailable.
type WindowStrategy struct {
	size int
}

// NewWindowStrategy builds a deterministic splitter with the given window
// width in runes.
func NewWindowStrategy(size int) *WindowStrategy {
	return &WindowStrategy{size: size}
}

func (s *WindowStrategy) Name() string { return "window" }

// Chunk emits consecutive non-overlapping windows covering the full text
// with no gaps; the final window may be short.
func (s *WindowStrategy) Chunk(_ context.Context, text string, pageBoundaries []int) ([]Draft, Stats, error) {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil, Stats{}, nil
	}

	drafts := make([]Draft, 0, (len(runes)+s.size-1)/s.size)
	for start := 0; start < len(runes); start += s.size {
		end := start + s.size
		if end > len(runes) {
			end = len(runes)
		}

		d := Draft{
			Index:     len(drafts),
			Content:   string(runes[start:end]),
			StartChar: start,
			EndChar:   end,
		}
		fillDraftMetadata(&d, pageBoundaries)
		drafts = append(drafts, d)
	}

	return drafts, Stats{Blocks: len(drafts)}, nil
}
