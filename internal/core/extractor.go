package core

import "context"

// Extractor converts a stored binary document into plain text plus a page
// boundary map. The contentType hint picks the parsing strategy.
//
// pageBoundaries lists the cumulative rune offset at the end of each page of
// the returned text, so a character span can later be mapped back to a page.
// Extraction has no side effects; persisting the result is the caller's job.
type Extractor interface {
	Extract(ctx context.Context, data []byte, contentType string) (text string, pageBoundaries []int, err error)
}
