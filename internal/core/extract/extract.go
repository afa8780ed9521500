// Package extract turns stored binaries into plain text plus a page
// boundary map, using sajari/docconv for the actual parsing.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"code.sajari.com/docconv"

	"github.com/corpora-hq/corpora/internal/core"
)

var (
	// ErrUnreadable means parsing failed entirely; the document is fatal.
	ErrUnreadable = errors.New("document could not be parsed")
	// ErrTooShort means the extracted text is below the minimum length,
	// usually a scanned or image-only document with nothing to extract.
	ErrTooShort = errors.New("extracted text below minimum length")
)

var _ core.Extractor = (*DocconvExtractor)(nil)

// DocconvExtractor implements core.Extractor via docconv.
type DocconvExtractor struct {
	minTextLen     int
	useReadability bool
}

// NewDocconvExtractor builds an extractor. minTextLen is the fatal floor for
// extracted text length, in runes.
func NewDocconvExtractor(minTextLen int, useReadability bool) *DocconvExtractor {
	return &DocconvExtractor{minTextLen: minTextLen, useReadability: useReadability}
}

// Extract converts the binary into concatenated plain text across all pages
// and the cumulative rune offset at the end of each page. PDF extraction
// separates pages with form feeds; those become the page map and are replaced
// with newlines in the returned text.
func (e *DocconvExtractor) Extract(ctx context.Context, data []byte, contentType string) (string, []int, error) {
	res, err := docconv.Convert(bytes.NewReader(data), contentType, e.useReadability)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	text, boundaries := splitPages(res.Body)
	if utf8.RuneCountInString(strings.TrimSpace(text)) < e.minTextLen {
		return "", nil, fmt.Errorf("%w: got %d characters", ErrTooShort, utf8.RuneCountInString(text))
	}

	return text, boundaries, nil
}

// splitPages converts form-feed separated text into newline-joined text plus
// cumulative end-of-page rune offsets.
func splitPages(body string) (string, []int) {
	pages := strings.Split(body, "\f")

	// Converters emit a trailing form feed after the last page; drop the
	// empty tail so it doesn't register as a page.
	for len(pages) > 1 && strings.TrimSpace(pages[len(pages)-1]) == "" {
		pages = pages[:len(pages)-1]
	}

	boundaries := make([]int, 0, len(pages))
	offset := 0
	for i, p := range pages {
		offset += utf8.RuneCountInString(p)
		if i < len(pages)-1 {
			offset++ // the newline joining this page to the next
		}
		boundaries = append(boundaries, offset)
	}

	return strings.Join(pages, "\n"), boundaries
}
