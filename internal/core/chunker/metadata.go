package chunker

import (
	"sort"
	"strings"
)

// Cheap heuristic metadata for chunks that never saw a model: leading words
// for title and summary, stopword-filtered frequency for keywords.

const (
	titleWords   = 8
	summaryWords = 30
	keywordCount = 5
)

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "of": {},
	"to": {}, "in": {}, "on": {}, "at": {}, "for": {}, "with": {}, "by": {},
	"from": {}, "as": {}, "is": {}, "are": {}, "was": {}, "were": {}, "be": {},
	"been": {}, "it": {}, "its": {}, "this": {}, "that": {}, "these": {},
	"those": {}, "not": {}, "no": {}, "can": {}, "will": {}, "has": {},
	"have": {}, "had": {}, "which": {}, "their": {}, "they": {}, "we": {},
	"you": {}, "he": {}, "she": {}, "his": {}, "her": {}, "our": {}, "your": {},
	"all": {}, "any": {}, "each": {}, "into": {}, "more": {}, "other": {},
	"some": {}, "such": {}, "than": {}, "then": {}, "there": {}, "when": {},
	"where": {}, "who": {}, "also": {}, "may": {}, "must": {}, "should": {},
	"would": {}, "could": {}, "do": {}, "does": {}, "did": {}, "if": {},
}

func headlineTitle(content string) string {
	return firstWords(content, titleWords)
}

func leadSummary(content string) string {
	words := strings.Fields(content)
	if len(words) <= summaryWords {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:summaryWords], " ") + "..."
}

func firstWords(content string, n int) string {
	words := strings.Fields(content)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}

// topKeywords ranks lowercase alphabetic words by frequency, filtering
// stopwords and short tokens. Ties break lexicographically so the result is
// stable.
func topKeywords(content string, k int) []string {
	freq := make(map[string]int)
	for _, w := range strings.Fields(strings.ToLower(content)) {
		w = strings.Trim(w, ".,;:!?()[]{}\"'`*")
		if len(w) < 4 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		freq[w]++
	}

	words := make([]string, 0, len(freq))
	for w := range freq {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if freq[words[i]] != freq[words[j]] {
			return freq[words[i]] > freq[words[j]]
		}
		return words[i] < words[j]
	})

	if len(words) > k {
		words = words[:k]
	}
	return words
}

// fillDraftMetadata computes the derived fields every draft carries,
// regardless of which strategy produced it.
func fillDraftMetadata(d *Draft, pageBoundaries []int) {
	d.TokenCount = ApproxTokens(d.Content)
	d.PageNumber = InferPageNumber(pageBoundaries, d.StartChar)
	if d.SectionTitle == "" {
		d.SectionTitle = headlineTitle(d.Content)
	}
	if d.Summary == "" {
		d.Summary = leadSummary(d.Content)
	}
	if len(d.Keywords) == 0 {
		d.Keywords = topKeywords(d.Content, keywordCount)
	}
}
