package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeadlineTitle(t *testing.T) {
	content := "one two three four five six seven eight nine ten"
	assert.Equal(t, "one two three four five six seven eight", headlineTitle(content))

	assert.Equal(t, "short text", headlineTitle("short text"))
}

func TestLeadSummaryEllipsizesLongContent(t *testing.T) {
	words := make([]string, 40)
	for i := range words {
		words[i] = "w"
	}
	got := leadSummary(strings.Join(words, " "))

	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Len(t, strings.Fields(got), 30)
}

func TestLeadSummaryShortContentUnchanged(t *testing.T) {
	assert.Equal(t, "just a few words", leadSummary("just a few words"))
}

func TestTopKeywords(t *testing.T) {
	content := "postgres postgres postgres vector vector index the and with a of"
	got := topKeywords(content, 5)

	assert.Equal(t, []string{"postgres", "vector", "index"}, got)
}

func TestTopKeywordsFiltersShortAndStopwords(t *testing.T) {
	got := topKeywords("the the the and cat cat dog", 5)
	// "cat" and "dog" are under four characters, stopwords are filtered.
	assert.Empty(t, got)
}

func TestTopKeywordsTieBreaksLexicographically(t *testing.T) {
	got := topKeywords("zebra apple zebra apple mango", 2)
	assert.Equal(t, []string{"apple", "zebra"}, got)
}

func TestFillDraftMetadataPreservesModelFields(t *testing.T) {
	d := Draft{
		Content:      "some section content here",
		SectionTitle: "Model Title",
		Summary:      "Model summary.",
		Keywords:     []string{"model"},
		StartChar:    5,
	}
	fillDraftMetadata(&d, []int{100})

	assert.Equal(t, "Model Title", d.SectionTitle)
	assert.Equal(t, "Model summary.", d.Summary)
	assert.Equal(t, []string{"model"}, d.Keywords)
	assert.Equal(t, ApproxTokens(d.Content), d.TokenCount)
	assert.Equal(t, 1, d.PageNumber)
}
