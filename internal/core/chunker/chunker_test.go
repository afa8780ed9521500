package chunker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApproxTokens(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{"empty", "", 0},
		{"one rune", "a", 1},
		{"four runes", "abcd", 1},
		{"five runes", "abcde", 2},
		{"multibyte runes count as one", "日本語", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ApproxTokens(tt.in))
		})
	}
}

func TestInferPageNumber(t *testing.T) {
	bounds := []int{100, 250, 400}

	tests := []struct {
		name      string
		startChar int
		want      int
	}{
		{"start of document", 0, 1},
		{"just inside first page", 99, 1},
		{"first char of second page", 100, 2},
		{"middle of third page", 260, 3},
		{"past the last boundary", 500, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferPageNumber(bounds, tt.startChar))
		})
	}
}

func TestInferPageNumberNoBoundaries(t *testing.T) {
	assert.Equal(t, 0, InferPageNumber(nil, 42))
}
