package chunker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/corpora-hq/corpora/internal/core"
	"github.com/corpora-hq/corpora/internal/metrics"
)

var _ Strategy = (*SemanticStrategy)(nil)

// SemanticStrategy asks a completion model to segment text into
// self-contained sections. The text is first split into large raw blocks to
// respect the model's context window; each block is segmented independently,
// so one malformed model response costs that block's chunks and nothing else.
type SemanticStrategy struct {
	llm       core.LLMProvider
	blockSize int
	logger    *zap.Logger
}

// NewSemanticStrategy builds a model-driven splitter. blockSize is the raw
// block width in runes handed to the model per request.
func NewSemanticStrategy(llm core.LLMProvider, blockSize int, logger *zap.Logger) *SemanticStrategy {
	return &SemanticStrategy{llm: llm, blockSize: blockSize, logger: logger}
}

func (s *SemanticStrategy) Name() string { return "semantic" }

const segmentSystemPrompt = `You split documents into self-contained sections of roughly 150-300 words.
Respond with a JSON array only, no prose, no code fences. Each element:
{"title": string, "content": string, "start_char": int, "end_char": int}
start_char and end_char are rune offsets into the given text, half-open.`

// semanticSection is the strict response schema for one segmented section.
type semanticSection struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	StartChar int    `json:"start_char"`
	EndChar   int    `json:"end_char"`
}

// Chunk segments each block via the model and rebases the returned spans to
// whole-document offsets. Blocks whose responses fail schema validation are
// dropped and counted; the remaining blocks still produce chunks.
func (s *SemanticStrategy) Chunk(ctx context.Context, text string, pageBoundaries []int) ([]Draft, Stats, error) {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil, Stats{}, nil
	}

	var (
		drafts []Draft
		stats  Stats
	)

	for offset := 0; offset < len(runes); offset += s.blockSize {
		end := offset + s.blockSize
		if end > len(runes) {
			end = len(runes)
		}
		block := string(runes[offset:end])
		stats.Blocks++

		sections, err := s.segmentBlock(ctx, block)
		if err != nil {
			if ctx.Err() != nil {
				return nil, stats, ctx.Err()
			}
			stats.DroppedBlocks++
			metrics.SemanticBlocksDropped.Inc()
			s.logger.Warn("dropping semantic block",
				zap.Int("block_start", offset),
				zap.Error(err))
			continue
		}

		for _, sec := range sections {
			d := Draft{
				Index:        len(drafts),
				Content:      sec.Content,
				SectionTitle: sec.Title,
				StartChar:    offset + sec.StartChar,
				EndChar:      offset + sec.EndChar,
			}
			fillDraftMetadata(&d, pageBoundaries)
			drafts = append(drafts, d)
		}
	}

	return drafts, stats, nil
}

// segmentBlock runs one completion call and validates the response against
// the expected schema.
func (s *SemanticStrategy) segmentBlock(ctx context.Context, block string) ([]semanticSection, error) {
	raw, err := s.llm.Generate(ctx, segmentSystemPrompt, block)
	if err != nil {
		return nil, fmt.Errorf("segment completion: %w", err)
	}

	sections, err := parseSections(raw)
	if err != nil {
		return nil, err
	}

	blockLen := utf8.RuneCountInString(block)
	for i, sec := range sections {
		if err := validateSection(sec, blockLen); err != nil {
			return nil, fmt.Errorf("section %d: %w", i, err)
		}
	}
	return sections, nil
}

// parseSections decodes a strict JSON array, tolerating the code fences some
// models insist on wrapping their output in.
func parseSections(raw string) ([]semanticSection, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()

	var sections []semanticSection
	if err := dec.Decode(&sections); err != nil {
		return nil, fmt.Errorf("malformed segmentation response: %w", err)
	}
	return sections, nil
}

func validateSection(sec semanticSection, blockLen int) error {
	if strings.TrimSpace(sec.Content) == "" {
		return fmt.Errorf("empty content")
	}
	if sec.StartChar < 0 || sec.EndChar <= sec.StartChar || sec.EndChar > blockLen {
		return fmt.Errorf("invalid span [%d, %d) for block of %d runes", sec.StartChar, sec.EndChar, blockLen)
	}
	return nil
}
