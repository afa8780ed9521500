package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/corpora-hq/corpora/internal/core/extract"
	"github.com/corpora-hq/corpora/internal/metrics"
	"github.com/corpora-hq/corpora/internal/models"
)

// extractOne pulls the binary from object storage, extracts text and the page
// boundary map, and persists both. Unreadable or too-short documents fail
// fatally; everything else is transient.
func (o *Orchestrator) extractOne(ctx context.Context, doc *models.Document) error {
	if doc.Status == models.StatusPending {
		ok, err := o.db.TransitionStatus(ctx, doc.ID, models.StatusPending, models.StatusExtracting)
		if err != nil {
			return o.recordFailure(ctx, doc, fmt.Errorf("transition to extracting: %w", err))
		}
		if !ok {
			// Another run claimed it; nothing to do here.
			return fmt.Errorf("%w: document left pending concurrently", ErrStatusConflict)
		}
	}

	data, err := o.obj.Fetch(ctx, doc.Ref())
	if err != nil {
		return o.recordFailure(ctx, doc, fmt.Errorf("fetch %s: %w", doc.StorageKey, err))
	}

	text, boundaries, err := o.extractor.Extract(ctx, data, doc.ContentType)
	if err != nil {
		if errors.Is(err, extract.ErrUnreadable) || errors.Is(err, extract.ErrTooShort) {
			return o.failFatal(ctx, doc, err)
		}
		return o.recordFailure(ctx, doc, err)
	}

	if err := o.db.SetExtractionResult(ctx, doc.ID, text, boundaries); err != nil {
		return o.recordFailure(ctx, doc, fmt.Errorf("persist extraction: %w", err))
	}
	if _, err := o.db.TransitionStatus(ctx, doc.ID, models.StatusExtracting, models.StatusExtracted); err != nil {
		return o.recordFailure(ctx, doc, fmt.Errorf("transition to extracted: %w", err))
	}

	o.logger.Debug("document extracted",
		zap.String("document_id", doc.ID),
		zap.Int("pages", len(boundaries)),
		zap.Int("chars", len([]rune(text))),
	)
	return nil
}

// chunkOne runs the configured strategy over the extracted text and persists
// the chunk set. A document that already has chunks only gets its status
// finalized, so a crash between insert and transition heals on the next run.
func (o *Orchestrator) chunkOne(ctx context.Context, doc *models.Document) (int, error) {
	existing, err := o.db.CountChunks(ctx, doc.ID)
	if err != nil {
		return 0, o.recordFailure(ctx, doc, fmt.Errorf("count chunks: %w", err))
	}
	if existing > 0 {
		if err := o.finalizeChunking(ctx, doc); err != nil {
			return 0, o.recordFailure(ctx, doc, err)
		}
		return 0, nil
	}

	if doc.Status == models.StatusExtracted {
		ok, err := o.db.TransitionStatus(ctx, doc.ID, models.StatusExtracted, models.StatusChunking)
		if err != nil {
			return 0, o.recordFailure(ctx, doc, fmt.Errorf("transition to chunking: %w", err))
		}
		if !ok {
			return 0, fmt.Errorf("%w: document left extracted concurrently", ErrStatusConflict)
		}
		doc.Status = models.StatusChunking
	}

	drafts, stats, err := o.strategy.Chunk(ctx, doc.ExtractedText, doc.PageBoundaries)
	if err != nil {
		return stats.DroppedBlocks, o.recordFailure(ctx, doc, fmt.Errorf("chunk (%s): %w", o.strategy.Name(), err))
	}

	now := o.now()
	chunks := make([]models.DocumentChunk, 0, len(drafts))
	for _, d := range drafts {
		chunks = append(chunks, models.DocumentChunk{
			ID:           uuid.NewString(),
			DocumentID:   doc.ID,
			Visibility:   doc.Visibility,
			ChunkIndex:   d.Index,
			Content:      d.Content,
			TokenCount:   d.TokenCount,
			SectionTitle: d.SectionTitle,
			Summary:      d.Summary,
			Keywords:     d.Keywords,
			StartChar:    d.StartChar,
			EndChar:      d.EndChar,
			PageNumber:   d.PageNumber,
			CreatedAt:    now,
		})
	}

	if len(chunks) > 0 {
		inserted, err := o.db.InsertDocumentChunks(ctx, chunks)
		if err != nil {
			return stats.DroppedBlocks, o.recordFailure(ctx, doc, fmt.Errorf("insert chunks: %w", err))
		}
		if inserted < len(chunks) {
			o.logger.Info("skipped pre-existing chunks",
				zap.String("document_id", doc.ID),
				zap.Int("skipped", len(chunks)-inserted),
			)
		}
	}

	if err := o.finalizeChunking(ctx, doc); err != nil {
		return stats.DroppedBlocks, o.recordFailure(ctx, doc, err)
	}

	if stats.DroppedBlocks > 0 {
		o.logger.Warn("chunking dropped blocks",
			zap.String("document_id", doc.ID),
			zap.Int("dropped", stats.DroppedBlocks),
			zap.Int("blocks", stats.Blocks),
		)
	}
	o.logger.Debug("document chunked",
		zap.String("document_id", doc.ID),
		zap.String("strategy", o.strategy.Name()),
		zap.Int("chunks", len(chunks)),
	)
	return stats.DroppedBlocks, nil
}

func (o *Orchestrator) finalizeChunking(ctx context.Context, doc *models.Document) error {
	if _, err := o.db.TransitionStatus(ctx, doc.ID, doc.Status, models.StatusChunked); err != nil {
		return fmt.Errorf("transition to chunked: %w", err)
	}
	return nil
}

// embedOne embeds every chunk still missing a vector, persisting each one
// independently. Partial failure leaves the document in embedding with only
// the failed chunks outstanding; the next pass picks up exactly those.
func (o *Orchestrator) embedOne(ctx context.Context, doc *models.Document) error {
	missing, err := o.db.ListChunksMissingEmbedding(ctx, doc.ID)
	if err != nil {
		return o.recordFailure(ctx, doc, fmt.Errorf("list missing embeddings: %w", err))
	}

	if doc.Status == models.StatusChunked {
		ok, err := o.db.TransitionStatus(ctx, doc.ID, models.StatusChunked, models.StatusEmbedding)
		if err != nil {
			return o.recordFailure(ctx, doc, fmt.Errorf("transition to embedding: %w", err))
		}
		if !ok {
			return fmt.Errorf("%w: document left chunked concurrently", ErrStatusConflict)
		}
	}

	failed := 0
	for start := 0; start < len(missing); start += o.cfg.EmbedBatchSize {
		end := min(start+o.cfg.EmbedBatchSize, len(missing))
		batch := missing[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}

		vecs, err := o.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			failed += len(batch)
			o.logger.Warn("embedding batch failed",
				zap.String("document_id", doc.ID),
				zap.Int("batch_size", len(batch)),
				zap.Error(err),
			)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if len(vecs) != len(batch) {
			failed += len(batch)
			o.logger.Warn("embedding batch size mismatch",
				zap.String("document_id", doc.ID),
				zap.Int("want", len(batch)),
				zap.Int("got", len(vecs)),
			)
			continue
		}

		for i, c := range batch {
			if err := o.db.SetChunkEmbedding(ctx, c.ID, vecs[i]); err != nil {
				failed++
				metrics.ChunkEmbeddingFailures.Inc()
				o.logger.Warn("failed to persist chunk embedding",
					zap.String("chunk_id", c.ID),
					zap.Error(err),
				)
			}
		}
	}

	if failed > 0 {
		return o.recordFailure(ctx, doc, &PartialEmbeddingError{Failed: failed})
	}

	// Re-check instead of trusting our own arithmetic; a concurrent
	// re-chunk could have added rows.
	remaining, err := o.db.CountChunksMissingEmbedding(ctx, doc.ID)
	if err != nil {
		return o.recordFailure(ctx, doc, fmt.Errorf("count missing embeddings: %w", err))
	}
	if remaining > 0 {
		return o.recordFailure(ctx, doc, &PartialEmbeddingError{Failed: remaining})
	}

	if _, err := o.db.TransitionStatus(ctx, doc.ID, models.StatusEmbedding, models.StatusEmbedded); err != nil {
		return o.recordFailure(ctx, doc, fmt.Errorf("transition to embedded: %w", err))
	}

	o.logger.Debug("document embedded",
		zap.String("document_id", doc.ID),
		zap.Int("chunks", len(missing)),
	)
	return nil
}

func observeStage(stage Stage, elapsed time.Duration, err error) {
	metrics.StageDuration.WithLabelValues(string(stage)).Observe(elapsed.Seconds())
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.StageDocumentsTotal.WithLabelValues(string(stage), outcome).Inc()
}
