// Package pipeline drives documents through the ingestion stages:
// extract, chunk, embed. Every run is a stateless invocation over persisted
// state, so crashed or concurrent runs converge instead of colliding.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/corpora-hq/corpora/internal/core"
	"github.com/corpora-hq/corpora/internal/core/chunker"
	"github.com/corpora-hq/corpora/internal/models"
)

// Stage names a pipeline stage for triggers, logs and metrics.
type Stage string

const (
	StageExtract Stage = "extract"
	StageChunk   Stage = "chunk"
	StageEmbed   Stage = "embed"
)

// ParseStage validates a caller-supplied stage name.
func ParseStage(s string) (Stage, bool) {
	switch Stage(s) {
	case StageExtract, StageChunk, StageEmbed:
		return Stage(s), true
	default:
		return "", false
	}
}

// Config tunes one orchestrator instance.
type Config struct {
	// BatchCap bounds how many documents one run advances per stage.
	BatchCap int
	// EmbedBatchSize is how many chunk texts go into one embedding request.
	EmbedBatchSize int
	// MaxRetries dead-letters a document after this many transient failures.
	MaxRetries int
	// RetryCooldown is the base backoff; it doubles per recorded failure.
	RetryCooldown time.Duration
	// StageTimeout bounds a single document stage execution.
	StageTimeout time.Duration
	// Workers bounds concurrent documents within a stage batch.
	Workers int
}

// StageFailure records one document failure inside a run.
type StageFailure struct {
	DocumentID string `json:"document_id"`
	Stage      Stage  `json:"stage"`
	Message    string `json:"message"`
}

// RunSummary reports what one orchestrator run accomplished. Failures here
// are per-document: one bad document never aborts the batch.
type RunSummary struct {
	Extracted     []string       `json:"extracted"`
	Chunked       []string       `json:"chunked"`
	Embedded      []string       `json:"embedded"`
	DroppedBlocks int            `json:"dropped_blocks,omitempty"`
	Failures      []StageFailure `json:"failures,omitempty"`
}

// Orchestrator advances documents through the pipeline.
type Orchestrator struct {
	db        core.DbClient
	obj       core.ObjectClient
	extractor core.Extractor
	strategy  chunker.Strategy
	embedder  core.EmbeddingProvider
	cfg       Config
	logger    *zap.Logger

	// now is swappable for tests.
	now func() time.Time
}

func NewOrchestrator(
	db core.DbClient,
	obj core.ObjectClient,
	extractor core.Extractor,
	strategy chunker.Strategy,
	embedder core.EmbeddingProvider,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = 16
	}
	return &Orchestrator{
		db:        db,
		obj:       obj,
		extractor: extractor,
		strategy:  strategy,
		embedder:  embedder,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Run executes one full pass: it selects eligible documents for every stage
// and advances each at most one stage. Documents inside a cooldown window or
// past MaxRetries are not selected.
func (o *Orchestrator) Run(ctx context.Context) (*RunSummary, error) {
	summary := &RunSummary{}
	now := o.now()

	extract, err := o.db.ListExtractPending(ctx, o.cfg.BatchCap, now, o.cfg.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("list extract pending: %w", err)
	}
	if err := o.runBatch(ctx, StageExtract, extract, summary); err != nil {
		return nil, err
	}

	chunk, err := o.db.ListChunkPending(ctx, o.cfg.BatchCap, now, o.cfg.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("list chunk pending: %w", err)
	}
	if err := o.runBatch(ctx, StageChunk, chunk, summary); err != nil {
		return nil, err
	}

	embed, err := o.db.ListEmbedPending(ctx, o.cfg.BatchCap, now, o.cfg.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("list embed pending: %w", err)
	}
	if err := o.runBatch(ctx, StageEmbed, embed, summary); err != nil {
		return nil, err
	}

	o.logger.Info("pipeline run complete",
		zap.Int("extracted", len(summary.Extracted)),
		zap.Int("chunked", len(summary.Chunked)),
		zap.Int("embedded", len(summary.Embedded)),
		zap.Int("failures", len(summary.Failures)),
	)
	return summary, nil
}

// runBatch processes one stage's batch with bounded concurrency. Workers
// return nil so errgroup never cancels siblings; failures land in the summary.
func (o *Orchestrator) runBatch(ctx context.Context, stage Stage, docs []models.Document, summary *RunSummary) error {
	if len(docs) == 0 {
		return nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)

	for i := range docs {
		doc := docs[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			dropped, err := o.processOne(gctx, stage, &doc)

			mu.Lock()
			defer mu.Unlock()
			summary.DroppedBlocks += dropped
			if err != nil {
				summary.Failures = append(summary.Failures, StageFailure{
					DocumentID: doc.ID,
					Stage:      stage,
					Message:    err.Error(),
				})
				return nil
			}
			switch stage {
			case StageExtract:
				summary.Extracted = append(summary.Extracted, doc.ID)
			case StageChunk:
				summary.Chunked = append(summary.Chunked, doc.ID)
			case StageEmbed:
				summary.Embedded = append(summary.Embedded, doc.ID)
			}
			return nil
		})
	}
	return g.Wait()
}

// processOne runs one stage for one document under the stage timeout,
// recording duration and outcome metrics.
func (o *Orchestrator) processOne(ctx context.Context, stage Stage, doc *models.Document) (dropped int, err error) {
	if o.cfg.StageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.StageTimeout)
		defer cancel()
	}

	start := o.now()
	switch stage {
	case StageExtract:
		err = o.extractOne(ctx, doc)
	case StageChunk:
		dropped, err = o.chunkOne(ctx, doc)
	case StageEmbed:
		err = o.embedOne(ctx, doc)
	default:
		err = fmt.Errorf("unknown stage %q", stage)
	}
	observeStage(stage, o.now().Sub(start), err)

	if err != nil {
		o.logger.Warn("stage failed",
			zap.String("stage", string(stage)),
			zap.String("document_id", doc.ID),
			zap.Error(err),
		)
	}
	return dropped, err
}

// ProcessStage runs a single named stage for a single document, for the
// per-document HTTP triggers. Eligibility is checked against persisted
// status so a trigger on the wrong stage is a conflict, not a corruption.
func (o *Orchestrator) ProcessStage(ctx context.Context, stage Stage, documentID string) error {
	doc, err := o.db.GetDocumentByID(ctx, documentID)
	if err != nil {
		return err
	}
	if doc == nil {
		return ErrDocumentNotFound
	}

	if !stageAccepts(stage, doc.Status) {
		return fmt.Errorf("%w: document is %s", ErrStatusConflict, doc.Status)
	}

	// An embed trigger on a chunkless document is a caller error; the batch
	// path treats the same state as completion instead.
	if stage == StageEmbed {
		n, err := o.db.CountChunks(ctx, doc.ID)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNoChunksFound
		}
	}

	_, err = o.processOne(ctx, stage, doc)
	return err
}

// stageAccepts reports whether a document in the given status may enter the
// stage. The in-flight status is accepted too: a crash mid-stage leaves it
// behind and the stage re-run is idempotent.
func stageAccepts(stage Stage, status models.DocumentStatus) bool {
	switch stage {
	case StageExtract:
		return status == models.StatusPending || status == models.StatusExtracting
	case StageChunk:
		return status == models.StatusExtracted || status == models.StatusChunking
	case StageEmbed:
		return status == models.StatusChunked || status == models.StatusEmbedding
	default:
		return false
	}
}

// Retry re-enters a failed document at the stage its persisted state supports:
// no extracted text restarts from pending, no chunks from extracted, otherwise
// from chunked. Returns ErrStatusConflict when the document is not in error.
func (o *Orchestrator) Retry(ctx context.Context, documentID string) (models.DocumentStatus, error) {
	doc, err := o.db.GetDocumentByID(ctx, documentID)
	if err != nil {
		return "", err
	}
	if doc == nil {
		return "", ErrDocumentNotFound
	}
	if doc.Status != models.StatusError {
		return "", fmt.Errorf("%w: document is %s", ErrStatusConflict, doc.Status)
	}

	to := models.StatusPending
	if doc.ExtractedText != "" {
		n, err := o.db.CountChunks(ctx, doc.ID)
		if err != nil {
			return "", err
		}
		if n > 0 {
			to = models.StatusChunked
		} else {
			to = models.StatusExtracted
		}
	}

	ok, err := o.db.ResetForRetry(ctx, doc.ID, to)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: document left error state concurrently", ErrStatusConflict)
	}

	o.logger.Info("document queued for retry",
		zap.String("document_id", doc.ID),
		zap.String("resume_status", string(to)),
	)
	return to, nil
}

// recordFailure applies the retry policy after a transient stage error: the
// cooldown doubles per failure, and a document past MaxRetries dead-letters
// to error instead of cycling forever.
func (o *Orchestrator) recordFailure(ctx context.Context, doc *models.Document, stageErr error) error {
	if doc.RetryCount+1 >= o.cfg.MaxRetries {
		if err := o.db.MarkDocumentFailed(ctx, doc.ID, stageErr.Error()); err != nil {
			return fmt.Errorf("mark failed after max retries: %w (stage error: %v)", err, stageErr)
		}
		o.logger.Error("document dead-lettered",
			zap.String("document_id", doc.ID),
			zap.Int("retries", doc.RetryCount+1),
			zap.Error(stageErr),
		)
		return stageErr
	}

	cooldown := o.cfg.RetryCooldown * time.Duration(1<<min(doc.RetryCount, 8))
	if err := o.db.RecordStageFailure(ctx, doc.ID, stageErr.Error(), cooldown); err != nil {
		return fmt.Errorf("record stage failure: %w (stage error: %v)", err, stageErr)
	}
	return stageErr
}

// failFatal routes a non-retryable error straight to the error state.
func (o *Orchestrator) failFatal(ctx context.Context, doc *models.Document, stageErr error) error {
	if err := o.db.MarkDocumentFailed(ctx, doc.ID, stageErr.Error()); err != nil {
		return fmt.Errorf("mark failed: %w (stage error: %v)", err, stageErr)
	}
	return stageErr
}
