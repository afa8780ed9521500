package core

import (
	"context"
	"io"
	"time"

	"github.com/corpora-hq/corpora/internal/core/retriever"
	"github.com/corpora-hq/corpora/internal/models"
)

// DbClient defines all persistence the pipeline and handlers need.
// It abstracts Postgres/pgvector so higher layers never depend on a specific DB.
//
// Stage selection methods read persisted state only; each orchestrator run is
// a stateless invocation and two near-simultaneous runs must not corrupt a
// document, hence the conditional TransitionStatus instead of a blind update.
type DbClient interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	ListDocumentsByOwner(ctx context.Context, ownerID string) ([]models.Document, error)

	// TransitionStatus moves a document from exactly `from` to `to` and
	// reports whether the row was updated. A false return means another
	// invocation got there first (or the document regressed), and the caller
	// must back off rather than overwrite the newer status.
	TransitionStatus(ctx context.Context, id string, from, to models.DocumentStatus) (bool, error)

	SetExtractionResult(ctx context.Context, id, text string, pageBoundaries []int) error

	// MarkDocumentFailed is the fatal path: status becomes error and the
	// cause is recorded. Only a manual or cron retry re-enters the pipeline.
	MarkDocumentFailed(ctx context.Context, id, detail string) error

	// RecordStageFailure is the transient path: the document keeps its
	// current status, the retry counter grows and the cooldown window is
	// pushed out so a permanently failing document stops eating batch slots.
	RecordStageFailure(ctx context.Context, id, detail string, cooldown time.Duration) error

	// ResetForRetry re-enters a failed document at the given stage: status
	// error becomes `to`, the retry bookkeeping clears. Returns false when
	// the document is not in error.
	ResetForRetry(ctx context.Context, id string, to models.DocumentStatus) (bool, error)

	ListExtractPending(ctx context.Context, limit int, now time.Time, maxRetries int) ([]models.Document, error)
	ListChunkPending(ctx context.Context, limit int, now time.Time, maxRetries int) ([]models.Document, error)
	ListEmbedPending(ctx context.Context, limit int, now time.Time, maxRetries int) ([]models.Document, error)

	// InsertDocumentChunks writes a document's chunk set. Inserts conflict-
	// skip on (document_id, chunk_index) so re-chunking cannot duplicate
	// chunks; the returned count is the number of rows actually written.
	InsertDocumentChunks(ctx context.Context, chunks []models.DocumentChunk) (int, error)
	CountChunks(ctx context.Context, documentID string) (int, error)
	GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error)

	ListChunksMissingEmbedding(ctx context.Context, documentID string) ([]models.DocumentChunk, error)
	CountChunksMissingEmbedding(ctx context.Context, documentID string) (int, error)
	// SetChunkEmbedding persists one vector; per-chunk writes are independent
	// so a failure on chunk 7 of 50 rolls nothing else back.
	SetChunkEmbedding(ctx context.Context, chunkID string, embedding []float32) error

	// SearchChunks runs similarity search partitioned by visibility; documentID
	// narrows the search to one document when non-empty. Results come back
	// ranked by descending relevance.
	SearchChunks(ctx context.Context, visibility models.Visibility, documentID string, queryVec []float32, limit int) ([]retriever.Candidate, error)

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
// Refs are resolved against the per-visibility bucket configured at startup.
type ObjectClient interface {
	Upload(ctx context.Context, ref models.DocumentRef, data io.Reader, contentType string) error
	Fetch(ctx context.Context, ref models.DocumentRef) ([]byte, error)
	Delete(ctx context.Context, ref models.DocumentRef) error
}
