package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/corpora-hq/corpora/internal/core/chunker"
	"github.com/corpora-hq/corpora/internal/core/extract"
	"github.com/corpora-hq/corpora/internal/models"
)

func testConfig() Config {
	return Config{
		BatchCap:       10,
		EmbedBatchSize: 4,
		MaxRetries:     5,
		RetryCooldown:  time.Minute,
		StageTimeout:   30 * time.Second,
		Workers:        2,
	}
}

func newTestOrchestrator(store *fakeStore, obj *fakeObjectStore, ext *fakeExtractor, emb *fakeEmbedder, cfg Config) *Orchestrator {
	return NewOrchestrator(store, obj, ext, chunker.NewWindowStrategy(40), emb, cfg, zap.NewNop())
}

func seedDocument(t *testing.T, store *fakeStore, obj *fakeObjectStore, status models.DocumentStatus, body string) *models.Document {
	t.Helper()
	doc := &models.Document{
		ID:          uuid.NewString(),
		OwnerID:     "owner-1",
		Visibility:  models.VisibilityPrivate,
		StorageKey:  "owner-1/" + uuid.NewString() + "/doc.txt",
		FileName:    "doc.txt",
		ContentType: "text/plain",
		Status:      status,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	require.NoError(t, store.CreateDocument(context.Background(), doc))
	if body != "" {
		require.NoError(t, obj.Upload(context.Background(), doc.Ref(), strings.NewReader(body), "text/plain"))
	}
	return doc
}

func seedChunks(t *testing.T, store *fakeStore, doc *models.Document, n int) []models.DocumentChunk {
	t.Helper()
	chunks := make([]models.DocumentChunk, n)
	for i := range chunks {
		chunks[i] = models.DocumentChunk{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			Visibility: doc.Visibility,
			ChunkIndex: i,
			Content:    strings.Repeat("c", 40),
			TokenCount: 10,
		}
	}
	inserted, err := store.InsertDocumentChunks(context.Background(), chunks)
	require.NoError(t, err)
	require.Equal(t, n, inserted)
	return chunks
}

func TestRunAdvancesDocumentEndToEnd(t *testing.T) {
	store := newFakeStore()
	obj := newFakeObjectStore()
	emb := &fakeEmbedder{}
	o := newTestOrchestrator(store, obj, &fakeExtractor{}, emb, testConfig())

	body := strings.Repeat("some meaningful document text ", 10)
	doc := seedDocument(t, store, obj, models.StatusPending, body)

	summary, err := o.Run(context.Background())
	require.NoError(t, err)

	// A single run advances the document through all three stages: each
	// stage's selection sees the status the previous stage just wrote.
	assert.Equal(t, []string{doc.ID}, summary.Extracted)
	assert.Equal(t, []string{doc.ID}, summary.Chunked)
	assert.Equal(t, []string{doc.ID}, summary.Embedded)
	assert.Empty(t, summary.Failures)

	got, err := store.GetDocumentByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusEmbedded, got.Status)
	assert.Equal(t, body, got.ExtractedText)

	chunks, err := store.GetChunksByDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, ch := range chunks {
		assert.NotNil(t, ch.Embedding, "chunk %d has no embedding", ch.ChunkIndex)
	}

	// Embedding ran in batches of EmbedBatchSize.
	for _, size := range emb.batchSizes {
		assert.LessOrEqual(t, size, 4)
	}
}

func TestRunIsolatesPerDocumentFailures(t *testing.T) {
	store := newFakeStore()
	obj := newFakeObjectStore()
	o := newTestOrchestrator(store, obj, &fakeExtractor{}, &fakeEmbedder{}, testConfig())

	// First document has no stored binary, so its fetch fails.
	broken := seedDocument(t, store, obj, models.StatusPending, "")
	healthy := seedDocument(t, store, obj, models.StatusPending, strings.Repeat("good text ", 20))

	summary, err := o.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, summary.Failures, 1)
	assert.Equal(t, broken.ID, summary.Failures[0].DocumentID)
	assert.Equal(t, StageExtract, summary.Failures[0].Stage)
	assert.Contains(t, summary.Embedded, healthy.ID)

	// The broken document stays in the pipeline for a later retry.
	got, _ := store.GetDocumentByID(context.Background(), broken.ID)
	assert.Equal(t, models.StatusExtracting, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.True(t, got.NextRetryAt.After(time.Now()))
}

func TestFatalExtractionErrorDeadLettersImmediately(t *testing.T) {
	store := newFakeStore()
	obj := newFakeObjectStore()
	ext := &fakeExtractor{err: extract.ErrTooShort}
	o := newTestOrchestrator(store, obj, ext, &fakeEmbedder{}, testConfig())

	doc := seedDocument(t, store, obj, models.StatusPending, "x")

	summary, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Failures, 1)

	got, _ := store.GetDocumentByID(context.Background(), doc.ID)
	assert.Equal(t, models.StatusError, got.Status)
	assert.NotEmpty(t, got.ErrorDetail)
	// Fatal failures skip the retry bookkeeping entirely.
	assert.Zero(t, got.RetryCount)
}

func TestChunkingIsIdempotent(t *testing.T) {
	store := newFakeStore()
	obj := newFakeObjectStore()
	o := newTestOrchestrator(store, obj, &fakeExtractor{}, &fakeEmbedder{}, testConfig())

	doc := seedDocument(t, store, obj, models.StatusExtracted, "")
	store.mutate(doc.ID, func(d *models.Document) {
		d.ExtractedText = strings.Repeat("t", 120)
	})
	seedChunks(t, store, doc, 3)

	require.NoError(t, o.ProcessStage(context.Background(), StageChunk, doc.ID))

	// The pre-existing chunk set is untouched; only the status advanced.
	n, _ := store.CountChunks(context.Background(), doc.ID)
	assert.Equal(t, 3, n)
	got, _ := store.GetDocumentByID(context.Background(), doc.ID)
	assert.Equal(t, models.StatusChunked, got.Status)
}

func TestPartialEmbeddingRetriesOnlyMissingChunks(t *testing.T) {
	store := newFakeStore()
	obj := newFakeObjectStore()
	emb := &fakeEmbedder{}
	o := newTestOrchestrator(store, obj, &fakeExtractor{}, emb, testConfig())

	doc := seedDocument(t, store, obj, models.StatusChunked, "")
	chunks := seedChunks(t, store, doc, 10)
	store.failEmbeddingFor[chunks[2].ID] = true
	store.failEmbeddingFor[chunks[7].ID] = true

	err := o.ProcessStage(context.Background(), StageEmbed, doc.ID)
	var partial *PartialEmbeddingError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, 2, partial.Failed)

	missing, _ := store.CountChunksMissingEmbedding(context.Background(), doc.ID)
	assert.Equal(t, 2, missing)
	got, _ := store.GetDocumentByID(context.Background(), doc.ID)
	assert.Equal(t, models.StatusEmbedding, got.Status)
	assert.Equal(t, 1, got.RetryCount)

	// Next attempt selects exactly the two failed chunks and completes.
	store.failEmbeddingFor = map[string]bool{}
	store.mutate(doc.ID, func(d *models.Document) { d.NextRetryAt = time.Time{} })

	firstAttemptCalls := len(emb.batchSizes)
	require.NoError(t, o.ProcessStage(context.Background(), StageEmbed, doc.ID))

	retried := 0
	for _, size := range emb.batchSizes[firstAttemptCalls:] {
		retried += size
	}
	assert.Equal(t, 2, retried)

	got, _ = store.GetDocumentByID(context.Background(), doc.ID)
	assert.Equal(t, models.StatusEmbedded, got.Status)
}

func TestCooldownSkipsDocumentUntilElapsed(t *testing.T) {
	store := newFakeStore()
	obj := newFakeObjectStore()
	o := newTestOrchestrator(store, obj, &fakeExtractor{}, &fakeEmbedder{}, testConfig())

	doc := seedDocument(t, store, obj, models.StatusPending, "")

	_, err := o.Run(context.Background())
	require.NoError(t, err)

	// Inside the cooldown window the document is not selected again.
	summary, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, summary.Failures)
	assert.Empty(t, summary.Extracted)

	// Once the cooldown elapses it is selected and fails again.
	store.mutate(doc.ID, func(d *models.Document) {
		d.NextRetryAt = time.Now().Add(-time.Second)
	})
	summary, err = o.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, summary.Failures, 1)
}

func TestMaxRetriesDeadLettersDocument(t *testing.T) {
	store := newFakeStore()
	obj := newFakeObjectStore()
	cfg := testConfig()
	cfg.MaxRetries = 2
	o := newTestOrchestrator(store, obj, &fakeExtractor{}, &fakeEmbedder{}, cfg)

	doc := seedDocument(t, store, obj, models.StatusPending, "")

	for i := 0; i < 2; i++ {
		store.mutate(doc.ID, func(d *models.Document) { d.NextRetryAt = time.Time{} })
		_, err := o.Run(context.Background())
		require.NoError(t, err)
	}

	got, _ := store.GetDocumentByID(context.Background(), doc.ID)
	assert.Equal(t, models.StatusError, got.Status)

	// Dead-lettered documents stop consuming batch slots.
	store.mutate(doc.ID, func(d *models.Document) { d.NextRetryAt = time.Time{} })
	summary, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, summary.Failures)
}

func TestBatchCapBoundsSelection(t *testing.T) {
	store := newFakeStore()
	obj := newFakeObjectStore()
	cfg := testConfig()
	cfg.BatchCap = 2
	o := newTestOrchestrator(store, obj, &fakeExtractor{}, &fakeEmbedder{}, cfg)

	for i := 0; i < 3; i++ {
		seedDocument(t, store, obj, models.StatusPending, strings.Repeat("text ", 30))
	}

	summary, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, summary.Extracted, 2)

	pending, err := store.ListExtractPending(context.Background(), 10, time.Now(), cfg.MaxRetries)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestRetryReentersAtPersistedStage(t *testing.T) {
	store := newFakeStore()
	obj := newFakeObjectStore()
	o := newTestOrchestrator(store, obj, &fakeExtractor{}, &fakeEmbedder{}, testConfig())
	ctx := context.Background()

	t.Run("no extracted text restarts from pending", func(t *testing.T) {
		doc := seedDocument(t, store, obj, models.StatusError, "")
		status, err := o.Retry(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, status)
	})

	t.Run("extracted text without chunks resumes at extracted", func(t *testing.T) {
		doc := seedDocument(t, store, obj, models.StatusError, "")
		store.mutate(doc.ID, func(d *models.Document) { d.ExtractedText = "text" })
		status, err := o.Retry(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusExtracted, status)
	})

	t.Run("existing chunks resume at chunked", func(t *testing.T) {
		doc := seedDocument(t, store, obj, models.StatusError, "")
		store.mutate(doc.ID, func(d *models.Document) { d.ExtractedText = "text" })
		seedChunks(t, store, doc, 2)
		status, err := o.Retry(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusChunked, status)
	})

	t.Run("retry clears failure bookkeeping", func(t *testing.T) {
		doc := seedDocument(t, store, obj, models.StatusError, "")
		store.mutate(doc.ID, func(d *models.Document) {
			d.ErrorDetail = "boom"
			d.RetryCount = 5
		})
		_, err := o.Retry(ctx, doc.ID)
		require.NoError(t, err)

		got, _ := store.GetDocumentByID(ctx, doc.ID)
		assert.Empty(t, got.ErrorDetail)
		assert.Zero(t, got.RetryCount)
	})

	t.Run("non-error document conflicts", func(t *testing.T) {
		doc := seedDocument(t, store, obj, models.StatusChunked, "")
		_, err := o.Retry(ctx, doc.ID)
		assert.ErrorIs(t, err, ErrStatusConflict)
	})

	t.Run("unknown document", func(t *testing.T) {
		_, err := o.Retry(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrDocumentNotFound)
	})
}

func TestProcessStageEligibility(t *testing.T) {
	store := newFakeStore()
	obj := newFakeObjectStore()
	o := newTestOrchestrator(store, obj, &fakeExtractor{}, &fakeEmbedder{}, testConfig())
	ctx := context.Background()

	t.Run("stage mismatch is a conflict", func(t *testing.T) {
		doc := seedDocument(t, store, obj, models.StatusEmbedded, "")
		err := o.ProcessStage(ctx, StageExtract, doc.ID)
		assert.ErrorIs(t, err, ErrStatusConflict)

		// No state was mutated by the rejected trigger.
		got, _ := store.GetDocumentByID(ctx, doc.ID)
		assert.Equal(t, models.StatusEmbedded, got.Status)
	})

	t.Run("unknown document", func(t *testing.T) {
		err := o.ProcessStage(ctx, StageEmbed, uuid.NewString())
		assert.ErrorIs(t, err, ErrDocumentNotFound)
	})

	t.Run("embed trigger on chunkless document", func(t *testing.T) {
		doc := seedDocument(t, store, obj, models.StatusChunked, "")
		err := o.ProcessStage(ctx, StageEmbed, doc.ID)
		assert.ErrorIs(t, err, ErrNoChunksFound)
	})

	t.Run("in-flight status is accepted for crash recovery", func(t *testing.T) {
		doc := seedDocument(t, store, obj, models.StatusExtracting, strings.Repeat("recovered text ", 10))
		require.NoError(t, o.ProcessStage(ctx, StageExtract, doc.ID))

		got, _ := store.GetDocumentByID(ctx, doc.ID)
		assert.Equal(t, models.StatusExtracted, got.Status)
	})
}

func TestStatusNeverRegresses(t *testing.T) {
	store := newFakeStore()
	obj := newFakeObjectStore()
	o := newTestOrchestrator(store, obj, &fakeExtractor{}, &fakeEmbedder{}, testConfig())

	doc := seedDocument(t, store, obj, models.StatusPending, strings.Repeat("text ", 50))

	prevRank := 0
	for i := 0; i < 3; i++ {
		_, err := o.Run(context.Background())
		require.NoError(t, err)

		got, _ := store.GetDocumentByID(context.Background(), doc.ID)
		rank, ok := got.Status.Rank()
		require.True(t, ok)
		assert.GreaterOrEqual(t, rank, prevRank)
		prevRank = rank
	}
	wantRank, _ := models.StatusEmbedded.Rank()
	assert.Equal(t, wantRank, prevRank)
}

func TestParseStage(t *testing.T) {
	for _, valid := range []string{"extract", "chunk", "embed"} {
		got, ok := ParseStage(valid)
		assert.True(t, ok)
		assert.Equal(t, Stage(valid), got)
	}
	_, ok := ParseStage("transcode")
	assert.False(t, ok)
}
