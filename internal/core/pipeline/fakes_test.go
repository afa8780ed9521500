package pipeline

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/corpora-hq/corpora/internal/core/retriever"
	"github.com/corpora-hq/corpora/internal/models"
)

// fakeStore is an in-memory core.DbClient good enough for orchestrator tests.
type fakeStore struct {
	mu     sync.Mutex
	docs   map[string]*models.Document
	order  []string
	chunks map[string][]models.DocumentChunk

	failEmbeddingFor map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:             make(map[string]*models.Document),
		chunks:           make(map[string][]models.DocumentChunk),
		failEmbeddingFor: make(map[string]bool),
	}
}

func (s *fakeStore) CreateDocument(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *doc
	s.docs[doc.ID] = &cp
	s.order = append(s.order, doc.ID)
	return nil
}

func (s *fakeStore) GetDocumentByID(_ context.Context, id string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (s *fakeStore) ListDocumentsByOwner(_ context.Context, ownerID string) ([]models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Document
	for _, id := range s.order {
		if s.docs[id].OwnerID == ownerID {
			out = append(out, *s.docs[id])
		}
	}
	return out, nil
}

func (s *fakeStore) TransitionStatus(_ context.Context, id string, from, to models.DocumentStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok || d.Status != from {
		return false, nil
	}
	d.Status = to
	d.UpdatedAt = time.Now()
	return true, nil
}

func (s *fakeStore) SetExtractionResult(_ context.Context, id, text string, bounds []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("document not found: %s", id)
	}
	d.ExtractedText = text
	d.PageBoundaries = bounds
	return nil
}

func (s *fakeStore) MarkDocumentFailed(_ context.Context, id, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("document not found: %s", id)
	}
	d.Status = models.StatusError
	d.ErrorDetail = detail
	return nil
}

func (s *fakeStore) RecordStageFailure(_ context.Context, id, detail string, cooldown time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("document not found: %s", id)
	}
	d.RetryCount++
	d.ErrorDetail = detail
	d.NextRetryAt = time.Now().Add(cooldown)
	return nil
}

func (s *fakeStore) ResetForRetry(_ context.Context, id string, to models.DocumentStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok || d.Status != models.StatusError {
		return false, nil
	}
	d.Status = to
	d.ErrorDetail = ""
	d.RetryCount = 0
	d.NextRetryAt = time.Time{}
	return true, nil
}

func (s *fakeStore) listByStatus(limit int, now time.Time, maxRetries int, statuses ...models.DocumentStatus) []models.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	accept := make(map[models.DocumentStatus]bool, len(statuses))
	for _, st := range statuses {
		accept[st] = true
	}
	var out []models.Document
	for _, id := range s.order {
		d := s.docs[id]
		if !accept[d.Status] || d.NextRetryAt.After(now) || d.RetryCount >= maxRetries {
			continue
		}
		out = append(out, *d)
		if len(out) == limit {
			break
		}
	}
	return out
}

func (s *fakeStore) ListExtractPending(_ context.Context, limit int, now time.Time, maxRetries int) ([]models.Document, error) {
	return s.listByStatus(limit, now, maxRetries, models.StatusPending, models.StatusExtracting), nil
}

func (s *fakeStore) ListChunkPending(_ context.Context, limit int, now time.Time, maxRetries int) ([]models.Document, error) {
	return s.listByStatus(limit, now, maxRetries, models.StatusExtracted, models.StatusChunking), nil
}

func (s *fakeStore) ListEmbedPending(_ context.Context, limit int, now time.Time, maxRetries int) ([]models.Document, error) {
	return s.listByStatus(limit, now, maxRetries, models.StatusChunked, models.StatusEmbedding), nil
}

func (s *fakeStore) InsertDocumentChunks(_ context.Context, chunks []models.DocumentChunk) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, ch := range chunks {
		exists := false
		for _, have := range s.chunks[ch.DocumentID] {
			if have.ChunkIndex == ch.ChunkIndex {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		s.chunks[ch.DocumentID] = append(s.chunks[ch.DocumentID], ch)
		inserted++
	}
	sortChunks(s.chunks[chunks[0].DocumentID])
	return inserted, nil
}

func sortChunks(chunks []models.DocumentChunk) {
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ChunkIndex < chunks[j].ChunkIndex })
}

func (s *fakeStore) CountChunks(_ context.Context, documentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks[documentID]), nil
}

func (s *fakeStore) GetChunksByDocument(_ context.Context, documentID string) ([]models.DocumentChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.DocumentChunk(nil), s.chunks[documentID]...), nil
}

func (s *fakeStore) ListChunksMissingEmbedding(_ context.Context, documentID string) ([]models.DocumentChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.DocumentChunk
	for _, ch := range s.chunks[documentID] {
		if ch.Embedding == nil {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (s *fakeStore) CountChunksMissingEmbedding(_ context.Context, documentID string) (int, error) {
	missing, _ := s.ListChunksMissingEmbedding(context.Background(), documentID)
	return len(missing), nil
}

func (s *fakeStore) SetChunkEmbedding(_ context.Context, chunkID string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failEmbeddingFor[chunkID] {
		return fmt.Errorf("injected failure for chunk %s", chunkID)
	}
	for docID := range s.chunks {
		for i := range s.chunks[docID] {
			if s.chunks[docID][i].ID == chunkID {
				if s.chunks[docID][i].Embedding == nil {
					s.chunks[docID][i].Embedding = embedding
				}
				return nil
			}
		}
	}
	return fmt.Errorf("chunk not found: %s", chunkID)
}

func (s *fakeStore) SearchChunks(context.Context, models.Visibility, string, []float32, int) ([]retriever.Candidate, error) {
	return nil, nil
}

func (s *fakeStore) Close() error { return nil }

// mutate runs fn against the live document under the lock, for test setup.
func (s *fakeStore) mutate(id string, fn func(*models.Document)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.docs[id])
}

// fakeObjectStore keeps binaries in a map keyed by storage key.
type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string][]byte)}
}

func (f *fakeObjectStore) Upload(_ context.Context, ref models.DocumentRef, data io.Reader, _ string) error {
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[ref.StorageKey] = body
	return nil
}

func (f *fakeObjectStore) Fetch(_ context.Context, ref models.DocumentRef) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.objects[ref.StorageKey]
	if !ok {
		return nil, fmt.Errorf("object not found: %s", ref.StorageKey)
	}
	return body, nil
}

func (f *fakeObjectStore) Delete(_ context.Context, ref models.DocumentRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, ref.StorageKey)
	return nil
}

// fakeExtractor treats the binary as UTF-8 text. A configured error wins.
type fakeExtractor struct {
	err error
}

func (f *fakeExtractor) Extract(_ context.Context, data []byte, _ string) (string, []int, error) {
	if f.err != nil {
		return "", nil, f.err
	}
	text := string(data)
	return text, []int{len([]rune(text))}, nil
}

// fakeEmbedder returns constant-dimension vectors and records batch sizes.
type fakeEmbedder struct {
	mu         sync.Mutex
	batchSizes []int
	failNext   int
}

func (f *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchSizes = append(f.batchSizes, len(texts))
	if f.failNext > 0 {
		f.failNext--
		return nil, fmt.Errorf("injected embedding failure")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}
