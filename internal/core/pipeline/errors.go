package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrDocumentNotFound means the caller named a document that does not exist.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrStatusConflict means the document's current status does not allow
	// the requested stage. No state is mutated.
	ErrStatusConflict = errors.New("document status does not allow this stage")

	// ErrNoChunksFound means the embed stage found nothing to embed. For a
	// document that chunked to an empty set this is completion, not failure.
	ErrNoChunksFound = errors.New("no chunks found to embed")
)

// PartialEmbeddingError reports how many chunk embeddings failed to persist
// in one embed pass. It is retryable: the next run selects only the chunks
// still missing a vector.
type PartialEmbeddingError struct {
	Failed int
}

func (e *PartialEmbeddingError) Error() string {
	return fmt.Sprintf("embedding failed for %d chunks", e.Failed)
}
