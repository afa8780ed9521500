package models

import (
	"time"
)

// Visibility decides which bucket and search partition a document belongs to.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

// ParseVisibility validates a caller-supplied visibility value.
func ParseVisibility(s string) (Visibility, bool) {
	switch Visibility(s) {
	case VisibilityPrivate, VisibilityPublic:
		return Visibility(s), true
	default:
		return "", false
	}
}

// DocumentRef points at the binary behind a document. It is resolved once at
// the storage boundary so pipeline stages never branch on visibility again.
type DocumentRef struct {
	Visibility Visibility
	StorageKey string
}

// DocumentStatus tracks a document's progress through the ingestion pipeline.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusExtracting DocumentStatus = "extracting"
	StatusExtracted  DocumentStatus = "extracted"
	StatusChunking   DocumentStatus = "chunking"
	StatusChunked    DocumentStatus = "chunked"
	StatusEmbedding  DocumentStatus = "embedding"
	StatusEmbedded   DocumentStatus = "embedded"
	StatusError      DocumentStatus = "error"
)

var statusRank = map[DocumentStatus]int{
	StatusPending:    0,
	StatusExtracting: 1,
	StatusExtracted:  2,
	StatusChunking:   3,
	StatusChunked:    4,
	StatusEmbedding:  5,
	StatusEmbedded:   6,
}

// Rank returns the position of a status in the pipeline walk.
// StatusError has no rank; it is reachable from any stage.
func (s DocumentStatus) Rank() (int, bool) {
	r, ok := statusRank[s]
	return r, ok
}

// Document represents a registered binary moving through the pipeline.
type Document struct {
	ID            string         `db:"id" json:"id"`
	OwnerID       string         `db:"owner_id" json:"owner_id"`
	Visibility    Visibility     `db:"visibility" json:"visibility"`
	StorageKey    string         `db:"storage_key" json:"storage_key"`
	FileName      string         `db:"file_name" json:"file_name"`
	ContentType   string         `db:"content_type" json:"content_type"`
	Status        DocumentStatus `db:"status" json:"status"`
	ExtractedText string         `db:"extracted_text" json:"-"`
	// PageBoundaries holds the cumulative rune offset at the end of each page
	// of the extracted text. Empty until status reaches extracted.
	PageBoundaries []int     `db:"page_boundaries" json:"-"`
	ErrorDetail    string    `db:"error_detail" json:"error_detail,omitempty"`
	RetryCount     int       `db:"retry_count" json:"-"`
	NextRetryAt    time.Time `db:"next_retry_at" json:"-"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Ref builds the storage reference for this document.
func (d *Document) Ref() DocumentRef {
	return DocumentRef{Visibility: d.Visibility, StorageKey: d.StorageKey}
}

// DocumentChunk is one indexed fragment of a document's extracted text.
//
// ChunkIndex is assigned once at creation, is unique per document and defines
// the canonical chunk ordering. Embedding stays nil until the embed stage has
// persisted a vector for this chunk; once set it is never rewritten.
type DocumentChunk struct {
	ID           string     `db:"id" json:"id"`
	DocumentID   string     `db:"document_id" json:"document_id"`
	Visibility   Visibility `db:"visibility" json:"visibility"`
	ChunkIndex   int        `db:"chunk_index" json:"chunk_index"`
	Content      string     `db:"content" json:"content"`
	TokenCount   int        `db:"token_count" json:"token_count"`
	Embedding    []float32  `db:"embedding" json:"-"`
	SectionTitle string     `db:"section_title" json:"section_title,omitempty"`
	Summary      string     `db:"summary" json:"summary,omitempty"`
	Keywords     []string   `db:"keywords" json:"keywords,omitempty"`
	StartChar    int        `db:"start_char" json:"start_char"`
	EndChar      int        `db:"end_char" json:"end_char"`
	PageNumber   int        `db:"page_number" json:"page_number,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}
