package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/corpora-hq/corpora/internal/models"
)

const documentColumns = `
	id, owner_id, visibility, storage_key, file_name, content_type, status,
	COALESCE(extracted_text, ''), COALESCE(page_boundaries, '[]'),
	COALESCE(error_detail, ''), retry_count, next_retry_at, created_at, updated_at`

func (c *Client) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	const q = `
		INSERT INTO documents
			(id, owner_id, visibility, storage_key, file_name, content_type, status, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, COALESCE($8, now()), COALESCE($9, now()))
	`
	_, err := c.db.ExecContext(ctx, q,
		doc.ID, doc.OwnerID, doc.Visibility, doc.StorageKey, doc.FileName,
		doc.ContentType, doc.Status, doc.CreatedAt, doc.UpdatedAt)
	return err
}

func (c *Client) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`

	doc, err := scanDocument(c.db.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (c *Client) ListDocumentsByOwner(ctx context.Context, ownerID string) ([]models.Document, error) {
	q := `SELECT ` + documentColumns + `
		FROM documents
		WHERE owner_id = $1
		ORDER BY created_at DESC`

	rows, err := c.db.QueryContext(ctx, q, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDocuments(rows)
}

// TransitionStatus performs the conditional state-machine step. The WHERE
// guard on the current status makes two near-simultaneous invocations safe:
// only one of them moves the row, the other observes false and backs off.
func (c *Client) TransitionStatus(ctx context.Context, id string, from, to models.DocumentStatus) (bool, error) {
	const q = `
		UPDATE documents
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
	`
	res, err := c.db.ExecContext(ctx, q, id, from, to)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *Client) SetExtractionResult(ctx context.Context, id, text string, pageBoundaries []int) error {
	bounds, err := json.Marshal(pageBoundaries)
	if err != nil {
		return fmt.Errorf("marshal page boundaries: %w", err)
	}
	const q = `
		UPDATE documents
		SET extracted_text = $2, page_boundaries = $3, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, text, bounds)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document not found: %s", id)
	}
	return nil
}

func (c *Client) MarkDocumentFailed(ctx context.Context, id, detail string) error {
	const q = `
		UPDATE documents
		SET status = 'error', error_detail = $2, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, detail)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document not found: %s", id)
	}
	return nil
}

func (c *Client) RecordStageFailure(ctx context.Context, id, detail string, cooldown time.Duration) error {
	const q = `
		UPDATE documents
		SET retry_count = retry_count + 1,
		    error_detail = $2,
		    next_retry_at = now() + $3 * interval '1 second',
		    updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, detail, int(cooldown.Seconds()))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document not found: %s", id)
	}
	return nil
}

func (c *Client) ResetForRetry(ctx context.Context, id string, to models.DocumentStatus) (bool, error) {
	const q = `
		UPDATE documents
		SET status = $2, error_detail = '', retry_count = 0,
		    next_retry_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'error'
	`
	res, err := c.db.ExecContext(ctx, q, id, to)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Stage selection. All three read persisted state only, take the oldest
// updated documents first, skip cooling-down rows and cap the batch.

func (c *Client) ListExtractPending(ctx context.Context, limit int, now time.Time, maxRetries int) ([]models.Document, error) {
	q := `SELECT ` + documentColumns + `
		FROM documents
		WHERE status IN ('pending', 'extracting')
		  AND next_retry_at <= $1
		  AND retry_count < $2
		ORDER BY updated_at ASC
		LIMIT $3`
	return c.listPending(ctx, q, now, maxRetries, limit)
}

func (c *Client) ListChunkPending(ctx context.Context, limit int, now time.Time, maxRetries int) ([]models.Document, error) {
	q := `SELECT ` + documentColumns + `
		FROM documents
		WHERE status IN ('extracted', 'chunking')
		  AND next_retry_at <= $1
		  AND retry_count < $2
		ORDER BY updated_at ASC
		LIMIT $3`
	return c.listPending(ctx, q, now, maxRetries, limit)
}

func (c *Client) ListEmbedPending(ctx context.Context, limit int, now time.Time, maxRetries int) ([]models.Document, error) {
	q := `SELECT ` + documentColumns + `
		FROM documents
		WHERE status IN ('chunked', 'embedding')
		  AND next_retry_at <= $1
		  AND retry_count < $2
		ORDER BY updated_at ASC
		LIMIT $3`
	return c.listPending(ctx, q, now, maxRetries, limit)
}

func (c *Client) listPending(ctx context.Context, q string, now time.Time, maxRetries, limit int) ([]models.Document, error) {
	rows, err := c.db.QueryContext(ctx, q, now, maxRetries, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDocuments(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var (
		d      models.Document
		bounds []byte
	)
	err := row.Scan(
		&d.ID, &d.OwnerID, &d.Visibility, &d.StorageKey, &d.FileName,
		&d.ContentType, &d.Status, &d.ExtractedText, &bounds,
		&d.ErrorDetail, &d.RetryCount, &d.NextRetryAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(bounds, &d.PageBoundaries); err != nil {
		return nil, fmt.Errorf("unmarshal page boundaries for %s: %w", d.ID, err)
	}
	return &d, nil
}

func collectDocuments(rows *sql.Rows) ([]models.Document, error) {
	var out []models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}
