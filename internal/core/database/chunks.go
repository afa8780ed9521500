package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/corpora-hq/corpora/internal/core/retriever"
	"github.com/corpora-hq/corpora/internal/models"
)

const chunkColumns = `
	id, document_id, visibility, chunk_index, content, token_count,
	COALESCE(section_title, ''), COALESCE(summary, ''), COALESCE(keywords, '[]'),
	start_char, end_char, COALESCE(page_number, 0), created_at`

// InsertDocumentChunks writes a chunk set in a single transaction. The
// conflict-skip on (document_id, chunk_index) makes re-chunking idempotent:
// an index that already exists is left untouched, embeddings included.
func (c *Client) InsertDocumentChunks(ctx context.Context, chunks []models.DocumentChunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, err
	}

	const q = `
		INSERT INTO document_chunks
			(id, document_id, visibility, chunk_index, content, token_count,
			 section_title, summary, keywords, start_char, end_char, page_number, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, COALESCE($13, now()))
		ON CONFLICT ON CONSTRAINT document_chunks_doc_index_uniq DO NOTHING
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for i := range chunks {
		ch := &chunks[i]
		keywords, err := json.Marshal(ch.Keywords)
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("marshal keywords: %w", err)
		}
		res, err := stmt.ExecContext(ctx,
			ch.ID, ch.DocumentID, ch.Visibility, ch.ChunkIndex, ch.Content,
			ch.TokenCount, ch.SectionTitle, ch.Summary, keywords,
			ch.StartChar, ch.EndChar, ch.PageNumber, ch.CreatedAt,
		)
		if err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (c *Client) CountChunks(ctx context.Context, documentID string) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx,
		`SELECT count(*) FROM document_chunks WHERE document_id = $1`, documentID).Scan(&n)
	return n, err
}

func (c *Client) GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error) {
	q := `SELECT ` + chunkColumns + `
		FROM document_chunks
		WHERE document_id = $1
		ORDER BY chunk_index ASC`

	rows, err := c.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectChunks(rows)
}

// ListChunksMissingEmbedding is the retry selection: after a partial
// embedding failure only the chunks still missing a vector come back.
func (c *Client) ListChunksMissingEmbedding(ctx context.Context, documentID string) ([]models.DocumentChunk, error) {
	q := `SELECT ` + chunkColumns + `
		FROM document_chunks
		WHERE document_id = $1 AND embedding IS NULL
		ORDER BY chunk_index ASC`

	rows, err := c.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectChunks(rows)
}

func (c *Client) CountChunksMissingEmbedding(ctx context.Context, documentID string) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx,
		`SELECT count(*) FROM document_chunks WHERE document_id = $1 AND embedding IS NULL`,
		documentID).Scan(&n)
	return n, err
}

// SetChunkEmbedding persists one vector. The IS NULL guard keeps a persisted
// embedding immutable even if two embed runs race on the same chunk.
func (c *Client) SetChunkEmbedding(ctx context.Context, chunkID string, embedding []float32) error {
	const q = `
		UPDATE document_chunks
		SET embedding = $2
		WHERE id = $1 AND embedding IS NULL
	`
	_, err := c.db.ExecContext(ctx, q, chunkID, pgvector.NewVector(embedding))
	return err
}

// SearchChunks runs nearest-neighbor search within a visibility partition,
// optionally narrowed to one document. The pgvector distance is folded into
// a descending relevance score.
func (c *Client) SearchChunks(ctx context.Context, visibility models.Visibility, documentID string, queryVec []float32, limit int) ([]retriever.Candidate, error) {
	q := `SELECT ` + chunkColumns + `, embedding <-> $2 AS distance
		FROM document_chunks
		WHERE visibility = $1
		  AND embedding IS NOT NULL
		  AND ($3 = '' OR document_id::text = $3)
		ORDER BY embedding <-> $2
		LIMIT $4`

	vec := pgvector.NewVector(queryVec)
	rows, err := c.db.QueryContext(ctx, q, visibility, vec, documentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []retriever.Candidate
	for rows.Next() {
		var (
			ch       models.DocumentChunk
			keywords []byte
			distance float64
		)
		if err := rows.Scan(
			&ch.ID, &ch.DocumentID, &ch.Visibility, &ch.ChunkIndex, &ch.Content,
			&ch.TokenCount, &ch.SectionTitle, &ch.Summary, &keywords,
			&ch.StartChar, &ch.EndChar, &ch.PageNumber, &ch.CreatedAt, &distance,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(keywords, &ch.Keywords); err != nil {
			return nil, fmt.Errorf("unmarshal keywords for %s: %w", ch.ID, err)
		}
		out = append(out, retriever.Candidate{Chunk: ch, Score: 1 / (1 + distance)})
	}
	return out, rows.Err()
}

func collectChunks(rows *sql.Rows) ([]models.DocumentChunk, error) {
	var out []models.DocumentChunk
	for rows.Next() {
		var (
			ch       models.DocumentChunk
			keywords []byte
		)
		if err := rows.Scan(
			&ch.ID, &ch.DocumentID, &ch.Visibility, &ch.ChunkIndex, &ch.Content,
			&ch.TokenCount, &ch.SectionTitle, &ch.Summary, &keywords,
			&ch.StartChar, &ch.EndChar, &ch.PageNumber, &ch.CreatedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(keywords, &ch.Keywords); err != nil {
			return nil, fmt.Errorf("unmarshal keywords for %s: %w", ch.ID, err)
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}
