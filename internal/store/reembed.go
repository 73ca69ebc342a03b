package store

import (
	"context"
	"fmt"
)

// ClearAllEmbeddings nulls every chunk embedding and resets every embedded
// document to pending, as a single transaction. Concurrent searches see
// either the fully-old or fully-cleared corpus, never a mix. Idempotent:
// a second call reports zero rows touched.
func (s *Store) ClearAllEmbeddings(ctx context.Context) (chunksCleared, documentsReset int64, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("begin clear embeddings: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	chunkTag, err := tx.Exec(ctx, `
		UPDATE chunks SET embedding = NULL, updated_at = now()
		WHERE embedding IS NOT NULL`)
	if err != nil {
		return 0, 0, fmt.Errorf("clear chunk embeddings: %w", err)
	}

	docTag, err := tx.Exec(ctx, `
		UPDATE documents SET status = 'pending', error_message = NULL, updated_at = now()
		WHERE status = 'embedded'`)
	if err != nil {
		return 0, 0, fmt.Errorf("reset document status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("commit clear embeddings: %w", err)
	}

	chunksCleared = chunkTag.RowsAffected()
	documentsReset = docTag.RowsAffected()
	s.logger.Info("cleared all embeddings",
		"chunks_cleared", chunksCleared,
		"documents_reset", documentsReset)
	return chunksCleared, documentsReset, nil
}

// ListDocumentsForReembedding pages through pending documents that were
// embedded before (nonzero historical chunk_count), oldest first. The
// pending status itself is the resumption checkpoint: an interrupted
// rebuild picks up exactly the documents still listed here.
func (s *Store) ListDocumentsForReembedding(ctx context.Context, limit, offset int) ([]Document, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", ErrValidation, limit)
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: offset must not be negative, got %d", ErrValidation, offset)
	}

	q := fmt.Sprintf(`
		SELECT %s FROM documents
		WHERE status = 'pending' AND chunk_count > 0
		ORDER BY created_at
		LIMIT $1 OFFSET $2`, documentColumns)

	rows, err := s.pool.Query(ctx, q, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list documents for re-embedding: %w", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var d Document
		var rawMeta []byte
		if err := rows.Scan(&d.ID, &d.SourceID, &d.OwnerID, &d.Content, &d.ContentHash,
			&d.Status, &d.ChunkCount, &d.ErrorMessage, &rawMeta, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		d.Metadata = s.unmarshalMetadata(rawMeta, d.ID)
		out = append(out, d)
	}
	return out, rows.Err()
}

// TotalChunkCount is a cheap aggregate for dashboards and re-embedding
// preconditions.
func (s *Store) TotalChunkCount(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return count, nil
}
