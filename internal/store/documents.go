package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

const documentColumns = `id, source_id, owner_id, content, content_hash, status,
	chunk_count, COALESCE(error_message, ''), metadata, created_at, updated_at`

func (s *Store) scanDocument(row pgx.Row) (*Document, error) {
	var d Document
	var rawMeta []byte
	err := row.Scan(&d.ID, &d.SourceID, &d.OwnerID, &d.Content, &d.ContentHash,
		&d.Status, &d.ChunkCount, &d.ErrorMessage, &rawMeta, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan document: %w", err)
	}
	d.Metadata = s.unmarshalMetadata(rawMeta, d.ID)
	return &d, nil
}

// CreateDocument inserts a pending document under a source.
func (s *Store) CreateDocument(ctx context.Context, sourceID, ownerID uuid.UUID, content, contentHash string, metadata map[string]string) (*Document, error) {
	if contentHash == "" {
		return nil, fmt.Errorf("%w: content hash must not be empty", ErrValidation)
	}

	rawMeta, err := marshalMetadata(metadata)
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`
		INSERT INTO documents (source_id, owner_id, content, content_hash, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING %s`, documentColumns)

	return s.scanDocument(s.pool.QueryRow(ctx, q, sourceID, ownerID, content, contentHash, rawMeta))
}

// GetDocument fetches an owner's document.
func (s *Store) GetDocument(ctx context.Context, documentID, ownerID uuid.UUID) (*Document, error) {
	q := fmt.Sprintf(`SELECT %s FROM documents WHERE id = $1 AND owner_id = $2`, documentColumns)
	return s.scanDocument(s.pool.QueryRow(ctx, q, documentID, ownerID))
}

// GetDocumentAny fetches a document without the owner predicate. Reserved
// for the embedding pipeline and ACL self-healing, which authorize
// through other means.
func (s *Store) GetDocumentAny(ctx context.Context, documentID uuid.UUID) (*Document, error) {
	q := fmt.Sprintf(`SELECT %s FROM documents WHERE id = $1`, documentColumns)
	return s.scanDocument(s.pool.QueryRow(ctx, q, documentID))
}

// FindDocumentByMetadata returns the owner's first document whose metadata
// contains the given key/value, used to locate a document by its origin
// entity (e.g. wiki page id).
func (s *Store) FindDocumentByMetadata(ctx context.Context, ownerID uuid.UUID, key, value string) (*Document, error) {
	q := fmt.Sprintf(`
		SELECT %s FROM documents
		WHERE owner_id = $1 AND metadata->>$2 = $3
		ORDER BY created_at LIMIT 1`, documentColumns)
	return s.scanDocument(s.pool.QueryRow(ctx, q, ownerID, key, value))
}

// FindDocumentBySourceAndHash finds a document in a source by its exact
// content hash. Backs the ingest idempotence check for documents without
// an external identity.
func (s *Store) FindDocumentBySourceAndHash(ctx context.Context, sourceID uuid.UUID, contentHash string) (*Document, error) {
	q := fmt.Sprintf(`
		SELECT %s FROM documents
		WHERE source_id = $1 AND content_hash = $2
		ORDER BY created_at LIMIT 1`, documentColumns)
	return s.scanDocument(s.pool.QueryRow(ctx, q, sourceID, contentHash))
}

// UpdateDocumentContent replaces a document's content and resets it to
// pending. Returns changed=false (and no write) when newHash equals the
// stored hash: identical content never triggers re-embedding.
func (s *Store) UpdateDocumentContent(ctx context.Context, documentID uuid.UUID, content, newHash string) (changed bool, doc *Document, err error) {
	doc, err = s.GetDocumentAny(ctx, documentID)
	if err != nil {
		return false, nil, err
	}
	if doc.ContentHash == newHash {
		return false, doc, nil
	}

	q := fmt.Sprintf(`
		UPDATE documents
		SET content = $2, content_hash = $3, status = 'pending',
		    error_message = NULL, updated_at = now()
		WHERE id = $1
		RETURNING %s`, documentColumns)

	doc, err = s.scanDocument(s.pool.QueryRow(ctx, q, documentID, content, newHash))
	if err != nil {
		return false, nil, err
	}
	return true, doc, nil
}

// SetDocumentError records a provider failure: status becomes error and
// the message is stored truncated. No chunk rows are touched.
func (s *Store) SetDocumentError(ctx context.Context, documentID uuid.UUID, message string) error {
	if len(message) > maxErrorMessageLen {
		message = message[:maxErrorMessageLen]
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE documents SET status = 'error', error_message = $2, updated_at = now()
		WHERE id = $1`, documentID, message)
	if err != nil {
		return fmt.Errorf("set document error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDocumentMetadataField backfills a single metadata key. Used by the
// ACL self-healing path; idempotent, and a failure leaves the row as it
// was.
func (s *Store) SetDocumentMetadataField(ctx context.Context, documentID uuid.UUID, key, value string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE documents
		SET metadata = jsonb_set(metadata, ARRAY[$2], to_jsonb($3::text), true),
		    updated_at = now()
		WHERE id = $1`, documentID, key, value)
	if err != nil {
		return fmt.Errorf("set document metadata %q: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceChunks swaps a document's chunk set wholesale and marks it
// embedded, as one transaction. A concurrent reader sees either the old
// chunks with the old status or the new chunks with status embedded and a
// matching chunk_count, never a partial set.
func (s *Store) ReplaceChunks(ctx context.Context, documentID uuid.UUID, chunks []ChunkInsert) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace chunks: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("delete old chunks: %w", err)
	}

	const insert = `
		INSERT INTO chunks (document_id, content, content_hash, position, token_count, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	for _, ch := range chunks {
		rawMeta, err := marshalMetadata(ch.Metadata)
		if err != nil {
			return err
		}
		var embedding any
		if ch.Embedding != nil {
			vec := pgvector.NewVector(ch.Embedding)
			embedding = &vec
		}
		if _, err := tx.Exec(ctx, insert,
			documentID, ch.Content, ch.ContentHash, ch.Position, ch.TokenCount, rawMeta, embedding); err != nil {
			return fmt.Errorf("insert chunk %d: %w", ch.Position, err)
		}
	}

	tag, err := tx.Exec(ctx, `
		UPDATE documents
		SET status = 'embedded', chunk_count = $2, error_message = NULL, updated_at = now()
		WHERE id = $1`, documentID, len(chunks))
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace chunks: %w", err)
	}

	s.logger.Debug("replaced chunks", "document_id", documentID, "chunk_count", len(chunks))
	return nil
}

// ListChunksByDocument returns a document's chunks in position order.
func (s *Store) ListChunksByDocument(ctx context.Context, documentID uuid.UUID) ([]Chunk, error) {
	const q = `
		SELECT id, document_id, content, content_hash, position, token_count,
		       metadata, embedding, created_at, updated_at
		FROM chunks WHERE document_id = $1 ORDER BY position`

	rows, err := s.pool.Query(ctx, q, documentID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var ch Chunk
		var rawMeta []byte
		var vec *pgvector.Vector
		if err := rows.Scan(&ch.ID, &ch.DocumentID, &ch.Content, &ch.ContentHash,
			&ch.Position, &ch.TokenCount, &rawMeta, &vec, &ch.CreatedAt, &ch.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		ch.Metadata = s.unmarshalMetadata(rawMeta, ch.ID)
		if vec != nil {
			ch.Embedding = vec.Slice()
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}
