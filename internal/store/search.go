package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// SearchQuery describes one nearest-neighbor query. The same base query
// serves every search variant; scoping differs only in the eligibility
// predicate, so ACL-filtered and owner-only search share one
// implementation.
type SearchQuery struct {
	// Vector is the query embedding.
	Vector []float32

	// Limit caps the number of hits.
	Limit int

	// OwnerID is the requesting tenant. A chunk is always eligible when
	// its document is owned by OwnerID.
	OwnerID uuid.UUID

	// CollectionID restricts the search to one collection. Nil spans every
	// visible collection whose dimension matches the query vector.
	CollectionID *uuid.UUID

	// AccessibleSpaceIDs widens eligibility to documents whose metadata
	// space_id pointer is in the set. Empty means owner-only.
	AccessibleSpaceIDs []string
}

// SearchChunks runs a cosine-distance nearest-neighbor query. Results are
// ordered by ascending distance with document id as the stable tie-break;
// chunks with a null embedding are never returned.
func (s *Store) SearchChunks(ctx context.Context, q SearchQuery) ([]SearchHit, error) {
	if len(q.Vector) == 0 {
		return nil, fmt.Errorf("%w: query vector must not be empty", ErrValidation)
	}
	if q.Limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", ErrValidation, q.Limit)
	}

	vec := pgvector.NewVector(q.Vector)
	args := []any{&vec, q.OwnerID}

	var sb strings.Builder
	sb.WriteString(`
		SELECT ch.id, ch.document_id, ch.content, ch.content_hash, ch.position,
		       ch.token_count, ch.metadata, ch.created_at, ch.updated_at,
		       ch.embedding <=> $1 AS distance
		FROM chunks ch
		JOIN documents d ON d.id = ch.document_id
		JOIN sources s ON s.id = d.source_id
		JOIN collections c ON c.id = s.collection_id
		WHERE ch.embedding IS NOT NULL`)

	if q.CollectionID != nil {
		args = append(args, *q.CollectionID)
		fmt.Fprintf(&sb, " AND s.collection_id = $%d", len(args))
	} else {
		// A cross-collection scan may reach collections embedded at a
		// different dimension; pgvector cannot compare vectors of unequal
		// length, so those collections are excluded rather than erroring
		// the whole query.
		args = append(args, len(q.Vector))
		fmt.Fprintf(&sb, " AND c.embedding_dimension = $%d", len(args))
	}

	if len(q.AccessibleSpaceIDs) > 0 {
		args = append(args, q.AccessibleSpaceIDs)
		fmt.Fprintf(&sb, " AND (d.owner_id = $2 OR d.metadata->>'space_id' = ANY($%d))", len(args))
	} else {
		sb.WriteString(" AND d.owner_id = $2")
	}

	args = append(args, q.Limit)
	fmt.Fprintf(&sb, " ORDER BY distance, ch.document_id LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var hit SearchHit
		var rawMeta []byte
		if err := rows.Scan(&hit.Chunk.ID, &hit.Chunk.DocumentID, &hit.Chunk.Content,
			&hit.Chunk.ContentHash, &hit.Chunk.Position, &hit.Chunk.TokenCount,
			&rawMeta, &hit.Chunk.CreatedAt, &hit.Chunk.UpdatedAt, &hit.Distance); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		hit.Chunk.Metadata = s.unmarshalMetadata(rawMeta, hit.Chunk.ID)
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}
