// Package store implements the relational data model for the retrieval
// engine: collections, sources, documents, chunks, and the embedding
// request audit log, over PostgreSQL with pgvector.
//
// Ownership is a strict containment tree (collection → source → document
// → chunk) and every owner-facing query carries the owner predicate, so a
// missing row and an unauthorized row are indistinguishable (ErrNotFound).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
)

// Store provides database operations for the retrieval engine.
// Safe for concurrent use; pgxpool handles connection management.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Store over an existing pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// NewPool opens a pgx pool with pgvector types registered on every
// connection, so []float32 round-trips through the vector column type.
func NewPool(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// FindOrCreateCollection returns the owner's collection by name, creating
// it with the given dimension when absent. The dimension of an existing
// collection is never mutated; changing it means recreating the
// collection.
func (s *Store) FindOrCreateCollection(ctx context.Context, ownerID uuid.UUID, name string, dimension int) (*Collection, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: collection name must not be empty", ErrValidation)
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: embedding dimension must be positive, got %d", ErrValidation, dimension)
	}

	// ON CONFLICT DO UPDATE with a no-op assignment so RETURNING fires on
	// both paths. The existing dimension wins.
	const q = `
		INSERT INTO collections (owner_id, name, embedding_dimension)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner_id, name) DO UPDATE SET updated_at = now()
		RETURNING id, owner_id, name, embedding_dimension, created_at, updated_at`

	var c Collection
	err := s.pool.QueryRow(ctx, q, ownerID, name, dimension).Scan(
		&c.ID, &c.OwnerID, &c.Name, &c.EmbeddingDimension, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("find-or-create collection %q: %w", name, err)
	}
	return &c, nil
}

// GetCollection fetches an owner's collection. Missing and foreign-owned
// both return ErrNotFound.
func (s *Store) GetCollection(ctx context.Context, collectionID, ownerID uuid.UUID) (*Collection, error) {
	const q = `
		SELECT id, owner_id, name, embedding_dimension, created_at, updated_at
		FROM collections WHERE id = $1 AND owner_id = $2`

	var c Collection
	err := s.pool.QueryRow(ctx, q, collectionID, ownerID).Scan(
		&c.ID, &c.OwnerID, &c.Name, &c.EmbeddingDimension, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get collection: %w", err)
	}
	return &c, nil
}

// GetCollectionAny fetches a collection without owner scoping. Used where
// eligibility is decided per document (shared-space search), not per
// collection.
func (s *Store) GetCollectionAny(ctx context.Context, collectionID uuid.UUID) (*Collection, error) {
	const q = `
		SELECT id, owner_id, name, embedding_dimension, created_at, updated_at
		FROM collections WHERE id = $1`

	var c Collection
	err := s.pool.QueryRow(ctx, q, collectionID).Scan(
		&c.ID, &c.OwnerID, &c.Name, &c.EmbeddingDimension, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get collection: %w", err)
	}
	return &c, nil
}

// GetCollectionForDocument resolves the collection a document belongs to,
// which fixes the embedding dimension for its chunks.
func (s *Store) GetCollectionForDocument(ctx context.Context, documentID uuid.UUID) (*Collection, error) {
	const q = `
		SELECT c.id, c.owner_id, c.name, c.embedding_dimension, c.created_at, c.updated_at
		FROM collections c
		JOIN sources s ON s.collection_id = c.id
		JOIN documents d ON d.source_id = s.id
		WHERE d.id = $1`

	var c Collection
	err := s.pool.QueryRow(ctx, q, documentID).Scan(
		&c.ID, &c.OwnerID, &c.Name, &c.EmbeddingDimension, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get collection for document: %w", err)
	}
	return &c, nil
}

// ListCollections returns all collections owned by ownerID, newest first.
func (s *Store) ListCollections(ctx context.Context, ownerID uuid.UUID) ([]Collection, error) {
	const q = `
		SELECT id, owner_id, name, embedding_dimension, created_at, updated_at
		FROM collections WHERE owner_id = $1 ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, q, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	var out []Collection
	for rows.Next() {
		var c Collection
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Name, &c.EmbeddingDimension, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteCollection removes an owner's collection; sources, documents and
// chunks cascade at the schema level.
func (s *Store) DeleteCollection(ctx context.Context, collectionID, ownerID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM collections WHERE id = $1 AND owner_id = $2`, collectionID, ownerID)
	if err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	s.logger.Debug("deleted collection", "collection_id", collectionID)
	return nil
}

// FindOrCreateSource returns the named source within a collection,
// creating it on first use. The unique key heals races: concurrent
// creators converge on one row.
func (s *Store) FindOrCreateSource(ctx context.Context, collectionID, ownerID uuid.UUID, name, sourceType string) (*Source, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: source name must not be empty", ErrValidation)
	}
	if sourceType == "" {
		sourceType = "manual"
	}

	const q = `
		INSERT INTO sources (collection_id, owner_id, name, source_type)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (collection_id, owner_id, name) DO UPDATE SET updated_at = now()
		RETURNING id, collection_id, owner_id, name, source_type, created_at, updated_at`

	var src Source
	err := s.pool.QueryRow(ctx, q, collectionID, ownerID, name, sourceType).Scan(
		&src.ID, &src.CollectionID, &src.OwnerID, &src.Name, &src.SourceType, &src.CreatedAt, &src.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("find-or-create source %q: %w", name, err)
	}
	return &src, nil
}

// marshalMetadata serializes a metadata map for the JSONB column. A nil
// map stores as the empty object so the column stays non-null.
func marshalMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return b, nil
}

// unmarshalMetadata parses the JSONB column, logging and substituting an
// empty map on corruption rather than failing the read.
func (s *Store) unmarshalMetadata(raw []byte, id uuid.UUID) map[string]string {
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		s.logger.Warn("failed to parse metadata", "id", id, "error", err)
		return map[string]string{}
	}
	if m == nil {
		m = map[string]string{}
	}
	return m
}
