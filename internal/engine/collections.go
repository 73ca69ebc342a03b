package engine

import (
	"context"

	"github.com/google/uuid"

	"github.com/lodestone-ai/lodestone/internal/store"
)

// ListCollections returns the user's collections.
func (e *Engine) ListCollections(ctx context.Context, userID uuid.UUID) ([]store.Collection, error) {
	return e.repo.ListCollections(ctx, userID)
}

// DeleteCollection removes a collection the user owns, cascading to its
// sources, documents and chunks.
func (e *Engine) DeleteCollection(ctx context.Context, collectionID, userID uuid.UUID) error {
	return e.repo.DeleteCollection(ctx, collectionID, userID)
}

// GetDocument returns one of the user's documents.
func (e *Engine) GetDocument(ctx context.Context, documentID, userID uuid.UUID) (*store.Document, error) {
	return e.repo.GetDocument(ctx, documentID, userID)
}
