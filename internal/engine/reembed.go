package engine

import (
	"context"

	"github.com/lodestone-ai/lodestone/internal/store"
)

// ClearAllEmbeddings nulls every chunk embedding and resets every
// embedded document to pending, all-or-nothing. This is the first step
// of a model migration; until documents are re-embedded, search returns
// nothing. Running it twice is harmless.
func (e *Engine) ClearAllEmbeddings(ctx context.Context) (chunksCleared, documentsReset int64, err error) {
	chunksCleared, documentsReset, err = e.repo.ClearAllEmbeddings(ctx)
	if err != nil {
		return 0, 0, err
	}
	e.logger.Warn("cleared all embeddings",
		"chunks_cleared", chunksCleared, "documents_reset", documentsReset)
	return chunksCleared, documentsReset, nil
}

// ListDocumentsForReembedding pages through documents awaiting
// re-embedding. Resumption is free: a document leaves the pending set
// the moment its chunks are replaced, so restarting the walk from offset
// zero never repeats completed work.
func (e *Engine) ListDocumentsForReembedding(ctx context.Context, limit, offset int) ([]store.Document, error) {
	return e.repo.ListDocumentsForReembedding(ctx, limit, offset)
}

// TotalChunkCount reports corpus size for migration progress estimates.
func (e *Engine) TotalChunkCount(ctx context.Context) (int64, error) {
	return e.repo.TotalChunkCount(ctx)
}
