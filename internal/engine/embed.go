package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/lodestone-ai/lodestone/internal/provider"
	"github.com/lodestone-ai/lodestone/internal/store"
)

// EmbedChunks runs the embedding pipeline for one document: split the
// current content, embed every piece in one queue submission, and replace
// the document's chunks atomically. On provider failure the document is
// marked errored with the provider message and the error is returned; the
// old chunks stay untouched.
//
// A document with no splittable content is marked embedded with zero
// chunks and never reaches the provider.
func (e *Engine) EmbedChunks(ctx context.Context, documentID, userID uuid.UUID) error {
	doc, err := e.repo.GetDocument(ctx, documentID, userID)
	if err != nil {
		return err
	}

	col, err := e.repo.GetCollectionForDocument(ctx, doc.ID)
	if err != nil {
		return err
	}

	pieces := e.splitter.Split(doc.Content)
	if len(pieces) == 0 {
		return e.repo.ReplaceChunks(ctx, doc.ID, nil)
	}

	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Content
	}

	model := e.cfg.ActiveEmbeddingModel()
	res, err := e.queue.Submit(ctx, doc.OwnerID, provider.EmbedRequest{
		Texts:     texts,
		InputType: provider.InputTypeSearchDocument,
		Model:     model.ID,
		Dimension: col.EmbeddingDimension,
	})
	if err != nil {
		return e.failEmbed(ctx, doc.ID, fmt.Errorf("embed document %s: %w", doc.ID, err))
	}
	if len(res.Vectors) != len(pieces) {
		return e.failEmbed(ctx, doc.ID, fmt.Errorf("%w: got %d vectors for %d chunks",
			provider.ErrProvider, len(res.Vectors), len(pieces)))
	}

	inserts := make([]store.ChunkInsert, len(pieces))
	for i, p := range pieces {
		vec := res.Vectors[i]
		if len(vec) != col.EmbeddingDimension {
			return e.failEmbed(ctx, doc.ID, fmt.Errorf("%w: chunk %d has %d dimensions, collection %q expects %d",
				ErrDimensionMismatch, p.Position, len(vec), col.Name, col.EmbeddingDimension))
		}
		inserts[i] = store.ChunkInsert{
			Content:     p.Content,
			ContentHash: provider.ContentHash(p.Content),
			Position:    p.Position,
			TokenCount:  p.TokenCount,
			Embedding:   vec,
		}
	}

	if err := e.repo.ReplaceChunks(ctx, doc.ID, inserts); err != nil {
		return err
	}

	e.logger.Info("document embedded",
		"document_id", doc.ID, "chunks", len(inserts), "model", model.ID)
	return nil
}

// failEmbed records the failure on the document and passes the cause up.
// The recording itself is best-effort: the original error always wins.
func (e *Engine) failEmbed(ctx context.Context, documentID uuid.UUID, cause error) error {
	if err := e.repo.SetDocumentError(ctx, documentID, cause.Error()); err != nil {
		e.logger.Error("failed to record embed error",
			"document_id", documentID, "error", err)
	}
	return cause
}
