// Package worker runs background embedding work on a bounded goroutine
// pool. Retry and backoff belong to the caller that enqueues work; the
// pool only executes and records outcomes.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/lodestone-ai/lodestone/internal/store"
)

// reembedPageSize is the page size for the corpus re-embedding walk.
const reembedPageSize = 50

// Embedder is the slice of the engine the pool drives.
type Embedder interface {
	EmbedChunks(ctx context.Context, documentID, userID uuid.UUID) error
	ListDocumentsForReembedding(ctx context.Context, limit, offset int) ([]store.Document, error)
}

// Pool schedules embedding jobs over a fixed-size ants pool.
type Pool struct {
	engine Embedder
	pool   *ants.Pool
	logger *slog.Logger

	// baseCtx bounds fire-and-forget jobs to the pool's lifetime.
	baseCtx context.Context
	cancel  context.CancelFunc
}

// New creates a Pool with the given goroutine capacity.
func New(engine Embedder, size int, logger *slog.Logger) (*Pool, error) {
	if size <= 0 {
		size = 4
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())

	p, err := ants.NewPool(size, ants.WithPanicHandler(func(r any) {
		logger.Error("embed worker panic recovered", "panic", r)
	}))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	return &Pool{engine: engine, pool: p, logger: logger, baseCtx: ctx, cancel: cancel}, nil
}

// EnqueueEmbed schedules one document for embedding, fire-and-forget. The
// outcome lands on the document row (status embedded or error), so the
// caller can poll it; the pool itself never retries.
func (p *Pool) EnqueueEmbed(documentID, userID uuid.UUID) error {
	err := p.pool.Submit(func() {
		if err := p.engine.EmbedChunks(p.baseCtx, documentID, userID); err != nil {
			p.logger.Error("background embed failed",
				"document_id", documentID, "error", err)
			return
		}
		p.logger.Debug("background embed finished", "document_id", documentID)
	})
	if err != nil {
		return fmt.Errorf("enqueue embed for document %s: %w", documentID, err)
	}
	return nil
}

// RunReembed walks every pending document and embeds it with the active
// model, stopping between documents when ctx is cancelled. Documents
// leave the pending set as their chunks are replaced, so paging restarts
// at offset zero after each productive page, and an interrupted run
// resumes by simply running again. Per-document failures are recorded on
// the document and counted, never fatal to the walk; each document is
// attempted at most once per run, so a failure that leaves a document
// pending cannot loop the walk.
func (p *Pool) RunReembed(ctx context.Context) (processed, failed int, err error) {
	attempted := make(map[uuid.UUID]struct{})
	offset := 0

	for {
		if err := ctx.Err(); err != nil {
			return processed, failed, err
		}

		docs, err := p.engine.ListDocumentsForReembedding(ctx, reembedPageSize, offset)
		if err != nil {
			return processed, failed, fmt.Errorf("list pending documents: %w", err)
		}
		if len(docs) == 0 {
			return processed, failed, nil
		}

		advanced := false
		for _, doc := range docs {
			if err := ctx.Err(); err != nil {
				return processed, failed, err
			}
			if _, seen := attempted[doc.ID]; seen {
				continue
			}
			attempted[doc.ID] = struct{}{}
			advanced = true

			if err := p.engine.EmbedChunks(ctx, doc.ID, doc.OwnerID); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return processed, failed, err
				}
				failed++
				p.logger.Error("re-embed failed", "document_id", doc.ID, "error", err)
				continue
			}
			processed++
		}

		if !advanced {
			// The page held only documents that failed earlier this run
			// and stayed pending; look past them.
			offset += reembedPageSize
			continue
		}
		offset = 0
		p.logger.Info("re-embed progress", "processed", processed, "failed", failed)
	}
}

// Running reports the number of in-flight jobs.
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Close stops accepting work, cancels in-flight fire-and-forget jobs, and
// releases the pool.
func (p *Pool) Close() {
	p.cancel()
	p.pool.Release()
}
