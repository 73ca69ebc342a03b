package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/lodestone-ai/lodestone/internal/store"
)

const (
	// augmentCandidateLimit caps the raw vector hits fed to the reranker.
	// Rerank cost scales with candidate count, so the pool is bounded no
	// matter how large the corpus is.
	augmentCandidateLimit = 100

	// augmentFinalLimit is the post-rerank context size.
	augmentFinalLimit = 40
)

// AugmentContext assembles broad context for an agent: a cross-collection
// search over everything the user can see (owned plus space-granted),
// reranked down to the final context set. When the candidate pool is
// already no larger than the final set, the rerank is skipped and results
// keep distance order with nil relevance scores.
func (e *Engine) AugmentContext(ctx context.Context, userID uuid.UUID, query string) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query must not be empty", store.ErrValidation)
	}

	spaceIDs, err := e.accessibleSpaces(ctx, userID)
	if err != nil {
		return nil, err
	}

	vec, err := e.embedQuery(ctx, userID, query, e.cfg.ActiveEmbeddingModel().Dimension)
	if err != nil {
		return nil, err
	}

	hits, err := e.repo.SearchChunks(ctx, store.SearchQuery{
		Vector:             vec,
		Limit:              augmentCandidateLimit,
		OwnerID:            userID,
		AccessibleSpaceIDs: spaceIDs,
	})
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return []SearchResult{}, nil
	}

	candidates := toResults(hits)
	if len(candidates) <= augmentFinalLimit {
		return candidates, nil
	}
	return e.Rerank(ctx, query, candidates, augmentFinalLimit), nil
}
