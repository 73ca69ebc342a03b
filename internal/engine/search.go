package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/lodestone-ai/lodestone/internal/authz"
	"github.com/lodestone-ai/lodestone/internal/store"
)

// defaultSearchLimit caps searches that pass a non-positive limit.
const defaultSearchLimit = 10

// SearchResult is one retrieved chunk. Distance is the cosine distance to
// the query; RelevanceScore is the reranker's judgment and stays nil
// whenever the rerank stage was skipped or fell back.
type SearchResult struct {
	Chunk          store.Chunk
	Distance       float64
	RelevanceScore *float64
}

// Search runs an owner-scoped nearest-neighbor search over one
// collection. Only chunks of documents the user owns are eligible. A
// query embedding failure fails the search; there is no degraded mode
// without a query vector.
func (e *Engine) Search(ctx context.Context, collectionID, userID uuid.UUID, query string, limit int) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query must not be empty", store.ErrValidation)
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	col, err := e.repo.GetCollection(ctx, collectionID, userID)
	if err != nil {
		return nil, err
	}

	vec, err := e.embedQuery(ctx, userID, query, col.EmbeddingDimension)
	if err != nil {
		return nil, err
	}

	hits, err := e.repo.SearchChunks(ctx, store.SearchQuery{
		Vector:       vec,
		Limit:        limit,
		OwnerID:      userID,
		CollectionID: &collectionID,
	})
	if err != nil {
		return nil, err
	}
	return toResults(hits), nil
}

// SearchAccessible widens eligibility to shared content: a chunk matches
// when the user owns its document, or the document's space_id metadata
// points at a space the user holds a grant on. Users with no grants fall
// back to owner-only scoping.
func (e *Engine) SearchAccessible(ctx context.Context, collectionID, userID uuid.UUID, query string, limit int) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query must not be empty", store.ErrValidation)
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	// Shared documents may live in a foreign-owned collection, so the
	// dimension lookup cannot be owner-scoped here.
	col, err := e.repo.GetCollectionAny(ctx, collectionID)
	if err != nil {
		return nil, err
	}

	spaceIDs, err := e.accessibleSpaces(ctx, userID)
	if err != nil {
		return nil, err
	}

	vec, err := e.embedQuery(ctx, userID, query, col.EmbeddingDimension)
	if err != nil {
		return nil, err
	}

	hits, err := e.repo.SearchChunks(ctx, store.SearchQuery{
		Vector:             vec,
		Limit:              limit,
		OwnerID:            userID,
		CollectionID:       &collectionID,
		AccessibleSpaceIDs: spaceIDs,
	})
	if err != nil {
		return nil, err
	}
	return toResults(hits), nil
}

// SearchAndRerank is SearchAccessible followed by the rerank stage. An
// empty retrieval short-circuits before the reranker is consulted.
func (e *Engine) SearchAndRerank(ctx context.Context, collectionID, userID uuid.UUID, query string, limit, topN int) ([]SearchResult, error) {
	results, err := e.SearchAccessible(ctx, collectionID, userID, query, limit)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return []SearchResult{}, nil
	}
	return e.Rerank(ctx, query, results, topN), nil
}

// Rerank reorders candidates by provider-judged relevance. The provider's
// ordering is trusted as returned. Any rerank failure, including having
// no reranker configured, degrades to the first topN candidates by
// distance with nil relevance scores; rerank never fails a retrieval
// that already has candidates.
func (e *Engine) Rerank(ctx context.Context, query string, candidates []SearchResult, topN int) []SearchResult {
	if topN <= 0 || topN > len(candidates) {
		topN = len(candidates)
	}
	if len(candidates) == 0 {
		return []SearchResult{}
	}
	if e.reranker == nil {
		return candidates[:topN]
	}

	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Chunk.Content
	}

	rankings, err := e.reranker.Rerank(ctx, query, docs, topN)
	if err != nil {
		e.logger.Warn("rerank failed, falling back to distance order",
			"reranker", e.reranker.Name(), "candidates", len(candidates), "error", err)
		return candidates[:topN]
	}

	out := make([]SearchResult, 0, len(rankings))
	for _, r := range rankings {
		if r.Index < 0 || r.Index >= len(candidates) {
			e.logger.Warn("reranker returned out-of-range index",
				"index", r.Index, "candidates", len(candidates))
			continue
		}
		res := candidates[r.Index]
		score := r.RelevanceScore
		res.RelevanceScore = &score
		out = append(out, res)
	}
	// Providers are not trusted to honor topN.
	if len(out) > topN {
		out = out[:topN]
	}
	return out
}

// accessibleSpaces lists the grant-bearing space ids for the user as
// strings, ready for the metadata join. Nil authorizer means no shared
// visibility.
func (e *Engine) accessibleSpaces(ctx context.Context, userID uuid.UUID) ([]string, error) {
	if e.authz == nil {
		return nil, nil
	}
	ids, err := e.authz.AccessibleEntityIDs(ctx, authz.EntityTypeSpace, userID)
	if err != nil {
		return nil, fmt.Errorf("list accessible spaces: %w", err)
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out, nil
}

func toResults(hits []store.SearchHit) []SearchResult {
	out := make([]SearchResult, len(hits))
	for i, h := range hits {
		out[i] = SearchResult{Chunk: h.Chunk, Distance: h.Distance}
	}
	return out
}
