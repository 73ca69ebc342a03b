package api

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/lodestone-ai/lodestone/internal/engine"
)

// searchHandler handles retrieval endpoints.
type searchHandler struct {
	engine *engine.Engine
	logger *slog.Logger
}

func newSearchHandler(eng *engine.Engine, logger *slog.Logger) *searchHandler {
	return &searchHandler{engine: eng, logger: logger}
}

func (h *searchHandler) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/search", h.search)
	mux.HandleFunc("POST /api/search/rerank", h.searchAndRerank)
	mux.HandleFunc("POST /api/augment", h.augment)
}

type searchRequest struct {
	CollectionID uuid.UUID `json:"collection_id"`
	Query        string    `json:"query"`
	Limit        int       `json:"limit,omitempty"`
	TopN         int       `json:"top_n,omitempty"`

	// Accessible widens scoping from owned-only to owned plus
	// space-shared content.
	Accessible bool `json:"accessible,omitempty"`
}

type searchHit struct {
	ChunkID        uuid.UUID         `json:"chunk_id"`
	DocumentID     uuid.UUID         `json:"document_id"`
	Content        string            `json:"content"`
	Position       int               `json:"position"`
	Distance       float64           `json:"distance"`
	RelevanceScore *float64          `json:"relevance_score,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

type searchResponse struct {
	Hits []searchHit `json:"hits"`
}

func (h *searchHandler) search(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	var results []engine.SearchResult
	if req.Accessible {
		results, err = h.engine.SearchAccessible(r.Context(), req.CollectionID, userID, req.Query, req.Limit)
	} else {
		results, err = h.engine.Search(r.Context(), req.CollectionID, userID, req.Query, req.Limit)
	}
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toSearchResponse(results))
}

func (h *searchHandler) searchAndRerank(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	results, err := h.engine.SearchAndRerank(r.Context(), req.CollectionID, userID, req.Query, req.Limit, req.TopN)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toSearchResponse(results))
}

type augmentRequest struct {
	Query string `json:"query"`
}

func (h *searchHandler) augment(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var req augmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	results, err := h.engine.AugmentContext(r.Context(), userID, req.Query)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toSearchResponse(results))
}

func toSearchResponse(results []engine.SearchResult) searchResponse {
	hits := make([]searchHit, len(results))
	for i, res := range results {
		hits[i] = searchHit{
			ChunkID:        res.Chunk.ID,
			DocumentID:     res.Chunk.DocumentID,
			Content:        res.Chunk.Content,
			Position:       res.Chunk.Position,
			Distance:       res.Distance,
			RelevanceScore: res.RelevanceScore,
			Metadata:       res.Chunk.Metadata,
		}
	}
	return searchResponse{Hits: hits}
}
