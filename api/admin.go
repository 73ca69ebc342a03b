package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/lodestone-ai/lodestone/internal/engine"
	"github.com/lodestone-ai/lodestone/internal/worker"
)

// adminHandler exposes the re-embedding migration workflow and corpus
// stats. These endpoints assume an operator, not an end user; put them
// behind the deployment's admin boundary.
type adminHandler struct {
	engine *engine.Engine
	worker *worker.Pool
	logger *slog.Logger
}

func newAdminHandler(eng *engine.Engine, w *worker.Pool, logger *slog.Logger) *adminHandler {
	return &adminHandler{engine: eng, worker: w, logger: logger}
}

func (h *adminHandler) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/admin/reembed/clear", h.clearEmbeddings)
	mux.HandleFunc("GET /api/admin/reembed/pending", h.listPending)
	mux.HandleFunc("GET /api/admin/stats", h.stats)
}

type clearResponse struct {
	ChunksCleared  int64 `json:"chunks_cleared"`
	DocumentsReset int64 `json:"documents_reset"`
}

// clearEmbeddings nulls every embedding in the corpus and resets embedded
// documents to pending. Destructive: search returns nothing until the
// corpus is re-embedded.
func (h *adminHandler) clearEmbeddings(w http.ResponseWriter, r *http.Request) {
	chunks, docs, err := h.engine.ClearAllEmbeddings(r.Context())
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, clearResponse{ChunksCleared: chunks, DocumentsReset: docs})
}

type pendingDocument struct {
	ID         uuid.UUID `json:"id"`
	OwnerID    uuid.UUID `json:"owner_id"`
	ChunkCount int       `json:"chunk_count"`
}

// listPending pages the documents still awaiting re-embedding.
func (h *adminHandler) listPending(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	docs, err := h.engine.ListDocumentsForReembedding(r.Context(), limit, offset)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	out := make([]pendingDocument, len(docs))
	for i, d := range docs {
		out[i] = pendingDocument{ID: d.ID, OwnerID: d.OwnerID, ChunkCount: d.ChunkCount}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": out})
}

type statsResponse struct {
	TotalChunks int64 `json:"total_chunks"`
	Running     int   `json:"workers_running"`
}

func (h *adminHandler) stats(w http.ResponseWriter, r *http.Request) {
	total, err := h.engine.TotalChunkCount(r.Context())
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	resp := statsResponse{TotalChunks: total}
	if h.worker != nil {
		resp.Running = h.worker.Running()
	}
	writeJSON(w, http.StatusOK, resp)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
