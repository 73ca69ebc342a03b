package api

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/lodestone-ai/lodestone/internal/engine"
	"github.com/lodestone-ai/lodestone/internal/worker"
)

// ingestHandler handles document ingestion and collection management.
type ingestHandler struct {
	engine *engine.Engine
	worker *worker.Pool
	logger *slog.Logger
}

func newIngestHandler(eng *engine.Engine, w *worker.Pool, logger *slog.Logger) *ingestHandler {
	return &ingestHandler{engine: eng, worker: w, logger: logger}
}

func (h *ingestHandler) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/ingest", h.ingest)
	mux.HandleFunc("POST /api/ingest/url", h.ingestURL)
	mux.HandleFunc("GET /api/documents/{id}", h.getDocument)
	mux.HandleFunc("GET /api/collections", h.listCollections)
	mux.HandleFunc("DELETE /api/collections/{id}", h.deleteCollection)
}

type ingestRequest struct {
	Collection string            `json:"collection"`
	Source     string            `json:"source,omitempty"`
	SourceType string            `json:"source_type,omitempty"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Dimension  int               `json:"dimension,omitempty"`

	// Sync forces the embedding to complete before the response.
	Sync bool `json:"sync,omitempty"`
}

type ingestResponse struct {
	Outcome    engine.Outcome `json:"outcome"`
	DocumentID uuid.UUID      `json:"document_id"`
	Status     string         `json:"status"`
}

// ingest upserts one document and schedules its embedding. Re-sending
// identical content reports outcome "unchanged" and schedules nothing.
func (h *ingestHandler) ingest(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var req ingestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	outcome, doc, err := h.engine.IngestDocument(r.Context(), engine.IngestInput{
		OwnerID:        userID,
		CollectionName: req.Collection,
		SourceName:     req.Source,
		SourceType:     req.SourceType,
		Content:        req.Content,
		Metadata:       req.Metadata,
		Dimension:      req.Dimension,
	})
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	if outcome != engine.OutcomeUnchanged {
		if err := h.embed(r, doc.ID, userID, req.Sync); err != nil {
			writeDomainError(w, h.logger, err)
			return
		}
	}

	status := http.StatusOK
	if outcome == engine.OutcomeCreated {
		status = http.StatusCreated
	}
	writeJSON(w, status, ingestResponse{
		Outcome:    outcome,
		DocumentID: doc.ID,
		Status:     string(doc.Status),
	})
}

type ingestURLRequest struct {
	URL        string `json:"url"`
	Collection string `json:"collection"`
	Sync       bool   `json:"sync,omitempty"`
}

// ingestURL fetches a page and ingests its text content.
func (h *ingestHandler) ingestURL(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var req ingestURLRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	outcome, doc, err := h.engine.IngestURL(r.Context(), userID, req.URL, req.Collection)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	if outcome != engine.OutcomeUnchanged {
		if err := h.embed(r, doc.ID, userID, req.Sync); err != nil {
			writeDomainError(w, h.logger, err)
			return
		}
	}

	status := http.StatusOK
	if outcome == engine.OutcomeCreated {
		status = http.StatusCreated
	}
	writeJSON(w, status, ingestResponse{
		Outcome:    outcome,
		DocumentID: doc.ID,
		Status:     string(doc.Status),
	})
}

// embed runs the pipeline synchronously or hands it to the worker pool.
func (h *ingestHandler) embed(r *http.Request, documentID, userID uuid.UUID, sync bool) error {
	if sync || h.worker == nil {
		return h.engine.EmbedChunks(r.Context(), documentID, userID)
	}
	return h.worker.EnqueueEmbed(documentID, userID)
}

type documentResponse struct {
	ID           uuid.UUID         `json:"id"`
	Status       string            `json:"status"`
	ChunkCount   int               `json:"chunk_count"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// getDocument reports a document's embedding status, the poll target for
// async ingestion.
func (h *ingestHandler) getDocument(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	docID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed document id")
		return
	}

	doc, err := h.engine.GetDocument(r.Context(), docID, userID)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, documentResponse{
		ID:           doc.ID,
		Status:       string(doc.Status),
		ChunkCount:   doc.ChunkCount,
		ErrorMessage: doc.ErrorMessage,
		Metadata:     doc.Metadata,
	})
}

type collectionResponse struct {
	ID                 uuid.UUID `json:"id"`
	Name               string    `json:"name"`
	EmbeddingDimension int       `json:"embedding_dimension"`
}

func (h *ingestHandler) listCollections(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	cols, err := h.engine.ListCollections(r.Context(), userID)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	out := make([]collectionResponse, len(cols))
	for i, c := range cols {
		out[i] = collectionResponse{ID: c.ID, Name: c.Name, EmbeddingDimension: c.EmbeddingDimension}
	}
	writeJSON(w, http.StatusOK, map[string]any{"collections": out})
}

func (h *ingestHandler) deleteCollection(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	colID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed collection id")
		return
	}

	if err := h.engine.DeleteCollection(r.Context(), colID, userID); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
