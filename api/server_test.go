package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/lodestone-ai/lodestone/internal/config"
	"github.com/lodestone-ai/lodestone/internal/engine"
	"github.com/lodestone-ai/lodestone/internal/log"
	"github.com/lodestone-ai/lodestone/internal/provider"
	"github.com/lodestone-ai/lodestone/internal/store"
)

// memRepo is a minimal in-memory engine.Repository for handler tests.
type memRepo struct {
	collections map[uuid.UUID]*store.Collection
	sources     map[string]*store.Source
	documents   map[uuid.UUID]*store.Document
	chunks      map[uuid.UUID][]store.ChunkInsert
	searchHits  []store.SearchHit
	totalChunks int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		collections: make(map[uuid.UUID]*store.Collection),
		sources:     make(map[string]*store.Source),
		documents:   make(map[uuid.UUID]*store.Document),
		chunks:      make(map[uuid.UUID][]store.ChunkInsert),
	}
}

func (r *memRepo) FindOrCreateCollection(_ context.Context, ownerID uuid.UUID, name string, dimension int) (*store.Collection, error) {
	for _, c := range r.collections {
		if c.OwnerID == ownerID && c.Name == name {
			return c, nil
		}
	}
	c := &store.Collection{ID: uuid.New(), OwnerID: ownerID, Name: name, EmbeddingDimension: dimension}
	r.collections[c.ID] = c
	return c, nil
}

func (r *memRepo) GetCollection(_ context.Context, collectionID, ownerID uuid.UUID) (*store.Collection, error) {
	c, ok := r.collections[collectionID]
	if !ok || c.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	return c, nil
}

func (r *memRepo) GetCollectionAny(_ context.Context, collectionID uuid.UUID) (*store.Collection, error) {
	c, ok := r.collections[collectionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c, nil
}

func (r *memRepo) GetCollectionForDocument(_ context.Context, documentID uuid.UUID) (*store.Collection, error) {
	if _, ok := r.documents[documentID]; !ok {
		return nil, store.ErrNotFound
	}
	for _, c := range r.collections {
		return c, nil
	}
	return nil, store.ErrNotFound
}

func (r *memRepo) ListCollections(_ context.Context, ownerID uuid.UUID) ([]store.Collection, error) {
	var out []store.Collection
	for _, c := range r.collections {
		if c.OwnerID == ownerID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *memRepo) DeleteCollection(_ context.Context, collectionID, ownerID uuid.UUID) error {
	c, ok := r.collections[collectionID]
	if !ok || c.OwnerID != ownerID {
		return store.ErrNotFound
	}
	delete(r.collections, collectionID)
	return nil
}

func (r *memRepo) FindOrCreateSource(_ context.Context, collectionID, ownerID uuid.UUID, name, sourceType string) (*store.Source, error) {
	key := collectionID.String() + "/" + name
	if s, ok := r.sources[key]; ok {
		return s, nil
	}
	s := &store.Source{ID: uuid.New(), CollectionID: collectionID, OwnerID: ownerID, Name: name, SourceType: sourceType}
	r.sources[key] = s
	return s, nil
}

func (r *memRepo) CreateDocument(_ context.Context, sourceID, ownerID uuid.UUID, content, contentHash string, metadata map[string]string) (*store.Document, error) {
	d := &store.Document{
		ID: uuid.New(), SourceID: sourceID, OwnerID: ownerID,
		Content: content, ContentHash: contentHash,
		Status: store.StatusPending, Metadata: metadata,
	}
	r.documents[d.ID] = d
	return d, nil
}

func (r *memRepo) GetDocument(_ context.Context, documentID, ownerID uuid.UUID) (*store.Document, error) {
	d, ok := r.documents[documentID]
	if !ok || d.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	return d, nil
}

func (r *memRepo) GetDocumentAny(_ context.Context, documentID uuid.UUID) (*store.Document, error) {
	d, ok := r.documents[documentID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return d, nil
}

func (r *memRepo) FindDocumentByMetadata(_ context.Context, ownerID uuid.UUID, key, value string) (*store.Document, error) {
	for _, d := range r.documents {
		if d.OwnerID == ownerID && d.Metadata[key] == value {
			return d, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *memRepo) FindDocumentBySourceAndHash(_ context.Context, sourceID uuid.UUID, contentHash string) (*store.Document, error) {
	for _, d := range r.documents {
		if d.SourceID == sourceID && d.ContentHash == contentHash {
			return d, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *memRepo) UpdateDocumentContent(_ context.Context, documentID uuid.UUID, content, newHash string) (bool, *store.Document, error) {
	d, ok := r.documents[documentID]
	if !ok {
		return false, nil, store.ErrNotFound
	}
	if d.ContentHash == newHash {
		return false, d, nil
	}
	d.Content = content
	d.ContentHash = newHash
	d.Status = store.StatusPending
	return true, d, nil
}

func (r *memRepo) SetDocumentError(_ context.Context, documentID uuid.UUID, message string) error {
	if d, ok := r.documents[documentID]; ok {
		d.Status = store.StatusError
		d.ErrorMessage = message
	}
	return nil
}

func (r *memRepo) SetDocumentMetadataField(_ context.Context, documentID uuid.UUID, key, value string) error {
	d, ok := r.documents[documentID]
	if !ok {
		return store.ErrNotFound
	}
	d.Metadata[key] = value
	return nil
}

func (r *memRepo) ReplaceChunks(_ context.Context, documentID uuid.UUID, chunks []store.ChunkInsert) error {
	d, ok := r.documents[documentID]
	if !ok {
		return store.ErrNotFound
	}
	r.chunks[documentID] = chunks
	d.Status = store.StatusEmbedded
	d.ChunkCount = len(chunks)
	return nil
}

func (r *memRepo) SearchChunks(_ context.Context, _ store.SearchQuery) ([]store.SearchHit, error) {
	return r.searchHits, nil
}

func (r *memRepo) ClearAllEmbeddings(_ context.Context) (int64, int64, error) {
	return 12, 3, nil
}

func (r *memRepo) ListDocumentsForReembedding(_ context.Context, _, _ int) ([]store.Document, error) {
	var out []store.Document
	for _, d := range r.documents {
		if d.Status == store.StatusPending {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (r *memRepo) TotalChunkCount(_ context.Context) (int64, error) {
	return r.totalChunks, nil
}

// memQueue answers every embed request with fill vectors.
type memQueue struct{}

func (q *memQueue) Submit(_ context.Context, _ uuid.UUID, req provider.EmbedRequest) (*provider.EmbedResult, error) {
	vectors := make([][]float32, len(req.Texts))
	for i := range vectors {
		v := make([]float32, req.Dimension)
		for j := range v {
			v[j] = 0.5
		}
		vectors[i] = v
	}
	return &provider.EmbedResult{Vectors: vectors, Model: req.Model}, nil
}

func testServer(t *testing.T, repo *memRepo) http.Handler {
	t.Helper()

	cfg := &config.Config{
		Provider:           config.ProviderOpenAI,
		EmbeddingModelID:   "test-model",
		EmbeddingDimension: 4,
		ChunkSize:          200,
		ChunkOverlap:       20,
	}
	eng, err := engine.New(engine.Options{
		Repo:   repo,
		Queue:  &memQueue{},
		Config: cfg,
		Logger: log.NewNop(),
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	// No worker: ingestion embeds synchronously, which keeps assertions
	// deterministic. RateBurst large enough that tests never trip it.
	srv := NewServer(ServerConfig{
		Engine:    eng,
		Logger:    log.NewNop(),
		RateBurst: 1000,
	})
	return srv.Handler()
}

func doJSON(t *testing.T, h http.Handler, method, path string, userID uuid.UUID, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != uuid.Nil {
		req.Header.Set(userIDHeader, userID.String())
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	h := testServer(t, newMemRepo())

	rec := doJSON(t, h, http.MethodGet, "/health", uuid.Nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("/health = %d", rec.Code)
	}

	// No pool wired: readiness must fail, not panic.
	rec = doJSON(t, h, http.MethodGet, "/ready", uuid.Nil, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/ready without pool = %d, want 503", rec.Code)
	}
}

func TestIngestRequiresUser(t *testing.T) {
	h := testServer(t, newMemRepo())

	rec := doJSON(t, h, http.MethodPost, "/api/ingest", uuid.Nil, ingestRequest{
		Collection: "kb", Content: "hello",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing user = %d, want 400", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/ingest", bytes.NewBufferString("{}"))
	req.Header.Set(userIDHeader, "not-a-uuid")
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusBadRequest {
		t.Errorf("malformed user = %d, want 400", rec2.Code)
	}
}

func TestIngestSyncFlow(t *testing.T) {
	repo := newMemRepo()
	h := testServer(t, repo)
	user := uuid.New()

	rec := doJSON(t, h, http.MethodPost, "/api/ingest", user, ingestRequest{
		Collection: "kb",
		Content:    "some document content",
		Sync:       true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("ingest = %d, body %s", rec.Code, rec.Body.String())
	}

	resp := decodeBody[ingestResponse](t, rec)
	if resp.Outcome != engine.OutcomeCreated {
		t.Errorf("outcome = %s, want created", resp.Outcome)
	}
	if resp.Status != string(store.StatusEmbedded) {
		t.Errorf("status = %s, want embedded after sync ingest", resp.Status)
	}

	// Poll endpoint agrees.
	rec = doJSON(t, h, http.MethodGet, "/api/documents/"+resp.DocumentID.String(), user, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get document = %d", rec.Code)
	}
	doc := decodeBody[documentResponse](t, rec)
	if doc.Status != string(store.StatusEmbedded) || doc.ChunkCount == 0 {
		t.Errorf("document = %+v", doc)
	}
}

func TestIngestValidation(t *testing.T) {
	h := testServer(t, newMemRepo())
	user := uuid.New()

	rec := doJSON(t, h, http.MethodPost, "/api/ingest", user, ingestRequest{
		Collection: "", Content: "text",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty collection = %d, want 400", rec.Code)
	}
	resp := decodeBody[ErrorResponse](t, rec)
	if resp.Error != "validation_error" {
		t.Errorf("error code = %s", resp.Error)
	}

	// Unknown JSON fields are rejected.
	rec = doJSON(t, h, http.MethodPost, "/api/ingest", user, map[string]any{
		"collection": "kb", "content": "x", "bogus": true,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown field = %d, want 400", rec.Code)
	}
}

type staticFetcher struct {
	text string
}

func (f *staticFetcher) Fetch(context.Context, string) (string, string, error) {
	return "Page", f.text, nil
}

func TestIngestURLRetryDoesNotDuplicate(t *testing.T) {
	repo := newMemRepo()
	cfg := &config.Config{
		Provider:           config.ProviderOpenAI,
		EmbeddingModelID:   "test-model",
		EmbeddingDimension: 4,
		ChunkSize:          200,
		ChunkOverlap:       20,
	}
	eng, err := engine.New(engine.Options{
		Repo:    repo,
		Queue:   &memQueue{},
		Config:  cfg,
		Fetcher: &staticFetcher{text: "page body"},
		Logger:  log.NewNop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(ServerConfig{Engine: eng, Logger: log.NewNop(), RateBurst: 1000})
	h := srv.Handler()
	user := uuid.New()

	body := map[string]any{"url": "https://example.com/doc", "collection": "web", "sync": true}

	rec := doJSON(t, h, http.MethodPost, "/api/ingest/url", user, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first ingest = %d, body %s", rec.Code, rec.Body.String())
	}
	first := decodeBody[ingestResponse](t, rec)

	// A queue retry of the same work item must not create a second
	// document or re-embed.
	rec = doJSON(t, h, http.MethodPost, "/api/ingest/url", user, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("retry = %d, want 200", rec.Code)
	}
	second := decodeBody[ingestResponse](t, rec)
	if second.Outcome != engine.OutcomeUnchanged || second.DocumentID != first.DocumentID {
		t.Errorf("retry = %+v, want unchanged %s", second, first.DocumentID)
	}
	if len(repo.documents) != 1 {
		t.Errorf("documents = %d, want 1", len(repo.documents))
	}
}

func TestGetDocumentScoping(t *testing.T) {
	repo := newMemRepo()
	h := testServer(t, repo)
	owner := uuid.New()

	doc, err := repo.CreateDocument(context.Background(), uuid.New(), owner, "content", provider.ContentHash("content"), nil)
	if err != nil {
		t.Fatal(err)
	}

	// A stranger gets 404, not 403: existence is not revealed.
	rec := doJSON(t, h, http.MethodGet, "/api/documents/"+doc.ID.String(), uuid.New(), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("foreign document = %d, want 404", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/documents/not-a-uuid", owner, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad id = %d, want 400", rec.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	repo := newMemRepo()
	user := uuid.New()
	col := &store.Collection{ID: uuid.New(), OwnerID: user, Name: "kb", EmbeddingDimension: 4}
	repo.collections[col.ID] = col

	chunkID := uuid.New()
	docID := uuid.New()
	repo.searchHits = []store.SearchHit{
		{Chunk: store.Chunk{ID: chunkID, DocumentID: docID, Content: "relevant text", Position: 2}, Distance: 0.12},
	}
	h := testServer(t, repo)

	rec := doJSON(t, h, http.MethodPost, "/api/search", user, searchRequest{
		CollectionID: col.ID,
		Query:        "what is relevant",
		Limit:        5,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("search = %d, body %s", rec.Code, rec.Body.String())
	}

	resp := decodeBody[searchResponse](t, rec)
	if len(resp.Hits) != 1 {
		t.Fatalf("hits = %d, want 1", len(resp.Hits))
	}
	hit := resp.Hits[0]
	if hit.ChunkID != chunkID || hit.DocumentID != docID || hit.Position != 2 {
		t.Errorf("hit = %+v", hit)
	}
	if hit.RelevanceScore != nil {
		t.Error("plain search must not carry a relevance score")
	}
}

func TestSearchUnknownCollection(t *testing.T) {
	h := testServer(t, newMemRepo())

	rec := doJSON(t, h, http.MethodPost, "/api/search", uuid.New(), searchRequest{
		CollectionID: uuid.New(),
		Query:        "anything",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown collection = %d, want 404", rec.Code)
	}
}

func TestSearchRerankWithoutProvider(t *testing.T) {
	repo := newMemRepo()
	user := uuid.New()
	col := &store.Collection{ID: uuid.New(), OwnerID: user, Name: "kb", EmbeddingDimension: 4}
	repo.collections[col.ID] = col
	repo.searchHits = []store.SearchHit{
		{Chunk: store.Chunk{ID: uuid.New(), Content: "a"}, Distance: 0.1},
		{Chunk: store.Chunk{ID: uuid.New(), Content: "b"}, Distance: 0.2},
	}
	h := testServer(t, repo)

	// No reranker configured: the endpoint still answers, ordered by
	// distance, with no scores.
	rec := doJSON(t, h, http.MethodPost, "/api/search/rerank", user, searchRequest{
		CollectionID: col.ID,
		Query:        "q",
		TopN:         1,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("rerank = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[searchResponse](t, rec)
	if len(resp.Hits) != 1 || resp.Hits[0].Content != "a" {
		t.Errorf("hits = %+v", resp.Hits)
	}
}

func TestCollectionLifecycleEndpoints(t *testing.T) {
	repo := newMemRepo()
	h := testServer(t, repo)
	user := uuid.New()

	// Ingest creates the collection implicitly.
	rec := doJSON(t, h, http.MethodPost, "/api/ingest", user, ingestRequest{
		Collection: "kb", Content: "text", Sync: true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("ingest = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/collections", user, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list = %d", rec.Code)
	}
	list := decodeBody[map[string][]collectionResponse](t, rec)
	if len(list["collections"]) != 1 || list["collections"][0].Name != "kb" {
		t.Fatalf("collections = %+v", list)
	}

	colID := list["collections"][0].ID
	rec = doJSON(t, h, http.MethodDelete, "/api/collections/"+colID.String(), user, nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete = %d, want 204", rec.Code)
	}

	// Deleting again is a 404.
	rec = doJSON(t, h, http.MethodDelete, "/api/collections/"+colID.String(), user, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", rec.Code)
	}
}

func TestAdminEndpoints(t *testing.T) {
	repo := newMemRepo()
	repo.totalChunks = 42
	h := testServer(t, repo)

	rec := doJSON(t, h, http.MethodPost, "/api/admin/reembed/clear", uuid.Nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("clear = %d", rec.Code)
	}
	clear := decodeBody[clearResponse](t, rec)
	if clear.ChunksCleared != 12 || clear.DocumentsReset != 3 {
		t.Errorf("clear = %+v", clear)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/admin/stats", uuid.Nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats = %d", rec.Code)
	}
	stats := decodeBody[statsResponse](t, rec)
	if stats.TotalChunks != 42 {
		t.Errorf("total chunks = %d", stats.TotalChunks)
	}
}

func TestRateLimitExceeded(t *testing.T) {
	repo := newMemRepo()
	cfg := &config.Config{
		Provider:           config.ProviderOpenAI,
		EmbeddingModelID:   "test-model",
		EmbeddingDimension: 4,
		ChunkSize:          200,
		ChunkOverlap:       20,
	}
	eng, err := engine.New(engine.Options{Repo: repo, Queue: &memQueue{}, Config: cfg, Logger: log.NewNop()})
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(ServerConfig{Engine: eng, Logger: log.NewNop(), RateBurst: 2})
	h := srv.Handler()

	var last int
	for i := 0; i < 5; i++ {
		rec := doJSON(t, h, http.MethodGet, "/health", uuid.Nil, nil)
		last = rec.Code
		if last == http.StatusTooManyRequests {
			if rec.Header().Get("Retry-After") == "" {
				t.Error("429 without Retry-After header")
			}
			return
		}
	}
	t.Fatalf("burst of 5 never hit the limit, last status %d", last)
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := log.NewNop()
	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(fmt.Errorf("boom"))
	})
	h := chain(panicking, recoveryMiddleware(logger))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("panic = %d, want 500", rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		realIP     string
		forwarded  string
		trustProxy bool
		want       string
	}{
		{"direct", "203.0.113.7:1234", "", "", false, "203.0.113.7"},
		{"proxy headers ignored by default", "203.0.113.7:1234", "198.51.100.1", "", false, "203.0.113.7"},
		{"x-real-ip trusted", "203.0.113.7:1234", "198.51.100.1", "", true, "198.51.100.1"},
		{"x-forwarded-for first hop", "203.0.113.7:1234", "", "198.51.100.2, 10.0.0.1", true, "198.51.100.2"},
		{"garbage header falls back", "203.0.113.7:1234", "not-an-ip", "", true, "203.0.113.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := clientIP(req, tt.trustProxy); got != tt.want {
				t.Errorf("clientIP() = %s, want %s", got, tt.want)
			}
		})
	}
}
