package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/lodestone-ai/lodestone/internal/log"
	"github.com/lodestone-ai/lodestone/internal/provider"
	"github.com/lodestone-ai/lodestone/internal/store"
	"github.com/lodestone-ai/lodestone/internal/testutil"
)

// setup starts one container-backed store per test.
func setup(t *testing.T) *store.Store {
	t.Helper()
	tdb := testutil.SetupTestDB(t)
	return store.New(tdb.Pool, log.NewNop())
}

func vector(dim int, fill float32) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = fill
	}
	return v
}

// seedDocument creates collection, source and one document.
func seedDocument(t *testing.T, s *store.Store, owner uuid.UUID, content string, metadata map[string]string) *store.Document {
	t.Helper()
	ctx := context.Background()

	col, err := s.FindOrCreateCollection(ctx, owner, "notes", 3)
	if err != nil {
		t.Fatalf("FindOrCreateCollection: %v", err)
	}
	src, err := s.FindOrCreateSource(ctx, col.ID, owner, "manual", "manual")
	if err != nil {
		t.Fatalf("FindOrCreateSource: %v", err)
	}
	doc, err := s.CreateDocument(ctx, src.ID, owner, content, provider.ContentHash(content), metadata)
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	return doc
}

func TestFindOrCreateCollectionIdempotent(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	owner := uuid.New()

	first, err := s.FindOrCreateCollection(ctx, owner, "kb", 1536)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Same name with a different dimension must return the existing row
	// with its original dimension.
	second, err := s.FindOrCreateCollection(ctx, owner, "kb", 768)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if second.ID != first.ID {
		t.Error("second call created a new collection")
	}
	if second.EmbeddingDimension != 1536 {
		t.Errorf("dimension = %d, existing must win", second.EmbeddingDimension)
	}

	// Same name under another owner is a distinct collection.
	other, err := s.FindOrCreateCollection(ctx, uuid.New(), "kb", 768)
	if err != nil {
		t.Fatalf("other owner: %v", err)
	}
	if other.ID == first.ID {
		t.Error("collections must be scoped per owner")
	}
}

func TestGetCollectionOwnerScoping(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	owner := uuid.New()

	col, err := s.FindOrCreateCollection(ctx, owner, "kb", 3)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetCollection(ctx, col.ID, uuid.New()); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("foreign owner: error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetCollectionAny(ctx, col.ID); err != nil {
		t.Errorf("GetCollectionAny: %v", err)
	}
}

func TestUpdateDocumentContentHashCompare(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	owner := uuid.New()
	doc := seedDocument(t, s, owner, "original", nil)

	// Unchanged content is a no-op.
	changed, _, err := s.UpdateDocumentContent(ctx, doc.ID, "original", provider.ContentHash("original"))
	if err != nil {
		t.Fatalf("unchanged update: %v", err)
	}
	if changed {
		t.Error("identical hash reported as changed")
	}

	// Changed content resets to pending.
	changed, updated, err := s.UpdateDocumentContent(ctx, doc.ID, "revised", provider.ContentHash("revised"))
	if err != nil {
		t.Fatalf("changed update: %v", err)
	}
	if !changed {
		t.Fatal("changed hash reported as unchanged")
	}
	if updated.Status != store.StatusPending {
		t.Errorf("status = %s, want pending", updated.Status)
	}
	if updated.Content != "revised" {
		t.Errorf("content = %q", updated.Content)
	}
}

func TestReplaceChunksLifecycle(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	owner := uuid.New()
	doc := seedDocument(t, s, owner, "chunked content", nil)

	inserts := []store.ChunkInsert{
		{Content: "first", ContentHash: provider.ContentHash("first"), Position: 0, TokenCount: 1, Embedding: vector(3, 0.1)},
		{Content: "second", ContentHash: provider.ContentHash("second"), Position: 1, TokenCount: 1, Embedding: vector(3, 0.2)},
	}
	if err := s.ReplaceChunks(ctx, doc.ID, inserts); err != nil {
		t.Fatalf("ReplaceChunks: %v", err)
	}

	got, err := s.GetDocument(ctx, doc.ID, owner)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.StatusEmbedded || got.ChunkCount != 2 {
		t.Errorf("status=%s chunk_count=%d, want embedded/2", got.Status, got.ChunkCount)
	}

	chunks, err := s.ListChunksByDocument(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if chunks[0].Position != 0 || chunks[1].Position != 1 {
		t.Error("chunks not in position order")
	}
	if len(chunks[0].Embedding) != 3 {
		t.Errorf("embedding dims = %d, want 3", len(chunks[0].Embedding))
	}

	// Replacing again swaps the set wholesale.
	if err := s.ReplaceChunks(ctx, doc.ID, inserts[:1]); err != nil {
		t.Fatalf("second ReplaceChunks: %v", err)
	}
	chunks, err = s.ListChunksByDocument(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 {
		t.Errorf("chunks after replace = %d, want 1", len(chunks))
	}
}

func TestSetDocumentErrorTruncates(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	owner := uuid.New()
	doc := seedDocument(t, s, owner, "content", nil)

	long := make([]byte, 20000)
	for i := range long {
		long[i] = 'e'
	}
	if err := s.SetDocumentError(ctx, doc.ID, string(long)); err != nil {
		t.Fatalf("SetDocumentError: %v", err)
	}

	got, err := s.GetDocument(ctx, doc.ID, owner)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.StatusError {
		t.Errorf("status = %s, want error", got.Status)
	}
	if len(got.ErrorMessage) > 10000 {
		t.Errorf("error message len = %d, want <= 10000", len(got.ErrorMessage))
	}
}

func TestSearchChunksScoping(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	owner := uuid.New()
	stranger := uuid.New()
	spaceID := uuid.New()

	ownDoc := seedDocument(t, s, owner, "own content", nil)
	sharedDoc := seedDocument(t, s, stranger, "shared content", map[string]string{
		store.MetadataKeySpaceID: spaceID.String(),
	})
	privateDoc := seedDocument(t, s, stranger, "private content", nil)

	embed := func(doc *store.Document, fill float32) {
		err := s.ReplaceChunks(ctx, doc.ID, []store.ChunkInsert{{
			Content: doc.Content, ContentHash: provider.ContentHash(doc.Content),
			Position: 0, TokenCount: 1, Embedding: vector(3, fill),
		}})
		if err != nil {
			t.Fatalf("embed %s: %v", doc.ID, err)
		}
	}
	embed(ownDoc, 0.1)
	embed(sharedDoc, 0.2)
	embed(privateDoc, 0.3)

	// Owner-only scope sees just the owner's chunk.
	hits, err := s.SearchChunks(ctx, store.SearchQuery{
		Vector: vector(3, 0.1), Limit: 10, OwnerID: owner,
	})
	if err != nil {
		t.Fatalf("SearchChunks: %v", err)
	}
	if len(hits) != 1 || hits[0].Chunk.DocumentID != ownDoc.ID {
		t.Fatalf("owner scope returned %d hits", len(hits))
	}

	// Space grant widens to the shared doc, never the private one.
	hits, err = s.SearchChunks(ctx, store.SearchQuery{
		Vector: vector(3, 0.1), Limit: 10, OwnerID: owner,
		AccessibleSpaceIDs: []string{spaceID.String()},
	})
	if err != nil {
		t.Fatalf("SearchChunks with spaces: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("accessible scope returned %d hits, want 2", len(hits))
	}
	for _, h := range hits {
		if h.Chunk.DocumentID == privateDoc.ID {
			t.Fatal("private document leaked through ACL filter")
		}
	}
}

func TestSearchChunksSkipsMismatchedDimensions(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	owner := uuid.New()

	// Two collections for the same owner at different dimensions.
	narrow := seedDocument(t, s, owner, "narrow content", nil)
	wideCol, err := s.FindOrCreateCollection(ctx, owner, "wide", 5)
	if err != nil {
		t.Fatal(err)
	}
	wideSrc, err := s.FindOrCreateSource(ctx, wideCol.ID, owner, "manual", "manual")
	if err != nil {
		t.Fatal(err)
	}
	wideDoc, err := s.CreateDocument(ctx, wideSrc.ID, owner, "wide content", provider.ContentHash("wide content"), nil)
	if err != nil {
		t.Fatal(err)
	}

	for doc, dim := range map[*store.Document]int{narrow: 3, wideDoc: 5} {
		err := s.ReplaceChunks(ctx, doc.ID, []store.ChunkInsert{{
			Content: doc.Content, ContentHash: provider.ContentHash(doc.Content),
			Position: 0, TokenCount: 1, Embedding: vector(dim, 0.5),
		}})
		if err != nil {
			t.Fatal(err)
		}
	}

	// A cross-collection query must not error on the 5-dim rows; it
	// silently excludes them.
	hits, err := s.SearchChunks(ctx, store.SearchQuery{
		Vector: vector(3, 0.5), Limit: 10, OwnerID: owner,
	})
	if err != nil {
		t.Fatalf("cross-collection search: %v", err)
	}
	if len(hits) != 1 || hits[0].Chunk.DocumentID != narrow.ID {
		t.Fatalf("hits = %d, want only the matching-dimension chunk", len(hits))
	}

	// Pinned to the wide collection, its own dimension still works.
	hits, err = s.SearchChunks(ctx, store.SearchQuery{
		Vector: vector(5, 0.5), Limit: 10, OwnerID: owner, CollectionID: &wideCol.ID,
	})
	if err != nil {
		t.Fatalf("pinned search: %v", err)
	}
	if len(hits) != 1 || hits[0].Chunk.DocumentID != wideDoc.ID {
		t.Fatalf("pinned hits = %d", len(hits))
	}
}

func TestFindDocumentBySourceAndHash(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	owner := uuid.New()
	doc := seedDocument(t, s, owner, "repeatable content", nil)

	found, err := s.FindDocumentBySourceAndHash(ctx, doc.SourceID, provider.ContentHash("repeatable content"))
	if err != nil {
		t.Fatalf("FindDocumentBySourceAndHash: %v", err)
	}
	if found.ID != doc.ID {
		t.Error("wrong document returned")
	}

	if _, err := s.FindDocumentBySourceAndHash(ctx, doc.SourceID, provider.ContentHash("other content")); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown hash: error = %v, want ErrNotFound", err)
	}
	if _, err := s.FindDocumentBySourceAndHash(ctx, uuid.New(), provider.ContentHash("repeatable content")); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("foreign source: error = %v, want ErrNotFound", err)
	}
}

func TestSearchChunksExcludesNullEmbeddings(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	owner := uuid.New()
	doc := seedDocument(t, s, owner, "content", nil)

	// One embedded chunk, one awaiting embedding.
	err := s.ReplaceChunks(ctx, doc.ID, []store.ChunkInsert{
		{Content: "ready", ContentHash: provider.ContentHash("ready"), Position: 0, TokenCount: 1, Embedding: vector(3, 0.5)},
		{Content: "waiting", ContentHash: provider.ContentHash("waiting"), Position: 1, TokenCount: 1},
	})
	if err != nil {
		t.Fatal(err)
	}

	hits, err := s.SearchChunks(ctx, store.SearchQuery{
		Vector: vector(3, 0.5), Limit: 10, OwnerID: owner,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Chunk.Content != "ready" {
		t.Errorf("null-embedding chunk appeared in results: %d hits", len(hits))
	}
}

func TestClearAllEmbeddings(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	owner := uuid.New()
	doc := seedDocument(t, s, owner, "content", nil)

	err := s.ReplaceChunks(ctx, doc.ID, []store.ChunkInsert{{
		Content: "c", ContentHash: provider.ContentHash("c"), Position: 0, TokenCount: 1, Embedding: vector(3, 0.4),
	}})
	if err != nil {
		t.Fatal(err)
	}

	chunks, docs, err := s.ClearAllEmbeddings(ctx)
	if err != nil {
		t.Fatalf("ClearAllEmbeddings: %v", err)
	}
	if chunks != 1 || docs != 1 {
		t.Errorf("counts = %d/%d, want 1/1", chunks, docs)
	}

	// Document is pending again and its chunk no longer searchable.
	got, err := s.GetDocument(ctx, doc.ID, owner)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.StatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
	hits, err := s.SearchChunks(ctx, store.SearchQuery{Vector: vector(3, 0.4), Limit: 10, OwnerID: owner})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("cleared corpus returned %d hits", len(hits))
	}

	// Running it again is harmless.
	chunks, docs, err = s.ClearAllEmbeddings(ctx)
	if err != nil {
		t.Fatalf("second clear: %v", err)
	}
	if chunks != 0 || docs != 0 {
		t.Errorf("second clear counts = %d/%d, want 0/0", chunks, docs)
	}

	pending, err := s.ListDocumentsForReembedding(ctx, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != doc.ID {
		t.Errorf("pending docs = %d", len(pending))
	}
}

func TestFindDocumentByMetadata(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	owner := uuid.New()
	doc := seedDocument(t, s, owner, "content", map[string]string{
		store.MetadataKeyWikiDocumentID: "wiki-42",
	})

	found, err := s.FindDocumentByMetadata(ctx, owner, store.MetadataKeyWikiDocumentID, "wiki-42")
	if err != nil {
		t.Fatalf("FindDocumentByMetadata: %v", err)
	}
	if found.ID != doc.ID {
		t.Error("wrong document returned")
	}

	// Another owner must not see it.
	if _, err := s.FindDocumentByMetadata(ctx, uuid.New(), store.MetadataKeyWikiDocumentID, "wiki-42"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("foreign owner: error = %v, want ErrNotFound", err)
	}
}

func TestSetDocumentMetadataField(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	owner := uuid.New()
	doc := seedDocument(t, s, owner, "content", map[string]string{"existing": "kept"})

	spaceID := uuid.New().String()
	if err := s.SetDocumentMetadataField(ctx, doc.ID, store.MetadataKeySpaceID, spaceID); err != nil {
		t.Fatalf("SetDocumentMetadataField: %v", err)
	}

	got, err := s.GetDocument(ctx, doc.ID, owner)
	if err != nil {
		t.Fatal(err)
	}
	if got.Metadata[store.MetadataKeySpaceID] != spaceID {
		t.Error("metadata field not written")
	}
	if got.Metadata["existing"] != "kept" {
		t.Error("unrelated metadata clobbered")
	}
}

func TestDeleteCollectionCascades(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	owner := uuid.New()
	doc := seedDocument(t, s, owner, "content", nil)

	col, err := s.FindOrCreateCollection(ctx, owner, "notes", 3)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteCollection(ctx, col.ID, owner); err != nil {
		t.Fatalf("DeleteCollection: %v", err)
	}

	if _, err := s.GetDocument(ctx, doc.ID, owner); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("document survived collection delete: %v", err)
	}
}
