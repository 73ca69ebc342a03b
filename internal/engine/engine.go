// Package engine implements the retrieval core: document ingestion, the
// chunk embedding pipeline, access-control-aware vector search, two-stage
// reranking, and the re-embedding migration workflow.
//
// The engine owns the orchestration only. Persistence, embedding
// providers, access control, and space resolution come in through
// interfaces defined here, so every collaborator can be swapped in tests.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/lodestone-ai/lodestone/internal/authz"
	"github.com/lodestone-ai/lodestone/internal/chunker"
	"github.com/lodestone-ai/lodestone/internal/config"
	"github.com/lodestone-ai/lodestone/internal/provider"
	"github.com/lodestone-ai/lodestone/internal/store"
)

var (
	// ErrDimensionMismatch indicates a provider returned vectors whose
	// length differs from the collection's declared dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Repository is the persistence surface the engine consumes. *store.Store
// satisfies it; tests substitute fakes.
type Repository interface {
	FindOrCreateCollection(ctx context.Context, ownerID uuid.UUID, name string, dimension int) (*store.Collection, error)
	GetCollection(ctx context.Context, collectionID, ownerID uuid.UUID) (*store.Collection, error)
	GetCollectionAny(ctx context.Context, collectionID uuid.UUID) (*store.Collection, error)
	GetCollectionForDocument(ctx context.Context, documentID uuid.UUID) (*store.Collection, error)
	ListCollections(ctx context.Context, ownerID uuid.UUID) ([]store.Collection, error)
	DeleteCollection(ctx context.Context, collectionID, ownerID uuid.UUID) error
	FindOrCreateSource(ctx context.Context, collectionID, ownerID uuid.UUID, name, sourceType string) (*store.Source, error)
	CreateDocument(ctx context.Context, sourceID, ownerID uuid.UUID, content, contentHash string, metadata map[string]string) (*store.Document, error)
	GetDocument(ctx context.Context, documentID, ownerID uuid.UUID) (*store.Document, error)
	GetDocumentAny(ctx context.Context, documentID uuid.UUID) (*store.Document, error)
	FindDocumentByMetadata(ctx context.Context, ownerID uuid.UUID, key, value string) (*store.Document, error)
	FindDocumentBySourceAndHash(ctx context.Context, sourceID uuid.UUID, contentHash string) (*store.Document, error)
	UpdateDocumentContent(ctx context.Context, documentID uuid.UUID, content, newHash string) (bool, *store.Document, error)
	SetDocumentError(ctx context.Context, documentID uuid.UUID, message string) error
	SetDocumentMetadataField(ctx context.Context, documentID uuid.UUID, key, value string) error
	ReplaceChunks(ctx context.Context, documentID uuid.UUID, chunks []store.ChunkInsert) error
	SearchChunks(ctx context.Context, q store.SearchQuery) ([]store.SearchHit, error)
	ClearAllEmbeddings(ctx context.Context) (int64, int64, error)
	ListDocumentsForReembedding(ctx context.Context, limit, offset int) ([]store.Document, error)
	TotalChunkCount(ctx context.Context) (int64, error)
}

// EmbedQueue is the rate-limited path to the embedding provider.
// *embedq.Queue satisfies it.
type EmbedQueue interface {
	Submit(ctx context.Context, tenantID uuid.UUID, req provider.EmbedRequest) (*provider.EmbedResult, error)
}

// SpaceResolver maps a shared wiki document to the id of its ACL-bearing
// ancestor space. Implemented by the wiki integration; nil disables the
// space metadata self-heal.
type SpaceResolver interface {
	ResolveSpaceID(ctx context.Context, wikiDocumentID string) (uuid.UUID, error)
}

// URLFetcher retrieves a page and reduces it to plain text for ingestion.
type URLFetcher interface {
	Fetch(ctx context.Context, url string) (title, text string, err error)
}

// Options wires an Engine. Repo, Queue, and Config are required; the rest
// are optional and disable their feature when nil.
type Options struct {
	Repo       Repository
	Queue      EmbedQueue
	Reranker   provider.Reranker
	Authorizer authz.Authorizer
	Spaces     SpaceResolver
	Fetcher    URLFetcher
	Config     *config.Config
	Logger     *slog.Logger
}

// Engine is the retrieval core. Safe for concurrent use.
type Engine struct {
	repo     Repository
	queue    EmbedQueue
	reranker provider.Reranker
	authz    authz.Authorizer
	spaces   SpaceResolver
	fetcher  URLFetcher
	splitter *chunker.Splitter
	cfg      *config.Config
	logger   *slog.Logger
}

// New builds an Engine from its collaborators.
func New(opts Options) (*Engine, error) {
	if opts.Repo == nil {
		return nil, errors.New("engine: nil repository")
	}
	if opts.Queue == nil {
		return nil, errors.New("engine: nil embed queue")
	}
	if opts.Config == nil {
		return nil, config.ErrConfigNil
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Engine{
		repo:     opts.Repo,
		queue:    opts.Queue,
		reranker: opts.Reranker,
		authz:    opts.Authorizer,
		spaces:   opts.Spaces,
		fetcher:  opts.Fetcher,
		splitter: chunker.NewSplitter(opts.Config.ChunkSize, opts.Config.ChunkOverlap),
		cfg:      opts.Config,
		logger:   logger,
	}, nil
}

// embedQuery turns a query string into a vector of the given dimension.
// Failures here are hard failures: without a query vector there is
// nothing to search with.
func (e *Engine) embedQuery(ctx context.Context, userID uuid.UUID, query string, dimension int) ([]float32, error) {
	model := e.cfg.ActiveEmbeddingModel()
	res, err := e.queue.Submit(ctx, userID, provider.EmbedRequest{
		Texts:     []string{query},
		InputType: provider.InputTypeSearchQuery,
		Model:     model.ID,
		Dimension: dimension,
	})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(res.Vectors) != 1 {
		return nil, fmt.Errorf("%w: expected 1 query vector, got %d", provider.ErrProvider, len(res.Vectors))
	}
	if dimension > 0 && len(res.Vectors[0]) != dimension {
		return nil, fmt.Errorf("%w: query vector has %d dimensions, collection expects %d",
			ErrDimensionMismatch, len(res.Vectors[0]), dimension)
	}
	return res.Vectors[0], nil
}
