package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound covers both missing and unauthorized rows. Collapsing
	// the two keeps existence from leaking across tenants.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates malformed create/update attributes.
	ErrValidation = errors.New("validation error")
)

// DocumentStatus is the embedding lifecycle state of a document.
type DocumentStatus string

const (
	// StatusPending marks a document awaiting (re-)embedding.
	StatusPending DocumentStatus = "pending"

	// StatusEmbedded marks a document whose chunks are fully embedded.
	StatusEmbedded DocumentStatus = "embedded"

	// StatusError marks a document whose last embed attempt failed.
	StatusError DocumentStatus = "error"
)

// Metadata keys with meaning to the engine. Everything else in a
// document's metadata map is opaque provenance.
const (
	// MetadataKeySpaceID points at the ACL-bearing ancestor of shared
	// content (e.g. a wiki space). Visibility for non-owners is a
	// query-time join on this key, never an ownership change.
	MetadataKeySpaceID = "space_id"

	// MetadataKeyWikiDocumentID links back to the origin wiki page.
	MetadataKeyWikiDocumentID = "wiki_document_id"

	// MetadataKeyURL records the page a web-ingested document came from.
	MetadataKeyURL = "url"
)

// maxErrorMessageLen bounds the stored provider error message.
const maxErrorMessageLen = 10000

// Collection is a named, dimension-fixed embedding namespace owned by one
// tenant. All chunks under its sources share EmbeddingDimension.
type Collection struct {
	ID                 uuid.UUID
	OwnerID            uuid.UUID
	Name               string
	EmbeddingDimension int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Source groups documents within a collection, one per external
// integration or "manual".
type Source struct {
	ID           uuid.UUID
	CollectionID uuid.UUID
	OwnerID      uuid.UUID
	Name         string
	SourceType   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Document is one ingested unit of content.
type Document struct {
	ID           uuid.UUID
	SourceID     uuid.UUID
	OwnerID      uuid.UUID
	Content      string
	ContentHash  string
	Status       DocumentStatus
	ChunkCount   int
	ErrorMessage string
	Metadata     map[string]string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Chunk is one embedded unit belonging to exactly one document. Embedding
// is nil until the provider call succeeds, or after a re-embedding reset;
// nil-embedding chunks never appear in search results.
type Chunk struct {
	ID          uuid.UUID
	DocumentID  uuid.UUID
	Content     string
	ContentHash string
	Position    int
	TokenCount  int
	Metadata    map[string]string
	Embedding   []float32
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ChunkInsert is the input row for ReplaceChunks.
type ChunkInsert struct {
	Content     string
	ContentHash string
	Position    int
	TokenCount  int
	Metadata    map[string]string
	Embedding   []float32
}

// SearchHit pairs a chunk with its cosine distance to the query vector
// (1 - cosine similarity; smaller is more relevant).
type SearchHit struct {
	Chunk    Chunk
	Distance float64
}

// EmbeddingRequestLog is one append-only audit row per provider call.
// Never consulted for correctness.
type EmbeddingRequestLog struct {
	RequestType  string
	Model        string
	InputCount   int
	TokenCount   int
	Latency      time.Duration
	Success      bool
	ErrorMessage string
}
