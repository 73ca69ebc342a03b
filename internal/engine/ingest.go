package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/lodestone-ai/lodestone/internal/provider"
	"github.com/lodestone-ai/lodestone/internal/store"
)

// Outcome classifies an ingest result.
type Outcome string

const (
	// OutcomeCreated means a new document row was written.
	OutcomeCreated Outcome = "created"

	// OutcomeUpdated means an existing document's content changed and it
	// was reset to pending.
	OutcomeUpdated Outcome = "updated"

	// OutcomeUnchanged means the content hash matched and nothing was
	// written.
	OutcomeUnchanged Outcome = "unchanged"
)

// IngestInput describes one document to ingest.
type IngestInput struct {
	OwnerID        uuid.UUID
	CollectionName string
	SourceName     string
	SourceType     string
	Content        string
	Metadata       map[string]string

	// Dimension is used only if the collection does not exist yet; zero
	// falls back to the configured model's dimension.
	Dimension int
}

// defaultSourceName groups documents ingested without an explicit source.
const defaultSourceName = "manual"

// idempotenceKey picks the metadata field that identifies a document
// across re-ingests. Wiki identity wins over url provenance.
func idempotenceKey(meta map[string]string) (key, value string) {
	if v := meta[store.MetadataKeyWikiDocumentID]; v != "" {
		return store.MetadataKeyWikiDocumentID, v
	}
	if v := meta[store.MetadataKeyURL]; v != "" {
		return store.MetadataKeyURL, v
	}
	return "", ""
}

// IngestDocument upserts one document. Re-ingesting identical content is
// always unchanged and writes nothing. Documents with an external
// identity (wiki id or url metadata) are keyed on it: changed content
// updates the existing row and resets it to pending. Documents without
// one are keyed on their content hash within the source, so changed
// content creates a new row.
func (e *Engine) IngestDocument(ctx context.Context, in IngestInput) (Outcome, *store.Document, error) {
	if in.OwnerID == uuid.Nil {
		return "", nil, fmt.Errorf("%w: owner id required", store.ErrValidation)
	}
	if strings.TrimSpace(in.CollectionName) == "" {
		return "", nil, fmt.Errorf("%w: collection name required", store.ErrValidation)
	}

	dimension := in.Dimension
	if dimension <= 0 {
		dimension = e.cfg.ActiveEmbeddingModel().Dimension
	}

	col, err := e.repo.FindOrCreateCollection(ctx, in.OwnerID, in.CollectionName, dimension)
	if err != nil {
		return "", nil, err
	}

	sourceName := in.SourceName
	if strings.TrimSpace(sourceName) == "" {
		sourceName = defaultSourceName
	}
	sourceType := in.SourceType
	if strings.TrimSpace(sourceType) == "" {
		sourceType = defaultSourceName
	}

	src, err := e.repo.FindOrCreateSource(ctx, col.ID, in.OwnerID, sourceName, sourceType)
	if err != nil {
		return "", nil, err
	}

	hash := provider.ContentHash(in.Content)

	if key, value := idempotenceKey(in.Metadata); key != "" {
		existing, err := e.repo.FindDocumentByMetadata(ctx, in.OwnerID, key, value)
		switch {
		case err == nil:
			changed, doc, err := e.repo.UpdateDocumentContent(ctx, existing.ID, in.Content, hash)
			if err != nil {
				return "", nil, err
			}
			if !changed {
				return OutcomeUnchanged, doc, nil
			}
			e.logger.Info("document updated",
				"document_id", doc.ID, "collection", col.Name, key, value)
			return OutcomeUpdated, doc, nil
		case errors.Is(err, store.ErrNotFound):
			// fall through to create
		default:
			return "", nil, err
		}
	} else {
		existing, err := e.repo.FindDocumentBySourceAndHash(ctx, src.ID, hash)
		switch {
		case err == nil:
			return OutcomeUnchanged, existing, nil
		case errors.Is(err, store.ErrNotFound):
			// fall through to create
		default:
			return "", nil, err
		}
	}

	doc, err := e.repo.CreateDocument(ctx, src.ID, in.OwnerID, in.Content, hash, in.Metadata)
	if err != nil {
		return "", nil, err
	}
	e.logger.Info("document created",
		"document_id", doc.ID, "collection", col.Name, "source", src.Name)
	return OutcomeCreated, doc, nil
}

// IngestURL fetches a page, reduces it to plain text, and ingests it with
// url provenance metadata. The url is the document's identity: re-fetching
// a known url updates the existing document rather than duplicating it.
// Requires a URLFetcher.
func (e *Engine) IngestURL(ctx context.Context, ownerID uuid.UUID, rawURL, collectionName string) (Outcome, *store.Document, error) {
	if e.fetcher == nil {
		return "", nil, errors.New("engine: no url fetcher configured")
	}
	if strings.TrimSpace(rawURL) == "" {
		return "", nil, fmt.Errorf("%w: url required", store.ErrValidation)
	}

	title, text, err := e.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return "", nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}

	meta := map[string]string{store.MetadataKeyURL: rawURL}
	if title != "" {
		meta["title"] = title
	}

	return e.IngestDocument(ctx, IngestInput{
		OwnerID:        ownerID,
		CollectionName: collectionName,
		SourceName:     "web",
		SourceType:     "web",
		Content:        text,
		Metadata:       meta,
	})
}
