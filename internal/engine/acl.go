package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/lodestone-ai/lodestone/internal/authz"
	"github.com/lodestone-ai/lodestone/internal/store"
)

// ResolveDocumentSpace returns the id of the ACL-bearing space governing
// a shared document, healing missing metadata along the way.
//
// The fast path reads space_id straight from the document's metadata.
// When the pointer is absent (content ingested before the field existed),
// the document's true ancestor space is resolved through the wiki
// collaborator, the requester's access is verified, and only then is the
// pointer backfilled onto the document so future lookups take the indexed
// path. Any failure leaves the document untouched; the repair is
// idempotent and retryable.
func (e *Engine) ResolveDocumentSpace(ctx context.Context, documentID, userID uuid.UUID) (uuid.UUID, error) {
	doc, err := e.repo.GetDocumentAny(ctx, documentID)
	if err != nil {
		return uuid.Nil, err
	}

	if raw := doc.Metadata[store.MetadataKeySpaceID]; raw != "" {
		spaceID, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, fmt.Errorf("document %s has malformed space_id %q: %w", doc.ID, raw, err)
		}
		return spaceID, nil
	}

	if e.spaces == nil || e.authz == nil {
		return uuid.Nil, store.ErrNotFound
	}

	wikiID := doc.Metadata[store.MetadataKeyWikiDocumentID]
	if wikiID == "" {
		// Not wiki content; there is no ancestor to resolve.
		return uuid.Nil, store.ErrNotFound
	}

	spaceID, err := e.spaces.ResolveSpaceID(ctx, wikiID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve space for wiki document %s: %w", wikiID, err)
	}

	ok, err := e.authz.HasAccess(ctx, authz.EntityTypeSpace, spaceID, userID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("check space access: %w", err)
	}
	if !ok {
		// Unauthorized collapses to not-found; a repair attempt must not
		// reveal that the space exists.
		return uuid.Nil, store.ErrNotFound
	}

	if err := e.repo.SetDocumentMetadataField(ctx, doc.ID, store.MetadataKeySpaceID, spaceID.String()); err != nil {
		// A lost race with another resolver writes the same value, so the
		// backfill result can be ignored for anything but real errors.
		if !errors.Is(err, store.ErrNotFound) {
			return uuid.Nil, fmt.Errorf("backfill space_id on document %s: %w", doc.ID, err)
		}
	}

	e.logger.Info("backfilled document space pointer",
		"document_id", doc.ID, "space_id", spaceID)
	return spaceID, nil
}
