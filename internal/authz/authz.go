// Package authz defines the access-control contract the retrieval engine
// consumes, plus a casbin-backed default implementation.
//
// The engine only ever asks three questions: can this user see this
// entity, which entities of a type can they see, and what role do they
// hold. How grants are stored and evaluated is this package's business.
package authz

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrRoleNotFound indicates the user holds no role on the entity.
var ErrRoleNotFound = errors.New("role not found")

// EntityType namespaces grants. The engine only uses EntityTypeSpace for
// the shared-content join, but the contract is generic.
type EntityType string

// EntityTypeSpace is the ACL-bearing ancestor of shared wiki content.
const EntityTypeSpace EntityType = "space"

// Role is the grant level a user holds on an entity.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleOwner  Role = "owner"
)

// Authorizer is the query contract consumed by the retrieval engine.
// Implementations must treat all methods as read-only.
type Authorizer interface {
	// HasAccess reports whether the user holds any role on the entity.
	HasAccess(ctx context.Context, entityType EntityType, entityID, userID uuid.UUID) (bool, error)

	// AccessibleEntityIDs returns every entity of the given type the user
	// holds a role on.
	AccessibleEntityIDs(ctx context.Context, entityType EntityType, userID uuid.UUID) ([]uuid.UUID, error)

	// GetRole returns the user's role on the entity, or ErrRoleNotFound.
	GetRole(ctx context.Context, entityType EntityType, entityID, userID uuid.UUID) (Role, error)
}
