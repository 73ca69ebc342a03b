package authz

import (
	"context"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/google/uuid"
)

// aclModel keeps the whole grant as one policy line: subject, namespaced
// object, role. The matcher ignores the role on purpose so Enforce answers
// "any grant at all"; role lookups go through GetFilteredPolicy instead.
const aclModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && r.obj == p.obj
`

// Grants implements Authorizer on top of a casbin enforcer. Policies live
// in whatever adapter the enforcer was built with; the zero-adapter form
// from NewGrants keeps them in memory, which suits tests and single-node
// deployments.
type Grants struct {
	enforcer *casbin.Enforcer
}

// NewGrants builds an in-memory Grants store.
func NewGrants() (*Grants, error) {
	m, err := model.NewModelFromString(aclModel)
	if err != nil {
		return nil, fmt.Errorf("parse acl model: %w", err)
	}

	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create enforcer: %w", err)
	}

	return &Grants{enforcer: e}, nil
}

func objectKey(entityType EntityType, entityID uuid.UUID) string {
	return string(entityType) + ":" + entityID.String()
}

// AddGrant gives the user a role on the entity. Re-adding an existing
// grant with a different role replaces it.
func (g *Grants) AddGrant(entityType EntityType, entityID, userID uuid.UUID, role Role) error {
	obj := objectKey(entityType, entityID)

	// One role per (user, entity): drop any prior grant first.
	if _, err := g.enforcer.RemoveFilteredPolicy(0, userID.String(), obj); err != nil {
		return fmt.Errorf("remove prior grant: %w", err)
	}
	if _, err := g.enforcer.AddPolicy(userID.String(), obj, string(role)); err != nil {
		return fmt.Errorf("add grant: %w", err)
	}
	return nil
}

// RemoveGrant revokes the user's role on the entity. Removing a grant
// that does not exist is not an error.
func (g *Grants) RemoveGrant(entityType EntityType, entityID, userID uuid.UUID) error {
	obj := objectKey(entityType, entityID)
	if _, err := g.enforcer.RemoveFilteredPolicy(0, userID.String(), obj); err != nil {
		return fmt.Errorf("remove grant: %w", err)
	}
	return nil
}

// HasAccess reports whether the user holds any role on the entity.
func (g *Grants) HasAccess(_ context.Context, entityType EntityType, entityID, userID uuid.UUID) (bool, error) {
	ok, err := g.enforcer.Enforce(userID.String(), objectKey(entityType, entityID), "")
	if err != nil {
		return false, fmt.Errorf("enforce: %w", err)
	}
	return ok, nil
}

// AccessibleEntityIDs returns every entity of the given type the user
// holds a role on. Policies whose object does not parse as a UUID are
// skipped rather than failing the whole lookup.
func (g *Grants) AccessibleEntityIDs(_ context.Context, entityType EntityType, userID uuid.UUID) ([]uuid.UUID, error) {
	policies, err := g.enforcer.GetFilteredPolicy(0, userID.String())
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}

	prefix := string(entityType) + ":"
	ids := make([]uuid.UUID, 0, len(policies))
	for _, p := range policies {
		if len(p) < 2 || !strings.HasPrefix(p[1], prefix) {
			continue
		}
		id, err := uuid.Parse(strings.TrimPrefix(p[1], prefix))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// GetRole returns the user's role on the entity.
func (g *Grants) GetRole(_ context.Context, entityType EntityType, entityID, userID uuid.UUID) (Role, error) {
	policies, err := g.enforcer.GetFilteredPolicy(0, userID.String(), objectKey(entityType, entityID))
	if err != nil {
		return "", fmt.Errorf("get grant: %w", err)
	}
	if len(policies) == 0 || len(policies[0]) < 3 {
		return "", ErrRoleNotFound
	}
	return Role(policies[0][2]), nil
}
