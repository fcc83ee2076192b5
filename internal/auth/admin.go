package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"userdir.org/internal/ids"
)

// The methods below are unguarded RBAC primitives. HTTP callers reach them
// only through the directory service, which checks permissions first.

// AssignRoleByName gives the identity the named role. Assigning a role the
// identity already holds is a no-op.
func (s *Service) AssignRoleByName(ctx context.Context, identityID, roleName string) (Role, error) {
	var role Role
	err := s.store.InTx(ctx, func(q Queries) error {
		if _, err := q.IdentityByID(ctx, identityID); err != nil {
			return storeErr("lookup identity", err)
		}
		r, err := q.RoleByName(ctx, roleName)
		if err != nil {
			return storeErr("lookup role", err)
		}
		role = r
		return storeErr("assign role", q.AssignRole(ctx, identityID, r.ID))
	})
	return role, err
}

// RevokeRoleByName removes the named role from the identity.
func (s *Service) RevokeRoleByName(ctx context.Context, identityID, roleName string) error {
	return s.store.InTx(ctx, func(q Queries) error {
		r, err := q.RoleByName(ctx, roleName)
		if err != nil {
			return storeErr("lookup role", err)
		}
		return storeErr("revoke role", q.RevokeRole(ctx, identityID, r.ID))
	})
}

// GrantPermission adds (resource, action) to the named role, creating the
// permission when it does not exist yet.
func (s *Service) GrantPermission(ctx context.Context, roleName, resource, action string) (Permission, error) {
	resource = strings.TrimSpace(resource)
	action = strings.TrimSpace(action)
	if resource == "" || action == "" {
		return Permission{}, fmt.Errorf("%w: resource and action are required", ErrValidation)
	}
	var perm Permission
	err := s.store.InTx(ctx, func(q Queries) error {
		r, err := q.RoleByName(ctx, roleName)
		if err != nil {
			return storeErr("lookup role", err)
		}
		p, err := q.EnsurePermission(ctx, Permission{ID: ids.New(), Resource: resource, Action: action})
		if err != nil {
			return storeErr("ensure permission", err)
		}
		perm = p
		return storeErr("grant permission", q.GrantPermission(ctx, r.ID, p.ID))
	})
	return perm, err
}

// EnsureRole returns the named role, creating it when missing.
func (s *Service) EnsureRole(ctx context.Context, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrValidation)
	}
	var role Role
	err := s.store.InTx(ctx, func(q Queries) error {
		var err error
		role, err = ensureRole(ctx, q, name, description)
		return err
	})
	return role, err
}

func ensureRole(ctx context.Context, q Queries, name, description string) (Role, error) {
	r, err := q.RoleByName(ctx, name)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Role{}, storeErr("lookup role", err)
	}
	r = Role{ID: ids.New(), Name: name, Description: description}
	if err := q.CreateRole(ctx, r); err != nil {
		return Role{}, storeErr("create role", err)
	}
	return r, nil
}

// PruneSessions deletes sessions that expired before now. It is housekeeping
// only; validation already treats such sessions as invalid.
func (s *Service) PruneSessions(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpiredSessions(ctx, s.Now())
	return n, storeErr("prune sessions", err)
}
