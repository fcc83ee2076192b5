package auth

import (
	"context"
	"fmt"
	"sort"

	"userdir.org/internal/obs"
)

// PermissionSet is the closure of permissions reachable through an
// identity's roles. Build it per request; it is never invalidated.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from a permission list.
func NewPermissionSet(perms []Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p.Key()] = struct{}{}
	}
	return set
}

// Allows reports whether (resource, action) is in the set.
func (p PermissionSet) Allows(resource, action string) bool {
	_, ok := p[resource+":"+action]
	return ok
}

// Keys returns the sorted "resource:action" keys.
func (p PermissionSet) Keys() []string {
	out := make([]string, 0, len(p))
	for k := range p {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Permissions reads the identity's permission closure from the store.
func (s *Service) Permissions(ctx context.Context, identityID string) (PermissionSet, error) {
	perms, err := s.store.PermissionsForIdentity(ctx, identityID)
	if err != nil {
		return nil, storeErr("load permissions", err)
	}
	return NewPermissionSet(perms), nil
}

// HasPermission evaluates (resource, action) for identityID against a fresh
// read of its roles.
func (s *Service) HasPermission(ctx context.Context, identityID, resource, action string) (bool, error) {
	set, err := s.Permissions(ctx, identityID)
	if err != nil {
		return false, err
	}
	allowed := set.Allows(resource, action)
	obs.ObservePermission(allowed)
	return allowed, nil
}

// RequirePermission fails with ErrPermissionDenied unless HasPermission holds.
func (s *Service) RequirePermission(ctx context.Context, identityID, resource, action string) error {
	ok, err := s.HasPermission(ctx, identityID, resource, action)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s:%s", ErrPermissionDenied, resource, action)
	}
	return nil
}
