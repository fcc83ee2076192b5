// Package directory exposes the user directory operations behind the
// authorization boundary: every call takes the acting identity explicitly,
// applies the self-modification guard and then the permission check.
package directory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"userdir.org/internal/audit"
	"userdir.org/internal/auth"
	"userdir.org/internal/obs"
	"userdir.org/internal/stream"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
	HistoryLimit    = 50
)

// Entry is an identity together with its role names.
type Entry struct {
	auth.Identity
	Roles []string `json:"roles"`
}

// Listing is one page of the directory.
type Listing struct {
	Items      []auth.Identity `json:"items"`
	Page       int             `json:"page"`
	Limit      int             `json:"limit"`
	Total      int             `json:"total"`
	TotalPages int             `json:"total_pages"`
}

type Service struct {
	auth   *auth.Service
	store  auth.Store
	events *stream.Stream
}

type Option func(*Service)

// WithEvents publishes every audited mutation to events.
func WithEvents(events *stream.Stream) Option {
	return func(s *Service) { s.events = events }
}

func New(authSvc *auth.Service, opts ...Option) *Service {
	s := &Service{auth: authSvc, store: authSvc.Store()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Profile returns the caller's own entry.
func (s *Service) Profile(ctx context.Context, actor auth.AuthenticatedIdentity) (Entry, error) {
	if err := s.auth.RequirePermission(ctx, actor.ID, auth.ResourceProfile, auth.ActionRead); err != nil {
		return Entry{}, err
	}
	return s.entry(ctx, actor.ID)
}

// History returns the caller's most recent authentication attempts, newest first.
func (s *Service) History(ctx context.Context, actor auth.AuthenticatedIdentity) ([]auth.AuditEntry, error) {
	entries, err := s.store.AuditForIdentity(ctx, actor.ID, HistoryLimit)
	if err != nil {
		return nil, wrapStore("load history", err)
	}
	if entries == nil {
		entries = []auth.AuditEntry{}
	}
	return entries, nil
}

// List pages through the directory. page starts at 1; limit defaults to
// DefaultPageSize and is capped at MaxPageSize.
func (s *Service) List(ctx context.Context, actor auth.AuthenticatedIdentity, page, limit int) (Listing, error) {
	if err := s.auth.RequirePermission(ctx, actor.ID, auth.ResourceUsers, auth.ActionRead); err != nil {
		return Listing{}, err
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if page > math.MaxInt/limit {
		page = math.MaxInt / limit
	}
	items, total, err := s.store.ListIdentities(ctx, auth.Page{Number: page, Limit: limit})
	if err != nil {
		return Listing{}, wrapStore("list identities", err)
	}
	out := Listing{Items: make([]auth.Identity, 0, len(items)), Page: page, Limit: limit, Total: total}
	for _, i := range items {
		out.Items = append(out.Items, i.Public())
	}
	out.TotalPages = (total + limit - 1) / limit
	return out, nil
}

// Get returns one entry with its roles.
func (s *Service) Get(ctx context.Context, actor auth.AuthenticatedIdentity, id string) (Entry, error) {
	if err := s.auth.RequirePermission(ctx, actor.ID, auth.ResourceUsers, auth.ActionRead); err != nil {
		return Entry{}, err
	}
	return s.entry(ctx, id)
}

// Update changes names and the active flag. Deactivating oneself is denied
// before permissions are consulted.
func (s *Service) Update(ctx context.Context, actor auth.AuthenticatedIdentity, id string, upd auth.IdentityUpdate) (auth.Identity, error) {
	if upd.GivenName == nil && upd.FamilyName == nil && upd.Active == nil {
		return auth.Identity{}, fmt.Errorf("%w: nothing to update", auth.ErrValidation)
	}
	if upd.Active != nil && !*upd.Active {
		if err := auth.GuardSelfModification(actor, id); err != nil {
			return auth.Identity{}, err
		}
	}
	if err := s.auth.RequirePermission(ctx, actor.ID, auth.ResourceUsers, auth.ActionWrite); err != nil {
		return auth.Identity{}, err
	}
	trim(upd.GivenName)
	trim(upd.FamilyName)
	updated, err := s.store.UpdateIdentity(ctx, id, upd, s.auth.Now())
	if err != nil {
		return auth.Identity{}, wrapStore("update identity", err)
	}
	fields := map[string]any{"target_id": id}
	if upd.Active != nil {
		fields["active"] = *upd.Active
	}
	s.logEvent(ctx, actor, "identity.updated", fields)
	return updated.Public(), nil
}

// Delete removes an identity together with its sessions and role
// assignments. Self-deletion is denied regardless of permissions.
func (s *Service) Delete(ctx context.Context, actor auth.AuthenticatedIdentity, id string) error {
	if err := auth.GuardSelfModification(actor, id); err != nil {
		return err
	}
	if err := s.auth.RequirePermission(ctx, actor.ID, auth.ResourceUsers, auth.ActionDelete); err != nil {
		return err
	}
	if err := s.store.DeleteIdentity(ctx, id); err != nil {
		return wrapStore("delete identity", err)
	}
	s.logEvent(ctx, actor, "identity.deleted", map[string]any{"target_id": id})
	return nil
}

// Permissions lists the effective permissions of id. Callers may always read
// their own; reading others needs users:read.
func (s *Service) Permissions(ctx context.Context, actor auth.AuthenticatedIdentity, id string) ([]auth.Permission, error) {
	if actor.ID != id {
		if err := s.auth.RequirePermission(ctx, actor.ID, auth.ResourceUsers, auth.ActionRead); err != nil {
			return nil, err
		}
	}
	if _, err := s.store.IdentityByID(ctx, id); err != nil {
		return nil, wrapStore("lookup identity", err)
	}
	perms, err := s.store.PermissionsForIdentity(ctx, id)
	if err != nil {
		return nil, wrapStore("load permissions", err)
	}
	if perms == nil {
		perms = []auth.Permission{}
	}
	return perms, nil
}

func (s *Service) ListRoles(ctx context.Context, actor auth.AuthenticatedIdentity) ([]auth.Role, error) {
	if err := s.auth.RequirePermission(ctx, actor.ID, auth.ResourceRoles, auth.ActionManage); err != nil {
		return nil, err
	}
	roles, err := s.store.ListRoles(ctx)
	if err != nil {
		return nil, wrapStore("list roles", err)
	}
	return roles, nil
}

func (s *Service) AssignRole(ctx context.Context, actor auth.AuthenticatedIdentity, id, roleName string) (auth.Role, error) {
	if err := s.auth.RequirePermission(ctx, actor.ID, auth.ResourceRoles, auth.ActionManage); err != nil {
		return auth.Role{}, err
	}
	role, err := s.auth.AssignRoleByName(ctx, id, strings.TrimSpace(roleName))
	if err != nil {
		return auth.Role{}, err
	}
	s.logEvent(ctx, actor, "role.assigned", map[string]any{"target_id": id, "role": role.Name})
	return role, nil
}

func (s *Service) RevokeRole(ctx context.Context, actor auth.AuthenticatedIdentity, id, roleName string) error {
	if err := s.auth.RequirePermission(ctx, actor.ID, auth.ResourceRoles, auth.ActionManage); err != nil {
		return err
	}
	if err := s.auth.RevokeRoleByName(ctx, id, roleName); err != nil {
		return err
	}
	s.logEvent(ctx, actor, "role.revoked", map[string]any{"target_id": id, "role": roleName})
	return nil
}

func (s *Service) GrantPermission(ctx context.Context, actor auth.AuthenticatedIdentity, roleName, resource, action string) (auth.Permission, error) {
	if err := s.auth.RequirePermission(ctx, actor.ID, auth.ResourceRoles, auth.ActionManage); err != nil {
		return auth.Permission{}, err
	}
	perm, err := s.auth.GrantPermission(ctx, roleName, resource, action)
	if err != nil {
		return auth.Permission{}, err
	}
	s.logEvent(ctx, actor, "permission.granted", map[string]any{"role": roleName, "permission": perm.Key()})
	return perm, nil
}

// Subscribe streams directory events until ctx ends. It needs users:read.
func (s *Service) Subscribe(ctx context.Context, actor auth.AuthenticatedIdentity) (<-chan stream.Event, error) {
	if err := s.auth.RequirePermission(ctx, actor.ID, auth.ResourceUsers, auth.ActionRead); err != nil {
		return nil, err
	}
	if s.events == nil {
		return nil, fmt.Errorf("%w: event stream disabled", auth.ErrNotFound)
	}
	return s.events.Subscribe(ctx), nil
}

func (s *Service) entry(ctx context.Context, id string) (Entry, error) {
	identity, err := s.store.IdentityByID(ctx, id)
	if err != nil {
		return Entry{}, wrapStore("lookup identity", err)
	}
	roles, err := s.store.RolesForIdentity(ctx, id)
	if err != nil {
		return Entry{}, wrapStore("load roles", err)
	}
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	return Entry{Identity: identity.Public(), Roles: names}, nil
}

func (s *Service) logEvent(ctx context.Context, actor auth.AuthenticatedIdentity, event string, fields map[string]any) {
	if err := audit.LogEvent(ctx, actor.ID, event, fields); err != nil {
		obs.Error("audit_log_failed", map[string]any{"event": event, "error": err})
	}
	if s.events != nil {
		s.events.Publish(stream.Event{
			Type:      event,
			ActorID:   actor.ID,
			RequestID: audit.RequestID(ctx),
			Fields:    fields,
			Timestamp: s.auth.Now(),
		})
	}
}

func trim(p *string) {
	if p != nil {
		*p = strings.TrimSpace(*p)
	}
}

func wrapStore(op string, err error) error {
	for _, known := range []error{auth.ErrNotFound, auth.ErrConflict, auth.ErrValidation, auth.ErrStore} {
		if errors.Is(err, known) {
			return err
		}
	}
	return &auth.StoreError{Op: op, Err: err}
}
