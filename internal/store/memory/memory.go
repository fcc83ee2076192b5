// Package memory is an in-process auth.Store used by tests and by the API in
// ephemeral mode. Transactions run on a copy of the state that replaces the
// live state on commit.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"userdir.org/internal/auth"
)

type set map[string]struct{}

type state struct {
	identities    map[string]auth.Identity
	emails        map[string]string
	sessions      map[string]auth.Session
	roles         map[string]auth.Role
	roleNames     map[string]string
	perms         map[string]auth.Permission
	permKeys      map[string]string
	rolePerms     map[string]set
	identityRoles map[string]set
	audit         []auth.AuditEntry
}

func newState() *state {
	return &state{
		identities:    map[string]auth.Identity{},
		emails:        map[string]string{},
		sessions:      map[string]auth.Session{},
		roles:         map[string]auth.Role{},
		roleNames:     map[string]string{},
		perms:         map[string]auth.Permission{},
		permKeys:      map[string]string{},
		rolePerms:     map[string]set{},
		identityRoles: map[string]set{},
	}
}

func copyMap[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyJoin(in map[string]set) map[string]set {
	out := make(map[string]set, len(in))
	for k, v := range in {
		inner := make(set, len(v))
		for id := range v {
			inner[id] = struct{}{}
		}
		out[k] = inner
	}
	return out
}

func (s *state) clone() *state {
	return &state{
		identities:    copyMap(s.identities),
		emails:        copyMap(s.emails),
		sessions:      copyMap(s.sessions),
		roles:         copyMap(s.roles),
		roleNames:     copyMap(s.roleNames),
		perms:         copyMap(s.perms),
		permKeys:      copyMap(s.permKeys),
		rolePerms:     copyJoin(s.rolePerms),
		identityRoles: copyJoin(s.identityRoles),
		audit:         append([]auth.AuditEntry(nil), s.audit...),
	}
}

// Store guards a state with a mutex. Transactions are serialised.
type Store struct {
	mu sync.Mutex
	st *state
}

var _ auth.Store = (*Store)(nil)

func New() *Store {
	return &Store{st: newState()}
}

// InTx runs fn against a snapshot and publishes it only when fn returns nil.
// fn must use q exclusively; calling the Store itself would deadlock.
func (s *Store) InTx(ctx context.Context, fn func(q auth.Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.st.clone()
	if err := fn(&tx{st: snapshot}); err != nil {
		return err
	}
	s.st = snapshot
	return nil
}

func (s *Store) view() *tx {
	return &tx{st: s.st}
}

func (s *Store) IdentityByEmail(ctx context.Context, email string) (auth.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().IdentityByEmail(ctx, email)
}

func (s *Store) IdentityByID(ctx context.Context, id string) (auth.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().IdentityByID(ctx, id)
}

func (s *Store) CreateIdentity(ctx context.Context, identity auth.Identity) error {
	return s.InTx(ctx, func(q auth.Queries) error { return q.CreateIdentity(ctx, identity) })
}

func (s *Store) UpdateIdentity(ctx context.Context, id string, upd auth.IdentityUpdate, modifiedAt time.Time) (auth.Identity, error) {
	var out auth.Identity
	err := s.InTx(ctx, func(q auth.Queries) error {
		var err error
		out, err = q.UpdateIdentity(ctx, id, upd, modifiedAt)
		return err
	})
	return out, err
}

func (s *Store) DeleteIdentity(ctx context.Context, id string) error {
	return s.InTx(ctx, func(q auth.Queries) error { return q.DeleteIdentity(ctx, id) })
}

func (s *Store) ListIdentities(ctx context.Context, page auth.Page) ([]auth.Identity, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().ListIdentities(ctx, page)
}

func (s *Store) CreateSession(ctx context.Context, session auth.Session) error {
	return s.InTx(ctx, func(q auth.Queries) error { return q.CreateSession(ctx, session) })
}

func (s *Store) SessionByToken(ctx context.Context, token string) (auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().SessionByToken(ctx, token)
}

func (s *Store) DeactivateSession(ctx context.Context, token string) error {
	return s.InTx(ctx, func(q auth.Queries) error { return q.DeactivateSession(ctx, token) })
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := s.InTx(ctx, func(q auth.Queries) error {
		var err error
		n, err = q.DeleteExpiredSessions(ctx, before)
		return err
	})
	return n, err
}

func (s *Store) CreateRole(ctx context.Context, role auth.Role) error {
	return s.InTx(ctx, func(q auth.Queries) error { return q.CreateRole(ctx, role) })
}

func (s *Store) RoleByName(ctx context.Context, name string) (auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().RoleByName(ctx, name)
}

func (s *Store) ListRoles(ctx context.Context) ([]auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().ListRoles(ctx)
}

func (s *Store) EnsurePermission(ctx context.Context, perm auth.Permission) (auth.Permission, error) {
	var out auth.Permission
	err := s.InTx(ctx, func(q auth.Queries) error {
		var err error
		out, err = q.EnsurePermission(ctx, perm)
		return err
	})
	return out, err
}

func (s *Store) GrantPermission(ctx context.Context, roleID, permissionID string) error {
	return s.InTx(ctx, func(q auth.Queries) error { return q.GrantPermission(ctx, roleID, permissionID) })
}

func (s *Store) AssignRole(ctx context.Context, identityID, roleID string) error {
	return s.InTx(ctx, func(q auth.Queries) error { return q.AssignRole(ctx, identityID, roleID) })
}

func (s *Store) RevokeRole(ctx context.Context, identityID, roleID string) error {
	return s.InTx(ctx, func(q auth.Queries) error { return q.RevokeRole(ctx, identityID, roleID) })
}

func (s *Store) RolesForIdentity(ctx context.Context, identityID string) ([]auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().RolesForIdentity(ctx, identityID)
}

func (s *Store) PermissionsForIdentity(ctx context.Context, identityID string) ([]auth.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().PermissionsForIdentity(ctx, identityID)
}

func (s *Store) AppendAudit(ctx context.Context, entry auth.AuditEntry) error {
	return s.InTx(ctx, func(q auth.Queries) error { return q.AppendAudit(ctx, entry) })
}

func (s *Store) AuditForIdentity(ctx context.Context, identityID string, limit int) ([]auth.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().AuditForIdentity(ctx, identityID, limit)
}

// AuditLog returns every audit entry in append order.
func (s *Store) AuditLog() []auth.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]auth.AuditEntry(nil), s.st.audit...)
}

// Sessions returns all stored sessions for an identity.
func (s *Store) Sessions(identityID string) []auth.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.Session
	for _, sess := range s.st.sessions {
		if sess.IdentityID == identityID {
			out = append(out, sess)
		}
	}
	return out
}

// tx is the unlocked view used inside a transaction.
type tx struct {
	st *state
}

func (t *tx) IdentityByEmail(_ context.Context, email string) (auth.Identity, error) {
	id, ok := t.st.emails[email]
	if !ok {
		return auth.Identity{}, auth.ErrNotFound
	}
	return t.st.identities[id], nil
}

func (t *tx) IdentityByID(_ context.Context, id string) (auth.Identity, error) {
	identity, ok := t.st.identities[id]
	if !ok {
		return auth.Identity{}, auth.ErrNotFound
	}
	return identity, nil
}

func (t *tx) CreateIdentity(_ context.Context, identity auth.Identity) error {
	if _, ok := t.st.identities[identity.ID]; ok {
		return fmt.Errorf("%w: identity %s", auth.ErrConflict, identity.ID)
	}
	if _, ok := t.st.emails[identity.Email]; ok {
		return fmt.Errorf("%w: email %s", auth.ErrConflict, identity.Email)
	}
	t.st.identities[identity.ID] = identity
	t.st.emails[identity.Email] = identity.ID
	return nil
}

func (t *tx) UpdateIdentity(_ context.Context, id string, upd auth.IdentityUpdate, modifiedAt time.Time) (auth.Identity, error) {
	identity, ok := t.st.identities[id]
	if !ok {
		return auth.Identity{}, auth.ErrNotFound
	}
	if upd.GivenName != nil {
		identity.GivenName = *upd.GivenName
	}
	if upd.FamilyName != nil {
		identity.FamilyName = *upd.FamilyName
	}
	if upd.Active != nil {
		identity.Active = *upd.Active
	}
	identity.ModifiedAt = modifiedAt
	t.st.identities[id] = identity
	return identity, nil
}

func (t *tx) DeleteIdentity(_ context.Context, id string) error {
	identity, ok := t.st.identities[id]
	if !ok {
		return auth.ErrNotFound
	}
	delete(t.st.identities, id)
	delete(t.st.emails, identity.Email)
	delete(t.st.identityRoles, id)
	for token, sess := range t.st.sessions {
		if sess.IdentityID == id {
			delete(t.st.sessions, token)
		}
	}
	return nil
}

func (t *tx) ListIdentities(_ context.Context, page auth.Page) ([]auth.Identity, int, error) {
	all := make([]auth.Identity, 0, len(t.st.identities))
	for _, identity := range t.st.identities {
		all = append(all, identity)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total := len(all)
	start := page.Offset()
	if start < 0 || start > total {
		start = total
	}
	end := total
	if page.Limit > 0 && page.Limit < end-start {
		end = start + page.Limit
	}
	return all[start:end], total, nil
}

func (t *tx) CreateSession(_ context.Context, session auth.Session) error {
	if _, ok := t.st.identities[session.IdentityID]; !ok {
		return fmt.Errorf("%w: identity %s", auth.ErrNotFound, session.IdentityID)
	}
	if _, ok := t.st.sessions[session.Token]; ok {
		return fmt.Errorf("%w: session token", auth.ErrConflict)
	}
	t.st.sessions[session.Token] = session
	return nil
}

func (t *tx) SessionByToken(_ context.Context, token string) (auth.Session, error) {
	sess, ok := t.st.sessions[token]
	if !ok {
		return auth.Session{}, auth.ErrNotFound
	}
	return sess, nil
}

func (t *tx) DeactivateSession(_ context.Context, token string) error {
	sess, ok := t.st.sessions[token]
	if !ok {
		return auth.ErrNotFound
	}
	sess.Active = false
	t.st.sessions[token] = sess
	return nil
}

func (t *tx) DeleteExpiredSessions(_ context.Context, before time.Time) (int64, error) {
	var n int64
	for token, sess := range t.st.sessions {
		if !sess.ExpiresAt.After(before) {
			delete(t.st.sessions, token)
			n++
		}
	}
	return n, nil
}

func (t *tx) CreateRole(_ context.Context, role auth.Role) error {
	if _, ok := t.st.roleNames[role.Name]; ok {
		return fmt.Errorf("%w: role %s", auth.ErrConflict, role.Name)
	}
	if _, ok := t.st.roles[role.ID]; ok {
		return fmt.Errorf("%w: role %s", auth.ErrConflict, role.ID)
	}
	t.st.roles[role.ID] = role
	t.st.roleNames[role.Name] = role.ID
	return nil
}

func (t *tx) RoleByName(_ context.Context, name string) (auth.Role, error) {
	id, ok := t.st.roleNames[name]
	if !ok {
		return auth.Role{}, auth.ErrNotFound
	}
	return t.st.roles[id], nil
}

func (t *tx) ListRoles(_ context.Context) ([]auth.Role, error) {
	out := make([]auth.Role, 0, len(t.st.roles))
	for _, r := range t.st.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (t *tx) EnsurePermission(_ context.Context, perm auth.Permission) (auth.Permission, error) {
	if id, ok := t.st.permKeys[perm.Key()]; ok {
		return t.st.perms[id], nil
	}
	t.st.perms[perm.ID] = perm
	t.st.permKeys[perm.Key()] = perm.ID
	return perm, nil
}

func (t *tx) GrantPermission(_ context.Context, roleID, permissionID string) error {
	if _, ok := t.st.roles[roleID]; !ok {
		return fmt.Errorf("%w: role %s", auth.ErrNotFound, roleID)
	}
	if _, ok := t.st.perms[permissionID]; !ok {
		return fmt.Errorf("%w: permission %s", auth.ErrNotFound, permissionID)
	}
	addJoin(t.st.rolePerms, roleID, permissionID)
	return nil
}

func (t *tx) AssignRole(_ context.Context, identityID, roleID string) error {
	if _, ok := t.st.identities[identityID]; !ok {
		return fmt.Errorf("%w: identity %s", auth.ErrNotFound, identityID)
	}
	if _, ok := t.st.roles[roleID]; !ok {
		return fmt.Errorf("%w: role %s", auth.ErrNotFound, roleID)
	}
	addJoin(t.st.identityRoles, identityID, roleID)
	return nil
}

func (t *tx) RevokeRole(_ context.Context, identityID, roleID string) error {
	if _, ok := t.st.identityRoles[identityID][roleID]; !ok {
		return auth.ErrNotFound
	}
	delete(t.st.identityRoles[identityID], roleID)
	return nil
}

func (t *tx) RolesForIdentity(_ context.Context, identityID string) ([]auth.Role, error) {
	out := make([]auth.Role, 0, len(t.st.identityRoles[identityID]))
	for roleID := range t.st.identityRoles[identityID] {
		out = append(out, t.st.roles[roleID])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (t *tx) PermissionsForIdentity(_ context.Context, identityID string) ([]auth.Permission, error) {
	seen := set{}
	var out []auth.Permission
	for roleID := range t.st.identityRoles[identityID] {
		for permID := range t.st.rolePerms[roleID] {
			if _, ok := seen[permID]; ok {
				continue
			}
			seen[permID] = struct{}{}
			out = append(out, t.st.perms[permID])
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Resource != out[j].Resource {
			return out[i].Resource < out[j].Resource
		}
		return out[i].Action < out[j].Action
	})
	return out, nil
}

func (t *tx) AppendAudit(_ context.Context, entry auth.AuditEntry) error {
	t.st.audit = append(t.st.audit, entry)
	return nil
}

func (t *tx) AuditForIdentity(_ context.Context, identityID string, limit int) ([]auth.AuditEntry, error) {
	var out []auth.AuditEntry
	for i := len(t.st.audit) - 1; i >= 0; i-- {
		if t.st.audit[i].IdentityID != identityID {
			continue
		}
		out = append(out, t.st.audit[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func addJoin(m map[string]set, left, right string) {
	if m[left] == nil {
		m[left] = set{}
	}
	m[left][right] = struct{}{}
}
