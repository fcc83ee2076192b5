package memory

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"userdir.org/internal/auth"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func seed(t *testing.T) (*Store, auth.Identity, auth.Role) {
	t.Helper()
	ctx := context.Background()
	s := New()
	id := auth.Identity{ID: "01A", Email: "a@example.com", Active: true, CreatedAt: t0, ModifiedAt: t0}
	require.NoError(t, s.CreateIdentity(ctx, id))
	role := auth.Role{ID: "r1", Name: "user"}
	require.NoError(t, s.CreateRole(ctx, role))
	require.NoError(t, s.AssignRole(ctx, id.ID, role.ID))
	return s, id, role
}

func TestInTxRollsBackOnError(t *testing.T) {
	s, _, _ := seed(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(q auth.Queries) error {
		require.NoError(t, q.CreateIdentity(ctx, auth.Identity{ID: "01B", Email: "b@example.com"}))
		_, err := q.IdentityByEmail(ctx, "b@example.com")
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.IdentityByEmail(ctx, "b@example.com")
	require.ErrorIs(t, err, auth.ErrNotFound)
}

func TestUniqueConstraints(t *testing.T) {
	s, id, role := seed(t)
	ctx := context.Background()

	err := s.CreateIdentity(ctx, auth.Identity{ID: "01Z", Email: id.Email})
	require.ErrorIs(t, err, auth.ErrConflict)
	err = s.CreateRole(ctx, auth.Role{ID: "r9", Name: role.Name})
	require.ErrorIs(t, err, auth.ErrConflict)

	p1, err := s.EnsurePermission(ctx, auth.Permission{ID: "p1", Resource: "users", Action: "read"})
	require.NoError(t, err)
	p2, err := s.EnsurePermission(ctx, auth.Permission{ID: "p2", Resource: "users", Action: "read"})
	require.NoError(t, err)
	require.Equal(t, p1.ID, p2.ID)
}

func TestForeignKeys(t *testing.T) {
	s, id, _ := seed(t)
	ctx := context.Background()

	err := s.CreateSession(ctx, auth.Session{Token: "t", IdentityID: "missing"})
	require.ErrorIs(t, err, auth.ErrNotFound)
	err = s.AssignRole(ctx, id.ID, "missing")
	require.ErrorIs(t, err, auth.ErrNotFound)
	err = s.GrantPermission(ctx, "missing", "p")
	require.ErrorIs(t, err, auth.ErrNotFound)
}

func TestDeleteIdentityCascades(t *testing.T) {
	s, id, _ := seed(t)
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, auth.Session{Token: "tok", IdentityID: id.ID, Active: true, ExpiresAt: t0.Add(time.Hour)}))
	require.NoError(t, s.AppendAudit(ctx, auth.AuditEntry{ID: "e1", IdentityID: id.ID, Email: id.Email, Success: true, Reason: "login"}))

	require.NoError(t, s.DeleteIdentity(ctx, id.ID))

	_, err := s.SessionByToken(ctx, "tok")
	require.ErrorIs(t, err, auth.ErrNotFound)
	roles, err := s.RolesForIdentity(ctx, id.ID)
	require.NoError(t, err)
	require.Empty(t, roles)
	require.Len(t, s.AuditLog(), 1, "audit entries are never removed")
	require.ErrorIs(t, s.DeleteIdentity(ctx, id.ID), auth.ErrNotFound)
}

func TestListIdentitiesPaginates(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, id := range []string{"03", "01", "05", "02", "04"} {
		require.NoError(t, s.CreateIdentity(ctx, auth.Identity{ID: id, Email: id + "@example.com"}))
	}

	page, total, err := s.ListIdentities(ctx, auth.Page{Number: 2, Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Len(t, page, 2)
	require.Equal(t, "03", page[0].ID)
	require.Equal(t, "04", page[1].ID)

	page, _, err = s.ListIdentities(ctx, auth.Page{Number: 9, Limit: 2})
	require.NoError(t, err)
	require.Empty(t, page)

	page, total, err = s.ListIdentities(ctx, auth.Page{Number: math.MaxInt, Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Empty(t, page)
}

func TestPageOffsetSaturates(t *testing.T) {
	require.Equal(t, 0, auth.Page{Number: 0, Limit: 10}.Offset())
	require.Equal(t, 20, auth.Page{Number: 3, Limit: 10}.Offset())
	require.Equal(t, math.MaxInt, auth.Page{Number: math.MaxInt, Limit: 10}.Offset())
}

func TestPermissionsForIdentityUnionsRoles(t *testing.T) {
	s, id, role := seed(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRole(ctx, auth.Role{ID: "r2", Name: "admin"}))
	for _, p := range []auth.Permission{
		{ID: "p1", Resource: "users", Action: "read"},
		{ID: "p2", Resource: "users", Action: "delete"},
		{ID: "p3", Resource: "profile", Action: "read"},
	} {
		_, err := s.EnsurePermission(ctx, p)
		require.NoError(t, err)
	}
	require.NoError(t, s.GrantPermission(ctx, role.ID, "p3"))
	require.NoError(t, s.GrantPermission(ctx, role.ID, "p1"))
	require.NoError(t, s.GrantPermission(ctx, "r2", "p1"))
	require.NoError(t, s.GrantPermission(ctx, "r2", "p2"))
	require.NoError(t, s.AssignRole(ctx, id.ID, "r2"))
	require.NoError(t, s.AssignRole(ctx, id.ID, "r2"))

	perms, err := s.PermissionsForIdentity(ctx, id.ID)
	require.NoError(t, err)
	keys := make([]string, 0, len(perms))
	for _, p := range perms {
		keys = append(keys, p.Key())
	}
	require.Equal(t, []string{"profile:read", "users:delete", "users:read"}, keys)

	require.NoError(t, s.RevokeRole(ctx, id.ID, "r2"))
	require.ErrorIs(t, s.RevokeRole(ctx, id.ID, "r2"), auth.ErrNotFound)
}

func TestSessionsAndAudit(t *testing.T) {
	s, id, _ := seed(t)
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, auth.Session{Token: "old", IdentityID: id.ID, Active: true, ExpiresAt: t0}))
	require.NoError(t, s.CreateSession(ctx, auth.Session{Token: "new", IdentityID: id.ID, Active: true, ExpiresAt: t0.Add(time.Hour)}))
	require.ErrorIs(t, s.CreateSession(ctx, auth.Session{Token: "new", IdentityID: id.ID}), auth.ErrConflict)

	require.NoError(t, s.DeactivateSession(ctx, "new"))
	sess, err := s.SessionByToken(ctx, "new")
	require.NoError(t, err)
	require.False(t, sess.Active)

	n, err := s.DeleteExpiredSessions(ctx, t0)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	for i, reason := range []string{"a", "b", "c"} {
		require.NoError(t, s.AppendAudit(ctx, auth.AuditEntry{ID: string(rune('x' + i)), IdentityID: id.ID, Reason: reason}))
	}
	entries, err := s.AuditForIdentity(ctx, id.ID, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "c", entries[0].Reason)
	require.Equal(t, "b", entries[1].Reason)
}
