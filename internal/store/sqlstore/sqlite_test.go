package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"userdir.org/internal/auth"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	s, err := Open(DriverSQLite, "file:"+filepath.Join(t.TempDir(), "userdir.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.ApplySQLiteSchema(context.Background()))
	return s
}

func newSQLiteService(t *testing.T, now *time.Time) (*auth.Service, *Store) {
	t.Helper()
	s := openSQLite(t)
	svc, err := auth.NewService(s,
		auth.WithClock(func() time.Time { return *now }),
		auth.WithHasher(auth.NewBcryptHasher(bcrypt.MinCost)),
	)
	require.NoError(t, err)
	require.NoError(t, svc.ApplyPolicy(context.Background(), auth.DefaultPolicy()))
	return svc, s
}

func TestSQLiteSchemaIsIdempotent(t *testing.T) {
	s := openSQLite(t)
	require.NoError(t, s.ApplySQLiteSchema(context.Background()))
	require.NoError(t, s.Ping(context.Background()))
}

func TestSQLiteLoginLifecycle(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	svc, s := newSQLiteService(t, &now)

	alice, err := svc.Register(ctx, auth.RegisterRequest{Email: "alice@example.com", Password: "secret123", GivenName: "Alice"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, auth.RegisterRequest{Email: "alice@example.com", Password: "x"})
	require.ErrorIs(t, err, auth.ErrConflict)

	for i := 0; i < 3; i++ {
		_, err := svc.Login(ctx, "alice@example.com", "wrong")
		require.ErrorIs(t, err, auth.ErrInvalidCredentials)
	}
	entries, err := s.AuditForIdentity(ctx, alice.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3, "failed attempts must be committed")
	for _, e := range entries {
		require.False(t, e.Success)
		require.Equal(t, auth.ReasonBadPassword, e.Reason)
	}

	res, err := svc.Login(ctx, "alice@example.com", "secret123")
	require.NoError(t, err)
	require.True(t, res.ExpiresAt.Equal(now.Add(24*time.Hour)))

	sess, err := s.SessionByToken(ctx, res.Token)
	require.NoError(t, err)
	require.True(t, sess.Active)
	require.Equal(t, alice.ID, sess.IdentityID)
	require.True(t, sess.ExpiresAt.Equal(res.ExpiresAt))

	got, err := svc.Validate(ctx, res.Token)
	require.NoError(t, err)
	require.Equal(t, alice.ID, got.ID)

	require.ErrorIs(t, svc.RequirePermission(ctx, alice.ID, auth.ResourceUsers, auth.ActionDelete), auth.ErrPermissionDenied)
	_, err = svc.AssignRoleByName(ctx, alice.ID, auth.RoleAdmin)
	require.NoError(t, err)
	require.NoError(t, svc.RequirePermission(ctx, alice.ID, auth.ResourceUsers, auth.ActionDelete))

	require.NoError(t, svc.Logout(ctx, res.Token))
	require.NoError(t, svc.Logout(ctx, res.Token))
	_, err = svc.Validate(ctx, res.Token)
	require.ErrorIs(t, err, auth.ErrInvalidSession)

	entries, err = s.AuditForIdentity(ctx, alice.ID, 2)
	require.NoError(t, err)
	require.Equal(t, auth.ReasonLogout, entries[0].Reason)
	require.Equal(t, auth.ReasonLogin, entries[1].Reason)
}

func TestSQLiteUnknownEmailAuditHasNoIdentity(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	svc, s := newSQLiteService(t, &now)

	_, err := svc.Login(ctx, "ghost@example.com", "pw")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)

	var (
		count int
		email string
	)
	require.NoError(t, s.DB().QueryRowContext(ctx,
		`select count(*), max(email) from audit_entries where identity_id is null`).Scan(&count, &email))
	require.Equal(t, 1, count)
	require.Equal(t, "ghost@example.com", email)
}

func TestSQLiteExpiryBoundary(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	svc, _ := newSQLiteService(t, &now)

	_, err := svc.Register(ctx, auth.RegisterRequest{Email: "e@example.com", Password: "pw"})
	require.NoError(t, err)
	res, err := svc.Login(ctx, "e@example.com", "pw")
	require.NoError(t, err)

	now = res.ExpiresAt.Add(-time.Millisecond)
	_, err = svc.Validate(ctx, res.Token)
	require.NoError(t, err)

	now = res.ExpiresAt
	_, err = svc.Validate(ctx, res.Token)
	require.ErrorIs(t, err, auth.ErrInvalidSession)

	n, err := svc.PruneSessions(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestSQLiteConstraintsAndCascade(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	id := auth.Identity{ID: "01A", Email: "a@example.com", PasswordHash: "h", Active: true, CreatedAt: now, ModifiedAt: now}
	require.NoError(t, s.CreateIdentity(ctx, id))
	require.ErrorIs(t, s.CreateIdentity(ctx, auth.Identity{ID: "01B", Email: "a@example.com", PasswordHash: "h", CreatedAt: now, ModifiedAt: now}), auth.ErrConflict)

	require.ErrorIs(t, s.CreateSession(ctx, auth.Session{Token: "t0", IdentityID: "missing", ExpiresAt: now, CreatedAt: now}), auth.ErrNotFound)
	require.NoError(t, s.CreateSession(ctx, auth.Session{Token: "t1", IdentityID: id.ID, Active: true, ExpiresAt: now.Add(time.Hour), CreatedAt: now}))

	require.NoError(t, s.CreateRole(ctx, auth.Role{ID: "r1", Name: "user"}))
	require.ErrorIs(t, s.CreateRole(ctx, auth.Role{ID: "r2", Name: "user"}), auth.ErrConflict)
	require.NoError(t, s.AssignRole(ctx, id.ID, "r1"))
	require.NoError(t, s.AssignRole(ctx, id.ID, "r1"))
	require.ErrorIs(t, s.AssignRole(ctx, id.ID, "nope"), auth.ErrNotFound)

	p1, err := s.EnsurePermission(ctx, auth.Permission{ID: "p1", Resource: "users", Action: "read"})
	require.NoError(t, err)
	p2, err := s.EnsurePermission(ctx, auth.Permission{ID: "p2", Resource: "users", Action: "read"})
	require.NoError(t, err)
	require.Equal(t, p1.ID, p2.ID)
	require.NoError(t, s.GrantPermission(ctx, "r1", p1.ID))
	require.NoError(t, s.GrantPermission(ctx, "r1", p1.ID))

	perms, err := s.PermissionsForIdentity(ctx, id.ID)
	require.NoError(t, err)
	require.Len(t, perms, 1)

	require.NoError(t, s.AppendAudit(ctx, auth.AuditEntry{ID: "e1", IdentityID: id.ID, Email: id.Email, Success: true, Reason: "login", OccurredAt: now}))

	require.NoError(t, s.DeleteIdentity(ctx, id.ID))
	_, err = s.SessionByToken(ctx, "t1")
	require.ErrorIs(t, err, auth.ErrNotFound)
	roles, err := s.RolesForIdentity(ctx, id.ID)
	require.NoError(t, err)
	require.Empty(t, roles)
	entries, err := s.AuditForIdentity(ctx, id.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1, "audit survives identity deletion")
	require.ErrorIs(t, s.DeleteIdentity(ctx, id.ID), auth.ErrNotFound)
}

func TestSQLiteUpdateAndList(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	for _, id := range []string{"01C", "01A", "01B"} {
		require.NoError(t, s.CreateIdentity(ctx, auth.Identity{ID: id, Email: id + "@example.com", PasswordHash: "h", Active: true, CreatedAt: now, ModifiedAt: now}))
	}

	name := "Grace"
	inactive := false
	later := now.Add(time.Minute)
	got, err := s.UpdateIdentity(ctx, "01B", auth.IdentityUpdate{GivenName: &name, Active: &inactive}, later)
	require.NoError(t, err)
	require.Equal(t, "Grace", got.GivenName)
	require.Equal(t, "", got.FamilyName)
	require.False(t, got.Active)
	require.True(t, got.ModifiedAt.Equal(later))

	_, err = s.UpdateIdentity(ctx, "missing", auth.IdentityUpdate{GivenName: &name}, later)
	require.ErrorIs(t, err, auth.ErrNotFound)

	page, total, err := s.ListIdentities(ctx, auth.Page{Number: 1, Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, page, 2)
	require.Equal(t, "01A", page[0].ID)
	require.Equal(t, "01B", page[1].ID)

	page, _, err = s.ListIdentities(ctx, auth.Page{Number: 2, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "01C", page[0].ID)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn")
	require.Error(t, err)
}

func TestSQLiteDSN(t *testing.T) {
	require.Equal(t, "file:x.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", sqliteDSN("file:x.db"))
	require.Equal(t, "file:x.db?mode=rwc&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", sqliteDSN("file:x.db?mode=rwc"))
	require.Equal(t, "file:x.db?_pragma=foreign_keys(0)", sqliteDSN("file:x.db?_pragma=foreign_keys(0)"))
}
