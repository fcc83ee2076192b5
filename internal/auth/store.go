package auth

import (
	"context"
	"time"
)

// Queries is the set of store operations used by the auth subsystem. Methods
// return ErrNotFound for missing rows and ErrConflict for unique violations.
type Queries interface {
	IdentityByEmail(ctx context.Context, email string) (Identity, error)
	IdentityByID(ctx context.Context, id string) (Identity, error)
	CreateIdentity(ctx context.Context, identity Identity) error
	UpdateIdentity(ctx context.Context, id string, upd IdentityUpdate, modifiedAt time.Time) (Identity, error)
	DeleteIdentity(ctx context.Context, id string) error
	ListIdentities(ctx context.Context, page Page) ([]Identity, int, error)

	CreateSession(ctx context.Context, session Session) error
	SessionByToken(ctx context.Context, token string) (Session, error)
	DeactivateSession(ctx context.Context, token string) error
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error)

	CreateRole(ctx context.Context, role Role) error
	RoleByName(ctx context.Context, name string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	EnsurePermission(ctx context.Context, perm Permission) (Permission, error)
	GrantPermission(ctx context.Context, roleID, permissionID string) error
	AssignRole(ctx context.Context, identityID, roleID string) error
	RevokeRole(ctx context.Context, identityID, roleID string) error
	RolesForIdentity(ctx context.Context, identityID string) ([]Role, error)
	PermissionsForIdentity(ctx context.Context, identityID string) ([]Permission, error)

	AppendAudit(ctx context.Context, entry AuditEntry) error
	AuditForIdentity(ctx context.Context, identityID string, limit int) ([]AuditEntry, error)
}

// Store adds transactions to Queries. InTx commits when fn returns nil and
// rolls back otherwise; no partial writes are ever visible.
type Store interface {
	Queries
	InTx(ctx context.Context, fn func(q Queries) error) error
}
