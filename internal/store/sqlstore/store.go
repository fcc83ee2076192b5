// Package sqlstore implements auth.Store over database/sql for PostgreSQL
// (pgx) and SQLite (modernc). Queries use $n placeholders only.
package sqlstore

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"userdir.org/internal/auth"
)

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

// SQLiteSchema creates the full schema on SQLite. PostgreSQL is migrated by
// internal/migrate instead.
//
//go:embed schema/sqlite.sql
var SQLiteSchema string

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the SQL implementation of auth.Store.
type Store struct {
	queries
	db     *sql.DB
	driver string
}

var _ auth.Store = (*Store)(nil)

// Open connects to the database and tunes the pool for the driver.
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverPostgres:
	case DriverSQLite:
		dsn = sqliteDSN(dsn)
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// Single writer; a second connection would see SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(15 * time.Minute)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}
	return New(db, driver), nil
}

func sqliteDSN(dsn string) string {
	if dsn == "" {
		dsn = "file:userdir.db"
	}
	if strings.Contains(dsn, "foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// New wraps an existing handle. driver selects error mapping only.
func New(db *sql.DB, driver string) *Store {
	return &Store{queries: queries{q: db}, db: db, driver: driver}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Driver() string { return s.driver }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ApplySQLiteSchema creates missing tables on a SQLite database.
func (s *Store) ApplySQLiteSchema(ctx context.Context) error {
	if s.driver != DriverSQLite {
		return fmt.Errorf("sqlstore: schema bootstrap is sqlite only, use migrate for %s", s.driver)
	}
	for _, stmt := range strings.Split(SQLiteSchema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// InTx runs fn in a read-committed transaction and commits when it returns nil.
func (s *Store) InTx(ctx context.Context, fn func(q auth.Queries) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: isolation(s.driver)})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&queries{q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func isolation(driver string) sql.IsolationLevel {
	if driver == DriverSQLite {
		return sql.LevelDefault
	}
	return sql.LevelReadCommitted
}

type queries struct {
	q execer
}

const identityColumns = `id, email, password_hash, given_name, family_name, active, created_at, modified_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row scanner) (auth.Identity, error) {
	var i auth.Identity
	err := row.Scan(&i.ID, &i.Email, &i.PasswordHash, &i.GivenName, &i.FamilyName, &i.Active, &i.CreatedAt, &i.ModifiedAt)
	if err != nil {
		return auth.Identity{}, classify(err)
	}
	i.CreatedAt = i.CreatedAt.UTC()
	i.ModifiedAt = i.ModifiedAt.UTC()
	return i, nil
}

func (s *queries) IdentityByEmail(ctx context.Context, email string) (auth.Identity, error) {
	return scanIdentity(s.q.QueryRowContext(ctx, `select `+identityColumns+` from identities where email = $1`, email))
}

func (s *queries) IdentityByID(ctx context.Context, id string) (auth.Identity, error) {
	return scanIdentity(s.q.QueryRowContext(ctx, `select `+identityColumns+` from identities where id = $1`, id))
}

func (s *queries) CreateIdentity(ctx context.Context, i auth.Identity) error {
	_, err := s.q.ExecContext(ctx, `
		insert into identities (id, email, password_hash, given_name, family_name, active, created_at, modified_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, i.ID, i.Email, i.PasswordHash, i.GivenName, i.FamilyName, i.Active, i.CreatedAt.UTC(), i.ModifiedAt.UTC())
	return classify(err)
}

func (s *queries) UpdateIdentity(ctx context.Context, id string, upd auth.IdentityUpdate, modifiedAt time.Time) (auth.Identity, error) {
	res, err := s.q.ExecContext(ctx, `
		update identities
		set given_name = coalesce($1, given_name),
		    family_name = coalesce($2, family_name),
		    active = coalesce($3, active),
		    modified_at = $4
		where id = $5
	`, nullString(upd.GivenName), nullString(upd.FamilyName), nullBool(upd.Active), modifiedAt.UTC(), id)
	if err := affected(res, err); err != nil {
		return auth.Identity{}, err
	}
	return s.IdentityByID(ctx, id)
}

func (s *queries) DeleteIdentity(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `delete from identities where id = $1`, id)
	return affected(res, err)
}

func (s *queries) ListIdentities(ctx context.Context, page auth.Page) ([]auth.Identity, int, error) {
	var total int
	if err := s.q.QueryRowContext(ctx, `select count(*) from identities`).Scan(&total); err != nil {
		return nil, 0, classify(err)
	}
	limit := page.Limit
	if limit <= 0 {
		limit = total
	}
	rows, err := s.q.QueryContext(ctx, `select `+identityColumns+` from identities order by id limit $1 offset $2`, limit, page.Offset())
	if err != nil {
		return nil, 0, classify(err)
	}
	defer rows.Close()

	var out []auth.Identity
	for rows.Next() {
		i, err := scanIdentity(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, i)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *queries) CreateSession(ctx context.Context, sess auth.Session) error {
	_, err := s.q.ExecContext(ctx, `
		insert into sessions (token, identity_id, expires_at, active, created_at)
		values ($1, $2, $3, $4, $5)
	`, sess.Token, sess.IdentityID, sess.ExpiresAt.UTC(), sess.Active, sess.CreatedAt.UTC())
	return classify(err)
}

func (s *queries) SessionByToken(ctx context.Context, token string) (auth.Session, error) {
	var sess auth.Session
	err := s.q.QueryRowContext(ctx, `
		select token, identity_id, expires_at, active, created_at
		from sessions
		where token = $1
	`, token).Scan(&sess.Token, &sess.IdentityID, &sess.ExpiresAt, &sess.Active, &sess.CreatedAt)
	if err != nil {
		return auth.Session{}, classify(err)
	}
	sess.ExpiresAt = sess.ExpiresAt.UTC()
	sess.CreatedAt = sess.CreatedAt.UTC()
	return sess, nil
}

func (s *queries) DeactivateSession(ctx context.Context, token string) error {
	res, err := s.q.ExecContext(ctx, `update sessions set active = $1 where token = $2`, false, token)
	return affected(res, err)
}

func (s *queries) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx, `delete from sessions where expires_at <= $1`, before.UTC())
	if err != nil {
		return 0, classify(err)
	}
	return res.RowsAffected()
}

func (s *queries) CreateRole(ctx context.Context, r auth.Role) error {
	_, err := s.q.ExecContext(ctx, `insert into roles (id, name, description) values ($1, $2, $3)`, r.ID, r.Name, r.Description)
	return classify(err)
}

func (s *queries) RoleByName(ctx context.Context, name string) (auth.Role, error) {
	var r auth.Role
	err := s.q.QueryRowContext(ctx, `select id, name, description from roles where name = $1`, name).
		Scan(&r.ID, &r.Name, &r.Description)
	if err != nil {
		return auth.Role{}, classify(err)
	}
	return r, nil
}

func (s *queries) ListRoles(ctx context.Context) ([]auth.Role, error) {
	return s.roles(ctx, `select id, name, description from roles order by name`)
}

func (s *queries) RolesForIdentity(ctx context.Context, identityID string) ([]auth.Role, error) {
	return s.roles(ctx, `
		select r.id, r.name, r.description
		from roles r
		join identity_roles ir on ir.role_id = r.id
		where ir.identity_id = $1
		order by r.name
	`, identityID)
}

func (s *queries) roles(ctx context.Context, query string, args ...any) ([]auth.Role, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var out []auth.Role
	for rows.Next() {
		var r auth.Role
		if err := rows.Scan(&r.ID, &r.Name, &r.Description); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *queries) EnsurePermission(ctx context.Context, p auth.Permission) (auth.Permission, error) {
	if _, err := s.q.ExecContext(ctx, `
		insert into permissions (id, resource, action, description)
		values ($1, $2, $3, $4)
		on conflict (resource, action) do nothing
	`, p.ID, p.Resource, p.Action, p.Description); err != nil {
		return auth.Permission{}, classify(err)
	}
	var out auth.Permission
	err := s.q.QueryRowContext(ctx, `
		select id, resource, action, description
		from permissions
		where resource = $1 and action = $2
	`, p.Resource, p.Action).Scan(&out.ID, &out.Resource, &out.Action, &out.Description)
	if err != nil {
		return auth.Permission{}, classify(err)
	}
	return out, nil
}

func (s *queries) GrantPermission(ctx context.Context, roleID, permissionID string) error {
	_, err := s.q.ExecContext(ctx, `
		insert into role_permissions (role_id, permission_id)
		values ($1, $2)
		on conflict (role_id, permission_id) do nothing
	`, roleID, permissionID)
	return classify(err)
}

func (s *queries) AssignRole(ctx context.Context, identityID, roleID string) error {
	_, err := s.q.ExecContext(ctx, `
		insert into identity_roles (identity_id, role_id)
		values ($1, $2)
		on conflict (identity_id, role_id) do nothing
	`, identityID, roleID)
	return classify(err)
}

func (s *queries) RevokeRole(ctx context.Context, identityID, roleID string) error {
	res, err := s.q.ExecContext(ctx, `delete from identity_roles where identity_id = $1 and role_id = $2`, identityID, roleID)
	return affected(res, err)
}

func (s *queries) PermissionsForIdentity(ctx context.Context, identityID string) ([]auth.Permission, error) {
	rows, err := s.q.QueryContext(ctx, `
		select distinct p.id, p.resource, p.action, p.description
		from permissions p
		join role_permissions rp on rp.permission_id = p.id
		join identity_roles ir on ir.role_id = rp.role_id
		where ir.identity_id = $1
		order by p.resource, p.action
	`, identityID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var out []auth.Permission
	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(&p.ID, &p.Resource, &p.Action, &p.Description); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *queries) AppendAudit(ctx context.Context, e auth.AuditEntry) error {
	_, err := s.q.ExecContext(ctx, `
		insert into audit_entries (id, identity_id, email, success, reason, occurred_at)
		values ($1, $2, $3, $4, $5, $6)
	`, e.ID, nullIfEmpty(e.IdentityID), e.Email, e.Success, e.Reason, e.OccurredAt.UTC())
	return classify(err)
}

func (s *queries) AuditForIdentity(ctx context.Context, identityID string, limit int) ([]auth.AuditEntry, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.q.QueryContext(ctx, `
		select id, identity_id, email, success, reason, occurred_at
		from audit_entries
		where identity_id = $1
		order by occurred_at desc, id desc
		limit $2
	`, identityID, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var out []auth.AuditEntry
	for rows.Next() {
		var (
			e   auth.AuditEntry
			uid sql.NullString
		)
		if err := rows.Scan(&e.ID, &uid, &e.Email, &e.Success, &e.Reason, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.IdentityID = uid.String
		e.OccurredAt = e.OccurredAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func affected(res sql.Result, err error) error {
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullBool(p *bool) sql.NullBool {
	if p == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *p, Valid: true}
}
