package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"userdir.org/internal/auth"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// classify maps driver errors onto the auth sentinels. Anything else is
// returned unchanged and becomes a StoreError in the auth layer.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return fmt.Errorf("%w: %s", auth.ErrConflict, pgErr.ConstraintName)
		case pgErrForeignKeyViolation:
			return fmt.Errorf("%w: %s", auth.ErrNotFound, pgErr.ConstraintName)
		}
		return err
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %s", auth.ErrConflict, liteErr.Error())
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("%w: %s", auth.ErrNotFound, liteErr.Error())
		}
		if liteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
			msg := liteErr.Error()
			switch {
			case strings.Contains(msg, "UNIQUE"):
				return fmt.Errorf("%w: %s", auth.ErrConflict, msg)
			case strings.Contains(msg, "FOREIGN KEY"):
				return fmt.Errorf("%w: %s", auth.ErrNotFound, msg)
			}
		}
	}
	return err
}
