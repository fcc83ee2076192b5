// Package store selects and opens the identity store backend.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"userdir.org/internal/auth"
	"userdir.org/internal/store/memory"
	"userdir.org/internal/store/sqlstore"
)

const DriverMemory = "memory"

// Handle is an opened store. DB is nil for the in-memory backend.
type Handle struct {
	auth.Store
	DB     *sql.DB
	Driver string
}

// Open returns a store for driver. SQLite databases get the schema created on
// first use; PostgreSQL is expected to be migrated already and is pinged.
func Open(ctx context.Context, driver, dsn string) (*Handle, error) {
	switch driver {
	case DriverMemory:
		return &Handle{Store: memory.New(), Driver: driver}, nil
	case sqlstore.DriverSQLite, sqlstore.DriverPostgres:
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", driver)
	}

	s, err := sqlstore.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == sqlstore.DriverSQLite {
		err = s.ApplySQLiteSchema(ctx)
	} else {
		err = s.Ping(ctx)
	}
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return &Handle{Store: s, DB: s.DB(), Driver: driver}, nil
}

// Close releases the database handle, if any.
func (h *Handle) Close() error {
	if h.DB == nil {
		return nil
	}
	return h.DB.Close()
}
