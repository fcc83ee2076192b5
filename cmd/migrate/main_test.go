package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"userdir.org/internal/migrate"
	"userdir.org/internal/store/sqlstore"
)

func TestRunAgainstSQLite(t *testing.T) {
	ctx := context.Background()
	st, err := sqlstore.Open(sqlstore.DriverSQLite, "file:"+filepath.Join(t.TempDir(), "migrate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	mgr := migrate.NewManager(st.DB(), migrate.Migrations(), migrate.Seeds())

	require.NoError(t, run(ctx, mgr, "up"))
	require.NoError(t, run(ctx, mgr, "seed"))
	require.NoError(t, run(ctx, mgr, "status"))

	pending, err := mgr.Pending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)

	require.NoError(t, run(ctx, mgr, "down"))
	pending, err = mgr.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.ErrorContains(t, run(ctx, mgr, "sideways"), "unknown command")
}
