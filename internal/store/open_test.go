package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"userdir.org/internal/auth"
)

func TestOpenMemory(t *testing.T) {
	h, err := Open(context.Background(), DriverMemory, "")
	require.NoError(t, err)
	require.Nil(t, h.DB)
	require.NoError(t, h.Close())
}

func TestOpenSQLiteCreatesSchema(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "userdir.db")

	h, err := Open(ctx, "sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	require.NotNil(t, h.DB)

	svc, err := auth.NewService(h)
	require.NoError(t, err)
	require.NoError(t, svc.ApplyPolicy(ctx, auth.DefaultPolicy()))

	roles, err := h.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 2)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "")
	require.Error(t, err)
}
