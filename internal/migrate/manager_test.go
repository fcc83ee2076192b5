package migrate

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+filepath.Join(t.TempDir(), "m.db")+"?_pragma=foreign_keys(1)")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSplitStatements(t *testing.T) {
	cases := []struct {
		name   string
		script string
		want   []string
	}{
		{
			name:   "semicolon inside string",
			script: "create table a (x text default 'a;b');\ninsert into a values ('c');\n",
			want:   []string{"create table a (x text default 'a;b')", "insert into a values ('c')"},
		},
		{
			name:   "doubled quote escape",
			script: "insert into a values ('it''s; fine');insert into a values ('x');",
			want:   []string{"insert into a values ('it''s; fine')", "insert into a values ('x')"},
		},
		{
			name:   "quoted identifier",
			script: `create table "odd;name" (id text);`,
			want:   []string{`create table "odd;name" (id text)`},
		},
		{
			name:   "line comment with apostrophe and semicolon",
			script: "-- don't split here; really\ncreate table a (id text);\n-- trailing note\n",
			want:   []string{"-- don't split here; really\ncreate table a (id text)"},
		},
		{
			name:   "block comment",
			script: "create table a (id text /* a;b */);",
			want:   []string{"create table a (id text /* a;b */)"},
		},
		{
			name:   "blank fragments",
			script: ";;\n  ;",
			want:   nil,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, splitStatements(tc.script))
		})
	}
}

func TestCommentedMigrationApplies(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	m := NewManager(db, fstest.MapFS{
		"0001_a.up.sql": {Data: []byte("-- owner's table; keep it\ncreate table a (id text, note text default 'x;y');\n-- done\n")},
	}, nil)

	pending, err := m.Pending(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"0001_a.up.sql"}, pending)

	require.NoError(t, m.Up(ctx))
	_, err = db.ExecContext(ctx, "insert into a (id) values ('1')")
	require.NoError(t, err)
	var note string
	require.NoError(t, db.QueryRowContext(ctx, "select note from a").Scan(&note))
	require.Equal(t, "x;y", note)

	pending, err = m.Pending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestUpDownStatus(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	fsys := fstest.MapFS{
		"0001_a.up.sql":   {Data: []byte("create table a (id text primary key);")},
		"0001_a.down.sql": {Data: []byte("drop table a;")},
		"0002_b.up.sql":   {Data: []byte("create table b (id text primary key);")},
		"0002_b.down.sql": {Data: []byte("drop table b;")},
	}
	m := NewManager(db, fsys, nil)

	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Up(ctx))
	history, err := m.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"0001_a.up.sql", "0002_b.up.sql"}, history)

	require.NoError(t, m.Down(ctx))
	history, err = m.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"0001_a.up.sql"}, history)
	_, err = db.ExecContext(ctx, "insert into b (id) values ('x')")
	require.Error(t, err, "table b must be dropped")

	require.NoError(t, m.Down(ctx))
	require.Error(t, m.Down(ctx))
}

func TestDownWithoutFile(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	m := NewManager(db, fstest.MapFS{"0001_a.up.sql": {Data: []byte("create table a (id text);")}}, nil)
	require.NoError(t, m.Up(ctx))
	require.ErrorContains(t, m.Down(ctx), "missing down migration")
}

func TestFailedMigrationIsNotRecorded(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	m := NewManager(db, fstest.MapFS{
		"0001_bad.up.sql": {Data: []byte("create table ok (id text); create tabel broken;")},
	}, nil)
	require.Error(t, m.Up(ctx))
	history, err := m.Status(ctx)
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestBundledMigrationsAndSeeds(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	m := NewManager(db, Migrations(), Seeds())

	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Seed(ctx))
	require.NoError(t, m.Seed(ctx))

	var adminPerms, userPerms int
	require.NoError(t, db.QueryRowContext(ctx, `
		select count(*) from role_permissions rp join roles r on r.id = rp.role_id where r.name = 'admin'`).Scan(&adminPerms))
	require.NoError(t, db.QueryRowContext(ctx, `
		select count(*) from role_permissions rp join roles r on r.id = rp.role_id where r.name = 'user'`).Scan(&userPerms))
	require.Equal(t, 5, adminPerms)
	require.Equal(t, 1, userPerms)

	for i := 0; i < 3; i++ {
		require.NoError(t, m.Down(ctx))
	}
	history, err := m.Status(ctx)
	require.NoError(t, err)
	require.Empty(t, history)
}
