package migrate

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestListSQLFilesSortsAndFilters(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_b.up.sql", "0001_a.up.sql", "0001_a.down.sql", "README.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("--"), 0o644))
	}

	files, err := ListSQLFiles(dir, ".up.sql")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "0001_a.up.sql", filepath.Base(files[0]))
	assert.Equal(t, "0002_b.up.sql", filepath.Base(files[1]))
}

func TestListSQLFilesMissingDir(t *testing.T) {
	files, err := ListSQLFiles(filepath.Join(t.TempDir(), "nope"), ".up.sql")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestSQLiteAppliesOnce(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	dir := "../../../db/migrations/sqlite"

	applied, err := SQLite(ctx, db, dir, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_init.up.sql", "0002_reply_gates.up.sql"}, applied)

	applied, err = SQLite(ctx, db, dir, zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, applied)

	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM auto_reply_rules`).Scan(&n))
	assert.Zero(t, n)
}
