package migrate

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) (*sql.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ditox.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, path
}

func TestApply_BringsFreshDBToLatest(t *testing.T) {
	db, _ := openTestDB(t)

	before, err := Status(db)
	require.NoError(t, err)
	require.Equal(t, 0, before.Current)
	require.NotEmpty(t, before.Pending)

	require.NoError(t, Apply(db, ApplyOptions{}))

	after, err := Status(db)
	require.NoError(t, err)
	require.Equal(t, after.Latest, after.Current)
	require.Empty(t, after.Pending)
}

func TestApply_IsIdempotent(t *testing.T) {
	db, _ := openTestDB(t)

	require.NoError(t, Apply(db, ApplyOptions{}))
	_, err := db.Exec("INSERT INTO clips (id, kind, text, created_at, updated_at, lamport, device_id) VALUES ('a', 'text', 'hi', 1, 1, 1, 'dev')")
	require.NoError(t, err)

	require.NoError(t, Apply(db, ApplyOptions{}))

	status, err := Status(db)
	require.NoError(t, err)
	require.Empty(t, status.Pending)

	var text string
	require.NoError(t, db.QueryRow("SELECT text FROM clips WHERE id = 'a'").Scan(&text))
	require.Equal(t, "hi", text)
}

func TestApply_WithBackup(t *testing.T) {
	db, path := openTestDB(t)
	require.NoError(t, Apply(db, ApplyOptions{}))

	require.NoError(t, Apply(db, ApplyOptions{Backup: true, DBPath: path}))

	matches, err := filepath.Glob(path + ".bak.*")
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

func TestStatus_ReportsPendingNames(t *testing.T) {
	db, _ := openTestDB(t)
	status, err := Status(db)
	require.NoError(t, err)
	require.Contains(t, status.Pending[0], "0001_core.sql")
}
