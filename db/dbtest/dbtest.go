// Package dbtest opens migrated throwaway databases for tests
package dbtest

import (
	"database/sql"
	"panda/db"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// New returns a freshly migrated SQLite database that is closed when the test ends
func New(t testing.TB) *db.DB {
	t.Helper()
	database, _ := NewWithPath(t)
	return database
}

// NewWithPath is New that also returns the database file
func NewWithPath(t testing.TB) (*db.DB, string) {
	t.Helper()

	cfg := db.Config{Driver: db.DriverSQLite, Path: filepath.Join(t.TempDir(), "test.db")}
	require.NoError(t, db.Migrate(cfg))

	database, err := db.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database, cfg.Path
}

// Exec runs raw SQL on the database file over a connection of its own
func Exec(t testing.TB, path, query string) {
	t.Helper()

	conn, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Exec(query)
	require.NoError(t, err)
}
