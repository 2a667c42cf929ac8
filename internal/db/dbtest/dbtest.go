// Package dbtest opens throwaway SQLite databases for storage tests.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jnst/traceable-outbox/internal/db"
)

// DSN returns a file-backed SQLite DSN inside dir with the pragmas the tests rely on.
func DSN(dir string) string {
	return "file:" + filepath.Join(dir, "test.db") +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)" +
		"&_txlock=immediate&_time_format=sqlite"
}

// New returns a migrated SQLite pool that is closed when the test ends.
func New(t testing.TB) db.Pool {
	t.Helper()

	ctx := context.Background()

	pool, err := db.Open(ctx, "sqlite", DSN(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, db.Migrate(ctx, pool))

	return pool
}
