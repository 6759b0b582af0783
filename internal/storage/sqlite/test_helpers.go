package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// setupTestDB creates a temporary era database for one test.
func setupTestDB(t *testing.T) (*SQLiteStorage, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "era-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	ctx := context.Background()

	store, err := New(ctx, dbPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("failed to create storage: %v", err)
	}

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}
	return store, cleanup
}

// mustExec runs raw SQL outside the guarded paths, for test table setup.
func mustExec(t *testing.T, store *SQLiteStorage, stmt string) {
	t.Helper()
	if _, err := store.conn.ExecContext(context.Background(), stmt); err != nil {
		t.Fatalf("exec %q: %v", stmt, err)
	}
}

// countRows counts the rows of a table.
func countRows(t *testing.T, store *SQLiteStorage, table string) int {
	t.Helper()
	var n int
	if err := store.conn.QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM "`+table+`"`).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}
