package testutil

import (
	"path/filepath"
	"testing"

	"github.com/aljoscha/shot-o-matic/internal/db"
)

// NewTestDatabase creates a migrated SQLite database in a temp dir.
// The database is automatically closed when the test completes.
func NewTestDatabase(t *testing.T) *db.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "test.db") + "?_busy_timeout=5000"
	database, err := db.Init("sqlite3", dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	t.Cleanup(func() {
		database.Close()
	})

	return database
}
