package migrations

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "migrations.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrateUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(context.Background(), db, "sqlite3"); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	for _, table := range []string{"users", "schema_migrations"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("Table %s was not created: %v", table, err)
		}
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(context.Background(), db, "sqlite3"); err != nil {
		t.Fatalf("First MigrateUp() failed: %v", err)
	}
	if err := MigrateUp(context.Background(), db, "sqlite3"); err != nil {
		t.Errorf("Second MigrateUp() failed: %v (should be idempotent)", err)
	}
}

func TestVersion(t *testing.T) {
	db := openTestDB(t)

	version, _, err := Version(context.Background(), db, "sqlite3")
	if err != nil {
		t.Fatalf("Version() error = %v", err)
	}
	if version != 0 {
		t.Errorf("Version() on fresh database = %d, want 0", version)
	}

	if err := MigrateUp(context.Background(), db, "sqlite3"); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	version, dirty, err := Version(context.Background(), db, "sqlite3")
	if err != nil {
		t.Fatalf("Version() error = %v", err)
	}
	if version != 1 || dirty {
		t.Errorf("Version() = (%d, %v), want (1, false)", version, dirty)
	}
}

func TestMigrateUp_LeavesPoolUsable(t *testing.T) {
	db := openTestDB(t)
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < 2; i++ {
		if err := MigrateUp(ctx, db, "sqlite3"); err != nil {
			t.Fatalf("MigrateUp() #%d failed: %v", i+1, err)
		}
		if _, _, err := Version(ctx, db, "sqlite3"); err != nil {
			t.Fatalf("Version() #%d error = %v", i+1, err)
		}
	}

	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		t.Fatalf("query after migrations: %v", err)
	}
}

func TestUnknownDriver(t *testing.T) {
	db := openTestDB(t)
	if err := MigrateUp(context.Background(), db, "mysql"); err == nil {
		t.Error("MigrateUp() expected error for unknown driver")
	}
}
