package db

import (
	"path/filepath"
	"testing"
)

func TestRebind(t *testing.T) {
	query := "SELECT name FROM users WHERE name = ? AND is_admin = ?"

	if got := Rebind("sqlite3", query); got != query {
		t.Errorf("Rebind(sqlite3) = %q, want unchanged", got)
	}

	want := "SELECT name FROM users WHERE name = $1 AND is_admin = $2"
	for _, driver := range []string{"postgres", "pgx"} {
		if got := Rebind(driver, query); got != want {
			t.Errorf("Rebind(%s) = %q, want %q", driver, got, want)
		}
	}
}

func TestInit(t *testing.T) {
	t.Run("opens and migrates sqlite", func(t *testing.T) {
		database, err := Init("sqlite3", filepath.Join(t.TempDir(), "app.db"))
		if err != nil {
			t.Fatalf("Init() error = %v", err)
		}
		defer database.Close()

		var count int
		if err := database.QueryRow("SELECT COUNT(*) FROM users").Scan(&count); err != nil {
			t.Fatalf("users table missing: %v", err)
		}
		if count != 0 {
			t.Errorf("count = %d, want 0", count)
		}
	})

	t.Run("rejects unknown driver", func(t *testing.T) {
		if _, err := Init("mysql", "x"); err == nil {
			t.Fatal("Init() expected error for unknown driver")
		}
	})
}
