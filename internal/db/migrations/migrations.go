package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var migrationFiles embed.FS

// MigrateUp runs all pending migrations to bring database to latest version.
func MigrateUp(ctx context.Context, db *sql.DB, driver string) error {
	m, release, err := newMigrate(ctx, db, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer release()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}

// Version reports the applied schema version and whether the last migration
// left the database dirty.
func Version(ctx context.Context, db *sql.DB, driver string) (uint, bool, error) {
	m, release, err := newMigrate(ctx, db, driver)
	if err != nil {
		return 0, false, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer release()

	version, dirty, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get database version: %w", err)
	}
	return version, dirty, nil
}

// newMigrate builds a migrate instance over db. The returned release func
// frees what the instance holds but never closes db, which the caller owns.
//
// Both postgres drivers go through the postgres migrate driver on a single
// *sql.Conn, so closing that conn hands it back to the pool.
func newMigrate(ctx context.Context, db *sql.DB, driver string) (*migrate.Migrate, func(), error) {
	sourceDriver, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create source driver: %w", err)
	}

	var (
		dbDriver database.Driver
		conn     *sql.Conn
	)
	switch driver {
	case "sqlite3":
		dbDriver, err = sqlite3.WithInstance(db, &sqlite3.Config{})
	case "postgres", "pgx":
		conn, err = db.Conn(ctx)
		if err == nil {
			dbDriver, err = postgres.WithConnection(ctx, conn, &postgres.Config{})
		}
	default:
		err = fmt.Errorf("unknown database driver: %s", driver)
	}
	if err != nil {
		if conn != nil {
			conn.Close()
		}
		sourceDriver.Close()
		return nil, nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, driver, dbDriver)
	if err != nil {
		if conn != nil {
			conn.Close()
		}
		sourceDriver.Close()
		return nil, nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	release := func() {
		sourceDriver.Close()
		if conn != nil {
			conn.Close()
		}
	}
	return m, release, nil
}
