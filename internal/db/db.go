package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/aljoscha/shot-o-matic/internal/db/migrations"
)

// DBTX is satisfied by *sql.DB and *sql.Conn, so stores can run either on the
// pool or on a connection scoped to a single request.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

type DB struct {
	*sql.DB
	Driver string
}

// Init opens the database, checks it is reachable and brings the schema up
// to date.
func Init(driver, dsn string) (*DB, error) {
	db, err := Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateUp(context.Background(), db.DB, driver); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// Open connects without touching the schema.
func Open(driver, dsn string) (*DB, error) {
	switch driver {
	case "sqlite3", "postgres", "pgx":
	default:
		return nil, fmt.Errorf("unknown database driver: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	return &DB{DB: db, Driver: driver}, nil
}

// Rebind rewrites ? placeholders into $N for the postgres drivers.
func Rebind(driver, query string) string {
	if driver == "sqlite3" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
