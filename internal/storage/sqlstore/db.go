// Package sqlstore implements the storage interface on database/sql, backed
// either by an on-disk SQLite file or by PostgreSQL. The schema is managed
// with goose migrations embedded in the binary.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/mcoot/fortunegame/internal/storage/sqlstore/migrations"
)

// Dialect selects the SQL flavour and driver
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// DBTX is the subset of database/sql used by the queries.
// Both *sql.DB and *sql.Tx satisfy this interface.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// OpenSQLite opens (or creates) a SQLite database at path and applies migrations
func OpenSQLite(ctx context.Context, path string) (*Storage, error) {
	if path == "" {
		return nil, fmt.Errorf("open sqlite: empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("open sqlite: create db dir: %w", err)
	}

	dsn := "file:" + path + "?mode=rwc&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers instead of failing with SQLITE_BUSY
	db.SetMaxOpenConns(1)

	return open(ctx, db, DialectSQLite)
}

// OpenPostgres connects to PostgreSQL through the pgx stdlib driver and applies migrations
func OpenPostgres(ctx context.Context, dsn string) (*Storage, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return open(ctx, db, DialectPostgres)
}

func open(ctx context.Context, db *sql.DB, dialect Dialect) (*Storage, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open %s: ping: %w", dialect, err)
	}

	if err := Migrate(ctx, db, dialect); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewWithDB(db, dialect), nil
}

// Migrate applies every pending embedded migration for dialect
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	var (
		gooseDialect goose.Dialect
		fsys         fs.FS
		dir          string
	)
	switch dialect {
	case DialectSQLite:
		gooseDialect, fsys, dir = goose.DialectSQLite3, migrations.SQLite, "sqlite"
	case DialectPostgres:
		gooseDialect, fsys, dir = goose.DialectPostgres, migrations.Postgres, "postgres"
	default:
		return fmt.Errorf("migrate: unknown dialect %q", dialect)
	}

	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	provider, err := goose.NewProvider(gooseDialect, db, sub)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders to the dialect's bind syntax
func rebind(dialect Dialect, query string) string {
	if dialect != DialectPostgres {
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
