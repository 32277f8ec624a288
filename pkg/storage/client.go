// Package storage provides the single embedded, file-backed relational
// database shared by the ticket store, audit store, and evaluation harness:
// a process-wide *sqlx.DB over SQLite, so every component serializes writes
// without a separate database service to operate.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations
var migrationsFS embed.FS

// Config controls how the embedded database file is opened.
type Config struct {
	// Path is the filesystem location of the SQLite database file.
	// Use ":memory:" for ephemeral test databases.
	Path string
}

// DB wraps *sqlx.DB with a write mutex. SQLite allows only one writer at a
// time; rather than relying on busy-timeout retries under load, writers
// serialize through WriteTx, matching spec.md §5's "Writers serialize
// (either via single-writer semantics of the underlying store or an
// explicit mutex)".
type DB struct {
	*sqlx.DB
	writeMu sync.Mutex
}

// Open opens (creating if necessary) the SQLite database at cfg.Path and
// applies all pending migrations.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", cfg.Path)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite tolerates only a single writer; cap the pool so readers never
	// starve the single connection migrations/writes rely on.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	if err := runMigrations(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &DB{DB: sqlx.NewDb(sqlDB, "sqlite3")}, nil
}

// WriteTx runs fn inside a transaction while holding the write mutex,
// committing on success and rolling back on error or panic.
func (d *DB) WriteTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	tx, err := d.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error("failed to roll back transaction", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Health reports whether the database connection is reachable.
func (d *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return d.PingContext(ctx)
}

func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite migration driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	// Only close the source; closing the migrate instance would also close
	// the underlying *sql.DB, which the caller still needs.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("close migration source: %w", err)
	}
	return nil
}
