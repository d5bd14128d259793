// Package store provides SQL persistence for the daemon. PostgreSQL is the
// production backend; an embedded SQLite database serves small installs and
// tests. Schema changes ship as embedded goose migrations.
package store

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"meridian-router.dev/meridian/internal/config"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Store wraps the database handle and exposes typed repositories.
type Store struct {
	db     *sqlx.DB
	driver string
}

// Open connects to the configured database and runs pending migrations.
func Open(cfg *config.DatabaseConfig) (*Store, error) {
	var driver, dsn string
	switch cfg.Driver {
	case "postgres":
		driver, dsn = "postgres", cfg.DSN
	case "sqlite":
		driver = "sqlite"
		dsn = cfg.Path
		if dsn == "" {
			dsn = ":memory:"
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if driver == "sqlite" {
		// Serialized access keeps modernc's single-writer model happy.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling foreign keys: %w", err)
		}
	}

	goose.SetBaseFS(embedMigrations)
	dialect := driver
	if driver == "sqlite" {
		dialect = "sqlite3"
	}
	if err := goose.SetDialect(dialect); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db, driver: driver}, nil
}

// OpenMemory opens an in-memory SQLite store, for tests and ephemeral runs.
func OpenMemory() (*Store, error) {
	return Open(&config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns the active driver name.
func (s *Store) Driver() string {
	return s.driver
}

// rebind converts ? placeholders to the driver's bind style.
func (s *Store) rebind(query string) string {
	if s.driver == "postgres" {
		return sqlx.Rebind(sqlx.DOLLAR, query)
	}
	return query
}

// isUniqueViolation checks if an error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}
