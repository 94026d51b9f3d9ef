// Package store implements the Knowledge Store (spec.md §3/§4.4): the
// durable home for knowledge items, pending contributions, quality
// signals, and the supporting tenant/RBAC tables, plus the vector and
// lexical queries the retrieval and dedup stages run against it.
//
// Client bootstrap is adapted directly from the teacher's
// pkg/database/client.go (pgx driver via database/sql, golang-migrate
// with go:embed migrations). Per DESIGN.md, entgo.io/ent is kept only
// for the non-codegen dialect/sql driver handoff that client.go
// already did without code generation — the generated ent client
// package itself was not part of the retrieved pack, so repository
// queries are hand-written sqlx/raw SQL instead of ent queries.
package store

import (
	"context"
	stdsql "database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

//go:embed migrations
var migrationsFS embed.FS

// Config holds Postgres connection and pool settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Client wraps a pooled Postgres connection used by the Postgres
// Store implementation.
type Client struct {
	db *sqlx.DB
}

// DB returns the underlying *sqlx.DB for repository queries and health checks.
func (c *Client) DB() *sqlx.DB { return c.db }

// NewClientFromDB wraps an already-open *sqlx.DB, useful for tests
// against sqlmock or a test container.
func NewClientFromDB(db *sqlx.DB) *Client { return &Client{db: db} }

// NewClient opens a pooled connection, applies embedded migrations,
// and returns a ready-to-use Client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}

	// dialect/sql driver handoff only — no generated ent client is
	// built on top of it; it exists purely so migration tooling can
	// share the teacher's non-codegen wiring shape.
	drv := entsql.OpenDB(dialect.Postgres, db)

	if err := runMigrations(cfg.Database, drv); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: run migrations: %w", err)
	}

	return &Client{db: sqlx.NewDb(db, "pgx")}, nil
}

// runMigrations applies every pending embedded migration using
// golang-migrate.
func runMigrations(database string, drv *entsql.Driver) error {
	hasMigrations, err := hasEmbeddedMigrations()
	if err != nil {
		return fmt.Errorf("check embedded migrations: %w", err)
	}
	if !hasMigrations {
		return fmt.Errorf("no embedded migration files found — binary built incorrectly")
	}

	driver, err := postgres.WithInstance(drv.DB(), &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, database, driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	// Must not call m.Close(): that also closes the shared *sql.DB via
	// the postgres driver, which the caller still owns.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("close migration source: %w", err)
	}
	return nil
}

func hasEmbeddedMigrations() (bool, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read embedded migrations: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && len(entry.Name()) > 4 && entry.Name()[len(entry.Name())-4:] == ".sql" {
			return true, nil
		}
	}
	return false, nil
}
