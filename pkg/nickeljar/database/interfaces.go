// Package database is the occurrence store: a self-healing connection to a
// relational backend (SQLite or PostgreSQL) that records one row per flagged
// word occurrence.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jholhewres/nickeljar/pkg/nickeljar/database/backends"
)

// BackendType identifies the type of database backend.
type BackendType string

const (
	BackendSQLite     BackendType = "sqlite"
	BackendPostgreSQL BackendType = "postgresql"
)

// ErrUnsupportedBackend is returned for a backend type with no driver.
var ErrUnsupportedBackend = errors.New("unsupported backend type")

// Backend is one open backend connection with its capabilities.
type Backend struct {
	Type BackendType
	DB   *sql.DB

	Migrator Migrator
	Health   HealthChecker

	// Placeholder formats the n-th (1-based) bind parameter.
	Placeholder func(n int) string
}

// Close closes the underlying connection pool.
func (b *Backend) Close() error {
	if b == nil || b.DB == nil {
		return nil
	}
	return b.DB.Close()
}

// Migrator applies the store schema.
type Migrator interface {
	// CurrentVersion returns the current schema version.
	CurrentVersion(ctx context.Context) (int, error)

	// Migrate brings the schema up to date. Idempotent.
	Migrate(ctx context.Context) error

	// NeedsMigration returns true if the schema is outdated.
	NeedsMigration(ctx context.Context) (bool, error)
}

// HealthChecker probes a backend.
type HealthChecker interface {
	Ping(ctx context.Context) error
	Status(ctx context.Context) backends.Status
}

// Opener opens a backend for a configuration.
type Opener func(ctx context.Context, cfg Config) (*Backend, error)

func questionPlaceholder(int) string { return "?" }

func dollarPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }
