// Package backends provides the relational backends of the occurrence store.
package backends

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteBackend wraps a SQLite connection with its migrator and health checker.
type SQLiteBackend struct {
	DB     *sql.DB
	Config SQLiteConfig

	Migrator *SQLiteMigrator
	Health   *HealthChecker
}

// SQLiteConfig holds SQLite-specific configuration.
type SQLiteConfig struct {
	Path        string
	JournalMode string
	BusyTimeout int
}

// OpenSQLite opens or creates a SQLite database and verifies it answers.
func OpenSQLite(ctx context.Context, config SQLiteConfig) (*SQLiteBackend, error) {
	if config.Path == "" {
		config.Path = "./data/nickeljar.db"
	}
	if config.JournalMode == "" {
		config.JournalMode = "WAL"
	}
	if config.BusyTimeout == 0 {
		config.BusyTimeout = 5000
	}

	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory %q: %w", dir, err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=%s&_busy_timeout=%d", config.Path, config.JournalMode, config.BusyTimeout)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", config.Path, err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLiteBackend{
		DB:       db,
		Config:   config,
		Migrator: NewSQLiteMigrator(db),
		Health:   NewHealthChecker(db, "SELECT sqlite_version()"),
	}, nil
}

// Close closes the database connection.
func (b *SQLiteBackend) Close() error {
	return b.DB.Close()
}

// SQLiteMigrator handles schema migrations for SQLite.
type SQLiteMigrator struct {
	db *sql.DB
}

// NewSQLiteMigrator creates a new SQLite migrator.
func NewSQLiteMigrator(db *sql.DB) *SQLiteMigrator {
	return &SQLiteMigrator{db: db}
}

// CurrentVersion returns the current schema version, 0 before the first migration.
func (m *SQLiteMigrator) CurrentVersion(ctx context.Context) (int, error) {
	var version int
	err := m.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || strings.Contains(err.Error(), "no such table") {
			return 0, nil
		}
		return 0, err
	}
	return version, nil
}

// Migrate creates the schema. It is safe to run on every connect.
func (m *SQLiteMigrator) Migrate(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	if _, err := m.db.ExecContext(ctx, GetSQLiteSchema()); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	_, err = m.db.ExecContext(ctx, "INSERT OR IGNORE INTO schema_version (version) VALUES (?)", SchemaVersion)
	if err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return nil
}

// NeedsMigration returns true if the schema is older than SchemaVersion.
func (m *SQLiteMigrator) NeedsMigration(ctx context.Context) (bool, error) {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return false, err
	}
	return current < SchemaVersion, nil
}

// GetSQLiteSchema returns the word_occurrences schema for SQLite.
func GetSQLiteSchema() string {
	return `
		CREATE TABLE IF NOT EXISTS word_occurrences (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guild TEXT NOT NULL,
			username TEXT NOT NULL,
			word TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_word_occurrences_guild_word ON word_occurrences(guild, word);
	`
}

// HealthChecker probes a backend connection.
type HealthChecker struct {
	db           *sql.DB
	versionQuery string
}

// NewHealthChecker creates a health checker that reports the server version
// with versionQuery.
func NewHealthChecker(db *sql.DB, versionQuery string) *HealthChecker {
	return &HealthChecker{db: db, versionQuery: versionQuery}
}

// Ping checks database connectivity.
func (h *HealthChecker) Ping(ctx context.Context) error {
	return h.db.PingContext(ctx)
}

// Status returns connectivity, latency, server version and pool metrics.
func (h *HealthChecker) Status(ctx context.Context) Status {
	start := time.Now()
	err := h.db.PingContext(ctx)
	latency := time.Since(start)

	if err != nil {
		return Status{Healthy: false, Latency: latency, Error: err.Error()}
	}

	version := "unknown"
	if err := h.db.QueryRowContext(ctx, h.versionQuery).Scan(&version); err != nil {
		version = "unknown"
	}

	stats := h.db.Stats()
	return Status{
		Healthy:         true,
		Latency:         latency,
		Version:         version,
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
		WaitCount:       stats.WaitCount,
	}
}
