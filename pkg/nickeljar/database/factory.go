package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jholhewres/nickeljar/pkg/nickeljar/database/backends"
)

// NewOpener returns the default Opener, which dispatches on cfg.Backend.
func NewOpener(logger *slog.Logger) Opener {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, cfg Config) (*Backend, error) {
		switch cfg.Backend {
		case BackendSQLite:
			return openSQLite(ctx, cfg.SQLite)
		case BackendPostgreSQL:
			return openPostgreSQL(ctx, cfg.PostgreSQL, logger)
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, cfg.Backend)
		}
	}
}

// Supports reports whether the default Opener can open t.
func Supports(t BackendType) bool {
	return t == BackendSQLite || t == BackendPostgreSQL
}

func openSQLite(ctx context.Context, cfg SQLiteConfig) (*Backend, error) {
	b, err := backends.OpenSQLite(ctx, backends.SQLiteConfig{
		Path:        cfg.Path,
		JournalMode: cfg.JournalMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, err
	}
	return &Backend{
		Type:        BackendSQLite,
		DB:          b.DB,
		Migrator:    b.Migrator,
		Health:      b.Health,
		Placeholder: questionPlaceholder,
	}, nil
}

func openPostgreSQL(ctx context.Context, cfg PostgreSQLConfig, logger *slog.Logger) (*Backend, error) {
	b, err := backends.OpenPostgreSQL(ctx, backends.PostgreSQLConfig{
		URL:             cfg.URL,
		Host:            cfg.Host,
		Port:            cfg.Port,
		Database:        cfg.Database,
		User:            cfg.User,
		Password:        cfg.Password,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}
	return &Backend{
		Type:        BackendPostgreSQL,
		DB:          b.DB,
		Migrator:    b.Migrator,
		Health:      b.Health,
		Placeholder: dollarPlaceholder,
	}, nil
}
