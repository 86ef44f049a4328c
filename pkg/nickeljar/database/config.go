package database

import (
	"time"
)

// Config is the occurrence store configuration.
type Config struct {
	// Backend is the database backend type (default: "sqlite").
	Backend BackendType `yaml:"backend"`

	// SQLite configuration.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// PostgreSQL configuration.
	PostgreSQL PostgreSQLConfig `yaml:"postgresql"`

	// RetryInterval is the fixed delay between reconnect attempts (default: 1s).
	RetryInterval time.Duration `yaml:"retry_interval"`

	// HealthSchedule is the cron spec of the liveness probe (default: "@every 30s").
	// Empty after Effective only when explicitly set to "off".
	HealthSchedule string `yaml:"health_schedule"`
}

// SQLiteConfig holds SQLite-specific configuration.
type SQLiteConfig struct {
	// Path to the database file (default: "./data/nickeljar.db")
	Path string `yaml:"path"`

	// Journal mode (default: WAL)
	JournalMode string `yaml:"journal_mode"`

	// Busy timeout in milliseconds (default: 5000)
	BusyTimeout int `yaml:"busy_timeout"`
}

// PostgreSQLConfig holds PostgreSQL configuration.
type PostgreSQLConfig struct {
	// URL is a full connection string (postgres://...). When set, the
	// discrete fields are ignored.
	URL string `yaml:"url"`

	// Host (default: "localhost")
	Host string `yaml:"host"`

	// Port (default: 5432)
	Port int `yaml:"port"`

	Database string `yaml:"database"`
	User     string `yaml:"user"`

	// Password for authentication (supports ${ENV_VAR} expansion)
	Password string `yaml:"password"`

	// SSL mode: disable, require, verify-ca, verify-full
	SSLMode string `yaml:"ssl_mode"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DefaultConfig returns the default store configuration (SQLite).
func DefaultConfig() Config {
	return Config{
		Backend: BackendSQLite,
		SQLite: SQLiteConfig{
			Path:        "./data/nickeljar.db",
			JournalMode: "WAL",
			BusyTimeout: 5000,
		},
		PostgreSQL: PostgreSQLConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
		},
		RetryInterval:  time.Second,
		HealthSchedule: "@every 30s",
	}
}

// Effective returns a copy with default values filled in for zero fields.
func (c Config) Effective() Config {
	def := DefaultConfig()
	out := c

	if out.Backend == "" {
		out.Backend = def.Backend
	}
	if out.SQLite.Path == "" {
		out.SQLite.Path = def.SQLite.Path
	}
	if out.SQLite.JournalMode == "" {
		out.SQLite.JournalMode = def.SQLite.JournalMode
	}
	if out.SQLite.BusyTimeout == 0 {
		out.SQLite.BusyTimeout = def.SQLite.BusyTimeout
	}
	if out.PostgreSQL.Host == "" {
		out.PostgreSQL.Host = def.PostgreSQL.Host
	}
	if out.PostgreSQL.Port == 0 {
		out.PostgreSQL.Port = def.PostgreSQL.Port
	}
	if out.PostgreSQL.SSLMode == "" {
		out.PostgreSQL.SSLMode = def.PostgreSQL.SSLMode
	}
	if out.RetryInterval <= 0 {
		out.RetryInterval = def.RetryInterval
	}
	switch out.HealthSchedule {
	case "":
		out.HealthSchedule = def.HealthSchedule
	case "off":
		out.HealthSchedule = ""
	}
	return out
}
