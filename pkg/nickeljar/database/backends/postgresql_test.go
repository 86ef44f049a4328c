package backends

import (
	"context"
	"os"
	"strings"
	"testing"
)

func TestBuildPostgreSQLDSN(t *testing.T) {
	tests := []struct {
		name   string
		config PostgreSQLConfig
		want   string
	}{
		{
			name: "fields",
			config: PostgreSQLConfig{
				Host: "db.local", Port: 5433, User: "jar", Password: "secret",
				Database: "nickels", SSLMode: "require",
			},
			want: "host=db.local port=5433 user=jar password=secret dbname=nickels sslmode=require",
		},
		{
			name: "quoted password",
			config: PostgreSQLConfig{
				Host: "h", Port: 5432, User: "u", Password: "it's a pass",
				Database: "d", SSLMode: "disable",
			},
			want: `host=h port=5432 user=u password='it\'s a pass' dbname=d sslmode=disable`,
		},
		{
			name:   "url wins",
			config: PostgreSQLConfig{URL: "postgres://u:p@h:5432/d", Host: "ignored"},
			want:   "postgres://u:p@h:5432/d",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildPostgreSQLDSN(tt.config); got != tt.want {
				t.Errorf("BuildPostgreSQLDSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRedactDSN(t *testing.T) {
	got := RedactDSN("postgres://jar:secret@h:5432/d")
	if strings.Contains(got, "secret") {
		t.Errorf("password leaked: %q", got)
	}

	got = RedactDSN("host=h user=u password=secret dbname=d")
	if strings.Contains(got, "secret") {
		t.Errorf("password leaked: %q", got)
	}
	if !strings.Contains(got, "dbname=d") {
		t.Errorf("unexpected redaction: %q", got)
	}
}

func TestGetPostgreSQLSchema(t *testing.T) {
	schema := GetPostgreSQLSchema()
	for _, want := range []string{"word_occurrences", "guild", "username", "word", "created_at"} {
		if !strings.Contains(schema, want) {
			t.Errorf("expected %q in schema", want)
		}
	}
}

// TestOpenPostgreSQL runs against a live server when NICKELJAR_TEST_POSTGRES_URL is set.
func TestOpenPostgreSQL(t *testing.T) {
	dsn := os.Getenv("NICKELJAR_TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("NICKELJAR_TEST_POSTGRES_URL not set")
	}

	ctx := context.Background()
	backend, err := OpenPostgreSQL(ctx, PostgreSQLConfig{URL: dsn}, nil)
	if err != nil {
		t.Fatalf("OpenPostgreSQL failed: %v", err)
	}
	defer backend.Close()

	if err := backend.Migrator.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	needs, err := backend.Migrator.NeedsMigration(ctx)
	if err != nil {
		t.Fatalf("NeedsMigration failed: %v", err)
	}
	if needs {
		t.Error("expected no migration needed")
	}
	if status := backend.Health.Status(ctx); !status.Healthy {
		t.Errorf("expected healthy, got %q", status.Error)
	}
}
