package database

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jholhewres/nickeljar/pkg/nickeljar/database/backends"
)

func sqliteConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "jar.db")
	cfg.RetryInterval = 5 * time.Millisecond
	cfg.HealthSchedule = "off"
	return cfg
}

func fastBackOff() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }

func newTestConnector(t *testing.T, opts ...Option) *Connector {
	t.Helper()
	c := NewConnector(sqliteConfig(t), nil, opts...)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestConnector_EnsureConnected(t *testing.T) {
	c := newTestConnector(t)
	ctx := context.Background()

	assert.Equal(t, StateDisconnected, c.State())
	require.NoError(t, c.EnsureConnected(ctx))
	assert.Equal(t, StateConnected, c.State())
	require.NoError(t, c.Ping(ctx))

	// Already connected: no new connection.
	require.NoError(t, c.EnsureConnected(ctx))
	st := c.Status()
	assert.Equal(t, "connected", st.State)
	assert.Equal(t, 0, st.Reconnects)
	assert.False(t, st.LastConnected.IsZero())
	assert.Equal(t, BackendSQLite, st.Backend)
	assert.Equal(t, backends.SchemaVersion, st.SchemaVersion)
}

func TestConnector_BackendStatus(t *testing.T) {
	c := newTestConnector(t)
	ctx := context.Background()

	_, err := c.BackendStatus(ctx)
	require.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, c.EnsureConnected(ctx))
	bs, err := c.BackendStatus(ctx)
	require.NoError(t, err)
	assert.True(t, bs.Healthy)
	assert.NotEmpty(t, bs.Version)
	assert.Empty(t, bs.Error)
}

func TestConnector_PingBeforeConnect(t *testing.T) {
	c := newTestConnector(t)
	require.ErrorIs(t, c.Ping(context.Background()), ErrNotConnected)
}

func TestConnector_RetriesUntilBackendAnswers(t *testing.T) {
	var attempts atomic.Int32
	open := NewOpener(nil)
	flaky := func(ctx context.Context, cfg Config) (*Backend, error) {
		if attempts.Add(1) < 3 {
			return nil, errors.New("connection refused")
		}
		return open(ctx, cfg)
	}

	c := newTestConnector(t, WithOpener(flaky), WithBackOff(fastBackOff))
	require.NoError(t, c.EnsureConnected(context.Background()))
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, StateConnected, c.State())
	assert.Empty(t, c.Status().LastError)
}

func TestConnector_ContextEndsRetry(t *testing.T) {
	failing := func(ctx context.Context, cfg Config) (*Backend, error) {
		return nil, errors.New("connection refused")
	}
	c := newTestConnector(t, WithOpener(failing), WithBackOff(fastBackOff))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := c.EnsureConnected(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateDisconnected, c.State())
	assert.Contains(t, c.Status().LastError, "connection refused")
}

func TestConnector_UnsupportedBackendIsPermanent(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.Backend = "mysql"
	c := NewConnector(cfg, nil)

	start := time.Now()
	err := c.EnsureConnected(context.Background())
	require.ErrorIs(t, err, ErrUnsupportedBackend)
	assert.Less(t, time.Since(start), time.Second)
}

func TestConnector_RecordOccurrences(t *testing.T) {
	c := newTestConnector(t)
	ctx := context.Background()
	require.NoError(t, c.EnsureConnected(ctx))

	n, err := c.RecordOccurrences(ctx, "Guild", "alice", map[string]int{"nickel": 3, "dime": 1})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	rows, err := c.backend.DB.QueryContext(ctx, "SELECT word FROM word_occurrences ORDER BY id")
	require.NoError(t, err)
	defer rows.Close()
	var words []string
	for rows.Next() {
		var w string
		require.NoError(t, rows.Scan(&w))
		words = append(words, w)
	}
	assert.Equal(t, []string{"dime", "nickel", "nickel", "nickel"}, words)

	count, err := c.CountOccurrences(ctx, "Guild", "nickel")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	count, err = c.CountOccurrences(ctx, "Guild", "")
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	count, err = c.CountOccurrences(ctx, "Other", "nickel")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestConnector_RecordNothing(t *testing.T) {
	c := newTestConnector(t)
	n, err := c.RecordOccurrences(context.Background(), "g", "u", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, StateDisconnected, c.State(), "empty batch does not connect")
}

func TestConnector_RecordConnectsLazily(t *testing.T) {
	c := newTestConnector(t)
	n, err := c.RecordOccurrences(context.Background(), "g", "u", map[string]int{"nickel": 1})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, StateConnected, c.State())
}

func TestConnector_ReconnectsAfterConnectionLoss(t *testing.T) {
	c := newTestConnector(t)
	ctx := context.Background()
	require.NoError(t, c.EnsureConnected(ctx))

	_, err := c.RecordOccurrences(ctx, "g", "bob", map[string]int{"nickel": 1})
	require.NoError(t, err)

	// Kill the pool under the connector.
	require.NoError(t, c.backend.DB.Close())
	require.Error(t, c.Ping(ctx))

	n, err := c.RecordOccurrences(ctx, "g", "bob", map[string]int{"nickel": 2})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := c.CountOccurrences(ctx, "g", "nickel")
	require.NoError(t, err)
	assert.Equal(t, 3, count, "rows written before the loss survive")

	st := c.Status()
	assert.Equal(t, "connected", st.State)
	assert.Equal(t, 1, st.Reconnects)
}

func TestConnector_PartialWriteIsKept(t *testing.T) {
	c := newTestConnector(t)
	ctx := context.Background()
	require.NoError(t, c.EnsureConnected(ctx))

	_, err := c.backend.DB.ExecContext(ctx, `
		CREATE TRIGGER reject_zinc BEFORE INSERT ON word_occurrences
		WHEN NEW.word = 'zinc'
		BEGIN SELECT RAISE(ABORT, 'zinc rejected'); END;
	`)
	require.NoError(t, err)

	n, err := c.RecordOccurrences(ctx, "g", "carol", map[string]int{"zinc": 1, "nickel": 2})
	var serr *StoreError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, serr.Written)
	assert.Contains(t, c.Status().LastError, "zinc rejected")

	count, err := c.CountOccurrences(ctx, "g", "")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestConnector_RecordFailsWhenUnreachable(t *testing.T) {
	failing := func(ctx context.Context, cfg Config) (*Backend, error) {
		return nil, errors.New("connection refused")
	}
	c := newTestConnector(t, WithOpener(failing), WithBackOff(fastBackOff))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	n, err := c.RecordOccurrences(ctx, "g", "u", map[string]int{"nickel": 1})
	var serr *StoreError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, serr.Written)
}

func TestConnector_TopWords(t *testing.T) {
	c := newTestConnector(t)
	ctx := context.Background()

	_, err := c.RecordOccurrences(ctx, "g", "a", map[string]int{"nickel": 3, "dime": 1, "penny": 3})
	require.NoError(t, err)
	_, err = c.RecordOccurrences(ctx, "other", "a", map[string]int{"dime": 9})
	require.NoError(t, err)

	top, err := c.TopWords(ctx, "g", 2)
	require.NoError(t, err)
	assert.Equal(t, []WordCount{{Word: "nickel", Count: 3}, {Word: "penny", Count: 3}}, top)
}

func TestConnector_ReadsNeedConnection(t *testing.T) {
	c := newTestConnector(t)
	_, err := c.CountOccurrences(context.Background(), "g", "")
	require.ErrorIs(t, err, ErrNotConnected)
	_, err = c.TopWords(context.Background(), "g", 5)
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestConnector_ProbeReconnects(t *testing.T) {
	c := newTestConnector(t)
	ctx := context.Background()
	require.NoError(t, c.EnsureConnected(ctx))

	require.NoError(t, c.Probe(ctx))
	assert.False(t, c.Status().LastProbe.IsZero())

	require.NoError(t, c.backend.DB.Close())
	require.NoError(t, c.Probe(ctx))
	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, 1, c.Status().Reconnects)
}

func TestConnector_ProbeSkipsWhenBusy(t *testing.T) {
	c := newTestConnector(t)
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.NoError(t, c.Probe(context.Background()))
}

func TestHealthProbe_Schedule(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.HealthSchedule = "@every 1h"
	c := NewConnector(cfg, nil)
	defer c.Close()

	p, err := c.StartHealthProbe(context.Background())
	require.NoError(t, err)
	require.NotNil(t, p)
	p.Stop()

	cfg.HealthSchedule = "not a schedule"
	_, err = NewConnector(cfg, nil).StartHealthProbe(context.Background())
	require.Error(t, err)

	cfg.HealthSchedule = "off"
	p, err = NewConnector(cfg, nil).StartHealthProbe(context.Background())
	require.NoError(t, err)
	assert.Nil(t, p)
	p.Stop()
}

func TestConfig_Effective(t *testing.T) {
	cfg := Config{}.Effective()
	assert.Equal(t, BackendSQLite, cfg.Backend)
	assert.Equal(t, "./data/nickeljar.db", cfg.SQLite.Path)
	assert.Equal(t, time.Second, cfg.RetryInterval)
	assert.Equal(t, "@every 30s", cfg.HealthSchedule)
	assert.Equal(t, 5432, cfg.PostgreSQL.Port)

	cfg = Config{HealthSchedule: "off"}.Effective()
	assert.Empty(t, cfg.HealthSchedule)
}

func TestSupports(t *testing.T) {
	assert.True(t, Supports(BackendSQLite))
	assert.True(t, Supports(BackendPostgreSQL))
	assert.False(t, Supports("mysql"))
}
