package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jholhewres/nickeljar/pkg/nickeljar/database/backends"
)

// State is the connection state of a Connector.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ErrNotConnected is returned by operations that need an open backend when
// the connector has none.
var ErrNotConnected = errors.New("database: not connected")

// StoreError is a failed occurrence batch. Rows written before the failure
// are kept.
type StoreError struct {
	Written int
	Err     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("database: record occurrences: %d rows written before failure: %v", e.Written, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Status is an observable snapshot of the connector.
type Status struct {
	Backend       BackendType   `json:"backend"`
	State         string        `json:"state"`
	Reconnects    int           `json:"reconnects"`
	LastError     string        `json:"last_error,omitempty"`
	LastConnected time.Time     `json:"last_connected,omitempty"`
	LastProbe     time.Time     `json:"last_probe,omitempty"`
	ProbeLatency  time.Duration `json:"probe_latency"`
	SchemaVersion int           `json:"schema_version"`
}

// WordCount is one row of TopWords.
type WordCount struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

// Connector owns the process-wide store connection. Connect, reconnect and
// occurrence batches are serialized by one mutex.
type Connector struct {
	cfg    Config
	open   Opener
	logger *slog.Logger

	newBackOff func() backoff.BackOff

	// mu serializes connection changes and batches.
	mu      sync.Mutex
	backend *Backend

	// stateMu guards the observable fields only.
	stateMu       sync.RWMutex
	state         State
	connects      int
	lastErr       string
	lastConnected time.Time
	lastProbe     time.Time
	probeLatency  time.Duration
	schemaVersion int
}

// Option customizes a Connector.
type Option func(*Connector)

// WithOpener replaces the backend opener.
func WithOpener(open Opener) Option {
	return func(c *Connector) { c.open = open }
}

// WithBackOff replaces the reconnect policy. The default is a constant
// backoff of Config.RetryInterval with no attempt limit.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(c *Connector) { c.newBackOff = fn }
}

// NewConnector creates a disconnected Connector. Call EnsureConnected to open it.
func NewConnector(cfg Config, logger *slog.Logger, opts ...Option) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.Effective()
	c := &Connector{
		cfg:    cfg,
		logger: logger.With("component", "database", "backend", string(cfg.Backend)),
	}
	c.open = NewOpener(c.logger)
	c.newBackOff = func() backoff.BackOff {
		return backoff.NewConstantBackOff(cfg.RetryInterval)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EnsureConnected blocks until a backend is open, answering and migrated.
// It returns early only when ctx ends or the configuration can never connect.
func (c *Connector) EnsureConnected(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureLocked(ctx)
}

func (c *Connector) ensureLocked(ctx context.Context) error {
	if c.backend != nil {
		err := c.backend.Health.Ping(ctx)
		if err == nil {
			return nil
		}
		c.dropLocked(err)
	}

	c.setState(StateConnecting)
	attempt := 0
	var migrated bool
	var version int

	operation := func() error {
		attempt++
		b, err := c.open(ctx, c.cfg)
		if err != nil {
			if errors.Is(err, ErrUnsupportedBackend) {
				return backoff.Permanent(err)
			}
			return err
		}
		needs, err := b.Migrator.NeedsMigration(ctx)
		if err != nil {
			b.Close()
			return fmt.Errorf("schema version: %w", err)
		}
		if err := b.Migrator.Migrate(ctx); err != nil {
			b.Close()
			return fmt.Errorf("migrate: %w", err)
		}
		v, err := b.Migrator.CurrentVersion(ctx)
		if err != nil {
			b.Close()
			return fmt.Errorf("schema version: %w", err)
		}
		c.backend = b
		migrated, version = needs, v
		return nil
	}

	notify := func(err error, next time.Duration) {
		c.recordError(err)
		c.logger.Warn("store connect failed, retrying",
			"attempt", attempt,
			"retry_in", next,
			"error", err,
		)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(c.newBackOff(), ctx), notify); err != nil {
		c.recordError(err)
		c.setState(StateDisconnected)
		return fmt.Errorf("database: connect %s: %w", c.cfg.Backend, err)
	}

	c.stateMu.Lock()
	c.state = StateConnected
	c.connects++
	c.lastErr = ""
	c.lastConnected = time.Now()
	c.schemaVersion = version
	reconnects := c.connects - 1
	c.stateMu.Unlock()

	c.logger.Info("store connected",
		"attempts", attempt,
		"reconnects", reconnects,
		"schema_version", version,
		"migrated", migrated,
	)
	return nil
}

// dropLocked discards a backend that stopped answering.
func (c *Connector) dropLocked(cause error) {
	if c.backend == nil {
		return
	}
	c.backend.Close()
	c.backend = nil
	c.recordError(cause)
	c.setState(StateDisconnected)
	c.logger.Warn("store connection lost", "error", cause)
}

// Ping probes the current backend without reconnecting.
func (c *Connector) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pingLocked(ctx)
}

func (c *Connector) pingLocked(ctx context.Context) error {
	if c.backend == nil {
		return ErrNotConnected
	}
	start := time.Now()
	err := c.backend.Health.Ping(ctx)

	c.stateMu.Lock()
	c.lastProbe = start
	c.probeLatency = time.Since(start)
	c.stateMu.Unlock()
	return err
}

// BackendStatus asks the open backend for its server version, round-trip
// latency and pool statistics.
func (c *Connector) BackendStatus(ctx context.Context) (backends.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.backend == nil {
		return backends.Status{}, ErrNotConnected
	}
	return c.backend.Health.Status(ctx), nil
}

// RecordOccurrences inserts one row per occurrence: a word counted n times
// produces n rows, words in sorted order. Each insert commits on its own, so
// a failure leaves earlier rows in place and returns a *StoreError with the
// number written. A dead connection is re-established before the first insert.
func (c *Connector) RecordOccurrences(ctx context.Context, guild, username string, occurrences map[string]int) (int, error) {
	if len(occurrences) == 0 {
		return 0, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.pingLocked(ctx); err != nil {
		if !errors.Is(err, ErrNotConnected) {
			c.dropLocked(err)
		}
		if err := c.ensureLocked(ctx); err != nil {
			return 0, &StoreError{Err: err}
		}
	}

	words := make([]string, 0, len(occurrences))
	for w := range occurrences {
		words = append(words, w)
	}
	sort.Strings(words)

	b := c.backend
	query := fmt.Sprintf("INSERT INTO word_occurrences (guild, username, word) VALUES (%s, %s, %s)",
		b.Placeholder(1), b.Placeholder(2), b.Placeholder(3))

	written := 0
	for _, word := range words {
		for i := 0; i < occurrences[word]; i++ {
			if _, err := b.DB.ExecContext(ctx, query, guild, username, word); err != nil {
				c.recordError(err)
				c.logger.Error("occurrence insert failed",
					"guild", guild,
					"username", username,
					"word", word,
					"written", written,
					"error", err,
				)
				return written, &StoreError{Written: written, Err: err}
			}
			written++
		}
	}

	c.logger.Debug("occurrences recorded", "guild", guild, "username", username, "rows", written)
	return written, nil
}

// CountOccurrences returns how many rows match guild and word. An empty word
// counts every word of the guild.
func (c *Connector) CountOccurrences(ctx context.Context, guild, word string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.backend == nil {
		return 0, ErrNotConnected
	}
	b := c.backend

	query := "SELECT COUNT(*) FROM word_occurrences WHERE guild = " + b.Placeholder(1)
	args := []any{guild}
	if word != "" {
		query += " AND word = " + b.Placeholder(2)
		args = append(args, word)
	}

	var n int
	if err := b.DB.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("database: count occurrences: %w", err)
	}
	return n, nil
}

// TopWords returns the most recorded words of a guild, most frequent first.
func (c *Connector) TopWords(ctx context.Context, guild string, limit int) ([]WordCount, error) {
	if limit <= 0 {
		limit = 10
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.backend == nil {
		return nil, ErrNotConnected
	}
	b := c.backend

	query := fmt.Sprintf(`SELECT word, COUNT(*) AS n FROM word_occurrences
		WHERE guild = %s GROUP BY word ORDER BY n DESC, word ASC LIMIT %s`,
		b.Placeholder(1), b.Placeholder(2))

	rows, err := b.DB.QueryContext(ctx, query, guild, limit)
	if err != nil {
		return nil, fmt.Errorf("database: top words: %w", err)
	}
	defer rows.Close()

	var out []WordCount
	for rows.Next() {
		var wc WordCount
		if err := rows.Scan(&wc.Word, &wc.Count); err != nil {
			return nil, fmt.Errorf("database: top words: %w", err)
		}
		out = append(out, wc)
	}
	return out, rows.Err()
}

// Status returns the current connector snapshot. It never blocks on I/O.
func (c *Connector) Status() Status {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()

	reconnects := c.connects - 1
	if reconnects < 0 {
		reconnects = 0
	}
	return Status{
		Backend:       c.cfg.Backend,
		State:         c.state.String(),
		Reconnects:    reconnects,
		LastError:     c.lastErr,
		LastConnected: c.lastConnected,
		LastProbe:     c.lastProbe,
		ProbeLatency:  c.probeLatency,
		SchemaVersion: c.schemaVersion,
	}
}

// State returns the current connection state.
func (c *Connector) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// Close closes the backend. The connector can be reconnected afterwards.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.backend == nil {
		return nil
	}
	err := c.backend.Close()
	c.backend = nil
	c.setState(StateDisconnected)
	c.logger.Debug("store closed")
	return err
}

func (c *Connector) setState(s State) {
	c.stateMu.Lock()
	prev := c.state
	c.state = s
	c.stateMu.Unlock()

	if prev != s {
		c.logger.Debug("store state changed", "from", prev.String(), "to", s.String())
	}
}

func (c *Connector) recordError(err error) {
	if err == nil {
		return
	}
	c.stateMu.Lock()
	c.lastErr = err.Error()
	c.stateMu.Unlock()
}
