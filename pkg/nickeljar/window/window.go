// Package window keeps a token-budgeted rolling context of recent messages for
// every chat channel.
//
// Each channel owns a buffer guarded by its own mutex, so appends on different
// channels proceed in parallel while appends on one channel are serialized.
// After every append the buffer is walked from the newest message backwards,
// summing each message's token count (content plus one end-of-turn marker).
// The walk stops at the first message that pushes the total over the budget;
// that message is the boundary element. The buffer keeps the scanned suffix and
// the boundary element, everything older is evicted. The in-context view is the
// suffix newer than the boundary element.
package window

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jholhewres/nickeljar/pkg/nickeljar/tokenizer"
)

// DefaultBudget is the token budget used when none is configured.
const DefaultBudget = 128

// Message is one chat message held in a channel buffer. Treat as immutable.
type Message struct {
	ID           string
	AuthorID     string
	AuthorName   string
	AuthorIsSelf bool
	Content      string
	ReceivedAt   time.Time
}

// Result describes a channel's in-context view after an operation.
type Result struct {
	// Context is the in-context suffix of the buffer, oldest first.
	Context []Message

	// ContextTokens is the token count of Context.
	ContextTokens int

	// ScannedTokens is the walk total, including the boundary element when the
	// walk crossed the budget. It exceeds the budget exactly when the buffer
	// holds more than fits.
	ScannedTokens int

	// Evicted is the number of messages discarded by the trim.
	Evicted int
}

// ClassificationError reports content that could not be tokenized. The buffer
// is left unmodified when it is returned.
type ClassificationError struct {
	ChannelID string
	MessageID string
	Err       error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("window: tokenizing message %q in channel %q: %v", e.MessageID, e.ChannelID, e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

type entry struct {
	msg    Message
	tokens int
}

type buffer struct {
	mu      sync.Mutex
	entries []entry
}

// Manager owns the per-channel buffers.
type Manager struct {
	tok    tokenizer.Tokenizer
	budget int
	logger *slog.Logger

	mu      sync.Mutex
	buffers map[string]*buffer
}

// NewManager creates a window manager. A non-positive budget falls back to
// DefaultBudget.
func NewManager(tok tokenizer.Tokenizer, budget int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Manager{
		tok:     tok,
		budget:  budget,
		logger:  logger.With("component", "window"),
		buffers: make(map[string]*buffer),
	}
}

// Budget returns the token budget.
func (m *Manager) Budget() int { return m.budget }

// Append adds msg to the channel buffer, trims it and returns the new
// in-context view. On a tokenization failure the buffer is untouched and a
// *ClassificationError is returned with an empty Result.
func (m *Manager) Append(channelID string, msg Message) (Result, error) {
	n, err := m.tok.CountTurn(msg.Content)
	if err != nil {
		return Result{}, &ClassificationError{ChannelID: channelID, MessageID: msg.ID, Err: err}
	}

	b := m.buffer(channelID, true)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, entry{msg: msg, tokens: n})
	keepFrom, res := walk(b.entries, m.budget)
	if keepFrom > 0 {
		kept := make([]entry, len(b.entries)-keepFrom)
		copy(kept, b.entries[keepFrom:])
		b.entries = kept
		res.Evicted = keepFrom
	}

	m.logger.Debug("window updated",
		"channel_id", channelID,
		"buffered", len(b.entries),
		"in_context", len(res.Context),
		"context_tokens", res.ContextTokens,
		"scanned_tokens", res.ScannedTokens,
		"evicted", res.Evicted,
	)
	return res, nil
}

// Context returns the current in-context view of a channel without mutating
// it. An unknown or empty channel yields an empty context with count 0.
func (m *Manager) Context(channelID string) Result {
	b := m.buffer(channelID, false)
	if b == nil {
		return Result{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	_, res := walk(b.entries, m.budget)
	return res
}

// Buffered returns how many messages the channel buffer holds, including a
// retained boundary element.
func (m *Manager) Buffered(channelID string) int {
	b := m.buffer(channelID, false)
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Channels returns the ids of channels that currently have a buffer, sorted.
func (m *Manager) Channels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.buffers))
	for id := range m.buffers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) buffer(channelID string, create bool) *buffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buffers[channelID]
	if !ok && create {
		b = &buffer{}
		m.buffers[channelID] = b
	}
	return b
}

// walk scans entries newest to oldest. It returns the index of the oldest entry
// to keep and the in-context view. The newest entry is always in context, even
// when it alone exceeds the budget.
func walk(entries []entry, budget int) (int, Result) {
	n := len(entries)
	if n == 0 {
		return 0, Result{}
	}

	total := 0
	boundary := -1
	for i := n - 1; i >= 0; i-- {
		total += entries[i].tokens
		if total > budget {
			boundary = i
			break
		}
	}

	var res Result
	res.ScannedTokens = total

	keepFrom, ctxFrom := 0, 0
	switch {
	case boundary < 0:
		// Everything fits.
	case boundary == n-1:
		keepFrom, ctxFrom = n-1, n-1
	default:
		keepFrom, ctxFrom = boundary, boundary+1
	}

	res.Context = make([]Message, 0, n-ctxFrom)
	for _, e := range entries[ctxFrom:] {
		res.Context = append(res.Context, e.msg)
		res.ContextTokens += e.tokens
	}
	return keepFrom, res
}
