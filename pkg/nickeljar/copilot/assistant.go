// Package copilot is the nickeljar event orchestrator. For every inbound chat
// message it updates the channel's context window, answers when the bot is
// mentioned, reports oversized context, and records flagged words.
package copilot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jholhewres/nickeljar/pkg/nickeljar/channels"
	"github.com/jholhewres/nickeljar/pkg/nickeljar/lexicon"
	"github.com/jholhewres/nickeljar/pkg/nickeljar/ollama"
	"github.com/jholhewres/nickeljar/pkg/nickeljar/window"
)

// Completer produces a completion for a prompt.
type Completer interface {
	Generate(ctx context.Context, req ollama.Request) (string, error)
}

// Recorder persists flagged word occurrences.
type Recorder interface {
	RecordOccurrences(ctx context.Context, guild, username string, occurrences map[string]int) (int, error)
}

// Replier sends replies and knows how the bot is mentioned on each channel.
type Replier interface {
	Send(ctx context.Context, channelName, to string, msg *channels.OutgoingMessage) error
	MentionTokens(channelName string) []string
}

// State is one step of an event's handling.
type State string

const (
	StateReceived              State = "received"
	StateWindowUpdated         State = "window_updated"
	StateCompletionRequested   State = "completion_requested"
	StateCompletionSkipped     State = "completion_skipped"
	StateClassified            State = "classified"
	StateClassificationSkipped State = "classification_skipped"
	StateReplied               State = "replied"
	StateSilent                State = "silent"
)

// DirectGuild is the guild recorded for occurrences in direct messages.
const DirectGuild = "direct"

// Outcome describes how one event was handled.
type Outcome struct {
	EventID     string
	States      []State
	Window      window.Result
	Occurrences lexicon.Occurrences
	Replies     []string
}

// Has reports whether the event went through s.
func (o *Outcome) Has(s State) bool {
	for _, st := range o.States {
		if st == s {
			return true
		}
	}
	return false
}

// Deps are the collaborators of an Assistant.
type Deps struct {
	Window    *window.Manager
	Completer Completer
	Recorder  Recorder
	Replier   Replier
	Lexicon   *lexicon.Lexicon
	Logger    *slog.Logger
}

// Assistant handles inbound events.
type Assistant struct {
	cfg       *Config
	window    *window.Manager
	completer Completer
	recorder  Recorder
	replier   Replier
	lexicon   *lexicon.Lexicon
	logger    *slog.Logger

	inflight sync.WaitGroup
}

// New creates an Assistant.
func New(cfg *Config, deps Deps) *Assistant {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{
		cfg:       cfg,
		window:    deps.Window,
		completer: deps.Completer,
		recorder:  deps.Recorder,
		replier:   deps.Replier,
		lexicon:   deps.Lexicon,
		logger:    logger.With("component", "copilot"),
	}
}

// Run consumes events until ctx ends or in is closed, then waits for the
// events in flight. Window updates are applied here, in arrival order; the
// rest of each event runs in its own goroutine.
func (a *Assistant) Run(ctx context.Context, in <-chan *channels.IncomingMessage) error {
	a.logger.Info("event loop started",
		"name", a.cfg.Name,
		"token_budget", a.window.Budget(),
		"lexicon_words", a.lexicon.Len(),
	)
	defer a.inflight.Wait()

	for {
		select {
		case msg, ok := <-in:
			if !ok {
				a.logger.Info("event loop stopped", "reason", "input closed", "windows", len(a.window.Channels()))
				return nil
			}
			ev := a.observe(msg)
			a.inflight.Add(1)
			go func() {
				defer a.inflight.Done()
				a.respond(ctx, ev)
			}()

		case <-ctx.Done():
			a.logger.Info("event loop stopped", "reason", ctx.Err(), "windows", len(a.window.Channels()))
			return nil
		}
	}
}

// HandleEvent processes one event synchronously and returns its outcome.
func (a *Assistant) HandleEvent(ctx context.Context, msg *channels.IncomingMessage) *Outcome {
	ev := a.observe(msg)
	a.respond(ctx, ev)
	return ev.outcome
}

// event carries one message between the window update and the response.
type event struct {
	msg     *channels.IncomingMessage
	logger  *slog.Logger
	outcome *Outcome

	mu sync.Mutex
}

func (e *event) add(s State) {
	e.mu.Lock()
	e.outcome.States = append(e.outcome.States, s)
	e.mu.Unlock()
}

func (e *event) replied(text string) {
	e.mu.Lock()
	e.outcome.Replies = append(e.outcome.Replies, text)
	e.mu.Unlock()
}

// observe appends the message to its channel window. A message that cannot
// be tokenized leaves the window untouched and is handled with an empty
// context.
func (a *Assistant) observe(msg *channels.IncomingMessage) *event {
	id := uuid.NewString()
	ev := &event{
		msg: msg,
		logger: a.logger.With(
			"event_id", id,
			"channel", msg.Channel,
			"chat_id", msg.ChatID,
			"msg_id", msg.ID,
			"from", msg.From,
		),
		outcome: &Outcome{EventID: id, States: []State{StateReceived}},
	}

	received := msg.Timestamp
	if received.IsZero() {
		received = time.Now()
	}

	res, err := a.window.Append(windowKey(msg), window.Message{
		ID:           msg.ID,
		AuthorID:     msg.From,
		AuthorName:   msg.FromName,
		AuthorIsSelf: msg.FromSelf,
		Content:      msg.Content,
		ReceivedAt:   received,
	})
	if err != nil {
		ev.logger.Warn("window update failed, continuing with empty context", "error", err)
		return ev
	}

	ev.outcome.Window = res
	ev.outcome.States = append(ev.outcome.States, StateWindowUpdated)
	ev.logger.Debug("window updated",
		"self", msg.FromSelf,
		"context_messages", len(res.Context),
		"context_tokens", res.ContextTokens,
		"scanned_tokens", res.ScannedTokens,
		"evicted", res.Evicted,
	)
	return ev
}

// respond runs everything after the window update.
func (a *Assistant) respond(ctx context.Context, ev *event) {
	msg := ev.msg
	start := time.Now()

	if msg.FromSelf {
		ev.outcome.States = append(ev.outcome.States,
			StateCompletionSkipped, StateClassificationSkipped, StateSilent)
		return
	}

	if ev.outcome.Window.ScannedTokens > a.window.Budget() {
		a.reply(ctx, ev, fmt.Sprintf("The total tokens are %d.", ev.outcome.Window.ScannedTokens), "")
	}

	var wg sync.WaitGroup
	if a.mentioned(msg) {
		ev.add(StateCompletionRequested)
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.complete(ctx, ev)
		}()
	} else {
		ev.add(StateCompletionSkipped)
	}

	a.classify(ctx, ev)
	wg.Wait()

	if len(ev.outcome.Replies) > 0 {
		ev.add(StateReplied)
	} else {
		ev.add(StateSilent)
	}
	ev.logger.Info("event handled",
		"replies", len(ev.outcome.Replies),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// complete sends the rendered context window to the completion service and
// replies with the answer.
func (a *Assistant) complete(ctx context.Context, ev *event) {
	prompt := a.renderPrompt(ev.outcome.Window.Context, a.mentionTokens(ev.msg.Channel))

	start := time.Now()
	text, err := a.completer.Generate(ctx, ollama.Request{
		Prompt: prompt,
		System: a.cfg.Persona,
	})
	if err != nil {
		var terr *ollama.TransportError
		var perr *ollama.ProtocolError
		switch {
		case errors.As(err, &terr):
			ev.logger.Error("completion transport failed", "timeout", terr.Timeout(), "status", terr.StatusCode, "error", err)
		case errors.As(err, &perr):
			ev.logger.Error("completion stream malformed", "line", perr.Line, "error", err)
		default:
			ev.logger.Error("completion failed", "error", err)
		}
		return
	}

	text = strings.TrimSpace(text)
	ev.logger.Info("completion received",
		"prompt_len", len(prompt),
		"answer_len", len(text),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if text == "" {
		return
	}
	a.reply(ctx, ev, text, ev.msg.ID)
}

// classify counts flagged words and records them.
func (a *Assistant) classify(ctx context.Context, ev *event) {
	msg := ev.msg

	occ, err := lexicon.Classify(msg.Content, a.lexicon)
	ev.add(StateClassified)
	if err != nil {
		ev.logger.Warn("classification failed", "error", err)
		return
	}
	ev.outcome.Occurrences = occ
	if len(occ) == 0 {
		return
	}

	guild := msg.GuildName
	if msg.IsDirect() {
		guild = DirectGuild
	}
	user := username(msg)

	written, err := a.recorder.RecordOccurrences(ctx, guild, user, occ)
	if err != nil {
		ev.logger.Error("recording occurrences failed",
			"guild", guild,
			"username", user,
			"occurrences", occ.Total(),
			"written", written,
			"error", err,
		)
		return
	}

	ev.logger.Info("occurrences recorded", "guild", guild, "username", user, "rows", written)
	a.reply(ctx, ev, JarMessage(msg.FromName, occ.Total()), "")
}

func (a *Assistant) reply(ctx context.Context, ev *event, text, replyTo string) {
	err := a.replier.Send(ctx, ev.msg.Channel, ev.msg.ChatID, &channels.OutgoingMessage{
		Content: text,
		ReplyTo: replyTo,
	})
	if err != nil {
		ev.logger.Error("reply failed", "error", err)
		return
	}
	ev.replied(text)
}

// mentioned reports whether the message contains a mention of the bot.
func (a *Assistant) mentioned(msg *channels.IncomingMessage) bool {
	for _, tok := range a.mentionTokens(msg.Channel) {
		if strings.Contains(msg.Content, tok) {
			return true
		}
	}
	return false
}

func (a *Assistant) mentionTokens(channel string) []string {
	tokens := append([]string(nil), a.replier.MentionTokens(channel)...)
	for _, t := range a.cfg.MentionTokens {
		if t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// renderPrompt formats the context window as "author: content" lines with
// every mention token replaced by the display alias.
func (a *Assistant) renderPrompt(msgs []window.Message, mentions []string) string {
	pairs := make([]string, 0, 2*len(mentions))
	for _, m := range mentions {
		pairs = append(pairs, m, a.cfg.Name)
	}
	replacer := strings.NewReplacer(pairs...)

	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		author := m.AuthorName
		if m.AuthorIsSelf {
			author = a.cfg.Name
		}
		b.WriteString(author)
		b.WriteString(": ")
		b.WriteString(replacer.Replace(m.Content))
	}
	return b.String()
}

// JarMessage is the acknowledgement sent after occurrences are recorded.
func JarMessage(user string, total int) string {
	if total == 1 {
		return user + " added a nickel to the jar"
	}
	return fmt.Sprintf("%s added %d nickels to the jar", user, total)
}

// windowKey scopes buffers by platform and chat.
func windowKey(msg *channels.IncomingMessage) string {
	return msg.Channel + ":" + msg.ChatID
}

// username prefers the platform account name over the display name.
func username(msg *channels.IncomingMessage) string {
	if u, ok := msg.Metadata["username"].(string); ok && u != "" {
		return u
	}
	return msg.FromName
}
