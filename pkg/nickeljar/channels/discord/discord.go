// Package discord implements the Discord channel using discordgo.
//
// Every message the gateway delivers is forwarded, including the bot's own
// replies (marked FromSelf) so they become part of the conversation context.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/jholhewres/nickeljar/pkg/nickeljar/channels"
)

// MaxMessageLength is the Discord limit for one message, in characters.
const MaxMessageLength = 2000

// Config holds Discord channel configuration.
type Config struct {
	// Token is the Discord bot token. Usually resolved from the environment
	// or the OS keyring rather than the config file.
	Token string `yaml:"token"`

	// AllowedGuilds restricts which guild (server) IDs are observed.
	// Empty means all guilds.
	AllowedGuilds []string `yaml:"allowed_guilds"`

	// AllowedChannels restricts which channel IDs are observed.
	// Empty means all channels.
	AllowedChannels []string `yaml:"allowed_channels"`

	// IgnoreBots drops messages from other bot accounts.
	IgnoreBots bool `yaml:"ignore_bots"`
}

// Discord implements channels.Channel and channels.Mentioner.
type Discord struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session

	messages chan *channels.IncomingMessage

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64
	dropped    atomic.Int64

	mu     sync.RWMutex
	selfID string
	guilds map[string]string // guild ID -> name, for guilds missing from state

	// connCtx ends when the gateway connection is closed; handlers blocked
	// on a full buffer give up then.
	connCtx    context.Context
	cancelConn context.CancelFunc
}

// New creates a new Discord channel instance.
func New(cfg Config, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	// Not connected yet: a full buffer drops instead of waiting.
	connCtx, cancel := context.WithCancel(context.Background())
	cancel()
	return &Discord{
		cfg:        cfg,
		logger:     logger.With("component", "discord"),
		messages:   make(chan *channels.IncomingMessage, 256),
		guilds:     make(map[string]string),
		connCtx:    connCtx,
		cancelConn: cancel,
	}
}

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// Connect opens the Discord gateway WebSocket connection.
func (d *Discord) Connect(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuilds

	session.AddHandler(d.onMessageCreate)

	connCtx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.connCtx, d.cancelConn = connCtx, cancel
	d.mu.Unlock()

	if err := session.Open(); err != nil {
		cancel()
		return fmt.Errorf("discord: opening gateway: %w", err)
	}

	d.mu.Lock()
	d.session = session
	d.selfID = session.State.User.ID
	d.mu.Unlock()
	d.connected.Store(true)

	user := session.State.User
	d.logger.Info("connected", "bot", user.Username, "id", user.ID)
	return nil
}

// Disconnect closes the Discord gateway connection.
func (d *Discord) Disconnect() error {
	d.mu.Lock()
	session := d.session
	d.session = nil
	d.cancelConn()
	d.mu.Unlock()

	if session != nil {
		if err := session.Close(); err != nil {
			return fmt.Errorf("discord: closing gateway: %w", err)
		}
	}
	d.connected.Store(false)
	d.logger.Info("disconnected")
	return nil
}

// Send sends a text message to a channel, split at the Discord length limit.
func (d *Discord) Send(ctx context.Context, to string, message *channels.OutgoingMessage) error {
	d.mu.RLock()
	session := d.session
	d.mu.RUnlock()
	if session == nil {
		return channels.ErrChannelDisconnected
	}

	for i, chunk := range SplitMessage(message.Content, MaxMessageLength) {
		msgSend := &discordgo.MessageSend{Content: chunk}
		if i == 0 && message.ReplyTo != "" {
			msgSend.Reference = &discordgo.MessageReference{MessageID: message.ReplyTo, ChannelID: to}
		}
		if _, err := session.ChannelMessageSendComplex(to, msgSend, discordgo.WithContext(ctx)); err != nil {
			d.errorCount.Add(1)
			return fmt.Errorf("discord: send to %s: %w", to, err)
		}
	}
	return nil
}

// Receive returns the incoming messages channel.
func (d *Discord) Receive() <-chan *channels.IncomingMessage {
	return d.messages
}

// IsConnected returns true if the bot is connected.
func (d *Discord) IsConnected() bool { return d.connected.Load() }

// Health returns the channel health status.
func (d *Discord) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := d.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     d.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(d.errorCount.Load()),
		Details: map[string]any{
			"buffered": len(d.messages),
			"dropped":  d.dropped.Load(),
		},
	}
}

// MentionTokens returns the user and nickname mention forms of the bot.
func (d *Discord) MentionTokens() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return MentionTokens(d.selfID)
}

// MentionTokens returns the mention forms of a user ID.
func MentionTokens(userID string) []string {
	if userID == "" {
		return nil
	}
	return []string{"<@" + userID + ">", "<@!" + userID + ">"}
}

func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}
	selfID := s.State.User.ID
	if !d.accepts(m.Message, selfID) {
		return
	}

	incoming := toIncoming(m.Message, selfID, d.guildName(s, m.GuildID))

	d.lastMsg.Store(time.Now())
	d.deliver(incoming)
}

// deliver queues a message, waiting while the buffer is full. The message is
// dropped only when the connection closes first.
func (d *Discord) deliver(msg *channels.IncomingMessage) bool {
	d.mu.RLock()
	ctx := d.connCtx
	d.mu.RUnlock()

	select {
	case d.messages <- msg:
		return true
	default:
	}

	d.logger.Debug("message buffer full, waiting", "msg_id", msg.ID)
	select {
	case d.messages <- msg:
		return true
	case <-ctx.Done():
		d.dropped.Add(1)
		d.errorCount.Add(1)
		d.logger.Warn("connection closed with a full message buffer, dropping message", "msg_id", msg.ID)
		return false
	}
}

// accepts applies the guild, channel and bot filters.
func (d *Discord) accepts(m *discordgo.Message, selfID string) bool {
	if d.cfg.IgnoreBots && m.Author.Bot && m.Author.ID != selfID {
		return false
	}
	if len(d.cfg.AllowedGuilds) > 0 && m.GuildID != "" && !slices.Contains(d.cfg.AllowedGuilds, m.GuildID) {
		return false
	}
	if len(d.cfg.AllowedChannels) > 0 && !slices.Contains(d.cfg.AllowedChannels, m.ChannelID) {
		return false
	}
	return true
}

// guildName resolves a guild's name from the state cache, then from a local
// cache of REST lookups. It falls back to the guild ID.
func (d *Discord) guildName(s *discordgo.Session, guildID string) string {
	if guildID == "" {
		return ""
	}
	if g, err := s.State.Guild(guildID); err == nil && g.Name != "" {
		return g.Name
	}

	d.mu.RLock()
	name, ok := d.guilds[guildID]
	d.mu.RUnlock()
	if ok {
		return name
	}

	name = guildID
	if g, err := s.Guild(guildID); err == nil && g.Name != "" {
		name = g.Name
	} else if err != nil {
		d.logger.Debug("guild lookup failed", "guild_id", guildID, "error", err)
	}

	d.mu.Lock()
	d.guilds[guildID] = name
	d.mu.Unlock()
	return name
}

func toIncoming(m *discordgo.Message, selfID, guildName string) *channels.IncomingMessage {
	name := m.Author.Username
	if m.Member != nil && m.Member.Nick != "" {
		name = m.Member.Nick
	} else if m.Author.GlobalName != "" {
		name = m.Author.GlobalName
	}

	incoming := &channels.IncomingMessage{
		ID:        m.ID,
		Channel:   "discord",
		From:      m.Author.ID,
		FromName:  name,
		FromSelf:  m.Author.ID == selfID,
		ChatID:    m.ChannelID,
		GuildID:   m.GuildID,
		GuildName: guildName,
		Content:   m.Content,
		Timestamp: m.Timestamp,
		Metadata: map[string]any{
			"username": m.Author.Username,
			"bot":      m.Author.Bot,
		},
	}
	if m.ReferencedMessage != nil {
		incoming.ReplyTo = m.ReferencedMessage.ID
	}
	return incoming
}

// SplitMessage splits text into chunks of at most maxLen characters,
// preferring to cut after a newline in the second half of a chunk.
func SplitMessage(text string, maxLen int) []string {
	if utf8.RuneCountInString(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	runes := []rune(text)
	for len(runes) > 0 {
		if len(runes) <= maxLen {
			chunks = append(chunks, string(runes))
			break
		}
		cutAt := maxLen
		for i := maxLen - 1; i > maxLen/2; i-- {
			if runes[i] == '\n' {
				cutAt = i + 1
				break
			}
		}
		chunks = append(chunks, string(runes[:cutAt]))
		runes = runes[cutAt:]
	}
	return chunks
}

var (
	_ channels.Channel   = (*Discord)(nil)
	_ channels.Mentioner = (*Discord)(nil)
)
