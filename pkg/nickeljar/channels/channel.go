// Package channels defines the chat transport abstraction. Each platform
// adapter implements Channel to deliver inbound messages and send replies.
package channels

import (
	"context"
	"errors"
	"time"
)

// Channel is a chat platform connection.
type Channel interface {
	// Name returns the channel identifier (e.g. "discord").
	Name() string

	// Connect opens the platform session. Inbound messages flow on Receive
	// until Disconnect.
	Connect(ctx context.Context) error
	Disconnect() error

	// Send delivers a reply into the chat identified by to.
	Send(ctx context.Context, to string, message *OutgoingMessage) error

	Receive() <-chan *IncomingMessage
	IsConnected() bool
	Health() HealthStatus
}

// Mentioner is implemented by channels that know how the bot is addressed.
type Mentioner interface {
	// MentionTokens returns the literal strings that address the bot in
	// message content. Empty before Connect.
	MentionTokens() []string
}

// IncomingMessage is a message received from any channel.
type IncomingMessage struct {
	// ID is the platform message ID.
	ID string

	// Channel identifies the source channel (e.g. "discord").
	Channel string

	// From and FromName are the author's platform ID and display name.
	From     string
	FromName string

	// FromSelf is true for messages the bot itself authored.
	FromSelf bool

	// ChatID is the channel or DM identifier; replies go here.
	ChatID string

	// GuildID and GuildName identify the server. Empty for direct messages.
	GuildID   string
	GuildName string

	Content   string
	Timestamp time.Time

	// ReplyTo is the ID of the message being replied to, if any.
	ReplyTo string

	// Metadata carries adapter extras such as "username".
	Metadata map[string]any
}

// IsDirect reports whether the message came from a direct message chat.
func (m *IncomingMessage) IsDirect() bool { return m.GuildID == "" }

// OutgoingMessage is a message to be sent through a channel.
type OutgoingMessage struct {
	Content string

	// ReplyTo is the ID of the message to reply to.
	ReplyTo string
}

// HealthStatus is a point-in-time view of a channel connection.
type HealthStatus struct {
	Connected     bool
	LastMessageAt time.Time
	ErrorCount    int
	Details       map[string]any
}

// Errors.
var (
	ErrChannelDisconnected = errors.New("channel is not connected")
	ErrChannelNotFound     = errors.New("channel not found")
)
