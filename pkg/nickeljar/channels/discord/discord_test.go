package discord

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jholhewres/nickeljar/pkg/nickeljar/channels"
)

func message(authorID, guildID, channelID string, bot bool) *discordgo.Message {
	return &discordgo.Message{
		ID:        "m1",
		ChannelID: channelID,
		GuildID:   guildID,
		Content:   "hello <@42>",
		Timestamp: time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC),
		Author:    &discordgo.User{ID: authorID, Username: "user" + authorID, Bot: bot},
	}
}

func TestToIncoming(t *testing.T) {
	m := message("7", "g1", "c1", false)
	m.Member = &discordgo.Member{Nick: "Nick"}
	m.ReferencedMessage = &discordgo.Message{ID: "m0"}

	in := toIncoming(m, "42", "Coin Club")
	assert.Equal(t, "m1", in.ID)
	assert.Equal(t, "discord", in.Channel)
	assert.Equal(t, "7", in.From)
	assert.Equal(t, "Nick", in.FromName)
	assert.False(t, in.FromSelf)
	assert.Equal(t, "c1", in.ChatID)
	assert.Equal(t, "g1", in.GuildID)
	assert.Equal(t, "Coin Club", in.GuildName)
	assert.Equal(t, "m0", in.ReplyTo)
	assert.Equal(t, "user7", in.Metadata["username"])
}

func TestToIncoming_SelfAndNames(t *testing.T) {
	m := message("42", "", "dm", true)
	in := toIncoming(m, "42", "")
	assert.True(t, in.FromSelf)
	assert.True(t, in.IsDirect())
	assert.Equal(t, "user42", in.FromName)

	m.Author.GlobalName = "Forty Two"
	assert.Equal(t, "Forty Two", toIncoming(m, "42", "").FromName)
}

func TestAccepts(t *testing.T) {
	d := New(Config{}, nil)
	assert.True(t, d.accepts(message("42", "g", "c", true), "42"), "own messages are kept")
	assert.True(t, d.accepts(message("9", "g", "c", true), "42"))

	d = New(Config{IgnoreBots: true}, nil)
	assert.False(t, d.accepts(message("9", "g", "c", true), "42"))
	assert.True(t, d.accepts(message("42", "g", "c", true), "42"), "self is never treated as a foreign bot")

	d = New(Config{AllowedGuilds: []string{"g"}}, nil)
	assert.True(t, d.accepts(message("1", "g", "c", false), "42"))
	assert.False(t, d.accepts(message("1", "other", "c", false), "42"))
	assert.True(t, d.accepts(message("1", "", "dm", false), "42"), "guild filter ignores DMs")

	d = New(Config{AllowedChannels: []string{"c"}}, nil)
	assert.True(t, d.accepts(message("1", "g", "c", false), "42"))
	assert.False(t, d.accepts(message("1", "g", "x", false), "42"))
}

func TestMentionTokens(t *testing.T) {
	assert.Equal(t, []string{"<@42>", "<@!42>"}, MentionTokens("42"))
	assert.Nil(t, MentionTokens(""))
	assert.Nil(t, New(Config{}, nil).MentionTokens(), "unknown before connect")
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"short"}, SplitMessage("short", 10))

	chunks := SplitMessage(strings.Repeat("a", 25), 10)
	assert.Equal(t, []string{strings.Repeat("a", 10), strings.Repeat("a", 10), strings.Repeat("a", 5)}, chunks)

	chunks = SplitMessage("aaaaaaa\nbbbbbbbbbb", 10)
	assert.Equal(t, []string{"aaaaaaa\n", "bbbbbbbbbb"}, chunks)

	long := strings.Repeat("é", MaxMessageLength+1)
	chunks = SplitMessage(long, MaxMessageLength)
	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("é", MaxMessageLength), chunks[0])
	assert.Equal(t, "é", chunks[1])
}

func TestSendDisconnected(t *testing.T) {
	d := New(Config{}, nil)
	err := d.Send(context.Background(), "c", &channels.OutgoingMessage{Content: "x"})
	require.ErrorIs(t, err, channels.ErrChannelDisconnected)
	assert.False(t, d.IsConnected())
	assert.False(t, d.Health().Connected)
}

func TestDeliver_WaitsForRoomUntilDisconnect(t *testing.T) {
	d := New(Config{}, nil)
	d.messages = make(chan *channels.IncomingMessage, 1)
	ctx, cancel := context.WithCancel(context.Background())
	d.connCtx, d.cancelConn = ctx, cancel

	require.True(t, d.deliver(&channels.IncomingMessage{ID: "a"}))

	delivered := make(chan bool, 1)
	go func() { delivered <- d.deliver(&channels.IncomingMessage{ID: "b"}) }()

	select {
	case <-delivered:
		t.Fatal("deliver returned while the buffer was full")
	case <-time.After(20 * time.Millisecond):
	}

	assert.Equal(t, "a", (<-d.Receive()).ID)
	require.True(t, <-delivered)
	assert.Equal(t, "b", (<-d.Receive()).ID)
	assert.Equal(t, int64(0), d.Health().Details["dropped"])

	require.True(t, d.deliver(&channels.IncomingMessage{ID: "c"}))
	go func() { delivered <- d.deliver(&channels.IncomingMessage{ID: "d"}) }()
	require.NoError(t, d.Disconnect())
	assert.False(t, <-delivered)

	h := d.Health()
	assert.Equal(t, int64(1), h.Details["dropped"])
	assert.Equal(t, 1, h.Details["buffered"])
	assert.Equal(t, 1, h.ErrorCount)
}

func TestDeliver_DropsBeforeConnect(t *testing.T) {
	d := New(Config{}, nil)
	d.messages = make(chan *channels.IncomingMessage, 1)

	require.True(t, d.deliver(&channels.IncomingMessage{ID: "a"}))
	assert.False(t, d.deliver(&channels.IncomingMessage{ID: "b"}))
	assert.Equal(t, int64(1), d.Health().Details["dropped"])
}

func TestConnectRequiresToken(t *testing.T) {
	require.Error(t, New(Config{}, nil).Connect(context.Background()))
}
