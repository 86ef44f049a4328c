package channels

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	name       string
	connectErr error
	in         chan *IncomingMessage

	mu        sync.Mutex
	connected bool
	sent      []string
}

func newFakeChannel(name string) *fakeChannel {
	return &fakeChannel{name: name, in: make(chan *IncomingMessage, 8)}
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Connect(ctx context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) Disconnect() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) Send(ctx context.Context, to string, msg *OutgoingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to+":"+msg.Content)
	return nil
}

func (f *fakeChannel) Receive() <-chan *IncomingMessage { return f.in }

func (f *fakeChannel) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeChannel) Health() HealthStatus { return HealthStatus{Connected: f.IsConnected()} }

func (f *fakeChannel) MentionTokens() []string { return []string{"<@1>"} }

func TestManager_ForwardsMessages(t *testing.T) {
	m := NewManager(nil)
	a := newFakeChannel("a")
	require.NoError(t, m.Register(a))
	require.Error(t, m.Register(newFakeChannel("a")), "duplicate name")

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	a.in <- &IncomingMessage{ID: "1", Channel: "a", Content: "hi"}

	select {
	case msg := <-m.Messages():
		assert.Equal(t, "1", msg.ID)
	case <-time.After(time.Second):
		t.Fatal("message not forwarded")
	}
}

func TestManager_Send(t *testing.T) {
	m := NewManager(nil)
	a := newFakeChannel("a")
	require.NoError(t, m.Register(a))
	ctx := context.Background()

	err := m.Send(ctx, "a", "chat", &OutgoingMessage{Content: "x"})
	require.ErrorIs(t, err, ErrChannelDisconnected)

	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	require.NoError(t, m.Send(ctx, "a", "chat", &OutgoingMessage{Content: "hello"}))
	assert.Equal(t, []string{"chat:hello"}, a.sent)

	err = m.Send(ctx, "missing", "chat", &OutgoingMessage{Content: "x"})
	require.ErrorIs(t, err, ErrChannelNotFound)

	assert.Equal(t, []string{"<@1>"}, m.MentionTokens("a"))
	assert.Nil(t, m.MentionTokens("missing"))
	assert.True(t, m.HealthAll()["a"].Connected)
}

func TestManager_StartFailures(t *testing.T) {
	m := NewManager(nil)
	require.Error(t, m.Start(context.Background()), "no channels")

	m = NewManager(nil)
	bad := newFakeChannel("bad")
	bad.connectErr = errors.New("invalid token")
	require.NoError(t, m.Register(bad))

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid token")
}

func TestManager_StopClosesStream(t *testing.T) {
	m := NewManager(nil)
	a := newFakeChannel("a")
	require.NoError(t, m.Register(a))
	require.NoError(t, m.Start(context.Background()))

	m.Stop()
	m.Stop()

	_, ok := <-m.Messages()
	assert.False(t, ok)
	assert.False(t, a.IsConnected())
}

func TestIncomingMessage_IsDirect(t *testing.T) {
	assert.True(t, (&IncomingMessage{}).IsDirect())
	assert.False(t, (&IncomingMessage{GuildID: "g"}).IsDirect())
}
