package bridge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/EgorLis/roombot/internal/chat"
	"github.com/EgorLis/roombot/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// gateway - поддельный matterbridge. script вызывается для каждого
// нового соединения; вернув false, сервер рвёт соединение.
type gateway struct {
	*httptest.Server
	up       websocket.Upgrader
	mu       sync.Mutex
	conns    int
	received []Message
	script   func(n int, c *websocket.Conn) bool
}

func newGateway(t *testing.T, script func(n int, c *websocket.Conn) bool) *gateway {
	g := &gateway{script: script}
	g.Server = httptest.NewServer(http.HandlerFunc(g.serve))
	t.Cleanup(g.Close)
	return g
}

func (g *gateway) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/websocket" {
		http.NotFound(w, r)
		return
	}
	if r.Header.Get("Authorization") != "Bearer s3cret" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	c, err := g.up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer c.Close()

	g.mu.Lock()
	n := g.conns
	g.conns++
	g.mu.Unlock()

	if g.script != nil && !g.script(n, c) {
		return
	}
	for {
		var m Message
		if err := c.ReadJSON(&m); err != nil {
			return
		}
		g.mu.Lock()
		g.received = append(g.received, m)
		g.mu.Unlock()
	}
}

func (g *gateway) messages() []Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Message(nil), g.received...)
}

func (g *gateway) transport(t *testing.T, token string) *Transport {
	tr, err := New(Options{
		Config:     config.Bridge{URL: g.URL, Token: token, Username: "roombot"},
		Rooms:      []string{"main", "ops"},
		Welcome:    "Hello",
		MinBackoff: 10 * time.Millisecond,
		Now:        func() time.Time { return now },
		Logger:     zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return tr
}

func say(c *websocket.Conn, m Message) bool {
	return c.WriteJSON(m) == nil
}

func listen(ctx context.Context, tr *Transport) (<-chan chat.Event, <-chan error) {
	events := make(chan chat.Event, 16)
	done := make(chan error, 1)
	go func() {
		done <- tr.Listen(ctx, func(_ context.Context, ev chat.Event) { events <- ev })
	}()
	return events, done
}

func TestConnectListenAndCancel(t *testing.T) {
	g := newGateway(t, func(_ int, c *websocket.Conn) bool {
		return say(c, Message{Event: EventAPIConnected}) &&
			say(c, Message{Text: "!echo hi", Username: "alice", Gateway: "main", Timestamp: now.Add(-2 * time.Second)}) &&
			say(c, Message{Text: "Hello", Username: "roombot", Gateway: "ops", Timestamp: now}) &&
			say(c, Message{Text: "alice joined", Event: EventJoinLeave, Gateway: "main"})
	})
	tr := g.transport(t, "s3cret")
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, tr.Connect(ctx))

	events, done := listen(ctx, tr)

	first := <-events
	assert.Equal(t, chat.Event{Sender: "alice", RoomID: "main", OwnUserID: "roombot", Body: "!echo hi", Age: 2 * time.Second}, first)
	second := <-events
	assert.Equal(t, second.Sender, second.OwnUserID)

	require.Eventually(t, func() bool { return len(g.messages()) == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "main", g.messages()[0].Gateway)
	assert.Equal(t, "ops", g.messages()[1].Gateway)
	assert.Equal(t, "Hello", g.messages()[0].Text)
	assert.Equal(t, "roombot", g.messages()[0].Username)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Empty(t, events)
	require.NoError(t, tr.Close())
}

func TestReconnectAfterDrop(t *testing.T) {
	g := newGateway(t, func(n int, c *websocket.Conn) bool {
		text := "first"
		if n > 0 {
			text = "second"
		}
		// первое соединение сервер сразу рвёт
		return say(c, Message{Text: text, Username: "alice", Gateway: "main"}) && n > 0
	})
	tr := g.transport(t, "s3cret")
	tr.opts.Welcome = ""
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, tr.Connect(ctx))

	events, done := listen(ctx, tr)
	assert.Equal(t, "first", (<-events).Body)
	assert.Equal(t, "second", (<-events).Body)

	// после переподключения отправка снова работает
	require.NoError(t, tr.Send(ctx, "main", chat.HTML("<b>back</b>")))
	require.Eventually(t, func() bool { return len(g.messages()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "back", g.messages()[0].Text)

	require.NoError(t, tr.Close())
	err := <-done
	assert.True(t, err == nil || errors.Is(err, context.Canceled), "unexpected error: %v", err)
}

func TestConnectUnauthorized(t *testing.T) {
	g := newGateway(t, nil)
	tr := g.transport(t, "wrong")
	err := tr.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.ErrorIs(t, tr.Send(context.Background(), "main", chat.Text("x")), errNotConnected)
}

func TestJoin(t *testing.T) {
	tr, err := New(Options{Config: config.Bridge{URL: "http://localhost:4242"}, Rooms: []string{"main"}})
	require.NoError(t, err)
	assert.NoError(t, tr.Join(context.Background(), "main"))
	assert.Error(t, tr.Join(context.Background(), "elsewhere"))
	rooms, err := tr.JoinedRooms(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"main"}, rooms)
}

func TestWSURL(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{in: "http://localhost:4242", want: "ws://localhost:4242/api/websocket"},
		{in: "https://bridge.example.org/", want: "wss://bridge.example.org/api/websocket"},
		{in: "ws://10.0.0.1:4242/mb", want: "ws://10.0.0.1:4242/mb/api/websocket"},
		{in: "ftp://host", wantErr: true},
		{in: "localhost:4242", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := wsURL(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
