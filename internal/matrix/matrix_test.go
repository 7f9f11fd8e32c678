package matrix

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/EgorLis/roombot/internal/chat"
	"github.com/EgorLis/roombot/internal/config"
)

// homeserver - минимальный Matrix-сервер: логин, join, send, joined_rooms.
type homeserver struct {
	*httptest.Server
	mu     sync.Mutex
	token  string
	logins int
	joins  []string
	sent   []map[string]any
	txns   []string
}

func newHomeserver(t *testing.T) *homeserver {
	hs := &homeserver{token: "fresh-token"}
	hs.Server = httptest.NewServer(http.HandlerFunc(hs.serve))
	t.Cleanup(hs.Close)
	return hs
}

func (hs *homeserver) serve(w http.ResponseWriter, r *http.Request) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	path := r.URL.Path

	if strings.HasSuffix(path, "/login") {
		hs.logins++
		_, _ = w.Write([]byte(`{"user_id":"@bot:hs","device_id":"DEV1","access_token":"` + hs.token + `"}`))
		return
	}
	if r.Header.Get("Authorization") != "Bearer "+hs.token {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errcode":"M_UNKNOWN_TOKEN","error":"Invalid access token"}`))
		return
	}
	switch {
	case strings.HasSuffix(path, "/joined_rooms"):
		_ = json.NewEncoder(w).Encode(map[string]any{"joined_rooms": hs.joins})
	case strings.Contains(path, "/join"):
		room := "!a:hs"
		if strings.Contains(path, "!b:hs") {
			room = "!b:hs"
		}
		hs.joins = append(hs.joins, room)
		_, _ = w.Write([]byte(`{"room_id":"` + room + `"}`))
	case strings.Contains(path, "/send/m.room.message/"):
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		hs.sent = append(hs.sent, body)
		hs.txns = append(hs.txns, path[strings.LastIndex(path, "/")+1:])
		_, _ = w.Write([]byte(`{"event_id":"$ev"}`))
	default:
		http.NotFound(w, r)
	}
}

func (hs *homeserver) options(t *testing.T, cache string) Options {
	return Options{
		Config: config.Matrix{
			Homeserver:   hs.URL,
			Username:     "bot",
			Password:     "secret",
			SessionCache: cache,
			DeviceName:   "roombot",
		},
		Rooms:   []string{"!a:hs"},
		Welcome: "Hello",
		Logger:  zaptest.NewLogger(t),
	}
}

func TestPasswordLoginWritesCache(t *testing.T) {
	hs := newHomeserver(t)
	cache := filepath.Join(t.TempDir(), "cache", "session.json")

	tr := New(hs.options(t, cache))
	require.NoError(t, tr.Connect(context.Background()))

	assert.Equal(t, 1, hs.logins)
	assert.Equal(t, []string{"!a:hs"}, hs.joins)
	require.Len(t, hs.sent, 1)
	assert.Equal(t, "m.notice", hs.sent[0]["msgtype"])
	assert.Equal(t, "Hello", hs.sent[0]["body"])

	sess, err := loadSession(cache)
	require.NoError(t, err)
	assert.Equal(t, &Session{Homeserver: hs.URL, UserID: "@bot:hs", DeviceID: "DEV1", AccessToken: "fresh-token"}, sess)

	info, err := os.Stat(cache)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestCachedSessionSkipsLogin(t *testing.T) {
	hs := newHomeserver(t)
	cache := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, saveSession(cache, &Session{Homeserver: hs.URL, UserID: "@bot:hs", DeviceID: "DEV1", AccessToken: "fresh-token"}))

	tr := New(hs.options(t, cache))
	require.NoError(t, tr.Connect(context.Background()))
	assert.Zero(t, hs.logins)
	assert.Equal(t, []string{"!a:hs"}, hs.joins)
}

func TestStaleCacheFallsBackToPassword(t *testing.T) {
	hs := newHomeserver(t)
	cache := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, saveSession(cache, &Session{Homeserver: hs.URL, UserID: "@bot:hs", AccessToken: "revoked"}))

	tr := New(hs.options(t, cache))
	require.NoError(t, tr.Connect(context.Background()))
	assert.Equal(t, 1, hs.logins)

	sess, err := loadSession(cache)
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", sess.AccessToken)
}

func TestSendAndJoinedRooms(t *testing.T) {
	hs := newHomeserver(t)
	opts := hs.options(t, "")
	opts.Welcome = ""
	tr := New(opts)
	ctx := context.Background()
	require.NoError(t, tr.Connect(ctx))

	require.NoError(t, tr.Send(ctx, "!a:hs", chat.HTML("<b>Hi</b>")))
	require.NoError(t, tr.Send(ctx, "!a:hs", chat.HTML("<b>Hi</b>")))
	require.Len(t, hs.sent, 2)
	assert.Equal(t, "m.text", hs.sent[0]["msgtype"])
	assert.Equal(t, "Hi", hs.sent[0]["body"])
	assert.Equal(t, "org.matrix.custom.html", hs.sent[0]["format"])
	assert.Equal(t, "<b>Hi</b>", hs.sent[0]["formatted_body"])
	assert.NotEqual(t, hs.txns[0], hs.txns[1])

	rooms, err := tr.JoinedRooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"!a:hs"}, rooms)
}

func TestNotConnected(t *testing.T) {
	tr := New(Options{})
	assert.Error(t, tr.Send(context.Background(), "!a:hs", chat.Text("x")))
	_, err := tr.JoinedRooms(context.Background())
	assert.Error(t, err)
	assert.NoError(t, tr.Close())
}

func TestToEvent(t *testing.T) {
	evt := &event.Event{
		Sender: id.UserID("@alice:hs"),
		RoomID: id.RoomID("!a:hs"),
		Content: event.Content{Parsed: &event.MessageEventContent{
			MsgType: event.MsgText,
			Body:    "!echo hi",
		}},
	}
	evt.Unsigned.Age = 6000

	got, ok := toEvent(evt, "@bot:hs")
	require.True(t, ok)
	assert.Equal(t, chat.Event{
		Sender:    "@alice:hs",
		RoomID:    "!a:hs",
		OwnUserID: "@bot:hs",
		Body:      "!echo hi",
		Age:       6 * time.Second,
	}, got)

	evt.Content.Parsed = &event.MessageEventContent{MsgType: event.MsgNotice, Body: "!echo hi"}
	_, ok = toEvent(evt, "@bot:hs")
	assert.False(t, ok)
}
