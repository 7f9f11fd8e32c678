package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/EgorLis/roombot/internal/chat"
	"github.com/EgorLis/roombot/internal/config"
)

const (
	defaultPing = 10 * time.Second
	minBackoff  = time.Second
	maxBackoff  = 30 * time.Second
	writeWait   = 5 * time.Second
)

var errNotConnected = errors.New("bridge: not connected")

type Options struct {
	Config  config.Bridge
	Rooms   []string // имена gateway
	Welcome string

	PingInterval time.Duration
	MinBackoff   time.Duration
	Now          func() time.Time
	Logger       *zap.Logger
}

// Transport реализует chat.Transport.
type Transport struct {
	opts Options
	url  string
	log  *zap.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	pingStop chan struct{}

	wmu    sync.Mutex // сериализует запись в websocket
	closed atomic.Bool
}

func New(opts Options) (*Transport, error) {
	u, err := wsURL(opts.Config.URL)
	if err != nil {
		return nil, err
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPing
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = minBackoff
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Transport{opts: opts, url: u, log: opts.Logger}, nil
}

// wsURL превращает адрес API (http[s]://host:port) в адрес websocket.
func wsURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("bridge: invalid url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("bridge: unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("bridge: url %q has no host", raw)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/websocket"
	return u.String(), nil
}

// Connect открывает соединение и здоровается во всех gateway.
func (t *Transport) Connect(ctx context.Context) error {
	t.closed.Store(false)
	conn, err := t.dial(ctx)
	if err != nil {
		return err
	}
	t.setConn(conn)
	t.log.Info("Connected to bridge", zap.String("url", t.url))

	if t.opts.Welcome == "" {
		return nil
	}
	for _, room := range t.opts.Rooms {
		if err := t.Send(ctx, room, chat.Notice(t.opts.Welcome)); err != nil {
			return err
		}
	}
	return nil
}

// dial с установкой pong-handler'а, дедлайнов и запуском пингов.
func (t *Transport) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if t.opts.Config.Token != "" {
		header.Set("Authorization", "Bearer "+t.opts.Config.Token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, t.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("bridge: dial %s: %w (status %d)", t.url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("bridge: dial %s: %w", t.url, err)
	}
	conn.SetReadLimit(1 << 20)

	pongWait := 3 * t.opts.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	return conn, nil
}

func (t *Transport) setConn(conn *websocket.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopPingLocked()
	t.conn = conn
	t.pingStop = make(chan struct{})
	go t.ping(conn, t.pingStop)
}

func (t *Transport) current() *websocket.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

func (t *Transport) ping(conn *websocket.Conn, stop <-chan struct{}) {
	tick := time.NewTicker(t.opts.PingInterval)
	defer tick.Stop()
	for {
		select {
		case <-stop:
			return
		case <-tick.C:
			t.wmu.Lock()
			err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait))
			t.wmu.Unlock()
			if err != nil {
				t.log.Debug("Ping failed", zap.Error(err))
			}
		}
	}
}

func (t *Transport) stopPingLocked() {
	if t.pingStop != nil {
		close(t.pingStop)
		t.pingStop = nil
	}
}

// closeConn безопасно закрывает текущее соединение.
func (t *Transport) closeConn() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopPingLocked()
	if t.conn == nil {
		return
	}
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing"),
		time.Now().Add(500*time.Millisecond))
	_ = t.conn.Close()
	t.conn = nil
}

// Listen читает сообщения до отмены ctx или Close. Обрыв соединения
// лечится переподключением.
func (t *Transport) Listen(ctx context.Context, h chat.Handler) error {
	stop := context.AfterFunc(ctx, t.closeConn)
	defer stop()

	backoff := t.opts.MinBackoff
	for {
		if conn := t.current(); conn != nil {
			_, data, err := conn.ReadMessage()
			if err == nil {
				backoff = t.opts.MinBackoff
				var m Message
				if uerr := json.Unmarshal(data, &m); uerr != nil {
					t.log.Warn("Malformed bridge message", zap.Error(uerr))
					continue
				}
				if ev, ok := t.toEvent(m); ok {
					h(ctx, ev)
				}
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if t.closed.Load() {
				return nil
			}
			t.log.Warn("Bridge connection lost", zap.Error(err))
			t.closeConn()
		}
		if err := t.reconnect(ctx, &backoff); err != nil {
			return err
		}
	}
}

// reconnect с экспоненциальной задержкой.
func (t *Transport) reconnect(ctx context.Context, backoff *time.Duration) error {
	for {
		timer := time.NewTimer(*backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if t.closed.Load() {
			return nil
		}
		conn, err := t.dial(ctx)
		if err != nil {
			t.log.Warn("Reconnect failed", zap.Duration("wait", *backoff), zap.Error(err))
			*backoff = min(*backoff*2, maxBackoff)
			continue
		}
		t.setConn(conn)
		if ctx.Err() != nil {
			t.closeConn()
			return ctx.Err()
		}
		t.log.Info("Reconnected to bridge")
		*backoff = t.opts.MinBackoff
		return nil
	}
}

func (t *Transport) toEvent(m Message) (chat.Event, bool) {
	if m.Event != "" || m.Text == "" {
		return chat.Event{}, false
	}
	var age time.Duration
	if !m.Timestamp.IsZero() {
		age = max(t.opts.Now().Sub(m.Timestamp), 0)
	}
	return chat.Event{
		Sender:    m.Username,
		RoomID:    m.Gateway,
		OwnUserID: t.opts.Config.Username,
		Body:      m.Text,
		Age:       age,
	}, true
}

// Send пишет сообщение в gateway. HTML мост не передаёт, уходит Body.
func (t *Transport) Send(ctx context.Context, roomID string, msg chat.Message) error {
	conn := t.current()
	if conn == nil {
		return errNotConnected
	}
	out := Message{
		Text:      msg.Body,
		Username:  t.opts.Config.Username,
		Gateway:   roomID,
		Timestamp: t.opts.Now(),
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	t.wmu.Lock()
	defer t.wmu.Unlock()
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(out); err != nil {
		return fmt.Errorf("bridge: send to %s: %w", roomID, err)
	}
	return nil
}

// Join: в мосту нельзя зайти в комнату, можно только проверить, что
// gateway настроен.
func (t *Transport) Join(_ context.Context, roomID string) error {
	if !slices.Contains(t.opts.Rooms, roomID) {
		return fmt.Errorf("bridge: gateway %q is not configured", roomID)
	}
	return nil
}

func (t *Transport) JoinedRooms(context.Context) ([]string, error) {
	return slices.Clone(t.opts.Rooms), nil
}

func (t *Transport) Close() error {
	t.closed.Store(true)
	t.closeConn()
	return nil
}
