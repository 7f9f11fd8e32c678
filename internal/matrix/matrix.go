// Package matrix - транспорт бота поверх Matrix (mautrix): вход по паролю
// или из кэша сессии, вход в комнаты, отправка и синхронизация.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.uber.org/zap"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/EgorLis/roombot/internal/chat"
	"github.com/EgorLis/roombot/internal/config"
)

type Options struct {
	Config  config.Matrix
	Rooms   []string
	Welcome string
	// HTTPClient подменяется в тестах.
	HTTPClient *http.Client
	Logger     *zap.Logger
	LibLogger  zerolog.Logger
}

// Transport реализует chat.Transport.
type Transport struct {
	opts Options
	log  *zap.Logger

	mu     sync.RWMutex
	client *mautrix.Client
}

func New(opts Options) *Transport {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Transport{opts: opts, log: log}
}

// Connect входит на сервер. Сначала пробуется кэш сессии: он считается
// рабочим, если удалось зайти в комнаты. Иначе вход по паролю.
func (t *Transport) Connect(ctx context.Context) error {
	cfg := t.opts.Config

	sess, err := loadSession(cfg.SessionCache)
	if err != nil {
		t.log.Warn("Session cache unusable", zap.Error(err))
	}
	if sess.valid() && sess.Homeserver == cfg.Homeserver {
		cli, err := t.newClient(sess.Homeserver, id.UserID(sess.UserID), sess.AccessToken)
		if err == nil {
			cli.DeviceID = id.DeviceID(sess.DeviceID)
			t.setClient(cli)
			if err = t.joinAll(ctx); err == nil {
				t.log.Info("Logged in from session cache", zap.String("user", sess.UserID))
				return nil
			}
		}
		t.log.Warn("Cached session rejected, falling back to password login", zap.Error(err))
	}

	cli, err := t.newClient(cfg.Homeserver, "", "")
	if err != nil {
		return err
	}
	resp, err := cli.Login(ctx, &mautrix.ReqLogin{
		Type:                     mautrix.AuthTypePassword,
		Identifier:               mautrix.UserIdentifier{Type: mautrix.IdentifierTypeUser, User: cfg.Username},
		Password:                 cfg.Password,
		InitialDeviceDisplayName: cfg.DeviceName,
		StoreCredentials:         true,
	})
	if err != nil {
		return fmt.Errorf("matrix login %s: %w", cfg.Username, err)
	}
	t.setClient(cli)
	t.log.Info("Logged in with password", zap.String("user", resp.UserID.String()))

	err = saveSession(cfg.SessionCache, &Session{
		Homeserver:  cfg.Homeserver,
		UserID:      resp.UserID.String(),
		DeviceID:    resp.DeviceID.String(),
		AccessToken: resp.AccessToken,
	})
	if err != nil {
		t.log.Warn("Session cache not written", zap.Error(err))
	}
	return t.joinAll(ctx)
}

func (t *Transport) newClient(hs string, user id.UserID, token string) (*mautrix.Client, error) {
	cli, err := mautrix.NewClient(hs, user, token)
	if err != nil {
		return nil, fmt.Errorf("matrix client %s: %w", hs, err)
	}
	if t.opts.HTTPClient != nil {
		cli.Client = t.opts.HTTPClient
	}
	cli.Log = t.opts.LibLogger
	return cli, nil
}

func (t *Transport) setClient(cli *mautrix.Client) {
	t.mu.Lock()
	t.client = cli
	t.mu.Unlock()
}

func (t *Transport) cli() (*mautrix.Client, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.client == nil {
		return nil, errors.New("matrix: not connected")
	}
	return t.client, nil
}

// joinAll заходит во все комнаты бота и здоровается.
func (t *Transport) joinAll(ctx context.Context) error {
	for _, room := range t.opts.Rooms {
		if err := t.Join(ctx, room); err != nil {
			return err
		}
		if t.opts.Welcome == "" {
			continue
		}
		if err := t.Send(ctx, room, chat.Notice(t.opts.Welcome)); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transport) Join(ctx context.Context, roomID string) error {
	cli, err := t.cli()
	if err != nil {
		return err
	}
	if _, err := cli.JoinRoomByID(ctx, id.RoomID(roomID)); err != nil {
		return fmt.Errorf("join %s: %w", roomID, err)
	}
	t.log.Debug("Joined room", zap.String("room", roomID))
	return nil
}

func (t *Transport) JoinedRooms(ctx context.Context) ([]string, error) {
	cli, err := t.cli()
	if err != nil {
		return nil, err
	}
	resp, err := cli.JoinedRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("joined rooms: %w", err)
	}
	out := make([]string, 0, len(resp.JoinedRooms))
	for _, r := range resp.JoinedRooms {
		out = append(out, r.String())
	}
	return out, nil
}

// Send отправляет m.text или m.notice; txn id делает повтор идемпотентным.
func (t *Transport) Send(ctx context.Context, roomID string, msg chat.Message) error {
	cli, err := t.cli()
	if err != nil {
		return err
	}
	_, err = cli.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, content(msg),
		mautrix.ReqSendEvent{TransactionID: uuid.NewString()})
	if err != nil {
		return fmt.Errorf("send to %s: %w", roomID, err)
	}
	return nil
}

func content(msg chat.Message) *event.MessageEventContent {
	c := &event.MessageEventContent{MsgType: event.MsgText, Body: msg.Body}
	if msg.Notice {
		c.MsgType = event.MsgNotice
	}
	if msg.HTML != "" {
		c.Format = event.FormatHTML
		c.FormattedBody = msg.HTML
	}
	return c
}

// Listen синхронизируется до отмены ctx и отдаёт текстовые сообщения h.
func (t *Transport) Listen(ctx context.Context, h chat.Handler) error {
	cli, err := t.cli()
	if err != nil {
		return err
	}
	syncer, ok := cli.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("matrix: unsupported syncer")
	}
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		if ev, ok := toEvent(evt, cli.UserID.String()); ok {
			h(ctx, ev)
		}
	})
	return cli.SyncWithContext(ctx)
}

// toEvent берёт только m.text.
func toEvent(evt *event.Event, own string) (chat.Event, bool) {
	msg := evt.Content.AsMessage()
	if msg == nil || msg.MsgType != event.MsgText {
		return chat.Event{}, false
	}
	return chat.Event{
		Sender:    evt.Sender.String(),
		RoomID:    evt.RoomID.String(),
		OwnUserID: own,
		Body:      msg.Body,
		Age:       time.Duration(evt.Unsigned.Age) * time.Millisecond,
	}, true
}

func (t *Transport) Close() error {
	t.mu.RLock()
	cli := t.client
	t.mu.RUnlock()
	if cli != nil {
		cli.StopSync()
	}
	return nil
}
