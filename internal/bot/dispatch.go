package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/EgorLis/roombot/internal/capability"
	"github.com/EgorLis/roombot/internal/chat"
)

// MaxAge - события старше этого считаются историей синхронизации.
const MaxAge = 5 * time.Second

// NotImplemented - ответ на слово, объявленное без обработчика.
const NotImplemented = "Plugin method for keyword not implemented."

// Router - то, что диспетчеру нужно от реестра.
type Router interface {
	Resolve(keyword, roomID string) (capability.Route, error)
	GlobalHelp(controlSign, roomID string) string
	KeywordHelp(keyword, controlSign, roomID string) string
}

// Dispatcher превращает входящее событие максимум в одно исходящее.
type Dispatcher struct {
	client  chat.Client
	router  Router
	sign    string
	version string
	log     *zap.Logger
}

func NewDispatcher(client chat.Client, router Router, sign, version string, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{client: client, router: router, sign: sign, version: version, log: log}
}

// Parse отрезает управляющий символ и делит текст по первому пробельному
// символу (пробел, таб, перевод строки). param == nil, если его нет.
func Parse(body, sign string) (keyword string, param *string, ok bool) {
	if sign == "" || !strings.HasPrefix(body, sign) {
		return "", nil, false
	}
	rest := strings.TrimPrefix(body, sign)
	if i := strings.IndexFunc(rest, unicode.IsSpace); i >= 0 {
		_, size := utf8.DecodeRuneInString(rest[i:])
		p := rest[i+size:]
		return rest[:i], &p, true
	}
	return rest, nil, true
}

// HandleEvent - chat.Handler для транспорта.
func (d *Dispatcher) HandleEvent(ctx context.Context, ev chat.Event) {
	msg, ok := d.Dispatch(ctx, ev)
	if !ok {
		return
	}
	if err := d.client.Send(ctx, ev.RoomID, msg); err != nil {
		d.log.Warn("Reply not delivered", zap.String("room", ev.RoomID), zap.Error(err))
	}
}

// Dispatch вычисляет ответ на событие; ok == false - отвечать не нужно.
func (d *Dispatcher) Dispatch(ctx context.Context, ev chat.Event) (chat.Message, bool) {
	if ev.OwnUserID != "" && ev.Sender == ev.OwnUserID {
		return chat.Message{}, false
	}
	if ev.Age > MaxAge {
		d.log.Debug("Ignoring old event", zap.String("room", ev.RoomID), zap.Duration("age", ev.Age))
		return chat.Message{}, false
	}
	keyword, param, ok := Parse(ev.Body, d.sign)
	if !ok {
		return chat.Message{}, false
	}
	log := d.log.With(zap.String("room", ev.RoomID), zap.String("keyword", keyword))

	switch keyword {
	case "version":
		return chat.Text(fmt.Sprintf("Running version: %s", d.version)), true
	case "help":
		var text string
		if param == nil {
			text = d.router.GlobalHelp(d.sign, ev.RoomID)
		} else {
			text = d.router.KeywordHelp(strings.TrimPrefix(*param, d.sign), d.sign, ev.RoomID)
		}
		return helpMessage(text), true
	}

	rt, err := d.router.Resolve(keyword, ev.RoomID)
	switch {
	case errors.Is(err, capability.ErrNotFound), errors.Is(err, capability.ErrOutOfScope):
		log.Debug("Keyword not routed", zap.Error(err))
		return chat.Message{}, false
	case err != nil:
		log.Warn("Resolve failed", zap.Error(err))
		return chat.Message{}, false
	}
	if rt.Handler == nil {
		return chat.Text(NotImplemented), true
	}

	log.Info("Command", zap.String("sender", ev.Sender), zap.String("plugin", rt.Owner.Name()))
	out, err := rt.Handler(ctx, param, ev.RoomID)
	if err != nil {
		log.Warn("Handler failed", zap.Error(err))
		return chat.Text(fmt.Sprintf("err: %v", err)), true
	}
	if out == "" {
		return chat.Message{}, false
	}
	if rt.Format == capability.FormatHTML {
		return chat.HTML(out), true
	}
	return chat.Text(out), true
}

// helpMessage - справка моноширинным блоком в виде notice.
func helpMessage(text string) chat.Message {
	return chat.Message{
		Body:   text,
		HTML:   "<pre><code>" + html.EscapeString(text) + "</code></pre>",
		Notice: true,
	}
}
