// Package chat описывает то, что ядру бота нужно от мессенджера:
// входящее событие, исходящее сообщение и три примитива клиента.
// Конкретные транспорты живут в internal/matrix и internal/bridge.
package chat

import (
	"context"
	"time"
)

// Event - входящее текстовое сообщение комнаты.
type Event struct {
	Sender    string
	RoomID    string
	OwnUserID string // id бота в этой комнате, чтобы не отвечать самому себе
	Body      string
	Age       time.Duration // сколько прошло с момента отправки
}

// Message - исходящее сообщение. Если HTML не пуст, транспорт отправляет
// его как форматированное тело, а Body служит текстовым fallback'ом.
type Message struct {
	Body   string
	HTML   string
	Notice bool
}

// Text - обычное текстовое сообщение.
func Text(body string) Message { return Message{Body: body} }

// Notice - сервисное сообщение (m.notice), на которое другие боты не реагируют.
func Notice(body string) Message { return Message{Body: body, Notice: true} }

// HTML - форматированное сообщение с автоматически собранным plain-text телом.
func HTML(html string) Message { return Message{Body: PlainText(html), HTML: html} }

// Client - исходящая сторона мессенджера.
type Client interface {
	Send(ctx context.Context, roomID string, msg Message) error
	Join(ctx context.Context, roomID string) error
	JoinedRooms(ctx context.Context) ([]string, error)
}

// Handler получает каждое входящее текстовое событие.
type Handler func(ctx context.Context, ev Event)

// Transport - клиент с жизненным циклом: Connect логинится и заходит в
// комнаты, Listen блокируется и доставляет события до отмены ctx.
type Transport interface {
	Client
	Connect(ctx context.Context) error
	Listen(ctx context.Context, h Handler) error
	Close() error
}
