// Package chattest - поддельный chat.Client для тестов: запоминает
// отправленные сообщения и умеет падать по требованию.
package chattest

import (
	"context"
	"errors"
	"sync"

	"github.com/EgorLis/roombot/internal/chat"
)

// Sent - одно отправленное сообщение.
type Sent struct {
	RoomID string
	chat.Message
}

// Recorder реализует chat.Client.
type Recorder struct {
	mu      sync.Mutex
	sent    []Sent
	joined  []string
	SendErr error // если задан, Send возвращает его (сообщение всё равно записывается)
	RoomErr error // если задан, JoinedRooms возвращает его
}

// New возвращает рекордер, "состоящий" в переданных комнатах.
func New(rooms ...string) *Recorder {
	return &Recorder{joined: append([]string(nil), rooms...)}
}

func (r *Recorder) Send(_ context.Context, roomID string, msg chat.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Sent{RoomID: roomID, Message: msg})
	return r.SendErr
}

func (r *Recorder) Join(_ context.Context, roomID string) error {
	if roomID == "" {
		return errors.New("empty room id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.joined {
		if j == roomID {
			return nil
		}
	}
	r.joined = append(r.joined, roomID)
	return nil
}

func (r *Recorder) JoinedRooms(context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.RoomErr != nil {
		return nil, r.RoomErr
	}
	return append([]string(nil), r.joined...), nil
}

// Sent возвращает копию всех отправленных сообщений.
func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

// SentTo - сообщения в конкретную комнату.
func (r *Recorder) SentTo(roomID string) []Sent {
	var out []Sent
	for _, s := range r.Sent() {
		if s.RoomID == roomID {
			out = append(out, s)
		}
	}
	return out
}

// Reset очищает историю.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.sent = nil
	r.mu.Unlock()
}
