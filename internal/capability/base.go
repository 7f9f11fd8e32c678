package capability

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/EgorLis/roombot/internal/chat"
	"github.com/EgorLis/roombot/internal/config"
)

// Base встраивается в плагины: имя, окружение и работа с собственной
// секцией конфигурации.
type Base struct {
	Env
	name string
}

// NewBase - база плагина с именем name (ключ в plugins.<name>).
func NewBase(name string, env Env) Base {
	env = env.withDefaults()
	env.Logger = env.Logger.Named(name)
	return Base{Env: env, name: name}
}

func (b *Base) Name() string { return b.name }

// Log - логгер плагина.
func (b *Base) Log() *zap.Logger { return b.Logger }

// LoadConfig сливает defaults с сохранённой секцией, проверяет обязательные
// ключи и раскладывает результат в out.
func (b *Base) LoadConfig(defaults map[string]any, out any, required ...string) error {
	merged := config.Merge(defaults, b.Config.Get(b.name))
	if err := config.Require(b.name, merged, required...); err != nil {
		return err
	}
	if err := config.Decode(merged, out); err != nil {
		return fmt.Errorf("plugin %s: %w", b.name, err)
	}
	return nil
}

// SaveConfig записывает типизированные настройки обратно в plugins.<name>.
func (b *Base) SaveConfig(ctx context.Context, in any) error {
	m, err := config.Encode(in)
	if err != nil {
		return fmt.Errorf("plugin %s: %w", b.name, err)
	}
	_, err = b.Config.Set(ctx, b.name, m)
	return err
}

// Send отправляет сообщение в каждую из комнат. Без комнат - в глобальные
// комнаты бота. Ошибки отправки логируются и возвращаются вместе.
func (b *Base) Send(ctx context.Context, msg chat.Message, rooms ...string) error {
	if len(rooms) == 0 {
		rooms = b.GlobalRooms
	}
	var errs []error
	for _, room := range rooms {
		b.Logger.Debug("Send message", zap.String("room", room), zap.String("body", msg.Body))
		if err := b.Client.Send(ctx, room, msg); err != nil {
			b.Logger.Warn("Send failed", zap.String("room", room), zap.Error(err))
			errs = append(errs, fmt.Errorf("room %s: %w", room, err))
		}
	}
	return errors.Join(errs...)
}

// JoinedRooms - комнаты, в которых бот состоит.
func (b *Base) JoinedRooms(ctx context.Context) ([]string, error) {
	rooms, err := b.Client.JoinedRooms(ctx)
	if err != nil {
		b.Logger.Warn("Error getting joined rooms", zap.Error(err))
		return nil, fmt.Errorf("joined rooms: %w", err)
	}
	return rooms, nil
}
