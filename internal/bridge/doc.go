// Package bridge - транспорт бота через API-шлюз matterbridge
// (/api/websocket). Комнатами считаются имена gateway из конфигурации
// matterbridge, так что бот работает в любом чате, который умеет мост:
// IRC, Telegram, Slack и т.д.
//
// Устойчивость:
//   - Запись в сокет сериализована (мьютекс + write-deadline).
//   - Keep-alive через ping/pong; пропавший pong рвёт соединение.
//   - При обрыве Listen переподключается с экспоненциальной задержкой
//     от 1s до 30s.
//
// Пример:
//
//	tr, err := bridge.New(bridge.Options{Config: cfg.Bridge, Rooms: []string{"gateway1"}})
//	if err != nil { return err }
//	if err := tr.Connect(ctx); err != nil { return err }
//	defer tr.Close()
//	err = tr.Listen(ctx, func(ctx context.Context, ev chat.Event) { ... })
package bridge
