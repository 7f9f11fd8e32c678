// Package bot - ядро чат-бота: разбирает входящие сообщения комнат,
// отвечает на встроенные команды (!version, !help) и передаёт остальные
// ключевые слова плагинам через реестр capability.
//
// Жизненный цикл:
//   - Собрать транспорт (internal/matrix или internal/bridge), реестр
//     (capability.Build) и планировщик.
//   - Создать бота через New(...) и вызвать Run(ctx).
//   - Run блокируется до отмены ctx: слушает транспорт и крутит
//     фоновые задачи плагинов, затем останавливает планировщик.
//
// Пример:
//
//	b := bot.New(bot.Options{
//		Transport: tr,
//		Registry:  reg,
//		Scheduler: sched,
//		Sign:      "!",
//		Version:   "1.2.0",
//		Logger:    log,
//	})
//	if err := b.Run(ctx); err != nil { log.Fatal("bot stopped", zap.Error(err)) }
//
// На одно входящее сообщение приходится не больше одного ответа.
package bot
