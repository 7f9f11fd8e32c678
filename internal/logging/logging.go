// Package logging собирает zap-логгер бота. Все компоненты получают
// потомка через Named(...), поэтому в выводе видно, кто пишет: "rss",
// "scheduler", "matrix" и т.д.
package logging

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New строит логгер. format: "json" (по умолчанию) или "console".
func New(verbose bool, format string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	switch format {
	case "", "json":
	case "console":
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	default:
		return nil, fmt.Errorf("unknown log format %q (expected json or console)", format)
	}
	cfg.DisableStacktrace = !verbose

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// Zerolog - логгер для библиотек на zerolog (mautrix). Пишет в stderr,
// по умолчанию только warn и выше.
func Zerolog(verbose bool, component string) zerolog.Logger {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(os.Stderr).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}
