package commands

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/EgorLis/roombot/internal/bridge"
	"github.com/EgorLis/roombot/internal/chat"
	"github.com/EgorLis/roombot/internal/config"
	"github.com/EgorLis/roombot/internal/logging"
	"github.com/EgorLis/roombot/internal/matrix"
	"github.com/EgorLis/roombot/internal/printer"
)

// app - то, что нужно каждой команде после чтения конфигурации.
type app struct {
	backend  config.Backend
	store    *config.Store
	settings *config.Settings
	log      *zap.Logger
}

func loadApp(ctx context.Context, location string) (*app, error) {
	backend, err := config.Open(location)
	if err != nil {
		return nil, printer.Error("Invalid configuration location", err.Error(), []string{
			"Pass --config with a .yaml, .toml file or a redis:// URL",
		})
	}
	store, err := config.Load(ctx, backend, nil)
	if err != nil {
		closeBackend(backend)
		return nil, configError(location, err)
	}
	settings, err := config.LoadSettings(store)
	if err != nil {
		closeBackend(backend)
		return nil, configError(location, err)
	}
	log, err := logging.New(verbose, settings.Bot.LogFormat)
	if err != nil {
		closeBackend(backend)
		return nil, printer.Error("Logger setup failed", err.Error(), nil)
	}
	log.Info("Configuration loaded", zap.String("backend", backend.String()), zap.String("transport", settings.Bot.Transport))
	return &app{backend: backend, store: store, settings: settings, log: log}, nil
}

func configError(location string, err error) error {
	var mk *config.MissingKeyError
	if errors.As(err, &mk) {
		return printer.Error("Configuration incomplete", err.Error(), []string{
			"Add the missing key to " + location,
		})
	}
	return printer.Error("Configuration invalid", err.Error(), nil)
}

func (a *app) close() {
	_ = a.log.Sync()
	closeBackend(a.backend)
}

func closeBackend(b config.Backend) {
	if c, ok := b.(io.Closer); ok {
		_ = c.Close()
	}
}

// transport выбирает мессенджер по bot.transport.
func (a *app) transport() (chat.Transport, error) {
	s := a.settings
	switch s.Bot.Transport {
	case config.TransportBridge:
		tr, err := bridge.New(bridge.Options{
			Config:  s.Bridge,
			Rooms:   s.Bot.Rooms,
			Welcome: s.Bot.WelcomeMessage,
			Logger:  a.log.Named("bridge"),
		})
		if err != nil {
			return nil, err
		}
		return tr, nil
	default:
		return matrix.New(matrix.Options{
			Config:    s.Matrix,
			Rooms:     s.Bot.Rooms,
			Welcome:   s.Bot.WelcomeMessage,
			Logger:    a.log.Named("matrix"),
			LibLogger: logging.Zerolog(verbose, "mautrix"),
		}), nil
	}
}
