package bot

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/EgorLis/roombot/internal/chat"
)

var errTransportClosed = errors.New("transport closed")

// Jobs - фоновые задачи плагинов (internal/scheduler).
type Jobs interface {
	Start(ctx context.Context)
	Stop()
}

type Options struct {
	Transport chat.Transport
	Registry  Router
	Scheduler Jobs
	Sign      string
	Version   string
	Logger    *zap.Logger
}

type RoomBot struct {
	transport  chat.Transport
	jobs       Jobs
	dispatcher *Dispatcher
	log        *zap.Logger
}

func New(opts Options) *RoomBot {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &RoomBot{
		transport:  opts.Transport,
		jobs:       opts.Scheduler,
		dispatcher: NewDispatcher(opts.Transport, opts.Registry, opts.Sign, opts.Version, log.Named("dispatch")),
		log:        log,
	}
}

// Run слушает транспорт и крутит задачи до отмены ctx. Ошибка транспорта
// останавливает всё остальное.
func (b *RoomBot) Run(ctx context.Context) error {
	if b.transport == nil {
		return errors.New("bot: transport is not set")
	}
	g, ctx := errgroup.WithContext(ctx)

	if b.jobs != nil {
		b.jobs.Start(ctx)
		g.Go(func() error {
			<-ctx.Done()
			b.jobs.Stop()
			return nil
		})
	}
	g.Go(func() error {
		b.log.Info("Listening for messages")
		err := b.transport.Listen(ctx, b.dispatcher.HandleEvent)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			err = errTransportClosed
		}
		return fmt.Errorf("listen: %w", err)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if cerr := b.transport.Close(); cerr != nil {
		b.log.Warn("Transport close failed", zap.Error(cerr))
	}
	b.log.Info("Bot stopped")
	return err
}
