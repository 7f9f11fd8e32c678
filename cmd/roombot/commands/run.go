package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/EgorLis/roombot/internal/bot"
	"github.com/EgorLis/roombot/internal/capability"
	"github.com/EgorLis/roombot/internal/fetch"
	"github.com/EgorLis/roombot/internal/plugins"
	"github.com/EgorLis/roombot/internal/printer"
	"github.com/EgorLis/roombot/internal/scheduler"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the chat network and serve commands",
	Long: `Connect with the configured transport (matrix or bridge), load all enabled
plugins and answer commands until interrupted (SIGINT/SIGTERM).`,
	RunE: runBot,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runBot(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := loadApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.close()
	s := a.settings

	tr, err := a.transport()
	if err != nil {
		return printer.Error("Transport setup failed", err.Error(), nil)
	}
	if err := tr.Connect(ctx); err != nil {
		return printer.Error("Could not connect", err.Error(), []string{
			"Check the " + s.Bot.Transport + " section of " + configPath,
		})
	}

	loc := s.Bot.Location()
	sched := scheduler.New(loc, a.log.Named("scheduler"))
	env := capability.Env{
		Client:      tr,
		Config:      a.store,
		Scheduler:   sched,
		Fetcher:     fetch.New(s.Bot.HTTPTimeout, a.log.Named("fetch")),
		Logger:      a.log,
		Location:    loc,
		GlobalRooms: s.Bot.Rooms,
	}
	reg, err := capability.Build(ctx, env, plugins.All(), capability.Options{
		Enabled:    s.Bot.Capabilities,
		Collisions: capability.CollisionPolicy(s.Bot.KeywordCollisions),
	})
	if err != nil {
		_ = tr.Close()
		return printer.Error("Plugin setup failed", err.Error(), []string{
			"Resolve the keyword collision or set bot.keyword_collisions: overwrite",
		})
	}
	a.log.Info("Bot started", zap.String("version", version), zap.Int("plugins", len(reg.Capabilities())), zap.Strings("jobs", sched.Jobs()))

	b := bot.New(bot.Options{
		Transport: tr,
		Registry:  reg,
		Scheduler: sched,
		Sign:      s.Bot.ControlSign,
		Version:   version,
		Logger:    a.log.Named("bot"),
	})
	if err := b.Run(ctx); err != nil {
		a.log.Error("Bot stopped with error", zap.Error(err))
		return printer.Error("Bot stopped", err.Error(), nil)
	}
	return nil
}
