package commands

import (
	"context"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/EgorLis/roombot/internal/capability"
	"github.com/EgorLis/roombot/internal/chat"
	"github.com/EgorLis/roombot/internal/fetch"
	"github.com/EgorLis/roombot/internal/plugins"
	"github.com/EgorLis/roombot/internal/printer"
	"github.com/EgorLis/roombot/internal/scheduler"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and print the keyword table",
	Long: `Load the configuration, construct every enabled plugin without starting it
and print the resulting keyword routing table. Nothing is sent and no
network connection to the chat is made.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

// offline - chat.Client для check: никуда не пишет.
type offline struct{ rooms []string }

func (o offline) Send(context.Context, string, chat.Message) error { return nil }
func (o offline) Join(context.Context, string) error { return nil }
func (o offline) JoinedRooms(context.Context) ([]string, error) { return o.rooms, nil }

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.close()
	s := a.settings

	loc := s.Bot.Location()
	env := capability.Env{
		Client:      offline{rooms: s.Bot.Rooms},
		Config:      a.store,
		Scheduler:   scheduler.New(loc, a.log.Named("scheduler")),
		Fetcher:     fetch.New(s.Bot.HTTPTimeout, a.log.Named("fetch")),
		Logger:      a.log,
		Location:    loc,
		GlobalRooms: s.Bot.Rooms,
	}
	reg, err := capability.Build(ctx, env, plugins.All(), capability.Options{
		Enabled:    s.Bot.Capabilities,
		Collisions: capability.CollisionPolicy(s.Bot.KeywordCollisions),
		SkipStart:  true,
	})
	if err != nil {
		return printer.Error("Keyword collision", err.Error(), []string{
			"Give the plugins disjoint rooms",
			"Set bot.keyword_collisions: overwrite",
		})
	}

	printer.Step("Configuration %s (transport %s)\n", a.backend, s.Bot.Transport)
	var rows [][]string
	for _, rt := range reg.Routes() {
		rooms := "*"
		if len(rt.Rooms) > 0 {
			rooms = strings.Join(rt.Rooms, ",")
		}
		rows = append(rows, []string{s.Bot.ControlSign + rt.Name, rt.Owner.Name(), rt.Format.String(), rooms})
	}
	printer.Table([]string{"KEYWORD", "PLUGIN", "FORMAT", "ROOMS"}, rows)

	loaded := map[string]bool{}
	for _, c := range reg.Capabilities() {
		loaded[c.Name()] = true
	}
	for _, name := range plugins.Names() {
		if !loaded[name] && (len(s.Bot.Capabilities) == 0 || slices.Contains(s.Bot.Capabilities, name)) {
			printer.Warning("Plugin %s not loaded (see log for the reason)\n", name)
		}
	}
	printer.Success("%d plugins ready\n", len(loaded))
	return nil
}

