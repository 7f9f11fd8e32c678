// Package commands - CLI roombot на cobra: run, check, migrate.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

const defaultConfig = "config/config.yaml"

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"

	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "roombot",
	Short: "roombot - keyword-driven chat room bot",
	Long: `roombot answers keyword commands (like !rss or !dates) in Matrix rooms or
matterbridge gateways and announces new feed entries, calendar events and
civil protection warnings.

The configuration is a single document: a YAML or TOML file, or a key in
Redis (redis://host:6379/0?key=roombot:config).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute запускает CLI; ошибки печатает printer, cobra молчит.
func Execute() error {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

func SetVersionInfo(v, c, d string) {
	version, commit, date = v, c, d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfig,
		"configuration location (.yaml, .toml or redis:// URL)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}
