package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/EgorLis/roombot/internal/config"
	"github.com/EgorLis/roombot/internal/printer"
)

var (
	migrateFrom  string
	migrateTo    string
	migrateForce bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Copy the configuration document between backends",
	Long: `Copy the whole configuration document from one location to another, for
example from config/config.yaml to redis://localhost:6379/0.

The target is not overwritten unless --force is given.`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().StringVar(&migrateFrom, "from", "", "source location (defaults to --config)")
	migrateCmd.Flags().StringVar(&migrateTo, "to", "", "target location")
	migrateCmd.Flags().BoolVar(&migrateForce, "force", false, "overwrite an existing target document")
	_ = migrateCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	from := migrateFrom
	if from == "" {
		from = configPath
	}

	src, err := config.Open(from)
	if err != nil {
		return printer.Error("Invalid source location", err.Error(), nil)
	}
	defer closeBackend(src)
	dst, err := config.Open(migrateTo)
	if err != nil {
		return printer.Error("Invalid target location", err.Error(), nil)
	}
	defer closeBackend(dst)

	printer.Step("Reading %s\n", src)
	store, err := config.Load(ctx, src, nil)
	if err != nil {
		return configError(from, err)
	}

	if !migrateForce {
		_, err := dst.Load(ctx)
		switch {
		case err == nil:
			return printer.Error("Target already has a configuration", fmt.Sprintf("%s is not empty", dst), []string{
				"Pass --force to overwrite it",
			})
		case !errors.Is(err, config.ErrDocumentMissing):
			return printer.Error("Target not readable", err.Error(), nil)
		}
	}

	printer.Step("Writing %s\n", dst)
	if err := dst.Save(ctx, store.Document()); err != nil {
		return printer.Error("Migration failed", err.Error(), nil)
	}
	printer.Success("Configuration copied to %s\n", dst)
	return nil
}
