package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/rovshanmuradov/solana-trader/internal/bot"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the alert scheduler and the read-only HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRunner(cmd, func(ctx context.Context, r *bot.Runner) error {
			return r.Run(ctx)
		})
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the storage schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		store, err := bot.OpenStorage(cfg.Storage, log.Logger)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.RunMigrations(cmd.Context()); err != nil {
			return err
		}
		cmd.Printf("Schema ready (%s)\n", cfg.Storage.Driver)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd, migrateCmd)
}
