package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/latoulicious/spoticord/pkg/database"
	"github.com/latoulicious/spoticord/pkg/logging"
)

var migrateOpts struct {
	timeout time.Duration
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	Long: `Open the configured database, apply any pending schema migrations
and exit. The bot applies the same migrations on startup.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().DurationVar(&migrateOpts.timeout, "timeout", 30*time.Second,
		"Give up if the database is not reachable within this duration")
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := logging.NewStructuredLogger(cfg.Logging())

	store, err := database.NewStore(storeConfig(cfg), log)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), migrateOpts.timeout)
	defer cancel()

	if err := store.Initialize(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "database is up to date")
	return nil
}
