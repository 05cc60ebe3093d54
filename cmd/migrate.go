package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/modelguard/modelguard/internal/config"
	"github.com/modelguard/modelguard/internal/data/db"
	"github.com/modelguard/modelguard/internal/log"
	internalsql "github.com/modelguard/modelguard/internal/sql"
)

// newMigrateCmd creates the migrate subcommand.
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the scan tables on every configured shard.",
		RunE:  runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	logger := log.NewLogger(ctx)

	configPath, _ := cmd.Flags().GetString("config") //nolint:errcheck
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	if len(cfg.Shards) == 0 {
		return fmt.Errorf("no shards configured")
	}

	pool := internalsql.NewShardPool(cfg.Shards)
	if err := db.AutoMigrate(ctx, pool); err != nil {
		return fmt.Errorf("error migrating shards: %w", err)
	}
	logger.Info("shards migrated")
	return nil
}
