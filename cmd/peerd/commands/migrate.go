package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/peerdaemon/peerd/internal/logger"
	"github.com/peerdaemon/peerd/pkg/config"
	"github.com/peerdaemon/peerd/pkg/database"
	"github.com/peerdaemon/peerd/pkg/migrations"
)

var (
	migrateForce bool
	migrateList  bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Run the schema migrations against the databases in the data directory.

The start command runs pending migrations automatically; this command exists
for running them ahead of an upgrade, re-running them with --force, or
listing what would run with --list.

Examples:
  # Run pending migrations
  peerd migrate

  # Re-run every migration, ignoring the history file
  peerd migrate --force

  # Show the registered migrations without applying anything
  peerd migrate --list`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateForce, "force", false, "Re-run migrations even if already applied")
	migrateCmd.Flags().BoolVar(&migrateList, "list", false, "List registered migrations without applying")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	dbCfg := &database.Config{DataDir: cfg.DataDir}
	registered := migrations.Registry(dbCfg, cfg.Flags.Development)

	if migrateList {
		for _, m := range registered {
			fmt.Println(m.Name())
		}
		return nil
	}

	logger.Info("running database migrations", "data_dir", cfg.DataDir, "force", migrateForce)

	migrator := migrations.NewMigrator(dbCfg, registered...)
	if err := migrator.Migrate(context.Background(), migrateForce); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	fmt.Println("Migrations completed successfully")
	return nil
}
