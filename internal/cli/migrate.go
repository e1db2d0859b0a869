package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/classhub/progression-engine/config"
	"github.com/classhub/progression-engine/internal/infrastructure/persistence/postgres"
	"github.com/classhub/progression-engine/pkg/logger"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the PostgreSQL schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE:  runMigrateUp,
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the latest migration",
	RunE:  runMigrateDown,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List migrations and when they were applied",
	RunE:  runMigrateStatus,
}

// withMigrator connects without wiring the engine; migrations must be able
// to run against an empty database.
func withMigrator(cmd *cobra.Command, fn func(ctx context.Context, m *postgres.Migrator, log *logger.Logger) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Engine.Storage != config.StoragePostgres {
		return fmt.Errorf("migrations need ENGINE_STORAGE=%s, got %q", config.StoragePostgres, cfg.Engine.Storage)
	}
	log := newLogger(cfg)
	defer log.Sync()

	ctx := cmd.Context()
	conn, err := postgres.NewConnection(ctx, postgresConfig(cfg.Database))
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer conn.Close()
	return fn(ctx, postgres.NewMigrator(conn), log.With(logger.Component("migrate")))
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	return withMigrator(cmd, func(ctx context.Context, m *postgres.Migrator, log *logger.Logger) error {
		n, err := m.Migrate(ctx)
		if err != nil {
			return err
		}
		log.Info("migrations applied", logger.Int("count", n))
		fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
		return nil
	})
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	return withMigrator(cmd, func(ctx context.Context, m *postgres.Migrator, log *logger.Logger) error {
		if err := m.Rollback(ctx); err != nil {
			return err
		}
		log.Info("migration rolled back")
		fmt.Fprintln(cmd.OutOrStdout(), "rolled back 1 migration")
		return nil
	})
}

func runMigrateStatus(cmd *cobra.Command, _ []string) error {
	return withMigrator(cmd, func(ctx context.Context, m *postgres.Migrator, _ *logger.Logger) error {
		migs, err := m.Status(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED")
		for _, mig := range migs {
			applied := "pending"
			if mig.IsApplied {
				applied = mig.AppliedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%03d\t%s\t%s\n", mig.Version, mig.Name, applied)
		}
		return w.Flush()
	})
}
