// Package cli implements the progressionctl commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/classhub/progression-engine/config"
	"github.com/classhub/progression-engine/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "progressionctl",
	Short: "Classroom progression engine",
	Long: `progressionctl runs progression triggers against the configured store:
bit grants, group grants, stat adjustments and shield use. It also prints
progress and wallet history, manages the PostgreSQL schema and serves the
ops HTTP endpoints.

Configuration comes from progression.yaml (or --config) and environment
variables such as ENGINE_STORAGE, DATABASE_URL and REDIS_ENABLED.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().String("seed", "", "JSON file with XP settings, badges and groups to load first")
}

// ExecuteContext runs the root command with ctx.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// newLogger writes to stderr so stdout stays machine-readable.
func newLogger(cfg *config.Config) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Output = os.Stderr
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	if cfg.Observability.LogFormat != "" {
		opts.Format = cfg.Observability.LogFormat
	}
	opts.AddCaller = !cfg.IsProduction()
	return logger.New(opts)
}

// withApp builds the application for one command and tears it down after.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *App) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	defer log.Sync()

	ctx := cmd.Context()
	app, err := NewApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	if seedPath, _ := cmd.Flags().GetString("seed"); seedPath != "" {
		seed, err := LoadSeed(seedPath)
		if err != nil {
			return err
		}
		if err := app.ApplySeed(ctx, seed); err != nil {
			return fmt.Errorf("apply seed: %w", err)
		}
	}
	return fn(ctx, app)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
