package cli

import (
	"context"
	"errors"
	"net/http"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/classhub/progression-engine/internal/domain/notification"
	rediscache "github.com/classhub/progression-engine/internal/infrastructure/persistence/redis"
	httpserver "github.com/classhub/progression-engine/internal/interface/http"
	"github.com/classhub/progression-engine/pkg/logger"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Bool("follow-notifications", false, "Log notifications published on Redis by any instance")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve health, metrics and read-only progress endpoints",
	Long: `Start the ops HTTP server:

  GET /healthz                          dependency checks
  GET /live                             liveness
  GET /metrics                          Prometheus metrics
  GET /api/v1/students/{id}/progress    ?classroom=
  GET /api/v1/students/{id}/wallet      ?classroom=&type=&page=&page_size=

Stops on SIGINT or SIGTERM.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	follow, _ := cmd.Flags().GetBool("follow-notifications")

	return withApp(cmd, func(ctx context.Context, app *App) error {
		cfg := app.Config
		srvCfg := httpserver.DefaultConfig()
		srvCfg.Host = cfg.Observability.HTTPHost
		srvCfg.Port = cfg.Observability.HTTPPort

		var metricsHandler http.Handler
		if cfg.Observability.MetricsEnabled {
			metricsHandler = app.Metrics.Handler()
		}
		srv := httpserver.NewServer(srvCfg, httpserver.Dependencies{
			Progress: app.Progress,
			History:  app.History,
			Health:   app.Health,
			Metrics:  metricsHandler,
			Logger:   app.Log,
		})

		g, gctx := errgroup.WithContext(ctx)
		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.App.ShutdownTimeout)
			defer cancel()
			app.Log.Info("shutting down")
			return srv.Shutdown(shutdownCtx)
		})
		if follow && app.cache != nil {
			log := app.Log.With(logger.Component("notification_follower"))
			g.Go(func() error {
				err := rediscache.Listen(gctx, app.cache, log, func(n notification.Notification) {
					log.Info("notification received",
						logger.String("type", string(n.Type)),
						logger.UserID(n.UserID),
						logger.ClassroomID(n.ClassroomID),
					)
				})
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		}

		app.Log.Info("progression engine started",
			logger.String("env", string(cfg.App.Environment)),
			logger.String("version", cfg.App.Version),
			logger.String("addr", srvCfg.Address()),
		)
		return g.Wait()
	})
}
