package cli

import (
	"context"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/KeyIP-Scoring/internal/bootstrap"
	"github.com/turtacn/KeyIP-Scoring/internal/config"
	"github.com/turtacn/KeyIP-Scoring/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-Scoring/internal/infrastructure/monitoring/prometheus"
	httpapi "github.com/turtacn/KeyIP-Scoring/internal/interfaces/http"
	"github.com/turtacn/KeyIP-Scoring/internal/interfaces/http/handlers"
	"github.com/turtacn/KeyIP-Scoring/internal/interfaces/http/middleware"
)

func NewServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve scoring requests over HTTP",
		Long: "Start the HTTP front end: POST /api/v1/score runs a scoring request with\n" +
			"the configured backends, /healthz and /readyz report liveness and backend\n" +
			"readiness, and /metrics exposes Prometheus metrics.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cc.Config.Server.Port = port
			}
			return Serve(cmd.Context(), cc.Config, cc.Logger)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default from server.port)")
	return cmd
}

// Serve builds the runtime and serves HTTP until ctx is cancelled.
func Serve(ctx context.Context, cfg *config.Config, log logging.Logger) error {
	rt, err := bootstrap.Build(ctx, cfg, log, bootstrap.WithProcessMetrics())
	if err != nil {
		return err
	}
	defer rt.Close()

	sm := prometheus.NewServerMetrics(rt.Collector)
	srv := httpapi.NewServer(cfg.Server, newRouter(rt, sm), log.Named("http"))

	up := sm.ServiceUp.WithLabelValues("scoreserver")
	up.Set(1)
	defer up.Set(0)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+time.Second)
	defer cancel()
	if err := srv.Stop(stopCtx); err != nil {
		return err
	}
	return <-errCh
}

func newRouter(rt *bootstrap.Runtime, sm *prometheus.ServerMetrics) http.Handler {
	cfg := rt.Config
	checks := make([]handlers.HealthChecker, len(rt.Checks))
	for i, c := range rt.Checks {
		checks[i] = c
	}

	scoreOpts := []handlers.ScoreOption{
		handlers.WithDefaults(baseRunConfig(cfg)),
		handlers.WithServerMetrics(sm),
	}
	if cfg.Server.MaxBodySize > 0 {
		scoreOpts = append(scoreOpts, handlers.WithMaxBodySize(cfg.Server.MaxBodySize))
	}

	log := rt.Logger.Named("http")
	return httpapi.NewRouter(httpapi.RouterConfig{
		ScoreHandler:     handlers.NewScoreHandler(rt.Service, log, scoreOpts...),
		HealthHandler:    handlers.NewHealthHandler(Version, checks...),
		Logging:          middleware.DefaultLoggingConfig(),
		Logger:           log,
		MetricsCollector: rt.Collector,
		ServerMetrics:    sm,
	})
}
