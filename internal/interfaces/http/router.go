// Package http is the score server's HTTP surface.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/turtacn/KeyIP-Scoring/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-Scoring/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/KeyIP-Scoring/internal/interfaces/http/handlers"
	"github.com/turtacn/KeyIP-Scoring/internal/interfaces/http/middleware"
)

// ScoreRoute is the only API route.
const ScoreRoute = "/api/v1/score"

type RouterConfig struct {
	ScoreHandler  *handlers.ScoreHandler
	HealthHandler *handlers.HealthHandler

	Logging          middleware.LoggingConfig
	Logger           logging.Logger
	MetricsCollector prometheus.MetricsCollector
	ServerMetrics    *prometheus.ServerMetrics
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if cfg.Logger != nil {
		r.Use(middleware.RequestLogging(cfg.Logger, cfg.Logging))
	}
	r.Use(middleware.RequestMetrics(cfg.ServerMetrics))

	if cfg.HealthHandler != nil {
		r.Get("/healthz", cfg.HealthHandler.Liveness)
		r.Get("/readyz", cfg.HealthHandler.Readiness)
	}
	if cfg.MetricsCollector != nil {
		r.Handle("/metrics", cfg.MetricsCollector.Handler())
	}
	if cfg.ScoreHandler != nil {
		r.With(middleware.InFlight(cfg.ServerMetrics, ScoreRoute)).
			Post(ScoreRoute, cfg.ScoreHandler.Score)
	}

	return r
}
