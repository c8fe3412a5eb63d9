package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KeyIP-Scoring/internal/application/scoring"
	"github.com/turtacn/KeyIP-Scoring/internal/domain/task"
	"github.com/turtacn/KeyIP-Scoring/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-Scoring/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/KeyIP-Scoring/internal/intelligence/consensus"
	"github.com/turtacn/KeyIP-Scoring/internal/interfaces/http/handlers"
	"github.com/turtacn/KeyIP-Scoring/internal/interfaces/http/middleware"
)

type stubScorer struct{}

func (stubScorer) Run(_ context.Context, cfg scoring.RunConfig) (*scoring.Result, error) {
	return &scoring.Result{
		RunID: "run-7",
		Mode:  task.ModeSingle,
		Table: &consensus.Table{
			Columns:   []string{consensus.ColMean},
			Data:      []float64{3},
			Rows:      1,
			Receptors: []string{"rec"},
			Ligands:   []string{"lig"},
		},
	}, nil
}

func newTestRouter(t *testing.T) (http.Handler, prometheus.MetricsCollector) {
	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{Namespace: "test"}, logging.NewNopLogger())
	require.NoError(t, err)
	sm := prometheus.NewServerMetrics(collector)
	return NewRouter(RouterConfig{
		ScoreHandler:     handlers.NewScoreHandler(stubScorer{}, nil, handlers.WithServerMetrics(sm)),
		HealthHandler:    handlers.NewHealthHandler("test"),
		Logging:          middleware.DefaultLoggingConfig(),
		Logger:           logging.NewNopLogger(),
		MetricsCollector: collector,
		ServerMetrics:    sm,
	}), collector
}

func TestNewRouter_HealthEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestNewRouter_Score(t *testing.T) {
	r, collector := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, ScoreRoute, strings.NewReader(`{"receptor":"a","ligand":"b"}`)))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "run-7", w.Header().Get(handlers.HeaderRunID))
	assert.Equal(t, "Receptor,Ligand,consensus_mean\nrec,lig,3\n", w.Body.String())

	g := collector.Registerer().(prom.Gatherer)
	n, err := testutil.GatherAndCount(g, "test_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewRouter_MethodNotAllowed(t *testing.T) {
	r, _ := newTestRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, ScoreRoute, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestNewRouter_MetricsEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `test_http_requests_total{method="GET",route="/healthz",status_code="200"} 1`)
}

func TestNewRouter_NilHandlers(t *testing.T) {
	r := NewRouter(RouterConfig{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
