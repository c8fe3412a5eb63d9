package common

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ---------------------------------------------------------------------------
// Interfaces
// ---------------------------------------------------------------------------

// ScoringMetrics is the telemetry API of the scoring pipeline.  Every stage
// (feature extraction, model loading, inference, the run as a whole) records
// through it so that the backing implementation (Prometheus, in-memory, noop)
// can be swapped without touching pipeline code.
type ScoringMetrics interface {
	// RecordExtraction records one feature-extraction call.
	RecordExtraction(ctx context.Context, params *ExtractionMetricParams)

	// RecordBatchProcessing records one worker-pool run.
	RecordBatchProcessing(ctx context.Context, params *BatchMetricParams)

	// RecordCacheAccess records a feature-cache hit or miss.
	RecordCacheAccess(ctx context.Context, hit bool, cacheName string)

	// RecordModelLoad records a model artifact load.
	RecordModelLoad(ctx context.Context, modelName, version string, durationMs float64, success bool)

	// RecordInference records one batched prediction over a feature table.
	RecordInference(ctx context.Context, params *InferenceMetricParams)

	// RecordRun records a completed or failed scoring run.
	RecordRun(ctx context.Context, params *RunMetricParams)

	// GetCurrentStats returns a point-in-time snapshot, logged with every
	// completed run.
	GetCurrentStats() *ScoringStats
}

// ---------------------------------------------------------------------------
// Parameter structs
// ---------------------------------------------------------------------------

// ExtractionMetricParams describes one feature-extraction call.
type ExtractionMetricParams struct {
	Extractor  string  `json:"extractor"`
	DurationMs float64 `json:"duration_ms"`
	Success    bool    `json:"success"`
	Cached     bool    `json:"cached"`
}

// BatchMetricParams describes one worker-pool run.
type BatchMetricParams struct {
	BatchName       string  `json:"batch_name"`
	TotalItems      int     `json:"total_items"`
	SuccessItems    int     `json:"success_items"`
	FailedItems     int     `json:"failed_items"`
	SkippedItems    int     `json:"skipped_items"`
	TotalDurationMs float64 `json:"total_duration_ms"`
	MaxConcurrency  int     `json:"max_concurrency"`
}

// InferenceMetricParams describes one model prediction over a table.
type InferenceMetricParams struct {
	ModelName  string  `json:"model_name"`
	Submodel   string  `json:"submodel,omitempty"`
	Rows       int     `json:"rows"`
	DurationMs float64 `json:"duration_ms"`
	Success    bool    `json:"success"`
}

// RunMetricParams describes a scoring run.
type RunMetricParams struct {
	Mode       string  `json:"mode"`
	WorkItems  int     `json:"work_items"`
	Rows       int     `json:"rows"`
	DurationMs float64 `json:"duration_ms"`
	Success    bool    `json:"success"`
}

// ScoringStats is a point-in-time snapshot of pipeline metrics.
type ScoringStats struct {
	TotalExtractions  int64   `json:"total_extractions"`
	FailedExtractions int64   `json:"failed_extractions"`
	AvgExtractionMs   float64 `json:"avg_extraction_ms"`
	P50ExtractionMs   float64 `json:"p50_extraction_ms"`
	P95ExtractionMs   float64 `json:"p95_extraction_ms"`
	P99ExtractionMs   float64 `json:"p99_extraction_ms"`
	CacheHitRate      float64 `json:"cache_hit_rate"`
	TotalInferences   int64   `json:"total_inferences"`
	ModelsLoaded      int64   `json:"models_loaded"`
	CompletedRuns     int64   `json:"completed_runs"`
	FailedRuns        int64   `json:"failed_runs"`
}

// ---------------------------------------------------------------------------
// Prometheus implementation
// ---------------------------------------------------------------------------

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "keyscore"

var defaultLatencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 15000, 60000}

type prometheusScoringMetrics struct {
	extractionDuration *prometheus.HistogramVec
	extractionTotal    *prometheus.CounterVec
	batchDuration      *prometheus.HistogramVec
	batchItemsTotal    *prometheus.CounterVec
	cacheAccessTotal   *prometheus.CounterVec
	modelLoadDuration  *prometheus.HistogramVec
	inferenceDuration  *prometheus.HistogramVec
	inferenceTotal     *prometheus.CounterVec
	runDuration        *prometheus.HistogramVec
	runRows            prometheus.Counter

	latencyHist *latencyHistogram
	totalExt    atomic.Int64
	failedExt   atomic.Int64
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
	inferences  atomic.Int64
	modelLoads  atomic.Int64
	runsOK      atomic.Int64
	runsFailed  atomic.Int64
}

// NewPrometheusScoringMetrics creates a Prometheus-backed collector and
// registers every metric with registerer (the default registerer when nil).
// An empty namespace falls back to DefaultNamespace.
func NewPrometheusScoringMetrics(registerer prometheus.Registerer, namespace string) (ScoringMetrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}

	m := &prometheusScoringMetrics{latencyHist: newLatencyHistogram()}

	m.extractionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "feature_extraction_duration_milliseconds",
		Help:      "Histogram of per-pose feature extraction latency in milliseconds.",
		Buckets:   defaultLatencyBuckets,
	}, []string{"extractor", "cached"})

	m.extractionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feature_extraction_total",
		Help:      "Total number of feature extractions.",
	}, []string{"extractor", "status"})

	m.batchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "batch_duration_milliseconds",
		Help:      "Histogram of worker-pool run duration in milliseconds.",
		Buckets:   defaultLatencyBuckets,
	}, []string{"batch_name"})

	m.batchItemsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batch_items_total",
		Help:      "Total number of items handled by the worker pool.",
	}, []string{"batch_name", "status"})

	m.cacheAccessTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_access_total",
		Help:      "Total number of feature cache lookups.",
	}, []string{"cache", "result"})

	m.modelLoadDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "model_load_duration_milliseconds",
		Help:      "Histogram of model artifact load duration in milliseconds.",
		Buckets:   defaultLatencyBuckets,
	}, []string{"model_name", "version", "status"})

	m.inferenceDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "inference_duration_milliseconds",
		Help:      "Histogram of per-model prediction latency in milliseconds.",
		Buckets:   defaultLatencyBuckets,
	}, []string{"model_name"})

	m.inferenceTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "inference_total",
		Help:      "Total number of model predictions.",
	}, []string{"model_name", "status"})

	m.runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_duration_milliseconds",
		Help:      "Histogram of end-to-end scoring run duration in milliseconds.",
		Buckets:   defaultLatencyBuckets,
	}, []string{"mode", "status"})

	m.runRows = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scored_rows_total",
		Help:      "Total number of consensus rows produced.",
	})

	for _, c := range []prometheus.Collector{
		m.extractionDuration, m.extractionTotal, m.batchDuration, m.batchItemsTotal,
		m.cacheAccessTotal, m.modelLoadDuration, m.inferenceDuration, m.inferenceTotal,
		m.runDuration, m.runRows,
	} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *prometheusScoringMetrics) RecordExtraction(_ context.Context, p *ExtractionMetricParams) {
	if p == nil {
		return
	}
	m.extractionDuration.WithLabelValues(p.Extractor, boolLabel(p.Cached)).Observe(p.DurationMs)
	m.extractionTotal.WithLabelValues(p.Extractor, statusLabel(p.Success)).Inc()
	m.latencyHist.Observe(p.DurationMs)
	m.totalExt.Add(1)
	if !p.Success {
		m.failedExt.Add(1)
	}
}

func (m *prometheusScoringMetrics) RecordBatchProcessing(_ context.Context, p *BatchMetricParams) {
	if p == nil {
		return
	}
	m.batchDuration.WithLabelValues(p.BatchName).Observe(p.TotalDurationMs)
	m.batchItemsTotal.WithLabelValues(p.BatchName, "success").Add(float64(p.SuccessItems))
	m.batchItemsTotal.WithLabelValues(p.BatchName, "failed").Add(float64(p.FailedItems))
	m.batchItemsTotal.WithLabelValues(p.BatchName, "skipped").Add(float64(p.SkippedItems))
}

func (m *prometheusScoringMetrics) RecordCacheAccess(_ context.Context, hit bool, cacheName string) {
	result := "miss"
	if hit {
		result = "hit"
		m.cacheHits.Add(1)
	} else {
		m.cacheMisses.Add(1)
	}
	m.cacheAccessTotal.WithLabelValues(cacheName, result).Inc()
}

func (m *prometheusScoringMetrics) RecordModelLoad(_ context.Context, modelName, version string, durationMs float64, success bool) {
	m.modelLoadDuration.WithLabelValues(modelName, version, statusLabel(success)).Observe(durationMs)
	if success {
		m.modelLoads.Add(1)
	}
}

func (m *prometheusScoringMetrics) RecordInference(_ context.Context, p *InferenceMetricParams) {
	if p == nil {
		return
	}
	m.inferenceDuration.WithLabelValues(p.ModelName).Observe(p.DurationMs)
	m.inferenceTotal.WithLabelValues(p.ModelName, statusLabel(p.Success)).Inc()
	m.inferences.Add(1)
}

func (m *prometheusScoringMetrics) RecordRun(_ context.Context, p *RunMetricParams) {
	if p == nil {
		return
	}
	m.runDuration.WithLabelValues(p.Mode, statusLabel(p.Success)).Observe(p.DurationMs)
	if p.Success {
		m.runRows.Add(float64(p.Rows))
		m.runsOK.Add(1)
	} else {
		m.runsFailed.Add(1)
	}
}

func (m *prometheusScoringMetrics) GetCurrentStats() *ScoringStats {
	total := m.totalExt.Load()
	var avg float64
	if total > 0 {
		avg = m.latencyHist.Sum() / float64(total)
	}
	return &ScoringStats{
		TotalExtractions:  total,
		FailedExtractions: m.failedExt.Load(),
		AvgExtractionMs:   avg,
		P50ExtractionMs:   m.latencyHist.Percentile(50),
		P95ExtractionMs:   m.latencyHist.Percentile(95),
		P99ExtractionMs:   m.latencyHist.Percentile(99),
		CacheHitRate:      hitRate(m.cacheHits.Load(), m.cacheMisses.Load()),
		TotalInferences:   m.inferences.Load(),
		ModelsLoaded:      m.modelLoads.Load(),
		CompletedRuns:     m.runsOK.Load(),
		FailedRuns:        m.runsFailed.Load(),
	}
}

// ---------------------------------------------------------------------------
// Noop implementation
// ---------------------------------------------------------------------------

type noopScoringMetrics struct{}

// NewNoopScoringMetrics returns a ScoringMetrics that discards everything.
func NewNoopScoringMetrics() ScoringMetrics { return &noopScoringMetrics{} }

func (*noopScoringMetrics) RecordExtraction(context.Context, *ExtractionMetricParams)      {}
func (*noopScoringMetrics) RecordBatchProcessing(context.Context, *BatchMetricParams)      {}
func (*noopScoringMetrics) RecordCacheAccess(context.Context, bool, string)                {}
func (*noopScoringMetrics) RecordModelLoad(context.Context, string, string, float64, bool) {}
func (*noopScoringMetrics) RecordInference(context.Context, *InferenceMetricParams)        {}
func (*noopScoringMetrics) RecordRun(context.Context, *RunMetricParams)                    {}
func (*noopScoringMetrics) GetCurrentStats() *ScoringStats                                 { return &ScoringStats{} }

// ---------------------------------------------------------------------------
// In-memory implementation (tests, `keyscore models`)
// ---------------------------------------------------------------------------

type modelLoadRecord struct {
	ModelName  string
	Version    string
	DurationMs float64
	Success    bool
	Timestamp  time.Time
}

// InMemoryScoringMetrics keeps every record for later inspection.
type InMemoryScoringMetrics struct {
	mu          sync.Mutex
	extractions []ExtractionMetricParams
	batches     []BatchMetricParams
	inferences  []InferenceMetricParams
	runs        []RunMetricParams
	modelLoads  []modelLoadRecord
	cacheHits   int64
	cacheMisses int64
	latencyHist *latencyHistogram
}

// NewInMemoryScoringMetrics returns an empty in-memory collector.
func NewInMemoryScoringMetrics() *InMemoryScoringMetrics {
	return &InMemoryScoringMetrics{latencyHist: newLatencyHistogram()}
}

func (m *InMemoryScoringMetrics) RecordExtraction(_ context.Context, p *ExtractionMetricParams) {
	if p == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extractions = append(m.extractions, *p)
	m.latencyHist.Observe(p.DurationMs)
}

func (m *InMemoryScoringMetrics) RecordBatchProcessing(_ context.Context, p *BatchMetricParams) {
	if p == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, *p)
}

func (m *InMemoryScoringMetrics) RecordCacheAccess(_ context.Context, hit bool, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.cacheHits++
	} else {
		m.cacheMisses++
	}
}

func (m *InMemoryScoringMetrics) RecordModelLoad(_ context.Context, modelName, version string, durationMs float64, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modelLoads = append(m.modelLoads, modelLoadRecord{
		ModelName:  modelName,
		Version:    version,
		DurationMs: durationMs,
		Success:    success,
		Timestamp:  time.Now(),
	})
}

func (m *InMemoryScoringMetrics) RecordInference(_ context.Context, p *InferenceMetricParams) {
	if p == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inferences = append(m.inferences, *p)
}

func (m *InMemoryScoringMetrics) RecordRun(_ context.Context, p *RunMetricParams) {
	if p == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, *p)
}

func (m *InMemoryScoringMetrics) GetCurrentStats() *ScoringStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var failed int64
	for _, e := range m.extractions {
		if !e.Success {
			failed++
		}
	}
	total := int64(len(m.extractions))
	var avg float64
	if total > 0 {
		avg = m.latencyHist.Sum() / float64(total)
	}
	var loaded, ok, bad int64
	for _, l := range m.modelLoads {
		if l.Success {
			loaded++
		}
	}
	for _, r := range m.runs {
		if r.Success {
			ok++
		} else {
			bad++
		}
	}
	return &ScoringStats{
		TotalExtractions:  total,
		FailedExtractions: failed,
		AvgExtractionMs:   avg,
		P50ExtractionMs:   m.latencyHist.Percentile(50),
		P95ExtractionMs:   m.latencyHist.Percentile(95),
		P99ExtractionMs:   m.latencyHist.Percentile(99),
		CacheHitRate:      hitRate(m.cacheHits, m.cacheMisses),
		TotalInferences:   int64(len(m.inferences)),
		ModelsLoaded:      loaded,
		CompletedRuns:     ok,
		FailedRuns:        bad,
	}
}

// Batches returns a copy of the recorded pool runs.
func (m *InMemoryScoringMetrics) Batches() []BatchMetricParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]BatchMetricParams(nil), m.batches...)
}

// Inferences returns a copy of the recorded predictions.
func (m *InMemoryScoringMetrics) Inferences() []InferenceMetricParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]InferenceMetricParams(nil), m.inferences...)
}

// Runs returns a copy of the recorded runs.
func (m *InMemoryScoringMetrics) Runs() []RunMetricParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RunMetricParams(nil), m.runs...)
}

// ModelLoadNames returns the names of the recorded model loads, in order.
func (m *InMemoryScoringMetrics) ModelLoadNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.modelLoads))
	for i, l := range m.modelLoads {
		out[i] = l.ModelName
	}
	return out
}

// ---------------------------------------------------------------------------
// latencyHistogram
// ---------------------------------------------------------------------------

type latencyHistogram struct {
	mu      sync.Mutex
	samples []float64
	sum     float64
	sorted  bool
}

func newLatencyHistogram() *latencyHistogram {
	return &latencyHistogram{samples: make([]float64, 0, 256)}
}

func (h *latencyHistogram) Observe(durationMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples = append(h.samples, durationMs)
	h.sum += durationMs
	h.sorted = false
}

// Percentile returns the value at percentile p (0–100), interpolating
// linearly between the two nearest ranks.
func (h *latencyHistogram) Percentile(p float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.samples)
	if n == 0 {
		return 0
	}
	if !h.sorted {
		sort.Float64s(h.samples)
		h.sorted = true
	}
	if p <= 0 {
		return h.samples[0]
	}
	if p >= 100 {
		return h.samples[n-1]
	}

	rank := (p / 100) * float64(n-1)
	lower := int(math.Floor(rank))
	upper := lower + 1
	if upper >= n {
		return h.samples[n-1]
	}
	frac := rank - float64(lower)
	return h.samples[lower] + frac*(h.samples[upper]-h.samples[lower])
}

func (h *latencyHistogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func statusLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func hitRate(hits, misses int64) float64 {
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

// compile-time interface checks
var (
	_ ScoringMetrics = (*prometheusScoringMetrics)(nil)
	_ ScoringMetrics = (*noopScoringMetrics)(nil)
	_ ScoringMetrics = (*InMemoryScoringMetrics)(nil)
)
