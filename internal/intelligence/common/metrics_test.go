package common

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPrometheusScoringMetrics_DuplicateRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := NewPrometheusScoringMetrics(registry, "")
	require.NoError(t, err)

	_, err = NewPrometheusScoringMetrics(registry, "")
	assert.Error(t, err)

	_, err = NewPrometheusScoringMetrics(registry, "other")
	assert.NoError(t, err)
}

func TestPrometheus_RecordsAndStats(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewPrometheusScoringMetrics(registry, "test")
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordExtraction(ctx, &ExtractionMetricParams{Extractor: "cmd", DurationMs: 10, Success: true})
	m.RecordExtraction(ctx, &ExtractionMetricParams{Extractor: "cmd", DurationMs: 30, Success: false})
	m.RecordCacheAccess(ctx, true, "features")
	m.RecordCacheAccess(ctx, false, "features")
	m.RecordModelLoad(ctx, "xgbscore_multi", "v1", 5, true)
	m.RecordInference(ctx, &InferenceMetricParams{ModelName: "xgbscore_multi", Rows: 3, Success: true})
	m.RecordRun(ctx, &RunMetricParams{Mode: "single", Rows: 3, Success: true})
	m.RecordBatchProcessing(ctx, &BatchMetricParams{BatchName: "features", SuccessItems: 2})
	m.RecordExtraction(ctx, nil)

	stats := m.GetCurrentStats()
	assert.Equal(t, int64(2), stats.TotalExtractions)
	assert.Equal(t, int64(1), stats.FailedExtractions)
	assert.Equal(t, 20.0, stats.AvgExtractionMs)
	assert.Equal(t, 0.5, stats.CacheHitRate)
	assert.Equal(t, int64(1), stats.ModelsLoaded)
	assert.Equal(t, int64(1), stats.CompletedRuns)

	count, err := testutil.GatherAndCount(registry, "test_scored_rows_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestInMemory_Records(t *testing.T) {
	m := NewInMemoryScoringMetrics()
	ctx := context.Background()

	m.RecordModelLoad(ctx, "mlpscore_multi", "", 1, true)
	m.RecordModelLoad(ctx, "wdscore_multi", "", 1, false)
	m.RecordInference(ctx, &InferenceMetricParams{ModelName: "mlpscore_multi"})
	m.RecordRun(ctx, &RunMetricParams{Success: false})

	assert.Equal(t, []string{"mlpscore_multi", "wdscore_multi"}, m.ModelLoadNames())
	assert.Len(t, m.Inferences(), 1)
	assert.Len(t, m.Runs(), 1)

	stats := m.GetCurrentStats()
	assert.Equal(t, int64(1), stats.ModelsLoaded)
	assert.Equal(t, int64(1), stats.FailedRuns)
}

func TestNoop_AllMethods_NoPanic(t *testing.T) {
	m := NewNoopScoringMetrics()
	ctx := context.Background()
	m.RecordExtraction(ctx, nil)
	m.RecordBatchProcessing(ctx, nil)
	m.RecordCacheAccess(ctx, true, "")
	m.RecordModelLoad(ctx, "", "", 0, true)
	m.RecordInference(ctx, nil)
	m.RecordRun(ctx, nil)
	assert.Equal(t, &ScoringStats{}, m.GetCurrentStats())
}

func TestLatencyHistogram_Percentiles(t *testing.T) {
	h := newLatencyHistogram()
	assert.Equal(t, 0.0, h.Percentile(50))
	for i := 1; i <= 100; i++ {
		h.Observe(float64(i))
	}
	assert.Equal(t, 1.0, h.Percentile(0))
	assert.Equal(t, 100.0, h.Percentile(100))
	assert.InDelta(t, 50.5, h.Percentile(50), 1e-9)
	assert.InDelta(t, 95.05, h.Percentile(95), 1e-9)
	assert.Len(t, h.samples, 100)
	assert.Equal(t, 5050.0, h.Sum())
}

func TestLatencyHistogram_Concurrent(t *testing.T) {
	h := newLatencyHistogram()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h.Observe(1)
				_ = h.Percentile(90)
			}
		}()
	}
	wg.Wait()
	assert.Len(t, h.samples, 800)
}
