// Package common holds the concurrency and telemetry plumbing shared by the
// scoring stages: the fail-fast worker pool and the ScoringMetrics collectors.
package common

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/turtacn/KeyIP-Scoring/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-Scoring/pkg/errors"
)

// ---------------------------------------------------------------------------
// Generic types
// ---------------------------------------------------------------------------

// ProcessFunc processes a single item.
type ProcessFunc[T, R any] func(ctx context.Context, item T) (R, error)

// ItemResult holds the outcome of one item.  Index is the item's position in
// the submitted slice.
type ItemResult[R any] struct {
	Index      int     `json:"index"`
	Result     R       `json:"result"`
	DurationMs float64 `json:"duration_ms"`
}

// BatchResult aggregates a successful pool run.  Results is ordered by Index.
type BatchResult[R any] struct {
	Results           []ItemResult[R] `json:"results"`
	TotalCount        int             `json:"total_count"`
	Workers           int             `json:"workers"`
	TotalDurationMs   float64         `json:"total_duration_ms"`
	AvgItemDurationMs float64         `json:"avg_item_duration_ms"`
}

// ProgressFunc observes pool progress.  It is called from worker goroutines
// after each completed item and must not block.
type ProgressFunc func(done, total int)

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

type batchConfig struct {
	name           string
	maxConcurrency int
	metrics        ScoringMetrics
	logger         logging.Logger
	onProgress     ProgressFunc
}

func defaultBatchConfig() *batchConfig {
	return &batchConfig{
		name:           "batch",
		maxConcurrency: 1,
	}
}

// BatchOption configures a BatchProcessor.
type BatchOption func(*batchConfig)

// WithMaxConcurrency sets the requested worker count.  The effective count
// never exceeds runtime.NumCPU().
func WithMaxConcurrency(n int) BatchOption {
	return func(c *batchConfig) {
		if n > 0 {
			c.maxConcurrency = n
		}
	}
}

// WithBatchName labels the pool in logs and metrics.
func WithBatchName(name string) BatchOption {
	return func(c *batchConfig) {
		if name != "" {
			c.name = name
		}
	}
}

// WithBatchMetrics injects a metrics collector.
func WithBatchMetrics(m ScoringMetrics) BatchOption {
	return func(c *batchConfig) { c.metrics = m }
}

// WithBatchLogger injects a logger.
func WithBatchLogger(l logging.Logger) BatchOption {
	return func(c *batchConfig) { c.logger = l }
}

// WithProgress registers a progress observer.
func WithProgress(fn ProgressFunc) BatchOption {
	return func(c *batchConfig) { c.onProgress = fn }
}

// ---------------------------------------------------------------------------
// BatchProcessor
// ---------------------------------------------------------------------------

// BatchProcessor runs a function over a slice of items with a bounded pool.
//
// The pool is fail-fast: the first item error aborts the run, items not yet
// started are skipped, and items already running are left to finish.  There
// is no retry and no partial result.
type BatchProcessor[T, R any] struct {
	cfg  *batchConfig
	done atomic.Int64
	all  atomic.Int64
}

// NewBatchProcessor creates a BatchProcessor with the supplied options.
func NewBatchProcessor[T, R any](opts ...BatchOption) *BatchProcessor[T, R] {
	cfg := defaultBatchConfig()
	for _, o := range opts {
		o(cfg)
	}
	if cfg.metrics == nil {
		cfg.metrics = NewNoopScoringMetrics()
	}
	if cfg.logger == nil {
		cfg.logger = logging.NewNopLogger()
	}
	return &BatchProcessor[T, R]{cfg: cfg}
}

// Progress returns the completed and total item counts of the current or last
// run.  It never blocks.
func (bp *BatchProcessor[T, R]) Progress() (done, total int) {
	return int(bp.done.Load()), int(bp.all.Load())
}

// Workers returns the pool size that Process would use for n items.
func (bp *BatchProcessor[T, R]) Workers(n int) int {
	w := bp.cfg.maxConcurrency
	if cpus := runtime.NumCPU(); w > cpus {
		w = cpus
	}
	if w > n {
		w = n
	}
	if w < 1 {
		w = 1
	}
	return w
}

// Process executes fn for every item and blocks until the pool drains.
//
// fn receives ctx itself, not a derived context: a failure elsewhere in the
// pool does not cancel an item that has already started.  Cancelling ctx stops
// dispatch and is reported as the run error.
func (bp *BatchProcessor[T, R]) Process(ctx context.Context, items []T, fn ProcessFunc[T, R]) (*BatchResult[R], error) {
	if fn == nil {
		return nil, errors.NewInvalidInputError("process function must not be nil")
	}
	n := len(items)
	bp.done.Store(0)
	bp.all.Store(int64(n))
	if n == 0 {
		return &BatchResult[R]{Results: []ItemResult[R]{}}, nil
	}

	workers := bp.Workers(n)
	start := time.Now()
	bp.cfg.logger.Debug("worker pool started",
		logging.String("batch", bp.cfg.name),
		logging.Int("items", n),
		logging.Int("workers", workers))

	results := make([]ItemResult[R], n)
	var failed atomic.Int64
	var itemMs atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan int)

	g.Go(func() error {
		defer close(jobs)
		for i := range items {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := range jobs {
				if gctx.Err() != nil {
					continue
				}
				t0 := time.Now()
				r, err := fn(ctx, items[i])
				elapsed := time.Since(t0)
				if err != nil {
					failed.Add(1)
					return errors.Wrap(err, errors.CodeUnknown, fmt.Sprintf("%s: item %d failed", bp.cfg.name, i))
				}
				results[i] = ItemResult[R]{Index: i, Result: r, DurationMs: msOf(elapsed)}
				itemMs.Add(elapsed.Microseconds())
				done := bp.done.Add(1)
				if bp.cfg.onProgress != nil {
					bp.cfg.onProgress(int(done), n)
				}
			}
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	succeeded := int(bp.done.Load())
	total := time.Since(start)
	bp.cfg.metrics.RecordBatchProcessing(ctx, &BatchMetricParams{
		BatchName:       bp.cfg.name,
		TotalItems:      n,
		SuccessItems:    succeeded,
		FailedItems:     int(failed.Load()),
		SkippedItems:    n - succeeded - int(failed.Load()),
		TotalDurationMs: msOf(total),
		MaxConcurrency:  workers,
	})

	if err != nil {
		bp.cfg.logger.Error("worker pool aborted",
			logging.String("batch", bp.cfg.name),
			logging.Int("completed", succeeded),
			logging.Int("items", n),
			logging.Err(err))
		return nil, err
	}

	br := &BatchResult[R]{
		Results:         results,
		TotalCount:      n,
		Workers:         workers,
		TotalDurationMs: msOf(total),
	}
	br.AvgItemDurationMs = float64(itemMs.Load()) / 1000 / float64(n)
	return br, nil
}

func msOf(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
