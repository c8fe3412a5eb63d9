package features

import (
	"context"
	"time"

	"github.com/turtacn/KeyIP-Scoring/internal/domain/task"
	"github.com/turtacn/KeyIP-Scoring/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-Scoring/internal/intelligence/common"
)

// Record is the tagged output of one work item.
type Record struct {
	ReceptorName string
	LigandName   string
	Columns      []string
	Raw          []string
}

// Pipeline extracts features for a batch of work items in parallel.
type Pipeline struct {
	extractor Extractor
	threads   int
	metrics   common.ScoringMetrics
	logger    logging.Logger
	progress  common.ProgressFunc
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithThreads sets the requested worker count.
func WithThreads(n int) PipelineOption {
	return func(p *Pipeline) { p.threads = n }
}

// WithMetrics injects a metrics collector.
func WithMetrics(m common.ScoringMetrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger injects a logger.
func WithLogger(l logging.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// WithProgress registers a progress observer.
func WithProgress(fn common.ProgressFunc) PipelineOption {
	return func(p *Pipeline) { p.progress = fn }
}

// NewPipeline creates a Pipeline around extractor.
func NewPipeline(extractor Extractor, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{extractor: extractor, threads: 1}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = common.NewNoopScoringMetrics()
	}
	if p.logger == nil {
		p.logger = logging.NewNopLogger()
	}
	return p
}

// Run extracts every item.  The first extractor failure aborts the run and no
// records are returned.  Each record carries its own identity; callers join on
// it rather than on position.
func (p *Pipeline) Run(ctx context.Context, items []task.WorkItem) ([]Record, error) {
	bp := common.NewBatchProcessor[task.WorkItem, Record](
		common.WithBatchName("features"),
		common.WithMaxConcurrency(p.threads),
		common.WithBatchMetrics(p.metrics),
		common.WithBatchLogger(p.logger),
		common.WithProgress(p.progress),
	)

	res, err := bp.Process(ctx, items, p.extractOne)
	if err != nil {
		return nil, err
	}
	out := make([]Record, len(res.Results))
	for i, r := range res.Results {
		out[i] = r.Result
	}
	p.logger.Info("features extracted",
		logging.Int("items", res.TotalCount),
		logging.Int("workers", res.Workers),
		logging.Float64("avg_item_ms", res.AvgItemDurationMs))
	return out, nil
}

func (p *Pipeline) extractOne(ctx context.Context, item task.WorkItem) (Record, error) {
	start := time.Now()
	v, err := p.extractor.Extract(ctx, item.PoseBlock, item.ReceptorPath)
	p.metrics.RecordExtraction(ctx, &common.ExtractionMetricParams{
		Extractor:  p.extractor.Name(),
		DurationMs: float64(time.Since(start).Microseconds()) / 1000,
		Success:    err == nil,
	})
	if err != nil {
		return Record{}, err
	}
	return Record{
		ReceptorName: item.ReceptorName(),
		LigandName:   item.LigandName(),
		Columns:      v.Columns,
		Raw:          v.Raw,
	}, nil
}
