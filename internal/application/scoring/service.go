package scoring

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/KeyIP-Scoring/internal/domain/pose"
	"github.com/turtacn/KeyIP-Scoring/internal/domain/task"
	"github.com/turtacn/KeyIP-Scoring/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-Scoring/internal/infrastructure/storage/minio"
	"github.com/turtacn/KeyIP-Scoring/internal/intelligence/common"
	"github.com/turtacn/KeyIP-Scoring/internal/intelligence/consensus"
	"github.com/turtacn/KeyIP-Scoring/internal/intelligence/ensemble"
	"github.com/turtacn/KeyIP-Scoring/internal/intelligence/features"
	"github.com/turtacn/KeyIP-Scoring/pkg/errors"
)

// Docker docks a SMILES list and returns the docked ligand records.  Outputs
// of different runIDs never overlap.
type Docker interface {
	Run(ctx context.Context, runID, receptor, smiFile, refLigand string) ([]string, error)
}

// ArtifactSyncer mirrors remote model artifacts into a local directory.
type ArtifactSyncer interface {
	Sync(ctx context.Context, prefix, localDir string) (*minio.SyncResult, error)
}

// Service runs scoring jobs.  It is safe for concurrent use; each Run gets
// its own RunContext.
type Service struct {
	extractor    features.Extractor
	modelsDir    string
	docker       Docker
	artifacts    ArtifactSyncer
	remotePrefix string
	sinks        []Sink
	stdout       io.Writer
	metrics      common.ScoringMetrics
	logger       logging.Logger
	clock        func() time.Time
	newID        func() string
}

// Option configures a Service.
type Option func(*Service)

func WithDocker(d Docker) Option { return func(s *Service) { s.docker = d } }

// WithArtifacts syncs prefix into the models directory before each catalog load.
func WithArtifacts(a ArtifactSyncer, prefix string) Option {
	return func(s *Service) { s.artifacts, s.remotePrefix = a, prefix }
}

func WithSinks(sinks ...Sink) Option {
	return func(s *Service) { s.sinks = append(s.sinks, sinks...) }
}

// WithStdout sets where the CSV goes when a run names no output file.
func WithStdout(w io.Writer) Option { return func(s *Service) { s.stdout = w } }

func WithMetrics(m common.ScoringMetrics) Option { return func(s *Service) { s.metrics = m } }

func WithLogger(l logging.Logger) Option { return func(s *Service) { s.logger = l } }

func WithClock(fn func() time.Time) Option { return func(s *Service) { s.clock = fn } }

// NewService creates a Service that extracts with extractor and loads models
// from modelsDir.
func NewService(extractor features.Extractor, modelsDir string, opts ...Option) *Service {
	s := &Service{
		extractor: extractor,
		modelsDir: modelsDir,
		clock:     time.Now,
		newID:     uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = common.NewNoopScoringMetrics()
	}
	if s.logger == nil {
		s.logger = logging.NewNopLogger()
	}
	return s
}

// Run executes one scoring run.  The consensus CSV is written before any
// sink runs; when a sink then fails the Result is still returned together
// with a SINK_xxx error.
func (s *Service) Run(ctx context.Context, cfg RunConfig) (*Result, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	filter, err := consensus.NewFilter(cfg.Filter)
	if err != nil {
		return nil, err
	}

	rc := s.newRunContext(cfg)
	res, err := s.execute(ctx, rc, filter)

	params := &common.RunMetricParams{DurationMs: float64(rc.Elapsed().Milliseconds()), Success: err == nil}
	if res != nil {
		params.Mode = res.Mode.String()
		params.WorkItems = res.WorkItems
		params.Rows = res.Table.Rows
	}
	s.metrics.RecordRun(ctx, params)
	if err != nil {
		rc.Logger.Error("Scoring run failed", logging.Err(err))
		return nil, err
	}

	if err := s.writeCSV(rc, res.Table); err != nil {
		return nil, err
	}
	stats := s.metrics.GetCurrentStats()
	rc.Logger.Info("Scoring run completed",
		logging.Int("rows", res.Table.Rows),
		logging.Int("work_items", res.WorkItems),
		logging.Duration("elapsed", res.Duration()),
		logging.Int64("total_extractions", stats.TotalExtractions),
		logging.Float64("p95_extraction_ms", stats.P95ExtractionMs),
		logging.Float64("cache_hit_rate", stats.CacheHitRate),
		logging.Int64("completed_runs", stats.CompletedRuns))

	if err := s.emit(ctx, rc, res); err != nil {
		return res, err
	}
	return res, nil
}

func (s *Service) newRunContext(cfg RunConfig) *RunContext {
	id := s.newID()
	return &RunContext{
		ID:      id,
		Config:  cfg,
		Logger:  s.logger.With(logging.RunID(id)),
		Metrics: s.metrics,
		Clock:   s.clock,
		Started: s.clock(),
	}
}

func (s *Service) execute(ctx context.Context, rc *RunContext, filter *consensus.Filter) (*Result, error) {
	cfg := rc.Config
	log := rc.Logger

	inputs, err := task.Resolve(cfg.Receptor, cfg.Ligand)
	if err != nil {
		return nil, err
	}
	mode := inputs.Mode
	log.Info("Consensus scoring run started",
		logging.String("mode", mode.String()),
		logging.Int("threads", cfg.Threads))
	log.Info(ensemble.Summary(cfg.Families, cfg.NumNetworks, cfg.FirstPoseOnly))

	if mode == task.ModeDock {
		if inputs, err = s.dock(ctx, rc, inputs); err != nil {
			return nil, err
		}
	}

	items, err := task.Enumerate(inputs, cfg.FirstPoseOnly, pose.ExtractFile)
	if err != nil {
		return nil, err
	}
	log.Info("Work items enumerated", logging.Stage("enumerate"), logging.Int("items", len(items)))

	table, err := s.extract(ctx, rc, items)
	if err != nil {
		return nil, err
	}

	catalog, err := s.loadCatalog(ctx, rc)
	if err != nil {
		return nil, err
	}
	preds, err := catalog.Score(ctx, table)
	if err != nil {
		return nil, err
	}

	out, err := consensus.Aggregate(preds, consensus.Options{Detailed: cfg.Detailed})
	if err != nil {
		return nil, err
	}
	if filter != nil {
		before := out.Rows
		if out, err = filter.Apply(out); err != nil {
			return nil, err
		}
		log.Info("Filter applied", logging.String("filter", filter.String()),
			logging.Int("kept", out.Rows), logging.Int("dropped", before-out.Rows))
	}

	return &Result{
		RunID:      rc.ID,
		Mode:       mode,
		Families:   catalog.FamilyNames(),
		WorkItems:  len(items),
		Table:      out,
		StartedAt:  rc.Started,
		FinishedAt: rc.Clock(),
	}, nil
}

func (s *Service) dock(ctx context.Context, rc *RunContext, in task.Inputs) (task.Inputs, error) {
	if s.docker == nil {
		return task.Inputs{}, errors.New(errors.ErrCodeServiceUnavailable, "docking is not configured")
	}
	receptor, smi := in.Receptors[0], in.Ligands[0]
	docked, err := s.docker.Run(ctx, rc.ID, receptor, smi, rc.Config.RefLigand)
	if err != nil {
		return task.Inputs{}, err
	}
	rc.Logger.Info("Docking finished", logging.Stage("dock"), logging.Int("ligands", len(docked)))
	return task.Screen(receptor, docked), nil
}

func (s *Service) extract(ctx context.Context, rc *RunContext, items []task.WorkItem) (*features.Table, error) {
	pipeline := features.NewPipeline(s.extractor,
		features.WithThreads(rc.Config.Threads),
		features.WithMetrics(rc.Metrics),
		features.WithLogger(rc.Logger.Named("features")),
		features.WithProgress(progressLogger(rc.Logger, len(items))),
	)
	records, err := pipeline.Run(ctx, items)
	if err != nil {
		return nil, err
	}

	asm := features.NewAssembler(len(items))
	defer asm.Release()
	if err := asm.AddAll(records); err != nil {
		return nil, err
	}
	return asm.Table()
}

// progressLogger logs roughly every tenth of the run and at completion.
func progressLogger(log logging.Logger, total int) common.ProgressFunc {
	step := total / 10
	if step < 1 {
		step = 1
	}
	return func(done, total int) {
		if done%step == 0 || done == total {
			log.Info("Feature extraction progress", logging.Int("done", done), logging.Int("total", total))
		}
	}
}

func (s *Service) loadCatalog(ctx context.Context, rc *RunContext) (*ensemble.Catalog, error) {
	if s.artifacts != nil && s.remotePrefix != "" {
		res, err := s.artifacts.Sync(ctx, s.remotePrefix, s.modelsDir)
		if err != nil {
			return nil, err
		}
		rc.Logger.Info("Model artifacts synced", logging.Int("downloaded", res.Downloaded), logging.Int("skipped", res.Skipped))
	}
	return ensemble.LoadCatalog(ctx, s.modelsDir, rc.Config.Families, rc.Config.NumNetworks,
		ensemble.WithProfile(rc.Config.Profile),
		ensemble.WithCatalogMetrics(rc.Metrics),
		ensemble.WithCatalogLogger(rc.Logger.Named("models")))
}

// Models loads the catalog a run with cfg would use.
func (s *Service) Models(ctx context.Context, cfg RunConfig) (*ensemble.Catalog, error) {
	cfg.applyDefaults()
	if _, err := ensemble.Requested(cfg.Families); err != nil {
		return nil, err
	}
	return s.loadCatalog(ctx, s.newRunContext(cfg))
}

func (s *Service) writeCSV(rc *RunContext, t *consensus.Table) error {
	if rc.Config.Out != "" {
		return consensus.WriteCSVFile(rc.Config.Out, t)
	}
	if s.stdout != nil {
		return consensus.WriteCSV(s.stdout, t)
	}
	return nil
}

// emit runs every sink in order.  All sinks are attempted; the first
// failure is returned.
func (s *Service) emit(ctx context.Context, rc *RunContext, res *Result) error {
	var first error
	for _, sink := range s.sinks {
		err := sink.Write(ctx, rc, res)
		if err == nil {
			continue
		}
		if !strings.HasPrefix(errors.GetCode(err).String(), "SINK_") {
			err = errors.Wrap(err, errors.ErrCodeSinkWriteFailed, "result sink failed").WithDetail(sink.Name())
		}
		rc.Logger.Error("Result sink failed", logging.String("sink", sink.Name()), logging.Err(err))
		if first == nil {
			first = err
		}
	}
	return first
}
