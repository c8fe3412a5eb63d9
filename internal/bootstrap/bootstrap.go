// Package bootstrap assembles the scoring service and its infrastructure from
// configuration.  Every optional backend is enabled by its own config section
// and skipped when that section is empty.
package bootstrap

import (
	"context"
	"io"

	"github.com/turtacn/KeyIP-Scoring/internal/application/scoring"
	"github.com/turtacn/KeyIP-Scoring/internal/config"
	"github.com/turtacn/KeyIP-Scoring/internal/infrastructure/database/postgres"
	"github.com/turtacn/KeyIP-Scoring/internal/infrastructure/database/redis"
	"github.com/turtacn/KeyIP-Scoring/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/KeyIP-Scoring/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-Scoring/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/KeyIP-Scoring/internal/infrastructure/storage/minio"
	"github.com/turtacn/KeyIP-Scoring/internal/intelligence/common"
	"github.com/turtacn/KeyIP-Scoring/internal/intelligence/docking"
	"github.com/turtacn/KeyIP-Scoring/internal/intelligence/features"
)

// HealthCheck is one readiness probe.
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// Runtime owns the service and everything that must be closed with it.
type Runtime struct {
	Config    *config.Config
	Logger    logging.Logger
	Collector prometheus.MetricsCollector
	Metrics   common.ScoringMetrics
	Service   *scoring.Service
	Checks    []HealthCheck

	closers []func()
}

type buildOptions struct {
	stdout        io.Writer
	processStats  bool
	serviceOption []scoring.Option
}

// Option configures Build.
type Option func(*buildOptions)

// WithStdout routes the CSV of runs without an output file to w.
func WithStdout(w io.Writer) Option { return func(o *buildOptions) { o.stdout = w } }

// WithProcessMetrics registers the Go and process collectors.
func WithProcessMetrics() Option { return func(o *buildOptions) { o.processStats = true } }

// WithServiceOptions passes extra options to the scoring service.
func WithServiceOptions(opts ...scoring.Option) Option {
	return func(o *buildOptions) { o.serviceOption = append(o.serviceOption, opts...) }
}

// Build wires cfg into a Runtime.  On error everything opened so far is closed.
func Build(ctx context.Context, cfg *config.Config, log logging.Logger, opts ...Option) (*Runtime, error) {
	o := &buildOptions{}
	for _, fn := range opts {
		fn(o)
	}
	rt := &Runtime{Config: cfg, Logger: log}
	built := false
	defer func() {
		if !built {
			rt.Close()
		}
	}()

	var err error
	rt.Collector, err = prometheus.NewMetricsCollector(prometheus.CollectorConfig{
		Namespace:            cfg.Metrics.Namespace,
		EnableGoMetrics:      o.processStats,
		EnableProcessMetrics: o.processStats,
	}, log.Named("metrics"))
	if err != nil {
		return nil, err
	}
	rt.Metrics, err = common.NewPrometheusScoringMetrics(rt.Collector.Registerer(), cfg.Metrics.Namespace)
	if err != nil {
		return nil, err
	}

	extractor, err := rt.extractor(cfg, log)
	if err != nil {
		return nil, err
	}

	svcOpts := []scoring.Option{
		scoring.WithMetrics(rt.Metrics),
		scoring.WithLogger(log.Named("scoring")),
	}
	if cfg.Docking.Enabled() {
		svcOpts = append(svcOpts, scoring.WithDocker(rt.dockingRunner(cfg, log)))
	}
	if o.stdout != nil {
		svcOpts = append(svcOpts, scoring.WithStdout(o.stdout))
	}

	storageOpts, err := rt.storage(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	svcOpts = append(svcOpts, storageOpts...)

	if len(cfg.Events.Brokers) > 0 {
		producer, err := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.Events.Brokers,
			RequiredAcks: cfg.Events.RequiredAcks,
			MaxAttempts:  cfg.Events.MaxAttempts,
			BatchSize:    cfg.Events.BatchSize,
			BatchTimeout: cfg.Events.BatchTimeout,
		}, log.Named("kafka"))
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func() { _ = producer.Close() })
		svcOpts = append(svcOpts, scoring.WithSinks(scoring.NewEventSink(producer, cfg.Events.Topic)))
	}

	if cfg.Database.DSN != "" {
		if cfg.Database.AutoMigrate {
			if err := postgres.RunMigrations(cfg.Database.DSN); err != nil {
				return nil, err
			}
		}
		conn, err := postgres.NewConnection(ctx, postgres.PostgresConfig{
			DSN:             cfg.Database.DSN,
			MaxConns:        cfg.Database.MaxConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		}, log.Named("postgres"))
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, conn.Close)
		rt.Checks = append(rt.Checks, check{"postgres", conn.HealthCheck})
		svcOpts = append(svcOpts, scoring.WithSinks(
			scoring.NewDatabaseSink(postgres.NewResultRepository(conn.Pool(), log.Named("postgres")))))
	}

	svcOpts = append(svcOpts, o.serviceOption...)
	rt.Service = scoring.NewService(extractor, cfg.Models.Dir, svcOpts...)
	built = true
	return rt, nil
}

func (rt *Runtime) extractor(cfg *config.Config, log logging.Logger) (features.Extractor, error) {
	var ext features.Extractor = features.NewCommandExtractor(cfg.Extractor.Command, cfg.Extractor.Args, cfg.Extractor.Timeout)
	if cfg.Cache.Addr == "" {
		return ext, nil
	}
	client, err := redis.NewClient(&redis.RedisConfig{
		Addr:         cfg.Cache.Addr,
		Password:     cfg.Cache.Password,
		DB:           cfg.Cache.DB,
		PoolSize:     cfg.Cache.PoolSize,
		MinIdleConns: cfg.Cache.MinIdleConns,
		DialTimeout:  cfg.Cache.DialTimeout,
		ReadTimeout:  cfg.Cache.ReadTimeout,
		WriteTimeout: cfg.Cache.WriteTimeout,
	}, log.Named("redis"))
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, func() { _ = client.Close() })
	rt.Checks = append(rt.Checks, check{"redis", client.Ping})

	cache := redis.NewRedisCache(client, log.Named("cache"),
		redis.WithPrefix(cfg.Cache.KeyPrefix), redis.WithDefaultTTL(cfg.Cache.TTL))
	return features.NewCachedExtractor(ext, cache, cfg.Cache.TTL, rt.Metrics, log.Named("cache")), nil
}

func (rt *Runtime) dockingRunner(cfg *config.Config, log logging.Logger) *docking.Runner {
	d := cfg.Docking
	prepArgs, dockArgs := d.PrepareArgs, d.DockArgs
	if len(prepArgs) == 0 {
		prepArgs = docking.DefaultPrepareArgs
	}
	if len(dockArgs) == 0 {
		dockArgs = docking.DefaultDockArgs
	}
	return &docking.Runner{
		Preparer: docking.Command{Name: d.PrepareCommand, Args: prepArgs},
		Docker:   docking.Command{Name: d.DockCommand, Args: dockArgs},
		Settings: docking.Settings{
			Padding:        d.Padding,
			Exhaustiveness: d.Exhaustiveness,
			NumWolves:      d.NumWolves,
			NumModes:       d.NumModes,
			EnergyRange:    d.EnergyRange,
		},
		ScratchDir: d.ScratchDir,
		OutputDir:  d.OutputDir,
		Threads:    cfg.Scoring.Threads,
		Metrics:    rt.Metrics,
		Logger:     log.Named("docking"),
	}
}

func (rt *Runtime) storage(ctx context.Context, cfg *config.Config, log logging.Logger) ([]scoring.Option, error) {
	s := cfg.Storage
	if s.Endpoint == "" {
		return nil, nil
	}
	client, err := minio.NewMinIOClient(&minio.MinIOConfig{
		Endpoint:        s.Endpoint,
		AccessKeyID:     s.AccessKey,
		SecretAccessKey: s.SecretKey,
		UseSSL:          s.UseSSL,
		Region:          s.Region,
		Bucket:          s.Bucket,
	}, log.Named("minio"))
	if err != nil {
		return nil, err
	}
	if err := client.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	rt.Checks = append(rt.Checks, check{"minio", func(ctx context.Context) error {
		_, err := client.GetClient().BucketExists(ctx, client.Bucket())
		return err
	}})

	opts := []scoring.Option{
		scoring.WithSinks(scoring.NewObjectSink(minio.NewResultStore(client, s.ResultPrefix, log.Named("minio")))),
	}
	if cfg.Models.RemotePrefix != "" {
		opts = append(opts, scoring.WithArtifacts(minio.NewArtifactStore(client, log.Named("minio")), cfg.Models.RemotePrefix))
	}
	return opts, nil
}

// PushMetrics pushes the registry to the configured Pushgateway, if any.
func (rt *Runtime) PushMetrics(ctx context.Context) error {
	return rt.Collector.Push(ctx, rt.Config.Metrics.PushgatewayURL, rt.Config.Metrics.JobName)
}

// Close releases every backend in reverse order of opening.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

type check struct {
	name string
	fn   func(ctx context.Context) error
}

func (c check) Name() string                    { return c.name }
func (c check) Check(ctx context.Context) error { return c.fn(ctx) }
