package config

import "time"

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultThreads     = 1
	DefaultNumNetworks = 15
	DefaultProfile     = "multi"

	DefaultModelsDir        = "models"
	DefaultExtractorCommand = "keyscore-features"
	DefaultExtractorTimeout = 0 // no per-item timeout

	DefaultPadding        = 8.0
	DefaultExhaustiveness = 32
	DefaultNumWolves      = 40
	DefaultNumModes       = 9
	DefaultEnergyRange    = 3.0
	DefaultScratchDir     = "TEMP_"
	DefaultDockedDir      = "docked_ligands"

	DefaultCacheTTL       = 24 * time.Hour
	DefaultCacheKeyPrefix = "keyscore:features:"

	DefaultResultPrefix = "results/"
	DefaultEventsTopic  = "scoring.results"

	DefaultMetricsNamespace = "keyscore"
	DefaultMetricsJob       = "keyscore_batch"

	DefaultServerPort = 8080

	DefaultLogLevel  = "warn"
	DefaultLogFormat = "console"
)

// ApplyDefaults fills every zero-value field in cfg with its default.  Values
// already set by the caller are left unchanged.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Scoring ───────────────────────────────────────────────────────────────
	if cfg.Scoring.Threads == 0 {
		cfg.Scoring.Threads = DefaultThreads
	}
	if cfg.Scoring.NumNetworks == 0 {
		cfg.Scoring.NumNetworks = DefaultNumNetworks
	}
	if cfg.Scoring.Profile == "" {
		cfg.Scoring.Profile = DefaultProfile
	}

	// ── Models / extractor ────────────────────────────────────────────────────
	if cfg.Models.Dir == "" {
		cfg.Models.Dir = DefaultModelsDir
	}
	if cfg.Extractor.Command == "" {
		cfg.Extractor.Command = DefaultExtractorCommand
	}

	// ── Docking ───────────────────────────────────────────────────────────────
	d := &cfg.Docking
	if d.Padding == 0 {
		d.Padding = DefaultPadding
	}
	if d.Exhaustiveness == 0 {
		d.Exhaustiveness = DefaultExhaustiveness
	}
	if d.NumWolves == 0 {
		d.NumWolves = DefaultNumWolves
	}
	if d.NumModes == 0 {
		d.NumModes = DefaultNumModes
	}
	if d.EnergyRange == 0 {
		d.EnergyRange = DefaultEnergyRange
	}
	if d.ScratchDir == "" {
		d.ScratchDir = DefaultScratchDir
	}
	if d.OutputDir == "" {
		d.OutputDir = DefaultDockedDir
	}

	// ── Cache ─────────────────────────────────────────────────────────────────
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = DefaultCacheTTL
	}
	if cfg.Cache.KeyPrefix == "" {
		cfg.Cache.KeyPrefix = DefaultCacheKeyPrefix
	}
	if cfg.Cache.PoolSize == 0 {
		cfg.Cache.PoolSize = 10
	}
	if cfg.Cache.DialTimeout == 0 {
		cfg.Cache.DialTimeout = 5 * time.Second
	}

	// ── Storage / events / database ───────────────────────────────────────────
	if cfg.Storage.ResultPrefix == "" {
		cfg.Storage.ResultPrefix = DefaultResultPrefix
	}
	if cfg.Events.Topic == "" {
		cfg.Events.Topic = DefaultEventsTopic
	}
	if cfg.Events.BatchSize == 0 {
		cfg.Events.BatchSize = 100
	}
	if cfg.Events.BatchTimeout == 0 {
		cfg.Events.BatchTimeout = time.Second
	}
	if cfg.Events.MaxAttempts == 0 {
		cfg.Events.MaxAttempts = 3
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 4
	}

	// ── Metrics ───────────────────────────────────────────────────────────────
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Metrics.JobName == "" {
		cfg.Metrics.JobName = DefaultMetricsJob
	}

	// ── Server ────────────────────────────────────────────────────────────────
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Minute
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Server.MaxBodySize == 0 {
		cfg.Server.MaxBodySize = 1 << 20
	}

	// ── Log ───────────────────────────────────────────────────────────────────
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}

// Default returns a Config populated entirely from defaults.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
