// Package config defines the configuration structures for KeyIP-Scoring.
// No I/O or parsing logic lives here, only plain data types and validation.
package config

import (
	"fmt"
	"time"

	"github.com/turtacn/KeyIP-Scoring/internal/infrastructure/monitoring/logging"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sub-configuration structs
// ─────────────────────────────────────────────────────────────────────────────

// ScoringConfig holds the run-level defaults that CLI flags may override.
type ScoringConfig struct {
	Threads       int      `mapstructure:"threads"`
	NumNetworks   int      `mapstructure:"num_networks"`
	Profile       string   `mapstructure:"profile"` // "multi" | "single"
	Families      []string `mapstructure:"families"`
	FirstPoseOnly bool     `mapstructure:"first_pose_only"`
	Detailed      bool     `mapstructure:"detailed"`
}

// ModelsConfig locates the model artifacts.  When RemotePrefix is set the
// artifacts are synced from object storage into Dir before loading.
type ModelsConfig struct {
	Dir          string `mapstructure:"dir"`
	RemotePrefix string `mapstructure:"remote_prefix"`
}

// ExtractorConfig configures the external feature extractor process.
type ExtractorConfig struct {
	Command string        `mapstructure:"command"`
	Args    []string      `mapstructure:"args"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DockingConfig configures the dock-then-score collaborators.  Dock mode is
// available only when both commands are set.
type DockingConfig struct {
	PrepareCommand string   `mapstructure:"prepare_command"`
	PrepareArgs    []string `mapstructure:"prepare_args"`
	DockCommand    string   `mapstructure:"dock_command"`
	DockArgs       []string `mapstructure:"dock_args"`
	Padding        float64  `mapstructure:"padding"`
	Exhaustiveness int      `mapstructure:"exhaustiveness"`
	NumWolves      int      `mapstructure:"num_wolves"`
	NumModes       int      `mapstructure:"num_modes"`
	EnergyRange    float64  `mapstructure:"energy_range"`
	ScratchDir     string   `mapstructure:"scratch_dir"`
	OutputDir      string   `mapstructure:"output_dir"`
}

// Enabled reports whether both docking commands are configured.
func (d DockingConfig) Enabled() bool {
	return d.PrepareCommand != "" && d.DockCommand != ""
}

// CacheConfig holds the redis feature-cache parameters.  Caching is off when
// Addr is empty.
type CacheConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	TTL          time.Duration `mapstructure:"ttl"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// StorageConfig holds MinIO / S3-compatible object-storage parameters.
// Storage is off when Endpoint is empty.
type StorageConfig struct {
	Endpoint     string `mapstructure:"endpoint"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	Bucket       string `mapstructure:"bucket"`
	UseSSL       bool   `mapstructure:"use_ssl"`
	Region       string `mapstructure:"region"`
	ResultPrefix string `mapstructure:"result_prefix"`
}

// EventsConfig holds kafka producer parameters.  Events are off when Brokers
// is empty.
type EventsConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RequiredAcks int           `mapstructure:"required_acks"`
}

// DatabaseConfig holds PostgreSQL parameters for the results sink.  The sink
// is off when DSN is empty.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// MetricsConfig controls the prometheus registry and the end-of-run push.
type MetricsConfig struct {
	Namespace      string `mapstructure:"namespace"`
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	JobName        string `mapstructure:"job_name"`
}

// ServerConfig holds HTTP server tunables.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodySize     int64         `mapstructure:"max_body_size"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root Config
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration structure.
type Config struct {
	Log       logging.LogConfig `mapstructure:"log"`
	Scoring   ScoringConfig     `mapstructure:"scoring"`
	Models    ModelsConfig      `mapstructure:"models"`
	Extractor ExtractorConfig   `mapstructure:"extractor"`
	Docking   DockingConfig     `mapstructure:"docking"`
	Cache     CacheConfig       `mapstructure:"cache"`
	Storage   StorageConfig     `mapstructure:"storage"`
	Events    EventsConfig      `mapstructure:"events"`
	Database  DatabaseConfig    `mapstructure:"database"`
	Metrics   MetricsConfig     `mapstructure:"metrics"`
	Server    ServerConfig      `mapstructure:"server"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// Validate performs semantic validation of a fully-populated Config and
// returns the first error encountered.
func (c *Config) Validate() error {
	if c.Scoring.Threads < 1 {
		return fmt.Errorf("config: scoring.threads must be ≥ 1, got %d", c.Scoring.Threads)
	}
	if c.Scoring.NumNetworks < 1 {
		return fmt.Errorf("config: scoring.num_networks must be ≥ 1, got %d", c.Scoring.NumNetworks)
	}
	switch c.Scoring.Profile {
	case "multi", "single":
	default:
		return fmt.Errorf("config: scoring.profile %q is invalid; expected multi|single", c.Scoring.Profile)
	}
	for _, f := range c.Scoring.Families {
		switch f {
		case "xgbscore_multi", "mlpscore_multi", "wdscore_multi":
		default:
			return fmt.Errorf("config: scoring.families contains unknown family %q", f)
		}
	}

	if c.Models.Dir == "" {
		return fmt.Errorf("config: models.dir is required")
	}
	if c.Extractor.Command == "" {
		return fmt.Errorf("config: extractor.command is required")
	}

	if (c.Docking.PrepareCommand == "") != (c.Docking.DockCommand == "") {
		return fmt.Errorf("config: docking.prepare_command and docking.dock_command must be set together")
	}
	if c.Docking.Padding < 0 {
		return fmt.Errorf("config: docking.padding must be ≥ 0, got %g", c.Docking.Padding)
	}
	if c.Docking.Exhaustiveness < 1 || c.Docking.NumModes < 1 {
		return fmt.Errorf("config: docking.exhaustiveness and docking.num_modes must be ≥ 1")
	}

	if c.Cache.DB < 0 {
		return fmt.Errorf("config: cache.db must be ≥ 0, got %d", c.Cache.DB)
	}
	if c.Storage.Endpoint != "" && c.Storage.Bucket == "" {
		return fmt.Errorf("config: storage.bucket is required when storage.endpoint is set")
	}
	if len(c.Events.Brokers) > 0 && c.Events.Topic == "" {
		return fmt.Errorf("config: events.topic is required when events.brokers is set")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d is out of range [1, 65535]", c.Server.Port)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}
	return nil
}
