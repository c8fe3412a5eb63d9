// Package config provides configuration loading, defaults, and validation for
// KeyIP-Scoring.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// envPrefix is the environment variable prefix for all settings.
const envPrefix = "KEYSCORE"

// newViper builds a Viper instance with YAML config type, the KEYSCORE_ env
// prefix and a "." → "_" key replacer, so "cache.addr" resolves to
// KEYSCORE_CACHE_ADDR.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnvKeys(v)
	return v
}

// bindEnvKeys registers every leaf key so that AutomaticEnv also applies
// during Unmarshal when no config file mentions the key.
func bindEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"log.level", "log.format",
		"scoring.threads", "scoring.num_networks", "scoring.profile", "scoring.families",
		"scoring.first_pose_only", "scoring.detailed",
		"models.dir", "models.remote_prefix",
		"extractor.command", "extractor.args", "extractor.timeout",
		"docking.prepare_command", "docking.dock_command", "docking.padding",
		"docking.scratch_dir", "docking.output_dir",
		"cache.addr", "cache.password", "cache.db", "cache.ttl",
		"storage.endpoint", "storage.access_key", "storage.secret_key", "storage.bucket",
		"storage.use_ssl",
		"events.brokers", "events.topic",
		"database.dsn", "database.auto_migrate",
		"metrics.namespace", "metrics.pushgateway_url",
		"server.port",
	} {
		_ = v.BindEnv(key)
	}
}

// Load reads the YAML file at configPath (if non-empty), merges KEYSCORE_*
// environment overrides, applies defaults and validates the result.
func Load(configPath string) (*Config, error) {
	v := newViper()
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
		}
	}
	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config from KEYSCORE_* environment variables and
// defaults only.
func LoadFromEnv() (*Config, error) {
	return unmarshalAndFinalize(newViper())
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal configuration: %w", err)
	}

	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}
