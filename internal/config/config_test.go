package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keyscore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultThreads, cfg.Scoring.Threads)
	assert.Equal(t, 15, cfg.Scoring.NumNetworks)
	assert.Equal(t, "multi", cfg.Scoring.Profile)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "docked_ligands", cfg.Docking.OutputDir)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := &Config{}
	cfg.Scoring.Threads = 8
	cfg.Scoring.Profile = "single"
	cfg.Docking.Padding = 4
	ApplyDefaults(cfg)

	assert.Equal(t, 8, cfg.Scoring.Threads)
	assert.Equal(t, "single", cfg.Scoring.Profile)
	assert.Equal(t, 4.0, cfg.Docking.Padding)
}

func TestApplyDefaults_Nil(t *testing.T) {
	assert.NotPanics(t, func() { ApplyDefaults(nil) })
}

func TestValidate_Rejects(t *testing.T) {
	cases := map[string]func(c *Config){
		"threads":        func(c *Config) { c.Scoring.Threads = -1 },
		"profile":        func(c *Config) { c.Scoring.Profile = "huge" },
		"family":         func(c *Config) { c.Scoring.Families = []string{"rfscore"} },
		"models dir":     func(c *Config) { c.Models.Dir = "" },
		"bucket":         func(c *Config) { c.Storage.Endpoint = "minio:9000"; c.Storage.Bucket = "" },
		"events topic":   func(c *Config) { c.Events.Brokers = []string{"k:9092"}; c.Events.Topic = "" },
		"server port":    func(c *Config) { c.Server.Port = 70000 },
		"log level":      func(c *Config) { c.Log.Level = "trace" },
		"log format":     func(c *Config) { c.Log.Format = "text" },
		"padding":        func(c *Config) { c.Docking.Padding = -2 },
		"num networks":   func(c *Config) { c.Scoring.NumNetworks = -5 },
		"exhaustiveness": func(c *Config) { c.Docking.Exhaustiveness = -1 },
		"dock command":   func(c *Config) { c.Docking.PrepareCommand = "scrub.py" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_FileAndDefaults(t *testing.T) {
	path := writeConfig(t, `
scoring:
  threads: 6
  families: [xgbscore_multi, wdscore_multi]
models:
  dir: /opt/models
extractor:
  command: /usr/local/bin/featurize
  args: ["--csv"]
log:
  level: info
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Scoring.Threads)
	assert.Equal(t, []string{"xgbscore_multi", "wdscore_multi"}, cfg.Scoring.Families)
	assert.Equal(t, "/opt/models", cfg.Models.Dir)
	assert.Equal(t, []string{"--csv"}, cfg.Extractor.Args)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, DefaultNumNetworks, cfg.Scoring.NumNetworks)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "scoring:\n  threads: 2\n")
	t.Setenv("KEYSCORE_SCORING_THREADS", "12")
	t.Setenv("KEYSCORE_CACHE_ADDR", "localhost:6379")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Scoring.Threads)
	assert.Equal(t, "localhost:6379", cfg.Cache.Addr)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidAfterDefaults(t *testing.T) {
	path := writeConfig(t, "scoring:\n  profile: bogus\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scoring.profile")
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("KEYSCORE_MODELS_DIR", "/data/models")
	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "/data/models", cfg.Models.Dir)
}
