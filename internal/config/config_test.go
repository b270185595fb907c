package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "chartseer/internal/errors"
)

func TestLoadCreatesTemplateAndUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "config.toml")); err != nil {
		t.Errorf("template not written: %v", err)
	}

	if cfg.Analysis.WindowSize != 30 || cfg.Analysis.BullishThreshold != 0.55 {
		t.Errorf("analysis defaults = %+v", cfg.Analysis)
	}
	if cfg.Similarity.Metric != "euclidean" || cfg.Optimizer.PopulationSize != 50 {
		t.Errorf("component defaults not applied: %+v %+v", cfg.Similarity, cfg.Optimizer)
	}
	if cfg.DataSource.HTTP.Retry.MaxAttempts != 3 || cfg.DataSource.Breaker.Cooldown != 30*time.Second {
		t.Errorf("nested defaults not applied: %+v", cfg.DataSource)
	}
	if len(cfg.DataSource.Order) != 3 || cfg.DataSource.Order[0] != "cache" {
		t.Errorf("order = %v", cfg.DataSource.Order)
	}
	if cfg.Storage.SQLitePath != filepath.Join(dir, "chartseer.db") {
		t.Errorf("sqlite path = %s", cfg.Storage.SQLitePath)
	}

	// Loading again reads the written template.
	again, err := Load(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Storage.CacheMaxAge != 6*time.Hour || again.DataSource.HTTP.Timeout != 10*time.Second {
		t.Errorf("template durations = %v %v", again.Storage.CacheMaxAge, again.DataSource.HTTP.Timeout)
	}
}

func TestLoadReadsFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	content := `
[analysis]
window_size = 12

[similarity]
metric = "dtw"

[datasource]
order = ["csv"]
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CHARTSEER_API_KEY", "secret")
	t.Setenv("CHARTSEER_LOG_LEVEL", "debug")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Analysis.WindowSize != 12 || cfg.Analysis.Horizon != 5 {
		t.Errorf("analysis = %+v", cfg.Analysis)
	}
	if cfg.Similarity.Metric != "dtw" {
		t.Errorf("metric = %s", cfg.Similarity.Metric)
	}
	if !cfg.HasSource("csv") || cfg.HasSource("http") {
		t.Errorf("order = %v", cfg.DataSource.Order)
	}
	if cfg.DataSource.HTTP.APIKey != "secret" || cfg.Logging.Level != "debug" {
		t.Error("environment overrides not applied")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bearish threshold above half", func(c *Config) { c.Analysis.BearishThreshold = 0.6 }},
		{"unknown metric", func(c *Config) { c.Similarity.Metric = "cosine" }},
		{"unknown source", func(c *Config) { c.DataSource.Order = []string{"ftp"} }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"tournament too large", func(c *Config) { c.Optimizer.TournamentSize = 100 }},
		{"zero window", func(c *Config) { c.Analysis.WindowSize = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Default(t.TempDir())
			if err != nil {
				t.Fatal(err)
			}
			if err := cfg.Validate(); err != nil {
				t.Fatalf("defaults invalid: %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); !apperrors.Is(err, apperrors.ErrConfigInvalid) {
				t.Errorf("Validate() = %v, want ErrConfigInvalid", err)
			}
		})
	}
}
