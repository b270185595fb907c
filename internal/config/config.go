// Package config provides configuration management for chartseer.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"chartseer/internal/analysis/forecast"
	"chartseer/internal/analysis/optimizer"
	"chartseer/internal/analysis/similarity"
	"chartseer/internal/backtest"
	"chartseer/internal/datasource"
	apperrors "chartseer/internal/errors"
	"chartseer/internal/logging"
	"chartseer/internal/prediction"
	"chartseer/internal/resilience"
	"chartseer/internal/store"
)

// Config holds all application configuration.
type Config struct {
	Analysis   prediction.Config `mapstructure:"analysis"`
	Similarity similarity.Config `mapstructure:"similarity"`
	Optimizer  optimizer.Params  `mapstructure:"optimizer"`
	Forecast   forecast.Config   `mapstructure:"forecast"`
	Backtest   backtest.Config   `mapstructure:"backtest"`
	Storage    StorageConfig     `mapstructure:"storage"`
	DataSource DataSourceConfig  `mapstructure:"datasource"`
	Logging    logging.LogConfig `mapstructure:"logging"`
	Metrics    MetricsConfig     `mapstructure:"metrics"`
	UI         UIConfig          `mapstructure:"ui"`

	// Dir is the directory the configuration was loaded from.
	Dir string `mapstructure:"-"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	Backend    string `mapstructure:"backend" default:"sqlite" validate:"oneof=sqlite memory"`
	SQLitePath string `mapstructure:"sqlite_path"`
	// CacheMaxAge is how long cached candles are served before refetching.
	CacheMaxAge time.Duration     `mapstructure:"cache_max_age" default:"6h"`
	Redis       store.RedisConfig `mapstructure:"redis"`
}

// DataSourceConfig holds the fetch chain configuration.
type DataSourceConfig struct {
	// Order lists the sources tried in turn.
	Order   []string              `mapstructure:"order" default:"[\"cache\",\"csv\",\"http\"]" validate:"min=1,dive,oneof=cache csv http"`
	CSVDir  string                `mapstructure:"csv_dir"`
	HTTP    datasource.HTTPConfig `mapstructure:"http"`
	Breaker resilience.Config     `mapstructure:"breaker"`
}

// MetricsConfig holds metrics export configuration.
type MetricsConfig struct {
	// Textfile, when set, receives the metrics after every command.
	Textfile string `mapstructure:"textfile"`
}

// UIConfig holds UI-related configuration.
type UIConfig struct {
	ColorEnabled bool   `mapstructure:"color_enabled" default:"true"`
	DateFormat   string `mapstructure:"date_format" default:"2006-01-02"`
	TimeFormat   string `mapstructure:"time_format" default:"15:04"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/chartseer"
	}
	return filepath.Join(home, ".config", "chartseer")
}

// Default returns a configuration holding only defaults, rooted at dir.
func Default(dir string) (*Config, error) {
	cfg := &Config{Dir: dir}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("applying defaults: %w", err)
	}
	cfg.fillPaths()
	return cfg, nil
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. A missing
// config.toml is created from the template and defaults are used.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{Dir: configDir}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("applying defaults: %w", err)
	}

	if err := loadConfigFile(configDir, "config", cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.fillPaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Path returns the location of the main config file.
func (c *Config) Path() string {
	return filepath.Join(c.Dir, "config.toml")
}

func loadConfigFile(configDir, name string, target interface{}) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return createTemplateConfig(configDir, name)
		}
		return err
	}

	return v.Unmarshal(target)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CHARTSEER_API_KEY"); v != "" {
		cfg.DataSource.HTTP.APIKey = v
	}
	if v := os.Getenv("CHARTSEER_BASE_URL"); v != "" {
		cfg.DataSource.HTTP.BaseURL = v
	}
	if v := os.Getenv("CHARTSEER_CSV_DIR"); v != "" {
		cfg.DataSource.CSVDir = v
	}
	if v := os.Getenv("CHARTSEER_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("CHARTSEER_REDIS_ADDR"); v != "" {
		cfg.Storage.Redis.Addr = v
	}
	if v := os.Getenv("CHARTSEER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CHARTSEER_WINDOW_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Analysis.WindowSize = n
		}
	}
}

// fillPaths roots empty file locations in the config directory.
func (c *Config) fillPaths() {
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = filepath.Join(c.Dir, "chartseer.db")
	}
	if c.DataSource.CSVDir == "" {
		c.DataSource.CSVDir = filepath.Join(c.Dir, "data")
	}
	if c.Logging.FilePath == "" {
		c.Logging.FilePath = filepath.Join(c.Dir, "logs", "chartseer.log")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%v: %w", err, apperrors.ErrConfigInvalid)
	}

	if c.Analysis.BearishThreshold >= c.Analysis.BullishThreshold {
		return fmt.Errorf("bearish_threshold must be below bullish_threshold: %w", apperrors.ErrConfigInvalid)
	}
	if c.Storage.Backend == "sqlite" && c.Storage.SQLitePath == "" {
		return fmt.Errorf("storage.sqlite_path is required for the sqlite backend: %w", apperrors.ErrConfigInvalid)
	}
	if c.Optimizer.TournamentSize > c.Optimizer.PopulationSize {
		return fmt.Errorf("tournament_size exceeds population_size: %w", apperrors.ErrConfigInvalid)
	}

	return nil
}

// HasSource reports whether name is in the fetch order.
func (c *Config) HasSource(name string) bool {
	for _, s := range c.DataSource.Order {
		if s == name {
			return true
		}
	}
	return false
}
