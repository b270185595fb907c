// Package cli provides the command-line interface for chartseer.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"chartseer/internal/analysis/bayes"
	"chartseer/internal/analysis/forecast"
	"chartseer/internal/analysis/optimizer"
	"chartseer/internal/analysis/patterns"
	"chartseer/internal/analysis/similarity"
	"chartseer/internal/analysis/waves"
	"chartseer/internal/config"
	"chartseer/internal/datasource"
	"chartseer/internal/logging"
	"chartseer/internal/metrics"
	"chartseer/internal/models"
	"chartseer/internal/prediction"
	"chartseer/internal/store"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-10-01"
)

// App holds the application dependencies.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Store   store.DataStore
	Blobs   store.BlobStore
	Fetcher *datasource.Chain
	Metrics *metrics.Recorder
	Service *prediction.Service

	closers []io.Closer
}

// Execute builds the root command, runs it and returns the exit code.
func Execute() int {
	app := &App{Logger: logging.NewLogger()}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := NewRootCmd(app)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		return 1
	}
	return 0
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "chartseer",
		Short: "Pattern similarity and multi-signal price prediction",
		Long: `chartseer compares the most recent price window against history,
combines similarity, wave, candlestick and trend evidence with a Bayesian
model and reports a directional prediction with its confidence.

Learned parameters (the Bayesian model and the feature weights) persist
between runs and improve with 'chartseer optimize' and 'chartseer learn'.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			dir, _ := cmd.Flags().GetString("config")
			debug, _ := cmd.Flags().GetBool("debug")
			return app.Init(cmd.Context(), dir, debug)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.flushMetrics()
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/chartseer)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addCoreCommands(rootCmd, app)
	addPredictionCommands(rootCmd, app)
	addLearningCommands(rootCmd, app)
	addDataCommands(rootCmd, app)

	return rootCmd
}

// Init loads configuration and wires the stores, data sources and the
// prediction service.
func (a *App) Init(ctx context.Context, configDir string, debug bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configDir)
	if err != nil {
		return err
	}
	a.Config = cfg

	if debug {
		cfg.Logging.Level = "debug"
	}
	a.Logger = logging.NewLoggerWithConfig(cfg.Logging)
	if !cfg.UI.ColorEnabled {
		color.NoColor = true
	}
	dateLayout, timeLayout = cfg.UI.DateFormat, cfg.UI.TimeFormat

	if err := a.openStore(ctx); err != nil {
		return err
	}
	a.Metrics = metrics.New()
	a.Fetcher = datasource.NewChain(
		logging.WithComponent(a.Logger, "datasource"),
		a.sources(),
		datasource.WithCache(a.Store),
		datasource.WithMetrics(a.Metrics),
		datasource.WithBreakers(cfg.DataSource.Breaker),
	)

	a.Service = nil
	deps := a.dependencies()
	deps.Predictions = a.Store
	deps.Fetcher = a.Fetcher
	a.Service = prediction.NewService(cfg.Analysis, deps)
	a.Service.Load(ctx)

	a.Logger.Debug().Str("config", cfg.Path()).Str("storage", cfg.Storage.Backend).Msg("Application initialized")
	return nil
}

func (a *App) openStore(ctx context.Context) error {
	cfg := a.Config.Storage
	switch cfg.Backend {
	case "memory":
		a.Store = store.NewMemoryStore()
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
		s, err := store.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return err
		}
		a.Store = s
		a.Logger.Debug().Str("path", cfg.SQLitePath).Msg("SQLite store initialized")
	}
	a.closers = append(a.closers, a.Store)
	a.Blobs = a.Store

	if cfg.Redis.Addr == "" {
		return nil
	}
	r, err := store.NewRedisBlobStore(cfg.Redis, a.Store, logging.WithComponent(a.Logger, "redis"))
	if err != nil {
		return err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.Ping(pingCtx); err != nil {
		a.Logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unavailable, learned parameters stay local")
		r.Close()
		return nil
	}
	a.Blobs = r
	a.closers = append(a.closers, r)
	return nil
}

// sources builds the fetch chain in configured order.
func (a *App) sources() []datasource.Fetcher {
	cfg := a.Config.DataSource
	var out []datasource.Fetcher
	for _, name := range cfg.Order {
		switch name {
		case "cache":
			out = append(out, datasource.NewStoreSource(a.Store, a.Config.Storage.CacheMaxAge))
		case "csv":
			out = append(out, datasource.NewCSVSource(cfg.CSVDir, a.Logger))
		case "http":
			if cfg.HTTP.BaseURL == "" {
				a.Logger.Debug().Msg("No HTTP provider configured, skipping")
				continue
			}
			out = append(out, datasource.NewHTTPSource(cfg.HTTP, a.Logger))
		}
	}
	return out
}

// dependencies returns fresh analysis components sharing the learned state
// of the main service when it exists.
func (a *App) dependencies() prediction.Dependencies {
	cfg := a.Config
	l := a.Logger
	deps := prediction.Dependencies{
		Similarity: similarity.NewEngine(cfg.Similarity, logging.WithComponent(l, "similarity")),
		Waves:      waves.NewClassifier(logging.WithComponent(l, "waves")),
		Patterns:   patterns.NewCandlestickDetector().WithLogger(logging.WithComponent(l, "patterns")),
		Projector:  forecast.NewProjector(cfg.Forecast, logging.WithComponent(l, "forecast")),
		Blobs:      a.Blobs,
		Metrics:    a.Metrics,
		Logger:     logging.WithComponent(l, "prediction"),
	}
	if a.Service != nil {
		deps.Combiner = a.Service.Combiner()
		deps.Optimizer = a.Service.Optimizer()
	} else {
		deps.Combiner = bayes.NewCombiner(logging.WithComponent(l, "bayes"))
		deps.Optimizer = optimizer.New(cfg.Optimizer, logging.WithComponent(l, "optimizer"))
	}
	return deps
}

// fetch loads a series through the data source chain.
func (a *App) fetch(ctx context.Context, symbol, period string, interval models.Timeframe) (models.Series, error) {
	if period == "" {
		period = a.Config.Analysis.Period
	}
	return a.Fetcher.FetchSeries(ctx, symbol, period, interval)
}

func (a *App) flushMetrics() error {
	if a.Config == nil || a.Metrics == nil || a.Config.Metrics.Textfile == "" {
		return nil
	}
	if err := a.Metrics.WriteTextfile(a.Config.Metrics.Textfile); err != nil {
		a.Logger.Warn().Err(err).Str("path", a.Config.Metrics.Textfile).Msg("Failed to write metrics textfile")
	}
	return nil
}

// Close releases stores in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.Logger.Debug().Err(err).Msg("Close failed")
		}
	}
	a.closers = nil
}

// addCoreCommands adds core utility commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("chartseer v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			return showConfig(output, app.Config)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": app.Config.Path()})
			} else {
				output.Println(app.Config.Path())
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) error {
	output.Bold("Analysis")
	output.Printf("  Window:           %d candles\n", cfg.Analysis.WindowSize)
	output.Printf("  Horizon:          %d candles\n", cfg.Analysis.Horizon)
	output.Printf("  Period:           %s\n", cfg.Analysis.Period)
	output.Printf("  Thresholds:       bearish < %.2f, bullish > %.2f\n", cfg.Analysis.BearishThreshold, cfg.Analysis.BullishThreshold)
	output.Println()

	output.Bold("Similarity")
	output.Printf("  Metric:           %s\n", cfg.Similarity.Metric)
	output.Printf("  Max results:      %d\n", cfg.Similarity.MaxResults)
	output.Printf("  Allow overlap:    %v\n", cfg.Similarity.AllowOverlap)
	output.Println()

	output.Bold("Optimizer")
	output.Printf("  Population:       %d\n", cfg.Optimizer.PopulationSize)
	output.Printf("  Generations:      %d (patience %d)\n", cfg.Optimizer.Generations, cfg.Optimizer.Patience)
	output.Printf("  Crossover/Mutate: %.2f / %.2f\n", cfg.Optimizer.CrossoverRate, cfg.Optimizer.MutationRate)
	output.Println()

	output.Bold("Storage")
	output.Printf("  Backend:          %s\n", cfg.Storage.Backend)
	output.Printf("  SQLite:           %s\n", cfg.Storage.SQLitePath)
	output.Printf("  Redis:            %s\n", orNone(cfg.Storage.Redis.Addr))
	output.Printf("  Cache max age:    %s\n", cfg.Storage.CacheMaxAge)
	output.Println()

	output.Bold("Data sources")
	output.Printf("  Order:            %v\n", cfg.DataSource.Order)
	output.Printf("  CSV dir:          %s\n", cfg.DataSource.CSVDir)
	output.Printf("  HTTP:             %s\n", orNone(cfg.DataSource.HTTP.BaseURL))
	output.Printf("  Rate limit:       %.1f req/s (burst %d)\n", cfg.DataSource.HTTP.RequestsPerSecond, cfg.DataSource.HTTP.Burst)

	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
