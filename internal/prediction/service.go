// Package prediction composes the similarity, wave, candlestick, trend,
// Bayesian and weighted-feature signals into one prediction.
package prediction

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"chartseer/internal/analysis"
	"chartseer/internal/analysis/bayes"
	"chartseer/internal/analysis/features"
	"chartseer/internal/analysis/forecast"
	"chartseer/internal/analysis/optimizer"
	"chartseer/internal/analysis/patterns"
	"chartseer/internal/analysis/similarity"
	"chartseer/internal/analysis/waves"
	"chartseer/internal/datasource"
	apperrors "chartseer/internal/errors"
	"chartseer/internal/logging"
	"chartseer/internal/metrics"
	"chartseer/internal/models"
	"chartseer/internal/store"
)

// Config holds orchestration settings.
type Config struct {
	// WindowSize is the number of recent candles analyzed as the current window.
	WindowSize int `mapstructure:"window_size" default:"30" validate:"min=1"`
	// Horizon is the default number of candles to project.
	Horizon int    `mapstructure:"horizon" default:"5" validate:"min=1"`
	Period  string `mapstructure:"period" default:"1y"`
	// BullishThreshold and BearishThreshold split the weighted prediction
	// into a direction.
	BullishThreshold float64 `mapstructure:"bullish_threshold" default:"0.55" validate:"gt=0.5,lt=1"`
	BearishThreshold float64 `mapstructure:"bearish_threshold" default:"0.45" validate:"gt=0,lt=0.5"`
	// OutcomeThreshold is the return below which a realized move counts as flat.
	OutcomeThreshold float64 `mapstructure:"outcome_threshold" default:"0.002" validate:"gte=0"`
}

// DefaultConfig returns the default orchestration settings.
func DefaultConfig() Config {
	return Config{
		WindowSize:       30,
		Horizon:          5,
		Period:           "1y",
		BullishThreshold: 0.55,
		BearishThreshold: 0.45,
		OutcomeThreshold: 0.002,
	}
}

// SimilaritySearcher finds analogous historical windows.
type SimilaritySearcher interface {
	Search(window models.Window, history ...models.Series) []similarity.Match
	Consensus(matches []similarity.Match) similarity.Consensus
}

// WaveClassifier assesses the wave structure of a window.
type WaveClassifier interface {
	Classify(candles []models.Candle) analysis.WaveAssessment
}

// TrendProjector analyzes and extrapolates a window.
type TrendProjector interface {
	AnalyzeTrend(candles []models.Candle) analysis.TrendAnalysis
	Project(candles []models.Candle, horizon int, tf models.Timeframe) []models.Candle
}

// PredictionLog records issued predictions.
type PredictionLog interface {
	SavePrediction(ctx context.Context, p *models.Prediction) error
	GetPredictions(ctx context.Context, filter store.PredictionFilter) ([]models.Prediction, error)
}

// Dependencies are the collaborators of a Service. Nil analysis components
// are replaced by their defaults; nil infrastructure is simply not used.
type Dependencies struct {
	Similarity SimilaritySearcher
	Waves      WaveClassifier
	Patterns   analysis.PatternDetector
	Projector  TrendProjector
	Combiner   *bayes.Combiner
	Optimizer  *optimizer.Optimizer

	Blobs       store.BlobStore
	Predictions PredictionLog
	Fetcher     datasource.Fetcher
	Metrics     *metrics.Recorder
	Logger      zerolog.Logger
}

// Service owns the shared Bayesian model and weight vector and produces
// predictions from them.
type Service struct {
	cfg Config

	similarity SimilaritySearcher
	waves      WaveClassifier
	patterns   analysis.PatternDetector
	projector  TrendProjector
	combiner   *bayes.Combiner
	optimizer  *optimizer.Optimizer

	blobs       store.BlobStore
	predictions PredictionLog
	fetcher     datasource.Fetcher
	metrics     *metrics.Recorder
	logger      zerolog.Logger
}

// NewService creates a prediction service.
func NewService(cfg Config, deps Dependencies) *Service {
	def := DefaultConfig()
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = def.Horizon
	}
	if cfg.BullishThreshold <= 0.5 || cfg.BearishThreshold >= 0.5 || cfg.BearishThreshold <= 0 {
		cfg.BullishThreshold = def.BullishThreshold
		cfg.BearishThreshold = def.BearishThreshold
	}

	logger := logging.WithComponent(deps.Logger, "prediction")
	s := &Service{
		cfg:         cfg,
		similarity:  deps.Similarity,
		waves:       deps.Waves,
		patterns:    deps.Patterns,
		projector:   deps.Projector,
		combiner:    deps.Combiner,
		optimizer:   deps.Optimizer,
		blobs:       deps.Blobs,
		predictions: deps.Predictions,
		fetcher:     deps.Fetcher,
		metrics:     deps.Metrics,
		logger:      logger,
	}
	if s.similarity == nil {
		s.similarity = similarity.NewEngine(similarity.DefaultConfig(), deps.Logger)
	}
	if s.waves == nil {
		s.waves = waves.NewClassifier(deps.Logger)
	}
	if s.patterns == nil {
		s.patterns = patterns.NewCandlestickDetector().WithLogger(deps.Logger)
	}
	if s.projector == nil {
		s.projector = forecast.NewProjector(forecast.DefaultConfig(), deps.Logger)
	}
	if s.combiner == nil {
		s.combiner = bayes.NewCombiner(deps.Logger)
	}
	if s.optimizer == nil {
		s.optimizer = optimizer.New(optimizer.DefaultParams(), deps.Logger)
	}
	return s
}

// Config returns the service configuration.
func (s *Service) Config() Config {
	return s.cfg
}

// Combiner exposes the shared Bayesian model.
func (s *Service) Combiner() *bayes.Combiner {
	return s.combiner
}

// Optimizer exposes the shared weight optimizer.
func (s *Service) Optimizer() *optimizer.Optimizer {
	return s.optimizer
}

// Weights returns a snapshot of the current weight vector.
func (s *Service) Weights() optimizer.WeightVector {
	return s.optimizer.Best()
}

// Load restores the persisted model and weights. Missing or corrupt state
// keeps the defaults.
func (s *Service) Load(ctx context.Context) {
	if s.blobs == nil {
		return
	}
	s.combiner.Restore(ctx, s.blobs)
	s.optimizer.Restore(ctx, s.blobs)
}

// ProjectForecast extrapolates horizon synthetic candles after the window.
// A non-positive horizon uses the configured default.
func (s *Service) ProjectForecast(window models.Window, horizon int) ([]models.Candle, error) {
	candles, err := usableCandles(window)
	if err != nil {
		return nil, err
	}
	if horizon <= 0 {
		horizon = s.cfg.Horizon
	}
	start := time.Now()
	out := s.projector.Project(candles, horizon, window.Timeframe)
	s.observe("forecast", start)
	return out, nil
}

// OptimizeWeights runs the genetic search over labeled feature samples and
// persists the weights when they improved.
func (s *Service) OptimizeWeights(ctx context.Context, history []features.Scores, outcomes []models.Direction) (optimizer.Result, error) {
	start := time.Now()
	res := s.optimizer.Optimize(history, outcomes)
	s.observe("optimize", start)

	logging.LogOptimization(s.logger, res.RunID, res.Generations, res.Fitness, res.Improved)
	if s.metrics != nil {
		s.metrics.RecordOptimization(res.Improved, res.Fitness)
	}

	if res.Improved && s.blobs != nil {
		if err := s.optimizer.Save(ctx, s.blobs); err != nil {
			return res, err
		}
	}
	return res, nil
}

// CalibratePriors resets the Bayesian priors to the empirical outcome
// frequencies and persists the model.
func (s *Service) CalibratePriors(ctx context.Context, outcomes []models.Direction) error {
	s.combiner.UpdatePriors(outcomes)
	if s.blobs == nil {
		return nil
	}
	return s.combiner.Save(ctx, s.blobs)
}

// RecordOutcome feeds the realized direction of a past prediction back into
// the likelihood table and marks the prediction resolved.
func (s *Service) RecordOutcome(ctx context.Context, p *models.Prediction, outcome models.Direction) error {
	if p == nil {
		return apperrors.NewValidationError("prediction", nil, "nil prediction")
	}
	for _, rec := range p.Evidence {
		if err := s.combiner.UpdateLikelihood(bayes.FromRecord(rec), outcome); err != nil {
			s.logger.Warn().Err(err).Str("factor", rec.Factor).Msg("Skipping evidence during learning")
		}
	}
	p.Outcome = outcome
	p.ResolvedAt = time.Now()

	if s.blobs != nil {
		if err := s.combiner.Save(ctx, s.blobs); err != nil {
			return err
		}
	}
	if s.predictions != nil {
		if err := s.predictions.SavePrediction(ctx, p); err != nil {
			return apperrors.Wrap(err, "failed to store resolved prediction")
		}
	}
	return nil
}

// ResolveOutcome determines the realized direction of a prediction from a
// later series: the close horizon candles after the reference time compared
// to the reference price. It reports false when the series does not reach
// that far yet.
func (s *Service) ResolveOutcome(p models.Prediction, series models.Series, horizon int) (models.Direction, bool) {
	if horizon <= 0 {
		horizon = s.cfg.Horizon
	}
	if p.ReferencePrice <= 0 {
		return models.Neutral, false
	}
	ref := -1
	for i, c := range series.Candles {
		if c.Timestamp.After(p.ReferenceTime) {
			break
		}
		ref = i
	}
	if ref < 0 || ref+horizon >= series.Len() {
		return models.Neutral, false
	}
	ret := series.Candles[ref+horizon].Close/p.ReferencePrice - 1
	return models.DirectionOf(ret, s.cfg.OutcomeThreshold), true
}

// PredictSymbol fetches the series through the configured fetcher and
// predicts from its most recent window.
func (s *Service) PredictSymbol(ctx context.Context, symbol, period string, interval models.Timeframe, windowSize int) (*models.Prediction, error) {
	if s.fetcher == nil {
		return nil, fmt.Errorf("no data source configured: %w", apperrors.ErrDataUnavailable)
	}
	if period == "" {
		period = s.cfg.Period
	}
	if windowSize <= 0 {
		windowSize = s.cfg.WindowSize
	}

	series, err := s.fetcher.FetchSeries(ctx, symbol, period, interval)
	if err != nil {
		return nil, err
	}
	return s.Predict(ctx, models.CurrentWindow(series, windowSize), series)
}

// History returns logged predictions.
func (s *Service) History(ctx context.Context, filter store.PredictionFilter) ([]models.Prediction, error) {
	if s.predictions == nil {
		return nil, nil
	}
	return s.predictions.GetPredictions(ctx, filter)
}

func (s *Service) observe(op string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordLatency(op, time.Since(start).Seconds())
	}
}

func usableCandles(window models.Window) ([]models.Candle, error) {
	candles, skipped := models.Normalize(window)
	if len(candles) > 0 {
		return candles, nil
	}
	if skipped > 0 {
		return nil, apperrors.NewDataError("window", "", "every candle is malformed", apperrors.ErrMalformedInput)
	}
	return nil, apperrors.InsufficientData("window", 1, 0)
}
