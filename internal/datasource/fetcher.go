// Package datasource provides the collaborators that fetch candle series for
// a symbol: the local candle cache, CSV files, an HTTP provider and a chain
// that tries them in order.
package datasource

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	apperrors "chartseer/internal/errors"
	"chartseer/internal/logging"
	"chartseer/internal/metrics"
	"chartseer/internal/models"
	"chartseer/internal/resilience"
	"chartseer/internal/store"
)

// Fetcher retrieves a chronological candle series. Implementations return an
// error wrapping ErrDataUnavailable when they have nothing usable.
type Fetcher interface {
	Name() string
	FetchSeries(ctx context.Context, symbol, period string, interval models.Timeframe) (models.Series, error)
}

// Chain tries each source in order and returns the first non-empty series.
// Series fetched from a remote source are written back to the cache.
type Chain struct {
	sources  []Fetcher
	breakers map[string]*resilience.CircuitBreaker
	cache    store.CandleStore
	metrics  *metrics.Recorder
	logger   zerolog.Logger
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithCache writes successful remote fetches to the candle store.
func WithCache(cache store.CandleStore) ChainOption {
	return func(c *Chain) { c.cache = cache }
}

// WithMetrics records fetch outcomes.
func WithMetrics(rec *metrics.Recorder) ChainOption {
	return func(c *Chain) { c.metrics = rec }
}

// WithBreakers guards every source with its own circuit breaker.
func WithBreakers(cfg resilience.Config) ChainOption {
	return func(c *Chain) {
		for _, s := range c.sources {
			c.breakers[s.Name()] = resilience.NewCircuitBreaker(s.Name(), cfg, c.logger)
		}
	}
}

// NewChain creates a fetch chain over the given sources.
func NewChain(logger zerolog.Logger, sources []Fetcher, opts ...ChainOption) *Chain {
	c := &Chain{
		sources:  sources,
		breakers: make(map[string]*resilience.CircuitBreaker),
		logger:   logging.WithComponent(logger, "datasource"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements Fetcher.
func (c *Chain) Name() string {
	return "chain"
}

// FetchSeries implements Fetcher.
func (c *Chain) FetchSeries(ctx context.Context, symbol, period string, interval models.Timeframe) (models.Series, error) {
	if len(c.sources) == 0 {
		return models.Series{}, fmt.Errorf("%s: no sources configured: %w", symbol, apperrors.ErrDataUnavailable)
	}

	errs := []error{apperrors.ErrDataUnavailable}
	for _, src := range c.sources {
		if err := ctx.Err(); err != nil {
			return models.Series{}, err
		}

		start := time.Now()
		series, err := c.fetchOne(ctx, src, symbol, period, interval)
		if err == nil && series.Len() == 0 {
			err = apperrors.NewDataError("candles", symbol, "empty series", apperrors.ErrDataUnavailable)
		}
		logging.LogFetch(c.logger, src.Name(), symbol, series.Len(), time.Since(start), err)
		if c.metrics != nil {
			c.metrics.RecordFetch(src.Name(), err)
		}
		if err != nil {
			errs = append(errs, apperrors.NewProviderError(src.Name(), 0, err))
			continue
		}

		if c.cache != nil {
			if _, local := src.(*StoreSource); !local {
				if err := c.cache.SaveCandles(ctx, symbol, interval, series.Candles); err != nil {
					c.logger.Warn().Err(err).Str("symbol", symbol).Msg("Failed to cache candles")
				}
			}
		}
		return series, nil
	}

	return models.Series{}, fmt.Errorf("fetch %s %s: %w", symbol, interval, apperrors.Join(errs...))
}

func (c *Chain) fetchOne(ctx context.Context, src Fetcher, symbol, period string, interval models.Timeframe) (models.Series, error) {
	cb, ok := c.breakers[src.Name()]
	if !ok {
		return src.FetchSeries(ctx, symbol, period, interval)
	}
	return resilience.ExecuteWithResult(ctx, cb, func(ctx context.Context) (models.Series, error) {
		return src.FetchSeries(ctx, symbol, period, interval)
	})
}

// buildSeries validates fetched candles and assembles a series. Malformed
// candles are dropped and counted.
func buildSeries(symbol string, interval models.Timeframe, candles []models.Candle) (models.Series, int, error) {
	clean, skipped := models.Normalize(candles)
	series, err := models.NewSeries(symbol, interval, clean)
	if err != nil {
		return models.Series{}, skipped, fmt.Errorf("%s: %v: %w", symbol, err, apperrors.ErrMalformedInput)
	}
	return series, skipped, nil
}

// trimToPeriod keeps the candles within period of the reference time.
func trimToPeriod(candles []models.Candle, period string, ref time.Time) ([]models.Candle, error) {
	if period == "" {
		return candles, nil
	}
	d, err := models.ParsePeriod(period)
	if err != nil {
		return nil, apperrors.NewValidationError("period", period, err.Error())
	}
	from := ref.Add(-d)
	for i, c := range candles {
		if !c.Timestamp.Before(from) {
			return candles[i:], nil
		}
	}
	return nil, nil
}
