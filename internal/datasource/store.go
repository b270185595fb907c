package datasource

import (
	"context"
	"fmt"
	"time"

	apperrors "chartseer/internal/errors"
	"chartseer/internal/models"
	"chartseer/internal/store"
)

// StoreSource serves series from the local candle cache.
type StoreSource struct {
	candles store.CandleStore
	// maxAge rejects caches older than this; zero accepts any age.
	maxAge time.Duration
	now    func() time.Time
}

// NewStoreSource creates a cache-backed source.
func NewStoreSource(candles store.CandleStore, maxAge time.Duration) *StoreSource {
	return &StoreSource{candles: candles, maxAge: maxAge, now: time.Now}
}

// Name implements Fetcher.
func (s *StoreSource) Name() string {
	return "cache"
}

// FetchSeries implements Fetcher.
func (s *StoreSource) FetchSeries(ctx context.Context, symbol, period string, interval models.Timeframe) (models.Series, error) {
	now := s.now()
	if s.maxAge > 0 {
		fetched, err := s.candles.GetCandlesFreshness(ctx, symbol, interval)
		if err != nil {
			return models.Series{}, err
		}
		if fetched.IsZero() || now.Sub(fetched) > s.maxAge {
			return models.Series{}, fmt.Errorf("%s %s cache stale: %w", symbol, interval, apperrors.ErrDataUnavailable)
		}
	}

	from := time.Time{}
	if period != "" {
		d, err := models.ParsePeriod(period)
		if err != nil {
			return models.Series{}, apperrors.NewValidationError("period", period, err.Error())
		}
		from = now.Add(-d)
	}

	candles, err := s.candles.GetCandles(ctx, symbol, interval, from, now)
	if err != nil {
		return models.Series{}, apperrors.Wrap(err, "read cached candles")
	}
	if len(candles) == 0 {
		return models.Series{}, fmt.Errorf("%s %s not cached: %w", symbol, interval, apperrors.ErrDataUnavailable)
	}

	series, _, err := buildSeries(symbol, interval, candles)
	return series, err
}
