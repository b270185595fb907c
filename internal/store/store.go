// Package store provides persistence for learned parameters and cached candles.
package store

import (
	"context"
	"time"

	"chartseer/internal/models"
)

// Blob keys used by the learning components.
const (
	KeyBayesModel   = "bayes_model"
	KeyWeightVector = "weight_vector"
)

// BlobStore persists opaque JSON blobs by key. Loading an absent key is not an
// error: it returns (nil, false, nil).
type BlobStore interface {
	LoadBlob(ctx context.Context, key string) ([]byte, bool, error)
	SaveBlob(ctx context.Context, key string, data []byte) error
}

// CandleStore caches fetched candles per symbol and timeframe.
type CandleStore interface {
	SaveCandles(ctx context.Context, symbol string, tf models.Timeframe, candles []models.Candle) error
	GetCandles(ctx context.Context, symbol string, tf models.Timeframe, from, to time.Time) ([]models.Candle, error)
	GetCandlesFreshness(ctx context.Context, symbol string, tf models.Timeframe) (time.Time, error)
}

// DataStore is a store that holds both blobs and candles.
type DataStore interface {
	BlobStore
	CandleStore

	// Predictions
	SavePrediction(ctx context.Context, p *models.Prediction) error
	GetPredictions(ctx context.Context, filter PredictionFilter) ([]models.Prediction, error)

	// Lifecycle
	Close() error
}

// PredictionFilter represents filters for querying logged predictions.
type PredictionFilter struct {
	Symbol    string
	StartDate time.Time
	EndDate   time.Time
	Limit     int
	// Unresolved keeps only predictions whose outcome is not recorded yet.
	Unresolved bool
}
