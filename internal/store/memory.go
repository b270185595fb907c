package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"chartseer/internal/models"
)

// MemoryStore is an in-process DataStore used by tests and one-shot runs.
type MemoryStore struct {
	mu          sync.RWMutex
	blobs       map[string][]byte
	candles     map[string]map[int64]models.Candle
	fetched     map[string]time.Time
	predictions []models.Prediction
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs:   make(map[string][]byte),
		candles: make(map[string]map[int64]models.Candle),
		fetched: make(map[string]time.Time),
	}
}

func candleKey(symbol string, tf models.Timeframe) string {
	return symbol + "|" + string(tf)
}

// LoadBlob returns a copy of the stored blob.
func (m *MemoryStore) LoadBlob(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true, nil
}

// SaveBlob stores a copy of the blob.
func (m *MemoryStore) SaveBlob(ctx context.Context, key string, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.mu.Lock()
	m.blobs[key] = cp
	m.mu.Unlock()
	return nil
}

// SaveCandles upserts candles by timestamp.
func (m *MemoryStore) SaveCandles(ctx context.Context, symbol string, tf models.Timeframe, candles []models.Candle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := candleKey(symbol, tf)
	bucket, ok := m.candles[key]
	if !ok {
		bucket = make(map[int64]models.Candle)
		m.candles[key] = bucket
	}
	for _, c := range candles {
		bucket[c.Timestamp.Unix()] = c
	}
	if len(candles) > 0 {
		m.fetched[key] = time.Now()
	}
	return nil
}

// GetCandles returns candles in [from, to] sorted by time.
func (m *MemoryStore) GetCandles(ctx context.Context, symbol string, tf models.Timeframe, from, to time.Time) ([]models.Candle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Candle
	for _, c := range m.candles[candleKey(symbol, tf)] {
		if c.Timestamp.Before(from) || c.Timestamp.After(to) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// GetCandlesFreshness returns when candles were last saved for the pair.
func (m *MemoryStore) GetCandlesFreshness(ctx context.Context, symbol string, tf models.Timeframe) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fetched[candleKey(symbol, tf)], nil
}

// SavePrediction appends or replaces a prediction by ID.
func (m *MemoryStore) SavePrediction(ctx context.Context, p *models.Prediction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.predictions {
		if m.predictions[i].ID == p.ID {
			m.predictions[i] = *p
			return nil
		}
	}
	m.predictions = append(m.predictions, *p)
	return nil
}

// GetPredictions returns predictions matching the filter, newest first.
func (m *MemoryStore) GetPredictions(ctx context.Context, filter PredictionFilter) ([]models.Prediction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Prediction
	for _, p := range m.predictions {
		if filter.Symbol != "" && p.Symbol != filter.Symbol {
			continue
		}
		if !filter.StartDate.IsZero() && p.CreatedAt.Before(filter.StartDate) {
			continue
		}
		if !filter.EndDate.IsZero() && p.CreatedAt.After(filter.EndDate) {
			continue
		}
		if filter.Unresolved && p.Resolved() {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}
