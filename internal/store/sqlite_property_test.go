package store

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"

	"chartseer/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "chartseer.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Property: saving candles and reading them back yields the same candles.
func TestProperty_CandleRoundTripConsistency(t *testing.T) {
	store := newTestStore(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	symbols := []string{"AAPL", "MSFT", "BTC-USD", "ETH-USD", "SPY", "EURUSD=X"}
	timeframeGen := gen.OneConstOf(models.TF1Min, models.TF5Min, models.TF1Hour, models.TF4Hour, models.TF1Day)
	countGen := gen.IntRange(1, 20)
	priceGen := gen.Float64Range(0.5, 5000.0)
	volumeGen := gen.Float64Range(0, 1000000)

	run := 0
	properties.Property("Candle round-trip: save then retrieve produces equivalent data", prop.ForAll(
		func(symbolIdx int, tf models.Timeframe, count int, basePrice, baseVolume float64) bool {
			ctx := context.Background()
			run++
			symbol := fmt.Sprintf("%s_%d", symbols[symbolIdx%len(symbols)], run)

			candles := generateTestCandles(count, basePrice, baseVolume)
			if err := store.SaveCandles(ctx, symbol, tf, candles); err != nil {
				t.Logf("Failed to save candles: %v", err)
				return false
			}

			from := candles[0].Timestamp.Add(-time.Second)
			to := candles[len(candles)-1].Timestamp.Add(time.Second)
			retrieved, err := store.GetCandles(ctx, symbol, tf, from, to)
			if err != nil {
				t.Logf("Failed to get candles: %v", err)
				return false
			}

			if len(retrieved) != len(candles) {
				t.Logf("Count mismatch: expected %d, got %d", len(candles), len(retrieved))
				return false
			}
			for i, orig := range candles {
				if !candlesEqual(orig, retrieved[i]) {
					t.Logf("Candle mismatch at index %d: original=%+v, retrieved=%+v", i, orig, retrieved[i])
					return false
				}
			}
			return true
		},
		gen.IntRange(0, len(symbols)-1),
		timeframeGen,
		countGen,
		priceGen,
		volumeGen,
	))

	properties.Property("Empty candles: saving empty slice should succeed", prop.ForAll(
		func(tf models.Timeframe) bool {
			return store.SaveCandles(context.Background(), "EMPTY", tf, []models.Candle{}) == nil
		},
		timeframeGen,
	))

	properties.Property("Blob round-trip is byte identical", prop.ForAll(
		func(data []byte) bool {
			ctx := context.Background()
			run++
			key := fmt.Sprintf("blob_%d", run)
			if err := store.SaveBlob(ctx, key, data); err != nil {
				return false
			}
			got, ok, err := store.LoadBlob(ctx, key)
			return err == nil && ok && bytes.Equal(got, data)
		},
		gen.SliceOf(gen.UInt8()).SuchThat(func(b []byte) bool { return len(b) > 0 }),
	))

	properties.TestingRun(t)
}

func TestSQLiteBlobs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	data, ok, err := s.LoadBlob(ctx, KeyBayesModel)
	if err != nil || ok || data != nil {
		t.Fatalf("absent key = (%v, %v, %v), want (nil, false, nil)", data, ok, err)
	}

	if err := s.SaveBlob(ctx, KeyBayesModel, []byte(`{"v":1}`)); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveBlob(ctx, KeyBayesModel, []byte(`{"v":2}`)); err != nil {
		t.Fatal(err)
	}
	data, ok, err = s.LoadBlob(ctx, KeyBayesModel)
	if err != nil || !ok || string(data) != `{"v":2}` {
		t.Errorf("overwritten blob = (%s, %v, %v)", data, ok, err)
	}
}

func TestSQLiteCandleRangeAndFreshness(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	fresh, err := s.GetCandlesFreshness(ctx, "AAPL", models.TF1Day)
	if err != nil || !fresh.IsZero() {
		t.Fatalf("freshness before save = (%v, %v)", fresh, err)
	}

	candles := generateTestCandles(10, 100, 5000)
	before := time.Now().Add(-time.Second)
	if err := s.SaveCandles(ctx, "AAPL", models.TF1Day, candles); err != nil {
		t.Fatal(err)
	}
	// Saving again replaces rather than duplicates.
	if err := s.SaveCandles(ctx, "AAPL", models.TF1Day, candles[5:]); err != nil {
		t.Fatal(err)
	}

	all, err := s.GetCandles(ctx, "AAPL", models.TF1Day, time.Time{}, time.Now())
	if err != nil || len(all) != 10 {
		t.Fatalf("all candles = %d (%v), want 10", len(all), err)
	}
	part, err := s.GetCandles(ctx, "AAPL", models.TF1Day, candles[3].Timestamp, candles[6].Timestamp)
	if err != nil || len(part) != 4 {
		t.Errorf("range candles = %d (%v), want 4", len(part), err)
	}
	other, _ := s.GetCandles(ctx, "AAPL", models.TF1Hour, time.Time{}, time.Now())
	if len(other) != 0 {
		t.Errorf("timeframes leaked: %d candles", len(other))
	}

	fresh, err = s.GetCandlesFreshness(ctx, "AAPL", models.TF1Day)
	if err != nil || fresh.Before(before) {
		t.Errorf("freshness = (%v, %v), want after %v", fresh, err, before)
	}
}

func TestPredictionLogStores(t *testing.T) {
	stores := map[string]DataStore{
		"memory": NewMemoryStore(),
		"sqlite": newTestStore(t),
	}
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 4; i++ {
				p := models.NeutralPrediction("test")
				p.ID = fmt.Sprintf("p%d", i)
				p.Symbol = "AAPL"
				if i == 3 {
					p.Symbol = "MSFT"
				}
				p.CreatedAt = base.Add(time.Duration(i) * time.Hour)
				p.Evidence = []models.EvidenceRecord{{Factor: "trend", Number: 0.4}}
				if err := s.SavePrediction(ctx, &p); err != nil {
					t.Fatal(err)
				}
			}

			got, err := s.GetPredictions(ctx, PredictionFilter{Symbol: "AAPL"})
			if err != nil || len(got) != 3 {
				t.Fatalf("AAPL predictions = %d (%v), want 3", len(got), err)
			}
			if got[0].ID != "p2" {
				t.Errorf("newest first: got %s", got[0].ID)
			}
			if len(got[0].Evidence) != 1 || got[0].Evidence[0].Number != 0.4 {
				t.Errorf("evidence lost: %+v", got[0].Evidence)
			}

			resolved := got[1]
			resolved.Outcome = models.Bullish
			resolved.ResolvedAt = base.Add(48 * time.Hour)
			if err := s.SavePrediction(ctx, &resolved); err != nil {
				t.Fatal(err)
			}

			open, err := s.GetPredictions(ctx, PredictionFilter{Unresolved: true})
			if err != nil || len(open) != 3 {
				t.Errorf("unresolved = %d (%v), want 3", len(open), err)
			}
			limited, _ := s.GetPredictions(ctx, PredictionFilter{Limit: 2})
			if len(limited) != 2 {
				t.Errorf("limit ignored: %d", len(limited))
			}
			window, _ := s.GetPredictions(ctx, PredictionFilter{StartDate: base.Add(time.Hour), EndDate: base.Add(2 * time.Hour)})
			if len(window) != 2 {
				t.Errorf("date window = %d, want 2", len(window))
			}
		})
	}
}

func TestRedisBlobStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	backing := NewMemoryStore()
	r, err := NewRedisBlobStore(RedisConfig{Addr: addr, Prefix: fmt.Sprintf("chartseer-test-%d:", time.Now().UnixNano()), TTL: time.Minute}, backing, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if err := r.Ping(ctx); err != nil {
		t.Skipf("redis unreachable: %v", err)
	}

	if _, ok, err := r.LoadBlob(ctx, "missing"); ok || err != nil {
		t.Fatalf("missing key = (%v, %v)", ok, err)
	}
	if err := r.SaveBlob(ctx, KeyWeightVector, []byte("w")); err != nil {
		t.Fatal(err)
	}
	if data, ok, _ := backing.LoadBlob(ctx, KeyWeightVector); !ok || string(data) != "w" {
		t.Error("write did not reach backing store")
	}
	if data, ok, err := r.LoadBlob(ctx, KeyWeightVector); err != nil || !ok || string(data) != "w" {
		t.Errorf("load = (%s, %v, %v)", data, ok, err)
	}
}

func TestNewRedisBlobStoreRequiresAddr(t *testing.T) {
	if _, err := NewRedisBlobStore(RedisConfig{}, nil, zerolog.Nop()); err == nil {
		t.Error("expected error for empty address")
	}
}

// generateTestCandles creates valid candles at one second resolution.
func generateTestCandles(count int, basePrice, baseVolume float64) []models.Candle {
	candles := make([]models.Candle, count)
	baseTime := time.Date(2024, 1, 1, 9, 15, 0, 0, time.UTC)

	for i := 0; i < count; i++ {
		variation := float64(i%10) * 0.01 * basePrice
		open := basePrice + variation
		close := basePrice + variation*0.5

		high := math.Max(open, close) * 1.01
		low := math.Min(open, close) * 0.99

		candles[i] = models.Candle{
			Timestamp: baseTime.Add(time.Duration(i) * 24 * time.Hour),
			Open:      roundToDecimal(open, 2),
			High:      roundToDecimal(high, 2),
			Low:       roundToDecimal(low, 2),
			Close:     roundToDecimal(close, 2),
			Volume:    baseVolume + float64(i*1000),
		}
	}

	return candles
}

// roundToDecimal rounds a float to specified decimal places
func roundToDecimal(val float64, places int) float64 {
	multiplier := math.Pow(10, float64(places))
	return math.Round(val*multiplier) / multiplier
}

// candlesEqual compares two candles for equality with floating point tolerance.
func candlesEqual(a, b models.Candle) bool {
	const tolerance = 0.01

	if !a.Timestamp.Equal(b.Timestamp) {
		return false
	}
	return floatEqual(a.Open, b.Open, tolerance) &&
		floatEqual(a.High, b.High, tolerance) &&
		floatEqual(a.Low, b.Low, tolerance) &&
		floatEqual(a.Close, b.Close, tolerance) &&
		floatEqual(a.Volume, b.Volume, tolerance)
}

func floatEqual(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}
