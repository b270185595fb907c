package forecast

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"

	"chartseer/internal/analysis"
	"chartseer/internal/models"
)

func flatCandles(n int, price float64) []models.Candle {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Candle, n)
	for i := range out {
		out[i] = models.Candle{
			Timestamp: start.Add(time.Duration(i) * 24 * time.Hour),
			Open:      price, High: price, Low: price, Close: price,
			Volume: 500,
		}
	}
	return out
}

func trendCandles(n int, factor float64) []models.Candle {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Candle, n)
	price := 100.0
	for i := range out {
		next := price * factor
		out[i] = models.Candle{
			Timestamp: start.Add(time.Duration(i) * 24 * time.Hour),
			Open:      price,
			High:      math.Max(price, next) * 1.002,
			Low:       math.Min(price, next) * 0.998,
			Close:     next,
			Volume:    1000,
		}
		price = next
	}
	return out
}

func seeded(seed int64) *Projector {
	cfg := DefaultConfig()
	cfg.Seed = seed
	return NewProjector(cfg, zerolog.Nop())
}

func TestProperty_FlatSeriesStaysFlat(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())
	parameters.MaxShrinkCount = 0

	properties := gopter.NewProperties(parameters)

	properties.Property("flat history projects closes within the step bound", prop.ForAll(
		func(price float64, horizon int, seed int64) bool {
			out := seeded(seed).Project(flatCandles(30, price), horizon, models.TF1Day)
			if len(out) != horizon {
				return false
			}
			for _, c := range out {
				if math.Abs(c.Close-price) > price*0.03+1e-9 {
					return false
				}
			}
			return true
		},
		gen.Float64Range(1, 10000),
		gen.IntRange(1, 60),
		gen.Int64Range(1, 1<<40),
	))

	properties.Property("short flat history stays within the step bound over long horizons", prop.ForAll(
		func(n, horizon int, seed int64) bool {
			out := seeded(seed).Project(flatCandles(n, 100), horizon, models.TF1Day)
			if len(out) != horizon {
				return false
			}
			for _, c := range out {
				if math.Abs(c.Close-100) > 100*DefaultConfig().MaxStepChange+1e-9 {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, DefaultConfig().Lookback-1),
		gen.IntRange(1, 250),
		gen.Int64Range(1, 1<<40),
	))

	properties.Property("projections are well formed and exactly horizon long", prop.ForAll(
		func(n, horizon int, factor float64, seed int64) bool {
			history := trendCandles(n, factor)
			out := seeded(seed).Project(history, horizon, models.TF1Hour)
			if len(out) != horizon {
				return false
			}
			prevTime := history[len(history)-1].Timestamp
			prevClose := history[len(history)-1].Close
			for _, c := range out {
				if !c.IsValid() || !c.Timestamp.After(prevTime) {
					return false
				}
				if math.Abs(c.Close/prevClose-1) > 0.03+1e-9 {
					return false
				}
				prevTime, prevClose = c.Timestamp, c.Close
			}
			return true
		},
		gen.IntRange(1, 60),
		gen.IntRange(1, 30),
		gen.Float64Range(0.97, 1.03),
		gen.Int64Range(1, 1<<40),
	))

	properties.TestingRun(t)
}

func TestProjectTimestampsAdvanceOnePeriod(t *testing.T) {
	history := trendCandles(25, 1.01)
	out := seeded(9).Project(history, 3, models.TF4Hour)
	last := history[len(history)-1].Timestamp
	for i, c := range out {
		want := last.Add(time.Duration(i+1) * 4 * time.Hour)
		if !c.Timestamp.Equal(want) {
			t.Errorf("step %d timestamp %s, want %s", i+1, c.Timestamp, want)
		}
	}
}

func TestProjectShortHistoryFallsBack(t *testing.T) {
	history := flatCandles(5, 50)
	out := seeded(1).Project(history, 10, models.TF1Day)
	if len(out) != 10 {
		t.Fatalf("got %d candles, want 10", len(out))
	}
	for _, c := range out {
		if !c.IsValid() {
			t.Errorf("malformed candle %+v", c)
		}
		if math.Abs(c.Close/50-1) > DefaultConfig().MaxDeviation+1e-9 {
			t.Errorf("random walk drifted to %v", c.Close)
		}
	}
}

func TestProjectDegenerateInputs(t *testing.T) {
	p := seeded(2)
	if out := p.Project(nil, 5, models.TF1Day); out != nil {
		t.Errorf("empty history should give nil, got %d candles", len(out))
	}
	if out := p.Project(flatCandles(30, 10), 0, models.TF1Day); out != nil {
		t.Errorf("zero horizon should give nil, got %d candles", len(out))
	}
}

func TestProjectDeterministicForSeed(t *testing.T) {
	history := trendCandles(40, 1.005)
	a := seeded(77).Project(history, 8, models.TF1Day)
	b := seeded(77).Project(history, 8, models.TF1Day)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("step %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestAnalyzeTrend(t *testing.T) {
	p := seeded(1)

	up := p.AnalyzeTrend(trendCandles(30, 1.01))
	if up.Direction != analysis.TrendUp || up.Momentum <= 0 || up.Strength <= 0 {
		t.Errorf("uptrend analysis = %+v", up)
	}

	down := p.AnalyzeTrend(trendCandles(30, 0.99))
	if down.Direction != analysis.TrendDown || down.Momentum >= 0 {
		t.Errorf("downtrend analysis = %+v", down)
	}

	flat := p.AnalyzeTrend(flatCandles(30, 20))
	if flat.Direction != analysis.TrendSideways || flat.Volatility != 0 || flat.Strength != 1 {
		t.Errorf("flat analysis = %+v", flat)
	}

	if empty := p.AnalyzeTrend(nil); empty.Direction != analysis.TrendSideways {
		t.Errorf("empty analysis = %+v", empty)
	}
}

func TestShortVolatileHistoryWalks(t *testing.T) {
	history := trendCandles(8, 1.02)
	out := seeded(5).Project(history, 40, models.TF1Day)
	last := history[len(history)-1].Close
	moved := false
	for _, c := range out {
		if !c.IsValid() {
			t.Fatalf("malformed candle %+v", c)
		}
		if math.Abs(c.Close/last-1) > DefaultConfig().MaxDeviation+1e-9 {
			t.Fatalf("walk left the deviation band: %v", c.Close)
		}
		if c.Close != last {
			moved = true
		}
	}
	if !moved {
		t.Error("volatile short history should not project a flat line")
	}
}
