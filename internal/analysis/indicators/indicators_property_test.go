package indicators

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"chartseer/internal/models"
)

// Property: for any valid candle data, indicator calculations stay within
// their mathematical bounds:
// - RSI: [0, 100]
// - SMA: between the lowest and highest close of its window
// - StdDev: non-negative

// candleGen generates valid candle data with realistic OHLCV values
func candleGen() gopter.Gen {
	return gen.Struct(reflect.TypeOf(models.Candle{}), map[string]gopter.Gen{
		"Timestamp": gen.TimeRange(time.Now().Add(-365*24*time.Hour), time.Hour),
		"Open":      gen.Float64Range(100.0, 1000.0),
		"High":      gen.Float64Range(100.0, 1000.0),
		"Low":       gen.Float64Range(100.0, 1000.0),
		"Close":     gen.Float64Range(100.0, 1000.0),
		"Volume":    gen.Float64Range(1000, 10000000),
	}).Map(func(c models.Candle) models.Candle {
		return fixCandle(c)
	})
}

// fixCandle enforces OHLC constraints after generation or shrinking.
func fixCandle(c models.Candle) models.Candle {
	if c.Open <= 0 {
		c.Open = 100.0
	}
	if c.High <= 0 {
		c.High = 100.0
	}
	if c.Low <= 0 {
		c.Low = 100.0
	}
	if c.Close <= 0 {
		c.Close = 100.0
	}
	c.High = math.Max(c.High, math.Max(c.Open, c.Close))
	c.Low = math.Min(c.Low, math.Min(c.Open, c.Close))
	if c.High <= c.Low {
		c.High = c.Low + 1.0
	}
	return c
}

// candleSliceGen generates a slice of valid candles
func candleSliceGen(minLen, maxLen int) gopter.Gen {
	return gen.SliceOfN(maxLen, candleGen()).Map(func(candles []models.Candle) []models.Candle {
		for len(candles) < minLen {
			candles = append(candles, models.Candle{Open: 100, High: 101, Low: 99, Close: 100, Volume: 1000})
		}
		base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		for i := range candles {
			candles[i].Timestamp = base.Add(time.Duration(i) * time.Hour)
			candles[i] = fixCandle(candles[i])
		}
		return candles
	})
}

func TestProperty_RSIWithinBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())
	parameters.MaxShrinkCount = 0

	properties := gopter.NewProperties(parameters)

	properties.Property("RSI values are within [0, 100]", prop.ForAll(
		func(candles []models.Candle) bool {
			rsi := NewRSI(14)
			values, err := rsi.Calculate(candles)
			if err != nil {
				return true
			}
			for i, v := range values {
				if i < rsi.Period() {
					continue
				}
				if v < 0 || v > 100 {
					return false
				}
			}
			return true
		},
		candleSliceGen(20, 100),
	))

	properties.TestingRun(t)
}

func TestProperty_SMAWithinWindowRange(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())
	parameters.MaxShrinkCount = 0

	properties := gopter.NewProperties(parameters)

	properties.Property("SMA lies between window low and high closes", prop.ForAll(
		func(candles []models.Candle) bool {
			sma := NewSMA(10)
			values, err := sma.Calculate(candles)
			if err != nil {
				return true
			}
			closes := models.Closes(candles)
			for i := sma.Period() - 1; i < len(values); i++ {
				window := closes[i-sma.Period()+1 : i+1]
				if values[i] < Lowest(window)-1e-9 || values[i] > Highest(window)+1e-9 {
					return false
				}
			}
			return true
		},
		candleSliceGen(10, 60),
	))

	properties.Property("StdDev of closes is non-negative", prop.ForAll(
		func(candles []models.Candle) bool {
			return StdDev(models.Closes(candles)) >= 0
		},
		candleSliceGen(1, 40),
	))

	properties.TestingRun(t)
}

func TestRSIInsufficientData(t *testing.T) {
	candles := make([]models.Candle, 5)
	for i := range candles {
		candles[i] = models.Candle{Open: 10, High: 11, Low: 9, Close: 10, Volume: 1}
	}
	if _, err := NewRSI(14).Calculate(candles); err != ErrInsufficientData {
		t.Errorf("expected ErrInsufficientData, got %v", err)
	}
	if _, err := NewRSI(0).Calculate(candles); err != ErrInvalidPeriod {
		t.Errorf("expected ErrInvalidPeriod, got %v", err)
	}
}

func TestLatestRSIShortWindow(t *testing.T) {
	candles := []models.Candle{
		{Open: 10, High: 10.5, Low: 9.9, Close: 10.2},
		{Open: 10.2, High: 10.7, Low: 10.1, Close: 10.5},
		{Open: 10.5, High: 11, Low: 10.4, Close: 10.9},
		{Open: 10.9, High: 11.3, Low: 10.8, Close: 11.2},
	}
	v, ok := LatestRSI(candles, 14)
	if !ok {
		t.Fatal("expected RSI for 4 candles")
	}
	if v != 100 {
		t.Errorf("expected RSI 100 for strictly rising closes, got %.2f", v)
	}

	if _, ok := LatestRSI(candles[:2], 14); ok {
		t.Error("expected no RSI for 2 candles")
	}
}

func TestPercentFromStart(t *testing.T) {
	got := PercentFromStart([]float64{100, 110, 90})
	want := []float64{0, 0.1, -0.1}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Errorf("index %d: got %v want %v", i, got[i], want[i])
		}
	}
	if out := PercentFromStart([]float64{0, 1}); out[1] != 0 {
		t.Errorf("zero base should yield zeros, got %v", out)
	}
}
