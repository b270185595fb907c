package waves

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"

	"chartseer/internal/analysis"
	"chartseer/internal/models"
)

func candlesFromCloses(closes ...float64) []models.Candle {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Candle, len(closes))
	for i, c := range closes {
		out[i] = models.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      c,
			High:      c * 1.01,
			Low:       c * 0.99,
			Close:     c,
			Volume:    1000,
		}
	}
	return out
}

func TestProperty_ShortWindowNotDetected(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())
	parameters.MaxShrinkCount = 0

	properties := gopter.NewProperties(parameters)
	c := NewClassifier(zerolog.Nop())

	properties.Property("four candles never detect a wave", prop.ForAll(
		func(closes []float64) bool {
			got := c.Classify(candlesFromCloses(closes...))
			return !got.Detected && got.Weight == 1.0 && got.Confidence == 0
		},
		gen.SliceOfN(4, gen.Float64Range(1, 1000)),
	))

	properties.Property("weights always come from the table", prop.ForAll(
		func(closes []float64) bool {
			got := c.Classify(candlesFromCloses(closes...))
			if !got.Detected {
				return got.Weight == 1.0
			}
			w, _ := Weight(got.Label)
			return got.Weight == w && got.Confidence >= 0 && got.Confidence <= 1
		},
		gen.SliceOfN(40, gen.Float64Range(1, 1000)),
	))

	properties.TestingRun(t)
}

func TestFindExtrema(t *testing.T) {
	got := FindExtrema(candlesFromCloses(101, 100, 110, 110, 105, 125))
	want := []analysis.Extremum{
		{Index: 1, Price: 100, Kind: analysis.Trough},
		{Index: 4, Price: 105, Kind: analysis.Trough},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d extrema %+v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("extremum %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestClassifyImpulse(t *testing.T) {
	// trough 100, peak 110, trough 105, peak 125, trough 115, then higher
	candles := candlesFromCloses(101, 100, 110, 105, 125, 115, 120)
	got := NewClassifier(zerolog.Nop()).Classify(candles)

	if !got.Detected || got.Pattern != analysis.WaveImpulse {
		t.Fatalf("expected impulse, got %+v", got)
	}
	if got.Direction != models.Bullish {
		t.Errorf("direction = %s, want bullish", got.Direction)
	}
	if got.Confidence != 1 {
		t.Errorf("confidence = %v, want 1", got.Confidence)
	}
	// Five extrema (odd) with the last close above the last trough: wave 3.
	if got.Label != "3" || got.Weight != 1.5 {
		t.Errorf("label %s weight %v, want 3 / 1.5", got.Label, got.Weight)
	}
}

func TestClassifyCorrective(t *testing.T) {
	// Impulse rules fail (only wave 2 holds) but the last three extrema alternate.
	candles := candlesFromCloses(105, 100, 120, 90, 95, 80, 96, 70)
	got := NewClassifier(zerolog.Nop()).Classify(candles)

	if !got.Detected || got.Pattern != analysis.WaveCorrective {
		t.Fatalf("expected corrective, got %+v", got)
	}
	if got.Confidence != 0.7 {
		t.Errorf("confidence = %v, want 0.7", got.Confidence)
	}
	// Six extrema: 6 mod 3 = 0 selects A.
	if got.Label != "A" || got.Weight != 0.9 {
		t.Errorf("label %s weight %v, want A / 0.9", got.Label, got.Weight)
	}
	if got.Direction != models.Bearish {
		t.Errorf("direction = %s, want bearish", got.Direction)
	}
}

func TestClassifyMonotonicHasNoWave(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	got := NewClassifier(zerolog.Nop()).Classify(candlesFromCloses(closes...))
	if got.Detected || got.Weight != 1.0 {
		t.Errorf("expected neutral default, got %+v", got)
	}
}

func TestWeightTable(t *testing.T) {
	want := map[string]float64{"1": 1.0, "2": 0.8, "3": 1.5, "4": 0.7, "5": 1.2, "A": 0.9, "B": 0.8, "C": 1.1}
	for _, label := range Labels() {
		w, desc := Weight(label)
		if w != want[label] {
			t.Errorf("wave %s weight = %v, want %v", label, w, want[label])
		}
		if desc == "" {
			t.Errorf("wave %s has no description", label)
		}
	}
	if w, _ := Weight("X"); w != 1.0 {
		t.Errorf("unknown label weight = %v, want 1.0", w)
	}
}
