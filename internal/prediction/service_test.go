package prediction

import (
	"context"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"

	"chartseer/internal/analysis"
	"chartseer/internal/analysis/bayes"
	"chartseer/internal/analysis/features"
	"chartseer/internal/analysis/forecast"
	"chartseer/internal/analysis/optimizer"
	"chartseer/internal/analysis/similarity"
	apperrors "chartseer/internal/errors"
	"chartseer/internal/models"
	"chartseer/internal/store"
)

func trendSeries(n int, factor float64) models.Series {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]models.Candle, n)
	price := 100.0
	for i := range candles {
		next := price * factor
		candles[i] = models.Candle{
			Timestamp: start.Add(time.Duration(i) * 24 * time.Hour),
			Open:      price,
			High:      math.Max(price, next) * 1.002,
			Low:       math.Min(price, next) * 0.998,
			Close:     next,
			Volume:    1000,
		}
		price = next
	}
	return models.Series{Symbol: "TEST", Timeframe: models.TF1Day, Candles: candles}
}

func newTestService(deps Dependencies) *Service {
	if deps.Optimizer == nil {
		p := optimizer.DefaultParams()
		p.Seed = 1
		deps.Optimizer = optimizer.New(p, zerolog.Nop())
	}
	deps.Logger = zerolog.Nop()
	return NewService(DefaultConfig(), deps)
}

func TestPredictUptrendNeverBearish(t *testing.T) {
	series := trendSeries(30, 1.01)
	svc := newTestService(Dependencies{})

	p, err := svc.Predict(context.Background(), models.CurrentWindow(series, 10), series)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if p.Direction == models.Bearish {
		t.Errorf("uptrend predicted bearish: %+v", p)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		t.Errorf("confidence %v out of range", p.Confidence)
	}
	if p.ID == "" || p.Rationale == "" || p.Label == "" || len(p.Evidence) == 0 {
		t.Errorf("incomplete prediction %+v", p)
	}
	if p.ReferencePrice != series.Candles[29].Close || !p.ReferenceTime.Equal(series.Candles[29].Timestamp) {
		t.Errorf("reference point not the last candle: %v %v", p.ReferenceTime, p.ReferencePrice)
	}
}

func TestProperty_RisingSeriesNotBearish(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	parameters.Rng.Seed(time.Now().UnixNano())
	parameters.MaxShrinkCount = 0

	properties := gopter.NewProperties(parameters)
	svc := newTestService(Dependencies{})

	properties.Property("rising series are bullish or neutral with bounded confidence", prop.ForAll(
		func(factor float64, window int) bool {
			series := trendSeries(30, factor)
			p, err := svc.Predict(context.Background(), models.CurrentWindow(series, window), series)
			if err != nil {
				return false
			}
			return p.Direction != models.Bearish &&
				p.Confidence >= 0 && p.Confidence <= 1 &&
				p.WeightedPrediction >= 0 && p.WeightedPrediction <= 1
		},
		gen.Float64Range(1.002, 1.03),
		gen.IntRange(3, 25),
	))

	properties.TestingRun(t)
}

func TestPredictRejectsUnusableWindow(t *testing.T) {
	svc := newTestService(Dependencies{})
	ctx := context.Background()

	if _, err := svc.Predict(ctx, models.Window{}, models.Series{}); !apperrors.Is(err, apperrors.ErrInsufficientData) {
		t.Errorf("empty window = %v, want ErrInsufficientData", err)
	}

	bad := models.Window{Candles: []models.Candle{{Open: 10, High: 5, Low: 8, Close: 9}}}
	if _, err := svc.Predict(ctx, bad, models.Series{}); !apperrors.Is(err, apperrors.ErrMalformedInput) {
		t.Errorf("malformed window = %v, want ErrMalformedInput", err)
	}
}

type panicSimilarity struct{}

func (panicSimilarity) Search(models.Window, ...models.Series) []similarity.Match { panic("search") }
func (panicSimilarity) Consensus([]similarity.Match) similarity.Consensus        { panic("consensus") }

type panicWaves struct{}

func (panicWaves) Classify([]models.Candle) analysis.WaveAssessment { panic("waves") }

type panicPatterns struct{}

func (panicPatterns) Name() string                                    { return "panic" }
func (panicPatterns) Detect([]models.Candle) []analysis.PatternMatch { panic("patterns") }

type panicProjector struct{}

func (panicProjector) AnalyzeTrend([]models.Candle) analysis.TrendAnalysis { panic("trend") }
func (panicProjector) Project([]models.Candle, int, models.Timeframe) []models.Candle {
	panic("project")
}

func TestPredictDegradesOnSignalFailure(t *testing.T) {
	series := trendSeries(30, 0.99)
	svc := newTestService(Dependencies{
		Similarity: panicSimilarity{},
		Waves:      panicWaves{},
		Patterns:   panicPatterns{},
		Projector:  panicProjector{},
	})

	p, err := svc.Predict(context.Background(), models.CurrentWindow(series, 10), series)
	if err != nil {
		t.Fatalf("Predict should degrade, got %v", err)
	}
	if p.Confidence < 0 || p.Confidence > 1 || p.Label == "" {
		t.Errorf("malformed degraded prediction %+v", p)
	}
	for _, name := range []string{SignalSimilarity, SignalWave, SignalPatterns, SignalTrend} {
		if !strings.Contains(p.Rationale, name) {
			t.Errorf("rationale does not report failed %s: %q", name, p.Rationale)
		}
	}
	for _, e := range p.Evidence {
		if e.Factor == "similarity" || e.Factor == "analog" || e.Factor == "wave" {
			t.Errorf("failed signal %s still used as evidence", e.Factor)
		}
	}
}

func TestProjectForecast(t *testing.T) {
	series := trendSeries(30, 1.01)
	svc := newTestService(Dependencies{})

	out, err := svc.ProjectForecast(models.CurrentWindow(series, 25), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != DefaultConfig().Horizon {
		t.Errorf("got %d candles, want default horizon", len(out))
	}
	if _, err := svc.ProjectForecast(models.Window{}, 3); !apperrors.Is(err, apperrors.ErrInsufficientData) {
		t.Errorf("empty window = %v", err)
	}
}

func TestOptimizeWeightsPersists(t *testing.T) {
	ctx := context.Background()
	blobs := store.NewMemoryStore()
	svc := newTestService(Dependencies{Blobs: blobs})

	var history []features.Scores
	var outcomes []models.Direction
	for i := 0; i < 30; i++ {
		s := features.Neutral()
		if i%2 == 0 {
			s[features.Trend], s[features.Price] = 0.9, 0
			outcomes = append(outcomes, models.Bullish)
		} else {
			s[features.Trend], s[features.Price] = 0.1, 1
			outcomes = append(outcomes, models.Bearish)
		}
		history = append(history, s)
	}

	res, err := svc.OptimizeWeights(ctx, history, outcomes)
	if err != nil {
		t.Fatalf("OptimizeWeights: %v", err)
	}
	if !res.Improved {
		t.Fatalf("expected improvement, got %+v", res)
	}

	restored := newTestService(Dependencies{Blobs: blobs})
	restored.Load(ctx)
	if !reflect.DeepEqual(restored.Weights(), res.Weights) {
		t.Errorf("weights not restored: %v vs %v", restored.Weights(), res.Weights)
	}
}

func TestTrendEvidenceFollowsProjector(t *testing.T) {
	tiers := map[analysis.TrendDirection]string{
		analysis.TrendUp:       "trend_up",
		analysis.TrendDown:     "trend_down",
		analysis.TrendSideways: "trend_sideways",
	}
	projector := forecast.NewProjector(forecast.DefaultConfig(), zerolog.Nop())

	tests := []struct {
		name   string
		factor float64
	}{
		{"steep rise", 1.01},
		{"gentle rise", 1.0025},
		{"flat", 1.0},
		{"gentle fall", 0.9975},
		{"steep fall", 0.99},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			series := trendSeries(30, tt.factor)
			window := models.CurrentWindow(series, 20)
			svc := newTestService(Dependencies{})

			p, err := svc.Predict(context.Background(), window, series)
			if err != nil {
				t.Fatalf("Predict: %v", err)
			}
			want := tiers[projector.AnalyzeTrend(window.Candles).Direction]

			var got string
			for _, rec := range p.Evidence {
				if rec.Factor == bayes.FactorTrend {
					if got, err = bayes.FromRecord(rec).Key(); err != nil {
						t.Fatal(err)
					}
				}
			}
			if got != want {
				t.Errorf("trend evidence tier = %q, projector says %q", got, want)
			}
		})
	}
}

func TestRecordOutcomeLearns(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	svc := newTestService(Dependencies{Blobs: mem, Predictions: mem})

	series := trendSeries(30, 1.01)
	p, err := svc.Predict(ctx, models.CurrentWindow(series, 10), series)
	if err != nil {
		t.Fatal(err)
	}
	before := svc.Combiner().Model().Likelihoods["trend_up"]

	if err := svc.RecordOutcome(ctx, p, models.Bullish); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	after := svc.Combiner().Model().Likelihoods["trend_up"]
	if after.Bullish <= before.Bullish {
		t.Errorf("trend_up not reinforced: %+v -> %+v", before, after)
	}
	if !p.Resolved() || p.Outcome != models.Bullish {
		t.Errorf("prediction not resolved: %+v", p)
	}
	if _, ok, _ := mem.LoadBlob(ctx, store.KeyBayesModel); !ok {
		t.Error("bayes model not persisted")
	}

	logged, err := svc.History(ctx, store.PredictionFilter{Symbol: "TEST"})
	if err != nil || len(logged) != 1 || !logged[0].Resolved() {
		t.Errorf("history = %+v, %v", logged, err)
	}

	if err := svc.RecordOutcome(ctx, nil, models.Bullish); !apperrors.Is(err, apperrors.ErrMalformedInput) {
		t.Errorf("nil prediction = %v", err)
	}
}

func TestResolveOutcome(t *testing.T) {
	series := trendSeries(30, 1.01)
	svc := newTestService(Dependencies{})
	ref := series.Candles[20]

	p := models.Prediction{ReferenceTime: ref.Timestamp, ReferencePrice: ref.Close}
	if got, ok := svc.ResolveOutcome(p, series, 5); !ok || got != models.Bullish {
		t.Errorf("got %s, %v; want bullish", got, ok)
	}
	if _, ok := svc.ResolveOutcome(p, series, 9); ok {
		t.Error("horizon beyond the series should not resolve")
	}
	if _, ok := svc.ResolveOutcome(models.Prediction{}, series, 1); ok {
		t.Error("prediction without reference should not resolve")
	}
}

type stubFetcher struct {
	series models.Series
	err    error
}

func (s stubFetcher) Name() string { return "stub" }

func (s stubFetcher) FetchSeries(context.Context, string, string, models.Timeframe) (models.Series, error) {
	return s.series, s.err
}

func TestPredictSymbol(t *testing.T) {
	ctx := context.Background()

	if _, err := newTestService(Dependencies{}).PredictSymbol(ctx, "X", "", models.TF1Day, 0); !apperrors.Is(err, apperrors.ErrDataUnavailable) {
		t.Errorf("no fetcher = %v", err)
	}

	failing := newTestService(Dependencies{Fetcher: stubFetcher{err: apperrors.ErrDataUnavailable}})
	if _, err := failing.PredictSymbol(ctx, "X", "", models.TF1Day, 0); !errors.Is(err, apperrors.ErrDataUnavailable) {
		t.Errorf("fetch failure = %v", err)
	}

	svc := newTestService(Dependencies{Fetcher: stubFetcher{series: trendSeries(40, 1.01)}})
	p, err := svc.PredictSymbol(ctx, "TEST", "3mo", models.TF1Day, 10)
	if err != nil {
		t.Fatalf("PredictSymbol: %v", err)
	}
	if p.Symbol != "TEST" || p.Timeframe != models.TF1Day {
		t.Errorf("unexpected prediction %+v", p)
	}
}
