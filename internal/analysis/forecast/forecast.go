// Package forecast projects a synthetic continuation of a price series from
// its moving average, volatility and momentum.
package forecast

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chartseer/internal/analysis"
	"chartseer/internal/analysis/indicators"
	"chartseer/internal/models"
)

// Config controls trend analysis and projection.
type Config struct {
	Lookback       int     `mapstructure:"lookback" default:"20" validate:"min=2"`
	MomentumPeriod int     `mapstructure:"momentum_period" default:"5" validate:"min=1"`
	TrendThreshold float64 `mapstructure:"trend_threshold" default:"0.02" validate:"gt=0"`
	MeanReversion  float64 `mapstructure:"mean_reversion" default:"0.3" validate:"gte=0,lte=1"`
	MaxDeviation   float64 `mapstructure:"max_deviation" default:"0.05" validate:"gt=0"`
	MaxStepChange  float64 `mapstructure:"max_step_change" default:"0.03" validate:"gt=0"`
	// WalkNoise caps the per-step noise of the short-history random walk.
	WalkNoise float64 `mapstructure:"walk_noise" default:"0.002" validate:"gte=0"`
	Seed      int64   `mapstructure:"seed" default:"0"`
}

// DefaultConfig returns the default projection configuration.
func DefaultConfig() Config {
	return Config{
		Lookback:       20,
		MomentumPeriod: 5,
		TrendThreshold: 0.02,
		MeanReversion:  0.3,
		MaxDeviation:   0.05,
		MaxStepChange:  0.03,
		WalkNoise:      0.002,
	}
}

// Projector produces trend analyses and synthetic continuations.
type Projector struct {
	cfg    Config
	logger zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewProjector creates a projector. A zero seed seeds from the clock.
func NewProjector(cfg Config, logger zerolog.Logger) *Projector {
	def := DefaultConfig()
	if cfg.Lookback < 2 {
		cfg.Lookback = def.Lookback
	}
	if cfg.MomentumPeriod <= 0 {
		cfg.MomentumPeriod = def.MomentumPeriod
	}
	if cfg.TrendThreshold <= 0 {
		cfg.TrendThreshold = def.TrendThreshold
	}
	if cfg.MaxDeviation <= 0 {
		cfg.MaxDeviation = def.MaxDeviation
	}
	if cfg.MaxStepChange <= 0 {
		cfg.MaxStepChange = def.MaxStepChange
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Projector{
		cfg:    cfg,
		logger: logger,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// AnalyzeTrend summarizes the last Lookback candles (fewer if the window is
// shorter).
func (p *Projector) AnalyzeTrend(candles []models.Candle) analysis.TrendAnalysis {
	if len(candles) == 0 {
		return analysis.TrendAnalysis{Direction: analysis.TrendSideways}
	}
	if len(candles) > p.cfg.Lookback {
		candles = candles[len(candles)-p.cfg.Lookback:]
	}
	closes := models.Closes(candles)
	last := closes[len(closes)-1]
	ma := indicators.Mean(closes)

	t := analysis.TrendAnalysis{
		MovingAverage: ma,
		LastPrice:     last,
		Direction:     analysis.TrendSideways,
	}
	if ma > 0 {
		t.Volatility = indicators.StdDev(closes) / ma
	}

	ref := len(closes) - 1 - p.cfg.MomentumPeriod
	if ref < 0 {
		ref = 0
	}
	if closes[ref] > 0 {
		t.Momentum = last/closes[ref] - 1
	}

	if ma > 0 {
		deviation := (last - ma) / ma
		switch {
		case deviation > p.cfg.TrendThreshold:
			t.Direction = analysis.TrendUp
		case deviation < -p.cfg.TrendThreshold:
			t.Direction = analysis.TrendDown
		}
	}

	above := 0
	for _, c := range closes {
		if c > ma {
			above++
		}
	}
	t.Strength = math.Abs(float64(above)/float64(len(closes))-0.5) * 2

	return t
}

// Project returns exactly horizon synthetic candles continuing the window.
// Windows shorter than Lookback get a random walk scaled by their volatility
// instead of the trend projection. An empty window or non-positive horizon yields nil.
func (p *Projector) Project(candles []models.Candle, horizon int, tf models.Timeframe) []models.Candle {
	if horizon <= 0 || len(candles) == 0 {
		return nil
	}
	last := candles[len(candles)-1]
	if last.Close <= 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(candles) < p.cfg.Lookback {
		p.logger.Debug().Int("candles", len(candles)).Msg("Short history, projecting random walk")
		return p.randomWalk(candles, horizon, tf)
	}

	t := p.AnalyzeTrend(candles)
	start := t.LastPrice

	// Momentum carries the price forward, mean reversion pulls it to the MA.
	target := start*(1+t.Momentum)*(1-p.cfg.MeanReversion) + t.MovingAverage*p.cfg.MeanReversion
	target = clamp(target, start*(1-p.cfg.MaxDeviation), start*(1+p.cfg.MaxDeviation))

	volume := indicators.AverageVolume(tail(candles, p.cfg.Lookback))
	out := make([]models.Candle, 0, horizon)
	prev := start
	for i := 1; i <= horizon; i++ {
		base := start + (target-start)*float64(i)/float64(horizon)
		next := base + p.gaussian()*t.Volatility*prev
		next = clamp(next, prev*(1-p.cfg.MaxStepChange), prev*(1+p.cfg.MaxStepChange))

		out = append(out, p.synthesize(last.Timestamp, tf, i, prev, next, t.Volatility, volume))
		prev = next
	}
	return out
}

func (p *Projector) randomWalk(candles []models.Candle, horizon int, tf models.Timeframe) []models.Candle {
	last := candles[len(candles)-1]
	start := last.Close
	lo, hi := start*(1-p.cfg.MaxDeviation), start*(1+p.cfg.MaxDeviation)
	volume := indicators.AverageVolume(candles)

	// Noise follows the window's own volatility, capped at WalkNoise since a
	// short window gives a rough estimate. A flat window stays flat.
	closes := models.Closes(candles)
	noise := 0.0
	if ma := indicators.Mean(closes); ma > 0 {
		noise = math.Min(indicators.StdDev(closes)/ma, p.cfg.WalkNoise)
	}

	out := make([]models.Candle, 0, horizon)
	prev := start
	for i := 1; i <= horizon; i++ {
		next := prev * (1 + p.gaussian()*noise)
		next = clamp(next, prev*(1-p.cfg.MaxStepChange), prev*(1+p.cfg.MaxStepChange))
		next = clamp(next, lo, hi)

		out = append(out, p.synthesize(last.Timestamp, tf, i, prev, next, noise, volume))
		prev = next
	}
	return out
}

// synthesize builds a well-formed candle from open to close with wicks
// proportional to volatility.
func (p *Projector) synthesize(from time.Time, tf models.Timeframe, step int, open, closePrice, volatility, volume float64) models.Candle {
	wick := math.Abs(p.gaussian()) * volatility * closePrice * 0.5
	high := math.Max(open, closePrice) + wick
	low := math.Min(open, closePrice) - wick
	if low <= 0 {
		low = math.Min(open, closePrice)
	}
	return models.Candle{
		Timestamp: from.Add(time.Duration(step) * tf.Duration()),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
	}
}

// gaussian draws a standard normal sample with the Box-Muller transform.
func (p *Projector) gaussian() float64 {
	u1 := 1 - p.rng.Float64()
	u2 := p.rng.Float64()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

func tail(candles []models.Candle, n int) []models.Candle {
	if len(candles) > n {
		return candles[len(candles)-n:]
	}
	return candles
}

func clamp(v, lo, hi float64) float64 {
	return indicators.Clamp(v, lo, hi)
}
