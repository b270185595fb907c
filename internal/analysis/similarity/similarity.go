// Package similarity scans price history for windows whose shape resembles
// the current window.
package similarity

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"chartseer/internal/analysis/indicators"
	"chartseer/internal/models"
)

// Distance metrics supported by the engine.
const (
	MetricEuclidean = "euclidean"
	MetricDTW       = "dtw"
)

const (
	priceWeight  = 0.7
	returnWeight = 0.3
	scoreScale   = 100.0
)

// Config controls a similarity search.
type Config struct {
	Metric       string `mapstructure:"metric" default:"euclidean" validate:"oneof=euclidean dtw"`
	MaxResults   int    `mapstructure:"max_results" default:"6" validate:"min=1,max=100"`
	Horizon      int    `mapstructure:"horizon" default:"5" validate:"min=1"`
	AllowOverlap bool   `mapstructure:"allow_overlap" default:"false"`
	// DTWBand is the Sakoe-Chiba band half-width used by the dtw metric.
	DTWBand int `mapstructure:"dtw_band" default:"3" validate:"min=0"`
}

// DefaultConfig returns the default search configuration.
func DefaultConfig() Config {
	return Config{
		Metric:     MetricEuclidean,
		MaxResults: 6,
		Horizon:    5,
		DTWBand:    3,
	}
}

// Match is one historical window resembling the current window.
type Match struct {
	Symbol     string    `json:"symbol,omitempty"`
	Start      int       `json:"start"`
	End        int       `json:"end"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	Score      float64   `json:"score"`
	Distance   float64   `json:"distance"`
	Outcome    float64   `json:"outcome"`
	HasOutcome bool      `json:"has_outcome"`
}

// Consensus summarizes the realized outcomes of a set of matches.
type Consensus struct {
	Count       int              `json:"count"`
	WithOutcome int              `json:"with_outcome"`
	Up          int              `json:"up"`
	Down        int              `json:"down"`
	MeanOutcome float64          `json:"mean_outcome"`
	TopScore    float64          `json:"top_score"`
	Direction   models.Direction `json:"direction"`
}

// Engine finds analogous historical windows.
type Engine struct {
	cfg    Config
	logger zerolog.Logger
}

// NewEngine creates a similarity engine. Zero fields fall back to defaults.
func NewEngine(cfg Config, logger zerolog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.Metric == "" {
		cfg.Metric = def.Metric
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = def.MaxResults
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = def.Horizon
	}
	if cfg.DTWBand < 0 {
		cfg.DTWBand = def.DTWBand
	}
	return &Engine{cfg: cfg, logger: logger}
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Search compares the window against every same-length window of the given
// history series and returns the best matches, highest score first. Ties go
// to the more recent window. Windows overlapping the current one in time are
// skipped unless AllowOverlap is set. Short or empty inputs yield no matches.
func (e *Engine) Search(window models.Window, history ...models.Series) []Match {
	n := window.Len()
	if n < 2 {
		return nil
	}

	target := shape(window.Closes())
	if target == nil {
		return nil
	}
	winStart := window.Candles[0].Timestamp
	winEnd := window.Candles[n-1].Timestamp

	var matches []Match
	for _, series := range history {
		closes := series.Closes()
		if len(closes) < n {
			e.logger.Debug().
				Str("symbol", series.Symbol).
				Int("history", len(closes)).
				Int("window", n).
				Msg("History shorter than window")
			continue
		}

		for start := 0; start+n <= len(closes); start++ {
			end := start + n - 1
			first := series.Candles[start].Timestamp
			last := series.Candles[end].Timestamp
			if !e.cfg.AllowOverlap && overlaps(first, last, winStart, winEnd) {
				continue
			}

			candidate := shape(closes[start : end+1])
			if candidate == nil {
				continue
			}

			d := e.distance(target, candidate)
			m := Match{
				Symbol:    series.Symbol,
				Start:     start,
				End:       end,
				StartTime: first,
				EndTime:   last,
				Score:     1 / (1 + scoreScale*d),
				Distance:  d,
			}
			if future := end + e.cfg.Horizon; future < len(closes) && closes[end] > 0 {
				m.Outcome = closes[future]/closes[end] - 1
				m.HasOutcome = true
			}
			matches = append(matches, m)
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if !matches[i].EndTime.Equal(matches[j].EndTime) {
			return matches[i].EndTime.After(matches[j].EndTime)
		}
		return matches[i].Start > matches[j].Start
	})

	if len(matches) > e.cfg.MaxResults {
		matches = matches[:e.cfg.MaxResults]
	}
	return matches
}

// Consensus computes the score-weighted mean outcome of the matches that
// have one. Direction is neutral when no match has an outcome.
func (e *Engine) Consensus(matches []Match) Consensus {
	c := Consensus{Count: len(matches), Direction: models.Neutral}
	var weighted, totalScore float64
	for _, m := range matches {
		if m.Score > c.TopScore {
			c.TopScore = m.Score
		}
		if !m.HasOutcome {
			continue
		}
		c.WithOutcome++
		switch {
		case m.Outcome > 0:
			c.Up++
		case m.Outcome < 0:
			c.Down++
		}
		weighted += m.Score * m.Outcome
		totalScore += m.Score
	}
	if totalScore > 0 {
		c.MeanOutcome = weighted / totalScore
		switch {
		case c.MeanOutcome > 0:
			c.Direction = models.Bullish
		case c.MeanOutcome < 0:
			c.Direction = models.Bearish
		}
	}
	return c
}

// profile is a window rescaled to percentage change from its first close,
// plus its step returns.
type profile struct {
	prices  []float64
	returns []float64
}

func shape(closes []float64) *profile {
	if len(closes) == 0 || closes[0] <= 0 {
		return nil
	}
	return &profile{
		prices:  indicators.PercentFromStart(closes),
		returns: indicators.Returns(closes),
	}
}

func (e *Engine) distance(a, b *profile) float64 {
	var priceDist float64
	if e.cfg.Metric == MetricDTW {
		priceDist = DTW(a.prices, b.prices, e.cfg.DTWBand)
	} else {
		priceDist = rmse(a.prices, b.prices)
	}
	return priceWeight*priceDist + returnWeight*rmse(a.returns, b.returns)
}

// rmse is the root mean squared difference of two equal-length sequences.
func rmse(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(a)))
}

// overlaps reports whether two time ranges intersect. Ranges with zero
// timestamps never overlap.
func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aStart.IsZero() || aEnd.IsZero() || bStart.IsZero() || bEnd.IsZero() {
		return false
	}
	return !aEnd.Before(bStart) && !bEnd.Before(aStart)
}
