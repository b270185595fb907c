// Package analysis provides the types shared by the signal generators:
// candlestick matches, wave assessments and trend summaries.
package analysis

import (
	"chartseer/internal/models"
)

// PatternDetector defines the interface for candlestick pattern detection.
type PatternDetector interface {
	Name() string
	Detect(candles []models.Candle) []PatternMatch
}

// Polarity is the directional bias of a detected pattern.
type Polarity = models.Direction

const (
	PolarityBullish Polarity = models.Bullish
	PolarityBearish Polarity = models.Bearish
	PolarityNeutral Polarity = models.Neutral
)

// PatternMatch represents one detected candlestick formation.
type PatternMatch struct {
	Name       string   `json:"pattern"`
	Polarity   Polarity `json:"polarity"`
	Confidence float64  `json:"confidence"`
	// Index is the position of the last candle of the formation in the window.
	Index int `json:"index"`
}

// PatternSummary aggregates pattern matches into one directional signal.
type PatternSummary struct {
	Total        int              `json:"total"`
	BullishCount int              `json:"bullish"`
	BearishCount int              `json:"bearish"`
	NeutralCount int              `json:"neutral"`
	Signal       models.Direction `json:"overall_signal"`
	Confidence   float64          `json:"confidence"`
}

// ExtremumKind distinguishes peaks from troughs.
type ExtremumKind string

const (
	Peak   ExtremumKind = "peak"
	Trough ExtremumKind = "trough"
)

// Extremum is a local peak or trough of a window's closes.
type Extremum struct {
	Index int          `json:"index"`
	Price float64      `json:"price"`
	Kind  ExtremumKind `json:"kind"`
}

// WavePattern names the structure a wave assessment was matched against.
type WavePattern string

const (
	WaveNone       WavePattern = "none"
	WaveImpulse    WavePattern = "impulse"
	WaveCorrective WavePattern = "corrective"
)

// WaveAssessment is the Elliott-style classification of a window. Direction
// reports an up structure as Bullish and a down one as Bearish so it compares
// directly with prediction directions.
type WaveAssessment struct {
	Detected    bool             `json:"detected"`
	Label       string           `json:"wave_label,omitempty"`
	Weight      float64          `json:"wave_weight"`
	Confidence  float64          `json:"confidence"`
	Direction   models.Direction `json:"direction"`
	Pattern     WavePattern      `json:"pattern"`
	Description string           `json:"description,omitempty"`
}

// NeutralWave is the assessment returned when no wave structure is found.
func NeutralWave() WaveAssessment {
	return WaveAssessment{
		Detected:   false,
		Weight:     1.0,
		Confidence: 0,
		Direction:  models.Neutral,
		Pattern:    WaveNone,
	}
}

// TrendDirection is the coarse direction of a trend analysis.
type TrendDirection string

const (
	TrendUp       TrendDirection = "up"
	TrendDown     TrendDirection = "down"
	TrendSideways TrendDirection = "sideways"
)

// TrendAnalysis summarizes moving average, volatility and momentum of a window.
type TrendAnalysis struct {
	MovingAverage float64        `json:"moving_average"`
	Volatility    float64        `json:"volatility"`
	Momentum      float64        `json:"momentum"`
	Direction     TrendDirection `json:"direction"`
	Strength      float64        `json:"strength"`
	LastPrice     float64        `json:"last_price"`
}

// Signal maps the analysis onto [-1, 1] for the trend evidence: an up trend
// lands in (0.3, 1] by strength, a down trend in [-1, -0.3), sideways at 0.
func (t TrendAnalysis) Signal() float64 {
	switch t.Direction {
	case TrendUp:
		return 0.5 + 0.5*t.Strength
	case TrendDown:
		return -0.5 - 0.5*t.Strength
	default:
		return 0
	}
}
