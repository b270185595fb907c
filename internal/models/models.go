// Package models provides domain models for the pattern-matching forecaster.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Direction represents the expected direction of a price move.
type Direction string

const (
	Bullish Direction = "bullish"
	Bearish Direction = "bearish"
	Neutral Direction = "neutral"
)

// Opposite returns the mirrored direction. Neutral stays neutral.
func (d Direction) Opposite() Direction {
	switch d {
	case Bullish:
		return Bearish
	case Bearish:
		return Bullish
	default:
		return Neutral
	}
}

// ParseDirection parses "bullish"/"up" and "bearish"/"down" style labels.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bullish", "up", "buy", "long":
		return Bullish, nil
	case "bearish", "down", "sell", "short":
		return Bearish, nil
	case "neutral", "sideways", "flat", "":
		return Neutral, nil
	default:
		return Neutral, fmt.Errorf("unknown direction %q", s)
	}
}

// Candle represents OHLCV data for a time period.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Validate checks the OHLC invariants of a single candle.
func (c Candle) Validate() error {
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return fmt.Errorf("non-positive price in candle at %s", c.Timestamp.Format(time.RFC3339))
	}
	if c.High < c.Low {
		return fmt.Errorf("high %.4f below low %.4f", c.High, c.Low)
	}
	if c.Low > c.Open || c.Low > c.Close {
		return fmt.Errorf("low %.4f above body", c.Low)
	}
	if c.High < c.Open || c.High < c.Close {
		return fmt.Errorf("high %.4f below body", c.High)
	}
	if c.Volume < 0 {
		return fmt.Errorf("negative volume %.2f", c.Volume)
	}
	return nil
}

// IsValid reports whether the candle satisfies its invariants.
func (c Candle) IsValid() bool {
	return c.Validate() == nil
}

// Series is an ordered, chronological sequence of candles for one symbol.
// A Series is never mutated in place; transformations return copies.
type Series struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	Candles   []Candle  `json:"candles"`
}

// NewSeries builds a series and checks that timestamps strictly increase.
// Candles with zero timestamps are accepted as-is (synthetic data).
func NewSeries(symbol string, tf Timeframe, candles []Candle) (Series, error) {
	for i := 1; i < len(candles); i++ {
		prev, cur := candles[i-1].Timestamp, candles[i].Timestamp
		if prev.IsZero() || cur.IsZero() {
			continue
		}
		if !cur.After(prev) {
			return Series{}, fmt.Errorf("timestamps not increasing at index %d", i)
		}
	}
	cp := make([]Candle, len(candles))
	copy(cp, candles)
	return Series{Symbol: symbol, Timeframe: tf, Candles: cp}, nil
}

// Len returns the number of candles.
func (s Series) Len() int {
	return len(s.Candles)
}

// Last returns the most recent candle and false when the series is empty.
func (s Series) Last() (Candle, bool) {
	if len(s.Candles) == 0 {
		return Candle{}, false
	}
	return s.Candles[len(s.Candles)-1], true
}

// Closes extracts close prices.
func (s Series) Closes() []float64 {
	return Closes(s.Candles)
}

// Append returns a new series with extra candles appended to a copy.
func (s Series) Append(extra ...Candle) Series {
	out := make([]Candle, 0, len(s.Candles)+len(extra))
	out = append(out, s.Candles...)
	out = append(out, extra...)
	return Series{Symbol: s.Symbol, Timeframe: s.Timeframe, Candles: out}
}

// CandleSlice implements CandleSource.
func (s Series) CandleSlice() []Candle {
	return s.Candles
}

// Window is a contiguous slice of a series analyzed as one unit.
type Window struct {
	Candles   []Candle  `json:"candles"`
	Timeframe Timeframe `json:"timeframe"`
	// Start is the index of the first candle within the originating series.
	Start int `json:"start"`
}

// CurrentWindow returns the most recent n candles of the series.
// When the series is shorter than n the whole series is returned.
func CurrentWindow(s Series, n int) Window {
	if n <= 0 || n > len(s.Candles) {
		n = len(s.Candles)
	}
	start := len(s.Candles) - n
	return Window{
		Candles:   s.Candles[start:],
		Timeframe: s.Timeframe,
		Start:     start,
	}
}

// Len returns the number of candles in the window.
func (w Window) Len() int {
	return len(w.Candles)
}

// Closes extracts close prices.
func (w Window) Closes() []float64 {
	return Closes(w.Candles)
}

// CandleSlice implements CandleSource.
func (w Window) CandleSlice() []Candle {
	return w.Candles
}

// CandleSource is anything that wraps a sequence of candles.
type CandleSource interface {
	CandleSlice() []Candle
}

// Closes extracts close prices from candles.
func Closes(candles []Candle) []float64 {
	prices := make([]float64, len(candles))
	for i, c := range candles {
		prices[i] = c.Close
	}
	return prices
}

// DirectionOf classifies a relative return. Moves within ±threshold are neutral.
func DirectionOf(ret, threshold float64) Direction {
	switch {
	case ret > threshold:
		return Bullish
	case ret < -threshold:
		return Bearish
	default:
		return Neutral
	}
}
