// Package features maps a price window to the seven feature scores blended
// by the weight vector. Every score lies in [0, 1]; above 0.5 leans bullish.
package features

import (
	"math"

	"chartseer/internal/analysis"
	"chartseer/internal/analysis/indicators"
	"chartseer/internal/analysis/patterns"
	"chartseer/internal/models"
)

// Feature names, in the fixed order used for crossover cuts.
const (
	Price      = "price"
	Returns    = "returns"
	Volatility = "volatility"
	Trend      = "trend"
	Volume     = "volume"
	Indicators = "indicators"
	Candles    = "candles"
)

// Names lists the features in their canonical order.
var Names = []string{Price, Returns, Volatility, Trend, Volume, Indicators, Candles}

const (
	rsiPeriod      = 14
	trendLookback  = 20
	trendSlope     = 10.0
	returnsScaling = 10.0
)

// Scores maps feature names to scores in [0, 1].
type Scores map[string]float64

// Neutral returns 0.5 for every feature.
func Neutral() Scores {
	s := make(Scores, len(Names))
	for _, n := range Names {
		s[n] = 0.5
	}
	return s
}

// Extract computes the feature scores of a window, running the candlestick
// detector for the candle balance.
func Extract(candles []models.Candle) Scores {
	return ExtractWith(candles, patterns.NewCandlestickDetector().Detect(candles))
}

// ExtractWith computes the feature scores using already detected patterns.
// An empty window yields neutral scores.
func ExtractWith(candles []models.Candle, matches []analysis.PatternMatch) Scores {
	s := Neutral()
	if len(candles) == 0 {
		return s
	}
	closes := models.Closes(candles)

	s[Price] = pricePosition(closes)
	s[Returns] = windowReturn(closes)
	s[Volatility] = riskAdjusted(closes)
	s[Trend] = 0.5 + 0.5*TrendSignal(candles)
	s[Volume] = upVolumeShare(candles)
	if rsi, ok := indicators.LatestRSI(candles, rsiPeriod); ok {
		s[Indicators] = rsi / 100
	}
	s[Candles] = candleBalance(matches)

	for k, v := range s {
		s[k] = indicators.Clamp(v, 0, 1)
	}
	return s
}

// TrendSignal is the deviation of the last close from its moving average,
// scaled by ten and clamped to [-1, 1]. The moving average uses up to the
// last twenty closes.
func TrendSignal(candles []models.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	closes := models.Closes(candles)
	if len(closes) > trendLookback {
		closes = closes[len(closes)-trendLookback:]
	}
	ma := indicators.Mean(closes)
	if ma <= 0 {
		return 0
	}
	last := closes[len(closes)-1]
	return indicators.Clamp((last-ma)/ma*trendSlope, -1, 1)
}

// VolumeRatio is the last candle's volume relative to the window average.
// A window without volume reports 1.
func VolumeRatio(candles []models.Candle) float64 {
	avg := indicators.AverageVolume(candles)
	if avg <= 0 {
		return 1
	}
	return candles[len(candles)-1].Volume / avg
}

func pricePosition(closes []float64) float64 {
	hi, lo := indicators.Highest(closes), indicators.Lowest(closes)
	if hi == lo {
		return 0.5
	}
	return (closes[len(closes)-1] - lo) / (hi - lo)
}

func windowReturn(closes []float64) float64 {
	if len(closes) < 2 || closes[0] <= 0 {
		return 0.5
	}
	r := closes[len(closes)-1]/closes[0] - 1
	return 0.5 + 0.5*math.Tanh(r*returnsScaling)
}

func riskAdjusted(closes []float64) float64 {
	rets := indicators.Returns(closes)
	if len(rets) == 0 {
		return 0.5
	}
	mean := indicators.Mean(rets)
	std := indicators.StdDev(rets)
	if std < 1e-12 {
		switch {
		case mean > 0:
			return 1
		case mean < 0:
			return 0
		default:
			return 0.5
		}
	}
	return 0.5 + 0.5*math.Tanh(mean/std)
}

func upVolumeShare(candles []models.Candle) float64 {
	var up, total float64
	for _, c := range candles {
		total += c.Volume
		switch {
		case c.Close > c.Open:
			up += c.Volume
		case c.Close == c.Open:
			up += c.Volume / 2
		}
	}
	if total <= 0 {
		return 0.5
	}
	return up / total
}

func candleBalance(matches []analysis.PatternMatch) float64 {
	var bull, bear float64
	for _, m := range matches {
		switch m.Polarity {
		case analysis.PolarityBullish:
			bull += m.Confidence
		case analysis.PolarityBearish:
			bear += m.Confidence
		}
	}
	if bull+bear == 0 {
		return 0.5
	}
	return 0.5 + 0.5*(bull-bear)/(bull+bear)
}
