// Package patterns provides candlestick pattern recognition.
package patterns

import (
	"github.com/rs/zerolog"

	"chartseer/internal/analysis"
	"chartseer/internal/models"
)

// Confidence assigned to each rule when it fires.
const (
	confHammer        = 0.85
	confShootingStar  = 0.85
	confDoji          = 0.86
	confMarubozu      = 0.92
	confEngulfing     = 0.90
	confStar          = 0.90
	confSoldiersCrows = 0.88

	confHangingMan     = 0.70
	confInvertedHammer = 0.65
	confSpinningTop    = 0.60
	confPiercing       = 0.75
	confHarami         = 0.65
	confTweezer        = 0.70
)

const (
	// singleLookback is how many trailing candles are checked one by one.
	singleLookback = 5
	// dominanceRatio is how much one side must outweigh the other in Summarize.
	dominanceRatio = 1.2
)

// CandlestickDetector detects candlestick patterns in price data.
type CandlestickDetector struct {
	dojiThreshold     float64 // Body size as % of range for doji
	marubozuThreshold float64 // Body size as % of range for marubozu
	longBodyThreshold float64 // Body size as % of range for long body
	minBodyRatio      float64 // Smallest body ratio for hammer/star shapes
	shadowThreshold   float64 // Dominant shadow as multiple of body
	opposingShadow    float64 // Opposing shadow as fraction of body
	engulfRatio       float64 // Engulfing body as multiple of previous body

	logger zerolog.Logger
}

// NewCandlestickDetector creates a new candlestick pattern detector.
func NewCandlestickDetector() *CandlestickDetector {
	return &CandlestickDetector{
		dojiThreshold:     0.1,
		marubozuThreshold: 0.95,
		longBodyThreshold: 0.6,
		minBodyRatio:      0.3,
		shadowThreshold:   2.0,
		opposingShadow:    0.3,
		engulfRatio:       1.5,
		logger:            zerolog.Nop(),
	}
}

// WithLogger sets the logger used to report skipped candles.
func (d *CandlestickDetector) WithLogger(logger zerolog.Logger) *CandlestickDetector {
	d.logger = logger
	return d
}

func (d *CandlestickDetector) Name() string {
	return "CandlestickDetector"
}

// Recognize accepts a candle slice or anything wrapping one, normalizes it and
// runs Detect.
func (d *CandlestickDetector) Recognize(input interface{}) []analysis.PatternMatch {
	candles, skipped := models.Normalize(input)
	if skipped > 0 {
		d.logger.Debug().Int("skipped", skipped).Msg("Dropped malformed candles")
	}
	return d.Detect(candles)
}

// Detect detects candlestick patterns over the tail of the given candles.
// Single candles and pairs are checked over the last five candles, triples
// over the last three. Malformed candles are skipped and break any pair or
// triple they would be part of.
func (d *CandlestickDetector) Detect(candles []models.Candle) []analysis.PatternMatch {
	if len(candles) < 3 {
		return nil
	}

	valid := make([]bool, len(candles))
	for i, c := range candles {
		valid[i] = c.IsValid()
	}

	var matches []analysis.PatternMatch
	n := len(candles)
	from := n - singleLookback
	if from < 0 {
		from = 0
	}

	// Single-candle patterns
	for i := from; i < n; i++ {
		if !valid[i] {
			continue
		}
		for _, detect := range []func([]models.Candle, int) *analysis.PatternMatch{
			d.detectDoji,
			d.detectSpinningTop,
			d.detectMarubozu,
			d.detectHammer,
			d.detectShootingStar,
		} {
			if m := detect(candles, i); m != nil {
				matches = append(matches, *m)
			}
		}
	}

	// Two-candle patterns
	for i := from + 1; i < n; i++ {
		if !valid[i] || !valid[i-1] {
			continue
		}
		for _, detect := range []func([]models.Candle, int) *analysis.PatternMatch{
			d.detectEngulfing,
			d.detectPiercingLine,
			d.detectDarkCloudCover,
			d.detectHarami,
			d.detectTweezer,
		} {
			if m := detect(candles, i); m != nil {
				matches = append(matches, *m)
			}
		}
	}

	// Three-candle patterns on the last three
	last := n - 1
	if valid[last] && valid[last-1] && valid[last-2] {
		for _, detect := range []func([]models.Candle, int) *analysis.PatternMatch{
			d.detectMorningStar,
			d.detectEveningStar,
			d.detectThreeWhiteSoldiers,
			d.detectThreeBlackCrows,
		} {
			if m := detect(candles, last); m != nil {
				matches = append(matches, *m)
			}
		}
	}

	return matches
}

// Summarize aggregates matches into one signal. A side wins only when its
// confidence-weighted sum beats the other side's by more than 20%.
func Summarize(matches []analysis.PatternMatch) analysis.PatternSummary {
	summary := analysis.PatternSummary{
		Total:      len(matches),
		Signal:     models.Neutral,
		Confidence: 0.5,
	}

	var bullish, bearish float64
	for _, m := range matches {
		switch m.Polarity {
		case analysis.PolarityBullish:
			summary.BullishCount++
			bullish += m.Confidence
		case analysis.PolarityBearish:
			summary.BearishCount++
			bearish += m.Confidence
		default:
			summary.NeutralCount++
		}
	}

	total := bullish + bearish
	switch {
	case bullish > 0 && bullish > bearish*dominanceRatio:
		summary.Signal = models.Bullish
		summary.Confidence = bullish / total
	case bearish > 0 && bearish > bullish*dominanceRatio:
		summary.Signal = models.Bearish
		summary.Confidence = bearish / total
	}

	return summary
}

// Helper functions for candle analysis
func (d *CandlestickDetector) bodySize(c models.Candle) float64 {
	return abs(c.Close - c.Open)
}

func (d *CandlestickDetector) candleRange(c models.Candle) float64 {
	return c.High - c.Low
}

func (d *CandlestickDetector) bodyRatio(c models.Candle) float64 {
	rng := d.candleRange(c)
	if rng == 0 {
		return 0
	}
	return d.bodySize(c) / rng
}

func (d *CandlestickDetector) upperShadow(c models.Candle) float64 {
	return c.High - max(c.Open, c.Close)
}

func (d *CandlestickDetector) lowerShadow(c models.Candle) float64 {
	return min(c.Open, c.Close) - c.Low
}

func (d *CandlestickDetector) isBullish(c models.Candle) bool {
	return c.Close > c.Open
}

func (d *CandlestickDetector) isBearish(c models.Candle) bool {
	return c.Close < c.Open
}

// isInDowntrend checks if the two closes before idx are falling
func (d *CandlestickDetector) isInDowntrend(candles []models.Candle, idx int) bool {
	if idx < 3 {
		return false
	}
	return candles[idx-1].Close < candles[idx-2].Close &&
		candles[idx-2].Close < candles[idx-3].Close
}

// isInUptrend checks if the two closes before idx are rising
func (d *CandlestickDetector) isInUptrend(candles []models.Candle, idx int) bool {
	if idx < 3 {
		return false
	}
	return candles[idx-1].Close > candles[idx-2].Close &&
		candles[idx-2].Close > candles[idx-3].Close
}

func match(name string, polarity analysis.Polarity, confidence float64, idx int) *analysis.PatternMatch {
	return &analysis.PatternMatch{
		Name:       name,
		Polarity:   polarity,
		Confidence: confidence,
		Index:      idx,
	}
}

// Single-candle pattern detection

// detectDoji detects Doji patterns (open close nearly equal)
func (d *CandlestickDetector) detectDoji(candles []models.Candle, idx int) *analysis.PatternMatch {
	c := candles[idx]
	if d.candleRange(c) == 0 {
		return nil
	}
	if d.bodyRatio(c) >= d.dojiThreshold {
		return nil
	}
	return match("Doji", analysis.PolarityNeutral, confDoji, idx)
}

// detectSpinningTop detects Spinning Top patterns (indecision)
func (d *CandlestickDetector) detectSpinningTop(candles []models.Candle, idx int) *analysis.PatternMatch {
	c := candles[idx]
	ratio := d.bodyRatio(c)
	if ratio > 0.3 || ratio < d.dojiThreshold {
		return nil
	}
	body := d.bodySize(c)
	// Both shadows should be significant
	if d.upperShadow(c) < body || d.lowerShadow(c) < body {
		return nil
	}
	return match("Spinning Top", analysis.PolarityNeutral, confSpinningTop, idx)
}

// detectMarubozu detects Marubozu patterns (body covers almost the whole range)
func (d *CandlestickDetector) detectMarubozu(candles []models.Candle, idx int) *analysis.PatternMatch {
	c := candles[idx]
	if d.bodyRatio(c) <= d.marubozuThreshold {
		return nil
	}
	if d.isBearish(c) {
		return match("Bearish Marubozu", analysis.PolarityBearish, confMarubozu, idx)
	}
	return match("Bullish Marubozu", analysis.PolarityBullish, confMarubozu, idx)
}

// hammerShape reports a long lower shadow under a small body at the top.
func (d *CandlestickDetector) hammerShape(c models.Candle) bool {
	body := d.bodySize(c)
	if body == 0 || d.bodyRatio(c) <= d.minBodyRatio {
		return false
	}
	return d.lowerShadow(c) >= body*d.shadowThreshold &&
		d.upperShadow(c) < body*d.opposingShadow
}

// starShape reports a long upper shadow over a small body at the bottom.
func (d *CandlestickDetector) starShape(c models.Candle) bool {
	body := d.bodySize(c)
	if body == 0 || d.bodyRatio(c) <= d.minBodyRatio {
		return false
	}
	return d.upperShadow(c) >= body*d.shadowThreshold &&
		d.lowerShadow(c) < body*d.opposingShadow
}

// detectHammer detects Hammer, or Hanging Man when it prints after a rally
func (d *CandlestickDetector) detectHammer(candles []models.Candle, idx int) *analysis.PatternMatch {
	if !d.hammerShape(candles[idx]) {
		return nil
	}
	if d.isInUptrend(candles, idx) {
		return match("Hanging Man", analysis.PolarityBearish, confHangingMan, idx)
	}
	return match("Hammer", analysis.PolarityBullish, confHammer, idx)
}

// detectShootingStar detects Shooting Star, or Inverted Hammer after a decline
func (d *CandlestickDetector) detectShootingStar(candles []models.Candle, idx int) *analysis.PatternMatch {
	if !d.starShape(candles[idx]) {
		return nil
	}
	if d.isInDowntrend(candles, idx) {
		return match("Inverted Hammer", analysis.PolarityBullish, confInvertedHammer, idx)
	}
	return match("Shooting Star", analysis.PolarityBearish, confShootingStar, idx)
}

// Two-candle pattern detection

// detectEngulfing detects Bullish and Bearish Engulfing patterns
func (d *CandlestickDetector) detectEngulfing(candles []models.Candle, idx int) *analysis.PatternMatch {
	prev := candles[idx-1]
	curr := candles[idx]

	if d.bodySize(curr) <= d.bodySize(prev)*d.engulfRatio {
		return nil
	}

	// Bullish Engulfing: bearish candle followed by bullish candle that engulfs it
	if d.isBearish(prev) && d.isBullish(curr) && curr.Open <= prev.Close && curr.Close >= prev.Open {
		return match("Bullish Engulfing", analysis.PolarityBullish, confEngulfing, idx)
	}

	// Bearish Engulfing: bullish candle followed by bearish candle that engulfs it
	if d.isBullish(prev) && d.isBearish(curr) && curr.Open >= prev.Close && curr.Close <= prev.Open {
		return match("Bearish Engulfing", analysis.PolarityBearish, confEngulfing, idx)
	}

	return nil
}

// detectPiercingLine detects Piercing Line pattern (bullish reversal)
func (d *CandlestickDetector) detectPiercingLine(candles []models.Candle, idx int) *analysis.PatternMatch {
	prev := candles[idx-1]
	curr := candles[idx]

	if !d.isBearish(prev) || !d.isBullish(curr) {
		return nil
	}
	// Opens below the previous close, closes above the previous midpoint
	// without engulfing the previous open.
	if curr.Open >= prev.Close {
		return nil
	}
	prevMidpoint := (prev.Open + prev.Close) / 2
	if curr.Close <= prevMidpoint || curr.Close >= prev.Open {
		return nil
	}

	return match("Piercing Line", analysis.PolarityBullish, confPiercing, idx)
}

// detectDarkCloudCover detects Dark Cloud Cover pattern (bearish reversal)
func (d *CandlestickDetector) detectDarkCloudCover(candles []models.Candle, idx int) *analysis.PatternMatch {
	prev := candles[idx-1]
	curr := candles[idx]

	if !d.isBullish(prev) || !d.isBearish(curr) {
		return nil
	}
	if curr.Open <= prev.Close {
		return nil
	}
	prevMidpoint := (prev.Open + prev.Close) / 2
	if curr.Close >= prevMidpoint || curr.Close <= prev.Open {
		return nil
	}

	return match("Dark Cloud Cover", analysis.PolarityBearish, confPiercing, idx)
}

// detectHarami detects Bullish and Bearish Harami patterns
func (d *CandlestickDetector) detectHarami(candles []models.Candle, idx int) *analysis.PatternMatch {
	prev := candles[idx-1]
	curr := candles[idx]

	// Current body must be smaller and contained within previous body
	if d.bodySize(curr) >= d.bodySize(prev) {
		return nil
	}

	if d.isBearish(prev) && d.isBullish(curr) && curr.Open >= prev.Close && curr.Close <= prev.Open {
		return match("Bullish Harami", analysis.PolarityBullish, confHarami, idx)
	}
	if d.isBullish(prev) && d.isBearish(curr) && curr.Open <= prev.Close && curr.Close >= prev.Open {
		return match("Bearish Harami", analysis.PolarityBearish, confHarami, idx)
	}

	return nil
}

// detectTweezer detects Tweezer Top and Bottom patterns
func (d *CandlestickDetector) detectTweezer(candles []models.Candle, idx int) *analysis.PatternMatch {
	prev := candles[idx-1]
	curr := candles[idx]

	tolerance := d.candleRange(prev) * 0.05

	// Tweezer Bottom: matching lows, bearish then bullish
	if abs(prev.Low-curr.Low) <= tolerance && d.isBearish(prev) && d.isBullish(curr) {
		return match("Tweezer Bottom", analysis.PolarityBullish, confTweezer, idx)
	}

	// Tweezer Top: matching highs, bullish then bearish
	if abs(prev.High-curr.High) <= tolerance && d.isBullish(prev) && d.isBearish(curr) {
		return match("Tweezer Top", analysis.PolarityBearish, confTweezer, idx)
	}

	return nil
}

// Three-candle pattern detection

// detectMorningStar detects Morning Star pattern (bullish reversal)
func (d *CandlestickDetector) detectMorningStar(candles []models.Candle, idx int) *analysis.PatternMatch {
	first := candles[idx-2]
	second := candles[idx-1]
	third := candles[idx]

	// First candle: long bearish
	if d.bodyRatio(first) < d.longBodyThreshold || !d.isBearish(first) {
		return nil
	}
	// Second candle: small body below the first close
	if d.bodyRatio(second) > 0.3 || max(second.Open, second.Close) >= first.Close {
		return nil
	}
	// Third candle: bullish, closes above midpoint of first
	if !d.isBullish(third) || third.Close < (first.Open+first.Close)/2 {
		return nil
	}

	return match("Morning Star", analysis.PolarityBullish, confStar, idx)
}

// detectEveningStar detects Evening Star pattern (bearish reversal)
func (d *CandlestickDetector) detectEveningStar(candles []models.Candle, idx int) *analysis.PatternMatch {
	first := candles[idx-2]
	second := candles[idx-1]
	third := candles[idx]

	if d.bodyRatio(first) < d.longBodyThreshold || !d.isBullish(first) {
		return nil
	}
	if d.bodyRatio(second) > 0.3 || min(second.Open, second.Close) <= first.Close {
		return nil
	}
	if !d.isBearish(third) || third.Close > (first.Open+first.Close)/2 {
		return nil
	}

	return match("Evening Star", analysis.PolarityBearish, confStar, idx)
}

// detectThreeWhiteSoldiers detects Three White Soldiers pattern (bullish continuation)
func (d *CandlestickDetector) detectThreeWhiteSoldiers(candles []models.Candle, idx int) *analysis.PatternMatch {
	first := candles[idx-2]
	second := candles[idx-1]
	third := candles[idx]

	if !d.isBullish(first) || !d.isBullish(second) || !d.isBullish(third) {
		return nil
	}
	if d.bodyRatio(first) < 0.5 || d.bodyRatio(second) < 0.5 || d.bodyRatio(third) < 0.5 {
		return nil
	}

	// Each candle opens within the body of the previous candle
	if second.Open < first.Open || second.Open > first.Close {
		return nil
	}
	if third.Open < second.Open || third.Open > second.Close {
		return nil
	}
	if second.Close <= first.Close || third.Close <= second.Close {
		return nil
	}

	return match("Three White Soldiers", analysis.PolarityBullish, confSoldiersCrows, idx)
}

// detectThreeBlackCrows detects Three Black Crows pattern (bearish continuation)
func (d *CandlestickDetector) detectThreeBlackCrows(candles []models.Candle, idx int) *analysis.PatternMatch {
	first := candles[idx-2]
	second := candles[idx-1]
	third := candles[idx]

	if !d.isBearish(first) || !d.isBearish(second) || !d.isBearish(third) {
		return nil
	}
	if d.bodyRatio(first) < 0.5 || d.bodyRatio(second) < 0.5 || d.bodyRatio(third) < 0.5 {
		return nil
	}

	if second.Open > first.Open || second.Open < first.Close {
		return nil
	}
	if third.Open > second.Open || third.Open < second.Close {
		return nil
	}
	if second.Close >= first.Close || third.Close >= second.Close {
		return nil
	}

	return match("Three Black Crows", analysis.PolarityBearish, confSoldiersCrows, idx)
}

// Helper functions
func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
