// Package waves finds local extrema in a price window and classifies the
// window against an Elliott-style impulse/corrective schema.
//
// The current-wave label is a heuristic: parity of the extrema count picks
// between {2,4} and {3,5} for impulses, and the count modulo three cycles
// A, B, C for corrections. It is kept for compatibility, not as a rule of
// wave theory.
package waves

import (
	"fmt"

	"github.com/rs/zerolog"

	"chartseer/internal/analysis"
	"chartseer/internal/models"
)

const (
	minCandles = 5
	minExtrema = 5

	impulseThreshold    = 0.6
	correctiveConfident = 0.7
)

// waveInfo is the weight and description attached to a wave label.
type waveInfo struct {
	weight      float64
	description string
}

var waveTable = map[string]waveInfo{
	"1": {1.0, "Wave 1: initial move as a new trend starts"},
	"2": {0.8, "Wave 2: retracement of wave 1"},
	"3": {1.5, "Wave 3: strongest and usually longest move"},
	"4": {0.7, "Wave 4: consolidation before the final push"},
	"5": {1.2, "Wave 5: final move with fading momentum"},
	"A": {0.9, "Wave A: first leg of the correction"},
	"B": {0.8, "Wave B: counter-trend bounce"},
	"C": {1.1, "Wave C: final corrective leg"},
}

// Labels returns every wave label the classifier can produce.
func Labels() []string {
	return []string{"1", "2", "3", "4", "5", "A", "B", "C"}
}

// Weight returns the signal weight and description for a wave label.
// Unknown labels weigh 1.0.
func Weight(label string) (float64, string) {
	if info, ok := waveTable[label]; ok {
		return info.weight, info.description
	}
	return 1.0, ""
}

// Classifier detects extrema and classifies wave structure.
type Classifier struct {
	logger zerolog.Logger
}

// NewClassifier creates a new wave classifier.
func NewClassifier(logger zerolog.Logger) *Classifier {
	return &Classifier{logger: logger}
}

func (c *Classifier) Name() string {
	return "WaveClassifier"
}

// FindExtrema returns the strict local peaks and troughs of the closes.
// The first and last candles are never extrema.
func FindExtrema(candles []models.Candle) []analysis.Extremum {
	var extrema []analysis.Extremum
	for i := 1; i < len(candles)-1; i++ {
		prev, cur, next := candles[i-1].Close, candles[i].Close, candles[i+1].Close
		switch {
		case cur > prev && cur > next:
			extrema = append(extrema, analysis.Extremum{Index: i, Price: cur, Kind: analysis.Peak})
		case cur < prev && cur < next:
			extrema = append(extrema, analysis.Extremum{Index: i, Price: cur, Kind: analysis.Trough})
		}
	}
	return extrema
}

// Classify assesses the wave structure of the window. It never panics: short
// windows and unexpected failures both yield the neutral assessment.
func (c *Classifier) Classify(candles []models.Candle) (result analysis.WaveAssessment) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Msg("Wave classification failed")
			result = analysis.NeutralWave()
		}
	}()

	if len(candles) < minCandles {
		return analysis.NeutralWave()
	}

	extrema := FindExtrema(candles)
	if len(extrema) < minExtrema {
		c.logger.Debug().Int("extrema", len(extrema)).Msg("Too few extrema for wave detection")
		return analysis.NeutralWave()
	}

	lastClose := candles[len(candles)-1].Close

	if up, confidence := checkImpulse(extrema[len(extrema)-5:]); confidence >= impulseThreshold {
		label := impulseLabel(len(extrema), up, lastClose, extrema[len(extrema)-1].Price)
		return assessment(label, analysis.WaveImpulse, confidence, directionOf(up))
	}

	tail := extrema[len(extrema)-3:]
	if alternating(tail) {
		label := []string{"A", "B", "C"}[len(extrema)%3]
		return assessment(label, analysis.WaveCorrective, correctiveConfident, directionOf(lastClose > tail[0].Price))
	}

	return analysis.NeutralWave()
}

// checkImpulse scores the last five extrema against the three impulse rules
// and reports the trend direction they imply.
func checkImpulse(e []analysis.Extremum) (bool, float64) {
	// Starting from a trough means the impulse runs upward.
	up := e[0].Kind == analysis.Trough

	leg1 := abs(e[1].Price - e[0].Price)
	leg2 := abs(e[2].Price - e[1].Price)
	leg3 := abs(e[3].Price - e[2].Price)

	satisfied := 0

	// Wave 3 is not the shortest.
	if leg3 >= leg1 && leg3 >= leg2 {
		satisfied++
	}

	// Wave 2 does not retrace beyond the origin of wave 1.
	if (up && e[2].Price > e[0].Price) || (!up && e[2].Price < e[0].Price) {
		satisfied++
	}

	// Wave 4 does not re-enter the territory of wave 1.
	if (up && e[4].Price > e[1].Price) || (!up && e[4].Price < e[1].Price) {
		satisfied++
	}

	return up, float64(satisfied) / 3
}

// impulseLabel picks the current wave inside an impulse. An even extrema
// count selects {2, 4}, an odd one {3, 5}; the first of the pair is used when
// the last close has already moved past the last extremum in the trend
// direction.
func impulseLabel(count int, up bool, lastClose, lastExtremum float64) string {
	pair := [2]string{"3", "5"}
	if count%2 == 0 {
		pair = [2]string{"2", "4"}
	}
	advanced := (up && lastClose > lastExtremum) || (!up && lastClose < lastExtremum)
	if advanced {
		return pair[0]
	}
	return pair[1]
}

func alternating(e []analysis.Extremum) bool {
	for i := 1; i < len(e); i++ {
		if e[i].Kind == e[i-1].Kind {
			return false
		}
	}
	return true
}

func assessment(label string, pattern analysis.WavePattern, confidence float64, dir models.Direction) analysis.WaveAssessment {
	weight, desc := Weight(label)
	return analysis.WaveAssessment{
		Detected:    true,
		Label:       label,
		Weight:      weight,
		Confidence:  confidence,
		Direction:   dir,
		Pattern:     pattern,
		Description: fmt.Sprintf("%s (%s, confidence %.0f%%)", desc, pattern, confidence*100),
	}
}

func directionOf(up bool) models.Direction {
	if up {
		return models.Bullish
	}
	return models.Bearish
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
