package optimizer

import (
	"fmt"
	"math"

	"chartseer/internal/analysis/features"
)

const simplexTolerance = 1e-9

// WeightVector maps feature names to non-negative weights summing to 1.
type WeightVector map[string]float64

// DefaultWeights returns the hand-tuned starting weights.
func DefaultWeights() WeightVector {
	return WeightVector{
		features.Price:      0.2,
		features.Returns:    0.15,
		features.Volatility: 0.1,
		features.Trend:      0.2,
		features.Volume:     0.1,
		features.Indicators: 0.15,
		features.Candles:    0.1,
	}
}

// Clone returns a copy of the vector.
func (w WeightVector) Clone() WeightVector {
	out := make(WeightVector, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// Normalize projects the vector back onto the simplex over the feature names.
// Negative or non-finite weights become zero; an all-zero vector becomes
// uniform.
func (w WeightVector) Normalize() WeightVector {
	out := make(WeightVector, len(features.Names))
	var total float64
	for _, name := range features.Names {
		v := w[name]
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		out[name] = v
		total += v
	}
	if total == 0 {
		for _, name := range features.Names {
			out[name] = 1 / float64(len(features.Names))
		}
		return out
	}
	for _, name := range features.Names {
		out[name] /= total
	}
	return out
}

// Validate checks the simplex constraint.
func (w WeightVector) Validate() error {
	if len(w) != len(features.Names) {
		return fmt.Errorf("expected %d weights, got %d", len(features.Names), len(w))
	}
	var total float64
	for _, name := range features.Names {
		v, ok := w[name]
		if !ok {
			return fmt.Errorf("missing weight %q", name)
		}
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("weight %q is %v", name, v)
		}
		total += v
	}
	if math.Abs(total-1) > simplexTolerance {
		return fmt.Errorf("weights sum to %v", total)
	}
	return nil
}

// Score is the weighted sum of the feature scores.
func (w WeightVector) Score(scores features.Scores) float64 {
	var s float64
	for _, name := range features.Names {
		s += w[name] * scores[name]
	}
	return s
}
