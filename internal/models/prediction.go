package models

import "time"

// Prediction is the final output of one orchestration call.
type Prediction struct {
	ID                 string             `json:"id"`
	Symbol             string             `json:"symbol,omitempty"`
	Confidence         float64            `json:"confidence"`
	Label              string             `json:"prediction"`
	Direction          Direction          `json:"direction"`
	Rationale          string             `json:"analysis_details"`
	WeightedPrediction float64            `json:"weighted_prediction"`
	Signals            map[string]float64 `json:"signals,omitempty"`
	Evidence           []EvidenceRecord   `json:"evidence,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`

	// Reference point used to resolve the realized outcome later.
	Timeframe      Timeframe `json:"timeframe,omitempty"`
	ReferenceTime  time.Time `json:"reference_time,omitempty"`
	ReferencePrice float64   `json:"reference_price,omitempty"`
	Outcome        Direction `json:"outcome,omitempty"`
	ResolvedAt     time.Time `json:"resolved_at,omitempty"`
}

// Resolved reports whether the realized outcome has been recorded.
func (p Prediction) Resolved() bool {
	return !p.ResolvedAt.IsZero()
}

// EvidenceRecord keeps the evidence fed to the Bayesian combiner so the
// outcome can be replayed into online learning later.
type EvidenceRecord struct {
	Factor string  `json:"factor"`
	Number float64 `json:"number,omitempty"`
	Label  string  `json:"label,omitempty"`
}

// NeutralPrediction returns the default prediction used when signals degrade.
func NeutralPrediction(rationale string) Prediction {
	return Prediction{
		Confidence:         0.5,
		Label:              LabelFor(Neutral),
		Direction:          Neutral,
		Rationale:          rationale,
		WeightedPrediction: 0.5,
		Signals:            map[string]float64{},
		CreatedAt:          time.Now(),
	}
}

// LabelFor returns the human readable label for a direction.
func LabelFor(d Direction) string {
	switch d {
	case Bullish:
		return "Likely up"
	case Bearish:
		return "Likely down"
	default:
		return "Sideways"
	}
}
