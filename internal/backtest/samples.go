// Package backtest builds labeled training samples from a series and replays
// the predictor over history to measure it.
package backtest

import (
	"time"

	"chartseer/internal/analysis/features"
	apperrors "chartseer/internal/errors"
	"chartseer/internal/models"
)

// Config controls sample construction and walk-forward evaluation.
type Config struct {
	Window  int `mapstructure:"window" default:"30" validate:"min=2"`
	Horizon int `mapstructure:"horizon" default:"5" validate:"min=1"`
	Step    int `mapstructure:"step" default:"1" validate:"min=1"`
	// Warmup is the history length before the first walk-forward prediction.
	// Zero means twice the window.
	Warmup           int     `mapstructure:"warmup" default:"0" validate:"min=0"`
	OutcomeThreshold float64 `mapstructure:"outcome_threshold" default:"0.002" validate:"gte=0"`
}

// DefaultConfig returns the default backtest configuration.
func DefaultConfig() Config {
	return Config{
		Window:           30,
		Horizon:          5,
		Step:             1,
		OutcomeThreshold: 0.002,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Window < 2 {
		c.Window = def.Window
	}
	if c.Horizon < 1 {
		c.Horizon = def.Horizon
	}
	if c.Step < 1 {
		c.Step = def.Step
	}
	if c.Warmup < c.Window {
		c.Warmup = 2 * c.Window
	}
	return c
}

// Sample is one window's feature scores labeled with what happened next.
type Sample struct {
	End     int              `json:"end"`
	Time    time.Time        `json:"time"`
	Scores  features.Scores  `json:"scores"`
	Return  float64          `json:"return"`
	Outcome models.Direction `json:"outcome"`
}

// BuildSamples slides a window over the series and labels each position with
// the return Horizon candles later.
func BuildSamples(series models.Series, cfg Config) ([]Sample, error) {
	cfg = cfg.withDefaults()
	candles, _ := models.Normalize(series)
	if len(candles) < cfg.Window+cfg.Horizon {
		return nil, apperrors.InsufficientData("training samples", cfg.Window+cfg.Horizon, len(candles))
	}

	var samples []Sample
	for end := cfg.Window - 1; end+cfg.Horizon < len(candles); end += cfg.Step {
		window := candles[end-cfg.Window+1 : end+1]
		ref := candles[end].Close
		ret := candles[end+cfg.Horizon].Close/ref - 1
		samples = append(samples, Sample{
			End:     end,
			Time:    candles[end].Timestamp,
			Scores:  features.Extract(window),
			Return:  ret,
			Outcome: models.DirectionOf(ret, cfg.OutcomeThreshold),
		})
	}
	return samples, nil
}

// Split separates samples into the optimizer's inputs.
func Split(samples []Sample) ([]features.Scores, []models.Direction) {
	scores := make([]features.Scores, len(samples))
	outcomes := make([]models.Direction, len(samples))
	for i, s := range samples {
		scores[i] = s.Scores
		outcomes[i] = s.Outcome
	}
	return scores, outcomes
}
