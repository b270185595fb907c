package prediction

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"chartseer/internal/analysis"
	"chartseer/internal/analysis/bayes"
	"chartseer/internal/analysis/features"
	"chartseer/internal/analysis/patterns"
	"chartseer/internal/analysis/similarity"
	"chartseer/internal/logging"
	"chartseer/internal/models"
)

// Signal names used in Prediction.Signals and failure metrics.
const (
	SignalSimilarity = "similarity"
	SignalWave       = "wave"
	SignalPatterns   = "patterns"
	SignalTrend      = "trend"
	SignalBayes      = "bayes"
	SignalFeatures   = "features"
)

// signals collects the raw outputs of every analysis for one window.
type signals struct {
	matches   []similarity.Match
	consensus similarity.Consensus
	wave      analysis.WaveAssessment
	candles   []analysis.PatternMatch
	summary   analysis.PatternSummary
	trend     analysis.TrendAnalysis
	posterior bayes.Posterior
	scores    features.Scores
	featureWS float64
	evidence  []bayes.Evidence
	failed    []string
}

// Predict analyzes the window against the full series and returns one
// prediction. Only a window without usable candles is an error; failing
// signals fall back to neutral values.
func (s *Service) Predict(ctx context.Context, window models.Window, full models.Series) (*models.Prediction, error) {
	candles, err := usableCandles(window)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	log := logging.WithOperation(logging.WithSymbol(s.logger, full.Symbol), "predict")

	sig := s.collect(window, candles, full)
	p := s.assemble(sig, candles)
	p.ID = uuid.NewString()
	p.Symbol = full.Symbol
	p.Timeframe = window.Timeframe
	if p.Timeframe == "" {
		p.Timeframe = full.Timeframe
	}
	last := candles[len(candles)-1]
	p.ReferenceTime = last.Timestamp
	p.ReferencePrice = last.Close

	for _, name := range sig.failed {
		if s.metrics != nil {
			s.metrics.RecordSignalFailure(name)
		}
	}
	if s.metrics != nil {
		s.metrics.RecordPrediction(string(p.Direction), p.Confidence)
	}
	s.observe("predict", start)
	logging.LogPrediction(log, p.ID, p.Symbol, string(p.Direction), p.Confidence, p.WeightedPrediction)

	if s.predictions != nil {
		if err := s.predictions.SavePrediction(ctx, p); err != nil {
			log.Warn().Err(err).Msg("Failed to log prediction")
		}
	}
	return p, nil
}

// collect runs every analysis. A panicking analysis is recorded as failed and
// replaced by its neutral value.
func (s *Service) collect(window models.Window, candles []models.Candle, full models.Series) signals {
	var sig signals
	win := models.Window{Candles: candles, Timeframe: window.Timeframe, Start: window.Start}

	if !s.guard(&sig, SignalSimilarity, func() {
		sig.matches = s.similarity.Search(win, full)
		sig.consensus = s.similarity.Consensus(sig.matches)
	}) {
		sig.matches = nil
		sig.consensus = similarity.Consensus{Direction: models.Neutral}
	}

	if !s.guard(&sig, SignalWave, func() { sig.wave = s.waves.Classify(candles) }) {
		sig.wave = analysis.NeutralWave()
	}

	if !s.guard(&sig, SignalPatterns, func() {
		sig.candles = s.patterns.Detect(candles)
		sig.summary = patterns.Summarize(sig.candles)
	}) {
		sig.candles = nil
		sig.summary = patterns.Summarize(nil)
	}

	if !s.guard(&sig, SignalTrend, func() { sig.trend = s.projector.AnalyzeTrend(candles) }) {
		sig.trend = analysis.TrendAnalysis{Direction: analysis.TrendSideways}
	}

	sig.evidence = buildEvidence(sig, candles)
	if !s.guard(&sig, SignalBayes, func() { sig.posterior = s.combiner.Combine(sig.evidence) }) {
		sig.posterior = bayes.Posterior{Bullish: 0.5, Bearish: 0.5, Prediction: models.Neutral}
	}

	if !s.guard(&sig, SignalFeatures, func() {
		sig.scores = features.ExtractWith(candles, sig.candles)
		sig.featureWS = s.optimizer.Best().Score(sig.scores)
	}) {
		sig.scores = features.Neutral()
		sig.featureWS = 0.5
	}
	return sig
}

func (s *Service) guard(sig *signals, name string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("signal", name).Interface("panic", r).Msg("Signal failed, using neutral default")
			sig.failed = append(sig.failed, name)
			ok = false
		}
	}()
	fn()
	return true
}

// buildEvidence lists the evidence in a fixed order so the sequential
// Bayesian update is reproducible. Signals without information are left out.
func buildEvidence(sig signals, candles []models.Candle) []bayes.Evidence {
	var ev []bayes.Evidence
	if len(sig.matches) > 0 {
		ev = append(ev, bayes.Evidence{Factor: bayes.FactorSimilarity, Number: sig.consensus.TopScore})
	}
	if sig.consensus.WithOutcome > 0 {
		ev = append(ev, bayes.Evidence{Factor: bayes.FactorAnalog, Number: sig.consensus.MeanOutcome})
	}
	ev = append(ev,
		bayes.Evidence{Factor: bayes.FactorTrend, Number: sig.trend.Signal()},
		bayes.Evidence{Factor: bayes.FactorVolume, Number: features.VolumeRatio(candles)},
	)
	if sig.wave.Detected {
		ev = append(ev, bayes.Evidence{Factor: bayes.FactorWave, Label: sig.wave.Label})
	}
	return ev
}

// assemble blends the signals into the final prediction. The Bayesian
// posterior and the weighted feature score contribute equally; the wave
// weight scales their combined deviation from 0.5.
func (s *Service) assemble(sig signals, candles []models.Candle) *models.Prediction {
	waveWeight := sig.wave.Weight
	if waveWeight <= 0 {
		waveWeight = 1
	}
	deviation := (sig.posterior.Bullish-0.5)*0.5 + (sig.featureWS-0.5)*0.5
	weighted := clamp01(0.5 + deviation*waveWeight)

	direction := models.Neutral
	switch {
	case weighted > s.cfg.BullishThreshold:
		direction = models.Bullish
	case weighted < s.cfg.BearishThreshold:
		direction = models.Bearish
	}

	var structural []float64
	if sig.wave.Detected {
		structural = append(structural, sig.wave.Confidence)
	}
	if sig.summary.Total > 0 {
		structural = append(structural, sig.summary.Confidence)
	}
	structuralConf := 0.0
	for _, c := range structural {
		structuralConf += c / float64(len(structural))
	}
	confidence := clamp01(0.5*sig.posterior.Confidence + 0.3*math.Abs(2*(sig.featureWS-0.5)) + 0.2*structuralConf)

	records := make([]models.EvidenceRecord, len(sig.evidence))
	for i, e := range sig.evidence {
		records[i] = e.Record()
	}

	return &models.Prediction{
		Confidence:         confidence,
		Label:              models.LabelFor(direction),
		Direction:          direction,
		Rationale:          rationale(sig, weighted),
		WeightedPrediction: weighted,
		Evidence:           records,
		Signals: map[string]float64{
			"bayes_bullish":      sig.posterior.Bullish,
			"bayes_confidence":   sig.posterior.Confidence,
			"feature_score":      sig.featureWS,
			"similarity_top":     sig.consensus.TopScore,
			"analog_mean_return": sig.consensus.MeanOutcome,
			"trend_signal":       sig.trend.Signal(),
			"volume_ratio":       features.VolumeRatio(candles),
			"wave_weight":        waveWeight,
			"pattern_confidence": sig.summary.Confidence,
		},
		CreatedAt: time.Now(),
	}
}

func rationale(sig signals, weighted float64) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Bayesian posterior %.1f%% bullish", sig.posterior.Bullish*100))
	if len(sig.posterior.Applied) > 0 {
		parts[0] += " from " + strings.Join(sig.posterior.Applied, ", ")
	}

	if len(sig.matches) > 0 {
		s := fmt.Sprintf("%d similar windows, best score %.2f", len(sig.matches), sig.consensus.TopScore)
		if sig.consensus.WithOutcome > 0 {
			s += fmt.Sprintf(", %d rose and %d fell afterwards (mean %+.2f%%)",
				sig.consensus.Up, sig.consensus.Down, sig.consensus.MeanOutcome*100)
		}
		parts = append(parts, s)
	} else {
		parts = append(parts, "no similar historical windows")
	}

	if sig.wave.Detected {
		parts = append(parts, fmt.Sprintf("wave %s: %s", sig.wave.Label, sig.wave.Description))
	}

	if sig.summary.Total > 0 {
		names := make([]string, 0, len(sig.candles))
		for _, m := range sig.candles {
			names = append(names, m.Name)
		}
		parts = append(parts, fmt.Sprintf("candles %s (%s)", sig.summary.Signal, strings.Join(names, ", ")))
	}

	parts = append(parts, fmt.Sprintf("trend %s, momentum %+.2f%%", sig.trend.Direction, sig.trend.Momentum*100))
	parts = append(parts, fmt.Sprintf("weighted score %.3f", weighted))

	if len(sig.failed) > 0 {
		parts = append(parts, "unavailable: "+strings.Join(sig.failed, ", "))
	}
	return strings.Join(parts, "; ")
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0.5
	}
	return math.Max(0, math.Min(1, v))
}
