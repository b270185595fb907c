// Package bayes combines heterogeneous evidence into a bullish/bearish
// posterior through sequential Bayesian updates.
package bayes

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	apperrors "chartseer/internal/errors"
	"chartseer/internal/models"
	"chartseer/internal/store"
)

// Evidence factors understood by the combiner.
const (
	FactorSimilarity = "similarity"
	FactorTrend      = "trend"
	FactorVolume     = "volume"
	FactorWave       = "wave"
	FactorAnalog     = "analog"
)

// DefaultLearningRate is the step used by UpdateLikelihood.
const DefaultLearningRate = 0.1

const sumTolerance = 1e-6

// Pair holds P(evidence | bullish) and P(evidence | bearish), or the two
// priors. Each pair sums to 1.
type Pair struct {
	Bullish float64 `json:"bullish"`
	Bearish float64 `json:"bearish"`
}

func (p Pair) normalized() Pair {
	total := p.Bullish + p.Bearish
	if total <= 0 {
		return Pair{Bullish: 0.5, Bearish: 0.5}
	}
	return Pair{Bullish: p.Bullish / total, Bearish: p.Bearish / total}
}

func (p Pair) valid() bool {
	if p.Bullish < 0 || p.Bearish < 0 || math.IsNaN(p.Bullish) || math.IsNaN(p.Bearish) {
		return false
	}
	return math.Abs(p.Bullish+p.Bearish-1) <= sumTolerance
}

// Model is the persisted state of the combiner.
type Model struct {
	Priors      Pair            `json:"priors"`
	Likelihoods map[string]Pair `json:"likelihoods"`
}

// DefaultModel returns flat priors and the built-in likelihood table.
func DefaultModel() Model {
	return Model{
		Priors: Pair{Bullish: 0.5, Bearish: 0.5},
		Likelihoods: map[string]Pair{
			"similarity_high":   {0.6, 0.4},
			"similarity_medium": {0.5, 0.5},
			"similarity_low":    {0.4, 0.6},
			"trend_up":          {0.7, 0.3},
			"trend_down":        {0.3, 0.7},
			"trend_sideways":    {0.5, 0.5},
			"volume_high":       {0.6, 0.4},
			"volume_low":        {0.5, 0.5},
			"wave_1":            {0.6, 0.4},
			"wave_2":            {0.4, 0.6},
			"wave_3":            {0.75, 0.25},
			"wave_4":            {0.4, 0.6},
			"wave_5":            {0.55, 0.45},
			"wave_A":            {0.35, 0.65},
			"wave_B":            {0.55, 0.45},
			"wave_C":            {0.3, 0.7},
			"analog_up":         {0.65, 0.35},
			"analog_down":       {0.35, 0.65},
		},
	}
}

// Validate checks that priors and every likelihood pair sum to 1.
func (m Model) Validate() error {
	if !m.Priors.valid() {
		return fmt.Errorf("priors %+v do not form a distribution", m.Priors)
	}
	if len(m.Likelihoods) == 0 {
		return fmt.Errorf("no likelihoods")
	}
	for key, p := range m.Likelihoods {
		if !p.valid() {
			return fmt.Errorf("likelihood %s %+v does not sum to 1", key, p)
		}
	}
	return nil
}

func (m Model) clone() Model {
	out := Model{Priors: m.Priors, Likelihoods: make(map[string]Pair, len(m.Likelihoods))}
	for k, v := range m.Likelihoods {
		out.Likelihoods[k] = v
	}
	return out
}

// Evidence is one observation fed to Combine. Number carries numeric
// evidence (similarity score, trend deviation, volume ratio, analog return);
// Label carries categorical evidence such as a wave label.
type Evidence struct {
	Factor string  `json:"factor"`
	Number float64 `json:"number,omitempty"`
	Label  string  `json:"label,omitempty"`
}

// Key resolves the likelihood key for the evidence using the tier rules.
// An empty key means the evidence carries no information.
func (e Evidence) Key() (string, error) {
	switch e.Factor {
	case FactorSimilarity:
		switch {
		case e.Number > 0.7:
			return "similarity_high", nil
		case e.Number > 0.4:
			return "similarity_medium", nil
		default:
			return "similarity_low", nil
		}
	case FactorTrend:
		switch {
		case e.Number > 0.3:
			return "trend_up", nil
		case e.Number < -0.3:
			return "trend_down", nil
		default:
			return "trend_sideways", nil
		}
	case FactorVolume:
		if e.Number > 1.2 {
			return "volume_high", nil
		}
		return "volume_low", nil
	case FactorWave:
		if e.Label == "" {
			return "", nil
		}
		return "wave_" + e.Label, nil
	case FactorAnalog:
		switch {
		case e.Number > 0:
			return "analog_up", nil
		case e.Number < 0:
			return "analog_down", nil
		default:
			return "", nil
		}
	default:
		return "", apperrors.NewValidationError("factor", e.Factor, "unknown evidence factor")
	}
}

// Record converts the evidence to its model representation.
func (e Evidence) Record() models.EvidenceRecord {
	return models.EvidenceRecord{Factor: e.Factor, Number: e.Number, Label: e.Label}
}

// FromRecord converts a stored evidence record back to evidence.
func FromRecord(r models.EvidenceRecord) Evidence {
	return Evidence{Factor: r.Factor, Number: r.Number, Label: r.Label}
}

// Posterior is the result of combining evidence.
type Posterior struct {
	Bullish    float64          `json:"bullish"`
	Bearish    float64          `json:"bearish"`
	Prediction models.Direction `json:"prediction"`
	Confidence float64          `json:"confidence"`
	Applied    []string         `json:"applied,omitempty"`
	Skipped    []string         `json:"skipped,omitempty"`
}

// Combiner holds the shared probability model. Combine reads a snapshot; the
// learning paths are serialized behind the write lock.
type Combiner struct {
	mu           sync.RWMutex
	model        Model
	learningRate float64
	logger       zerolog.Logger
}

// NewCombiner creates a combiner with the default model.
func NewCombiner(logger zerolog.Logger) *Combiner {
	return &Combiner{
		model:        DefaultModel(),
		learningRate: DefaultLearningRate,
		logger:       logger,
	}
}

// Model returns a copy of the current model.
func (c *Combiner) Model() Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model.clone()
}

// Combine applies the evidence in order and returns the posterior. Unknown
// factors and keys missing from the table are skipped. With no usable
// evidence the priors are returned unchanged.
func (c *Combiner) Combine(evidence []Evidence) Posterior {
	c.mu.RLock()
	snapshot := c.model.clone()
	c.mu.RUnlock()
	priors, likelihoods := snapshot.Priors, snapshot.Likelihoods

	bull, bear := priors.Bullish, priors.Bearish
	var applied, skipped []string

	for _, ev := range evidence {
		key, err := ev.Key()
		if err != nil {
			c.logger.Warn().Err(err).Str("factor", ev.Factor).Msg("Skipping evidence")
			skipped = append(skipped, ev.Factor)
			continue
		}
		if key == "" {
			continue
		}
		l, ok := likelihoods[key]
		if !ok {
			c.logger.Warn().Str("key", key).Msg("No likelihood for evidence, skipping")
			skipped = append(skipped, key)
			continue
		}

		pe := l.Bullish*bull + l.Bearish*bear
		if pe == 0 {
			skipped = append(skipped, key)
			continue
		}
		bull = l.Bullish * bull / pe
		bear = l.Bearish * bear / pe
		applied = append(applied, key)
	}

	post := Posterior{
		Bullish:    bull,
		Bearish:    bear,
		Confidence: math.Abs(bull - bear),
		Prediction: models.Neutral,
		Applied:    applied,
		Skipped:    skipped,
	}
	switch {
	case bull > bear:
		post.Prediction = models.Bullish
	case bear > bull:
		post.Prediction = models.Bearish
	}
	return post
}

// UpdatePriors replaces the priors with the empirical bullish/bearish
// frequency of the outcomes. Neutral outcomes are ignored; an input without
// directional outcomes leaves the priors untouched.
func (c *Combiner) UpdatePriors(outcomes []models.Direction) {
	var bull, bear int
	for _, o := range outcomes {
		switch o {
		case models.Bullish:
			bull++
		case models.Bearish:
			bear++
		}
	}
	total := bull + bear
	if total == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.model.Priors = Pair{
		Bullish: float64(bull) / float64(total),
		Bearish: float64(bear) / float64(total),
	}
	c.logger.Debug().
		Float64("bullish", c.model.Priors.Bullish).
		Int("samples", total).
		Msg("Priors updated")
}

// UpdateLikelihood nudges the likelihood pair selected by the evidence
// toward the observed outcome and renormalizes it.
func (c *Combiner) UpdateLikelihood(ev Evidence, outcome models.Direction) error {
	if outcome != models.Bullish && outcome != models.Bearish {
		return nil
	}
	key, err := ev.Key()
	if err != nil {
		return err
	}
	if key == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	pair, ok := c.model.Likelihoods[key]
	if !ok {
		pair = Pair{Bullish: 0.5, Bearish: 0.5}
	}
	if outcome == models.Bullish {
		pair.Bullish += c.learningRate
	} else {
		pair.Bearish += c.learningRate
	}
	c.model.Likelihoods[key] = pair.normalized()
	return nil
}

// MarshalJSON serializes the current model.
func (c *Combiner) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Model())
}

// Load replaces the model with the serialized state. Corrupt or invalid data
// resets the model to the defaults and returns an error wrapping
// ErrPersistenceCorrupt.
func (c *Combiner) Load(data []byte) error {
	var m Model
	err := json.Unmarshal(data, &m)
	if err == nil {
		err = m.Validate()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.model = DefaultModel()
		return fmt.Errorf("bayes model: %v: %w", err, apperrors.ErrPersistenceCorrupt)
	}
	c.model = m
	return nil
}

// Save persists the model under the bayes_model key.
func (c *Combiner) Save(ctx context.Context, blobs store.BlobStore) error {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode bayes model: %w", err)
	}
	if err := blobs.SaveBlob(ctx, store.KeyBayesModel, data); err != nil {
		return fmt.Errorf("failed to save bayes model: %w", err)
	}
	return nil
}

// Restore loads the persisted model if present. Absent, unreadable or
// corrupt state leaves the defaults in place and is only logged.
func (c *Combiner) Restore(ctx context.Context, blobs store.BlobStore) {
	data, ok, err := blobs.LoadBlob(ctx, store.KeyBayesModel)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Could not read bayes model, using defaults")
		return
	}
	if !ok {
		c.logger.Debug().Msg("No persisted bayes model, using defaults")
		return
	}
	if err := c.Load(data); err != nil {
		c.logger.Warn().Err(err).Msg("Discarding persisted bayes model")
	}
}

// Keys returns the likelihood keys in sorted order.
func (m Model) Keys() []string {
	keys := make([]string, 0, len(m.Likelihoods))
	for k := range m.Likelihoods {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
