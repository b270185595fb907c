// Package optimizer tunes the feature weight vector with a genetic search
// against historical feature/outcome pairs.
//
// Fitness is the fraction of samples where a weighted score above 0.5
// coincides with an upward outcome. The threshold discards score magnitude;
// it is kept as is because changing it changes the learned weights.
package optimizer

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chartseer/internal/analysis/features"
	apperrors "chartseer/internal/errors"
	"chartseer/internal/models"
	"chartseer/internal/store"
)

// MinSamples is the number of usable pairs required before optimizing.
const MinSamples = 10

// Params configures the genetic search.
type Params struct {
	PopulationSize int     `mapstructure:"population_size" default:"50" validate:"min=4"`
	Generations    int     `mapstructure:"generations" default:"30" validate:"min=1"`
	CrossoverRate  float64 `mapstructure:"crossover_rate" default:"0.7" validate:"gte=0,lte=1"`
	MutationRate   float64 `mapstructure:"mutation_rate" default:"0.1" validate:"gte=0,lte=1"`
	Patience       int     `mapstructure:"patience" default:"5" validate:"min=1"`
	TournamentSize int     `mapstructure:"tournament_size" default:"3" validate:"min=1"`
	EliteFraction  float64 `mapstructure:"elite_fraction" default:"0.1" validate:"gte=0,lt=1"`
	// Seed fixes the random source; zero seeds from the clock.
	Seed int64 `mapstructure:"seed" default:"0"`
}

// DefaultParams returns the default search parameters.
func DefaultParams() Params {
	return Params{
		PopulationSize: 50,
		Generations:    30,
		CrossoverRate:  0.7,
		MutationRate:   0.1,
		Patience:       5,
		TournamentSize: 3,
		EliteFraction:  0.1,
	}
}

// Result describes one optimization run.
type Result struct {
	RunID       string       `json:"run_id"`
	Weights     WeightVector `json:"weights"`
	Fitness     float64      `json:"fitness"`
	Baseline    float64      `json:"baseline_fitness"`
	Generations int          `json:"generations"`
	Samples     int          `json:"samples"`
	Improved    bool         `json:"improved"`
	Recovered   bool         `json:"recovered,omitempty"`
}

type sample struct {
	scores features.Scores
	up     bool
}

type individual struct {
	weights WeightVector
	fitness float64
}

// Optimizer owns the current best weight vector. Best is safe for
// concurrent readers; Optimize runs one search at a time.
type Optimizer struct {
	runMu sync.Mutex

	mu   sync.RWMutex
	best WeightVector

	params Params
	rng    *rand.Rand
	logger zerolog.Logger

	// evaluate is the fitness function; replaced in tests.
	evaluate func(WeightVector, []sample) float64
}

// New creates an optimizer starting from the default weights.
func New(params Params, logger zerolog.Logger) *Optimizer {
	def := DefaultParams()
	if params.PopulationSize <= 0 {
		params.PopulationSize = def.PopulationSize
	}
	if params.Generations <= 0 {
		params.Generations = def.Generations
	}
	if params.Patience <= 0 {
		params.Patience = def.Patience
	}
	if params.TournamentSize <= 0 {
		params.TournamentSize = def.TournamentSize
	}
	seed := params.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Optimizer{
		best:     DefaultWeights(),
		params:   params,
		rng:      rand.New(rand.NewSource(seed)),
		logger:   logger,
		evaluate: fitness,
	}
}

// Best returns a copy of the current best weights.
func (o *Optimizer) Best() WeightVector {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.best.Clone()
}

// SetBest replaces the current weights after validating them.
func (o *Optimizer) SetBest(w WeightVector) error {
	if err := w.Validate(); err != nil {
		return apperrors.NewValidationError("weights", w, err.Error())
	}
	o.mu.Lock()
	o.best = w.Clone()
	o.mu.Unlock()
	return nil
}

// Optimize searches for weights that best separate up from down outcomes.
// Pairs with a neutral outcome are ignored. With fewer than MinSamples pairs
// the current best is returned unchanged. A panic during the search is
// recovered and the last known good weights are returned.
func (o *Optimizer) Optimize(patterns []features.Scores, outcomes []models.Direction) (res Result) {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	lastGood := o.Best()
	res = Result{RunID: uuid.NewString(), Weights: lastGood}
	log := o.logger.With().Str("run_id", res.RunID).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Weight optimization failed, keeping last good weights")
			res = Result{RunID: res.RunID, Weights: lastGood.Clone(), Samples: res.Samples, Recovered: true}
		}
	}()

	samples := pairSamples(patterns, outcomes)
	res.Samples = len(samples)
	if len(samples) < MinSamples {
		log.Debug().Int("samples", len(samples)).Msg("Not enough samples to optimize")
		return res
	}

	baseline := o.evaluate(lastGood, samples)
	res.Baseline = baseline
	res.Fitness = baseline

	population := o.initialPopulation(lastGood, samples)
	sortByFitness(population)
	best := population[0]

	stale := 0
	generation := 0
	for generation < o.params.Generations {
		generation++
		population = o.nextGeneration(population, samples)
		sortByFitness(population)

		if population[0].fitness > best.fitness {
			best = population[0]
			stale = 0
		} else {
			stale++
		}
		if stale >= o.params.Patience {
			log.Debug().Int("generation", generation).Msg("Early stop, no improvement")
			break
		}
	}

	res.Generations = generation
	if best.fitness > baseline {
		res.Weights = best.weights.Clone()
		res.Fitness = best.fitness
		res.Improved = true

		o.mu.Lock()
		o.best = best.weights.Clone()
		o.mu.Unlock()
	}
	return res
}

func pairSamples(patterns []features.Scores, outcomes []models.Direction) []sample {
	n := len(patterns)
	if len(outcomes) < n {
		n = len(outcomes)
	}
	samples := make([]sample, 0, n)
	for i := 0; i < n; i++ {
		if patterns[i] == nil || outcomes[i] == models.Neutral {
			continue
		}
		samples = append(samples, sample{scores: patterns[i], up: outcomes[i] == models.Bullish})
	}
	return samples
}

// fitness is the share of samples whose thresholded score agrees with the
// realized direction.
func fitness(w WeightVector, samples []sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	hits := 0
	for _, s := range samples {
		if (w.Score(s.scores) > 0.5) == s.up {
			hits++
		}
	}
	return float64(hits) / float64(len(samples))
}

func (o *Optimizer) initialPopulation(seed WeightVector, samples []sample) []individual {
	pop := make([]individual, 0, o.params.PopulationSize)
	pop = append(pop, individual{weights: seed.Clone(), fitness: o.evaluate(seed, samples)})
	for len(pop) < o.params.PopulationSize {
		w := o.randomVector()
		pop = append(pop, individual{weights: w, fitness: o.evaluate(w, samples)})
	}
	return pop
}

// nextGeneration keeps the elite unchanged and fills the rest through
// tournament selection, crossover and mutation. The population must be
// sorted by fitness.
func (o *Optimizer) nextGeneration(pop []individual, samples []sample) []individual {
	eliteCount := int(float64(len(pop))*o.params.EliteFraction + 0.5)
	if eliteCount < 1 {
		eliteCount = 1
	}

	next := make([]individual, 0, len(pop))
	for i := 0; i < eliteCount && i < len(pop); i++ {
		next = append(next, pop[i])
	}

	for len(next) < len(pop) {
		parent := o.tournament(pop)
		child := parent.weights.Clone()
		if o.rng.Float64() < o.params.CrossoverRate {
			child = o.crossover(parent.weights, o.tournament(pop).weights)
		}
		if o.rng.Float64() < o.params.MutationRate {
			child = o.mutate(child)
		}
		next = append(next, individual{weights: child, fitness: o.evaluate(child, samples)})
	}
	return next
}

func (o *Optimizer) tournament(pop []individual) individual {
	best := pop[o.rng.Intn(len(pop))]
	for i := 1; i < o.params.TournamentSize; i++ {
		c := pop[o.rng.Intn(len(pop))]
		if c.fitness > best.fitness {
			best = c
		}
	}
	return best
}

// randomVector draws uniform weights and normalizes them onto the simplex.
func (o *Optimizer) randomVector() WeightVector {
	w := make(WeightVector, len(features.Names))
	for _, name := range features.Names {
		w[name] = o.rng.Float64()
	}
	return w.Normalize()
}

// crossover cuts the ordered feature list at a random index, taking the
// prefix from a and the suffix from b.
func (o *Optimizer) crossover(a, b WeightVector) WeightVector {
	cut := o.rng.Intn(len(features.Names))
	child := make(WeightVector, len(features.Names))
	for i, name := range features.Names {
		if i < cut {
			child[name] = a[name]
		} else {
			child[name] = b[name]
		}
	}
	return child.Normalize()
}

// mutate scales one random weight by a factor in [0.8, 1.2].
func (o *Optimizer) mutate(w WeightVector) WeightVector {
	out := w.Clone()
	name := features.Names[o.rng.Intn(len(features.Names))]
	out[name] *= 0.8 + 0.4*o.rng.Float64()
	return out.Normalize()
}

func sortByFitness(pop []individual) {
	sort.SliceStable(pop, func(i, j int) bool { return pop[i].fitness > pop[j].fitness })
}

// Save persists the current weights under the weight_vector key.
func (o *Optimizer) Save(ctx context.Context, blobs store.BlobStore) error {
	data, err := json.Marshal(o.Best())
	if err != nil {
		return fmt.Errorf("failed to encode weights: %w", err)
	}
	if err := blobs.SaveBlob(ctx, store.KeyWeightVector, data); err != nil {
		return fmt.Errorf("failed to save weights: %w", err)
	}
	return nil
}

// Restore loads persisted weights if present. Absent or corrupt state keeps
// the current weights and is only logged.
func (o *Optimizer) Restore(ctx context.Context, blobs store.BlobStore) {
	data, ok, err := blobs.LoadBlob(ctx, store.KeyWeightVector)
	if err != nil {
		o.logger.Warn().Err(err).Msg("Could not read weights, using defaults")
		return
	}
	if !ok {
		o.logger.Debug().Msg("No persisted weights, using defaults")
		return
	}
	if err := o.Load(data); err != nil {
		o.logger.Warn().Err(err).Msg("Discarding persisted weights")
	}
}

// Load replaces the weights with serialized ones. Invalid data leaves the
// current weights untouched and returns an error wrapping
// ErrPersistenceCorrupt.
func (o *Optimizer) Load(data []byte) error {
	var w WeightVector
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("weights: %v: %w", err, apperrors.ErrPersistenceCorrupt)
	}
	if err := w.Validate(); err != nil {
		return fmt.Errorf("weights: %v: %w", err, apperrors.ErrPersistenceCorrupt)
	}
	o.mu.Lock()
	o.best = w
	o.mu.Unlock()
	return nil
}
