package backtest

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	apperrors "chartseer/internal/errors"
	"chartseer/internal/models"
)

// Predictor produces a prediction from a window and the history up to it.
type Predictor interface {
	Predict(ctx context.Context, window models.Window, full models.Series) (*models.Prediction, error)
}

// Engine runs walk-forward evaluations. The predictor only ever sees
// candles up to the evaluation point.
type Engine struct {
	predictor Predictor
	cfg       Config
	logger    zerolog.Logger
}

// NewEngine creates a walk-forward engine.
func NewEngine(predictor Predictor, cfg Config, logger zerolog.Logger) *Engine {
	return &Engine{
		predictor: predictor,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

// Step is one evaluated prediction.
type Step struct {
	Time       time.Time        `json:"time"`
	Predicted  models.Direction `json:"predicted"`
	Confidence float64          `json:"confidence"`
	Actual     models.Direction `json:"actual"`
	Return     float64          `json:"return"`
}

// EquityPoint represents a point on the equity curve.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// Result summarizes a walk-forward run.
type Result struct {
	Symbol    string `json:"symbol"`
	Evaluated int    `json:"evaluated"`
	// Directional counts non-neutral predictions; Hits those whose direction
	// matched the realized move.
	Directional int     `json:"directional"`
	Hits        int     `json:"hits"`
	HitRate     float64 `json:"hit_rate"`
	Coverage    float64 `json:"coverage"`
	// Confusion counts predictions by predicted then actual direction.
	Confusion      map[models.Direction]map[models.Direction]int `json:"confusion"`
	MeanConfidence float64                                       `json:"mean_confidence"`
	TotalReturn    float64                                       `json:"total_return"`
	MaxDrawdown    float64                                       `json:"max_drawdown"`
	SharpeRatio    float64                                       `json:"sharpe_ratio"`
	Steps          []Step                                        `json:"steps,omitempty"`
	EquityCurve    []EquityPoint                                 `json:"equity_curve,omitempty"`
}

// Run replays the predictor over the series. Each prediction holds a
// position in its direction for the next candle to build the equity curve;
// the hit rate is measured against the move Horizon candles later.
func (e *Engine) Run(ctx context.Context, series models.Series) (*Result, error) {
	candles, _ := models.Normalize(series)
	need := e.cfg.Warmup + e.cfg.Horizon
	if len(candles) < need {
		return nil, apperrors.InsufficientData("backtest", need, len(candles))
	}

	res := &Result{
		Symbol:    series.Symbol,
		Confusion: make(map[models.Direction]map[models.Direction]int),
	}
	equity, peak := 1.0, 1.0
	var stepReturns []float64
	var confSum float64

	for end := e.cfg.Warmup - 1; end+e.cfg.Horizon < len(candles); end += e.cfg.Step {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		history := models.Series{Symbol: series.Symbol, Timeframe: series.Timeframe, Candles: candles[:end+1]}
		p, err := e.predictor.Predict(ctx, models.CurrentWindow(history, e.cfg.Window), history)
		if err != nil {
			return nil, fmt.Errorf("predict at %s: %w", candles[end].Timestamp.Format(time.RFC3339), err)
		}

		ref := candles[end].Close
		ret := candles[end+e.cfg.Horizon].Close/ref - 1
		actual := models.DirectionOf(ret, e.cfg.OutcomeThreshold)

		res.Evaluated++
		confSum += p.Confidence
		if res.Confusion[p.Direction] == nil {
			res.Confusion[p.Direction] = make(map[models.Direction]int)
		}
		res.Confusion[p.Direction][actual]++
		if p.Direction != models.Neutral {
			res.Directional++
			if p.Direction == actual {
				res.Hits++
			}
		}
		res.Steps = append(res.Steps, Step{
			Time:       candles[end].Timestamp,
			Predicted:  p.Direction,
			Confidence: p.Confidence,
			Actual:     actual,
			Return:     ret,
		})

		next := candles[end+1].Close/ref - 1
		stepReturn := position(p.Direction) * next
		stepReturns = append(stepReturns, stepReturn)
		equity *= 1 + stepReturn
		if equity > peak {
			peak = equity
		}
		if dd := (peak - equity) / peak; dd > res.MaxDrawdown {
			res.MaxDrawdown = dd
		}
		res.EquityCurve = append(res.EquityCurve, EquityPoint{Timestamp: candles[end+1].Timestamp, Equity: equity})
	}

	if res.Evaluated > 0 {
		res.Coverage = float64(res.Directional) / float64(res.Evaluated)
		res.MeanConfidence = confSum / float64(res.Evaluated)
	}
	if res.Directional > 0 {
		res.HitRate = float64(res.Hits) / float64(res.Directional)
	}
	res.TotalReturn = equity - 1
	res.SharpeRatio = sharpeRatio(stepReturns, periodsPerYear(series.Timeframe))

	e.logger.Info().
		Str("symbol", series.Symbol).
		Int("evaluated", res.Evaluated).
		Float64("hit_rate", res.HitRate).
		Float64("total_return", res.TotalReturn).
		Msg("Backtest completed")
	return res, nil
}

func position(d models.Direction) float64 {
	switch d {
	case models.Bullish:
		return 1
	case models.Bearish:
		return -1
	default:
		return 0
	}
}

func periodsPerYear(tf models.Timeframe) float64 {
	return float64(365*24*time.Hour) / float64(tf.Duration())
}

// sharpeRatio annualizes the mean over the standard deviation of per-step
// returns. No risk-free rate is subtracted.
func sharpeRatio(returns []float64, periods float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	std := math.Sqrt(variance / float64(len(returns)))
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(periods)
}

// EquityChart renders the equity curve as an ASCII chart.
func EquityChart(res *Result, width, height int) string {
	if res == nil || len(res.EquityCurve) == 0 || width <= 0 || height <= 1 {
		return "No data to display"
	}

	lo, hi := res.EquityCurve[0].Equity, res.EquityCurve[0].Equity
	for _, p := range res.EquityCurve {
		lo = math.Min(lo, p.Equity)
		hi = math.Max(hi, p.Equity)
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}
	lo -= span * 0.05
	hi += span * 0.05
	span = hi - lo

	grid := make([][]rune, height)
	for i := range grid {
		grid[i] = []rune(strings.Repeat(" ", width))
	}

	step := len(res.EquityCurve) / width
	if step == 0 {
		step = 1
	}
	for x := 0; x < width && x*step < len(res.EquityCurve); x++ {
		y := int((res.EquityCurve[x*step].Equity - lo) / span * float64(height-1))
		if y >= 0 && y < height {
			grid[height-1-y][x] = '█'
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Equity (%.3f - %.3f)\n", lo, hi)
	sb.WriteString(strings.Repeat("─", width+2) + "\n")
	for _, row := range grid {
		sb.WriteRune('│')
		sb.WriteString(string(row))
		sb.WriteString("│\n")
	}
	sb.WriteString(strings.Repeat("─", width+2) + "\n")
	return sb.String()
}
