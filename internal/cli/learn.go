package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"chartseer/internal/analysis/features"
	"chartseer/internal/backtest"
	"chartseer/internal/models"
	"chartseer/internal/performance"
	"chartseer/internal/prediction"
	"chartseer/internal/store"
	"chartseer/pkg/utils"
)

// addLearningCommands adds optimize, learn and backtest.
func addLearningCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newOptimizeCmd(app))
	rootCmd.AddCommand(newLearnCmd(app))
	rootCmd.AddCommand(newBacktestCmd(app))
}

func newOptimizeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "optimize <symbol> [symbol...]",
		Short: "Tune feature weights and priors on historical outcomes",
		Long: `Build labeled training samples from each symbol's history and run the
genetic weight search. Improved weights are persisted. Unless --keep-priors
is given, the Bayesian priors are reset to the observed outcome frequencies.`,
		Example: `  chartseer optimize AAPL MSFT GOOG --period 2y
  chartseer optimize BTC-USD --interval 1h --period 90d`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmdContext(cmd), 10*time.Minute)
			defer cancel()

			period, tf, err := readSeriesFlags(cmd)
			if err != nil {
				return err
			}
			keepPriors, _ := cmd.Flags().GetBool("keep-priors")

			symbols := make([]string, len(args))
			for i, arg := range args {
				symbols[i] = strings.ToUpper(arg)
			}
			batches, errs := performance.Map(ctx, 4, symbols, func(ctx context.Context, symbol string) ([]backtest.Sample, error) {
				series, err := app.fetch(ctx, symbol, period, tf)
				if err != nil {
					return nil, err
				}
				return backtest.BuildSamples(series, app.Config.Backtest)
			})

			var scores []features.Scores
			var outcomes []models.Direction
			for i, samples := range batches {
				if errs[i] != nil {
					output.Warning("Skipping %s: %v", symbols[i], errs[i])
					continue
				}
				s, o := backtest.Split(samples)
				scores = append(scores, s...)
				outcomes = append(outcomes, o...)
				app.Logger.Debug().Str("symbol", symbols[i]).Int("samples", len(samples)).Msg("Built training samples")
			}
			if len(scores) == 0 {
				return fmt.Errorf("no training samples could be built")
			}

			res, err := app.Service.OptimizeWeights(ctx, scores, outcomes)
			if err != nil {
				return err
			}
			if !keepPriors {
				if err := app.Service.CalibratePriors(ctx, outcomes); err != nil {
					return err
				}
			}

			if output.IsJSON() {
				return output.JSON(res)
			}

			output.Box("Optimization "+TruncateString(res.RunID, 8), []string{
				fmt.Sprintf("Samples:      %d", res.Samples),
				fmt.Sprintf("Generations:  %d", res.Generations),
				fmt.Sprintf("Baseline:     %s", utils.FormatRatio(res.Baseline)),
				fmt.Sprintf("Fitness:      %s", output.BoldText(utils.FormatRatio(res.Fitness))),
			})
			switch {
			case res.Recovered:
				output.Warning("Search failed, kept the previous weights")
			case res.Improved:
				output.Success("✓ Weights improved and saved")
			default:
				output.Info("No improvement over the current weights")
			}
			output.Println()

			table := NewTable(output, "Feature", "Weight")
			for _, name := range features.Names {
				table.AddRow(name, fmt.Sprintf("%.4f", res.Weights[name]))
			}
			table.Render()
			return nil
		},
	}

	seriesFlags(cmd)
	cmd.Flags().Bool("keep-priors", false, "Do not recalibrate the Bayesian priors")

	return cmd
}

// learnSummary reports what a learn run resolved.
type learnSummary struct {
	Resolved int `json:"resolved"`
	Correct  int `json:"correct"`
	Pending  int `json:"pending"`
	Failed   int `json:"failed"`
}

func newLearnCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "learn",
		Short: "Resolve past predictions and learn from their outcomes",
		Long: `Look up every logged prediction whose outcome is still pending. When the
market has moved far enough past the prediction, the realized direction is
fed back into the Bayesian likelihoods and the prediction is marked resolved.`,
		Example: `  chartseer learn
  chartseer learn --symbol AAPL`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmdContext(cmd), 5*time.Minute)
			defer cancel()

			symbol, _ := cmd.Flags().GetString("symbol")
			period, _ := cmd.Flags().GetString("period")

			open, err := app.Service.History(ctx, store.PredictionFilter{
				Symbol:     strings.ToUpper(symbol),
				Unresolved: true,
			})
			if err != nil {
				return err
			}

			summary := resolvePredictions(ctx, app, open, period)

			if output.IsJSON() {
				return output.JSON(summary)
			}
			if len(open) == 0 {
				output.Info("No pending predictions.")
				return nil
			}
			output.Success("✓ Resolved %d predictions (%d correct)", summary.Resolved, summary.Correct)
			if summary.Pending > 0 {
				output.Dim("%d still waiting for their horizon", summary.Pending)
			}
			if summary.Failed > 0 {
				output.Warning("%d could not be checked", summary.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringP("symbol", "s", "", "Only this symbol")
	cmd.Flags().StringP("period", "p", "", "History period fetched to resolve outcomes (default from config)")

	return cmd
}

// resolvePredictions fetches one series per symbol and timeframe and records
// the outcome of every prediction the series reaches past.
func resolvePredictions(ctx context.Context, app *App, open []models.Prediction, period string) learnSummary {
	groups := make(map[string][]models.Prediction)
	for _, p := range open {
		key := p.Symbol + "|" + string(p.Timeframe)
		groups[key] = append(groups[key], p)
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var summary learnSummary
	for _, key := range keys {
		preds := groups[key]
		tf := preds[0].Timeframe
		if tf == "" {
			tf = models.TF1Day
		}
		series, err := app.fetch(ctx, preds[0].Symbol, period, tf)
		if err != nil {
			app.Logger.Warn().Err(err).Str("symbol", preds[0].Symbol).Msg("Cannot resolve predictions")
			summary.Failed += len(preds)
			continue
		}
		for i := range preds {
			p := preds[i]
			outcome, ok := app.Service.ResolveOutcome(p, series, 0)
			if !ok {
				summary.Pending++
				continue
			}
			if err := app.Service.RecordOutcome(ctx, &p, outcome); err != nil {
				app.Logger.Warn().Err(err).Str("id", p.ID).Msg("Failed to record outcome")
				summary.Failed++
				continue
			}
			summary.Resolved++
			if outcome == p.Direction {
				summary.Correct++
			}
		}
	}
	return summary
}

func newBacktestCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backtest <symbol>",
		Short: "Replay predictions walk-forward over history",
		Long: `Replay the predictor over the symbol's history using only the candles
known at each step. Reports the directional hit rate and the equity curve of
holding each prediction for one candle.`,
		Example: `  chartseer backtest AAPL --period 2y
  chartseer backtest ETH-USD --interval 4h --step 3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmdContext(cmd), 30*time.Minute)
			defer cancel()

			symbol := strings.ToUpper(args[0])
			period, tf, err := readSeriesFlags(cmd)
			if err != nil {
				return err
			}
			cfg := app.Config.Backtest
			if step, _ := cmd.Flags().GetInt("step"); step > 0 {
				cfg.Step = step
			}
			if window, _ := cmd.Flags().GetInt("window"); window > 0 {
				cfg.Window = window
			}

			series, err := app.fetch(ctx, symbol, period, tf)
			if err != nil {
				output.Error("Failed to fetch %s: %v", symbol, err)
				return err
			}

			// Backtest predictions are not logged for learning.
			deps := app.dependencies()
			deps.Metrics = nil
			predictor := prediction.NewService(app.Config.Analysis, deps)

			res, err := backtest.NewEngine(predictor, cfg, app.Logger).Run(ctx, series)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(res)
			}
			displayBacktest(output, res)
			return nil
		},
	}

	seriesFlags(cmd)
	cmd.Flags().Int("step", 0, "Candles between evaluations (default from config)")
	cmd.Flags().IntP("window", "w", 0, "Window size in candles (default from config)")

	return cmd
}

func displayBacktest(output *Output, res *backtest.Result) {
	output.Box("Backtest "+res.Symbol, []string{
		fmt.Sprintf("Evaluated:     %d", res.Evaluated),
		fmt.Sprintf("Coverage:      %s", utils.FormatRatio(res.Coverage)),
		fmt.Sprintf("Hit rate:      %s (%d/%d)", output.BoldText(utils.FormatRatio(res.HitRate)), res.Hits, res.Directional),
		fmt.Sprintf("Confidence:    %s", FormatConfidence(res.MeanConfidence)),
		fmt.Sprintf("Total return:  %s", output.FormatPercent(res.TotalReturn)),
		fmt.Sprintf("Max drawdown:  %s", utils.FormatRatio(res.MaxDrawdown)),
		fmt.Sprintf("Sharpe:        %.2f", res.SharpeRatio),
	})
	output.Println()

	dirs := []models.Direction{models.Bullish, models.Neutral, models.Bearish}
	table := NewTable(output, "Predicted \\ Actual", "bullish", "neutral", "bearish")
	for _, p := range dirs {
		row := []string{string(p)}
		for _, a := range dirs {
			row = append(row, fmt.Sprintf("%d", res.Confusion[p][a]))
		}
		table.AddRow(row...)
	}
	table.Render()
	output.Println()

	output.Println(backtest.EquityChart(res, 60, 12))
}
