package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"chartseer/internal/datasource"
	"chartseer/internal/models"
	"chartseer/internal/store"
	"chartseer/pkg/utils"
)

// addPredictionCommands adds predict, forecast and history.
func addPredictionCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newPredictCmd(app))
	rootCmd.AddCommand(newForecastCmd(app))
	rootCmd.AddCommand(newHistoryCmd(app))
}

// seriesFlags registers the flags shared by commands that fetch a series.
func seriesFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("interval", "i", "1d", "Candle interval (1m, 5m, 15m, 30m, 1h, 4h, 1d, 1wk, 1mo)")
	cmd.Flags().StringP("period", "p", "", "History period, e.g. 6mo, 1y, 30d (default from config)")
}

func readSeriesFlags(cmd *cobra.Command) (string, models.Timeframe, error) {
	period, _ := cmd.Flags().GetString("period")
	raw, _ := cmd.Flags().GetString("interval")
	tf, err := models.ParseTimeframe(raw)
	if err != nil {
		return "", "", err
	}
	return period, tf, nil
}

func newPredictCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict <symbol>",
		Short: "Predict the next move of a symbol",
		Long: `Fetch the symbol's history and predict the direction of the next move.

The most recent window is compared against history for similar shapes and
analyzed for wave structure, candlestick patterns and trend. The evidence is
combined with the learned Bayesian model and feature weights.`,
		Example: `  chartseer predict AAPL
  chartseer predict BTC-USD --interval 4h --period 90d --window 40
  chartseer predict MSFT --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmdContext(cmd), 60*time.Second)
			defer cancel()

			symbol := strings.ToUpper(args[0])
			period, tf, err := readSeriesFlags(cmd)
			if err != nil {
				return err
			}
			window, _ := cmd.Flags().GetInt("window")

			p, err := app.Service.PredictSymbol(ctx, symbol, period, tf, window)
			if err != nil {
				output.Error("Prediction failed: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(p)
			}
			displayPrediction(output, p)
			return nil
		},
	}

	seriesFlags(cmd)
	cmd.Flags().IntP("window", "w", 0, "Window size in candles (default from config)")

	return cmd
}

func displayPrediction(output *Output, p *models.Prediction) {
	output.Box(fmt.Sprintf("%s %s", p.Symbol, p.Timeframe), []string{
		fmt.Sprintf("Direction:   %s", output.Direction(p.Direction)),
		fmt.Sprintf("Prediction:  %s", p.Label),
		fmt.Sprintf("Confidence:  %s", output.BoldText(FormatConfidence(p.Confidence))),
		fmt.Sprintf("Weighted:    %s", FormatSignalScore(p.WeightedPrediction)),
		fmt.Sprintf("Reference:   %s @ %s", utils.FormatPrice(p.ReferencePrice), FormatDateTime(p.ReferenceTime)),
	})
	output.Println()

	if len(p.Signals) > 0 {
		table := NewTable(output, "Signal", "Score")
		for _, name := range SortedKeys(p.Signals) {
			table.AddRow(name, FormatSignalScore(p.Signals[name]))
		}
		table.Render()
		output.Println()
	}

	output.Dim("%s", p.Rationale)
	output.Dim("id %s", p.ID)
}

func newForecastCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forecast <symbol>",
		Short: "Project synthetic candles continuing the current trend",
		Example: `  chartseer forecast AAPL --horizon 10
  chartseer forecast ETH-USD --interval 1h --out eth_forecast.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmdContext(cmd), 60*time.Second)
			defer cancel()

			symbol := strings.ToUpper(args[0])
			period, tf, err := readSeriesFlags(cmd)
			if err != nil {
				return err
			}
			horizon, _ := cmd.Flags().GetInt("horizon")
			windowSize, _ := cmd.Flags().GetInt("window")
			if windowSize <= 0 {
				windowSize = app.Config.Analysis.WindowSize
			}
			outPath, _ := cmd.Flags().GetString("out")

			series, err := app.fetch(ctx, symbol, period, tf)
			if err != nil {
				output.Error("Failed to fetch %s: %v", symbol, err)
				return err
			}
			projected, err := app.Service.ProjectForecast(models.CurrentWindow(series, windowSize), horizon)
			if err != nil {
				return err
			}

			if outPath != "" {
				if err := writeCandles(outPath, projected); err != nil {
					return err
				}
			}

			if output.IsJSON() {
				return output.JSON(projected)
			}

			last, _ := series.Last()
			output.Bold("%s forecast from %s (%s)", symbol, utils.FormatPrice(last.Close), FormatDateTime(last.Timestamp))
			table := NewTable(output, "Time", "Open", "High", "Low", "Close", "Change")
			for _, c := range projected {
				table.AddRow(
					FormatDateTime(c.Timestamp),
					utils.FormatPrice(c.Open),
					utils.FormatPrice(c.High),
					utils.FormatPrice(c.Low),
					utils.FormatPrice(c.Close),
					output.FormatPercent(c.Close/last.Close-1),
				)
			}
			table.Render()
			if outPath != "" {
				output.Success("✓ Wrote %d candles to %s", len(projected), outPath)
			}
			return nil
		},
	}

	seriesFlags(cmd)
	cmd.Flags().IntP("horizon", "n", 0, "Number of candles to project (default from config)")
	cmd.Flags().IntP("window", "w", 0, "Window size in candles (default from config)")
	cmd.Flags().StringP("out", "o", "", "Also write the projection to this CSV file")

	return cmd
}

func writeCandles(path string, candles []models.Candle) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()
	return datasource.WriteCSV(f, candles)
}

func newHistoryCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List logged predictions and their outcomes",
		Example: `  chartseer history
  chartseer history --symbol AAPL --open`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			symbol, _ := cmd.Flags().GetString("symbol")
			limit, _ := cmd.Flags().GetInt("limit")
			open, _ := cmd.Flags().GetBool("open")

			preds, err := app.Service.History(cmdContext(cmd), store.PredictionFilter{
				Symbol:     strings.ToUpper(symbol),
				Limit:      limit,
				Unresolved: open,
			})
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(preds)
			}
			if len(preds) == 0 {
				output.Info("No predictions logged yet.")
				return nil
			}

			table := NewTable(output, "Created", "Symbol", "TF", "Direction", "Conf", "Outcome")
			hits, resolved := 0, 0
			for _, p := range preds {
				outcome := output.DimText("pending")
				if p.Resolved() {
					resolved++
					outcome = output.Direction(p.Outcome)
					if p.Outcome == p.Direction {
						hits++
					}
				}
				table.AddRow(
					FormatDateTime(p.CreatedAt),
					p.Symbol,
					string(p.Timeframe),
					output.Direction(p.Direction),
					FormatConfidence(p.Confidence),
					outcome,
				)
			}
			table.Render()
			if resolved > 0 {
				output.Println()
				output.Printf("Resolved %d, correct %d (%s)\n", resolved, hits, utils.FormatRatio(float64(hits)/float64(resolved)))
			}
			return nil
		},
	}

	cmd.Flags().StringP("symbol", "s", "", "Only this symbol")
	cmd.Flags().IntP("limit", "l", 20, "Maximum number of predictions")
	cmd.Flags().Bool("open", false, "Only predictions whose outcome is pending")

	return cmd
}

// cmdContext returns the command's context, or background when unset.
func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
