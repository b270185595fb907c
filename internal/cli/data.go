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
	"chartseer/pkg/utils"
)

// addDataCommands adds import and data.
func addDataCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newImportCmd(app))
	rootCmd.AddCommand(newDataCmd(app))
}

func newImportCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <symbol> <file.csv>",
		Short: "Import candles from a CSV file into the local store",
		Long: `Read OHLCV candles from a CSV file with a header row containing
date, open, high, low, close and volume columns, and store them for the symbol.
Malformed rows are skipped.`,
		Example: `  chartseer import AAPL ~/Downloads/AAPL.csv
  chartseer import BTC-USD btc_1h.csv --interval 1h`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmdContext(cmd), 2*time.Minute)
			defer cancel()

			symbol := strings.ToUpper(args[0])
			raw, _ := cmd.Flags().GetString("interval")
			tf, err := models.ParseTimeframe(raw)
			if err != nil {
				return err
			}

			f, err := os.Open(args[1])
			if err != nil {
				return fmt.Errorf("opening %s: %w", args[1], err)
			}
			defer f.Close()

			candles, skipped, err := datasource.ReadCSV(f)
			if err != nil {
				output.Error("Failed to read %s: %v", args[1], err)
				return err
			}
			if err := app.Store.SaveCandles(ctx, symbol, tf, candles); err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"symbol":   symbol,
					"interval": tf,
					"imported": len(candles),
					"skipped":  skipped,
				})
			}
			output.Success("✓ Imported %d %s candles for %s", len(candles), tf, symbol)
			if skipped > 0 {
				output.Warning("Skipped %d malformed rows", skipped)
			}
			return nil
		},
	}

	cmd.Flags().StringP("interval", "i", "1d", "Candle interval of the file")

	return cmd
}

func newDataCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "data <symbol>",
		Short: "Show historical OHLCV data",
		Long: `Fetch historical candles through the configured data sources.

Fetched data is cached locally for faster subsequent access.`,
		Example: `  chartseer data AAPL --period 30d
  chartseer data ETH-USD --interval 1h --last 48`,
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
			last, _ := cmd.Flags().GetInt("last")

			series, err := app.fetch(ctx, symbol, period, tf)
			if err != nil {
				output.Error("Failed to fetch %s: %v", symbol, err)
				return err
			}
			candles := series.Candles
			if last > 0 && len(candles) > last {
				candles = candles[len(candles)-last:]
			}

			if output.IsJSON() {
				return output.JSON(candles)
			}

			output.Bold("%s %s (%d candles)", symbol, tf, series.Len())
			table := NewTable(output, "Time", "Open", "High", "Low", "Close", "Volume")
			for _, c := range candles {
				table.AddRow(
					FormatDateTime(c.Timestamp),
					utils.FormatPrice(c.Open),
					utils.FormatPrice(c.High),
					utils.FormatPrice(c.Low),
					utils.FormatPrice(c.Close),
					utils.FormatCompact(c.Volume),
				)
			}
			table.Render()
			return nil
		},
	}

	seriesFlags(cmd)
	cmd.Flags().IntP("last", "n", 20, "Show only the most recent candles")

	return cmd
}
