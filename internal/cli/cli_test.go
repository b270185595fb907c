package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"chartseer/internal/datasource"
	"chartseer/internal/models"
)

func risingCandles(n int) []models.Candle {
	start := time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -n)
	out := make([]models.Candle, n)
	price := 100.0
	for i := range out {
		next := price * 1.01
		out[i] = models.Candle{
			Timestamp: start.AddDate(0, 0, i),
			Open:      price,
			High:      next * 1.002,
			Low:       price * 0.998,
			Close:     next,
			Volume:    1000 + float64(i),
		}
		price = next
	}
	return out
}

func writeCSVFile(t *testing.T, path string, candles []models.Candle) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := datasource.WriteCSV(f, candles); err != nil {
		t.Fatal(err)
	}
}

// testEnv writes a config using a temp SQLite store and a CSV directory.
func testEnv(t *testing.T) (string, *App) {
	t.Helper()
	dir := t.TempDir()
	content := `
[datasource]
order = ["cache", "csv"]

[logging]
console = false
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	app := &App{Logger: zerolog.Nop()}
	t.Cleanup(app.Close)
	return dir, app
}

func run(t *testing.T, app *App, args ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	root := NewRootCmd(app)
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		t.Fatalf("%v: %v\n%s", args, err, buf.String())
	}
	return buf.Bytes()
}

func TestPredictAndHistoryCommands(t *testing.T) {
	dir, app := testEnv(t)
	writeCSVFile(t, filepath.Join(dir, "data", "AAPL_1d.csv"), risingCandles(120))

	var p models.Prediction
	if err := json.Unmarshal(run(t, app, "--config", dir, "predict", "aapl", "--json"), &p); err != nil {
		t.Fatalf("decode prediction: %v", err)
	}
	if p.ID == "" || p.Symbol != "AAPL" || p.Timeframe != models.TF1Day {
		t.Errorf("prediction = %+v", p)
	}
	if p.Confidence < 0 || p.Confidence > 1 || p.Direction == models.Bearish {
		t.Errorf("uptrend prediction = %s at %v", p.Direction, p.Confidence)
	}

	var history []models.Prediction
	if err := json.Unmarshal(run(t, app, "--config", dir, "history", "--json"), &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history) != 1 || history[0].ID != p.ID {
		t.Errorf("history = %+v", history)
	}

	// The newest candle is the reference, so nothing can resolve yet.
	var summary learnSummary
	if err := json.Unmarshal(run(t, app, "--config", dir, "learn", "--json"), &summary); err != nil {
		t.Fatalf("decode learn: %v", err)
	}
	if summary.Pending != 1 || summary.Resolved != 0 {
		t.Errorf("learn summary = %+v", summary)
	}
}

func TestImportThenData(t *testing.T) {
	dir, app := testEnv(t)
	file := filepath.Join(t.TempDir(), "msft.csv")
	writeCSVFile(t, file, risingCandles(40))

	var imported map[string]interface{}
	if err := json.Unmarshal(run(t, app, "--config", dir, "import", "MSFT", file, "--json"), &imported); err != nil {
		t.Fatal(err)
	}
	if imported["imported"].(float64) != 40 {
		t.Errorf("import result = %v", imported)
	}

	var candles []models.Candle
	if err := json.Unmarshal(run(t, app, "--config", dir, "data", "MSFT", "--last", "5", "--json"), &candles); err != nil {
		t.Fatal(err)
	}
	if len(candles) != 5 {
		t.Errorf("got %d candles, want 5", len(candles))
	}
}

func TestForecastWritesCSV(t *testing.T) {
	dir, app := testEnv(t)
	writeCSVFile(t, filepath.Join(dir, "data", "ETH-USD_1d.csv"), risingCandles(60))
	out := filepath.Join(t.TempDir(), "forecast.csv")

	var projected []models.Candle
	if err := json.Unmarshal(run(t, app, "--config", dir, "forecast", "eth-usd", "-n", "7", "-o", out, "--json"), &projected); err != nil {
		t.Fatal(err)
	}
	if len(projected) != 7 {
		t.Fatalf("got %d projected candles, want 7", len(projected))
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	back, skipped, err := datasource.ReadCSV(f)
	if err != nil || skipped != 0 || len(back) != 7 {
		t.Errorf("read back %d candles, %d skipped, err %v", len(back), skipped, err)
	}
}

func TestVersionSkipsInit(t *testing.T) {
	app := &App{Logger: zerolog.Nop()}
	out := run(t, app, "version", "--json")
	if !bytes.Contains(out, []byte(Version)) || app.Config != nil {
		t.Errorf("version output %s, config %v", out, app.Config)
	}
}
