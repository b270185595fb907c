package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# chartseer configuration

[analysis]
# Number of recent candles compared against history
window_size = 30
# Default number of candles to project
horizon = 5
# Default history period fetched for a prediction
period = "1y"
# Weighted prediction above / below these is bullish / bearish
bullish_threshold = 0.55
bearish_threshold = 0.45
# Realized returns smaller than this count as sideways
outcome_threshold = 0.002

[similarity]
# Distance metric: euclidean or dtw
metric = "euclidean"
max_results = 6
horizon = 5
allow_overlap = false
dtw_band = 3

[optimizer]
population_size = 50
generations = 30
crossover_rate = 0.7
mutation_rate = 0.1
patience = 5
tournament_size = 3
elite_fraction = 0.1
# 0 seeds from the clock
seed = 0

[forecast]
lookback = 20
momentum_period = 5
trend_threshold = 0.02
mean_reversion = 0.3
max_deviation = 0.05
max_step_change = 0.03
walk_noise = 0.002
seed = 0

[backtest]
window = 30
horizon = 5
step = 1
# 0 means twice the window
warmup = 0
outcome_threshold = 0.002

[storage]
# sqlite or memory
backend = "sqlite"
# Defaults to chartseer.db in this directory
sqlite_path = ""
cache_max_age = "6h"

[storage.redis]
# Leave empty to keep learned parameters in SQLite only
addr = ""
password = ""
db = 0
prefix = "chartseer:"
ttl = "24h"

[datasource]
# Sources tried in order: cache, csv, http
order = ["cache", "csv", "http"]
# Defaults to data/ in this directory; files are <SYMBOL>_<interval>.csv
csv_dir = ""

[datasource.http]
# Candle provider endpoint, e.g. https://api.example.com/v1
base_url = ""
# Prefer CHARTSEER_API_KEY in the environment
api_key = ""
timeout = "10s"
requests_per_second = 2.0
burst = 4

[datasource.http.retry]
max_attempts = 3
initial_delay = "200ms"
max_delay = "5s"
backoff_factor = 2.0

[datasource.breaker]
failure_threshold = 5
success_threshold = 2
cooldown = "30s"

[logging]
# debug, info, warn, error
level = "info"
console = true
file = false
file_path = ""
max_size = 50
max_backups = 5
max_age = 30

[metrics]
# Prometheus textfile written after each command, empty to disable
textfile = ""

[ui]
color_enabled = true
date_format = "2006-01-02"
time_format = "15:04"
`

// createTemplateConfig writes the template so the user has something to
// edit. Loading continues with defaults.
func createTemplateConfig(configDir, name string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name+".toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}
