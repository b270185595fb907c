package datasource

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/rs/zerolog"

	apperrors "chartseer/internal/errors"
	"chartseer/internal/models"
)

// csvRow is one line of an OHLCV export. Headers are matched
// case-insensitively.
type csvRow struct {
	Date   string  `csv:"date"`
	Open   float64 `csv:"open"`
	High   float64 `csv:"high"`
	Low    float64 `csv:"low"`
	Close  float64 `csv:"close"`
	Volume float64 `csv:"volume"`
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// ReadCSV decodes OHLCV rows. Rows with unparseable dates are skipped and
// counted. The result is sorted by time.
func ReadCSV(r io.Reader) ([]models.Candle, int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, err
	}
	// gocsv matches headers exactly; exports often capitalize them.
	if nl := bytes.IndexByte(data, '\n'); nl >= 0 {
		copy(data[:nl], bytes.ToLower(data[:nl]))
	} else {
		data = bytes.ToLower(data)
	}

	var rows []*csvRow
	if err := gocsv.Unmarshal(bytes.NewReader(data), &rows); err != nil {
		return nil, 0, fmt.Errorf("decode csv: %v: %w", err, apperrors.ErrMalformedInput)
	}

	skipped := 0
	candles := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		ts, err := parseTimestamp(row.Date)
		if err != nil {
			skipped++
			continue
		}
		candles = append(candles, models.Candle{
			Timestamp: ts,
			Open:      row.Open,
			High:      row.High,
			Low:       row.Low,
			Close:     row.Close,
			Volume:    row.Volume,
		})
	}
	sort.SliceStable(candles, func(i, j int) bool { return candles[i].Timestamp.Before(candles[j].Timestamp) })
	return candles, skipped, nil
}

// WriteCSV encodes candles with the same columns ReadCSV accepts.
func WriteCSV(w io.Writer, candles []models.Candle) error {
	rows := make([]*csvRow, len(candles))
	for i, c := range candles {
		rows[i] = &csvRow{
			Date:   c.Timestamp.UTC().Format(time.RFC3339),
			Open:   c.Open,
			High:   c.High,
			Low:    c.Low,
			Close:  c.Close,
			Volume: c.Volume,
		}
	}
	return gocsv.Marshal(rows, w)
}

// CSVSource reads <dir>/<SYMBOL>_<interval>.csv files.
type CSVSource struct {
	dir    string
	logger zerolog.Logger
}

// NewCSVSource creates a CSV-backed source rooted at dir.
func NewCSVSource(dir string, logger zerolog.Logger) *CSVSource {
	return &CSVSource{dir: dir, logger: logger}
}

// Name implements Fetcher.
func (s *CSVSource) Name() string {
	return "csv"
}

// Path returns the file the source reads for a symbol and interval.
func (s *CSVSource) Path(symbol string, interval models.Timeframe) string {
	name := strings.NewReplacer("/", "-", "^", "").Replace(strings.ToUpper(symbol))
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.csv", name, interval))
}

// FetchSeries implements Fetcher. The period is measured back from the last
// row in the file, not from the current time.
func (s *CSVSource) FetchSeries(ctx context.Context, symbol, period string, interval models.Timeframe) (models.Series, error) {
	path := s.Path(symbol, interval)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return models.Series{}, fmt.Errorf("%s: %w", path, apperrors.ErrDataUnavailable)
		}
		return models.Series{}, err
	}
	defer f.Close()

	candles, badDates, err := ReadCSV(f)
	if err != nil {
		return models.Series{}, err
	}
	if len(candles) == 0 {
		return models.Series{}, fmt.Errorf("%s has no rows: %w", path, apperrors.ErrDataUnavailable)
	}

	series, invalid, err := buildSeries(symbol, interval, candles)
	if err != nil {
		return models.Series{}, err
	}
	last, ok := series.Last()
	if !ok {
		return models.Series{}, fmt.Errorf("%s has no valid rows: %w", path, apperrors.ErrDataUnavailable)
	}
	if series.Candles, err = trimToPeriod(series.Candles, period, last.Timestamp); err != nil {
		return models.Series{}, err
	}
	if badDates+invalid > 0 {
		s.logger.Warn().
			Str("file", path).
			Int("bad_dates", badDates).
			Int("invalid", invalid).
			Msg("Skipped malformed CSV rows")
	}
	return series, nil
}
