package models

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe is the candle interval, e.g. "5m", "1h", "1d".
type Timeframe string

const (
	TF1Min   Timeframe = "1m"
	TF5Min   Timeframe = "5m"
	TF15Min  Timeframe = "15m"
	TF30Min  Timeframe = "30m"
	TF1Hour  Timeframe = "1h"
	TF4Hour  Timeframe = "4h"
	TF1Day   Timeframe = "1d"
	TF1Week  Timeframe = "1wk"
	TF1Month Timeframe = "1mo"
)

// TimeframeUnit groups timeframes by their base unit.
type TimeframeUnit string

const (
	UnitMinutes TimeframeUnit = "minutes"
	UnitHours   TimeframeUnit = "hours"
	UnitDays    TimeframeUnit = "days"
)

var timeframeDurations = map[Timeframe]time.Duration{
	TF1Min:   time.Minute,
	TF5Min:   5 * time.Minute,
	TF15Min:  15 * time.Minute,
	TF30Min:  30 * time.Minute,
	TF1Hour:  time.Hour,
	TF4Hour:  4 * time.Hour,
	TF1Day:   24 * time.Hour,
	TF1Week:  7 * 24 * time.Hour,
	TF1Month: 30 * 24 * time.Hour,
}

var timeframeAliases = map[string]Timeframe{
	"1min": TF1Min, "5min": TF5Min, "15min": TF15Min, "30min": TF30Min,
	"60m": TF1Hour, "1hour": TF1Hour, "4hour": TF4Hour,
	"1day": TF1Day, "day": TF1Day, "d": TF1Day,
	"1w": TF1Week, "week": TF1Week, "1month": TF1Month,
}

// ParseTimeframe normalizes a timeframe string.
func ParseTimeframe(s string) (Timeframe, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	tf := Timeframe(s)
	if _, ok := timeframeDurations[tf]; ok {
		return tf, nil
	}
	if alias, ok := timeframeAliases[s]; ok {
		return alias, nil
	}
	return "", fmt.Errorf("unknown timeframe %q", s)
}

// Duration returns the length of one candle. Unknown timeframes report one day.
func (tf Timeframe) Duration() time.Duration {
	if d, ok := timeframeDurations[tf]; ok {
		return d
	}
	return 24 * time.Hour
}

// Unit returns the base unit of the timeframe.
func (tf Timeframe) Unit() TimeframeUnit {
	d := tf.Duration()
	switch {
	case d < time.Hour:
		return UnitMinutes
	case d < 24*time.Hour:
		return UnitHours
	default:
		return UnitDays
	}
}

// ParsePeriod converts a lookback period like "5d", "3mo", "1y" or "max" into a duration.
func ParsePeriod(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "max" {
		return 50 * 365 * 24 * time.Hour, nil
	}
	var n int
	var unit string
	if _, err := fmt.Sscanf(s, "%d%s", &n, &unit); err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid period %q", s)
	}
	day := 24 * time.Hour
	switch unit {
	case "d":
		return time.Duration(n) * day, nil
	case "w", "wk":
		return time.Duration(n) * 7 * day, nil
	case "mo":
		return time.Duration(n) * 30 * day, nil
	case "y":
		return time.Duration(n) * 365 * day, nil
	default:
		return 0, fmt.Errorf("invalid period unit %q", unit)
	}
}
