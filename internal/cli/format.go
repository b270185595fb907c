package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"chartseer/internal/models"
	"chartseer/pkg/utils"
)

// dateLayout and timeLayout are replaced from the ui config at startup.
var (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// FormatDirection formats a direction with an arrow.
func FormatDirection(d models.Direction) string {
	switch d {
	case models.Bullish:
		return "↑ " + strings.ToUpper(string(d))
	case models.Bearish:
		return "↓ " + strings.ToUpper(string(d))
	default:
		return "→ " + strings.ToUpper(string(models.Neutral))
	}
}

// FormatConfidence formats a [0,1] confidence as a percentage.
func FormatConfidence(conf float64) string {
	return fmt.Sprintf("%.0f%%", conf*100)
}

// FormatSignalScore formats a [0,1] signal score.
func FormatSignalScore(score float64) string {
	return fmt.Sprintf("%.3f", score)
}

// FormatDate formats a date.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(dateLayout)
}

// FormatDateTime formats a timestamp, dropping the clock for midnight bars.
func FormatDateTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
		return t.Format(dateLayout)
	}
	return t.Format(dateLayout + " " + timeLayout)
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

// FormatOHLC formats a candle's prices.
func FormatOHLC(c models.Candle) string {
	return fmt.Sprintf("O: %s  H: %s  L: %s  C: %s",
		utils.FormatPrice(c.Open), utils.FormatPrice(c.High), utils.FormatPrice(c.Low), utils.FormatPrice(c.Close))
}

// SortedKeys returns a map's keys in order, for stable signal listings.
func SortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// TruncateString truncates a string to max length with ellipsis.
func TruncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// PadRight pads a string to the right.
func PadRight(s string, length int) string {
	if n := visibleLen(s); n < length {
		return s + strings.Repeat(" ", length-n)
	}
	return s
}
