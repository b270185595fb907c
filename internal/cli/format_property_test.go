package cli

import (
	"testing"
	"time"
	"unicode/utf8"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"chartseer/internal/models"
)

// Property: truncation never exceeds the limit and padding never shortens.
func TestProperty_TruncateAndPad(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())
	properties := gopter.NewProperties(parameters)

	properties.Property("TruncateString respects the limit", prop.ForAll(
		func(s string, maxLen int) bool {
			out := TruncateString(s, maxLen)
			n := utf8.RuneCountInString(s)
			if n <= maxLen {
				return out == s
			}
			return utf8.RuneCountInString(out) == maxLen
		},
		gen.AnyString(),
		gen.IntRange(0, 40),
	))

	properties.Property("PadRight reaches the requested width", prop.ForAll(
		func(s string, length int) bool {
			out := PadRight(s, length)
			n := visibleLen(s)
			if n >= length {
				return out == s
			}
			return visibleLen(out) == length
		},
		gen.AlphaString(),
		gen.IntRange(0, 40),
	))

	properties.TestingRun(t)
}

func TestFormatExamples(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"confidence", FormatConfidence(0.734), "73%"},
		{"signal", FormatSignalScore(0.5), "0.500"},
		{"bullish", FormatDirection(models.Bullish), "↑ BULLISH"},
		{"bearish", FormatDirection(models.Bearish), "↓ BEARISH"},
		{"neutral", FormatDirection(""), "→ NEUTRAL"},
		{"date only", FormatDateTime(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)), "2024-05-01"},
		{"intraday", FormatDateTime(time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)), "2024-05-01 09:30"},
		{"zero time", FormatDate(time.Time{}), "-"},
		{"millis", FormatDuration(250 * time.Millisecond), "250ms"},
		{"minutes", FormatDuration(90 * time.Second), "1m 30s"},
		{"ansi stripped", stripANSI("\x1b[32mup\x1b[0m"), "up"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}
