package models

// Normalize converts the accepted candle containers into one canonical slice.
// It accepts []Candle, Series, *Series, Window, *Window and any CandleSource.
// Candles violating their invariants are dropped; the second return value
// counts how many were skipped. Unknown inputs yield an empty slice.
func Normalize(input interface{}) ([]Candle, int) {
	var raw []Candle
	switch v := input.(type) {
	case nil:
		return nil, 0
	case []Candle:
		raw = v
	case *Series:
		if v == nil {
			return nil, 0
		}
		raw = v.Candles
	case *Window:
		if v == nil {
			return nil, 0
		}
		raw = v.Candles
	case CandleSource:
		raw = v.CandleSlice()
	default:
		return nil, 0
	}

	skipped := 0
	out := make([]Candle, 0, len(raw))
	for _, c := range raw {
		if !c.IsValid() {
			skipped++
			continue
		}
		out = append(out, c)
	}
	return out, skipped
}
