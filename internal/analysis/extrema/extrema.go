package extrema

import (
	"chartlens/internal/market"
)

type Kind string

const (
	High Kind = "high"
	Low  Kind = "low"
)

// Point is a strict local maximum or minimum of a series.
type Point struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
	Index     int     `json:"index"`
	Kind      Kind    `json:"kind"`
}

// Find returns the strict local extrema of series in index order. Index i is a High when
// every other value within [i-window, i+window] is strictly lower, a Low when strictly higher.
// Ties disqualify, so flat plateaus report nothing.
func Find(series []market.Point, window int) []Point {
	if window <= 0 || len(series) < 2*window+1 {
		return nil
	}
	var out []Point
	for i := window; i < len(series)-window; i++ {
		center := series[i].Value
		if !market.IsFinite(center) {
			continue
		}
		isHigh, isLow := true, true
		for j := i - window; j <= i+window; j++ {
			if j == i {
				continue
			}
			v := series[j].Value
			if !market.IsFinite(v) {
				isHigh, isLow = false, false
				break
			}
			if v >= center {
				isHigh = false
			}
			if v <= center {
				isLow = false
			}
			if !isHigh && !isLow {
				break
			}
		}
		switch {
		case isHigh:
			out = append(out, Point{Timestamp: series[i].Timestamp, Value: center, Index: i, Kind: High})
		case isLow:
			out = append(out, Point{Timestamp: series[i].Timestamp, Value: center, Index: i, Kind: Low})
		}
	}
	return out
}

// Highs keeps only maxima.
func Highs(points []Point) []Point { return filter(points, High) }

// Lows keeps only minima.
func Lows(points []Point) []Point { return filter(points, Low) }

func filter(points []Point, kind Kind) []Point {
	out := make([]Point, 0, len(points))
	for _, p := range points {
		if p.Kind == kind {
			out = append(out, p)
		}
	}
	return out
}

// PriceHighs finds maxima of the candle highs.
func PriceHighs(candles []market.Candle, window int) []Point {
	return Highs(Find(market.Series(candles, market.FieldHigh), window))
}

// PriceLows finds minima of the candle lows.
func PriceLows(candles []market.Candle, window int) []Point {
	return Lows(Find(market.Series(candles, market.FieldLow), window))
}

// FromCandles runs Find over one candle field.
func FromCandles(candles []market.Candle, field market.Field, window int) []Point {
	return Find(market.Series(candles, field), window)
}
