package divergence

import (
	"fmt"
	"math"
	"strings"

	"chartlens/internal/analysis/extrema"
	"chartlens/internal/market"
)

const (
	matchWindowFactor = 1.5
	volumeSpikeRatio  = 1.5
	minGapHours       = 4.0
	maxGapHours       = 48.0
	hourMs            = 3_600_000.0
)

// Detect pairs consecutive price extrema with the nearest indicator extremum of the same kind
// and reports regular and/or hidden divergences at or above opts.MinStrength.
func Detect(candles []market.Candle, indicator []market.Point, name string, opts Options) []Divergence {
	n := len(candles)
	if n < 2 || len(indicator) < 2 {
		return nil
	}
	opts = opts.Normalize()
	window := MatchingWindow(candles)
	lb := EffectiveLookback(opts.Lookback, n)

	priceRange := candleRange(candles)
	indRange := pointRange(indicator)
	avgVolume := market.AverageVolume(candles)

	indExt := extrema.Find(indicator, lb)
	indHighs, indLows := extrema.Highs(indExt), extrema.Lows(indExt)

	var out []Divergence
	scan := func(prices, inds []extrema.Point, high bool) {
		for i := 1; i < len(prices); i++ {
			prev, curr := prices[i-1], prices[i]
			ip, ok1 := nearest(inds, prev.Timestamp, window)
			ic, ok2 := nearest(inds, curr.Timestamp, window)
			if !ok1 || !ok2 {
				continue
			}
			kind, ok := classify(high, prev.Value, curr.Value, ip.Value, ic.Value)
			if !ok || !opts.Kinds.allows(kind) {
				continue
			}
			strength := Strength(prev.Value, curr.Value, ip.Value, ic.Value, priceRange, indRange)
			if strength < opts.MinStrength {
				continue
			}
			d := Divergence{
				Kind:      kind,
				Indicator: name,
				Start:     Point{Timestamp: prev.Timestamp, Price: prev.Value, IndicatorValue: ip.Value},
				End:       Point{Timestamp: curr.Timestamp, Price: curr.Value, IndicatorValue: ic.Value},
				Strength:  strength,
			}
			d.Confidence = Confidence(strength, candles[curr.Index].Volume, avgVolume, curr.Timestamp-prev.Timestamp)
			d.Description = describe(d)
			out = append(out, d)
		}
	}
	scan(extrema.PriceHighs(candles, lb), indHighs, true)
	scan(extrema.PriceLows(candles, lb), indLows, false)
	return out
}

// MatchingWindow is 1.5x the average candle interval in milliseconds.
func MatchingWindow(candles []market.Candle) int64 {
	n := len(candles)
	if n < 2 {
		return 0
	}
	avg := float64(candles[n-1].Timestamp-candles[0].Timestamp) / float64(n-1)
	return int64(avg * matchWindowFactor)
}

// nearest picks the indicator extremum closest in time to ts within window.
// Equidistant candidates resolve to the earliest one.
func nearest(points []extrema.Point, ts, window int64) (extrema.Point, bool) {
	var (
		best     extrema.Point
		bestDist int64 = -1
	)
	for _, p := range points {
		d := p.Timestamp - ts
		if d < 0 {
			d = -d
		}
		if d > window {
			continue
		}
		if bestDist < 0 || d < bestDist {
			best, bestDist = p, d
		}
	}
	return best, bestDist >= 0
}

func classify(high bool, pricePrev, priceCurr, indPrev, indCurr float64) (Kind, bool) {
	if high {
		switch {
		case priceCurr > pricePrev && indCurr < indPrev:
			return Bearish, true
		case priceCurr < pricePrev && indCurr > indPrev:
			return HiddenBearish, true
		}
		return "", false
	}
	switch {
	case priceCurr < pricePrev && indCurr > indPrev:
		return Bullish, true
	case priceCurr > pricePrev && indCurr < indPrev:
		return HiddenBullish, true
	}
	return "", false
}

// Strength scores a divergence from the price and indicator moves, each as a percentage of
// its full-series range. Moves in the same direction (or a flat range) score 0.
func Strength(pricePrev, priceCurr, indPrev, indCurr, priceRange, indRange float64) float64 {
	if priceRange <= 0 || indRange <= 0 {
		return 0
	}
	pp := (priceCurr - pricePrev) / priceRange * 100
	ip := (indCurr - indPrev) / indRange * 100
	if !(pp*ip < 0) {
		return 0
	}
	return math.Min((math.Abs(pp)+math.Abs(ip))*2, 100)
}

// Confidence starts at 50 and adds tiers for strength, a volume spike at the later extremum
// and a 4h to 48h gap between the two extrema.
func Confidence(strength, volume, avgVolume float64, gapMs int64) float64 {
	c := 50.0
	switch {
	case strength > 70:
		c += 20
	case strength > 50:
		c += 10
	}
	if avgVolume > 0 && volume > avgVolume*volumeSpikeRatio {
		c += 15
	}
	hours := float64(gapMs) / hourMs
	if hours >= minGapHours && hours <= maxGapHours {
		c += 15
	}
	return math.Min(c, 100)
}

func candleRange(candles []market.Candle) float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, c := range candles {
		if market.IsFinite(c.Low) && c.Low < lo {
			lo = c.Low
		}
		if market.IsFinite(c.High) && c.High > hi {
			hi = c.High
		}
	}
	if hi < lo {
		return 0
	}
	return hi - lo
}

func pointRange(points []market.Point) float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range points {
		if !market.IsFinite(p.Value) {
			continue
		}
		lo = math.Min(lo, p.Value)
		hi = math.Max(hi, p.Value)
	}
	if hi < lo {
		return 0
	}
	return hi - lo
}

func describe(d Divergence) string {
	family := "Regular"
	if d.Kind.Hidden() {
		family = "Hidden"
	}
	side := "bullish"
	priceMove, indMove := "lower low", "higher low"
	switch d.Kind {
	case Bearish:
		side, priceMove, indMove = "bearish", "higher high", "lower high"
	case HiddenBearish:
		side, priceMove, indMove = "bearish", "lower high", "higher high"
	case HiddenBullish:
		priceMove, indMove = "higher low", "lower low"
	}
	name := strings.ToUpper(d.Indicator)
	if name == "" {
		name = "indicator"
	}
	return fmt.Sprintf("%s %s divergence: price %s %.4f -> %.4f, %s %s %.4f -> %.4f",
		family, side, priceMove, d.Start.Price, d.End.Price, name, indMove, d.Start.IndicatorValue, d.End.IndicatorValue)
}
