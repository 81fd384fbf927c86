// Package levels derives support and resistance prices from clustered swing extrema.
package levels

import (
	"math"
	"sort"

	"github.com/markcheno/go-talib"

	"chartlens/internal/analysis/extrema"
	"chartlens/internal/market"
)

type Kind string

const (
	Support    Kind = "support"
	Resistance Kind = "resistance"
)

type Level struct {
	Kind          Kind    `json:"kind"`
	Price         float64 `json:"price"`
	Touches       int     `json:"touches"`
	LastTimestamp int64   `json:"last_timestamp"`
}

type Options struct {
	Window         int     `json:"window" toml:"window" yaml:"window"`
	ATRPeriod      int     `json:"atr_period" toml:"atr_period" yaml:"atr_period"`
	MergeATRFactor float64 `json:"merge_atr_factor" toml:"merge_atr_factor" yaml:"merge_atr_factor"`
	// MergePct is the fallback merge distance, relative to price, when ATR is unavailable.
	MergePct  float64 `json:"merge_pct" toml:"merge_pct" yaml:"merge_pct"`
	MaxLevels int     `json:"max_levels" toml:"max_levels" yaml:"max_levels"`
}

func DefaultOptions() Options {
	return Options{Window: 5, ATRPeriod: 14, MergeATRFactor: 0.5, MergePct: 0.003, MaxLevels: 5}
}

func (o Options) Normalize() Options {
	def := DefaultOptions()
	if o.Window <= 0 {
		o.Window = def.Window
	}
	if o.ATRPeriod <= 0 {
		o.ATRPeriod = def.ATRPeriod
	}
	if o.MergeATRFactor <= 0 {
		o.MergeATRFactor = def.MergeATRFactor
	}
	if o.MergePct <= 0 {
		o.MergePct = def.MergePct
	}
	if o.MaxLevels <= 0 {
		o.MaxLevels = def.MaxLevels
	}
	return o
}

// Set holds the support and resistance levels found in one candle window. From and To are
// the first and last candle timestamps of that window.
type Set struct {
	Support    []Level `json:"support"`
	Resistance []Level `json:"resistance"`
	From       int64   `json:"from"`
	To         int64   `json:"to"`
}

// Covers reports whether the set was computed over exactly the given window.
func (s Set) Covers(from, to int64) bool {
	return s.From == from && s.To == to
}

// Prices flattens the set into the plain price lists the pattern detector takes.
func (s Set) Prices() (supports, resistances []float64) {
	for _, l := range s.Support {
		supports = append(supports, l.Price)
	}
	for _, l := range s.Resistance {
		resistances = append(resistances, l.Price)
	}
	return supports, resistances
}

// Find clusters swing lows into supports and swing highs into resistances. Extrema closer than
// MergeATRFactor x ATR merge into one level whose price is the mean of its touches. Supports
// above the last close and resistances below it are dropped; each side keeps MaxLevels levels
// ordered by touches then recency.
func Find(candles []market.Candle, opts Options) Set {
	if len(candles) == 0 {
		return Set{}
	}
	opts = opts.Normalize()
	lastClose := candles[len(candles)-1].Close
	threshold := mergeDistance(candles, opts)

	sup := cluster(extrema.PriceLows(candles, opts.Window), Support, threshold)
	res := cluster(extrema.PriceHighs(candles, opts.Window), Resistance, threshold)

	return Set{
		Support:    keep(sup, opts.MaxLevels, func(l Level) bool { return l.Price <= lastClose }),
		Resistance: keep(res, opts.MaxLevels, func(l Level) bool { return l.Price >= lastClose }),
		From:       candles[0].Timestamp,
		To:         candles[len(candles)-1].Timestamp,
	}
}

func mergeDistance(candles []market.Candle, opts Options) float64 {
	n := len(candles)
	last := candles[n-1].Close
	fallback := math.Abs(last) * opts.MergePct
	if n <= opts.ATRPeriod {
		return fallback
	}
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i, c := range candles {
		highs[i], lows[i], closes[i] = c.High, c.Low, c.Close
	}
	atr := talib.Atr(highs, lows, closes, opts.ATRPeriod)
	v := atr[len(atr)-1]
	if !market.IsFinite(v) || v <= 0 {
		return fallback
	}
	return v * opts.MergeATRFactor
}

type bucket struct {
	level Level
	sum   float64
}

func cluster(points []extrema.Point, kind Kind, threshold float64) []Level {
	var buckets []bucket
	for _, p := range points {
		merged := false
		for i := range buckets {
			if math.Abs(buckets[i].level.Price-p.Value) <= threshold {
				b := &buckets[i]
				b.sum += p.Value
				b.level.Touches++
				b.level.Price = b.sum / float64(b.level.Touches)
				if p.Timestamp > b.level.LastTimestamp {
					b.level.LastTimestamp = p.Timestamp
				}
				merged = true
				break
			}
		}
		if !merged {
			buckets = append(buckets, bucket{
				level: Level{Kind: kind, Price: p.Value, Touches: 1, LastTimestamp: p.Timestamp},
				sum:   p.Value,
			})
		}
	}
	out := make([]Level, len(buckets))
	for i, b := range buckets {
		out[i] = b.level
	}
	return out
}

func keep(in []Level, max int, ok func(Level) bool) []Level {
	out := make([]Level, 0, len(in))
	for _, l := range in {
		if ok(l) {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Touches != out[j].Touches {
			return out[i].Touches > out[j].Touches
		}
		return out[i].LastTimestamp > out[j].LastTimestamp
	})
	if len(out) > max {
		out = out[:max]
	}
	return out
}
