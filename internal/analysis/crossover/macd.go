package crossover

import (
	"fmt"
	"math"

	"chartlens/internal/analysis/indicator"
	"chartlens/internal/market"
)

type Kind string

const (
	BullishCross  Kind = "bullish_cross"
	BearishCross  Kind = "bearish_cross"
	ZeroCrossUp   Kind = "zero_cross_up"
	ZeroCrossDown Kind = "zero_cross_down"
)

type Crossover struct {
	Kind        Kind    `json:"kind"`
	Timestamp   int64   `json:"timestamp"`
	Price       float64 `json:"price,omitempty"`
	MACD        float64 `json:"macd"`
	Signal      float64 `json:"signal"`
	Histogram   float64 `json:"histogram"`
	Strength    float64 `json:"strength"`
	Description string  `json:"description"`
}

// Config: Lookback 0 scans the whole series.
type Config struct {
	MinStrength float64 `json:"min_strength" toml:"min_strength" yaml:"min_strength"`
	Lookback    int     `json:"lookback" toml:"lookback" yaml:"lookback"`
}

const sideBonus = 1.5

type sample struct {
	ts           int64
	macd, signal float64
}

// Detect walks the MACD and signal lines (joined on timestamp) and reports signal-line and
// zero-line crossings in chronological order.
func Detect(candles []market.Candle, macd, signal []market.Point, cfg Config) []Crossover {
	rows := join(macd, signal)
	if len(rows) < 2 {
		return nil
	}

	var maxHist float64
	minMACD, maxMACD := math.Inf(1), math.Inf(-1)
	for _, r := range rows {
		maxHist = math.Max(maxHist, math.Abs(r.macd-r.signal))
		minMACD = math.Min(minMACD, r.macd)
		maxMACD = math.Max(maxMACD, r.macd)
	}
	macdRange := maxMACD - minMACD

	closes := make(map[int64]float64, len(candles))
	for _, c := range candles {
		closes[c.Timestamp] = c.Close
	}
	var since int64 = math.MinInt64
	if cfg.Lookback > 0 && len(candles) > 0 {
		idx := len(candles) - cfg.Lookback
		if idx < 0 {
			idx = 0
		}
		since = candles[idx].Timestamp
	}

	var out []Crossover
	emit := func(x Crossover) {
		if x.Timestamp < since || x.Strength < cfg.MinStrength {
			return
		}
		x.Price = closes[x.Timestamp]
		out = append(out, x)
	}

	for i := 1; i < len(rows); i++ {
		prev, cur := rows[i-1], rows[i]
		hist := cur.macd - cur.signal
		base := Crossover{Timestamp: cur.ts, MACD: cur.macd, Signal: cur.signal, Histogram: hist}

		switch {
		case prev.macd <= prev.signal && cur.macd > cur.signal:
			x := base
			x.Kind = BullishCross
			x.Strength = crossStrength(hist, maxHist, cur.macd < 0)
			x.Description = fmt.Sprintf("MACD crossed above signal (%s zero line), histogram %.4f", side(cur.macd), hist)
			emit(x)
		case prev.macd >= prev.signal && cur.macd < cur.signal:
			x := base
			x.Kind = BearishCross
			x.Strength = crossStrength(hist, maxHist, cur.macd > 0)
			x.Description = fmt.Sprintf("MACD crossed below signal (%s zero line), histogram %.4f", side(cur.macd), hist)
			emit(x)
		}

		switch {
		case prev.macd <= 0 && cur.macd > 0:
			x := base
			x.Kind = ZeroCrossUp
			x.Strength = zeroStrength(cur.macd-prev.macd, macdRange)
			x.Description = fmt.Sprintf("MACD crossed above zero, %.4f -> %.4f", prev.macd, cur.macd)
			emit(x)
		case prev.macd >= 0 && cur.macd < 0:
			x := base
			x.Kind = ZeroCrossDown
			x.Strength = zeroStrength(cur.macd-prev.macd, macdRange)
			x.Description = fmt.Sprintf("MACD crossed below zero, %.4f -> %.4f", prev.macd, cur.macd)
			emit(x)
		}
	}
	return out
}

// FromCandles computes MACD(fast, slow, signal) with go-talib and runs Detect.
func FromCandles(candles []market.Candle, macdCfg indicator.MACDSettings, cfg Config) ([]Crossover, error) {
	macd, signal, err := indicator.MACDSeries(candles, macdCfg)
	if err != nil {
		return nil, err
	}
	return Detect(candles, macd, signal, cfg), nil
}

func join(macd, signal []market.Point) []sample {
	sig := make(map[int64]float64, len(signal))
	for _, p := range signal {
		if market.IsFinite(p.Value) {
			sig[p.Timestamp] = p.Value
		}
	}
	rows := make([]sample, 0, len(macd))
	for _, p := range macd {
		s, ok := sig[p.Timestamp]
		if !ok || !market.IsFinite(p.Value) {
			continue
		}
		rows = append(rows, sample{ts: p.Timestamp, macd: p.Value, signal: s})
	}
	return rows
}

// crossStrength is |hist| as a share of the largest |hist|, boosted when the cross happens on
// the reversal side of zero (bullish below, bearish above).
func crossStrength(hist, maxHist float64, reversalSide bool) float64 {
	if maxHist <= 0 {
		return 0
	}
	s := math.Abs(hist) / maxHist * 100
	if reversalSide {
		s *= sideBonus
	}
	return math.Min(s, 100)
}

func zeroStrength(delta, macdRange float64) float64 {
	if macdRange <= 0 {
		return 0
	}
	return math.Min(math.Abs(delta)/macdRange*100, 100)
}

func side(v float64) string {
	if v < 0 {
		return "below"
	}
	return "above"
}
