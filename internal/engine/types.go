package engine

import (
	"time"

	"chartlens/internal/analysis/crossover"
	"chartlens/internal/analysis/divergence"
	"chartlens/internal/analysis/indicator"
	"chartlens/internal/analysis/levels"
	"chartlens/internal/analysis/pattern"
	"chartlens/internal/analysis/trendline"
	"chartlens/internal/market"
)

// Request describes one analysis. Candles may be supplied inline; otherwise they are loaded
// for Symbol/Interval over [Start, End).
type Request struct {
	Operation Operation `json:"operation"`
	Symbol    string    `json:"symbol"`
	Interval  string    `json:"interval"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`

	Candles    []market.Candle          `json:"candles,omitempty"`
	Indicators []market.IndicatorSeries `json:"indicators,omitempty"`

	// Indicator names the oscillator for divergence (default rsi).
	Indicator   string    `json:"indicator,omitempty"`
	Supports    []float64 `json:"supports,omitempty"`
	Resistances []float64 `json:"resistances,omitempty"`

	Params Params `json:"params"`
}

// Params overrides engine defaults for a single request. Zero values keep the defaults.
type Params struct {
	ExtremaWindow   int     `json:"extrema_window,omitempty"`
	MinPoints       int     `json:"min_points,omitempty"`
	Threshold       float64 `json:"threshold,omitempty"`
	MaxIterations   int     `json:"max_iterations,omitempty"`
	Lookback        int     `json:"lookback,omitempty"`
	MinStrength     float64 `json:"min_strength,omitempty"`
	DivergenceKinds string  `json:"kinds,omitempty"`
	MinSignificance float64 `json:"min_significance,omitempty"`
	CrossLookback   int     `json:"cross_lookback,omitempty"`
}

// Trendlines holds the fitted resistance (through highs) and support (through lows) lines.
// A nil side had fewer extrema than MinPoints.
type Trendlines struct {
	Resistance *trendline.Result `json:"resistance,omitempty"`
	Support    *trendline.Result `json:"support,omitempty"`
}

type Result struct {
	RunID       string    `json:"run_id"`
	Operation   Operation `json:"operation"`
	Symbol      string    `json:"symbol,omitempty"`
	Interval    string    `json:"interval,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
	CandleCount int       `json:"candle_count"`

	Trendlines  *Trendlines             `json:"trendlines,omitempty"`
	Patterns    []pattern.Pattern       `json:"patterns,omitempty"`
	Divergences []divergence.Divergence `json:"divergences,omitempty"`
	Crossovers  []crossover.Crossover   `json:"crossovers,omitempty"`
	Levels      *levels.Set             `json:"levels,omitempty"`
	Readings    []indicator.Reading     `json:"readings,omitempty"`

	// Error is set on scan results whose operation lacked data; no signals accompany it.
	Error string `json:"error,omitempty"`
}

// Count is the number of signals in the result, used for logging and the journal.
func (r Result) Count() int {
	n := len(r.Patterns) + len(r.Divergences) + len(r.Crossovers)
	if r.Trendlines != nil {
		if r.Trendlines.Resistance != nil && r.Trendlines.Resistance.Confidence > 0 {
			n++
		}
		if r.Trendlines.Support != nil && r.Trendlines.Support.Confidence > 0 {
			n++
		}
	}
	if r.Levels != nil {
		n += len(r.Levels.Support) + len(r.Levels.Resistance)
	}
	return n
}
