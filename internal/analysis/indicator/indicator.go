package indicator

import (
	"fmt"
	"strings"

	"github.com/markcheno/go-talib"

	"chartlens/internal/market"
)

const (
	RSI        = "rsi"
	MACD       = "macd"
	MACDSignal = "macd_signal"
	MACDHist   = "macd_hist"
	OBV        = "obv"
	MFI        = "mfi"
	Volume     = "volume"
)

// Names lists every series Build can produce.
var Names = []string{RSI, MACD, MACDSignal, MACDHist, OBV, MFI, Volume}

type Settings struct {
	RSI       RSISettings  `json:"rsi" toml:"rsi" yaml:"rsi"`
	MACD      MACDSettings `json:"macd" toml:"macd" yaml:"macd"`
	MFIPeriod int          `json:"mfi_period,omitempty" toml:"mfi_period" yaml:"mfi_period"`
}

type RSISettings struct {
	Period     int     `json:"period,omitempty" toml:"period" yaml:"period"`
	Oversold   float64 `json:"oversold,omitempty" toml:"oversold" yaml:"oversold"`
	Overbought float64 `json:"overbought,omitempty" toml:"overbought" yaml:"overbought"`
}

type MACDSettings struct {
	Fast   int `json:"fast,omitempty" toml:"fast" yaml:"fast"`
	Slow   int `json:"slow,omitempty" toml:"slow" yaml:"slow"`
	Signal int `json:"signal,omitempty" toml:"signal" yaml:"signal"`
}

func (s Settings) Normalize() Settings {
	if s.RSI.Period <= 0 {
		s.RSI.Period = 14
	}
	if s.RSI.Overbought == 0 {
		s.RSI.Overbought = 70
	}
	if s.RSI.Oversold == 0 {
		s.RSI.Oversold = 30
	}
	if s.MACD.Fast <= 0 {
		s.MACD.Fast = 12
	}
	if s.MACD.Slow <= 0 {
		s.MACD.Slow = 26
	}
	if s.MACD.Signal <= 0 {
		s.MACD.Signal = 9
	}
	if s.MFIPeriod <= 0 {
		s.MFIPeriod = 14
	}
	return s
}

// Build computes every named series that the candle count allows. Each output point carries
// the timestamp of the candle it was computed at; warm-up bars are dropped, never zero-filled.
func Build(candles []market.Candle, cfg Settings) ([]market.IndicatorSeries, error) {
	if len(candles) == 0 {
		return nil, fmt.Errorf("no candles")
	}
	cfg = cfg.Normalize()
	n := len(candles)
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	volumes := make([]float64, n)
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
		volumes[i] = c.Volume
	}

	out := make([]market.IndicatorSeries, 0, len(Names))
	if n > cfg.RSI.Period {
		out = append(out, align(RSI, candles, talib.Rsi(closes, cfg.RSI.Period), cfg.RSI.Period))
	}
	if macdWarmup := cfg.MACD.Slow + cfg.MACD.Signal - 2; n > macdWarmup {
		macd, signal, hist := talib.Macd(closes, cfg.MACD.Fast, cfg.MACD.Slow, cfg.MACD.Signal)
		out = append(out,
			align(MACD, candles, macd, macdWarmup),
			align(MACDSignal, candles, signal, macdWarmup),
			align(MACDHist, candles, hist, macdWarmup),
		)
	}
	out = append(out, align(OBV, candles, talib.Obv(closes, volumes), 0))
	if n > cfg.MFIPeriod {
		out = append(out, align(MFI, candles, talib.Mfi(highs, lows, closes, volumes, cfg.MFIPeriod), cfg.MFIPeriod))
	}
	out = append(out, align(Volume, candles, volumes, 0))
	return out, nil
}

// MACDSeries returns the MACD and signal lines only, for the crossover detector.
func MACDSeries(candles []market.Candle, cfg MACDSettings) (macd, signal []market.Point, err error) {
	s := Settings{MACD: cfg}.Normalize()
	warmup := s.MACD.Slow + s.MACD.Signal - 2
	if len(candles) <= warmup {
		return nil, nil, fmt.Errorf("macd needs more than %d candles, got %d", warmup, len(candles))
	}
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	m, sig, _ := talib.Macd(closes, s.MACD.Fast, s.MACD.Slow, s.MACD.Signal)
	return align(MACD, candles, m, warmup).Values, align(MACDSignal, candles, sig, warmup).Values, nil
}

func align(name string, candles []market.Candle, values []float64, warmup int) market.IndicatorSeries {
	s := market.IndicatorSeries{Name: name}
	if warmup < 0 {
		warmup = 0
	}
	s.Values = make([]market.Point, 0, len(values))
	for i := warmup; i < len(values) && i < len(candles); i++ {
		v := values[i]
		if !market.IsFinite(v) {
			continue
		}
		s.Values = append(s.Values, market.Point{Timestamp: candles[i].Timestamp, Value: v})
	}
	return s
}

var aliases = map[string]string{
	"rsi14":          RSI,
	"macd_line":      MACD,
	"signal":         MACDSignal,
	"macdsignal":     MACDSignal,
	"macd_histogram": MACDHist,
	"histogram":      MACDHist,
	"hist":           MACDHist,
	"macdhist":       MACDHist,
	"on_balance":     OBV,
	"money_flow":     MFI,
	"vol":            Volume,
}

// Canonical lower-cases a series name and resolves common aliases ("RSI", "macd-histogram").
func Canonical(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.ReplaceAll(key, "-", "_")
	key = strings.ReplaceAll(key, " ", "_")
	if v, ok := aliases[key]; ok {
		return v
	}
	return key
}

// Lookup finds a named series among annotations, comparing canonical names.
func Lookup(series []market.IndicatorSeries, name string) (market.IndicatorSeries, bool) {
	want := Canonical(name)
	for _, s := range series {
		if Canonical(s.Name) == want {
			return s, true
		}
	}
	return market.IndicatorSeries{}, false
}

// Resolve prefers a series already attached to the candles and computes it otherwise.
func Resolve(data market.Annotated, name string, cfg Settings) (market.IndicatorSeries, error) {
	if s, ok := Lookup(data.Indicators, name); ok {
		return s, nil
	}
	built, err := Build(data.Candles, cfg)
	if err != nil {
		return market.IndicatorSeries{}, err
	}
	if s, ok := Lookup(built, name); ok {
		return s, nil
	}
	return market.IndicatorSeries{}, fmt.Errorf("indicator %q unavailable for %d candles", name, len(data.Candles))
}

func lastValid(series []market.Point) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if market.IsFinite(series[i].Value) {
			return series[i].Value
		}
	}
	return 0
}

// RSIState classifies the latest RSI value against the configured thresholds.
func RSIState(series []market.Point, cfg RSISettings) string {
	cfg = Settings{RSI: cfg}.Normalize().RSI
	v := lastValid(series)
	switch {
	case len(series) == 0:
		return "unknown"
	case v >= cfg.Overbought:
		return "overbought"
	case v <= cfg.Oversold:
		return "oversold"
	default:
		return "neutral"
	}
}

// PolarityState reports the sign of the latest value, used for MACD histogram and OBV slope.
func PolarityState(series []market.Point) string {
	v := lastValid(series)
	switch {
	case v > 0:
		return "positive"
	case v < 0:
		return "negative"
	default:
		return "flat"
	}
}

// Latest returns the most recent finite value, 0 when none.
func Latest(series []market.Point) float64 { return lastValid(series) }

// Reading is the latest value of one oscillator with its state label.
type Reading struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	State string  `json:"state"`
}

// Read labels RSI against its thresholds and every other series by sign.
func Read(name string, series []market.Point, cfg Settings) Reading {
	r := Reading{Name: name, Value: Latest(series)}
	if Canonical(name) == RSI {
		r.State = RSIState(series, cfg.RSI)
	} else {
		r.State = PolarityState(series)
	}
	return r
}
