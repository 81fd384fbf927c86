package divergence

import (
	"strings"

	"chartlens/internal/analysis"
)

type Kind string

const (
	Bullish       Kind = "bullish"
	Bearish       Kind = "bearish"
	HiddenBullish Kind = "hidden_bullish"
	HiddenBearish Kind = "hidden_bearish"
)

func (k Kind) Hidden() bool { return k == HiddenBullish || k == HiddenBearish }

// Kinds selects which divergence families a scan reports.
type Kinds uint8

const (
	Regular Kinds = 1 << iota
	Hidden
	All = Regular | Hidden
)

func (k Kinds) allows(kind Kind) bool {
	if kind.Hidden() {
		return k&Hidden != 0
	}
	return k&Regular != 0
}

func (k Kinds) String() string {
	switch k {
	case Regular:
		return "regular"
	case Hidden:
		return "hidden"
	case All:
		return "all"
	default:
		return "none"
	}
}

func (k Kinds) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kinds) UnmarshalText(b []byte) error {
	v, err := ParseKinds(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// ParseKinds accepts "regular", "hidden" or "all"; empty means regular.
func ParseKinds(s string) (Kinds, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "regular":
		return Regular, nil
	case "hidden":
		return Hidden, nil
	case "all":
		return All, nil
	default:
		return 0, analysis.Invalid("divergence", "unsupported divergence kind %q", s)
	}
}

type Point struct {
	Timestamp      int64   `json:"timestamp"`
	Price          float64 `json:"price"`
	IndicatorValue float64 `json:"indicator_value"`
}

type Divergence struct {
	Kind        Kind    `json:"kind"`
	Indicator   string  `json:"indicator"`
	Start       Point   `json:"start"`
	End         Point   `json:"end"`
	Strength    float64 `json:"strength"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description"`
}

type Options struct {
	Lookback    int     `json:"lookback" toml:"lookback" yaml:"lookback"`
	MinStrength float64 `json:"min_strength" toml:"min_strength" yaml:"min_strength"`
	Kinds       Kinds   `json:"kinds" toml:"-" yaml:"-"`
}

func DefaultOptions() Options {
	return Options{Lookback: 5, MinStrength: 30, Kinds: Regular}
}

// Normalize fills Lookback and Kinds when unset. MinStrength is taken as given so 0 keeps everything.
func (o Options) Normalize() Options {
	if o.Lookback <= 0 {
		o.Lookback = DefaultOptions().Lookback
	}
	if o.Kinds == 0 {
		o.Kinds = Regular
	}
	if o.MinStrength < 0 {
		o.MinStrength = 0
	}
	return o
}

// EffectiveLookback shrinks the extrema window on short series: max(2, min(lookback, n/4)).
func EffectiveLookback(lookback, n int) int {
	lb := lookback
	if q := n / 4; q < lb {
		lb = q
	}
	if lb < 2 {
		lb = 2
	}
	return lb
}
