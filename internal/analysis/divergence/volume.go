package divergence

import (
	"fmt"

	"chartlens/internal/analysis/extrema"
	"chartlens/internal/market"
)

const VolumeIndicator = "volume"

// DetectVolume reports a bearish divergence wherever price makes a higher high on lower
// volume than the previous high. Only Lookback and MinStrength are read from opts; a zero
// MinStrength keeps every signal.
func DetectVolume(candles []market.Candle, opts Options) []Divergence {
	if len(candles) < 2 {
		return nil
	}
	opts = opts.Normalize()
	highs := extrema.PriceHighs(candles, EffectiveLookback(opts.Lookback, len(candles)))

	var out []Divergence
	for i := 1; i < len(highs); i++ {
		prev, curr := highs[i-1], highs[i]
		pv, cv := candles[prev.Index].Volume, candles[curr.Index].Volume
		if !(curr.Value > prev.Value) || !(cv < pv) || pv <= 0 {
			continue
		}
		strength := (pv - cv) / pv * 100
		if strength < opts.MinStrength {
			continue
		}
		confidence := 50.0
		if strength > 50 {
			confidence = 75
		}
		out = append(out, Divergence{
			Kind:       Bearish,
			Indicator:  VolumeIndicator,
			Start:      Point{Timestamp: prev.Timestamp, Price: prev.Value, IndicatorValue: pv},
			End:        Point{Timestamp: curr.Timestamp, Price: curr.Value, IndicatorValue: cv},
			Strength:   strength,
			Confidence: confidence,
			Description: fmt.Sprintf("Volume divergence: price higher high %.4f -> %.4f on volume down %.1f%% (%.2f -> %.2f)",
				prev.Value, curr.Value, strength, pv, cv),
		})
	}
	return out
}
