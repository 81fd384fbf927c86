package pattern

import (
	"fmt"
	"math"
	"sort"

	"chartlens/internal/market"
)

type Kind string

const (
	Doji             Kind = "doji"
	Hammer           Kind = "hammer"
	ShootingStar     Kind = "shooting_star"
	BullishEngulfing Kind = "bullish_engulfing"
	BearishEngulfing Kind = "bearish_engulfing"
)

type Bias string

const (
	BiasBullish Bias = "bullish"
	BiasBearish Bias = "bearish"
	BiasNeutral Bias = "neutral"
)

func (k Kind) Bias() Bias {
	switch k {
	case Hammer, BullishEngulfing:
		return BiasBullish
	case ShootingStar, BearishEngulfing:
		return BiasBearish
	default:
		return BiasNeutral
	}
}

type LevelKind string

const (
	Support    LevelKind = "support"
	Resistance LevelKind = "resistance"
)

// LevelHit records the support/resistance level that boosted a pattern.
type LevelHit struct {
	Kind             LevelKind `json:"kind"`
	Price            float64   `json:"price"`
	RelativeDistance float64   `json:"relative_distance"`
}

type Pattern struct {
	Kind             Kind      `json:"kind"`
	Significance     float64   `json:"significance"`
	Description      string    `json:"description"`
	CandleTimestamps []int64   `json:"candle_timestamps"`
	Price            float64   `json:"price"`
	Volume           float64   `json:"volume"`
	NearLevel        *LevelHit `json:"near_level,omitempty"`
}

type Config struct {
	MinVolumeRatio          float64 `json:"min_volume_ratio" toml:"min_volume_ratio" yaml:"min_volume_ratio"`
	MinSignificance         float64 `json:"min_significance" toml:"min_significance" yaml:"min_significance"`
	LevelProximityThreshold float64 `json:"level_proximity_threshold" toml:"level_proximity_threshold" yaml:"level_proximity_threshold"`
	SupportBoost            float64 `json:"support_boost" toml:"support_boost" yaml:"support_boost"`
	ResistanceBoost         float64 `json:"resistance_boost" toml:"resistance_boost" yaml:"resistance_boost"`
}

func DefaultConfig() Config {
	return Config{
		MinVolumeRatio:          1.2,
		MinSignificance:         0.5,
		LevelProximityThreshold: 0.01,
		SupportBoost:            2.0,
		ResistanceBoost:         2.0,
	}
}

// Normalize turns a zero Config into DefaultConfig. Otherwise non-positive fields take their
// defaults, except MinSignificance: 0 disables the significance filter and only a negative
// value is replaced.
func (c Config) Normalize() Config {
	def := DefaultConfig()
	if c == (Config{}) {
		return def
	}
	if c.MinVolumeRatio <= 0 {
		c.MinVolumeRatio = def.MinVolumeRatio
	}
	if c.MinSignificance < 0 {
		c.MinSignificance = def.MinSignificance
	}
	if c.LevelProximityThreshold <= 0 {
		c.LevelProximityThreshold = def.LevelProximityThreshold
	}
	if c.SupportBoost <= 0 {
		c.SupportBoost = def.SupportBoost
	}
	if c.ResistanceBoost <= 0 {
		c.ResistanceBoost = def.ResistanceBoost
	}
	return c
}

const (
	dojiMaxBodyRatio    = 0.10
	dojiTightBodyRatio  = 0.05
	dojiShadowBalance   = 0.10
	shadowToBodyMin     = 2.0
	oppositeShadowMax   = 0.3
	engulfBodyRatio     = 1.5
	volumeFloorRatio    = 0.8
	bucketWidth         = 0.002
	maxPatternShare     = 0.05
	maxPatterns         = 5
	dojiLevelBoostScale = 0.75
	dojiLevelBoostCap   = 1.3
)

type candleParts struct {
	body, upper, lower, rng float64
	bull, bear              bool
}

func split(c market.Candle) candleParts {
	return candleParts{
		body:  math.Abs(c.Close - c.Open),
		upper: c.High - math.Max(c.Open, c.Close),
		lower: math.Min(c.Open, c.Close) - c.Low,
		rng:   c.High - c.Low,
		bull:  c.Close > c.Open,
		bear:  c.Close < c.Open,
	}
}

// Detect scans candles for Doji, Hammer, ShootingStar and Engulfing shapes, boosts those
// sitting near the supplied levels, then filters, de-duplicates by 0.2% price proximity and
// caps the result. Output is chronological.
func Detect(candles []market.Candle, supports, resistances []float64, cfg Config) []Pattern {
	if len(candles) == 0 {
		return nil
	}
	cfg = cfg.Normalize()
	avgVolume := market.AverageVolume(candles)
	volRatio := func(v float64) float64 {
		if avgVolume <= 0 {
			return 0
		}
		return v / avgVolume
	}
	bonus := func(v, scale float64) float64 {
		r := volRatio(v)
		if r <= cfg.MinVolumeRatio {
			return 0
		}
		return scale * math.Min(r-1, 1)
	}

	var found []Pattern
	for i, c := range candles {
		cp := split(c)
		if cp.rng > 0 && market.IsFinite(cp.rng) {
			found = append(found, singleCandle(candles, i, cp, bonus)...)
		}
		if i+1 < len(candles) {
			if p, ok := engulfing(c, candles[i+1], bonus); ok {
				found = append(found, p)
			}
		}
	}

	for i := range found {
		applyLevelBoost(&found[i], supports, resistances, cfg)
	}
	return filter(found, avgVolume, len(candles), cfg)
}

func singleCandle(candles []market.Candle, i int, cp candleParts, bonus func(v, scale float64) float64) []Pattern {
	c := candles[i]
	var out []Pattern
	bodyRatio := cp.body / cp.rng

	if bodyRatio < dojiMaxBodyRatio {
		sig := 0.5
		if math.Abs(cp.upper-cp.lower) < dojiShadowBalance*cp.rng {
			sig += 0.15
		}
		if bodyRatio < dojiTightBodyRatio {
			sig += 0.10
		}
		sig += bonus(c.Volume, 0.1)
		out = append(out, Pattern{
			Kind:             Doji,
			Significance:     sig,
			Description:      fmt.Sprintf("Doji: indecision, body %.1f%% of range", bodyRatio*100),
			CandleTimestamps: []int64{c.Timestamp},
			Price:            c.Close,
			Volume:           c.Volume,
		})
	}

	var prevClose float64
	hasPrev := i > 0
	if hasPrev {
		prevClose = candles[i-1].Close
	}

	if cp.lower > shadowToBodyMin*cp.body && cp.upper < oppositeShadowMax*cp.body {
		sig := 0.6
		context := ""
		if hasPrev && prevClose > c.Close {
			sig = 0.8
			context = " after a decline"
		}
		sig += bonus(c.Volume, 0.1)
		out = append(out, Pattern{
			Kind:             Hammer,
			Significance:     sig,
			Description:      fmt.Sprintf("Hammer: lower shadow %.1fx body%s, potential bullish reversal", ratio(cp.lower, cp.body), context),
			CandleTimestamps: []int64{c.Timestamp},
			Price:            c.Close,
			Volume:           c.Volume,
		})
	}

	if cp.upper > shadowToBodyMin*cp.body && cp.lower < oppositeShadowMax*cp.body {
		sig := 0.6
		context := ""
		if hasPrev && prevClose < c.Close {
			sig = 0.8
			context = " after a rally"
		}
		sig += bonus(c.Volume, 0.1)
		out = append(out, Pattern{
			Kind:             ShootingStar,
			Significance:     sig,
			Description:      fmt.Sprintf("Shooting star: upper shadow %.1fx body%s, potential bearish reversal", ratio(cp.upper, cp.body), context),
			CandleTimestamps: []int64{c.Timestamp},
			Price:            c.Close,
			Volume:           c.Volume,
		})
	}
	return out
}

// engulfing checks cur followed by next: next's body must exceed 1.5x cur's body, point the
// other way, and its open/close must strictly contain cur's open/close.
func engulfing(cur, next market.Candle, bonus func(v, scale float64) float64) (Pattern, bool) {
	a, b := split(cur), split(next)
	if !(b.body > engulfBodyRatio*a.body) {
		return Pattern{}, false
	}
	var kind Kind
	switch {
	case a.bear && b.bull && next.Open < cur.Close && next.Close > cur.Open:
		kind = BullishEngulfing
	case a.bull && b.bear && next.Open > cur.Close && next.Close < cur.Open:
		kind = BearishEngulfing
	default:
		return Pattern{}, false
	}
	label := "Bullish engulfing"
	if kind == BearishEngulfing {
		label = "Bearish engulfing"
	}
	return Pattern{
		Kind:             kind,
		Significance:     0.6 + bonus(next.Volume, 0.15),
		Description:      fmt.Sprintf("%s: body %.1fx the prior candle", label, ratio(b.body, a.body)),
		CandleTimestamps: []int64{cur.Timestamp, next.Timestamp},
		Price:            next.Close,
		Volume:           next.Volume,
	}, true
}

func ratio(a, b float64) float64 {
	if b == 0 {
		return math.Inf(1)
	}
	return a / b
}

func nearestLevel(price float64, levels []float64, threshold float64) (float64, float64, bool) {
	best, bestDist, ok := 0.0, math.MaxFloat64, false
	for _, lvl := range levels {
		if !market.IsFinite(lvl) {
			continue
		}
		d := math.Abs(1 - lvl/price)
		if d <= threshold && d < bestDist {
			best, bestDist, ok = lvl, d, true
		}
	}
	return best, bestDist, ok
}

func applyLevelBoost(p *Pattern, supports, resistances []float64, cfg Config) {
	if p.Price <= 0 {
		return
	}
	sup, supDist, hasSup := nearestLevel(p.Price, supports, cfg.LevelProximityThreshold)
	res, resDist, hasRes := nearestLevel(p.Price, resistances, cfg.LevelProximityThreshold)

	var hit *LevelHit
	factor := 1.0
	switch p.Kind.Bias() {
	case BiasBullish:
		if hasSup {
			hit = &LevelHit{Kind: Support, Price: sup, RelativeDistance: supDist}
			factor = cfg.SupportBoost
		}
	case BiasBearish:
		if hasRes {
			hit = &LevelHit{Kind: Resistance, Price: res, RelativeDistance: resDist}
			factor = cfg.ResistanceBoost
		}
	default:
		switch {
		case hasSup && (!hasRes || supDist <= resDist):
			hit = &LevelHit{Kind: Support, Price: sup, RelativeDistance: supDist}
			factor = math.Min(cfg.SupportBoost*dojiLevelBoostScale, dojiLevelBoostCap)
		case hasRes:
			hit = &LevelHit{Kind: Resistance, Price: res, RelativeDistance: resDist}
			factor = math.Min(cfg.ResistanceBoost*dojiLevelBoostScale, dojiLevelBoostCap)
		}
	}
	if hit == nil {
		return
	}
	p.Significance *= factor
	p.NearLevel = hit
	p.Description += fmt.Sprintf(" near %s at %.4f (%.2f%%)", hit.Kind, hit.Price, hit.RelativeDistance*100)
}

// filter drops weak or thin-volume patterns, keeps the strongest pattern within each 0.2%
// price cluster, caps the count at clamp(n*5%, 1, 5) and returns them chronologically.
func filter(in []Pattern, avgVolume float64, candleCount int, cfg Config) []Pattern {
	kept := make([]Pattern, 0, len(in))
	for _, p := range in {
		if p.Significance < cfg.MinSignificance || p.Volume < avgVolume*volumeFloorRatio {
			continue
		}
		kept = append(kept, p)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Significance > kept[j].Significance })

	deduped := make([]Pattern, 0, len(kept))
	for _, p := range kept {
		dup := false
		for _, q := range deduped {
			if samePriceBucket(p.Price, q.Price) {
				dup = true
				break
			}
		}
		if !dup {
			deduped = append(deduped, p)
		}
	}

	limit := int(math.Floor(float64(candleCount) * maxPatternShare))
	if limit < 1 {
		limit = 1
	}
	if limit > maxPatterns {
		limit = maxPatterns
	}
	if len(deduped) > limit {
		deduped = deduped[:limit]
	}
	sort.SliceStable(deduped, func(i, j int) bool {
		return deduped[i].CandleTimestamps[0] < deduped[j].CandleTimestamps[0]
	})
	return deduped
}

func samePriceBucket(a, b float64) bool {
	if a == b {
		return true
	}
	ref := math.Max(math.Abs(a), math.Abs(b))
	if ref == 0 {
		return true
	}
	return math.Abs(a-b)/ref <= bucketWidth
}
