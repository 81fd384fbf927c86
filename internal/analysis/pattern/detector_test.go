package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chartlens/internal/market"
)

const minute = int64(60_000)

func bar(i int, o, h, l, c, v float64) market.Candle {
	return market.Candle{Timestamp: int64(i) * minute, Open: o, High: h, Low: l, Close: c, Volume: v}
}

// filler is a plain bullish candle with short shadows that matches no pattern.
func filler(i int) market.Candle {
	return bar(i, 200, 202.2, 199.8, 202, 1000)
}

func TestDetect_DojiWithinSameBucketDeduplicated(t *testing.T) {
	candles := make([]market.Candle, 0, 100)
	for i := 0; i < 40; i++ {
		candles = append(candles, filler(i))
	}
	candles = append(candles, bar(40, 100, 101, 99, 100.01, 1000))
	for i := 41; i < 70; i++ {
		candles = append(candles, filler(i))
	}
	candles = append(candles, bar(70, 100.1, 101.1, 99.6, 100.1, 1000))
	for i := 71; i < 100; i++ {
		candles = append(candles, filler(i))
	}

	got := Detect(candles, nil, nil, DefaultConfig())
	require.Len(t, got, 1)
	assert.Equal(t, Doji, got[0].Kind)
	assert.Equal(t, []int64{40 * minute}, got[0].CandleTimestamps)
	assert.InDelta(t, 0.75, got[0].Significance, 1e-9)
}

func TestDetect_HammerAfterDecline(t *testing.T) {
	candles := []market.Candle{
		bar(0, 112, 112.2, 109.8, 110, 1000),
		bar(1, 100, 101.2, 95, 101, 1000),
	}
	got := Detect(candles, nil, nil, Config{})
	require.Len(t, got, 1)
	assert.Equal(t, Hammer, got[0].Kind)
	assert.Equal(t, BiasBullish, got[0].Kind.Bias())
	assert.InDelta(t, 0.8, got[0].Significance, 1e-9)
	assert.Nil(t, got[0].NearLevel)
	assert.Contains(t, got[0].Description, "after a decline")
}

func TestDetect_SupportBoostsHammer(t *testing.T) {
	candles := []market.Candle{
		bar(0, 112, 112.2, 109.8, 110, 1000),
		bar(1, 100, 101.2, 95, 101, 1000),
	}
	got := Detect(candles, []float64{100.5, 80}, []float64{101.2}, DefaultConfig())
	require.Len(t, got, 1)
	assert.InDelta(t, 1.6, got[0].Significance, 1e-9)
	require.NotNil(t, got[0].NearLevel)
	assert.Equal(t, Support, got[0].NearLevel.Kind)
	assert.Equal(t, 100.5, got[0].NearLevel.Price)
	assert.Contains(t, got[0].Description, "near support")
}

func TestDetect_BullishEngulfingWithVolume(t *testing.T) {
	candles := []market.Candle{
		bar(0, 105, 105.5, 99.5, 100, 1000),
		bar(1, 99, 108.5, 98.5, 108, 3000),
	}
	got := Detect(candles, nil, nil, DefaultConfig())
	require.Len(t, got, 1)
	p := got[0]
	assert.Equal(t, BullishEngulfing, p.Kind)
	assert.Equal(t, []int64{0, minute}, p.CandleTimestamps)
	assert.Equal(t, 108.0, p.Price)
	assert.Equal(t, 3000.0, p.Volume)
	assert.InDelta(t, 0.675, p.Significance, 1e-9)
}

func TestDetect_BearishEngulfingNearResistance(t *testing.T) {
	candles := []market.Candle{
		bar(0, 100, 105.5, 99.5, 105, 1000),
		bar(1, 106, 106.5, 96.5, 97, 1000),
	}
	got := Detect(candles, nil, []float64{97.5}, DefaultConfig())
	require.Len(t, got, 1)
	assert.Equal(t, BearishEngulfing, got[0].Kind)
	assert.InDelta(t, 1.2, got[0].Significance, 1e-9)
	require.NotNil(t, got[0].NearLevel)
	assert.Equal(t, Resistance, got[0].NearLevel.Kind)
}

func TestDetect_ZeroRangeAndEmpty(t *testing.T) {
	assert.Empty(t, Detect(nil, nil, nil, DefaultConfig()))
	flat := []market.Candle{
		bar(0, 100, 100, 100, 100, 10),
		bar(1, 100, 100, 100, 100, 10),
		bar(2, 100, 100, 100, 100, 10),
	}
	assert.Empty(t, Detect(flat, []float64{100}, []float64{100}, DefaultConfig()))
}

func TestDetect_ThinVolumeDropped(t *testing.T) {
	candles := make([]market.Candle, 0, 40)
	for i := 0; i < 39; i++ {
		candles = append(candles, filler(i))
	}
	candles = append(candles, bar(39, 100, 101, 99, 100.01, 100))
	assert.Empty(t, Detect(candles, nil, nil, DefaultConfig()))
}

func TestDetect_ChronologicalAndCapped(t *testing.T) {
	candles := make([]market.Candle, 0, 100)
	dojiAt := map[int]float64{10: 100, 30: 110, 50: 120, 70: 130, 80: 140, 90: 150}
	for i := 0; i < 100; i++ {
		if p, ok := dojiAt[i]; ok {
			candles = append(candles, bar(i, p, p+1, p-1, p, 1000))
			continue
		}
		candles = append(candles, filler(i))
	}
	got := Detect(candles, nil, nil, DefaultConfig())
	require.Len(t, got, 5)
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1].CandleTimestamps[0], got[i].CandleTimestamps[0])
	}
}

func TestConfigNormalize(t *testing.T) {
	cfg := Config{SupportBoost: 3}.Normalize()
	assert.Equal(t, 3.0, cfg.SupportBoost)
	assert.Equal(t, DefaultConfig().ResistanceBoost, cfg.ResistanceBoost)
	assert.Zero(t, cfg.MinSignificance, "zero keeps every pattern once any field is set")

	assert.Equal(t, DefaultConfig(), Config{}.Normalize())
	assert.Equal(t, DefaultConfig().MinSignificance, Config{SupportBoost: 3, MinSignificance: -1}.Normalize().MinSignificance)
}
