package extrema

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chartlens/internal/market"
)

func series(vals ...float64) []market.Point {
	out := make([]market.Point, len(vals))
	for i, v := range vals {
		out[i] = market.Point{Timestamp: int64(i) * 60_000, Value: v}
	}
	return out
}

func TestFind_Basic(t *testing.T) {
	s := series(1, 3, 5, 3, 1, 0, 2, 4, 6)
	got := Find(s, 2)
	require.Len(t, got, 2)
	assert.Equal(t, Point{Timestamp: 2 * 60_000, Value: 5, Index: 2, Kind: High}, got[0])
	assert.Equal(t, Point{Timestamp: 5 * 60_000, Value: 0, Index: 5, Kind: Low}, got[1])
	assert.Len(t, Highs(got), 1)
	assert.Len(t, Lows(got), 1)
}

func TestFind_TooShort(t *testing.T) {
	assert.Empty(t, Find(series(1, 2, 1, 2), 2))
	assert.Empty(t, Find(series(1, 2, 1), 0))
}

func TestFind_PlateauHasNoExtremum(t *testing.T) {
	s := series(1, 2, 5, 5, 2, 1, 0)
	got := Find(s, 1)
	for _, p := range got {
		assert.NotEqual(t, 5.0, p.Value, "plateau must not produce an extremum")
	}
}

func TestFind_MonotonicHasNone(t *testing.T) {
	up := make([]float64, 40)
	down := make([]float64, 40)
	for i := range up {
		up[i] = float64(i) * 1.5
		down[i] = 100 - float64(i)
	}
	assert.Empty(t, Find(series(up...), 3))
	assert.Empty(t, Find(series(down...), 3))
}

func TestFind_Deterministic(t *testing.T) {
	s := series(3, 1, 4, 1, 5, 9, 2, 6, 5, 3, 5, 8, 9, 7, 9, 3, 2, 3, 8, 4)
	a := Find(s, 2)
	b := Find(s, 2)
	assert.Equal(t, a, b)
}

func TestFind_NonFiniteIgnored(t *testing.T) {
	s := series(1, 2, math.NaN(), 2, 1, 0, 1)
	got := Find(s, 1)
	for _, p := range got {
		assert.NotEqual(t, 2, p.Index)
		assert.NotEqual(t, 1, p.Index)
		assert.NotEqual(t, 3, p.Index)
	}
}

func TestPriceHighsLows(t *testing.T) {
	highs := []float64{10, 11, 15, 11, 10, 9, 10}
	lows := []float64{9, 8, 12, 9, 7, 5, 8}
	cs := make([]market.Candle, len(highs))
	for i := range cs {
		cs[i] = market.Candle{Timestamp: int64(i), High: highs[i], Low: lows[i]}
	}
	ph := PriceHighs(cs, 2)
	require.Len(t, ph, 1)
	assert.Equal(t, 15.0, ph[0].Value)
	pl := PriceLows(cs, 1)
	require.NotEmpty(t, pl)
	assert.Equal(t, 8.0, pl[0].Value)
}
