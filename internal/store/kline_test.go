package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chartlens/internal/market"
)

func candlesAt(ts ...int64) []market.Candle {
	out := make([]market.Candle, len(ts))
	for i, t := range ts {
		out[i] = market.Candle{Timestamp: t, Open: 1, High: 2, Low: 0.5, Close: float64(t), Volume: 10}
	}
	return out
}

func TestMemoryKlineStore_PutMergesAndTrims(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryKlineStore()
	require.NoError(t, s.Put(ctx, "btcusdt", "1h", candlesAt(3, 1, 2), 0))

	update := candlesAt(2, 4)
	update[0].Close = 99
	require.NoError(t, s.Put(ctx, "BTCUSDT", "1h", update, 3))

	got, err := s.Range(ctx, "BTCUSDT", "1h", 0, 100)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{2, 3, 4}, []int64{got[0].Timestamp, got[1].Timestamp, got[2].Timestamp})
	assert.Equal(t, 99.0, got[0].Close)

	assert.Error(t, s.Put(ctx, "", "1h", update, 0))
}

func TestMemoryKlineStore_RangeAndExport(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryKlineStore()
	require.NoError(t, s.Set(ctx, "ETHUSDT", "5m", candlesAt(10, 20, 30, 40)))

	got, err := s.Range(ctx, "ETHUSDT", "5m", 15, 30)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(20), got[0].Timestamp)

	got, err = s.Range(ctx, "ETHUSDT", "5m", 41, 50)
	require.NoError(t, err)
	assert.Empty(t, got)

	last, err := s.Export(ctx, "ETHUSDT", "5m", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(30), last[0].Timestamp)
	assert.Equal(t, int64(40), last[1].Timestamp)

	none, err := s.Export(ctx, "ETHUSDT", "5m", 0)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestCovers(t *testing.T) {
	cs := candlesAt(1000, 2000, 3000)
	assert.True(t, Covers(cs, 1000, 3000, 1000))
	assert.True(t, Covers(cs, 500, 3500, 1000))
	assert.False(t, Covers(cs, 0, 3000, 500))
	assert.False(t, Covers(nil, 0, 1, 1))
}

func TestCovers_RejectsHoles(t *testing.T) {
	var cs []market.Candle
	for ts := int64(0); ts < 10; ts++ {
		cs = append(cs, market.Candle{Timestamp: ts * 1000})
	}
	for ts := int64(90); ts < 100; ts++ {
		cs = append(cs, market.Candle{Timestamp: ts * 1000})
	}
	assert.False(t, Covers(cs, 0, 100_000, 1000))
	assert.True(t, Covers(cs[:10], 0, 10_000, 1000))

	// one missing bar is tolerated
	gap := append(append([]market.Candle(nil), cs[:4]...), cs[5:10]...)
	assert.True(t, Covers(gap, 0, 10_000, 1000))
}
