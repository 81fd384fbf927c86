package app

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chartlens/internal/config"
	"chartlens/internal/engine"
	"chartlens/internal/market"
)

func zigzag(n int) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		v := 110 - math.Abs(float64(i%12)-6)*10/6
		out[i] = market.Candle{Timestamp: int64(i) * 3_600_000, Open: v, High: v + 0.5, Low: v - 0.5, Close: v, Volume: 1}
	}
	return out
}

func TestBuild_MemoryStorage(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = "memory"
	a, err := Build(context.Background(), &cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Journal)
	assert.Nil(t, a.RunLog())
	require.NotNil(t, a.Candles)

	res, err := a.Engine.Run(context.Background(), engine.Request{Operation: engine.OpLevels, Candles: zigzag(60)})
	require.NoError(t, err)
	require.NotNil(t, res.Levels)
}

func TestBuild_SQLiteJournalsRuns(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.DSN = filepath.Join(t.TempDir(), "chartlens.db")
	a, err := Build(context.Background(), &cfg)
	require.NoError(t, err)
	defer a.Close()
	require.NotNil(t, a.Journal)
	require.NotNil(t, a.RunLog())

	res, err := a.Engine.Run(context.Background(), engine.Request{
		Operation: engine.OpLevels, Symbol: "BTCUSDT", Interval: "1h", Candles: zigzag(60),
	})
	require.NoError(t, err)

	runs, err := a.Journal.Recent(context.Background(), "BTCUSDT", 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.RunID, runs[0].RunID)
	assert.Equal(t, res.Count(), runs[0].SignalCount)
}
