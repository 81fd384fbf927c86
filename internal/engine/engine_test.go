package engine

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chartlens/internal/analysis"
	"chartlens/internal/analysis/levels"
	"chartlens/internal/analysis/pattern"
	"chartlens/internal/market"
	"chartlens/internal/store"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// triangle oscillates 100..105..100 with a period of 10 candles.
func triangle(start time.Time, n int) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		v := 100 + 5 - math.Abs(float64(i%10)-5)
		out[i] = market.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Hour).UnixMilli(),
			Open:      v, High: v + 0.5, Low: v - 0.5, Close: v, Volume: 1000,
		}
	}
	return out
}

type fakeSource struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeSource) FetchRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]market.Candle, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return triangle(start, int(end.Sub(start)/time.Hour)), nil
}

func (f *fakeSource) Close() error { return nil }

type fakeJournal struct {
	mu      sync.Mutex
	results []Result
	err     error
}

func (j *fakeJournal) Record(ctx context.Context, res Result) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.results = append(j.results, res)
	return j.err
}

func newTestEngine(deps Deps) *Engine {
	cfg := DefaultConfig()
	cfg.Seed = 42
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return base.Add(100 * time.Hour) }
	}
	return New(cfg, deps)
}

func TestRun_UnknownOperation(t *testing.T) {
	_, err := newTestEngine(Deps{}).Run(context.Background(), Request{Operation: "fib"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, analysis.ErrInvalidInput))
}

func TestRun_InvalidRange(t *testing.T) {
	eng := newTestEngine(Deps{Source: &fakeSource{}})
	_, err := eng.Run(context.Background(), Request{
		Operation: OpLevels, Symbol: "btcusdt", Interval: "1h",
		Start: base.Add(time.Hour), End: base,
	})
	assert.ErrorIs(t, err, analysis.ErrInvalidInput)

	_, err = eng.Run(context.Background(), Request{Operation: OpLevels, Start: base, End: base.Add(time.Hour)})
	assert.ErrorIs(t, err, analysis.ErrInvalidInput)
}

func TestRun_RejectsMalformedInlineCandles(t *testing.T) {
	candles := triangle(base, 30)
	candles[3].Close = math.NaN()
	_, err := newTestEngine(Deps{}).Run(context.Background(), Request{Operation: OpPatterns, Candles: candles})
	assert.ErrorIs(t, err, analysis.ErrInvalidInput)

	_, err = newTestEngine(Deps{}).Run(context.Background(), Request{
		Operation: OpTrendline, Candles: triangle(base, 30), Params: Params{Threshold: -1},
	})
	assert.ErrorIs(t, err, analysis.ErrInvalidInput)
}

func TestRun_TrendlineFitsBothSides(t *testing.T) {
	journal := &fakeJournal{}
	res, err := newTestEngine(Deps{Journal: journal}).Run(context.Background(), Request{
		Operation: OpTrendline, Symbol: "btcusdt", Interval: "1h", Candles: triangle(base, 60),
	})
	require.NoError(t, err)
	require.NotNil(t, res.Trendlines)
	require.NotNil(t, res.Trendlines.Resistance)
	require.NotNil(t, res.Trendlines.Support)

	assert.InDelta(t, 1.0, res.Trendlines.Resistance.Confidence, 1e-9)
	assert.InDelta(t, 105.5, res.Trendlines.Resistance.Line.At(base.UnixMilli()), 1e-6)
	assert.InDelta(t, 99.5, res.Trendlines.Support.Line.At(base.UnixMilli()), 1e-6)
	assert.Equal(t, base.UnixMilli(), res.Trendlines.Support.Start.Timestamp)
	assert.Equal(t, "BTCUSDT", res.Symbol)
	assert.Equal(t, 60, res.CandleCount)
	assert.NotEmpty(t, res.RunID)

	require.Len(t, journal.results, 1)
	assert.Equal(t, res.RunID, journal.results[0].RunID)
}

func TestRun_TrendlineInsufficientOnMonotonicSeries(t *testing.T) {
	candles := make([]market.Candle, 30)
	for i := range candles {
		v := 100 + float64(i)
		candles[i] = market.Candle{Timestamp: int64(i) * 3_600_000, Open: v, High: v + 1, Low: v - 1, Close: v, Volume: 1}
	}
	_, err := newTestEngine(Deps{}).Run(context.Background(), Request{Operation: OpTrendline, Candles: candles})
	require.Error(t, err)
	assert.ErrorIs(t, err, analysis.ErrInsufficientData)
	assert.Contains(t, err.Error(), "found 0 need 3")
}

func TestRun_DivergenceIndicatorChecks(t *testing.T) {
	eng := newTestEngine(Deps{})
	candles := triangle(base, 60)

	short := market.IndicatorSeries{Name: "RSI"}
	for i := 0; i < 5; i++ {
		short.Values = append(short.Values, market.Point{Timestamp: candles[i].Timestamp, Value: 50})
	}
	_, err := eng.Run(context.Background(), Request{
		Operation: OpDivergence, Candles: candles, Indicators: []market.IndicatorSeries{short},
	})
	assert.ErrorIs(t, err, analysis.ErrInsufficientData)

	_, err = eng.Run(context.Background(), Request{Operation: OpDivergence, Candles: candles, Indicator: "stoch_rsi"})
	assert.ErrorIs(t, err, analysis.ErrInvalidInput)

	_, err = eng.Run(context.Background(), Request{
		Operation: OpDivergence, Candles: candles, Params: Params{DivergenceKinds: "sideways"},
	})
	assert.ErrorIs(t, err, analysis.ErrInvalidInput)

	res, err := eng.Run(context.Background(), Request{Operation: OpDivergence, Candles: candles})
	require.NoError(t, err)
	assert.Equal(t, OpDivergence, res.Operation)
	require.Len(t, res.Readings, 1)
	assert.Equal(t, "rsi", res.Readings[0].Name)
	assert.NotEmpty(t, res.Readings[0].State)
}

func TestRun_MACDCrossoverNeedsWarmup(t *testing.T) {
	eng := newTestEngine(Deps{})
	_, err := eng.Run(context.Background(), Request{Operation: OpMACDCrossover, Candles: triangle(base, 20)})
	assert.ErrorIs(t, err, analysis.ErrInsufficientData)

	_, err = eng.Run(context.Background(), Request{Operation: OpMACDCrossover, Candles: triangle(base, 80)})
	assert.NoError(t, err)
}

func TestLoad_CachesSourceCandles(t *testing.T) {
	src := &fakeSource{}
	cache := store.NewMemoryKlineStore()
	eng := newTestEngine(Deps{Source: src, Cache: cache})
	req := Request{Operation: OpLevels, Symbol: "ethusdt", Interval: "1h", Start: base, End: base.Add(48 * time.Hour)}

	first, err := eng.Load(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, first.Candles, 48)

	second, err := eng.Load(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.Candles, second.Candles)
	assert.Equal(t, 1, src.calls)
}

func TestLoad_SourceError(t *testing.T) {
	eng := newTestEngine(Deps{Source: &fakeSource{err: errors.New("boom")}})
	_, err := eng.Load(context.Background(), Request{Symbol: "btcusdt", Interval: "1h", Start: base, End: base.Add(time.Hour)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.False(t, errors.Is(err, analysis.ErrInvalidInput))
}

func TestLoad_RefetchesWhenCacheHasHoles(t *testing.T) {
	src := &fakeSource{}
	cache := store.NewMemoryKlineStore()
	ctx := context.Background()
	require.NoError(t, cache.Put(ctx, "BTCUSDT", "1h", triangle(base, 10), 0))
	require.NoError(t, cache.Put(ctx, "BTCUSDT", "1h", triangle(base.Add(90*time.Hour), 10), 0))
	eng := newTestEngine(Deps{Source: src, Cache: cache})

	data, err := eng.Load(ctx, Request{Symbol: "btcusdt", Interval: "1h", Start: base, End: base.Add(100 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, data.Candles, 100)
	assert.Equal(t, 1, src.calls)
}

func patternsNearPrice(ps []pattern.Pattern, price float64) int {
	n := 0
	for _, p := range ps {
		if p.NearLevel != nil && p.NearLevel.Price == price {
			n++
		}
	}
	return n
}

func TestRun_LevelsPersistedAndReusedForSameWindow(t *testing.T) {
	ctx := context.Background()
	lvlStore := store.NewMemoryLevelStore(3)
	eng := newTestEngine(Deps{Source: &fakeSource{}, Cache: store.NewMemoryKlineStore(), Levels: lvlStore})
	req := Request{Operation: OpLevels, Symbol: "btcusdt", Interval: "1h", Start: base, End: base.Add(60 * time.Hour)}

	res, err := eng.Run(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, res.Levels)

	saved, ok, err := lvlStore.LoadLevels(ctx, "btcusdt", "1h")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, *res.Levels, saved)

	// A marker support at 100 shows whether patterns read the stored set.
	marker := levels.Set{
		Support: []levels.Level{{Kind: levels.Support, Price: 100, Touches: 1}},
		From:    saved.From,
		To:      saved.To,
	}
	require.NoError(t, lvlStore.SaveLevels(ctx, "btcusdt", "1h", marker))
	req.Operation = OpPatterns
	res, err = eng.Run(ctx, req)
	require.NoError(t, err)
	assert.Positive(t, patternsNearPrice(res.Patterns, 100))

	marker.From--
	require.NoError(t, lvlStore.SaveLevels(ctx, "btcusdt", "1h", marker))
	res, err = eng.Run(ctx, req)
	require.NoError(t, err)
	assert.Zero(t, patternsNearPrice(res.Patterns, 100), "levels from another window are recomputed")
}

func TestRun_InlinePatternsIgnoreStoredLevels(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(Deps{Levels: store.NewMemoryLevelStore(3)})
	_, err := eng.Run(ctx, Request{Operation: OpLevels, Symbol: "btcusdt", Interval: "1h", Candles: triangle(base, 60)})
	require.NoError(t, err)

	window := []market.Candle{
		{Timestamp: base.Add(500 * time.Hour).UnixMilli(), Open: 99.5, High: 100, Low: 99, Close: 99.5, Volume: 1000},
		{Timestamp: base.Add(501 * time.Hour).UnixMilli(), Open: 99.5, High: 100, Low: 99, Close: 99.5, Volume: 1000},
	}
	req := Request{Operation: OpPatterns, Symbol: "btcusdt", Interval: "1h", Candles: window}
	got, err := eng.Run(ctx, req)
	require.NoError(t, err)
	fresh, err := newTestEngine(Deps{}).Run(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, fresh.Patterns, got.Patterns)
	for _, p := range got.Patterns {
		assert.Nil(t, p.NearLevel)
	}
}

func TestRun_VolumeDivergenceKeepsWeakSignalsByDefault(t *testing.T) {
	candles := make([]market.Candle, 20)
	for i := range candles {
		candles[i] = market.Candle{Timestamp: base.Add(time.Duration(i) * time.Hour).UnixMilli(), Open: 89, High: 90, Low: 88, Close: 89.5, Volume: 500}
	}
	candles[5].High, candles[5].Volume = 100, 1000
	candles[14].High, candles[14].Volume = 110, 800

	eng := newTestEngine(Deps{})
	res, err := eng.Run(context.Background(), Request{Operation: OpVolumeDivergence, Candles: candles})
	require.NoError(t, err)
	require.Len(t, res.Divergences, 1)
	assert.InDelta(t, 20, res.Divergences[0].Strength, 1e-9)

	res, err = eng.Run(context.Background(), Request{Operation: OpVolumeDivergence, Candles: candles, Params: Params{MinStrength: 30}})
	require.NoError(t, err)
	assert.Empty(t, res.Divergences)
}

func TestScan_RunsEveryOperationInOrder(t *testing.T) {
	journal := &fakeJournal{err: errors.New("disk full")}
	src := &fakeSource{}
	eng := newTestEngine(Deps{Source: src, Journal: journal})

	ops := []Operation{OpLevels, OpTrendline, OpVolumeDivergence, OpMACDCrossover}
	results, err := eng.Scan(context.Background(), Request{
		Symbol: "btcusdt", Interval: "1h", Start: base, End: base.Add(80 * time.Hour),
	}, ops)
	require.NoError(t, err)
	require.Len(t, results, len(ops))
	for i, op := range ops {
		assert.Equal(t, op, results[i].Operation)
		assert.Equal(t, 80, results[i].CandleCount)
	}
	assert.Equal(t, 1, src.calls)
	assert.Len(t, journal.results, len(ops))
}

func TestScan_KeepsOtherResultsWhenOneLacksData(t *testing.T) {
	journal := &fakeJournal{}
	results, err := newTestEngine(Deps{Journal: journal}).Scan(context.Background(), Request{Candles: triangle(base, 30)}, nil)
	require.NoError(t, err)
	require.Len(t, results, len(Operations()))

	byOp := map[Operation]Result{}
	for i, op := range Operations() {
		assert.Equal(t, op, results[i].Operation)
		byOp[op] = results[i]
	}
	assert.Contains(t, byOp[OpMACDCrossover].Error, "insufficient points")
	assert.Empty(t, byOp[OpMACDCrossover].RunID)
	for _, op := range []Operation{OpPatterns, OpDivergence, OpVolumeDivergence, OpLevels} {
		assert.Empty(t, byOp[op].Error, op)
		assert.NotEmpty(t, byOp[op].RunID, op)
	}
	if msg := byOp[OpTrendline].Error; msg != "" {
		assert.True(t, strings.HasPrefix(msg, "trendline: insufficient"), msg)
	}
	for _, res := range journal.results {
		assert.Empty(t, res.Error)
	}
}

func TestScan_FailsFastOnInvalidInput(t *testing.T) {
	_, err := newTestEngine(Deps{}).Scan(context.Background(), Request{Candles: triangle(base, 20)}, []Operation{"bogus"})
	assert.ErrorIs(t, err, analysis.ErrInvalidInput)

	_, err = newTestEngine(Deps{}).Scan(context.Background(), Request{
		Candles: triangle(base, 80), Params: Params{DivergenceKinds: "sideways"},
	}, []Operation{OpLevels, OpDivergence})
	assert.ErrorIs(t, err, analysis.ErrInvalidInput)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = newTestEngine(Deps{}).Scan(ctx, Request{Candles: triangle(base, 80)}, []Operation{OpLevels})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScanError_DoesNotRepeatOperation(t *testing.T) {
	err := scanError(OpTrendline, analysis.Insufficient("trendline", 2, 3))
	assert.Equal(t, "trendline: insufficient points, found 2 need 3", err.Error())

	err = scanError(OpLevels, errors.New("boom"))
	assert.Equal(t, "levels: boom", err.Error())
}

func TestParseOperation(t *testing.T) {
	op, err := ParseOperation(" Volume-Divergence ")
	require.NoError(t, err)
	assert.Equal(t, OpVolumeDivergence, op)

	_, err = ParseOperation("elliott")
	assert.ErrorIs(t, err, analysis.ErrInvalidInput)

	for _, op := range Operations() {
		assert.NotEmpty(t, op.Describe())
	}
}
