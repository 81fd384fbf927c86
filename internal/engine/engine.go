package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"chartlens/internal/analysis"
	"chartlens/internal/analysis/crossover"
	"chartlens/internal/analysis/divergence"
	"chartlens/internal/analysis/extrema"
	"chartlens/internal/analysis/indicator"
	"chartlens/internal/analysis/levels"
	"chartlens/internal/analysis/pattern"
	"chartlens/internal/analysis/trendline"
	"chartlens/internal/logger"
	"chartlens/internal/market"
	"chartlens/internal/pkg/id"
	"chartlens/internal/store"
)

// CandleCache is satisfied by store.MemoryKlineStore and store.SQLKlineStore.
type CandleCache interface {
	Put(ctx context.Context, symbol, interval string, ks []market.Candle, max int) error
	Range(ctx context.Context, symbol, interval string, start, end int64) ([]market.Candle, error)
}

// LevelStore is satisfied by store.MemoryLevelStore and store.RedisLevelStore.
type LevelStore interface {
	SaveLevels(ctx context.Context, symbol, interval string, set levels.Set) error
	LoadLevels(ctx context.Context, symbol, interval string) (levels.Set, bool, error)
}

// Journal records every successful result; database.SignalLog implements it.
type Journal interface {
	Record(ctx context.Context, res Result) error
}

// Deps are the engine's collaborators. All are optional except Source when requests
// arrive without inline candles.
type Deps struct {
	Source  market.Source
	Cache   CandleCache
	Levels  LevelStore
	Journal Journal
	Clock   func() time.Time
}

type Engine struct {
	cfg     Config
	source  market.Source
	cache   CandleCache
	levels  LevelStore
	journal Journal
	clock   func() time.Time
}

func New(cfg Config, deps Deps) *Engine {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		cfg:     cfg.WithDefaults(),
		source:  deps.Source,
		cache:   deps.Cache,
		levels:  deps.Levels,
		journal: deps.Journal,
		clock:   clock,
	}
}

func (e *Engine) Config() Config { return e.cfg }

// Run validates req, loads its candles and executes one operation.
func (e *Engine) Run(ctx context.Context, req Request) (Result, error) {
	if !req.Operation.Valid() {
		return Result{}, analysis.Invalid("engine", "unknown operation %q", req.Operation)
	}
	data, err := e.Load(ctx, req)
	if err != nil {
		return Result{}, err
	}
	return e.execute(ctx, req, data)
}

// Scan runs several operations concurrently over one candle load. Results follow ops order.
// An operation that lacks data comes back with Error set while the others still run; invalid
// input and cancellation abort the whole scan.
func (e *Engine) Scan(ctx context.Context, req Request, ops []Operation) ([]Result, error) {
	if len(ops) == 0 {
		ops = Operations()
	}
	for _, op := range ops {
		if !op.Valid() {
			return nil, analysis.Invalid("engine", "unknown operation %q", op)
		}
	}
	data, err := e.Load(ctx, req)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(ops))
	g, gctx := errgroup.WithContext(ctx)
	for i, op := range ops {
		i, op := i, op
		g.Go(func() error {
			r := req
			r.Operation = op
			res, err := e.execute(gctx, r, data)
			switch {
			case err == nil:
				results[i] = res
			case errors.Is(err, analysis.ErrInsufficientData):
				logger.Warnf("[engine] scan %s skipped: %v", op, err)
				results[i] = e.skipped(r, data, err)
			default:
				return scanError(op, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Engine) skipped(req Request, data market.Annotated, err error) Result {
	return Result{
		Operation:   req.Operation,
		Symbol:      strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Interval:    strings.TrimSpace(req.Interval),
		GeneratedAt: e.clock().UTC(),
		CandleCount: len(data.Candles),
		Error:       err.Error(),
	}
}

// scanError prefixes err with op unless it already names the operation.
func scanError(op Operation, err error) error {
	var ae *analysis.Error
	if errors.As(err, &ae) && ae.Op == string(op) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (e *Engine) execute(ctx context.Context, req Request, data market.Annotated) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if err := validateParams(req); err != nil {
		return Result{}, err
	}
	started := e.clock()
	res := Result{
		Operation:   req.Operation,
		Symbol:      strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Interval:    strings.TrimSpace(req.Interval),
		GeneratedAt: started.UTC(),
		CandleCount: len(data.Candles),
	}
	if len(data.Candles) == 0 {
		return Result{}, analysis.Insufficient(string(req.Operation), 0, 1)
	}

	var err error
	switch req.Operation {
	case OpTrendline:
		res.Trendlines, err = e.trendlines(req, data.Candles, started)
	case OpPatterns:
		res.Patterns = e.patterns(ctx, req, data.Candles)
	case OpDivergence:
		res.Divergences, res.Readings, err = e.divergences(req, data)
	case OpVolumeDivergence:
		res.Divergences, err = e.volumeDivergences(req, data.Candles)
	case OpMACDCrossover:
		res.Crossovers, err = e.crossovers(req, data)
	case OpLevels:
		set := e.findLevels(ctx, req, data.Candles)
		res.Levels = &set
	default:
		err = analysis.Invalid("engine", "unknown operation %q", req.Operation)
	}
	if err != nil {
		return Result{}, err
	}

	res.RunID = id.At(started)
	logger.Infof("[engine] %s %s %s candles=%d signals=%d run=%s", req.Operation, res.Symbol, res.Interval, res.CandleCount, res.Count(), res.RunID)
	if e.journal != nil {
		if err := e.journal.Record(ctx, res); err != nil {
			logger.Warnf("[engine] journal %s failed: %v", res.RunID, err)
		}
	}
	return res, nil
}

// Load returns validated candles for req: inline candles win, then a covering cache hit,
// then the market source (whose result is written back to the cache).
func (e *Engine) Load(ctx context.Context, req Request) (market.Annotated, error) {
	for _, s := range req.Indicators {
		if err := market.ValidatePoints(s.Values); err != nil {
			return market.Annotated{}, analysis.Invalid("engine", "indicator %q: %v", s.Name, err)
		}
	}
	if len(req.Candles) > 0 {
		if err := market.ValidateCandles(req.Candles); err != nil {
			return market.Annotated{}, analysis.Invalid("engine", "%v", err)
		}
		return market.Annotated{Candles: req.Candles, Indicators: req.Indicators}, nil
	}

	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	interval := strings.TrimSpace(req.Interval)
	if symbol == "" || interval == "" {
		return market.Annotated{}, analysis.Invalid("engine", "symbol and interval are required without inline candles")
	}
	step, err := market.IntervalDuration(interval)
	if err != nil {
		return market.Annotated{}, analysis.Invalid("engine", "%v", err)
	}
	if req.Start.IsZero() || req.End.IsZero() || !req.Start.Before(req.End) {
		return market.Annotated{}, analysis.Invalid("engine", "start must be before end (start=%s end=%s)",
			req.Start.UTC().Format(time.RFC3339), req.End.UTC().Format(time.RFC3339))
	}
	startMs, endMs := req.Start.UnixMilli(), req.End.UnixMilli()

	if e.cache != nil {
		cached, err := e.cache.Range(ctx, symbol, interval, startMs, endMs-1)
		if err != nil {
			logger.Warnf("[engine] cache read %s %s failed: %v", symbol, interval, err)
		} else if store.Covers(cached, startMs, endMs, step.Milliseconds()) {
			logger.Debugf("[engine] cache hit %s %s candles=%d", symbol, interval, len(cached))
			return market.Annotated{Candles: cached, Indicators: req.Indicators}, nil
		}
	}
	if e.source == nil {
		return market.Annotated{}, errors.New("no market source configured")
	}
	candles, err := e.source.FetchRange(ctx, symbol, interval, req.Start, req.End)
	if err != nil {
		return market.Annotated{}, fmt.Errorf("fetch %s %s: %w", symbol, interval, err)
	}
	if err := market.ValidateCandles(candles); err != nil {
		return market.Annotated{}, fmt.Errorf("source returned bad candles: %w", err)
	}
	if e.cache != nil && len(candles) > 0 {
		if err := e.cache.Put(ctx, symbol, interval, candles, e.cfg.CacheMax); err != nil {
			logger.Warnf("[engine] cache write %s %s failed: %v", symbol, interval, err)
		}
	}
	return market.Annotated{Candles: candles, Indicators: req.Indicators}, nil
}

func validateParams(req Request) error {
	p := req.Params
	for name, v := range map[string]float64{
		"threshold":        p.Threshold,
		"min_strength":     p.MinStrength,
		"min_significance": p.MinSignificance,
	} {
		if !market.IsFinite(v) || v < 0 {
			return analysis.Invalid("engine", "%s must be a finite non-negative number", name)
		}
	}
	for _, lvl := range append(append([]float64(nil), req.Supports...), req.Resistances...) {
		if !market.IsFinite(lvl) {
			return analysis.Invalid("engine", "support/resistance levels must be finite")
		}
	}
	if p.ExtremaWindow < 0 || p.MinPoints < 0 || p.MaxIterations < 0 || p.Lookback < 0 || p.CrossLookback < 0 {
		return analysis.Invalid("engine", "window, lookback and iteration parameters must not be negative")
	}
	return nil
}

func (e *Engine) seed(now time.Time) int64 {
	if e.cfg.Seed != 0 {
		return e.cfg.Seed
	}
	return now.UnixNano()
}

func (e *Engine) trendlines(req Request, candles []market.Candle, now time.Time) (*Trendlines, error) {
	window := pick(req.Params.ExtremaWindow, e.cfg.ExtremaWindow)
	opts := e.cfg.Trendline
	opts.MinPoints = pick(req.Params.MinPoints, opts.MinPoints)
	opts.MaxIterations = pick(req.Params.MaxIterations, opts.MaxIterations)
	if req.Params.Threshold > 0 {
		opts.Threshold = req.Params.Threshold
	}

	rng := rand.New(rand.NewSource(e.seed(now)))
	first, last := candles[0].Timestamp, candles[len(candles)-1].Timestamp
	highs := trendline.FromExtrema(extrema.PriceHighs(candles, window))
	lows := trendline.FromExtrema(extrema.PriceLows(candles, window))

	out := &Trendlines{}
	if r, ok := trendline.Fit(highs, opts.MinPoints, opts.Threshold, opts.MaxIterations, rng); ok {
		r = r.Extend(first, last)
		out.Resistance = &r
	}
	if r, ok := trendline.Fit(lows, opts.MinPoints, opts.Threshold, opts.MaxIterations, rng); ok {
		r = r.Extend(first, last)
		out.Support = &r
	}
	if out.Resistance == nil && out.Support == nil {
		found := len(highs)
		if len(lows) > found {
			found = len(lows)
		}
		return nil, analysis.Insufficient(string(OpTrendline), found, opts.MinPoints)
	}
	return out, nil
}

func (e *Engine) patterns(ctx context.Context, req Request, candles []market.Candle) []pattern.Pattern {
	supports, resistances := req.Supports, req.Resistances
	if len(supports) == 0 && len(resistances) == 0 {
		supports, resistances = e.storedOrFoundLevels(ctx, req, candles).Prices()
	}
	cfg := e.cfg.Pattern
	if req.Params.MinSignificance > 0 {
		cfg.MinSignificance = req.Params.MinSignificance
	}
	return pattern.Detect(candles, supports, resistances, cfg)
}

// storedOrFoundLevels reuses a stored set only for fetched candles of the same window;
// inline candles always get levels of their own.
func (e *Engine) storedOrFoundLevels(ctx context.Context, req Request, candles []market.Candle) levels.Set {
	if e.levels != nil && len(req.Candles) == 0 && req.Symbol != "" && req.Interval != "" {
		set, ok, err := e.levels.LoadLevels(ctx, req.Symbol, req.Interval)
		switch {
		case err != nil:
			logger.Warnf("[engine] load levels %s %s failed: %v", req.Symbol, req.Interval, err)
		case ok && set.Covers(candles[0].Timestamp, candles[len(candles)-1].Timestamp):
			logger.Debugf("[engine] reuse levels %s %s", req.Symbol, req.Interval)
			return set
		}
	}
	return e.findLevels(ctx, req, candles)
}

func (e *Engine) findLevels(ctx context.Context, req Request, candles []market.Candle) levels.Set {
	opts := e.cfg.Levels
	if req.Params.ExtremaWindow > 0 {
		opts.Window = req.Params.ExtremaWindow
	}
	set := levels.Find(candles, opts)
	if e.levels != nil && req.Symbol != "" && req.Interval != "" {
		if err := e.levels.SaveLevels(ctx, req.Symbol, req.Interval, set); err != nil {
			logger.Warnf("[engine] save levels %s %s failed: %v", req.Symbol, req.Interval, err)
		}
	}
	return set
}

func (e *Engine) divergenceOptions(req Request) (divergence.Options, error) {
	kindsRaw := req.Params.DivergenceKinds
	if kindsRaw == "" {
		kindsRaw = e.cfg.DivergenceKinds
	}
	kinds, err := divergence.ParseKinds(kindsRaw)
	if err != nil {
		return divergence.Options{}, err
	}
	opts := e.cfg.Divergence
	opts.Kinds = kinds
	opts.Lookback = pick(req.Params.Lookback, opts.Lookback)
	if req.Params.MinStrength > 0 {
		opts.MinStrength = req.Params.MinStrength
	}
	return opts, nil
}

func (e *Engine) divergences(req Request, data market.Annotated) ([]divergence.Divergence, []indicator.Reading, error) {
	opts, err := e.divergenceOptions(req)
	if err != nil {
		return nil, nil, err
	}
	name := req.Indicator
	if strings.TrimSpace(name) == "" {
		name = e.cfg.DefaultIndicator
	}
	canonical := indicator.Canonical(name)
	if _, provided := indicator.Lookup(data.Indicators, canonical); !provided && !known(canonical) {
		return nil, nil, analysis.Invalid(string(OpDivergence), "unknown indicator %q", name)
	}
	series, err := indicator.Resolve(data, canonical, e.cfg.Indicators)
	if err != nil {
		return nil, nil, analysis.Insufficient(string(OpDivergence), 0, e.cfg.MinIndicatorPoints)
	}
	if len(series.Values) < e.cfg.MinIndicatorPoints {
		return nil, nil, analysis.Insufficient(string(OpDivergence), len(series.Values), e.cfg.MinIndicatorPoints)
	}
	out := divergence.Detect(data.Candles, series.Values, canonical, opts)
	sortByConfidence(out)
	return out, []indicator.Reading{indicator.Read(canonical, series.Values, e.cfg.Indicators)}, nil
}

// volumeDivergences keeps every volume signal unless the request sets min_strength.
func (e *Engine) volumeDivergences(req Request, candles []market.Candle) ([]divergence.Divergence, error) {
	if len(candles) < 2 {
		return nil, analysis.Insufficient(string(OpVolumeDivergence), len(candles), 2)
	}
	opts, err := e.divergenceOptions(req)
	if err != nil {
		return nil, err
	}
	opts.MinStrength = req.Params.MinStrength
	out := divergence.DetectVolume(candles, opts)
	sortByConfidence(out)
	return out, nil
}

func (e *Engine) crossovers(req Request, data market.Annotated) ([]crossover.Crossover, error) {
	cfg := e.cfg.Crossover
	cfg.Lookback = pick(req.Params.CrossLookback, cfg.Lookback)
	if req.Params.MinStrength > 0 {
		cfg.MinStrength = req.Params.MinStrength
	}
	macd, okM := indicator.Lookup(data.Indicators, indicator.MACD)
	signal, okS := indicator.Lookup(data.Indicators, indicator.MACDSignal)
	if okM && okS {
		return crossover.Detect(data.Candles, macd.Values, signal.Values, cfg), nil
	}
	out, err := crossover.FromCandles(data.Candles, e.cfg.Indicators.MACD, cfg)
	if err != nil {
		m := e.cfg.Indicators.MACD
		return nil, analysis.Insufficient(string(OpMACDCrossover), len(data.Candles), m.Slow+m.Signal-1)
	}
	return out, nil
}

func known(name string) bool {
	for _, n := range indicator.Names {
		if n == name {
			return true
		}
	}
	return false
}

func sortByConfidence(ds []divergence.Divergence) {
	sort.SliceStable(ds, func(i, j int) bool {
		if ds[i].Confidence != ds[j].Confidence {
			return ds[i].Confidence > ds[j].Confidence
		}
		return ds[i].End.Timestamp > ds[j].End.Timestamp
	})
}

func pick(override, def int) int {
	if override > 0 {
		return override
	}
	return def
}
