package analyze

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chartlens/internal/analysis"
	"chartlens/internal/engine"
	"chartlens/internal/gateway/database"
	"chartlens/internal/logger"
	"chartlens/internal/market"
)

type fakeRunner struct {
	err     error
	lastReq engine.Request
	lastOps []engine.Operation
}

func (f *fakeRunner) Run(ctx context.Context, req engine.Request) (engine.Result, error) {
	f.lastReq = req
	if f.err != nil {
		return engine.Result{}, f.err
	}
	return engine.Result{RunID: "01TEST", Operation: req.Operation, Symbol: req.Symbol}, nil
}

func (f *fakeRunner) Scan(ctx context.Context, req engine.Request, ops []engine.Operation) ([]engine.Result, error) {
	f.lastReq, f.lastOps = req, ops
	if f.err != nil {
		return nil, f.err
	}
	out := make([]engine.Result, len(ops))
	for i, op := range ops {
		out[i] = engine.Result{Operation: op}
	}
	return out, nil
}

const knownRun = "01HQZ8Y3K4M5N6P7Q8R9S0T1V2"

type fakeRuns struct{}

func (fakeRuns) Recent(ctx context.Context, symbol string, limit int) ([]database.Run, error) {
	return []database.Run{{RunID: knownRun, Symbol: symbol}}, nil
}

func (fakeRuns) Result(ctx context.Context, runID string) (engine.Result, bool, error) {
	if runID != knownRun {
		return engine.Result{}, false, nil
	}
	return engine.Result{RunID: knownRun, Operation: engine.OpLevels}, true, nil
}

func (fakeRuns) Signals(ctx context.Context, runID string) ([]database.Signal, error) {
	return []database.Signal{{RunID: runID, Kind: "support", Price: 99.5}}, nil
}

func newTestServer(t *testing.T, runner Runner, runs RunLog) http.Handler {
	t.Helper()
	srv, err := NewServer(ServerConfig{Runner: runner, Runs: runs})
	require.NoError(t, err)
	return srv.Handler()
}

func do(h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthzAndOperations(t *testing.T) {
	h := newTestServer(t, &fakeRunner{}, nil)

	w := do(h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	w = do(h, http.MethodGet, "/api/analysis/operations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Operations []operationInfo `json:"operations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Operations, len(engine.Operations()))
	assert.Equal(t, engine.OpTrendline, body.Operations[0].Name)
}

func TestRun_ParsesBodyAndOperation(t *testing.T) {
	runner := &fakeRunner{}
	h := newTestServer(t, runner, nil)

	w := do(h, http.MethodPost, "/api/analysis/run/volume-divergence", RequestBody{
		Symbol: "BTCUSDT", Interval: "1h", StartTS: 1_700_000_000_000, EndTS: 1_700_003_600_000,
		Params: engine.Params{MinStrength: 10},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, engine.OpVolumeDivergence, runner.lastReq.Operation)
	assert.Equal(t, time.UnixMilli(1_700_000_000_000).UTC(), runner.lastReq.Start)
	assert.Equal(t, 10.0, runner.lastReq.Params.MinStrength)
	assert.Contains(t, w.Body.String(), `"run_id":"01TEST"`)
}

func TestRun_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{analysis.Invalid("engine", "bad"), http.StatusBadRequest},
		{analysis.Insufficient("trendline", 1, 3), http.StatusUnprocessableEntity},
		{errors.New("exchange down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h := newTestServer(t, &fakeRunner{err: tc.err}, nil)
		w := do(h, http.MethodPost, "/api/analysis/run/trendline", RequestBody{Symbol: "BTCUSDT"})
		assert.Equal(t, tc.code, w.Code, tc.err.Error())
		assert.Contains(t, w.Body.String(), tc.err.Error())
	}

	h := newTestServer(t, &fakeRunner{}, nil)
	w := do(h, http.MethodPost, "/api/analysis/run/elliott", RequestBody{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequestIDEchoedAndLogged(t *testing.T) {
	var logs bytes.Buffer
	logger.SetOutput(&logs)
	logger.SetLevel("debug")
	defer func() {
		logger.SetOutput(os.Stderr)
		logger.SetLevel("info")
	}()

	h := newTestServer(t, &fakeRunner{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(requestIDHeader))
	assert.Contains(t, logs.String(), "request_id=abc-123")
	assert.Contains(t, logs.String(), "/healthz")
}

func TestScan(t *testing.T) {
	runner := &fakeRunner{}
	h := newTestServer(t, runner, nil)

	w := do(h, http.MethodPost, "/api/analysis/scan", RequestBody{Symbol: "ETHUSDT", Operations: []string{"levels", "MACD_Crossover"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []engine.Operation{engine.OpLevels, engine.OpMACDCrossover}, runner.lastOps)

	w = do(h, http.MethodPost, "/api/analysis/scan", RequestBody{Operations: []string{"nope"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRuns(t *testing.T) {
	h := newTestServer(t, &fakeRunner{}, nil)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/api/analysis/runs", nil).Code)

	h = newTestServer(t, &fakeRunner{}, fakeRuns{})
	w := do(h, http.MethodGet, "/api/analysis/runs?symbol=BTCUSDT&limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"run_id":"`+knownRun+`"`)

	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/api/analysis/runs?limit=x", nil).Code)

	w = do(h, http.MethodGet, "/api/analysis/runs/"+knownRun, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"kind":"support"`)

	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/api/analysis/runs/01HQZ8Y3K4M5N6P7Q8R9S0T1V3", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/api/analysis/runs/zz", nil).Code)
}

func TestRun_WithRealEngine(t *testing.T) {
	cfg := engine.DefaultConfig()
	cfg.Seed = 7
	h := newTestServer(t, engine.New(cfg, engine.Deps{}), nil)

	candles := make([]market.Candle, 60)
	for i := range candles {
		v := 105 - math.Abs(float64(i%10)-5)
		candles[i] = market.Candle{Timestamp: int64(i) * 3_600_000, Open: v, High: v + 0.5, Low: v - 0.5, Close: v, Volume: 1}
	}
	w := do(h, http.MethodPost, "/api/analysis/run/trendline", RequestBody{Candles: candles})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"resistance"`)

	w = do(h, http.MethodPost, "/api/analysis/run/trendline", RequestBody{Candles: candles[:5]})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}
