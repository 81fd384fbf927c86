package analyze

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chartlens/internal/analysis"
	"chartlens/internal/engine"
	"chartlens/internal/gateway/database"
	"chartlens/internal/logger"
	"chartlens/internal/market"
	"chartlens/internal/pkg/id"
)

const requestIDHeader = "X-Request-ID"

// Runner is the slice of *engine.Engine the router needs.
type Runner interface {
	Run(ctx context.Context, req engine.Request) (engine.Result, error)
	Scan(ctx context.Context, req engine.Request, ops []engine.Operation) ([]engine.Result, error)
}

// RunLog serves journaled runs; *database.SignalLog implements it.
type RunLog interface {
	Recent(ctx context.Context, symbol string, limit int) ([]database.Run, error)
	Result(ctx context.Context, runID string) (engine.Result, bool, error)
	Signals(ctx context.Context, runID string) ([]database.Signal, error)
}

// Router handles analysis API endpoints
type Router struct {
	runner Runner
	runs   RunLog
}

func NewRouter(runner Runner, runs RunLog) *Router {
	return &Router{runner: runner, runs: runs}
}

// Register registers the analysis API routes
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/operations", r.handleOperations)
	group.POST("/scan", r.handleScan)
	group.POST("/run/:operation", r.handleRun)
	group.GET("/runs", r.handleRuns)
	group.GET("/runs/:id", r.handleRunDetail)
}

// RequestBody is the JSON body of run and scan calls. Times are unix milliseconds.
type RequestBody struct {
	Symbol      string                   `json:"symbol"`
	Interval    string                   `json:"interval"`
	StartTS     int64                    `json:"start_ts"`
	EndTS       int64                    `json:"end_ts"`
	Candles     []market.Candle          `json:"candles"`
	Indicators  []market.IndicatorSeries `json:"indicators"`
	Indicator   string                   `json:"indicator"`
	Supports    []float64                `json:"supports"`
	Resistances []float64                `json:"resistances"`
	Params      engine.Params            `json:"params"`
	Operations  []string                 `json:"operations,omitempty"`
}

func (b RequestBody) toRequest(op engine.Operation) engine.Request {
	req := engine.Request{
		Operation:   op,
		Symbol:      b.Symbol,
		Interval:    b.Interval,
		Candles:     b.Candles,
		Indicators:  b.Indicators,
		Indicator:   b.Indicator,
		Supports:    b.Supports,
		Resistances: b.Resistances,
		Params:      b.Params,
	}
	if b.StartTS > 0 {
		req.Start = time.UnixMilli(b.StartTS).UTC()
	}
	if b.EndTS > 0 {
		req.End = time.UnixMilli(b.EndTS).UTC()
	}
	return req
}

type operationInfo struct {
	Name        engine.Operation `json:"name"`
	Description string           `json:"description"`
}

func (r *Router) handleOperations(c *gin.Context) {
	ops := engine.Operations()
	out := make([]operationInfo, len(ops))
	for i, op := range ops {
		out[i] = operationInfo{Name: op, Description: op.Describe()}
	}
	c.JSON(http.StatusOK, gin.H{"operations": out})
}

func (r *Router) handleRun(c *gin.Context) {
	op, err := engine.ParseOperation(c.Param("operation"))
	if err != nil {
		r.fail(c, err)
		return
	}
	var body RequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求体解析失败: " + err.Error(), "request_id": requestID(c)})
		return
	}
	res, err := r.runner.Run(c.Request.Context(), body.toRequest(op))
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": res, "request_id": requestID(c)})
}

func (r *Router) handleScan(c *gin.Context) {
	var body RequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求体解析失败: " + err.Error(), "request_id": requestID(c)})
		return
	}
	ops := make([]engine.Operation, 0, len(body.Operations))
	for _, name := range body.Operations {
		op, err := engine.ParseOperation(name)
		if err != nil {
			r.fail(c, err)
			return
		}
		ops = append(ops, op)
	}
	results, err := r.runner.Scan(c.Request.Context(), body.toRequest(""), ops)
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "request_id": requestID(c)})
}

func (r *Router) handleRuns(c *gin.Context) {
	if r.runs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "signal log 未启用"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit 非法"})
		return
	}
	runs, err := r.runs.Recent(c.Request.Context(), c.Query("symbol"), limit)
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (r *Router) handleRunDetail(c *gin.Context) {
	if r.runs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "signal log 未启用"})
		return
	}
	runID := strings.TrimSpace(c.Param("id"))
	if _, err := id.Time(runID); err != nil {
		r.fail(c, analysis.Invalid("runs", "run id %q is not a ULID", runID))
		return
	}
	res, ok, err := r.runs.Result(c.Request.Context(), runID)
	if err != nil {
		r.fail(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	signals, err := r.runs.Signals(c.Request.Context(), runID)
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": res, "signals": signals})
}

// fail maps analysis error kinds onto status codes: invalid input 400, insufficient data 422.
func (r *Router) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		logger.With(map[string]any{"request_id": requestID(c)}).
			Errorf("[analysis-api] %s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{"error": err.Error(), "request_id": requestID(c)})
}

func StatusFor(err error) int {
	switch {
	case errors.Is(err, analysis.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, analysis.ErrInsufficientData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// RequestID tags every request with X-Request-ID, generating one when the caller sent none,
// and logs the finished request at debug level under that id.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDHeader, rid)
		c.Header(requestIDHeader, rid)
		started := time.Now()
		c.Next()
		logger.With(map[string]any{
			"request_id": rid,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(started).Milliseconds(),
		}).Debug("[analysis-api] request")
	}
}

func requestID(c *gin.Context) string {
	return c.GetString(requestIDHeader)
}
