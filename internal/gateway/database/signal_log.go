package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"chartlens/internal/analysis/levels"
	"chartlens/internal/engine"
	"chartlens/internal/logger"
)

const runSchema = `
CREATE TABLE IF NOT EXISTS analysis_runs (
    run_id       TEXT PRIMARY KEY,
    operation    TEXT NOT NULL,
    symbol       TEXT NOT NULL DEFAULT '',
    tf           TEXT NOT NULL DEFAULT '',
    generated_at BIGINT NOT NULL,
    candle_count INTEGER NOT NULL,
    signal_count INTEGER NOT NULL,
    payload      TEXT NOT NULL
)`

const signalSchema = `
CREATE TABLE IF NOT EXISTS analysis_signals (
    run_id      TEXT NOT NULL,
    seq         INTEGER NOT NULL,
    kind        TEXT NOT NULL,
    ts          BIGINT NOT NULL,
    price       DOUBLE PRECISION NOT NULL,
    strength    DOUBLE PRECISION,
    description TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (run_id, seq)
)`

// Run is one journaled engine result.
type Run struct {
	RunID       string    `db:"run_id" json:"run_id"`
	Operation   string    `db:"operation" json:"operation"`
	Symbol      string    `db:"symbol" json:"symbol"`
	Interval    string    `db:"tf" json:"interval"`
	GeneratedAt int64     `db:"generated_at" json:"generated_at"`
	CandleCount int       `db:"candle_count" json:"candle_count"`
	SignalCount int       `db:"signal_count" json:"signal_count"`
	Payload     string    `db:"payload" json:"-"`
	Time        time.Time `db:"-" json:"time"`
}

// Signal is one flattened row of a run: a pattern, divergence, crossover, level or trend line.
type Signal struct {
	RunID       string   `json:"run_id"`
	Seq         int      `json:"seq"`
	Kind        string   `json:"kind"`
	Timestamp   int64    `json:"ts"`
	Price       float64  `json:"price"`
	Strength    *float64 `json:"strength,omitempty"`
	Indicator   string   `json:"indicator,omitempty"`
	Description string   `json:"description"`
}

type signalRow struct {
	RunID       string          `db:"run_id"`
	Seq         int             `db:"seq"`
	Kind        string          `db:"kind"`
	TS          int64           `db:"ts"`
	Price       float64         `db:"price"`
	Strength    sql.NullFloat64 `db:"strength"`
	Indicator   sql.NullString  `db:"indicator"`
	Description string          `db:"description"`
}

// SignalLog 记录每次分析的结果，driver 为 "sqlite"（modernc）或 "postgres"（lib/pq）。
type SignalLog struct {
	mu sync.Mutex
	db *sqlx.DB
}

// Open 连接数据库；sqlite 限制为单连接。
func Open(driver, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

// NewSignalLog 建表后返回日志存储。
func NewSignalLog(ctx context.Context, db *sqlx.DB) (*SignalLog, error) {
	s := &SignalLog{db: db}
	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SignalLog) handle() (*sqlx.DB, error) {
	if s == nil {
		return nil, fmt.Errorf("signal log 未初始化")
	}
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("signal log 未初始化")
	}
	return db, nil
}

func (s *SignalLog) Migrate(ctx context.Context) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	for _, q := range []string{runSchema, signalSchema} {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate signal log: %w", err)
		}
	}
	return s.addIndicatorColumn(ctx)
}

// Record implements engine.Journal. The full result is kept as JSON next to the flattened signals.
func (s *SignalLog) Record(ctx context.Context, res engine.Result) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if strings.TrimSpace(res.RunID) == "" {
		return fmt.Errorf("run_id 不能为空")
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result %s: %w", res.RunID, err)
	}
	signals := Flatten(res)

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`
        INSERT INTO analysis_runs (run_id, operation, symbol, tf, generated_at, candle_count, signal_count, payload)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		res.RunID, string(res.Operation), res.Symbol, res.Interval, res.GeneratedAt.UnixMilli(),
		res.CandleCount, len(signals), string(payload)); err != nil {
		return fmt.Errorf("insert run %s: %w", res.RunID, err)
	}
	insert := tx.Rebind(`
        INSERT INTO analysis_signals (run_id, seq, kind, ts, price, strength, indicator, description)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	for _, sig := range signals {
		if _, err := tx.ExecContext(ctx, insert, res.RunID, sig.Seq, sig.Kind, sig.Timestamp, sig.Price,
			nullFloat(sig.Strength), nullIfEmpty(sig.Indicator), sig.Description); err != nil {
			return fmt.Errorf("insert signal %s#%d: %w", res.RunID, sig.Seq, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logger.Debugf("[journal] recorded %s %s %s signals=%d", res.RunID, res.Operation, res.Symbol, len(signals))
	return nil
}

// Recent 返回最近的 limit 条记录，symbol 为空时不过滤。
func (s *SignalLog) Recent(ctx context.Context, symbol string, limit int) ([]Run, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	var (
		rows  []Run
		query string
		args  []interface{}
	)
	if sym == "" {
		query = `SELECT run_id, operation, symbol, tf, generated_at, candle_count, signal_count, payload
                 FROM analysis_runs ORDER BY generated_at DESC, run_id DESC LIMIT ?`
		args = []interface{}{limit}
	} else {
		query = `SELECT run_id, operation, symbol, tf, generated_at, candle_count, signal_count, payload
                 FROM analysis_runs WHERE symbol=? ORDER BY generated_at DESC, run_id DESC LIMIT ?`
		args = []interface{}{sym, limit}
	}
	if err := db.SelectContext(ctx, &rows, db.Rebind(query), args...); err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Time = time.UnixMilli(rows[i].GeneratedAt).UTC()
	}
	return rows, nil
}

// Result decodes the stored payload of one run. ok is false when the run is unknown.
func (s *SignalLog) Result(ctx context.Context, runID string) (engine.Result, bool, error) {
	db, err := s.handle()
	if err != nil {
		return engine.Result{}, false, err
	}
	var payload string
	err = db.GetContext(ctx, &payload, db.Rebind(`SELECT payload FROM analysis_runs WHERE run_id=?`), runID)
	if err == sql.ErrNoRows {
		return engine.Result{}, false, nil
	}
	if err != nil {
		return engine.Result{}, false, err
	}
	var res engine.Result
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		return engine.Result{}, false, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return res, true, nil
}

// Signals returns the flattened rows of one run in insertion order.
func (s *SignalLog) Signals(ctx context.Context, runID string) ([]Signal, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	var rows []signalRow
	if err := db.SelectContext(ctx, &rows, db.Rebind(`
        SELECT run_id, seq, kind, ts, price, strength, indicator, description
        FROM analysis_signals WHERE run_id=? ORDER BY seq ASC`), runID); err != nil {
		return nil, err
	}
	out := make([]Signal, len(rows))
	for i, r := range rows {
		out[i] = Signal{
			RunID:       r.RunID,
			Seq:         r.Seq,
			Kind:        r.Kind,
			Timestamp:   r.TS,
			Price:       r.Price,
			Strength:    ptrFloat(r.Strength),
			Indicator:   r.Indicator.String,
			Description: r.Description,
		}
	}
	return out, nil
}

func (s *SignalLog) Close() error {
	db, err := s.handle()
	if err != nil {
		return nil
	}
	return db.Close()
}

// Flatten turns a result into one row per signal.
func Flatten(res engine.Result) []Signal {
	var out []Signal
	add := func(sig Signal) {
		sig.RunID = res.RunID
		sig.Seq = len(out)
		out = append(out, sig)
	}
	if t := res.Trendlines; t != nil {
		if t.Resistance != nil {
			conf := t.Resistance.Confidence * 100
			add(Signal{Kind: "resistance_line", Timestamp: t.Resistance.End.Timestamp, Price: t.Resistance.End.Price, Strength: &conf,
				Description: fmt.Sprintf("resistance line through %d highs", len(t.Resistance.Points))})
		}
		if t.Support != nil {
			conf := t.Support.Confidence * 100
			add(Signal{Kind: "support_line", Timestamp: t.Support.End.Timestamp, Price: t.Support.End.Price, Strength: &conf,
				Description: fmt.Sprintf("support line through %d lows", len(t.Support.Points))})
		}
	}
	for _, p := range res.Patterns {
		sig := p.Significance
		var ts int64
		if n := len(p.CandleTimestamps); n > 0 {
			ts = p.CandleTimestamps[n-1]
		}
		add(Signal{Kind: string(p.Kind), Timestamp: ts, Price: p.Price, Strength: &sig, Description: p.Description})
	}
	for _, d := range res.Divergences {
		strength := d.Strength
		add(Signal{Kind: string(d.Kind), Timestamp: d.End.Timestamp, Price: d.End.Price, Strength: &strength,
			Indicator: d.Indicator, Description: d.Description})
	}
	for _, c := range res.Crossovers {
		strength := c.Strength
		add(Signal{Kind: string(c.Kind), Timestamp: c.Timestamp, Price: c.Price, Strength: &strength,
			Indicator: "macd", Description: c.Description})
	}
	if res.Levels != nil {
		for _, l := range append(append([]levels.Level(nil), res.Levels.Support...), res.Levels.Resistance...) {
			add(Signal{Kind: string(l.Kind), Timestamp: l.LastTimestamp, Price: l.Price,
				Description: fmt.Sprintf("%s at %.4f, %d touches", l.Kind, l.Price, l.Touches)})
		}
	}
	return out
}
