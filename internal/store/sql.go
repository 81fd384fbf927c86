package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"chartlens/internal/market"
)

const candleSchema = `
CREATE TABLE IF NOT EXISTS candles (
    symbol TEXT NOT NULL,
    tf     TEXT NOT NULL,
    ts     BIGINT NOT NULL,
    open   DOUBLE PRECISION NOT NULL,
    high   DOUBLE PRECISION NOT NULL,
    low    DOUBLE PRECISION NOT NULL,
    close  DOUBLE PRECISION NOT NULL,
    volume DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (symbol, tf, ts)
)`

type candleRow struct {
	Symbol string  `db:"symbol"`
	TF     string  `db:"tf"`
	TS     int64   `db:"ts"`
	Open   float64 `db:"open"`
	High   float64 `db:"high"`
	Low    float64 `db:"low"`
	Close  float64 `db:"close"`
	Volume float64 `db:"volume"`
}

// SQLKlineStore 持久化 K 线缓存，driver 为 "sqlite"（modernc）或 "postgres"（lib/pq）。
type SQLKlineStore struct {
	mu sync.Mutex
	db *sqlx.DB
}

func NewSQLKlineStore(db *sqlx.DB) *SQLKlineStore {
	return &SQLKlineStore{db: db}
}

func (s *SQLKlineStore) handle() (*sqlx.DB, error) {
	if s == nil {
		return nil, fmt.Errorf("kline store 未初始化")
	}
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("kline store 未初始化")
	}
	return db, nil
}

func (s *SQLKlineStore) Migrate(ctx context.Context) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, candleSchema); err != nil {
		return fmt.Errorf("migrate candles: %w", err)
	}
	return nil
}

// Put upserts candles in one transaction; max>0 trims the series to its newest max rows.
func (s *SQLKlineStore) Put(ctx context.Context, symbol, interval string, ks []market.Candle, max int) error {
	if symbol == "" || interval == "" {
		return errEmptyKey
	}
	if len(ks) == 0 {
		return nil
	}
	db, err := s.handle()
	if err != nil {
		return err
	}
	sym, tf := strings.ToUpper(strings.TrimSpace(symbol)), strings.TrimSpace(interval)

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	upsert := tx.Rebind(`
        INSERT INTO candles (symbol, tf, ts, open, high, low, close, volume)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (symbol, tf, ts) DO UPDATE SET
            open=excluded.open, high=excluded.high, low=excluded.low,
            close=excluded.close, volume=excluded.volume`)
	for _, c := range ks {
		if _, err := tx.ExecContext(ctx, upsert, sym, tf, c.Timestamp, c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return fmt.Errorf("upsert candle %s@%s ts=%d: %w", sym, tf, c.Timestamp, err)
		}
	}
	if max > 0 {
		trim := tx.Rebind(`
            DELETE FROM candles WHERE symbol=? AND tf=? AND ts < (
                SELECT ts FROM candles WHERE symbol=? AND tf=? ORDER BY ts DESC LIMIT 1 OFFSET ?
            )`)
		if _, err := tx.ExecContext(ctx, trim, sym, tf, sym, tf, max-1); err != nil {
			return fmt.Errorf("trim candles %s@%s: %w", sym, tf, err)
		}
	}
	return tx.Commit()
}

func (s *SQLKlineStore) Range(ctx context.Context, symbol, interval string, start, end int64) ([]market.Candle, error) {
	if symbol == "" || interval == "" {
		return nil, errEmptyKey
	}
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	var rows []candleRow
	q := db.Rebind(`SELECT symbol, tf, ts, open, high, low, close, volume FROM candles
        WHERE symbol=? AND tf=? AND ts >= ? AND ts <= ? ORDER BY ts ASC`)
	if err := db.SelectContext(ctx, &rows, q, strings.ToUpper(strings.TrimSpace(symbol)), strings.TrimSpace(interval), start, end); err != nil {
		return nil, fmt.Errorf("select candles: %w", err)
	}
	return toCandles(rows), nil
}

// Export 返回最近 limit 根 K 线（按时间升序）
func (s *SQLKlineStore) Export(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if symbol == "" || interval == "" {
		return nil, errEmptyKey
	}
	if limit <= 0 {
		return nil, nil
	}
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	var rows []candleRow
	q := db.Rebind(`SELECT symbol, tf, ts, open, high, low, close, volume FROM candles
        WHERE symbol=? AND tf=? ORDER BY ts DESC LIMIT ?`)
	if err := db.SelectContext(ctx, &rows, q, strings.ToUpper(strings.TrimSpace(symbol)), strings.TrimSpace(interval), limit); err != nil {
		return nil, fmt.Errorf("export candles: %w", err)
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return toCandles(rows), nil
}

func (s *SQLKlineStore) Close() error {
	db, err := s.handle()
	if err != nil {
		return nil
	}
	s.mu.Lock()
	s.db = nil
	s.mu.Unlock()
	return db.Close()
}

func toCandles(rows []candleRow) []market.Candle {
	out := make([]market.Candle, len(rows))
	for i, r := range rows {
		out[i] = market.Candle{Timestamp: r.TS, Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, Volume: r.Volume}
	}
	return out
}
