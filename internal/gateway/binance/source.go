package binance

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"chartlens/internal/logger"
	"chartlens/internal/market"
)

const maxHistoryLimit = 1500

// Source 实现了 market.Source，通过 USDⓈ-M 合约 REST 接口拉取 K 线。
type Source struct {
	cfg    Config
	client *futures.Client
}

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	client := futures.NewClient(final.APIKey, final.SecretKey)
	client.BaseURL = strings.TrimRight(final.BaseURL, "/")
	client.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Source{cfg: final, client: client}, nil
}

// FetchRange 拉取 [start, end) 内的 K 线。区间超过单次上限时按时间顺序逐批请求（不并发），
// 每批从上一批最后一根之后开始，拼接结果严格递增。
func (s *Source) FetchRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]market.Candle, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("binance source not initialized")
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval = strings.TrimSpace(interval)
	step, err := market.IntervalDuration(interval)
	if err != nil {
		return nil, err
	}
	if !start.Before(end) {
		return nil, fmt.Errorf("start %s must be before end %s", start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	}
	startMs, endMs := start.UnixMilli(), end.UnixMilli()
	stepMs := step.Milliseconds()

	var out []market.Candle
	cursor := startMs
	for batch := 0; cursor < endMs; batch++ {
		if batch >= s.cfg.MaxBatches {
			logger.Warnf("[binance] %s %s range truncated after %d batches", symbol, interval, batch)
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logger.Debugf("[binance] klines %s %s start=%d end=%d limit=%d", symbol, interval, cursor, endMs-1, s.cfg.BatchLimit)
		klines, err := s.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(cursor).
			EndTime(endMs - 1).
			Limit(s.cfg.BatchLimit).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("binance klines %s %s: %w", symbol, interval, err)
		}
		if len(klines) == 0 {
			break
		}
		last := cursor
		for _, k := range klines {
			if k == nil || k.OpenTime < cursor || k.OpenTime >= endMs {
				continue
			}
			if n := len(out); n > 0 && out[n-1].Timestamp >= k.OpenTime {
				continue
			}
			c, err := toCandle(k)
			if err != nil {
				return nil, fmt.Errorf("binance kline %s ts=%d: %w", symbol, k.OpenTime, err)
			}
			out = append(out, c)
			last = k.OpenTime
		}
		if len(klines) < s.cfg.BatchLimit {
			break
		}
		next := last + stepMs
		if next <= cursor {
			break
		}
		cursor = next
	}
	if err := market.ValidateCandles(out); err != nil {
		return nil, fmt.Errorf("binance %s %s: %w", symbol, interval, err)
	}
	return out, nil
}

func (s *Source) Close() error { return nil }

func toCandle(k *futures.Kline) (market.Candle, error) {
	vals := [5]float64{}
	for i, raw := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return market.Candle{}, err
		}
		vals[i] = d.InexactFloat64()
	}
	return market.Candle{
		Timestamp: k.OpenTime,
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}
