package market

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Source 统一对接外部行情供应商。
type Source interface {
	// FetchRange 拉取 [start, end) 区间内的 K 线并按时间升序返回。
	// 超过单次请求上限时由实现方顺序分批拉取后拼接。
	FetchRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]Candle, error)
	// Close 释放底层资源。
	Close() error
}

// IntervalDuration 解析 1m/5m/15m/30m/1h/2h/4h/6h/12h/1d/1w/1M 形式的周期，1M 按 30 天计。
func IntervalDuration(interval string) (time.Duration, error) {
	iv := strings.TrimSpace(interval)
	if strings.HasSuffix(iv, "M") {
		iv = strings.TrimSuffix(iv, "M") + "o"
	}
	iv = strings.ToLower(iv)
	if len(iv) < 2 {
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
	unit := iv[len(iv)-1]
	var n int
	if _, err := fmt.Sscanf(iv[:len(iv)-1], "%d", &n); err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	case 'o':
		return time.Duration(n) * 30 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
}
