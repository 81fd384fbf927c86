package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"chartlens/internal/market"
)

var errEmptyKey = errors.New("symbol/interval 不能为空")

// KlineStore 抽象：按 symbol+interval 缓存 K 线，Range 以毫秒闭区间查询。
type KlineStore interface {
	Put(ctx context.Context, symbol, interval string, ks []market.Candle, max int) error
	Range(ctx context.Context, symbol, interval string, start, end int64) ([]market.Candle, error)
}

// SnapshotExporter 导出最近固定窗口 K 线的抽象。
type SnapshotExporter interface {
	Export(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error)
}

// MemoryKlineStore 内存实现
type MemoryKlineStore struct {
	mu   sync.RWMutex
	data map[string][]market.Candle
}

func NewMemoryKlineStore() *MemoryKlineStore {
	return &MemoryKlineStore{data: make(map[string][]market.Candle)}
}

func key(symbol, interval string) string {
	return strings.ToUpper(strings.TrimSpace(symbol)) + "@" + strings.TrimSpace(interval)
}

// Put 按时间戳合并（同一时间戳以新数据覆盖），max>0 时只保留最近 max 根。
func (s *MemoryKlineStore) Put(ctx context.Context, symbol, interval string, ks []market.Candle, max int) error {
	if symbol == "" || interval == "" {
		return errEmptyKey
	}
	if len(ks) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(symbol, interval)
	cur := mergeCandles(s.data[k], ks)
	if max > 0 && len(cur) > max {
		cur = cur[len(cur)-max:]
	}
	s.data[k] = cur
	return nil
}

// Set 全量替换指定 symbol+interval 的序列
func (s *MemoryKlineStore) Set(ctx context.Context, symbol, interval string, ks []market.Candle) error {
	if symbol == "" || interval == "" {
		return errEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	dst := make([]market.Candle, len(ks))
	copy(dst, ks)
	s.data[key(symbol, interval)] = dst
	return nil
}

// Range 返回 [start, end] 内的拷贝（按时间升序）
func (s *MemoryKlineStore) Range(ctx context.Context, symbol, interval string, start, end int64) ([]market.Candle, error) {
	if symbol == "" || interval == "" {
		return nil, errEmptyKey
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur := s.data[key(symbol, interval)]
	lo := sort.Search(len(cur), func(i int) bool { return cur[i].Timestamp >= start })
	hi := sort.Search(len(cur), func(i int) bool { return cur[i].Timestamp > end })
	if lo >= hi {
		return nil, nil
	}
	out := make([]market.Candle, hi-lo)
	copy(out, cur[lo:hi])
	return out, nil
}

// Export 返回最近 limit 根 K 线（按时间升序）
func (s *MemoryKlineStore) Export(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if symbol == "" || interval == "" {
		return nil, errEmptyKey
	}
	if limit <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur := s.data[key(symbol, interval)]
	if len(cur) == 0 {
		return nil, nil
	}
	if limit > len(cur) {
		limit = len(cur)
	}
	out := make([]market.Candle, limit)
	copy(out, cur[len(cur)-limit:])
	return out, nil
}

func mergeCandles(cur, in []market.Candle) []market.Candle {
	byTs := make(map[int64]int, len(cur)+len(in))
	out := make([]market.Candle, 0, len(cur)+len(in))
	for _, src := range [][]market.Candle{cur, in} {
		for _, c := range src {
			if i, ok := byTs[c.Timestamp]; ok {
				// 同一根 K 线的增量更新，覆盖而非重复追加。
				out[i] = c
				continue
			}
			byTs[c.Timestamp] = len(out)
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// Covers reports whether cached candles span [start, end) without holes: the edges sit within
// one interval of the request, no two neighbours are more than two intervals apart, and at most
// one bar in a hundred (plus one) is missing.
func Covers(cached []market.Candle, start, end, intervalMs int64) bool {
	if len(cached) == 0 || intervalMs <= 0 {
		return false
	}
	if cached[0].Timestamp > start+intervalMs || cached[len(cached)-1].Timestamp < end-intervalMs {
		return false
	}
	for i := 1; i < len(cached); i++ {
		if cached[i].Timestamp-cached[i-1].Timestamp > 2*intervalMs {
			return false
		}
	}
	expected := (end - start) / intervalMs
	return int64(len(cached)) >= expected-expected/100-1
}
