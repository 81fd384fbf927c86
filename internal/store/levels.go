package store

import (
	"context"
	"sync"
	"time"

	"chartlens/internal/analysis/levels"
)

// LevelStore 保存每个 symbol+interval 最近一次计算出的支撑/阻力位。
type LevelStore interface {
	SaveLevels(ctx context.Context, symbol, interval string, set levels.Set) error
	// LoadLevels returns ok=false when nothing (or only an expired entry) is stored.
	LoadLevels(ctx context.Context, symbol, interval string) (levels.Set, bool, error)
}

type storedLevels struct {
	set     levels.Set
	expires time.Time
}

// MemoryLevelStore 进程内实现，过期规则与 RedisLevelStore 相同（ttlFactor 个周期，至少 1 小时）。
type MemoryLevelStore struct {
	mu        sync.Mutex
	data      map[string]storedLevels
	ttlFactor int
	now       func() time.Time
}

func NewMemoryLevelStore(ttlFactor int) *MemoryLevelStore {
	if ttlFactor <= 0 {
		ttlFactor = 3
	}
	return &MemoryLevelStore{data: make(map[string]storedLevels), ttlFactor: ttlFactor, now: time.Now}
}

func (s *MemoryLevelStore) SaveLevels(ctx context.Context, symbol, interval string, set levels.Set) error {
	if symbol == "" || interval == "" {
		return errEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key(symbol, interval)] = storedLevels{
		set: levels.Set{
			Support:    append([]levels.Level(nil), set.Support...),
			Resistance: append([]levels.Level(nil), set.Resistance...),
			From:       set.From,
			To:         set.To,
		},
		expires: s.now().Add(levelsTTL(interval, s.ttlFactor)),
	}
	return nil
}

func (s *MemoryLevelStore) LoadLevels(ctx context.Context, symbol, interval string) (levels.Set, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(symbol, interval)
	entry, ok := s.data[k]
	if !ok {
		return levels.Set{}, false, nil
	}
	if !s.now().Before(entry.expires) {
		delete(s.data, k)
		return levels.Set{}, false, nil
	}
	return entry.set, true, nil
}
