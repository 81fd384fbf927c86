package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"chartlens/internal/analysis/levels"
	"chartlens/internal/logger"
	"chartlens/internal/market"
)

const levelsKeyPrefix = "chartlens:levels:"

// RedisLevelStore keeps levels in a ZSET per symbol+interval: score = price, member = JSON level.
// Entries expire after ttlFactor intervals.
type RedisLevelStore struct {
	client    *redis.Client
	ttlFactor int
}

func NewRedisLevelStore(client *redis.Client, ttlFactor int) (*RedisLevelStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client 未初始化")
	}
	if ttlFactor <= 0 {
		ttlFactor = 3
	}
	return &RedisLevelStore{client: client, ttlFactor: ttlFactor}, nil
}

// DialRedis connects and pings once so misconfiguration fails at startup.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

func levelsKey(symbol, interval string) string {
	return levelsKeyPrefix + key(symbol, interval)
}

// windowKey holds "from:to", the candle window the stored levels were computed over.
func windowKey(symbol, interval string) string {
	return levelsKey(symbol, interval) + ":window"
}

// levelsTTL is ttlFactor intervals, never below one hour.
func levelsTTL(interval string, factor int) time.Duration {
	d, err := market.IntervalDuration(interval)
	if err != nil || d <= 0 {
		d = time.Hour
	}
	ttl := d * time.Duration(factor)
	if ttl < time.Hour {
		ttl = time.Hour
	}
	return ttl
}

func (s *RedisLevelStore) SaveLevels(ctx context.Context, symbol, interval string, set levels.Set) error {
	if symbol == "" || interval == "" {
		return errEmptyKey
	}
	k := levelsKey(symbol, interval)
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, k)
	count := 0
	for _, lvl := range append(append([]levels.Level(nil), set.Support...), set.Resistance...) {
		data, err := json.Marshal(lvl)
		if err != nil {
			logger.Warnf("[levels] marshal %s/%s level failed: %v", symbol, interval, err)
			continue
		}
		pipe.ZAdd(ctx, k, &redis.Z{Score: lvl.Price, Member: string(data)})
		count++
	}
	ttl := levelsTTL(interval, s.ttlFactor)
	pipe.Expire(ctx, k, ttl)
	pipe.Set(ctx, windowKey(symbol, interval), fmt.Sprintf("%d:%d", set.From, set.To), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save levels %s/%s: %w", symbol, interval, err)
	}
	logger.Debugf("[levels] saved %d levels for %s/%s ttl=%s", count, symbol, interval, ttl)
	return nil
}

func (s *RedisLevelStore) LoadLevels(ctx context.Context, symbol, interval string) (levels.Set, bool, error) {
	raw, err := s.client.ZRangeByScore(ctx, levelsKey(symbol, interval), &redis.ZRangeBy{Min: "-inf", Max: "+inf"}).Result()
	if err != nil {
		return levels.Set{}, false, fmt.Errorf("load levels %s/%s: %w", symbol, interval, err)
	}
	if len(raw) == 0 {
		return levels.Set{}, false, nil
	}
	set := decodeLevels(raw)
	window, err := s.client.Get(ctx, windowKey(symbol, interval)).Result()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return levels.Set{}, false, fmt.Errorf("load levels window %s/%s: %w", symbol, interval, err)
	default:
		set.From, set.To = parseWindow(window)
	}
	return set, true, nil
}

func parseWindow(s string) (from, to int64) {
	if _, err := fmt.Sscanf(s, "%d:%d", &from, &to); err != nil {
		logger.Warnf("[levels] bad window %q: %v", s, err)
		return 0, 0
	}
	return from, to
}

func decodeLevels(raw []string) levels.Set {
	var set levels.Set
	for _, r := range raw {
		var lvl levels.Level
		if err := json.Unmarshal([]byte(r), &lvl); err != nil {
			logger.Warnf("[levels] decode level failed: %v", err)
			continue
		}
		switch lvl.Kind {
		case levels.Support:
			set.Support = append(set.Support, lvl)
		case levels.Resistance:
			set.Resistance = append(set.Resistance, lvl)
		}
	}
	return set
}
