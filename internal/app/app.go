// Package app wires configuration into a ready engine and its collaborators.
package app

import (
	"context"
	"fmt"

	"chartlens/internal/config"
	"chartlens/internal/engine"
	"chartlens/internal/gateway/binance"
	"chartlens/internal/gateway/database"
	"chartlens/internal/logger"
	"chartlens/internal/store"
	"chartlens/internal/transport/http/analyze"
)

type App struct {
	Config  *config.Config
	Engine  *engine.Engine
	Journal *database.SignalLog
	// Candles reads back the candle cache the engine fills.
	Candles store.SnapshotExporter

	closers []func() error
}

// Build opens storage, the Binance source and the optional Redis level store. Close
// releases them in reverse order.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger.SetLevel(cfg.Log.Level)
	logger.SetJSON(cfg.Log.JSON)

	a := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	source, err := binance.New(cfg.Binance.Gateway())
	if err != nil {
		return nil, fmt.Errorf("binance source: %w", err)
	}
	a.closers = append(a.closers, source.Close)
	deps := engine.Deps{Source: source}

	switch cfg.Storage.Driver {
	case "memory":
		klines := store.NewMemoryKlineStore()
		deps.Cache = klines
		a.Candles = klines
	default:
		db, err := database.Open(cfg.Storage.Driver, cfg.Storage.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		klines := store.NewSQLKlineStore(db)
		if err := klines.Migrate(ctx); err != nil {
			return nil, err
		}
		journal, err := database.NewSignalLog(ctx, db)
		if err != nil {
			return nil, err
		}
		deps.Cache = klines
		a.Candles = klines
		deps.Journal = journal
		a.Journal = journal
	}

	if cfg.Redis.Addr != "" {
		client, err := store.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		levels, err := store.NewRedisLevelStore(client, cfg.Redis.TTLFactor)
		if err != nil {
			return nil, err
		}
		deps.Levels = levels
	} else {
		deps.Levels = store.NewMemoryLevelStore(cfg.Redis.TTLFactor)
	}

	a.Engine = engine.New(cfg.Analysis, deps)
	logger.Infof("[app] ready storage=%s redis=%t", cfg.Storage.Driver, cfg.Redis.Addr != "")
	ok = true
	return a, nil
}

// RunLog returns the journal as the HTTP layer's interface, nil when journaling is off.
func (a *App) RunLog() analyze.RunLog {
	if a.Journal == nil {
		return nil
	}
	return a.Journal
}

func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
