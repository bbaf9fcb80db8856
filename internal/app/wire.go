package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hexvolt/hftbot/internal/cache/redis"
	"github.com/hexvolt/hftbot/internal/config"
	"github.com/hexvolt/hftbot/internal/domain"
	"github.com/hexvolt/hftbot/internal/engine"
	"github.com/hexvolt/hftbot/internal/ledger"
	"github.com/hexvolt/hftbot/internal/marketdata"
	"github.com/hexvolt/hftbot/internal/risk"
	"github.com/hexvolt/hftbot/internal/store/postgres"
	"github.com/hexvolt/hftbot/internal/strategy"
	"github.com/hexvolt/hftbot/internal/stream"
	"github.com/hexvolt/hftbot/internal/subs"
)

// Dependencies bundles everything the run modes need. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Engine      *engine.Engine
	TradeStore  *postgres.TradeStore
	SymbolStore *postgres.SymbolConfigStore
	TickMirror  *redis.TickMirror
	EventBus    *redis.EventBus
}

// Wire constructs all concrete dependencies from the configuration and
// returns them with a cleanup function that releases resources in reverse
// order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	clock := domain.RealClock()

	var transport stream.Transport
	switch strings.ToLower(cfg.Mode) {
	case "paper":
		transport = stream.NewSyntheticTransport(
			cfg.Stream.SyntheticInterval.Duration, clock, cfg.Stream.SyntheticSeed)
	default:
		transport = stream.NewWebSocketTransport()
	}

	conn := stream.NewConnection(stream.Options{
		URL:                  cfg.Stream.URL,
		HeartbeatInterval:    cfg.Stream.HeartbeatInterval.Duration,
		ReconnectBase:        cfg.Stream.ReconnectBase.Duration,
		ReconnectMax:         cfg.Stream.ReconnectMax.Duration,
		MaxReconnectAttempts: cfg.Stream.MaxReconnectAttempts,
	}, transport, clock, logger)

	registry := subs.NewRegistry(conn, logger)
	cache := marketdata.NewTickCache(clock)
	monitor := marketdata.NewMonitor(clock, registry, registry, logger)
	led := ledger.New(clock, logger)

	stratConfigs := make(map[string]strategy.Config, len(cfg.Strategy))
	for name, sc := range cfg.Strategy {
		stratConfigs[name] = strategy.Config{
			Kind:          sc.Kind,
			Quantity:      sc.Quantity,
			StopLossPct:   sc.StopLossPct,
			TakeProfitPct: sc.TakeProfitPct,
			Params:        sc.Params,
		}
	}

	symbols := make([]domain.SubscriptionConfig, 0, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		symbols = append(symbols, s.Subscription())
	}

	eng := engine.New(engine.Options{
		Symbols:         symbols,
		StrategyConfigs: stratConfigs,
		MonitorInterval: cfg.Engine.MonitorInterval.Duration,
		ExitMaxAge:      cfg.Engine.ExitMaxAge.Duration,
		DrainDelay:      cfg.Engine.DrainDelay.Duration,
		OrderQueueSize:  cfg.Engine.OrderQueueSize,
	}, conn, registry, cache, monitor, led, risk.Limits{
		MaxPositionValue: cfg.Risk.MaxPositionValue,
		MaxDailyLoss:     cfg.Risk.MaxDailyLoss,
		MaxOpenPositions: cfg.Risk.MaxOpenPositions,
		StopLossPct:      cfg.Risk.StopLossPct,
		TakeProfitPct:    cfg.Risk.TakeProfitPct,
	}, strategy.NewRegistry(), clock, logger)

	deps := &Dependencies{Engine: eng}

	// --- Redis (optional: tick mirror and event bus) ---
	if cfg.Redis.Enabled {
		rdb, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("app: redis: %w", err)
		}
		closers = append(closers, func() { _ = rdb.Close() })

		deps.TickMirror = redis.NewTickMirror(rdb, cfg.Redis.MirrorTTL.Duration)
		deps.EventBus = redis.NewEventBus(rdb, cfg.Redis.KeyPrefix)
		eng.SetEventSink(deps.EventBus)
	}

	// --- PostgreSQL (optional: symbol persistence and trade journal) ---
	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.MaxConns,
			MinConns: cfg.Postgres.MinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("app: postgres: %w", err)
		}
		closers = append(closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("app: migrate: %w", err)
			}
		}

		deps.TradeStore = postgres.NewTradeStore(pg.Pool())
		deps.SymbolStore = postgres.NewSymbolConfigStore(pg.Pool(), "default")
		eng.SetTradeJournal(deps.TradeStore)
	}

	return deps, cleanup, nil
}

// restoreSymbols merges persisted subscription configs over the configured
// symbol set. Persisted entries win for symbols present in both so the
// strictest-merge results and violation counts survive restarts.
func restoreSymbols(ctx context.Context, store *postgres.SymbolConfigStore, eng *engine.Engine, logger *slog.Logger) {
	if store == nil {
		return
	}

	saved, err := store.Load(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logger.Warn("app: restore symbols failed", slog.String("error", err.Error()))
		}
		return
	}

	for _, cfg := range saved {
		if err := eng.Registry().Restore(cfg); err != nil {
			logger.Warn("app: restore symbol failed",
				slog.String("symbol", cfg.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	logger.Info("app: restored symbol configs", slog.Int("count", len(saved)))
}

// persistSymbols saves the current subscription table during shutdown.
func persistSymbols(store *postgres.SymbolConfigStore, eng *engine.Engine, logger *slog.Logger) {
	if store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	configs := eng.Registry().Configs()
	if err := store.Save(ctx, configs); err != nil {
		logger.Warn("app: persist symbols failed", slog.String("error", err.Error()))
		return
	}
	logger.Info("app: persisted symbol configs", slog.Int("count", len(configs)))
}
