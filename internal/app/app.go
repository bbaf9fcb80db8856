// Package app wires all dependencies together and manages the process
// lifecycle: engine, HTTP control surface, telemetry forwarding, and the
// optional Redis tick mirror.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hexvolt/hftbot/internal/config"
	"github.com/hexvolt/hftbot/internal/domain"
	"github.com/hexvolt/hftbot/internal/notify"
	"github.com/hexvolt/hftbot/internal/server"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the engine and its satellites, and
// blocks until the context is cancelled. On return the engine has been
// stopped and the symbol table persisted.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	restoreSymbols(ctx, deps.SymbolStore, deps.Engine, a.logger)

	if _, err := deps.Engine.Start(ctx, nil); err != nil {
		return fmt.Errorf("app: start engine: %w", err)
	}

	group, gctx := errgroup.WithContext(ctx)

	if a.cfg.Server.Enabled {
		srv := server.New(server.Config{
			Port:   a.cfg.Server.Port,
			APIKey: a.cfg.Server.APIKey,
		}, deps.Engine, tradeHistory(deps), a.logger)

		group.Go(srv.Start)
		group.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if a.cfg.Telemetry.Enabled {
		fwd := notify.NewForwarder(
			a.cfg.Telemetry.URL,
			a.cfg.Telemetry.Interval.Duration,
			func() any { return deps.Engine.Metrics() },
			a.logger,
		)
		group.Go(func() error { return fwd.Run(gctx) })
	}

	if deps.TickMirror != nil && deps.EventBus != nil {
		group.Go(func() error { return a.mirrorTicks(gctx, deps) })
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if _, err := deps.Engine.Stop(stopCtx); err != nil {
		a.logger.Warn("engine stop failed", slog.String("error", err.Error()))
	}
	cancel()

	persistSymbols(deps.SymbolStore, deps.Engine, a.logger)

	if err := group.Wait(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	return nil
}

// Close tears down all resources in reverse registration order. Safe to call
// multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// mirrorTicks consumes the engine's tick events from the bus and writes the
// latest tick per symbol into the Redis mirror for external observers.
func (a *App) mirrorTicks(ctx context.Context, deps *Dependencies) error {
	ticks, err := deps.EventBus.Subscribe(ctx, "ticks")
	if err != nil {
		a.logger.Warn("tick mirror disabled", slog.String("error", err.Error()))
		return nil
	}

	for payload := range ticks {
		var tick domain.Tick
		if err := json.Unmarshal(payload, &tick); err != nil {
			a.logger.Warn("tick mirror: malformed payload dropped",
				slog.String("error", err.Error()))
			continue
		}
		if err := deps.TickMirror.Set(ctx, tick); err != nil {
			a.logger.Warn("tick mirror: write failed",
				slog.String("symbol", tick.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func tradeHistory(deps *Dependencies) server.TradeHistory {
	if deps.TradeStore == nil {
		return nil
	}
	return deps.TradeStore
}
