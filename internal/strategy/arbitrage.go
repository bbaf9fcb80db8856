package strategy

import (
	"context"
	"log/slog"

	"github.com/hexvolt/hftbot/internal/domain"
)

// Arbitrage is a placeholder for cross-venue spread capture. It registers
// through the same factory mechanism as any external strategy kind and
// currently emits no signals; a real implementation needs a second feed to
// compare against.
type Arbitrage struct {
	logger *slog.Logger
}

// NewArbitrage is the factory for the "arbitrage" kind.
func NewArbitrage(_ Config, deps Deps) (Strategy, error) {
	return &Arbitrage{
		logger: deps.Logger.With(slog.String("strategy", "arbitrage")),
	}, nil
}

// Name returns the strategy identifier.
func (a *Arbitrage) Name() string { return "arbitrage" }

// Init logs that the stub is active.
func (a *Arbitrage) Init(_ context.Context) error {
	a.logger.Info("arbitrage stub active, no signals will be produced")
	return nil
}

// Evaluate never signals.
func (a *Arbitrage) Evaluate(_ context.Context, _ domain.Tick) (*domain.Signal, error) {
	return nil, nil
}

// Close is a no-op.
func (a *Arbitrage) Close() error { return nil }
