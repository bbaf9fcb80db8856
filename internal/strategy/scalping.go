package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hexvolt/hftbot/internal/domain"
)

const (
	// momentumTrigger is the short-window momentum beyond which scalping acts.
	momentumTrigger = 0.0005

	defaultScalpWindow    = "10s"
	defaultMinSpread      = 0.0001
	defaultMaxSpread      = 0.01
	defaultMinScalpVolume = 100.0
)

// Scalping trades short-window momentum on tight spreads: BUY at the ask when
// momentum exceeds +momentumTrigger, SELL at the bid to close an open long
// when momentum falls below -momentumTrigger. Ticks with spreads outside
// [min_spread, max_spread] or volume below min_volume are ignored.
//
// Params:
//   - "window" (duration string): momentum lookback, default "10s"
//   - "min_spread", "max_spread" (float64): relative spread bounds
//   - "min_volume" (float64): minimum tick volume
type Scalping struct {
	cfg       Config
	window    *Window
	positions PositionView
	clock     domain.Clock
	logger    *slog.Logger

	minSpread float64
	maxSpread float64
	minVolume float64
}

// NewScalping is the factory for the "scalping" kind.
func NewScalping(cfg Config, deps Deps) (Strategy, error) {
	span, err := time.ParseDuration(cfg.paramString("window", defaultScalpWindow))
	if err != nil {
		return nil, fmt.Errorf("scalping: parse window: %w", err)
	}
	return &Scalping{
		cfg:       cfg,
		window:    NewWindow(span),
		positions: deps.Positions,
		clock:     deps.Clock,
		logger:    deps.Logger.With(slog.String("strategy", "scalping")),
		minSpread: cfg.paramFloat("min_spread", defaultMinSpread),
		maxSpread: cfg.paramFloat("max_spread", defaultMaxSpread),
		minVolume: cfg.paramFloat("min_volume", defaultMinScalpVolume),
	}, nil
}

// Name returns the strategy identifier.
func (s *Scalping) Name() string { return "scalping" }

// Init is a no-op for scalping.
func (s *Scalping) Init(_ context.Context) error { return nil }

// Close is a no-op for scalping.
func (s *Scalping) Close() error { return nil }

// Evaluate applies the spread/volume filters, tracks the tick, and emits a
// momentum entry or exit signal.
func (s *Scalping) Evaluate(_ context.Context, tick domain.Tick) (*domain.Signal, error) {
	if tick.Bid <= 0 || tick.Ask <= 0 || tick.Price <= 0 {
		return nil, nil
	}
	spread := tick.Spread()
	if spread < s.minSpread || spread > s.maxSpread {
		return nil, nil
	}
	if tick.Volume < s.minVolume {
		return nil, nil
	}

	s.window.Track(tick.Symbol, tick.Price, tick.Volume, tick.ReceivedAt)
	start, ok := s.window.First(tick.Symbol)
	if !ok || s.window.Len(tick.Symbol) < 2 || start.Price == 0 {
		return nil, nil
	}
	momentum := (tick.Price - start.Price) / start.Price

	now := s.clock.Now()

	if momentum > momentumTrigger {
		stop := tick.Ask * (1 - s.cfg.StopLossPct)
		target := tick.Ask * (1 + s.cfg.TakeProfitPct)
		sig := &domain.Signal{
			ID:          uuid.New().String(),
			Type:        domain.SideBuy,
			Symbol:      tick.Symbol,
			Price:       tick.Ask,
			Quantity:    s.cfg.Quantity,
			Strategy:    s.Name(),
			Confidence:  clamp01(momentum / (4 * momentumTrigger)),
			StopLoss:    &stop,
			TakeProfit:  &target,
			Reason:      fmt.Sprintf("momentum %.5f over %.5f, spread %.5f", momentum, momentumTrigger, spread),
			GeneratedAt: now,
		}
		s.logger.Debug("scalping BUY",
			slog.String("symbol", tick.Symbol),
			slog.Float64("momentum", momentum),
			slog.Float64("ask", tick.Ask),
		)
		return sig, nil
	}

	if momentum < -momentumTrigger {
		pos, open := s.positions.Position(tick.Symbol)
		if !open || pos.Side != domain.PositionLong {
			return nil, nil
		}
		sig := &domain.Signal{
			ID:          uuid.New().String(),
			Type:        domain.SideSell,
			Symbol:      tick.Symbol,
			Price:       tick.Bid,
			Quantity:    pos.Quantity,
			Strategy:    s.Name(),
			Confidence:  clamp01(-momentum / (4 * momentumTrigger)),
			Reason:      fmt.Sprintf("momentum %.5f under -%.5f, closing long", momentum, momentumTrigger),
			GeneratedAt: now,
		}
		s.logger.Debug("scalping SELL to close",
			slog.String("symbol", tick.Symbol),
			slog.Float64("momentum", momentum),
			slog.Float64("bid", tick.Bid),
		)
		return sig, nil
	}

	return nil, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
