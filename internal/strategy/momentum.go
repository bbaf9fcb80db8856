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
	defaultLookback         = "2m"
	defaultMomentumTrigger  = 0.01
	defaultVolumeMultiplier = 1.5
)

// Momentum buys breakouts: over a longer lookback window it emits a BUY when
// momentum exceeds the configured threshold and current volume runs above the
// window average by the configured multiplier.
//
// Params:
//   - "lookback" (duration string): window, default "2m"
//   - "threshold" (float64): minimum momentum, default 0.01
//   - "volume_multiplier" (float64): volume gate vs window average, default 1.5
type Momentum struct {
	cfg    Config
	window *Window
	clock  domain.Clock
	logger *slog.Logger

	threshold  float64
	volumeMult float64
}

// NewMomentum is the factory for the "momentum" kind.
func NewMomentum(cfg Config, deps Deps) (Strategy, error) {
	span, err := time.ParseDuration(cfg.paramString("lookback", defaultLookback))
	if err != nil {
		return nil, fmt.Errorf("momentum: parse lookback: %w", err)
	}
	return &Momentum{
		cfg:        cfg,
		window:     NewWindow(span),
		clock:      deps.Clock,
		logger:     deps.Logger.With(slog.String("strategy", "momentum")),
		threshold:  cfg.paramFloat("threshold", defaultMomentumTrigger),
		volumeMult: cfg.paramFloat("volume_multiplier", defaultVolumeMultiplier),
	}, nil
}

// Name returns the strategy identifier.
func (m *Momentum) Name() string { return "momentum" }

// Init is a no-op for momentum.
func (m *Momentum) Init(_ context.Context) error { return nil }

// Close is a no-op for momentum.
func (m *Momentum) Close() error { return nil }

// Evaluate tracks the tick and emits a BUY when both the momentum and volume
// gates pass.
func (m *Momentum) Evaluate(_ context.Context, tick domain.Tick) (*domain.Signal, error) {
	if tick.Price <= 0 {
		return nil, nil
	}

	avgVol := m.window.AvgVolume(tick.Symbol)
	m.window.Track(tick.Symbol, tick.Price, tick.Volume, tick.ReceivedAt)
	if m.window.Len(tick.Symbol) < 2 {
		return nil, nil
	}

	momentum := m.window.Momentum(tick.Symbol)
	if momentum <= m.threshold {
		return nil, nil
	}
	if avgVol <= 0 || tick.Volume <= avgVol*m.volumeMult {
		return nil, nil
	}

	stop := tick.Price * (1 - m.cfg.StopLossPct)
	target := tick.Price * (1 + m.cfg.TakeProfitPct)
	sig := &domain.Signal{
		ID:          uuid.New().String(),
		Type:        domain.SideBuy,
		Symbol:      tick.Symbol,
		Price:       tick.Price,
		Quantity:    m.cfg.Quantity,
		Strategy:    m.Name(),
		Confidence:  clamp01(momentum / (2 * m.threshold)),
		StopLoss:    &stop,
		TakeProfit:  &target,
		Reason:      fmt.Sprintf("momentum %.4f over %.4f, volume %.0f > %.1fx avg %.0f", momentum, m.threshold, tick.Volume, m.volumeMult, avgVol),
		GeneratedAt: m.clock.Now(),
	}
	m.logger.Debug("momentum BUY",
		slog.String("symbol", tick.Symbol),
		slog.Float64("momentum", momentum),
		slog.Float64("volume", tick.Volume),
	)
	return sig, nil
}
