// Package risk gates strategy signals against position, exposure, and
// daily-loss limits before they may execute.
package risk

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/hexvolt/hftbot/internal/domain"
)

// Limits holds the process-wide risk parameters.
type Limits struct {
	MaxPositionValue float64
	MaxDailyLoss     float64
	MaxOpenPositions int
	StopLossPct      float64
	TakeProfitPct    float64
}

// OpenCounter reports how many positions are currently committed: open in the
// ledger plus accepted-but-not-yet-executed opens. The engine supplies this
// so the check cannot race the order queue.
type OpenCounter func(symbol string) (open int, hasSymbol bool)

// Gate validates signals against Limits. The caller must serialize Accept
// with order execution (one critical section covers check and enqueue); the
// internal mutex only protects the daily PnL counter for concurrent reads.
type Gate struct {
	limits Limits
	opens  OpenCounter
	logger *slog.Logger

	mu       sync.Mutex
	dailyPnL float64
	rejected int64
}

// NewGate creates a Gate.
func NewGate(limits Limits, opens OpenCounter, logger *slog.Logger) *Gate {
	return &Gate{
		limits: limits,
		opens:  opens,
		logger: logger.With(slog.String("component", "risk_gate")),
	}
}

// Accept validates a signal. A nil return means accepted; a non-nil error
// wraps domain.ErrRiskRejected and names the first failed check. Rejected
// signals are dropped and never retried.
//
// Checks, in order, short-circuiting:
//  1. daily loss cap not yet breached
//  2. open-position count below the limit (BUY opening a new symbol only)
//  3. signal notional within the per-position value limit
func (g *Gate) Accept(sig domain.Signal) error {
	g.mu.Lock()
	dailyPnL := g.dailyPnL
	g.mu.Unlock()

	if dailyPnL <= -g.limits.MaxDailyLoss {
		return g.reject(sig, fmt.Sprintf("daily loss cap breached: pnl %.2f, cap %.2f", dailyPnL, g.limits.MaxDailyLoss))
	}

	if sig.Type == domain.SideBuy {
		open, hasSymbol := g.opens(sig.Symbol)
		if !hasSymbol && open >= g.limits.MaxOpenPositions {
			return g.reject(sig, fmt.Sprintf("open positions at limit: %d/%d", open, g.limits.MaxOpenPositions))
		}
	}

	if notional := sig.Notional(); notional > g.limits.MaxPositionValue {
		return g.reject(sig, fmt.Sprintf("notional %.2f exceeds max %.2f", notional, g.limits.MaxPositionValue))
	}

	return nil
}

func (g *Gate) reject(sig domain.Signal, reason string) error {
	g.mu.Lock()
	g.rejected++
	g.mu.Unlock()
	g.logger.Warn("signal rejected",
		slog.String("signal_id", sig.ID),
		slog.String("symbol", sig.Symbol),
		slog.String("side", string(sig.Type)),
		slog.String("reason", reason),
	)
	return fmt.Errorf("risk: %s: %w", reason, domain.ErrRiskRejected)
}

// CalculateQuantity returns the quantity the gate will grant at the given
// price: the theoretical maximum scaled down by 1 - |dailyLoss|/maxDailyLoss.
// Accumulated losses shrink subsequent grants; the hard cutoff remains the
// daily loss check in Accept.
func (g *Gate) CalculateQuantity(price float64) float64 {
	if price <= 0 || g.limits.MaxDailyLoss <= 0 {
		return 0
	}
	g.mu.Lock()
	dailyPnL := g.dailyPnL
	g.mu.Unlock()

	maxQty := g.limits.MaxPositionValue / price
	loss := math.Min(dailyPnL, 0)
	factor := 1 - math.Abs(loss)/g.limits.MaxDailyLoss
	if factor < 0 {
		factor = 0
	}
	return maxQty * factor
}

// AddDailyPnL folds a realized PnL delta into the current-day counter. Fed by
// ledger closes.
func (g *Gate) AddDailyPnL(delta float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dailyPnL += delta
}

// DailyPnL returns the current-day realized PnL.
func (g *Gate) DailyPnL() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dailyPnL
}

// Rejected returns how many signals the gate has dropped this session.
func (g *Gate) Rejected() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rejected
}

// ResetDaily zeroes the current-day PnL counter. Rollover is an explicit
// operator action; there is no implicit midnight reset.
func (g *Gate) ResetDaily() {
	g.mu.Lock()
	prev := g.dailyPnL
	g.dailyPnL = 0
	g.mu.Unlock()
	g.logger.Info("daily pnl reset", slog.Float64("previous", prev))
}

// Limits returns the configured limits.
func (g *Gate) Limits() Limits { return g.limits }
