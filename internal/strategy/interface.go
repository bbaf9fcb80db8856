package strategy

import (
	"context"

	"github.com/hexvolt/hftbot/internal/domain"
)

// PositionView is read access to open positions, implemented by the ledger.
// Strategies use it to decide whether a close signal makes sense.
type PositionView interface {
	Position(symbol string) (domain.Position, bool)
}

// Strategy converts ticks into at most one trade signal per evaluation.
// Evaluate must be side-effect free outside the strategy's own state; a nil
// signal with nil error means "no opinion on this tick".
type Strategy interface {
	Name() string
	Init(ctx context.Context) error
	Evaluate(ctx context.Context, tick domain.Tick) (*domain.Signal, error)
	Close() error
}

// Config holds per-strategy configuration. Params carries kind-specific
// tuning knobs so new strategy kinds need no Config changes.
type Config struct {
	Kind          string
	Quantity      float64
	StopLossPct   float64
	TakeProfitPct float64
	Params        map[string]any
}

// param helpers -------------------------------------------------------------

func (c Config) paramFloat(key string, def float64) float64 {
	v, ok := c.Params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return def
}

func (c Config) paramString(key, def string) string {
	if v, ok := c.Params[key].(string); ok && v != "" {
		return v
	}
	return def
}
