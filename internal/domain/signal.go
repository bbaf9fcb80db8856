package domain

import "time"

// Side indicates the direction of a signal or order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Signal is a strategy's proposed trade prior to risk approval. A signal is
// consumed exactly once by the risk gate, then either dropped or turned into
// an order.
type Signal struct {
	ID          string
	Type        Side
	Symbol      string
	Price       float64
	Quantity    float64
	Strategy    string
	Confidence  float64 // [0,1]
	StopLoss    *float64
	TakeProfit  *float64
	Reason      string
	GeneratedAt time.Time
}

// Notional returns price * quantity, the value the risk gate checks against
// the per-position limit.
func (s Signal) Notional() float64 {
	return s.Price * s.Quantity
}
