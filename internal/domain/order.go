package domain

import "time"

// Order is a risk-approved instruction for the position ledger. Execution is
// simulated in-process: every order fills immediately at its stated price.
type Order struct {
	ID         string
	Symbol     string
	Side       Side
	Price      float64
	Quantity   float64
	StopLoss   *float64
	TakeProfit *float64
	Strategy   string
	Reason     string
	CreatedAt  time.Time
}

// Trade records one simulated fill. SELL fills carry the realized PnL of the
// position they closed.
type Trade struct {
	ID         string
	Symbol     string
	Side       Side
	Price      float64
	Quantity   float64
	PnL        float64
	Strategy   string
	Reason     string
	ExecutedAt time.Time
}
