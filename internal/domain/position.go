package domain

import "time"

// PositionSide is the state of a symbol's inventory. Shorting is not modeled:
// a symbol is either flat or long.
type PositionSide string

const (
	PositionLong PositionSide = "LONG"
	PositionFlat PositionSide = "FLAT"
)

// Position is the open inventory for one symbol. At most one position exists
// per symbol; same-direction fills accumulate into it with a volume-weighted
// average entry price.
type Position struct {
	Symbol        string
	Side          PositionSide
	Quantity      float64
	AvgEntryPrice float64
	StopLoss      *float64
	TakeProfit    *float64
	Strategy      string // strategy that opened the position
	OpenedAt      time.Time
}

// UnrealizedPnL returns the mark-to-market profit at the given price.
func (p Position) UnrealizedPnL(price float64) float64 {
	return (price - p.AvgEntryPrice) * p.Quantity
}
