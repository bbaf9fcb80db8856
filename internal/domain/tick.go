package domain

import "time"

// Tick is a single market-data update for one symbol. Ticks are immutable
// once constructed; the next tick for the same symbol supersedes this one in
// the tick cache rather than mutating it.
type Tick struct {
	Symbol     string
	Price      float64
	Bid        float64 // 0 when the feed did not supply a quote
	Ask        float64 // 0 when the feed did not supply a quote
	Volume     float64
	ExchangeTS time.Time // timestamp stamped by the exchange
	ReceivedAt time.Time // timestamp stamped locally on receipt
}

// Latency returns the feed latency for this tick, clamped to zero when clock
// skew makes the exchange timestamp run ahead of the local clock.
func (t Tick) Latency() time.Duration {
	d := t.ReceivedAt.Sub(t.ExchangeTS)
	if d < 0 {
		return 0
	}
	return d
}

// Spread returns (ask-bid)/price, or 0 when the tick carries no usable quote.
func (t Tick) Spread() float64 {
	if t.Bid <= 0 || t.Ask <= 0 || t.Price <= 0 {
		return 0
	}
	return (t.Ask - t.Bid) / t.Price
}

// LatencyStats summarizes the rolling latency window.
type LatencyStats struct {
	Samples    int
	Min        time.Duration
	Max        time.Duration
	Avg        time.Duration
	P95        time.Duration
	P99        time.Duration
	Throughput float64 // messages per second over the window
}
