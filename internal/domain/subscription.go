package domain

// Priority controls the order in which subscriptions are shed under quota
// pressure: lower priorities go first, critical symbols are never shed.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityStandard Priority = "standard"
	PriorityLow      Priority = "low"
)

// Rank returns the shedding rank of a priority: higher rank is shed first.
// Unknown priorities rank as standard.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityStandard, PriorityLow:
		return true
	}
	return false
}

// Channel names an upstream data channel a symbol can be subscribed on.
type Channel string

const (
	ChannelTrades    Channel = "trades"
	ChannelQuotes    Channel = "quotes"
	ChannelLevel1    Channel = "level1"
	ChannelOrderbook Channel = "orderbook"
)

// SubscriptionConfig describes one symbol's subscription: which channels it
// needs, how urgent it is under quota pressure, and its latency/freshness
// budgets. Owned exclusively by the subscription registry.
type SubscriptionConfig struct {
	Symbol            string    `json:"symbol" toml:"symbol"`
	Priority          Priority  `json:"priority" toml:"priority"`
	Channels          []Channel `json:"channels" toml:"channels"`
	LatencyBudgetMs   int64     `json:"latency_budget_ms" toml:"latency_budget_ms"`
	FreshnessBudgetMs int64     `json:"freshness_budget_ms" toml:"freshness_budget_ms"`
	Enabled           bool      `json:"enabled" toml:"enabled"`
	ViolationCount    int       `json:"violation_count" toml:"-"`
}
