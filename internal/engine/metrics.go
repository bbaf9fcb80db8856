package engine

import (
	"github.com/hexvolt/hftbot/internal/domain"
)

// Metrics is the engine's externally visible state snapshot, served by the
// control surface and forwarded as telemetry.
type Metrics struct {
	Running         bool                        `json:"running"`
	ConnectionState string                      `json:"connection_state"`
	UptimeSeconds   int64                       `json:"uptime_seconds"`
	Trades          int                         `json:"trades"`
	Wins            int                         `json:"wins"`
	WinRate         float64                     `json:"win_rate"`
	TotalPnL        float64                     `json:"total_pnl"`
	DailyPnL        float64                     `json:"daily_pnl"`
	UnrealizedPnL   float64                     `json:"unrealized_pnl"`
	RejectedSignals int64                       `json:"rejected_signals"`
	OpenPositions   []domain.Position           `json:"open_positions"`
	Latency         LatencySnapshot             `json:"latency"`
	EvalTimesMs     map[string]float64          `json:"eval_times_ms"`
	StrategyErrors  map[string]int64            `json:"strategy_errors,omitempty"`
	EnabledSymbols  []string                    `json:"enabled_symbols"`
	Symbols         []domain.SubscriptionConfig `json:"symbols"`
	Strategies      []string                    `json:"strategies"`
}

// LatencySnapshot is domain.LatencyStats flattened to milliseconds for JSON.
type LatencySnapshot struct {
	Samples    int     `json:"samples"`
	MinMs      float64 `json:"min_ms"`
	MaxMs      float64 `json:"max_ms"`
	AvgMs      float64 `json:"avg_ms"`
	P95Ms      float64 `json:"p95_ms"`
	P99Ms      float64 `json:"p99_ms"`
	AvgRTTMs   float64 `json:"avg_rtt_ms"`
	Throughput float64 `json:"throughput_per_sec"`
}

// StartResult is returned by Start.
type StartResult struct {
	Success           bool     `json:"success"`
	SubscribedSymbols []string `json:"subscribed_symbols"`
	EnabledStrategies []string `json:"enabled_strategies"`
}

// StopResult is returned by Stop.
type StopResult struct {
	Success      bool    `json:"success"`
	FinalMetrics Metrics `json:"final_metrics"`
}
