// Package config defines the typed TOML configuration for the bot.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/hexvolt/hftbot/internal/domain"
)

// Config is the root configuration. Modes:
//
//	live  - connect the websocket transport to a real exchange endpoint
//	paper - drive the engine from the built-in synthetic tick source
type Config struct {
	Mode     string `toml:"mode"`
	LogLevel string `toml:"log_level"`

	Stream    StreamConfig              `toml:"stream"`
	Engine    EngineConfig              `toml:"engine"`
	Risk      RiskConfig                `toml:"risk"`
	Strategy  map[string]StrategyConfig `toml:"strategy"`
	Symbols   []SymbolConfig            `toml:"symbols"`
	Redis     RedisConfig               `toml:"redis"`
	Postgres  PostgresConfig            `toml:"postgres"`
	Server    ServerConfig              `toml:"server"`
	Telemetry TelemetryConfig           `toml:"telemetry"`
}

// StreamConfig holds market data connection parameters.
type StreamConfig struct {
	URL                  string   `toml:"url"`
	HeartbeatInterval    duration `toml:"heartbeat_interval"`
	ReconnectBase        duration `toml:"reconnect_base"`
	ReconnectMax         duration `toml:"reconnect_max"`
	MaxReconnectAttempts int      `toml:"max_reconnect_attempts"`
	SyntheticInterval    duration `toml:"synthetic_interval"` // paper mode tick rate
	SyntheticSeed        int64    `toml:"synthetic_seed"`
}

// EngineConfig holds pipeline tuning knobs.
type EngineConfig struct {
	MonitorInterval duration `toml:"monitor_interval"`
	ExitMaxAge      duration `toml:"exit_max_age"`
	DrainDelay      duration `toml:"drain_delay"`
	OrderQueueSize  int      `toml:"order_queue_size"`
}

// RiskConfig holds the hard limits enforced before every order.
type RiskConfig struct {
	MaxPositionValue float64 `toml:"max_position_value"`
	MaxDailyLoss     float64 `toml:"max_daily_loss"`
	MaxOpenPositions int     `toml:"max_open_positions"`
	StopLossPct      float64 `toml:"stop_loss_pct"`
	TakeProfitPct    float64 `toml:"take_profit_pct"`
}

// StrategyConfig holds per-strategy parameters. The section name under
// [strategy.<name>] is the strategy's instance name; kind selects the
// registered factory.
type StrategyConfig struct {
	Kind          string         `toml:"kind"`
	Quantity      float64        `toml:"quantity"`
	StopLossPct   float64        `toml:"stop_loss_pct"`
	TakeProfitPct float64        `toml:"take_profit_pct"`
	Params        map[string]any `toml:"params"`
}

// SymbolConfig declares one subscribed symbol.
type SymbolConfig struct {
	Symbol            string   `toml:"symbol"`
	Priority          string   `toml:"priority"`
	Channels          []string `toml:"channels"`
	LatencyBudgetMs   int64    `toml:"latency_budget_ms"`
	FreshnessBudgetMs int64    `toml:"freshness_budget_ms"`
}

// Subscription converts the TOML section into the domain type.
func (s SymbolConfig) Subscription() domain.SubscriptionConfig {
	channels := make([]domain.Channel, 0, len(s.Channels))
	for _, c := range s.Channels {
		channels = append(channels, domain.Channel(c))
	}
	return domain.SubscriptionConfig{
		Symbol:            s.Symbol,
		Priority:          domain.Priority(s.Priority),
		Channels:          channels,
		LatencyBudgetMs:   s.LatencyBudgetMs,
		FreshnessBudgetMs: s.FreshnessBudgetMs,
		Enabled:           true,
	}
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	MirrorTTL  duration `toml:"mirror_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	MaxConns      int    `toml:"max_conns"`
	MinConns      int    `toml:"min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Port    int    `toml:"port"`
	APIKey  string `toml:"api_key"`
}

// TelemetryConfig holds the control-plane forwarding parameters.
type TelemetryConfig struct {
	Enabled  bool     `toml:"enabled"`
	URL      string   `toml:"url"`
	Interval duration `toml:"interval"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with sane development defaults.
func Defaults() Config {
	return Config{
		Mode:     "paper",
		LogLevel: "info",
		Stream: StreamConfig{
			URL:                  "wss://localhost:9443/stream",
			HeartbeatInterval:    duration{30 * time.Second},
			ReconnectBase:        duration{time.Second},
			ReconnectMax:         duration{60 * time.Second},
			MaxReconnectAttempts: 0,
			SyntheticInterval:    duration{100 * time.Millisecond},
		},
		Engine: EngineConfig{
			MonitorInterval: duration{time.Second},
			ExitMaxAge:      duration{5 * time.Second},
			DrainDelay:      duration{100 * time.Millisecond},
			OrderQueueSize:  256,
		},
		Risk: RiskConfig{
			MaxPositionValue: 1000,
			MaxDailyLoss:     500,
			MaxOpenPositions: 10,
			StopLossPct:      0.05,
			TakeProfitPct:    0.10,
		},
		Strategy: map[string]StrategyConfig{
			"scalping": {
				Kind:          "scalping",
				Quantity:      1,
				StopLossPct:   0.05,
				TakeProfitPct: 0.10,
				Params:        map[string]any{},
			},
			"momentum": {
				Kind:          "momentum",
				Quantity:      1,
				StopLossPct:   0.05,
				TakeProfitPct: 0.10,
				Params:        map[string]any{},
			},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "hftbot",
			MirrorTTL:  duration{time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "hftbot",
			User:          "hftbot",
			SSLMode:       "disable",
			MaxConns:      10,
			MinConns:      2,
			RunMigrations: true,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
		Telemetry: TelemetryConfig{
			Interval: duration{10 * time.Second},
		},
	}
}

var validModes = map[string]bool{
	"live":  true,
	"paper": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration for inconsistencies and returns a single
// error enumerating every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, paper)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if strings.ToLower(c.Mode) == "live" && strings.TrimSpace(c.Stream.URL) == "" {
		errs = append(errs, "stream: url must not be empty in live mode")
	}
	if c.Stream.HeartbeatInterval.Duration <= 0 {
		errs = append(errs, "stream: heartbeat_interval must be positive")
	}
	if c.Stream.ReconnectBase.Duration <= 0 {
		errs = append(errs, "stream: reconnect_base must be positive")
	}
	if c.Stream.ReconnectMax.Duration < c.Stream.ReconnectBase.Duration {
		errs = append(errs, "stream: reconnect_max must be >= reconnect_base")
	}
	if c.Stream.MaxReconnectAttempts < 0 {
		errs = append(errs, "stream: max_reconnect_attempts must not be negative")
	}

	if c.Risk.MaxPositionValue <= 0 {
		errs = append(errs, "risk: max_position_value must be positive")
	}
	if c.Risk.MaxDailyLoss <= 0 {
		errs = append(errs, "risk: max_daily_loss must be positive")
	}
	if c.Risk.MaxOpenPositions <= 0 {
		errs = append(errs, "risk: max_open_positions must be positive")
	}
	if c.Risk.StopLossPct <= 0 || c.Risk.StopLossPct >= 1 {
		errs = append(errs, "risk: stop_loss_pct must be in (0, 1)")
	}
	if c.Risk.TakeProfitPct <= 0 || c.Risk.TakeProfitPct >= 1 {
		errs = append(errs, "risk: take_profit_pct must be in (0, 1)")
	}

	for name, sc := range c.Strategy {
		if sc.Kind == "" {
			errs = append(errs, fmt.Sprintf("strategy %s: kind must not be empty", name))
		}
		if sc.Quantity <= 0 {
			errs = append(errs, fmt.Sprintf("strategy %s: quantity must be positive", name))
		}
	}

	for i, sym := range c.Symbols {
		if strings.TrimSpace(sym.Symbol) == "" {
			errs = append(errs, fmt.Sprintf("symbols[%d]: symbol must not be empty", i))
			continue
		}
		if !domain.Priority(sym.Priority).Valid() {
			errs = append(errs, fmt.Sprintf("symbols[%d]: unknown priority %q", i, sym.Priority))
		}
		if sym.LatencyBudgetMs <= 0 {
			errs = append(errs, fmt.Sprintf("symbols[%d]: latency_budget_ms must be positive", i))
		}
		if sym.FreshnessBudgetMs <= 0 {
			errs = append(errs, fmt.Sprintf("symbols[%d]: freshness_budget_ms must be positive", i))
		}
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}

	if c.Postgres.Enabled && strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, "postgres: port must be in (0, 65535]")
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
		if c.Postgres.User == "" {
			errs = append(errs, "postgres: user must not be empty")
		}
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, "server: port must be in (0, 65535]")
	}

	if c.Telemetry.Enabled {
		if strings.TrimSpace(c.Telemetry.URL) == "" {
			errs = append(errs, "telemetry: url must not be empty")
		}
		if c.Telemetry.Interval.Duration <= 0 {
			errs = append(errs, "telemetry: interval must be positive")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
