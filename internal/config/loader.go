package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies HFTBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known HFTBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "HFTBOT_MODE")
	setStr(&cfg.LogLevel, "HFTBOT_LOG_LEVEL")

	setStr(&cfg.Stream.URL, "HFTBOT_STREAM_URL")
	setDuration(&cfg.Stream.HeartbeatInterval, "HFTBOT_STREAM_HEARTBEAT_INTERVAL")
	setDuration(&cfg.Stream.ReconnectBase, "HFTBOT_STREAM_RECONNECT_BASE")
	setDuration(&cfg.Stream.ReconnectMax, "HFTBOT_STREAM_RECONNECT_MAX")
	setInt(&cfg.Stream.MaxReconnectAttempts, "HFTBOT_STREAM_MAX_RECONNECT_ATTEMPTS")

	setFloat64(&cfg.Risk.MaxPositionValue, "HFTBOT_RISK_MAX_POSITION_VALUE")
	setFloat64(&cfg.Risk.MaxDailyLoss, "HFTBOT_RISK_MAX_DAILY_LOSS")
	setInt(&cfg.Risk.MaxOpenPositions, "HFTBOT_RISK_MAX_OPEN_POSITIONS")
	setFloat64(&cfg.Risk.StopLossPct, "HFTBOT_RISK_STOP_LOSS_PCT")
	setFloat64(&cfg.Risk.TakeProfitPct, "HFTBOT_RISK_TAKE_PROFIT_PCT")

	setBool(&cfg.Redis.Enabled, "HFTBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "HFTBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "HFTBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "HFTBOT_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "HFTBOT_REDIS_TLS_ENABLED")

	setBool(&cfg.Postgres.Enabled, "HFTBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "HFTBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "HFTBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "HFTBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "HFTBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "HFTBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "HFTBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "HFTBOT_POSTGRES_SSL_MODE")

	setBool(&cfg.Server.Enabled, "HFTBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "HFTBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "HFTBOT_SERVER_API_KEY")

	setBool(&cfg.Telemetry.Enabled, "HFTBOT_TELEMETRY_ENABLED")
	setStr(&cfg.Telemetry.URL, "HFTBOT_TELEMETRY_URL")
	setDuration(&cfg.Telemetry.Interval, "HFTBOT_TELEMETRY_INTERVAL")

	var symbols []string
	setStringSlice(&symbols, "HFTBOT_SYMBOLS")
	if len(symbols) > 0 {
		applySymbolsOverride(cfg, symbols)
	}
}

// applySymbolsOverride replaces the symbol table with standard-priority
// entries for the named symbols, keeping any budgets configured in TOML for
// symbols that survive the override.
func applySymbolsOverride(cfg *Config, symbols []string) {
	existing := make(map[string]SymbolConfig, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		existing[s.Symbol] = s
	}

	out := make([]SymbolConfig, 0, len(symbols))
	for _, name := range symbols {
		if prev, ok := existing[name]; ok {
			out = append(out, prev)
			continue
		}
		out = append(out, SymbolConfig{
			Symbol:            name,
			Priority:          "standard",
			Channels:          []string{"trades", "quotes"},
			LatencyBudgetMs:   100,
			FreshnessBudgetMs: 5000,
		})
	}
	cfg.Symbols = out
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
