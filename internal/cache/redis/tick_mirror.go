package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hexvolt/hftbot/internal/domain"
)

// TickMirror publishes the latest tick per symbol into Redis hashes so that
// dashboards and sibling processes can observe prices without attaching to
// the market data stream. Each symbol lives at key "tick:{symbol}" with
// fields "price", "bid", "ask", "volume" and "ts" (Unix nanoseconds).
//
// The in-process tick cache remains the source of truth for the hot path;
// the mirror is write-behind and best-effort.
type TickMirror struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewTickMirror creates a TickMirror backed by the given Client. Keys expire
// after ttl so a stopped engine does not leave phantom prices behind; a zero
// ttl disables expiry.
func NewTickMirror(c *Client, ttl time.Duration) *TickMirror {
	return &TickMirror{rdb: c.Underlying(), ttl: ttl}
}

func tickKey(symbol string) string {
	return "tick:" + symbol
}

// Set stores the latest tick for a symbol.
func (m *TickMirror) Set(ctx context.Context, tick domain.Tick) error {
	key := tickKey(tick.Symbol)
	fields := map[string]interface{}{
		"price":  strconv.FormatFloat(tick.Price, 'f', -1, 64),
		"bid":    strconv.FormatFloat(tick.Bid, 'f', -1, 64),
		"ask":    strconv.FormatFloat(tick.Ask, 'f', -1, 64),
		"volume": strconv.FormatFloat(tick.Volume, 'f', -1, 64),
		"ts":     strconv.FormatInt(tick.ReceivedAt.UnixNano(), 10),
	}

	pipe := m.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	if m.ttl > 0 {
		pipe.Expire(ctx, key, m.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: mirror tick %s: %w", tick.Symbol, err)
	}
	return nil
}

// Get retrieves the mirrored tick for a symbol. It returns domain.ErrNotFound
// when the key does not exist or has expired.
func (m *TickMirror) Get(ctx context.Context, symbol string) (domain.Tick, error) {
	vals, err := m.rdb.HGetAll(ctx, tickKey(symbol)).Result()
	if err != nil {
		return domain.Tick{}, fmt.Errorf("redis: get tick %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return domain.Tick{}, domain.ErrNotFound
	}

	tick := domain.Tick{Symbol: symbol}
	if tick.Price, err = parseField(vals, "price"); err != nil {
		return domain.Tick{}, fmt.Errorf("redis: tick %s: %w", symbol, err)
	}
	if tick.Bid, err = parseField(vals, "bid"); err != nil {
		return domain.Tick{}, fmt.Errorf("redis: tick %s: %w", symbol, err)
	}
	if tick.Ask, err = parseField(vals, "ask"); err != nil {
		return domain.Tick{}, fmt.Errorf("redis: tick %s: %w", symbol, err)
	}
	if tick.Volume, err = parseField(vals, "volume"); err != nil {
		return domain.Tick{}, fmt.Errorf("redis: tick %s: %w", symbol, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return domain.Tick{}, domain.ErrNotFound
	}
	ns, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.Tick{}, fmt.Errorf("redis: tick %s: parse ts: %w", symbol, err)
	}
	tick.ReceivedAt = time.Unix(0, ns)

	return tick, nil
}

func parseField(vals map[string]string, field string) (float64, error) {
	s, ok := vals[field]
	if !ok {
		return 0, domain.ErrNotFound
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", field, err)
	}
	return f, nil
}
