// Package marketdata holds the last-known-value tick cache and the latency
// monitor that watches per-symbol delivery quality.
package marketdata

import (
	"sort"
	"sync"
	"time"

	"github.com/hexvolt/hftbot/internal/domain"
)

// TickCache stores the latest tick per symbol. Cardinality is bounded by the
// subscribed symbol set, so there is no eviction.
type TickCache struct {
	mu    sync.RWMutex
	ticks map[string]domain.Tick
	clock domain.Clock
}

// NewTickCache creates an empty TickCache.
func NewTickCache(clock domain.Clock) *TickCache {
	return &TickCache{
		ticks: make(map[string]domain.Tick),
		clock: clock,
	}
}

// Update overwrites the prior entry for the tick's symbol.
func (c *TickCache) Update(tick domain.Tick) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks[tick.Symbol] = tick
}

// Get returns the latest tick for symbol, if any.
func (c *TickCache) Get(symbol string) (domain.Tick, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.ticks[symbol]
	return t, ok
}

// IsStale reports whether symbol's latest tick is older than maxAge. An
// absent symbol is stale.
func (c *TickCache) IsStale(symbol string, maxAge time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.ticks[symbol]
	if !ok {
		return true
	}
	return c.clock.Now().Sub(t.ReceivedAt) > maxAge
}

// Symbols returns all cached symbols in sorted order.
func (c *TickCache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.ticks))
	for s := range c.ticks {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
