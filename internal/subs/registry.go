// Package subs tracks which symbols and channels are subscribed upstream,
// deduplicating and unioning the requirements of all local requesters. It is
// the only component that issues subscribe/unsubscribe protocol messages.
package subs

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/hexvolt/hftbot/internal/domain"
	"github.com/hexvolt/hftbot/internal/stream"
)

// Sender issues outbound protocol messages. Implemented by
// *stream.Connection; failed sends are queued and retried by the connection
// itself, never by the registry.
type Sender interface {
	Send(v any) error
}

type entry struct {
	cfg      domain.SubscriptionConfig
	refs     int
	upstream map[domain.Channel]bool // channels currently subscribed upstream
}

// Registry maintains the upstream subscription set. All methods are safe for
// concurrent use.
type Registry struct {
	mu     sync.Mutex
	conn   Sender
	logger *slog.Logger
	subs   map[string]*entry
}

// NewRegistry creates an empty Registry sending through conn.
func NewRegistry(conn Sender, logger *slog.Logger) *Registry {
	return &Registry{
		conn:   conn,
		logger: logger.With(slog.String("component", "subscription_registry")),
		subs:   make(map[string]*entry),
	}
}

// AddSymbol registers a requester for symbol and unions the required channels
// across all requesters. A subscribe message is issued only for channels not
// already subscribed upstream, so repeated identical calls produce exactly
// one upstream message.
func (r *Registry) AddSymbol(symbol string, cfg domain.SubscriptionConfig) error {
	if symbol == "" {
		return fmt.Errorf("subs: add symbol: empty symbol")
	}
	cfg.Symbol = symbol
	if !cfg.Priority.Valid() {
		cfg.Priority = domain.PriorityStandard
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.subs[symbol]
	if !ok {
		e = &entry{
			cfg:      cfg,
			upstream: make(map[domain.Channel]bool),
		}
		e.cfg.Enabled = true
		e.cfg.ViolationCount = 0
		r.subs[symbol] = e
	} else {
		// Union requested channels; keep the strictest priority and budgets.
		e.cfg.Channels = unionChannels(e.cfg.Channels, cfg.Channels)
		if cfg.Priority.Rank() < e.cfg.Priority.Rank() {
			e.cfg.Priority = cfg.Priority
		}
		if cfg.LatencyBudgetMs > 0 && (e.cfg.LatencyBudgetMs == 0 || cfg.LatencyBudgetMs < e.cfg.LatencyBudgetMs) {
			e.cfg.LatencyBudgetMs = cfg.LatencyBudgetMs
		}
		if cfg.FreshnessBudgetMs > 0 && (e.cfg.FreshnessBudgetMs == 0 || cfg.FreshnessBudgetMs < e.cfg.FreshnessBudgetMs) {
			e.cfg.FreshnessBudgetMs = cfg.FreshnessBudgetMs
		}
	}
	e.refs++

	if !e.cfg.Enabled {
		return nil
	}
	return r.syncUpstreamLocked(e)
}

// RemoveSymbol drops one requester reference. The upstream unsubscribe is
// only issued when no requester remains.
func (r *Registry) RemoveSymbol(symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.subs[symbol]
	if !ok {
		return fmt.Errorf("subs: remove %s: %w", symbol, domain.ErrNotFound)
	}
	e.refs--
	if e.refs > 0 {
		return nil
	}

	err := r.unsubscribeAllLocked(e)
	delete(r.subs, symbol)
	return err
}

// Disable takes symbol off the upstream feed without losing its registration.
// Used by the latency monitor's cooldown.
func (r *Registry) Disable(symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.subs[symbol]
	if !ok {
		return fmt.Errorf("subs: disable %s: %w", symbol, domain.ErrNotFound)
	}
	if !e.cfg.Enabled {
		return nil
	}
	e.cfg.Enabled = false
	r.logger.Warn("symbol disabled", slog.String("symbol", symbol))
	return r.unsubscribeAllLocked(e)
}

// Enable re-subscribes a previously disabled symbol and resets its violation
// count.
func (r *Registry) Enable(symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.subs[symbol]
	if !ok {
		return fmt.Errorf("subs: enable %s: %w", symbol, domain.ErrNotFound)
	}
	if e.cfg.Enabled {
		return nil
	}
	e.cfg.Enabled = true
	e.cfg.ViolationCount = 0
	r.logger.Info("symbol re-enabled", slog.String("symbol", symbol))
	return r.syncUpstreamLocked(e)
}

// RecordViolation increments symbol's violation counter and returns the new
// count.
func (r *Registry) RecordViolation(symbol string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.subs[symbol]
	if !ok {
		return 0
	}
	e.cfg.ViolationCount++
	return e.cfg.ViolationCount
}

// Config returns the current config for symbol.
func (r *Registry) Config(symbol string) (domain.SubscriptionConfig, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.subs[symbol]
	if !ok {
		return domain.SubscriptionConfig{}, false
	}
	return e.cfg, true
}

// LatencyBudget returns symbol's latency budget in milliseconds, if known.
func (r *Registry) LatencyBudget(symbol string) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.subs[symbol]
	if !ok || e.cfg.LatencyBudgetMs <= 0 {
		return 0, false
	}
	return e.cfg.LatencyBudgetMs, true
}

// FreshnessBudget returns symbol's freshness budget in milliseconds, if
// known.
func (r *Registry) FreshnessBudget(symbol string) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.subs[symbol]
	if !ok || e.cfg.FreshnessBudgetMs <= 0 {
		return 0, false
	}
	return e.cfg.FreshnessBudgetMs, true
}

// EnabledSymbols returns the currently enabled symbols in sorted order.
func (r *Registry) EnabledSymbols() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.subs))
	for sym, e := range r.subs {
		if e.cfg.Enabled {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

// Configs returns a snapshot of all registered subscription configs, sorted
// by symbol. Used for persistence at shutdown.
func (r *Registry) Configs() []domain.SubscriptionConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.SubscriptionConfig, 0, len(r.subs))
	for _, e := range r.subs {
		cfg := e.cfg
		cfg.Channels = append([]domain.Channel(nil), e.cfg.Channels...)
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Restore installs a persisted config as-is, preserving its enabled flag and
// violation count. Existing registrations merge the way AddSymbol merges, but
// a persisted disabled state wins so a symbol disabled before shutdown does
// not silently rejoin the feed.
func (r *Registry) Restore(cfg domain.SubscriptionConfig) error {
	if cfg.Symbol == "" {
		return fmt.Errorf("subs: restore: empty symbol")
	}
	if !cfg.Priority.Valid() {
		cfg.Priority = domain.PriorityStandard
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.subs[cfg.Symbol]
	if !ok {
		e = &entry{
			cfg:      cfg,
			refs:     1,
			upstream: make(map[domain.Channel]bool),
		}
		r.subs[cfg.Symbol] = e
	} else {
		e.cfg.Channels = unionChannels(e.cfg.Channels, cfg.Channels)
		if cfg.Priority.Rank() < e.cfg.Priority.Rank() {
			e.cfg.Priority = cfg.Priority
		}
		if cfg.LatencyBudgetMs > 0 && (e.cfg.LatencyBudgetMs == 0 || cfg.LatencyBudgetMs < e.cfg.LatencyBudgetMs) {
			e.cfg.LatencyBudgetMs = cfg.LatencyBudgetMs
		}
		if cfg.FreshnessBudgetMs > 0 && (e.cfg.FreshnessBudgetMs == 0 || cfg.FreshnessBudgetMs < e.cfg.FreshnessBudgetMs) {
			e.cfg.FreshnessBudgetMs = cfg.FreshnessBudgetMs
		}
		if !cfg.Enabled {
			e.cfg.Enabled = false
		}
		if cfg.ViolationCount > e.cfg.ViolationCount {
			e.cfg.ViolationCount = cfg.ViolationCount
		}
	}

	if !e.cfg.Enabled {
		return r.unsubscribeAllLocked(e)
	}
	return r.syncUpstreamLocked(e)
}

// ShedLowPriority handles a quota-pressure warning: roughly the bottom 30% of
// non-critical subscriptions are disabled, lowest priority first. Returns the
// shed symbols.
func (r *Registry) ShedLowPriority() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var candidates []*entry
	for _, e := range r.subs {
		if e.cfg.Enabled && e.cfg.Priority != domain.PriorityCritical {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	// Lowest priority first; ties broken by symbol for determinism.
	sort.Slice(candidates, func(i, j int) bool {
		ri, rj := candidates[i].cfg.Priority.Rank(), candidates[j].cfg.Priority.Rank()
		if ri != rj {
			return ri > rj
		}
		return candidates[i].cfg.Symbol < candidates[j].cfg.Symbol
	})

	n := int(math.Ceil(float64(len(candidates)) * 0.3))
	shed := make([]string, 0, n)
	for _, e := range candidates[:n] {
		e.cfg.Enabled = false
		_ = r.unsubscribeAllLocked(e)
		shed = append(shed, e.cfg.Symbol)
	}
	r.logger.Warn("quota pressure: shed low-priority subscriptions", slog.Any("symbols", shed))
	return shed
}

// ShedEmergency handles a quota emergency: everything except critical-priority
// symbols is disabled. Returns the shed symbols.
func (r *Registry) ShedEmergency() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var shed []string
	for _, e := range r.subs {
		if e.cfg.Enabled && e.cfg.Priority != domain.PriorityCritical {
			e.cfg.Enabled = false
			_ = r.unsubscribeAllLocked(e)
			shed = append(shed, e.cfg.Symbol)
		}
	}
	sort.Strings(shed)
	r.logger.Error("quota emergency: shed all non-critical subscriptions", slog.Any("symbols", shed))
	return shed
}

// ResubscribeAll re-issues subscribe messages for the full enabled set. Called
// on every CONNECTED transition so subscriptions survive reconnects.
func (r *Registry) ResubscribeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, e := range r.subs {
		if !e.cfg.Enabled {
			continue
		}
		// The previous connection's upstream state is gone.
		e.upstream = make(map[domain.Channel]bool)
		if err := r.syncUpstreamLocked(e); err != nil {
			r.logger.Warn("resubscribe failed",
				slog.String("symbol", e.cfg.Symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		count++
	}
	r.logger.Info("resubscribed after connect", slog.Int("symbols", count))
}

// syncUpstreamLocked subscribes any required channel that is not yet
// subscribed upstream. Caller must hold r.mu.
func (r *Registry) syncUpstreamLocked(e *entry) error {
	for _, ch := range e.cfg.Channels {
		if e.upstream[ch] {
			continue
		}
		cmd := stream.Command{
			Action:  stream.ActionSubscribe,
			Channel: string(ch),
			Symbols: []string{e.cfg.Symbol},
		}
		if err := r.conn.Send(cmd); err != nil {
			return fmt.Errorf("subs: subscribe %s/%s: %w", e.cfg.Symbol, ch, err)
		}
		e.upstream[ch] = true
	}
	return nil
}

// unsubscribeAllLocked unsubscribes every upstream channel of e. Caller must
// hold r.mu.
func (r *Registry) unsubscribeAllLocked(e *entry) error {
	for ch := range e.upstream {
		cmd := stream.Command{
			Action:  stream.ActionUnsubscribe,
			Channel: string(ch),
			Symbols: []string{e.cfg.Symbol},
		}
		if err := r.conn.Send(cmd); err != nil {
			return fmt.Errorf("subs: unsubscribe %s/%s: %w", e.cfg.Symbol, ch, err)
		}
	}
	e.upstream = make(map[domain.Channel]bool)
	return nil
}

func unionChannels(a, b []domain.Channel) []domain.Channel {
	seen := make(map[domain.Channel]bool, len(a)+len(b))
	out := make([]domain.Channel, 0, len(a)+len(b))
	for _, ch := range a {
		if !seen[ch] {
			seen[ch] = true
			out = append(out, ch)
		}
	}
	for _, ch := range b {
		if !seen[ch] {
			seen[ch] = true
			out = append(out, ch)
		}
	}
	return out
}
