package marketdata

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hexvolt/hftbot/internal/domain"
)

const (
	// windowSize is the number of latency samples in the rolling window.
	windowSize = 100

	// criticalLimit is how many critical violations a symbol may accumulate
	// before it is put on cooldown.
	criticalLimit = 5

	// defaultCooldown is how long a symbol stays disabled after repeated
	// critical violations.
	defaultCooldown = 30 * time.Second
)

// BudgetSource supplies per-symbol latency budgets. Implemented by
// subs.Registry.
type BudgetSource interface {
	LatencyBudget(symbol string) (ms int64, ok bool)
}

// SymbolToggler disables and re-enables symbols. Implemented by
// subs.Registry; Enable resets the symbol's violation count.
type SymbolToggler interface {
	Disable(symbol string) error
	Enable(symbol string) error
}

// ViolationHandler observes latency violations as events.
type ViolationHandler func(symbol string, latency time.Duration, critical bool)

// Monitor computes rolling latency and throughput statistics and raises
// violation events against per-symbol budgets. After criticalLimit critical
// violations a symbol is disabled and automatically re-enabled once the
// cooldown elapses; re-enabling happens in Sweep, which the engine's monitor
// loop calls once per cycle.
type Monitor struct {
	clock    domain.Clock
	budgets  BudgetSource
	toggler  SymbolToggler
	logger   *slog.Logger
	cooldown time.Duration

	mu          sync.Mutex
	samples     []time.Duration // rolling window, newest last
	times       []time.Time     // receipt times matching samples
	rttSum      time.Duration
	rttCount    int
	criticals   map[string]int
	reenableAt  map[string]time.Time
	onViolation []ViolationHandler
}

// NewMonitor creates a Monitor with the default window and cooldown.
func NewMonitor(clock domain.Clock, budgets BudgetSource, toggler SymbolToggler, logger *slog.Logger) *Monitor {
	return &Monitor{
		clock:      clock,
		budgets:    budgets,
		toggler:    toggler,
		logger:     logger.With(slog.String("component", "latency_monitor")),
		cooldown:   defaultCooldown,
		criticals:  make(map[string]int),
		reenableAt: make(map[string]time.Time),
	}
}

// SetCooldown overrides the re-enable cooldown. Intended for tests.
func (m *Monitor) SetCooldown(d time.Duration) { m.cooldown = d }

// OnViolation registers a violation event handler. Handlers run on the tick
// path and must be fast.
func (m *Monitor) OnViolation(h ViolationHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onViolation = append(m.onViolation, h)
}

// Observe records one tick's latency and evaluates it against the symbol's
// budget. Latency is clamped to zero under clock skew.
func (m *Monitor) Observe(tick domain.Tick) {
	latency := tick.Latency()

	m.mu.Lock()
	m.samples = append(m.samples, latency)
	m.times = append(m.times, tick.ReceivedAt)
	if len(m.samples) > windowSize {
		m.samples = m.samples[1:]
		m.times = m.times[1:]
	}
	handlers := m.onViolation
	m.mu.Unlock()

	budgetMs, ok := m.budgets.LatencyBudget(tick.Symbol)
	if !ok {
		return
	}
	budget := time.Duration(budgetMs) * time.Millisecond
	if latency <= budget {
		return
	}

	critical := latency > 2*budget
	if critical {
		m.logger.Warn("critical latency violation",
			slog.String("symbol", tick.Symbol),
			slog.Duration("latency", latency),
			slog.Duration("budget", budget),
		)
		m.recordCritical(tick.Symbol)
	} else {
		m.logger.Info("latency violation",
			slog.String("symbol", tick.Symbol),
			slog.Duration("latency", latency),
			slog.Duration("budget", budget),
		)
	}
	for _, h := range handlers {
		h(tick.Symbol, latency, critical)
	}
}

// RecordRTT folds a heartbeat round-trip into the connection RTT average.
func (m *Monitor) RecordRTT(rtt time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rttSum += rtt
	m.rttCount++
}

// AvgRTT returns the mean heartbeat round-trip observed this session.
func (m *Monitor) AvgRTT() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rttCount == 0 {
		return 0
	}
	return m.rttSum / time.Duration(m.rttCount)
}

// recordCritical counts a critical violation and disables the symbol once the
// limit is hit, scheduling re-enable after the cooldown.
func (m *Monitor) recordCritical(symbol string) {
	m.mu.Lock()
	m.criticals[symbol]++
	count := m.criticals[symbol]
	trip := count >= criticalLimit
	if trip {
		m.criticals[symbol] = 0
		m.reenableAt[symbol] = m.clock.Now().Add(m.cooldown)
	}
	m.mu.Unlock()

	if !trip {
		return
	}
	m.logger.Error("symbol on latency cooldown",
		slog.String("symbol", symbol),
		slog.Duration("cooldown", m.cooldown),
	)
	if err := m.toggler.Disable(symbol); err != nil {
		m.logger.Warn("disable failed", slog.String("symbol", symbol), slog.String("error", err.Error()))
	}
}

// Sweep re-enables symbols whose cooldown has elapsed. Called periodically by
// the engine's monitor loop.
func (m *Monitor) Sweep() {
	now := m.clock.Now()

	m.mu.Lock()
	var ready []string
	for sym, at := range m.reenableAt {
		if !now.Before(at) {
			ready = append(ready, sym)
			delete(m.reenableAt, sym)
		}
	}
	m.mu.Unlock()

	for _, sym := range ready {
		if err := m.toggler.Enable(sym); err != nil {
			m.logger.Warn("re-enable failed", slog.String("symbol", sym), slog.String("error", err.Error()))
			continue
		}
		m.logger.Info("symbol back from latency cooldown", slog.String("symbol", sym))
	}
}

// Stats returns min/max/avg/p95/p99 over the rolling window plus throughput
// in messages per second.
func (m *Monitor) Stats() domain.LatencyStats {
	m.mu.Lock()
	samples := append([]time.Duration(nil), m.samples...)
	times := append([]time.Time(nil), m.times...)
	m.mu.Unlock()

	stats := domain.LatencyStats{Samples: len(samples)}
	if len(samples) == 0 {
		return stats
	}

	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, s := range sorted {
		sum += s
	}
	stats.Min = sorted[0]
	stats.Max = sorted[len(sorted)-1]
	stats.Avg = sum / time.Duration(len(sorted))
	stats.P95 = percentile(sorted, 0.95)
	stats.P99 = percentile(sorted, 0.99)

	if span := times[len(times)-1].Sub(times[0]); span > 0 {
		stats.Throughput = float64(len(times)-1) / span.Seconds()
	}
	return stats
}

// percentile returns the nearest-rank percentile of an ascending-sorted
// slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p*float64(len(sorted))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
