package marketdata

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hexvolt/hftbot/internal/domain"
)

// fixedBudgets returns the same budget for every symbol.
type fixedBudgets struct {
	ms int64
}

func (f fixedBudgets) LatencyBudget(symbol string) (int64, bool) {
	if f.ms <= 0 {
		return 0, false
	}
	return f.ms, true
}

// togglerSpy records disable/enable calls.
type togglerSpy struct {
	disabled []string
	enabled  []string
}

func (s *togglerSpy) Disable(symbol string) error {
	s.disabled = append(s.disabled, symbol)
	return nil
}

func (s *togglerSpy) Enable(symbol string) error {
	s.enabled = append(s.enabled, symbol)
	return nil
}

func newTestMonitor(budgetMs int64) (*Monitor, *togglerSpy, *domain.ManualClock) {
	clock := domain.NewManualClock(time.Unix(1000, 0))
	spy := &togglerSpy{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewMonitor(clock, fixedBudgets{ms: budgetMs}, spy, logger), spy, clock
}

func tickWithLatency(clock *domain.ManualClock, symbol string, latency time.Duration) domain.Tick {
	now := clock.Now()
	return domain.Tick{
		Symbol:     symbol,
		Price:      100,
		ExchangeTS: now.Add(-latency),
		ReceivedAt: now,
	}
}

func TestLatencyClampedUnderClockSkew(t *testing.T) {
	clock := domain.NewManualClock(time.Unix(1000, 0))
	// Exchange timestamp ahead of local receipt.
	tick := domain.Tick{
		ExchangeTS: clock.Now().Add(time.Second),
		ReceivedAt: clock.Now(),
	}
	if got := tick.Latency(); got != 0 {
		t.Fatalf("Latency = %v, want 0", got)
	}
}

func TestViolationEvents(t *testing.T) {
	m, _, clock := newTestMonitor(100)

	type event struct {
		symbol   string
		critical bool
	}
	var events []event
	m.OnViolation(func(symbol string, latency time.Duration, critical bool) {
		events = append(events, event{symbol, critical})
	})

	m.Observe(tickWithLatency(clock, "BTC-USD", 50*time.Millisecond))  // within budget
	m.Observe(tickWithLatency(clock, "BTC-USD", 150*time.Millisecond)) // violation
	m.Observe(tickWithLatency(clock, "BTC-USD", 250*time.Millisecond)) // critical (>2x)

	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].critical {
		t.Error("first violation flagged critical")
	}
	if !events[1].critical {
		t.Error("second violation not flagged critical")
	}
}

func TestCooldownTripsAfterFiveCriticals(t *testing.T) {
	m, spy, clock := newTestMonitor(100)

	for i := 0; i < 4; i++ {
		m.Observe(tickWithLatency(clock, "BTC-USD", 300*time.Millisecond))
	}
	if len(spy.disabled) != 0 {
		t.Fatalf("disabled after 4 criticals: %v", spy.disabled)
	}

	m.Observe(tickWithLatency(clock, "BTC-USD", 300*time.Millisecond))
	if len(spy.disabled) != 1 || spy.disabled[0] != "BTC-USD" {
		t.Fatalf("disabled = %v, want [BTC-USD]", spy.disabled)
	}
}

func TestSweepReenablesAfterCooldown(t *testing.T) {
	m, spy, clock := newTestMonitor(100)
	m.SetCooldown(30 * time.Second)

	for i := 0; i < 5; i++ {
		m.Observe(tickWithLatency(clock, "BTC-USD", 300*time.Millisecond))
	}
	if len(spy.disabled) != 1 {
		t.Fatalf("symbol not disabled: %v", spy.disabled)
	}

	// Before the cooldown elapses nothing happens.
	clock.Advance(10 * time.Second)
	m.Sweep()
	if len(spy.enabled) != 0 {
		t.Fatalf("re-enabled early: %v", spy.enabled)
	}

	clock.Advance(25 * time.Second)
	m.Sweep()
	if len(spy.enabled) != 1 || spy.enabled[0] != "BTC-USD" {
		t.Fatalf("enabled = %v, want [BTC-USD]", spy.enabled)
	}

	// The counter was reset on trip, so 4 more criticals do not re-trip.
	for i := 0; i < 4; i++ {
		m.Observe(tickWithLatency(clock, "BTC-USD", 300*time.Millisecond))
	}
	if len(spy.disabled) != 1 {
		t.Fatalf("re-tripped too early: %v", spy.disabled)
	}
}

func TestStatsPercentiles(t *testing.T) {
	m, _, clock := newTestMonitor(0) // no budget, stats only

	// 100 samples: 1ms..100ms, one per 10ms of wall time.
	for i := 1; i <= 100; i++ {
		m.Observe(tickWithLatency(clock, "BTC-USD", time.Duration(i)*time.Millisecond))
		clock.Advance(10 * time.Millisecond)
	}

	stats := m.Stats()
	if stats.Samples != 100 {
		t.Fatalf("Samples = %d, want 100", stats.Samples)
	}
	if stats.Min != time.Millisecond {
		t.Errorf("Min = %v, want 1ms", stats.Min)
	}
	if stats.Max != 100*time.Millisecond {
		t.Errorf("Max = %v, want 100ms", stats.Max)
	}
	if stats.P95 != 95*time.Millisecond {
		t.Errorf("P95 = %v, want 95ms", stats.P95)
	}
	if stats.P99 != 99*time.Millisecond {
		t.Errorf("P99 = %v, want 99ms", stats.P99)
	}
	// 99 intervals of 10ms span 990ms -> 100 msgs/s.
	if stats.Throughput < 99 || stats.Throughput > 101 {
		t.Errorf("Throughput = %v, want ~100", stats.Throughput)
	}
}

func TestStatsWindowBounded(t *testing.T) {
	m, _, clock := newTestMonitor(0)

	for i := 0; i < 250; i++ {
		m.Observe(tickWithLatency(clock, "BTC-USD", time.Millisecond))
		clock.Advance(time.Millisecond)
	}
	if got := m.Stats().Samples; got != 100 {
		t.Fatalf("window size = %d, want 100", got)
	}
}

func TestAvgRTT(t *testing.T) {
	m, _, _ := newTestMonitor(0)

	if got := m.AvgRTT(); got != 0 {
		t.Fatalf("AvgRTT with no samples = %v, want 0", got)
	}
	m.RecordRTT(10 * time.Millisecond)
	m.RecordRTT(30 * time.Millisecond)
	if got := m.AvgRTT(); got != 20*time.Millisecond {
		t.Fatalf("AvgRTT = %v, want 20ms", got)
	}
}
