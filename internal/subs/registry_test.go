package subs

import (
	"io"
	"log/slog"
	"testing"

	"github.com/hexvolt/hftbot/internal/domain"
	"github.com/hexvolt/hftbot/internal/stream"
)

// recordingSender captures outbound commands.
type recordingSender struct {
	sent []stream.Command
}

func (r *recordingSender) Send(v any) error {
	if cmd, ok := v.(stream.Command); ok {
		r.sent = append(r.sent, cmd)
	}
	return nil
}

func (r *recordingSender) subscribes() []stream.Command {
	var out []stream.Command
	for _, cmd := range r.sent {
		if cmd.Action == stream.ActionSubscribe {
			out = append(out, cmd)
		}
	}
	return out
}

func (r *recordingSender) unsubscribes() []stream.Command {
	var out []stream.Command
	for _, cmd := range r.sent {
		if cmd.Action == stream.ActionUnsubscribe {
			out = append(out, cmd)
		}
	}
	return out
}

func testRegistry() (*Registry, *recordingSender) {
	sender := &recordingSender{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRegistry(sender, logger), sender
}

func cfg(priority domain.Priority, channels ...domain.Channel) domain.SubscriptionConfig {
	return domain.SubscriptionConfig{
		Priority:          priority,
		Channels:          channels,
		LatencyBudgetMs:   100,
		FreshnessBudgetMs: 5000,
	}
}

func TestAddSymbolIdempotent(t *testing.T) {
	r, sender := testRegistry()

	for i := 0; i < 3; i++ {
		if err := r.AddSymbol("BTC-USD", cfg(domain.PriorityHigh, domain.ChannelTrades)); err != nil {
			t.Fatalf("AddSymbol #%d: %v", i, err)
		}
	}

	// Identical repeated adds must produce exactly one upstream subscribe.
	if got := len(sender.subscribes()); got != 1 {
		t.Fatalf("subscribe messages = %d, want 1", got)
	}
}

func TestAddSymbolUnionsChannels(t *testing.T) {
	r, sender := testRegistry()

	if err := r.AddSymbol("BTC-USD", cfg(domain.PriorityStandard, domain.ChannelTrades)); err != nil {
		t.Fatalf("AddSymbol: %v", err)
	}
	if err := r.AddSymbol("BTC-USD", cfg(domain.PriorityHigh, domain.ChannelTrades, domain.ChannelQuotes)); err != nil {
		t.Fatalf("AddSymbol: %v", err)
	}

	// Only the missing channel subscribes; trades is already upstream.
	subs := sender.subscribes()
	if len(subs) != 2 {
		t.Fatalf("subscribe messages = %d, want 2", len(subs))
	}
	if subs[1].Channel != string(domain.ChannelQuotes) {
		t.Errorf("second subscribe channel = %s, want quotes", subs[1].Channel)
	}

	// Strictest priority wins the merge.
	got, ok := r.Config("BTC-USD")
	if !ok {
		t.Fatal("config missing")
	}
	if got.Priority != domain.PriorityHigh {
		t.Errorf("merged priority = %s, want high", got.Priority)
	}
	if len(got.Channels) != 2 {
		t.Errorf("merged channels = %v, want 2 entries", got.Channels)
	}
}

func TestAddSymbolKeepsStrictestBudgets(t *testing.T) {
	r, _ := testRegistry()

	first := cfg(domain.PriorityStandard, domain.ChannelTrades)
	first.LatencyBudgetMs = 200
	second := cfg(domain.PriorityStandard, domain.ChannelTrades)
	second.LatencyBudgetMs = 50

	if err := r.AddSymbol("ETH-USD", first); err != nil {
		t.Fatalf("AddSymbol: %v", err)
	}
	if err := r.AddSymbol("ETH-USD", second); err != nil {
		t.Fatalf("AddSymbol: %v", err)
	}

	budget, ok := r.LatencyBudget("ETH-USD")
	if !ok || budget != 50 {
		t.Fatalf("LatencyBudget = %d,%v, want 50,true", budget, ok)
	}
}

func TestFreshnessBudget(t *testing.T) {
	r, _ := testRegistry()

	c := cfg(domain.PriorityStandard, domain.ChannelTrades)
	c.FreshnessBudgetMs = 750
	if err := r.AddSymbol("BTC-USD", c); err != nil {
		t.Fatalf("AddSymbol: %v", err)
	}

	budget, ok := r.FreshnessBudget("BTC-USD")
	if !ok || budget != 750 {
		t.Fatalf("FreshnessBudget = %d,%v, want 750,true", budget, ok)
	}
	if _, ok := r.FreshnessBudget("ETH-USD"); ok {
		t.Fatal("FreshnessBudget reported a budget for an untracked symbol")
	}
}

func TestRemoveSymbolRefcounted(t *testing.T) {
	r, sender := testRegistry()

	r.AddSymbol("BTC-USD", cfg(domain.PriorityStandard, domain.ChannelTrades))
	r.AddSymbol("BTC-USD", cfg(domain.PriorityStandard, domain.ChannelTrades))

	if err := r.RemoveSymbol("BTC-USD"); err != nil {
		t.Fatalf("RemoveSymbol: %v", err)
	}
	if got := len(sender.unsubscribes()); got != 0 {
		t.Fatalf("unsubscribed while a requester remains: %d messages", got)
	}

	if err := r.RemoveSymbol("BTC-USD"); err != nil {
		t.Fatalf("RemoveSymbol: %v", err)
	}
	if got := len(sender.unsubscribes()); got != 1 {
		t.Fatalf("unsubscribe messages = %d, want 1", got)
	}

	if err := r.RemoveSymbol("BTC-USD"); err == nil {
		t.Fatal("RemoveSymbol on absent symbol should fail")
	}
}

func TestEnableResetsViolations(t *testing.T) {
	r, _ := testRegistry()

	r.AddSymbol("BTC-USD", cfg(domain.PriorityStandard, domain.ChannelTrades))
	r.RecordViolation("BTC-USD")
	r.RecordViolation("BTC-USD")

	if err := r.Disable("BTC-USD"); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if err := r.Enable("BTC-USD"); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	got, _ := r.Config("BTC-USD")
	if got.ViolationCount != 0 {
		t.Fatalf("ViolationCount after Enable = %d, want 0", got.ViolationCount)
	}
	if !got.Enabled {
		t.Fatal("symbol not enabled")
	}
}

func TestDisabledSymbolStaysOffFeed(t *testing.T) {
	r, sender := testRegistry()

	r.AddSymbol("BTC-USD", cfg(domain.PriorityStandard, domain.ChannelTrades))
	r.Disable("BTC-USD")

	before := len(sender.subscribes())
	r.ResubscribeAll()
	if got := len(sender.subscribes()); got != before {
		t.Fatalf("disabled symbol resubscribed: %d -> %d", before, got)
	}
}

func TestShedLowPriority(t *testing.T) {
	r, _ := testRegistry()

	r.AddSymbol("CRIT", cfg(domain.PriorityCritical, domain.ChannelTrades))
	r.AddSymbol("HIGH", cfg(domain.PriorityHigh, domain.ChannelTrades))
	r.AddSymbol("STD1", cfg(domain.PriorityStandard, domain.ChannelTrades))
	r.AddSymbol("STD2", cfg(domain.PriorityStandard, domain.ChannelTrades))
	r.AddSymbol("LOW1", cfg(domain.PriorityLow, domain.ChannelTrades))
	r.AddSymbol("LOW2", cfg(domain.PriorityLow, domain.ChannelTrades))

	shed := r.ShedLowPriority()

	// ceil(5 non-critical * 0.3) = 2, lowest priority first.
	if len(shed) != 2 {
		t.Fatalf("shed %v, want 2 symbols", shed)
	}
	for _, sym := range shed {
		if sym != "LOW1" && sym != "LOW2" {
			t.Errorf("shed %s, want only low-priority symbols", sym)
		}
	}

	// Critical symbols are untouchable.
	got, _ := r.Config("CRIT")
	if !got.Enabled {
		t.Fatal("critical symbol was shed")
	}
}

func TestShedEmergencyKeepsCriticalOnly(t *testing.T) {
	r, _ := testRegistry()

	r.AddSymbol("CRIT", cfg(domain.PriorityCritical, domain.ChannelTrades))
	r.AddSymbol("HIGH", cfg(domain.PriorityHigh, domain.ChannelTrades))
	r.AddSymbol("LOW", cfg(domain.PriorityLow, domain.ChannelTrades))

	shed := r.ShedEmergency()
	if len(shed) != 2 {
		t.Fatalf("shed %v, want [HIGH LOW]", shed)
	}

	enabled := r.EnabledSymbols()
	if len(enabled) != 1 || enabled[0] != "CRIT" {
		t.Fatalf("enabled = %v, want [CRIT]", enabled)
	}
}

func TestResubscribeAllAfterReconnect(t *testing.T) {
	r, sender := testRegistry()

	r.AddSymbol("BTC-USD", cfg(domain.PriorityHigh, domain.ChannelTrades, domain.ChannelQuotes))
	r.AddSymbol("ETH-USD", cfg(domain.PriorityStandard, domain.ChannelTrades))

	initial := len(sender.subscribes())

	// Reconnect: the upstream state is gone, everything re-subscribes.
	r.ResubscribeAll()
	if got := len(sender.subscribes()); got != initial*2 {
		t.Fatalf("subscribes after resubscribe = %d, want %d", got, initial*2)
	}
}

func TestRestorePreservesDisabledState(t *testing.T) {
	r, _ := testRegistry()

	saved := cfg(domain.PriorityHigh, domain.ChannelTrades)
	saved.Symbol = "BTC-USD"
	saved.Enabled = false
	saved.ViolationCount = 4

	if err := r.Restore(saved); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	got, ok := r.Config("BTC-USD")
	if !ok {
		t.Fatal("config missing after restore")
	}
	if got.Enabled {
		t.Fatal("restored symbol should stay disabled")
	}
	if got.ViolationCount != 4 {
		t.Fatalf("ViolationCount = %d, want 4", got.ViolationCount)
	}
}
