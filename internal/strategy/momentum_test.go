package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/hexvolt/hftbot/internal/domain"
)

func momentumConfig() Config {
	return Config{
		Kind:          "momentum",
		Quantity:      3,
		StopLossPct:   0.05,
		TakeProfitPct: 0.10,
		Params: map[string]any{
			"lookback":  "2m",
			"threshold": 0.01,
		},
	}
}

func plainTick(clock *domain.ManualClock, price, volume float64) domain.Tick {
	return domain.Tick{
		Symbol:     "ETH-USD",
		Price:      price,
		Volume:     volume,
		ExchangeTS: clock.Now(),
		ReceivedAt: clock.Now(),
	}
}

func TestMomentumBuysBreakout(t *testing.T) {
	deps, clock := testDeps(nil)
	m, err := NewMomentum(momentumConfig(), deps)
	if err != nil {
		t.Fatalf("NewMomentum: %v", err)
	}
	ctx := context.Background()

	// Build a baseline of steady volume.
	for i := 0; i < 5; i++ {
		if sig, _ := m.Evaluate(ctx, plainTick(clock, 100, 100)); sig != nil {
			t.Fatalf("flat tape produced signal: %+v", sig)
		}
		clock.Advance(10 * time.Second)
	}

	// +2% breakout on 3x volume.
	sig, err := m.Evaluate(ctx, plainTick(clock, 102, 300))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if sig == nil {
		t.Fatal("no BUY on breakout")
	}
	if sig.Type != domain.SideBuy {
		t.Fatalf("signal type = %s, want BUY", sig.Type)
	}
	if sig.Price != 102 || sig.Quantity != 3 {
		t.Errorf("price/qty = %v/%v, want 102/3", sig.Price, sig.Quantity)
	}
	if sig.StopLoss == nil {
		t.Fatal("stop loss not set")
	}
	wantStop := sig.Price * (1 - momentumConfig().StopLossPct)
	if *sig.StopLoss != wantStop {
		t.Errorf("stop loss = %v, want %v", *sig.StopLoss, wantStop)
	}
}

func TestMomentumRequiresVolumeConfirmation(t *testing.T) {
	deps, clock := testDeps(nil)
	m, _ := NewMomentum(momentumConfig(), deps)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		m.Evaluate(ctx, plainTick(clock, 100, 100))
		clock.Advance(10 * time.Second)
	}

	// Price breaks out but volume does not confirm (1.2x < 1.5x).
	sig, _ := m.Evaluate(ctx, plainTick(clock, 102, 120))
	if sig != nil {
		t.Fatalf("BUY without volume confirmation: %+v", sig)
	}
}

func TestMomentumBelowThresholdIsQuiet(t *testing.T) {
	deps, clock := testDeps(nil)
	m, _ := NewMomentum(momentumConfig(), deps)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		m.Evaluate(ctx, plainTick(clock, 100, 100))
		clock.Advance(10 * time.Second)
	}

	// +0.5% move on huge volume is still below the 1% threshold.
	sig, _ := m.Evaluate(ctx, plainTick(clock, 100.5, 1000))
	if sig != nil {
		t.Fatalf("BUY below momentum threshold: %+v", sig)
	}
}
