package strategy

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hexvolt/hftbot/internal/domain"
)

// fakePositions is a PositionView over a static map.
type fakePositions struct {
	positions map[string]domain.Position
}

func (f *fakePositions) Position(symbol string) (domain.Position, bool) {
	p, ok := f.positions[symbol]
	return p, ok
}

func testDeps(positions map[string]domain.Position) (Deps, *domain.ManualClock) {
	clock := domain.NewManualClock(time.Unix(1000, 0))
	return Deps{
		Positions: &fakePositions{positions: positions},
		Clock:     clock,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, clock
}

func scalpConfig() Config {
	return Config{
		Kind:          "scalping",
		Quantity:      2,
		StopLossPct:   0.05,
		TakeProfitPct: 0.10,
		Params:        map[string]any{"min_volume": 10.0},
	}
}

// quoteTick builds a tick with a tight, in-bounds spread around price.
func quoteTick(clock *domain.ManualClock, symbol string, price, volume float64) domain.Tick {
	return domain.Tick{
		Symbol:     symbol,
		Price:      price,
		Bid:        price * 0.9995,
		Ask:        price * 1.0005,
		Volume:     volume,
		ExchangeTS: clock.Now(),
		ReceivedAt: clock.Now(),
	}
}

func TestScalpingBuysOnUpwardMomentum(t *testing.T) {
	deps, clock := testDeps(nil)
	s, err := NewScalping(scalpConfig(), deps)
	if err != nil {
		t.Fatalf("NewScalping: %v", err)
	}

	ctx := context.Background()

	sig, err := s.Evaluate(ctx, quoteTick(clock, "BTC-USD", 100, 50))
	if err != nil || sig != nil {
		t.Fatalf("first tick: sig=%v err=%v, want nil,nil", sig, err)
	}

	clock.Advance(time.Second)
	// +0.2% move, well over the trigger.
	sig, err = s.Evaluate(ctx, quoteTick(clock, "BTC-USD", 100.2, 50))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if sig == nil {
		t.Fatal("no BUY signal on upward momentum")
	}
	if sig.Type != domain.SideBuy {
		t.Fatalf("signal type = %s, want BUY", sig.Type)
	}
	if sig.Quantity != 2 {
		t.Errorf("quantity = %v, want 2", sig.Quantity)
	}
	ask := 100.2 * 1.0005
	if sig.Price != ask {
		t.Errorf("price = %v, want ask %v", sig.Price, ask)
	}
	if sig.StopLoss == nil || *sig.StopLoss >= sig.Price {
		t.Errorf("stop loss = %v, want below entry", sig.StopLoss)
	}
	if sig.TakeProfit == nil || *sig.TakeProfit <= sig.Price {
		t.Errorf("take profit = %v, want above entry", sig.TakeProfit)
	}
	if sig.Confidence < 0 || sig.Confidence > 1 {
		t.Errorf("confidence = %v, want [0,1]", sig.Confidence)
	}
}

func TestScalpingSellsOnlyWithOpenLong(t *testing.T) {
	ctx := context.Background()

	// Without a position, downward momentum produces nothing.
	deps, clock := testDeps(nil)
	s, _ := NewScalping(scalpConfig(), deps)
	s.Evaluate(ctx, quoteTick(clock, "BTC-USD", 100, 50))
	clock.Advance(time.Second)
	sig, _ := s.Evaluate(ctx, quoteTick(clock, "BTC-USD", 99.8, 50))
	if sig != nil {
		t.Fatalf("SELL without position: %+v", sig)
	}

	// With an open long, the same move closes the full position quantity.
	deps, clock = testDeps(map[string]domain.Position{
		"BTC-USD": {Symbol: "BTC-USD", Side: domain.PositionLong, Quantity: 7, AvgEntryPrice: 100},
	})
	s, _ = NewScalping(scalpConfig(), deps)
	s.Evaluate(ctx, quoteTick(clock, "BTC-USD", 100, 50))
	clock.Advance(time.Second)
	sig, _ = s.Evaluate(ctx, quoteTick(clock, "BTC-USD", 99.8, 50))
	if sig == nil {
		t.Fatal("no SELL with open long")
	}
	if sig.Type != domain.SideSell {
		t.Fatalf("signal type = %s, want SELL", sig.Type)
	}
	if sig.Quantity != 7 {
		t.Errorf("quantity = %v, want full position 7", sig.Quantity)
	}
}

func TestScalpingFilters(t *testing.T) {
	ctx := context.Background()
	deps, clock := testDeps(nil)
	s, _ := NewScalping(scalpConfig(), deps)

	// Prime the window.
	s.Evaluate(ctx, quoteTick(clock, "BTC-USD", 100, 50))
	clock.Advance(time.Second)

	// No quote: ignored even with momentum.
	sig, _ := s.Evaluate(ctx, domain.Tick{
		Symbol: "BTC-USD", Price: 101, Volume: 50,
		ExchangeTS: clock.Now(), ReceivedAt: clock.Now(),
	})
	if sig != nil {
		t.Fatalf("quoteless tick produced signal: %+v", sig)
	}

	// Volume below the floor: ignored.
	sig, _ = s.Evaluate(ctx, quoteTick(clock, "BTC-USD", 101, 1))
	if sig != nil {
		t.Fatalf("thin tick produced signal: %+v", sig)
	}

	// Spread too wide: ignored.
	wide := domain.Tick{
		Symbol: "BTC-USD", Price: 101, Bid: 95, Ask: 107, Volume: 50,
		ExchangeTS: clock.Now(), ReceivedAt: clock.Now(),
	}
	sig, _ = s.Evaluate(ctx, wide)
	if sig != nil {
		t.Fatalf("wide-spread tick produced signal: %+v", sig)
	}
}
