// Package ledger simulates order execution and keeps position and PnL
// bookkeeping. It is the only mutator of position state.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hexvolt/hftbot/internal/domain"
)

// PriceSource supplies latest prices and staleness for the exit monitor.
// Implemented by marketdata.TickCache.
type PriceSource interface {
	Get(symbol string) (domain.Tick, bool)
	IsStale(symbol string, maxAge time.Duration) bool
}

// CloseHandler observes every closed trade (realized PnL feedback to the risk
// gate, journaling, event publication).
type CloseHandler func(trade domain.Trade)

// Stats summarizes the ledger's session so far.
type Stats struct {
	Trades        int
	Wins          int
	WinRate       float64
	RealizedPnL   float64
	OpenPositions int
}

// Ledger executes simulated fills and tracks open positions. The engine
// serializes Execute with risk checks; the internal mutex keeps concurrent
// readers (strategies, metrics) safe.
type Ledger struct {
	clock  domain.Clock
	logger *slog.Logger

	mu        sync.RWMutex
	positions map[string]*domain.Position
	trades    int
	wins      int
	realized  float64
	onClose   []CloseHandler
}

// New creates an empty Ledger.
func New(clock domain.Clock, logger *slog.Logger) *Ledger {
	return &Ledger{
		clock:     clock,
		logger:    logger.With(slog.String("component", "position_ledger")),
		positions: make(map[string]*domain.Position),
	}
}

// OnClose registers a handler for closed trades. Register before the engine
// starts executing.
func (l *Ledger) OnClose(h CloseHandler) { l.onClose = append(l.onClose, h) }

// Execute applies one simulated fill. BUY against a flat symbol opens a LONG
// position; BUY against an existing LONG accumulates quantity at the
// volume-weighted average entry price; SELL closes the position entirely
// (partial closes are not modeled) and realizes PnL. SELL against a flat
// symbol returns ErrNoPosition.
func (l *Ledger) Execute(order domain.Order) (*domain.Trade, error) {
	if order.Quantity <= 0 || order.Price <= 0 {
		return nil, fmt.Errorf("ledger: execute %s: invalid price/quantity", order.Symbol)
	}

	switch order.Side {
	case domain.SideBuy:
		return l.executeBuy(order)
	case domain.SideSell:
		return l.executeSell(order)
	default:
		return nil, fmt.Errorf("ledger: execute %s: unknown side %q", order.Symbol, order.Side)
	}
}

func (l *Ledger) executeBuy(order domain.Order) (*domain.Trade, error) {
	now := l.clock.Now()

	l.mu.Lock()
	pos, ok := l.positions[order.Symbol]
	if !ok {
		l.positions[order.Symbol] = &domain.Position{
			Symbol:        order.Symbol,
			Side:          domain.PositionLong,
			Quantity:      order.Quantity,
			AvgEntryPrice: order.Price,
			StopLoss:      order.StopLoss,
			TakeProfit:    order.TakeProfit,
			Strategy:      order.Strategy,
			OpenedAt:      now,
		}
	} else {
		total := pos.Quantity + order.Quantity
		pos.AvgEntryPrice = (pos.AvgEntryPrice*pos.Quantity + order.Price*order.Quantity) / total
		pos.Quantity = total
	}
	l.mu.Unlock()

	trade := domain.Trade{
		ID:         order.ID,
		Symbol:     order.Symbol,
		Side:       domain.SideBuy,
		Price:      order.Price,
		Quantity:   order.Quantity,
		Strategy:   order.Strategy,
		Reason:     order.Reason,
		ExecutedAt: now,
	}
	l.logger.Info("buy filled",
		slog.String("symbol", order.Symbol),
		slog.Float64("price", order.Price),
		slog.Float64("quantity", order.Quantity),
	)
	return &trade, nil
}

func (l *Ledger) executeSell(order domain.Order) (*domain.Trade, error) {
	now := l.clock.Now()

	l.mu.Lock()
	pos, ok := l.positions[order.Symbol]
	if !ok {
		l.mu.Unlock()
		return nil, fmt.Errorf("ledger: sell %s: %w", order.Symbol, domain.ErrNoPosition)
	}
	// Full close regardless of the requested quantity.
	qty := pos.Quantity
	pnl := (order.Price - pos.AvgEntryPrice) * qty
	delete(l.positions, order.Symbol)
	l.trades++
	l.realized += pnl
	if pnl > 0 {
		l.wins++
	}
	l.mu.Unlock()

	trade := domain.Trade{
		ID:         order.ID,
		Symbol:     order.Symbol,
		Side:       domain.SideSell,
		Price:      order.Price,
		Quantity:   qty,
		PnL:        pnl,
		Strategy:   order.Strategy,
		Reason:     order.Reason,
		ExecutedAt: now,
	}
	l.logger.Info("position closed",
		slog.String("symbol", order.Symbol),
		slog.Float64("exit", order.Price),
		slog.Float64("pnl", pnl),
	)
	for _, h := range l.onClose {
		h(trade)
	}
	return &trade, nil
}

// Position returns the open position for symbol, if any.
func (l *Ledger) Position(symbol string) (domain.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// OpenCount returns the number of open positions.
func (l *Ledger) OpenCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}

// Open returns all open positions sorted by symbol.
func (l *Ledger) Open() []domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Stats returns the session summary.
func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := Stats{
		Trades:        l.trades,
		Wins:          l.wins,
		RealizedPnL:   l.realized,
		OpenPositions: len(l.positions),
	}
	if l.trades > 0 {
		s.WinRate = float64(l.wins) / float64(l.trades)
	}
	return s
}

// MaxAgeFunc resolves the staleness bound for one symbol. The engine backs it
// with the symbol's freshness budget.
type MaxAgeFunc func(symbol string) time.Duration

// FixedMaxAge returns a MaxAgeFunc applying the same bound to every symbol.
func FixedMaxAge(d time.Duration) MaxAgeFunc {
	return func(string) time.Duration { return d }
}

// CheckExits scans open positions against the latest cached prices and
// synthesizes SELL orders where price has crossed a stored stop-loss
// (price <= stop) or take-profit (price >= target). Symbols whose cache entry
// is missing or older than their staleness bound are skipped for this cycle.
func (l *Ledger) CheckExits(prices PriceSource, maxAge MaxAgeFunc) []domain.Order {
	now := l.clock.Now()

	var orders []domain.Order
	for _, pos := range l.Open() {
		if prices.IsStale(pos.Symbol, maxAge(pos.Symbol)) {
			continue
		}
		tick, ok := prices.Get(pos.Symbol)
		if !ok {
			continue
		}

		var reason string
		switch {
		case pos.StopLoss != nil && tick.Price <= *pos.StopLoss:
			reason = fmt.Sprintf("stop-loss %.4f hit at %.4f", *pos.StopLoss, tick.Price)
		case pos.TakeProfit != nil && tick.Price >= *pos.TakeProfit:
			reason = fmt.Sprintf("take-profit %.4f hit at %.4f", *pos.TakeProfit, tick.Price)
		default:
			continue
		}

		orders = append(orders, domain.Order{
			ID:        uuid.New().String(),
			Symbol:    pos.Symbol,
			Side:      domain.SideSell,
			Price:     tick.Price,
			Quantity:  pos.Quantity,
			Strategy:  pos.Strategy,
			Reason:    reason,
			CreatedAt: now,
		})
	}
	return orders
}

// DrainAll closes every open position through the normal close path, using
// the latest cached price when available and the entry price otherwise. A
// small delay between orders avoids bursting the simulated execution path.
func (l *Ledger) DrainAll(ctx context.Context, prices PriceSource, delay time.Duration) {
	open := l.Open()
	if len(open) == 0 {
		return
	}
	l.logger.Info("draining open positions", slog.Int("count", len(open)))

	for i, pos := range open {
		price := pos.AvgEntryPrice
		if tick, ok := prices.Get(pos.Symbol); ok && tick.Price > 0 {
			price = tick.Price
		}
		order := domain.Order{
			ID:        uuid.New().String(),
			Symbol:    pos.Symbol,
			Side:      domain.SideSell,
			Price:     price,
			Quantity:  pos.Quantity,
			Strategy:  pos.Strategy,
			Reason:    "engine shutdown drain",
			CreatedAt: l.clock.Now(),
		}
		if _, err := l.Execute(order); err != nil {
			l.logger.Warn("drain close failed",
				slog.String("symbol", pos.Symbol),
				slog.String("error", err.Error()),
			)
		}

		if delay <= 0 || i == len(open)-1 {
			continue
		}
		select {
		case <-ctx.Done():
			l.logger.Warn("drain interrupted", slog.Int("remaining", len(open)-i-1))
			return
		case <-time.After(delay):
		}
	}
}
