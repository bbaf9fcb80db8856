// Package engine wires the tick pipeline together: stream connection,
// subscription registry, tick cache, latency monitor, strategies, risk gate,
// and position ledger. It owns the exclusion discipline that keeps
// "check risk, then execute" atomic.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hexvolt/hftbot/internal/domain"
	"github.com/hexvolt/hftbot/internal/ledger"
	"github.com/hexvolt/hftbot/internal/marketdata"
	"github.com/hexvolt/hftbot/internal/risk"
	"github.com/hexvolt/hftbot/internal/strategy"
	"github.com/hexvolt/hftbot/internal/stream"
	"github.com/hexvolt/hftbot/internal/subs"
)

// EventSink publishes engine events to external consumers (redis pub/sub).
// Best-effort: failures are logged, never propagated.
type EventSink interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// TradeJournal persists executed trades. Best-effort, off the hot path.
type TradeJournal interface {
	Insert(ctx context.Context, trade domain.Trade) error
}

// Options configures the engine pipeline.
type Options struct {
	Symbols         []domain.SubscriptionConfig
	StrategyConfigs map[string]strategy.Config // keyed by kind
	MonitorInterval time.Duration              // exit/cooldown scan cadence
	ExitMaxAge      time.Duration              // staleness bound for symbols without a freshness budget
	DrainDelay      time.Duration              // inter-order delay during shutdown drain
	OrderQueueSize  int
}

func (o *Options) defaults() {
	if o.MonitorInterval <= 0 {
		o.MonitorInterval = time.Second
	}
	if o.ExitMaxAge <= 0 {
		o.ExitMaxAge = 5 * time.Second
	}
	if o.DrainDelay <= 0 {
		o.DrainDelay = 100 * time.Millisecond
	}
	if o.OrderQueueSize <= 0 {
		o.OrderQueueSize = 256
	}
}

// Engine is the top-level trading engine. Construct with New, then Start.
type Engine struct {
	opts     Options
	conn     *stream.Connection
	registry *subs.Registry
	cache    *marketdata.TickCache
	latency  *marketdata.Monitor
	gate     *risk.Gate
	ledger   *ledger.Ledger
	stratReg *strategy.Registry
	clock    domain.Clock
	logger   *slog.Logger

	events  EventSink    // optional
	journal TradeJournal // optional

	// execMu is the atomic unit around risk checks and order execution. The
	// tick path, the order drain loop, and the exit monitor all take it.
	execMu       sync.Mutex
	pendingOpens map[string]int // accepted BUY opens not yet executed

	mu         sync.Mutex
	running    bool
	strategies *strategy.Engine
	orderCh    chan domain.Order
	cancel     context.CancelFunc
	group      *errgroup.Group
	startedAt  time.Time
}

// New creates an Engine over the given collaborators. Gate construction
// happens here so its open-position counter sees pending opens.
func New(
	opts Options,
	conn *stream.Connection,
	registry *subs.Registry,
	cache *marketdata.TickCache,
	latency *marketdata.Monitor,
	led *ledger.Ledger,
	limits risk.Limits,
	stratReg *strategy.Registry,
	clock domain.Clock,
	logger *slog.Logger,
) *Engine {
	opts.defaults()
	e := &Engine{
		opts:         opts,
		conn:         conn,
		registry:     registry,
		cache:        cache,
		latency:      latency,
		ledger:       led,
		stratReg:     stratReg,
		clock:        clock,
		logger:       logger.With(slog.String("component", "engine")),
		pendingOpens: make(map[string]int),
	}
	e.gate = risk.NewGate(limits, e.committedOpens, logger)

	// Realized PnL from closes feeds the daily counter. This fires inside
	// ledger.Execute, which always runs under execMu.
	led.OnClose(func(trade domain.Trade) {
		e.gate.AddDailyPnL(trade.PnL)
	})

	// Connection handlers are registered once; they dispatch to the current
	// session's state.
	conn.OnTick(e.handleTick)
	conn.OnPong(latency.RecordRTT)
	conn.OnServerError(e.handleServerError)
	conn.OnStateChange(func(s stream.State) {
		if s == stream.StateConnected {
			registry.ResubscribeAll()
		}
	})
	conn.OnGiveUp(func() {
		e.logger.Error("stream gave up reconnecting; engine idle until restart")
	})

	latency.OnViolation(func(symbol string, lat time.Duration, critical bool) {
		count := registry.RecordViolation(symbol)
		e.publishEvent("violations", map[string]any{
			"symbol":     symbol,
			"latency_ms": durMs(lat),
			"critical":   critical,
			"count":      count,
		})
	})

	return e
}

// SetEventSink attaches an optional event publisher.
func (e *Engine) SetEventSink(sink EventSink) { e.events = sink }

// SetTradeJournal attaches an optional trade persister.
func (e *Engine) SetTradeJournal(j TradeJournal) { e.journal = j }

// Gate exposes the risk gate (daily reset, sizing).
func (e *Engine) Gate() *risk.Gate { return e.gate }

// Registry exposes the subscription registry (persistence at shutdown).
func (e *Engine) Registry() *subs.Registry { return e.registry }

// Start builds the requested strategies, connects upstream, subscribes the
// configured symbols, and launches the pipeline loops. Empty names means all
// configured strategy kinds.
func (e *Engine) Start(ctx context.Context, names []string) (StartResult, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return StartResult{}, fmt.Errorf("engine: start: %w", domain.ErrAlreadyRunning)
	}
	e.mu.Unlock()

	if len(names) == 0 {
		for kind := range e.opts.StrategyConfigs {
			names = append(names, kind)
		}
	}

	instances := make([]strategy.Strategy, 0, len(names))
	deps := strategy.Deps{Positions: e.ledger, Clock: e.clock, Logger: e.logger}
	for _, kind := range names {
		cfg, ok := e.opts.StrategyConfigs[kind]
		if !ok {
			cfg = strategy.Config{}
		}
		s, err := e.stratReg.New(kind, cfg, deps)
		if err != nil {
			return StartResult{}, fmt.Errorf("engine: start: %w", err)
		}
		instances = append(instances, s)
	}
	stratEngine := strategy.NewEngine(instances, e.clock, e.logger)
	if err := stratEngine.Init(ctx); err != nil {
		return StartResult{}, fmt.Errorf("engine: start: %w", err)
	}

	if err := e.conn.Connect(ctx); err != nil {
		stratEngine.Close()
		return StartResult{}, fmt.Errorf("engine: start: %w", err)
	}

	for _, sc := range e.opts.Symbols {
		if err := e.registry.AddSymbol(sc.Symbol, sc); err != nil {
			e.logger.Warn("subscribe failed",
				slog.String("symbol", sc.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(runCtx)

	e.mu.Lock()
	e.running = true
	e.strategies = stratEngine
	e.orderCh = make(chan domain.Order, e.opts.OrderQueueSize)
	e.cancel = cancel
	e.group = group
	e.startedAt = e.clock.Now()
	orderCh := e.orderCh
	e.mu.Unlock()

	group.Go(func() error { return e.drainOrders(gctx, orderCh) })
	group.Go(func() error { return e.monitorLoop(gctx) })

	res := StartResult{
		Success:           true,
		SubscribedSymbols: e.registry.EnabledSymbols(),
		EnabledStrategies: stratEngine.Names(),
	}
	e.logger.Info("engine started",
		slog.Any("strategies", res.EnabledStrategies),
		slog.Int("symbols", len(res.SubscribedSymbols)),
	)
	return res, nil
}

// Stop cancels the periodic loops, disconnects the stream (which stops the
// heartbeat and any reconnect scheduling), drains all open positions
// synchronously, and returns the final metrics. Partial shutdown is a bug:
// after Stop the connection is DISCONNECTED and no position remains open.
func (e *Engine) Stop(ctx context.Context) (StopResult, error) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return StopResult{}, fmt.Errorf("engine: stop: %w", domain.ErrNotRunning)
	}
	cancel := e.cancel
	group := e.group
	stratEngine := e.strategies
	e.running = false
	e.mu.Unlock()

	// Stop inbound ticks and periodic work before touching positions.
	e.conn.Disconnect()
	cancel()
	_ = group.Wait()
	stratEngine.Close()

	e.execMu.Lock()
	e.ledger.DrainAll(ctx, e.cache, e.opts.DrainDelay)
	e.pendingOpens = make(map[string]int)
	e.execMu.Unlock()

	final := e.Metrics()
	e.logger.Info("engine stopped",
		slog.Int("trades", final.Trades),
		slog.Float64("pnl", final.TotalPnL),
	)
	return StopResult{Success: true, FinalMetrics: final}, nil
}

// ResetDaily zeroes the daily PnL counter. Exposed to operators; never
// triggered implicitly by the clock.
func (e *Engine) ResetDaily() { e.gate.ResetDaily() }

// Running reports whether the engine has been started and not yet stopped.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Metrics returns the current snapshot.
func (e *Engine) Metrics() Metrics {
	stats := e.ledger.Stats()
	lat := e.latency.Stats()

	m := Metrics{
		ConnectionState: e.conn.State().String(),
		Trades:          stats.Trades,
		Wins:            stats.Wins,
		WinRate:         stats.WinRate,
		TotalPnL:        stats.RealizedPnL,
		DailyPnL:        e.gate.DailyPnL(),
		RejectedSignals: e.gate.Rejected(),
		OpenPositions:   e.ledger.Open(),
		EnabledSymbols:  e.registry.EnabledSymbols(),
		Symbols:         e.registry.Configs(),
		Latency: LatencySnapshot{
			Samples:    lat.Samples,
			MinMs:      durMs(lat.Min),
			MaxMs:      durMs(lat.Max),
			AvgMs:      durMs(lat.Avg),
			P95Ms:      durMs(lat.P95),
			P99Ms:      durMs(lat.P99),
			AvgRTTMs:   durMs(e.latency.AvgRTT()),
			Throughput: lat.Throughput,
		},
	}

	// Mark open positions against the last cached price. Positions with no
	// cached tick contribute nothing.
	for _, pos := range m.OpenPositions {
		if tick, ok := e.cache.Get(pos.Symbol); ok {
			m.UnrealizedPnL += pos.UnrealizedPnL(tick.Price)
		}
	}

	e.mu.Lock()
	m.Running = e.running
	stratEngine := e.strategies
	if e.running {
		m.UptimeSeconds = int64(e.clock.Now().Sub(e.startedAt).Seconds())
	}
	e.mu.Unlock()

	if stratEngine != nil {
		m.Strategies = stratEngine.Names()
		m.EvalTimesMs = make(map[string]float64)
		for name, d := range stratEngine.EvalTimes() {
			m.EvalTimesMs[name] = durMs(d)
		}
		m.StrategyErrors = stratEngine.Failures()
	}
	return m
}

// handleTick is the per-tick pipeline: cache and latency updates, strategy
// evaluation, then risk-gated submission to the order queue.
func (e *Engine) handleTick(tick domain.Tick) {
	e.cache.Update(tick)
	e.latency.Observe(tick)
	e.publishEvent("ticks", tick)

	e.mu.Lock()
	running := e.running
	stratEngine := e.strategies
	orderCh := e.orderCh
	e.mu.Unlock()
	if !running || stratEngine == nil {
		return
	}

	signals := stratEngine.OnTick(context.Background(), tick)
	for _, sig := range signals {
		e.submit(sig, orderCh)
	}
}

// submit performs the risk check and enqueue as one atomic step: the
// open-position reservation taken here is released only when the order
// executes, so concurrent submissions cannot oversubscribe the limits. BUY
// quantities are capped by the gate's de-risking grant first, so accumulated
// daily losses shrink entries before the hard limits apply.
func (e *Engine) submit(sig domain.Signal, orderCh chan domain.Order) {
	e.execMu.Lock()
	defer e.execMu.Unlock()

	if sig.Type == domain.SideBuy {
		granted := e.gate.CalculateQuantity(sig.Price)
		if granted < sig.Quantity {
			e.logger.Info("buy quantity reduced by risk sizing",
				slog.String("symbol", sig.Symbol),
				slog.Float64("requested", sig.Quantity),
				slog.Float64("granted", granted),
			)
			sig.Quantity = granted
		}
	}

	if err := e.gate.Accept(sig); err != nil {
		e.publishEvent("rejections", sig)
		return // reason already logged by the gate
	}

	order := domain.Order{
		ID:         uuid.New().String(),
		Symbol:     sig.Symbol,
		Side:       sig.Type,
		Price:      sig.Price,
		Quantity:   sig.Quantity,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
		Strategy:   sig.Strategy,
		Reason:     sig.Reason,
		CreatedAt:  e.clock.Now(),
	}

	reserve := false
	if sig.Type == domain.SideBuy {
		if _, open := e.ledger.Position(sig.Symbol); !open && e.pendingOpens[sig.Symbol] == 0 {
			reserve = true
		}
	}
	if reserve {
		e.pendingOpens[sig.Symbol]++
	}

	select {
	case orderCh <- order:
	default:
		if reserve {
			e.pendingOpens[sig.Symbol]--
			if e.pendingOpens[sig.Symbol] <= 0 {
				delete(e.pendingOpens, sig.Symbol)
			}
		}
		e.logger.Warn("order queue full, signal dropped", slog.String("symbol", sig.Symbol))
	}
}

// committedOpens counts open positions plus reserved pending opens. Called by
// the risk gate under execMu.
func (e *Engine) committedOpens(symbol string) (int, bool) {
	count := e.ledger.OpenCount() + len(e.pendingOpens)
	_, has := e.ledger.Position(symbol)
	return count, has || e.pendingOpens[symbol] > 0
}

// drainOrders is the single consumer of the order queue.
func (e *Engine) drainOrders(ctx context.Context, orderCh chan domain.Order) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case order := <-orderCh:
			e.executeOrder(order)
		}
	}
}

func (e *Engine) executeOrder(order domain.Order) {
	e.execMu.Lock()
	if order.Side == domain.SideBuy && e.pendingOpens[order.Symbol] > 0 {
		e.pendingOpens[order.Symbol]--
		if e.pendingOpens[order.Symbol] <= 0 {
			delete(e.pendingOpens, order.Symbol)
		}
	}
	trade, err := e.ledger.Execute(order)
	e.execMu.Unlock()

	if err != nil {
		// Execution failure leaves position state unchanged; the engine
		// continues.
		e.logger.Warn("order execution failed",
			slog.String("order_id", order.ID),
			slog.String("symbol", order.Symbol),
			slog.String("error", err.Error()),
		)
		return
	}
	e.recordTrade(*trade)
}

// monitorLoop runs the periodic stop-loss/take-profit scan and the latency
// cooldown sweep. It shares the execution lock with the tick path.
func (e *Engine) monitorLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.opts.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.latency.Sweep()

			e.execMu.Lock()
			exits := e.ledger.CheckExits(e.cache, e.exitMaxAge)
			var trades []domain.Trade
			for _, order := range exits {
				trade, err := e.ledger.Execute(order)
				if err != nil {
					e.logger.Warn("exit execution failed",
						slog.String("symbol", order.Symbol),
						slog.String("error", err.Error()),
					)
					continue
				}
				trades = append(trades, *trade)
			}
			e.execMu.Unlock()

			for _, trade := range trades {
				e.recordTrade(trade)
			}
		}
	}
}

// exitMaxAge resolves the staleness bound for exit checks: the symbol's
// configured freshness budget when set, the global default otherwise.
func (e *Engine) exitMaxAge(symbol string) time.Duration {
	if ms, ok := e.registry.FreshnessBudget(symbol); ok {
		return time.Duration(ms) * time.Millisecond
	}
	return e.opts.ExitMaxAge
}

// recordTrade journals and publishes a fill, best-effort, off the execution
// lock.
func (e *Engine) recordTrade(trade domain.Trade) {
	if e.journal != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := e.journal.Insert(ctx, trade); err != nil {
			e.logger.Warn("trade journal insert failed",
				slog.String("trade_id", trade.ID),
				slog.String("error", err.Error()),
			)
		}
		cancel()
	}
	e.publishEvent("positions", trade)
}

// publishEvent sends an event to the sink, best-effort.
func (e *Engine) publishEvent(channel string, v any) {
	if e.events == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := e.events.Publish(ctx, channel, payload); err != nil {
		e.logger.Debug("event publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

// handleServerError maps upstream error codes to quota shedding.
func (e *Engine) handleServerError(env stream.Envelope) {
	switch env.Code {
	case stream.CodeRateLimitWarning:
		e.registry.ShedLowPriority()
	case stream.CodeRateLimitEmergency:
		e.registry.ShedEmergency()
	}
}

func durMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
