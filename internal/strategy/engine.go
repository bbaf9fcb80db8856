package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hexvolt/hftbot/internal/domain"
)

// evalAlpha is the smoothing factor of the per-strategy evaluation-time EMA.
const evalAlpha = 0.1

// Engine evaluates every active strategy against each incoming tick. A
// failure (error or panic) in one strategy is isolated and logged so it never
// prevents other strategies or other symbols from being evaluated.
type Engine struct {
	strategies []Strategy
	clock      domain.Clock
	logger     *slog.Logger

	mu       sync.Mutex
	evalEMA  map[string]time.Duration
	failures map[string]int64
}

// NewEngine creates an Engine over the given strategy instances.
func NewEngine(strategies []Strategy, clock domain.Clock, logger *slog.Logger) *Engine {
	return &Engine{
		strategies: strategies,
		clock:      clock,
		logger:     logger.With(slog.String("component", "strategy_engine")),
		evalEMA:    make(map[string]time.Duration),
		failures:   make(map[string]int64),
	}
}

// Init initializes all strategies. The first failure aborts startup.
func (e *Engine) Init(ctx context.Context) error {
	for _, s := range e.strategies {
		if err := s.Init(ctx); err != nil {
			return fmt.Errorf("strategy %s init: %w", s.Name(), err)
		}
	}
	return nil
}

// Close closes all strategies, logging failures.
func (e *Engine) Close() {
	for _, s := range e.strategies {
		if err := s.Close(); err != nil {
			e.logger.Warn("strategy close failed",
				slog.String("strategy", s.Name()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Names returns the active strategy names in registration order.
func (e *Engine) Names() []string {
	out := make([]string, 0, len(e.strategies))
	for _, s := range e.strategies {
		out = append(out, s.Name())
	}
	return out
}

// OnTick evaluates every strategy against the tick and returns the emitted
// signals, zero or one per strategy.
func (e *Engine) OnTick(ctx context.Context, tick domain.Tick) []domain.Signal {
	var out []domain.Signal
	for _, s := range e.strategies {
		sig := e.evaluate(ctx, s, tick)
		if sig != nil {
			out = append(out, *sig)
		}
	}
	return out
}

// evaluate runs one strategy with panic isolation and timing.
func (e *Engine) evaluate(ctx context.Context, s Strategy, tick domain.Tick) (sig *domain.Signal) {
	defer func() {
		if r := recover(); r != nil {
			sig = nil
			e.recordFailure(s.Name())
			e.logger.Error("strategy panicked",
				slog.String("strategy", s.Name()),
				slog.String("symbol", tick.Symbol),
				slog.Any("panic", r),
			)
		}
	}()

	start := time.Now()
	sig, err := s.Evaluate(ctx, tick)
	e.recordEval(s.Name(), time.Since(start))

	if err != nil {
		e.recordFailure(s.Name())
		e.logger.Warn("strategy evaluation failed",
			slog.String("strategy", s.Name()),
			slog.String("symbol", tick.Symbol),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return sig
}

// recordEval folds an observed evaluation duration into the strategy's EMA.
// The EMA update is a couple of arithmetic ops under a short lock, so the hot
// path never blocks on metric computation.
func (e *Engine) recordEval(name string, d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev, ok := e.evalEMA[name]
	if !ok {
		e.evalEMA[name] = d
		return
	}
	e.evalEMA[name] = time.Duration(float64(prev)*(1-evalAlpha) + float64(d)*evalAlpha)
}

func (e *Engine) recordFailure(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[name]++
}

// EvalTimes returns the per-strategy evaluation-time EMAs, keyed by name.
func (e *Engine) EvalTimes() map[string]time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]time.Duration, len(e.evalEMA))
	for k, v := range e.evalEMA {
		out[k] = v
	}
	return out
}

// Failures returns the per-strategy failure counts in a stable order.
func (e *Engine) Failures() map[string]int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	keys := make([]string, 0, len(e.failures))
	for k := range e.failures {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]int64, len(keys))
	for _, k := range keys {
		out[k] = e.failures[k]
	}
	return out
}
