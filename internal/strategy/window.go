package strategy

import (
	"sync"
	"time"
)

// Point records a single observation at a point in time.
type Point struct {
	Price  float64
	Volume float64
	Time   time.Time
}

// Window maintains a sliding per-symbol history of recent observations.
// Points older than the span are discarded on every Track call.
type Window struct {
	mu      sync.RWMutex
	history map[string][]Point
	span    time.Duration
}

// NewWindow creates a Window keeping span worth of history per symbol.
func NewWindow(span time.Duration) *Window {
	return &Window{
		history: make(map[string][]Point),
		span:    span,
	}
}

// Track records a new observation and trims points outside the window.
func (w *Window) Track(symbol string, price, volume float64, ts time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.history[symbol] = append(w.history[symbol], Point{Price: price, Volume: volume, Time: ts})
	cutoff := ts.Add(-w.span)
	pts := w.history[symbol]
	i := 0
	for i < len(pts) && pts[i].Time.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.history[symbol] = pts[i:]
	}
}

// Len returns the number of points currently held for symbol.
func (w *Window) Len(symbol string) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.history[symbol])
}

// First returns the oldest point in the window.
func (w *Window) First(symbol string) (Point, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	pts := w.history[symbol]
	if len(pts) == 0 {
		return Point{}, false
	}
	return pts[0], true
}

// Momentum returns (lastPrice - firstPrice) / firstPrice over the window, or
// 0 when fewer than two points exist.
func (w *Window) Momentum(symbol string) float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	pts := w.history[symbol]
	if len(pts) < 2 || pts[0].Price == 0 {
		return 0
	}
	return (pts[len(pts)-1].Price - pts[0].Price) / pts[0].Price
}

// AvgVolume returns the mean volume over the window.
func (w *Window) AvgVolume(symbol string) float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	pts := w.history[symbol]
	if len(pts) == 0 {
		return 0
	}
	var sum float64
	for _, p := range pts {
		sum += p.Volume
	}
	return sum / float64(len(pts))
}
