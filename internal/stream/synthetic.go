package stream

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/hexvolt/hftbot/internal/domain"
)

// SyntheticTransport fabricates market data in-process. It honors the same
// wire protocol as the live transport: subscribe commands start tick
// generation for the named symbols, pings are answered with pongs. Used for
// paper mode and deterministic tests, never by strategy logic itself.
type SyntheticTransport struct {
	interval time.Duration
	clock    domain.Clock
	rng      *rand.Rand
	rngMu    sync.Mutex
}

// NewSyntheticTransport returns a transport emitting one tick per subscribed
// symbol every interval.
func NewSyntheticTransport(interval time.Duration, clock domain.Clock, seed int64) *SyntheticTransport {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &SyntheticTransport{
		interval: interval,
		clock:    clock,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Dial returns a synthetic connection. The url is ignored.
func (t *SyntheticTransport) Dial(_ context.Context, _ string) (Conn, error) {
	c := &syntheticConn{
		transport: t,
		inbox:     make(chan []byte, 256),
		done:      make(chan struct{}),
		prices:    make(map[string]float64),
	}
	go c.generate()
	return c, nil
}

type syntheticConn struct {
	transport *SyntheticTransport

	mu      sync.Mutex
	symbols []string
	prices  map[string]float64
	closed  bool

	inbox chan []byte
	done  chan struct{}
}

func (c *syntheticConn) ReadMessage() ([]byte, error) {
	select {
	case <-c.done:
		return nil, domain.ErrConnectionClosed
	case data := <-c.inbox:
		return data, nil
	}
}

// WriteMessage interprets outbound protocol commands.
func (c *syntheticConn) WriteMessage(data []byte) error {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil // tolerate unknown outbound payloads, as a real server would
	}

	switch cmd.Action {
	case ActionPing:
		c.deliver(Envelope{Type: TypePong})
	case ActionSubscribe:
		c.mu.Lock()
		for _, s := range cmd.Symbols {
			if _, ok := c.prices[s]; !ok {
				c.symbols = append(c.symbols, s)
				c.prices[s] = 50 + c.transport.random()*100
			}
		}
		c.mu.Unlock()
		c.deliver(Envelope{Type: TypeSubscribed, Channel: cmd.Channel, Symbol: joined(cmd.Symbols)})
	case ActionUnsubscribe:
		c.mu.Lock()
		drop := make(map[string]bool, len(cmd.Symbols))
		for _, s := range cmd.Symbols {
			drop[s] = true
		}
		kept := c.symbols[:0]
		for _, s := range c.symbols {
			if !drop[s] {
				kept = append(kept, s)
			} else {
				delete(c.prices, s)
			}
		}
		c.symbols = kept
		c.mu.Unlock()
	}
	return nil
}

func (c *syntheticConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

// generate emits a random-walk tick per subscribed symbol every interval.
func (c *syntheticConn) generate() {
	ticker := time.NewTicker(c.transport.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			symbols := append([]string(nil), c.symbols...)
			c.mu.Unlock()

			now := c.transport.clock.Now()
			for _, sym := range symbols {
				c.mu.Lock()
				price := c.prices[sym]
				price *= 1 + (c.transport.random()-0.5)*0.002
				if price < 0.01 {
					price = 0.01
				}
				c.prices[sym] = price
				c.mu.Unlock()

				half := price * 0.0005
				c.deliver(Envelope{
					Type:   TypeMarketData,
					Symbol: sym,
					Data: &MarketData{
						Price:  price,
						Bid:    price - half,
						Ask:    price + half,
						Volume: 100 + c.transport.random()*10000,
					},
					Timestamp: now.UnixMilli(),
				})
			}
		}
	}
}

func (c *syntheticConn) deliver(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	select {
	case c.inbox <- data:
	default:
		// Inbox full: drop, mirroring a lossy feed under backpressure.
	}
}

func (t *SyntheticTransport) random() float64 {
	t.rngMu.Lock()
	defer t.rngMu.Unlock()
	return t.rng.Float64()
}

func joined(symbols []string) string {
	if len(symbols) == 1 {
		return symbols[0]
	}
	return ""
}
