package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hexvolt/hftbot/internal/domain"
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

// Options configures a Connection.
type Options struct {
	URL                  string
	HeartbeatInterval    time.Duration
	ReconnectBase        time.Duration
	ReconnectMax         time.Duration
	MaxReconnectAttempts int
}

// TickHandler receives demultiplexed market-data ticks.
type TickHandler func(domain.Tick)

// PongHandler receives the round-trip time of a heartbeat ping.
type PongHandler func(rtt time.Duration)

// AckHandler receives subscription acknowledgements.
type AckHandler func(Envelope)

// ServerErrorHandler receives inbound error envelopes.
type ServerErrorHandler func(Envelope)

// StateHandler receives connection state transitions.
type StateHandler func(State)

// Connection owns one persistent streaming connection: connect, heartbeat,
// reconnect with capped exponential backoff, and inbound demultiplexing by
// message type. Outbound messages sent while disconnected are queued and
// flushed in FIFO order once the connection is (re)established.
//
// Handlers must be registered before Connect.
type Connection struct {
	opts      Options
	transport Transport
	backoff   Backoff
	clock     domain.Clock
	logger    *slog.Logger

	mu            sync.Mutex
	state         State
	conn          Conn
	gen           int // connection generation; stale read loops are ignored
	queue         [][]byte
	attempt       int
	closed        bool
	gaveUp        bool
	reconnectTmr  *time.Timer
	heartbeatStop chan struct{}
	lastPing      time.Time

	onTick     []TickHandler
	onPong     []PongHandler
	onAck      []AckHandler
	onSrvError []ServerErrorHandler
	onState    []StateHandler
	onGiveUp   []func()
}

// NewConnection creates a Connection using the given transport and clock.
func NewConnection(opts Options, transport Transport, clock domain.Clock, logger *slog.Logger) *Connection {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	return &Connection{
		opts:      opts,
		transport: transport,
		backoff:   Backoff{Base: opts.ReconnectBase, Max: opts.ReconnectMax},
		clock:     clock,
		logger:    logger.With(slog.String("component", "stream_connection")),
		state:     StateDisconnected,
	}
}

// OnTick registers a handler for market_data messages.
func (c *Connection) OnTick(h TickHandler) { c.onTick = append(c.onTick, h) }

// OnPong registers a handler for heartbeat round-trips.
func (c *Connection) OnPong(h PongHandler) { c.onPong = append(c.onPong, h) }

// OnSubscribed registers a handler for subscription acknowledgements.
func (c *Connection) OnSubscribed(h AckHandler) { c.onAck = append(c.onAck, h) }

// OnServerError registers a handler for inbound error envelopes.
func (c *Connection) OnServerError(h ServerErrorHandler) { c.onSrvError = append(c.onSrvError, h) }

// OnStateChange registers a handler for connection state transitions.
func (c *Connection) OnStateChange(h StateHandler) { c.onState = append(c.onState, h) }

// OnGiveUp registers a handler fired when the reconnect attempt ceiling is
// reached. After give-up the connection stays DISCONNECTED until Connect is
// called again.
func (c *Connection) OnGiveUp(h func()) { c.onGiveUp = append(c.onGiveUp, h) }

// State returns the current connection state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the upstream endpoint and transitions
// DISCONNECTED -> CONNECTING -> CONNECTED. A prior Disconnect is cleared, so
// Connect can be called again after a caller-initiated close.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return fmt.Errorf("stream: connect: %w", domain.ErrAlreadyConnected)
	}
	c.closed = false
	c.gaveUp = false
	c.attempt = 0
	c.state = StateConnecting
	c.mu.Unlock()
	c.emitState(StateConnecting)

	conn, err := c.transport.Dial(ctx, c.opts.URL)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		c.emitState(StateDisconnected)
		return fmt.Errorf("stream: connect: %w", err)
	}

	c.adopt(conn)
	return nil
}

// Disconnect closes the connection, stops the heartbeat, and cancels any
// pending reconnect. It is idempotent.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.reconnectTmr != nil {
		c.reconnectTmr.Stop()
		c.reconnectTmr = nil
	}
	c.stopHeartbeatLocked()
	conn := c.conn
	c.conn = nil
	c.gen++
	wasDisconnected := c.state == StateDisconnected
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if !wasDisconnected {
		c.emitState(StateDisconnected)
	}
	c.logger.Info("disconnected by caller")
}

// Send marshals v and writes it to the connection. While not connected, the
// message is queued and flushed in FIFO order on the next CONNECTED
// transition. Send never blocks on the network state. After a caller
// Disconnect it returns ErrNotConnected, and after the reconnect ceiling is
// exhausted it returns ErrGiveUp; in both cases nothing is queued because no
// flush is coming without a new Connect.
func (c *Connection) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("stream: marshal outbound: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("stream: send: %w", domain.ErrNotConnected)
	}
	if c.gaveUp {
		c.mu.Unlock()
		return fmt.Errorf("stream: send: %w", domain.ErrGiveUp)
	}
	if c.state != StateConnected || c.conn == nil {
		c.queue = append(c.queue, data)
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	gen := c.gen
	c.mu.Unlock()

	if err := conn.WriteMessage(data); err != nil {
		c.mu.Lock()
		c.queue = append(c.queue, data)
		c.mu.Unlock()
		c.logger.Warn("send failed, message queued", slog.String("error", err.Error()))
		c.handleFailure(gen)
	}
	return nil
}

// QueuedLen returns the number of messages waiting for the next flush.
func (c *Connection) QueuedLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// adopt installs an established transport connection: resets the attempt
// counter, starts the read and heartbeat loops, and flushes the send queue.
// A dial that completes after a caller-initiated Disconnect is discarded so
// the connection stays DISCONNECTED.
func (c *Connection) adopt(conn Conn) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		c.logger.Info("dial completed after disconnect, dropping connection")
		return
	}
	c.conn = conn
	c.gen++
	gen := c.gen
	c.attempt = 0
	c.state = StateConnected
	c.stopHeartbeatLocked()
	stop := make(chan struct{})
	c.heartbeatStop = stop
	pending := c.queue
	c.queue = nil
	c.mu.Unlock()

	c.emitState(StateConnected)

	go c.readLoop(gen, conn)
	go c.heartbeatLoop(gen, stop)

	// Flush queued messages in FIFO order.
	for i, data := range pending {
		if err := conn.WriteMessage(data); err != nil {
			c.mu.Lock()
			c.queue = append(pending[i:], c.queue...)
			c.mu.Unlock()
			c.logger.Warn("flush failed, requeueing", slog.Int("remaining", len(pending)-i))
			c.handleFailure(gen)
			return
		}
	}
	c.logger.Info("connected", slog.Int("flushed", len(pending)))
}

func (c *Connection) stopHeartbeatLocked() {
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
}

// handleFailure reacts to an unexpected connection failure: if the failure
// belongs to the current generation and the caller has not disconnected, it
// tears the connection down and schedules a reconnect.
func (c *Connection) handleFailure(gen int) {
	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	c.gen++
	c.stopHeartbeatLocked()
	c.state = StateDisconnected
	c.scheduleReconnectLocked()
	gaveUp := c.attempt > c.opts.MaxReconnectAttempts && c.opts.MaxReconnectAttempts > 0
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.emitState(StateDisconnected)
	if gaveUp {
		for _, h := range c.onGiveUp {
			h()
		}
	}
}

// scheduleReconnectLocked arms the reconnect timer with exponential backoff.
// Caller must hold c.mu.
func (c *Connection) scheduleReconnectLocked() {
	c.attempt++
	if c.opts.MaxReconnectAttempts > 0 && c.attempt > c.opts.MaxReconnectAttempts {
		c.gaveUp = true
		c.logger.Error("reconnect attempts exhausted, giving up",
			slog.Int("attempts", c.opts.MaxReconnectAttempts),
		)
		return
	}
	delay := c.backoff.Next(c.attempt)
	c.logger.Warn("scheduling reconnect",
		slog.Int("attempt", c.attempt),
		slog.Duration("delay", delay),
	)
	c.reconnectTmr = time.AfterFunc(delay, c.redial)
}

// redial is the reconnect timer callback.
func (c *Connection) redial() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()
	c.emitState(StateConnecting)

	ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	conn, err := c.transport.Dial(ctx, c.opts.URL)
	cancel()
	if err != nil {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.state = StateDisconnected
		c.scheduleReconnectLocked()
		gaveUp := c.opts.MaxReconnectAttempts > 0 && c.attempt > c.opts.MaxReconnectAttempts
		c.mu.Unlock()
		c.emitState(StateDisconnected)
		if gaveUp {
			for _, h := range c.onGiveUp {
				h()
			}
		}
		return
	}
	c.adopt(conn)
}

func (c *Connection) readLoop(gen int, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.handleFailure(gen)
			return
		}
		c.dispatch(data)
	}
}

func (c *Connection) heartbeatLoop(gen int, stop chan struct{}) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			if gen != c.gen || conn == nil {
				c.mu.Unlock()
				return
			}
			c.lastPing = c.clock.Now()
			c.mu.Unlock()

			data, _ := json.Marshal(Command{Action: ActionPing})
			if err := conn.WriteMessage(data); err != nil {
				c.handleFailure(gen)
				return
			}
		}
	}
}

// dispatch demultiplexes one inbound message by its type tag. Malformed and
// unknown messages are logged and dropped.
func (c *Connection) dispatch(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Warn("malformed inbound message dropped",
			slog.Int("len", len(data)),
			slog.String("error", err.Error()),
		)
		return
	}

	switch env.Type {
	case TypeMarketData:
		if env.Data == nil || env.Symbol == "" {
			c.logger.Warn("market_data without payload dropped", slog.String("symbol", env.Symbol))
			return
		}
		tick := domain.Tick{
			Symbol:     env.Symbol,
			Price:      env.Data.Price,
			Bid:        env.Data.Bid,
			Ask:        env.Data.Ask,
			Volume:     env.Data.Volume,
			ExchangeTS: time.UnixMilli(env.Timestamp),
			ReceivedAt: c.clock.Now(),
		}
		for _, h := range c.onTick {
			h(tick)
		}

	case TypePong:
		c.mu.Lock()
		last := c.lastPing
		c.mu.Unlock()
		if last.IsZero() {
			return
		}
		rtt := c.clock.Now().Sub(last)
		if rtt < 0 {
			rtt = 0
		}
		for _, h := range c.onPong {
			h(rtt)
		}

	case TypeSubscribed:
		for _, h := range c.onAck {
			h(env)
		}

	case TypeError:
		c.logger.Warn("server error",
			slog.String("code", env.Code),
			slog.String("message", env.Message),
		)
		for _, h := range c.onSrvError {
			h(env)
		}

	default:
		c.logger.Debug("unknown message type dropped", slog.String("type", env.Type))
	}
}

func (c *Connection) emitState(s State) {
	for _, h := range c.onState {
		h(s)
	}
}
