package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hexvolt/hftbot/internal/domain"
)

// fakeConn is a scriptable Conn. Inbound messages are fed through the inbox;
// outbound writes are recorded.
type fakeConn struct {
	mu     sync.Mutex
	wrote  [][]byte
	inbox  chan []byte
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbox: make(chan []byte, 64)}
}

func (f *fakeConn) ReadMessage() ([]byte, error) {
	data, ok := <-f.inbox
	if !ok {
		return nil, io.EOF
	}
	return data, nil
}

func (f *fakeConn) WriteMessage(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("write on closed conn")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.wrote = append(f.wrote, cp)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.inbox)
	}
	return nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.wrote))
	copy(out, f.wrote)
	return out
}

// feed pushes an inbound frame, ignoring sends after close.
func (f *fakeConn) feed(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	defer func() { recover() }() // inbox may be closed concurrently
	f.inbox <- data
}

// fakeTransport returns the scripted conns in order, then errors.
type fakeTransport struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
}

func (f *fakeTransport) Dial(ctx context.Context, url string) (Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	if len(f.conns) == 0 {
		return nil, errors.New("dial refused")
	}
	conn := f.conns[0]
	f.conns = f.conns[1:]
	return conn, nil
}

func (f *fakeTransport) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConn(t *testing.T, transport Transport, opts Options) *Connection {
	t.Helper()
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = time.Hour // keep heartbeats out of the way
	}
	return NewConnection(opts, transport, domain.RealClock(), testLogger())
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestConnectTransitionsStates(t *testing.T) {
	fc := newFakeConn()
	transport := &fakeTransport{conns: []*fakeConn{fc}}
	c := testConn(t, transport, Options{URL: "ws://test"})

	var mu sync.Mutex
	var states []State
	c.OnStateChange(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	if got := c.State(); got != StateConnected {
		t.Fatalf("state = %v, want CONNECTED", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) != 2 || states[0] != StateConnecting || states[1] != StateConnected {
		t.Fatalf("state sequence = %v, want [CONNECTING CONNECTED]", states)
	}
}

func TestConnectWhileConnectedFails(t *testing.T) {
	fc := newFakeConn()
	transport := &fakeTransport{conns: []*fakeConn{fc}}
	c := testConn(t, transport, Options{URL: "ws://test"})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	if err := c.Connect(context.Background()); !errors.Is(err, domain.ErrAlreadyConnected) {
		t.Fatalf("second Connect = %v, want ErrAlreadyConnected", err)
	}
}

func TestSendQueuesWhileDisconnected(t *testing.T) {
	fc := newFakeConn()
	transport := &fakeTransport{conns: []*fakeConn{fc}}
	c := testConn(t, transport, Options{URL: "ws://test"})

	for _, sym := range []string{"AAA", "BBB", "CCC"} {
		if err := c.Send(Command{Action: ActionSubscribe, Channel: "trades", Symbols: []string{sym}}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	if got := c.QueuedLen(); got != 3 {
		t.Fatalf("QueuedLen = %d, want 3", got)
	}

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	if got := c.QueuedLen(); got != 0 {
		t.Fatalf("QueuedLen after connect = %d, want 0", got)
	}

	// Queue must flush in FIFO order.
	wrote := fc.written()
	if len(wrote) != 3 {
		t.Fatalf("wrote %d messages, want 3", len(wrote))
	}
	for i, sym := range []string{"AAA", "BBB", "CCC"} {
		var cmd Command
		if err := json.Unmarshal(wrote[i], &cmd); err != nil {
			t.Fatalf("unmarshal written[%d]: %v", i, err)
		}
		if len(cmd.Symbols) != 1 || cmd.Symbols[0] != sym {
			t.Errorf("written[%d] symbols = %v, want [%s]", i, cmd.Symbols, sym)
		}
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	fc := newFakeConn()
	transport := &fakeTransport{conns: []*fakeConn{fc}}
	c := testConn(t, transport, Options{URL: "ws://test"})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	var mu sync.Mutex
	disconnects := 0
	c.OnStateChange(func(s State) {
		if s == StateDisconnected {
			mu.Lock()
			disconnects++
			mu.Unlock()
		}
	})

	c.Disconnect()
	c.Disconnect()
	c.Disconnect()

	mu.Lock()
	defer mu.Unlock()
	if disconnects != 1 {
		t.Fatalf("DISCONNECTED emitted %d times, want 1", disconnects)
	}
}

// blockingTransport parks Dial until released, modeling a slow handshake.
type blockingTransport struct {
	release chan struct{}
	conn    *fakeConn
}

func (b *blockingTransport) Dial(ctx context.Context, url string) (Conn, error) {
	<-b.release
	return b.conn, nil
}

func TestDisconnectDuringDialWins(t *testing.T) {
	fc := newFakeConn()
	transport := &blockingTransport{release: make(chan struct{}), conn: fc}
	c := testConn(t, transport, Options{URL: "ws://test"})

	done := make(chan error, 1)
	go func() { done <- c.Connect(context.Background()) }()

	waitFor(t, func() bool { return c.State() == StateConnecting }, "Connect never reached CONNECTING")

	// Caller disconnects while the dial is still in flight; the late conn
	// must be dropped, not installed.
	c.Disconnect()
	close(transport.release)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Connect never returned")
	}

	if got := c.State(); got != StateDisconnected {
		t.Fatalf("state after Disconnect = %v, want DISCONNECTED", got)
	}
	waitFor(t, fc.isClosed, "late-arriving conn never closed")
}

func TestSendFailsAfterDisconnect(t *testing.T) {
	fc := newFakeConn()
	transport := &fakeTransport{conns: []*fakeConn{fc}}
	c := testConn(t, transport, Options{URL: "ws://test"})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	c.Disconnect()

	err := c.Send(Command{Action: ActionPing})
	if !errors.Is(err, domain.ErrNotConnected) {
		t.Fatalf("Send after Disconnect = %v, want ErrNotConnected", err)
	}
	if got := c.QueuedLen(); got != 0 {
		t.Fatalf("QueuedLen = %d, want nothing queued after Disconnect", got)
	}
}

func TestReconnectAfterReadFailure(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn()
	transport := &fakeTransport{conns: []*fakeConn{first, second}}
	c := testConn(t, transport, Options{
		URL:           "ws://test",
		ReconnectBase: time.Millisecond,
		ReconnectMax:  2 * time.Millisecond,
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	// Kill the first connection; the read loop fails and a redial follows.
	first.Close()

	waitFor(t, func() bool { return c.State() == StateConnected && transport.dialCount() == 2 },
		"never reconnected to the second conn")
}

func TestGiveUpAfterMaxAttempts(t *testing.T) {
	first := newFakeConn()
	transport := &fakeTransport{conns: []*fakeConn{first}} // later dials refused
	c := testConn(t, transport, Options{
		URL:                  "ws://test",
		ReconnectBase:        time.Millisecond,
		ReconnectMax:         time.Millisecond,
		MaxReconnectAttempts: 3,
	})

	gaveUp := make(chan struct{})
	var once sync.Once
	c.OnGiveUp(func() { once.Do(func() { close(gaveUp) }) })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	first.Close()

	select {
	case <-gaveUp:
	case <-time.After(2 * time.Second):
		t.Fatal("give-up never fired")
	}
	if got := c.State(); got != StateDisconnected {
		t.Fatalf("state after give-up = %v, want DISCONNECTED", got)
	}

	// After give-up no flush is coming; sends must fail instead of queueing.
	if err := c.Send(Command{Action: ActionPing}); !errors.Is(err, domain.ErrGiveUp) {
		t.Fatalf("Send after give-up = %v, want ErrGiveUp", err)
	}
	if got := c.QueuedLen(); got != 0 {
		t.Fatalf("QueuedLen = %d, want nothing queued after give-up", got)
	}
}

func TestDispatchMarketData(t *testing.T) {
	fc := newFakeConn()
	transport := &fakeTransport{conns: []*fakeConn{fc}}
	c := testConn(t, transport, Options{URL: "ws://test"})

	ticks := make(chan domain.Tick, 1)
	c.OnTick(func(tick domain.Tick) { ticks <- tick })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	fc.feed(t, Envelope{
		Type:      TypeMarketData,
		Symbol:    "BTC-USD",
		Data:      &MarketData{Price: 50000, Bid: 49999, Ask: 50001, Volume: 12},
		Timestamp: time.Now().UnixMilli(),
	})

	select {
	case tick := <-ticks:
		if tick.Symbol != "BTC-USD" || tick.Price != 50000 {
			t.Fatalf("tick = %+v", tick)
		}
		if tick.ReceivedAt.IsZero() {
			t.Fatal("ReceivedAt not stamped")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tick never dispatched")
	}
}

func TestDispatchToleratesGarbage(t *testing.T) {
	fc := newFakeConn()
	transport := &fakeTransport{conns: []*fakeConn{fc}}
	c := testConn(t, transport, Options{URL: "ws://test"})

	ticks := make(chan domain.Tick, 1)
	c.OnTick(func(tick domain.Tick) { ticks <- tick })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	// Garbage and unknown types must not kill the read loop.
	fc.inbox <- []byte("{not json")
	fc.feed(t, Envelope{Type: "exotic_future_type"})
	fc.feed(t, Envelope{
		Type:      TypeMarketData,
		Symbol:    "ETH-USD",
		Data:      &MarketData{Price: 3000},
		Timestamp: time.Now().UnixMilli(),
	})

	select {
	case tick := <-ticks:
		if tick.Symbol != "ETH-USD" {
			t.Fatalf("tick symbol = %s, want ETH-USD", tick.Symbol)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("read loop died on garbage input")
	}
}

func TestServerErrorHandlerFires(t *testing.T) {
	fc := newFakeConn()
	transport := &fakeTransport{conns: []*fakeConn{fc}}
	c := testConn(t, transport, Options{URL: "ws://test"})

	errs := make(chan Envelope, 1)
	c.OnServerError(func(env Envelope) { errs <- env })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	fc.feed(t, Envelope{Type: TypeError, Code: CodeRateLimitWarning, Message: "slow down"})

	select {
	case env := <-errs:
		if env.Code != CodeRateLimitWarning {
			t.Fatalf("code = %s, want %s", env.Code, CodeRateLimitWarning)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server error never dispatched")
	}
}
