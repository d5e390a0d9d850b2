package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tableside/internal/domain"
	"tableside/internal/logger"
)

type fakeConn struct {
	mu     sync.Mutex
	sent   []any
	inbox  chan domain.Message
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbox: make(chan domain.Message, 16)}
}

func (c *fakeConn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("send on closed conn")
	}
	c.sent = append(c.sent, v)
	return nil
}

func (c *fakeConn) Receive() (domain.Message, error) {
	msg, ok := <-c.inbox
	if !ok {
		return domain.Message{}, io.EOF
	}
	return msg, nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.inbox)
	}
	return nil
}

func (c *fakeConn) deliver(msg domain.Message) {
	c.inbox <- msg
}

func (c *fakeConn) commands() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.sent))
	copy(out, c.sent)
	return out
}

// fakeTransport hands out a fresh conn per dial, or an error when failures
// remain.
type fakeTransport struct {
	mu       sync.Mutex
	failures int
	dials    int
	conns    []*fakeConn
}

func (t *fakeTransport) Dial(ctx context.Context) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials++
	if t.failures > 0 {
		t.failures--
		return nil, errors.New("connection refused")
	}
	conn := newFakeConn()
	t.conns = append(t.conns, conn)
	return conn, nil
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func (t *fakeTransport) lastConn() *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

func testChannel(t *testing.T, transport Transport, opts Options) *Channel {
	t.Helper()
	log := logger.NewWithOutput("realtime-test", io.Discard)
	ch := NewChannel(transport, opts, log)
	t.Cleanup(ch.Disconnect)
	return ch
}

func fastOpts() Options {
	return Options{
		Keepalive:     time.Hour,
		ReconnectBase: time.Millisecond,
		MaxAttempts:   3,
	}
}

func waitForState(t *testing.T, ch *Channel, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return ch.State() == want },
		2*time.Second, 2*time.Millisecond, "state never reached %s", want)
}

func TestReconnectDelaySchedule(t *testing.T) {
	base := 2 * time.Second
	assert.Equal(t, 2*time.Second, ReconnectDelay(base, 1))
	assert.Equal(t, 3*time.Second, ReconnectDelay(base, 2))
	assert.Equal(t, 4500*time.Millisecond, ReconnectDelay(base, 3))
	assert.Equal(t, 6750*time.Millisecond, ReconnectDelay(base, 4))
}

func TestConnectRequestsSnapshot(t *testing.T) {
	transport := &fakeTransport{}
	ch := testChannel(t, transport, fastOpts())

	ch.Connect(context.Background())
	waitForState(t, ch, StateConnected)

	conn := transport.lastConn()
	require.NotNil(t, conn)
	require.Eventually(t, func() bool { return len(conn.commands()) > 0 },
		time.Second, 2*time.Millisecond)
	cmd, ok := conn.commands()[0].(domain.Command)
	require.True(t, ok)
	assert.Equal(t, domain.CmdRequestOrders, cmd.Command)
}

func TestDispatchToRegisteredHandler(t *testing.T) {
	transport := &fakeTransport{}
	ch := testChannel(t, transport, fastOpts())

	got := make(chan domain.Message, 1)
	ch.Handle(domain.MsgOrderReady, func(msg domain.Message) { got <- msg })

	ch.Connect(context.Background())
	waitForState(t, ch, StateConnected)

	payload := json.RawMessage(`{"type":"order_ready","order_number":"ORD-042"}`)
	transport.lastConn().deliver(domain.Message{Type: domain.MsgOrderReady, Payload: payload})

	select {
	case msg := <-got:
		assert.Equal(t, domain.MsgOrderReady, msg.Type)
		assert.JSONEq(t, string(payload), string(msg.Payload))
	case <-time.After(time.Second):
		t.Fatal("handler never invoked")
	}
}

func TestUnknownMessageTypeIsDropped(t *testing.T) {
	transport := &fakeTransport{}
	ch := testChannel(t, transport, fastOpts())

	got := make(chan domain.Message, 1)
	ch.Handle(domain.MsgOrderReady, func(msg domain.Message) { got <- msg })

	ch.Connect(context.Background())
	waitForState(t, ch, StateConnected)

	transport.lastConn().deliver(domain.Message{Type: "shift_report"})
	transport.lastConn().deliver(domain.Message{Type: domain.MsgOrderReady})

	select {
	case msg := <-got:
		assert.Equal(t, domain.MsgOrderReady, msg.Type)
	case <-time.After(time.Second):
		t.Fatal("handler never invoked")
	}
	assert.Len(t, got, 0)
}

func TestReconnectsAfterDrop(t *testing.T) {
	transport := &fakeTransport{}
	ch := testChannel(t, transport, fastOpts())

	ch.Connect(context.Background())
	waitForState(t, ch, StateConnected)
	first := transport.lastConn()

	first.Close()
	require.Eventually(t, func() bool {
		return ch.State() == StateConnected && transport.lastConn() != first
	}, 2*time.Second, 2*time.Millisecond)
	assert.Equal(t, 2, transport.dialCount())
}

func TestExhaustedAfterMaxAttempts(t *testing.T) {
	transport := &fakeTransport{failures: 1000}
	ch := testChannel(t, transport, fastOpts())

	ch.Connect(context.Background())
	waitForState(t, ch, StateExhausted)

	// Initial dial plus MaxAttempts reconnects, then nothing further.
	assert.Equal(t, 1+3, transport.dialCount())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1+3, transport.dialCount())
}

func TestConnectResetsExhaustedChannel(t *testing.T) {
	transport := &fakeTransport{failures: 1000}
	ch := testChannel(t, transport, fastOpts())

	ch.Connect(context.Background())
	waitForState(t, ch, StateExhausted)

	transport.mu.Lock()
	transport.failures = 0
	transport.mu.Unlock()

	ch.Connect(context.Background())
	waitForState(t, ch, StateConnected)
}

func TestSendIsNoopWhileDisconnected(t *testing.T) {
	transport := &fakeTransport{}
	ch := testChannel(t, transport, fastOpts())

	require.NoError(t, ch.Bump("17"))
	assert.Equal(t, 0, transport.dialCount())
}

func TestDisconnectStopsReconnects(t *testing.T) {
	transport := &fakeTransport{failures: 1000}
	ch := testChannel(t, transport, Options{
		Keepalive:     time.Hour,
		ReconnectBase: 50 * time.Millisecond,
		MaxAttempts:   10,
	})

	ch.Connect(context.Background())
	require.Eventually(t, func() bool { return transport.dialCount() >= 1 },
		time.Second, 2*time.Millisecond)

	ch.Disconnect()
	assert.Equal(t, StateDisconnected, ch.State())

	dials := transport.dialCount()
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, dials, transport.dialCount())
}

func TestStateChangeNotifications(t *testing.T) {
	transport := &fakeTransport{}
	ch := testChannel(t, transport, fastOpts())

	var mu sync.Mutex
	var seen []State
	ch.OnStateChange(func(s State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	ch.Connect(context.Background())
	waitForState(t, ch, StateConnected)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(seen), 2)
	assert.Equal(t, StateConnecting, seen[0])
	assert.Equal(t, StateConnected, seen[len(seen)-1])
}
