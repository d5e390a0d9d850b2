package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"tableside/internal/domain"
	"tableside/internal/logger"
)

// ErrExhausted means the channel gave up reconnecting; only an explicit
// Connect restarts it.
var ErrExhausted = errors.New("realtime: reconnect attempts exhausted")

// State of the notification channel.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateExhausted    State = "exhausted"
)

// Options tune the connection lifecycle.
type Options struct {
	// Keepalive is the interval between ping commands on a live connection.
	Keepalive time.Duration
	// ReconnectBase is the delay before the first reconnect attempt.
	ReconnectBase time.Duration
	// MaxAttempts is the number of consecutive failed connections tolerated
	// before the channel gives up.
	MaxAttempts int
}

// Handler consumes one inbound message of a registered type.
type Handler func(msg domain.Message)

// Channel maintains a persistent connection to the order service and
// dispatches inbound events to registered handlers. Dropped connections are
// retried with exponentially growing delays until MaxAttempts consecutive
// failures, after which only an explicit Connect restarts the cycle.
type Channel struct {
	transport Transport
	opts      Options
	log       *logger.Logger

	mu        sync.Mutex
	state     State
	conn      Conn
	attempts  int
	gen       int
	timer     *time.Timer
	stopKeep  chan struct{}
	dialCtx   context.Context
	handlers  map[string][]Handler
	stateSubs []func(State)
}

func NewChannel(transport Transport, opts Options, log *logger.Logger) *Channel {
	if opts.Keepalive <= 0 {
		opts.Keepalive = 30 * time.Second
	}
	if opts.ReconnectBase <= 0 {
		opts.ReconnectBase = time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 10
	}
	return &Channel{
		transport: transport,
		opts:      opts,
		log:       log,
		state:     StateDisconnected,
		dialCtx:   context.Background(),
		handlers:  make(map[string][]Handler),
	}
}

// Handle registers fn for inbound messages of the given type. Registration
// is expected before Connect; handlers run on the channel's read goroutine.
func (c *Channel) Handle(msgType string, fn Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[msgType] = append(c.handlers[msgType], fn)
}

// OnStateChange registers fn to observe lifecycle transitions.
func (c *Channel) OnStateChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateSubs = append(c.stateSubs, fn)
}

// State reports the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts a connection attempt. It resets the failure counter, so an
// exhausted channel comes back to life. Calling it while already connecting
// or connected does nothing.
func (c *Channel) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return
	}
	c.cancelTimerLocked()
	c.attempts = 0
	c.state = StateConnecting
	c.gen++
	c.dialCtx = ctx
	gen := c.gen
	c.mu.Unlock()

	c.notifyState(StateConnecting)
	go c.dial(gen)
}

// Disconnect closes the connection and stops any pending reconnect.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.gen++
	c.cancelTimerLocked()
	c.closeSessionLocked()
	changed := c.state != StateDisconnected
	c.state = StateDisconnected
	c.mu.Unlock()

	if changed {
		c.notifyState(StateDisconnected)
	}
}

// Send delivers a command over the live connection. When the channel is not
// connected the command is silently dropped; queued commands on a dead link
// would only arrive stale.
func (c *Channel) Send(cmd domain.Command) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected || conn == nil {
		return nil
	}
	return conn.Send(cmd)
}

// RequestSnapshot asks the service for the full active order list.
func (c *Channel) RequestSnapshot() error {
	return c.Send(domain.Command{Command: domain.CmdRequestOrders})
}

func (c *Channel) Bump(orderID string) error {
	return c.Send(domain.Command{Command: domain.CmdBump, OrderID: orderID})
}

func (c *Channel) Recall(orderID string) error {
	return c.Send(domain.Command{Command: domain.CmdRecall, OrderID: orderID})
}

func (c *Channel) StartPreparing(orderID string) error {
	return c.Send(domain.Command{Command: domain.CmdStartPreparing, OrderID: orderID})
}

func (c *Channel) SetPriority(orderID, priority string) error {
	return c.Send(domain.Command{Command: domain.CmdSetPriority, OrderID: orderID, Priority: priority})
}

// ReconnectDelay is the wait before reconnect attempt n (1-based):
// base multiplied by 1.5 for every prior failure.
func ReconnectDelay(base time.Duration, attempt int) time.Duration {
	d := float64(base)
	for i := 1; i < attempt; i++ {
		d *= 1.5
	}
	return time.Duration(d)
}

func (c *Channel) dial(gen int) {
	c.mu.Lock()
	ctx := c.dialCtx
	c.mu.Unlock()

	conn, err := c.transport.Dial(ctx)

	c.mu.Lock()
	if c.gen != gen || c.state != StateConnecting {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		c.mu.Unlock()
		c.log.Warn("channel_dial_failed", map[string]any{"error": err.Error()})
		c.connectionLost(gen)
		return
	}
	c.conn = conn
	c.state = StateConnected
	c.attempts = 0
	stop := make(chan struct{})
	c.stopKeep = stop
	c.mu.Unlock()

	c.log.Info("channel_connected", nil)
	c.notifyState(StateConnected)

	// Prime the session with the current order list so the client starts
	// from a consistent snapshot.
	if err := c.RequestSnapshot(); err != nil {
		c.log.Warn("channel_snapshot_request_failed", map[string]any{"error": err.Error()})
	}

	go c.readLoop(gen, conn)
	go c.keepaliveLoop(gen, conn, stop)
}

func (c *Channel) readLoop(gen int, conn Conn) {
	for {
		msg, err := conn.Receive()
		if err != nil {
			c.connectionLost(gen)
			return
		}
		c.dispatch(msg)
	}
}

func (c *Channel) keepaliveLoop(gen int, conn Conn, stop chan struct{}) {
	ticker := time.NewTicker(c.opts.Keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			// A failed ping is left for the read loop to notice.
			if err := conn.Send(domain.Command{Command: domain.CmdPing}); err != nil {
				c.log.Debug("channel_ping_failed", map[string]any{"error": err.Error()})
			}
		}
	}
}

func (c *Channel) dispatch(msg domain.Message) {
	if msg.Type == domain.MsgPong {
		return
	}
	c.mu.Lock()
	handlers := c.handlers[msg.Type]
	c.mu.Unlock()
	if len(handlers) == 0 {
		c.log.Debug("channel_message_dropped", map[string]any{"type": msg.Type})
		return
	}
	for _, fn := range handlers {
		fn(msg)
	}
}

// connectionLost tears down the session identified by gen and schedules a
// reconnect. A stale gen means Connect or Disconnect already superseded the
// session, or the other session goroutine got here first.
func (c *Channel) connectionLost(gen int) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.closeSessionLocked()

	if c.attempts >= c.opts.MaxAttempts {
		c.state = StateExhausted
		c.mu.Unlock()
		c.log.Error("channel_exhausted", ErrExhausted, map[string]any{"attempts": c.opts.MaxAttempts})
		c.notifyState(StateExhausted)
		return
	}
	c.attempts++
	attempt := c.attempts
	delay := ReconnectDelay(c.opts.ReconnectBase, attempt)
	c.state = StateDisconnected
	nextGen := c.gen
	c.timer = time.AfterFunc(delay, func() { c.redial(nextGen) })
	c.mu.Unlock()

	c.log.Warn("channel_reconnect_scheduled", map[string]any{
		"attempt":  attempt,
		"delay_ms": delay.Milliseconds(),
	})
	c.notifyState(StateDisconnected)
}

func (c *Channel) redial(gen int) {
	c.mu.Lock()
	if c.gen != gen || c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()

	c.notifyState(StateConnecting)
	c.dial(gen)
}

func (c *Channel) closeSessionLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	if c.stopKeep != nil {
		close(c.stopKeep)
		c.stopKeep = nil
	}
}

func (c *Channel) cancelTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Channel) notifyState(s State) {
	c.mu.Lock()
	subs := make([]func(State), len(c.stateSubs))
	copy(subs, c.stateSubs)
	c.mu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}
