// Package wschan wraps a gorilla WebSocket connection with the reconnect
// policy every duplex channel in the system shares. Higher layers see the
// same message/close callback contract as a raw connection and never
// reimplement backoff.
package wschan

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cloudcomputinginha/interview-rt/internal/metrics"
)

// ErrClosed is returned by sends after Close or after the retry budget is
// exhausted.
var ErrClosed = errors.New("wschan: channel closed")

// ErrNotReady is returned by sends while no connection is open. Callers that
// prefer recent data over complete data (audio frames) drop on this.
var ErrNotReady = errors.New("wschan: not connected")

// State is the connection lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Backoff is the reconnect policy: delay starts at Base, multiplies by
// Multiplier per consecutive failure and is capped at Cap. MaxAttempts
// bounds consecutive failed dials before the channel gives up.
type Backoff struct {
	Base        time.Duration
	Multiplier  float64
	Cap         time.Duration
	MaxAttempts int
}

// DefaultBackoff matches the 1s -> 2s -> 4s ... 30s policy.
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Multiplier: 2, Cap: 30 * time.Second, MaxAttempts: 8}
}

// Delay returns the wait before the given zero-based retry attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	d := float64(b.Base)
	for i := 0; i < attempt; i++ {
		d *= b.Multiplier
		if time.Duration(d) >= b.Cap {
			return b.Cap
		}
	}
	if time.Duration(d) > b.Cap {
		return b.Cap
	}
	return time.Duration(d)
}

// Options configure a Channel.
type Options struct {
	// Dial opens one connection attempt. Required.
	Dial func(ctx context.Context) (*websocket.Conn, error)
	// OnText receives each text frame. Optional.
	OnText func(data []byte)
	// OnBinary receives each binary frame. Optional.
	OnBinary func(data []byte)
	// OnOpen fires after every successful (re)connect, before the read loop
	// starts. Used to resubscribe. Optional.
	OnOpen func()
	// OnClose fires exactly once when the channel terminates, with nil on
	// clean Close and the final error otherwise. Optional.
	OnClose func(err error)
	Backoff Backoff
	Logger  *slog.Logger
	// Metrics counts redial attempts when set. Optional.
	Metrics *metrics.Metrics
}

// Channel is a self-reconnecting duplex message channel.
type Channel struct {
	opts Options
	log  *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	state  State
	closed bool

	done chan struct{}
}

// New builds a Channel; call Start to connect.
func New(opts Options) *Channel {
	if opts.Backoff.Base == 0 {
		opts.Backoff = DefaultBackoff()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Channel{opts: opts, log: log, state: StateIdle, done: make(chan struct{})}
}

// State reports the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start dials the first connection and launches the supervision loop. It
// returns an error only if the very first dial (with retries) fails, so a
// caller knows the channel never came up.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	c.state = StateConnecting
	c.mu.Unlock()

	conn, err := c.dialWithBackoff(ctx)
	if err != nil {
		c.terminate(err)
		return err
	}
	c.adopt(conn)
	go c.supervise(ctx, conn)
	return nil
}

// SendJSON marshals v to a text frame. Returns ErrNotReady while
// disconnected and ErrClosed after termination.
func (c *Channel) SendJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.conn == nil || c.state != StateOpen {
		return ErrNotReady
	}
	return c.conn.WriteJSON(v)
}

// SendBinary writes a binary frame. Same readiness semantics as SendJSON.
func (c *Channel) SendBinary(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.conn == nil || c.state != StateOpen {
		return ErrNotReady
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Close terminates the channel. Safe to call multiple times.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.state = StateClosed
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	close(c.done)
	if c.opts.OnClose != nil {
		c.opts.OnClose(nil)
	}
}

// Done is closed when the channel has terminated.
func (c *Channel) Done() <-chan struct{} { return c.done }

func (c *Channel) adopt(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.state = StateOpen
	c.mu.Unlock()
	if c.opts.OnOpen != nil {
		c.opts.OnOpen()
	}
}

// supervise runs the read loop and reconnects on unexpected closure.
func (c *Channel) supervise(ctx context.Context, conn *websocket.Conn) {
	for {
		readErr := c.readLoop(conn)

		c.mu.Lock()
		closed := c.closed
		c.conn = nil
		if !closed {
			c.state = StateConnecting
		}
		c.mu.Unlock()
		if closed {
			return
		}
		if err := ctx.Err(); err != nil {
			// Context cancellation still terminates the channel: done must
			// close and OnClose must fire exactly once.
			c.terminate(err)
			return
		}
		c.log.Warn("channel disconnected, reconnecting", "error", readErr)

		next, err := c.dialWithBackoff(ctx)
		if err != nil {
			c.terminate(err)
			return
		}
		c.adopt(next)
		conn = next
	}
}

func (c *Channel) readLoop(conn *websocket.Conn) error {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		switch mt {
		case websocket.TextMessage:
			if c.opts.OnText != nil {
				c.opts.OnText(data)
			}
		case websocket.BinaryMessage:
			if c.opts.OnBinary != nil {
				c.opts.OnBinary(data)
			}
		}
	}
}

func (c *Channel) dialWithBackoff(ctx context.Context) (*websocket.Conn, error) {
	var lastErr error
	for attempt := 0; attempt < c.opts.Backoff.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.opts.Backoff.Delay(attempt - 1)
			c.opts.Metrics.RecordReconnectAttempt()
			c.log.Info("redialing", "attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-c.done:
				return nil, ErrClosed
			case <-time.After(delay):
			}
		}
		conn, err := c.opts.Dial(ctx)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, errors.Join(errors.New("wschan: dial attempts exhausted"), lastErr)
}

// terminate moves the channel to the error state exactly once.
func (c *Channel) terminate(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.state = StateError
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	close(c.done)
	if c.opts.OnClose != nil {
		c.opts.OnClose(err)
	}
}

// DialURL returns a Dial func for a fixed URL using the default dialer with
// a handshake timeout, matching the upstream streaming client setup.
func DialURL(url string) func(ctx context.Context) (*websocket.Conn, error) {
	return func(ctx context.Context) (*websocket.Conn, error) {
		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		conn, _, err := dialer.DialContext(ctx, url, nil)
		return conn, err
	}
}
