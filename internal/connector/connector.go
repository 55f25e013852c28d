// Package connector keeps a persistent signaling link to a message server.
//
// A Connector owns one logical link that may be dialed many times. All state
// changes run on a single loop goroutine in the order they were requested;
// public methods only enqueue work and return immediately. Notifications are
// delivered on that loop goroutine, so handlers must not block, but they may
// call back into the Connector freely.
package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/looplab/fsm"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/1ureka/rtcsig/internal/event"
	"github.com/1ureka/rtcsig/internal/util"
)

const (
	DefaultConnectTimeout    = 5 * time.Second
	DefaultConnectTimeoutMax = 20 * time.Second
	DefaultReconnectDelay    = 200 * time.Millisecond
)

var (
	// ErrConnectTimeout is carried by the Error notification of a dial
	// that did not open within the current connect timeout.
	ErrConnectTimeout = errors.New("connector: connect timeout")
	// ErrDisconnected is carried by the Error notification of a
	// non-graceful Disconnect.
	ErrDisconnected = errors.New("connector: disconnected")
)

// Options configures a Connector. Zero fields take defaults.
type Options struct {
	Dialer            Dialer
	Header            http.Header
	ConnectTimeout    time.Duration // initial timeout, also the backoff step
	ConnectTimeoutMax time.Duration
	ReconnectDelay    time.Duration
	Registerer        prometheus.Registerer // nil leaves metrics unregistered
	Namespace         string                // metrics namespace
}

func (o *Options) setDefaults() {
	if o.Dialer == nil {
		o.Dialer = WebSocketDialer{}
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.ConnectTimeoutMax < o.ConnectTimeout {
		o.ConnectTimeoutMax = max(DefaultConnectTimeoutMax, o.ConnectTimeout)
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.Namespace == "" {
		o.Namespace = "rtcsig"
	}
}

// SendOption modifies a single Send.
type SendOption func(*sendOptions)

type sendOptions struct {
	noQueue bool
}

// NoQueue drops the message with a warning instead of queueing it when the
// link is not open.
func NoQueue() SendOption {
	return func(o *sendOptions) { o.noQueue = true }
}

// Connector is a resilient signaling link. Create one with New.
type Connector struct {
	opts    Options
	bus     *event.Bus
	metrics *Metrics
	fsm     *fsm.FSM

	mu      sync.Mutex
	mailbox []func()
	token   string

	wake    chan struct{}
	done    chan struct{}
	closing atomic.Bool

	// Mirrors of loop state for observers on other goroutines.
	timeoutNow atomic.Int64
	queueLen   atomic.Int64

	// Loop-owned state.
	url     string
	queue   [][]byte
	timeout time.Duration
	timer   *time.Timer
	link    *link
	errored bool
	stopped bool
}

// New creates a Connector in the idle phase and starts its loop.
func New(opts Options) *Connector {
	opts.setDefaults()

	c := &Connector{
		opts:    opts,
		bus:     event.NewBus(),
		metrics: NewMetrics(opts.Registerer, opts.Namespace),
		fsm:     newPhaseFSM(),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		timeout: opts.ConnectTimeout,
	}
	c.timeoutNow.Store(int64(opts.ConnectTimeout))
	c.metrics.setPhase(PhaseIdle)

	go c.run()
	return c
}

// ──────────────────────────────────────────────────────────────────────────────
// Public API
// ──────────────────────────────────────────────────────────────────────────────

// Connect dials rawURL, with the resume token attached when one is set.
// It is refused while a dial is already in flight; an open link is torn
// down first.
func (c *Connector) Connect(rawURL string) {
	c.post(func() { c.connect(rawURL) })
}

// Disconnect closes the link. A graceful disconnect behaves like a clean
// close from the server (Close notification, then the reconnect cycle);
// otherwise it behaves like a transport error.
func (c *Connector) Disconnect(graceful bool) {
	c.post(func() { c.disconnect(graceful) })
}

// Reconnect tears down any link and redials the last URL after the
// reconnect delay. It does nothing if there is no URL to redial and is
// refused while a dial is in flight.
func (c *Connector) Reconnect() {
	c.post(c.reconnect)
}

// ForgetAndReconnect clears the resume token and, if the link is open,
// closes it so the reconnect cycle dials without a token.
func (c *Connector) ForgetAndReconnect() {
	c.SetToken("")
	c.post(func() {
		if c.Phase() == PhaseOpen {
			c.disconnect(true)
		}
	})
}

// Send encodes payload as JSON and writes it, or queues it until the link
// opens. Only the encoding error is reported.
func (c *Connector) Send(payload any, opts ...SendOption) error {
	var o sendOptions
	for _, opt := range opts {
		opt(&o)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	c.post(func() { c.send(data, o) })
	return nil
}

// Ready calls fn once the link is open: right away if it already is,
// otherwise exactly once on the next open.
func (c *Connector) Ready(fn func()) {
	c.post(func() {
		if c.Phase() == PhaseOpen {
			fn()
			return
		}
		c.bus.Once(event.Open, func(event.Notification) { fn() })
	})
}

// Subscribe registers fn for notifications of kind.
func (c *Connector) Subscribe(kind event.Kind, fn event.Handler) (cancel func()) {
	return c.bus.Subscribe(kind, fn)
}

// SetToken sets the resume token used by the next dial.
func (c *Connector) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current resume token.
func (c *Connector) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// ConnectTimeout returns the timeout the next dial will use.
func (c *Connector) ConnectTimeout() time.Duration {
	return time.Duration(c.timeoutNow.Load())
}

// QueueLen returns the number of messages waiting for the link to open.
func (c *Connector) QueueLen() int {
	return int(c.queueLen.Load())
}

// Close stops the Connector for good: the link is closed gracefully, the
// queue is dropped and no reconnect is scheduled. It does not wait; use
// Done for that.
func (c *Connector) Close() error {
	c.post(c.stop)
	return nil
}

// Done is closed once the loop has stopped.
func (c *Connector) Done() <-chan struct{} {
	return c.done
}

// ──────────────────────────────────────────────────────────────────────────────
// Loop
// ──────────────────────────────────────────────────────────────────────────────

func (c *Connector) post(fn func()) {
	if c.closing.Load() {
		return
	}
	c.mu.Lock()
	c.mailbox = append(c.mailbox, fn)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Connector) next() (func(), bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.mailbox) == 0 {
		return nil, false
	}
	fn := c.mailbox[0]
	c.mailbox[0] = nil
	c.mailbox = c.mailbox[1:]
	return fn, true
}

func (c *Connector) run() {
	defer close(c.done)
	for range c.wake {
		for {
			fn, ok := c.next()
			if !ok {
				break
			}
			fn()
			if c.stopped {
				return
			}
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Loop handlers
// ──────────────────────────────────────────────────────────────────────────────

func (c *Connector) connect(rawURL string) {
	if c.stopped {
		return
	}
	if c.Phase() == PhaseConnecting {
		util.LogWarning("connector: already connecting, ignoring connect to %s", rawURL)
		c.metrics.refused.Inc()
		return
	}

	c.teardown()
	c.errored = false
	c.url = rawURL
	dialURL := withToken(rawURL, c.Token())

	ctx, cancel := context.WithCancel(context.Background())
	l := &link{cancel: cancel}
	c.link = l

	c.transition(evDial)
	c.metrics.dials.Inc()
	util.LogDebug("connector: dialing %s (timeout %s)", rawURL, c.timeout)
	c.bus.Publish(event.Notification{Kind: event.Connecting, URL: rawURL})

	go c.dial(ctx, l, dialURL)
	c.timer = time.AfterFunc(c.timeout, func() {
		c.post(func() { c.onTimeout(l) })
	})
}

func (c *Connector) onOpen(l *link, conn Conn) {
	if l != c.link {
		conn.Close()
		return
	}
	c.stopTimer()
	c.setTimeout(c.opts.ConnectTimeout)
	l.conn = conn

	c.transition(evOpened)
	util.Stats.AddOpen()
	util.LogInfo("connector: connected to %s", c.url)
	go c.read(l, conn)

	c.bus.Publish(event.Notification{Kind: event.Open, URL: c.url})
	c.drain()
}

func (c *Connector) onTimeout(l *link) {
	if l != c.link || c.Phase() != PhaseConnecting {
		return
	}
	c.timer = nil
	util.LogWarning("connector: no connection after %s", c.timeout)

	c.setTimeout(min(c.timeout+c.opts.ConnectTimeout, c.opts.ConnectTimeoutMax))
	c.transition(evTimeout)
	c.metrics.timeouts.Inc()
	c.bus.Publish(event.Notification{Kind: event.Error, URL: c.url, Err: ErrConnectTimeout})
	c.reconnect()
}

func (c *Connector) onError(l *link, err error) {
	if l != c.link {
		return
	}
	util.LogWarning("connector: %v", err)

	c.errored = true
	c.transition(evFail)
	c.teardown()
	util.Stats.AddDrop()
	c.metrics.errors.Inc()
	c.bus.Publish(event.Notification{Kind: event.Error, URL: c.url, Err: err})
}

func (c *Connector) onClose(l *link) {
	if l != c.link {
		return
	}
	c.teardown()
	util.Stats.AddDrop()
	c.metrics.closes.Inc()

	if !c.errored {
		util.LogInfo("connector: connection closed")
		c.bus.Publish(event.Notification{Kind: event.Close, URL: c.url})
	}
	c.reconnect()
}

func (c *Connector) onMessage(l *link, data []byte) {
	if l != c.link {
		return
	}
	c.metrics.received(len(data))

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		util.LogWarning("connector: dropping malformed message: %v", err)
		c.metrics.count("malformed")
		c.bus.Publish(event.Notification{Kind: event.Malformed, URL: c.url, Raw: data, Err: err})
		return
	}
	c.bus.Publish(event.Notification{Kind: event.Received, URL: c.url, Message: json.RawMessage(data)})
}

func (c *Connector) send(data []byte, o sendOptions) {
	if c.Phase() != PhaseOpen {
		if o.noQueue {
			util.LogWarning("connector: not connected, dropping message")
			c.metrics.count("dropped")
			return
		}
		c.enqueue(data)
		return
	}
	if len(c.queue) > 0 {
		c.enqueue(data)
		c.drain()
		return
	}
	if !c.write(data) {
		c.enqueue(data)
	}
}

func (c *Connector) disconnect(graceful bool) {
	l := c.link
	if l == nil {
		return
	}
	c.stopTimer()
	if !graceful {
		c.onError(l, ErrDisconnected)
		return
	}
	c.transition(evClose)
	l.sendClose()
	c.onClose(l)
}

// reconnect tears down the link and redials the last URL after the
// reconnect delay. The URL is cleared meanwhile so that overlapping close
// and timeout signals schedule only one redial. Like connect, it is
// refused while a dial is in flight.
func (c *Connector) reconnect() {
	if c.url == "" || c.stopped {
		return
	}
	if c.Phase() == PhaseConnecting {
		util.LogWarning("connector: already connecting, ignoring reconnect to %s", c.url)
		c.metrics.refused.Inc()
		return
	}
	c.teardown()

	target := c.url
	c.url = ""
	c.metrics.reconnects.Inc()
	util.LogDebug("connector: reconnecting in %s", c.opts.ReconnectDelay)

	time.AfterFunc(c.opts.ReconnectDelay, func() {
		c.post(func() { c.redial(target) })
	})
}

func (c *Connector) redial(target string) {
	if c.stopped {
		return
	}
	switch c.Phase() {
	case PhaseConnecting, PhaseOpen:
		// An explicit Connect won the race.
		return
	}
	c.connect(target)
}

func (c *Connector) stop() {
	c.url = ""
	c.stopped = true
	c.closing.Store(true)
	c.disconnect(true)
	c.teardown()
	c.queue = nil
	c.queueLen.Store(0)
	c.metrics.queued.Set(0)
	util.LogDebug("connector: stopped")
}

// ──────────────────────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────────────────────

// teardown drops the current link, if any. Close or error signals it
// raises afterwards no longer match c.link and are discarded.
func (c *Connector) teardown() {
	c.stopTimer()
	l := c.link
	if l == nil {
		return
	}
	c.link = nil
	l.close()
	if c.fsm.Can(evClosed) {
		c.transition(evClosed)
	}
}

func (c *Connector) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Connector) setTimeout(d time.Duration) {
	c.timeout = d
	c.timeoutNow.Store(int64(d))
}

func (c *Connector) enqueue(data []byte) {
	c.queue = append(c.queue, data)
	c.queueLen.Store(int64(len(c.queue)))
	c.metrics.queued.Set(float64(len(c.queue)))
	c.metrics.count("queued")
}

// drain flushes the queue in order while the link stays open. A failed
// write leaves its message at the head of the queue.
func (c *Connector) drain() {
	for len(c.queue) > 0 && c.Phase() == PhaseOpen {
		data := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
		if !c.write(data) {
			c.queue = append([][]byte{data}, c.queue...)
		}
	}
	if len(c.queue) == 0 {
		c.queue = nil
	}
	c.queueLen.Store(int64(len(c.queue)))
	c.metrics.queued.Set(float64(len(c.queue)))
}

func (c *Connector) write(data []byte) bool {
	l := c.link
	if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.onError(l, fmt.Errorf("failed to write message: %w", err))
		return false
	}
	c.metrics.sent(len(data))
	return true
}
