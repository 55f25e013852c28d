package connector

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/rtcsig/internal/event"
	"github.com/1ureka/rtcsig/internal/util"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

func init() {
	util.SetLogWriter(io.Discard)
}

// ──────────────────────────────────────────────────────────────────────────────
// Test server
// ──────────────────────────────────────────────────────────────────────────────

type wsServer struct {
	*httptest.Server
	conns   chan *websocket.Conn
	queries chan url.Values
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{
		conns:   make(chan *websocket.Conn, 16),
		queries: make(chan url.Values, 16),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.queries <- r.URL.Query()
		s.conns <- conn
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *wsServer) accept(t *testing.T) (*websocket.Conn, url.Values) {
	t.Helper()
	select {
	case conn := <-s.conns:
		t.Cleanup(func() { conn.Close() })
		return conn, <-s.queries
	case <-time.After(waitFor):
		t.Fatal("no connection accepted")
		return nil, nil
	}
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

// ──────────────────────────────────────────────────────────────────────────────
// Fakes
// ──────────────────────────────────────────────────────────────────────────────

type fakeConn struct {
	mu        sync.Mutex
	written   []string
	failAfter int // writes beyond this many fail; 0 means never
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{closed: make(chan struct{})}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	<-f.closed
	return 0, nil, errors.New("use of closed connection")
}

func (f *fakeConn) WriteMessage(typ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if typ != websocket.TextMessage {
		return nil
	}
	if f.failAfter > 0 && len(f.written) >= f.failAfter {
		return errors.New("broken pipe")
	}
	f.written = append(f.written, string(data))
	return nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) Written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.written...)
}

type fakeDialer struct {
	calls atomic.Int32
	dial  func(ctx context.Context) (Conn, error)
}

func newFakeDialer(dial func(ctx context.Context) (Conn, error)) *fakeDialer {
	return &fakeDialer{dial: dial}
}

func (d *fakeDialer) Dial(ctx context.Context, _ string, _ http.Header) (Conn, error) {
	d.calls.Add(1)
	return d.dial(ctx)
}

func blockUntilCancelled(ctx context.Context) (Conn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// recorder collects notification kinds in delivery order.
type recorder struct {
	mu    sync.Mutex
	kinds []event.Kind
	last  map[event.Kind]event.Notification
}

func record(c *Connector) *recorder {
	r := &recorder{last: make(map[event.Kind]event.Notification)}
	for _, k := range []event.Kind{event.Connecting, event.Open, event.Error, event.Close, event.Received, event.Malformed} {
		c.Subscribe(k, func(n event.Notification) {
			r.mu.Lock()
			r.kinds = append(r.kinds, n.Kind)
			r.last[n.Kind] = n
			r.mu.Unlock()
		})
	}
	return r
}

func (r *recorder) Kinds() []event.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Kind(nil), r.kinds...)
}

func (r *recorder) Count(kind event.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, k := range r.kinds {
		if k == kind {
			n++
		}
	}
	return n
}

func (r *recorder) Last(kind event.Kind) event.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last[kind]
}

// settle waits until everything posted so far has run on the loop.
func settle(t *testing.T, c *Connector) {
	t.Helper()
	done := make(chan struct{})
	c.post(func() { close(done) })
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("connector loop stuck")
	}
}

func newTestConnector(t *testing.T, opts Options) *Connector {
	t.Helper()
	if opts.ReconnectDelay == 0 {
		opts.ReconnectDelay = 10 * time.Millisecond
	}
	c := New(opts)
	t.Cleanup(func() { c.Close() })
	return c
}

// ──────────────────────────────────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────────────────────────────────

func TestQueuedMessagesFlushInOrder(t *testing.T) {
	srv := newWSServer(t)
	c := newTestConnector(t, Options{})

	for _, msg := range []string{"one", "two", "three"} {
		require.NoError(t, c.Send(map[string]string{"m": msg}))
	}
	settle(t, c)
	assert.Equal(t, 3, c.QueueLen())

	c.Connect(srv.wsURL())
	conn, _ := srv.accept(t)

	assert.Equal(t, `{"m":"one"}`, readText(t, conn))
	assert.Equal(t, `{"m":"two"}`, readText(t, conn))
	assert.Equal(t, `{"m":"three"}`, readText(t, conn))

	require.NoError(t, c.Send(map[string]string{"m": "four"}))
	assert.Equal(t, `{"m":"four"}`, readText(t, conn))
	assert.Equal(t, 0, c.QueueLen())
	assert.Equal(t, PhaseOpen, c.Phase())
}

func TestSendFromOpenHandlerKeepsOrder(t *testing.T) {
	srv := newWSServer(t)
	c := newTestConnector(t, Options{})

	c.Subscribe(event.Open, func(event.Notification) {
		assert.NoError(t, c.Send("from-handler"))
	})
	require.NoError(t, c.Send("queued"))
	c.Connect(srv.wsURL())
	conn, _ := srv.accept(t)

	assert.Equal(t, `"queued"`, readText(t, conn))
	assert.Equal(t, `"from-handler"`, readText(t, conn))
}

func TestNoQueueDropsWhileDisconnected(t *testing.T) {
	srv := newWSServer(t)
	reg := prometheus.NewRegistry()
	c := newTestConnector(t, Options{Registerer: reg})

	require.NoError(t, c.Send("dropped", NoQueue()))
	require.NoError(t, c.Send("kept"))
	settle(t, c)
	assert.Equal(t, 1, c.QueueLen())
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.messages.WithLabelValues("dropped")))

	c.Connect(srv.wsURL())
	conn, _ := srv.accept(t)
	assert.Equal(t, `"kept"`, readText(t, conn))

	require.NoError(t, c.Send("now", NoQueue()))
	assert.Equal(t, `"now"`, readText(t, conn))
}

func TestSendReportsEncodingError(t *testing.T) {
	c := newTestConnector(t, Options{})
	err := c.Send(make(chan int))
	require.Error(t, err)
	settle(t, c)
	assert.Equal(t, 0, c.QueueLen())
}

func TestConnectWhileConnectingDialsOnce(t *testing.T) {
	d := newFakeDialer(blockUntilCancelled)
	c := newTestConnector(t, Options{Dialer: d, ConnectTimeout: time.Minute})
	rec := record(c)

	c.Connect("ws://example.invalid/ws")
	c.Connect("ws://example.invalid/ws")
	settle(t, c)

	require.Eventually(t, func() bool { return d.calls.Load() == 1 }, waitFor, tick)
	assert.Never(t, func() bool { return d.calls.Load() > 1 }, 100*time.Millisecond, tick)
	assert.Equal(t, 1, rec.Count(event.Connecting))
	assert.Equal(t, PhaseConnecting, c.Phase())
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.refused))
}

func TestConnectTimeoutBacksOffAndResets(t *testing.T) {
	const step = 20 * time.Millisecond

	var succeed atomic.Bool
	d := newFakeDialer(func(ctx context.Context) (Conn, error) {
		if succeed.Load() {
			return newFakeConn(), nil
		}
		return blockUntilCancelled(ctx)
	})
	c := newTestConnector(t, Options{
		Dialer:            d,
		ConnectTimeout:    step,
		ConnectTimeoutMax: 3 * step,
		ReconnectDelay:    time.Millisecond,
	})

	var mu sync.Mutex
	var seen []time.Duration
	c.Subscribe(event.Error, func(n event.Notification) {
		assert.ErrorIs(t, n.Err, ErrConnectTimeout)
		mu.Lock()
		seen = append(seen, c.ConnectTimeout())
		mu.Unlock()
	})

	c.Connect("ws://example.invalid/ws")
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 4
	}, waitFor, tick)

	mu.Lock()
	assert.Equal(t, []time.Duration{2 * step, 3 * step, 3 * step, 3 * step}, seen[:4])
	mu.Unlock()

	succeed.Store(true)
	require.Eventually(t, func() bool { return c.Phase() == PhaseOpen }, waitFor, tick)
	assert.Equal(t, step, c.ConnectTimeout())
	assert.GreaterOrEqual(t, testutil.ToFloat64(c.metrics.timeouts), 4.0)
}

// unterminated counts Connecting notifications that were followed by another
// Connecting before any Error or Close.
func unterminated(kinds []event.Kind) int {
	n, pending := 0, false
	for _, k := range kinds {
		switch k {
		case event.Connecting:
			if pending {
				n++
			}
			pending = true
		case event.Error, event.Close:
			pending = false
		}
	}
	return n
}

func TestEveryTimedOutDialEndsOnce(t *testing.T) {
	d := newFakeDialer(blockUntilCancelled)
	c := newTestConnector(t, Options{
		Dialer:            d,
		ConnectTimeout:    15 * time.Millisecond,
		ConnectTimeoutMax: 30 * time.Millisecond,
		ReconnectDelay:    time.Millisecond,
	})
	rec := record(c)

	c.Connect("ws://example.invalid/ws")
	require.Eventually(t, func() bool { return rec.Count(event.Error) >= 5 }, waitFor, tick)

	require.NoError(t, c.Close())
	select {
	case <-c.Done():
	case <-time.After(waitFor):
		t.Fatal("loop did not stop")
	}

	kinds := rec.Kinds()
	assert.Zero(t, unterminated(kinds), "%v", kinds)

	connecting := rec.Count(event.Connecting)
	assert.Equal(t, connecting, rec.Count(event.Error)+rec.Count(event.Close))
	assert.Eventually(t, func() bool { return d.calls.Load() == int32(connecting) }, waitFor, tick)
}

func TestReconnectRefusedWhileConnecting(t *testing.T) {
	d := newFakeDialer(blockUntilCancelled)
	c := newTestConnector(t, Options{Dialer: d, ConnectTimeout: time.Minute})
	rec := record(c)

	c.Connect("ws://example.invalid/ws")
	require.Eventually(t, func() bool { return d.calls.Load() == 1 }, waitFor, tick)

	c.Reconnect()
	settle(t, c)

	assert.Never(t, func() bool { return d.calls.Load() > 1 }, 100*time.Millisecond, tick)
	assert.Equal(t, []event.Kind{event.Connecting}, rec.Kinds())
	assert.Equal(t, PhaseConnecting, c.Phase())
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.refused))
	assert.Zero(t, testutil.ToFloat64(c.metrics.reconnects))
}

func TestCleanCloseReconnectsOnce(t *testing.T) {
	srv := newWSServer(t)
	c := newTestConnector(t, Options{})
	rec := record(c)

	c.Connect(srv.wsURL())
	first, _ := srv.accept(t)
	require.Eventually(t, func() bool { return c.Phase() == PhaseOpen }, waitFor, tick)

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	require.NoError(t, first.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))

	srv.accept(t)
	require.Eventually(t, func() bool { return rec.Count(event.Open) == 2 }, waitFor, tick)

	assert.Equal(t, []event.Kind{
		event.Connecting, event.Open, event.Close, event.Connecting, event.Open,
	}, rec.Kinds())

	select {
	case <-srv.conns:
		t.Fatal("unexpected third connection")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestErrorDoesNotReconnect(t *testing.T) {
	d := newFakeDialer(func(context.Context) (Conn, error) {
		return nil, errors.New("connection refused")
	})
	c := newTestConnector(t, Options{Dialer: d})
	rec := record(c)

	c.Connect("ws://example.invalid/ws")
	require.Eventually(t, func() bool { return rec.Count(event.Error) == 1 }, waitFor, tick)
	assert.Equal(t, PhaseFailed, c.Phase())
	assert.EqualError(t, rec.Last(event.Error).Err, "connection refused")
	assert.Never(t, func() bool { return d.calls.Load() > 1 }, 100*time.Millisecond, tick)
	assert.Zero(t, rec.Count(event.Close))

	// The caller decides when to retry.
	c.Reconnect()
	require.Eventually(t, func() bool { return d.calls.Load() == 2 }, waitFor, tick)
}

func TestResumeTokenAndForget(t *testing.T) {
	srv := newWSServer(t)
	c := newTestConnector(t, Options{})
	rec := record(c)

	c.SetToken("abc 123")
	c.Connect(srv.wsURL() + "/ws?room=1")
	_, q := srv.accept(t)
	assert.Equal(t, "abc 123", q.Get("t"))
	assert.Equal(t, "1", q.Get("room"))
	require.Eventually(t, func() bool { return c.Phase() == PhaseOpen }, waitFor, tick)
	assert.Equal(t, srv.wsURL()+"/ws?room=1", rec.Last(event.Connecting).URL)

	c.ForgetAndReconnect()
	_, q = srv.accept(t)
	assert.False(t, q.Has("t"))
	assert.Empty(t, c.Token())
}

func TestWithToken(t *testing.T) {
	assert.Equal(t, "ws://h/ws", withToken("ws://h/ws", ""))
	assert.Equal(t, "ws://h/ws?t=x", withToken("ws://h/ws", "x"))
	assert.Equal(t, "ws://h/ws?a=1&t=x", withToken("ws://h/ws?a=1", "x"))
	assert.Equal(t, "ws://h/ws?t=new", withToken("ws://h/ws?t=old", "new"))
}

func TestInboundMessages(t *testing.T) {
	srv := newWSServer(t)
	c := newTestConnector(t, Options{})
	rec := record(c)

	c.Connect(srv.wsURL())
	conn, _ := srv.accept(t)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x01}))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"Type":"Self","Token":"x"}`)))

	require.Eventually(t, func() bool { return rec.Count(event.Received) == 1 }, waitFor, tick)
	assert.Equal(t, 1, rec.Count(event.Malformed))

	malformed := rec.Last(event.Malformed)
	assert.Equal(t, "not json", string(malformed.Raw))
	assert.Error(t, malformed.Err)

	var got struct{ Type, Token string }
	require.NoError(t, json.Unmarshal(rec.Last(event.Received).Message, &got))
	assert.Equal(t, "Self", got.Type)
	assert.Equal(t, "x", got.Token)
	assert.Equal(t, PhaseOpen, c.Phase())
}

func TestReadyFiresOnce(t *testing.T) {
	srv := newWSServer(t)
	c := newTestConnector(t, Options{})

	var before atomic.Int32
	c.Ready(func() { before.Add(1) })
	settle(t, c)
	assert.Zero(t, before.Load())

	c.Connect(srv.wsURL())
	first, _ := srv.accept(t)
	require.Eventually(t, func() bool { return before.Load() == 1 }, waitFor, tick)

	var after atomic.Int32
	c.Ready(func() { after.Add(1) })
	require.Eventually(t, func() bool { return after.Load() == 1 }, waitFor, tick)

	// A reconnect does not fire either callback again.
	first.Close()
	srv.accept(t)
	require.Eventually(t, func() bool { return c.Phase() == PhaseOpen }, waitFor, tick)
	settle(t, c)
	assert.Equal(t, int32(1), before.Load())
	assert.Equal(t, int32(1), after.Load())
}

func TestDrainStopsOnWriteFailure(t *testing.T) {
	conn := newFakeConn()
	conn.failAfter = 1
	d := newFakeDialer(func(context.Context) (Conn, error) { return conn, nil })
	c := newTestConnector(t, Options{Dialer: d})
	rec := record(c)

	for _, msg := range []string{"a", "b", "c"} {
		require.NoError(t, c.Send(msg))
	}
	c.Connect("ws://example.invalid/ws")

	require.Eventually(t, func() bool { return rec.Count(event.Error) == 1 }, waitFor, tick)
	settle(t, c)
	assert.Equal(t, []string{`"a"`}, conn.Written())
	assert.Equal(t, 2, c.QueueLen())
	assert.Equal(t, PhaseFailed, c.Phase())
}

func TestGracefulDisconnectClosesAndReconnects(t *testing.T) {
	srv := newWSServer(t)
	c := newTestConnector(t, Options{})
	rec := record(c)

	c.Connect(srv.wsURL())
	first, _ := srv.accept(t)
	require.Eventually(t, func() bool { return c.Phase() == PhaseOpen }, waitFor, tick)

	c.Disconnect(true)
	_, _, err := first.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))

	srv.accept(t)
	require.Eventually(t, func() bool { return rec.Count(event.Open) == 2 }, waitFor, tick)
	assert.Equal(t, 1, rec.Count(event.Close))
	assert.Zero(t, rec.Count(event.Error))
}

func TestHardDisconnectFails(t *testing.T) {
	d := newFakeDialer(func(context.Context) (Conn, error) { return newFakeConn(), nil })
	c := newTestConnector(t, Options{Dialer: d})
	rec := record(c)

	c.Connect("ws://example.invalid/ws")
	require.Eventually(t, func() bool { return c.Phase() == PhaseOpen }, waitFor, tick)

	c.Disconnect(false)
	require.Eventually(t, func() bool { return rec.Count(event.Error) == 1 }, waitFor, tick)
	assert.ErrorIs(t, rec.Last(event.Error).Err, ErrDisconnected)
	assert.Zero(t, rec.Count(event.Close))
	assert.Never(t, func() bool { return d.calls.Load() > 1 }, 100*time.Millisecond, tick)
}

func TestStaleLinkSignalsAreIgnored(t *testing.T) {
	d := newFakeDialer(blockUntilCancelled)
	c := newTestConnector(t, Options{Dialer: d, ConnectTimeout: time.Minute})
	rec := record(c)

	c.Connect("ws://example.invalid/ws")
	settle(t, c)

	stale := &link{cancel: func() {}}
	conn := newFakeConn()
	c.post(func() { c.onOpen(stale, conn) })
	c.post(func() { c.onError(stale, errors.New("late")) })
	c.post(func() { c.onClose(stale) })
	settle(t, c)

	assert.Equal(t, PhaseConnecting, c.Phase())
	assert.Equal(t, []event.Kind{event.Connecting}, rec.Kinds())
	select {
	case <-conn.closed:
	default:
		t.Fatal("stale connection left open")
	}
}

func TestCloseStopsForGood(t *testing.T) {
	srv := newWSServer(t)
	c := New(Options{ReconnectDelay: time.Millisecond})
	rec := record(c)

	c.Connect(srv.wsURL())
	srv.accept(t)
	require.Eventually(t, func() bool { return c.Phase() == PhaseOpen }, waitFor, tick)

	require.NoError(t, c.Close())
	select {
	case <-c.Done():
	case <-time.After(waitFor):
		t.Fatal("loop did not stop")
	}
	assert.Equal(t, 1, rec.Count(event.Close))

	c.Connect(srv.wsURL())
	select {
	case <-srv.conns:
		t.Fatal("dialed after Close")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPhaseMetric(t *testing.T) {
	d := newFakeDialer(func(context.Context) (Conn, error) { return newFakeConn(), nil })
	reg := prometheus.NewRegistry()
	c := newTestConnector(t, Options{Dialer: d, Registerer: reg})

	c.Connect("ws://example.invalid/ws")
	require.Eventually(t, func() bool { return c.Phase() == PhaseOpen }, waitFor, tick)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.phase.WithLabelValues(string(PhaseOpen))))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.metrics.phase.WithLabelValues(string(PhaseConnecting))))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.dials))
}
