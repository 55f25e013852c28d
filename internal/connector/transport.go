package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
)

// Conn is one established message link. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens links. Dial must return promptly once ctx is cancelled.
type Dialer interface {
	Dial(ctx context.Context, rawURL string, header http.Header) (Conn, error)
}

// WebSocketDialer dials with gorilla/websocket.
type WebSocketDialer struct {
	Dialer *websocket.Dialer // nil means websocket.DefaultDialer
}

var _ Dialer = WebSocketDialer{}

// Dial implements Dialer.
func (d WebSocketDialer) Dial(ctx context.Context, rawURL string, header http.Header) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WS server: %w", err)
	}
	return conn, nil
}

// link is one dial attempt and, once open, its connection. Signals carry
// their link so that those from a superseded link can be recognized.
type link struct {
	conn   Conn
	cancel context.CancelFunc
}

func (l *link) close() {
	l.cancel()
	if l.conn != nil {
		l.conn.Close()
	}
}

// sendClose writes a normal-closure frame if the link is open.
func (l *link) sendClose() {
	if l.conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = l.conn.WriteMessage(websocket.CloseMessage, msg)
	}
}

// dial runs on its own goroutine and reports the outcome to the loop.
func (c *Connector) dial(ctx context.Context, l *link, rawURL string) {
	conn, err := c.opts.Dialer.Dial(ctx, rawURL, c.opts.Header)
	if err != nil {
		c.post(func() { c.onError(l, err) })
		return
	}
	c.post(func() { c.onOpen(l, conn) })
}

// read pumps inbound frames to the loop until the connection ends. A close
// frame (including abnormal closure) is a clean close; anything else is an
// error.
func (c *Connector) read(l *link, conn Conn) {
	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				c.post(func() { c.onClose(l) })
			} else {
				c.post(func() { c.onError(l, err) })
			}
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		c.post(func() { c.onMessage(l, data) })
	}
}

// withToken appends the resume token as query parameter "t".
func withToken(rawURL, token string) string {
	if token == "" {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL + "?t=" + url.QueryEscape(token)
	}
	q := u.Query()
	q.Set("t", token)
	u.RawQuery = q.Encode()
	return u.String()
}
