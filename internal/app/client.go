// Package app ties a signaling link to the channelling protocol: it captures
// the resume token, retries after errors and rewrites session descriptions
// with the configured media policy.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rtcsig/internal/connector"
	"github.com/1ureka/rtcsig/internal/event"
	"github.com/1ureka/rtcsig/internal/sdputil"
	"github.com/1ureka/rtcsig/internal/signaling"
	"github.com/1ureka/rtcsig/internal/util"
)

const (
	DefaultReconnectStep = 500 * time.Millisecond
	DefaultReconnectMax  = 10 * time.Second
)

// ErrStopped is returned by operations on a closed Client.
var ErrStopped = errors.New("app: client stopped")

// Link is the part of *connector.Connector the Client drives.
type Link interface {
	Connect(rawURL string)
	Reconnect()
	Send(payload any, opts ...connector.SendOption) error
	SetToken(token string)
	Subscribe(kind event.Kind, fn event.Handler) (cancel func())
	Close() error
}

var _ Link = (*connector.Connector)(nil)

// Options configures a Client.
type Options struct {
	Policy        sdputil.MediaPolicy
	AutoReconnect bool
	ReconnectStep time.Duration // growth of the retry delay per error
	ReconnectMax  time.Duration // the delay stops growing once it reaches this
	KeepAlive     time.Duration // Alive interval while running; 0 disables
}

// Client is a channelling protocol client on top of a Link.
type Client struct {
	link Link
	opts Options

	mu           sync.Mutex
	delay        time.Duration
	reconnecting bool
	stopped      bool
	self         *signaling.Self

	onSelf      func(*signaling.Self)
	onOffer     func(from string, desc webrtc.SessionDescription)
	onAnswer    func(from string, desc webrtc.SessionDescription)
	onCandidate func(from string, init webrtc.ICECandidateInit)
	onBye       func(from string)

	cancels []func()
}

// New creates a Client and subscribes it to link. Handlers should be
// registered before Run.
func New(link Link, opts Options) *Client {
	if opts.ReconnectStep <= 0 {
		opts.ReconnectStep = DefaultReconnectStep
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = DefaultReconnectMax
	}

	c := &Client{link: link, opts: opts}
	c.cancels = append(c.cancels,
		link.Subscribe(event.Open, c.handleOpen),
		link.Subscribe(event.Error, c.handleError),
		link.Subscribe(event.Received, c.handleMessage),
	)
	return c
}

// ──────────────────────────────────────────────────────────────────────────────
// Handlers
// ──────────────────────────────────────────────────────────────────────────────

func (c *Client) OnSelf(fn func(*signaling.Self)) {
	c.mu.Lock()
	c.onSelf = fn
	c.mu.Unlock()
}

func (c *Client) OnOffer(fn func(from string, desc webrtc.SessionDescription)) {
	c.mu.Lock()
	c.onOffer = fn
	c.mu.Unlock()
}

func (c *Client) OnAnswer(fn func(from string, desc webrtc.SessionDescription)) {
	c.mu.Lock()
	c.onAnswer = fn
	c.mu.Unlock()
}

func (c *Client) OnCandidate(fn func(from string, init webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onCandidate = fn
	c.mu.Unlock()
}

func (c *Client) OnBye(fn func(from string)) {
	c.mu.Lock()
	c.onBye = fn
	c.mu.Unlock()
}

// Self returns the last session description received from the server.
func (c *Client) Self() *signaling.Self {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

// ──────────────────────────────────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────────────────────────────────

// Run connects to rawURL and keeps the session alive until ctx is
// cancelled, then closes the link.
func (c *Client) Run(ctx context.Context, rawURL string) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	c.mu.Unlock()

	c.link.Connect(rawURL)

	var tick <-chan time.Time
	if c.opts.KeepAlive > 0 {
		ticker := time.NewTicker(c.opts.KeepAlive)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case now := <-tick:
			if err := c.link.Send(signaling.NewAlive(now.UnixMilli()), connector.NoQueue()); err != nil {
				util.LogWarning("app: keepalive: %v", err)
			}
		case <-ctx.Done():
			c.Close()
			return nil
		}
	}
}

// Close unsubscribes from the link and closes it. Pending reconnects are
// abandoned.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	cancels := c.cancels
	c.cancels = nil
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return c.link.Close()
}

func (c *Client) handleOpen(event.Notification) {
	c.mu.Lock()
	c.delay = 0
	c.mu.Unlock()
}

// handleError schedules one application-level reconnect. The delay starts
// at zero and grows by ReconnectStep per error until ReconnectMax; a
// successful open resets it.
func (c *Client) handleError(n event.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.opts.AutoReconnect || c.stopped {
		return
	}
	if errors.Is(n.Err, connector.ErrConnectTimeout) {
		// The connector redials on its own after a timeout.
		return
	}
	if c.reconnecting {
		util.LogWarning("app: already reconnecting")
		return
	}

	delay := c.delay
	if c.delay < c.opts.ReconnectMax {
		c.delay = min(c.delay+c.opts.ReconnectStep, c.opts.ReconnectMax)
	}
	c.reconnecting = true
	util.LogInfo("app: link error (%v), reconnecting in %s", n.Err, delay)

	time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnecting = false
		stopped := c.stopped
		c.mu.Unlock()
		if !stopped {
			c.link.Reconnect()
		}
	})
}

func (c *Client) handleMessage(n event.Notification) {
	env, err := signaling.Parse(n.Message)
	if err != nil {
		util.LogDebug("app: ignoring message: %v", err)
		return
	}

	switch env.Type {
	case signaling.MsgTypeSelf:
		self, err := env.Self()
		if err != nil {
			util.LogWarning("app: %v", err)
			return
		}
		c.link.SetToken(self.Token)
		c.mu.Lock()
		c.self = self
		fn := c.onSelf
		c.mu.Unlock()
		util.LogDebug("app: session %s, resume token updated", self.Id)
		if fn != nil {
			fn(self)
		}

	case signaling.MsgTypeOffer:
		offer, err := env.Offer()
		if err != nil {
			util.LogWarning("app: %v", err)
			return
		}
		c.mu.Lock()
		fn := c.onOffer
		c.mu.Unlock()
		if fn != nil {
			fn(env.From, sdputil.ApplyToDescription(offer.Offer, c.opts.Policy, false))
		}

	case signaling.MsgTypeAnswer:
		answer, err := env.Answer()
		if err != nil {
			util.LogWarning("app: %v", err)
			return
		}
		c.mu.Lock()
		fn := c.onAnswer
		c.mu.Unlock()
		if fn != nil {
			fn(env.From, sdputil.ApplyToDescription(answer.Answer, c.opts.Policy, false))
		}

	case signaling.MsgTypeCandidate:
		cand, err := env.Candidate()
		if err != nil {
			util.LogWarning("app: %v", err)
			return
		}
		c.mu.Lock()
		fn := c.onCandidate
		c.mu.Unlock()
		if fn != nil {
			fn(env.From, cand.Candidate)
		}

	case signaling.MsgTypeBye:
		c.mu.Lock()
		fn := c.onBye
		c.mu.Unlock()
		if fn != nil {
			fn(env.From)
		}

	case signaling.MsgTypeError:
		var e signaling.ErrorData
		if err := env.Decode(&e); err == nil {
			util.LogWarning("app: server error %v", &e)
		}

	default:
		util.LogDebug("app: unhandled message type %q", env.Type)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Outbound
// ──────────────────────────────────────────────────────────────────────────────

// Join asks the server to join room.
func (c *Client) Join(version, room string) error {
	return c.send(signaling.NewHello(version, room))
}

// SendOffer rewrites the local offer with the policy and sends it to peer
// to. The rewritten description is returned so it can be applied locally.
func (c *Client) SendOffer(to string, desc webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	desc = sdputil.ApplyToDescription(desc, c.opts.Policy, true)
	return desc, c.send(signaling.NewOffer(to, desc))
}

// SendAnswer is SendOffer for answers.
func (c *Client) SendAnswer(to string, desc webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	desc = sdputil.ApplyToDescription(desc, c.opts.Policy, true)
	return desc, c.send(signaling.NewAnswer(to, desc))
}

func (c *Client) SendCandidate(to string, init webrtc.ICECandidateInit) error {
	util.LogDebug("app: sending %s candidate to %s", sdputil.CandidateType(init.Candidate), to)
	return c.send(signaling.NewCandidate(to, init))
}

func (c *Client) SendBye(to, reason string) error {
	return c.send(signaling.NewBye(to, reason))
}

func (c *Client) send(req signaling.Request) error {
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		return ErrStopped
	}
	if err := c.link.Send(req); err != nil {
		return fmt.Errorf("failed to send %s: %w", req.Type, err)
	}
	return nil
}
