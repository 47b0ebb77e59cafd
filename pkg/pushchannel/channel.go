// Package pushchannel owns the persistent connection over which the backend pushes
// events for one session.
//
// A Channel makes at most one connection attempt. It never reconnects and never
// buffers outbound frames: a Send while the connection is not open reports false.
package pushchannel

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chaichat/pkg/protocol"
	"github.com/go-go-golems/chaichat/pkg/session"
)

var (
	ErrAlreadyOpened = errors.New("push channel was already opened")
	ErrClosed        = errors.New("push channel is closed")
)

type Config struct {
	// BaseURL is the ws:// or wss:// prefix; the endpoint is <BaseURL>/ws/<session_id>.
	BaseURL          string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

type Option func(*Channel)

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Channel) { c.logger = logger }
}

// WithHeader adds headers to the handshake request.
func WithHeader(h http.Header) Option {
	return func(c *Channel) { c.header = h.Clone() }
}

type Channel struct {
	cfg    Config
	dialer *websocket.Dialer
	header http.Header
	logger zerolog.Logger

	mu            sync.Mutex
	state         State
	opened        bool
	closing       bool
	sessionID     session.ID
	conn          *websocket.Conn
	cancel        context.CancelFunc
	handler       func(protocol.InboundEvent)
	stateHandlers []func(State)
	disp          *dispatcher
	done          chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func New(cfg Config, opts ...Option) *Channel {
	c := &Channel{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "pushchannel").Logger()
	return c
}

// Endpoint returns the connection URL for a session.
func Endpoint(base string, id session.ID) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", errors.Wrap(err, "parse push channel base url")
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return "", errors.Errorf("push channel base url must be ws:// or wss://, got %q", base)
	}
	return u.String() + "/ws/" + url.PathEscape(id.String()), nil
}

// OnEvent registers the single dispatch callback. Events are delivered in receive
// order, one at a time. A later call replaces the previous callback.
func (c *Channel) OnEvent(h func(protocol.InboundEvent)) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// OnStateChange registers an observer for connection state transitions.
// Observers run outside the channel lock, in transition order.
func (c *Channel) OnStateChange(h func(State)) {
	if h == nil {
		return
	}
	c.mu.Lock()
	c.stateHandlers = append(c.stateHandlers, h)
	c.mu.Unlock()
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) Stats() Stats {
	c.mu.Lock()
	d := c.disp
	c.mu.Unlock()
	if d == nil {
		return Stats{}
	}
	return d.stats()
}

// Open starts the single connection attempt and returns immediately. Transport
// failures are reported as a transition to PhaseErrored, never as a return value;
// the error return is reserved for misuse (opening twice or after Close).
func (c *Channel) Open(ctx context.Context, id session.ID) error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.opened {
		c.mu.Unlock()
		return ErrAlreadyOpened
	}
	c.opened = true
	c.sessionID = id
	c.logger = c.logger.With().Str("session_id", id.String()).Logger()
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.disp = newDispatcher(id.String(), c.logger, c.deliver)
	disp := c.disp
	c.mu.Unlock()

	c.transition(State{Phase: PhaseConnecting})

	endpoint, err := Endpoint(c.cfg.BaseURL, id)
	if err == nil {
		err = disp.start(runCtx)
	}
	if err != nil {
		disp.finish()
		c.fail("open", endpoint, err)
		close(c.done)
		return nil
	}

	go c.run(runCtx, endpoint)
	return nil
}

func (c *Channel) run(ctx context.Context, endpoint string) {
	defer close(c.done)

	dialCtx := ctx
	if c.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
		defer cancel()
	}
	conn, resp, err := c.dialer.DialContext(dialCtx, endpoint, c.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if c.isClosing() {
			c.transition(closedByClient())
			return
		}
		c.fail("dial", endpoint, err)
		return
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		_ = conn.Close()
		c.transition(closedByClient())
		return
	}
	c.conn = conn
	disp := c.disp
	c.mu.Unlock()

	c.logger.Info().Str("url", endpoint).Msg("push channel open")
	c.transition(State{Phase: PhaseOpen})

	defer func() { _ = conn.Close() }()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			c.readEnded(endpoint, err)
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		if err := disp.publish(data); err != nil && !c.isClosing() {
			c.logger.Warn().Err(err).Msg("failed to hand frame to dispatcher")
		}
	}
}

func (c *Channel) readEnded(endpoint string, err error) {
	if c.isClosing() {
		c.transition(closedByClient())
		return
	}
	// gorilla reports a dropped connection as a locally made 1006 close error;
	// only a close frame from the server ends in PhaseClosed.
	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Code != websocket.CloseAbnormalClosure {
		c.logger.Info().Int("code", ce.Code).Str("reason", ce.Text).Msg("push channel closed by server")
		c.transition(State{Phase: PhaseClosed, Code: ce.Code, Reason: ce.Text})
		return
	}
	c.fail("read", endpoint, err)
}

func (c *Channel) fail(op, endpoint string, err error) {
	terr := &TransportError{Op: op, URL: endpoint, Err: err}
	c.logger.Warn().Err(terr).Msg("push channel failed")
	c.transition(State{Phase: PhaseErrored, Err: terr})
}

func (c *Channel) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

func (c *Channel) transition(next State) {
	c.mu.Lock()
	if !canTransition(c.state.Phase, next.Phase) {
		c.mu.Unlock()
		return
	}
	c.state = next
	handlers := append([]func(State){}, c.stateHandlers...)
	c.mu.Unlock()

	c.logger.Debug().Str("state", next.String()).Msg("push channel state")
	for _, h := range handlers {
		h(next)
	}
}

func (c *Channel) deliver(ev protocol.InboundEvent, cur Cursor) {
	c.mu.Lock()
	h := c.handler
	closing := c.closing
	c.mu.Unlock()
	if closing {
		return
	}
	if h == nil {
		c.logger.Warn().Str("type", string(ev.InboundType())).Uint64("seq", cur.Seq).Msg("no event handler registered, dropping event")
		return
	}
	h(ev)
}

// Send writes one outbound frame and reports whether the channel was open. Nothing is
// queued; a false return is the caller's to react to.
func (c *Channel) Send(ev protocol.OutboundEvent) bool {
	c.mu.Lock()
	phase := c.state.Phase
	conn := c.conn
	c.mu.Unlock()
	if phase != PhaseOpen || conn == nil {
		c.logger.Debug().Str("state", phase.String()).Msg("send attempted while push channel not open")
		return false
	}

	b, err := protocol.EncodeOutbound(ev)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to encode outbound event")
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		c.logger.Warn().Err(err).Str("event", string(ev.OutboundType())).Msg("push channel write failed")
		return false
	}
	c.logger.Debug().Str("event", string(ev.OutboundType())).Msg("sent outbound event")
	return true
}

// Close releases the connection. It is safe to call on every exit path, more than
// once, and before Open.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closing = true
		conn := c.conn
		cancel := c.cancel
		disp := c.disp
		done := c.done
		c.mu.Unlock()

		if disp != nil {
			if err := disp.close(); err != nil {
				c.logger.Warn().Err(err).Msg("dispatcher close failed")
			}
		}
		if conn != nil {
			c.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			c.writeMu.Unlock()
			_ = conn.Close()
		}
		if cancel != nil {
			cancel()
		}
		if done != nil {
			<-done
		}
		if disp != nil {
			disp.wait()
		}
		c.transition(closedByClient())
		c.logger.Debug().Msg("push channel released")
	})
	return nil
}
