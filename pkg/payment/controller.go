// Package payment drives the checkout panel and the one-shot completion handshake
// that reports a finished payment back over the push channel.
//
// The logical phase (Closed, Open, Completed) and panel visibility are independent:
// a completed panel can be shown again for review without re-firing the handshake.
package payment

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chaichat/pkg/protocol"
)

const ConfirmingNotice = "Please wait while I confirm your payment."

type Phase int

const (
	PhaseClosed Phase = iota
	PhaseOpen
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseClosed:
		return "closed"
	case PhaseOpen:
		return "open"
	case PhaseCompleted:
		return "completed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Intent is what the external checkout widget needs to render.
type Intent struct {
	ClientSecret  string
	PayPalOrderID string
}

// State is a snapshot for renderers.
type State struct {
	Phase   Phase
	Visible bool
	Intent  Intent
}

// ToggleAvailable reports whether the user can toggle the panel at all; the toggle
// only appears once an intent has arrived.
func (s State) ToggleAvailable() bool {
	return s.Phase != PhaseClosed
}

// Notifier appends a system notice to the transcript.
type Notifier interface {
	Notice(text string)
}

// Sender delivers an outbound event and reports whether the channel was open.
type Sender interface {
	Send(ev protocol.OutboundEvent) bool
}

// Checkout is the external payment widget. It renders its own UI for the intent and
// calls onComplete when the provider reports success. Call count is not trusted.
type Checkout interface {
	Mount(intent Intent, onComplete func()) error
}

type NotifierFunc func(text string)

func (f NotifierFunc) Notice(text string) { f(text) }

type SenderFunc func(ev protocol.OutboundEvent) bool

func (f SenderFunc) Send(ev protocol.OutboundEvent) bool { return f(ev) }

// HandshakeError records an outbound confirmation attempted while the channel was
// not open. It does not roll back the user-visible notice; the backend reconciles
// the payment through its provider webhook.
type HandshakeError struct {
	Event protocol.OutboundType
	At    time.Time
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("%s not delivered: push channel not open", e.Event)
}

type Option func(*Controller)

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

func WithCheckout(co Checkout) Option {
	return func(c *Controller) { c.checkout = co }
}

// WithOnChange registers a callback invoked after every state change, outside the lock.
func WithOnChange(f func(State)) Option {
	return func(c *Controller) { c.onChange = f }
}

type Controller struct {
	notifier Notifier
	sender   Sender
	checkout Checkout
	onChange func(State)
	logger   zerolog.Logger

	mu       sync.Mutex
	phase    Phase
	visible  bool
	intent   Intent
	sent     int
	failures []*HandshakeError
}

func NewController(notifier Notifier, sender Sender, opts ...Option) *Controller {
	c := &Controller{
		notifier: notifier,
		sender:   sender,
		logger:   log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "payment").Logger()
	return c
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	return State{Phase: c.phase, Visible: c.visible, Intent: c.intent}
}

// OnIntent opens the panel for a new payment intent. Only the first transition out
// of Closed has effect; it returns whether it did. No transcript entry is added.
func (c *Controller) OnIntent(intent Intent) bool {
	c.mu.Lock()
	if c.phase != PhaseClosed {
		phase := c.phase
		c.mu.Unlock()
		c.logger.Info().Str("phase", phase.String()).Msg("ignoring payment intent, panel already opened")
		return false
	}
	c.phase = PhaseOpen
	c.visible = true
	c.intent = intent
	st := c.stateLocked()
	c.mu.Unlock()

	c.logger.Info().Bool("paypal", intent.PayPalOrderID != "").Msg("payment intent received, opening panel")
	if c.checkout != nil {
		if err := c.checkout.Mount(intent, c.CompletionCallback()); err != nil {
			c.logger.Error().Err(err).Msg("failed to mount checkout widget")
		}
	}
	c.changed(st)
	return true
}

// Toggle flips visibility without touching the phase. It is a no-op until an
// intent has arrived. Returns the new visibility.
func (c *Controller) Toggle() bool {
	c.mu.Lock()
	if c.phase == PhaseClosed {
		c.mu.Unlock()
		return false
	}
	c.visible = !c.visible
	st := c.stateLocked()
	c.mu.Unlock()
	c.changed(st)
	return st.Visible
}

func (c *Controller) Show() { c.setVisible(true) }

// Hide models the close button and backdrop click.
func (c *Controller) Hide() { c.setVisible(false) }

func (c *Controller) setVisible(v bool) {
	c.mu.Lock()
	if c.phase == PhaseClosed || c.visible == v {
		c.mu.Unlock()
		return
	}
	c.visible = v
	st := c.stateLocked()
	c.mu.Unlock()
	c.changed(st)
}

// OnExternalComplete handles the checkout widget's success callback. The first call
// while Open moves to Completed, appends the confirming notice, hides the panel and
// sends payment_complete. Every other call is a no-op; it returns whether it fired.
func (c *Controller) OnExternalComplete() bool {
	c.mu.Lock()
	if c.phase != PhaseOpen {
		phase := c.phase
		c.mu.Unlock()
		c.logger.Debug().Str("phase", phase.String()).Msg("ignoring checkout completion")
		return false
	}
	c.phase = PhaseCompleted
	c.visible = false
	st := c.stateLocked()
	c.mu.Unlock()

	c.logger.Info().Msg("checkout completed, notifying backend")
	if c.notifier != nil {
		c.notifier.Notice(ConfirmingNotice)
	}

	ev := protocol.PaymentComplete{Status: protocol.PaymentStatusSuccess}
	delivered := c.sender != nil && c.sender.Send(ev)

	c.mu.Lock()
	if delivered {
		c.sent++
	} else {
		c.failures = append(c.failures, &HandshakeError{Event: ev.OutboundType(), At: time.Now()})
	}
	c.mu.Unlock()

	if !delivered {
		c.logger.Error().Msg("push channel not open, payment_complete could not be sent")
	}
	c.changed(st)
	return true
}

// CompletionCallback returns the function handed to the checkout widget.
func (c *Controller) CompletionCallback() func() {
	return func() { c.OnExternalComplete() }
}

// Delivered is the number of payment_complete frames handed to an open channel.
func (c *Controller) Delivered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent
}

// Failures returns the recorded handshake errors.
func (c *Controller) Failures() []*HandshakeError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*HandshakeError(nil), c.failures...)
}

func (c *Controller) changed(st State) {
	if c.onChange != nil {
		c.onChange(st)
	}
}
