// Package orchestrator composes one chat session: it owns the session id and the push
// channel, feeds chat replies and pushed events into the transcript, and routes payment
// intents to the payment controller.
//
// Two producers write into the transcript independently: Submit (the request/response
// chat call) and the push channel dispatcher. Neither waits for the other.
package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chaichat/pkg/chatapi"
	"github.com/go-go-golems/chaichat/pkg/payment"
	"github.com/go-go-golems/chaichat/pkg/protocol"
	"github.com/go-go-golems/chaichat/pkg/pushchannel"
	"github.com/go-go-golems/chaichat/pkg/session"
	"github.com/go-go-golems/chaichat/pkg/transcript"
)

var (
	ErrBusy           = errors.New("a chat request is already in flight")
	ErrClosed         = errors.New("session is closed")
	ErrAlreadyStarted = errors.New("session already started")
)

// ChatSender is the request/response half of the backend. *chatapi.Client implements it.
type ChatSender interface {
	Send(ctx context.Context, id session.ID, text string) (chatapi.Reply, error)
}

type Config struct {
	PushChannel pushchannel.Config
	// WelcomeDelay is how long after Start the welcome notice is appended.
	WelcomeDelay time.Duration
	// WelcomeMessage is skipped when empty.
	WelcomeMessage string
}

type UpdateKind int

const (
	UpdateEntry UpdateKind = iota
	UpdatePanel
	UpdateConnection
	UpdateBusy
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateEntry:
		return "entry"
	case UpdatePanel:
		return "panel"
	case UpdateConnection:
		return "connection"
	case UpdateBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// Update tells a renderer that something changed. Only the field matching Kind is set.
type Update struct {
	Kind       UpdateKind
	Entry      transcript.Entry
	Panel      payment.State
	Connection pushchannel.State
	Busy       bool
}

type Option func(*Orchestrator)

func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithCheckout sets the external payment widget mounted when an intent arrives.
func WithCheckout(co payment.Checkout) Option {
	return func(o *Orchestrator) { o.checkout = co }
}

// WithUpdateHandler registers the renderer callback. It is called from several
// goroutines and must not block or call Close.
func WithUpdateHandler(f func(Update)) Option {
	return func(o *Orchestrator) { o.onUpdate = f }
}

// WithSessionID replaces the generated session id.
func WithSessionID(id session.ID) Option {
	return func(o *Orchestrator) {
		if !id.IsZero() {
			o.id = id
		}
	}
}

// WithPushChannelOptions passes extra options to the push channel, after the logger.
func WithPushChannelOptions(opts ...pushchannel.Option) Option {
	return func(o *Orchestrator) { o.channelOpts = append(o.channelOpts, opts...) }
}

type Orchestrator struct {
	cfg         Config
	chat        ChatSender
	logger      zerolog.Logger
	checkout    payment.Checkout
	onUpdate    func(Update)
	channelOpts []pushchannel.Option

	id      session.ID
	store   *transcript.Store
	channel *pushchannel.Channel
	payment *payment.Controller

	mu      sync.Mutex
	started bool
	closed  bool
	busy    bool
	welcome *time.Timer
}

func New(cfg Config, chat ChatSender, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:    cfg,
		chat:   chat,
		logger: log.Logger,
		id:     session.New(),
		store:  transcript.NewStore(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With().Str("component", "orchestrator").Str("session_id", o.id.String()).Logger()

	chOpts := append([]pushchannel.Option{pushchannel.WithLogger(o.logger)}, o.channelOpts...)
	o.channel = pushchannel.New(cfg.PushChannel, chOpts...)

	payOpts := []payment.Option{
		payment.WithLogger(o.logger),
		payment.WithOnChange(func(st payment.State) {
			o.emit(Update{Kind: UpdatePanel, Panel: st})
		}),
	}
	if o.checkout != nil {
		payOpts = append(payOpts, payment.WithCheckout(o.checkout))
	}
	o.payment = payment.NewController(payment.NotifierFunc(o.notice), o.channel, payOpts...)

	o.store.Listen(func(e transcript.Entry) {
		o.emit(Update{Kind: UpdateEntry, Entry: e})
	})
	o.channel.OnEvent(o.dispatch)
	o.channel.OnStateChange(func(st pushchannel.State) {
		o.emit(Update{Kind: UpdateConnection, Connection: st})
	})
	return o
}

// Start opens the push channel and schedules the welcome notice. A push channel that
// fails to connect is reported as a connection update; chat keeps working.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.started {
		o.mu.Unlock()
		return ErrAlreadyStarted
	}
	o.started = true
	if o.cfg.WelcomeMessage != "" {
		o.welcome = time.AfterFunc(o.cfg.WelcomeDelay, o.sayWelcome)
	}
	o.mu.Unlock()

	o.logger.Info().Msg("session starting")
	if err := o.channel.Open(ctx, o.id); err != nil {
		return errors.Wrap(err, "open push channel")
	}
	return nil
}

// Close releases the push channel. It is safe to call more than once and before Start.
// An outstanding Submit resolves afterwards and its result is discarded.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	if o.welcome != nil {
		o.welcome.Stop()
	}
	o.mu.Unlock()

	err := o.channel.Close()
	o.logger.Info().Msg("session closed")
	return err
}

// Submit records the user's text, sends it to the backend and records the reply. A
// failed call is recorded as a system notice and also returned. Only one call may be
// in flight; a second one returns ErrBusy without touching the network.
func (o *Orchestrator) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return chatapi.ErrEmptyMessage
	}
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.busy {
		o.mu.Unlock()
		return ErrBusy
	}
	o.busy = true
	o.mu.Unlock()
	o.emit(Update{Kind: UpdateBusy, Busy: true})

	o.append(transcript.OriginUserInput, text)
	reply, err := o.chat.Send(ctx, o.id, text)

	o.mu.Lock()
	o.busy = false
	closed := o.closed
	o.mu.Unlock()
	if closed {
		o.logger.Debug().Err(err).Msg("discarding chat result after close")
		return ErrClosed
	}

	if err != nil {
		o.logger.Warn().Err(err).Str("kind", string(chatapi.KindOf(err))).Msg("chat request failed")
		o.append(transcript.OriginSystemNotice, NoticeFor(err))
	} else {
		o.append(transcript.OriginAgentSync, reply.Text)
	}
	o.emit(Update{Kind: UpdateBusy, Busy: false})
	return err
}

func (o *Orchestrator) dispatch(ev protocol.InboundEvent) {
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		o.logger.Debug().Str("type", string(ev.InboundType())).Msg("dropping pushed event after close")
		return
	}
	switch e := ev.(type) {
	case protocol.AgentMessage:
		o.append(transcript.OriginAgentPushed, e.Text)
	case protocol.PaymentIntentCreated:
		if !o.payment.OnIntent(payment.Intent{ClientSecret: e.ClientSecret, PayPalOrderID: e.PayPalOrderID}) {
			o.logger.Debug().Msg("payment intent ignored, panel already opened")
		}
	default:
		o.logger.Warn().Str("type", string(ev.InboundType())).Msg("no route for inbound event")
	}
}

func (o *Orchestrator) sayWelcome() {
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return
	}
	o.append(transcript.OriginSystemNotice, o.cfg.WelcomeMessage)
}

func (o *Orchestrator) notice(text string) {
	o.append(transcript.OriginSystemNotice, text)
}

func (o *Orchestrator) append(origin transcript.Origin, text string) {
	if _, err := o.store.Add(origin, text); err != nil {
		o.logger.Error().Err(err).Str("origin", string(origin)).Msg("transcript append failed")
	}
}

func (o *Orchestrator) emit(u Update) {
	if o.onUpdate != nil {
		o.onUpdate(u)
	}
}

func (o *Orchestrator) SessionID() session.ID { return o.id }

// Transcript returns a snapshot of every entry so far.
func (o *Orchestrator) Transcript() []transcript.Entry { return o.store.All() }

func (o *Orchestrator) Panel() payment.State { return o.payment.State() }

func (o *Orchestrator) Connection() pushchannel.State { return o.channel.State() }

func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.busy
}

func (o *Orchestrator) TogglePanel() bool { return o.payment.Toggle() }

func (o *Orchestrator) ShowPanel() { o.payment.Show() }

func (o *Orchestrator) HidePanel() { o.payment.Hide() }

// CompletePayment reports checkout success as the external widget would.
func (o *Orchestrator) CompletePayment() bool { return o.payment.OnExternalComplete() }
