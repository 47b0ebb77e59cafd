// Package stubbackend is a scripted stand-in for the agent/payment backend. It serves
// POST <prefix>/chat and the push channel at <prefix>/ws/{session_id}, and is used by
// the serve-stub command and by end-to-end tests.
package stubbackend

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chaichat/pkg/protocol"
	"github.com/go-go-golems/chaichat/pkg/session"
)

var ErrNoConnection = errors.New("session has no push connection")

// Response is what a Responder wants the backend to do for one chat message.
// A Status outside 2xx turns the call into an error response carrying Error.
type Response struct {
	Reply  string
	Status int
	Error  string
	Push   []protocol.InboundEvent
}

type Responder func(id session.ID, message string) Response

// DefaultResponder echoes messages and opens a checkout when the user asks to pay.
func DefaultResponder(id session.ID, message string) Response {
	lower := strings.ToLower(message)
	if strings.Contains(lower, "pay") || strings.Contains(lower, "checkout") {
		return Response{
			Reply: "Great, I've opened the checkout panel for you.",
			Push: []protocol.InboundEvent{protocol.PaymentIntentCreated{
				ClientSecret: "cs_test_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
			}},
		}
	}
	return Response{Reply: "You said: " + message}
}

const PaymentConfirmedText = "Payment received! Your order is confirmed."

type Option func(*Server)

func WithResponder(r Responder) Option {
	return func(s *Server) {
		if r != nil {
			s.responder = r
		}
	}
}

func WithPrefix(prefix string) Option {
	return func(s *Server) { s.prefix = "/" + strings.Trim(prefix, "/") }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) { s.idleTimeout = d }
}

// WithBus routes pushes through b instead of writing them directly. Start must be
// called to deliver frames from the bus to local connections.
func WithBus(b *Bus) Option {
	return func(s *Server) { s.bus = b }
}

// WithConfirmPayments controls whether a received payment_complete is answered
// with an agent_message.
func WithConfirmPayments(v bool) Option {
	return func(s *Server) { s.confirmPayments = v }
}

type Server struct {
	prefix          string
	responder       Responder
	logger          zerolog.Logger
	upgrader        websocket.Upgrader
	idleTimeout     time.Duration
	confirmPayments bool
	bus             *Bus

	mu       sync.Mutex
	pools    map[session.ID]*ConnectionPool
	outbound map[session.ID][]protocol.OutboundEvent
	chats    map[session.ID][]string
	waiters  []chan struct{}
}

func New(opts ...Option) *Server {
	s := &Server{
		prefix:          "/api",
		responder:       DefaultResponder,
		logger:          log.Logger,
		confirmPayments: true,
		pools:           map[session.ID]*ConnectionPool{},
		outbound:        map[session.ID][]protocol.OutboundEvent{},
		chats:           map[session.ID][]string{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.prefix == "/" {
		s.prefix = ""
	}
	s.logger = s.logger.With().Str("component", "stubbackend").Logger()
	s.upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+s.prefix+"/chat", s.handleChat)
	mux.HandleFunc("GET "+s.prefix+"/ws/{session_id}", s.handleWS)
	mux.HandleFunc("GET "+s.prefix+"/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}
	id, err := session.Parse(req.SessionID)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "message is empty"})
		return
	}

	s.mu.Lock()
	s.chats[id] = append(s.chats[id], req.Message)
	s.mu.Unlock()

	resp := s.responder(id, req.Message)
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	if status < 200 || status > 299 {
		writeJSON(w, status, map[string]string{"error": resp.Error})
	} else {
		writeJSON(w, status, map[string]string{"response": resp.Reply})
	}
	s.logger.Debug().Str("session_id", id.String()).Int("status", status).Int("push", len(resp.Push)).Msg("chat handled")

	for _, ev := range resp.Push {
		if err := s.Push(id, ev); err != nil {
			s.logger.Warn().Err(err).Str("session_id", id.String()).Msg("push after chat failed")
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id, err := session.Parse(r.PathValue("session_id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	pool := s.pool(id)
	pool.Add(conn)
	s.notify()
	wsLog := s.logger.With().Str("session_id", id.String()).Str("remote", conn.RemoteAddr().String()).Logger()
	wsLog.Info().Msg("push connection attached")

	defer func() {
		pool.Remove(conn)
		s.notify()
		wsLog.Info().Msg("push connection detached")
	}()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			wsLog.Debug().Err(err).Msg("ws read loop end")
			return
		}
		ev, err := protocol.DecodeOutbound(data)
		if err != nil {
			wsLog.Warn().Err(err).Msg("dropping client frame")
			continue
		}
		s.mu.Lock()
		s.outbound[id] = append(s.outbound[id], ev)
		s.mu.Unlock()
		s.notify()

		if _, ok := ev.(protocol.PaymentComplete); ok && s.confirmPayments {
			if err := s.Push(id, protocol.AgentMessage{Text: PaymentConfirmedText}); err != nil {
				wsLog.Warn().Err(err).Msg("payment confirmation push failed")
			}
		}
	}
}

func (s *Server) pool(id session.ID) *ConnectionPool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pools[id]; ok {
		return p
	}
	var p *ConnectionPool
	p = NewConnectionPool(id.String(), s.idleTimeout, func() { s.forget(id, p) }, s.logger)
	s.pools[id] = p
	return p
}

// forget releases p once it went idle, unless a connection arrived in the meantime
// or the session already has a newer pool.
func (s *Server) forget(id session.ID, p *ConnectionPool) {
	s.mu.Lock()
	if s.pools[id] != p || !p.IsEmpty() {
		s.mu.Unlock()
		return
	}
	delete(s.pools, id)
	s.mu.Unlock()
	s.logger.Debug().Str("session_id", id.String()).Msg("session idle, pool released")
}

// Push sends one inbound event to every connection of the session.
func (s *Server) Push(id session.ID, ev protocol.InboundEvent) error {
	b, err := protocol.EncodeInbound(ev)
	if err != nil {
		return err
	}
	return s.PushRaw(id, b)
}

// PushRaw sends an arbitrary frame; tests use it for malformed and unknown payloads.
// With a bus the frame is published and ErrNoConnection is never reported.
func (s *Server) PushRaw(id session.ID, frame []byte) error {
	if s.bus != nil {
		msg := message.NewMessage(watermill.NewUUID(), frame)
		msg.Metadata.Set(metaSessionID, id.String())
		return errors.Wrap(s.bus.Publisher.Publish(pushTopic, msg), "publish push frame")
	}
	return s.deliver(id, frame)
}

func (s *Server) deliver(id session.ID, frame []byte) error {
	s.mu.Lock()
	p := s.pools[id]
	s.mu.Unlock()
	if p == nil || p.Broadcast(frame) == 0 {
		return errors.Wrap(ErrNoConnection, id.String())
	}
	return nil
}

// Start subscribes to the bus and delivers its frames to local connections until
// ctx ends. It is a no-op without a bus.
func (s *Server) Start(ctx context.Context) error {
	if s.bus == nil {
		return nil
	}
	ch, err := s.bus.Subscriber.Subscribe(ctx, pushTopic)
	if err != nil {
		return errors.Wrap(err, "subscribe to push bus")
	}
	go func() {
		for msg := range ch {
			id, err := session.Parse(msg.Metadata.Get(metaSessionID))
			if err != nil {
				s.logger.Warn().Err(err).Msg("dropping bus frame without session")
				msg.Ack()
				continue
			}
			if err := s.deliver(id, msg.Payload); err != nil {
				s.logger.Debug().Err(err).Msg("bus frame not for this instance")
			}
			msg.Ack()
		}
	}()
	return nil
}

// Disconnect closes every push connection of the session with the given code.
func (s *Server) Disconnect(id session.ID, code int, reason string) {
	s.mu.Lock()
	p := s.pools[id]
	s.mu.Unlock()
	p.CloseAll(code, reason)
	s.notify()
}

func (s *Server) Connections(id session.ID) int {
	s.mu.Lock()
	p := s.pools[id]
	s.mu.Unlock()
	return p.Count()
}

func (s *Server) Outbound(id session.ID) []protocol.OutboundEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.OutboundEvent(nil), s.outbound[id]...)
}

func (s *Server) Messages(id session.ID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.chats[id]...)
}

// Changed returns a channel closed at the next connection or outbound change.
func (s *Server) Changed() <-chan struct{} {
	ch := make(chan struct{})
	s.mu.Lock()
	s.waiters = append(s.waiters, ch)
	s.mu.Unlock()
	return ch
}

func (s *Server) notify() {
	s.mu.Lock()
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
}

// Close drops every push connection.
func (s *Server) Close() {
	s.mu.Lock()
	pools := make([]*ConnectionPool, 0, len(s.pools))
	for _, p := range s.pools {
		pools = append(pools, p)
	}
	s.mu.Unlock()
	for _, p := range pools {
		p.CloseAll(websocket.CloseGoingAway, "server shutting down")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
