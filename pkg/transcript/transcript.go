// Package transcript is the append-only, time-ordered log of chat-visible entries.
//
// Entries come from independent producers (local input, chat replies, pushed agent
// messages, system notices). Each producer only appends, so no entry needs to know
// about any other entry to be inserted correctly.
package transcript

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Origin tags who produced an entry.
type Origin string

const (
	OriginUserInput    Origin = "user_input"
	OriginAgentSync    Origin = "agent_sync"
	OriginAgentPushed  Origin = "agent_pushed"
	OriginSystemNotice Origin = "system_notice"
)

func (o Origin) Valid() bool {
	switch o {
	case OriginUserInput, OriginAgentSync, OriginAgentPushed, OriginSystemNotice:
		return true
	default:
		return false
	}
}

// FromAgent reports whether the entry should be rendered on the assistant side.
func (o Origin) FromAgent() bool {
	return o != OriginUserInput
}

type Entry struct {
	ID        string    `json:"id" yaml:"id"`
	Text      string    `json:"text" yaml:"text"`
	Origin    Origin    `json:"origin" yaml:"origin"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

var (
	ErrMissingID     = errors.New("transcript entry has no id")
	ErrInvalidOrigin = errors.New("transcript entry has an invalid origin")
)

// Listener is called after every successful append, outside the entry lock.
// Listeners see entries in store order and must not append themselves.
type Listener func(Entry)

// Store accumulates entries in insertion order. It never reorders, mutates,
// deduplicates or removes an entry.
type Store struct {
	// order serializes append+notify so listeners observe store order.
	order sync.Mutex

	mu        sync.RWMutex
	entries   []Entry
	listeners []Listener
	ids       *IDGenerator
}

type StoreOption func(*Store)

// WithIDGenerator replaces the generator Add draws ids from.
func WithIDGenerator(g *IDGenerator) StoreOption {
	return func(s *Store) {
		if g != nil {
			s.ids = g
		}
	}
}

func NewStore(opts ...StoreOption) *Store {
	s := &Store{ids: NewIDGenerator()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Listen registers l for future appends.
func (s *Store) Listen(l Listener) {
	if s == nil || l == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// Add assigns the next id and appends a new entry. Ids increase in store order.
func (s *Store) Add(origin Origin, text string) (Entry, error) {
	if s == nil {
		return Entry{}, errors.New("transcript store is nil")
	}
	if !origin.Valid() {
		return Entry{}, errors.Wrapf(ErrInvalidOrigin, "%q", origin)
	}
	return s.insert(Entry{Text: text, Origin: origin}, true), nil
}

// Append stores e at the end of the log. The caller assigns the id.
func (s *Store) Append(e Entry) error {
	if s == nil {
		return errors.New("transcript store is nil")
	}
	if e.ID == "" {
		return ErrMissingID
	}
	if !e.Origin.Valid() {
		return errors.Wrapf(ErrInvalidOrigin, "%q", e.Origin)
	}
	s.insert(e, false)
	return nil
}

func (s *Store) insert(e Entry, assignID bool) Entry {
	s.order.Lock()
	defer s.order.Unlock()

	s.mu.Lock()
	if assignID {
		e.ID = s.ids.Next()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	s.entries = append(s.entries, e)
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	for _, l := range listeners {
		l(e)
	}
	return e
}

// All returns a snapshot. Later appends do not change a snapshot already returned.
func (s *Store) All() []Entry {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Entry(nil), s.entries...)
}

func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// CountOrigin returns how many entries carry origin o.
func (s *Store) CountOrigin(o Origin) int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.entries {
		if e.Origin == o {
			n++
		}
	}
	return n
}
