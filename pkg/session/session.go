// Package session holds the opaque identity that scopes one conversation and its push connection.
package session

import (
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ID identifies a single conversation for the lifetime of one client run.
// It is created once, never mutated and never persisted.
type ID string

var ErrInvalidID = errors.New("invalid session id")

// New returns a fresh random (v4, 122 random bits) identifier.
func New() ID {
	return ID(uuid.NewString())
}

// Parse validates s as a session identifier. Used by the stub backend to reject
// garbage path segments on /ws/{session_id}.
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.Wrap(ErrInvalidID, "empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return "", errors.Wrapf(ErrInvalidID, "%q", s)
	}
	return ID(u.String()), nil
}

func (id ID) String() string { return string(id) }

func (id ID) IsZero() bool { return id == "" }
