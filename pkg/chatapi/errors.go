package chatapi

import (
	"fmt"

	"github.com/pkg/errors"
)

var ErrEmptyMessage = errors.New("message is empty")

// Kind distinguishes transport failures from backend rejections.
type Kind string

const (
	KindNetwork Kind = "network"
	KindBackend Kind = "backend"
)

// Error is the failure of one chat call. A failed call is terminal; there is no retry.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindBackend:
		if e.Status != 0 {
			return fmt.Sprintf("chat backend error (%d): %s", e.Status, e.Message)
		}
		return fmt.Sprintf("chat backend error: %s", e.Message)
	default:
		return fmt.Sprintf("chat network error: %v", e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of a chat error, or "" if err is not one.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}
