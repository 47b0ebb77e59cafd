package protocol

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrMissingType    = errors.New("frame has no type")
	ErrUnknownType    = errors.New("unknown frame type")
	ErrMissingField   = errors.New("frame is missing a required field")
)

// ProtocolError describes one inbound frame that was rejected.
type ProtocolError struct {
	Kind  error
	Type  InboundType
	Cause error
}

func newProtocolError(kind error, typ InboundType, cause error) *ProtocolError {
	return &ProtocolError{Kind: kind, Type: typ, Cause: cause}
}

func (e *ProtocolError) Error() string {
	msg := e.Kind.Error()
	if e.Type != "" {
		msg = fmt.Sprintf("%s %q", msg, e.Type)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Is matches the sentinel kind, so errors.Is(err, ErrUnknownType) works.
func (e *ProtocolError) Is(target error) bool {
	return target == e.Kind
}

func (e *ProtocolError) Unwrap() error { return e.Cause }
