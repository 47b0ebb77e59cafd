package orchestrator

import (
	"github.com/pkg/errors"

	"github.com/go-go-golems/chaichat/pkg/chatapi"
	"github.com/go-go-golems/chaichat/pkg/payment"
	"github.com/go-go-golems/chaichat/pkg/pushchannel"
)

const (
	NetworkNotice       = "Sorry, I couldn't connect to the server"
	BackendNoticePrefix = "Sorry, something went wrong: "
)

// NoticeFor turns a failed chat call into the text shown in the transcript.
func NoticeFor(err error) string {
	var ce *chatapi.Error
	if errors.As(err, &ce) && ce.Kind == chatapi.KindBackend {
		msg := ce.Message
		if msg == "" {
			msg = "unknown error"
		}
		return BackendNoticePrefix + msg
	}
	return NetworkNotice
}

// Diagnostics is a snapshot of the failures the session recovered from.
type Diagnostics struct {
	Connection        pushchannel.State
	Push              pushchannel.Stats
	PaymentsDelivered int
	HandshakeFailures []*payment.HandshakeError
	Entries           int
}

func (o *Orchestrator) Diagnostics() Diagnostics {
	return Diagnostics{
		Connection:        o.channel.State(),
		Push:              o.channel.Stats(),
		PaymentsDelivered: o.payment.Delivered(),
		HandshakeFailures: o.payment.Failures(),
		Entries:           o.store.Len(),
	}
}
