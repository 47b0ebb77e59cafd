// Package protocol defines the frames exchanged over the push channel.
//
// Inbound frames (server -> client) are JSON objects discriminated by "type".
// Outbound frames (client -> server) are discriminated by "event".
package protocol

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

type InboundType string

const (
	TypeAgentMessage         InboundType = "agent_message"
	TypePaymentIntentCreated InboundType = "payment_intent_created"
)

type OutboundType string

const (
	EventPaymentComplete OutboundType = "payment_complete"
)

type PaymentStatus string

const (
	PaymentStatusSuccess PaymentStatus = "success"
)

// InboundEvent is implemented only by the types in this package.
type InboundEvent interface {
	InboundType() InboundType
	isInbound()
}

type AgentMessage struct {
	Text string
}

// PaymentIntentCreated authorizes the client to render a checkout surface.
type PaymentIntentCreated struct {
	ClientSecret  string
	PayPalOrderID string
}

func (AgentMessage) InboundType() InboundType         { return TypeAgentMessage }
func (PaymentIntentCreated) InboundType() InboundType { return TypePaymentIntentCreated }
func (AgentMessage) isInbound()                       {}
func (PaymentIntentCreated) isInbound()               {}

// OutboundEvent is implemented only by the types in this package.
type OutboundEvent interface {
	OutboundType() OutboundType
	isOutbound()
}

type PaymentComplete struct {
	Status PaymentStatus
}

func (PaymentComplete) OutboundType() OutboundType { return EventPaymentComplete }
func (PaymentComplete) isOutbound()                {}

// inboundFrame is the union of all inbound wire fields.
type inboundFrame struct {
	Type          InboundType `json:"type"`
	AIMessage     string      `json:"ai_message,omitempty"`
	ClientSecret  string      `json:"client_secret,omitempty"`
	PayPalOrderID string      `json:"paypal_order_id,omitempty"`
}

type outboundFrame struct {
	Event  OutboundType  `json:"event"`
	Status PaymentStatus `json:"status,omitempty"`
}

// DecodeInbound parses one frame. Any shape it does not fully understand yields a
// *ProtocolError; callers log and drop that single frame.
func DecodeInbound(data []byte) (InboundEvent, error) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, newProtocolError(ErrMalformedFrame, "", err)
	}
	switch f.Type {
	case TypeAgentMessage:
		if strings.TrimSpace(f.AIMessage) == "" {
			return nil, newProtocolError(ErrMissingField, f.Type, errors.New("ai_message"))
		}
		return AgentMessage{Text: f.AIMessage}, nil
	case TypePaymentIntentCreated:
		if strings.TrimSpace(f.ClientSecret) == "" {
			return nil, newProtocolError(ErrMissingField, f.Type, errors.New("client_secret"))
		}
		return PaymentIntentCreated{ClientSecret: f.ClientSecret, PayPalOrderID: f.PayPalOrderID}, nil
	case "":
		return nil, newProtocolError(ErrMissingType, "", nil)
	default:
		return nil, newProtocolError(ErrUnknownType, f.Type, nil)
	}
}

// EncodeInbound is the server-side counterpart of DecodeInbound.
func EncodeInbound(ev InboundEvent) ([]byte, error) {
	switch e := ev.(type) {
	case AgentMessage:
		return json.Marshal(inboundFrame{Type: TypeAgentMessage, AIMessage: e.Text})
	case PaymentIntentCreated:
		return json.Marshal(inboundFrame{
			Type:          TypePaymentIntentCreated,
			ClientSecret:  e.ClientSecret,
			PayPalOrderID: e.PayPalOrderID,
		})
	default:
		return nil, errors.Errorf("unsupported inbound event %T", ev)
	}
}

func EncodeOutbound(ev OutboundEvent) ([]byte, error) {
	switch e := ev.(type) {
	case PaymentComplete:
		status := e.Status
		if status == "" {
			status = PaymentStatusSuccess
		}
		return json.Marshal(outboundFrame{Event: EventPaymentComplete, Status: status})
	default:
		return nil, errors.Errorf("unsupported outbound event %T", ev)
	}
}

// DecodeOutbound is used by the backend side of the channel.
func DecodeOutbound(data []byte) (OutboundEvent, error) {
	var f outboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, newProtocolError(ErrMalformedFrame, "", err)
	}
	switch f.Event {
	case EventPaymentComplete:
		return PaymentComplete{Status: f.Status}, nil
	case "":
		return nil, newProtocolError(ErrMissingType, "", nil)
	default:
		return nil, newProtocolError(ErrUnknownType, InboundType(f.Event), nil)
	}
}
