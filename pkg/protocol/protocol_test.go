package protocol

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestDecodeInboundAgentMessage(t *testing.T) {
	ev, err := DecodeInbound([]byte(`{"type":"agent_message","ai_message":"hi there"}`))
	require.NoError(t, err)
	require.Equal(t, AgentMessage{Text: "hi there"}, ev)
}

func TestDecodeInboundPaymentIntent(t *testing.T) {
	ev, err := DecodeInbound([]byte(`{"type":"payment_intent_created","client_secret":"sec_123"}`))
	require.NoError(t, err)
	require.Equal(t, PaymentIntentCreated{ClientSecret: "sec_123"}, ev)

	ev, err = DecodeInbound([]byte(`{"type":"payment_intent_created","client_secret":"sec_1","paypal_order_id":"PP-9"}`))
	require.NoError(t, err)
	require.Equal(t, "PP-9", ev.(PaymentIntentCreated).PayPalOrderID)
}

func TestDecodeInboundRejections(t *testing.T) {
	cases := []struct {
		name string
		in   string
		kind error
	}{
		{"unknown", `{"type":"unknown_event"}`, ErrUnknownType},
		{"no type", `{"ai_message":"x"}`, ErrMissingType},
		{"not json", `{"type":`, ErrMalformedFrame},
		{"array", `[1,2]`, ErrMalformedFrame},
		{"empty agent text", `{"type":"agent_message","ai_message":"  "}`, ErrMissingField},
		{"no secret", `{"type":"payment_intent_created"}`, ErrMissingField},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := DecodeInbound([]byte(tc.in))
			require.Nil(t, ev)
			require.True(t, errors.Is(err, tc.kind), "got %v", err)
			var pe *ProtocolError
			require.True(t, errors.As(err, &pe))
		})
	}
}

func TestEncodeOutboundPaymentComplete(t *testing.T) {
	b, err := EncodeOutbound(PaymentComplete{Status: PaymentStatusSuccess})
	require.NoError(t, err)
	require.JSONEq(t, `{"event":"payment_complete","status":"success"}`, string(b))

	b, err = EncodeOutbound(PaymentComplete{})
	require.NoError(t, err)
	require.JSONEq(t, `{"event":"payment_complete","status":"success"}`, string(b))
}

func TestEncodeInboundMatchesWireFormat(t *testing.T) {
	b, err := EncodeInbound(PaymentIntentCreated{ClientSecret: "sec_123"})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"payment_intent_created","client_secret":"sec_123"}`, string(b))

	b, err = EncodeInbound(AgentMessage{Text: "yo"})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"agent_message","ai_message":"yo"}`, string(b))
}

func TestDecodeOutbound(t *testing.T) {
	ev, err := DecodeOutbound([]byte(`{"event":"payment_complete","status":"success"}`))
	require.NoError(t, err)
	require.Equal(t, PaymentComplete{Status: PaymentStatusSuccess}, ev)

	_, err = DecodeOutbound([]byte(`{"event":"refund"}`))
	require.True(t, errors.Is(err, ErrUnknownType))
}
