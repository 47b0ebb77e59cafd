package ui

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/go-go-golems/chaichat/pkg/payment"
)

var ErrNoClientSecret = errors.New("payment intent has no client secret")

// TerminalCheckout stands in for the hosted payment widget. The terminal has no
// card form, so the user confirms explicitly and Complete plays the provider's
// success callback.
type TerminalCheckout struct {
	mu         sync.Mutex
	intent     payment.Intent
	onComplete func()
	mounts     int
}

func NewTerminalCheckout() *TerminalCheckout {
	return &TerminalCheckout{}
}

func (c *TerminalCheckout) Mount(intent payment.Intent, onComplete func()) error {
	if intent.ClientSecret == "" {
		return ErrNoClientSecret
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.intent = intent
	c.onComplete = onComplete
	c.mounts++
	return nil
}

func (c *TerminalCheckout) Mounted() (payment.Intent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intent, c.onComplete != nil
}

// Complete fires the success callback. It does not guard against repeats; the
// payment controller does.
func (c *TerminalCheckout) Complete() bool {
	c.mu.Lock()
	cb := c.onComplete
	c.mu.Unlock()
	if cb == nil {
		return false
	}
	cb()
	return true
}

// MaskSecret keeps the prefix of a client secret readable.
func MaskSecret(secret string) string {
	const keep = 8
	if len(secret) <= keep {
		return secret
	}
	return secret[:keep] + "…"
}
