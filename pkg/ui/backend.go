package ui

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chaichat/pkg/orchestrator"
	"github.com/go-go-golems/chaichat/pkg/payment"
	"github.com/go-go-golems/chaichat/pkg/pushchannel"
	"github.com/go-go-golems/chaichat/pkg/session"
	"github.com/go-go-golems/chaichat/pkg/transcript"
)

// Session is the part of the orchestrator the UI drives.
type Session interface {
	Start(ctx context.Context) error
	Submit(ctx context.Context, text string) error
	TogglePanel() bool
	HidePanel()
	SessionID() session.ID
	Transcript() []transcript.Entry
	Panel() payment.State
	Connection() pushchannel.State
}

var _ Session = (*orchestrator.Orchestrator)(nil)

// UpdateMsg carries an orchestrator update into the bubbletea loop.
type UpdateMsg struct {
	orchestrator.Update
}

type StartedMsg struct{ Err error }

type SubmitDoneMsg struct{ Err error }

// Backend turns session operations into tea.Cmds. Every call that makes the
// orchestrator emit updates has to leave the event loop goroutine, because the
// updates come back through Program.Send.
type Backend struct {
	ctx      context.Context
	session  Session
	checkout *TerminalCheckout
}

func NewBackend(ctx context.Context, s Session, checkout *TerminalCheckout) *Backend {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Backend{ctx: ctx, session: s, checkout: checkout}
}

func (b *Backend) Start() tea.Cmd {
	return func() tea.Msg {
		return StartedMsg{Err: b.session.Start(b.ctx)}
	}
}

func (b *Backend) Submit(text string) tea.Cmd {
	return func() tea.Msg {
		return SubmitDoneMsg{Err: b.session.Submit(b.ctx, text)}
	}
}

func (b *Backend) TogglePanel() tea.Cmd {
	return func() tea.Msg {
		b.session.TogglePanel()
		return nil
	}
}

func (b *Backend) HidePanel() tea.Cmd {
	return func() tea.Msg {
		b.session.HidePanel()
		return nil
	}
}

// ConfirmPayment plays the checkout provider reporting success.
func (b *Backend) ConfirmPayment() tea.Cmd {
	return func() tea.Msg {
		if b.checkout == nil || !b.checkout.Complete() {
			log.Debug().Str("component", "ui").Msg("no mounted checkout to confirm")
		}
		return nil
	}
}

// Forwarder hands orchestrator updates to a bubbletea program attached later.
// Updates that arrive while no program is attached are dropped; the model seeds
// itself from the session snapshot.
type Forwarder struct {
	mu sync.Mutex
	p  *tea.Program
}

func (f *Forwarder) Attach(p *tea.Program) {
	f.mu.Lock()
	f.p = p
	f.mu.Unlock()
}

func (f *Forwarder) Detach() { f.Attach(nil) }

func (f *Forwarder) Forward(u orchestrator.Update) {
	f.mu.Lock()
	p := f.p
	f.mu.Unlock()
	if p == nil {
		return
	}
	p.Send(UpdateMsg{Update: u})
}
