package ui

import (
	"context"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chaichat/pkg/orchestrator"
	"github.com/go-go-golems/chaichat/pkg/payment"
	"github.com/go-go-golems/chaichat/pkg/pushchannel"
	"github.com/go-go-golems/chaichat/pkg/session"
	"github.com/go-go-golems/chaichat/pkg/transcript"
)

type fakeSession struct {
	mu        sync.Mutex
	id        session.ID
	entries   []transcript.Entry
	panel     payment.State
	submitted []string
	toggles   int
	hides     int
}

func (f *fakeSession) Start(context.Context) error { return nil }

func (f *fakeSession) Submit(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, text)
	return nil
}

func (f *fakeSession) TogglePanel() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toggles++
	return true
}

func (f *fakeSession) HidePanel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hides++
}

func (f *fakeSession) SessionID() session.ID { return f.id }
func (f *fakeSession) Transcript() []transcript.Entry { return f.entries }
func (f *fakeSession) Panel() payment.State { return f.panel }
func (f *fakeSession) Connection() pushchannel.State { return pushchannel.State{} }

func newTestModel(s *fakeSession) Model {
	return NewModel(NewBackend(context.Background(), s, NewTerminalCheckout()), WithMarkdownStyle(""))
}

func typeText(m Model, text string) Model {
	for _, r := range text {
		next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
		m = next.(Model)
	}
	return m
}

func TestModelSeedsFromSessionSnapshot(t *testing.T) {
	s := &fakeSession{id: session.New(), entries: []transcript.Entry{
		{ID: "1", Text: "Welcome!", Origin: transcript.OriginSystemNotice},
	}}
	m := newTestModel(s)
	require.Len(t, m.Entries(), 1)
	require.Contains(t, m.transcriptView(), "Welcome!")
}

func TestModelEnterSubmitsAndDisablesInput(t *testing.T) {
	s := &fakeSession{id: session.New()}
	m := typeText(newTestModel(s), "hello")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	require.NotNil(t, cmd)
	require.True(t, m.busy)
	require.Equal(t, "", m.input.Value())

	require.Equal(t, SubmitDoneMsg{}, cmd())
	require.Equal(t, []string{"hello"}, s.submitted)

	// typing is ignored while a call is outstanding
	m = typeText(m, "x")
	require.Equal(t, "", m.input.Value())
	next, cmd = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.Nil(t, cmd)
	m = next.(Model)

	next, _ = m.Update(SubmitDoneMsg{})
	m = next.(Model)
	require.False(t, m.busy)
}

func TestModelIgnoresBlankSubmit(t *testing.T) {
	s := &fakeSession{id: session.New()}
	m := typeText(newTestModel(s), "   ")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.Nil(t, cmd)
}

func TestModelAppliesUpdates(t *testing.T) {
	s := &fakeSession{id: session.New()}
	m := newTestModel(s)

	next, _ := m.Update(UpdateMsg{Update: orchestrator.Update{
		Kind:  orchestrator.UpdateEntry,
		Entry: transcript.Entry{ID: "1", Text: "Your tea is ready", Origin: transcript.OriginAgentPushed},
	}})
	m = next.(Model)
	require.Contains(t, m.transcriptView(), "Your tea is ready")

	next, _ = m.Update(UpdateMsg{Update: orchestrator.Update{
		Kind:  orchestrator.UpdatePanel,
		Panel: payment.State{Phase: payment.PhaseOpen, Visible: true, Intent: payment.Intent{ClientSecret: "cs_test_abcdef123"}},
	}})
	m = next.(Model)
	require.True(t, m.panel.Visible)
	view := m.View()
	require.Contains(t, view, "Checkout")
	require.Contains(t, view, "cs_test_")
	require.NotContains(t, view, "abcdef123")

	next, _ = m.Update(UpdateMsg{Update: orchestrator.Update{Kind: orchestrator.UpdateBusy, Busy: true}})
	m = next.(Model)
	require.True(t, m.busy)
	require.True(t, strings.Contains(m.footer(), "thinking"))
}

func TestModelToggleOnlyAfterIntent(t *testing.T) {
	s := &fakeSession{id: session.New()}
	m := newTestModel(s)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlT})
	require.Nil(t, cmd)

	m.panel = payment.State{Phase: payment.PhaseCompleted}
	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyCtrlT})
	require.NotNil(t, cmd)
	cmd()
	require.Equal(t, 1, s.toggles)
}

func TestModelConfirmPaymentCallsCheckout(t *testing.T) {
	s := &fakeSession{id: session.New()}
	co := NewTerminalCheckout()
	m := NewModel(NewBackend(context.Background(), s, co), WithMarkdownStyle(""))

	calls := 0
	require.NoError(t, co.Mount(payment.Intent{ClientSecret: "sec_123"}, func() { calls++ }))

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlO})
	require.Nil(t, cmd, "panel not open yet")

	m.panel = payment.State{Phase: payment.PhaseOpen, Visible: true}
	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyCtrlO})
	require.NotNil(t, cmd)
	cmd()
	require.Equal(t, 1, calls)
}

func TestModelEscHidesVisiblePanelBeforeQuitting(t *testing.T) {
	s := &fakeSession{id: session.New()}
	m := newTestModel(s)
	m.panel = payment.State{Phase: payment.PhaseOpen, Visible: true}
	require.Contains(t, m.footer(), "esc hide checkout")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
	require.Nil(t, cmd())
	require.Equal(t, 1, s.hides)

	m.panel.Visible = false
	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
	require.Equal(t, tea.Quit(), cmd())
	require.Equal(t, 1, s.hides)
}
