package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chaichat/pkg/chatapi"
	"github.com/go-go-golems/chaichat/pkg/orchestrator"
	"github.com/go-go-golems/chaichat/pkg/payment"
	"github.com/go-go-golems/chaichat/pkg/pushchannel"
	"github.com/go-go-golems/chaichat/pkg/transcript"
)

type ModelOption func(*Model)

func WithTitle(title string) ModelOption {
	return func(m *Model) { m.title = title }
}

// WithMarkdownStyle selects the glamour style for agent text; "" renders plain text.
func WithMarkdownStyle(style string) ModelOption {
	return func(m *Model) { m.mdStyle = style }
}

type Model struct {
	backend *Backend
	title   string
	mdStyle string

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	md       *markdown

	entries []transcript.Entry
	panel   payment.State
	conn    pushchannel.State
	busy    bool
	lastErr error

	width, height int
	ready         bool
}

func NewModel(backend *Backend, opts ...ModelOption) Model {
	ti := textinput.New()
	ti.Placeholder = "Type a message…"
	ti.Prompt = "› "
	ti.CharLimit = 2000
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("63")).Bold(true)

	m := Model{
		backend:  backend,
		title:    "Chai Corner",
		mdStyle:  "dark",
		input:    ti,
		viewport: viewport.New(80, 10),
		spinner:  sp,
		md:       &markdown{},
	}
	for _, opt := range opts {
		opt(&m)
	}
	s := backend.session
	m.entries = s.Transcript()
	m.panel = s.Panel()
	m.conn = s.Connection()
	m.refresh()
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.backend.Start())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch ev := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = ev.Width, ev.Height
		m.ready = true
		m.md = newMarkdown(ev.Width-4, m.mdStyle)
		m.input.Width = ev.Width - 4
		m.layout()
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(ev)

	case UpdateMsg:
		m.apply(ev.Update)
		return m, nil

	case StartedMsg:
		if ev.Err != nil {
			m.lastErr = ev.Err
			log.Error().Err(ev.Err).Str("component", "ui").Msg("session start failed")
		}
		return m, nil

	case SubmitDoneMsg:
		m.busy = false
		// chat failures are already in the transcript as notices
		if ev.Err != nil && chatapi.KindOf(ev.Err) == "" {
			m.lastErr = ev.Err
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch k.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc":
		if m.panel.Visible {
			return m, m.backend.HidePanel()
		}
		return m, tea.Quit
	case "ctrl+t":
		if !m.panel.ToggleAvailable() {
			return m, nil
		}
		return m, m.backend.TogglePanel()
	case "ctrl+o":
		if m.panel.Phase != payment.PhaseOpen || !m.panel.Visible {
			return m, nil
		}
		return m, m.backend.ConfirmPayment()
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(k)
		return m, cmd
	case "enter":
		text := strings.TrimSpace(m.input.Value())
		if text == "" || m.busy {
			return m, nil
		}
		m.busy = true
		m.lastErr = nil
		m.input.Reset()
		m.layout()
		return m, m.backend.Submit(text)
	}

	if m.busy {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(k)
	return m, cmd
}

func (m *Model) apply(u orchestrator.Update) {
	switch u.Kind {
	case orchestrator.UpdateEntry:
		m.entries = append(m.entries, u.Entry)
		m.refresh()
	case orchestrator.UpdatePanel:
		m.panel = u.Panel
		m.layout()
	case orchestrator.UpdateConnection:
		m.conn = u.Connection
	case orchestrator.UpdateBusy:
		m.busy = u.Busy
	}
}

func (m *Model) layout() {
	if !m.ready {
		return
	}
	h := m.height - lipgloss.Height(m.header()) - lipgloss.Height(m.footer())
	if m.panel.Visible {
		h -= lipgloss.Height(renderPanel(m.panel))
	}
	if h < 3 {
		h = 3
	}
	m.viewport.Width = m.width
	m.viewport.Height = h
	m.viewport.GotoBottom()
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.transcriptView())
	m.viewport.GotoBottom()
}

func (m Model) transcriptView() string {
	lines := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		lines = append(lines, renderEntry(e, m.md))
	}
	return strings.Join(lines, "\n")
}

func (m Model) header() string {
	return headerStyle.Render(m.title) + "  " + renderConnection(m.conn)
}

func (m Model) footer() string {
	var status string
	switch {
	case m.busy:
		status = m.spinner.View() + " thinking…"
	case m.lastErr != nil:
		status = errorStyle.Render(m.lastErr.Error())
	case m.panel.Visible:
		status = dimStyle.Render("enter send · esc hide checkout")
	default:
		status = dimStyle.Render("enter send · esc quit")
	}
	if m.panel.ToggleAvailable() {
		status += dimStyle.Render(" · ctrl+t checkout")
	}
	return m.input.View() + "\n" + statusBarSty.Render(status)
}

func (m Model) View() string {
	parts := []string{m.header(), m.viewport.View()}
	if m.panel.Visible {
		parts = append(parts, renderPanel(m.panel))
	}
	parts = append(parts, m.footer())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// Entries is what the model currently shows.
func (m Model) Entries() []transcript.Entry {
	return append([]transcript.Entry(nil), m.entries...)
}
