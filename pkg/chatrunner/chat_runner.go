package chatrunner

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/chaichat/pkg/chatapi"
	"github.com/go-go-golems/chaichat/pkg/config"
	"github.com/go-go-golems/chaichat/pkg/orchestrator"
	"github.com/go-go-golems/chaichat/pkg/payment"
	"github.com/go-go-golems/chaichat/pkg/pushchannel"
	"github.com/go-go-golems/chaichat/pkg/transcript"
	"github.com/go-go-golems/chaichat/pkg/ui"
)

// UserAgent is sent on the push channel handshake.
const UserAgent = "chaichat"

// RunMode defines how the chat session talks to the user.
type RunMode string

const (
	// RunModeAuto picks the TUI when stdin and stdout are terminals.
	RunModeAuto  RunMode = "auto"
	RunModeTUI   RunMode = "tui"
	RunModePlain RunMode = "plain"
)

// ChatSession holds the validated configuration and runs one conversation.
// It's created by the ChatBuilder.
type ChatSession struct {
	ctx            context.Context
	settings       config.Settings
	mode           RunMode
	uiOptions      []ui.ModelOption
	programOptions []tea.ProgramOption
	input          io.Reader
	output         io.Writer
	dumpPath       string
	logger         zerolog.Logger
}

// Run executes the session in its configured mode and writes the transcript dump,
// if one was requested, once the session is over.
func (cs *ChatSession) Run() error {
	mode := cs.mode
	if mode == RunModeAuto {
		mode = RunModePlain
		if isTerminal(cs.input) && isTerminal(cs.output) {
			mode = RunModeTUI
		}
	}
	cs.logger.Debug().Str("mode", string(mode)).Msg("starting chat session")

	var (
		orch *orchestrator.Orchestrator
		err  error
	)
	switch mode {
	case RunModeTUI:
		orch, err = cs.runTUI()
	case RunModePlain:
		orch, err = cs.runPlain()
	default:
		return errors.Errorf("unknown run mode: %v", mode)
	}
	if orch != nil && cs.dumpPath != "" {
		if dumpErr := transcript.WriteYAMLFile(cs.dumpPath, orch.SessionID().String(), orch.Transcript()); dumpErr != nil {
			cs.logger.Error().Err(dumpErr).Str("path", cs.dumpPath).Msg("failed to write transcript")
			if err == nil {
				err = dumpErr
			}
		}
	}
	if errors.Is(err, context.Canceled) && cs.ctx.Err() == context.Canceled {
		return nil
	}
	return err
}

func (cs *ChatSession) newOrchestrator(opts ...orchestrator.Option) (*orchestrator.Orchestrator, error) {
	client, err := chatapi.NewClient(cs.settings.BackendURL,
		chatapi.WithTimeout(cs.settings.RequestTimeout),
		chatapi.WithLogger(cs.logger))
	if err != nil {
		return nil, err
	}
	wsBase, err := cs.settings.WebSocketBase()
	if err != nil {
		return nil, err
	}
	cfg := orchestrator.Config{
		PushChannel: pushchannel.Config{
			BaseURL:          wsBase,
			HandshakeTimeout: cs.settings.HandshakeTimeout,
			WriteTimeout:     cs.settings.WriteTimeout,
		},
		WelcomeDelay:   cs.settings.WelcomeDelay,
		WelcomeMessage: cs.settings.WelcomeMessage,
	}
	opts = append([]orchestrator.Option{
		orchestrator.WithLogger(cs.logger),
		orchestrator.WithPushChannelOptions(pushchannel.WithHeader(http.Header{"User-Agent": {UserAgent}})),
	}, opts...)
	return orchestrator.New(cfg, client, opts...), nil
}

// runTUI runs the bubbletea front-end until the user quits or the context ends.
func (cs *ChatSession) runTUI() (*orchestrator.Orchestrator, error) {
	checkout := ui.NewTerminalCheckout()
	fw := &ui.Forwarder{}
	orch, err := cs.newOrchestrator(
		orchestrator.WithCheckout(checkout),
		orchestrator.WithUpdateHandler(fw.Forward),
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = orch.Close() }()

	eg, childCtx := errgroup.WithContext(cs.ctx)
	childCtx, cancel := context.WithCancel(childCtx)
	defer cancel()

	model := ui.NewModel(ui.NewBackend(childCtx, orch, checkout), cs.uiOptions...)
	p := tea.NewProgram(model, cs.programOptions...)
	fw.Attach(p)
	defer fw.Detach()

	eg.Go(func() error {
		<-childCtx.Done()
		p.Quit()
		return nil
	})
	eg.Go(func() error {
		defer cancel()
		log.Debug().Str("component", "chatrunner").Msg("Starting Bubble Tea program")
		_, runErr := p.Run()
		log.Debug().Err(runErr).Str("component", "chatrunner").Msg("Bubble Tea program finished")
		if errors.Is(runErr, tea.ErrProgramKilled) && cs.ctx.Err() != nil {
			return nil
		}
		return runErr
	})

	return orch, eg.Wait()
}

// runPlain reads one message per line and prints everything the session appends.
// Lines starting with '/' are commands: /pay, /toggle, /close, /status, /quit.
func (cs *ChatSession) runPlain() (*orchestrator.Orchestrator, error) {
	out := &syncWriter{w: cs.output}
	checkout := ui.NewTerminalCheckout()
	orch, err := cs.newOrchestrator(
		orchestrator.WithCheckout(checkout),
		orchestrator.WithUpdateHandler(func(u orchestrator.Update) { printUpdate(out, u) }),
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = orch.Close() }()

	if err := orch.Start(cs.ctx); err != nil {
		return orch, err
	}

	lines := newLineReader(cs.input, cs.output)
	for cs.ctx.Err() == nil {
		line, err := lines.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, errInterrupted) {
				return orch, nil
			}
			return orch, errors.Wrap(err, "read input")
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := cs.runCommand(orch, checkout, lines, out, line); quit {
				return orch, nil
			}
			continue
		}
		// chat failures end up in the transcript; the error is only logged here
		if err := orch.Submit(cs.ctx, line); err != nil {
			cs.logger.Debug().Err(err).Msg("submit returned error")
		}
	}
	return orch, cs.ctx.Err()
}

func (cs *ChatSession) runCommand(orch *orchestrator.Orchestrator, checkout *ui.TerminalCheckout, lines lineReader, out io.Writer, line string) bool {
	switch strings.Fields(line)[0] {
	case "/quit", "/exit":
		return true
	case "/toggle":
		if !orch.Panel().ToggleAvailable() {
			_, _ = fmt.Fprintln(out, "No checkout yet.")
			return false
		}
		orch.TogglePanel()
	case "/close":
		if !orch.Panel().Visible {
			_, _ = fmt.Fprintln(out, "No checkout is showing.")
			return false
		}
		orch.HidePanel()
	case "/pay":
		st := orch.Panel()
		if st.Phase != payment.PhaseOpen {
			_, _ = fmt.Fprintln(out, "No checkout is waiting for payment.")
			return false
		}
		ok, err := lines.Confirm(fmt.Sprintf("Pay with %s? [y/N]", ui.MaskSecret(st.Intent.ClientSecret)))
		if err != nil || !ok {
			_, _ = fmt.Fprintln(out, "Payment not confirmed.")
			return false
		}
		checkout.Complete()
	case "/status":
		d := orch.Diagnostics()
		_, _ = fmt.Fprintf(out, "session %s · push %s · %d entries · %d events dispatched, %d dropped · %d handshake failures\n",
			orch.SessionID(), d.Connection, d.Entries, d.Push.Dispatched, d.Push.Dropped, len(d.HandshakeFailures))
	default:
		_, _ = fmt.Fprintf(out, "Unknown command %s. Try /pay, /toggle, /close, /status or /quit.\n", line)
	}
	return false
}

func printUpdate(out io.Writer, u orchestrator.Update) {
	switch u.Kind {
	case orchestrator.UpdateEntry:
		switch u.Entry.Origin {
		case transcript.OriginAgentSync, transcript.OriginAgentPushed:
			_, _ = fmt.Fprintf(out, "agent: %s\n", u.Entry.Text)
		case transcript.OriginSystemNotice:
			_, _ = fmt.Fprintf(out, "* %s\n", u.Entry.Text)
		}
	case orchestrator.UpdatePanel:
		switch {
		case u.Panel.Phase == payment.PhaseOpen && u.Panel.Visible:
			_, _ = fmt.Fprintf(out, "[checkout open: %s] type /pay to pay, /close to hide\n", ui.MaskSecret(u.Panel.Intent.ClientSecret))
		case !u.Panel.Visible:
			_, _ = fmt.Fprintln(out, "[checkout hidden]")
		default:
			_, _ = fmt.Fprintf(out, "[checkout %s]\n", u.Panel.Phase)
		}
	case orchestrator.UpdateConnection:
		if u.Connection.Phase.Terminal() {
			_, _ = fmt.Fprintf(out, "[push channel %s]\n", u.Connection)
		}
	}
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

// --- ChatBuilder ---

// ChatBuilder provides a fluent API for configuring and running a chat session.
type ChatBuilder struct {
	err            error
	ctx            context.Context
	settings       *config.Settings
	uiOptions      []ui.ModelOption
	programOptions []tea.ProgramOption
	mode           RunMode
	input          io.Reader
	output         io.Writer
	dumpPath       string
	logger         zerolog.Logger
}

func NewChatBuilder() *ChatBuilder {
	return &ChatBuilder{
		ctx:            context.Background(),
		programOptions: []tea.ProgramOption{tea.WithAltScreen()},
		input:          os.Stdin,
		output:         os.Stdout,
		mode:           RunModeAuto,
		logger:         log.Logger,
	}
}

func (b *ChatBuilder) WithContext(ctx context.Context) *ChatBuilder {
	if b.err != nil {
		return b
	}
	if ctx == nil {
		b.err = errors.New("context cannot be nil")
		return b
	}
	b.ctx = ctx
	return b
}

// WithSettings sets the client settings. (Required)
func (b *ChatBuilder) WithSettings(s config.Settings) *ChatBuilder {
	if b.err != nil {
		return b
	}
	if err := s.Validate(); err != nil {
		b.err = err
		return b
	}
	b.settings = &s
	return b
}

func (b *ChatBuilder) WithUIOptions(opts ...ui.ModelOption) *ChatBuilder {
	if b.err != nil {
		return b
	}
	b.uiOptions = append(b.uiOptions, opts...)
	return b
}

func (b *ChatBuilder) WithProgramOptions(opts ...tea.ProgramOption) *ChatBuilder {
	if b.err != nil {
		return b
	}
	b.programOptions = append(b.programOptions, opts...)
	return b
}

func (b *ChatBuilder) WithMode(mode RunMode) *ChatBuilder {
	if b.err != nil {
		return b
	}
	switch mode {
	case RunModeAuto, RunModeTUI, RunModePlain:
		b.mode = mode
	default:
		b.err = errors.Errorf("invalid run mode: %s", mode)
	}
	return b
}

func (b *ChatBuilder) WithInput(r io.Reader) *ChatBuilder {
	if b.err != nil {
		return b
	}
	if r == nil {
		b.err = errors.New("input reader cannot be nil")
		return b
	}
	b.input = r
	return b
}

// WithOutputWriter sets the writer for plain mode. Defaults to os.Stdout.
func (b *ChatBuilder) WithOutputWriter(w io.Writer) *ChatBuilder {
	if b.err != nil {
		return b
	}
	if w == nil {
		b.err = errors.New("output writer cannot be nil")
		return b
	}
	b.output = w
	return b
}

// WithTranscriptDump writes the final transcript as YAML to path ("-" for stdout).
func (b *ChatBuilder) WithTranscriptDump(path string) *ChatBuilder {
	if b.err != nil {
		return b
	}
	b.dumpPath = path
	return b
}

func (b *ChatBuilder) WithLogger(logger zerolog.Logger) *ChatBuilder {
	if b.err != nil {
		return b
	}
	b.logger = logger
	return b
}

func (b *ChatBuilder) Build() (*ChatSession, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.settings == nil {
		return nil, errors.New("settings are required (use WithSettings)")
	}
	return &ChatSession{
		ctx:            b.ctx,
		settings:       *b.settings,
		mode:           b.mode,
		uiOptions:      b.uiOptions,
		programOptions: b.programOptions,
		input:          b.input,
		output:         b.output,
		dumpPath:       b.dumpPath,
		logger:         b.logger.With().Str("component", "chatrunner").Logger(),
	}, nil
}
