package main

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chaichat/pkg/chatrunner"
	"github.com/go-go-golems/chaichat/pkg/config"
	"github.com/go-go-golems/chaichat/pkg/ui"
)

type ChatCommand struct {
	*cmds.CommandDescription
	base config.Settings
}

type ChatSettings struct {
	Mode           string `glazed:"mode"`
	DumpTranscript string `glazed:"dump-transcript"`
	NoWelcome      bool   `glazed:"no-welcome"`
	MarkdownStyle  string `glazed:"markdown-style"`
}

var _ cmds.WriterCommand = (*ChatCommand)(nil)

func NewChatCommand(base config.Settings) (*ChatCommand, error) {
	section, err := config.NewSection(base)
	if err != nil {
		return nil, errors.Wrap(err, "create chaichat section")
	}
	loggingSection, err := config.NewLoggingSection(base)
	if err != nil {
		return nil, errors.Wrap(err, "create logging section")
	}

	return &ChatCommand{
		CommandDescription: cmds.NewCommandDescription(
			"chat",
			cmds.WithShort("Start a chat session against the backend"),
			cmds.WithLong("Start a chat session. The TUI is used when stdin and stdout are terminals; "+
				"plain mode reads one message per line and understands /pay, /toggle, /close, /status and /quit."),
			cmds.WithFlags(
				fields.New("mode", fields.TypeChoice,
					fields.WithHelp("Front-end to run"),
					fields.WithChoices(string(chatrunner.RunModeAuto), string(chatrunner.RunModeTUI), string(chatrunner.RunModePlain)),
					fields.WithDefault(string(chatrunner.RunModeAuto))),
				fields.New("dump-transcript", fields.TypeString,
					fields.WithHelp("Write the transcript as YAML to this file when the session ends (- for stdout)")),
				fields.New("no-welcome", fields.TypeBool,
					fields.WithHelp("Skip the welcome notice"),
					fields.WithDefault(false)),
				fields.New("markdown-style", fields.TypeString,
					fields.WithHelp("glamour style for agent messages, empty for plain text"),
					fields.WithDefault("dark")),
			),
			cmds.WithSections(section, loggingSection),
		),
		base: base,
	}, nil
}

func (c *ChatCommand) RunIntoWriter(ctx context.Context, parsed *values.Values, w io.Writer) error {
	s := &ChatSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "decode chat flags")
	}
	settings, err := resolveSettings(parsed, c.base)
	if err != nil {
		return err
	}
	if s.NoWelcome {
		settings.WelcomeMessage = ""
	}

	runMode := chatrunner.RunMode(s.Mode)
	tui := runMode == chatrunner.RunModeTUI ||
		(runMode == chatrunner.RunModeAuto && isatty.IsTerminal(os.Stdout.Fd()) && isatty.IsTerminal(os.Stdin.Fd()))
	// the TUI owns the terminal
	if tui && settings.LogFile == "" {
		settings.LogFile = filepath.Join(os.TempDir(), "chaichat.log")
	}
	closeLog, err := setupLogging(settings.LogLevel, settings.LogFormat, settings.LogFile)
	if err != nil {
		return err
	}
	defer closeLog()

	session, err := chatrunner.NewChatBuilder().
		WithContext(ctx).
		WithSettings(settings).
		WithMode(runMode).
		WithOutputWriter(w).
		WithUIOptions(ui.WithMarkdownStyle(s.MarkdownStyle)).
		WithTranscriptDump(s.DumpTranscript).
		WithLogger(log.Logger).
		Build()
	if err != nil {
		return err
	}
	return session.Run()
}
