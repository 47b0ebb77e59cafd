package main

import (
	"context"
	"io"
	"os"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/chaichat/pkg/config"
)

// SettingsCommand prints the resolved client settings in config file format.
type SettingsCommand struct {
	*cmds.CommandDescription
	base config.Settings
}

type SettingsSettings struct {
	OutputFile string `glazed:"output-file"`
}

var _ cmds.WriterCommand = (*SettingsCommand)(nil)

func NewSettingsCommand(base config.Settings) (*SettingsCommand, error) {
	section, err := config.NewSection(base)
	if err != nil {
		return nil, errors.Wrap(err, "create chaichat section")
	}
	loggingSection, err := config.NewLoggingSection(base)
	if err != nil {
		return nil, errors.Wrap(err, "create logging section")
	}
	return &SettingsCommand{
		CommandDescription: cmds.NewCommandDescription(
			"settings",
			cmds.WithShort("Print the settings a chat session would use"),
			cmds.WithFlags(
				fields.New("output-file", fields.TypeString,
					fields.WithHelp("Write to this file instead of stdout")),
			),
			cmds.WithSections(section, loggingSection),
		),
		base: base,
	}, nil
}

func (c *SettingsCommand) RunIntoWriter(_ context.Context, parsed *values.Values, w io.Writer) error {
	s := &SettingsSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "decode settings flags")
	}
	settings, err := resolveSettings(parsed, c.base)
	if err != nil {
		return err
	}
	b, err := yaml.Marshal(settings)
	if err != nil {
		return errors.Wrap(err, "encode settings")
	}
	if s.OutputFile != "" {
		return errors.Wrapf(os.WriteFile(s.OutputFile, b, 0o644), "write %s", s.OutputFile)
	}
	_, err = w.Write(b)
	return err
}
