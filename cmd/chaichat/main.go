package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/sources"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/chaichat/pkg/config"
)

const configEnv = config.EnvPrefix + "_CONFIG"

// newRootCommand builds the command tree. base holds the defaults plus the config
// file and becomes the default of every settings field.
func newRootCommand(base config.Settings) (*cobra.Command, error) {
	root := &cobra.Command{
		Use:           "chaichat",
		Short:         "Chat with the Chai Corner agent and pay from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	// read by configPath before cobra parses anything
	root.PersistentFlags().String("config", "", "YAML settings file (env "+configEnv+")")

	chatCmd, err := NewChatCommand(base)
	if err != nil {
		return nil, err
	}
	stubCmd, err := NewServeStubCommand(base)
	if err != nil {
		return nil, err
	}
	settingsCmd, err := NewSettingsCommand(base)
	if err != nil {
		return nil, err
	}
	for _, c := range []cmds.Command{chatCmd, stubCmd, settingsCmd} {
		cobraCmd, err := cli.BuildCobraCommand(c, cli.WithCobraMiddlewaresFunc(chaichatMiddlewares))
		if err != nil {
			return nil, err
		}
		root.AddCommand(cobraCmd)
	}
	return root, nil
}

// chaichatMiddlewares ranks flags over CHAICHAT_* variables over the field defaults.
func chaichatMiddlewares(_ *values.Values, cmd *cobra.Command, args []string) ([]sources.Middleware, error) {
	return []sources.Middleware{
		sources.FromCobra(cmd),
		sources.FromArgs(args),
		sources.FromEnv(config.EnvPrefix,
			fields.WithSource("env"),
		),
		sources.FromDefaults(),
	}, nil
}

// configPath finds --config in args, falling back to CHAICHAT_CONFIG. The file has
// to be read before the commands are built because it supplies their defaults.
func configPath(args []string) string {
	for i, a := range args {
		if a == "--" {
			break
		}
		if v, ok := strings.CutPrefix(a, "--config="); ok {
			return v
		}
		if a == "--config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return os.Getenv(configEnv)
}

// resolveSettings decodes the connection and logging sections over base.
func resolveSettings(parsed *values.Values, base config.Settings) (config.Settings, error) {
	ss := config.SectionSettings{}
	if err := parsed.DecodeSectionInto(config.Slug, &ss); err != nil {
		return base, errors.Wrap(err, "decode chaichat settings")
	}
	s, err := ss.Apply(base)
	if err != nil {
		return base, err
	}
	return resolveLogging(parsed, s)
}

func resolveLogging(parsed *values.Values, base config.Settings) (config.Settings, error) {
	ls := config.LoggingSettings{}
	if err := parsed.DecodeSectionInto(config.LoggingSlug, &ls); err != nil {
		return base, errors.Wrap(err, "decode logging settings")
	}
	return ls.Apply(base), nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	base, err := config.Load(configPath(os.Args[1:]))
	if err != nil {
		log.Error().Err(err).Msg("chaichat failed")
		stop()
		os.Exit(1)
	}
	root, err := newRootCommand(base)
	cobra.CheckErr(err)

	if err := root.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("chaichat failed")
		stop()
		os.Exit(1)
	}
}
