package main

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/chaichat/pkg/config"
	"github.com/go-go-golems/chaichat/pkg/session"
	"github.com/go-go-golems/chaichat/pkg/stubbackend"
)

type ServeStubCommand struct {
	*cmds.CommandDescription
	base config.Settings
}

type ServeStubSettings struct {
	Addr            string `glazed:"addr"`
	Prefix          string `glazed:"prefix"`
	FailWith        string `glazed:"fail-with"`
	IdleTimeout     string `glazed:"idle-timeout"`
	ConfirmPayments bool   `glazed:"confirm-payments"`
}

var _ cmds.WriterCommand = (*ServeStubCommand)(nil)

func NewServeStubCommand(base config.Settings) (*ServeStubCommand, error) {
	loggingSection, err := config.NewLoggingSection(base)
	if err != nil {
		return nil, errors.Wrap(err, "create logging section")
	}
	redisSection, err := stubbackend.NewRedisSection()
	if err != nil {
		return nil, errors.Wrap(err, "create redis section")
	}

	return &ServeStubCommand{
		CommandDescription: cmds.NewCommandDescription(
			"serve-stub",
			cmds.WithShort("Run a scripted backend that speaks the chat and push protocols"),
			cmds.WithFlags(
				fields.New("addr", fields.TypeString,
					fields.WithHelp("Listen address"),
					fields.WithDefault(base.StubAddr)),
				fields.New("prefix", fields.TypeString,
					fields.WithHelp("Path prefix for /chat and /ws/{session_id}"),
					fields.WithDefault("/api")),
				fields.New("fail-with", fields.TypeString,
					fields.WithHelp("Answer every chat request with HTTP 500 and this error message")),
				fields.New("idle-timeout", fields.TypeString,
					fields.WithHelp("Forget a session this long after its last push connection closed"),
					fields.WithDefault("1m")),
				fields.New("confirm-payments", fields.TypeBool,
					fields.WithHelp("Answer payment_complete with an agent message"),
					fields.WithDefault(true)),
			),
			cmds.WithSections(loggingSection, redisSection),
		),
		base: base,
	}, nil
}

func (c *ServeStubCommand) RunIntoWriter(ctx context.Context, parsed *values.Values, _ io.Writer) error {
	s := &ServeStubSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "decode serve-stub flags")
	}
	rs := stubbackend.RedisSettings{}
	if err := parsed.DecodeSectionInto(stubbackend.RedisSlug, &rs); err != nil {
		return errors.Wrap(err, "decode redis settings")
	}
	settings, err := resolveLogging(parsed, c.base)
	if err != nil {
		return err
	}
	idle, err := time.ParseDuration(s.IdleTimeout)
	if err != nil {
		return errors.Wrap(err, "idle-timeout")
	}

	closeLog, err := setupLogging(settings.LogLevel, settings.LogFormat, settings.LogFile)
	if err != nil {
		return err
	}
	defer closeLog()

	opts := []stubbackend.Option{
		stubbackend.WithPrefix(s.Prefix),
		stubbackend.WithIdleTimeout(idle),
		stubbackend.WithConfirmPayments(s.ConfirmPayments),
		stubbackend.WithLogger(log.Logger),
	}
	if s.FailWith != "" {
		msg := s.FailWith
		opts = append(opts, stubbackend.WithResponder(func(session.ID, string) stubbackend.Response {
			return stubbackend.Response{Status: http.StatusInternalServerError, Error: msg}
		}))
	}
	if rs.Enabled {
		if err := stubbackend.Ping(ctx, rs.Addr); err != nil {
			return err
		}
		bus, err := stubbackend.NewRedisBus(rs, log.Logger)
		if err != nil {
			return err
		}
		defer func() { _ = bus.Close() }()
		opts = append(opts, stubbackend.WithBus(bus))
	}
	return serve(ctx, s.Addr, stubbackend.New(opts...))
}

func serve(ctx context.Context, addr string, stub *stubbackend.Server) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           stub.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	if err := stub.Start(egCtx); err != nil {
		return err
	}
	eg.Go(func() error {
		log.Info().Str("addr", addr).Msg("stub backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		log.Info().Msg("shutting down stub backend")
		stub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}
