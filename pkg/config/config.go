// Package config resolves client settings. An optional YAML file replaces the built-in
// defaults; the glazed sections below then layer CHAICHAT_* environment variables and
// command-line flags over those values.
package config

import (
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	// Slug names the section holding the backend connection settings.
	Slug        = "chaichat"
	LoggingSlug = "logging"
	// EnvPrefix is prepended to upper-cased field names, e.g. CHAICHAT_BACKEND_URL.
	EnvPrefix = "CHAICHAT"
)

const DefaultWelcomeMessage = "Welcome to Chai Corner! If you're a returning customer, could you please provide your full name? If you'd like to continue as a guest, just let me know!"

type Settings struct {
	BackendURL       string        `yaml:"backend_url"`
	WebSocketURL     string        `yaml:"websocket_url"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	WelcomeDelay     time.Duration `yaml:"welcome_delay"`
	WelcomeMessage   string        `yaml:"welcome_message"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file"`

	StubAddr string `yaml:"stub_addr"`
}

func Default() Settings {
	return Settings{
		BackendURL:       "http://localhost:8000/api",
		RequestTimeout:   60 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		WelcomeDelay:     time.Second,
		WelcomeMessage:   DefaultWelcomeMessage,
		LogLevel:         "info",
		LogFormat:        "auto",
		StubAddr:         ":8000",
	}
}

// Load applies the YAML file at path, if any, over the defaults.
func Load(path string) (Settings, error) {
	s := Default()
	if path == "" {
		return s, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return s, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(b, &s); err != nil {
		return s, errors.Wrapf(err, "parse config %s", path)
	}
	return s, nil
}

// Validate checks that the settings can drive a session.
func (s Settings) Validate() error {
	u, err := url.Parse(s.BackendURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.Errorf("backend_url must be an absolute http(s) url, got %q", s.BackendURL)
	}
	ws, err := s.WebSocketBase()
	if err != nil {
		return err
	}
	wu, err := url.Parse(ws)
	if err != nil || (wu.Scheme != "ws" && wu.Scheme != "wss") || wu.Host == "" {
		return errors.Errorf("websocket_url must be an absolute ws(s) url, got %q", ws)
	}
	if s.RequestTimeout <= 0 {
		return errors.New("request_timeout must be > 0")
	}
	if s.HandshakeTimeout <= 0 {
		return errors.New("handshake_timeout must be > 0")
	}
	if s.WriteTimeout <= 0 {
		return errors.New("write_timeout must be > 0")
	}
	if s.WelcomeDelay < 0 {
		return errors.New("welcome_delay must be >= 0")
	}
	return nil
}

// WebSocketBase returns websocket_url, or backend_url with http(s) swapped for ws(s).
func (s Settings) WebSocketBase() (string, error) {
	if s.WebSocketURL != "" {
		return strings.TrimRight(s.WebSocketURL, "/"), nil
	}
	u, err := url.Parse(s.BackendURL)
	if err != nil {
		return "", errors.Wrap(err, "parse backend_url")
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", errors.Errorf("cannot derive websocket url from %q", s.BackendURL)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

// SectionSettings is the decoded chaichat section. Durations stay strings until Apply
// so that "90s" and "1m30s" are both accepted.
type SectionSettings struct {
	BackendURL       string `glazed:"backend-url"`
	WebSocketURL     string `glazed:"websocket-url"`
	RequestTimeout   string `glazed:"request-timeout"`
	HandshakeTimeout string `glazed:"handshake-timeout"`
	WriteTimeout     string `glazed:"write-timeout"`
	WelcomeDelay     string `glazed:"welcome-delay"`
	WelcomeMessage   string `glazed:"welcome-message"`
}

// NewSection describes the connection settings. base supplies the defaults, so
// values read from a config file rank below env and flags.
func NewSection(base Settings) (schema.Section, error) {
	return schema.NewSection(
		Slug,
		"Chat backend connection settings",
		schema.WithFields(
			fields.New("backend-url", fields.TypeString,
				fields.WithHelp("Chat API base url, e.g. http://localhost:8000/api"),
				fields.WithDefault(base.BackendURL)),
			fields.New("websocket-url", fields.TypeString,
				fields.WithHelp("Push channel base url (derived from backend-url when empty)"),
				fields.WithDefault(base.WebSocketURL)),
			fields.New("request-timeout", fields.TypeString,
				fields.WithHelp("Timeout of one chat request"),
				fields.WithDefault(base.RequestTimeout.String())),
			fields.New("handshake-timeout", fields.TypeString,
				fields.WithHelp("Timeout of the push channel handshake"),
				fields.WithDefault(base.HandshakeTimeout.String())),
			fields.New("write-timeout", fields.TypeString,
				fields.WithHelp("Deadline for one outbound push frame"),
				fields.WithDefault(base.WriteTimeout.String())),
			fields.New("welcome-delay", fields.TypeString,
				fields.WithHelp("Delay before the welcome notice"),
				fields.WithDefault(base.WelcomeDelay.String())),
			fields.New("welcome-message", fields.TypeString,
				fields.WithHelp("Welcome notice, empty to skip it"),
				fields.WithDefault(base.WelcomeMessage)),
		),
	)
}

// Apply copies the section values onto base.
func (ss SectionSettings) Apply(base Settings) (Settings, error) {
	s := base
	s.BackendURL = ss.BackendURL
	s.WebSocketURL = ss.WebSocketURL
	s.WelcomeMessage = ss.WelcomeMessage

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"request-timeout", ss.RequestTimeout, &s.RequestTimeout},
		{"handshake-timeout", ss.HandshakeTimeout, &s.HandshakeTimeout},
		{"write-timeout", ss.WriteTimeout, &s.WriteTimeout},
		{"welcome-delay", ss.WelcomeDelay, &s.WelcomeDelay},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.value) == "" {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.value))
		if err != nil {
			return base, errors.Wrapf(err, "%s", d.name)
		}
		*d.dst = v
	}
	return s, nil
}

type LoggingSettings struct {
	LogLevel  string `glazed:"log-level"`
	LogFormat string `glazed:"log-format"`
	LogFile   string `glazed:"log-file"`
}

func NewLoggingSection(base Settings) (schema.Section, error) {
	format := base.LogFormat
	if format == "" {
		format = "auto"
	}
	return schema.NewSection(
		LoggingSlug,
		"Logging",
		schema.WithFields(
			fields.New("log-level", fields.TypeString,
				fields.WithHelp("Global log level (trace, debug, info, warn, error, disabled)"),
				fields.WithDefault(base.LogLevel)),
			fields.New("log-format", fields.TypeChoice,
				fields.WithHelp("console, json, or auto to pick console on a terminal"),
				fields.WithChoices("auto", "console", "json"),
				fields.WithDefault(format)),
			fields.New("log-file", fields.TypeString,
				fields.WithHelp("Write logs to this file instead of stderr"),
				fields.WithDefault(base.LogFile)),
		),
	)
}

func (ls LoggingSettings) Apply(base Settings) Settings {
	s := base
	s.LogLevel = ls.LogLevel
	s.LogFormat = ls.LogFormat
	s.LogFile = ls.LogFile
	return s
}
