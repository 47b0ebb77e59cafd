// Package chatapi sends one user message to the backend agent over a synchronous
// request and returns the agent's reply.
package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chaichat/pkg/session"
)

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 1 << 20

type Request struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// responseBody covers the success shape and the error shapes seen from the backend.
type responseBody struct {
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
	Detail   any    `json:"detail,omitempty"`
}

type Reply struct {
	Text string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

type Client struct {
	endpoint string
	http     *http.Client
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewClient targets <baseURL>/chat.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse chat base url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("chat base url must be http:// or https://, got %q", baseURL)
	}
	c := &Client{
		endpoint: u.String() + "/chat",
		http:     http.DefaultClient,
		logger:   log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "chatapi").Logger()
	return c, nil
}

func (c *Client) Endpoint() string { return c.endpoint }

// Send posts text for the session. Empty or whitespace-only text is rejected before
// any network call. Failures are returned as *Error.
func (c *Client) Send(ctx context.Context, id session.ID, text string) (Reply, error) {
	if strings.TrimSpace(text) == "" {
		return Reply{}, ErrEmptyMessage
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, err := json.Marshal(Request{Message: text, SessionID: id.String()})
	if err != nil {
		return Reply{}, errors.Wrap(err, "encode chat request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Reply{}, &Error{Kind: KindNetwork, Err: errors.Wrap(err, "build chat request")}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	logger := c.logger.With().Str("session_id", id.String()).Logger()
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		logger.Warn().Err(err).Msg("chat request failed")
		return Reply{}, &Error{Kind: KindNetwork, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Reply{}, &Error{Kind: KindNetwork, Status: resp.StatusCode, Err: errors.Wrap(err, "read chat response")}
	}
	logger.Debug().Int("status", resp.StatusCode).Dur("elapsed", time.Since(start)).Msg("chat response")

	var rb responseBody
	decodeErr := json.Unmarshal(raw, &rb)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := ""
		if decodeErr == nil {
			msg = rb.errorMessage()
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return Reply{}, &Error{Kind: KindBackend, Status: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return Reply{}, &Error{Kind: KindBackend, Status: resp.StatusCode, Message: "invalid response body", Err: decodeErr}
	}
	if rb.Response == "" {
		msg := rb.errorMessage()
		if msg == "" {
			msg = "empty response"
		}
		return Reply{}, &Error{Kind: KindBackend, Status: resp.StatusCode, Message: msg}
	}
	return Reply{Text: rb.Response}, nil
}

func (rb responseBody) errorMessage() string {
	if rb.Error != "" {
		return rb.Error
	}
	switch d := rb.Detail.(type) {
	case string:
		return d
	case nil:
		return ""
	default:
		b, err := json.Marshal(d)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
