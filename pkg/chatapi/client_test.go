package chatapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chaichat/pkg/session"
)

func newServer(t *testing.T, h http.HandlerFunc) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestSendSuccess(t *testing.T) {
	id := session.New()
	srv, calls := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var req Request
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hello", req.Message)
		assert.Equal(t, id.String(), req.SessionID)
		_, _ = w.Write([]byte(`{"response":"hi, welcome back"}`))
	})

	c, err := NewClient(srv.URL + "/api/")
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/api/chat", c.Endpoint())

	reply, err := c.Send(context.Background(), id, "hello")
	require.NoError(t, err)
	require.Equal(t, "hi, welcome back", reply.Text)
	require.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestSendRejectsBlankBeforeNetwork(t *testing.T) {
	srv, calls := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"x"}`))
	})
	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := c.Send(context.Background(), session.New(), text)
		require.True(t, errors.Is(err, ErrEmptyMessage))
	}
	require.Equal(t, int32(0), atomic.LoadInt32(calls))
}

func TestSendBackendErrors(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"error field", http.StatusInternalServerError, `{"error":"agent crashed"}`, "agent crashed"},
		{"fastapi detail", http.StatusUnprocessableEntity, `{"detail":"session_id required"}`, "session_id required"},
		{"no body", http.StatusBadGateway, ``, "Bad Gateway"},
		{"2xx with error", http.StatusOK, `{"error":"tool failed"}`, "tool failed"},
		{"2xx empty", http.StatusOK, `{}`, "empty response"},
		{"2xx garbage", http.StatusOK, `<html>`, "invalid response body"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			c, err := NewClient(srv.URL)
			require.NoError(t, err)

			_, err = c.Send(context.Background(), session.New(), "hi")
			var ce *Error
			require.True(t, errors.As(err, &ce))
			require.Equal(t, KindBackend, ce.Kind)
			require.Equal(t, tc.status, ce.Status)
			require.Equal(t, tc.message, ce.Message)
			require.Equal(t, KindBackend, KindOf(err))
		})
	}
}

func TestSendNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(url)
	require.NoError(t, err)
	_, err = c.Send(context.Background(), session.New(), "hi")
	require.Equal(t, KindNetwork, KindOf(err))
}

func TestSendTimeoutIsNetworkError(t *testing.T) {
	srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	c, err := NewClient(srv.URL, WithTimeout(50*time.Millisecond))
	require.NoError(t, err)

	_, err = c.Send(context.Background(), session.New(), "hi")
	require.Equal(t, KindNetwork, KindOf(err))
}

func TestNewClientRejectsBadScheme(t *testing.T) {
	_, err := NewClient("ws://localhost:8000/api")
	require.Error(t, err)
}
