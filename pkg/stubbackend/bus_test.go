package stubbackend

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chaichat/pkg/protocol"
	"github.com/go-go-golems/chaichat/pkg/session"
)

func TestPushThroughMemoryBus(t *testing.T) {
	bus := NewMemoryBus(zerolog.Nop())
	t.Cleanup(func() { _ = bus.Close() })

	s, ts := startServer(t, WithBus(bus))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))

	id := session.New()
	conn := dial(t, ts, id)
	require.Eventually(t, func() bool { return s.Connections(id) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Push(id, protocol.AgentMessage{Text: "one"}))
	require.NoError(t, s.Push(id, protocol.AgentMessage{Text: "two"}))
	require.NoError(t, s.Push(session.New(), protocol.AgentMessage{Text: "elsewhere"}))

	require.Equal(t, protocol.AgentMessage{Text: "one"}, readInbound(t, conn))
	require.Equal(t, protocol.AgentMessage{Text: "two"}, readInbound(t, conn))
}

func TestStartWithoutBus(t *testing.T) {
	s, _ := startServer(t)
	require.NoError(t, s.Start(context.Background()))
}

func TestNewRedisBusIsLazy(t *testing.T) {
	bus, err := NewRedisBus(RedisSettings{Addr: "127.0.0.1:1"}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	_, err = NewRedisBus(RedisSettings{}, zerolog.Nop())
	require.Error(t, err)
}

func TestPingUnreachableRedis(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.Error(t, Ping(ctx, "127.0.0.1:1"))
}

func TestRedisSection(t *testing.T) {
	section, err := NewRedisSection()
	require.NoError(t, err)
	require.Equal(t, RedisSlug, section.GetSlug())
}
