package stubbackend

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chaichat/pkg/session"
)

type stubConn struct {
	mu      sync.Mutex
	writes  [][]byte
	failing bool
	closed  bool
}

func (s *stubConn) WriteMessage(_ int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing || s.closed {
		return errors.New("closed")
	}
	s.writes = append(s.writes, append([]byte(nil), data...))
	return nil
}

func (s *stubConn) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubConn) SetWriteDeadline(_ time.Time) error { return nil }

func (s *stubConn) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func TestConnectionPoolBroadcastDropsBrokenConnections(t *testing.T) {
	pool := NewConnectionPool("s1", 0, nil, zerolog.Nop())
	good := &stubConn{}
	bad := &stubConn{failing: true}
	pool.Add(good)
	pool.Add(bad)

	n := pool.Broadcast([]byte("hello"))
	require.Equal(t, 1, n)
	require.Equal(t, 1, pool.Count())
	require.True(t, bad.isClosed())
	require.Equal(t, [][]byte{[]byte("hello")}, good.writes)
}

func TestConnectionPoolIdleCallback(t *testing.T) {
	var fired atomic.Int32
	pool := NewConnectionPool("s1", 20*time.Millisecond, func() { fired.Add(1) }, zerolog.Nop())
	conn := &stubConn{}
	pool.Add(conn)
	pool.Remove(conn)

	require.True(t, pool.IsEmpty())
	require.True(t, conn.isClosed())
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestConnectionPoolAddCancelsIdle(t *testing.T) {
	var fired atomic.Int32
	pool := NewConnectionPool("s1", 30*time.Millisecond, func() { fired.Add(1) }, zerolog.Nop())
	first := &stubConn{}
	pool.Add(first)
	pool.Remove(first)
	pool.Add(&stubConn{})

	time.Sleep(80 * time.Millisecond)
	require.Equal(t, int32(0), fired.Load())
}

func TestConnectionPoolCloseAll(t *testing.T) {
	pool := NewConnectionPool("s1", 0, nil, zerolog.Nop())
	a, b := &stubConn{}, &stubConn{}
	pool.Add(a)
	pool.Add(b)

	pool.CloseAll(1001, "bye")
	require.Equal(t, 0, pool.Count())
	require.True(t, a.isClosed())
	require.True(t, b.isClosed())
	require.Equal(t, 0, pool.Broadcast([]byte("late")))
}

func TestNilConnectionPoolIsEmpty(t *testing.T) {
	var pool *ConnectionPool
	require.Equal(t, 0, pool.Count())
	require.True(t, pool.IsEmpty())
	require.Equal(t, 0, pool.Broadcast([]byte("x")))
	pool.CloseAll(1000, "")
}

func TestServerKeepsPoolThatGainedAConnection(t *testing.T) {
	s := New(WithLogger(zerolog.Nop()))
	id := session.New()

	p := s.pool(id)
	conn := &stubConn{}
	p.Add(conn)

	s.forget(id, p)
	require.Same(t, p, s.pool(id), "pool with a live connection must survive a late idle callback")

	p.Remove(conn)
	s.forget(id, &ConnectionPool{})
	require.Same(t, p, s.pool(id), "a stale pool must not evict the current one")

	s.forget(id, p)
	require.NotSame(t, p, s.pool(id))
}
