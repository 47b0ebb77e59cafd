package transcript

import (
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestStoreAllPreservesAppendOrder(t *testing.T) {
	s := NewStore()
	ids := NewIDGenerator()
	origins := []Origin{OriginUserInput, OriginAgentPushed, OriginAgentSync, OriginSystemNotice}

	var want []string
	for i := 0; i < 50; i++ {
		e := Entry{ID: ids.Next(), Text: fmt.Sprintf("m%d", i), Origin: origins[i%len(origins)]}
		require.NoError(t, s.Append(e))
		want = append(want, e.Text)
	}

	var got []string
	for _, e := range s.All() {
		got = append(got, e.Text)
	}
	require.Equal(t, want, got)
}

func TestStoreSnapshotIsNotRetroactive(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Append(Entry{ID: "1", Text: "a", Origin: OriginUserInput}))

	snap := s.All()
	require.NoError(t, s.Append(Entry{ID: "2", Text: "b", Origin: OriginAgentSync}))

	require.Len(t, snap, 1)
	require.Len(t, s.All(), 2)

	snap[0].Text = "mutated"
	require.Equal(t, "a", s.All()[0].Text)
}

func TestStoreRejectsInvalidEntries(t *testing.T) {
	s := NewStore()
	require.True(t, errors.Is(s.Append(Entry{Text: "x", Origin: OriginUserInput}), ErrMissingID))
	require.True(t, errors.Is(s.Append(Entry{ID: "1", Text: "x", Origin: "bogus"}), ErrInvalidOrigin))
	require.Equal(t, 0, s.Len())
}

func TestStoreNotifiesListenersInOrder(t *testing.T) {
	s := NewStore()
	var seen []string
	s.Listen(func(e Entry) { seen = append(seen, e.ID) })

	require.NoError(t, s.Append(Entry{ID: "1", Origin: OriginSystemNotice}))
	require.NoError(t, s.Append(Entry{ID: "2", Origin: OriginSystemNotice}))
	require.Equal(t, []string{"1", "2"}, seen)
	require.Equal(t, 2, s.CountOrigin(OriginSystemNotice))
	require.False(t, s.All()[0].CreatedAt.IsZero())
}

func TestIDGeneratorIsStrictlyIncreasingWithinOneTick(t *testing.T) {
	frozen := time.UnixMilli(1_700_000_000_000)
	g := &IDGenerator{now: func() time.Time { return frozen }}

	first, err := strconv.ParseUint(g.Next(), 10, 64)
	require.NoError(t, err)
	require.Equal(t, uint64(1_700_000_000_000*1_000_000), first)

	second, err := strconv.ParseUint(g.Next(), 10, 64)
	require.NoError(t, err)
	require.Equal(t, first+1, second)
}

func TestIDGeneratorConcurrentUnique(t *testing.T) {
	g := NewIDGenerator()
	var mu sync.Mutex
	seen := map[string]struct{}{}
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := g.Next()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Len(t, seen, 8*200)
}

func TestStoreListenersSeeStoreOrderAcrossWriters(t *testing.T) {
	s := NewStore()
	entered := make(chan struct{})
	release := make(chan struct{})

	var mu sync.Mutex
	var seen []string
	s.Listen(func(e Entry) {
		if e.Text == "first" {
			close(entered)
			<-release
		}
		mu.Lock()
		seen = append(seen, e.Text)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := s.Add(OriginAgentPushed, "first")
		require.NoError(t, err)
	}()
	<-entered
	go func() {
		defer wg.Done()
		_, err := s.Add(OriginAgentSync, "second")
		require.NoError(t, err)
	}()

	// give the second writer a chance to overtake if it could
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	var stored []string
	for _, e := range s.All() {
		stored = append(stored, e.Text)
	}
	require.Equal(t, []string{"first", "second"}, stored)
	require.Equal(t, stored, seen)
}

func TestStoreAddAssignsIncreasingIDsInStoreOrder(t *testing.T) {
	frozen := time.UnixMilli(1_700_000_000_000)
	s := NewStore(WithIDGenerator(&IDGenerator{now: func() time.Time { return frozen }}))

	var mu sync.Mutex
	var notified []string
	s.Listen(func(e Entry) {
		mu.Lock()
		notified = append(notified, e.ID)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, err := s.Add(OriginSystemNotice, fmt.Sprintf("w%d-%d", w, i))
				require.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	all := s.All()
	require.Len(t, all, 8*50)
	var prev uint64
	var stored []string
	for _, e := range all {
		n, err := strconv.ParseUint(e.ID, 10, 64)
		require.NoError(t, err)
		require.Greater(t, n, prev)
		prev = n
		stored = append(stored, e.ID)
	}
	require.Equal(t, stored, notified)
}

func TestStoreAddRejectsInvalidOrigin(t *testing.T) {
	s := NewStore()
	_, err := s.Add("bogus", "x")
	require.True(t, errors.Is(err, ErrInvalidOrigin))
	require.Equal(t, 0, s.Len())
}
