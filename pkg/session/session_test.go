package session

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestNewIsUniqueAndParsable(t *testing.T) {
	seen := map[ID]struct{}{}
	for i := 0; i < 1000; i++ {
		id := New()
		require.False(t, id.IsZero())
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}

		parsed, err := Parse(id.String())
		require.NoError(t, err)
		require.Equal(t, id, parsed)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse("   ")
	require.True(t, errors.Is(err, ErrInvalidID))

	_, err = Parse("not-a-session")
	require.True(t, errors.Is(err, ErrInvalidID))
}
