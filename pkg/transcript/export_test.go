package transcript

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestWriteYAMLKeepsOrderAndOrigins(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	entries := []Entry{
		{ID: "1", Text: "hello", Origin: OriginUserInput, CreatedAt: at},
		{ID: "2", Text: "hi there", Origin: OriginAgentSync, CreatedAt: at},
		{ID: "3", Text: "Please wait while I confirm your payment.", Origin: OriginSystemNotice, CreatedAt: at},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteYAML(&buf, "sess-1", entries))

	var doc Export
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))
	require.Equal(t, "sess-1", doc.SessionID)
	require.Equal(t, entries, doc.Entries)
	require.False(t, doc.ExportedAt.IsZero())
}

func TestWriteYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.yaml")
	require.NoError(t, WriteYAMLFile(path, "sess-2", []Entry{{ID: "1", Text: "x", Origin: OriginAgentPushed}}))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(b), "session_id: sess-2")
	require.Contains(t, string(b), "origin: agent_pushed")
}
