package transcript

import (
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Export is the YAML document written by WriteYAML. It is a diagnostic dump, not
// something the client ever reads back.
type Export struct {
	SessionID  string    `yaml:"session_id"`
	ExportedAt time.Time `yaml:"exported_at"`
	Entries    []Entry   `yaml:"entries"`
}

func WriteYAML(w io.Writer, sessionID string, entries []Entry) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	doc := Export{SessionID: sessionID, ExportedAt: time.Now().UTC(), Entries: entries}
	if err := enc.Encode(doc); err != nil {
		return errors.Wrap(err, "encode transcript")
	}
	return errors.Wrap(enc.Close(), "flush transcript")
}

// WriteYAMLFile writes the export to path, or to stdout when path is "-".
func WriteYAMLFile(path, sessionID string, entries []Entry) error {
	if path == "-" {
		return WriteYAML(os.Stdout, sessionID, entries)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if err := WriteYAML(f, sessionID, entries); err != nil {
		_ = f.Close()
		return err
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}
