package chatrunner

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"
	input "github.com/tcnksm/go-input"
)

var errInterrupted = input.ErrInterrupted

type lineReader interface {
	ReadLine() (string, error)
	Confirm(query string) (bool, error)
}

// newLineReader prompts through go-input on a terminal, which also turns ctrl+c
// into errInterrupted. Piped input is read line by line without prompts.
func newLineReader(r io.Reader, w io.Writer) lineReader {
	if isTerminal(r) {
		return &ttyReader{ui: &input.UI{Reader: r, Writer: w}}
	}
	return &pipeReader{sc: bufio.NewScanner(r)}
}

type ttyReader struct {
	ui *input.UI
}

func (t *ttyReader) ReadLine() (string, error) {
	return t.ui.Ask("you>", &input.Options{HideOrder: true})
}

func (t *ttyReader) Confirm(query string) (bool, error) {
	answer, err := t.ui.Ask(query, &input.Options{
		Default:     "n",
		HideDefault: true,
		Loop:        true,
		ValidateFunc: func(answer string) error {
			switch strings.ToLower(answer) {
			case "y", "n", "yes", "no", "":
				return nil
			default:
				return errors.Errorf("please enter 'y' or 'n'")
			}
		},
	})
	if err != nil {
		return false, errors.Wrap(err, "failed to get user input")
	}
	return isYes(answer), nil
}

type pipeReader struct {
	sc *bufio.Scanner
}

func (p *pipeReader) ReadLine() (string, error) {
	if p.sc.Scan() {
		return p.sc.Text(), nil
	}
	if err := p.sc.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// Confirm takes the next line as the answer.
func (p *pipeReader) Confirm(string) (bool, error) {
	line, err := p.ReadLine()
	if err != nil {
		return false, err
	}
	return isYes(line), nil
}

func isYes(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
