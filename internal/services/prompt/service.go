// Package prompt asks the operator for secrets on the terminal.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// Prompter reads a secret from the operator.
type Prompter interface {
	Passphrase(message string) (string, error)
}

var question = color.New(color.FgYellow, color.Bold)

// Terminal prompts on a terminal without echoing input. When in is not a
// terminal it reads one line instead, so passphrases can be piped in.
type Terminal struct {
	in     *os.File
	out    io.Writer
	reader *bufio.Reader
}

// NewTerminal creates a prompter on stdin and stderr.
func NewTerminal() *Terminal {
	return &Terminal{in: os.Stdin, out: os.Stderr}
}

// Passphrase prints message and reads the answer.
func (t *Terminal) Passphrase(message string) (string, error) {
	_, _ = question.Fprint(t.out, message)

	fd := int(t.in.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		_, _ = fmt.Fprintln(t.out)
		if err != nil {
			return "", fmt.Errorf("failed to read passphrase: %w", err)
		}
		return string(b), nil
	}

	if t.reader == nil {
		t.reader = bufio.NewReader(t.in)
	}
	line, err := t.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
