package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// errNoInput is returned when a prompt hits end of input.
var errNoInput = errors.New("no input available")

// prompter asks the user for values the flags, profile and environment did not supply.
type prompter interface {
	Line(label string) (string, error)
	Password(label string) (string, error)
}

// termPrompter reads from stdin. Passwords are read without echo when
// stdin is a terminal and as a plain line otherwise, so piping works.
type termPrompter struct {
	in     *os.File
	out    io.Writer
	reader *bufio.Reader
}

func newTermPrompter() *termPrompter {
	return &termPrompter{in: os.Stdin, out: os.Stderr, reader: bufio.NewReader(os.Stdin)}
}

func (p *termPrompter) Line(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	return readLine(p.reader)
}

func (p *termPrompter) Password(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	fd := int(p.in.Fd())
	if !term.IsTerminal(fd) {
		return readLine(p.reader)
	}
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(b), nil
}

// confirm asks a yes/no question; anything but y or yes is no.
func (p *termPrompter) confirm(question string) bool {
	answer, err := p.Line(question + " [y/N]")
	if err != nil {
		return false
	}
	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes"
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		if err == io.EOF {
			return "", errNoInput
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
