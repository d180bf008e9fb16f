package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/ernie/spinboard/internal/domain"
)

// terminalPrompter reads handles from the terminal. An empty answer keeps the
// current handle; Ctrl-D cancels.
type terminalPrompter struct {
	in  *os.File
	out io.Writer

	// lines is used when stdin is not a terminal
	lines *bufio.Reader
}

func newTerminalPrompter(in *os.File, out io.Writer) *terminalPrompter {
	return &terminalPrompter{in: in, out: out}
}

func (p *terminalPrompter) Prompt(ctx context.Context, initial string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	label := "Handle: "
	if initial != "" {
		label = fmt.Sprintf("Handle [%s]: ", initial)
	}

	line, err := p.readLine(label)
	if errors.Is(err, io.EOF) {
		fmt.Fprintln(p.out)
		return "", domain.ErrCancelled
	}
	if err != nil {
		return "", fmt.Errorf("reading handle: %w", err)
	}

	if strings.TrimSpace(line) == "" && initial != "" {
		return initial, nil
	}
	return line, nil
}

func (p *terminalPrompter) Reject(_ context.Context, rejection *domain.Rejection) {
	fmt.Fprintf(p.out, "  ✗ %s\n", rejection.Reason)
}

func (p *terminalPrompter) readLine(label string) (string, error) {
	fd := int(p.in.Fd())
	if !term.IsTerminal(fd) {
		if p.lines == nil {
			p.lines = bufio.NewReader(p.in)
		}
		fmt.Fprint(p.out, label)
		line, err := p.lines.ReadString('\n')
		if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	state, err := term.MakeRaw(fd)
	if err != nil {
		return "", fmt.Errorf("entering raw mode: %w", err)
	}
	defer term.Restore(fd, state)

	screen := struct {
		io.Reader
		io.Writer
	}{p.in, p.out}
	t := term.NewTerminal(screen, label)
	return t.ReadLine()
}
