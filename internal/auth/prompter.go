package auth

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// StdinPrompter asks the operator yes/no questions on the terminal.
type StdinPrompter struct {
	in  *bufio.Reader
	out io.Writer
}

func NewStdinPrompter() *StdinPrompter {
	return &StdinPrompter{
		in:  bufio.NewReader(os.Stdin),
		out: os.Stderr,
	}
}

// Confirm prints the message and blocks for a y/n answer. Reading runs
// in a goroutine so cancellation is not stuck behind the terminal.
func (p *StdinPrompter) Confirm(ctx context.Context, message string) (bool, error) {
	fmt.Fprintf(p.out, "\n%s [y/N]: ", message)

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := p.in.ReadString('\n')
		ch <- answer{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case a := <-ch:
		if a.err != nil {
			return false, fmt.Errorf("failed to read answer: %w", a.err)
		}
		reply := strings.ToLower(strings.TrimSpace(a.line))
		return reply == "y" || reply == "yes", nil
	}
}
