// Package prompt asks the operator yes/no questions on a terminal.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNoAnswer reports that input ended before an answer was given.
var ErrNoAnswer = errors.New("no answer given")

// Prompter asks questions on out and reads the answers from in.
type Prompter struct {
	in          *bufio.Reader
	out         io.Writer
	assumeYes   bool
	interactive bool
}

// New returns a Prompter. With assumeYes every question is answered yes without
// reading input. When interactive is false and assumeYes is not set, questions are
// answered no, so that unattended runs never proceed on an unconfirmed risk.
func New(in io.Reader, out io.Writer, assumeYes, interactive bool) *Prompter {
	return &Prompter{
		in:          bufio.NewReader(in),
		out:         out,
		assumeYes:   assumeYes,
		interactive: interactive,
	}
}

// Confirm asks question and reports whether the operator answered "y" or "yes"
// in any casing. Anything else is a no.
//
// Cancelling ctx returns ctx.Err() at once, but the read of the answer cannot
// be interrupted: its goroutine stays blocked on the input until a line
// arrives or the input is closed. A Prompter should not be reused after a
// cancelled Confirm, as the abandoned read may consume the next answer.
func (p *Prompter) Confirm(ctx context.Context, question string) (bool, error) {
	if p.assumeYes {
		_, _ = fmt.Fprintf(p.out, "%s [y/N]: yes (--yes)\n", question)
		return true, nil
	}
	if !p.interactive {
		_, _ = fmt.Fprintf(p.out, "%s [y/N]: no (not a terminal, use --yes to confirm)\n", question)
		return false, nil
	}

	_, _ = fmt.Fprintf(p.out, "%s [y/N]: ", question)

	type answer struct {
		text string
		err  error
	}
	answers := make(chan answer, 1)
	go func() {
		text, err := p.in.ReadString('\n')
		answers <- answer{text, err}
	}()

	select {
	case <-ctx.Done():
		_, _ = fmt.Fprintln(p.out)
		return false, ctx.Err()
	case a := <-answers:
		if a.err != nil && (a.text == "" || !errors.Is(a.err, io.EOF)) {
			if errors.Is(a.err, io.EOF) {
				return false, ErrNoAnswer
			}
			return false, fmt.Errorf("could not read answer: %w", a.err)
		}
		response := strings.ToLower(strings.TrimSpace(a.text))
		return response == "y" || response == "yes", nil
	}
}
