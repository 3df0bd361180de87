// Package shell is an interactive line editor over a kv.Store.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"jsonkv/internal/kv"
	"jsonkv/internal/logging"
)

const prompt = "jsonkv> "

var shlog = logging.For("shell")

// NewRegistry returns a registry with the builtin and store commands.
func NewRegistry() *CommandRegistry {
	r := NewCommandRegistry()
	r.RegisterStoreCommands()
	r.RegisterBuiltins()
	return r
}

// Run reads command lines from rw until /quit, EOF or ctx is cancelled.
func Run(ctx context.Context, rw io.ReadWriter, st *kv.Store, commands *CommandRegistry) error {
	commands.Freeze()
	terminal := term.NewTerminal(rw, prompt)

	_, _ = fmt.Fprintf(terminal, "jsonkv shell on %s\n", st.Storage().Path())
	_, _ = fmt.Fprintln(terminal, "Type /help for commands.")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := terminal.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading line: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		shlog.Debug("command", "line", line)
		if commands.Dispatch(ctx, line, terminal, st) {
			return nil
		}
	}
}

// RunStdio runs the shell on the process terminal, switching it to raw mode
// when stdin is a TTY.
func RunStdio(ctx context.Context, st *kv.Store) error {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("raw mode: %w", err)
		}
		defer func() { _ = term.Restore(fd, state) }()
	}
	rw := struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}
	return Run(ctx, rw, st, NewRegistry())
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
