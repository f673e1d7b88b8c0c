// Package console turns keystrokes into peer requests: space dances, q or
// Ctrl-C quits.
package console

import (
	"context"
	"errors"
	"io"
	"os"

	"go.uber.org/zap"
	"golang.org/x/term"
)

const (
	keyCtrlC = 3
	keyCtrlD = 4
)

// Handler receives the requests decoded from input.
type Handler interface {
	RequestActivate()
	RequestQuit()
}

// Raw switches f to raw mode when it is a terminal so single keystrokes
// arrive without Enter. The returned function restores the previous mode
// and is never nil.
func Raw(f *os.File) (restore func(), err error) {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return func() {}, nil
	}
	old, err := term.MakeRaw(fd)
	if err != nil {
		return func() {}, err
	}
	return func() { _ = term.Restore(fd, old) }, nil
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Read decodes r until EOF, a quit key, or ctx is done. A blocked read is
// not interrupted by ctx; callers run Read on its own goroutine.
func Read(ctx context.Context, r io.Reader, h Handler, log *zap.SugaredLogger) error {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	buf := make([]byte, 16)
	for {
		n, err := r.Read(buf)
		if ctx.Err() != nil {
			return nil
		}
		for _, b := range buf[:n] {
			switch b {
			case ' ':
				log.Debugw("Dance requested from keyboard")
				h.RequestActivate()
			case 'q', 'Q', keyCtrlC, keyCtrlD:
				log.Debugw("Quit requested from keyboard")
				h.RequestQuit()
				return nil
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
