// Package term puts the hosting terminal in and out of raw mode.
package term

import (
	"os"

	"github.com/pkg/errors"
	xterm "golang.org/x/term"
)

// IsTerminal reports whether stdin is attached to a terminal.
func IsTerminal() bool {
	return xterm.IsTerminal(int(os.Stdin.Fd()))
}

// SetRawMode switches stdin to raw mode so keystrokes reach the guest
// device unmangled. The returned function restores the previous
// settings and is safe to call even when SetRawMode failed.
func SetRawMode() (func(), error) {
	fd := int(os.Stdin.Fd())

	state, err := xterm.MakeRaw(fd)
	if err != nil {
		return func() {}, errors.Wrap(err, "set raw mode")
	}

	return func() {
		_ = xterm.Restore(fd, state)
	}, nil
}
