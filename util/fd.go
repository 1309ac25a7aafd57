package util

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// InheritedFile wraps a descriptor the parent process left open for
// us, failing if the descriptor is not actually open.
func InheritedFile(fd int, name string) (*os.File, error) {
	if fd < 0 {
		return nil, fmt.Errorf("invalid descriptor %d", fd)
	}
	f := os.NewFile(uintptr(fd), name)
	if f == nil {
		return nil, fmt.Errorf("invalid descriptor %d", fd)
	}
	if _, err := f.Stat(); err != nil {
		f.Close() //nolint:errcheck // drops the finalizer before the number is reused
		return nil, fmt.Errorf("descriptor %d: %w", fd, err)
	}
	return f, nil
}

// IsInteractive reports whether f is attached to a terminal.
func IsInteractive(f *os.File) bool {
	if f == nil {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
