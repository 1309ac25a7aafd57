//go:build !unix

package transport

import (
	"fmt"

	relayerr "ipcrelay/internal/errors"
)

// Open is unavailable without Unix domain sockets.
func Open(fd int, opts Options) (Channel, error) {
	return nil, relayerr.Wrap("open", fd, fmt.Errorf("%w: control channel requires Unix domain sockets", relayerr.ErrNoChannel))
}
