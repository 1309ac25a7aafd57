// Package transport provides the control channel between the worker
// and its parent.  A channel moves whole frames (one JSON value per
// line) and, where the platform allows it, open descriptors alongside
// them.  What the frames mean is the protocol package's job.
package transport

import (
	"os"
	"time"
)

// Channel is one end of a parent/child control channel.
type Channel interface {
	// Recv blocks until the next complete frame arrives.  The trailing
	// newline is stripped.  It returns io.EOF once the peer hangs up or
	// the channel is closed locally.
	Recv() ([]byte, error)

	// Send writes frame followed by a newline, passing files to the
	// peer alongside it.  The caller keeps ownership of files.
	Send(frame []byte, files ...*os.File) error

	// TakeHandle pops the oldest descriptor received and not yet
	// claimed by a frame.
	TakeHandle() (*os.File, bool)

	// Close shuts the channel down and releases unclaimed descriptors.
	// It is safe to call more than once.
	Close() error
}

// Options tunes a channel.
type Options struct {
	// FD is the inherited descriptor number, used for error context.
	FD int
	// MaxFrameSize bounds a single inbound frame (0 = 1 MiB).
	MaxFrameSize int
	// SendTimeout bounds a single Send (0 = no bound).
	SendTimeout time.Duration
}

const defaultMaxFrameSize = 1 << 20

func (o Options) maxFrame() int {
	if o.MaxFrameSize > 0 {
		return o.MaxFrameSize
	}
	return defaultMaxFrameSize
}
