// Package session represents a single worker run, binding the process
// streams, the parent control channel and the shared logger.
//
// Sessions decouple capabilities from concrete I/O sources.  A
// capability doesn't need to know whether it's writing to os.Stdout
// or a test buffer; it just uses the session's writers.
package session

import (
	"io"

	"github.com/google/uuid"

	"ipcrelay/internal/metrics"
	"ipcrelay/internal/transport"
	"ipcrelay/util"
)

// Session encapsulates the runtime context for one worker run.
// Capabilities operate on sessions rather than raw streams, enabling
// clean testing and I/O abstraction.
type Session struct {
	ID      string
	Stdin   io.Reader
	Stdout  io.Writer
	Stderr  io.Writer
	Channel transport.Channel // nil when the parent gave us none
	Logger  *util.Logger
	Metrics *metrics.Collector
}

// New creates a Session with a fresh worker ID.
func New(stdin io.Reader, stdout, stderr io.Writer, ch transport.Channel, logger *util.Logger) *Session {
	return &Session{
		ID:      uuid.NewString(),
		Stdin:   stdin,
		Stdout:  stdout,
		Stderr:  stderr,
		Channel: ch,
		Logger:  logger,
		Metrics: metrics.New(),
	}
}

// ShortID returns the first block of the worker ID, for log prefixes.
func (s *Session) ShortID() string {
	if len(s.ID) >= 8 {
		return s.ID[:8]
	}
	return s.ID
}
