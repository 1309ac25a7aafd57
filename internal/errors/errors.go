// Package errors provides domain-specific error types for relay-worker.
//
// These types carry structured context (operation, descriptor, control
// key) that helps callers decide how to handle failures and provides
// better diagnostics than plain string wrapping.
package errors

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrChannelClosed = errors.New("control channel is closed")
	ErrNoChannel     = errors.New("no control channel")
	ErrFrameTooLarge = errors.New("control frame exceeds size limit")
	ErrMissingHandle = errors.New("frame references a handle that was not received")
)

// ── Structured error types ───────────────────────────────────────────

// ChannelError represents a failure on the parent control channel.
type ChannelError struct {
	Op  string // "open", "send", "recv", "close"
	FD  int    // inherited descriptor number, -1 if not known
	Err error
}

func (e *ChannelError) Error() string {
	if e.FD >= 0 {
		return fmt.Sprintf("channel %s fd=%d: %v", e.Op, e.FD, e.Err)
	}
	return fmt.Sprintf("channel %s: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// ProtocolError describes a control message that does not have the
// shape its key requires.
type ProtocolError struct {
	Key    string // control key, empty if the frame had none
	Reason string
	Err    error // optional underlying decode error
}

func (e *ProtocolError) Error() string {
	msg := "protocol"
	if e.Key != "" {
		msg += fmt.Sprintf(" %q", e.Key)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// Wrap creates a ChannelError for the given operation and descriptor.
func Wrap(op string, fd int, err error) *ChannelError {
	return &ChannelError{Op: op, FD: fd, Err: err}
}

// Malformed creates a ProtocolError for key.
func Malformed(key, reason string) *ProtocolError {
	return &ProtocolError{Key: key, Reason: reason}
}

// ── Classification helpers ───────────────────────────────────────────

// IsClosed reports whether err means the other end went away or the
// descriptor was closed locally.  These are expected during shutdown
// and after a disconnect.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, ErrChannelClosed) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}

// IsProtocol reports whether err is a malformed-message error.
func IsProtocol(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
