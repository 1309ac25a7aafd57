// Package protocol defines the control messages exchanged between the
// worker and its parent.
//
// Every inbound frame is a JSON array [key, value].  The shape of value
// depends on key:
//
//	["stdout",     ["data", [text, ...]]]   write text to stdout
//	["stderr",     ["data", [text, ...]]]   write text to stderr
//	["message",    [payload, handle]]       send payload back to the parent
//	["disconnect"]                          close the control channel
//
// handle is null when no descriptor accompanies the message; any other
// value claims the next descriptor received on the channel.
//
// Outbound frames are either a forwarded payload as-is, or the fault
// report ["uncaughtException", {"stack": ..., "msg": ...}].
package protocol

import (
	"encoding/json"
	"os"
)

// Control keys.
const (
	KeyStdout     = "stdout"
	KeyStderr     = "stderr"
	KeyMessage    = "message"
	KeyDisconnect = "disconnect"
	KeyUncaught   = "uncaughtException"
)

// EventData is the only stream event the worker re-enacts.
const EventData = "data"

// Stream selects one of the worker's output streams.
type Stream int

const (
	Stdout Stream = iota + 1
	Stderr
)

func (s Stream) String() string {
	switch s {
	case Stdout:
		return KeyStdout
	case Stderr:
		return KeyStderr
	default:
		return "unknown"
	}
}

// Message is one decoded control message.  The concrete type is one of
// Write, Forward, Disconnect or Unknown.
type Message interface {
	Key() string
}

// Write asks the worker to emit Text on one of its output streams.
type Write struct {
	Stream Stream
	Event  string
	Text   string
}

func (w Write) Key() string { return w.Stream.String() }

// Forward asks the worker to send Payload back to the parent, together
// with Handle when it is non-nil.
type Forward struct {
	Payload json.RawMessage
	Handle  *os.File
}

func (Forward) Key() string { return KeyMessage }

// Disconnect asks the worker to close its end of the control channel.
type Disconnect struct{}

func (Disconnect) Key() string { return KeyDisconnect }

// Unknown carries a key the worker does not act on.
type Unknown struct {
	Name string
}

func (u Unknown) Key() string { return u.Name }

// Report describes a trapped fault.
type Report struct {
	Stack   string `json:"stack"`
	Message string `json:"msg"`
}

// HandleSource hands out descriptors that arrived alongside frames, in
// arrival order.
type HandleSource interface {
	TakeHandle() (*os.File, bool)
}

// Exit codes the worker terminates with.
const (
	// ExitSentinel follows a stdin chunk equal to SentinelText.
	ExitSentinel = 42
	// ExitFault follows a trapped fault, the failsafe timer or an
	// interrupt.
	ExitFault = 1
	// ExitClean follows natural completion: stdin at EOF and no open
	// control channel.
	ExitClean = 0
)

// SentinelText is the stdin chunk that ends the run.
const SentinelText = "exit"
