// Package capability defines what the worker does with each event.
// Each handler encapsulates a single behaviour (relay a stdin chunk,
// act on a control message, report a fault) and operates on a Session
// rather than raw streams, which keeps handlers testable and decoupled
// from the event loop that drives them.
//
// Handlers never block on output: the session's writers queue and
// return, and channel sends are bounded by the transport.
package capability

// Outcome tells the event loop whether a handler ended the run.
type Outcome struct {
	Exit   bool
	Code   int
	Reason string
}

// Continue is the Outcome of every handler that leaves the worker
// running.
var Continue = Outcome{}

// ExitWith ends the run with code.
func ExitWith(code int, reason string) Outcome {
	return Outcome{Exit: true, Code: code, Reason: reason}
}
