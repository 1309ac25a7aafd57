// Package core is the orchestration layer.  It composes the transport,
// the session and the capabilities into one running worker and
// provides a builder that wires a Worker from a Config.
//
// Architecture layers (bottom → top):
//
//	transport  →  capability  →  session  →  core  →  cmd (CLI)
package core

// State is the lifecycle position of a Worker.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateExited
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// Result is how a run ended.
type Result struct {
	Code   int
	Reason string
}
