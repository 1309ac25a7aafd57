package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags and environment variable loading.

const (
	// NoChannel marks a worker started without a control channel.
	NoChannel = -1

	// SerializationJSON is the only control-channel serialization the
	// worker speaks: one JSON value per line.
	SerializationJSON = "json"

	// DefaultFailsafe bounds the lifetime of a worker that is never
	// told to stop.
	DefaultFailsafe = 5 * time.Second

	// DefaultDrainTimeout is how long queued stdout/stderr output may
	// take to flush once the worker decides to exit.
	DefaultDrainTimeout = 250 * time.Millisecond

	// DefaultSendTimeout bounds a single frame sent to the parent.
	DefaultSendTimeout = 1 * time.Second

	// DefaultMaxFrameSize caps one inbound control frame.
	DefaultMaxFrameSize = 1 << 20
)
