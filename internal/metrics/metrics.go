// Package metrics provides lightweight, lock-free counters for tracking
// runtime statistics of a single worker run.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for one worker run.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	chunksIn    atomic.Int64
	bytesIn     atomic.Int64
	bytesOut    atomic.Int64
	bytesErr    atomic.Int64
	controlIn   atomic.Int64
	ignored     atomic.Int64
	malformed   atomic.Int64
	forwarded   atomic.Int64
	writeErrors atomic.Int64
	faults      atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Stdin relay ──────────────────────────────────────────────────────

// ChunkReceived records one stdin chunk of n bytes.
func (c *Collector) ChunkReceived(n int) {
	if c == nil {
		return
	}
	c.chunksIn.Add(1)
	c.bytesIn.Add(int64(n))
}

// Chunks returns the number of stdin chunks seen.
func (c *Collector) Chunks() int64 {
	if c == nil {
		return 0
	}
	return c.chunksIn.Load()
}

// TotalBytesIn returns total stdin bytes read.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// ── Output ───────────────────────────────────────────────────────────

// StdoutWritten records n bytes queued for stdout.
func (c *Collector) StdoutWritten(n int) {
	if c == nil {
		return
	}
	c.bytesOut.Add(int64(n))
}

// StderrWritten records n bytes queued for stderr.
func (c *Collector) StderrWritten(n int) {
	if c == nil {
		return
	}
	c.bytesErr.Add(int64(n))
}

// TotalBytesOut returns total bytes queued for stdout.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// TotalBytesErr returns total bytes queued for stderr.
func (c *Collector) TotalBytesErr() int64 {
	if c == nil {
		return 0
	}
	return c.bytesErr.Load()
}

// ── Control channel ──────────────────────────────────────────────────

// ControlReceived records one inbound control frame.
func (c *Collector) ControlReceived() {
	if c == nil {
		return
	}
	c.controlIn.Add(1)
}

// ControlIgnored records a frame with an unrecognised key.
func (c *Collector) ControlIgnored() {
	if c == nil {
		return
	}
	c.ignored.Add(1)
}

// ControlMalformed records a frame whose value had the wrong shape.
func (c *Collector) ControlMalformed() {
	if c == nil {
		return
	}
	c.malformed.Add(1)
}

// MessageForwarded records one payload sent back to the parent.
func (c *Collector) MessageForwarded() {
	if c == nil {
		return
	}
	c.forwarded.Add(1)
}

// ControlMessages returns the number of inbound frames.
func (c *Collector) ControlMessages() int64 {
	if c == nil {
		return 0
	}
	return c.controlIn.Load()
}

// Ignored returns the number of frames with unknown keys.
func (c *Collector) Ignored() int64 {
	if c == nil {
		return 0
	}
	return c.ignored.Load()
}

// Malformed returns the number of malformed frames.
func (c *Collector) Malformed() int64 {
	if c == nil {
		return 0
	}
	return c.malformed.Load()
}

// Forwarded returns the number of forwarded payloads.
func (c *Collector) Forwarded() int64 {
	if c == nil {
		return 0
	}
	return c.forwarded.Load()
}

// ── Errors ───────────────────────────────────────────────────────────

// RecordWriteError increments the write-error counter and stores the
// message.
func (c *Collector) RecordWriteError(msg string) {
	if c == nil {
		return
	}
	c.writeErrors.Add(1)
	c.setLastError(msg)
}

// RecordFault increments the fault counter and stores the message.
func (c *Collector) RecordFault(msg string) {
	if c == nil {
		return
	}
	c.faults.Add(1)
	c.setLastError(msg)
}

// WriteErrors returns the number of failed output writes.
func (c *Collector) WriteErrors() int64 {
	if c == nil {
		return 0
	}
	return c.writeErrors.Load()
}

// Faults returns the number of trapped faults.
func (c *Collector) Faults() int64 {
	if c == nil {
		return 0
	}
	return c.faults.Load()
}

func (c *Collector) setLastError(msg string) {
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime           string `json:"uptime"`
	Chunks           int64  `json:"chunks"`
	BytesIn          int64  `json:"bytes_in"`
	BytesOut         int64  `json:"bytes_out"`
	BytesErr         int64  `json:"bytes_err"`
	ControlMessages  int64  `json:"control_messages"`
	Ignored          int64  `json:"ignored"`
	Malformed        int64  `json:"malformed"`
	Forwarded        int64  `json:"forwarded"`
	WriteErrors      int64  `json:"write_errors"`
	Faults           int64  `json:"faults"`
	LastError        string `json:"last_error,omitempty"`
	LastErrorMessage string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:          time.Since(c.startTime).Truncate(time.Millisecond).String(),
		Chunks:          c.chunksIn.Load(),
		BytesIn:         c.bytesIn.Load(),
		BytesOut:        c.bytesOut.Load(),
		BytesErr:        c.bytesErr.Load(),
		ControlMessages: c.controlIn.Load(),
		Ignored:         c.ignored.Load(),
		Malformed:       c.malformed.Load(),
		Forwarded:       c.forwarded.Load(),
		WriteErrors:     c.writeErrors.Load(),
		Faults:          c.faults.Load(),
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as a compact JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.Marshal(s)
	return string(data)
}
