package util

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"runtime/debug"
	"sync"
)

// DefaultBufSize is the standard buffer size for stdin reads (32 KiB).
const DefaultBufSize = 32 * 1024

// ReadChunks reads r until EOF, calling fn once per successful Read
// with the bytes that Read returned.  The slice is only valid until fn
// returns.  fn returns false to stop early.
//
// A clean EOF (or a reader closed underneath us) returns nil; any other
// read error is returned as-is.
func ReadChunks(r io.Reader, fn func(chunk []byte) bool) error {
	buf := GetBuf()
	defer PutBuf(buf)

	for {
		n, err := r.Read(*buf)
		if n > 0 {
			if !fn((*buf)[:n]) {
				return nil
			}
		}
		if err != nil {
			if isHarmless(err) {
				return nil
			}
			return err
		}
	}
}

// WriterHooks receives the outcome of background writes.
type WriterHooks struct {
	// OnError is called for every failed write.  Writes continue.
	OnError func(err error)
	// OnPanic is called if the underlying writer panics.  The writer
	// stops afterwards.  When nil the panic propagates.
	OnPanic func(recovered any, stack []byte)
}

// AsyncWriter is an ordered, unbounded, fire-and-forget writer.  Write
// copies p onto a queue and returns immediately; a single goroutine
// drains the queue into the underlying writer in order.
type AsyncWriter struct {
	w     io.Writer
	hooks WriterHooks

	mu     sync.Mutex
	queue  [][]byte
	closed bool

	wake chan struct{}
	done chan struct{}
}

// NewAsyncWriter starts the drain goroutine for w.
func NewAsyncWriter(w io.Writer, hooks WriterHooks) *AsyncWriter {
	a := &AsyncWriter{
		w:     w,
		hooks: hooks,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go a.loop()
	return a
}

// Write queues a copy of p.  It never blocks on the underlying writer.
// After Close it returns io.ErrClosedPipe.
func (a *AsyncWriter) Write(p []byte) (int, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	a.queue = append(a.queue, append([]byte(nil), p...))
	a.mu.Unlock()

	select {
	case a.wake <- struct{}{}:
	default:
	}
	return len(p), nil
}

// WriteString is Write for strings.
func (a *AsyncWriter) WriteString(s string) (int, error) {
	return a.Write([]byte(s))
}

// Close stops accepting writes.  Already queued data is still written.
func (a *AsyncWriter) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	select {
	case a.wake <- struct{}{}:
	default:
	}
	return nil
}

// Drain closes the writer and waits until the queue is flushed or ctx
// expires.
func (a *AsyncWriter) Drain(ctx context.Context) error {
	a.Close() //nolint:errcheck
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *AsyncWriter) loop() {
	defer close(a.done)
	defer func() {
		if r := recover(); r != nil {
			if a.hooks.OnPanic == nil {
				panic(r)
			}
			a.hooks.OnPanic(r, debug.Stack())
		}
	}()

	for {
		a.mu.Lock()
		for len(a.queue) == 0 && !a.closed {
			a.mu.Unlock()
			<-a.wake
			a.mu.Lock()
		}
		batch := a.queue
		a.queue = nil
		a.mu.Unlock()

		if len(batch) == 0 {
			return // closed and empty
		}
		for _, p := range batch {
			if _, err := a.w.Write(p); err != nil && a.hooks.OnError != nil {
				a.hooks.OnError(err)
			}
		}
	}
}

// isHarmless returns true for errors that are expected during shutdown.
func isHarmless(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
		return true
	}
	// net.OpError wrapping "use of closed network connection"
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, net.ErrClosed)
	}
	return false
}
