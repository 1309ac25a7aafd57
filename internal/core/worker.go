package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"sync/atomic"
	"time"

	"ipcrelay/config"
	"ipcrelay/internal/capability"
	"ipcrelay/internal/metrics"
	"ipcrelay/internal/protocol"
	"ipcrelay/internal/session"
	"ipcrelay/internal/transport"
	"ipcrelay/util"
)

// Worker relays stdin to stdout, acts on control messages from the
// parent and reports faults, until one of its exit conditions fires.
//
// All handlers run on the goroutine that called Run.  stdin and the
// control channel each have one reader goroutine feeding it, so events
// from one source are handled in arrival order.
type Worker struct {
	Stdin   io.Reader
	Stdout  io.Writer
	Stderr  io.Writer
	Channel transport.Channel // nil: no parent channel

	Failsafe     time.Duration // zero: config.DefaultFailsafe
	DrainTimeout time.Duration // zero: config.DefaultDrainTimeout
	Logger       *util.Logger

	relay   capability.Relay
	control capability.Control
	trap    capability.Trap

	state atomic.Int32
	sess  atomic.Pointer[session.Session]
}

type controlEvent struct {
	msg protocol.Message
	err error
}

// State returns the worker's lifecycle state.
func (w *Worker) State() State { return State(w.state.Load()) }

// Stats returns the counters of the current or last run, or nil before
// Run is called.
func (w *Worker) Stats() *metrics.Collector {
	if s := w.sess.Load(); s != nil {
		return s.Metrics
	}
	return nil
}

// Run drives the worker until it exits and returns the exit code the
// process should terminate with.  A Worker runs once.
func (w *Worker) Run(ctx context.Context) Result {
	if !w.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return Result{Code: protocol.ExitFault, Reason: "worker already ran"}
	}

	logger := w.Logger
	if logger == nil {
		logger = util.NewLogger(0)
	}

	var (
		done     = make(chan struct{})
		chunks   = make(chan *[]byte)
		controls = make(chan controlEvent)
		faults   = make(chan protocol.Report, 1)
		stdinEOF = make(chan struct{})
		chanEOF  = make(chan struct{})
	)

	// Only the first fault counts.
	raise := func(r protocol.Report) {
		select {
		case faults <- r:
		default:
		}
	}

	rawStderr := w.out(w.Stderr, os.Stderr)
	logToStderr := sameFile(logger.Output(), rawStderr)

	var sess *session.Session
	sinkHooks := func(name string, logErrors bool) util.WriterHooks {
		return util.WriterHooks{
			OnError: func(err error) {
				sess.Metrics.RecordWriteError(err.Error())
				if logErrors {
					logger.Verbose("%s: %v", name, err)
				}
			},
			OnPanic: func(r any, stack []byte) {
				raise(panicReport(r, stack))
			},
		}
	}
	stdout := util.NewAsyncWriter(w.out(w.Stdout, os.Stdout), sinkHooks("stdout", true))
	// A failing stderr cannot report its own failures through itself.
	stderr := util.NewAsyncWriter(rawStderr, sinkHooks("stderr", !logToStderr))

	// Log lines bound for the relayed stderr go through its sink, in
	// order with relayed text.
	if logToStderr {
		defer logger.Redirect(stderr)()
	}

	sess = session.New(w.in(), stdout, stderr, w.Channel, logger)
	w.sess.Store(sess)
	logger.SetTag(sess.ShortID())
	logger.Verbose("worker started (channel=%t)", w.Channel != nil)

	// The failsafe fires off the event loop.  Closing the channel
	// unblocks a pending send, and the loop checks expired before any
	// other event.
	failsafe := w.Failsafe
	if failsafe <= 0 {
		failsafe = config.DefaultFailsafe
	}
	expired := make(chan struct{})
	timer := time.AfterFunc(failsafe, func() {
		close(expired)
		if sess.Channel != nil {
			sess.Channel.Close() //nolint:errcheck
		}
	})
	defer timer.Stop()

	stdinDone, chanDone := stdinEOF, chanEOF
	go w.guard(raise, func() { w.readStdin(sess, chunks, stdinDone, done, raise) })
	go w.guard(raise, func() { w.readChannel(sess, controls, chanDone, done) })

	stop := func(out capability.Outcome, drain bool) Result {
		timer.Stop()
		return w.finish(sess, done, stdout, stderr, Result{Code: out.Code, Reason: out.Reason}, drain)
	}

	failsafeExit := func() (Result, bool) {
		select {
		case <-expired:
			logger.Verbose("failsafe fired after %v", failsafe)
			return stop(capability.ExitWith(protocol.ExitFault, "failsafe"), false), true
		default:
			return Result{}, false
		}
	}

	// preempt checks the exits that win over pending input: the
	// failsafe, then a raised fault.
	preempt := func() (Result, bool) {
		if res, ok := failsafeExit(); ok {
			return res, true
		}
		select {
		case r := <-faults:
			return stop(w.report(sess, r), true), true
		default:
		}
		return Result{}, false
	}

	// handled ends the run if a handler asked to, unless something with
	// priority happened while it ran.
	handled := func(out capability.Outcome) (Result, bool) {
		if res, ok := preempt(); ok {
			return res, true
		}
		if out.Exit {
			return stop(out, true), true
		}
		return Result{}, false
	}

	for {
		if res, ok := preempt(); ok {
			return res
		}

		select {
		case chunk := <-chunks:
			out := w.safely(sess, func() capability.Outcome { return w.relay.Chunk(sess, *chunk) })
			util.PutBuf(chunk)
			if res, ok := handled(out); ok {
				return res
			}

		case ev := <-controls:
			sess.Metrics.ControlReceived()
			out := w.safely(sess, func() capability.Outcome {
				if ev.err != nil {
					return w.control.Reject(sess, ev.err)
				}
				return w.control.Dispatch(sess, ev.msg)
			})
			if res, ok := handled(out); ok {
				return res
			}

		case r := <-faults:
			if res, ok := failsafeExit(); ok {
				return res
			}
			return stop(w.report(sess, r), true)

		case <-stdinEOF:
			stdinEOF = nil
			logger.Verbose("stdin closed")
			if chanEOF == nil {
				if res, ok := handled(capability.ExitWith(protocol.ExitClean, "inputs closed")); ok {
					return res
				}
			}

		case <-chanEOF:
			chanEOF = nil
			logger.Verbose("control channel finished")
			if stdinEOF == nil {
				if res, ok := handled(capability.ExitWith(protocol.ExitClean, "inputs closed")); ok {
					return res
				}
			}

		case <-expired:
			res, _ := failsafeExit()
			return res

		case <-ctx.Done():
			if res, ok := handled(capability.ExitWith(protocol.ExitFault, "interrupted")); ok {
				return res
			}
		}
	}
}

// readStdin feeds copies of stdin chunks to the event loop.  A read
// error other than EOF is a fault.
func (w *Worker) readStdin(sess *session.Session, chunks chan<- *[]byte, eof, done chan struct{}, raise func(protocol.Report)) {
	err := util.ReadChunks(sess.Stdin, func(chunk []byte) bool {
		c := util.CloneChunk(chunk)
		select {
		case chunks <- c:
			return true
		case <-done:
			util.PutBuf(c)
			return false
		}
	})
	if err != nil {
		raise(protocol.Report{Stack: string(debug.Stack()), Message: fmt.Sprintf("stdin: %v", err)})
		return
	}
	close(eof)
}

// readChannel decodes frames as they arrive.  Decoding happens here,
// not in the event loop, so each frame claims its descriptors in the
// order the transport received them.
func (w *Worker) readChannel(sess *session.Session, controls chan<- controlEvent, eof, done chan struct{}) {
	if sess.Channel == nil {
		close(eof)
		return
	}
	for {
		frame, err := sess.Channel.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				sess.Logger.Warn("control channel: %v", err)
			}
			close(eof)
			return
		}

		msg, err := protocol.Decode(frame, sess.Channel)
		select {
		case controls <- controlEvent{msg: msg, err: err}:
		case <-done:
			if fwd, ok := msg.(protocol.Forward); ok && fwd.Handle != nil {
				fwd.Handle.Close() //nolint:errcheck
			}
			return
		}
	}
}

// guard turns a panic in a reader goroutine into a fault.
func (w *Worker) guard(raise func(protocol.Report), fn func()) {
	defer func() {
		if r := recover(); r != nil {
			raise(panicReport(r, debug.Stack()))
		}
	}()
	fn()
}

// safely runs a handler on the event loop.  A panic becomes a fault
// report and ends the run.
func (w *Worker) safely(sess *session.Session, fn func() capability.Outcome) (out capability.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = w.report(sess, panicReport(r, debug.Stack()))
		}
	}()
	return fn()
}

// report delivers a fault.  The worker exits with ExitFault even if
// reporting itself fails.
func (w *Worker) report(sess *session.Session, r protocol.Report) (out capability.Outcome) {
	out = capability.ExitWith(protocol.ExitFault, "uncaught fault: "+r.Message)
	defer func() {
		if p := recover(); p != nil {
			sess.Logger.Error("fault while reporting %q: %v", r.Message, p)
		}
	}()
	return w.trap.Report(sess, r)
}

// finish is the single exit path.  It runs once per Worker.
func (w *Worker) finish(sess *session.Session, done chan struct{}, stdout, stderr *util.AsyncWriter, res Result, drain bool) Result {
	w.state.Store(int32(StateExited))
	close(done)

	// Logged before the drain: the logger may be writing through stderr.
	sess.Logger.Debug("metrics: %s", sess.Metrics.JSON())
	sess.Logger.Verbose("exit %d (%s)", res.Code, res.Reason)

	if drain {
		timeout := w.DrainTimeout
		if timeout <= 0 {
			timeout = config.DefaultDrainTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		for _, s := range []*util.AsyncWriter{stdout, stderr} {
			if err := s.Drain(ctx); err != nil {
				sess.Logger.Verbose("output not drained: %v", err)
			}
		}
		cancel()
	} else {
		stdout.Close() //nolint:errcheck
		stderr.Close() //nolint:errcheck
	}

	if sess.Channel != nil {
		sess.Channel.Close() //nolint:errcheck
	}

	return res
}

func (w *Worker) in() io.Reader {
	if w.Stdin != nil {
		return w.Stdin
	}
	return os.Stdin
}

func (w *Worker) out(wr io.Writer, def io.Writer) io.Writer {
	if wr != nil {
		return wr
	}
	return def
}

func sameFile(a, b io.Writer) bool {
	fa, ok := a.(*os.File)
	if !ok {
		return false
	}
	fb, ok := b.(*os.File)
	return ok && fa == fb
}

func panicReport(r any, stack []byte) protocol.Report {
	msg := fmt.Sprint(r)
	if err, ok := r.(error); ok {
		msg = err.Error()
	}
	return protocol.Report{Stack: string(stack), Message: msg}
}
