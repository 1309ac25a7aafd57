package capability

import (
	"io"

	relayerr "ipcrelay/internal/errors"
	"ipcrelay/internal/protocol"
	"ipcrelay/internal/session"
)

// Control re-enacts parent-observed events described by control
// messages.  It never ends the run.
type Control struct{}

// Dispatch performs the single effect msg asks for.
func (c *Control) Dispatch(sess *session.Session, msg protocol.Message) Outcome {
	switch m := msg.(type) {
	case protocol.Write:
		c.write(sess, m)
	case protocol.Forward:
		c.forward(sess, m)
	case protocol.Disconnect:
		c.disconnect(sess)
	default:
		sess.Metrics.ControlIgnored()
		sess.Logger.Debug("ignoring control key %q", msg.Key())
	}
	return Continue
}

func (c *Control) write(sess *session.Session, m protocol.Write) {
	var w io.Writer
	switch m.Stream {
	case protocol.Stdout:
		w = sess.Stdout
	case protocol.Stderr:
		w = sess.Stderr
	default:
		sess.Metrics.ControlIgnored()
		return
	}

	n, err := io.WriteString(w, m.Text)
	if err != nil {
		sess.Logger.Verbose("%s: %v", m.Stream, err)
		sess.Metrics.RecordWriteError(err.Error())
		return
	}
	if m.Stream == protocol.Stdout {
		sess.Metrics.StdoutWritten(n)
	} else {
		sess.Metrics.StderrWritten(n)
	}
}

// forward sends the payload back to the parent.  The worker's copy of
// the handle is closed afterwards whether or not the send succeeded.
func (c *Control) forward(sess *session.Session, m protocol.Forward) {
	if m.Handle != nil {
		defer m.Handle.Close() //nolint:errcheck
	}

	if sess.Channel == nil {
		sess.Logger.Warn("message: %v", relayerr.ErrNoChannel)
		return
	}

	frame, err := protocol.EncodeForward(m)
	if err != nil {
		sess.Metrics.ControlMalformed()
		sess.Logger.Verbose("message: %v", err)
		return
	}

	if m.Handle != nil {
		err = sess.Channel.Send(frame, m.Handle)
	} else {
		err = sess.Channel.Send(frame)
	}
	if err != nil {
		if relayerr.IsClosed(err) {
			sess.Logger.Verbose("message: %v", err)
		} else {
			sess.Logger.Error("message: %v", err)
		}
		sess.Metrics.RecordWriteError(err.Error())
		return
	}
	sess.Metrics.MessageForwarded()
}

func (c *Control) disconnect(sess *session.Session) {
	if sess.Channel == nil {
		return
	}
	if err := sess.Channel.Close(); err != nil {
		sess.Logger.Verbose("disconnect: %v", err)
	}
	sess.Logger.Verbose("control channel closed")
}

// Reject handles a frame that failed to decode.  Malformed messages
// are dropped; they never escalate to the fault trap.
func (c *Control) Reject(sess *session.Session, err error) Outcome {
	sess.Metrics.ControlMalformed()
	sess.Logger.Verbose("dropping control frame: %v", err)
	return Continue
}
