package capability

import (
	"fmt"

	relayerr "ipcrelay/internal/errors"
	"ipcrelay/internal/protocol"
	"ipcrelay/internal/session"
)

// Trap reports faults to the parent.
type Trap struct{}

// Report sends ["uncaughtException", r] over the control channel and
// returns the outcome that ends the run.  Without a usable channel the
// report is logged instead.
func (t *Trap) Report(sess *session.Session, r protocol.Report) Outcome {
	sess.Metrics.RecordFault(r.Message)
	outcome := ExitWith(protocol.ExitFault, "uncaught fault: "+r.Message)

	if sess.Channel == nil {
		sess.Logger.Error("uncaught fault: %s\n%s", r.Message, r.Stack)
		return outcome
	}

	frame, err := protocol.EncodeReport(r)
	if err == nil {
		err = sess.Channel.Send(frame)
	}
	if err != nil {
		if relayerr.IsClosed(err) {
			err = fmt.Errorf("%w (report not delivered)", err)
		}
		sess.Logger.Error("uncaught fault: %s: %v\n%s", r.Message, err, r.Stack)
	}
	return outcome
}
