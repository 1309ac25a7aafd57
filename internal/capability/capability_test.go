package capability

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"

	relayerr "ipcrelay/internal/errors"
	"ipcrelay/internal/protocol"
	"ipcrelay/internal/session"
	"ipcrelay/internal/transport"
	"ipcrelay/util"
)

// fakeChannel records frames sent by the capabilities.
type fakeChannel struct {
	mu      sync.Mutex
	sent    []string
	files   []*os.File
	sendErr error
	closed  bool
}

func (c *fakeChannel) Recv() ([]byte, error)        { return nil, io.EOF }
func (c *fakeChannel) TakeHandle() (*os.File, bool) { return nil, false }

func (c *fakeChannel) Send(frame []byte, files ...*os.File) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, string(frame))
	c.files = append(c.files, files...)
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type errWriter struct{}

func (errWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func newSession(ch *fakeChannel) (*session.Session, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	logger := util.NewLogger(3)
	logger.SetOutput(io.Discard)

	var c transport.Channel
	if ch != nil {
		c = ch
	}
	return session.New(nil, &out, &errOut, c, logger), &out, &errOut
}

// ── Relay ────────────────────────────────────────────────────────────

func TestRelay_Chunk(t *testing.T) {
	sess, out, _ := newSession(nil)
	r := &Relay{}

	for _, chunk := range []string{"hello", " ", "wörld"} {
		if o := r.Chunk(sess, []byte(chunk)); o.Exit {
			t.Fatalf("chunk %q ended the run", chunk)
		}
	}
	if out.String() != "hello wörld" {
		t.Errorf("stdout = %q", out.String())
	}
	if sess.Metrics.Chunks() != 3 || sess.Metrics.TotalBytesOut() != int64(len("hello wörld")) {
		t.Errorf("chunks=%d out=%d", sess.Metrics.Chunks(), sess.Metrics.TotalBytesOut())
	}
}

func TestRelay_Sentinel(t *testing.T) {
	sess, out, _ := newSession(nil)

	o := (&Relay{}).Chunk(sess, []byte("exit"))
	if !o.Exit || o.Code != protocol.ExitSentinel {
		t.Fatalf("outcome = %+v", o)
	}
	if out.Len() != 0 {
		t.Errorf("sentinel was relayed: %q", out.String())
	}
}

func TestRelay_NearSentinels(t *testing.T) {
	for _, chunk := range []string{"exit\n", "EXIT", " exit", "exi", "exits"} {
		sess, out, _ := newSession(nil)
		if o := (&Relay{}).Chunk(sess, []byte(chunk)); o.Exit {
			t.Errorf("%q ended the run", chunk)
		}
		if out.String() != chunk {
			t.Errorf("%q relayed as %q", chunk, out.String())
		}
	}
}

func TestRelay_InvalidUTF8(t *testing.T) {
	sess, out, _ := newSession(nil)
	(&Relay{}).Chunk(sess, []byte{'a', 0xff, 'b'})
	if out.String() != "a�b" {
		t.Errorf("stdout = %q", out.String())
	}
}

func TestRelay_WriteErrorIsCounted(t *testing.T) {
	sess, _, _ := newSession(nil)
	sess.Stdout = errWriter{}

	if o := (&Relay{}).Chunk(sess, []byte("lost")); o.Exit {
		t.Error("write error must not end the run")
	}
	if sess.Metrics.WriteErrors() != 1 {
		t.Errorf("write errors = %d", sess.Metrics.WriteErrors())
	}
}

// ── Control ──────────────────────────────────────────────────────────

func TestControl_Writes(t *testing.T) {
	sess, out, errOut := newSession(nil)
	c := &Control{}

	c.Dispatch(sess, protocol.Write{Stream: protocol.Stdout, Event: protocol.EventData, Text: "out"})
	c.Dispatch(sess, protocol.Write{Stream: protocol.Stderr, Event: protocol.EventData, Text: "err"})

	if out.String() != "out" || errOut.String() != "err" {
		t.Errorf("stdout=%q stderr=%q", out.String(), errOut.String())
	}
	if sess.Metrics.TotalBytesOut() != 3 || sess.Metrics.TotalBytesErr() != 3 {
		t.Errorf("out=%d err=%d", sess.Metrics.TotalBytesOut(), sess.Metrics.TotalBytesErr())
	}
}

func TestControl_Forward(t *testing.T) {
	ch := &fakeChannel{}
	sess, _, _ := newSession(ch)

	o := (&Control{}).Dispatch(sess, protocol.Forward{Payload: json.RawMessage(`{ "id": 7 }`)})
	if o.Exit {
		t.Fatal("forward ended the run")
	}
	if len(ch.sent) != 1 || ch.sent[0] != `{"id":7}` {
		t.Errorf("sent = %q", ch.sent)
	}
	if sess.Metrics.Forwarded() != 1 {
		t.Errorf("forwarded = %d", sess.Metrics.Forwarded())
	}
}

func TestControl_ForwardHandle(t *testing.T) {
	ch := &fakeChannel{}
	sess, _, _ := newSession(ch)

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	(&Control{}).Dispatch(sess, protocol.Forward{Payload: json.RawMessage(`"x"`), Handle: w})

	if len(ch.files) != 1 || ch.files[0] != w {
		t.Fatalf("files = %v", ch.files)
	}
	// The worker's copy is released after the send.
	if _, err := w.Write([]byte("x")); !errors.Is(err, os.ErrClosed) {
		t.Errorf("handle still open: %v", err)
	}
}

func TestControl_ForwardWithoutChannel(t *testing.T) {
	sess, _, _ := newSession(nil)
	if o := (&Control{}).Dispatch(sess, protocol.Forward{Payload: json.RawMessage(`1`)}); o.Exit {
		t.Error("forward without a channel must not end the run")
	}
	if sess.Metrics.Forwarded() != 0 {
		t.Error("nothing should be forwarded")
	}
}

func TestControl_ForwardSendError(t *testing.T) {
	ch := &fakeChannel{sendErr: relayerr.Wrap("send", 3, relayerr.ErrChannelClosed)}
	sess, _, _ := newSession(ch)

	(&Control{}).Dispatch(sess, protocol.Forward{Payload: json.RawMessage(`1`)})
	if sess.Metrics.WriteErrors() != 1 || sess.Metrics.Forwarded() != 0 {
		t.Errorf("writeErrors=%d forwarded=%d", sess.Metrics.WriteErrors(), sess.Metrics.Forwarded())
	}
}

func TestControl_Disconnect(t *testing.T) {
	ch := &fakeChannel{}
	sess, _, _ := newSession(ch)

	if o := (&Control{}).Dispatch(sess, protocol.Disconnect{}); o.Exit {
		t.Error("disconnect must not end the run")
	}
	if !ch.closed {
		t.Error("channel not closed")
	}

	// Without a channel it is a no-op.
	bare, _, _ := newSession(nil)
	(&Control{}).Dispatch(bare, protocol.Disconnect{})
}

func TestControl_UnknownAndReject(t *testing.T) {
	sess, out, errOut := newSession(nil)
	c := &Control{}

	c.Dispatch(sess, protocol.Unknown{Name: "restart"})
	c.Reject(sess, relayerr.Malformed("stdout", "missing value"))

	if out.Len() != 0 || errOut.Len() != 0 {
		t.Error("no-ops must not produce output")
	}
	if sess.Metrics.Ignored() != 1 || sess.Metrics.Malformed() != 1 {
		t.Errorf("ignored=%d malformed=%d", sess.Metrics.Ignored(), sess.Metrics.Malformed())
	}
}

// ── Trap ─────────────────────────────────────────────────────────────

func TestTrap_Report(t *testing.T) {
	ch := &fakeChannel{}
	sess, _, _ := newSession(ch)

	o := (&Trap{}).Report(sess, protocol.Report{Stack: "stack", Message: "boom"})
	if !o.Exit || o.Code != protocol.ExitFault || !strings.Contains(o.Reason, "boom") {
		t.Errorf("outcome = %+v", o)
	}
	if len(ch.sent) != 1 {
		t.Fatalf("sent %d frames", len(ch.sent))
	}
	r, ok := protocol.DecodeReport([]byte(ch.sent[0]))
	if !ok || r.Message != "boom" || r.Stack != "stack" {
		t.Errorf("report = %+v (%s)", r, ch.sent[0])
	}
	if sess.Metrics.Faults() != 1 {
		t.Errorf("faults = %d", sess.Metrics.Faults())
	}
}

func TestTrap_ReportUndeliverable(t *testing.T) {
	for name, ch := range map[string]*fakeChannel{
		"no channel":  nil,
		"send failed": {sendErr: io.ErrClosedPipe},
	} {
		t.Run(name, func(t *testing.T) {
			sess, _, _ := newSession(ch)
			o := (&Trap{}).Report(sess, protocol.Report{Message: "boom"})
			if !o.Exit || o.Code != protocol.ExitFault {
				t.Errorf("outcome = %+v", o)
			}
		})
	}
}

func TestExitWith(t *testing.T) {
	if Continue.Exit {
		t.Error("Continue must not exit")
	}
	o := ExitWith(42, "sentinel")
	if !o.Exit || o.Code != 42 || o.Reason != "sentinel" {
		t.Errorf("got %+v", o)
	}
}
