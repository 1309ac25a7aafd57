//go:build unix

package transport

import (
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	relayerr "ipcrelay/internal/errors"
)

func newPair(t *testing.T, opts Options) (*SocketChannel, *SocketChannel) {
	t.Helper()
	a, b, err := Pair(opts)
	if err != nil {
		t.Fatalf("Pair: %v", err)
	}
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func TestSocketChannel_Frames(t *testing.T) {
	parent, child := newPair(t, Options{})

	for _, f := range []string{`["stdout",["data",["hi"]]]`, `["disconnect"]`} {
		if err := parent.Send([]byte(f)); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	for _, want := range []string{`["stdout",["data",["hi"]]]`, `["disconnect"]`} {
		got, err := child.Recv()
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if string(got) != want {
			t.Errorf("frame = %s, want %s", got, want)
		}
	}
}

func TestSocketChannel_SplitWrites(t *testing.T) {
	parent, child := newPair(t, Options{})

	// Bytes arriving in arbitrary pieces still form whole frames.
	raw := "[\"a\"]\n\n[\"b\"]\r\n[\"c"
	if _, err := parent.conn.Write([]byte(raw)); err != nil {
		t.Fatal(err)
	}
	go func() {
		time.Sleep(10 * time.Millisecond)
		parent.conn.Write([]byte("\"]\n")) //nolint:errcheck
	}()

	for _, want := range []string{`["a"]`, `["b"]`, `["c"]`} {
		got, err := child.Recv()
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if string(got) != want {
			t.Errorf("frame = %q, want %q", got, want)
		}
	}
}

func TestSocketChannel_EOF(t *testing.T) {
	parent, child := newPair(t, Options{})

	parent.Send([]byte(`["last"]`)) //nolint:errcheck
	parent.Close()

	if got, err := child.Recv(); err != nil || string(got) != `["last"]` {
		t.Fatalf("Recv = %q, %v", got, err)
	}
	if _, err := child.Recv(); !errors.Is(err, io.EOF) {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestSocketChannel_CloseUnblocksRecv(t *testing.T) {
	_, child := newPair(t, Options{})

	errCh := make(chan error, 1)
	go func() {
		_, err := child.Recv()
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	child.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, io.EOF) {
			t.Errorf("err = %v, want io.EOF", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Recv did not return after Close")
	}
}

func TestSocketChannel_SendAfterClose(t *testing.T) {
	_, child := newPair(t, Options{})
	child.Close()
	child.Close() // idempotent

	err := child.Send([]byte(`{}`))
	if !errors.Is(err, relayerr.ErrChannelClosed) {
		t.Errorf("err = %v, want ErrChannelClosed", err)
	}
}

func TestSocketChannel_SendRejectsNewline(t *testing.T) {
	parent, _ := newPair(t, Options{})
	if err := parent.Send([]byte("a\nb")); err == nil {
		t.Error("expected error for embedded newline")
	}
}

func TestSocketChannel_FrameTooLarge(t *testing.T) {
	parent, child := newPair(t, Options{MaxFrameSize: 16})

	go parent.Send([]byte(`"` + strings.Repeat("x", 64) + `"`)) //nolint:errcheck

	_, err := child.Recv()
	if !errors.Is(err, relayerr.ErrFrameTooLarge) {
		t.Errorf("err = %v, want ErrFrameTooLarge", err)
	}
}

func TestSocketChannel_Handles(t *testing.T) {
	parent, child := newPair(t, Options{})

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if err := parent.Send([]byte(`["message",["x",{}]]`), w); err != nil {
		t.Fatalf("Send: %v", err)
	}
	w.Close() // the peer holds its own copy now

	if _, err := child.Recv(); err != nil {
		t.Fatalf("Recv: %v", err)
	}
	h, ok := child.TakeHandle()
	if !ok {
		t.Fatal("expected a descriptor")
	}
	if _, ok := child.TakeHandle(); ok {
		t.Error("only one descriptor was sent")
	}

	if _, err := h.Write([]byte("via handle")); err != nil {
		t.Fatalf("write through handle: %v", err)
	}
	h.Close()

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "via handle" {
		t.Errorf("pipe got %q", got)
	}
}

func TestSocketChannel_CloseReleasesHandles(t *testing.T) {
	parent, child := newPair(t, Options{})

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	parent.Send([]byte(`["message",["x",{}]]`), w) //nolint:errcheck
	w.Close()
	if _, err := child.Recv(); err != nil {
		t.Fatalf("Recv: %v", err)
	}

	// Unclaimed descriptor is closed with the channel, so the pipe
	// reader sees EOF.
	child.Close()
	got, err := io.ReadAll(r)
	if err != nil || len(got) != 0 {
		t.Errorf("ReadAll = %q, %v", got, err)
	}
}

func TestOpen_InheritedDescriptor(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatal(err)
	}
	peer := os.NewFile(uintptr(fds[1]), "peer")
	defer peer.Close()

	ch, err := Open(fds[0], Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ch.Close()

	if _, err := peer.Write([]byte("[\"hello\"]\n")); err != nil {
		t.Fatal(err)
	}
	got, err := ch.Recv()
	if err != nil || string(got) != `["hello"]` {
		t.Errorf("Recv = %q, %v", got, err)
	}
}

func TestOpen_NotASocket(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	fd, err := unix.Dup(int(r.Fd()))
	r.Close()
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Open(fd, Options{}); err == nil {
		t.Fatal("expected error for a pipe descriptor")
	}
}

func TestOpen_BadDescriptor(t *testing.T) {
	_, err := Open(9999, Options{})
	var ce *relayerr.ChannelError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ChannelError", err)
	}
	if ce.FD != 9999 || ce.Op != "open" {
		t.Errorf("got %+v", ce)
	}
}
