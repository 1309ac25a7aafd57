//go:build unix

package transport

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	relayerr "ipcrelay/internal/errors"
	"ipcrelay/util"
)

const (
	readBufSize = 64 * 1024

	// maxHandlesPerRead sizes the ancillary buffer for one read.
	maxHandlesPerRead = 16
)

// SocketChannel is a Channel over a Unix stream socket.  Descriptors
// travel as SCM_RIGHTS ancillary data and are queued in arrival order.
//
// Recv must only be called from one goroutine.  Send, TakeHandle and
// Close may be called from any goroutine.
type SocketChannel struct {
	conn *net.UnixConn
	opts Options

	// read side, owned by the Recv caller
	rbuf    []byte
	oob     []byte
	pending []byte
	frames  [][]byte
	rerr    error

	hmu     sync.Mutex
	handles []*os.File

	wmu    sync.Mutex
	once   sync.Once
	closed atomic.Bool
}

// Open wraps the inherited descriptor fd as a control channel.  The
// descriptor must be a Unix stream socket; it is duplicated, so the
// original number is closed before Open returns.
func Open(fd int, opts Options) (Channel, error) {
	opts.FD = fd

	f, err := util.InheritedFile(fd, "ipc-channel")
	if err != nil {
		return nil, relayerr.Wrap("open", fd, err)
	}
	conn, err := net.FileConn(f)
	f.Close() //nolint:errcheck
	if err != nil {
		return nil, relayerr.Wrap("open", fd, err)
	}
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		conn.Close() //nolint:errcheck
		return nil, relayerr.Wrap("open", fd, fmt.Errorf("descriptor is a %s socket, want unix", conn.LocalAddr().Network()))
	}
	return NewSocketChannel(uc, opts), nil
}

// NewSocketChannel wraps an established Unix socket connection.
func NewSocketChannel(conn *net.UnixConn, opts Options) *SocketChannel {
	if opts.FD == 0 {
		opts.FD = -1
	}
	return &SocketChannel{
		conn: conn,
		opts: opts,
		rbuf: make([]byte, readBufSize),
		oob:  make([]byte, unix.CmsgSpace(maxHandlesPerRead*4)),
	}
}

// Recv implements Channel.
func (c *SocketChannel) Recv() ([]byte, error) {
	for len(c.frames) == 0 {
		if c.rerr != nil {
			return nil, c.rerr
		}
		c.fill()
	}
	frame := c.frames[0]
	c.frames = c.frames[1:]
	return frame, nil
}

// fill performs one read, queueing any complete frames and descriptors.
func (c *SocketChannel) fill() {
	n, oobn, _, _, err := c.conn.ReadMsgUnix(c.rbuf, c.oob)
	if oobn > 0 {
		c.queueRights(c.oob[:oobn])
	}
	if n > 0 {
		c.split(c.rbuf[:n])
	}

	switch {
	case err != nil && (c.closed.Load() || relayerr.IsClosed(err)):
		c.rerr = io.EOF
	case err != nil:
		c.rerr = relayerr.Wrap("recv", c.opts.FD, err)
	case n == 0 && oobn == 0:
		c.rerr = io.EOF // orderly shutdown by the peer
	}
}

func (c *SocketChannel) split(data []byte) {
	c.pending = append(c.pending, data...)

	start := 0
	for {
		i := bytes.IndexByte(c.pending[start:], '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSuffix(c.pending[start:start+i], []byte{'\r'})
		start += i + 1
		if len(line) == 0 {
			continue
		}
		if len(line) > c.opts.maxFrame() {
			c.rerr = relayerr.Wrap("recv", c.opts.FD, relayerr.ErrFrameTooLarge)
			continue
		}
		c.frames = append(c.frames, append([]byte(nil), line...))
	}
	if start > 0 {
		c.pending = append([]byte(nil), c.pending[start:]...)
	}

	if len(c.pending) > c.opts.maxFrame() {
		c.pending = nil
		c.rerr = relayerr.Wrap("recv", c.opts.FD, relayerr.ErrFrameTooLarge)
	}
}

func (c *SocketChannel) queueRights(oob []byte) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return
	}
	c.hmu.Lock()
	defer c.hmu.Unlock()
	for i := range msgs {
		fds, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			continue
		}
		for _, fd := range fds {
			f := os.NewFile(uintptr(fd), "ipc-handle")
			if c.closed.Load() {
				f.Close() //nolint:errcheck
				continue
			}
			c.handles = append(c.handles, f)
		}
	}
}

// TakeHandle implements Channel.
func (c *SocketChannel) TakeHandle() (*os.File, bool) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	if len(c.handles) == 0 {
		return nil, false
	}
	f := c.handles[0]
	c.handles = c.handles[1:]
	return f, true
}

// Send implements Channel.
func (c *SocketChannel) Send(frame []byte, files ...*os.File) error {
	if c.closed.Load() {
		return relayerr.Wrap("send", c.opts.FD, relayerr.ErrChannelClosed)
	}
	if bytes.IndexByte(frame, '\n') >= 0 {
		return relayerr.Wrap("send", c.opts.FD, fmt.Errorf("frame contains a newline"))
	}

	msg := make([]byte, 0, len(frame)+1)
	msg = append(msg, frame...)
	msg = append(msg, '\n')

	var oob []byte
	if len(files) > 0 {
		fds := make([]int, len(files))
		for i, f := range files {
			fds[i] = int(f.Fd())
		}
		oob = unix.UnixRights(fds...)
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.opts.SendTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.opts.SendTimeout)) //nolint:errcheck
		defer c.conn.SetWriteDeadline(time.Time{})                   //nolint:errcheck
	}

	// Descriptors ride on the first write; a short write finishes
	// without them.
	n, _, err := c.conn.WriteMsgUnix(msg, oob, nil)
	if err == nil && n < len(msg) {
		_, err = c.conn.Write(msg[n:])
	}
	if err != nil {
		if c.closed.Load() {
			err = relayerr.ErrChannelClosed
		}
		return relayerr.Wrap("send", c.opts.FD, err)
	}
	return nil
}

// Close implements Channel.
func (c *SocketChannel) Close() error {
	var err error
	c.once.Do(func() {
		c.closed.Store(true)
		err = c.conn.Close()

		c.hmu.Lock()
		for _, f := range c.handles {
			f.Close() //nolint:errcheck
		}
		c.handles = nil
		c.hmu.Unlock()
	})
	return err
}

// Pair returns two connected channels backed by a socketpair, the
// in-process equivalent of a parent and the worker it spawned.
func Pair(opts Options) (*SocketChannel, *SocketChannel, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, relayerr.Wrap("open", -1, err)
	}

	var conns [2]*net.UnixConn
	for i, fd := range fds {
		f := os.NewFile(uintptr(fd), "ipc-pair")
		conn, err := net.FileConn(f)
		f.Close() //nolint:errcheck
		if err != nil {
			for _, c := range conns[:i] {
				c.Close() //nolint:errcheck
			}
			if i == 0 {
				unix.Close(fds[1]) //nolint:errcheck
			}
			return nil, nil, relayerr.Wrap("open", fd, err)
		}
		conns[i] = conn.(*net.UnixConn)
	}
	return NewSocketChannel(conns[0], opts), NewSocketChannel(conns[1], opts), nil
}
