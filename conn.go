package mysmtp

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// ErrDeadlineExceeded is returned when a read deadline has already passed.
var ErrDeadlineExceeded = errors.New("deadline exceeded")

// Conn is the byte stream an Engine talks over. It lets the engine run on a
// net.Conn or on an io.Reader/io.Writer pair while still honoring timeouts.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer

	// SetReadDeadline sets the deadline for future Read calls.
	SetReadDeadline(t time.Time) error

	// SetWriteDeadline sets the deadline for future Write calls.
	SetWriteDeadline(t time.Time) error
}

// NetConn wraps a net.Conn to implement the Conn interface.
type NetConn struct {
	conn net.Conn
}

// WrapNetConn wraps a net.Conn.
func WrapNetConn(conn net.Conn) *NetConn {
	return &NetConn{conn: conn}
}

func (c *NetConn) Read(p []byte) (n int, err error) {
	return c.conn.Read(p)
}

func (c *NetConn) Write(p []byte) (n int, err error) {
	return c.conn.Write(p)
}

func (c *NetConn) Close() error {
	return c.conn.Close()
}

func (c *NetConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *NetConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

// ConnectionInfo reports the remote address of the wrapped connection.
func (c *NetConn) ConnectionInfo() ConnectionInfo {
	info := ConnectionInfo{}
	if addr := c.conn.RemoteAddr(); addr != nil {
		info.RemoteAddr = addr.String()
	}
	return info
}

// PipeConn wraps io.Reader/io.Writer pairs for testing.
type PipeConn struct {
	reader       io.Reader
	writer       io.Writer
	readDeadline time.Time
	mu           sync.Mutex
	closed       bool
}

// WrapPipe wraps an io.Reader and io.Writer as a Conn.
func WrapPipe(r io.Reader, w io.Writer) *PipeConn {
	return &PipeConn{
		reader: r,
		writer: w,
	}
}

func (c *PipeConn) Read(p []byte) (n int, err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	deadline := c.readDeadline
	c.mu.Unlock()

	if !deadline.IsZero() && time.Now().After(deadline) {
		return 0, ErrDeadlineExceeded
	}

	// Blocking reads only time out if the reader itself supports deadlines,
	// such as harness.PipeBuffer.
	return c.reader.Read(p)
}

func (c *PipeConn) Write(p []byte) (n int, err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	c.mu.Unlock()
	return c.writer.Write(p)
}

func (c *PipeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	if closer, ok := c.reader.(io.Closer); ok {
		closer.Close()
	}
	if closer, ok := c.writer.(io.Closer); ok {
		closer.Close()
	}
	return nil
}

func (c *PipeConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readDeadline = t

	if dl, ok := c.reader.(interface{ SetReadDeadline(time.Time) error }); ok {
		return dl.SetReadDeadline(t)
	}
	return nil
}

func (c *PipeConn) SetWriteDeadline(t time.Time) error {
	if dl, ok := c.writer.(interface{ SetWriteDeadline(time.Time) error }); ok {
		return dl.SetWriteDeadline(t)
	}
	return nil
}

// isTimeout reports whether err is a read deadline expiry.
func isTimeout(err error) bool {
	if errors.Is(err, ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
