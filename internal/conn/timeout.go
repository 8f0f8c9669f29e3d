package conn

import (
	"net"
	"time"
)

// Millis converts a millisecond timeout setting to a Duration. Zero and
// negative values mean no timeout and map to 0.
func Millis(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// WithTimeouts wraps c so that every Write must finish within send and every
// Read within recv. A zero duration leaves that direction unbounded. If both
// are zero, c is returned unchanged.
//
// A timed out operation returns an error satisfying os.ErrDeadlineExceeded.
func WithTimeouts(c net.Conn, send, recv time.Duration) net.Conn {
	if send <= 0 && recv <= 0 {
		return c
	}
	return &timeoutConn{Conn: c, send: send, recv: recv}
}

type timeoutConn struct {
	net.Conn
	send time.Duration
	recv time.Duration
}

func (c *timeoutConn) Read(b []byte) (int, error) {
	if c.recv > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.recv)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

func (c *timeoutConn) Write(b []byte) (int, error) {
	if c.send > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.send)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(b)
}
