package ftp

import (
	"net"
	"time"

	"github.com/gonzalop/tunnelcheck/transport"
)

// deadlineConn wraps a data connection and arms a fresh deadline before
// every read or write. Expired deadlines come back as *transport.TimeoutError.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	n, err := c.Conn.Read(b)
	return n, transport.Classify("data read", err)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	n, err := c.Conn.Write(b)
	return n, transport.Classify("data write", err)
}
