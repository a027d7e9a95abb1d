// Package transport provides the byte-stream capability shared by the echo
// server and its clients.
//
// Plain TCP and TLS streams are two variants of the same Conn interface, so
// call sites never inspect the concrete connection type. Every blocking call
// is bounded by the configured timeout; an expired deadline is reported as a
// *TimeoutError and an orderly close by the peer as io.EOF.
package transport

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// Conn is a bidirectional byte stream.
type Conn interface {
	// Send writes all of p or returns an error.
	Send(p []byte) error

	// Receive reads up to len(p) bytes. It returns io.EOF once the peer
	// has closed its side.
	Receive(p []byte) (int, error)

	// Close releases the connection. Calling it more than once is safe.
	Close() error

	// RemoteAddr returns the peer address.
	RemoteAddr() net.Addr
}

// Listener accepts Conns of a single variant.
type Listener interface {
	Accept() (Conn, error)
	Close() error
	Addr() net.Addr
}

// streamConn implements Conn on top of a net.Conn, plain or TLS.
type streamConn struct {
	conn    net.Conn
	timeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

func newStreamConn(conn net.Conn, timeout time.Duration) *streamConn {
	return &streamConn{conn: conn, timeout: timeout}
}

func (c *streamConn) Send(p []byte) error {
	if c.timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
	}
	if _, err := c.conn.Write(p); err != nil {
		return Classify("send", err)
	}
	return nil
}

func (c *streamConn) Receive(p []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, fmt.Errorf("failed to set read deadline: %w", err)
		}
	}
	n, err := c.conn.Read(p)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return n, io.EOF
		}
		return n, Classify("receive", err)
	}
	return n, nil
}

func (c *streamConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *streamConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Dial connects to addr. With WithTLS the TLS handshake is completed before
// Dial returns, so certificate problems surface here as *TLSError.
func Dial(addr string, options ...Option) (Conn, error) {
	o := newOptions(options)

	raw, err := o.dialer.Dial("tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Addr: addr, Err: err}
	}

	if o.tlsConfig == nil {
		return newStreamConn(raw, o.timeout), nil
	}

	tlsConn := tls.Client(raw, o.tlsConfig)
	if err := handshake(tlsConn, raw, addr, o.timeout); err != nil {
		raw.Close()
		return nil, err
	}

	return newStreamConn(tlsConn, o.timeout), nil
}

// Listen opens a listener on addr. With WithTLS each accepted connection is
// handshaken eagerly.
func Listen(addr string, options ...Option) (Listener, error) {
	o := newOptions(options)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	return &listener{ln: ln, tlsConfig: o.tlsConfig, timeout: o.timeout}, nil
}

type listener struct {
	ln        net.Listener
	tlsConfig *tls.Config
	timeout   time.Duration
}

func (l *listener) Accept() (Conn, error) {
	raw, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}

	if l.tlsConfig == nil {
		return newStreamConn(raw, l.timeout), nil
	}

	tlsConn := tls.Server(raw, l.tlsConfig)
	if err := handshake(tlsConn, raw, raw.RemoteAddr().String(), l.timeout); err != nil {
		raw.Close()
		return nil, err
	}

	return newStreamConn(tlsConn, l.timeout), nil
}

func (l *listener) Close() error {
	return l.ln.Close()
}

func (l *listener) Addr() net.Addr {
	return l.ln.Addr()
}

// handshake runs the TLS handshake under the timeout and clears the deadline
// afterwards; per-call deadlines take over from there.
func handshake(tlsConn *tls.Conn, raw net.Conn, addr string, timeout time.Duration) error {
	if timeout > 0 {
		if err := raw.SetDeadline(time.Now().Add(timeout)); err != nil {
			return fmt.Errorf("failed to set deadline: %w", err)
		}
	}

	if err := tlsConn.Handshake(); err != nil {
		if IsTimeout(err) {
			return &TimeoutError{Op: "tls handshake", Err: err}
		}
		return &TLSError{Addr: addr, Err: err}
	}

	return raw.SetDeadline(time.Time{})
}
