package transport

import (
	"errors"
	"fmt"
	"net"
)

// ConnectionError reports that a peer could not be reached, or that it
// refused to establish a session (for example, rejected credentials).
type ConnectionError struct {
	// Op is the operation that failed (e.g., "dial", "login")
	Op string

	// Addr is the remote address in "host:port" form
	Addr string

	// Err is the underlying cause
	Err error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("transport: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TLSError reports a failed TLS handshake, including certificate
// verification failures.
type TLSError struct {
	Addr string
	Err  error
}

// Error implements the error interface.
func (e *TLSError) Error() string {
	return fmt.Sprintf("transport: TLS handshake with %s failed: %v", e.Addr, e.Err)
}

func (e *TLSError) Unwrap() error { return e.Err }

// TimeoutError reports that no data arrived (or could be sent) within the
// configured bound.
type TimeoutError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("transport: %s timed out: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Timeout reports true; it lets TimeoutError satisfy net.Error-style checks.
func (e *TimeoutError) Timeout() bool { return true }

// Classify converts deadline expiries into *TimeoutError and returns any
// other error unchanged. A nil error stays nil.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Op: op, Err: err}
	}

	return err
}

// IsTimeout reports whether err is, or wraps, a timeout.
func IsTimeout(err error) bool {
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
