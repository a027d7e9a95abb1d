package transport

import (
	"crypto/tls"
	"net"
	"time"
)

// DefaultTimeout bounds every blocking read, write and handshake.
const DefaultTimeout = 5 * time.Second

// Option is a functional option for Dial and Listen.
type Option func(*options)

type options struct {
	tlsConfig *tls.Config
	timeout   time.Duration
	dialer    *net.Dialer
}

func newOptions(opts []Option) *options {
	o := &options{
		timeout: DefaultTimeout,
		dialer:  &net.Dialer{},
	}
	for _, opt := range opts {
		opt(o)
	}
	o.dialer.Timeout = o.timeout
	return o
}

// WithTLS selects the TLS variant. For Dial the config should carry the
// ServerName (or InsecureSkipVerify for self-signed test peers); for Listen
// it must contain at least one certificate.
func WithTLS(config *tls.Config) Option {
	return func(o *options) {
		o.tlsConfig = config
	}
}

// WithTimeout sets the per-operation deadline. Zero disables deadlines.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.timeout = timeout
	}
}

// WithDialer sets a custom net.Dialer for outgoing connections.
func WithDialer(dialer *net.Dialer) Option {
	return func(o *options) {
		if dialer != nil {
			o.dialer = dialer
		}
	}
}
