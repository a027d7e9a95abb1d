package ftp

import (
	"crypto/tls"
	"log/slog"
	"net"
	"time"

	"github.com/gonzalop/tunnelcheck/internal/ratelimit"
)

// Option is a functional option for configuring a Session.
type Option func(*Session) error

// WithTimeout sets the bound for every blocking step: dialing, each reply,
// the TLS handshakes and each read or write on a data connection.
// Zero disables deadlines.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Session) error {
		s.timeout = timeout
		return nil
	}
}

// WithTLSConfig sets the TLS configuration used by ConnectSecure for the
// control and data connections. Without it ConnectSecure verifies the
// server certificate against the host name.
//
// A ClientSessionCache is added when missing so data connections can resume
// the control connection's TLS session, which vsftpd and ProFTPD require.
func WithTLSConfig(config *tls.Config) Option {
	return func(s *Session) error {
		if config == nil {
			return nil
		}
		config = config.Clone()
		if config.ClientSessionCache == nil {
			config.ClientSessionCache = tls.NewLRUClientSessionCache(0)
		}
		s.tlsConfig = config
		return nil
	}
}

// WithClearDataChannel keeps data connections unencrypted on a secure
// session by sending PROT C instead of PROT P. The control connection stays
// encrypted. It has no effect on plain sessions.
func WithClearDataChannel() Option {
	return func(s *Session) error {
		s.protectData = false
		return nil
	}
}

// WithLogger enables debug logging of every command and reply.
// Passwords are masked.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// WithDialer sets a custom net.Dialer for the control and passive data
// connections. Its Timeout is overwritten by the session timeout.
func WithDialer(dialer *net.Dialer) Option {
	return func(s *Session) error {
		if dialer != nil {
			s.dialer = dialer
		}
		return nil
	}
}

// WithActiveMode enables active mode (PORT/EPRT) instead of passive mode.
// The server connects back to a port opened by the client, which usually
// fails behind NAT.
func WithActiveMode() Option {
	return func(s *Session) error {
		s.activeMode = true
		return nil
	}
}

// WithDisableEPSV skips EPSV and goes straight to PASV in passive mode.
func WithDisableEPSV() Option {
	return func(s *Session) error {
		s.disableEPSV = true
		return nil
	}
}

// WithBandwidthLimit caps RetrieveFile at bytesPerSecond. Zero or a
// negative value means unlimited.
func WithBandwidthLimit(bytesPerSecond int64) Option {
	return func(s *Session) error {
		s.limiter = ratelimit.New(bytesPerSecond)
		return nil
	}
}
