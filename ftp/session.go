package ftp

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gonzalop/tunnelcheck/internal/ratelimit"
	"github.com/gonzalop/tunnelcheck/transport"
)

// Session is a logged-in FTP control connection.
type Session struct {
	// conn is the control connection, replaced by a *tls.Conn after AUTH TLS
	conn net.Conn

	// reader buffers the control connection
	reader *bufio.Reader

	// tlsConfig is used for the control handshake and protected data connections
	tlsConfig *tls.Config

	// secure is set once AUTH TLS has succeeded
	secure bool

	// protectData selects PROT P (true) or PROT C (false) on secure sessions
	protectData bool

	timeout time.Duration
	logger  *slog.Logger
	dialer  *net.Dialer
	limiter *ratelimit.Limiter

	// host and port of the control connection
	host string
	port string

	activeMode  bool
	disableEPSV bool

	// welcome is the raw greeting, code included
	welcome string

	// currentType tracks the transfer type to avoid redundant TYPE commands
	currentType string

	closed bool
}

// Connect dials host:port, reads the greeting and logs in.
func Connect(host string, port int, user, password string, options ...Option) (*Session, error) {
	s, err := Dial(net.JoinHostPort(host, strconv.Itoa(port)), options...)
	if err != nil {
		return nil, err
	}

	if err := s.Login(user, password); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// ConnectSecure is Connect with explicit TLS negotiated before the
// credentials are sent.
func ConnectSecure(host string, port int, user, password string, options ...Option) (*Session, error) {
	s, err := Dial(net.JoinHostPort(host, strconv.Itoa(port)), options...)
	if err != nil {
		return nil, err
	}

	if err := s.upgradeToTLS(); err != nil {
		s.abandon()
		return nil, err
	}

	if err := s.Login(user, password); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Dial opens the control connection to addr ("host:port") and reads the
// greeting, without logging in.
func Dial(addr string, options ...Option) (*Session, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}

	s := &Session{
		host:        host,
		port:        port,
		timeout:     transport.DefaultTimeout,
		protectData: true,
		dialer:      &net.Dialer{},
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range options {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	s.dialer.Timeout = s.timeout

	if err := s.connect(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) connect() error {
	addr := net.JoinHostPort(s.host, s.port)
	s.logger.Debug("connecting to ftp server", "addr", addr)

	conn, err := s.dialer.Dial("tcp", addr)
	if err != nil {
		return &transport.ConnectionError{Op: "dial", Addr: addr, Err: err}
	}
	s.conn = conn
	s.reader = bufio.NewReader(conn)

	resp, err := s.readReply()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to read greeting: %w", err)
	}

	if resp.Code != 220 {
		conn.Close()
		return newProtocolError("CONNECT", resp)
	}

	s.welcome = resp.String()
	return nil
}

// upgradeToTLS runs AUTH TLS, the handshake, PBSZ 0 and PROT P (or PROT C).
func (s *Session) upgradeToTLS() error {
	if s.tlsConfig == nil {
		if err := WithTLSConfig(&tls.Config{ServerName: s.host})(s); err != nil {
			return err
		}
	}

	if _, err := s.expectCode(234, "AUTH", "TLS"); err != nil {
		return fmt.Errorf("AUTH TLS failed: %w", err)
	}

	s.logger.Debug("starting TLS handshake", "mode", "explicit")
	tlsConn := tls.Client(s.conn, s.tlsConfig)

	if s.timeout > 0 {
		if err := s.conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
			return fmt.Errorf("failed to set deadline: %w", err)
		}
	}

	if err := tlsConn.Handshake(); err != nil {
		if transport.IsTimeout(err) {
			return &transport.TimeoutError{Op: "tls handshake", Err: err}
		}
		return &transport.TLSError{Addr: net.JoinHostPort(s.host, s.port), Err: err}
	}
	s.logger.Debug("TLS handshake complete", "mode", "explicit")

	s.conn = tlsConn
	s.reader = bufio.NewReader(tlsConn)
	s.secure = true

	if _, err := s.expectCode(200, "PBSZ", "0"); err != nil {
		return fmt.Errorf("PBSZ failed: %w", err)
	}

	level := "P"
	if !s.protectData {
		level = "C"
	}
	if _, err := s.expectCode(200, "PROT", level); err != nil {
		return fmt.Errorf("PROT failed: %w", err)
	}

	return nil
}

// Login authenticates with USER and, when asked for one, PASS. A rejected
// login is reported as a *transport.ConnectionError wrapping the
// *ProtocolError of the refused command.
func (s *Session) Login(user, password string) error {
	addr := net.JoinHostPort(s.host, s.port)

	resp, err := s.sendCommand("USER", user)
	if err != nil {
		return err
	}

	switch resp.Code {
	case 230:
		return nil
	case 331, 332:
	default:
		return &transport.ConnectionError{Op: "login", Addr: addr, Err: newProtocolError("USER "+user, resp)}
	}

	resp, err = s.sendCommand("PASS", password)
	if err != nil {
		return err
	}
	if resp.Code != 230 && resp.Code != 202 {
		return &transport.ConnectionError{Op: "login", Addr: addr, Err: newProtocolError("PASS", resp)}
	}
	return nil
}

// Welcome returns the greeting received at connect time, including the
// reply code. Lines of a multi-line greeting are joined with "\n".
func (s *Session) Welcome() string {
	return s.welcome
}

// WorkingDirectory returns the current remote directory (PWD).
func (s *Session) WorkingDirectory() (string, error) {
	resp, err := s.expectCode(257, "PWD")
	if err != nil {
		return "", err
	}

	dir, ok := parseQuotedPath(resp.Message)
	if !ok {
		return "", fmt.Errorf("ftp: unexpected PWD reply: %q", resp.Message)
	}
	return dir, nil
}

// parseQuotedPath extracts the path from a 257 reply such as
// `"/pub/my ""quoted"" dir" is current directory`. Doubled quotes stand for
// one quote character.
func parseQuotedPath(message string) (string, bool) {
	start := strings.IndexByte(message, '"')
	if start < 0 {
		return "", false
	}

	var b strings.Builder
	rest := message[start+1:]
	for i := 0; i < len(rest); i++ {
		if rest[i] != '"' {
			b.WriteByte(rest[i])
			continue
		}
		if i+1 < len(rest) && rest[i+1] == '"' {
			b.WriteByte('"')
			i++
			continue
		}
		return b.String(), true
	}
	return "", false
}

// ChangeDirectory changes the remote working directory (CWD).
func (s *Session) ChangeDirectory(path string) error {
	_, err := s.expect2xx("CWD", path)
	return err
}

// setType sets the transfer type ("A" or "I").
func (s *Session) setType(transferType string) error {
	if s.currentType == transferType {
		return nil
	}
	if _, err := s.expectCode(200, "TYPE", transferType); err != nil {
		return err
	}
	s.currentType = transferType
	return nil
}

// Close sends QUIT and closes the control connection. It never fails and
// may be called any number of times.
func (s *Session) Close() error {
	if s == nil || s.closed || s.conn == nil {
		return nil
	}
	s.closed = true

	if _, err := s.sendCommand("QUIT"); err != nil {
		s.logger.Debug("QUIT failed", "error", err)
	}
	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Debug("closing control connection", "error", err)
	}
	return nil
}

// abandon closes the control connection without QUIT, used when the
// session never became usable.
func (s *Session) abandon() {
	s.closed = true
	_ = s.conn.Close()
}
