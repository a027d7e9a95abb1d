package ftp

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"time"

	"github.com/gonzalop/tunnelcheck/transport"
)

var (
	// pasvRegex matches the PASV reply format: 227 Entering Passive Mode (h1,h2,h3,h4,p1,p2)
	pasvRegex = regexp.MustCompile(`\((\d+),(\d+),(\d+),(\d+),(\d+),(\d+)\)`)

	// epsvRegex matches the EPSV reply format: 229 Entering Extended Passive Mode (|||port|)
	epsvRegex = regexp.MustCompile(`\(\|\|\|(\d+)\|\)`)
)

// parsePASV parses a PASV reply and returns "host:port".
// "227 Entering Passive Mode (192,168,1,1,195,149)" gives "192.168.1.1:50069".
func parsePASV(response string) (string, error) {
	matches := pasvRegex.FindStringSubmatch(response)
	if len(matches) != 7 {
		return "", fmt.Errorf("invalid PASV response: %s", response)
	}

	var parts [6]int
	for i := range parts {
		val, err := strconv.Atoi(matches[i+1])
		if err != nil || val < 0 || val > 255 {
			return "", fmt.Errorf("invalid PASV field: %s", matches[i+1])
		}
		parts[i] = val
	}

	host := fmt.Sprintf("%d.%d.%d.%d", parts[0], parts[1], parts[2], parts[3])
	port := parts[4]*256 + parts[5]
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

// parseEPSV parses an EPSV reply and returns the port.
func parseEPSV(response string) (string, error) {
	matches := epsvRegex.FindStringSubmatch(response)
	if len(matches) != 2 {
		return "", fmt.Errorf("invalid EPSV response: %s", response)
	}

	port, err := strconv.Atoi(matches[1])
	if err != nil || port <= 0 || port > 65535 {
		return "", fmt.Errorf("invalid EPSV port: %s", matches[1])
	}
	return matches[1], nil
}

// formatPORT converts "192.168.1.100:50000" to "192,168,1,100,195,80".
func formatPORT(addr string) (string, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", err
	}
	ip := net.ParseIP(host).To4()
	if ip == nil {
		return "", fmt.Errorf("PORT requires an IPv4 address, got %q", host)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", fmt.Errorf("invalid port: %s", portStr)
	}
	return fmt.Sprintf("%d,%d,%d,%d,%d,%d", ip[0], ip[1], ip[2], ip[3], port/256, port%256), nil
}

// formatEPRT formats an address for EPRT: |net-prt|net-addr|tcp-port|
func formatEPRT(addr string) (string, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return "", fmt.Errorf("invalid IP address: %s", host)
	}
	family := 2
	if ip.To4() != nil {
		family = 1
	}
	return fmt.Sprintf("|%d|%s|%s|", family, host, portStr), nil
}

// resolveDataAddr replaces an unroutable 0.0.0.0 in a PASV reply with the
// control connection host.
func resolveDataAddr(pasvAddr, controlHost string) string {
	host, port, err := net.SplitHostPort(pasvAddr)
	if err != nil {
		return pasvAddr
	}
	if host == "0.0.0.0" {
		return net.JoinHostPort(controlHost, port)
	}
	return pasvAddr
}

// dataTLS returns the config for data connections, or nil when data flows
// in the clear.
func (s *Session) dataTLS() *tls.Config {
	if !s.secure || !s.protectData {
		return nil
	}
	return s.tlsConfig
}

// openPassiveDataConn connects to the port announced by EPSV or PASV. The
// connection is returned unwrapped; protection is applied once the server
// has accepted the transfer command.
func (s *Session) openPassiveDataConn() (net.Conn, error) {
	var addr string

	if !s.disableEPSV {
		resp, err := s.sendCommand("EPSV")
		if err != nil {
			return nil, err
		}
		switch {
		case resp.Code == 502:
			s.logger.Debug("EPSV not implemented, falling back to PASV")
			s.disableEPSV = true
		case resp.Is2xx():
			if port, err := parseEPSV(resp.String()); err == nil {
				addr = net.JoinHostPort(s.host, port)
			} else {
				s.logger.Debug("unusable EPSV reply, falling back to PASV", "error", err)
			}
		}
	}

	if addr == "" {
		resp, err := s.expect2xx("PASV")
		if err != nil {
			return nil, err
		}
		addr, err = parsePASV(resp.String())
		if err != nil {
			return nil, err
		}
		addr = resolveDataAddr(addr, s.host)
	}

	s.logger.Debug("opening passive data connection", "addr", addr)
	raw, err := s.dialer.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to data port: %w", transport.Classify("data dial", err))
	}
	return raw, nil
}

// wrapData applies data channel protection and per-operation deadlines.
func (s *Session) wrapData(raw net.Conn, addr string) (net.Conn, error) {
	conn := raw
	if cfg := s.dataTLS(); cfg != nil {
		tlsConn := tls.Client(raw, cfg)
		if s.timeout > 0 {
			_ = raw.SetDeadline(time.Now().Add(s.timeout))
		}
		if err := tlsConn.Handshake(); err != nil {
			raw.Close()
			if transport.IsTimeout(err) {
				return nil, &transport.TimeoutError{Op: "data tls handshake", Err: err}
			}
			return nil, &transport.TLSError{Addr: addr, Err: err}
		}
		_ = raw.SetDeadline(time.Time{})
		conn = tlsConn
	}
	return &deadlineConn{Conn: conn, timeout: s.timeout}, nil
}

func (s *Session) openActiveDataConn() (io.ReadCloser, error) {
	host, _, err := net.SplitHostPort(s.conn.LocalAddr().String())
	if err != nil {
		host = "127.0.0.1"
	}

	listener, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}

	addr := listener.Addr().String()
	command, arg := "PORT", ""
	if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
		command = "EPRT"
		arg, err = formatEPRT(addr)
	} else {
		arg, err = formatPORT(addr)
	}
	if err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to format %s command: %w", command, err)
	}

	if _, err := s.expect2xx(command, arg); err != nil {
		listener.Close()
		return nil, err
	}

	return &activeDataConn{session: s, listener: listener}, nil
}

// activeDataConn defers Accept until the first read, since the server only
// connects after the transfer command has been sent.
type activeDataConn struct {
	session  *Session
	listener net.Listener
	conn     net.Conn
}

func (a *activeDataConn) accept() error {
	if a.session.timeout > 0 {
		if l, ok := a.listener.(*net.TCPListener); ok {
			_ = l.SetDeadline(time.Now().Add(a.session.timeout))
		}
	}
	raw, err := a.listener.Accept()
	if err != nil {
		return fmt.Errorf("failed to accept data connection: %w", transport.Classify("data accept", err))
	}
	conn, err := a.session.wrapData(raw, raw.RemoteAddr().String())
	if err != nil {
		return err
	}
	a.conn = conn
	return nil
}

func (a *activeDataConn) Read(p []byte) (int, error) {
	if a.conn == nil {
		if err := a.accept(); err != nil {
			return 0, err
		}
	}
	return a.conn.Read(p)
}

func (a *activeDataConn) Close() error {
	var err error
	if a.conn != nil {
		err = a.conn.Close()
	}
	if lerr := a.listener.Close(); err == nil {
		err = lerr
	}
	return err
}

// cmdDataConnFrom opens a data connection, sends the transfer command and
// checks the preliminary reply. When the server already answered with the
// completion reply, done holds it and no further reply will arrive.
//
// A passive connection is wrapped in TLS only after the preliminary reply,
// because servers start the data handshake once they have seen the command.
func (s *Session) cmdDataConnFrom(command string, args ...string) (conn io.ReadCloser, done *Response, err error) {
	var raw net.Conn
	if s.activeMode {
		conn, err = s.openActiveDataConn()
	} else {
		raw, err = s.openPassiveDataConn()
		conn = raw
	}
	if err != nil {
		return nil, nil, err
	}

	resp, err := s.sendCommand(command, args...)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	switch {
	case resp.Is1xx():
	case resp.Is2xx():
		done = resp
	default:
		conn.Close()
		return nil, nil, newProtocolError(commandLine(command, args), resp)
	}

	if raw != nil {
		wrapped, err := s.wrapData(raw, raw.RemoteAddr().String())
		if err != nil {
			return nil, nil, err
		}
		conn = wrapped
	}
	return conn, done, nil
}

// finishDataConn closes the data connection and checks the completion
// reply. Only 226 counts as success.
func (s *Session) finishDataConn(command string, conn io.Closer, done *Response) error {
	conn.Close()

	resp := done
	if resp == nil {
		var err error
		resp, err = s.readReply()
		if err != nil {
			return fmt.Errorf("failed to read completion reply: %w", err)
		}
	}

	s.logger.Debug("ftp data transfer complete", "command", command, "code", resp.Code)

	if resp.Code != 226 {
		return newProtocolError(command, resp)
	}
	return nil
}
