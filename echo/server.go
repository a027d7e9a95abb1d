// Package echo implements a single-shot echo server and the matching client
// check, used to verify that a tunnel forwards bytes unchanged.
//
// The server accepts exactly one client, stops listening, and writes back
// every message it receives until the client closes or goes quiet for longer
// than the connection timeout. Plain TCP and TLS behave identically; the
// variant is chosen by the transport.Listener handed to NewServer.
package echo

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/gonzalop/tunnelcheck/transport"
)

const defaultBufferSize = 4096

// MetricsCollector is an optional interface for collecting echo metrics.
// The server checks for nil before calling it.
type MetricsCollector interface {
	// RecordConnection records the accepted client.
	RecordConnection(remote string)

	// RecordEcho records one message received and sent back.
	RecordEcho(bytes int)
}

// Server answers one client.
type Server struct {
	listener   transport.Listener
	dump       bool
	logger     *slog.Logger
	metrics    MetricsCollector
	bufferSize int
}

// NewServer creates a server that will accept from listener. The listener is
// owned by the server from now on and closed after the first accept.
func NewServer(listener transport.Listener, options ...Option) (*Server, error) {
	if listener == nil {
		return nil, errors.New("listener is required")
	}

	s := &Server{
		listener:   listener,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		bufferSize: defaultBufferSize,
	}
	for _, opt := range options {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	return s, nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// WaitAndAnswer blocks until one client connects, then echoes its messages.
//
// It returns nil when the client closes the connection and also when a read
// fails, including a read timeout; the latter is logged as
// "connection lost at reading". Accept and write failures are returned.
func (s *Server) WaitAndAnswer() error {
	s.logger.Info("waiting for client", "addr", s.Addr())

	conn, err := s.listener.Accept()
	s.listener.Close()
	if err != nil {
		return fmt.Errorf("failed to accept client: %w", err)
	}
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	s.logger.Info("client connected", "remote", remote)
	if s.metrics != nil {
		s.metrics.RecordConnection(remote)
	}

	buf := make([]byte, s.bufferSize)
	for {
		n, err := conn.Receive(buf)
		if n > 0 {
			if s.dump {
				s.logger.Info("received", "remote", remote, "bytes", n, "data", fmt.Sprintf("%q", buf[:n]))
			}
			if werr := conn.Send(buf[:n]); werr != nil {
				return fmt.Errorf("failed to echo to %s: %w", remote, werr)
			}
			if s.metrics != nil {
				s.metrics.RecordEcho(n)
			}
		}

		if errors.Is(err, io.EOF) {
			s.logger.Info("client closed connection", "remote", remote)
			return nil
		}
		if err != nil {
			s.logger.Warn("connection lost at reading", "remote", remote, "error", err)
			return nil
		}
	}
}
