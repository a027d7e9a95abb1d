package echo

import (
	"fmt"
	"log/slog"
)

// Option is a functional option for configuring an echo server.
type Option func(*Server) error

// WithDump logs every received message at info level, hex-quoted.
func WithDump(dump bool) Option {
	return func(s *Server) error {
		s.dump = dump
		return nil
	}
}

// WithLogger sets the logger. If not specified, logging is discarded.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// WithMetricsCollector sets a collector notified of the session and of every
// echoed message.
func WithMetricsCollector(collector MetricsCollector) Option {
	return func(s *Server) error {
		s.metrics = collector
		return nil
	}
}

// WithBufferSize sets the largest message read in one call. Defaults to
// 4096 bytes.
func WithBufferSize(size int) Option {
	return func(s *Server) error {
		if size <= 0 {
			return fmt.Errorf("buffer size must be positive, got %d", size)
		}
		s.bufferSize = size
		return nil
	}
}
