package ftp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gonzalop/tunnelcheck/internal/ratelimit"
)

// ListDirectory lists the working directory with LIST in ASCII mode and
// returns the raw lines in server order, with line terminators removed.
func (s *Session) ListDirectory() ([]string, error) {
	if err := s.setType("A"); err != nil {
		return nil, fmt.Errorf("failed to set ASCII mode: %w", err)
	}

	conn, done, err := s.cmdDataConnFrom("LIST")
	if err != nil {
		return nil, err
	}

	var lines []string
	reader := bufio.NewReader(conn)
	var readErr error
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			lines = append(lines, strings.TrimRight(line, "\r\n"))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = err
			}
			break
		}
	}

	finishErr := s.finishDataConn("LIST", conn, done)
	if readErr != nil {
		return nil, fmt.Errorf("failed to read listing: %w", readErr)
	}
	if finishErr != nil {
		return nil, finishErr
	}
	return lines, nil
}

// RetrieveFile downloads name in binary mode and streams it into sink. It
// returns the number of bytes written to sink.
func (s *Session) RetrieveFile(name string, sink io.Writer) (int64, error) {
	if err := s.setType("I"); err != nil {
		return 0, fmt.Errorf("failed to set binary mode: %w", err)
	}

	conn, done, err := s.cmdDataConnFrom("RETR", name)
	if err != nil {
		return 0, err
	}

	n, copyErr := io.Copy(sink, ratelimit.NewReader(conn, s.limiter))

	finishErr := s.finishDataConn("RETR "+name, conn, done)
	if copyErr != nil {
		return n, fmt.Errorf("download of %s failed: %w", name, copyErr)
	}
	if finishErr != nil {
		return n, finishErr
	}
	return n, nil
}
