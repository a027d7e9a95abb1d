package ftp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gonzalop/tunnelcheck/transport"
)

// Response is a complete FTP reply.
type Response struct {
	// Code is the three-digit reply code (e.g., 220, 550)
	Code int

	// Message is the text after the code; continuation lines are joined
	// with "\n"
	Message string

	// Lines holds every raw line of the reply, codes included
	Lines []string
}

// Is1xx returns true for a positive preliminary reply.
func (r *Response) Is1xx() bool {
	return r.Code >= 100 && r.Code < 200
}

// Is2xx returns true if the reply code is in the 2xx range (success).
func (r *Response) Is2xx() bool {
	return r.Code >= 200 && r.Code < 300
}

// String returns the full reply, one raw line per row.
func (r *Response) String() string {
	return strings.Join(r.Lines, "\n")
}

// readResponse reads one reply from the control channel.
//
// Single-line format: "220 Welcome\r\n"
// Multi-line format:
//
//	"220-Welcome to FTP\r\n"
//	" banner text\r\n"
//	"220 Ready\r\n"
//
// The reply ends at the first line that carries the same code followed by
// a space.
func readResponse(r *bufio.Reader) (*Response, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	if len(line) < 4 {
		return nil, fmt.Errorf("invalid response line: %q", line)
	}

	code, err := strconv.Atoi(line[0:3])
	if err != nil {
		return nil, fmt.Errorf("invalid response code: %q", line[0:3])
	}

	resp := &Response{Code: code, Lines: []string{line}}

	switch line[3] {
	case ' ':
		resp.Message = line[4:]
		return resp, nil
	case '-':
	default:
		return nil, fmt.Errorf("invalid response format: %q", line)
	}

	prefix := line[0:3]
	for {
		line, err = readLine(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("unexpected EOF in multi-line response: %w", io.ErrUnexpectedEOF)
			}
			return nil, err
		}
		resp.Lines = append(resp.Lines, line)
		if len(line) >= 4 && line[0:3] == prefix && line[3] == ' ' {
			break
		}
	}

	messages := make([]string, 0, len(resp.Lines))
	for _, l := range resp.Lines {
		if len(l) >= 4 && l[0:3] == prefix && (l[3] == '-' || l[3] == ' ') {
			messages = append(messages, l[4:])
		} else {
			messages = append(messages, strings.TrimPrefix(l, " "))
		}
	}
	resp.Message = strings.Join(messages, "\n")

	return resp, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if line != "" && errors.Is(err, io.EOF) {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readReply reads the next reply under the session timeout.
func (s *Session) readReply() (*Response, error) {
	if s.timeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
			return nil, fmt.Errorf("failed to set read deadline: %w", err)
		}
	}

	resp, err := readResponse(s.reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", transport.Classify("read reply", err))
	}

	s.logger.Debug("ftp response", "code", resp.Code, "message", resp.Message)
	return resp, nil
}

// sendCommand sends a command and returns the reply.
func (s *Session) sendCommand(command string, args ...string) (*Response, error) {
	cmd := command
	if len(args) > 0 {
		cmd = command + " " + strings.Join(args, " ")
	}

	if command == "PASS" {
		s.logger.Debug("ftp command", "cmd", "PASS ****")
	} else {
		s.logger.Debug("ftp command", "cmd", cmd)
	}

	if s.timeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
			return nil, fmt.Errorf("failed to set write deadline: %w", err)
		}
	}

	if _, err := fmt.Fprintf(s.conn, "%s\r\n", cmd); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", transport.Classify("send command", err))
	}

	return s.readReply()
}

// expectCode sends a command and fails unless the reply carries exactly
// the expected code.
func (s *Session) expectCode(expected int, command string, args ...string) (*Response, error) {
	resp, err := s.sendCommand(command, args...)
	if err != nil {
		return nil, err
	}
	if resp.Code != expected {
		return resp, newProtocolError(commandLine(command, args), resp)
	}
	return resp, nil
}

// expect2xx sends a command and fails unless the reply is a 2xx.
func (s *Session) expect2xx(command string, args ...string) (*Response, error) {
	resp, err := s.sendCommand(command, args...)
	if err != nil {
		return nil, err
	}
	if !resp.Is2xx() {
		return resp, newProtocolError(commandLine(command, args), resp)
	}
	return resp, nil
}

func commandLine(command string, args []string) string {
	if len(args) == 0 {
		return command
	}
	return command + " " + strings.Join(args, " ")
}
