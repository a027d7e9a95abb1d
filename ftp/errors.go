package ftp

import "fmt"

// ProtocolError represents an unexpected FTP reply, with the command that
// triggered it.
type ProtocolError struct {
	// Command is the FTP command that was sent (e.g., "RETR file.txt")
	Command string

	// Response is the message part of the reply (e.g., "Permission denied")
	Response string

	// Code is the numeric FTP reply code (e.g., 550)
	Code int
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("ftp: %s failed: %s (code %d)", e.Command, e.Response, e.Code)
}

// IsTemporary returns true if the error is a transient failure (4xx).
func (e *ProtocolError) IsTemporary() bool {
	return e.Code >= 400 && e.Code < 500
}

// IsPermanent returns true if the error is a permanent failure (5xx).
func (e *ProtocolError) IsPermanent() bool {
	return e.Code >= 500 && e.Code < 600
}

func newProtocolError(command string, resp *Response) *ProtocolError {
	return &ProtocolError{Command: command, Response: resp.Message, Code: resp.Code}
}
