package echo

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/gonzalop/tunnelcheck/transport"
)

// MismatchError reports an echoed chunk that differs from what was sent.
type MismatchError struct {
	// Chunk is the zero-based index of the chunk.
	Chunk int

	// Offset is the first differing byte within the chunk.
	Offset int

	Sent     []byte
	Received []byte
}

// Error implements the error interface.
func (e *MismatchError) Error() string {
	return fmt.Sprintf("echo: chunk %d differs at byte %d (sent %d bytes, received %d)",
		e.Chunk, e.Offset, len(e.Sent), len(e.Received))
}

// Verify sends each chunk over conn, reads back the same number of bytes and
// compares them. It stops at the first difference and always closes conn.
func Verify(conn transport.Conn, chunks [][]byte) error {
	defer conn.Close()

	for i, chunk := range chunks {
		if len(chunk) == 0 {
			continue
		}
		if err := conn.Send(chunk); err != nil {
			return fmt.Errorf("failed to send chunk %d: %w", i, err)
		}

		got := make([]byte, len(chunk))
		n, err := receiveFull(conn, got)
		if err != nil {
			return fmt.Errorf("failed to read echo of chunk %d (%d of %d bytes): %w", i, n, len(chunk), err)
		}
		if !bytes.Equal(chunk, got) {
			return &MismatchError{Chunk: i, Offset: firstDifference(chunk, got), Sent: chunk, Received: got}
		}
	}
	return nil
}

// Chunks returns count chunks of size bytes with contents that differ from
// chunk to chunk, so a reordering or a dropped chunk is detected.
func Chunks(count, size int) [][]byte {
	chunks := make([][]byte, count)
	for i := range chunks {
		chunk := make([]byte, size)
		for j := range chunk {
			chunk[j] = byte('a' + (i+j)%26)
		}
		chunks[i] = chunk
	}
	return chunks
}

func receiveFull(conn transport.Conn, p []byte) (int, error) {
	read := 0
	for read < len(p) {
		n, err := conn.Receive(p[read:])
		read += n
		if errors.Is(err, io.EOF) {
			if read < len(p) {
				return read, io.ErrUnexpectedEOF
			}
			return read, nil
		}
		if err != nil {
			return read, err
		}
	}
	return read, nil
}

func firstDifference(a, b []byte) int {
	for i := 0; i < min(len(a), len(b)); i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return min(len(a), len(b))
}
