package snapshot

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// ErrMalformedDump is returned by Parse for text that Dump cannot have
// produced.
var ErrMalformedDump = errors.New("snapshot: malformed dump")

const (
	structHeader = "\tstruct:"
	filesHeader  = "\tfiles:"
	itemIndent   = "\t\t"
)

// Dump renders s in the report format:
//
//	<welcome>:
//
//	/dir
//		struct:
//			<listing line>
//		files:
//			<name>:<padding><digest>
//
// Directories are sorted by path and files by name, so equal snapshots
// always produce identical text.
func (s *Snapshot) Dump() string {
	var b strings.Builder
	_, _ = s.WriteTo(&b)
	return b.String()
}

// WriteTo writes the Dump text to w.
func (s *Snapshot) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: bufio.NewWriter(w)}

	fmt.Fprintf(cw, "%s:\n", s.Welcome)
	for _, p := range s.Paths() {
		writeDirectory(cw, p, s.Directories[p])
	}

	if cw.err != nil {
		return cw.n, cw.err
	}
	return cw.n, cw.w.Flush()
}

// WriteDirectories writes only the directory blocks, without the greeting
// header.
func (s *Snapshot) WriteDirectories(w io.Writer) error {
	cw := &countingWriter{w: bufio.NewWriter(w)}
	for _, p := range s.Paths() {
		writeDirectory(cw, p, s.Directories[p])
	}
	if cw.err != nil {
		return cw.err
	}
	return cw.w.Flush()
}

func writeDirectory(w io.Writer, path string, record *DirectoryRecord) {
	if record == nil {
		record = &DirectoryRecord{}
	}

	fmt.Fprintf(w, "\n%s\n%s\n", path, structHeader)
	for _, line := range record.Listing {
		fmt.Fprintf(w, "%s%s\n", itemIndent, line)
	}

	fmt.Fprintf(w, "%s\n", filesHeader)
	names := make([]string, 0, len(record.Files))
	for name := range record.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "%s%-32s%s\n", itemIndent, name+":", record.Files[name])
	}
}

// countingWriter keeps the first error and the byte count for WriteTo.
type countingWriter struct {
	w   *bufio.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.err = err
	return n, err
}

// Parse reads a Dump back into a Snapshot.
func Parse(r io.Reader) (*Snapshot, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read dump: %w", err)
	}

	text := string(data)
	if !strings.HasSuffix(text, "\n") {
		return nil, fmt.Errorf("%w: missing final newline", ErrMalformedDump)
	}
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")

	// The greeting may span several lines. It ends at the first line
	// followed by a blank line, a path and the struct header.
	end := -1
	for i := range lines {
		if strings.HasSuffix(lines[i], ":") && i+3 < len(lines) &&
			lines[i+1] == "" && lines[i+3] == structHeader {
			end = i
			break
		}
	}
	if end < 0 {
		end = len(lines) - 1
	}
	if !strings.HasSuffix(lines[end], ":") {
		return nil, fmt.Errorf("%w: greeting must end with ':'", ErrMalformedDump)
	}

	welcome := strings.Join(lines[:end+1], "\n")
	s := New(strings.TrimSuffix(welcome, ":"))

	rest, err := parseDirectories(lines[end+1:], end+2)
	if err != nil {
		return nil, err
	}
	s.Directories = rest
	return s, nil
}

// ParseDirectories reads the directory blocks written by WriteDirectories.
func ParseDirectories(r io.Reader) (map[string]*DirectoryRecord, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read dump: %w", err)
	}
	text := string(data)
	if text == "" {
		return make(map[string]*DirectoryRecord), nil
	}
	if !strings.HasSuffix(text, "\n") {
		return nil, fmt.Errorf("%w: missing final newline", ErrMalformedDump)
	}
	return parseDirectories(strings.Split(strings.TrimSuffix(text, "\n"), "\n"), 1)
}

// parseDirectories consumes directory blocks. first is the 1-based line
// number of lines[0], used in error messages.
func parseDirectories(lines []string, first int) (map[string]*DirectoryRecord, error) {
	dirs := make(map[string]*DirectoryRecord)
	malformed := func(i int, what string) error {
		return fmt.Errorf("%w: line %d: %s", ErrMalformedDump, first+i, what)
	}

	i := 0
	for i < len(lines) {
		if lines[i] != "" {
			return nil, malformed(i, "expected blank line before directory")
		}
		if i+2 >= len(lines) || lines[i+2] != structHeader {
			return nil, malformed(i, "expected directory path and struct header")
		}
		path := lines[i+1]
		if _, dup := dirs[path]; dup {
			return nil, malformed(i+1, "duplicate directory "+path)
		}
		i += 3

		record := &DirectoryRecord{Listing: []string{}, Files: make(map[string]string)}
		for i < len(lines) && lines[i] != filesHeader {
			if !strings.HasPrefix(lines[i], itemIndent) {
				return nil, malformed(i, "expected indented listing line")
			}
			record.Listing = append(record.Listing, strings.TrimPrefix(lines[i], itemIndent))
			i++
		}
		if i == len(lines) {
			return nil, malformed(i, "missing files header")
		}
		i++

		for i < len(lines) && lines[i] != "" {
			name, digest, ok := parseFileLine(lines[i])
			if !ok {
				return nil, malformed(i, "expected '<name>: <digest>'")
			}
			record.Files[name] = digest
			i++
		}

		dirs[path] = record
	}
	return dirs, nil
}

func parseFileLine(line string) (name, digest string, ok bool) {
	if !strings.HasPrefix(line, itemIndent) {
		return "", "", false
	}
	line = strings.TrimPrefix(line, itemIndent)
	if len(line) < DigestLength+1 {
		return "", "", false
	}

	digest = line[len(line)-DigestLength:]
	head := strings.TrimRight(line[:len(line)-DigestLength], " ")
	if !isDigest(digest) || !strings.HasSuffix(head, ":") {
		return "", "", false
	}
	return strings.TrimSuffix(head, ":"), digest, true
}
