package snapshot

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrDirectoryCycle is returned when a directory is reached twice, which
// happens when a server reports a link to an ancestor as a directory.
var ErrDirectoryCycle = errors.New("snapshot: directory visited twice")

// Session is the part of an FTP session the walker needs. *ftp.Session
// implements it.
type Session interface {
	Welcome() string
	WorkingDirectory() (string, error)
	ChangeDirectory(path string) error
	ListDirectory() ([]string, error)
	RetrieveFile(name string, sink io.Writer) (int64, error)
}

// Observer is notified as a walk progresses. Calls are made from the
// goroutine running Walk.
type Observer interface {
	// DirectoryListed is called after a directory has been listed, with the
	// number of files and subdirectories found in it.
	DirectoryListed(path string, entries int)

	// FileHashed is called after a file has been retrieved and hashed.
	FileHashed(path string, bytes int64)
}

// WalkerOption configures a Walker.
type WalkerOption func(*Walker) error

// WithExcludes skips files and directories whose absolute remote path
// matches one of the doublestar patterns (e.g. "/tmp/**", "**/*.log").
// Excluded entries stay in the listing but are not hashed or entered.
func WithExcludes(patterns ...string) WalkerOption {
	return func(w *Walker) error {
		for _, pattern := range patterns {
			if !doublestar.ValidatePattern(pattern) {
				return fmt.Errorf("invalid exclude pattern %q", pattern)
			}
		}
		w.excludes = append(w.excludes, patterns...)
		return nil
	}
}

// WithObserver registers an observer. Several observers may be added.
func WithObserver(o Observer) WalkerOption {
	return func(w *Walker) error {
		if o != nil {
			w.observers = append(w.observers, o)
		}
		return nil
	}
}

// WithClassifier replaces the default listing classifier.
func WithClassifier(c Classifier) WalkerOption {
	return func(w *Walker) error {
		if c == nil {
			return errors.New("nil classifier")
		}
		w.classifier = c
		return nil
	}
}

// WithLogger enables debug logging of the traversal.
func WithLogger(logger *slog.Logger) WalkerOption {
	return func(w *Walker) error {
		if logger != nil {
			w.logger = logger
		}
		return nil
	}
}

// Walker builds snapshots. A Walker holds no per-walk state and may be
// reused, but one Session must only be walked by one goroutine at a time.
type Walker struct {
	classifier Classifier
	excludes   []string
	observers  []Observer
	logger     *slog.Logger
}

// NewWalker returns a Walker with the default classifier.
func NewWalker(options ...WalkerOption) (*Walker, error) {
	w := &Walker{
		classifier: DefaultClassifier(),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range options {
		if err := opt(w); err != nil {
			return nil, fmt.Errorf("failed to apply walker option: %w", err)
		}
	}
	return w, nil
}

// Walk fingerprints the tree below the session's working directory.
//
// Directories are visited depth first. In each one every file is hashed, in
// listing order, before any subdirectory is entered. Any error aborts the
// walk and no snapshot is returned. The session is left in whatever
// directory the walk reached.
func (w *Walker) Walk(s Session) (*Snapshot, error) {
	snap := New(s.Welcome())

	root, err := s.WorkingDirectory()
	if err != nil {
		return nil, fmt.Errorf("failed to read starting directory: %w", err)
	}
	w.logger.Debug("starting walk", "root", root)

	stack := []string{root}
	for len(stack) > 0 {
		target := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		dir := root
		if target != root || len(snap.Directories) > 0 {
			if err := s.ChangeDirectory(target); err != nil {
				return nil, fmt.Errorf("failed to enter %s: %w", target, err)
			}
			if dir, err = s.WorkingDirectory(); err != nil {
				return nil, fmt.Errorf("failed to read directory after entering %s: %w", target, err)
			}
		}

		if _, seen := snap.Directories[dir]; seen {
			return nil, fmt.Errorf("%w: %s", ErrDirectoryCycle, dir)
		}

		record, children, err := w.visit(s, dir)
		if err != nil {
			return nil, err
		}
		snap.Directories[dir] = record

		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}

	w.logger.Debug("walk complete", "root", root, "directories", len(snap.Directories), "files", snap.FileCount())
	return snap, nil
}

// visit lists and hashes the working directory dir and returns the child
// directories to enter, in listing order.
func (w *Walker) visit(s Session, dir string) (*DirectoryRecord, []string, error) {
	lines, err := s.ListDirectory()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	if lines == nil {
		lines = []string{}
	}

	record := &DirectoryRecord{Listing: lines, Files: make(map[string]string)}

	var files, dirs []string
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}

		entry, ok := w.classifier.Classify(line)
		if !ok {
			entry = Entry{Name: strings.TrimSpace(line), Kind: EntryFile}
			w.logger.Debug("unrecognized listing line, treating as file", "dir", dir, "line", line)
		}

		switch entry.Kind {
		case EntryFile:
			files = append(files, entry.Name)
		case EntryDirectory:
			dirs = append(dirs, entry.Name)
		}
	}

	for _, o := range w.observers {
		o.DirectoryListed(dir, len(files)+len(dirs))
	}

	for _, name := range files {
		full := path.Join(dir, name)
		if w.excluded(full) {
			w.logger.Debug("skipping excluded file", "path", full)
			continue
		}

		hasher := NewContentHasher()
		n, err := s.RetrieveFile(name, hasher)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to retrieve %s: %w", full, err)
		}
		record.Files[name] = hasher.HexDigest()

		w.logger.Debug("hashed file", "path", full, "bytes", n)
		for _, o := range w.observers {
			o.FileHashed(full, n)
		}
	}

	children := make([]string, 0, len(dirs))
	for _, name := range dirs {
		child := path.Join(dir, name)
		if w.excluded(child) {
			w.logger.Debug("skipping excluded directory", "path", child)
			continue
		}
		children = append(children, child)
	}

	return record, children, nil
}

func (w *Walker) excluded(p string) bool {
	for _, pattern := range w.excludes {
		if ok, _ := doublestar.Match(pattern, p); ok {
			return true
		}
	}
	return false
}
