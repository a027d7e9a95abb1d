package store

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/gonzalop/tunnelcheck/snapshot"
)

const (
	welcomeFile = "welcome.txt"
	structFile  = "struct.txt"
)

// FileStore keeps every master copy in its own directory below Root:
//
//	Root/<name>/welcome.txt  raw server greeting
//	Root/<name>/struct.txt   directory blocks in the dump format
type FileStore struct {
	Root string
}

// NewFileStore creates root if needed.
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, errors.New("store: empty root directory")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{Root: root}, nil
}

// Save writes s under name, replacing any previous copy.
func (f *FileStore) Save(name string, s *snapshot.Snapshot) error {
	if err := validateName(name); err != nil {
		return err
	}
	if s == nil {
		return errors.New("store: nil snapshot")
	}

	var structure bytes.Buffer
	if err := s.WriteDirectories(&structure); err != nil {
		return fmt.Errorf("failed to render %s: %w", name, err)
	}

	dir := filepath.Join(f.Root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	if err := writeFileAtomic(filepath.Join(dir, welcomeFile), []byte(s.Welcome)); err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dir, structFile), structure.Bytes())
}

// Load reads the copy saved under name.
func (f *FileStore) Load(name string) (*snapshot.Snapshot, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	dir := filepath.Join(f.Root, name)

	welcome, err := os.ReadFile(filepath.Join(dir, welcomeFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read greeting of %s: %w", name, err)
	}

	file, err := os.Open(filepath.Join(dir, structFile))
	if err != nil {
		return nil, fmt.Errorf("failed to open structure of %s: %w", name, err)
	}
	defer file.Close()

	dirs, err := snapshot.ParseDirectories(file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse structure of %s: %w", name, err)
	}

	s := snapshot.New(string(welcome))
	s.Directories = dirs
	return s, nil
}

// List returns the names of all saved copies in lexical order.
func (f *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(f.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to read store directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(f.Root, e.Name(), welcomeFile)); err == nil {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes the copy saved under name.
func (f *FileStore) Delete(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	dir := filepath.Join(f.Root, name)
	if _, err := os.Stat(filepath.Join(dir, welcomeFile)); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}
	return nil
}

// Close is a no-op.
func (f *FileStore) Close() error { return nil }

// writeFileAtomic replaces path through a temporary file in the same
// directory so a reader never sees a half-written copy.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
