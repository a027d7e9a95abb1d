// Package store persists snapshots as named master copies.
//
// A master copy is the baseline a later traversal of the same server is
// compared against. Two backends are provided: FileStore keeps each copy as a
// pair of human-readable text files, BoltStore keeps all of them in a single
// bbolt database.
package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gonzalop/tunnelcheck/snapshot"
)

// ErrNotFound is returned by Load and Delete for an unknown name.
var ErrNotFound = errors.New("store: master copy not found")

// ErrInvalidName is returned for names that are empty or contain a path
// separator.
var ErrInvalidName = errors.New("store: invalid name")

// Store saves and loads master copies by name.
type Store interface {
	Save(name string, s *snapshot.Snapshot) error
	Load(name string) (*snapshot.Snapshot, error)
	List() ([]string, error)
	Delete(name string) error
	Close() error
}

// Kinds accepted by Open.
const (
	KindFile = "file"
	KindBolt = "bolt"
)

// Open returns the backend named by kind rooted at path. For KindFile path is
// a directory, for KindBolt a database file.
func Open(kind, path string) (Store, error) {
	switch kind {
	case KindFile, "":
		return NewFileStore(path)
	case KindBolt:
		return OpenBolt(path)
	default:
		return nil, fmt.Errorf("unknown store kind %q (want %q or %q)", kind, KindFile, KindBolt)
	}
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
