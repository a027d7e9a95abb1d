// Package snapshot builds and compares structural fingerprints of remote FTP
// directory trees.
//
// A Walker visits every directory below the session's working directory,
// depth first with files before subdirectories, and records each raw LIST
// line together with an MD5 digest of every file. Two snapshots taken before
// and after a file transfer through a tunnel are equal only when the tree
// and every byte of every file survived unchanged.
package snapshot

import "sort"

// Snapshot is the fingerprint of one remote tree at one point in time.
// It is not modified after Walk returns.
type Snapshot struct {
	// Welcome is the server greeting, reply code included.
	Welcome string `json:"welcome"`

	// Directories maps absolute remote paths to their records.
	Directories map[string]*DirectoryRecord `json:"directories"`
}

// DirectoryRecord is the part of a Snapshot describing one directory.
type DirectoryRecord struct {
	// Listing holds the LIST lines exactly as received, minus terminators.
	Listing []string `json:"listing"`

	// Files maps file names to their hex digests.
	Files map[string]string `json:"files"`
}

// New returns an empty snapshot for a server greeting.
func New(welcome string) *Snapshot {
	return &Snapshot{
		Welcome:     welcome,
		Directories: make(map[string]*DirectoryRecord),
	}
}

// Valid reports whether s can take part in a comparison: it needs a
// greeting and at least one directory.
func (s *Snapshot) Valid() bool {
	return s != nil && s.Welcome != "" && len(s.Directories) > 0
}

// Paths returns the directory paths in lexical order.
func (s *Snapshot) Paths() []string {
	paths := make([]string, 0, len(s.Directories))
	for p := range s.Directories {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// FileCount returns the number of hashed files across all directories.
func (s *Snapshot) FileCount() int {
	n := 0
	for _, record := range s.Directories {
		if record != nil {
			n += len(record.Files)
		}
	}
	return n
}

// Compare reports whether a and b describe the same tree. Both must be
// valid; the greetings must match, and every directory must have the same
// listing lines in the same order and the same file digests.
func Compare(a, b *Snapshot) bool {
	if !a.Valid() || !b.Valid() {
		return false
	}
	if a.Welcome != b.Welcome || len(a.Directories) != len(b.Directories) {
		return false
	}
	for path, ra := range a.Directories {
		rb, ok := b.Directories[path]
		if !ok || !ra.equal(rb) {
			return false
		}
	}
	return true
}

// equal compares two records, treating nil and empty alike.
func (r *DirectoryRecord) equal(o *DirectoryRecord) bool {
	var listA, listB []string
	var filesA, filesB map[string]string
	if r != nil {
		listA, filesA = r.Listing, r.Files
	}
	if o != nil {
		listB, filesB = o.Listing, o.Files
	}

	if len(listA) != len(listB) || len(filesA) != len(filesB) {
		return false
	}
	for i := range listA {
		if listA[i] != listB[i] {
			return false
		}
	}
	for name, digest := range filesA {
		if other, ok := filesB[name]; !ok || other != digest {
			return false
		}
	}
	return true
}
