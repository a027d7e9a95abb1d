package snapshot

import (
	"fmt"
	"sort"
	"strings"
)

// ChangeKind classifies a Change.
type ChangeKind string

const (
	Added    ChangeKind = "added"
	Removed  ChangeKind = "removed"
	Modified ChangeKind = "modified"
)

// Scope names the part of a snapshot a Change is about.
type Scope string

const (
	ScopeWelcome   Scope = "welcome"
	ScopeDirectory Scope = "directory"
	ScopeListing   Scope = "listing"
	ScopeFile      Scope = "file"
)

// Change is one difference between two snapshots.
type Change struct {
	Kind  ChangeKind
	Scope Scope

	// Path is the directory path, or the full file path for ScopeFile.
	// Empty for ScopeWelcome.
	Path string

	// Old and New hold the differing values: the greeting, the digest, or
	// the listing joined by newlines. Empty when absent on that side.
	Old string
	New string
}

// String renders the change on one line.
func (c Change) String() string {
	switch c.Scope {
	case ScopeWelcome:
		return fmt.Sprintf("welcome %s: %q -> %q", c.Kind, c.Old, c.New)
	case ScopeFile:
		switch c.Kind {
		case Added:
			return fmt.Sprintf("file added: %s (%s)", c.Path, c.New)
		case Removed:
			return fmt.Sprintf("file removed: %s (%s)", c.Path, c.Old)
		default:
			return fmt.Sprintf("file modified: %s (%s -> %s)", c.Path, c.Old, c.New)
		}
	default:
		return fmt.Sprintf("%s %s: %s", c.Scope, c.Kind, c.Path)
	}
}

// scopeOrder keeps directory-level changes ahead of their contents.
var scopeOrder = map[Scope]int{ScopeWelcome: 0, ScopeDirectory: 1, ScopeListing: 2, ScopeFile: 3}

// Diff lists what differs between a and b, where a is the baseline. Either
// side may be nil. The result is sorted by path and is empty exactly when
// the greetings and directory maps are equal.
func Diff(a, b *Snapshot) []Change {
	if a == nil {
		a = &Snapshot{}
	}
	if b == nil {
		b = &Snapshot{}
	}

	var changes []Change

	if a.Welcome != b.Welcome {
		changes = append(changes, Change{Kind: Modified, Scope: ScopeWelcome, Old: a.Welcome, New: b.Welcome})
	}

	for path, rb := range b.Directories {
		ra, exists := a.Directories[path]
		if !exists {
			changes = append(changes, Change{Kind: Added, Scope: ScopeDirectory, Path: path})
			changes = append(changes, fileChanges(path, nil, rb)...)
			continue
		}
		changes = append(changes, recordChanges(path, ra, rb)...)
	}

	for path, ra := range a.Directories {
		if _, exists := b.Directories[path]; !exists {
			changes = append(changes, Change{Kind: Removed, Scope: ScopeDirectory, Path: path})
			changes = append(changes, fileChanges(path, ra, nil)...)
		}
	}

	sort.SliceStable(changes, func(i, j int) bool {
		if changes[i].Path != changes[j].Path {
			return changes[i].Path < changes[j].Path
		}
		return scopeOrder[changes[i].Scope] < scopeOrder[changes[j].Scope]
	})
	return changes
}

func recordChanges(path string, ra, rb *DirectoryRecord) []Change {
	var changes []Change
	var listA, listB []string
	if ra != nil {
		listA = ra.Listing
	}
	if rb != nil {
		listB = rb.Listing
	}

	if !sameLines(listA, listB) {
		changes = append(changes, Change{
			Kind:  Modified,
			Scope: ScopeListing,
			Path:  path,
			Old:   strings.Join(listA, "\n"),
			New:   strings.Join(listB, "\n"),
		})
	}
	return append(changes, fileChanges(path, ra, rb)...)
}

func fileChanges(dir string, ra, rb *DirectoryRecord) []Change {
	var filesA, filesB map[string]string
	if ra != nil {
		filesA = ra.Files
	}
	if rb != nil {
		filesB = rb.Files
	}

	var changes []Change
	for name, newDigest := range filesB {
		oldDigest, exists := filesA[name]
		switch {
		case !exists:
			changes = append(changes, Change{Kind: Added, Scope: ScopeFile, Path: joinPath(dir, name), New: newDigest})
		case oldDigest != newDigest:
			changes = append(changes, Change{Kind: Modified, Scope: ScopeFile, Path: joinPath(dir, name), Old: oldDigest, New: newDigest})
		}
	}
	for name, oldDigest := range filesA {
		if _, exists := filesB[name]; !exists {
			changes = append(changes, Change{Kind: Removed, Scope: ScopeFile, Path: joinPath(dir, name), Old: oldDigest})
		}
	}
	return changes
}

func sameLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func joinPath(dir, name string) string {
	if strings.HasSuffix(dir, "/") {
		return dir + name
	}
	return dir + "/" + name
}
