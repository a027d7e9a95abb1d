package snapshot

import (
	"strconv"
	"strings"
)

// EntryKind tells the walker what to do with a listing line.
type EntryKind int

const (
	// EntryFile is hashed.
	EntryFile EntryKind = iota
	// EntryDirectory is descended into.
	EntryDirectory
	// EntryIgnored is kept in the listing but neither hashed nor entered,
	// e.g. "total 12", "." and "..".
	EntryIgnored
)

func (k EntryKind) String() string {
	switch k {
	case EntryFile:
		return "file"
	case EntryDirectory:
		return "dir"
	case EntryIgnored:
		return "ignored"
	default:
		return "EntryKind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Entry is a classified listing line.
type Entry struct {
	Name string
	Kind EntryKind
}

// Classifier recognizes one listing dialect. Classify returns false for
// lines it does not understand so the next classifier can try.
type Classifier interface {
	Classify(line string) (Entry, bool)
}

// ChainClassifier tries each classifier in order.
type ChainClassifier []Classifier

// Classify implements Classifier.
func (c ChainClassifier) Classify(line string) (Entry, bool) {
	for _, classifier := range c {
		if entry, ok := classifier.Classify(line); ok {
			return entry, true
		}
	}
	return Entry{}, false
}

// DefaultClassifier handles Unix, DOS and EPLF listings.
func DefaultClassifier() Classifier {
	return ChainClassifier{UnixClassifier{}, DOSClassifier{}, EPLFClassifier{}}
}

// UnixClassifier handles "ls -l" style lines:
//
//	drwxr-xr-x 2 owner group 4096 Jan 01 00:00 name with spaces
//
// The first character marks the type ('d' for directories) and the name is
// everything after the eighth field, with runs of blanks collapsed. Symbolic
// links are treated as files named by the link itself.
type UnixClassifier struct{}

// Classify implements Classifier.
func (UnixClassifier) Classify(line string) (Entry, bool) {
	fields := strings.Fields(line)

	if len(fields) == 2 && fields[0] == "total" {
		if _, err := strconv.ParseUint(fields[1], 10, 64); err == nil {
			return Entry{Kind: EntryIgnored}, true
		}
	}

	if len(fields) < 9 || !strings.ContainsRune("-dlbcps", rune(fields[0][0])) {
		return Entry{}, false
	}

	entry := Entry{Name: strings.Join(fields[8:], " "), Kind: EntryFile}
	switch fields[0][0] {
	case 'd':
		entry.Kind = EntryDirectory
	case 'l':
		if name, _, ok := strings.Cut(entry.Name, " -> "); ok {
			entry.Name = name
		}
	}
	return dotCheck(entry), true
}

// DOSClassifier handles IIS style lines:
//
//	09-24-24  10:30AM       <DIR>          logs
//	12-14-23  12:22PM           1037794 report.pdf
type DOSClassifier struct{}

// Classify implements Classifier.
func (DOSClassifier) Classify(line string) (Entry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 4 || !isDOSDate(fields[0]) {
		return Entry{}, false
	}

	entry := Entry{Name: strings.Join(fields[3:], " ")}
	if fields[2] == "<DIR>" {
		entry.Kind = EntryDirectory
		return dotCheck(entry), true
	}
	if _, err := strconv.ParseInt(fields[2], 10, 64); err != nil {
		return Entry{}, false
	}
	entry.Kind = EntryFile
	return dotCheck(entry), true
}

// isDOSDate accepts MM-DD-YY, MM-DD-YYYY and the same with slashes.
func isDOSDate(s string) bool {
	sep := "-"
	if !strings.Contains(s, sep) {
		sep = "/"
	}
	parts := strings.Split(s, sep)
	if len(parts) != 3 {
		return false
	}
	for i, part := range parts {
		switch {
		case i < 2 && (len(part) < 1 || len(part) > 2):
			return false
		case i == 2 && len(part) != 2 && len(part) != 4:
			return false
		}
		for _, ch := range part {
			if ch < '0' || ch > '9' {
				return false
			}
		}
	}
	return true
}

// EPLFClassifier handles Easily Parsed LIST Format lines:
//
//	+i8388621.48594,m825718503,r,s280,	djb.html
//	+i8388621.50690,m824255907,/,	514
type EPLFClassifier struct{}

// Classify implements Classifier.
func (EPLFClassifier) Classify(line string) (Entry, bool) {
	if !strings.HasPrefix(line, "+") {
		return Entry{}, false
	}
	idx := strings.IndexAny(line, "\t ")
	if idx < 0 {
		return Entry{}, false
	}
	name := strings.TrimSpace(line[idx+1:])
	if name == "" {
		return Entry{}, false
	}

	entry := Entry{Name: name, Kind: EntryFile}
	for _, fact := range strings.Split(line[1:idx], ",") {
		if fact == "/" {
			entry.Kind = EntryDirectory
		}
	}
	return dotCheck(entry), true
}

func dotCheck(entry Entry) Entry {
	if entry.Name == "." || entry.Name == ".." {
		entry.Kind = EntryIgnored
	}
	return entry
}
