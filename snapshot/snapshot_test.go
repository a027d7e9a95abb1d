package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	digestA = "0cc175b9c0f1b6a831c399e269772661"
	digestB = "92eb5ffee6ae2fec3ad71c777531578f"
)

// sample returns a small valid snapshot. Each call builds a fresh graph.
func sample() *Snapshot {
	return &Snapshot{
		Welcome: "220 FTP Server Ready",
		Directories: map[string]*DirectoryRecord{
			"/": {
				Listing: []string{
					"-rw-r--r-- 1 owner group 1 Jan 01 00:00 a",
					"drwxr-xr-x 1 owner group 0 Jan 01 00:00 sub",
				},
				Files: map[string]string{"a": digestA},
			},
			"/sub": {
				Listing: []string{"-rw-r--r-- 1 owner group 1 Jan 01 00:00 b"},
				Files:   map[string]string{"b": digestB},
			},
		},
	}
}

func TestValid(t *testing.T) {
	t.Parallel()

	var nilSnap *Snapshot
	assert.False(t, nilSnap.Valid())
	assert.False(t, New("220 hi").Valid())
	assert.False(t, (&Snapshot{Directories: sample().Directories}).Valid())
	assert.True(t, sample().Valid())
}

func TestCompareReflexiveAndSymmetric(t *testing.T) {
	t.Parallel()

	a := sample()
	assert.True(t, Compare(a, a))
	assert.True(t, Compare(a, sample()))

	b := sample()
	b.Directories["/sub"].Files["b"] = digestA
	assert.False(t, Compare(a, b))
	assert.Equal(t, Compare(a, b), Compare(b, a))
}

func TestCompareRequiresValidity(t *testing.T) {
	t.Parallel()

	noWelcome := sample()
	noWelcome.Welcome = ""
	assert.False(t, Compare(noWelcome, noWelcome))
	assert.False(t, Compare(sample(), noWelcome))

	noDirs := New("220 FTP Server Ready")
	assert.False(t, Compare(noDirs, noDirs))
	assert.False(t, Compare(noDirs, sample()))

	assert.False(t, Compare(nil, sample()))
	assert.False(t, Compare(sample(), nil))
}

func TestCompareDetectsDifferences(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Snapshot)
	}{
		{"welcome", func(s *Snapshot) { s.Welcome = "220 Other" }},
		{"extra directory", func(s *Snapshot) {
			s.Directories["/new"] = &DirectoryRecord{Files: map[string]string{}}
		}},
		{"missing directory", func(s *Snapshot) { delete(s.Directories, "/sub") }},
		{"renamed directory", func(s *Snapshot) {
			s.Directories["/other"] = s.Directories["/sub"]
			delete(s.Directories, "/sub")
		}},
		{"listing order", func(s *Snapshot) {
			l := s.Directories["/"].Listing
			l[0], l[1] = l[1], l[0]
		}},
		{"listing metadata", func(s *Snapshot) {
			s.Directories["/sub"].Listing[0] = "-rw-r--r-- 1 owner group 1 Feb 02 00:00 b"
		}},
		{"extra file", func(s *Snapshot) { s.Directories["/sub"].Files["c"] = digestA }},
		{"changed digest", func(s *Snapshot) { s.Directories["/"].Files["a"] = digestB }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := sample()
			tt.mutate(b)
			assert.False(t, Compare(sample(), b))
			assert.False(t, Compare(b, sample()))
		})
	}
}

func TestCompareNilAndEmptyAreEqual(t *testing.T) {
	t.Parallel()

	a := New("220 hi")
	a.Directories["/"] = &DirectoryRecord{}
	b := New("220 hi")
	b.Directories["/"] = &DirectoryRecord{Listing: []string{}, Files: map[string]string{}}
	c := New("220 hi")
	c.Directories["/"] = nil

	assert.True(t, Compare(a, b))
	assert.True(t, Compare(b, c))
}

func TestPathsAndFileCount(t *testing.T) {
	t.Parallel()

	s := sample()
	assert.Equal(t, []string{"/", "/sub"}, s.Paths())
	assert.Equal(t, 2, s.FileCount())
}
