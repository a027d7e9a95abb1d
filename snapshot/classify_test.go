package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultClassifier(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		line     string
		wantOK   bool
		wantName string
		wantKind EntryKind
	}{
		{"unix file", "-rw-r--r-- 1 owner group 5 Jan 01 00:00 a.txt", true, "a.txt", EntryFile},
		{"unix dir", "drwxr-xr-x 2 owner group 4096 Jan 01 00:00 pub", true, "pub", EntryDirectory},
		{"unix name with spaces", "-rw-r--r-- 1 owner group 5 Jan 01 2020 my  report.txt", true, "my report.txt", EntryFile},
		{"unix symlink", "lrwxrwxrwx 1 owner group 7 Jan 01 00:00 latest -> v1.2.3", true, "latest", EntryFile},
		{"unix dot", "drwxr-xr-x 2 owner group 4096 Jan 01 00:00 .", true, ".", EntryIgnored},
		{"unix dotdot", "drwxr-xr-x 2 owner group 4096 Jan 01 00:00 ..", true, "..", EntryIgnored},
		{"unix total", "total 12", true, "", EntryIgnored},
		{"dos dir", "09-24-24  10:30AM       <DIR>          logs", true, "logs", EntryDirectory},
		{"dos file", "12-14-23  12:22PM           1037794 large report.pdf", true, "large report.pdf", EntryFile},
		{"eplf file", "+i8388621.48594,m825718503,r,s280,\tdjb.html", true, "djb.html", EntryFile},
		{"eplf dir", "+i8388621.50690,m824255907,/,\t514", true, "514", EntryDirectory},
		{"too few fields", "-rw-r--r-- 1 owner 5 Jan 01 a.txt", false, "", EntryFile},
		{"free text", "hello world", false, "", EntryFile},
		{"total with word", "total cost", false, "", EntryFile},
		{"dos bad size", "12-14-23  12:22PM  big  file.pdf", false, "", EntryFile},
	}

	classifier := DefaultClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, ok := classifier.Classify(tt.line)
			assert.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				return
			}
			assert.Equal(t, tt.wantName, entry.Name)
			assert.Equal(t, tt.wantKind, entry.Kind)
		})
	}
}

func TestIsDOSDate(t *testing.T) {
	t.Parallel()
	assert.True(t, isDOSDate("12-14-23"))
	assert.True(t, isDOSDate("1/2/2024"))
	assert.False(t, isDOSDate("2024-01-02"))
	assert.False(t, isDOSDate("12-14"))
	assert.False(t, isDOSDate("ab-cd-ef"))
}

func TestEntryKindString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "file", EntryFile.String())
	assert.Equal(t, "dir", EntryDirectory.String())
	assert.Equal(t, "ignored", EntryIgnored.String())
	assert.Equal(t, "EntryKind(9)", EntryKind(9).String())
}
