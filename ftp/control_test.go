package ftp

import (
	"bufio"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadResponse(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		input     string
		wantCode  int
		wantMsg   string
		wantLines int
	}{
		{
			name:      "simple success",
			input:     "220 Welcome\r\n",
			wantCode:  220,
			wantMsg:   "Welcome",
			wantLines: 1,
		},
		{
			name:      "code with no message",
			input:     "200 \r\n",
			wantCode:  200,
			wantMsg:   "",
			wantLines: 1,
		},
		{
			name:      "bare LF terminator",
			input:     "226 Transfer complete\n",
			wantCode:  226,
			wantMsg:   "Transfer complete",
			wantLines: 1,
		},
		{
			name: "multi-line with code on every line",
			input: "220-Welcome to FTP\r\n" +
				"220-This is line 2\r\n" +
				"220 Ready\r\n",
			wantCode:  220,
			wantMsg:   "Welcome to FTP\nThis is line 2\nReady",
			wantLines: 3,
		},
		{
			name: "multi-line with indented continuation",
			input: "211-Features:\r\n" +
				" UTF8\r\n" +
				" EPSV\r\n" +
				"211 End\r\n",
			wantCode:  211,
			wantMsg:   "Features:\nUTF8\nEPSV\nEnd",
			wantLines: 4,
		},
		{
			name: "embedded line starting with another code",
			input: "220-Banner\r\n" +
				"230 not the end\r\n" +
				"220 Ready\r\n",
			wantCode:  220,
			wantMsg:   "Banner\n230 not the end\nReady",
			wantLines: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := readResponse(bufio.NewReader(strings.NewReader(tt.input)))
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.Equal(t, tt.wantMsg, resp.Message)
			assert.Len(t, resp.Lines, tt.wantLines)
		})
	}
}

func TestReadResponseErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		input string
	}{
		{"too short", "22\r\n"},
		{"non-numeric code", "abc hello\r\n"},
		{"bad separator", "220xhello\r\n"},
		{"truncated multi-line", "220-Welcome\r\n220-more\r\n"},
		{"empty", ""},
		{"line without terminator", "220 Ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readResponse(bufio.NewReader(strings.NewReader(tt.input)))
			assert.Error(t, err)
		})
	}
}

func TestReadResponseUnexpectedEOF(t *testing.T) {
	t.Parallel()

	_, err := readResponse(bufio.NewReader(strings.NewReader("220-Welcome\r\n")))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestResponseString(t *testing.T) {
	t.Parallel()

	resp := &Response{Code: 220, Lines: []string{"220-Hello", "220 Ready"}}
	assert.Equal(t, "220-Hello\n220 Ready", resp.String())
	assert.True(t, resp.Is2xx())
	assert.False(t, resp.Is1xx())
}

func TestParseQuotedPath(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		message string
		want    string
		ok      bool
	}{
		{"root", `"/" is the current directory.`, "/", true},
		{"nested", `"/pub/data" is current directory`, "/pub/data", true},
		{"spaces", `"/my files" created`, "/my files", true},
		{"doubled quotes", `"/say ""hi""" is current`, `/say "hi"`, true},
		{"no quotes", `/pub is current`, "", false},
		{"unterminated", `"/pub is current`, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseQuotedPath(tt.message)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProtocolError(t *testing.T) {
	t.Parallel()

	err := &ProtocolError{Command: "RETR a.txt", Response: "Transfer aborted.", Code: 451}
	assert.Equal(t, "ftp: RETR a.txt failed: Transfer aborted. (code 451)", err.Error())
	assert.True(t, err.IsTemporary())
	assert.False(t, err.IsPermanent())

	err.Code = 550
	assert.True(t, err.IsPermanent())
}
