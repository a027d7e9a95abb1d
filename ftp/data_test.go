package ftp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePASV(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		input    string
		wantAddr string
		wantErr  bool
	}{
		{"standard", "227 Entering Passive Mode (192,168,1,1,195,149)", "192.168.1.1:50069", false},
		{"trailing dot", "227 Entering Passive Mode (127,0,0,1,4,1).", "127.0.0.1:1025", false},
		{"missing parens", "227 Entering Passive Mode 127,0,0,1,4,1", "", true},
		{"octet out of range", "227 Entering Passive Mode (300,0,0,1,4,1)", "", true},
		{"port byte out of range", "227 Entering Passive Mode (127,0,0,1,256,1)", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePASV(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAddr, got)
		})
	}
}

func TestParseEPSV(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		input    string
		wantPort string
		wantErr  bool
	}{
		{"standard", "229 Entering Extended Passive Mode (|||6446|)", "6446", false},
		{"zero port", "229 Entering Extended Passive Mode (|||0|)", "", true},
		{"port too large", "229 Entering Extended Passive Mode (|||70000|)", "", true},
		{"garbage", "229 ok", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseEPSV(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPort, got)
		})
	}
}

func TestFormatPORT(t *testing.T) {
	t.Parallel()

	got, err := formatPORT("192.168.1.100:50000")
	require.NoError(t, err)
	assert.Equal(t, "192,168,1,100,195,80", got)

	_, err = formatPORT("[::1]:50000")
	assert.Error(t, err)

	_, err = formatPORT("nonsense")
	assert.Error(t, err)
}

func TestFormatEPRT(t *testing.T) {
	t.Parallel()

	got, err := formatEPRT("[::1]:2121")
	require.NoError(t, err)
	assert.Equal(t, "|2|::1|2121|", got)

	got, err = formatEPRT("10.0.0.2:2121")
	require.NoError(t, err)
	assert.Equal(t, "|1|10.0.0.2|2121|", got)
}

func TestResolveDataAddr(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		pasvAddr    string
		controlHost string
		wantAddr    string
	}{
		{"normal address", "192.168.1.5:12345", "10.0.0.1", "192.168.1.5:12345"},
		{"zero address", "0.0.0.0:12345", "10.0.0.1", "10.0.0.1:12345"},
		{"invalid address", "invalid", "10.0.0.1", "invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantAddr, resolveDataAddr(tt.pasvAddr, tt.controlHost))
		})
	}
}
