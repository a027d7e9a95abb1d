package ftp

import (
	"bytes"
	"crypto/tls"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonzalop/tunnelcheck/internal/ftptest"
	"github.com/gonzalop/tunnelcheck/internal/tlstest"
	"github.com/gonzalop/tunnelcheck/transport"
)

var sampleTree = map[string]string{
	"/readme.txt":      "hello",
	"/pub/data.bin":    "0123456789",
	"/pub/empty/":      "",
	"/pub/nested/x.md": "# x",
}

func connect(t *testing.T, srv *ftptest.Server, options ...Option) *Session {
	t.Helper()
	host, port := srv.Addr()
	options = append([]Option{WithTimeout(2 * time.Second)}, options...)
	s, err := Connect(host, port, "tester", "secret", options...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func connectSecure(t *testing.T, srv *ftptest.Server, pair *tlstest.Pair, options ...Option) *Session {
	t.Helper()
	host, port := srv.Addr()
	options = append([]Option{WithTimeout(2 * time.Second), WithTLSConfig(pair.Client)}, options...)
	s, err := ConnectSecure(host, port, "tester", "secret", options...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// indexOf returns the position of the first command starting with prefix.
func indexOf(commands []string, prefix string) int {
	for i, c := range commands {
		if strings.HasPrefix(c, prefix) {
			return i
		}
	}
	return -1
}

func count(commands []string, prefix string) int {
	n := 0
	for _, c := range commands {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func TestWelcome(t *testing.T) {
	t.Parallel()

	t.Run("single line", func(t *testing.T) {
		srv := ftptest.New(t, sampleTree, ftptest.WithWelcome("Tunnel FTP ready"))
		s := connect(t, srv)
		assert.Equal(t, "220 Tunnel FTP ready", s.Welcome())
	})

	t.Run("multi line", func(t *testing.T) {
		srv := ftptest.New(t, sampleTree, ftptest.WithWelcome("Welcome\nAuthorized use only"))
		s := connect(t, srv)
		assert.Equal(t, "220-Welcome\n220 Authorized use only", s.Welcome())
	})
}

func TestWorkingDirectory(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t, sampleTree)
	s := connect(t, srv)

	dir, err := s.WorkingDirectory()
	require.NoError(t, err)
	assert.Equal(t, "/", dir)

	require.NoError(t, s.ChangeDirectory("/pub/nested"))
	dir, err = s.WorkingDirectory()
	require.NoError(t, err)
	assert.Equal(t, "/pub/nested", dir)
}

func TestChangeDirectoryMissing(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t, sampleTree)
	s := connect(t, srv)

	err := s.ChangeDirectory("/nope")
	var pe *ProtocolError
	require.True(t, errors.As(err, &pe), "expected *ProtocolError, got %T: %v", err, err)
	assert.Equal(t, 550, pe.Code)
	assert.Equal(t, "CWD /nope", pe.Command)
}

func TestListDirectory(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t, sampleTree)
	s := connect(t, srv)

	require.NoError(t, s.ChangeDirectory("/pub"))
	lines, err := s.ListDirectory()
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "-rw-r--r--"))
	assert.True(t, strings.HasSuffix(lines[0], " data.bin"))
	assert.True(t, strings.HasPrefix(lines[1], "d"))
	assert.True(t, strings.HasSuffix(lines[1], " empty"))
	assert.True(t, strings.HasSuffix(lines[2], " nested"))
	for _, line := range lines {
		assert.NotContains(t, line, "\r")
	}

	commands := srv.Commands()
	assert.Contains(t, commands, "TYPE A")
	assert.Contains(t, commands, "EPSV")
	assert.Less(t, indexOf(commands, "EPSV"), indexOf(commands, "LIST"))
}

func TestListDirectoryRaw(t *testing.T) {
	t.Parallel()
	raw := []string{"total 2", "", "weird line"}
	srv := ftptest.New(t, sampleTree, ftptest.WithListing("/", raw...))
	s := connect(t, srv)

	lines, err := s.ListDirectory()
	require.NoError(t, err)
	assert.Equal(t, raw, lines)
}

func TestRetrieveFile(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t, sampleTree)
	s := connect(t, srv)

	require.NoError(t, s.ChangeDirectory("/pub"))
	var buf bytes.Buffer
	n, err := s.RetrieveFile("data.bin", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
	assert.Equal(t, "0123456789", buf.String())

	commands := srv.Commands()
	assert.Contains(t, commands, "TYPE I")
	assert.Contains(t, commands, "RETR data.bin")
}

func TestTransferTypeIsCached(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t, sampleTree)
	s := connect(t, srv)

	for i := 0; i < 3; i++ {
		_, err := s.RetrieveFile("readme.txt", &bytes.Buffer{})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, count(srv.Commands(), "TYPE I"))
}

func TestCompletionMustBe226(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		command string
		path    string
		code    int
		run     func(*Session) error
		wantCmd string
	}{
		{
			name: "RETR aborted", command: "RETR", path: "/readme.txt", code: 451,
			run: func(s *Session) error {
				_, err := s.RetrieveFile("readme.txt", &bytes.Buffer{})
				return err
			},
			wantCmd: "RETR readme.txt",
		},
		{
			name: "RETR with other 2xx", command: "RETR", path: "/readme.txt", code: 250,
			run: func(s *Session) error {
				_, err := s.RetrieveFile("readme.txt", &bytes.Buffer{})
				return err
			},
			wantCmd: "RETR readme.txt",
		},
		{
			name: "LIST aborted", command: "LIST", path: "/", code: 426,
			run: func(s *Session) error {
				_, err := s.ListDirectory()
				return err
			},
			wantCmd: "LIST",
		},
		{
			name: "LIST with 250", command: "LIST", path: "/", code: 250,
			run: func(s *Session) error {
				_, err := s.ListDirectory()
				return err
			},
			wantCmd: "LIST",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := ftptest.New(t, sampleTree, ftptest.WithFailure(tt.command, tt.path, tt.code))
			s := connect(t, srv)

			err := tt.run(s)
			var pe *ProtocolError
			require.True(t, errors.As(err, &pe), "expected *ProtocolError, got %T: %v", err, err)
			assert.Equal(t, tt.code, pe.Code)
			assert.Equal(t, tt.wantCmd, pe.Command)

			// The control channel stays usable after a failed transfer.
			_, err = s.WorkingDirectory()
			assert.NoError(t, err)
		})
	}
}

func TestRetrieveMissingFile(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t, sampleTree)
	s := connect(t, srv)

	_, err := s.RetrieveFile("ghost.txt", &bytes.Buffer{})
	var pe *ProtocolError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 550, pe.Code)
	assert.Equal(t, "RETR ghost.txt", pe.Command)
}

func TestEPSVFallback(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t, sampleTree, ftptest.WithoutEPSV())
	s := connect(t, srv)

	_, err := s.ListDirectory()
	require.NoError(t, err)
	_, err = s.ListDirectory()
	require.NoError(t, err)

	commands := srv.Commands()
	assert.Equal(t, 1, count(commands, "EPSV"), "EPSV is not retried after 502")
	assert.Equal(t, 2, count(commands, "PASV"))
}

func TestDisableEPSV(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t, sampleTree)
	s := connect(t, srv, WithDisableEPSV())

	_, err := s.ListDirectory()
	require.NoError(t, err)

	commands := srv.Commands()
	assert.Zero(t, count(commands, "EPSV"))
	assert.Equal(t, 1, count(commands, "PASV"))
}

func TestActiveMode(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t, sampleTree)
	s := connect(t, srv, WithActiveMode())

	lines, err := s.ListDirectory()
	require.NoError(t, err)
	assert.Len(t, lines, 2)

	var buf bytes.Buffer
	_, err = s.RetrieveFile("readme.txt", &buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", buf.String())

	commands := srv.Commands()
	assert.Equal(t, 2, count(commands, "PORT "))
	assert.Zero(t, count(commands, "EPSV"))
}

func TestConnectSecure(t *testing.T) {
	t.Parallel()
	pair := tlstest.New(t)

	tests := []struct {
		name     string
		options  []Option
		wantProt string
	}{
		{"protected passive", nil, "PROT P"},
		{"protected active", []Option{WithActiveMode()}, "PROT P"},
		{"clear data channel", []Option{WithClearDataChannel()}, "PROT C"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := ftptest.New(t, sampleTree, ftptest.WithTLS(pair.Server))
			s := connectSecure(t, srv, pair, tt.options...)

			assert.Equal(t, "220 FTP Server Ready", s.Welcome())

			lines, err := s.ListDirectory()
			require.NoError(t, err)
			assert.Len(t, lines, 2)

			var buf bytes.Buffer
			_, err = s.RetrieveFile("readme.txt", &buf)
			require.NoError(t, err)
			assert.Equal(t, "hello", buf.String())

			commands := srv.Commands()
			auth := indexOf(commands, "AUTH TLS")
			pbsz := indexOf(commands, "PBSZ 0")
			prot := indexOf(commands, tt.wantProt)
			user := indexOf(commands, "USER")
			require.NotEqual(t, -1, auth)
			assert.Less(t, auth, pbsz)
			assert.Less(t, pbsz, prot)
			assert.Less(t, prot, user, "credentials are sent after TLS is up")
		})
	}
}

func TestConnectSecureUntrustedCertificate(t *testing.T) {
	t.Parallel()
	pair := tlstest.New(t)
	srv := ftptest.New(t, sampleTree, ftptest.WithTLS(pair.Server))
	host, port := srv.Addr()

	_, err := ConnectSecure(host, port, "tester", "secret",
		WithTimeout(2*time.Second),
		WithTLSConfig(&tls.Config{ServerName: "127.0.0.1"}),
	)
	var tlsErr *transport.TLSError
	require.True(t, errors.As(err, &tlsErr), "expected *transport.TLSError, got %T: %v", err, err)
	assert.Zero(t, count(srv.Commands(), "USER"))
}

func TestConnectSecureWithoutServerTLS(t *testing.T) {
	t.Parallel()
	pair := tlstest.New(t)
	srv := ftptest.New(t, sampleTree)
	host, port := srv.Addr()

	_, err := ConnectSecure(host, port, "tester", "secret", WithTLSConfig(pair.Client))
	var pe *ProtocolError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 502, pe.Code)
}

func TestLoginRejected(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t, sampleTree, ftptest.WithCredentials("alice", "right"))
	host, port := srv.Addr()

	_, err := Connect(host, port, "alice", "wrong", WithTimeout(2*time.Second))
	var connErr *transport.ConnectionError
	require.True(t, errors.As(err, &connErr), "expected *transport.ConnectionError, got %T: %v", err, err)
	assert.Equal(t, "login", connErr.Op)

	var pe *ProtocolError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 530, pe.Code)
	assert.NotContains(t, err.Error(), "wrong")
}

func TestConnectRefused(t *testing.T) {
	t.Parallel()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	_, err = Connect("127.0.0.1", port, "u", "p", WithTimeout(time.Second))
	var connErr *transport.ConnectionError
	require.True(t, errors.As(err, &connErr), "expected *transport.ConnectionError, got %T: %v", err, err)
	assert.Equal(t, "dial", connErr.Op)
}

// rawServer accepts one connection, writes greeting and then stays silent
// until the test ends.
func rawServer(t *testing.T, greeting string) (string, int) {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	t.Cleanup(func() {
		close(done)
		l.Close()
	})

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write([]byte(greeting))
		<-done
	}()

	addr := l.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func TestGreetingNot220(t *testing.T) {
	t.Parallel()
	host, port := rawServer(t, "421 Too many connections\r\n")

	_, err := Connect(host, port, "u", "p", WithTimeout(time.Second))
	var pe *ProtocolError
	require.True(t, errors.As(err, &pe), "expected *ProtocolError, got %T: %v", err, err)
	assert.Equal(t, 421, pe.Code)
	assert.Equal(t, "CONNECT", pe.Command)
}

func TestReplyTimeout(t *testing.T) {
	t.Parallel()
	host, port := rawServer(t, "220 ready\r\n")

	start := time.Now()
	_, err := Connect(host, port, "u", "p", WithTimeout(100*time.Millisecond))
	require.Error(t, err)
	assert.True(t, transport.IsTimeout(err))

	var timeoutErr *transport.TimeoutError
	assert.True(t, errors.As(err, &timeoutErr))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t, sampleTree)
	host, port := srv.Addr()

	s, err := Connect(host, port, "tester", "secret")
	require.NoError(t, err)

	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
	assert.Equal(t, 1, count(srv.Commands(), "QUIT"))

	var nilSession *Session
	assert.NoError(t, nilSession.Close())
}

func TestBandwidthLimit(t *testing.T) {
	t.Parallel()
	content := strings.Repeat("z", 6*1024)
	srv := ftptest.New(t, map[string]string{"/big.bin": content})
	s := connect(t, srv, WithBandwidthLimit(4*1024))

	start := time.Now()
	var buf bytes.Buffer
	n, err := s.RetrieveFile("big.bin", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), n)
	assert.Greater(t, time.Since(start), 300*time.Millisecond)
}
