// Package ftptest runs an in-process FTP server over an in-memory tree for
// tests. It speaks enough of RFC 959 and RFC 4217 for a Session to log in,
// walk directories and retrieve files, in passive or active mode, with or
// without explicit TLS.
package ftptest

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// listingDate is the fixed modification time printed in LIST output, so two
// listings of the same tree are byte-identical.
const listingDate = "Jan 01 00:00"

// Option configures a Server.
type Option func(*Server)

// WithWelcome sets the greeting text sent after "220". Embedded newlines
// produce a multi-line greeting.
func WithWelcome(text string) Option {
	return func(s *Server) {
		s.welcome = text
	}
}

// WithTLS enables AUTH TLS with the given server configuration.
func WithTLS(config *tls.Config) Option {
	return func(s *Server) {
		s.tlsConfig = config
	}
}

// WithCredentials restricts logins to one user and password. Without it any
// credentials are accepted.
func WithCredentials(user, password string) Option {
	return func(s *Server) {
		s.user = user
		s.password = password
	}
}

// WithoutEPSV answers EPSV with 502 so clients fall back to PASV.
func WithoutEPSV() Option {
	return func(s *Server) {
		s.disableEPSV = true
	}
}

// WithListing replaces the generated LIST output of dir with raw lines.
func WithListing(dir string, lines ...string) Option {
	return func(s *Server) {
		s.listings[path.Clean(dir)] = lines
	}
}

// WithFailure makes command (CWD, LIST or RETR) on the absolute path p
// answer with code. Transfers still send their data before the failing
// completion reply.
func WithFailure(command, p string, code int) Option {
	return func(s *Server) {
		s.failures[failureKey(command, p)] = code
	}
}

func failureKey(command, p string) string {
	return strings.ToUpper(command) + " " + path.Clean(p)
}

// Server is an FTP server for tests.
type Server struct {
	listener net.Listener

	welcome     string
	tlsConfig   *tls.Config
	user        string
	password    string
	disableEPSV bool

	mu       sync.Mutex
	files    map[string][]byte
	dirs     map[string]bool
	listings map[string][]string
	failures map[string]int
	commands []string
	conns    map[net.Conn]struct{}

	wg sync.WaitGroup
}

// New starts a server on 127.0.0.1 serving tree and stops it when the test
// ends. Keys of tree are absolute file paths mapped to their contents; a key
// ending in "/" declares an empty directory. Parent directories are implied.
func New(t testing.TB, tree map[string]string, options ...Option) *Server {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ftptest: listen: %v", err)
	}

	s := &Server{
		listener: ln,
		welcome:  "FTP Server Ready",
		files:    make(map[string][]byte),
		dirs:     map[string]bool{"/": true},
		listings: make(map[string][]string),
		failures: make(map[string]int),
		conns:    make(map[net.Conn]struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	for p, content := range tree {
		if strings.HasSuffix(p, "/") {
			s.addDir(path.Clean(p))
			continue
		}
		s.Put(p, content)
	}

	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)

	return s
}

// Addr returns the host and port the server listens on.
func (s *Server) Addr() (string, int) {
	addr := s.listener.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

// Put creates or replaces a file.
func (s *Server) Put(p, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p = path.Clean("/" + p)
	s.files[p] = []byte(content)
	s.addDirLocked(path.Dir(p))
}

// Remove deletes a file or an empty directory.
func (s *Server) Remove(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p = path.Clean("/" + p)
	delete(s.files, p)
	delete(s.dirs, p)
}

// Commands returns every command received so far, in order. Passwords are
// masked.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Close stops the server, drops open control connections and waits for
// their sessions to end.
func (s *Server) Close() {
	s.listener.Close()

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Server) addDir(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addDirLocked(p)
}

func (s *Server) addDirLocked(p string) {
	for {
		s.dirs[p] = true
		if p == "/" {
			return
		}
		p = path.Dir(p)
	}
}

func (s *Server) record(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.HasPrefix(strings.ToUpper(line), "PASS ") {
		line = "PASS ****"
	}
	s.commands = append(s.commands, line)
}

func (s *Server) failure(command, p string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.failures[failureKey(command, p)]
	return code, ok
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
			}()
			newSession(s, conn).serve()
		}()
	}
}

// listing renders the LIST output of dir in Unix format, sorted by name.
func (s *Server) listing(dir string) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirs[dir] {
		return nil, false
	}
	if lines, ok := s.listings[dir]; ok {
		return lines, true
	}

	type entry struct {
		name string
		line string
	}
	var entries []entry
	for p := range s.dirs {
		if p != "/" && path.Dir(p) == dir {
			name := path.Base(p)
			entries = append(entries, entry{name, fmt.Sprintf("drwxr-xr-x 1 owner group %8d %s %s", 0, listingDate, name)})
		}
	}
	for p, content := range s.files {
		if path.Dir(p) == dir {
			name := path.Base(p)
			entries = append(entries, entry{name, fmt.Sprintf("-rw-r--r-- 1 owner group %8d %s %s", len(content), listingDate, name)})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.line
	}
	return lines, true
}

func (s *Server) content(p string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[p]
	return data, ok
}

func (s *Server) isDir(p string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirs[p]
}

// session is one control connection.
type session struct {
	server *Server
	raw    net.Conn
	text   *textproto.Conn

	loggedIn bool
	user     string
	cwd      string
	prot     string

	pasv       net.Listener
	activeAddr string
}

func newSession(server *Server, conn net.Conn) *session {
	return &session{
		server: server,
		raw:    conn,
		text:   textproto.NewConn(conn),
		cwd:    "/",
		prot:   "C",
	}
}

// commandHandlers maps commands to handlers. USER, PASS, AUTH and QUIT are
// handled in serve.
var commandHandlers = map[string]func(*session, string){
	"PWD":  (*session).handlePWD,
	"CWD":  (*session).handleCWD,
	"TYPE": (*session).handleTYPE,
	"SYST": (*session).handleSYST,
	"NOOP": (*session).handleNOOP,
	"PBSZ": (*session).handlePBSZ,
	"PROT": (*session).handlePROT,
	"EPSV": (*session).handleEPSV,
	"PASV": (*session).handlePASV,
	"PORT": (*session).handlePORT,
	"LIST": (*session).handleLIST,
	"RETR": (*session).handleRETR,
}

// preLogin lists commands allowed before USER/PASS.
var preLogin = map[string]bool{"SYST": true, "NOOP": true, "PBSZ": true, "PROT": true}

func (c *session) serve() {
	defer c.close()

	c.sendWelcome()

	for {
		_ = c.raw.SetReadDeadline(time.Now().Add(30 * time.Second))
		line, err := c.text.ReadLine()
		if err != nil {
			return
		}
		c.server.record(line)

		cmd, arg, _ := strings.Cut(line, " ")
		cmd = strings.ToUpper(cmd)

		switch cmd {
		case "USER":
			c.user = arg
			c.reply(331, "User name okay, need password.")
		case "PASS":
			c.handlePASS(arg)
		case "AUTH":
			c.handleAUTH(arg)
		case "QUIT":
			c.reply(221, "Goodbye.")
			return
		default:
			handler, ok := commandHandlers[cmd]
			switch {
			case !ok:
				c.reply(502, "Command not implemented.")
			case !c.loggedIn && !preLogin[cmd]:
				c.reply(530, "Not logged in.")
			default:
				handler(c, arg)
			}
		}
	}
}

func (c *session) close() {
	if c.pasv != nil {
		c.pasv.Close()
	}
	c.text.Close()
}

func (c *session) sendWelcome() {
	lines := strings.Split(c.server.welcome, "\n")
	for i, line := range lines {
		sep := "-"
		if i == len(lines)-1 {
			sep = " "
		}
		_ = c.text.PrintfLine("220%s%s", sep, line)
	}
}

func (c *session) reply(code int, message string) {
	_ = c.text.PrintfLine("%d %s", code, message)
}

func (c *session) resolve(p string) string {
	if p == "" {
		return c.cwd
	}
	if !strings.HasPrefix(p, "/") {
		p = path.Join(c.cwd, p)
	}
	return path.Clean(p)
}

func (c *session) handlePASS(arg string) {
	if c.server.user != "" && (c.user != c.server.user || arg != c.server.password) {
		c.reply(530, "Login incorrect.")
		return
	}
	c.loggedIn = true
	c.reply(230, "User logged in, proceed.")
}

func (c *session) handleAUTH(arg string) {
	if c.server.tlsConfig == nil {
		c.reply(502, "TLS not configured.")
		return
	}
	if strings.ToUpper(arg) != "TLS" {
		c.reply(504, "Only AUTH TLS is supported.")
		return
	}

	c.reply(234, "AUTH TLS successful.")

	tlsConn := tls.Server(c.raw, c.server.tlsConfig)
	_ = tlsConn.SetDeadline(time.Now().Add(5 * time.Second))
	if err := tlsConn.Handshake(); err != nil {
		c.raw.Close()
		return
	}
	_ = tlsConn.SetDeadline(time.Time{})
	c.raw = tlsConn
	c.text = textproto.NewConn(tlsConn)
}

func (c *session) handlePBSZ(string) {
	if c.server.tlsConfig == nil {
		c.reply(502, "TLS not configured.")
		return
	}
	c.reply(200, "PBSZ=0")
}

func (c *session) handlePROT(arg string) {
	if c.server.tlsConfig == nil {
		c.reply(502, "TLS not configured.")
		return
	}
	switch strings.ToUpper(arg) {
	case "P", "C":
		c.prot = strings.ToUpper(arg)
		c.reply(200, "PROT "+c.prot+" OK.")
	default:
		c.reply(504, "PROT not implemented.")
	}
}

func (c *session) handlePWD(string) {
	quoted := strings.ReplaceAll(c.cwd, `"`, `""`)
	c.reply(257, `"`+quoted+`" is the current directory.`)
}

func (c *session) handleCWD(arg string) {
	target := c.resolve(arg)
	if code, ok := c.server.failure("CWD", target); ok {
		c.reply(code, "Failed to change directory.")
		return
	}
	if !c.server.isDir(target) {
		c.reply(550, "Failed to change directory.")
		return
	}
	c.cwd = target
	c.reply(250, "Directory successfully changed.")
}

func (c *session) handleTYPE(arg string) {
	switch strings.ToUpper(arg) {
	case "A", "I":
		c.reply(200, "Type set to "+strings.ToUpper(arg)+".")
	default:
		c.reply(504, "Type not supported.")
	}
}

func (c *session) handleSYST(string) {
	c.reply(215, "UNIX Type: L8")
}

func (c *session) handleNOOP(string) {
	c.reply(200, "NOOP ok.")
}

func (c *session) listenPassive() (int, bool) {
	if c.pasv != nil {
		c.pasv.Close()
		c.pasv = nil
	}
	c.activeAddr = ""

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		c.reply(425, "Can't open passive connection.")
		return 0, false
	}
	c.pasv = ln
	return ln.Addr().(*net.TCPAddr).Port, true
}

func (c *session) handleEPSV(string) {
	if c.server.disableEPSV {
		c.reply(502, "Command not implemented.")
		return
	}
	port, ok := c.listenPassive()
	if !ok {
		return
	}
	c.reply(229, fmt.Sprintf("Entering Extended Passive Mode (|||%d|)", port))
}

func (c *session) handlePASV(string) {
	port, ok := c.listenPassive()
	if !ok {
		return
	}
	c.reply(227, fmt.Sprintf("Entering Passive Mode (127,0,0,1,%d,%d).", port/256, port%256))
}

func (c *session) handlePORT(arg string) {
	parts := strings.Split(arg, ",")
	if len(parts) != 6 {
		c.reply(501, "Syntax error in parameters or arguments.")
		return
	}
	p1, err1 := strconv.Atoi(parts[4])
	p2, err2 := strconv.Atoi(parts[5])
	ip := net.ParseIP(strings.Join(parts[0:4], "."))
	if err1 != nil || err2 != nil || ip == nil {
		c.reply(501, "Syntax error in parameters or arguments.")
		return
	}

	if c.pasv != nil {
		c.pasv.Close()
		c.pasv = nil
	}
	c.activeAddr = net.JoinHostPort(ip.String(), strconv.Itoa(p1*256+p2))
	c.reply(200, "PORT command successful.")
}

// connData opens the data connection prepared by EPSV, PASV or PORT and
// applies PROT P. It runs after the preliminary reply has been sent.
func (c *session) connData() (net.Conn, error) {
	var conn net.Conn
	switch {
	case c.pasv != nil:
		if l, ok := c.pasv.(*net.TCPListener); ok {
			_ = l.SetDeadline(time.Now().Add(5 * time.Second))
		}
		var err error
		conn, err = c.pasv.Accept()
		c.pasv.Close()
		c.pasv = nil
		if err != nil {
			return nil, err
		}
	case c.activeAddr != "":
		var err error
		conn, err = net.DialTimeout("tcp", c.activeAddr, 5*time.Second)
		c.activeAddr = ""
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("no data connection set up")
	}

	if c.prot == "P" {
		tlsConn := tls.Server(conn, c.server.tlsConfig)
		_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
		if err := tlsConn.Handshake(); err != nil {
			conn.Close()
			return nil, err
		}
		conn = tlsConn
	}
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn, nil
}

// transfer sends data over a fresh data connection and finishes with 226,
// or with the injected failure code for command on p.
func (c *session) transfer(command, p string, data []byte) {
	if c.pasv == nil && c.activeAddr == "" {
		c.reply(425, "Use PORT or PASV first.")
		return
	}

	c.reply(150, "Opening data connection.")

	conn, err := c.connData()
	if err != nil {
		c.reply(425, "Can't open data connection.")
		return
	}
	_, werr := conn.Write(data)
	conn.Close()

	if code, ok := c.server.failure(command, p); ok {
		c.reply(code, "Transfer aborted.")
		return
	}
	if werr != nil {
		c.reply(426, "Connection closed; transfer aborted.")
		return
	}
	c.reply(226, "Transfer complete.")
}

func (c *session) handleLIST(arg string) {
	dir := c.resolve(arg)
	lines, ok := c.server.listing(dir)
	if !ok {
		c.reply(550, "No such directory.")
		return
	}

	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	c.transfer("LIST", dir, []byte(b.String()))
}

func (c *session) handleRETR(arg string) {
	p := c.resolve(arg)
	data, ok := c.server.content(p)
	if !ok {
		c.reply(550, "Failed to open file.")
		return
	}
	c.transfer("RETR", p, data)
}
