// Package ftp implements the client side of an FTP or explicit FTPS session
// used to fingerprint a remote directory tree.
//
// # Overview
//
// A Session is a logged-in control connection that can:
//   - report the server greeting captured at connect time
//   - query and change the working directory (PWD, CWD)
//   - list the current directory verbatim (LIST in ASCII mode)
//   - stream a file into an io.Writer (RETR in binary mode)
//
// Connect opens a plain session. ConnectSecure negotiates explicit TLS
// (AUTH TLS, PBSZ 0, PROT P) before sending credentials:
//
//	s, err := ftp.ConnectSecure("ftp.example.com", 21, "user", "secret",
//	    ftp.WithTLSConfig(&tls.Config{ServerName: "ftp.example.com"}),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
// # Data Connections
//
// Passive mode is the default: EPSV is tried first and PASV is used when the
// server answers 502 or the reply cannot be parsed. WithActiveMode switches
// to PORT (EPRT on IPv6). Under ConnectSecure every data connection is
// wrapped in TLS unless WithClearDataChannel was given, in which case PROT C
// is sent and data flows in the clear.
//
// # Completion Replies
//
// ListDirectory and RetrieveFile only succeed when the server closes the
// transfer with reply 226. Any other code, including other 2xx codes, is
// returned as a *ProtocolError.
//
// # Errors
//
// Network failures are reported with the types from the transport package:
// *transport.ConnectionError for unreachable hosts and rejected logins,
// *transport.TLSError for failed handshakes and *transport.TimeoutError when
// a reply does not arrive in time. Unexpected reply codes are *ProtocolError:
//
//	if _, err := s.RetrieveFile("data.bin", io.Discard); err != nil {
//	    var pe *ftp.ProtocolError
//	    if errors.As(err, &pe) && pe.IsPermanent() {
//	        // 5xx
//	    }
//	}
//
// A Session is not safe for concurrent use.
package ftp
