package cli

import (
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/spf13/cobra"

	"github.com/gonzalop/tunnelcheck/echo"
	"github.com/gonzalop/tunnelcheck/transport"
)

const listenHost = "localhost"

func (a *app) sslEchoServerCommand() *cobra.Command {
	var host string
	cmd := &cobra.Command{
		Use:   "ssl-echo-server <port>",
		Short: "Echo one TLS client",
		Long: `Listen for one TLS client on <port>, stop listening, and send back
everything it sends until it disconnects or stays silent past the echo
timeout. The certificate is read from echo.cert_file (and echo.key_file
when the key is kept separately).`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !argsOK(cmd, args, 1, 1) {
				return nil
			}
			port, ok := parsePort(args[0])
			if !ok {
				return cmd.Help()
			}

			start := time.Now()
			tlsConfig, err := a.cfg.Echo.ServerTLS()
			if err != nil {
				return a.finish(cmd.Name(), start, err)
			}
			return a.finish(cmd.Name(), start, a.serveEcho(host, port, tlsConfig, false))
		},
	}
	cmd.Flags().StringVar(&host, "host", listenHost, "address to listen on")
	return cmd
}

func (a *app) tcpEchoServerCommand() *cobra.Command {
	var host string
	cmd := &cobra.Command{
		Use:   "tcp-echo-server <port> [dump]",
		Short: "Echo one plain TCP client",
		Long: `Listen for one TCP client on <port>, stop listening, and send back
everything it sends. With the trailing word "dump" every message is logged.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !argsOK(cmd, args, 1, 2) {
				return nil
			}
			port, ok := parsePort(args[0])
			if !ok || (len(args) == 2 && args[1] != "dump") {
				return cmd.Help()
			}

			start := time.Now()
			return a.finish(cmd.Name(), start, a.serveEcho(host, port, nil, len(args) == 2))
		},
	}
	cmd.Flags().StringVar(&host, "host", listenHost, "address to listen on")
	return cmd
}

func (a *app) serveEcho(host string, port int, tlsConfig *tls.Config, dump bool) error {
	options := []transport.Option{transport.WithTimeout(a.cfg.Echo.Timeout)}
	if tlsConfig != nil {
		options = append(options, transport.WithTLS(tlsConfig))
	}

	ln, err := transport.Listen(net.JoinHostPort(host, strconv.Itoa(port)), options...)
	if err != nil {
		return err
	}

	srv, err := echo.NewServer(ln,
		echo.WithLogger(a.slog()),
		echo.WithDump(dump),
		echo.WithMetricsCollector(a.metrics),
	)
	if err != nil {
		ln.Close()
		return err
	}
	return srv.WaitAndAnswer()
}

func (a *app) sslClientCommand() *cobra.Command {
	var (
		chunks    int
		chunkSize int
		insecure  bool
	)
	cmd := &cobra.Command{
		Use:   "test-ssl-client <host> <port>",
		Short: "Check a TLS echo server through the tunnel",
		Long: `Connect to <host>:<port> over TLS, send a series of chunks, and check
that each comes back unchanged.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !argsOK(cmd, args, 2, 2) {
				return nil
			}
			port, ok := parsePort(args[1])
			if !ok {
				return cmd.Help()
			}
			if !cmd.Flags().Changed("chunks") {
				chunks = a.cfg.Echo.Chunks
			}
			if !cmd.Flags().Changed("chunk-size") {
				chunkSize = a.cfg.Echo.ChunkSize
			}
			if chunks < 1 || chunkSize < 1 {
				return fmt.Errorf("--chunks and --chunk-size must be positive")
			}

			start := time.Now()
			err := a.verifyEcho(args[0], port, chunks, chunkSize, insecure)
			if err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "echo verified: %d chunks, %s\n",
					chunks, bytefmt.ByteSize(uint64(chunks*chunkSize)))
			}
			return a.finish(cmd.Name(), start, err)
		},
	}
	cmd.Flags().IntVar(&chunks, "chunks", 0, "number of chunks to send (default from config)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "bytes per chunk (default from config)")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "skip certificate verification")
	return cmd
}

func (a *app) verifyEcho(host string, port, chunks, chunkSize int, insecure bool) error {
	ftpConfig := a.cfg.FTP
	ftpConfig.InsecureSkipVerify = ftpConfig.InsecureSkipVerify || insecure
	tlsConfig, err := ftpConfig.ClientTLS(host)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := transport.Dial(addr, transport.WithTLS(tlsConfig), transport.WithTimeout(a.cfg.Timeout))
	if err != nil {
		return err
	}
	a.log.WithField("addr", addr).Info("connected, sending chunks")
	return echo.Verify(conn, echo.Chunks(chunks, chunkSize))
}
