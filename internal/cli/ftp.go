package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/spf13/cobra"

	"github.com/gonzalop/tunnelcheck/ftp"
	"github.com/gonzalop/tunnelcheck/snapshot"
)

// readOptions holds the flags shared by the FTP readers.
type readOptions struct {
	save      string
	compare   string
	output    string
	excludes  []string
	active    bool
	progress  bool
	quiet     bool
	clearData bool
}

func (o *readOptions) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&o.save, "save", "", "save the snapshot as master copy `NAME`")
	flags.StringVar(&o.compare, "compare", "", "compare the snapshot against master copy `NAME`")
	flags.StringVarP(&o.output, "output", "o", "", "write the dump to `FILE` instead of standard output")
	flags.StringSliceVar(&o.excludes, "exclude", nil, "skip remote paths matching `GLOB` (repeatable)")
	flags.BoolVar(&o.active, "active", false, "use active mode (PORT/EPRT) for data connections")
	flags.BoolVar(&o.progress, "progress", false, "show a progress bar on standard error")
	flags.BoolVarP(&o.quiet, "quiet", "q", false, "do not print the dump")
}

func (a *app) readFromFTPCommand() *cobra.Command {
	var opts readOptions
	cmd := &cobra.Command{
		Use:   "test-read-from-ftp <host> <port> <user> <password>",
		Short: "Snapshot an FTP server's tree",
		Long: `Log in to a plain FTP server, walk its tree from the login directory,
hash every file and print the snapshot dump. A password of "-" is taken
from ftp.password or TUNNELCHECK_FTP_PASSWORD.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRead(cmd, args, &opts, false)
		},
	}
	opts.register(cmd)
	return cmd
}

func (a *app) readFromFTPESCommand() *cobra.Command {
	var opts readOptions
	cmd := &cobra.Command{
		Use:   "test-read-from-ftpes <host> <port> <user> <password>",
		Short: "Snapshot an FTP server's tree over explicit TLS",
		Long: `Like test-read-from-ftp, but upgrade the control connection with
AUTH TLS before logging in. Data connections are protected (PROT P) unless
--clear-data is given.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRead(cmd, args, &opts, true)
		},
	}
	opts.register(cmd)
	cmd.Flags().BoolVar(&opts.clearData, "clear-data", false, "leave data connections unencrypted (PROT C)")
	return cmd
}

func (a *app) runRead(cmd *cobra.Command, args []string, opts *readOptions, secure bool) error {
	if !argsOK(cmd, args, 4, 4) {
		return nil
	}
	port, ok := parsePort(args[1])
	if !ok {
		return cmd.Help()
	}
	host, user, password := args[0], args[2], args[3]
	if password == "-" {
		password = a.cfg.FTP.Password
	}

	start := time.Now()
	snap, err := a.readSnapshot(cmd, host, port, user, password, opts, secure)
	if err == nil {
		err = a.handleSnapshot(cmd, snap, opts)
	}
	return a.finish(cmd.Name(), start, err)
}

func (a *app) ftpOptions(host string, opts *readOptions, secure bool) ([]ftp.Option, error) {
	options := []ftp.Option{
		ftp.WithTimeout(a.cfg.Timeout),
		ftp.WithLogger(a.slog()),
	}
	if opts.active || !a.cfg.FTP.Passive {
		options = append(options, ftp.WithActiveMode())
	}
	if a.cfg.FTP.DisableEPSV {
		options = append(options, ftp.WithDisableEPSV())
	}
	if limit := a.cfg.FTP.BandwidthLimit; limit > 0 {
		options = append(options, ftp.WithBandwidthLimit(int64(limit)))
	}
	if secure {
		tlsConfig, err := a.cfg.FTP.ClientTLS(host)
		if err != nil {
			return nil, err
		}
		options = append(options, ftp.WithTLSConfig(tlsConfig))
		if opts.clearData || !a.cfg.FTP.ProtectData {
			options = append(options, ftp.WithClearDataChannel())
		}
	}
	return options, nil
}

func (a *app) readSnapshot(cmd *cobra.Command, host string, port int, user, password string, opts *readOptions, secure bool) (*snapshot.Snapshot, error) {
	options, err := a.ftpOptions(host, opts, secure)
	if err != nil {
		return nil, err
	}

	connect := ftp.Connect
	if secure {
		connect = ftp.ConnectSecure
	}
	session, err := connect(host, port, user, password, options...)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	walkOptions := []snapshot.WalkerOption{
		snapshot.WithLogger(a.slog()),
		snapshot.WithObserver(a.metrics),
		snapshot.WithExcludes(append(append([]string{}, a.cfg.Walk.Excludes...), opts.excludes...)...),
	}
	var progress *progressObserver
	if opts.progress {
		progress = newProgressObserver(cmd.ErrOrStderr())
		walkOptions = append(walkOptions, snapshot.WithObserver(progress))
	}

	walker, err := snapshot.NewWalker(walkOptions...)
	if err != nil {
		return nil, err
	}

	a.log.WithField("host", host).WithField("port", port).Info("walking server tree")
	snap, err := walker.Walk(session)
	if progress != nil {
		progress.finish()
	}
	if err != nil {
		return nil, err
	}

	a.log.WithField("directories", len(snap.Directories)).
		WithField("files", snap.FileCount()).
		Info("snapshot complete")
	if progress != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "%d directories, %d files, %s retrieved\n",
			len(snap.Directories), snap.FileCount(), bytefmt.ByteSize(uint64(progress.bytes)))
	}
	return snap, nil
}

// handleSnapshot prints or writes the dump, then saves and compares as
// requested.
func (a *app) handleSnapshot(cmd *cobra.Command, snap *snapshot.Snapshot, opts *readOptions) error {
	if err := a.writeDump(cmd.OutOrStdout(), snap, opts); err != nil {
		return err
	}
	if opts.save == "" && opts.compare == "" {
		return nil
	}

	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if opts.save != "" {
		if err := st.Save(opts.save, snap); err != nil {
			return err
		}
		a.log.WithField("name", opts.save).Info("saved master copy")
	}

	if opts.compare != "" {
		master, err := st.Load(opts.compare)
		if err != nil {
			return err
		}
		return a.reportComparison(cmd.OutOrStdout(), opts.compare, "this run", master, snap)
	}
	return nil
}

func (a *app) writeDump(stdout io.Writer, snap *snapshot.Snapshot, opts *readOptions) error {
	if opts.output == "" {
		if opts.quiet {
			return nil
		}
		_, err := snap.WriteTo(stdout)
		return err
	}

	f, err := os.Create(opts.output)
	if err != nil {
		return fmt.Errorf("failed to create dump file: %w", err)
	}
	w := bufio.NewWriter(f)
	if _, err := snap.WriteTo(w); err != nil {
		f.Close()
		return fmt.Errorf("failed to write dump: %w", err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write dump: %w", err)
	}
	return f.Close()
}
