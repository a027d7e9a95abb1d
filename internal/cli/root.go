// Package cli implements the tunnelcheck command line.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gonzalop/tunnelcheck/config"
	"github.com/gonzalop/tunnelcheck/internal/logging"
	"github.com/gonzalop/tunnelcheck/internal/metrics"
	"github.com/gonzalop/tunnelcheck/snapshot/store"
)

// Exit codes returned by Run.
const (
	ExitOK       = 0
	ExitError    = 1
	ExitMismatch = 2
)

// ErrSnapshotsDiffer is returned by commands that compare snapshots when the
// two differ.
var ErrSnapshotsDiffer = errors.New("snapshots differ")

// app carries the state shared by all subcommands of one invocation.
type app struct {
	cfgFile     string
	debug       bool
	storeKind   string
	storePath   string
	metricsFile string

	cfg     *config.Config
	log     *logrus.Logger
	metrics *metrics.Metrics
}

// Run executes the command line in args and returns the process exit code.
func Run(args []string, stdout, stderr io.Writer) int {
	root, a := newRootCommand()
	root.SetArgs(append([]string{}, args...))
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if err == nil {
		return ExitOK
	}

	log := a.log
	if log == nil {
		log = logrus.New()
		log.SetOutput(stderr)
	}
	log.Error(err)

	if errors.Is(err, ErrSnapshotsDiffer) {
		return ExitMismatch
	}
	return ExitError
}

// NewRootCommand returns the tunnelcheck command tree.
func NewRootCommand() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *app) {
	a := &app{}

	root := &cobra.Command{
		Use:   "tunnelcheck",
		Short: "Check that a tunnel forwards FTP, FTPS and TLS traffic unchanged",
		Long: `tunnelcheck runs the two ends of a tunnel test.

Echo servers accept one client and send back every byte they receive; the
ssl client checks the echo. The FTP readers walk a server's whole tree,
hash every file and print a structural snapshot that can be saved as a
master copy and compared against later runs through the tunnel.

Example usage:
  tunnelcheck tcp-echo-server 9000 dump
  tunnelcheck test-read-from-ftp ftp.example.com 21 alice secret --save direct
  tunnelcheck test-read-from-ftp localhost 2121 alice secret --compare direct`,
		Args:              cobra.ArbitraryArgs,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is ./tunnelcheck.yaml, then ~/.tunnelcheck/config.yaml)")
	flags.BoolVar(&a.debug, "debug", false, "enable debug logging")
	flags.StringVar(&a.storeKind, "store", "", `master copy store: "file" or "bolt"`)
	flags.StringVar(&a.storePath, "store-path", "", "master copy directory (file) or database (bolt)")
	flags.StringVar(&a.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile on exit")

	root.AddCommand(
		a.sslEchoServerCommand(),
		a.tcpEchoServerCommand(),
		a.sslClientCommand(),
		a.readFromFTPCommand(),
		a.readFromFTPESCommand(),
		a.compareCommand(),
	)
	return root, a
}

// setup loads configuration and prepares logging and metrics.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}

	path := a.cfgFile
	if path == "" {
		path = config.Locate()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if a.debug {
		cfg.LogLevel = "debug"
	}
	if a.storeKind != "" {
		cfg.Snapshot.Store = a.storeKind
	}
	if a.storePath != "" {
		cfg.Snapshot.Path = a.storePath
	}
	if a.metricsFile != "" {
		cfg.Metrics.Textfile = a.metricsFile
	}

	log, err := logging.New(cmd.ErrOrStderr(), cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}

	a.cfg = cfg
	a.log = log
	a.metrics = metrics.New()
	if path != "" {
		log.WithField("path", path).Debug("loaded config")
	}
	return nil
}

func (a *app) slog() *slog.Logger {
	return logging.Slog(a.log)
}

func (a *app) openStore() (store.Store, error) {
	return store.Open(a.cfg.Snapshot.Store, a.cfg.Snapshot.Path)
}

// finish records the outcome of command and writes the metrics textfile if
// one is configured. It returns err unchanged.
func (a *app) finish(command string, start time.Time, err error) error {
	a.metrics.RecordRun(command, start, err)

	if path := a.cfg.Metrics.Textfile; path != "" {
		if werr := a.metrics.WriteTextfile(path); werr != nil {
			a.log.WithError(werr).Warn("failed to write metrics textfile")
		}
	}
	return err
}

// argsOK reports whether args has between min and max entries. If it does
// not, the command's help is printed instead.
func argsOK(cmd *cobra.Command, args []string, min, max int) bool {
	if len(args) >= min && len(args) <= max {
		return true
	}
	_ = cmd.Help()
	return false
}

func parsePort(s string) (int, bool) {
	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		return 0, false
	}
	return port, true
}
