// Package config loads tunnelcheck settings from YAML, an optional .env file
// and TUNNELCHECK_* environment variables, in that order of precedence from
// lowest to highest.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for tunnelcheck.
type Config struct {
	LogLevel string        `yaml:"log_level"`
	Timeout  time.Duration `yaml:"timeout"`

	FTP      FTPConfig      `yaml:"ftp"`
	Walk     WalkConfig     `yaml:"walk"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Echo     EchoConfig     `yaml:"echo"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// FTPConfig holds FTP client configuration.
type FTPConfig struct {
	Passive            bool     `yaml:"passive"`
	DisableEPSV        bool     `yaml:"disable_epsv"`
	ProtectData        bool     `yaml:"protect_data"`
	InsecureSkipVerify bool     `yaml:"insecure_skip_verify"`
	CAFile             string   `yaml:"ca_file"`
	BandwidthLimit     ByteSize `yaml:"bandwidth_limit"` // e.g. "512K", 0 = unlimited

	// Password replaces a command-line password of "-". Usually set through
	// TUNNELCHECK_FTP_PASSWORD rather than the file.
	Password string `yaml:"password"`
}

// WalkConfig holds traversal configuration.
type WalkConfig struct {
	Excludes []string `yaml:"excludes"`
}

// SnapshotConfig selects where master copies are kept.
type SnapshotConfig struct {
	Store string `yaml:"store"` // "file" or "bolt"
	Path  string `yaml:"path"`
}

// EchoConfig holds echo server and client configuration.
type EchoConfig struct {
	// CertFile may hold both certificate and key, in which case KeyFile is
	// left empty.
	CertFile  string        `yaml:"cert_file"`
	KeyFile   string        `yaml:"key_file"`
	Timeout   time.Duration `yaml:"timeout"`
	Chunks    int           `yaml:"chunks"`
	ChunkSize int           `yaml:"chunk_size"`
}

// MetricsConfig holds metrics export configuration.
type MetricsConfig struct {
	// Textfile is a Prometheus textfile-collector path written at exit.
	Textfile string `yaml:"textfile"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Timeout:  5 * time.Second,
		FTP: FTPConfig{
			Passive:     true,
			ProtectData: true,
		},
		Snapshot: SnapshotConfig{
			Store: "file",
			Path:  "masters",
		},
		Echo: EchoConfig{
			CertFile:  "server.pem",
			Timeout:   5 * time.Second,
			Chunks:    16,
			ChunkSize: 1024,
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Locate returns the first existing config file among ./tunnelcheck.yaml,
// ~/.tunnelcheck/config.yaml and /etc/tunnelcheck/config.yaml, or "" when
// there is none.
func Locate() string {
	candidates := []string{"tunnelcheck.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".tunnelcheck", "config.yaml"))
	}
	candidates = append(candidates, filepath.Join("/etc", "tunnelcheck", "config.yaml"))

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(files ...string) error {
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

// Validate checks values that cannot be checked while decoding.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	switch c.Snapshot.Store {
	case "file", "bolt":
	default:
		return fmt.Errorf("snapshot.store must be \"file\" or \"bolt\", got %q", c.Snapshot.Store)
	}
	if c.Echo.Chunks < 0 || c.Echo.ChunkSize <= 0 {
		return fmt.Errorf("echo.chunks and echo.chunk_size must be positive")
	}
	return nil
}

// ServerTLS loads the echo server certificate.
func (e EchoConfig) ServerTLS() (*tls.Config, error) {
	keyFile := e.KeyFile
	if keyFile == "" {
		keyFile = e.CertFile
	}
	cert, err := tls.LoadX509KeyPair(e.CertFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate %s: %w", e.CertFile, err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// ClientTLS returns the TLS configuration for connecting to host.
func (f FTPConfig) ClientTLS(host string) (*tls.Config, error) {
	config := &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: f.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}
	if f.CAFile == "" {
		return config, nil
	}

	pem, err := os.ReadFile(f.CAFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", f.CAFile)
	}
	config.RootCAs = pool
	return config, nil
}
