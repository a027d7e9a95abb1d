package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Environment variables that override the file.
const (
	EnvLogLevel       = "TUNNELCHECK_LOG_LEVEL"
	EnvTimeout        = "TUNNELCHECK_TIMEOUT"
	EnvFTPPassword    = "TUNNELCHECK_FTP_PASSWORD"
	EnvBandwidthLimit = "TUNNELCHECK_BANDWIDTH_LIMIT"
	EnvInsecure       = "TUNNELCHECK_INSECURE_SKIP_VERIFY"
	EnvStore          = "TUNNELCHECK_STORE"
	EnvStorePath      = "TUNNELCHECK_STORE_PATH"
	EnvMetricsFile    = "TUNNELCHECK_METRICS_TEXTFILE"
)

// ApplyEnv overrides fields from TUNNELCHECK_* variables that are set and
// non-empty.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvTimeout, err)
		}
		c.Timeout = d
	}
	if v := os.Getenv(EnvFTPPassword); v != "" {
		c.FTP.Password = v
	}
	if v := os.Getenv(EnvBandwidthLimit); v != "" {
		size, err := ParseByteSize(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvBandwidthLimit, err)
		}
		c.FTP.BandwidthLimit = size
	}
	if v := os.Getenv(EnvInsecure); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvInsecure, err)
		}
		c.FTP.InsecureSkipVerify = b
	}
	if v := os.Getenv(EnvStore); v != "" {
		c.Snapshot.Store = v
	}
	if v := os.Getenv(EnvStorePath); v != "" {
		c.Snapshot.Path = v
	}
	if v := os.Getenv(EnvMetricsFile); v != "" {
		c.Metrics.Textfile = v
	}
	return nil
}
