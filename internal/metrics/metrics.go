// Package metrics collects Prometheus metrics for traversals and echo
// sessions. Each run is a short-lived process, so metrics are exported by
// writing a node_exporter textfile at exit rather than by serving HTTP.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gonzalop/tunnelcheck/echo"
	"github.com/gonzalop/tunnelcheck/snapshot"
)

const (
	namespace     = "tunnelcheck"
	subsystemWalk = "walk"
	subsystemEcho = "echo"
	subsystemRun  = "run"
)

var (
	_ snapshot.Observer     = (*Metrics)(nil)
	_ echo.MetricsCollector = (*Metrics)(nil)
)

// Metrics owns a private registry. All methods are safe for concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	directories    prometheus.Counter
	listingEntries prometheus.Counter
	files          prometheus.Counter
	fileBytes      prometheus.Counter
	comparisons    *prometheus.CounterVec

	echoConnections prometheus.Counter
	echoMessages    prometheus.Counter
	echoBytes       prometheus.Counter

	runDuration *prometheus.GaugeVec
	runSuccess  *prometheus.GaugeVec
	runLast     *prometheus.GaugeVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		directories: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemWalk,
			Name:      "directories_total",
			Help:      "Directories listed during traversals",
		}),
		listingEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemWalk,
			Name:      "entries_total",
			Help:      "Files and subdirectories found in listings",
		}),
		files: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemWalk,
			Name:      "files_total",
			Help:      "Files retrieved and hashed",
		}),
		fileBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemWalk,
			Name:      "bytes_total",
			Help:      "Bytes retrieved over data connections",
		}),
		comparisons: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemWalk,
			Name:      "comparisons_total",
			Help:      "Snapshot comparisons by result",
		}, []string{"result"}),
		echoConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemEcho,
			Name:      "connections_total",
			Help:      "Echo clients accepted",
		}),
		echoMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemEcho,
			Name:      "messages_total",
			Help:      "Messages echoed back",
		}),
		echoBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemEcho,
			Name:      "bytes_total",
			Help:      "Bytes echoed back",
		}),
		runDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemRun,
			Name:      "duration_seconds",
			Help:      "Duration of the last run of a command",
		}, []string{"command"}),
		runSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemRun,
			Name:      "success",
			Help:      "1 if the last run of a command succeeded, 0 otherwise",
		}, []string{"command"}),
		runLast: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemRun,
			Name:      "last_timestamp_seconds",
			Help:      "Unix time the last run of a command finished",
		}, []string{"command"}),
	}

	m.registry.MustRegister(
		m.directories, m.listingEntries, m.files, m.fileBytes, m.comparisons,
		m.echoConnections, m.echoMessages, m.echoBytes,
		m.runDuration, m.runSuccess, m.runLast,
	)
	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// DirectoryListed implements snapshot.Observer.
func (m *Metrics) DirectoryListed(_ string, entries int) {
	m.directories.Inc()
	m.listingEntries.Add(float64(entries))
}

// FileHashed implements snapshot.Observer.
func (m *Metrics) FileHashed(_ string, bytes int64) {
	m.files.Inc()
	m.fileBytes.Add(float64(bytes))
}

// RecordComparison counts a comparison of two snapshots.
func (m *Metrics) RecordComparison(equal bool) {
	result := "different"
	if equal {
		result = "equal"
	}
	m.comparisons.WithLabelValues(result).Inc()
}

// RecordConnection implements echo.MetricsCollector.
func (m *Metrics) RecordConnection(string) {
	m.echoConnections.Inc()
}

// RecordEcho implements echo.MetricsCollector.
func (m *Metrics) RecordEcho(bytes int) {
	m.echoMessages.Inc()
	m.echoBytes.Add(float64(bytes))
}

// RecordRun records the outcome of a command started at start.
func (m *Metrics) RecordRun(command string, start time.Time, err error) {
	now := time.Now()
	m.runDuration.WithLabelValues(command).Set(now.Sub(start).Seconds())
	m.runLast.WithLabelValues(command).Set(float64(now.Unix()))

	success := 0.0
	if err == nil {
		success = 1
	}
	m.runSuccess.WithLabelValues(command).Set(success)
}

// WriteTextfile writes all metrics to path in the text exposition format,
// atomically, for the node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
