// Package metrics exposes the poolmon Prometheus collectors. All metrics
// are registered on the default registry at init and served by the status
// listener's metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Scan cycle metrics
var (
	ScanCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolmon_scan_cycles_total",
			Help: "Total number of scan cycles by outcome",
		},
		[]string{"status"},
	)

	ScanCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "poolmon_scan_cycle_duration_seconds",
			Help:    "Duration of complete scan cycles in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	HostsScannedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolmon_hosts_scanned_total",
			Help: "Total number of per-host scans by verdict",
		},
		[]string{"verdict"},
	)

	HostUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "poolmon_host_up",
			Help: "Whether the last scan of the host passed (1) or failed (0)",
		},
		[]string{"host"},
	)
)

// Probe metrics
var (
	ProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolmon_probes_total",
			Help: "Total number of port probes by protocol, transport and result",
		},
		[]string{"protocol", "transport", "result"},
	)

	ProbeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poolmon_probe_duration_seconds",
			Help:    "Duration of individual port probes in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		},
		[]string{"protocol"},
	)
)

// Director metrics
var (
	DirectorCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolmon_director_commands_total",
			Help: "Total number of director commands sent by command and result",
		},
		[]string{"command", "result"},
	)

	HostStateChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolmon_host_state_changes_total",
			Help: "Total number of host enable/disable actions taken",
		},
		[]string{"action"},
	)
)
