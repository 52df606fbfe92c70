package cgi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics mirrors the teacher's package-level Prometheus collector set
// (metrics.go's adminMetrics), scoped to the gateway's own namespace.
// Registered once per process; every Handler shares these collectors, with
// the script path as a label so a host running several Descriptors still
// gets per-script breakdowns.
var metrics = struct {
	requestsTotal   *prometheus.CounterVec
	childDuration   *prometheus.HistogramVec
	activeProcesses *prometheus.GaugeVec
}{
	requestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cgi_gateway",
		Name:      "requests_total",
		Help:      "Count of requests dispatched to a CGI script, by script path and outcome.",
	}, []string{"script", "outcome"}),
	childDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cgi_gateway",
		Name:      "child_duration_seconds",
		Help:      "Wall-clock time from child spawn to response body fully drained.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"script"}),
	activeProcesses: promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cgi_gateway",
		Name:      "active_processes",
		Help:      "Number of CGI child processes currently running or draining, by script path.",
	}, []string{"script"}),
}

const (
	outcomeOK        = "ok"
	outcomeSpawnFail = "spawn_error"
	outcomeProtoFail = "header_protocol_error"
)
