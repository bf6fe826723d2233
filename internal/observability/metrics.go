// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Discovery metrics
	ProbesTotal        *prometheus.CounterVec
	ScansTotal         *prometheus.CounterVec
	ScanDuration       prometheus.Histogram
	ScanCandidates     prometheus.Histogram
	ScansJoined        prometheus.Counter
	PlansDiscovered    prometheus.Counter
	LastSuccessfulScan prometheus.Gauge

	// Lifecycle metrics
	LedgerWrites *prometheus.CounterVec

	// Ledger client metrics
	RPCCallLatency *prometheus.HistogramVec
	RPCRetries     *prometheus.CounterVec

	// Cache metrics
	CacheResets *prometheus.CounterVec
	CacheWrites *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "onchain_sip"
	}

	return &Metrics{
		ProbesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "probes_total",
			Help:      "Total number of ledger probes by outcome",
		}, []string{"outcome"}),
		ScansTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "scans_total",
			Help:      "Total number of scans by result",
		}, []string{"result"}),
		ScanDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "scan_duration_seconds",
			Help:      "Scan duration in seconds, including inter-batch pacing",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		ScanCandidates: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "scan_candidates",
			Help:      "Number of candidate identifiers probed per scan",
			Buckets:   []float64{1, 5, 10, 15, 20, 25, 30, 50},
		}),
		ScansJoined: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "scans_joined_total",
			Help:      "Total number of scan requests that joined an in-flight scan",
		}),
		PlansDiscovered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "plans_discovered_total",
			Help:      "Total number of previously unknown identifiers found active",
		}),
		LastSuccessfulScan: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_scan_timestamp",
			Help:      "Unix timestamp of last successful scan",
		}),
		LedgerWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "ledger_writes_total",
			Help:      "Total number of mutating operations by operation and result",
		}, []string{"op", "result"}),
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "rpc_call_latency_seconds",
			Help:      "Ledger RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RPCRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "rpc_retries_total",
			Help:      "Total number of retried RPC calls by method",
		}, []string{"method"}),
		CacheResets: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "corruption_resets_total",
			Help:      "Total number of unreadable cache blobs reset to empty",
		}, []string{"collection"}),
		CacheWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "writes_total",
			Help:      "Total number of cache blob writes by collection",
		}, []string{"collection"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordProbe increments the probe counter for an outcome.
func RecordProbe(outcome string) {
	DefaultMetrics.ProbesTotal.WithLabelValues(outcome).Inc()
}

// RecordScan records a finished scan.
func RecordScan(result string, candidates int, durationSeconds float64, finishedAtUnix int64) {
	DefaultMetrics.ScansTotal.WithLabelValues(result).Inc()
	DefaultMetrics.ScanDuration.Observe(durationSeconds)
	DefaultMetrics.ScanCandidates.Observe(float64(candidates))
	if result == "ok" {
		DefaultMetrics.LastSuccessfulScan.Set(float64(finishedAtUnix))
	}
}

// RecordScanJoined increments the joined-scan counter.
func RecordScanJoined() {
	DefaultMetrics.ScansJoined.Inc()
}

// RecordPlanDiscovered increments the discovered-plan counter.
func RecordPlanDiscovered() {
	DefaultMetrics.PlansDiscovered.Inc()
}

// RecordLedgerWrite records a mutating operation outcome.
func RecordLedgerWrite(op, result string) {
	DefaultMetrics.LedgerWrites.WithLabelValues(op, result).Inc()
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordRPCRetry increments the retry counter for a method.
func RecordRPCRetry(method string) {
	DefaultMetrics.RPCRetries.WithLabelValues(method).Inc()
}

// RecordCacheReset increments the corruption reset counter.
func RecordCacheReset(collection string) {
	DefaultMetrics.CacheResets.WithLabelValues(collection).Inc()
}

// RecordCacheWrite increments the cache write counter.
func RecordCacheWrite(collection string) {
	DefaultMetrics.CacheWrites.WithLabelValues(collection).Inc()
}
