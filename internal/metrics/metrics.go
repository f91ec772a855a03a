// Package metrics provides Prometheus metrics for the encrypted archive mount.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Filesystem verb metrics
	fsOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "egafuse_fs_operations_total",
			Help: "Total filesystem operations by verb and result",
		},
		[]string{"op", "status"},
	)

	fsBytesRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "egafuse_fs_bytes_read_total",
			Help: "Total plaintext bytes returned to readers",
		},
	)

	fsReadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "egafuse_fs_read_duration_seconds",
			Help:    "Latency of read calls including decryption",
			Buckets: prometheus.DefBuckets,
		},
	)

	openSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "egafuse_open_sessions",
			Help: "Number of open decryption sessions",
		},
	)

	sessionFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "egafuse_session_failures_total",
			Help: "Session failures by kind (config, io)",
		},
		[]string{"kind"},
	)

	// Tree metrics
	treeNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "egafuse_tree_nodes",
			Help: "Number of files and directories in the mounted tree",
		},
	)

	// Catalog metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "egafuse_db_query_duration_seconds",
			Help:    "Catalog query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "egafuse_db_connections_open",
			Help: "Number of open catalog connections",
		},
	)

	// Storage metrics
	storageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "egafuse_storage_operation_duration_seconds",
			Help:    "Storage backend operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	storageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "egafuse_storage_operations_total",
			Help: "Total storage backend operations",
		},
		[]string{"backend", "operation", "status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordFSOperation counts one filesystem verb. errc is the value returned
// to the FUSE host (0 or a negative errno).
func RecordFSOperation(op string, errc int) {
	st := "ok"
	if errc < 0 {
		st = "errno"
	}
	fsOperationsTotal.WithLabelValues(op, st).Inc()
}

// RecordRead records a completed read call.
func RecordRead(bytes int, duration time.Duration) {
	fsReadDuration.Observe(duration.Seconds())
	if bytes > 0 {
		fsBytesRead.Add(float64(bytes))
	}
}

// SessionOpened increments the open session gauge.
func SessionOpened() {
	openSessions.Inc()
}

// SessionClosed decrements the open session gauge.
func SessionClosed() {
	openSessions.Dec()
}

// RecordSessionFailure counts a swallowed session failure.
func RecordSessionFailure(kind string) {
	sessionFailuresTotal.WithLabelValues(kind).Inc()
}

// SetTreeNodes sets the tree size gauge.
func SetTreeNodes(n int) {
	treeNodes.Set(float64(n))
}

// RecordDBQuery records a catalog query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// SetDBConnectionsOpen sets the number of open catalog connections.
func SetDBConnectionsOpen(count int) {
	dbConnectionsOpen.Set(float64(count))
}

// RecordStorageOperation records a storage backend call.
func RecordStorageOperation(backend, operation string, duration time.Duration, success bool) {
	storageOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	storageOperationsTotal.WithLabelValues(backend, operation, status(success)).Inc()
}
