// Package metrics provides Prometheus metrics for the deployer engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Transfer metrics
	bytesUploaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deployer_bytes_uploaded_total",
			Help: "Total bytes uploaded per backend",
		},
		[]string{"backend"},
	)

	bytesDownloaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deployer_bytes_downloaded_total",
			Help: "Total bytes downloaded per backend",
		},
		[]string{"backend"},
	)

	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deployer_uploads_total",
			Help: "Total upload operations",
		},
		[]string{"backend", "status"},
	)

	downloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deployer_downloads_total",
			Help: "Total download operations",
		},
		[]string{"backend", "status"},
	)

	deletesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deployer_deletes_total",
			Help: "Total delete operations",
		},
		[]string{"backend", "status"},
	)

	listingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deployer_listings_total",
			Help: "Total directory listings",
		},
		[]string{"backend", "status"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deployer_operation_duration_seconds",
			Help:    "Remote operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	// Connection metrics
	connectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deployer_connections_total",
			Help: "Total connection attempts",
		},
		[]string{"backend", "status"},
	)

	// Hook metrics
	hooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deployer_hook_commands_total",
			Help: "Total command hook executions",
		},
		[]string{"status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordUpload records an upload attempt.
func RecordUpload(backend string, bytes int64, success bool) {
	uploadsTotal.WithLabelValues(backend, statusLabel(success)).Inc()
	if success {
		bytesUploaded.WithLabelValues(backend).Add(float64(bytes))
	}
}

// RecordDownload records a download attempt.
func RecordDownload(backend string, bytes int64, success bool) {
	downloadsTotal.WithLabelValues(backend, statusLabel(success)).Inc()
	if success {
		bytesDownloaded.WithLabelValues(backend).Add(float64(bytes))
	}
}

// RecordDelete records a delete attempt.
func RecordDelete(backend string, success bool) {
	deletesTotal.WithLabelValues(backend, statusLabel(success)).Inc()
}

// RecordListing records a directory listing.
func RecordListing(backend string, success bool) {
	listingsTotal.WithLabelValues(backend, statusLabel(success)).Inc()
}

// RecordOperationDuration records how long a remote operation took.
func RecordOperationDuration(backend, operation string, duration time.Duration) {
	operationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// RecordConnection records a connection attempt.
func RecordConnection(backend string, success bool) {
	connectionsTotal.WithLabelValues(backend, statusLabel(success)).Inc()
}

// RecordHook records a command hook execution.
func RecordHook(success bool) {
	hooksTotal.WithLabelValues(statusLabel(success)).Inc()
}
