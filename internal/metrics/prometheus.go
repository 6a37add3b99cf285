// Package metrics exposes the process's Prometheus instrumentation: HTTP
// surface metrics plus the scan/poll/history domain metrics, served at
// /metrics via promhttp.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dirscan_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dirscan_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// Scan execution metrics
	ScanExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dirscan_scan_executions_total",
			Help: "Total number of scan executions by terminal status",
		},
		[]string{"slug", "status"},
	)

	ScanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dirscan_scan_duration_seconds",
			Help:    "Scan execution duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"slug"},
	)

	ActiveScans = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dirscan_active_scans",
			Help: "Number of scans currently in-flight",
		},
	)

	// Polling engine metrics
	PollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dirscan_polls_total",
			Help: "Total number of dir-size status polls issued",
		},
		[]string{"outcome"}, // "progress", "finished", "error"
	)

	PollErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dirscan_poll_errors_total",
			Help: "Total number of poll errors by NAS API error code",
		},
		[]string{"code"},
	)

	// History store metrics
	HistoryRowsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dirscan_history_rows_total",
			Help: "Total number of rows currently in the history store",
		},
	)

	HistoryWriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dirscan_history_write_duration_seconds",
			Help:    "HistoryStore.AddResult duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// WebSocket progress push metrics
	WebSocketConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dirscan_websocket_connections_active",
			Help: "Number of active progress WebSocket connections",
		},
	)

	WebSocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dirscan_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // "sent" or "received"
	)

	// Auth metrics for the control surface's bearer check
	AuthAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dirscan_auth_attempts_total",
			Help: "Total number of bearer-token authentication attempts",
		},
		[]string{"status"}, // "success", "failure"
	)

	// Error Metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dirscan_errors_total",
			Help: "Total number of errors by component and type",
		},
		[]string{"component", "type"},
	)

	UptimeSeconds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dirscan_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)
)

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordScanExecution records one completed or failed scan execution.
func RecordScanExecution(slug, status string, duration time.Duration) {
	ScanExecutionsTotal.WithLabelValues(slug, status).Inc()
	ScanDuration.WithLabelValues(slug).Observe(duration.Seconds())
}

// RecordPoll records one dir-size status poll outcome.
func RecordPoll(outcome string) {
	PollsTotal.WithLabelValues(outcome).Inc()
}

// RecordPollError records one poll error by NAS API error code.
func RecordPollError(code string) {
	PollErrorsTotal.WithLabelValues(code).Inc()
}

// RecordHistoryWrite records one HistoryStore.AddResult call's duration.
func RecordHistoryWrite(duration time.Duration) {
	HistoryWriteDuration.Observe(duration.Seconds())
}

// UpdateHistoryRows sets the current total row count gauge.
func UpdateHistoryRows(count float64) {
	HistoryRowsTotal.Set(count)
}

// UpdateActiveScans sets the current in-flight scan count gauge.
func UpdateActiveScans(count float64) {
	ActiveScans.Set(count)
}

// RecordAuthAttempt records a bearer-token authentication attempt.
func RecordAuthAttempt(status string) {
	AuthAttemptsTotal.WithLabelValues(status).Inc()
}

// RecordError records an error.
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// IncrementUptime increments the uptime counter (call this every second).
func IncrementUptime() {
	UptimeSeconds.Inc()
}

// UpdateWebSocketConnections updates the active WebSocket connections count.
func UpdateWebSocketConnections(count float64) {
	WebSocketConnectionsActive.Set(count)
}

// RecordWebSocketMessage records a WebSocket message.
func RecordWebSocketMessage(direction string) {
	WebSocketMessagesTotal.WithLabelValues(direction).Inc()
}
