// Package metrics provides Prometheus metrics for cdnfs.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdnfs_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cdnfs_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// RPC metrics
	rpcCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdnfs_rpc_calls_total",
			Help: "Total RPC calls by function and result",
		},
		[]string{"function", "result"},
	)

	rpcCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cdnfs_rpc_call_duration_seconds",
			Help:    "RPC round-trip time in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"function"},
	)

	rpcPendingCalls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cdnfs_rpc_pending_calls",
			Help: "Number of RPC calls awaiting a callback",
		},
	)

	rpcExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdnfs_rpc_executions_total",
			Help: "Total execute requests served by this endpoint",
		},
		[]string{"function", "result"},
	)

	// Broadcast metrics
	broadcastMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdnfs_broadcast_messages_total",
			Help: "Broadcast messages by outcome (published, dropped, malformed)",
		},
		[]string{"outcome"},
	)

	broadcastEndpointsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cdnfs_broadcast_endpoints_active",
			Help: "Number of endpoints joined to broadcast channels",
		},
	)

	// Fetch metrics
	fetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdnfs_fetches_total",
			Help: "Underlying fetches by kind, source and result",
		},
		[]string{"kind", "source", "result"},
	)

	fetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cdnfs_fetch_duration_seconds",
			Help:    "Underlying fetch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind", "source"},
	)

	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdnfs_cache_lookups_total",
			Help: "Memo cache lookups by cache and result (hit, miss)",
		},
		[]string{"cache", "result"},
	)

	// Filesystem metrics
	vfsOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdnfs_vfs_operations_total",
			Help: "Filesystem operations by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	packagesRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdnfs_packages_rejected_total",
			Help: "Package names rejected by validation, by rule",
		},
		[]string{"rule"},
	)

	// Host-side CDN metrics
	cdnRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdnfs_cdn_requests_total",
			Help: "Requests made to the registry CDN by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)

	cdnBytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cdnfs_cdn_bytes_downloaded_total",
			Help: "Total bytes downloaded from the registry CDN",
		},
	)

	// Asset store metrics
	s3OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cdnfs_s3_operation_duration_seconds",
			Help:    "S3 operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	s3OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdnfs_s3_operations_total",
			Help: "Total S3 operations",
		},
		[]string{"operation", "status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordRPCCall records the outcome of an outgoing RPC call.
// result is one of success, failure, timeout, closed or canceled.
func RecordRPCCall(function, result string, duration time.Duration) {
	rpcCallsTotal.WithLabelValues(function, result).Inc()
	rpcCallDuration.WithLabelValues(function).Observe(duration.Seconds())
}

// SetRPCPending sets the number of pending RPC calls.
func SetRPCPending(count int) {
	rpcPendingCalls.Set(float64(count))
}

// RecordRPCExecution records an execute request handled locally.
func RecordRPCExecution(function string, success bool) {
	rpcExecutionsTotal.WithLabelValues(function, resultLabel(success)).Inc()
}

// RecordBroadcast records a broadcast message outcome.
func RecordBroadcast(outcome string) {
	broadcastMessagesTotal.WithLabelValues(outcome).Inc()
}

// AddBroadcastEndpoints adjusts the active endpoint gauge.
func AddBroadcastEndpoints(delta int) {
	broadcastEndpointsActive.Add(float64(delta))
}

// RecordFetch records an underlying listing or text fetch.
func RecordFetch(kind, source string, duration time.Duration, success bool) {
	fetchesTotal.WithLabelValues(kind, source, resultLabel(success)).Inc()
	fetchDuration.WithLabelValues(kind, source).Observe(duration.Seconds())
}

// RecordCacheLookup records a memo cache hit or miss.
func RecordCacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(cache, result).Inc()
}

// RecordVFSOperation records a filesystem operation outcome
// (file, directory, absent, empty, found).
func RecordVFSOperation(op, outcome string) {
	vfsOperationsTotal.WithLabelValues(op, outcome).Inc()
}

// RecordPackageRejected records a validation rejection.
func RecordPackageRejected(rule string) {
	packagesRejectedTotal.WithLabelValues(rule).Inc()
}

// RecordCDNRequest records a request to the registry CDN.
func RecordCDNRequest(endpoint string, status int, bytes int64) {
	cdnRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	if bytes > 0 {
		cdnBytesDownloaded.Add(float64(bytes))
	}
}

// RecordS3Operation records an S3 operation.
func RecordS3Operation(operation string, duration time.Duration, success bool) {
	s3OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	s3OperationsTotal.WithLabelValues(operation, resultLabel(success)).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, rw.statusCode, time.Since(start))
	})
}
