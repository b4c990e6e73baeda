// Package metrics provides Prometheus metrics for the media service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediastore_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediastore_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	mediaUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediastore_media_uploads_total",
			Help: "Total number of media uploads",
		},
		[]string{"status"},
	)

	mediaBytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediastore_media_bytes_uploaded_total",
			Help: "Total bytes written to storage by uploads",
		},
	)

	mediaDownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediastore_media_downloads_total",
			Help: "Total number of media downloads",
		},
		[]string{"status"},
	)

	mediaBytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediastore_media_bytes_downloaded_total",
			Help: "Total bytes streamed to clients",
		},
	)

	storageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediastore_storage_operation_duration_seconds",
			Help:    "Storage backend operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	storageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediastore_storage_operations_total",
			Help: "Total storage backend operations",
		},
		[]string{"backend", "operation", "status"},
	)

	eventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediastore_events_published_total",
			Help: "Total media events published",
		},
		[]string{"type", "status"},
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

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordUpload records a media upload of bytes.
func RecordUpload(bytes int64, success bool) {
	if success {
		mediaBytesUploaded.Add(float64(bytes))
	}
	mediaUploadsTotal.WithLabelValues(statusLabel(success)).Inc()
}

// RecordDownload records bytes streamed by a media download.
func RecordDownload(bytes int64, success bool) {
	mediaBytesDownloaded.Add(float64(bytes))
	mediaDownloadsTotal.WithLabelValues(statusLabel(success)).Inc()
}

// RecordStorageOperation records a call against a storage backend.
func RecordStorageOperation(backend, operation string, duration time.Duration, err error) {
	storageOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	storageOperationsTotal.WithLabelValues(backend, operation, statusLabel(err == nil)).Inc()
}

// RecordEventPublished records a media event publish attempt.
func RecordEventPublished(eventType string, err error) {
	eventsPublishedTotal.WithLabelValues(eventType, statusLabel(err == nil)).Inc()
}

// Middleware records request metrics labelled by chi route pattern, so
// /media/1 and /media/2 share a series.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		RecordHTTPRequest(r.Method, route, status, time.Since(start))
	})
}
