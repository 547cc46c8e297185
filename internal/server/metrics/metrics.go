// Package metrics holds the Prometheus instruments of the metadata service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the service counters. A nil *Metrics is valid and records
// nothing, which keeps tests free of registry plumbing.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec   // firebox_http_requests_total{route,code}
	RequestDuration *prometheus.HistogramVec // firebox_http_request_duration_seconds{route}

	FilesCreated       prometheus.Counter     // firebox_files_created_total
	Compensations      prometheus.Counter     // firebox_upload_compensations_total
	ChunksConfirmed    prometheus.Counter     // firebox_chunks_confirmed_total
	ChunkConfirmErrors prometheus.Counter     // firebox_chunk_confirm_errors_total
	UploadsCompleted   *prometheus.CounterVec // firebox_uploads_completed_total{outcome}
	InvalidChunks      *prometheus.CounterVec // firebox_download_invalid_chunks_total{reason}
	SyncFilesReturned  prometheus.Counter     // firebox_sync_files_returned_total
}

// New registers all instruments, plus the Go and process collectors, on a
// fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "firebox_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "firebox_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		FilesCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "firebox_files_created_total",
			Help: "Files registered for upload",
		}),
		Compensations: f.NewCounter(prometheus.CounterOpts{
			Name: "firebox_upload_compensations_total",
			Help: "Upload initiations rolled back after a failure",
		}),
		ChunksConfirmed: f.NewCounter(prometheus.CounterOpts{
			Name: "firebox_chunks_confirmed_total",
			Help: "Chunks confirmed by clients",
		}),
		ChunkConfirmErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "firebox_chunk_confirm_errors_total",
			Help: "Chunk confirmations skipped because of an error",
		}),
		UploadsCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "firebox_uploads_completed_total",
			Help: "Multipart uploads completed, by outcome (full or partial)",
		}, []string{"outcome"}),
		InvalidChunks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "firebox_download_invalid_chunks_total",
			Help: "Requested download chunks rejected, by reason",
		}, []string{"reason"}),
		SyncFilesReturned: f.NewCounter(prometheus.CounterOpts{
			Name: "firebox_sync_files_returned_total",
			Help: "Changed files returned to polling clients",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(route, code string, seconds float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route, code).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(seconds)
}

func (m *Metrics) FileCreated() {
	if m != nil {
		m.FilesCreated.Inc()
	}
}

func (m *Metrics) Compensated() {
	if m != nil {
		m.Compensations.Inc()
	}
}

func (m *Metrics) ChunkConfirmed() {
	if m != nil {
		m.ChunksConfirmed.Inc()
	}
}

func (m *Metrics) ChunkConfirmFailed() {
	if m != nil {
		m.ChunkConfirmErrors.Inc()
	}
}

// UploadCompleted records a completion; partial is true when fewer parts
// than requested were confirmed.
func (m *Metrics) UploadCompleted(partial bool) {
	if m == nil {
		return
	}
	outcome := "full"
	if partial {
		outcome = "partial"
	}
	m.UploadsCompleted.WithLabelValues(outcome).Inc()
}

func (m *Metrics) InvalidChunk(reason string) {
	if m != nil {
		m.InvalidChunks.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) SyncReturned(files int) {
	if m != nil {
		m.SyncFilesReturned.Add(float64(files))
	}
}
