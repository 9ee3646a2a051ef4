// Package metrics owns the Prometheus collectors for preview builds, backend calls and
// export jobs. Collectors live on a private registry so tests can build as many as they like.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "datafusion"

type Metrics struct {
	reg *prometheus.Registry

	previewBuilds    prometheus.Counter
	previewDuration  prometheus.Histogram
	previewCacheHits prometheus.Counter
	backendRequests  *prometheus.CounterVec
	backendDuration  *prometheus.HistogramVec
	exportJobs       *prometheus.CounterVec
}

// New registers every collector plus the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		previewBuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preview_builds_total",
			Help:      "Merge previews served, cached or freshly built.",
		}),
		previewDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "preview_build_seconds",
			Help:      "Time spent producing a merge preview.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
		previewCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preview_cache_hits_total",
			Help:      "Merge previews answered from the preview cache.",
		}),
		backendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Backend calls partitioned by operation and outcome.",
		}, []string{"op", "outcome"}),
		backendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_request_seconds",
			Help:      "Backend call latency by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		exportJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_jobs_total",
			Help:      "Finished export jobs partitioned by format and status.",
		}, []string{"format", "status"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.previewBuilds,
		m.previewDuration,
		m.previewCacheHits,
		m.backendRequests,
		m.backendDuration,
		m.exportJobs,
	)
	return m
}

// ObservePreviewBuild implements transformations.BuildRecorder.
func (m *Metrics) ObservePreviewBuild(d time.Duration, cached bool) {
	m.previewBuilds.Inc()
	m.previewDuration.Observe(d.Seconds())
	if cached {
		m.previewCacheHits.Inc()
	}
}

// ObserveBackendRequest implements backend.Recorder.
func (m *Metrics) ObserveBackendRequest(op, outcome string, d time.Duration) {
	m.backendRequests.WithLabelValues(op, outcome).Inc()
	m.backendDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveExportJob implements export.JobRecorder.
func (m *Metrics) ObserveExportJob(format, status string) {
	m.exportJobs.WithLabelValues(format, status).Inc()
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
