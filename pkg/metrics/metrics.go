// Package metrics holds the Prometheus collectors for the pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Upload results.
const (
	UploadOK       = "ok"
	UploadRejected = "rejected"
	UploadFailed   = "failed"
)

// Metrics groups every collector the service exports
type Metrics struct {
	uploads        *prometheus.CounterVec
	tasksSubmitted prometheus.Counter
	reconciled     *prometheus.CounterVec
	blobUpload     prometheus.Histogram
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imgpipe",
			Name:      "uploads_total",
			Help:      "Image uploads by result.",
		}, []string{"result"}),
		tasksSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "imgpipe",
			Name:      "tasks_submitted_total",
			Help:      "Processing tasks accepted.",
		}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imgpipe",
			Name:      "reconciled_total",
			Help:      "Uploads resolved by the reconciliation sweep, by outcome.",
		}, []string{"outcome"}),
		blobUpload: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "imgpipe",
			Name:      "blob_upload_seconds",
			Help:      "Latency of original blob uploads.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.uploads, m.tasksSubmitted, m.reconciled, m.blobUpload)
	return m
}

func (m *Metrics) Upload(result string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(result).Inc()
}

func (m *Metrics) TaskSubmitted() {
	if m == nil {
		return
	}
	m.tasksSubmitted.Inc()
}

func (m *Metrics) Reconciled(outcome string) {
	if m == nil {
		return
	}
	m.reconciled.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveBlobUpload(d time.Duration) {
	if m == nil {
		return
	}
	m.blobUpload.Observe(d.Seconds())
}
