package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Upload(UploadOK)
	m.Upload(UploadOK)
	m.Upload(UploadRejected)
	m.TaskSubmitted()
	m.Reconciled("promoted")
	m.ObserveBlobUpload(150 * time.Millisecond)

	if got := testutil.ToFloat64(m.uploads.WithLabelValues(UploadOK)); got != 2 {
		t.Errorf("uploads{ok} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.uploads.WithLabelValues(UploadRejected)); got != 1 {
		t.Errorf("uploads{rejected} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.tasksSubmitted); got != 1 {
		t.Errorf("tasks_submitted = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.reconciled.WithLabelValues("promoted")); got != 1 {
		t.Errorf("reconciled{promoted} = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.blobUpload); n != 1 {
		t.Errorf("blob_upload_seconds collected %d series, want 1", n)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Upload(UploadFailed)
	m.TaskSubmitted()
	m.Reconciled("failed")
	m.ObserveBlobUpload(time.Second)
}
