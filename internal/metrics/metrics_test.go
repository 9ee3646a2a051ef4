package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RecordsObservations(t *testing.T) {
	m := New()
	m.ObservePreviewBuild(2*time.Millisecond, false)
	m.ObservePreviewBuild(time.Microsecond, true)
	m.ObserveBackendRequest("match", "ok", 10*time.Millisecond)
	m.ObserveBackendRequest("match", "error", 10*time.Millisecond)
	m.ObserveExportJob("csv", "completed")

	if got := testutil.ToFloat64(m.previewBuilds); got != 2 {
		t.Fatalf("expected 2 preview builds, got %v", got)
	}
	if got := testutil.ToFloat64(m.previewCacheHits); got != 1 {
		t.Fatalf("expected 1 cache hit, got %v", got)
	}
	if got := testutil.ToFloat64(m.backendRequests.WithLabelValues("match", "error")); got != 1 {
		t.Fatalf("expected 1 failed match, got %v", got)
	}
	if got := testutil.ToFloat64(m.exportJobs.WithLabelValues("csv", "completed")); got != 1 {
		t.Fatalf("expected 1 completed csv export, got %v", got)
	}
}

func TestMetrics_HandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObserveExportJob("xlsx", "failed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{"datafusion_export_jobs_total", "datafusion_preview_builds_total", "go_goroutines"} {
		if !strings.Contains(body, name) {
			t.Fatalf("expected %s in exposition", name)
		}
	}
}
