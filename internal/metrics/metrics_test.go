package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCollector_ExposesRecordedValues(t *testing.T) {
	c := NewCollector()

	c.RecordSubmitted()
	c.RecordSubmitted()
	c.RecordCompleted(1500 * time.Millisecond)
	c.RecordFailed()
	c.RecordCancelled()
	c.RecordEventPublished()
	c.SetQueueDepth(7)
	c.SetWorkersBusy(2)
	c.SetSubscribers(3)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	c.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200 from metrics handler, got %d", rec.Code)
	}
	body := rec.Body.String()

	expected := []string{
		"exerceo_jobs_submitted_total 2",
		"exerceo_jobs_completed_total 1",
		"exerceo_jobs_failed_total 1",
		"exerceo_jobs_cancelled_total 1",
		"exerceo_events_published_total 1",
		"exerceo_queue_depth 7",
		"exerceo_workers_busy 2",
		"exerceo_event_subscribers 3",
		"exerceo_job_duration_seconds_count 1",
	}
	for _, want := range expected {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestCollector_NilIsNoOp(t *testing.T) {
	var c *Collector

	c.RecordSubmitted()
	c.RecordCompleted(time.Second)
	c.RecordFailed()
	c.RecordCancelled()
	c.RecordEventPublished()
	c.SetQueueDepth(1)
	c.SetWorkersBusy(1)
	c.SetSubscribers(1)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	c.Handler().ServeHTTP(rec, req)
	if rec.Code != 404 {
		t.Fatalf("expected 404 from nil collector handler, got %d", rec.Code)
	}
}

func TestCollector_IndependentInstances(t *testing.T) {
	a := NewCollector()
	b := NewCollector()

	a.RecordSubmitted()
	b.RecordSubmitted()
	b.RecordSubmitted()

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "exerceo_jobs_submitted_total 2") {
		t.Fatalf("second collector should count independently, got:\n%s", rec.Body.String())
	}
}
