package metrics

import (
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestRecorder() (*Recorder, *Metrics, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	m := NewWithRegistry(registry)
	return NewRecorder(m), m, registry
}

func TestRecorder_Requests(t *testing.T) {
	r, m, _ := newTestRecorder()

	r.RequestObserve("/model/inference/", 200)
	r.RequestObserve("/model/inference/", 200)
	r.RequestObserve("/model/validation/", 404)

	if v := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/model/inference/", "200")); v != 2 {
		t.Errorf("Expected 2 inference requests, got %f", v)
	}
	if v := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/model/validation/", "404")); v != 1 {
		t.Errorf("Expected 1 failed validation, got %f", v)
	}
	if v := testutil.ToFloat64(m.ErrorsTotal); v != 1 {
		t.Errorf("Expected 1 error, got %f", v)
	}
}

func TestRecorder_InferenceAndFailureRate(t *testing.T) {
	r, m, registry := newTestRecorder()

	if rate := FailureRate(registry); rate != 0 {
		t.Errorf("Expected failure rate 0 before any rows, got %f", rate)
	}

	r.InferenceObserve(10, 2, 30*time.Millisecond)
	r.InferenceObserve(10, 0, 10*time.Millisecond)

	if v := testutil.ToFloat64(m.InferenceRows); v != 20 {
		t.Errorf("Expected 20 rows, got %f", v)
	}
	if v := testutil.ToFloat64(m.RowFailures); v != 2 {
		t.Errorf("Expected 2 failures, got %f", v)
	}
	if rate := FailureRate(registry); rate != 0.1 {
		t.Errorf("Expected failure rate 0.1, got %f", rate)
	}
	if n := testutil.CollectAndCount(m.InferenceLatency); n != 1 {
		t.Errorf("Expected latency histogram to be collected, got %d", n)
	}
}

func TestRecorder_ModelLoaded(t *testing.T) {
	r, m, _ := newTestRecorder()

	r.ModelLoaded(true, time.Now().Add(-time.Minute))
	r.ModelLoaded(false, time.Time{})

	if v := testutil.ToFloat64(m.ModelLoads.WithLabelValues("success")); v != 1 {
		t.Errorf("Expected 1 successful load, got %f", v)
	}
	if v := testutil.ToFloat64(m.ModelLoads.WithLabelValues("error")); v != 1 {
		t.Errorf("Expected 1 failed load, got %f", v)
	}
	if age := testutil.ToFloat64(m.ModelAge); age < 59 || age > 120 {
		t.Errorf("Expected model age near 60s, got %f", age)
	}
}

func TestRecorder_SampleRecordedSkipsUndefined(t *testing.T) {
	r, m, _ := newTestRecorder()

	r.SampleRecorded(0.9, 0.8, 0.85, 1)
	r.SampleRecorded(0.7, math.NaN(), 0.6, 2)

	if v := testutil.ToFloat64(m.ValidationAccuracy); v != 0.7 {
		t.Errorf("Expected accuracy 0.7, got %f", v)
	}
	if v := testutil.ToFloat64(m.ValidationRecall); v != 0.8 {
		t.Errorf("Expected recall to keep 0.8, got %f", v)
	}
	if v := testutil.ToFloat64(m.HistoryLength); v != 2 {
		t.Errorf("Expected history length 2, got %f", v)
	}
}

func TestRecorder_DriftAndPublish(t *testing.T) {
	r, m, _ := newTestRecorder()

	r.DriftObserve("population_stability_index", 0.3)
	r.PublishFailed()
	r.RowsLearned(5)

	if v := testutil.ToFloat64(m.DriftScore.WithLabelValues("population_stability_index")); v != 0.3 {
		t.Errorf("Expected drift score 0.3, got %f", v)
	}
	if v := testutil.ToFloat64(m.PublishFailures); v != 1 {
		t.Errorf("Expected 1 publish failure, got %f", v)
	}
	if v := testutil.ToFloat64(m.LearnedRows); v != 5 {
		t.Errorf("Expected 5 learned rows, got %f", v)
	}
}
