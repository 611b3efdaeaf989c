package metrics

import (
	"math"
	"strconv"
	"time"
)

// Recorder adapts Metrics to the narrow recording calls the serving layer makes.
type Recorder struct {
	m *Metrics
}

func NewRecorder(m *Metrics) *Recorder {
	return &Recorder{m: m}
}

func (r *Recorder) RequestObserve(route string, code int) {
	r.m.RequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
	if code >= 400 {
		r.m.ErrorsTotal.Inc()
	}
}

func (r *Recorder) InferenceObserve(rows, failed int, latency time.Duration) {
	r.m.InferenceRows.Add(float64(rows))
	r.m.RowFailures.Add(float64(failed))
	r.m.InferenceLatency.Observe(latency.Seconds())
}

func (r *Recorder) PredictionScoreObserve(p float64) {
	r.m.PredictionScores.Observe(p)
}

func (r *Recorder) RowsLearned(n int) {
	r.m.LearnedRows.Add(float64(n))
}

func (r *Recorder) ModelLoaded(ok bool, writtenAt time.Time) {
	if !ok {
		r.m.ModelLoads.WithLabelValues("error").Inc()
		return
	}
	r.m.ModelLoads.WithLabelValues("success").Inc()
	if !writtenAt.IsZero() {
		r.m.ModelAge.Set(time.Since(writtenAt).Seconds())
	}
}

// SampleRecorded publishes the scores of a validation. Undefined scores leave
// their gauge unchanged.
func (r *Recorder) SampleRecorded(accuracy, recall, f1 float64, historyLen int) {
	setDefined(r.m.ValidationAccuracy.Set, accuracy)
	setDefined(r.m.ValidationRecall.Set, recall)
	setDefined(r.m.ValidationF1.Set, f1)
	setDefined(r.m.AccuracyHistogram.Observe, accuracy)
	r.m.HistoryLength.Set(float64(historyLen))
}

func (r *Recorder) DriftObserve(method string, score float64) {
	r.m.DriftScore.WithLabelValues(method).Set(score)
}

func (r *Recorder) PublishFailed() {
	r.m.PublishFailures.Inc()
}

func setDefined(set func(float64), v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	set(v)
}
