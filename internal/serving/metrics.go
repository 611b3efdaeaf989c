package serving

import "time"

// MetricsInterface defines the recording calls the serving layer makes.
type MetricsInterface interface {
	RequestObserve(route string, code int)
	InferenceObserve(rows, failed int, latency time.Duration)
	PredictionScoreObserve(p float64)
	RowsLearned(n int)
	ModelLoaded(ok bool, writtenAt time.Time)
	SampleRecorded(accuracy, recall, f1 float64, historyLen int)
	DriftObserve(method string, score float64)
	PublishFailed()
}

type nopMetrics struct{}

func (nopMetrics) RequestObserve(string, int)                    {}
func (nopMetrics) InferenceObserve(int, int, time.Duration)      {}
func (nopMetrics) PredictionScoreObserve(float64)                {}
func (nopMetrics) RowsLearned(int)                               {}
func (nopMetrics) ModelLoaded(bool, time.Time)                   {}
func (nopMetrics) SampleRecorded(float64, float64, float64, int) {}
func (nopMetrics) DriftObserve(string, float64)                  {}
func (nopMetrics) PublishFailed()                                {}
