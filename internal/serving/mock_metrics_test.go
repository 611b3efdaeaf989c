package serving

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"jamwatch/internal/dataset"
	"jamwatch/internal/evaluate"
	"jamwatch/internal/ml"
)

// MockMetrics records the calls the service makes.
type MockMetrics struct {
	mu        sync.Mutex
	requests  map[string]int
	rows      int
	failed    int
	learned   int
	loads     map[bool]int
	samples   int
	lengths   []int
	published int
	drift     map[string]float64
}

func newMockMetrics() *MockMetrics {
	return &MockMetrics{
		requests: make(map[string]int),
		loads:    make(map[bool]int),
		drift:    make(map[string]float64),
	}
}

func (m *MockMetrics) RequestObserve(route string, code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[fmt.Sprintf("%s %d", route, code)]++
}

func (m *MockMetrics) InferenceObserve(rows, failed int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows += rows
	m.failed += failed
}

func (m *MockMetrics) PredictionScoreObserve(float64) {}

func (m *MockMetrics) RowsLearned(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.learned += n
}

func (m *MockMetrics) ModelLoaded(ok bool, _ time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads[ok]++
}

func (m *MockMetrics) SampleRecorded(_, _, _ float64, historyLen int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples++
	m.lengths = append(m.lengths, historyLen)
}

func (m *MockMetrics) DriftObserve(method string, score float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drift[method] = score
}

func (m *MockMetrics) PublishFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published++
}

func (m *MockMetrics) request(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[key]
}

// echoModel predicts the value of the "x" feature. A row without it fails.
type echoModel struct {
	name string
}

func (e *echoModel) Kind() ml.Kind      { return ml.KindBatch }
func (e *echoModel) Name() string       { return e.name }
func (e *echoModel) Features() []string { return []string{"x"} }

func (e *echoModel) PredictProbaOne(row dataset.Row) (float64, error) {
	v, ok := row.Get("x")
	if !ok {
		return 0, ml.ErrMissingFeature
	}
	return v, nil
}

// constModel predicts the same probability for every row.
type constModel struct {
	name  string
	proba float64
}

func (c *constModel) Kind() ml.Kind      { return ml.KindBatch }
func (c *constModel) Name() string       { return c.name }
func (c *constModel) Features() []string { return nil }

func (c *constModel) PredictProbaOne(dataset.Row) (float64, error) {
	return c.proba, nil
}

// loaderOf serves models by path; unknown paths fail.
func loaderOf(models map[string]ml.Model) func(string) (ml.Model, error) {
	return func(path string) (ml.Model, error) {
		m, ok := models[path]
		if !ok {
			return nil, errors.New("no such model")
		}
		return m, nil
	}
}

// recordingSink collects samples; it fails when err is set.
type recordingSink struct {
	mu      sync.Mutex
	samples []evaluate.Sample
	err     error
}

func (s *recordingSink) Record(_ context.Context, sample evaluate.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.samples = append(s.samples, sample)
	return nil
}

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

type recordingArchive struct {
	rows int
}

func (a *recordingArchive) ArchiveRows(rows []dataset.Row, labels []int) error {
	a.rows += len(rows)
	return nil
}

// validationTable has one row per label; x is 0.9 for positives and 0.1 otherwise.
func validationTable(labels ...int) *dataset.Table {
	start := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]dataset.Row, len(labels))
	for i, y := range labels {
		x := 0.1
		if y == 1 {
			x = 0.9
		}
		rows[i] = dataset.Row{
			Time:   start.Add(time.Duration(i) * 5 * time.Minute),
			Values: map[string]float64{"x": x, "Y": float64(y)},
		}
	}
	return dataset.NewTable([]string{"x", "Y"}, rows)
}
