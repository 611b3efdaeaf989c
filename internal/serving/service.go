// Package serving holds the process-wide model reference and the validation
// history, and exposes them over HTTP.
//
// The service is either unloaded or ready. LoadModel swaps the model
// atomically: a request reads the reference once and uses that model for its
// whole batch, so a concurrent reload never mixes two models in one response.
package serving

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"jamwatch/internal/dataset"
	"jamwatch/internal/evaluate"
	"jamwatch/internal/ml"
)

var (
	// ErrNotReady is returned by operations that need a model before one is loaded.
	ErrNotReady = errors.New("model not loaded")
	// ErrNotIncremental is returned by Learn when the loaded model is a batch model.
	ErrNotIncremental = errors.New("loaded model cannot learn incrementally")
	// ErrEmptyBatch is returned for a request without rows.
	ErrEmptyBatch = errors.New("no rows in request")
	// ErrBadThreshold is returned for a decision threshold outside [0,1].
	ErrBadThreshold = errors.New("threshold must be within [0,1]")
)

// State is the lifecycle state of the service.
type State string

const (
	StateUnloaded State = "unloaded"
	StateReady    State = "ready"
)

// Sink receives every sample appended to the history. Sink failures are
// logged and never undo the append.
type Sink interface {
	Record(ctx context.Context, s evaluate.Sample) error
}

// ValidationObserver sees the probabilities and labels of every recorded
// validation. Rows that failed carry NaN.
type ValidationObserver interface {
	ObserveValidation(probabilities []float64, labels []int)
}

// RowArchive keeps labelled rows received for validation.
type RowArchive interface {
	ArchiveRows(rows []dataset.Row, labels []int) error
}

type loaded struct {
	model     ml.Model
	path      string
	loadedAt  time.Time
	writtenAt time.Time
}

// Options configures a Service. Every field is optional.
type Options struct {
	History   *History
	Metrics   MetricsInterface
	Drift     *ml.DriftDetector
	Sinks     []Sink
	Observers []ValidationObserver
	Archive   RowArchive
	// Loader reads a model file; ml.Load by default.
	Loader func(path string) (ml.Model, error)
}

// Service is the model server state shared by all requests.
type Service struct {
	current   atomic.Pointer[loaded]
	history   *History
	metrics   MetricsInterface
	drift     *ml.DriftDetector
	sinks     []Sink
	observers []ValidationObserver
	archive   RowArchive
	loader    func(path string) (ml.Model, error)

	hooksMu sync.Mutex
	onLoad  []func(path string)
}

// NewService creates an unloaded service.
func NewService(opts Options) *Service {
	s := &Service{
		history:   opts.History,
		metrics:   opts.Metrics,
		drift:     opts.Drift,
		sinks:     opts.Sinks,
		observers: opts.Observers,
		archive:   opts.Archive,
		loader:    opts.Loader,
	}
	if s.history == nil {
		s.history = NewHistory()
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	if s.loader == nil {
		s.loader = ml.Load
	}
	return s
}

// History returns the validation history.
func (s *Service) History() *History { return s.history }

// Drift returns the drift detector, which may be nil.
func (s *Service) Drift() *ml.DriftDetector { return s.drift }

// State reports whether a model is loaded.
func (s *Service) State() State {
	if s.current.Load() == nil {
		return StateUnloaded
	}
	return StateReady
}

// Model returns the current model.
func (s *Service) Model() (ml.Model, bool) {
	cur := s.current.Load()
	if cur == nil {
		return nil, false
	}
	return cur.model, true
}

// OnLoad registers fn to be called with the path of every successful load.
func (s *Service) OnLoad(fn func(path string)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.onLoad = append(s.onLoad, fn)
}

// LoadModel reads the model at path and makes it current. On failure the
// previous model, if any, stays in place.
func (s *Service) LoadModel(ctx context.Context, path string) error {
	if path == "" {
		return errors.New("model path is empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m, err := s.loader(path)
	if err != nil {
		s.metrics.ModelLoaded(false, time.Time{})
		return fmt.Errorf("load model %s: %w", path, err)
	}

	var writtenAt time.Time
	if info, err := os.Stat(path); err == nil {
		writtenAt = info.ModTime()
	}

	s.current.Store(&loaded{model: m, path: path, loadedAt: time.Now().UTC(), writtenAt: writtenAt})
	s.metrics.ModelLoaded(true, writtenAt)
	// the window described the previous model's predictions
	if s.drift != nil {
		s.drift.Reset()
	}

	log.Info().
		Str("path", path).
		Str("model", m.Name()).
		Str("kind", string(m.Kind())).
		Int("features", len(m.Features())).
		Msg("Model loaded")

	s.hooksMu.Lock()
	hooks := append([]func(string){}, s.onLoad...)
	s.hooksMu.Unlock()
	for _, fn := range hooks {
		fn(path)
	}
	return nil
}

// Inference is the result of Infer; failed rows are nil in both slices.
type Inference struct {
	Probabilities []*float64 `json:"probabilities"`
	Labels        []*int     `json:"labels"`
	Failed        int        `json:"failed_rows"`

	model string
	raw   []float64
}

func checkThreshold(t float64) error {
	if math.IsNaN(t) || t < 0 || t > 1 {
		return fmt.Errorf("%w: %v", ErrBadThreshold, t)
	}
	return nil
}

// Infer predicts every row with the current model.
func (s *Service) Infer(ctx context.Context, rows []dataset.Row, threshold float64) (Inference, error) {
	cur := s.current.Load()
	if cur == nil {
		return Inference{}, ErrNotReady
	}
	return s.infer(ctx, cur.model, rows, threshold)
}

func (s *Service) infer(ctx context.Context, m ml.Model, rows []dataset.Row, threshold float64) (Inference, error) {
	if err := checkThreshold(threshold); err != nil {
		return Inference{}, err
	}
	if len(rows) == 0 {
		return Inference{}, ErrEmptyBatch
	}
	if err := ctx.Err(); err != nil {
		return Inference{}, err
	}

	start := time.Now()
	res := ml.PredictProba(m, rows)
	failures := res.Failures()
	s.metrics.InferenceObserve(len(rows), len(failures), time.Since(start))

	inf := Inference{
		Probabilities: res.Probabilities(),
		Labels:        res.Labels(threshold),
		Failed:        len(failures),
		model:         m.Name(),
		raw:           res.ProbabilitiesOrNaN(),
	}

	ok := make([]float64, 0, len(rows)-len(failures))
	for _, p := range inf.Probabilities {
		if p != nil {
			s.metrics.PredictionScoreObserve(*p)
			ok = append(ok, *p)
		}
	}
	if s.drift != nil {
		s.drift.Observe(ok...)
		s.checkDrift()
	}

	if len(failures) > 0 {
		for i, err := range failures {
			log.Debug().Err(err).Int("row", i).Msg("Row prediction failed")
		}
		log.Warn().Int("failed", len(failures)).Int("rows", len(rows)).Msg("Some rows could not be predicted")
	}
	return inf, nil
}

// checkDrift publishes the drift scores and logs alerts outside the cooldown.
func (s *Service) checkDrift() {
	for method, score := range s.drift.Status().Scores {
		s.metrics.DriftObserve(string(method), score)
	}
	for _, a := range s.drift.Check() {
		log.Warn().
			Str("method", string(a.Method)).
			Float64("score", a.Score).
			Str("severity", a.Severity).
			Msg("Prediction drift detected")
	}
}

// Validate splits labelColumn from the table, predicts the rows and appends
// the resulting sample to the history. Any error leaves the history unchanged.
func (s *Service) Validate(ctx context.Context, table *dataset.Table, labelColumn string, threshold float64) (evaluate.Sample, error) {
	cur := s.current.Load()
	if cur == nil {
		return evaluate.Sample{}, ErrNotReady
	}

	features, labels, err := table.PopLabel(labelColumn)
	if err != nil {
		return evaluate.Sample{}, err
	}
	rows := features.Rows()

	inf, err := s.infer(ctx, cur.model, rows, threshold)
	if err != nil {
		return evaluate.Sample{}, err
	}

	score, err := evaluate.ScoreDailySubset(inf.raw, labels, threshold)
	if err != nil {
		return evaluate.Sample{}, err
	}
	f1, err := evaluate.BinaryF1(inf.raw, labels, threshold)
	if err != nil {
		return evaluate.Sample{}, err
	}

	// a request abandoned by its caller does not append
	if err := ctx.Err(); err != nil {
		return evaluate.Sample{}, err
	}

	now := time.Now().UTC()
	sample := s.history.append(evaluate.Sample{
		Period:            periodOf(rows, now),
		Model:             inf.model,
		Accuracy:          score.Accuracy,
		Recall:            score.Recall,
		RecallUncertainty: score.RecallUncertainty,
		F1:                evaluate.Float(f1),
		Rows:              len(rows),
		Failed:            inf.Failed,
		Threshold:         threshold,
		Timestamp:         now,
	}, func(rec evaluate.Sample) {
		s.metrics.SampleRecorded(float64(rec.Accuracy), float64(rec.Recall), float64(rec.F1), rec.Iteration)
	})

	log.Info().
		Int("iteration", sample.Iteration).
		Str("period", sample.Period).
		Float64("accuracy", float64(sample.Accuracy)).
		Float64("recall", float64(sample.Recall)).
		Float64("f1", float64(sample.F1)).
		Msg("Validation recorded")

	s.fanOut(ctx, sample)
	for _, o := range s.observers {
		o.ObserveValidation(inf.raw, labels)
	}
	if s.archive != nil {
		if err := s.archive.ArchiveRows(rows, labels); err != nil {
			log.Warn().Err(err).Msg("Failed to archive validation rows")
		}
	}
	return sample, nil
}

// periodOf names the day the rows cover, or the request time when the rows
// have no timestamps.
func periodOf(rows []dataset.Row, now time.Time) string {
	first, last := "", ""
	for _, r := range rows {
		if r.Time.IsZero() {
			continue
		}
		if first == "" {
			first = r.Day()
		}
		last = r.Day()
	}
	switch {
	case first == "":
		return now.Format(time.RFC3339)
	case first == last:
		return first
	default:
		return first + "/" + last
	}
}

func (s *Service) fanOut(ctx context.Context, sample evaluate.Sample) {
	for _, sink := range s.sinks {
		if err := sink.Record(context.WithoutCancel(ctx), sample); err != nil {
			s.metrics.PublishFailed()
			log.Warn().Err(err).Int("iteration", sample.Iteration).Msg("Sample sink failed")
		}
	}
}

// Learn feeds labelled rows to an incremental model and returns how many were
// learned. Rows the model rejects are skipped.
func (s *Service) Learn(ctx context.Context, table *dataset.Table, labelColumn string) (int, error) {
	cur := s.current.Load()
	if cur == nil {
		return 0, ErrNotReady
	}
	learner, ok := cur.model.(ml.IncrementalClassifier)
	if !ok {
		return 0, ErrNotIncremental
	}

	features, labels, err := table.PopLabel(labelColumn)
	if err != nil {
		return 0, err
	}
	rows := features.Rows()
	if len(rows) == 0 {
		return 0, ErrEmptyBatch
	}

	learned := 0
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			break
		}
		if err := learner.LearnOne(row, labels[i]); err != nil {
			log.Debug().Err(err).Int("row", i).Msg("Row not learned")
			continue
		}
		learned++
	}
	s.metrics.RowsLearned(learned)
	return learned, nil
}

// Info describes the loaded model.
type Info struct {
	State     State          `json:"state"`
	Path      string         `json:"path,omitempty"`
	LoadedAt  *time.Time     `json:"loaded_at,omitempty"`
	WrittenAt *time.Time     `json:"written_at,omitempty"`
	Model     map[string]any `json:"model,omitempty"`
	Samples   int            `json:"samples"`
}

// Info returns a description of the service state.
func (s *Service) Info() Info {
	info := Info{State: StateUnloaded, Samples: s.history.Len()}
	cur := s.current.Load()
	if cur == nil {
		return info
	}
	info.State = StateReady
	info.Path = cur.path
	info.LoadedAt = &cur.loadedAt
	if !cur.writtenAt.IsZero() {
		info.WrittenAt = &cur.writtenAt
	}
	info.Model = ml.Describe(cur.model)
	return info
}
