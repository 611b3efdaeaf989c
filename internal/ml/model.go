// Package ml provides the traffic-jam classifiers and the uniform interface the
// evaluator and serving layer use to call them.
//
// Two model families implement Model: RandomForest, a batch classifier fit once
// over a training window, and HoeffdingForest, an incremental classifier that
// learns one row at a time. Both predict the probability of the positive class
// (a jam within the label horizon) for a single feature row.
package ml

import (
	"errors"
	"fmt"

	"jamwatch/internal/dataset"
)

// Kind tags the model family.
type Kind string

const (
	KindBatch       Kind = "batch"
	KindIncremental Kind = "incremental"
)

var (
	// ErrMissingFeature is returned for a row lacking a feature the model was trained on.
	ErrMissingFeature = errors.New("missing feature")
	// ErrNotFitted is returned when predicting with a model that has no trained state.
	ErrNotFitted = errors.New("model not fitted")
	// ErrNoTrainingRows is returned when Fit receives no usable rows.
	ErrNoTrainingRows = errors.New("no usable training rows")
)

// Model is the read-only prediction capability shared by both families.
type Model interface {
	Kind() Kind
	Name() string
	// Features lists the inputs in the order the model reads them.
	Features() []string
	// PredictProbaOne returns the positive-class probability of one row.
	PredictProbaOne(row dataset.Row) (float64, error)
}

// BatchClassifier is fit once over a fixed window.
type BatchClassifier interface {
	Model
	Fit(rows []dataset.Row, labels []int) error
}

// IncrementalClassifier is updated one example at a time. LearnOne must be
// safe to call concurrently with PredictProbaOne.
type IncrementalClassifier interface {
	Model
	LearnOne(row dataset.Row, label int) error
}

// vectorize reads the model's features from a row in order.
func vectorize(features []string, row dataset.Row) ([]float64, error) {
	x := make([]float64, len(features))
	for i, name := range features {
		v, ok := row.Get(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingFeature, name)
		}
		x[i] = v
	}
	return x, nil
}

// Describe returns a short description used in logs and the info endpoint.
func Describe(m Model) map[string]any {
	info := map[string]any{
		"kind":     m.Kind(),
		"name":     m.Name(),
		"features": m.Features(),
	}
	if in, ok := m.(Inspector); ok {
		info["trees"] = in.TreeCount()
	}
	return info
}
