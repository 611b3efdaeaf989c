package ml

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jamwatch/internal/dataset"
)

func TestRandomForest_LearnsSeparableData(t *testing.T) {
	f := fittedForest(t)
	testRows, testLabels := jamRows(200, 2)

	assert.Greater(t, accuracy(f, testRows, testLabels), 0.95)
	assert.Equal(t, KindBatch, f.Kind())
	assert.Equal(t, 10, f.TreeCount())
}

func TestRandomForest_ProbabilityRange(t *testing.T) {
	f := fittedForest(t)
	rows, _ := jamRows(50, 3)
	for _, r := range rows {
		p, err := f.PredictProbaOne(r)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
	}
}

func TestRandomForest_DeterministicAcrossWorkers(t *testing.T) {
	rows, labels := jamRows(300, 4)
	a := NewRandomForest("a", testFeatures, ForestConfig{NTrees: 8, Seed: 11, Workers: 1})
	b := NewRandomForest("b", testFeatures, ForestConfig{NTrees: 8, Seed: 11, Workers: 4})
	require.NoError(t, a.Fit(rows, labels))
	require.NoError(t, b.Fit(rows, labels))

	holdout, _ := jamRows(20, 5)
	for _, r := range holdout {
		pa, err := a.PredictProbaOne(r)
		require.NoError(t, err)
		pb, err := b.PredictProbaOne(r)
		require.NoError(t, err)
		assert.Equal(t, pa, pb)
	}
}

func TestRandomForest_Errors(t *testing.T) {
	f := NewRandomForest("rf", testFeatures, ForestConfig{NTrees: 2})

	_, err := f.PredictProbaOne(dataset.Row{Values: map[string]float64{"Occupancy": 1, "VehicleCount": 1}})
	assert.ErrorIs(t, err, ErrNotFitted)

	rows, labels := jamRows(10, 1)
	assert.Error(t, f.Fit(rows, labels[:5]))

	incomplete := []dataset.Row{{Values: map[string]float64{"Occupancy": 0.3}}}
	assert.ErrorIs(t, f.Fit(incomplete, []int{0}), ErrNoTrainingRows)

	fitted := fittedForest(t)
	_, err = fitted.PredictProbaOne(dataset.Row{Values: map[string]float64{"Occupancy": 0.9}})
	assert.True(t, errors.Is(err, ErrMissingFeature))
}

func TestRandomForest_FeatureImportances(t *testing.T) {
	f := fittedForest(t)
	scores := f.FeatureImportances()
	require.Len(t, scores, 2)
	assert.Equal(t, "Occupancy", scores[0].Name)
	assert.Greater(t, scores[0].Score, scores[1].Score)
	assert.Equal(t, []string{"Occupancy"}, TopFeatures(scores, 1))
}
