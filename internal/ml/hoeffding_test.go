package ml

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHoeffdingConfig() HoeffdingConfig {
	return HoeffdingConfig{NModels: 5, GracePeriod: 50, SubspaceSize: 2, Seed: 3}
}

func TestHoeffdingForest_NotFittedBeforeLearning(t *testing.T) {
	f := NewHoeffdingForest("arf", testFeatures, testHoeffdingConfig())
	rows, _ := jamRows(1, 1)

	_, err := f.PredictProbaOne(rows[0])
	assert.ErrorIs(t, err, ErrNotFitted)
	assert.Equal(t, KindIncremental, f.Kind())
	assert.Equal(t, int64(0), f.Seen())
}

func TestHoeffdingForest_LearnsOnline(t *testing.T) {
	f := NewHoeffdingForest("arf", testFeatures, testHoeffdingConfig())
	rows, labels := jamRows(3000, 1)
	for i := range rows {
		require.NoError(t, f.LearnOne(rows[i], labels[i]))
	}
	assert.Equal(t, int64(3000), f.Seen())

	testRows, testLabels := jamRows(300, 9)
	assert.Greater(t, accuracy(f, testRows, testLabels), 0.8)

	grown := 0
	for _, tr := range f.trees {
		if len(tr.Nodes) > 1 {
			grown++
		}
	}
	assert.Positive(t, grown, "expected at least one tree to split")
}

func TestHoeffdingForest_RejectsBadInput(t *testing.T) {
	f := NewHoeffdingForest("arf", testFeatures, testHoeffdingConfig())
	rows, _ := jamRows(1, 1)

	assert.Error(t, f.LearnOne(rows[0], 2))

	delete(rows[0].Values, "VehicleCount")
	assert.ErrorIs(t, f.LearnOne(rows[0], 1), ErrMissingFeature)
	assert.Equal(t, int64(0), f.Seen())
}

func TestHoeffdingForest_ConcurrentLearnAndPredict(t *testing.T) {
	f := NewHoeffdingForest("arf", testFeatures, testHoeffdingConfig())
	rows, labels := jamRows(1000, 5)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := range rows {
			_ = f.LearnOne(rows[i], labels[i])
		}
	}()
	go func() {
		defer wg.Done()
		for i := range rows {
			if p, err := f.PredictProbaOne(rows[i]); err == nil {
				assert.False(t, math.IsNaN(p))
			}
		}
	}()
	wg.Wait()
	assert.Equal(t, int64(1000), f.Seen())
}

func TestGaussianStats(t *testing.T) {
	var g GaussianStats
	for _, x := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		g.Add(x, 1)
	}
	assert.InDelta(t, 5.0, g.Mean, 1e-9)
	assert.InDelta(t, math.Sqrt(32.0/7.0), g.Std(), 1e-9)
	assert.InDelta(t, 4.0, g.MassBelow(5), 1e-9)
	assert.Equal(t, 0.0, GaussianStats{}.MassBelow(1))
}

func TestHoeffdingBound(t *testing.T) {
	assert.Greater(t, hoeffdingBound(1, 1e-7, 100), hoeffdingBound(1, 1e-7, 1000))
	assert.InDelta(t, math.Sqrt(math.Log(1e7)/200), hoeffdingBound(1, 1e-7, 100), 1e-12)
}
