package ml

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredictProba_IsolatesRowFailures(t *testing.T) {
	m := &stubModel{
		probas: map[int]float64{0: 0.9, 2: 0.5, 4: math.NaN(), 5: 0.1},
		fail:   map[int]error{1: errors.New("bad row")},
		panics: map[int]bool{3: true},
	}
	res := PredictProba(m, indexRows(6))

	require.Equal(t, 6, res.Len())
	assert.Equal(t, 3, res.Succeeded())

	failures := res.Failures()
	assert.Len(t, failures, 3)
	assert.Contains(t, failures, 1)
	assert.Contains(t, failures, 3)
	assert.Contains(t, failures, 4)

	probs := res.Probabilities()
	labels := res.Labels(0.5)
	for _, i := range []int{1, 3, 4} {
		assert.Nil(t, probs[i], "row %d", i)
		assert.Nil(t, labels[i], "row %d", i)
	}
	assert.Equal(t, 0.9, *probs[0])
	assert.Equal(t, 1, *labels[0])
	assert.Equal(t, 1, *labels[2], "probability equal to the threshold is positive")
	assert.Equal(t, 0, *labels[5])

	raw := res.ProbabilitiesOrNaN()
	assert.True(t, math.IsNaN(raw[1]))
	assert.Equal(t, 0.1, raw[5])
}

func TestPredictProba_Empty(t *testing.T) {
	res := PredictProba(&stubModel{}, nil)
	assert.Equal(t, 0, res.Len())
	assert.Empty(t, res.Failures())
	assert.Empty(t, res.Probabilities())
}
