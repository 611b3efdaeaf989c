package evaluate

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreDailySubset_AllPositivesPredicted(t *testing.T) {
	probs := []float64{0.5, 0.7, 0.99, 0.51}
	labels := []int{1, 1, 1, 1}

	s, err := ScoreDailySubset(probs, labels, 0.5)
	require.NoError(t, err)
	assert.Equal(t, Float(1), s.Accuracy)
	assert.Equal(t, Float(1), s.Recall)
	assert.Equal(t, Float(0), s.RecallUncertainty)
	assert.Equal(t, Float(1), s.F1)
	assert.Equal(t, 4, s.Positives)
}

func TestScoreDailySubset_NoPositives(t *testing.T) {
	s, err := ScoreDailySubset([]float64{0.1, 0.7, 0.2}, []int{0, 0, 0}, 0.5)
	require.NoError(t, err)

	assert.InDelta(t, 2.0/3.0, float64(s.Accuracy), 1e-12)
	assert.False(t, s.Recall.Defined())
	assert.False(t, s.RecallUncertainty.Defined())
	assert.True(t, s.F1.Defined())
	assert.Equal(t, 0, s.Positives)
}

func TestScoreDailySubset_Mixed(t *testing.T) {
	// y:    1    1    1    1    0    0    0    0
	// pred: 1    1    1    0    0    0    1    0
	probs := []float64{0.9, 0.6, 0.4, 0.2, 0.1, 0.3, 0.45, 0.0}
	labels := []int{1, 1, 1, 1, 0, 0, 0, 0}

	s, err := ScoreDailySubset(probs, labels, 0.4)
	require.NoError(t, err)

	assert.InDelta(t, 6.0/8.0, float64(s.Accuracy), 1e-12)
	assert.InDelta(t, 0.75, float64(s.Recall), 1e-12)
	assert.InDelta(t, math.Sqrt(0.75*0.25/4), float64(s.RecallUncertainty), 1e-12)
	// both classes have F1 0.75 and equal support
	assert.InDelta(t, 0.75, float64(s.F1), 1e-12)

	f1, err := BinaryF1(probs, labels, 0.4)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, f1, 1e-12)
}

func TestScoreDailySubset_WeightedBySupport(t *testing.T) {
	// one positive, three negatives, everything predicted 0
	s, err := ScoreDailySubset([]float64{0.1, 0.1, 0.1, 0.1}, []int{1, 0, 0, 0}, 0.5)
	require.NoError(t, err)

	negF1 := 2.0 * 3 / (2.0*3 + 1)
	assert.InDelta(t, 0.75*negF1, float64(s.F1), 1e-12)
	assert.Equal(t, Float(0), s.Recall)
}

func TestScoreDailySubset_NaNIsAMiss(t *testing.T) {
	s, err := ScoreDailySubset([]float64{math.NaN(), 0.9}, []int{1, 1}, 0.5)
	require.NoError(t, err)
	assert.Equal(t, Float(0.5), s.Accuracy)
	assert.Equal(t, Float(0.5), s.Recall)
	assert.Equal(t, 2, s.Rows)
}

func TestScoreDailySubset_Errors(t *testing.T) {
	_, err := ScoreDailySubset([]float64{0.1}, []int{1, 0}, 0.5)
	assert.ErrorIs(t, err, ErrLengthMismatch)

	_, err = ScoreDailySubset(nil, nil, 0.5)
	assert.ErrorIs(t, err, ErrEmptySubset)

	_, err = ScoreDailySubset([]float64{0.1}, []int{3}, 0.5)
	assert.Error(t, err)

	_, err = BinaryF1([]float64{0.1}, nil, 0.5)
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestBinaryF1_NothingPositive(t *testing.T) {
	f1, err := BinaryF1([]float64{0.1, 0.2}, []int{0, 0}, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 0.0, f1)
}

func TestFloat_JSON(t *testing.T) {
	data, err := json.Marshal(map[string]Float{"a": Float(math.NaN()), "b": 0.25, "c": Float(math.Inf(1))})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":null,"b":0.25,"c":null}`, string(data))

	var back struct {
		A Float `json:"a"`
		B Float `json:"b"`
	}
	require.NoError(t, json.Unmarshal(data, &back))
	assert.False(t, back.A.Defined())
	assert.Equal(t, Float(0.25), back.B)
}
