package evaluate

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jamwatch/internal/dataset"
	"jamwatch/internal/ml"
)

// thresholdModel predicts Occupancy directly and fails rows where it is negative.
type thresholdModel struct{}

func (thresholdModel) Kind() ml.Kind      { return ml.KindBatch }
func (thresholdModel) Name() string       { return "occupancy" }
func (thresholdModel) Features() []string { return []string{"Occupancy"} }
func (thresholdModel) PredictProbaOne(r dataset.Row) (float64, error) {
	v, ok := r.Get("Occupancy")
	if !ok {
		return 0, ml.ErrMissingFeature
	}
	if v < 0 {
		return 0, assert.AnError
	}
	return v, nil
}

var day1 = time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)

func row(day time.Time, minute int, occ float64, label int) dataset.Row {
	return dataset.Row{
		Time: day.Add(time.Duration(minute) * time.Minute),
		Values: map[string]float64{
			"Occupancy":         occ,
			dataset.LabelColumn: float64(label),
		},
	}
}

func testTable() *dataset.Table {
	day2 := day1.AddDate(0, 0, 1)
	day3 := day1.AddDate(0, 0, 2)
	rows := []dataset.Row{
		row(day1, 0, 0.9, 1), row(day1, 5, 0.2, 0), row(day1, 10, 0.8, 1),
		row(day2, 0, 0.1, 0), row(day2, 5, -1, 1),
		row(day3, 0, 0.3, 0), row(day3, 5, 0.6, 0), row(day3, 10, 0.1, 0), row(day3, 15, 0.2, 0),
	}
	return dataset.NewTable([]string{"Occupancy", dataset.LabelColumn}, rows)
}

func TestPredictProbaTrueClassByDate(t *testing.T) {
	ev, err := New(thresholdModel{}, testTable(), "")
	require.NoError(t, err)

	for _, tc := range []struct {
		day  time.Time
		rows int
	}{
		{day1, 3},
		{day1.AddDate(0, 0, 1), 2},
		{day1.AddDate(0, 0, 2), 4},
		{day1.AddDate(0, 0, 5), 0},
	} {
		probs, labels, err := ev.PredictProbaTrueClassByDate(tc.day)
		require.NoError(t, err)
		assert.Len(t, probs, tc.rows)
		assert.Len(t, labels, tc.rows)
	}

	probs, labels, err := ev.PredictProbaTrueClassByDate(day1.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, labels)
	assert.Equal(t, 0.1, probs[0])
	assert.True(t, math.IsNaN(probs[1]))
}

func TestPredictProbaTrueClassByDate_MissingLabel(t *testing.T) {
	ev, err := New(thresholdModel{}, testTable(), "Y")
	require.NoError(t, err)

	_, _, err = ev.PredictProbaTrueClassByDate(day1)
	assert.ErrorIs(t, err, dataset.ErrMissingLabel)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, testTable(), "")
	assert.Error(t, err)
	_, err = New(thresholdModel{}, nil, "")
	assert.Error(t, err)
}

func TestTrend(t *testing.T) {
	ev, err := New(thresholdModel{}, testTable(), "")
	require.NoError(t, err)

	var seen []string
	days, err := ev.Trend(context.Background(), TrendOptions{Cut: 0.5, OnDay: func(d DailyScore) { seen = append(seen, d.Date) }})
	require.NoError(t, err)
	require.Len(t, days, 3)
	assert.Equal(t, []string{"2023-03-01", "2023-03-02", "2023-03-03"}, seen)

	assert.Equal(t, Float(1), days[0].Accuracy)
	assert.Equal(t, Float(1), days[0].Recall)

	assert.Equal(t, 1, days[1].Failed)
	assert.Equal(t, Float(0.5), days[1].Accuracy)
	assert.Equal(t, Float(0), days[1].Recall)

	assert.False(t, days[2].Recall.Defined())
	assert.Equal(t, Float(0.75), days[2].Accuracy)

	sum := Summarize(days)
	assert.Equal(t, 3, sum.Days)
	assert.Equal(t, 9, sum.Rows)
	assert.Equal(t, 1, sum.Failed)
	assert.InDelta(t, 0.5, float64(sum.Recall), 1e-12, "undefined days are skipped")
	assert.InDelta(t, 0.75, float64(sum.Accuracy), 1e-12)
}

func TestTrend_PrequentialNeedsIncremental(t *testing.T) {
	ev, err := New(thresholdModel{}, testTable(), "")
	require.NoError(t, err)
	_, err = ev.Trend(context.Background(), TrendOptions{Prequential: true})
	assert.Error(t, err)
}

func TestTrend_PrequentialLearnsAfterScoring(t *testing.T) {
	hf := ml.NewHoeffdingForest("arf", []string{"Occupancy"}, ml.HoeffdingConfig{NModels: 3, Seed: 1})
	table := testTable()
	ev, err := New(hf, table, "")
	require.NoError(t, err)

	days, err := ev.Trend(context.Background(), TrendOptions{Cut: 0.5, Prequential: true})
	require.NoError(t, err)
	require.Len(t, days, 3)

	// nothing learned before the first day is scored
	assert.Equal(t, 3, days[0].Failed)
	// the row with negative occupancy is learned too
	assert.Equal(t, int64(table.Len()), hf.Seen())
}

func TestTrend_Cancelled(t *testing.T) {
	ev, err := New(thresholdModel{}, testTable(), "")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	days, err := ev.Trend(ctx, TrendOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, days)
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)
	assert.Equal(t, 0, s.Days)
	assert.False(t, s.Accuracy.Defined())
}
