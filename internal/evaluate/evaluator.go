package evaluate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"

	"jamwatch/internal/dataset"
	"jamwatch/internal/ml"
)

// DailyScore is the score of one day of the test table.
type DailyScore struct {
	Date string `json:"date"`
	Score
	Failed int `json:"failed_rows"`
}

// Evaluator scores a model against a time-indexed table.
type Evaluator struct {
	model       ml.Model
	table       *dataset.Table
	labelColumn string
}

// New returns an evaluator of model over table. labelColumn defaults to
// dataset.LabelColumn.
func New(model ml.Model, table *dataset.Table, labelColumn string) (*Evaluator, error) {
	if model == nil {
		return nil, errors.New("evaluator needs a model")
	}
	if table == nil {
		return nil, errors.New("evaluator needs a table")
	}
	if labelColumn == "" {
		labelColumn = dataset.LabelColumn
	}
	return &Evaluator{model: model, table: table, labelColumn: labelColumn}, nil
}

// PredictProbaTrueClassByDate predicts every row of one day. The returned
// probabilities are aligned with the labels; rows the model could not predict
// hold NaN. A table without the label column is a configuration error.
func (e *Evaluator) PredictProbaTrueClassByDate(day time.Time) ([]float64, []int, error) {
	features, labels, err := e.table.SubByDate(day).PopLabel(e.labelColumn)
	if err != nil {
		return nil, nil, err
	}
	res := ml.PredictProba(e.model, features.Rows())
	return res.ProbabilitiesOrNaN(), labels, nil
}

// TrendOptions configures Trend.
type TrendOptions struct {
	Cut float64
	// Prequential makes an incremental model learn each day's rows after
	// that day has been scored.
	Prequential bool
	// OnDay is called after each day is scored.
	OnDay func(DailyScore)
}

// Trend scores each day of the table in order.
func (e *Evaluator) Trend(ctx context.Context, opts TrendOptions) ([]DailyScore, error) {
	var learner ml.IncrementalClassifier
	if opts.Prequential {
		inc, ok := e.model.(ml.IncrementalClassifier)
		if !ok {
			return nil, fmt.Errorf("prequential trend needs an incremental model, got %s", e.model.Kind())
		}
		learner = inc
	}

	days := e.table.Dates()
	out := make([]DailyScore, 0, len(days))
	for _, day := range days {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		probs, labels, err := e.PredictProbaTrueClassByDate(day)
		if err != nil {
			return out, fmt.Errorf("predict %s: %w", day.Format(dataset.DateLayout), err)
		}
		score, err := ScoreDailySubset(probs, labels, opts.Cut)
		if err != nil {
			return out, fmt.Errorf("score %s: %w", day.Format(dataset.DateLayout), err)
		}

		ds := DailyScore{Date: day.Format(dataset.DateLayout), Score: score, Failed: countNaN(probs)}
		out = append(out, ds)

		log.Debug().
			Str("date", ds.Date).
			Float64("accuracy", float64(score.Accuracy)).
			Float64("recall", float64(score.Recall)).
			Float64("f1", float64(score.F1)).
			Int("rows", score.Rows).
			Msg("Scored day")

		if opts.OnDay != nil {
			opts.OnDay(ds)
		}

		if learner != nil {
			if err := e.learnDay(learner, day); err != nil {
				return out, err
			}
		}
	}
	return out, nil
}

func (e *Evaluator) learnDay(learner ml.IncrementalClassifier, day time.Time) error {
	features, labels, err := e.table.SubByDate(day).PopLabel(e.labelColumn)
	if err != nil {
		return err
	}
	skipped := 0
	for i, row := range features.Rows() {
		if err := learner.LearnOne(row, labels[i]); err != nil {
			skipped++
		}
	}
	if skipped > 0 {
		log.Warn().Str("date", day.Format(dataset.DateLayout)).Int("skipped", skipped).Msg("Rows skipped while learning")
	}
	return nil
}

func countNaN(v []float64) int {
	n := 0
	for _, x := range v {
		if math.IsNaN(x) {
			n++
		}
	}
	return n
}

// Summary averages daily scores over the days where each figure is defined.
type Summary struct {
	Days              int   `json:"days"`
	Accuracy          Float `json:"accuracy"`
	Recall            Float `json:"recall"`
	RecallUncertainty Float `json:"recall_uncertainty"`
	F1                Float `json:"f1"`
	Rows              int   `json:"rows"`
	Failed            int   `json:"failed_rows"`
}

// Summarize returns the mean of each figure across days.
func Summarize(days []DailyScore) Summary {
	var acc, rec, unc, f1 []float64
	s := Summary{Days: len(days)}
	for _, d := range days {
		acc = appendDefined(acc, d.Accuracy)
		rec = appendDefined(rec, d.Recall)
		unc = appendDefined(unc, d.RecallUncertainty)
		f1 = appendDefined(f1, d.F1)
		s.Rows += d.Rows
		s.Failed += d.Failed
	}
	s.Accuracy = meanOrNaN(acc)
	s.Recall = meanOrNaN(rec)
	s.RecallUncertainty = meanOrNaN(unc)
	s.F1 = meanOrNaN(f1)
	return s
}

func appendDefined(v []float64, f Float) []float64 {
	if f.Defined() {
		return append(v, float64(f))
	}
	return v
}

func meanOrNaN(v []float64) Float {
	if len(v) == 0 {
		return Float(math.NaN())
	}
	return Float(stat.Mean(v, nil))
}
