package ml

import (
	"fmt"
	"math"

	"jamwatch/internal/dataset"
)

// RowResult is the outcome of predicting one row: a probability or an error.
type RowResult struct {
	Proba float64
	Err   error
}

// OK reports whether the row was predicted.
func (r RowResult) OK() bool { return r.Err == nil }

// BatchResult holds one RowResult per input row, in input order.
type BatchResult struct {
	Rows []RowResult
}

// PredictProba predicts every row independently. A failure on one row,
// including a panic inside the model, is recorded for that row only.
func PredictProba(m Model, rows []dataset.Row) BatchResult {
	out := BatchResult{Rows: make([]RowResult, len(rows))}
	for i, row := range rows {
		out.Rows[i] = predictRow(m, row)
	}
	return out
}

func predictRow(m Model, row dataset.Row) (res RowResult) {
	defer func() {
		if r := recover(); r != nil {
			res = RowResult{Err: fmt.Errorf("predict panicked: %v", r)}
		}
	}()

	p, err := m.PredictProbaOne(row)
	if err != nil {
		return RowResult{Err: err}
	}
	if math.IsNaN(p) {
		return RowResult{Err: fmt.Errorf("model returned NaN")}
	}
	return RowResult{Proba: p}
}

// Len returns the number of rows.
func (b BatchResult) Len() int { return len(b.Rows) }

// Succeeded returns the number of predicted rows.
func (b BatchResult) Succeeded() int {
	n := 0
	for _, r := range b.Rows {
		if r.OK() {
			n++
		}
	}
	return n
}

// Failures maps row index to error for rows that could not be predicted.
func (b BatchResult) Failures() map[int]error {
	failed := make(map[int]error)
	for i, r := range b.Rows {
		if !r.OK() {
			failed[i] = r.Err
		}
	}
	return failed
}

// Probabilities returns one entry per row; failed rows are nil.
func (b BatchResult) Probabilities() []*float64 {
	out := make([]*float64, len(b.Rows))
	for i, r := range b.Rows {
		if r.OK() {
			p := r.Proba
			out[i] = &p
		}
	}
	return out
}

// ProbabilitiesOrNaN returns one probability per row with NaN for failures.
func (b BatchResult) ProbabilitiesOrNaN() []float64 {
	out := make([]float64, len(b.Rows))
	for i, r := range b.Rows {
		if r.OK() {
			out[i] = r.Proba
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// Labels applies threshold to each predicted row; failed rows are nil.
func (b BatchResult) Labels(threshold float64) []*int {
	out := make([]*int, len(b.Rows))
	for i, r := range b.Rows {
		if !r.OK() {
			continue
		}
		l := 0
		if r.Proba >= threshold {
			l = 1
		}
		out[i] = &l
	}
	return out
}
