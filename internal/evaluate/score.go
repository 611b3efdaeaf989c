// Package evaluate scores traffic-jam classifiers per day and tracks how the
// scores move over a test period.
package evaluate

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrLengthMismatch is returned when probabilities and labels differ in length.
	ErrLengthMismatch = errors.New("probabilities and labels differ in length")
	// ErrEmptySubset is returned when there is nothing to score.
	ErrEmptySubset = errors.New("empty subset")
)

// Float is a float64 that marshals NaN and ±Inf as JSON null.
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

func (f *Float) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = Float(math.NaN())
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

// Defined reports whether f holds a number.
func (f Float) Defined() bool {
	return !math.IsNaN(float64(f)) && !math.IsInf(float64(f), 0)
}

// Score is the result of scoring one subset.
type Score struct {
	Accuracy          Float `json:"accuracy"`
	Recall            Float `json:"recall"`
	RecallUncertainty Float `json:"recall_uncertainty"`
	F1                Float `json:"f1"`
	Positives         int   `json:"positives"`
	Rows              int   `json:"rows"`
}

// confusion counts per class. Rows with no prediction land in missed.
type confusion struct {
	tp, fp, tn, fn int
	missed         [2]int
}

func binarize(probabilities []float64, labels []int, cut float64) (confusion, error) {
	var c confusion
	if len(probabilities) != len(labels) {
		return c, fmt.Errorf("%w: %d != %d", ErrLengthMismatch, len(probabilities), len(labels))
	}
	if len(labels) == 0 {
		return c, ErrEmptySubset
	}

	for i, p := range probabilities {
		y := labels[i]
		if y != 0 && y != 1 {
			return confusion{}, fmt.Errorf("label %d at row %d is not binary", y, i)
		}
		if math.IsNaN(p) {
			c.missed[y]++
			continue
		}
		pred := 0
		if p >= cut {
			pred = 1
		}
		switch {
		case y == 1 && pred == 1:
			c.tp++
		case y == 1:
			c.fn++
		case pred == 1:
			c.fp++
		default:
			c.tn++
		}
	}
	return c, nil
}

func (c confusion) rows() int      { return c.tp + c.fp + c.tn + c.fn + c.missed[0] + c.missed[1] }
func (c confusion) positives() int { return c.tp + c.fn + c.missed[1] }
func (c confusion) negatives() int { return c.tn + c.fp + c.missed[0] }

func (c confusion) accuracy() float64 {
	return float64(c.tp+c.tn) / float64(c.rows())
}

// recall of the positive class; NaN without positives. A missed positive is
// not a true positive.
func (c confusion) recall() float64 {
	pos := c.positives()
	if pos == 0 {
		return math.NaN()
	}
	return float64(c.tp) / float64(pos)
}

// classF1 is the F1 of one class. Predictions of the other class count as
// that class's false positives; missed rows of the class count as false negatives.
func (c confusion) classF1(class int) float64 {
	var tp, fp, support int
	if class == 1 {
		tp, fp, support = c.tp, c.fp, c.positives()
	} else {
		tp, fp, support = c.tn, c.fn, c.negatives()
	}
	denom := 2*tp + fp + (support - tp)
	if denom == 0 {
		return 0
	}
	return float64(2*tp) / float64(denom)
}

// ScoreDailySubset binarizes probabilities at cut and returns accuracy,
// positive-class recall with its binomial standard error, and the
// support-weighted F1 of both classes. A NaN probability is a failed
// prediction and counts as wrong. Recall and its uncertainty are NaN when the
// subset has no positive labels.
func ScoreDailySubset(probabilities []float64, labels []int, cut float64) (Score, error) {
	c, err := binarize(probabilities, labels, cut)
	if err != nil {
		return Score{}, err
	}

	recall := c.recall()
	pos := c.positives()
	uncertainty := math.NaN()
	if pos > 0 {
		uncertainty = math.Sqrt(recall * (1 - recall) / float64(pos))
	}

	n := float64(c.rows())
	weighted := (float64(pos)*c.classF1(1) + float64(c.negatives())*c.classF1(0)) / n

	return Score{
		Accuracy:          Float(c.accuracy()),
		Recall:            Float(recall),
		RecallUncertainty: Float(uncertainty),
		F1:                Float(weighted),
		Positives:         pos,
		Rows:              c.rows(),
	}, nil
}

// BinaryF1 returns the F1 of the positive class only. It is 0 when there are
// neither positive labels nor positive predictions.
func BinaryF1(probabilities []float64, labels []int, cut float64) (float64, error) {
	c, err := binarize(probabilities, labels, cut)
	if err != nil {
		return 0, err
	}
	return c.classF1(1), nil
}
