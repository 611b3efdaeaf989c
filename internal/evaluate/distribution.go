package evaluate

import (
	"fmt"
	"math"

	"github.com/caio/go-tdigest/v4"
)

// DistributionBins is the number of equal-width histogram bins over [0,1].
const DistributionBins = 10

// ClassDistribution summarises the predicted probabilities of rows of one true class.
type ClassDistribution struct {
	Count     uint64                `json:"count"`
	Mean      Float                 `json:"mean"`
	Quantiles map[string]Float      `json:"quantiles"`
	Histogram [DistributionBins]int `json:"histogram"`
}

// ProbaDistribution tracks how predicted probabilities are spread for jam
// and no-jam rows. A well separated model pushes the two apart.
type ProbaDistribution struct {
	digests [2]*tdigest.TDigest
	hist    [2][DistributionBins]int
}

// NewProbaDistribution returns an empty distribution.
func NewProbaDistribution() (*ProbaDistribution, error) {
	d := &ProbaDistribution{}
	for c := range d.digests {
		td, err := tdigest.New()
		if err != nil {
			return nil, fmt.Errorf("create digest: %w", err)
		}
		d.digests[c] = td
	}
	return d, nil
}

// Add records probabilities with their true labels. NaN probabilities are ignored.
func (d *ProbaDistribution) Add(probabilities []float64, labels []int) error {
	if len(probabilities) != len(labels) {
		return fmt.Errorf("%w: %d != %d", ErrLengthMismatch, len(probabilities), len(labels))
	}
	for i, p := range probabilities {
		if math.IsNaN(p) {
			continue
		}
		c := labels[i]
		if c != 0 && c != 1 {
			return fmt.Errorf("label %d at row %d is not binary", c, i)
		}
		if err := d.digests[c].Add(p); err != nil {
			return err
		}
		d.hist[c][bin(p)]++
	}
	return nil
}

func bin(p float64) int {
	b := int(p * DistributionBins)
	return max(0, min(b, DistributionBins-1))
}

// Class returns the summary for label 0 or 1.
func (d *ProbaDistribution) Class(label int) ClassDistribution {
	td := d.digests[label]
	cd := ClassDistribution{
		Count:     td.Count(),
		Histogram: d.hist[label],
		Quantiles: make(map[string]Float, 5),
	}
	if cd.Count == 0 {
		cd.Mean = Float(math.NaN())
		return cd
	}
	cd.Mean = Float(td.TrimmedMean(0, 1))
	for _, q := range []float64{0.05, 0.25, 0.5, 0.75, 0.95} {
		cd.Quantiles[fmt.Sprintf("p%02.0f", q*100)] = Float(td.Quantile(q))
	}
	return cd
}

// Separation is the gap between the median probability of jam rows and that
// of no-jam rows; NaN until both classes have data.
func (d *ProbaDistribution) Separation() float64 {
	if d.digests[0].Count() == 0 || d.digests[1].Count() == 0 {
		return math.NaN()
	}
	return d.digests[1].Quantile(0.5) - d.digests[0].Quantile(0.5)
}
