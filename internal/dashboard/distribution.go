package dashboard

import (
	"math"
	"sync"

	"github.com/rs/zerolog/log"

	"jamwatch/internal/evaluate"
)

// Distribution accumulates the predicted probabilities of validated rows by
// true class. It is safe for concurrent use.
type Distribution struct {
	mu sync.Mutex
	pd *evaluate.ProbaDistribution
}

// DistributionSummary is the body of the distribution endpoint.
type DistributionSummary struct {
	Positive   evaluate.ClassDistribution `json:"positive"`
	Negative   evaluate.ClassDistribution `json:"negative"`
	Separation evaluate.Float             `json:"separation"`
}

func NewDistribution() (*Distribution, error) {
	pd, err := evaluate.NewProbaDistribution()
	if err != nil {
		return nil, err
	}
	return &Distribution{pd: pd}, nil
}

// ObserveValidation adds one validated batch.
func (d *Distribution) ObserveValidation(probabilities []float64, labels []int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.pd.Add(probabilities, labels); err != nil {
		log.Warn().Err(err).Msg("Failed to record probability distribution")
	}
}

func (d *Distribution) Summary() DistributionSummary {
	d.mu.Lock()
	defer d.mu.Unlock()
	sep := d.pd.Separation()
	if math.IsInf(sep, 0) {
		sep = math.NaN()
	}
	return DistributionSummary{
		Positive:   d.pd.Class(1),
		Negative:   d.pd.Class(0),
		Separation: evaluate.Float(sep),
	}
}
