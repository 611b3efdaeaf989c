package ml

import (
	"math/rand/v2"
	"testing"
	"time"

	"jamwatch/internal/dataset"
)

var testFeatures = []string{"Occupancy", "VehicleCount"}

// jamRows returns rows whose label is 1 exactly when Occupancy > 0.5.
// VehicleCount is noise.
func jamRows(n int, seed uint64) ([]dataset.Row, []int) {
	rng := rand.New(rand.NewPCG(seed, 1))
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := make([]dataset.Row, n)
	labels := make([]int, n)
	for i := range rows {
		occ := rng.Float64()
		rows[i] = dataset.Row{
			Time: start.Add(time.Duration(i) * 5 * time.Minute),
			Values: map[string]float64{
				"Occupancy":    occ,
				"VehicleCount": rng.Float64() * 100,
			},
		}
		if occ > 0.5 {
			labels[i] = 1
		}
	}
	return rows, labels
}

func accuracy(m Model, rows []dataset.Row, labels []int) float64 {
	return accuracyOf(m, rows, labels, 0.5)
}

func fittedForest(t testing.TB) *RandomForest {
	t.Helper()
	rows, labels := jamRows(400, 1)
	f := NewRandomForest("rf", testFeatures, ForestConfig{NTrees: 10, MaxDepth: 6, Seed: 7})
	if err := f.Fit(rows, labels); err != nil {
		t.Fatalf("fit: %v", err)
	}
	return f
}

// stubModel returns fixed results per row index, keyed by the "i" feature.
type stubModel struct {
	probas map[int]float64
	fail   map[int]error
	panics map[int]bool
}

func (s *stubModel) Kind() Kind         { return KindBatch }
func (s *stubModel) Name() string       { return "stub" }
func (s *stubModel) Features() []string { return []string{"i"} }

func (s *stubModel) PredictProbaOne(row dataset.Row) (float64, error) {
	v, ok := row.Get("i")
	if !ok {
		return 0, ErrMissingFeature
	}
	i := int(v)
	if s.panics[i] {
		panic("boom")
	}
	if err := s.fail[i]; err != nil {
		return 0, err
	}
	return s.probas[i], nil
}

func indexRows(n int) []dataset.Row {
	rows := make([]dataset.Row, n)
	for i := range rows {
		rows[i] = dataset.Row{Values: map[string]float64{"i": float64(i)}}
	}
	return rows
}
