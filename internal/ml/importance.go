package ml

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"jamwatch/internal/dataset"
)

// FeatureScore is an importance score for one feature.
type FeatureScore struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

func sortScores(scores []FeatureScore) {
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })
}

// TopFeatures returns the names of the n highest scores.
func TopFeatures(scores []FeatureScore, n int) []string {
	sorted := make([]FeatureScore, len(scores))
	copy(sorted, scores)
	sortScores(sorted)
	if n > len(sorted) {
		n = len(sorted)
	}
	names := make([]string, n)
	for i := 0; i < n; i++ {
		names[i] = sorted[i].Name
	}
	return names
}

// PermutationConfig configures PermutationImportance.
type PermutationConfig struct {
	Repeats   int
	Threshold float64
	Seed      uint64
}

// PermutationImportance measures, for each model feature, the drop in
// accuracy when that feature's values are shuffled across rows. Rows the
// model cannot predict count as misclassified.
func PermutationImportance(m Model, rows []dataset.Row, labels []int, cfg PermutationConfig) ([]FeatureScore, error) {
	if len(rows) != len(labels) {
		return nil, fmt.Errorf("rows and labels size mismatch: %d != %d", len(rows), len(labels))
	}
	if len(rows) == 0 {
		return nil, ErrNoTrainingRows
	}
	if cfg.Repeats <= 0 {
		cfg.Repeats = 1
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, 7))
	base := accuracyOf(m, rows, labels, cfg.Threshold)

	features := m.Features()
	scores := make([]FeatureScore, len(features))
	permuted := make([]dataset.Row, len(rows))
	for fi, name := range features {
		drop := 0.0
		for rep := 0; rep < cfg.Repeats; rep++ {
			perm := rng.Perm(len(rows))
			for i, row := range rows {
				vals := make(map[string]float64, len(row.Values))
				for k, v := range row.Values {
					vals[k] = v
				}
				if v, ok := rows[perm[i]].Values[name]; ok {
					vals[name] = v
				}
				permuted[i] = dataset.Row{Time: row.Time, Values: vals}
			}
			drop += base - accuracyOf(m, permuted, labels, cfg.Threshold)
		}
		scores[fi] = FeatureScore{Name: name, Score: drop / float64(cfg.Repeats)}
	}

	sortScores(scores)
	return scores, nil
}

func accuracyOf(m Model, rows []dataset.Row, labels []int, threshold float64) float64 {
	res := PredictProba(m, rows)
	correct := 0
	for i, l := range res.Labels(threshold) {
		if l != nil && *l == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(rows))
}
