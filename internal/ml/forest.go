package ml

import (
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"jamwatch/internal/dataset"
)

// ForestConfig configures RandomForest training.
type ForestConfig struct {
	NTrees          int    `json:"n_trees" yaml:"nTrees"`
	MaxDepth        int    `json:"max_depth" yaml:"maxDepth"`
	MinSamplesSplit int    `json:"min_samples_split" yaml:"minSamplesSplit"`
	MinSamplesLeaf  int    `json:"min_samples_leaf" yaml:"minSamplesLeaf"`
	MaxFeatures     int    `json:"max_features" yaml:"maxFeatures"` // 0 means sqrt(features)
	Workers         int    `json:"-" yaml:"workers"`
	Seed            uint64 `json:"seed" yaml:"seed"`
}

// DefaultForestConfig mirrors the settings used for the production batch model.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		NTrees:          100,
		MaxDepth:        20,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		Seed:            42,
	}
}

func (c ForestConfig) withDefaults() ForestConfig {
	d := DefaultForestConfig()
	if c.NTrees <= 0 {
		c.NTrees = d.NTrees
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = d.MaxDepth
	}
	if c.MinSamplesSplit < 2 {
		c.MinSamplesSplit = d.MinSamplesSplit
	}
	if c.MinSamplesLeaf < 1 {
		c.MinSamplesLeaf = d.MinSamplesLeaf
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	return c
}

// TreeNode is one node of a flattened CART tree. Leaves carry the share of
// positive training samples that reached them.
type TreeNode struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Proba     float64 `json:"proba"`
	Samples   int     `json:"samples"`
	Leaf      bool    `json:"leaf"`
}

// Tree is a flattened CART tree; node 0 is the root.
type Tree struct {
	Nodes []TreeNode `json:"nodes"`
}

func (t Tree) predict(x []float64) (float64, error) {
	if len(t.Nodes) == 0 {
		return 0, ErrNotFitted
	}
	idx := 0
	for {
		node := t.Nodes[idx]
		if node.Leaf {
			return node.Proba, nil
		}
		if node.Feature < 0 || node.Feature >= len(x) {
			return 0, fmt.Errorf("feature index %d out of range", node.Feature)
		}
		if x[node.Feature] <= node.Threshold {
			idx = node.Left
		} else {
			idx = node.Right
		}
		if idx <= 0 || idx >= len(t.Nodes) {
			return 0, fmt.Errorf("invalid tree state at node %d", idx)
		}
	}
}

// RandomForest is a bagged ensemble of gini CART trees.
type RandomForest struct {
	name       string
	features   []string
	config     ForestConfig
	trees      []Tree
	importance []float64
}

// NewRandomForest returns an unfitted forest over the given features.
func NewRandomForest(name string, features []string, config ForestConfig) *RandomForest {
	fs := make([]string, len(features))
	copy(fs, features)
	return &RandomForest{
		name:     name,
		features: fs,
		config:   config.withDefaults(),
	}
}

func (f *RandomForest) Kind() Kind   { return KindBatch }
func (f *RandomForest) Name() string { return f.name }

func (f *RandomForest) Features() []string {
	fs := make([]string, len(f.features))
	copy(fs, f.features)
	return fs
}

// Config returns the training configuration.
func (f *RandomForest) Config() ForestConfig { return f.config }

// PredictProbaOne averages the leaf probabilities of every tree.
func (f *RandomForest) PredictProbaOne(row dataset.Row) (float64, error) {
	if len(f.trees) == 0 {
		return 0, ErrNotFitted
	}
	x, err := vectorize(f.features, row)
	if err != nil {
		return 0, err
	}

	sum := 0.0
	for i := range f.trees {
		p, err := f.trees[i].predict(x)
		if err != nil {
			return 0, fmt.Errorf("tree %d: %w", i, err)
		}
		sum += p
	}
	return sum / float64(len(f.trees)), nil
}

// Fit trains the forest, replacing any previous trees. Rows missing a feature
// are skipped.
func (f *RandomForest) Fit(rows []dataset.Row, labels []int) error {
	if len(rows) != len(labels) {
		return fmt.Errorf("rows and labels size mismatch: %d != %d", len(rows), len(labels))
	}

	X := make([][]float64, 0, len(rows))
	y := make([]int, 0, len(labels))
	skipped := 0
	for i, row := range rows {
		x, err := vectorize(f.features, row)
		if err != nil {
			skipped++
			continue
		}
		X = append(X, x)
		y = append(y, labels[i])
	}
	if len(X) == 0 {
		return ErrNoTrainingRows
	}

	start := time.Now()
	cfg := f.config
	trees := make([]Tree, cfg.NTrees)
	importances := make([][]float64, cfg.NTrees)

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < min(cfg.Workers, cfg.NTrees); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				rng := rand.New(rand.NewPCG(cfg.Seed, uint64(i)+1))
				b := &treeBuilder{X: X, y: y, cfg: cfg, rng: rng, importance: make([]float64, len(f.features))}
				b.grow(bootstrap(len(X), rng), 0)
				trees[i] = Tree{Nodes: b.nodes}
				importances[i] = normalize(b.importance)
			}
		}()
	}
	for i := 0; i < cfg.NTrees; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	f.trees = trees
	f.importance = make([]float64, len(f.features))
	for _, imp := range importances {
		for j, v := range imp {
			f.importance[j] += v / float64(cfg.NTrees)
		}
	}

	log.Info().
		Str("model", f.name).
		Int("rows", len(X)).
		Int("skipped", skipped).
		Int("trees", cfg.NTrees).
		Dur("took", time.Since(start)).
		Msg("random forest trained")
	return nil
}

// FeatureImportances returns the mean decrease in gini impurity per feature,
// most important first.
func (f *RandomForest) FeatureImportances() []FeatureScore {
	scores := make([]FeatureScore, len(f.features))
	for i, name := range f.features {
		v := 0.0
		if i < len(f.importance) {
			v = f.importance[i]
		}
		scores[i] = FeatureScore{Name: name, Score: v}
	}
	sortScores(scores)
	return scores
}

func bootstrap(n int, rng *rand.Rand) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = rng.IntN(n)
	}
	return idx
}

func normalize(v []float64) []float64 {
	total := 0.0
	for _, x := range v {
		total += x
	}
	out := make([]float64, len(v))
	if total == 0 {
		return out
	}
	for i, x := range v {
		out[i] = x / total
	}
	return out
}

func gini(pos, n float64) float64 {
	if n == 0 {
		return 0
	}
	q := pos / n
	return 2 * q * (1 - q)
}

type treeBuilder struct {
	X          [][]float64
	y          []int
	cfg        ForestConfig
	rng        *rand.Rand
	nodes      []TreeNode
	importance []float64
}

type split struct {
	feature   int
	threshold float64
	impurity  float64 // weighted child impurity, n_left*g_left + n_right*g_right
	ok        bool
}

// grow appends the subtree for idx and returns its node index.
func (b *treeBuilder) grow(idx []int, depth int) int {
	pos := 0
	for _, i := range idx {
		pos += b.y[i]
	}
	n := len(idx)

	self := len(b.nodes)
	b.nodes = append(b.nodes, TreeNode{
		Leaf:    true,
		Proba:   float64(pos) / float64(n),
		Samples: n,
	})

	if depth >= b.cfg.MaxDepth || n < b.cfg.MinSamplesSplit || pos == 0 || pos == n {
		return self
	}

	best := b.bestSplit(idx, pos)
	if !best.ok {
		return self
	}

	var left, right []int
	for _, i := range idx {
		if b.X[i][best.feature] <= best.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	b.importance[best.feature] += float64(n)*gini(float64(pos), float64(n)) - best.impurity

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[self] = TreeNode{
		Feature:   best.feature,
		Threshold: best.threshold,
		Left:      l,
		Right:     r,
		Proba:     float64(pos) / float64(n),
		Samples:   n,
	}
	return self
}

func (b *treeBuilder) bestSplit(idx []int, pos int) split {
	m := len(b.X[0])
	mtry := b.cfg.MaxFeatures
	if mtry <= 0 || mtry > m {
		mtry = max(1, int(math.Sqrt(float64(m))))
	}

	parent := float64(len(idx)) * gini(float64(pos), float64(len(idx)))
	best := split{impurity: parent}

	sorted := make([]int, len(idx))
	for _, feature := range b.rng.Perm(m)[:mtry] {
		copy(sorted, idx)
		sort.Slice(sorted, func(i, j int) bool { return b.X[sorted[i]][feature] < b.X[sorted[j]][feature] })

		n := len(sorted)
		leftPos := 0
		for k := 0; k < n-1; k++ {
			leftPos += b.y[sorted[k]]
			nl := k + 1
			nr := n - nl
			cur, next := b.X[sorted[k]][feature], b.X[sorted[k+1]][feature]
			if cur == next {
				continue
			}
			if nl < b.cfg.MinSamplesLeaf || nr < b.cfg.MinSamplesLeaf {
				continue
			}
			imp := float64(nl)*gini(float64(leftPos), float64(nl)) +
				float64(nr)*gini(float64(pos-leftPos), float64(nr))
			if imp < best.impurity {
				threshold := (cur + next) / 2
				if threshold >= next {
					threshold = cur
				}
				best = split{feature: feature, threshold: threshold, impurity: imp, ok: true}
			}
		}
	}
	return best
}
