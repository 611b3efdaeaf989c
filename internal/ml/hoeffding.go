package ml

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"gonum.org/v1/gonum/stat/distuv"

	"jamwatch/internal/dataset"
)

// HoeffdingConfig configures HoeffdingForest.
type HoeffdingConfig struct {
	NModels      int     `json:"n_models" yaml:"nModels"`
	MaxDepth     int     `json:"max_depth" yaml:"maxDepth"`
	GracePeriod  int     `json:"grace_period" yaml:"gracePeriod"`
	Delta        float64 `json:"delta" yaml:"delta"`
	Tau          float64 `json:"tau" yaml:"tau"`
	Lambda       float64 `json:"lambda" yaml:"lambda"`
	SubspaceSize int     `json:"subspace_size" yaml:"subspaceSize"` // 0 means sqrt(features)
	SplitPoints  int     `json:"split_points" yaml:"splitPoints"`
	Seed         uint64  `json:"seed" yaml:"seed"`
}

// DefaultHoeffdingConfig returns the online forest defaults.
func DefaultHoeffdingConfig() HoeffdingConfig {
	return HoeffdingConfig{
		NModels:     10,
		MaxDepth:    20,
		GracePeriod: 200,
		Delta:       1e-7,
		Tau:         0.05,
		Lambda:      6,
		SplitPoints: 10,
		Seed:        42,
	}
}

func (c HoeffdingConfig) withDefaults() HoeffdingConfig {
	d := DefaultHoeffdingConfig()
	if c.NModels <= 0 {
		c.NModels = d.NModels
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = d.MaxDepth
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = d.GracePeriod
	}
	if c.Delta <= 0 || c.Delta >= 1 {
		c.Delta = d.Delta
	}
	if c.Tau <= 0 {
		c.Tau = d.Tau
	}
	if c.Lambda <= 0 {
		c.Lambda = d.Lambda
	}
	if c.SplitPoints <= 0 {
		c.SplitPoints = d.SplitPoints
	}
	return c
}

// GaussianStats accumulates a weighted mean and variance.
type GaussianStats struct {
	N    float64 `json:"n"`
	Mean float64 `json:"mean"`
	M2   float64 `json:"m2"`
}

// Add folds x with weight w into the running statistics.
func (g *GaussianStats) Add(x, w float64) {
	if w <= 0 {
		return
	}
	if g.N == 0 {
		g.N, g.Mean, g.M2 = w, x, 0
		return
	}
	g.N += w
	delta := x - g.Mean
	g.Mean += w * delta / g.N
	g.M2 += w * delta * (x - g.Mean)
}

// Std returns the sample standard deviation.
func (g GaussianStats) Std() float64 {
	if g.N <= 1 {
		return 0
	}
	return math.Sqrt(g.M2 / (g.N - 1))
}

// MassBelow estimates the weight of observations <= x under a normal fit.
func (g GaussianStats) MassBelow(x float64) float64 {
	if g.N == 0 {
		return 0
	}
	sd := g.Std()
	if sd < 1e-12 {
		if g.Mean <= x {
			return g.N
		}
		return 0
	}
	return g.N * distuv.Normal{Mu: g.Mean, Sigma: sd}.CDF(x)
}

// AttributeObserver keeps per-class Gaussian statistics for one feature at a leaf.
type AttributeObserver struct {
	Class [2]GaussianStats `json:"class"`
	Min   float64          `json:"min"`
	Max   float64          `json:"max"`
	Seen  bool             `json:"seen"`
}

func (o *AttributeObserver) add(x float64, label int, w float64) {
	if !o.Seen {
		o.Min, o.Max, o.Seen = x, x, true
	}
	o.Min = math.Min(o.Min, x)
	o.Max = math.Max(o.Max, x)
	o.Class[label].Add(x, w)
}

// HNode is a node of a Hoeffding tree. Leaves carry class weights and the
// observers of their feature subspace.
type HNode struct {
	Leaf      bool                       `json:"leaf"`
	Feature   int                        `json:"feature"`
	Threshold float64                    `json:"threshold"`
	Left      int                        `json:"left"`
	Right     int                        `json:"right"`
	Depth     int                        `json:"depth"`
	Counts    [2]float64                 `json:"counts"`
	Observers map[int]*AttributeObserver `json:"observers,omitempty"`
	LastEval  float64                    `json:"last_eval"`
}

func (n *HNode) weight() float64 { return n.Counts[0] + n.Counts[1] }

// HTree is a flattened Hoeffding tree; node 0 is the root.
type HTree struct {
	Nodes []HNode `json:"nodes"`
}

func (t *HTree) leafFor(x []float64) int {
	idx := 0
	for !t.Nodes[idx].Leaf {
		n := t.Nodes[idx]
		if x[n.Feature] <= n.Threshold {
			idx = n.Left
		} else {
			idx = n.Right
		}
	}
	return idx
}

func (t *HTree) predict(x []float64) (float64, bool) {
	leaf := t.Nodes[t.leafFor(x)]
	w := leaf.weight()
	if w == 0 {
		return 0, false
	}
	return leaf.Counts[1] / w, true
}

type candidate struct {
	feature     int
	threshold   float64
	merit       float64
	left, right [2]float64
}

// HoeffdingForest is an online random forest: each tree is a Hoeffding tree
// over random feature subspaces, trained with Poisson(Lambda) online bagging.
type HoeffdingForest struct {
	mu       sync.RWMutex
	name     string
	features []string
	config   HoeffdingConfig
	trees    []HTree
	seen     int64
	rng      *rand.Rand
	poisson  distuv.Poisson
}

// NewHoeffdingForest returns an empty forest over the given features.
func NewHoeffdingForest(name string, features []string, config HoeffdingConfig) *HoeffdingForest {
	fs := make([]string, len(features))
	copy(fs, features)
	f := &HoeffdingForest{
		name:     name,
		features: fs,
		config:   config.withDefaults(),
	}
	f.seed(0)
	f.trees = make([]HTree, f.config.NModels)
	for i := range f.trees {
		f.trees[i] = HTree{Nodes: []HNode{f.newLeaf(0, [2]float64{})}}
	}
	return f
}

func (f *HoeffdingForest) seed(stream uint64) {
	src := rand.NewPCG(f.config.Seed, stream+0x9e3779b97f4a7c15)
	f.rng = rand.New(src)
	f.poisson = distuv.Poisson{Lambda: f.config.Lambda, Src: src}
}

func (f *HoeffdingForest) subspaceSize() int {
	k := f.config.SubspaceSize
	m := len(f.features)
	if k <= 0 || k > m {
		k = max(1, int(math.Round(math.Sqrt(float64(m)))))
	}
	return k
}

func (f *HoeffdingForest) newLeaf(depth int, counts [2]float64) HNode {
	obs := make(map[int]*AttributeObserver)
	if len(f.features) > 0 {
		for _, feat := range f.rng.Perm(len(f.features))[:f.subspaceSize()] {
			obs[feat] = &AttributeObserver{}
		}
	}
	return HNode{
		Leaf:      true,
		Depth:     depth,
		Counts:    counts,
		Observers: obs,
		LastEval:  counts[0] + counts[1],
	}
}

func (f *HoeffdingForest) Kind() Kind   { return KindIncremental }
func (f *HoeffdingForest) Name() string { return f.name }

func (f *HoeffdingForest) Features() []string {
	fs := make([]string, len(f.features))
	copy(fs, f.features)
	return fs
}

// Config returns the forest configuration.
func (f *HoeffdingForest) Config() HoeffdingConfig { return f.config }

// Seen returns the number of rows learned.
func (f *HoeffdingForest) Seen() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.seen
}

// PredictProbaOne averages the leaf class proportions of every tree that
// has seen data.
func (f *HoeffdingForest) PredictProbaOne(row dataset.Row) (float64, error) {
	x, err := vectorize(f.features, row)
	if err != nil {
		return 0, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	sum, n := 0.0, 0
	for i := range f.trees {
		if p, ok := f.trees[i].predict(x); ok {
			sum += p
			n++
		}
	}
	if n == 0 {
		return 0, ErrNotFitted
	}
	return sum / float64(n), nil
}

// LearnOne updates every tree with the row, weighted by a Poisson draw.
func (f *HoeffdingForest) LearnOne(row dataset.Row, label int) error {
	if label != 0 && label != 1 {
		return fmt.Errorf("label must be 0 or 1, got %d", label)
	}
	x, err := vectorize(f.features, row)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.trees {
		k := f.poisson.Rand()
		if k == 0 {
			continue
		}
		f.learnTree(&f.trees[i], x, label, k)
	}
	f.seen++
	return nil
}

func (f *HoeffdingForest) learnTree(t *HTree, x []float64, label int, w float64) {
	idx := t.leafFor(x)
	leaf := &t.Nodes[idx]

	leaf.Counts[label] += w
	for feat, obs := range leaf.Observers {
		obs.add(x[feat], label, w)
	}

	total := leaf.weight()
	if total-leaf.LastEval < float64(f.config.GracePeriod) {
		return
	}
	leaf.LastEval = total
	if leaf.Depth >= f.config.MaxDepth || leaf.Counts[0] == 0 || leaf.Counts[1] == 0 {
		return
	}

	best, second := f.bestCandidates(leaf)
	if best.merit <= 0 {
		return
	}

	eps := hoeffdingBound(1, f.config.Delta, total)
	if best.merit-second.merit <= eps && eps >= f.config.Tau {
		return
	}

	depth := leaf.Depth
	left := f.newLeaf(depth+1, best.left)
	right := f.newLeaf(depth+1, best.right)
	t.Nodes = append(t.Nodes, left, right)

	// leaf may be stale after append
	node := &t.Nodes[idx]
	node.Leaf = false
	node.Feature = best.feature
	node.Threshold = best.threshold
	node.Left = len(t.Nodes) - 2
	node.Right = len(t.Nodes) - 1
	node.Observers = nil
}

// bestCandidates returns the best split and the best split on a different
// feature; the null split (merit 0) is the floor for both.
func (f *HoeffdingForest) bestCandidates(leaf *HNode) (candidate, candidate) {
	parent := gini(leaf.Counts[1], leaf.weight())
	var best, second candidate

	for feat, obs := range leaf.Observers {
		if !obs.Seen || obs.Max <= obs.Min {
			continue
		}
		featBest := candidate{}
		for k := 1; k <= f.config.SplitPoints; k++ {
			thr := obs.Min + (obs.Max-obs.Min)*float64(k)/float64(f.config.SplitPoints+1)
			var l, r [2]float64
			for c := 0; c < 2; c++ {
				l[c] = obs.Class[c].MassBelow(thr)
				r[c] = obs.Class[c].N - l[c]
			}
			nl, nr := l[0]+l[1], r[0]+r[1]
			n := nl + nr
			if nl <= 0 || nr <= 0 {
				continue
			}
			merit := parent - (nl/n)*gini(l[1], nl) - (nr/n)*gini(r[1], nr)
			if merit > featBest.merit {
				featBest = candidate{feature: feat, threshold: thr, merit: merit, left: l, right: r}
			}
		}

		switch {
		case featBest.merit > best.merit:
			second = best
			best = featBest
		case featBest.merit > second.merit:
			second = featBest
		}
	}
	return best, second
}

// hoeffdingBound is the deviation allowed after n observations of a variable
// with range r at confidence 1-delta.
func hoeffdingBound(r, delta, n float64) float64 {
	return math.Sqrt(r * r * math.Log(1/delta) / (2 * n))
}
