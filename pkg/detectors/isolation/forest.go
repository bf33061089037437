// Package isolation implements a seeded isolation forest used to score the
// structural feature rows of a node group.
package isolation

import (
	"errors"
	"math"
	"math/rand"
	"sync"
)

var (
	// ErrEmptyData is returned when fitting on no rows.
	ErrEmptyData = errors.New("empty training data")
	// ErrNotFitted is returned when scoring before Fit.
	ErrNotFitted = errors.New("forest not fitted")
)

// Forest isolates points with random axis-aligned splits. Points that are
// isolated in fewer splits receive higher scores.
type Forest struct {
	mu sync.RWMutex

	nTrees     int
	sampleSize int
	maxDepth   int
	seed       int64

	trees         []*node
	avgPathLength float64
}

// node is an internal split or a leaf holding the number of rows that reached it.
type node struct {
	feature int
	split   float64
	left    *node
	right   *node
	size    int
}

// Option configures a Forest.
type Option func(*Forest)

// WithTrees sets the number of isolation trees.
func WithTrees(n int) Option {
	return func(f *Forest) {
		f.nTrees = n
	}
}

// WithSampleSize sets the subsample size for each tree.
func WithSampleSize(n int) Option {
	return func(f *Forest) {
		f.sampleSize = n
	}
}

// WithSeed fixes the random source so repeated fits build identical trees.
func WithSeed(seed int64) Option {
	return func(f *Forest) {
		f.seed = seed
	}
}

// New creates a Forest with the given options.
func New(opts ...Option) *Forest {
	f := &Forest{
		nTrees:     100,
		sampleSize: 256,
		seed:       42,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.nTrees < 1 {
		f.nTrees = 1
	}
	if f.sampleSize < 2 {
		f.sampleSize = 2
	}
	return f
}

// Fit grows the trees on rows.
func (f *Forest) Fit(rows [][]float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(rows) == 0 || len(rows[0]) == 0 {
		return ErrEmptyData
	}

	rng := rand.New(rand.NewSource(f.seed))
	sampleSize := min(f.sampleSize, len(rows))
	f.maxDepth = int(math.Ceil(math.Log2(float64(max(sampleSize, 2)))))

	f.trees = make([]*node, f.nTrees)
	for i := range f.trees {
		idx := rng.Perm(len(rows))[:sampleSize]
		sample := make([][]float64, sampleSize)
		for j, k := range idx {
			sample[j] = rows[k]
		}
		f.trees[i] = f.grow(rng, sample, len(rows[0]), 0)
	}
	f.avgPathLength = averagePathLength(float64(sampleSize))
	return nil
}

func (f *Forest) grow(rng *rand.Rand, rows [][]float64, nFeatures, depth int) *node {
	n := len(rows)
	if depth >= f.maxDepth || n <= 1 {
		return &node{size: n}
	}

	feature := rng.Intn(nFeatures)
	lo, hi := rows[0][feature], rows[0][feature]
	for _, r := range rows[1:] {
		lo = math.Min(lo, r[feature])
		hi = math.Max(hi, r[feature])
	}
	if lo == hi {
		return &node{size: n}
	}

	split := lo + rng.Float64()*(hi-lo)
	var left, right [][]float64
	for _, r := range rows {
		if r[feature] < split {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}

	return &node{
		feature: feature,
		split:   split,
		left:    f.grow(rng, left, nFeatures, depth+1),
		right:   f.grow(rng, right, nFeatures, depth+1),
	}
}

// Score returns 2^(-E[h(x)]/c(n)) per row; values lie in (0, 1].
func (f *Forest) Score(rows [][]float64) ([]float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.trees == nil {
		return nil, ErrNotFitted
	}

	out := make([]float64, len(rows))
	for i, r := range rows {
		var total float64
		for _, t := range f.trees {
			total += pathLength(r, t, 0)
		}
		avg := total / float64(len(f.trees))
		if f.avgPathLength <= 0 {
			out[i] = 1
			continue
		}
		out[i] = math.Pow(2, -avg/f.avgPathLength)
	}
	return out, nil
}

// FitScore fits on rows and scores the same rows.
func (f *Forest) FitScore(rows [][]float64) ([]float64, error) {
	if err := f.Fit(rows); err != nil {
		return nil, err
	}
	return f.Score(rows)
}

func pathLength(row []float64, n *node, depth int) float64 {
	if n.left == nil && n.right == nil {
		return float64(depth) + averagePathLength(float64(n.size))
	}
	if row[n.feature] < n.split {
		return pathLength(row, n.left, depth+1)
	}
	return pathLength(row, n.right, depth+1)
}

// averagePathLength is c(n), the mean unsuccessful-search path length of a
// binary search tree with n entries.
func averagePathLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	return 2*(math.Log(n-1)+0.5772156649) - 2*(n-1)/n
}
