package graphanomaly

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/hed1ad/graphguard/pkg/detectors"
	"github.com/hed1ad/graphguard/pkg/detectors/robust"
)

// minPooledRows is the fewest pooled rows the weight learner accepts.
const minPooledRows = 20

// Weights maps each scoring module to its combination weight.
type Weights map[detectors.Module]float64

// Get returns the weight of m clamped at zero.
func (w Weights) Get(m detectors.Module) float64 {
	return math.Max(0, w[m])
}

// Clone returns an independent copy.
func (w Weights) Clone() Weights {
	out := make(Weights, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// DefaultWeights returns the configured module weights. The legacy module
// has no configured weight and gets zero.
func DefaultWeights(cfg Config) Weights {
	return Weights{
		detectors.ModuleLegacy:          0,
		detectors.ModuleOneClass:        cfg.WeightOneClass,
		detectors.ModuleReconstruction:  cfg.WeightReconstruction,
		detectors.ModuleKNNDistribution: cfg.WeightKNNDistribution,
		detectors.ModuleGraphRecon:      cfg.WeightGAE,
		detectors.ModuleRadius:          cfg.WeightDeepSVDD,
	}
}

// ScorePool accumulates raw module scores from the groups large enough to
// inform the weight learner.
type ScorePool struct {
	scores map[detectors.Module][]float64
	rows   int
}

// NewScorePool creates an empty pool.
func NewScorePool() *ScorePool {
	return &ScorePool{scores: make(map[detectors.Module][]float64)}
}

// Add appends one group's raw scores. Every module must be present with the
// same length.
func (p *ScorePool) Add(group map[detectors.Module][]float64) {
	n := len(group[detectors.ModuleLegacy])
	for _, m := range detectors.ScoringModules() {
		p.scores[m] = append(p.scores[m], group[m]...)
	}
	p.rows += n
}

// Rows returns the number of pooled nodes.
func (p *ScorePool) Rows() int {
	return p.rows
}

// LearnWeights sets each module's weight proportional to the population
// variance of its pooled scores. Modules whose scores spread more are treated
// as more informative. With too few rows, or no variance at all, the
// configured defaults are returned and learned is false.
func LearnWeights(p *ScorePool, cfg Config) (w Weights, learned bool) {
	if p.Rows() < minPooledRows {
		return DefaultWeights(cfg), false
	}

	w = make(Weights, len(detectors.ScoringModules()))
	var total float64
	for _, m := range detectors.ScoringModules() {
		v := stat.PopVariance(p.scores[m], nil)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		w[m] = v
		total += v
	}
	if total <= robust.Epsilon {
		return DefaultWeights(cfg), false
	}
	for m := range w {
		w[m] /= total
	}
	return w, true
}
