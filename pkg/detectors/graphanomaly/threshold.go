package graphanomaly

import (
	"math"

	"github.com/hed1ad/graphguard/pkg/detectors/robust"
)

// Threshold is a group's robust cutoff and the statistics behind it.
type Threshold struct {
	Value    float64
	Quantile float64
	MADCut   float64
	Spread   robust.Spread
}

// SelectThreshold returns the largest of the absolute floor, the configured
// quantile and median + multiplier * sigma.
func SelectThreshold(scores []float64, cfg Config) Threshold {
	spread := robust.Describe(scores)
	t := Threshold{
		Quantile: robust.Quantile(scores, cfg.Quantile),
		MADCut:   spread.Median + cfg.MADMultiplier*spread.Sigma,
		Spread:   spread,
	}
	t.Value = math.Max(cfg.MinAbsoluteDistance, math.Max(t.Quantile, t.MADCut))
	return t
}

// Flag returns the rows whose score exceeds the threshold.
func (t Threshold) Flag(scores []float64) []int {
	var rows []int
	for i, s := range scores {
		if s > t.Value {
			rows = append(rows, i)
		}
	}
	return rows
}
