package graphanomaly

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/hed1ad/graphguard/pkg/detectors"
	"github.com/hed1ad/graphguard/pkg/detectors/isolation"
	"github.com/hed1ad/graphguard/pkg/detectors/robust"
)

// StructureScore turns a group's structural feature rows into tail scores.
func StructureScore(rows [][]float64, method StructureMethod, seed int64) detectors.Outcome {
	n := len(rows)
	if n == 0 || len(rows[0]) == 0 {
		return detectors.Fallback(n, "structure: no features")
	}

	if method == StructureIsolation {
		scores, err := isolation.New(isolation.WithTrees(100), isolation.WithSeed(seed)).FitScore(rows)
		if err != nil {
			return detectors.Fallback(n, "structure: %v", err)
		}
		return detectors.Outcome{Scores: robust.TailScore(scores)}
	}
	return principalComponentScore(rows)
}

// principalComponentScore is |(x - mean) · v1| where v1 is the leading right
// singular vector of the centered rows.
func principalComponentScore(rows [][]float64) detectors.Outcome {
	n, dim := len(rows), len(rows[0])
	mean := robust.MeanRow(rows)

	centered := mat.NewDense(n, dim, nil)
	for i, r := range rows {
		for j, v := range r {
			centered.Set(i, j, v-mean[j])
		}
	}
	if !finite(centered) {
		return detectors.Fallback(n, "structure: non-finite features")
	}

	var svd mat.SVD
	if ok := svd.Factorize(centered, mat.SVDThin); !ok {
		return detectors.Fallback(n, "structure: svd did not converge")
	}
	var v mat.Dense
	svd.VTo(&v)
	pc1 := v.ColView(0)

	var proj mat.VecDense
	proj.MulVec(centered, pc1)
	scores := make([]float64, n)
	for i := range scores {
		scores[i] = math.Abs(proj.AtVec(i))
	}
	return detectors.Outcome{Scores: robust.TailScore(scores)}
}
