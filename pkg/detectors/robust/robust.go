// Package robust provides the outlier-resistant statistics shared by the
// scoring modules: median/MAD, linear quantiles, tail scores and cosine
// helpers.
package robust

import (
	"math"
	"sort"

	"github.com/viterin/vek"
	"gonum.org/v1/gonum/floats"
)

const (
	// Epsilon guards every division by a norm, MAD or weight total.
	Epsilon = 1e-12

	// MADScale makes the median absolute deviation consistent with the
	// standard deviation of a normal distribution.
	MADScale = 1.4826
)

// Quantile returns the q-th quantile of values using linear interpolation
// between closest ranks. q is clipped to [0, 1]. Empty input yields 0.
func Quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return quantileSorted(sorted, q)
}

func quantileSorted(sorted []float64, q float64) float64 {
	q = math.Min(1, math.Max(0, q))
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// Median returns the median of values, averaging the two middle elements
// for even lengths.
func Median(values []float64) float64 {
	return Quantile(values, 0.5)
}

// MAD returns the unscaled median absolute deviation around med.
func MAD(values []float64, med float64) float64 {
	dev := make([]float64, len(values))
	for i, v := range values {
		dev[i] = math.Abs(v - med)
	}
	return Median(dev)
}

// Spread bundles the location and scale estimates of a score array.
type Spread struct {
	Median float64
	MAD    float64
	// Sigma is MADScale * MAD.
	Sigma float64
}

// Describe computes median, MAD and sigma in one pass over sorted copies.
func Describe(values []float64) Spread {
	med := Median(values)
	mad := MAD(values, med)
	return Spread{Median: med, MAD: mad, Sigma: MADScale * mad}
}

// Z returns the robust z-score of v, or +Inf when the spread is degenerate.
func (s Spread) Z(v float64) float64 {
	if s.Sigma <= Epsilon {
		return math.Inf(1)
	}
	return (v - s.Median) / s.Sigma
}

// TailScore maps raw scores onto [0, 1] by averaging a squashed robust
// z-score with the empirical CDF rank. Arrays of length <= 1 map to zeros.
func TailScore(values []float64) []float64 {
	n := len(values)
	out := make([]float64, n)
	if n <= 1 {
		return out
	}

	spread := Describe(values)

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return values[order[a]] < values[order[b]]
	})

	for rank, idx := range order {
		var rob float64
		if spread.Sigma > Epsilon {
			rob = math.Tanh(math.Max(0, (values[idx]-spread.Median)/spread.Sigma) / 3)
		}
		ecdf := float64(rank+1) / float64(n)
		out[idx] = 0.5*rob + 0.5*ecdf
	}
	return out
}

// Norm returns the Euclidean norm of x.
func Norm(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return vek.Norm(x)
}

// Normalize returns x scaled to unit length. Near-zero vectors are returned
// as an unscaled copy.
func Normalize(x []float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	n := Norm(x)
	if n <= Epsilon {
		return out
	}
	floats.Scale(1/n, out)
	return out
}

// NormalizeRows returns a row-normalized copy of rows. Rows with near-zero
// norm are divided by 1.
func NormalizeRows(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, r := range rows {
		out[i] = Normalize(r)
	}
	return out
}

// CosineDistance returns 1 - cos(a, b); near-zero vectors are at distance 1.
func CosineDistance(a, b []float64) float64 {
	na, nb := Norm(a), Norm(b)
	if na <= Epsilon || nb <= Epsilon {
		return 1
	}
	return 1 - vek.Dot(a, b)/(na*nb)
}

// MeanRow returns the column-wise mean of rows. All rows must share a length.
func MeanRow(rows [][]float64) []float64 {
	if len(rows) == 0 {
		return nil
	}
	out := make([]float64, len(rows[0]))
	for _, r := range rows {
		floats.Add(out, r)
	}
	floats.Scale(1/float64(len(rows)), out)
	return out
}

// EuclideanDistance returns ||a - b||.
func EuclideanDistance(a, b []float64) float64 {
	return floats.Distance(a, b, 2)
}
