package graphanomaly

import (
	"math"
	"math/rand"
	"sort"

	"github.com/viterin/vek"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/hed1ad/graphguard/pkg/detectors"
	"github.com/hed1ad/graphguard/pkg/detectors/robust"
)

// effectiveK clamps the configured neighbor count to [1, n-1].
func effectiveK(k, n int) int {
	return max(1, min(k, max(1, n-1)))
}

// PeerKNNDistance returns, per row, the mean cosine distance to its k
// nearest rows. Self-similarity is pinned to -1 so a row never counts as its
// own neighbor unless k exceeds the number of peers.
func PeerKNNDistance(rows [][]float64, k int) []float64 {
	k = max(1, k)
	norm := robust.NormalizeRows(rows)
	n := len(norm)

	out := make([]float64, n)
	dist := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			sim := -1.0
			if i != j {
				sim = vek.Dot(norm[i], norm[j])
			}
			dist[j] = 1 - sim
		}
		sort.Float64s(dist)
		kk := min(k, n)
		out[i] = floats.Sum(dist[:kk]) / float64(kk)
	}
	return out
}

// LegacyScorer blends cosine distance to the group centroid with peer
// k-nearest-neighbor distance.
type LegacyScorer struct {
	K int
}

// LegacyDetail carries the two legacy components.
type LegacyDetail struct {
	CentroidDist []float64
	PeerDist     []float64
}

func (LegacyScorer) Module() detectors.Module { return detectors.ModuleLegacy }

func (l LegacyScorer) Score(s *detectors.Sample) detectors.Outcome {
	o, _ := l.Detail(s)
	return o
}

// Detail scores s and returns the centroid and peer components.
func (l LegacyScorer) Detail(s *detectors.Sample) (detectors.Outcome, LegacyDetail) {
	n := s.Len()
	centroid := robust.Normalize(robust.MeanRow(s.Vectors))

	d := LegacyDetail{
		CentroidDist: make([]float64, n),
		PeerDist:     PeerKNNDistance(s.Vectors, effectiveK(l.K, n)),
	}
	scores := make([]float64, n)
	for i, v := range s.Vectors {
		d.CentroidDist[i] = robust.CosineDistance(v, centroid)
		scores[i] = 0.6*d.CentroidDist[i] + 0.4*d.PeerDist[i]
	}
	return detectors.Outcome{Scores: scores}, d
}

// centerDistances row-normalizes vectors and measures each row's Euclidean
// distance to the re-normalized mean direction.
func centerDistances(vectors [][]float64) []float64 {
	x := robust.NormalizeRows(vectors)
	center := robust.Normalize(robust.MeanRow(x))
	dist := make([]float64, len(x))
	for i, r := range x {
		dist[i] = robust.EuclideanDistance(r, center)
	}
	return dist
}

// OneClassScorer penalizes distance from the group's mean direction, with
// an extra margin for rows beyond the radius quantile.
type OneClassScorer struct {
	RadiusQuantile float64
}

func (OneClassScorer) Module() detectors.Module { return detectors.ModuleOneClass }

func (o OneClassScorer) Score(s *detectors.Sample) detectors.Outcome {
	out, _ := o.Detail(s)
	return out
}

// Detail scores s and returns the fitted radius.
func (o OneClassScorer) Detail(s *detectors.Sample) (detectors.Outcome, float64) {
	dist := centerDistances(s.Vectors)
	radius := robust.Quantile(dist, o.RadiusQuantile)
	scores := make([]float64, len(dist))
	for i, d := range dist {
		scores[i] = d + 0.5*math.Max(0, d-radius)
	}
	return detectors.Outcome{Scores: scores}, radius
}

// RadiusScorer keeps only the distance beyond the radius quantile, as a
// tail score. It shares the one-class center and radius.
type RadiusScorer struct {
	RadiusQuantile float64
}

func (RadiusScorer) Module() detectors.Module { return detectors.ModuleRadius }

func (r RadiusScorer) Score(s *detectors.Sample) detectors.Outcome {
	dist := centerDistances(s.Vectors)
	radius := robust.Quantile(dist, r.RadiusQuantile)
	excess := make([]float64, len(dist))
	for i, d := range dist {
		excess[i] = math.Max(0, d-radius)
	}
	return detectors.Outcome{Scores: robust.TailScore(excess)}
}

// KNNDistributionScorer tail-scores peer k-nearest-neighbor distance.
type KNNDistributionScorer struct {
	K int
}

func (KNNDistributionScorer) Module() detectors.Module { return detectors.ModuleKNNDistribution }

func (k KNNDistributionScorer) Score(s *detectors.Sample) detectors.Outcome {
	o, _ := k.Detail(s)
	return o
}

// Detail scores s and returns the raw neighbor distances.
func (k KNNDistributionScorer) Detail(s *detectors.Sample) (detectors.Outcome, []float64) {
	raw := PeerKNNDistance(s.Vectors, effectiveK(k.K, s.Len()))
	return detectors.Outcome{Scores: robust.TailScore(raw)}, raw
}

// ReconstructionScorer blends low-rank feature reconstruction error with the
// error of predicting a node from its in-group neighbors.
type ReconstructionScorer struct {
	RankRatio      float64
	MinRank        int
	NeighborWeight float64
}

// ReconstructionDetail carries both raw error arrays.
type ReconstructionDetail struct {
	FeatureError  []float64
	NeighborError []float64
}

func (ReconstructionScorer) Module() detectors.Module { return detectors.ModuleReconstruction }

func (r ReconstructionScorer) Score(s *detectors.Sample) detectors.Outcome {
	o, _ := r.Detail(s)
	return o
}

// Detail scores s and returns the raw errors. A failed decomposition zeroes
// the feature error and marks the outcome degraded.
func (r ReconstructionScorer) Detail(s *detectors.Sample) (detectors.Outcome, ReconstructionDetail) {
	n := s.Len()
	x := robust.NormalizeRows(s.Vectors)
	mean := robust.MeanRow(x)

	feature := r.featureError(x, mean)

	d := ReconstructionDetail{
		FeatureError:  feature.Scores,
		NeighborError: make([]float64, n),
	}
	for i := range x {
		pred := mean
		if nbrs := s.NeighborsOf(i); len(nbrs) > 0 {
			pred = make([]float64, len(x[i]))
			for _, j := range nbrs {
				floats.Add(pred, x[j])
			}
			floats.Scale(1/float64(len(nbrs)), pred)
		}
		d.NeighborError[i] = robust.CosineDistance(x[i], pred)
	}

	w := math.Min(1, math.Max(0, r.NeighborWeight))
	featTail := robust.TailScore(d.FeatureError)
	nbrTail := robust.TailScore(d.NeighborError)
	scores := make([]float64, n)
	for i := range scores {
		scores[i] = (1-w)*featTail[i] + w*nbrTail[i]
	}
	return detectors.Outcome{
		Scores:     scores,
		Degraded:   feature.Degraded,
		Diagnostic: feature.Diagnostic,
	}, d
}

func (r ReconstructionScorer) featureError(x [][]float64, mean []float64) detectors.Outcome {
	n := len(x)
	if n == 0 || len(mean) == 0 {
		return detectors.Fallback(n, "reconstruction: empty matrix")
	}
	dim := len(mean)

	centered := mat.NewDense(n, dim, nil)
	for i, row := range x {
		for j, v := range row {
			centered.Set(i, j, v-mean[j])
		}
	}
	if !finite(centered) {
		return detectors.Fallback(n, "reconstruction: non-finite input")
	}

	var svd mat.SVD
	if ok := svd.Factorize(centered, mat.SVDThin); !ok {
		return detectors.Fallback(n, "reconstruction: svd did not converge")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	sv := svd.Values(nil)

	maxRank := min(n, dim)
	rank := int(math.RoundToEven(r.RankRatio * float64(maxRank)))
	rank = max(0, min(max(r.MinRank, rank), maxRank))

	errs := make([]float64, n)
	recon := make([]float64, dim)
	for i := 0; i < n; i++ {
		for j := range recon {
			var sum float64
			for k := 0; k < rank; k++ {
				sum += u.At(i, k) * sv[k] * v.At(j, k)
			}
			recon[j] = centered.At(i, j) - sum
		}
		errs[i] = robust.Norm(recon)
	}
	return detectors.Outcome{Scores: errs}
}

// GraphReconScorer compares the group's normalized adjacency and feature
// similarity with what a fixed random projection of the features implies.
// The projection is not trained; it acts as a structural similarity
// heuristic. Seed fixes the projection weights.
type GraphReconScorer struct {
	HiddenDims []int
	Seed       int64
}

func (GraphReconScorer) Module() detectors.Module { return detectors.ModuleGraphRecon }

func (g GraphReconScorer) Score(s *detectors.Sample) detectors.Outcome {
	n := s.Len()
	if n == 0 || len(s.Vectors[0]) == 0 {
		return detectors.Fallback(n, "graph_recon: empty matrix")
	}
	dim := len(s.Vectors[0])

	x := mat.NewDense(n, dim, nil)
	for i, row := range robust.NormalizeRows(s.Vectors) {
		x.SetRow(i, row)
	}
	if !finite(x) {
		return detectors.Fallback(n, "graph_recon: non-finite input")
	}

	adj := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for _, j := range s.NeighborsOf(i) {
			adj.Set(i, j, 1)
		}
	}
	scale := make([]float64, n)
	for i := range scale {
		deg := floats.Sum(adj.RawRowView(i))
		scale[i] = 1
		if deg > 0 {
			scale[i] = 1 / math.Sqrt(deg)
		}
	}
	adj.Apply(func(i, j int, v float64) float64 { return scale[i] * v * scale[j] }, adj)

	z := g.project(x)

	var zz, xx, adjRecon mat.Dense
	zz.Mul(z, z.T())
	xx.Mul(x, x.T())
	adjRecon.Apply(func(_, _ int, v float64) float64 { return math.Tanh(v) }, &zz)

	raw := make([]float64, n)
	for i := 0; i < n; i++ {
		var adjErr, featErr float64
		for j := 0; j < n; j++ {
			da := adj.At(i, j) - adjRecon.At(i, j)
			df := xx.At(i, j) - zz.At(i, j)
			adjErr += da * da
			featErr += df * df
		}
		raw[i] = adjErr/float64(n) + 0.5*featErr/float64(n)
	}
	if floats.HasNaN(raw) {
		return detectors.Fallback(n, "graph_recon: non-finite reconstruction")
	}
	return detectors.Outcome{Scores: robust.TailScore(raw)}
}

// project maps x through the seeded random layers. The first layer is
// linear; later layers apply tanh.
func (g GraphReconScorer) project(x *mat.Dense) *mat.Dense {
	rng := rand.New(rand.NewSource(g.Seed))
	h := x
	first := true
	for _, width := range g.HiddenDims {
		if width <= 0 {
			continue
		}
		_, in := h.Dims()
		w := mat.NewDense(in, width, nil)
		for r := 0; r < in; r++ {
			for c := 0; c < width; c++ {
				w.Set(r, c, 0.1*rng.NormFloat64())
			}
		}
		var next mat.Dense
		next.Mul(h, w)
		if !first {
			next.Apply(func(_, _ int, v float64) float64 { return math.Tanh(v) }, &next)
		}
		first = false
		h = &next
	}
	return h
}

func finite(m *mat.Dense) bool {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		for _, v := range m.RawRowView(i) {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}
