package graphanomaly

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/hed1ad/graphguard/pkg/graph"
)

// StructuralFeatureNames labels the columns returned by ExtractStructuralFeatures.
var StructuralFeatureNames = []string{
	"log_in_degree",
	"log_out_degree",
	"log_neighbor_count",
	"neighbor_degree_mean",
	"neighbor_degree_std",
	"centrality_proxy",
}

// ExtractStructuralFeatures derives a six-column topology vector per node.
// Undirected graphs report total degree as in-degree and zero out-degree.
// A node whose features are not all finite gets a zero vector.
func ExtractStructuralFeatures(g graph.Graph) map[string][]float64 {
	nodes := g.Nodes()
	out := make(map[string][]float64, len(nodes))
	for _, n := range nodes {
		out[n.ID] = nodeFeatures(g, n.ID)
	}
	return out
}

func nodeFeatures(g graph.Graph, id string) []float64 {
	var in, outDeg int
	if g.IsDirected() {
		in, outDeg = g.InDegree(id), g.OutDegree(id)
	} else {
		in = g.Degree(id)
	}

	nbrs := g.Neighbors(id)
	degrees := []float64{0}
	if len(nbrs) > 0 {
		degrees = make([]float64, len(nbrs))
		for i, nb := range nbrs {
			degrees[i] = float64(g.Degree(nb))
		}
	}

	var spread float64
	if len(degrees) > 1 {
		spread = math.Sqrt(stat.PopVariance(degrees, nil))
	}

	f := []float64{
		math.Log1p(float64(in)),
		math.Log1p(float64(outDeg)),
		math.Log1p(float64(len(nbrs))),
		stat.Mean(degrees, nil),
		spread,
		1 / float64(len(nbrs)+1),
	}
	if floats.HasNaN(f) || math.IsInf(floats.Sum(f), 0) {
		return make([]float64, len(StructuralFeatureNames))
	}
	return f
}
