package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"

	"github.com/viterin/vek"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/hed1ad/graphguard/pkg/graph"
)

// Aggregator embeds nodes by propagating seeded initial states along edges.
// Initial states combine a per-label direction, a small per-node jitter and
// a random projection of degree features, so structurally unusual nodes
// drift away from their label peers as layers are applied.
type Aggregator struct {
	g      graph.Graph
	params Params
}

// NewAggregator creates an Aggregator over g.
func NewAggregator(g graph.Graph, params Params) *Aggregator {
	return &Aggregator{g: g, params: params}
}

// ComputeNodeEmbeddings runs numLayers aggregation rounds with method.
func (a *Aggregator) ComputeNodeEmbeddings(ctx context.Context, method Method, numLayers int) (map[string][]float64, error) {
	if _, err := ParseMethod(string(method)); err != nil {
		return nil, err
	}
	dir, err := ParseDirection(string(a.params.Direction))
	if err != nil {
		return nil, err
	}
	if a.params.Dim <= 0 {
		return nil, fmt.Errorf("embedding dimension %d must be positive", a.params.Dim)
	}

	nodes := a.g.Nodes()
	if len(nodes) == 0 {
		return map[string][]float64{}, nil
	}

	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		index[n.ID] = i
	}
	adj := make([][]int, len(nodes))
	for i, n := range nodes {
		adj[i] = a.neighborRows(n.ID, dir, index)
	}

	h := a.initial(nodes)
	layers := [][][]float64{h}
	alpha := math.Min(1, math.Max(0, a.params.Alpha))

	for l := 0; l < numLayers; l++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next := make([][]float64, len(h))
		for i := range h {
			agg := aggregate(method, h, i, adj[i])
			row := make([]float64, a.params.Dim)
			floats.AddScaled(row, alpha, h[i])
			floats.AddScaled(row, 1-alpha, agg)
			next[i] = unit(row)
		}
		h = next
		layers = append(layers, h)
	}

	hw := math.Min(1, math.Max(0, a.params.HierarchyWeight))
	out := make(map[string][]float64, len(nodes))
	for i, n := range nodes {
		v := make([]float64, a.params.Dim)
		copy(v, h[i])
		if a.params.Hierarchical && hw > 0 {
			mean := make([]float64, a.params.Dim)
			for _, layer := range layers {
				floats.Add(mean, layer[i])
			}
			floats.Scale(1/float64(len(layers)), mean)
			floats.Scale(1-hw, v)
			floats.AddScaled(v, hw, mean)
		}
		out[n.ID] = unit(v)
	}
	return out, nil
}

func (a *Aggregator) neighborRows(id string, dir Direction, index map[string]int) []int {
	var ids []string
	switch dir {
	case DirectionOut:
		ids = a.g.Neighbors(id)
	case DirectionIn:
		ids = a.g.Predecessors(id)
	case DirectionBoth:
		ids = append(a.g.Neighbors(id), a.g.Predecessors(id)...)
	}

	seen := make(map[int]struct{}, len(ids))
	rows := make([]int, 0, len(ids))
	for _, nb := range ids {
		r, ok := index[nb]
		if !ok {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		rows = append(rows, r)
	}
	return rows
}

// initial builds the layer-0 states.
func (a *Aggregator) initial(nodes []graph.Node) [][]float64 {
	dim := a.params.Dim
	const nDegree = 3

	rng := rand.New(rand.NewSource(a.params.Seed))
	proj := mat.NewDense(nDegree, dim, nil)
	for r := 0; r < nDegree; r++ {
		for c := 0; c < dim; c++ {
			proj.Set(r, c, rng.NormFloat64())
		}
	}

	deg := mat.NewDense(len(nodes), nDegree, nil)
	for i, n := range nodes {
		deg.Set(i, 0, math.Log1p(float64(a.g.InDegree(n.ID))))
		deg.Set(i, 1, math.Log1p(float64(a.g.OutDegree(n.ID))))
		deg.Set(i, 2, math.Log1p(float64(a.g.Degree(n.ID))))
	}
	var degProj mat.Dense
	degProj.Mul(deg, proj)

	labels := make(map[string][]float64)
	h := make([][]float64, len(nodes))
	for i, n := range nodes {
		label := n.Label()
		base, ok := labels[label]
		if !ok {
			base = gaussian(a.params.Seed^hashString(label), dim)
			labels[label] = base
		}

		row := make([]float64, dim)
		copy(row, base)
		floats.AddScaled(row, 0.1, gaussian(a.params.Seed^hashString("node:"+n.ID), dim))
		floats.AddScaled(row, 0.25/math.Sqrt(float64(dim)), degProj.RawRowView(i))
		h[i] = unit(row)
	}
	return h
}

func aggregate(method Method, h [][]float64, self int, nbrs []int) []float64 {
	out := make([]float64, len(h[self]))
	if len(nbrs) == 0 {
		copy(out, h[self])
		return out
	}

	switch method {
	case MethodSum:
		for _, j := range nbrs {
			floats.Add(out, h[j])
		}
	case MethodGAT:
		logits := make([]float64, len(nbrs))
		for k, j := range nbrs {
			logits[k] = vek.Dot(h[self], h[j])
		}
		peak := floats.Max(logits)
		var total float64
		for k := range logits {
			logits[k] = math.Exp(logits[k] - peak)
			total += logits[k]
		}
		for k, j := range nbrs {
			floats.AddScaled(out, logits[k]/total, h[j])
		}
	default:
		for _, j := range nbrs {
			floats.Add(out, h[j])
		}
		floats.Scale(1/float64(len(nbrs)), out)
	}
	return out
}

func gaussian(seed int64, dim int) []float64 {
	rng := rand.New(rand.NewSource(seed))
	v := make([]float64, dim)
	for i := range v {
		v[i] = rng.NormFloat64()
	}
	return v
}

func unit(v []float64) []float64 {
	n := vek.Norm(v)
	if n > 1e-12 {
		floats.Scale(1/n, v)
	}
	return v
}

func hashString(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
