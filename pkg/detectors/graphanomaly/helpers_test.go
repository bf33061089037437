package graphanomaly

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"

	"github.com/hed1ad/graphguard/pkg/detectors"
	"github.com/hed1ad/graphguard/pkg/embedding"
	"github.com/hed1ad/graphguard/pkg/graph"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// cluster builds a labelled ring of n nodes whose embeddings point along one
// axis with small noise. Node ids are prefix0..prefix{n-1}.
func cluster(g *graph.Memory, emb embedding.Static, prefix, label string, n, dim, axis int, rng *rand.Rand) {
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("%s%d", prefix, i)
		g.AddNode(id, map[string]any{"label": label, "rank": i})
		v := make([]float64, dim)
		for j := range v {
			v[j] = 0.01 * rng.NormFloat64()
		}
		v[axis] += 1
		emb[id] = v
	}
	for i := 0; i < n; i++ {
		_ = g.AddEdge(fmt.Sprintf("%s%d", prefix, i), fmt.Sprintf("%s%d", prefix, (i+1)%n))
	}
}

// plantedGraph returns a graph with one 20-node "Paper" group whose last
// node points the opposite way to its peers.
func plantedGraph(seed int64) (*graph.Memory, embedding.Static) {
	rng := rand.New(rand.NewSource(seed))
	g := graph.NewMemory(true)
	emb := embedding.Static{}
	cluster(g, emb, "p", "Paper", 19, 8, 0, rng)

	g.AddNode("outlier", map[string]any{"label": "Paper", "tags": []string{"x"}})
	_ = g.AddEdge("outlier", "p0")
	v := make([]float64, 8)
	v[0] = -1
	v[3] = 0.2
	emb["outlier"] = v
	return g, emb
}

func sampleOf(vectors [][]float64, neighbors [][]int) *detectors.Sample {
	ids := make([]string, len(vectors))
	for i := range ids {
		ids[i] = fmt.Sprintf("n%d", i)
	}
	return &detectors.Sample{IDs: ids, Vectors: vectors, Neighbors: neighbors}
}

func testConfig(mode detectors.Mode) Config {
	cfg := DefaultConfig()
	cfg.DetectionMode = mode
	cfg.GAEHiddenDims = []int{8, 4}
	return cfg
}

type failingProvider struct{}

var errProviderDown = errors.New("provider down")

func (failingProvider) ComputeNodeEmbeddings(context.Context, embedding.Method, int) (map[string][]float64, error) {
	return nil, errProviderDown
}
