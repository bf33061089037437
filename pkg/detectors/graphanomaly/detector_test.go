package graphanomaly

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/graphguard/pkg/detectors"
	"github.com/hed1ad/graphguard/pkg/embedding"
	"github.com/hed1ad/graphguard/pkg/graph"
)

func TestDetectPlantedOutlierLegacy(t *testing.T) {
	g, emb := plantedGraph(1)
	d := New(g, emb, testConfig(detectors.ModeLegacy), WithLogger(quietLogger))

	anomalies, err := d.Detect(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, anomalies)

	top := anomalies[0]
	assert.Equal(t, "outlier", top.NodeID)
	assert.Equal(t, "Paper", top.Label)
	assert.Equal(t, "Paper", top.Group)
	assert.Equal(t, 20, top.GroupSize)
	assert.Equal(t, detectors.ModeLegacy, top.DetectionMode)
	assert.Greater(t, top.OutlierScore, top.Threshold)
	assert.Contains(t, top.Reason, "group=Paper, mode=legacy")
	assert.Equal(t, "[x]", top.Properties["tags"])
}

func TestDetectEveryMode(t *testing.T) {
	distanceModes := map[detectors.Mode]bool{
		detectors.ModeLegacy:          true,
		detectors.ModeOneClass:        true,
		detectors.ModeKNNDistribution: true,
	}
	for _, mode := range detectors.Modes() {
		t.Run(mode.String(), func(t *testing.T) {
			g, emb := plantedGraph(2)
			cfg := testConfig(mode)
			report, err := New(g, emb, cfg, WithLogger(quietLogger)).Run(context.Background())
			require.NoError(t, err)

			require.Len(t, report.Groups, 1)
			assert.False(t, report.Groups[0].Skipped)
			assert.Equal(t, mode, report.Mode)
			for _, a := range report.Anomalies {
				assert.Greater(t, a.OutlierScore, a.Threshold-1e-6)
				assert.GreaterOrEqual(t, a.Threshold, cfg.MinAbsoluteDistance)
				assert.Equal(t, mode, a.DetectionMode)
			}
			if distanceModes[mode] {
				require.NotEmpty(t, report.Anomalies)
				assert.Equal(t, "outlier", report.Anomalies[0].NodeID)
			}
		})
	}
}

func TestUndersizedGroupIsSkipped(t *testing.T) {
	g, emb := plantedGraph(3)
	rng := rand.New(rand.NewSource(3))
	cluster(g, emb, "v", "Venue", 5, 8, 1, rng)
	emb["v0"] = []float64{0, 0, 0, 0, 0, 0, 0, -50}

	report, err := New(g, emb, testConfig(detectors.ModeLegacy), WithLogger(quietLogger)).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Groups, 2)
	venue := report.Groups[1]
	assert.Equal(t, "Venue", venue.Name)
	assert.True(t, venue.Skipped)
	assert.Zero(t, venue.Flagged)
	for _, a := range report.Anomalies {
		assert.NotEqual(t, "Venue", a.Group)
	}
}

func TestMinAbsoluteDistanceSuppressesGroup(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	g := graph.NewMemory(false)
	emb := embedding.Static{}
	cluster(g, emb, "p", "Paper", 20, 8, 0, rng)

	cfg := testConfig(detectors.ModeLegacy)
	cfg.MinAbsoluteDistance = 0.5
	report, err := New(g, emb, cfg, WithLogger(quietLogger)).Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, report.Anomalies)
	assert.GreaterOrEqual(t, report.Groups[0].Threshold, 0.5)
}

func TestTopK(t *testing.T) {
	g, emb := plantedGraph(5)
	rng := rand.New(rand.NewSource(5))
	cluster(g, emb, "a", "Author", 20, 8, 2, rng)
	emb["a7"] = []float64{0, 0, -1, 0, 0, 0, 0, 0}

	cfg := testConfig(detectors.ModeLegacy)
	unbounded := cfg
	unbounded.TopK = 0
	all, err := New(g, emb, unbounded, WithLogger(quietLogger)).Detect(context.Background())
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(all), 2)

	cfg.TopK = 1
	top, err := New(g, emb, cfg, WithLogger(quietLogger)).Detect(context.Background())
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, all[0], top[0])

	for i := 1; i < len(all); i++ {
		assert.GreaterOrEqual(t, all[i-1].OutlierScore, all[i].OutlierScore)
	}
}

func TestDetectIsDeterministic(t *testing.T) {
	modes := []detectors.Mode{detectors.ModeStacking, detectors.ModeEnsemble, detectors.ModeGraphRecon}
	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			g, emb := plantedGraph(6)
			cfg := testConfig(mode)
			cfg.MinAbsoluteDistance = 0

			first, err := New(g, emb, cfg, WithLogger(quietLogger)).Detect(context.Background())
			require.NoError(t, err)
			second, err := New(g, emb, cfg, WithLogger(quietLogger)).Detect(context.Background())
			require.NoError(t, err)
			assert.Equal(t, first, second)
		})
	}
}

func TestParallelMatchesSequential(t *testing.T) {
	g, emb := plantedGraph(7)
	rng := rand.New(rand.NewSource(7))
	cluster(g, emb, "a", "Author", 24, 8, 2, rng)
	cluster(g, emb, "v", "Venue", 12, 8, 5, rng)

	cfg := testConfig(detectors.ModeStacking)
	cfg.MinAbsoluteDistance = 0
	seq, err := New(g, emb, cfg, WithLogger(quietLogger)).Run(context.Background())
	require.NoError(t, err)

	cfg.Parallelism = 4
	par, err := New(g, emb, cfg, WithLogger(quietLogger)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, seq.Anomalies, par.Anomalies)
	assert.Equal(t, seq.Weights, par.Weights)
	assert.Equal(t, seq.Groups, par.Groups)
}

func TestStackingLearnsWeights(t *testing.T) {
	g, emb := plantedGraph(8)
	rng := rand.New(rand.NewSource(8))
	cluster(g, emb, "a", "Author", 24, 8, 2, rng)

	report, err := New(g, emb, testConfig(detectors.ModeStacking), WithLogger(quietLogger)).Run(context.Background())
	require.NoError(t, err)

	require.True(t, report.WeightsLearned)
	var sum float64
	for _, m := range detectors.ScoringModules() {
		assert.GreaterOrEqual(t, report.Weights[m], 0.0)
		sum += report.Weights[m]
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestStackingFallsBackOnSmallPool(t *testing.T) {
	g, emb := plantedGraph(9)
	cfg := testConfig(detectors.ModeStacking)
	cfg.MinGroupSize = 12 // stacking needs groups of 24

	report, err := New(g, emb, cfg, WithLogger(quietLogger)).Run(context.Background())
	require.NoError(t, err)
	assert.False(t, report.WeightsLearned)
	assert.Equal(t, DefaultWeights(cfg), report.Weights)
}

func TestNonStackingModesUseDefaultWeights(t *testing.T) {
	g, emb := plantedGraph(10)
	cfg := testConfig(detectors.ModeOneClass)
	report, err := New(g, emb, cfg, WithLogger(quietLogger)).Run(context.Background())
	require.NoError(t, err)
	assert.False(t, report.WeightsLearned)
	assert.Equal(t, DefaultWeights(cfg), report.Weights)
}

func TestGroupingDisabled(t *testing.T) {
	g, emb := plantedGraph(11)
	rng := rand.New(rand.NewSource(11))
	cluster(g, emb, "v", "Venue", 5, 8, 0, rng)

	cfg := testConfig(detectors.ModeLegacy)
	cfg.GroupByLabel = false
	report, err := New(g, emb, cfg, WithLogger(quietLogger)).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Groups, 1)
	assert.Equal(t, GroupAll, report.Groups[0].Name)
	assert.Equal(t, 25, report.Groups[0].Size)
	require.NotEmpty(t, report.Anomalies)
	assert.Equal(t, "outlier", report.Anomalies[0].NodeID)
	assert.Equal(t, "Paper", report.Anomalies[0].Label)
}

func TestDetectErrors(t *testing.T) {
	t.Run("provider failure propagates", func(t *testing.T) {
		g, _ := plantedGraph(12)
		_, err := New(g, failingProvider{}, testConfig(detectors.ModeLegacy), WithLogger(quietLogger)).Detect(context.Background())
		assert.ErrorIs(t, err, errProviderDown)
	})

	t.Run("missing embedding", func(t *testing.T) {
		g, emb := plantedGraph(12)
		delete(emb, "p3")
		_, err := New(g, emb, testConfig(detectors.ModeLegacy), WithLogger(quietLogger)).Detect(context.Background())
		assert.ErrorIs(t, err, ErrNoEmbedding)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		g, emb := plantedGraph(12)
		emb["p3"] = []float64{1, 2}
		_, err := New(g, emb, testConfig(detectors.ModeLegacy), WithLogger(quietLogger)).Detect(context.Background())
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("invalid mode", func(t *testing.T) {
		g, emb := plantedGraph(12)
		_, err := New(g, emb, testConfig(detectors.Mode(42)), WithLogger(quietLogger)).Detect(context.Background())
		assert.ErrorIs(t, err, detectors.ErrUnknownMode)
	})

	t.Run("cancelled context", func(t *testing.T) {
		g, emb := plantedGraph(12)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := New(g, emb, testConfig(detectors.ModeLegacy), WithLogger(quietLogger)).Detect(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

type countingProvider struct {
	embedding.Static
	calls int
}

func (c *countingProvider) ComputeNodeEmbeddings(ctx context.Context, m embedding.Method, layers int) (map[string][]float64, error) {
	c.calls++
	return c.Static.ComputeNodeEmbeddings(ctx, m, layers)
}

func TestEmbeddingCache(t *testing.T) {
	g, emb := plantedGraph(13)
	p := &countingProvider{Static: emb}
	d := New(g, p, testConfig(detectors.ModeLegacy), WithLogger(quietLogger))

	_, err := d.Detect(context.Background())
	require.NoError(t, err)
	_, err = d.Detect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, p.calls)

	d.Invalidate()
	_, err = d.Detect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, p.calls)

	_, err = d.ComputeEmbeddings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, p.calls)
}

func TestRecordJSON(t *testing.T) {
	g, emb := plantedGraph(14)
	anomalies, err := New(g, emb, testConfig(detectors.ModeStacking), WithLogger(quietLogger)).Detect(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, anomalies)

	data, err := json.Marshal(anomalies[0])
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "stacking", decoded["detection_mode"])
	assert.Contains(t, decoded["weights"], "one_class")
	assert.Contains(t, decoded["contributions"], "structure")
	assert.Contains(t, decoded, "graph_recon_score")
}

func TestZScoreJSON(t *testing.T) {
	tests := []struct {
		z    ZScore
		want string
	}{
		{ZScore(1.5), "1.5"},
		{ZScore(math.Inf(1)), `"Infinity"`},
		{ZScore(math.Inf(-1)), `"-Infinity"`},
	}
	for _, tt := range tests {
		data, err := json.Marshal(tt.z)
		require.NoError(t, err)
		assert.Equal(t, tt.want, string(data))
	}
}

func TestDetectGraphAnomalies(t *testing.T) {
	g, _ := plantedGraph(15)
	cfg := testConfig(detectors.ModeStacking)
	cfg.EmbeddingDim = 16

	anomalies, err := DetectGraphAnomalies(context.Background(), memorySource{g}, cfg, WithLogger(quietLogger))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(anomalies), cfg.TopK)
}

type memorySource struct{ g *graph.Memory }

func (m memorySource) ReadGraph(context.Context) (*graph.Memory, error) { return m.g, nil }
