// Package graphanomaly detects outlier nodes of a graph from their embedding
// vectors and local structure.
//
// Each label group is scored against its own population by six modules:
// centroid/peer distance (legacy), one-class radius, low-rank and neighbor
// reconstruction, k-nearest-neighbor distance, random-projection graph
// reconstruction, and distance beyond radius. Scores are normalized into
// [0, 1] tail scores, combined according to the detection mode, and every
// node above the group's robust threshold is reported.
package graphanomaly

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hed1ad/graphguard/pkg/detectors"
	"github.com/hed1ad/graphguard/pkg/embedding"
	"github.com/hed1ad/graphguard/pkg/graph"
)

var (
	// ErrNoEmbedding is returned when the provider has no vector for a scored node.
	ErrNoEmbedding = errors.New("missing node embedding")
	// ErrDimensionMismatch is returned when embeddings differ in length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Detector scores the nodes of one graph. Embeddings and structural
// features are computed on first use and cached until Invalidate or
// ComputeEmbeddings is called.
type Detector struct {
	g        graph.Graph
	provider embedding.Provider
	cfg      Config
	logger   *slog.Logger

	mu         sync.Mutex
	embeddings map[string][]float64
	structure  map[string][]float64
}

// Option configures a Detector.
type Option func(*Detector)

// WithLogger sets the structured logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates a detector over g that obtains vectors from provider.
func New(g graph.Graph, provider embedding.Provider, cfg Config, opts ...Option) *Detector {
	cfg.Labels = append([]string(nil), cfg.Labels...)
	cfg.GAEHiddenDims = append([]int(nil), cfg.GAEHiddenDims...)

	d := &Detector{
		g:        g,
		provider: provider,
		cfg:      cfg,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Config returns the detector's configuration.
func (d *Detector) Config() Config {
	return d.cfg
}

// ComputeEmbeddings asks the provider for fresh vectors and replaces the cache.
func (d *Detector) ComputeEmbeddings(ctx context.Context) (map[string][]float64, error) {
	emb, err := d.provider.ComputeNodeEmbeddings(ctx, d.cfg.AggregatorMethod, d.cfg.NumLayers)
	if err != nil {
		return nil, fmt.Errorf("compute embeddings: %w", err)
	}

	d.mu.Lock()
	d.embeddings = emb
	d.mu.Unlock()
	return emb, nil
}

// StructuralFeatures returns the cached structural features, computing them
// on first use.
func (d *Detector) StructuralFeatures() map[string][]float64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.structure == nil {
		d.structure = ExtractStructuralFeatures(d.g)
	}
	return d.structure
}

// Invalidate drops cached embeddings and structural features.
func (d *Detector) Invalidate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.embeddings = nil
	d.structure = nil
}

func (d *Detector) cachedEmbeddings(ctx context.Context) (map[string][]float64, error) {
	d.mu.Lock()
	emb := d.embeddings
	d.mu.Unlock()
	if emb != nil {
		return emb, nil
	}
	return d.ComputeEmbeddings(ctx)
}

// Detect returns the ranked anomalies of one run.
func (d *Detector) Detect(ctx context.Context) ([]AnomalyRecord, error) {
	report, err := d.Run(ctx)
	if err != nil {
		return nil, err
	}
	return report.Anomalies, nil
}

// scoredGroup is a group that passed the size filter.
type scoredGroup struct {
	group    Group
	summary  int
	sample   *detectors.Sample
	features [][]float64
	scores   *GroupScores
}

// Run scores every eligible group and returns the full report.
func (d *Detector) Run(ctx context.Context) (*Report, error) {
	cfg := d.cfg
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	report := &Report{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Mode:      cfg.DetectionMode,
	}
	log := d.logger.With("run_id", report.RunID, "mode", cfg.DetectionMode.String())

	emb, err := d.cachedEmbeddings(ctx)
	if err != nil {
		return nil, err
	}
	var structure map[string][]float64
	if cfg.UseStructureFeatures {
		structure = d.StructuralFeatures()
	}

	nodes := d.g.Nodes()
	log.Info("graph anomaly run started", "nodes", len(nodes))

	var work []*scoredGroup
	for _, grp := range BuildGroups(nodes, cfg) {
		summary := GroupSummary{Name: grp.Name, Size: len(grp.NodeIDs)}
		if len(grp.NodeIDs) < cfg.minScoredGroupSize() {
			summary.Skipped = true
			report.Groups = append(report.Groups, summary)
			log.Debug("skipping undersized group", "group", grp.Name, "size", len(grp.NodeIDs))
			continue
		}

		sample, err := d.sample(grp, emb)
		if err != nil {
			return nil, err
		}
		sg := &scoredGroup{group: grp, summary: len(report.Groups), sample: sample}
		if structure != nil {
			sg.features = make([][]float64, len(grp.NodeIDs))
			for i, id := range grp.NodeIDs {
				sg.features[i] = structure[id]
			}
		}
		report.Groups = append(report.Groups, summary)
		work = append(work, sg)
	}

	if err := d.scoreAll(ctx, work); err != nil {
		return nil, err
	}

	weights := DefaultWeights(cfg)
	if cfg.learnsWeights() {
		pool := NewScorePool()
		for _, sg := range work {
			if len(sg.group.NodeIDs) >= cfg.minStackingGroupSize() {
				pool.Add(sg.scores.raw())
			}
		}
		weights, report.WeightsLearned = LearnWeights(pool, cfg)
		log.Info("stacking weights resolved",
			"learned", report.WeightsLearned,
			"pooled_rows", pool.Rows(),
			"weights", weights.String())
	}
	report.Weights = weights

	var anomalies []AnomalyRecord
	for _, sg := range work {
		summary := &report.Groups[sg.summary]
		for m, diag := range sg.scores.Degraded {
			summary.Degraded = append(summary.Degraded, m.String())
			log.Warn("scoring module degraded", "group", sg.group.Name, "module", m.String(), "diagnostic", diag)
		}
		sort.Strings(summary.Degraded)

		score, err := Combine(cfg.DetectionMode, sg.scores, weights, cfg)
		if err != nil {
			return nil, err
		}
		t := SelectThreshold(score, cfg)
		summary.Threshold = t.Value
		summary.Median = t.Spread.Median
		summary.MAD = t.Spread.MAD

		for _, row := range t.Flag(score) {
			id := sg.group.NodeIDs[row]
			var props map[string]any
			if n, ok := d.g.Node(id); ok {
				props = SanitizeProperties(n.Attrs)
			} else {
				props = map[string]any{}
			}
			anomalies = append(anomalies, buildRecord(id, props, sg.group, row, score[row], sg.scores, t, weights, cfg))
			summary.Flagged++
		}
	}

	sort.SliceStable(anomalies, func(i, j int) bool {
		return anomalies[i].OutlierScore > anomalies[j].OutlierScore
	})
	if cfg.TopK > 0 && len(anomalies) > cfg.TopK {
		anomalies = anomalies[:cfg.TopK]
	}
	report.Anomalies = anomalies
	report.Duration = time.Since(report.StartedAt)

	log.Info("graph anomaly run finished",
		"groups", len(report.Groups),
		"anomalies", len(anomalies),
		"duration", report.Duration)
	return report, nil
}

// sample assembles a group's embedding rows and in-group adjacency.
func (d *Detector) sample(grp Group, emb map[string][]float64) (*detectors.Sample, error) {
	s := &detectors.Sample{
		IDs:       grp.NodeIDs,
		Vectors:   make([][]float64, len(grp.NodeIDs)),
		Neighbors: make([][]int, len(grp.NodeIDs)),
	}

	index := make(map[string]int, len(grp.NodeIDs))
	dim := -1
	for i, id := range grp.NodeIDs {
		v, ok := emb[id]
		if !ok {
			return nil, fmt.Errorf("node %q in group %q: %w", id, grp.Name, ErrNoEmbedding)
		}
		if dim < 0 {
			dim = len(v)
		}
		if len(v) != dim || dim == 0 {
			return nil, fmt.Errorf("node %q has %d dimensions, want %d: %w", id, len(v), dim, ErrDimensionMismatch)
		}
		s.Vectors[i] = v
		index[id] = i
	}

	for i, id := range grp.NodeIDs {
		for _, nb := range d.g.Neighbors(id) {
			if j, ok := index[nb]; ok {
				s.Neighbors[i] = append(s.Neighbors[i], j)
			}
		}
	}
	return s, nil
}

// scoreAll runs the modules over every group. Groups are independent, so
// with Parallelism > 1 they are scored concurrently; each result lands in
// its own slot and the output matches a sequential run.
func (d *Detector) scoreAll(ctx context.Context, work []*scoredGroup) error {
	score := func(sg *scoredGroup) {
		sg.scores = ScoreSample(sg.sample, sg.features, d.cfg, groupSeed(d.cfg.Seed, sg.group.Name))
	}

	if d.cfg.Parallelism <= 1 {
		for _, sg := range work {
			if err := ctx.Err(); err != nil {
				return err
			}
			score(sg)
		}
		return nil
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(d.cfg.Parallelism)
	for _, sg := range work {
		sg := sg
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			score(sg)
			return nil
		})
	}
	return eg.Wait()
}

// groupSeed derives a per-group seed so random projections do not depend on
// the order groups are scored in.
func groupSeed(seed int64, group string) int64 {
	h := fnv.New64a()
	h.Write([]byte(group))
	return seed ^ int64(h.Sum64())
}

// GraphSource loads a graph, e.g. one of the pkg/io readers.
type GraphSource interface {
	ReadGraph(ctx context.Context) (*graph.Memory, error)
}

// DetectGraphAnomalies loads a graph from src, embeds it with the seeded
// aggregator configured by cfg, and returns the ranked anomalies.
func DetectGraphAnomalies(ctx context.Context, src GraphSource, cfg Config, opts ...Option) ([]AnomalyRecord, error) {
	g, err := src.ReadGraph(ctx)
	if err != nil {
		return nil, fmt.Errorf("load graph: %w", err)
	}
	provider := embedding.NewAggregator(g, cfg.EmbeddingParams())
	return New(g, provider, cfg, opts...).Detect(ctx)
}
