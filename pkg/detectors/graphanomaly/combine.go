package graphanomaly

import (
	"fmt"
	"math"

	"github.com/hed1ad/graphguard/pkg/detectors"
	"github.com/hed1ad/graphguard/pkg/detectors/robust"
)

// GroupScores holds every module's output for one group, in row order.
type GroupScores struct {
	Legacy         []float64
	CentroidDist   []float64
	PeerDist       []float64
	OneClass       []float64
	OneClassRadius float64
	Reconstruction []float64
	FeatureError   []float64
	NeighborError  []float64
	KNN            []float64
	KNNRaw         []float64
	GraphRecon     []float64
	Radius         []float64
	Structure      []float64

	// Degraded maps modules that fell back to their diagnostic.
	Degraded map[detectors.Module]string
}

// Module returns the raw scores of m.
func (s *GroupScores) Module(m detectors.Module) []float64 {
	switch m {
	case detectors.ModuleLegacy:
		return s.Legacy
	case detectors.ModuleOneClass:
		return s.OneClass
	case detectors.ModuleReconstruction:
		return s.Reconstruction
	case detectors.ModuleKNNDistribution:
		return s.KNN
	case detectors.ModuleGraphRecon:
		return s.GraphRecon
	case detectors.ModuleRadius:
		return s.Radius
	case detectors.ModuleStructure:
		return s.Structure
	}
	return nil
}

// raw returns every scoring module's scores keyed by module.
func (s *GroupScores) raw() map[detectors.Module][]float64 {
	out := make(map[detectors.Module][]float64, 6)
	for _, m := range detectors.ScoringModules() {
		out[m] = s.Module(m)
	}
	return out
}

func (s *GroupScores) record(m detectors.Module, o detectors.Outcome) []float64 {
	if o.Degraded {
		if s.Degraded == nil {
			s.Degraded = make(map[detectors.Module]string)
		}
		s.Degraded[m] = o.Diagnostic
	}
	return o.Scores
}

// ScoreSample runs all six modules, and the structure score when structure
// rows are given, over one group.
func ScoreSample(sample *detectors.Sample, structure [][]float64, cfg Config, seed int64) *GroupScores {
	s := &GroupScores{}

	legacy, ld := LegacyScorer{K: cfg.KNNK}.Detail(sample)
	s.Legacy = s.record(detectors.ModuleLegacy, legacy)
	s.CentroidDist, s.PeerDist = ld.CentroidDist, ld.PeerDist

	oneClass, radius := OneClassScorer{RadiusQuantile: cfg.OneClassRadiusQuantile}.Detail(sample)
	s.OneClass = s.record(detectors.ModuleOneClass, oneClass)
	s.OneClassRadius = radius

	recon, rd := ReconstructionScorer{
		RankRatio:      cfg.ReconstructionRankRatio,
		MinRank:        cfg.ReconstructionMinRank,
		NeighborWeight: cfg.ReconstructionNeighborWeight,
	}.Detail(sample)
	s.Reconstruction = s.record(detectors.ModuleReconstruction, recon)
	s.FeatureError, s.NeighborError = rd.FeatureError, rd.NeighborError

	knn, raw := KNNDistributionScorer{K: cfg.KNNK}.Detail(sample)
	s.KNN = s.record(detectors.ModuleKNNDistribution, knn)
	s.KNNRaw = raw

	s.GraphRecon = s.record(detectors.ModuleGraphRecon,
		GraphReconScorer{HiddenDims: cfg.GAEHiddenDims, Seed: seed}.Score(sample))
	s.Radius = s.record(detectors.ModuleRadius,
		RadiusScorer{RadiusQuantile: cfg.OneClassRadiusQuantile}.Score(sample))

	if structure != nil {
		s.Structure = s.record(detectors.ModuleStructure, StructureScore(structure, cfg.StructureMethod, seed))
	} else {
		s.Structure = make([]float64, sample.Len())
	}
	return s
}

// Combine produces the final per-node score for mode.
func Combine(mode detectors.Mode, s *GroupScores, w Weights, cfg Config) ([]float64, error) {
	switch mode {
	case detectors.ModeLegacy:
		return s.Legacy, nil
	case detectors.ModeOneClass:
		return s.OneClass, nil
	case detectors.ModeReconstruction:
		return s.Reconstruction, nil
	case detectors.ModeKNNDistribution:
		return s.KNN, nil
	case detectors.ModeGraphRecon:
		return s.GraphRecon, nil
	case detectors.ModeRadius:
		return s.Radius, nil
	case detectors.ModeStacking:
		return stack(s, w, cfg), nil
	case detectors.ModeEnsemble:
		return ensemble(s, cfg), nil
	}
	return nil, fmt.Errorf("combine %v: %w", mode, detectors.ErrUnknownMode)
}

// stack is the weighted mean of the tail-scored modules plus, when enabled,
// the structure score weighted by StructureWeight.
func stack(s *GroupScores, w Weights, cfg Config) []float64 {
	n := len(s.Legacy)
	out := make([]float64, n)
	var total float64

	add := func(weight float64, scores []float64) {
		if weight <= 0 {
			return
		}
		total += weight
		for i, v := range robust.TailScore(scores) {
			out[i] += weight * v
		}
	}
	for _, m := range detectors.ScoringModules() {
		add(w.Get(m), s.Module(m))
	}
	if cfg.UseStructureFeatures {
		add(math.Max(0, cfg.StructureWeight), s.Structure)
	}

	if total <= robust.Epsilon {
		total = 1
	}
	for i := range out {
		out[i] /= total
	}
	return out
}

// ensemble averages the one-class, reconstruction and knn tail scores with
// their configured weights, or unweighted when every weight is zero.
func ensemble(s *GroupScores, cfg Config) []float64 {
	parts := []struct {
		weight float64
		scores []float64
	}{
		{math.Max(0, cfg.WeightOneClass), robust.TailScore(s.OneClass)},
		{math.Max(0, cfg.WeightReconstruction), robust.TailScore(s.Reconstruction)},
		{math.Max(0, cfg.WeightKNNDistribution), robust.TailScore(s.KNN)},
	}

	var total float64
	for _, p := range parts {
		total += p.weight
	}
	if total <= robust.Epsilon {
		for i := range parts {
			parts[i].weight = 1
		}
		total = float64(len(parts))
	}

	out := make([]float64, len(s.OneClass))
	for _, p := range parts {
		for i, v := range p.scores {
			out[i] += p.weight * v
		}
	}
	for i := range out {
		out[i] /= total
	}
	return out
}
