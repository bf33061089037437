package graphanomaly

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/hed1ad/graphguard/pkg/detectors"
)

// ZScore is a robust z-score that may be +Inf when the group's spread is
// degenerate. Infinite values are encoded as the JSON strings "Infinity"
// and "-Infinity".
type ZScore float64

// MarshalJSON implements json.Marshaler.
func (z ZScore) MarshalJSON() ([]byte, error) {
	v := float64(z)
	switch {
	case math.IsInf(v, 1):
		return []byte(`"Infinity"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Infinity"`), nil
	case math.IsNaN(v):
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(v, 'f', -1, 64)), nil
}

// AnomalyRecord describes one flagged node.
type AnomalyRecord struct {
	NodeID       string  `json:"node_id"`
	Label        string  `json:"label"`
	OutlierScore float64 `json:"outlier_score"`

	DistanceToGroupCentroid float64 `json:"distance_to_group_centroid"`
	DistanceToGroupKNN      float64 `json:"distance_to_group_knn"`
	OneClassScore           float64 `json:"one_class_score"`
	OneClassRadius          float64 `json:"one_class_radius"`
	ReconstructionScore     float64 `json:"reconstruction_score"`
	FeatureReconError       float64 `json:"feature_recon_error"`
	NeighborReconError      float64 `json:"neighbor_recon_error"`
	KNNDistributionScore    float64 `json:"knn_distribution_score"`
	KNNDistanceRaw          float64 `json:"knn_distance_raw"`
	GraphReconScore         float64 `json:"graph_recon_score"`
	RadiusScore             float64 `json:"radius_score"`
	StructureScore          float64 `json:"structure_score"`

	WeightedContribution float64            `json:"weighted_contribution"`
	Contributions        map[string]float64 `json:"contributions"`

	Group         string         `json:"group"`
	GroupSize     int            `json:"group_size"`
	DetectionMode detectors.Mode `json:"detection_mode"`
	Threshold     float64        `json:"threshold"`
	RobustZ       ZScore         `json:"robust_z"`
	Weights       Weights        `json:"weights"`
	Degraded      []string       `json:"degraded,omitempty"`

	Reason     string         `json:"reason"`
	Properties map[string]any `json:"properties"`
}

func round6(v float64) float64 {
	return roundTo(v, 1e6)
}

func roundTo(v, scale float64) float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return v
	}
	return math.Round(v*scale) / scale
}

// weightedContribution sums weight * module score over the five modules that
// carry configured weights.
func weightedContribution(w Weights, s *GroupScores, row int) float64 {
	var sum float64
	for _, m := range detectors.ScoringModules() {
		if m == detectors.ModuleLegacy {
			continue
		}
		sum += w.Get(m) * s.Module(m)[row]
	}
	return sum
}

func buildRecord(
	id string,
	props map[string]any,
	group Group,
	row int,
	score float64,
	s *GroupScores,
	t Threshold,
	w Weights,
	cfg Config,
) AnomalyRecord {
	mode := cfg.DetectionMode
	z := t.Spread.Z(score)
	contrib := weightedContribution(w, s, row)

	contributions := make(map[string]float64, 7)
	modules := append(detectors.ScoringModules(), detectors.ModuleStructure)
	for _, m := range modules {
		contributions[m.String()] = roundTo(s.Module(m)[row], 1e4)
	}
	if !cfg.UseStructureFeatures {
		contributions[detectors.ModuleStructure.String()] = 0
	}

	var degraded []string
	for m := range s.Degraded {
		degraded = append(degraded, m.String())
	}
	sort.Strings(degraded)

	label := group.Name
	if v, ok := props["label"]; ok && v != nil {
		label = fmt.Sprint(v)
	}

	return AnomalyRecord{
		NodeID:                  id,
		Label:                   label,
		OutlierScore:            round6(score),
		DistanceToGroupCentroid: round6(s.CentroidDist[row]),
		DistanceToGroupKNN:      round6(s.PeerDist[row]),
		OneClassScore:           round6(s.OneClass[row]),
		OneClassRadius:          round6(s.OneClassRadius),
		ReconstructionScore:     round6(s.Reconstruction[row]),
		FeatureReconError:       round6(s.FeatureError[row]),
		NeighborReconError:      round6(s.NeighborError[row]),
		KNNDistributionScore:    round6(s.KNN[row]),
		KNNDistanceRaw:          round6(s.KNNRaw[row]),
		GraphReconScore:         round6(s.GraphRecon[row]),
		RadiusScore:             round6(s.Radius[row]),
		StructureScore:          round6(contributionOrZero(cfg, s.Structure[row])),
		WeightedContribution:    round6(contrib),
		Contributions:           contributions,
		Group:                   group.Name,
		GroupSize:               len(group.NodeIDs),
		DetectionMode:           mode,
		Threshold:               round6(t.Value),
		RobustZ:                 ZScore(roundTo(z, 1e6)),
		Weights:                 w.Clone(),
		Degraded:                degraded,
		Reason:                  reason(group.Name, mode, score, t.Value, s, row, z, contrib),
		Properties:              props,
	}
}

func contributionOrZero(cfg Config, v float64) float64 {
	if !cfg.UseStructureFeatures {
		return 0
	}
	return v
}

func reason(group string, mode detectors.Mode, score, threshold float64, s *GroupScores, row int, z, contrib float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "group=%s, mode=%s, score=%.4f > threshold=%.4f", group, mode, score, threshold)
	for _, m := range detectors.ScoringModules() {
		fmt.Fprintf(&b, ", %s=%.4f", m, s.Module(m)[row])
	}
	fmt.Fprintf(&b, ", robust_z=%.2f, weighted_contribution=%.4f", z, contrib)
	return b.String()
}

// SanitizeProperties keeps primitive attribute values and stringifies the
// rest. Non-finite floats are stringified so records always encode as JSON.
func SanitizeProperties(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		switch tv := v.(type) {
		case nil, string, bool,
			int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64:
			out[k] = v
		case float32:
			out[k] = finiteOrString(float64(tv))
		case float64:
			out[k] = finiteOrString(tv)
		default:
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}

func finiteOrString(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Sprint(v)
	}
	return v
}
