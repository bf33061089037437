package graphanomaly

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hed1ad/graphguard/pkg/detectors"
	"github.com/hed1ad/graphguard/pkg/embedding"
)

// ErrUnknownStructureMethod is returned for unsupported structure scorers.
var ErrUnknownStructureMethod = errors.New("unknown structure method")

// StructureMethod selects how structural feature rows become a score.
type StructureMethod string

const (
	// StructurePCA scores by the magnitude of the projection onto the first
	// principal component of the centered feature rows.
	StructurePCA StructureMethod = "pca"
	// StructureIsolation scores with a seeded isolation forest.
	StructureIsolation StructureMethod = "isolation"
)

// UnmarshalText validates the method name.
func (m *StructureMethod) UnmarshalText(text []byte) error {
	v := StructureMethod(strings.ToLower(strings.TrimSpace(string(text))))
	switch v {
	case StructurePCA, StructureIsolation:
		*m = v
		return nil
	}
	return fmt.Errorf("%q: %w", string(text), ErrUnknownStructureMethod)
}

// Config holds every detector tunable. It is a plain value: the detector
// copies it at construction and never mutates it. Out-of-range values are
// clamped where they are used rather than rejected.
type Config struct {
	// Embedding provider parameters.
	EmbeddingDim     int                 `yaml:"embedding_dim"`
	NumLayers        int                 `yaml:"num_layers"`
	AggregatorMethod embedding.Method    `yaml:"aggregator_method"`
	Direction        embedding.Direction `yaml:"direction"`
	Alpha            float64             `yaml:"alpha"`
	Hierarchical     bool                `yaml:"hierarchical"`
	HierarchyWeight  float64             `yaml:"hierarchy_weight"`
	Seed             int64               `yaml:"seed"`

	// Grouping.
	GroupByLabel bool     `yaml:"group_by_label"`
	Labels       []string `yaml:"labels"`
	MinGroupSize int      `yaml:"min_group_size"`

	// Thresholding.
	Quantile            float64 `yaml:"quantile"`
	MADMultiplier       float64 `yaml:"mad_multiplier"`
	MinAbsoluteDistance float64 `yaml:"min_absolute_distance"`

	// Scoring modules.
	DetectionMode                detectors.Mode `yaml:"detection_mode"`
	OneClassRadiusQuantile       float64        `yaml:"one_class_radius_quantile"`
	ReconstructionRankRatio      float64        `yaml:"reconstruction_rank_ratio"`
	ReconstructionMinRank        int            `yaml:"reconstruction_min_rank"`
	ReconstructionNeighborWeight float64        `yaml:"reconstruction_neighbor_weight"`
	KNNK                         int            `yaml:"knn_k"`
	GAEHiddenDims                []int          `yaml:"gae_hidden_dims"`

	// Combination weights, also the stacking fallback.
	WeightOneClass        float64 `yaml:"weight_one_class"`
	WeightReconstruction  float64 `yaml:"weight_reconstruction"`
	WeightKNNDistribution float64 `yaml:"weight_knn_distribution"`
	WeightGAE             float64 `yaml:"weight_gae"`
	WeightDeepSVDD        float64 `yaml:"weight_deep_svdd"`
	UseStacking           bool    `yaml:"use_stacking"`

	// Structural features.
	UseStructureFeatures bool            `yaml:"use_structure_features"`
	StructureWeight      float64         `yaml:"structure_weight"`
	StructureMethod      StructureMethod `yaml:"structure_method"`

	// TopK truncates the ranked output; 0 or less keeps every anomaly.
	TopK int `yaml:"top_k"`
	// Parallelism bounds concurrent group scoring; 1 or less is sequential.
	Parallelism int `yaml:"parallelism"`
}

// DefaultConfig returns the stock detector configuration.
func DefaultConfig() Config {
	return Config{
		EmbeddingDim:     64,
		NumLayers:        2,
		AggregatorMethod: embedding.MethodGAT,
		Direction:        embedding.DirectionBoth,
		Alpha:            0.5,
		Hierarchical:     true,
		HierarchyWeight:  0.2,
		Seed:             42,

		GroupByLabel: true,
		MinGroupSize: 8,

		Quantile:            0.95,
		MADMultiplier:       3.0,
		MinAbsoluteDistance: 0.15,

		DetectionMode:                detectors.ModeStacking,
		OneClassRadiusQuantile:       0.9,
		ReconstructionRankRatio:      0.4,
		ReconstructionMinRank:        2,
		ReconstructionNeighborWeight: 0.35,
		KNNK:                         5,
		GAEHiddenDims:                []int{64, 32},

		WeightOneClass:        0.25,
		WeightReconstruction:  0.25,
		WeightKNNDistribution: 0.2,
		WeightGAE:             0.15,
		WeightDeepSVDD:        0.15,
		UseStacking:           true,

		UseStructureFeatures: true,
		StructureWeight:      0.1,
		StructureMethod:      StructurePCA,

		TopK:        100,
		Parallelism: 1,
	}
}

// LoadConfig reads a YAML file over DefaultConfig. Keys absent from the file
// keep their defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML bytes over DefaultConfig.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// EmbeddingParams extracts the provider parameters.
func (c Config) EmbeddingParams() embedding.Params {
	return embedding.Params{
		Dim:             c.EmbeddingDim,
		NumLayers:       c.NumLayers,
		Method:          c.AggregatorMethod,
		Direction:       c.Direction,
		Alpha:           c.Alpha,
		Hierarchical:    c.Hierarchical,
		HierarchyWeight: c.HierarchyWeight,
		Seed:            c.Seed,
	}
}

// minScoredGroupSize is the smallest group that is scored at all.
func (c Config) minScoredGroupSize() int {
	return max(3, c.MinGroupSize)
}

// minStackingGroupSize is the smallest group that feeds the weight learner.
func (c Config) minStackingGroupSize() int {
	return max(10, 2*c.MinGroupSize)
}

// learnsWeights reports whether this configuration trains stacking weights.
func (c Config) learnsWeights() bool {
	return c.UseStacking && c.DetectionMode == detectors.ModeStacking
}

func (c Config) validate() error {
	for _, m := range detectors.Modes() {
		if m == c.DetectionMode {
			return nil
		}
	}
	return fmt.Errorf("mode %d: %w", int(c.DetectionMode), detectors.ErrUnknownMode)
}
