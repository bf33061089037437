// Package detectors provides the vocabulary shared by the graph anomaly
// scoring modules: detection modes, module identities, and the fallible
// score result every module returns.
package detectors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownMode is returned when a detection mode string is not recognised.
var ErrUnknownMode = errors.New("unknown detection mode")

// Mode selects how module scores become the final outlier score.
type Mode int

const (
	ModeLegacy Mode = iota
	ModeOneClass
	ModeReconstruction
	ModeKNNDistribution
	// ModeGraphRecon scores with the random-projection graph reconstruction
	// heuristic (configured as "gae").
	ModeGraphRecon
	// ModeRadius scores with the distance-beyond-radius heuristic
	// (configured as "deep_svdd").
	ModeRadius
	ModeStacking
	ModeEnsemble
)

var modeNames = [...]string{
	ModeLegacy:          "legacy",
	ModeOneClass:        "one_class",
	ModeReconstruction:  "reconstruction",
	ModeKNNDistribution: "knn_distribution",
	ModeGraphRecon:      "gae",
	ModeRadius:          "deep_svdd",
	ModeStacking:        "stacking",
	ModeEnsemble:        "ensemble",
}

// Modes lists every detection mode.
func Modes() []Mode {
	return []Mode{
		ModeLegacy, ModeOneClass, ModeReconstruction, ModeKNNDistribution,
		ModeGraphRecon, ModeRadius, ModeStacking, ModeEnsemble,
	}
}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return modeNames[m]
}

// ParseMode converts a configured mode name. "graph_recon" and "radius" are
// accepted as aliases of "gae" and "deep_svdd".
func ParseMode(s string) (Mode, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	switch key {
	case "graph_recon":
		return ModeGraphRecon, nil
	case "radius":
		return ModeRadius, nil
	}
	for m, name := range modeNames {
		if name == key {
			return Mode(m), nil
		}
	}
	return 0, fmt.Errorf("%q: %w", s, ErrUnknownMode)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Module identifies one scoring heuristic.
type Module int

const (
	ModuleLegacy Module = iota
	ModuleOneClass
	ModuleReconstruction
	ModuleKNNDistribution
	ModuleGraphRecon
	ModuleRadius
	// ModuleStructure is the structural-feature score; it is not one of the
	// six embedding modules and only takes part in stacking.
	ModuleStructure
)

var moduleNames = [...]string{
	ModuleLegacy:          "legacy",
	ModuleOneClass:        "one_class",
	ModuleReconstruction:  "reconstruction",
	ModuleKNNDistribution: "knn_distribution",
	ModuleGraphRecon:      "graph_recon",
	ModuleRadius:          "radius",
	ModuleStructure:       "structure",
}

// ScoringModules lists the six embedding modules in reporting order.
func ScoringModules() []Module {
	return []Module{
		ModuleLegacy, ModuleOneClass, ModuleReconstruction,
		ModuleKNNDistribution, ModuleGraphRecon, ModuleRadius,
	}
}

func (m Module) String() string {
	if m < 0 || int(m) >= len(moduleNames) {
		return fmt.Sprintf("Module(%d)", int(m))
	}
	return moduleNames[m]
}

// MarshalText lets Module be used as a JSON map key.
func (m Module) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Outcome is the result of a fallible scoring computation. When a numerical
// step fails the module still returns usable Scores (zeros or a neutral
// fallback) and marks itself Degraded.
type Outcome struct {
	Scores     []float64
	Degraded   bool
	Diagnostic string
}

// Fallback builds a degraded outcome of n zero scores.
func Fallback(n int, format string, args ...any) Outcome {
	return Outcome{
		Scores:     make([]float64, n),
		Degraded:   true,
		Diagnostic: fmt.Sprintf(format, args...),
	}
}

// Sample is the per-group view a scorer works on.
type Sample struct {
	// IDs are the node ids in row order.
	IDs []string
	// Vectors are the raw embeddings, one row per node.
	Vectors [][]float64
	// Neighbors holds, per row, the row indices of in-group neighbors.
	Neighbors [][]int
}

// Len returns the number of rows.
func (s *Sample) Len() int {
	return len(s.Vectors)
}

// NeighborsOf returns the in-group neighbor rows of row i.
func (s *Sample) NeighborsOf(i int) []int {
	if i >= len(s.Neighbors) {
		return nil
	}
	return s.Neighbors[i]
}

// Scorer is a single anomaly heuristic over a group sample. Higher scores
// indicate more anomalous nodes.
type Scorer interface {
	Module() Module
	Score(s *Sample) Outcome
}
