package graphanomaly

import (
	"fmt"
	"strings"
	"time"

	"github.com/hed1ad/graphguard/pkg/detectors"
)

// GroupSummary records how one group was handled in a run.
type GroupSummary struct {
	Name      string   `json:"name"`
	Size      int      `json:"size"`
	Skipped   bool     `json:"skipped"`
	Threshold float64  `json:"threshold"`
	Median    float64  `json:"median"`
	MAD       float64  `json:"mad"`
	Flagged   int      `json:"flagged"`
	Degraded  []string `json:"degraded,omitempty"`
}

// Report is the complete output of one run.
type Report struct {
	RunID          string          `json:"run_id"`
	StartedAt      time.Time       `json:"started_at"`
	Duration       time.Duration   `json:"duration"`
	Mode           detectors.Mode  `json:"mode"`
	Weights        Weights         `json:"weights"`
	WeightsLearned bool            `json:"weights_learned"`
	Groups         []GroupSummary  `json:"groups"`
	Anomalies      []AnomalyRecord `json:"anomalies"`
}

// String renders weights in module order, e.g. "legacy=0.1000 one_class=0.2000".
func (w Weights) String() string {
	parts := make([]string, 0, len(w))
	for _, m := range detectors.ScoringModules() {
		if v, ok := w[m]; ok {
			parts = append(parts, fmt.Sprintf("%s=%.4f", m, v))
		}
	}
	return strings.Join(parts, " ")
}
