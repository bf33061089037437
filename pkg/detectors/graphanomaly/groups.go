package graphanomaly

import (
	"github.com/hed1ad/graphguard/pkg/graph"
)

// GroupAll names the single group used when grouping by label is disabled.
const GroupAll = "ALL"

// Group is a population of nodes scored against its own statistics.
type Group struct {
	Name    string
	NodeIDs []string
}

// BuildGroups partitions nodes by label (or into GroupAll), applying the
// label allow-list. Groups appear in order of their first node. Size
// filtering is left to the caller so skipped groups can still be reported.
func BuildGroups(nodes []graph.Node, cfg Config) []Group {
	allow := make(map[string]struct{}, len(cfg.Labels))
	for _, l := range cfg.Labels {
		allow[l] = struct{}{}
	}
	keep := func(label string) bool {
		if len(allow) == 0 {
			return true
		}
		_, ok := allow[label]
		return ok
	}

	if !cfg.GroupByLabel {
		ids := make([]string, 0, len(nodes))
		for _, n := range nodes {
			if keep(n.Label()) {
				ids = append(ids, n.ID)
			}
		}
		return []Group{{Name: GroupAll, NodeIDs: ids}}
	}

	var groups []Group
	index := make(map[string]int)
	for _, n := range nodes {
		label := n.Label()
		if !keep(label) {
			continue
		}
		i, ok := index[label]
		if !ok {
			i = len(groups)
			index[label] = i
			groups = append(groups, Group{Name: label})
		}
		groups[i].NodeIDs = append(groups[i].NodeIDs, n.ID)
	}
	return groups
}
