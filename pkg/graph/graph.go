// Package graph defines the read-only graph view consumed by the detectors
// and an in-memory implementation backed by gonum.
package graph

import (
	"errors"
	"fmt"
	"sort"

	gonumgraph "gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
)

// DefaultLabel is the label of nodes that carry no "label" attribute.
const DefaultLabel = "Entity"

var (
	// ErrSelfLoop is returned when an edge connects a node to itself.
	ErrSelfLoop = errors.New("self loops are not supported")
	// ErrEmptyGraph is returned by readers that produced no nodes.
	ErrEmptyGraph = errors.New("graph has no nodes")
)

// Node is a graph vertex with its attributes.
type Node struct {
	ID    string
	Attrs map[string]any
}

// Label returns the node's label attribute, or DefaultLabel.
func (n Node) Label() string {
	v, ok := n.Attrs["label"]
	if !ok || v == nil {
		return DefaultLabel
	}
	return fmt.Sprint(v)
}

// Graph is the topology view used for structural features, grouping and
// neighbor-based scoring.
type Graph interface {
	// Nodes returns every node in a stable order.
	Nodes() []Node
	// Node looks up a node by id.
	Node(id string) (Node, bool)
	// Neighbors returns successors for directed graphs, adjacent nodes otherwise.
	Neighbors(id string) []string
	// Predecessors returns nodes with an edge into id. Equal to Neighbors when undirected.
	Predecessors(id string) []string
	// Degree is the total degree (in + out for directed graphs).
	Degree(id string) int
	InDegree(id string) int
	OutDegree(id string) int
	IsDirected() bool
}

type builder interface {
	gonumgraph.Graph
	NewNode() gonumgraph.Node
	AddNode(gonumgraph.Node)
	SetEdge(gonumgraph.Edge)
}

// Memory is an in-memory Graph. Node and neighbor order follow insertion
// order so that scoring over it is reproducible.
type Memory struct {
	g        builder
	directed bool
	ids      map[string]int64
	nodes    []Node
	index    map[int64]int
}

// NewMemory creates an empty graph.
func NewMemory(directed bool) *Memory {
	var g builder
	if directed {
		g = simple.NewDirectedGraph()
	} else {
		g = simple.NewUndirectedGraph()
	}
	return &Memory{
		g:        g,
		directed: directed,
		ids:      make(map[string]int64),
		index:    make(map[int64]int),
	}
}

// AddNode inserts a node or merges attrs into an existing one.
func (m *Memory) AddNode(id string, attrs map[string]any) {
	if gid, ok := m.ids[id]; ok {
		n := m.nodes[m.index[gid]]
		for k, v := range attrs {
			n.Attrs[k] = v
		}
		return
	}

	copied := make(map[string]any, len(attrs))
	for k, v := range attrs {
		copied[k] = v
	}

	gn := m.g.NewNode()
	m.g.AddNode(gn)
	m.ids[id] = gn.ID()
	m.index[gn.ID()] = len(m.nodes)
	m.nodes = append(m.nodes, Node{ID: id, Attrs: copied})
}

// AddEdge connects from and to, creating missing endpoints without attributes.
func (m *Memory) AddEdge(from, to string) error {
	if from == to {
		return fmt.Errorf("edge %s -> %s: %w", from, to, ErrSelfLoop)
	}
	m.AddNode(from, nil)
	m.AddNode(to, nil)
	m.g.SetEdge(simple.Edge{F: simple.Node(m.ids[from]), T: simple.Node(m.ids[to])})
	return nil
}

// Len returns the number of nodes.
func (m *Memory) Len() int {
	return len(m.nodes)
}

func (m *Memory) Nodes() []Node {
	out := make([]Node, len(m.nodes))
	copy(out, m.nodes)
	return out
}

func (m *Memory) Node(id string) (Node, bool) {
	gid, ok := m.ids[id]
	if !ok {
		return Node{}, false
	}
	return m.nodes[m.index[gid]], true
}

func (m *Memory) Neighbors(id string) []string {
	gid, ok := m.ids[id]
	if !ok {
		return nil
	}
	return m.collect(m.g.From(gid))
}

func (m *Memory) Predecessors(id string) []string {
	gid, ok := m.ids[id]
	if !ok {
		return nil
	}
	if !m.directed {
		return m.collect(m.g.From(gid))
	}
	return m.collect(m.g.(*simple.DirectedGraph).To(gid))
}

func (m *Memory) Degree(id string) int {
	if !m.directed {
		return m.OutDegree(id)
	}
	return m.InDegree(id) + m.OutDegree(id)
}

func (m *Memory) InDegree(id string) int {
	return len(m.Predecessors(id))
}

func (m *Memory) OutDegree(id string) int {
	return len(m.Neighbors(id))
}

func (m *Memory) IsDirected() bool {
	return m.directed
}

// collect resolves gonum node ids back to string ids in insertion order.
func (m *Memory) collect(it gonumgraph.Nodes) []string {
	var pos []int
	for it.Next() {
		pos = append(pos, m.index[it.Node().ID()])
	}
	sort.Ints(pos)

	out := make([]string, len(pos))
	for i, p := range pos {
		out[i] = m.nodes[p].ID
	}
	return out
}
