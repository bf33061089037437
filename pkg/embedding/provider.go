// Package embedding defines how detectors obtain node vectors and ships two
// providers: a seeded neighborhood aggregator and a static lookup table.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownMethod is returned for unsupported aggregation methods.
	ErrUnknownMethod = errors.New("unknown aggregation method")
	// ErrUnknownDirection is returned for unsupported neighbor directions.
	ErrUnknownDirection = errors.New("unknown aggregation direction")
)

// Provider maps node ids to embedding vectors.
type Provider interface {
	ComputeNodeEmbeddings(ctx context.Context, method Method, numLayers int) (map[string][]float64, error)
}

// Method is the neighbor aggregation rule.
type Method string

const (
	MethodMean Method = "mean"
	MethodSum  Method = "sum"
	// MethodGAT weights neighbors by a softmax over cosine similarity.
	MethodGAT Method = "gat"
)

// ParseMethod validates a method name.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case MethodMean, MethodSum, MethodGAT:
		return m, nil
	}
	return "", fmt.Errorf("%q: %w", s, ErrUnknownMethod)
}

// Direction selects which edges feed aggregation on directed graphs.
type Direction string

const (
	DirectionIn   Direction = "in"
	DirectionOut  Direction = "out"
	DirectionBoth Direction = "both"
)

// ParseDirection validates a direction name.
func ParseDirection(s string) (Direction, error) {
	d := Direction(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case DirectionIn, DirectionOut, DirectionBoth:
		return d, nil
	}
	return "", fmt.Errorf("%q: %w", s, ErrUnknownDirection)
}

// Params configures an Aggregator.
type Params struct {
	Dim       int
	NumLayers int
	Method    Method
	Direction Direction
	// Alpha is the share of a node's own previous state kept per layer.
	Alpha float64
	// Hierarchical blends the mean of all layer states into the output.
	Hierarchical    bool
	HierarchyWeight float64
	Seed            int64
}

// DefaultParams mirrors the detector defaults.
func DefaultParams() Params {
	return Params{
		Dim:             64,
		NumLayers:       2,
		Method:          MethodGAT,
		Direction:       DirectionBoth,
		Alpha:           0.5,
		Hierarchical:    true,
		HierarchyWeight: 0.2,
		Seed:            42,
	}
}

// Static serves precomputed vectors, e.g. loaded from a file.
type Static map[string][]float64

// ComputeNodeEmbeddings returns a copy of the table; method and layers are ignored.
func (s Static) ComputeNodeEmbeddings(ctx context.Context, _ Method, _ int) (map[string][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string][]float64, len(s))
	for id, v := range s {
		c := make([]float64, len(v))
		copy(c, v)
		out[id] = c
	}
	return out, nil
}
