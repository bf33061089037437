// Package io provides graph ingestion and anomaly report output.
package io

import (
	"context"

	"github.com/hed1ad/graphguard/pkg/detectors/graphanomaly"
	"github.com/hed1ad/graphguard/pkg/embedding"
	"github.com/hed1ad/graphguard/pkg/graph"
)

// GraphReader loads a property graph from some source.
type GraphReader interface {
	// ReadGraph returns the complete graph.
	ReadGraph(ctx context.Context) (*graph.Memory, error)

	// Close releases resources.
	Close() error
}

// EmbeddingReader loads precomputed node vectors.
type EmbeddingReader interface {
	// ReadEmbeddings returns one vector per node id.
	ReadEmbeddings(ctx context.Context) (embedding.Static, error)

	// Close releases resources.
	Close() error
}

// Writer is the interface for writing detection results.
type Writer interface {
	// Write outputs a single record.
	Write(rec graphanomaly.AnomalyRecord) error

	// WriteAll outputs multiple records.
	WriteAll(recs []graphanomaly.AnomalyRecord) error

	// Close releases resources.
	Close() error
}

// MultiWriter fans records out to every writer in order. Close closes all
// writers and returns the first error.
type MultiWriter []Writer

func (m MultiWriter) Write(rec graphanomaly.AnomalyRecord) error {
	for _, w := range m {
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiWriter) WriteAll(recs []graphanomaly.AnomalyRecord) error {
	for _, w := range m {
		if err := w.WriteAll(recs); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiWriter) Close() error {
	var first error
	for _, w := range m {
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
