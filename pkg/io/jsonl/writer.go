// Package jsonl writes anomaly records as JSON Lines.
package jsonl

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/hed1ad/graphguard/pkg/detectors/graphanomaly"
)

// Writer encodes one record per line. It is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
}

// NewWriter writes to w. Close does not close w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: json.NewEncoder(w)}
}

// Create opens path for writing, truncating it. The path "-" writes to
// standard output.
func Create(path string) (*Writer, error) {
	if path == "-" {
		return NewWriter(os.Stdout), nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := NewWriter(f)
	w.closer = f
	return w, nil
}

// Write outputs a single record.
func (w *Writer) Write(rec graphanomaly.AnomalyRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(rec); err != nil {
		return fmt.Errorf("encode %s: %w", rec.NodeID, err)
	}
	return nil
}

// WriteAll outputs multiple records.
func (w *Writer) WriteAll(recs []graphanomaly.AnomalyRecord) error {
	for _, rec := range recs {
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

// Close releases resources.
func (w *Writer) Close() error {
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}
