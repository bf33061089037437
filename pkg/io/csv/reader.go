// Package csv reads property graphs and node embeddings from CSV files.
//
// A nodes file has a header whose first column is the node id; a column
// named "label" sets the node label and every other column becomes an
// attribute. An edges file lists source and target ids in its first two
// columns. An embeddings file lists a node id followed by the vector.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/hed1ad/graphguard/pkg/embedding"
	"github.com/hed1ad/graphguard/pkg/graph"
)

// ErrMissingID is returned for a nodes file without an id column.
var ErrMissingID = errors.New("missing id column")

// Reader reads a graph from a nodes file and an optional edges file.
type Reader struct {
	nodes     *os.File
	edges     *os.File
	edgesPath string
	directed  bool
	hasHeader bool
	comma     rune
}

// Option configures a CSV reader.
type Option func(*Reader)

// WithHeader indicates the edges and embeddings files have a header row.
// Nodes files always carry one.
func WithHeader(has bool) Option {
	return func(r *Reader) {
		r.hasHeader = has
	}
}

// WithEdges reads edges from path.
func WithEdges(path string) Option {
	return func(r *Reader) {
		r.edgesPath = path
	}
}

// WithDirected builds a directed graph.
func WithDirected(directed bool) Option {
	return func(r *Reader) {
		r.directed = directed
	}
}

// WithComma sets the field delimiter.
func WithComma(c rune) Option {
	return func(r *Reader) {
		r.comma = c
	}
}

// NewReader opens the nodes file and, when configured, the edges file.
func NewReader(nodesPath string, opts ...Option) (*Reader, error) {
	r := &Reader{hasHeader: true, comma: ','}
	for _, opt := range opts {
		opt(r)
	}

	file, err := os.Open(nodesPath)
	if err != nil {
		return nil, err
	}
	r.nodes = file

	if r.edgesPath != "" {
		edges, err := os.Open(r.edgesPath)
		if err != nil {
			file.Close()
			return nil, err
		}
		r.edges = edges
	}
	return r, nil
}

func (r *Reader) csvReader(f io.Reader) *csv.Reader {
	cr := csv.NewReader(f)
	cr.Comma = r.comma
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return cr
}

// ReadGraph reads every node and edge. Edges may name nodes missing from
// the nodes file; those nodes are created without attributes. Self loops
// and rows with fewer than two columns are skipped.
func (r *Reader) ReadGraph(ctx context.Context) (*graph.Memory, error) {
	g := graph.NewMemory(r.directed)

	nodes := r.csvReader(r.nodes)
	headers, err := nodes.Read()
	if err != nil {
		return nil, fmt.Errorf("read node header: %w", err)
	}
	if len(headers) == 0 || strings.TrimSpace(headers[0]) == "" {
		return nil, ErrMissingID
	}
	for i := range headers {
		headers[i] = strings.TrimSpace(headers[i])
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := nodes.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read nodes: %w", err)
		}
		if len(record) == 0 || record[0] == "" {
			continue
		}

		attrs := make(map[string]any, len(headers)-1)
		for i := 1; i < len(record) && i < len(headers); i++ {
			if record[i] == "" {
				continue
			}
			attrs[headers[i]] = parseValue(record[i])
		}
		if label, ok := attrs["label"]; ok {
			attrs["label"] = fmt.Sprint(label)
		}
		g.AddNode(record[0], attrs)
	}

	if r.edges == nil {
		return nonEmpty(g)
	}

	edges := r.csvReader(r.edges)
	if r.hasHeader {
		if _, err := edges.Read(); err != nil && err != io.EOF {
			return nil, fmt.Errorf("read edge header: %w", err)
		}
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := edges.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read edges: %w", err)
		}
		if len(record) < 2 || record[0] == "" || record[1] == "" {
			continue // Skip malformed rows
		}
		if err := g.AddEdge(record[0], record[1]); errors.Is(err, graph.ErrSelfLoop) {
			continue
		}
	}
	return nonEmpty(g)
}

func nonEmpty(g *graph.Memory) (*graph.Memory, error) {
	if g.Len() == 0 {
		return nil, graph.ErrEmptyGraph
	}
	return g, nil
}

// Close releases resources.
func (r *Reader) Close() error {
	var err error
	if r.nodes != nil {
		err = r.nodes.Close()
	}
	if r.edges != nil {
		if cerr := r.edges.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// EmbeddingReader reads "id,v1,...,vd" rows.
type EmbeddingReader struct {
	file   *os.File
	reader *Reader
}

// NewEmbeddingReader opens an embeddings file.
func NewEmbeddingReader(filename string, opts ...Option) (*EmbeddingReader, error) {
	r := &Reader{hasHeader: true, comma: ','}
	for _, opt := range opts {
		opt(r)
	}

	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	return &EmbeddingReader{file: file, reader: r}, nil
}

// ReadEmbeddings returns every vector. A row that does not parse, or whose
// length differs from the first row, is an error.
func (e *EmbeddingReader) ReadEmbeddings(ctx context.Context) (embedding.Static, error) {
	cr := e.reader.csvReader(e.file)
	if e.reader.hasHeader {
		if _, err := cr.Read(); err != nil {
			if err == io.EOF {
				return embedding.Static{}, nil
			}
			return nil, fmt.Errorf("read embedding header: %w", err)
		}
	}

	out := embedding.Static{}
	dim := -1
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read embeddings: %w", err)
		}
		if len(record) < 2 {
			continue
		}

		line, _ := cr.FieldPos(0)
		row, err := parseRow(record[1:])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if dim < 0 {
			dim = len(row)
		}
		if len(row) != dim {
			return nil, fmt.Errorf("line %d: %d values, want %d", line, len(row), dim)
		}
		out[record[0]] = row
	}
	return out, nil
}

// Close releases resources.
func (e *EmbeddingReader) Close() error {
	if e.file != nil {
		return e.file.Close()
	}
	return nil
}

// parseRow converts string slice to float slice.
func parseRow(record []string) ([]float64, error) {
	if len(record) == 0 {
		return nil, errors.New("empty row")
	}

	row := make([]float64, len(record))
	for i, val := range record {
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil, err
		}
		row[i] = f
	}
	return row, nil
}

// parseValue types an attribute cell as int64, float64, bool or string.
func parseValue(s string) any {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}
