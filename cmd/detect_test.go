package cmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetFlags() {
	detectConfig, detectNodes, detectEdges, detectPCAP = "", "", "", ""
	detectEmbeddings, detectMode, detectOutput, detectSQLite = "", "", "", ""
	detectDirected = false
	detectMaxPackets, detectTopK, detectParallelism = 0, 0, 1
	runsSQLite, runsRunID = "", ""
	logLevel = "info"
	for _, c := range []*cobra.Command{detectCmd, runsCmd} {
		c.Flags().VisitAll(func(f *pflag.Flag) { f.Changed = false })
	}
}

// fixture writes a 20-node Paper ring with one reversed embedding.
func fixture(t *testing.T) (nodes, edges, emb string) {
	t.Helper()
	dir := t.TempDir()
	rng := rand.New(rand.NewSource(1))

	var n, e, v strings.Builder
	n.WriteString("id,label,year\n")
	e.WriteString("source,target\n")
	v.WriteString("id,v1,v2,v3,v4\n")
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&n, "p%d,Paper,%d\n", i, 2000+i)
		fmt.Fprintf(&e, "p%d,p%d\n", i, (i+1)%20)
		x := 1.0
		if i == 13 {
			x = -1
		}
		fmt.Fprintf(&v, "p%d,%f,%f,%f,%f\n", i, x, 0.01*rng.NormFloat64(), 0.01*rng.NormFloat64(), 0.01*rng.NormFloat64())
	}

	nodes = filepath.Join(dir, "nodes.csv")
	edges = filepath.Join(dir, "edges.csv")
	emb = filepath.Join(dir, "emb.csv")
	require.NoError(t, os.WriteFile(nodes, []byte(n.String()), 0o600))
	require.NoError(t, os.WriteFile(edges, []byte(e.String()), 0o600))
	require.NoError(t, os.WriteFile(emb, []byte(v.String()), 0o600))
	return nodes, edges, emb
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	resetFlags()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), errOut.String(), err
}

func TestDetectCmd_Definition(t *testing.T) {
	assert.Equal(t, "detect", detectCmd.Use)
	for _, name := range []string{"config", "nodes", "edges", "pcap", "embeddings", "mode", "top-k", "output", "sqlite", "parallelism"} {
		assert.NotNil(t, detectCmd.Flags().Lookup(name), name)
	}
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("log-level"))
}

func TestDetectCmd_CSV(t *testing.T) {
	nodes, edges, emb := fixture(t)
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "out.jsonl")
	dbPath := filepath.Join(dir, "runs.db")

	out, logs, err := execute(t, "detect",
		"--nodes", nodes, "--edges", edges, "--embeddings", emb,
		"--mode", "legacy", "--output", jsonPath, "--sqlite", dbPath, "--log-level", "debug")
	require.NoError(t, err)

	assert.Contains(t, out, "NODE")
	assert.Contains(t, out, "p13")
	assert.Contains(t, logs, "graph anomaly run finished")

	f, err := os.Open(jsonPath)
	require.NoError(t, err)
	defer f.Close()
	sc := bufio.NewScanner(f)
	require.True(t, sc.Scan())
	var first map[string]any
	require.NoError(t, json.Unmarshal(sc.Bytes(), &first))
	assert.Equal(t, "p13", first["node_id"])
	assert.Equal(t, "legacy", first["detection_mode"])

	out, _, err = execute(t, "runs", "--sqlite", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "RUN")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	runID := strings.Fields(lines[1])[0]

	out, _, err = execute(t, "runs", "--sqlite", dbPath, "--run", runID)
	require.NoError(t, err)
	assert.Contains(t, out, "p13")
}

func TestDetectCmd_Aggregated(t *testing.T) {
	nodes, edges, _ := fixture(t)
	out, _, err := execute(t, "detect", "--nodes", nodes, "--edges", edges, "--top-k", "3", "--parallelism", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Run ")
	assert.Contains(t, out, "(stacking)")
}

func TestDetectCmd_Stdout(t *testing.T) {
	nodes, edges, emb := fixture(t)
	out, _, err := execute(t, "detect", "--nodes", nodes, "--edges", edges, "--embeddings", emb, "--mode", "legacy", "--output", "-")
	require.NoError(t, err)
	// Records go to the process stdout; the summary table is suppressed.
	assert.NotContains(t, out, "NODE")
}

func TestDetectCmd_Errors(t *testing.T) {
	nodes, edges, _ := fixture(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no input", []string{"detect"}, "--nodes or --pcap"},
		{"bad mode", []string{"detect", "--nodes", nodes, "--mode", "magic"}, "unknown detection mode"},
		{"bad log level", []string{"detect", "--nodes", nodes, "--log-level", "loud"}, "invalid log level"},
		{"missing config", []string{"detect", "--nodes", nodes, "--edges", edges, "--config", filepath.Join(t.TempDir(), "x.yaml")}, "read config"},
		{"runs without db", []string{"runs"}, "--sqlite is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
