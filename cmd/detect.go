package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hed1ad/graphguard/pkg/detectors"
	"github.com/hed1ad/graphguard/pkg/detectors/graphanomaly"
	"github.com/hed1ad/graphguard/pkg/embedding"
	"github.com/hed1ad/graphguard/pkg/graph"
	gio "github.com/hed1ad/graphguard/pkg/io"
	"github.com/hed1ad/graphguard/pkg/io/csv"
	"github.com/hed1ad/graphguard/pkg/io/jsonl"
	"github.com/hed1ad/graphguard/pkg/io/pcap"
	"github.com/hed1ad/graphguard/pkg/io/sqlite"
)

// DetectSummaryRows is how many anomalies the summary table shows.
const DetectSummaryRows = 20

var errNoInput = errors.New("one of --nodes or --pcap is required")

var (
	detectConfig      string
	detectNodes       string
	detectEdges       string
	detectDirected    bool
	detectPCAP        string
	detectMaxPackets  int
	detectEmbeddings  string
	detectMode        string
	detectTopK        int
	detectParallelism int
	detectOutput      string
	detectSQLite      string
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Detect anomalous nodes in a graph",
	Long: `Load a graph, score every label group and report the anomalies.

The graph comes from CSV files (--nodes with optional --edges) or from a
packet capture (--pcap), in which case nodes are hosts labelled Server or
Client. Embeddings are computed by neighborhood aggregation unless
precomputed vectors are given with --embeddings.

Examples:
  graphguard detect --nodes nodes.csv --edges edges.csv
  graphguard detect --nodes nodes.csv --edges edges.csv --mode one_class --top-k 10
  graphguard detect --pcap capture.pcap --output anomalies.jsonl --sqlite runs.db`,
	RunE: runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)

	f := detectCmd.Flags()
	f.StringVar(&detectConfig, "config", "", "YAML detector configuration")
	f.StringVar(&detectNodes, "nodes", "", "nodes CSV (id,label,attributes...)")
	f.StringVar(&detectEdges, "edges", "", "edges CSV (source,target)")
	f.BoolVar(&detectDirected, "directed", false, "treat CSV edges as directed")
	f.StringVar(&detectPCAP, "pcap", "", "PCAP file to build a host graph from")
	f.IntVar(&detectMaxPackets, "max-packets", 0, "stop reading the capture after this many packets (0 reads all)")
	f.StringVar(&detectEmbeddings, "embeddings", "", "precomputed embeddings CSV (id,v1,...,vd)")
	f.StringVar(&detectMode, "mode", "", "detection mode, overrides the config")
	f.IntVar(&detectTopK, "top-k", 0, "maximum anomalies to report, overrides the config (0 keeps every anomaly)")
	f.IntVar(&detectParallelism, "parallelism", 1, "groups scored concurrently")
	f.StringVar(&detectOutput, "output", "", "write anomalies as JSON Lines to this file (- for stdout)")
	f.StringVar(&detectSQLite, "sqlite", "", "append anomalies to this SQLite database")
}

func runDetect(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	cfg, err := detectConfigFromFlags(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reader, err := openGraphReader()
	if err != nil {
		return err
	}
	g, err := reader.ReadGraph(ctx)
	reader.Close()
	if err != nil {
		return fmt.Errorf("load graph: %w", err)
	}
	logger.Info("graph loaded", "nodes", g.Len(), "directed", g.IsDirected())

	provider, err := embeddingProvider(ctx, g, cfg)
	if err != nil {
		return err
	}

	report, err := graphanomaly.New(g, provider, cfg, graphanomaly.WithLogger(logger)).Run(ctx)
	if err != nil {
		return err
	}

	writer, err := openWriters(ctx, report.RunID)
	if err != nil {
		return err
	}
	if writer != nil {
		if err := writer.WriteAll(report.Anomalies); err != nil {
			writer.Close()
			return err
		}
		if err := writer.Close(); err != nil {
			return err
		}
	}

	if detectOutput != "-" {
		printSummary(cmd.OutOrStdout(), report)
	}
	return nil
}

func detectConfigFromFlags(cmd *cobra.Command) (graphanomaly.Config, error) {
	cfg := graphanomaly.DefaultConfig()
	if detectConfig != "" {
		var err error
		if cfg, err = graphanomaly.LoadConfig(detectConfig); err != nil {
			return cfg, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("mode") {
		mode, err := detectors.ParseMode(detectMode)
		if err != nil {
			return cfg, err
		}
		cfg.DetectionMode = mode
	}
	if flags.Changed("top-k") {
		cfg.TopK = detectTopK
	}
	if flags.Changed("parallelism") {
		cfg.Parallelism = detectParallelism
	}
	return cfg, nil
}

func openGraphReader() (gio.GraphReader, error) {
	switch {
	case detectPCAP != "":
		return pcap.NewFileReader(detectPCAP, pcap.WithMaxPackets(detectMaxPackets))
	case detectNodes != "":
		opts := []csv.Option{csv.WithDirected(detectDirected)}
		if detectEdges != "" {
			opts = append(opts, csv.WithEdges(detectEdges))
		}
		return csv.NewReader(detectNodes, opts...)
	}
	return nil, errNoInput
}

func embeddingProvider(ctx context.Context, g graph.Graph, cfg graphanomaly.Config) (embedding.Provider, error) {
	if detectEmbeddings == "" {
		return embedding.NewAggregator(g, cfg.EmbeddingParams()), nil
	}

	r, err := csv.NewEmbeddingReader(detectEmbeddings)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	emb, err := r.ReadEmbeddings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load embeddings: %w", err)
	}
	return emb, nil
}

func openWriters(ctx context.Context, runID string) (gio.Writer, error) {
	var writers gio.MultiWriter
	if detectOutput != "" {
		w, err := jsonl.Create(detectOutput)
		if err != nil {
			return nil, err
		}
		writers = append(writers, w)
	}
	if detectSQLite != "" {
		w, err := sqlite.Open(ctx, detectSQLite, runID)
		if err != nil {
			writers.Close()
			return nil, err
		}
		writers = append(writers, w)
	}
	if len(writers) == 0 {
		return nil, nil
	}
	return writers, nil
}

func printSummary(out io.Writer, report *graphanomaly.Report) {
	fmt.Fprintf(out, "Run %s (%s): %d anomalies in %d groups, weights learned: %v\n",
		report.RunID, report.Mode, len(report.Anomalies), len(report.Groups), report.WeightsLearned)
	if len(report.Anomalies) == 0 {
		return
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tLABEL\tSCORE\tREASON")
	for i, a := range report.Anomalies {
		if i == DetectSummaryRows {
			break
		}
		fmt.Fprintf(tw, "%s\t%s\t%.4f\t%s\n", a.NodeID, a.Label, a.OutlierScore, a.Reason)
	}
	tw.Flush()
}
