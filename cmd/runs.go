package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hed1ad/graphguard/pkg/io/sqlite"
)

var (
	runsSQLite string
	runsRunID  string
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List stored detection runs",
	Long: `List the runs stored in a SQLite database written by "detect --sqlite".

With --run, print the anomalies of one run instead.`,
	RunE: runRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)

	runsCmd.Flags().StringVar(&runsSQLite, "sqlite", "", "SQLite database")
	runsCmd.Flags().StringVar(&runsRunID, "run", "", "show the anomalies of this run")
}

func runRuns(cmd *cobra.Command, args []string) error {
	if runsSQLite == "" {
		return errors.New("--sqlite is required")
	}

	store, err := sqlite.Open(cmd.Context(), runsSQLite, "")
	if err != nil {
		return err
	}
	defer store.Close()

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	defer tw.Flush()

	if runsRunID != "" {
		recs, err := store.Records(cmd.Context(), runsRunID)
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "NODE\tLABEL\tGROUP\tSCORE\tTHRESHOLD")
		for _, r := range recs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%.4f\t%.4f\n", r.NodeID, r.Label, r.Group, r.Score, r.Threshold)
		}
		return nil
	}

	runs, err := store.Runs(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintln(tw, "RUN\tANOMALIES\tMAX SCORE")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%d\t%.4f\n", r.RunID, r.Anomalies, r.MaxScore)
	}
	return nil
}
