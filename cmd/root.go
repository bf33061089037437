// Package cmd provides the graphguard command line interface.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "graphguard",
	Short: "GraphGuard - anomaly detection for property graphs",
	Long: `GraphGuard scores the nodes of a property graph against their label group
and reports the ones that stand out, using an ensemble of embedding and
structure heuristics.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// newLogger builds the text logger used by every command.
func newLogger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(logLevel))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}
