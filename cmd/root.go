package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	resourcePath string
	logLevel     string
	metricsFile  string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&resourcePath, "config", "c", "", "Path to HCL resource catalogue (default: built-in)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this file when done")
}

var rootCmd = &cobra.Command{
	Use:   "kgbuild",
	Short: "Generate knowledge graph import files and record import statistics",
	Long: `kgbuild runs the ontology, database and experiment importers and records
one statistic row per generated file in a versioned SQLite ledger.

Without a subcommand it runs the full import: all ontologies, then all
databases, then all experiment projects.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImport(cmd, func(ctx context.Context, a *app) error {
			start := time.Now()
			fmt.Fprintf(a.out, "Importing into %s...\n", a.cfg.ImportDir)

			timings, err := a.orch.FullImport(ctx)
			for _, t := range timings {
				fmt.Fprintf(a.out, "  %-12s done at %v\n", t.Stage, t.Elapsed.Round(time.Millisecond))
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Done in %v.\n", time.Since(start).Round(time.Millisecond))
			return nil
		})
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
