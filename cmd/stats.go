package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentic-research/kgbuild/internal/stats"
)

var (
	readVersion string
	queryExpr   string
	listTables  bool
)

func init() {
	statsCmd.Flags().StringVar(&readVersion, "version", "", "Release version to read (default: KGB_VERSION)")
	statsCmd.Flags().StringVarP(&queryExpr, "query", "q", "", "JSONPath expression applied to the rows, e.g. '$[?(@.dataset == \"UniProt\")]'")
	statsCmd.Flags().BoolVar(&listTables, "tables", false, "List the version tables instead of rows")
	rootCmd.AddCommand(statsCmd)
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print recorded import statistics as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, func(ctx context.Context, a *app) error {
			enc := json.NewEncoder(a.out)
			enc.SetIndent("", "  ")

			if listTables {
				tables, err := a.ledger.Versions(ctx)
				if err != nil {
					return err
				}
				return enc.Encode(tables)
			}

			frame, err := a.ledger.Read(ctx, readVersion)
			if err != nil {
				return fmt.Errorf("read statistics: %w", err)
			}
			if queryExpr == "" {
				return enc.Encode(frame.Records)
			}
			result, err := stats.Query(frame, queryExpr)
			if err != nil {
				return err
			}
			return enc.Encode(result)
		})
	},
}
