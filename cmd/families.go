package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentic-research/kgbuild/internal/importer"
	"github.com/agentic-research/kgbuild/internal/stats"
)

var (
	jobs       int
	categories []string
)

func init() {
	for _, c := range []*cobra.Command{databasesCmd, experimentsCmd} {
		c.Flags().IntVarP(&jobs, "jobs", "j", 1, "Number of units imported in parallel")
	}
	databasesCmd.Flags().StringSliceVar(&categories, "category", nil, "Import every database of a resource category (repeatable)")

	rootCmd.AddCommand(ontologiesCmd, databasesCmd, experimentsCmd)
}

// scopeOf maps positional names to a scope; no names means everything.
func scopeOf(names []string) importer.Scope {
	if len(names) == 0 {
		return importer.All()
	}
	return importer.Named(names...)
}

var ontologiesCmd = &cobra.Command{
	Use:   "ontologies [names...]",
	Short: "Import ontologies (all configured ones when no names are given)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImport(cmd, func(ctx context.Context, a *app) error {
			if err := a.ledger.InitializeIfAbsent(ctx, stats.Columns); err != nil {
				return err
			}
			n, err := a.orch.ImportOntologies(ctx, scopeOf(args))
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Recorded %d ontology files.\n", n)
			return nil
		})
	},
}

var databasesCmd = &cobra.Command{
	Use:   "databases [names...]",
	Short: "Import curated databases (all configured ones when no names or categories are given)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImport(cmd, func(ctx context.Context, a *app) error {
			names := append([]string(nil), args...)
			for _, c := range categories {
				members, ok := a.cfg.Resources.Category(c)
				if !ok {
					return fmt.Errorf("unknown database category %q", c)
				}
				names = append(names, members...)
			}

			if err := a.ledger.InitializeIfAbsent(ctx, stats.Columns); err != nil {
				return err
			}
			scope := scopeOf(names)
			if len(categories) > 0 {
				scope = importer.Named(names...)
			}
			n, err := a.orch.ImportDatabases(ctx, scope, jobs)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Recorded %d database files.\n", n)
			return nil
		})
	},
}

var experimentsCmd = &cobra.Command{
	Use:   "experiments [projects...]",
	Short: "Import experiment projects (every project folder when none are given)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImport(cmd, func(ctx context.Context, a *app) error {
			if err := a.orch.ImportExperiments(ctx, scopeOf(args), jobs); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Experiments imported.")
			return nil
		})
	},
}
