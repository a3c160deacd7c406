package importer

import (
	"context"

	"github.com/agentic-research/kgbuild/internal/stats"
)

// OntologyAdapter generates entity and relationship files for ontologies.
type OntologyAdapter interface {
	// GenerateGraphFiles writes the files for every named ontology under
	// outputDir and returns one record per file written.
	GenerateGraphFiles(ctx context.Context, outputDir string, names []string) ([]stats.Record, error)
}

// DatabaseAdapter generates entity and relationship files for one curated
// database. Calls for different databases may run concurrently.
type DatabaseAdapter interface {
	GenerateGraphFiles(ctx context.Context, outputDir, name string) ([]stats.Record, error)
}

// ExperimentAdapter generates the import files of one experiment dataset.
// It must only write inside outputDir.
type ExperimentAdapter interface {
	GenerateDatasetImports(ctx context.Context, project, dataset, outputDir string) error
}

// Ledger is where the orchestrator records import statistics.
type Ledger interface {
	InitializeIfAbsent(ctx context.Context, columns []string) error
	Append(ctx context.Context, frame stats.Frame, version string) error
}

var _ Ledger = (*stats.Ledger)(nil)
