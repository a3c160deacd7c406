package handler

import (
	"context"
	"fmt"

	"github.com/agentic-research/kgbuild/internal/importer"
	"github.com/agentic-research/kgbuild/internal/stats"
)

// Compile-time checks.
var (
	_ importer.OntologyAdapter   = (*Ontologies)(nil)
	_ importer.DatabaseAdapter   = (*Databases)(nil)
	_ importer.ExperimentAdapter = (*Experiments)(nil)
)

// Ontologies runs `<cmd> ontologies --output DIR [--name N]...`.
type Ontologies struct {
	cmd *Command
}

// NewOntologies wraps cmd as an ontology adapter.
func NewOntologies(cmd *Command) *Ontologies {
	return &Ontologies{cmd: cmd}
}

// GenerateGraphFiles implements importer.OntologyAdapter.
func (o *Ontologies) GenerateGraphFiles(ctx context.Context, outputDir string, names []string) ([]stats.Record, error) {
	args := []string{"ontologies", "--output", outputDir}
	for _, n := range names {
		args = append(args, "--name", n)
	}
	out, err := o.cmd.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	records, err := decodeRecords(out)
	if err != nil {
		return nil, fmt.Errorf("ontology handler output: %w", err)
	}
	return records, nil
}

// Databases runs `<cmd> database --output DIR --name DB`.
type Databases struct {
	cmd *Command
}

// NewDatabases wraps cmd as a database adapter.
func NewDatabases(cmd *Command) *Databases {
	return &Databases{cmd: cmd}
}

// GenerateGraphFiles implements importer.DatabaseAdapter.
func (d *Databases) GenerateGraphFiles(ctx context.Context, outputDir, name string) ([]stats.Record, error) {
	out, err := d.cmd.run(ctx, "database", "--output", outputDir, "--name", name)
	if err != nil {
		return nil, err
	}
	records, err := decodeRecords(out)
	if err != nil {
		return nil, fmt.Errorf("database handler output for %s: %w", name, err)
	}
	return records, nil
}

// Experiments runs `<cmd> experiment --project P --dataset D --output DIR`.
// Its stdout is ignored.
type Experiments struct {
	cmd *Command
}

// NewExperiments wraps cmd as an experiment adapter.
func NewExperiments(cmd *Command) *Experiments {
	return &Experiments{cmd: cmd}
}

// GenerateDatasetImports implements importer.ExperimentAdapter.
func (e *Experiments) GenerateDatasetImports(ctx context.Context, project, dataset, outputDir string) error {
	_, err := e.cmd.run(ctx, "experiment", "--project", project, "--dataset", dataset, "--output", outputDir)
	return err
}
