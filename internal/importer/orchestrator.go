// Package importer coordinates the ontology, database and experiment
// importers, provisions their output directories and records what they wrote
// in the statistics ledger.
package importer

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentic-research/kgbuild/internal/pool"
	"github.com/agentic-research/kgbuild/internal/provision"
	"github.com/agentic-research/kgbuild/internal/stats"
)

// Family labels used in logs and metrics.
const (
	FamilyOntologies  = "ontologies"
	FamilyDatabases   = "databases"
	FamilyExperiments = "experiments"
)

// Layout is the directory layout of an import run.
type Layout struct {
	// ImportDir receives the ontologies/ and databases/ output trees.
	ImportDir string
	// ExperimentsDir holds the raw experiments as <project>/<dataset>/.
	ExperimentsDir string
	// ExperimentsImportDir receives the generated experiment files.
	ExperimentsImportDir string
}

// OntologiesDir returns the ontology output directory.
func (l Layout) OntologiesDir() string { return filepath.Join(l.ImportDir, FamilyOntologies) }

// DatabasesDir returns the database output directory.
func (l Layout) DatabasesDir() string { return filepath.Join(l.ImportDir, FamilyDatabases) }

// Options configures an Orchestrator.
type Options struct {
	Layout Layout

	// Ontologies and Databases are the targets of All().
	Ontologies []string
	Databases  []string

	// Jobs is the parallelism of the full import. Zero means DefaultJobs.
	Jobs int

	Dirs       *provision.Provisioner
	Ledger     Ledger
	Ontology   OntologyAdapter
	Database   DatabaseAdapter
	Experiment ExperimentAdapter

	Metrics *Metrics
	Logger  *zap.Logger
}

// Orchestrator runs the importer families.
type Orchestrator struct {
	layout     Layout
	ontologies []string
	databases  []string
	jobs       int

	dirs       *provision.Provisioner
	ledger     Ledger
	ontology   OntologyAdapter
	database   DatabaseAdapter
	experiment ExperimentAdapter

	metrics *Metrics
	logger  *zap.Logger
}

// New creates an Orchestrator. Dirs, Ledger and the three adapters are required.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		layout:     opts.Layout,
		ontologies: append([]string(nil), opts.Ontologies...),
		databases:  append([]string(nil), opts.Databases...),
		jobs:       opts.Jobs,
		dirs:       opts.Dirs,
		ledger:     opts.Ledger,
		ontology:   opts.Ontology,
		database:   opts.Database,
		experiment: opts.Experiment,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
	}
	if o.jobs < 1 {
		o.jobs = DefaultJobs
	}
	if o.metrics == nil {
		o.metrics = NewMetrics()
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// Metrics returns the collectors updated by this orchestrator.
func (o *Orchestrator) Metrics() *Metrics {
	return o.metrics
}

// ImportOntologies generates files for the selected ontologies in one adapter
// call and appends the returned records to the ledger. It returns the number
// of records appended.
func (o *Orchestrator) ImportOntologies(ctx context.Context, scope Scope) (int, error) {
	dir := o.layout.OntologiesDir()
	if err := o.dirs.Ensure(dir); err != nil {
		return 0, err
	}
	targets, err := scope.Resolve(listed(o.ontologies))
	if err != nil {
		return 0, fmt.Errorf("resolve ontologies: %w", err)
	}
	if targets.Len() == 0 {
		o.logger.Info("no ontologies selected")
		return 0, nil
	}

	o.logger.Info("importing ontologies", zap.Strings("names", targets.Names()))
	records, err := o.ontology.GenerateGraphFiles(ctx, dir, targets.Names())
	o.metrics.recordUnit(FamilyOntologies, err)
	if err != nil {
		return 0, fmt.Errorf("generate ontology graph files: %w", err)
	}
	return o.record(ctx, FamilyOntologies, records)
}

// ImportDatabases generates files for each selected database with at most
// parallelism adapter calls in flight. Records are gathered from every call
// and appended in one write after all calls have returned. If any call fails
// nothing is written.
func (o *Orchestrator) ImportDatabases(ctx context.Context, scope Scope, parallelism int) (int, error) {
	dir := o.layout.DatabasesDir()
	if err := o.dirs.Ensure(dir); err != nil {
		return 0, err
	}
	targets, err := scope.Resolve(listed(o.databases))
	if err != nil {
		return 0, fmt.Errorf("resolve databases: %w", err)
	}
	if targets.Len() == 0 {
		o.logger.Info("no databases selected")
		return 0, nil
	}

	o.logger.Info("importing databases",
		zap.Int("count", targets.Len()),
		zap.Int("parallelism", parallelism))

	var (
		mu      sync.Mutex
		records []stats.Record
	)
	res, err := pool.Run(ctx, parallelism, targets.Names(), func(ctx context.Context, name string) error {
		start := time.Now()
		recs, err := o.database.GenerateGraphFiles(ctx, dir, name)
		o.metrics.recordUnit(FamilyDatabases, err)
		if err != nil {
			return fmt.Errorf("database %s: %w", name, err)
		}
		o.logger.Debug("database done",
			zap.String("database", name),
			zap.Int("files", len(recs)),
			zap.Duration("elapsed", time.Since(start)))

		mu.Lock()
		records = append(records, recs...)
		mu.Unlock()
		return nil
	})
	if err != nil {
		o.logger.Error("database import failed",
			zap.Error(err),
			zap.Stringer("scope", scope),
			zap.Uint64("completed", res.Completed.GetCardinality()),
			zap.Uint64("skipped", res.Skipped.GetCardinality()))
		return 0, err
	}
	return o.record(ctx, FamilyDatabases, records)
}

// ImportExperiments generates import files for every dataset of each selected
// project. Projects run with at most parallelism in flight; datasets within a
// project run in order. All() discovers projects as the subdirectories of the
// experiments directory. Nothing is written to the ledger.
func (o *Orchestrator) ImportExperiments(ctx context.Context, scope Scope, parallelism int) error {
	if err := o.dirs.Ensure(o.layout.ExperimentsImportDir); err != nil {
		return err
	}
	targets, err := scope.Resolve(func() ([]string, error) {
		return o.dirs.ListFolders(o.layout.ExperimentsDir)
	})
	if err != nil {
		return fmt.Errorf("resolve experiment projects: %w", err)
	}
	if targets.Len() == 0 {
		o.logger.Info("no experiment projects selected")
		return nil
	}

	o.logger.Info("importing experiments",
		zap.Strings("projects", targets.Names()),
		zap.Int("parallelism", parallelism))

	res, err := pool.Run(ctx, parallelism, targets.Names(), o.importProject)
	if err != nil {
		o.logger.Error("experiment import failed",
			zap.Error(err),
			zap.Stringer("scope", scope),
			zap.Uint64("completed", res.Completed.GetCardinality()),
			zap.Uint64("skipped", res.Skipped.GetCardinality()))
		return err
	}
	return nil
}

func (o *Orchestrator) importProject(ctx context.Context, project string) error {
	projectDir := filepath.Join(o.layout.ExperimentsImportDir, project)
	if err := o.dirs.Ensure(projectDir); err != nil {
		return fmt.Errorf("project %s: %w", project, err)
	}
	datasets, err := o.dirs.ListFolders(filepath.Join(o.layout.ExperimentsDir, project))
	if err != nil {
		return fmt.Errorf("project %s: %w", project, err)
	}

	for _, dataset := range datasets {
		if err := ctx.Err(); err != nil {
			return err
		}
		outputDir := filepath.Join(projectDir, dataset)
		if err := o.dirs.Ensure(outputDir); err != nil {
			return fmt.Errorf("project %s dataset %s: %w", project, dataset, err)
		}
		err := o.experiment.GenerateDatasetImports(ctx, project, dataset, outputDir)
		o.metrics.recordUnit(FamilyExperiments, err)
		if err != nil {
			return fmt.Errorf("project %s dataset %s: %w", project, dataset, err)
		}
		o.logger.Debug("dataset done", zap.String("project", project), zap.String("dataset", dataset))
	}
	return nil
}

func (o *Orchestrator) record(ctx context.Context, family string, records []stats.Record) (int, error) {
	if err := o.ledger.Append(ctx, stats.NewFrame(records), ""); err != nil {
		return 0, fmt.Errorf("append %s statistics: %w", family, err)
	}
	o.metrics.addRecords(family, len(records))
	o.logger.Info("statistics recorded", zap.String("family", family), zap.Int("records", len(records)))
	return len(records), nil
}
