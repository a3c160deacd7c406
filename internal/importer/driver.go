package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentic-research/kgbuild/internal/stats"
)

// DefaultJobs is the database and experiment parallelism of a full import.
const DefaultJobs = 4

// StageTiming is the time elapsed since the start of a full import when a
// stage finished.
type StageTiming struct {
	Stage   string
	Elapsed time.Duration
}

// FullImport provisions the import root and the ledger, then imports all
// ontologies, all databases and all experiments, in that order. It stops at
// the first failing stage and returns the timings of the stages that finished.
func (o *Orchestrator) FullImport(ctx context.Context) ([]StageTiming, error) {
	start := time.Now()
	logger := o.logger.With(zap.String("run_id", uuid.NewString()))
	logger.Info("full import started", zap.Int("jobs", o.jobs))

	if err := o.dirs.Ensure(o.layout.ImportDir); err != nil {
		return nil, fmt.Errorf("provision import directory: %w", err)
	}
	if err := o.ledger.InitializeIfAbsent(ctx, stats.Columns); err != nil {
		return nil, fmt.Errorf("initialize statistics: %w", err)
	}

	stages := []struct {
		name string
		run  func() error
	}{
		{FamilyOntologies, func() error {
			_, err := o.ImportOntologies(ctx, All())
			return err
		}},
		{FamilyDatabases, func() error {
			_, err := o.ImportDatabases(ctx, All(), o.jobs)
			return err
		}},
		{FamilyExperiments, func() error {
			return o.ImportExperiments(ctx, All(), o.jobs)
		}},
	}

	timings := make([]StageTiming, 0, len(stages))
	for _, s := range stages {
		stageStart := time.Now()
		if err := s.run(); err != nil {
			logger.Error("stage failed", zap.String("stage", s.name), zap.Error(err))
			return timings, fmt.Errorf("%s import: %w", s.name, err)
		}
		o.metrics.observeStage(s.name, time.Since(stageStart))

		t := StageTiming{Stage: s.name, Elapsed: time.Since(start)}
		timings = append(timings, t)
		logger.Info("stage complete", zap.String("stage", s.name), zap.Duration("elapsed", t.Elapsed))
	}

	logger.Info("full import finished", zap.Duration("elapsed", time.Since(start)))
	return timings, nil
}
