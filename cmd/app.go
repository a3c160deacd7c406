package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agentic-research/kgbuild/internal/config"
	"github.com/agentic-research/kgbuild/internal/handler"
	"github.com/agentic-research/kgbuild/internal/importer"
	"github.com/agentic-research/kgbuild/internal/logging"
	"github.com/agentic-research/kgbuild/internal/provision"
	"github.com/agentic-research/kgbuild/internal/runlock"
	"github.com/agentic-research/kgbuild/internal/stats"
)

// app is everything a subcommand needs, built from the environment and flags.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	ledger *stats.Ledger
	orch   *importer.Orchestrator
	out    io.Writer
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()
	return config.LoadWith(func(c *config.Config) {
		if flags.Changed("config") {
			c.ResourceFile = resourcePath
		}
		if flags.Changed("log-level") {
			c.LogLevel = logLevel
		}
		if flags.Changed("metrics-file") {
			c.MetricsFile = metricsFile
		}
	})
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	commands := make([]*handler.Command, 0, 3)
	for _, cmdline := range []string{cfg.Handlers.Ontology, cfg.Handlers.Database, cfg.Handlers.Experiment} {
		c, err := handler.NewCommand(config.Argv(cmdline), logger)
		if err != nil {
			return nil, fmt.Errorf("handler %q: %w", cmdline, err)
		}
		commands = append(commands, c)
	}

	ledger := stats.NewLedger(cfg.StatsDir, cfg.StatsFile, cfg.Version)
	orch := importer.New(importer.Options{
		Layout: importer.Layout{
			ImportDir:            cfg.ImportDir,
			ExperimentsDir:       cfg.ExperimentsDir,
			ExperimentsImportDir: cfg.ExperimentsImportDir,
		},
		Ontologies: cfg.Resources.Ontologies,
		Databases:  cfg.Resources.DatabaseNames(),
		Jobs:       cfg.Jobs,
		Dirs:       provision.NewOS(),
		Ledger:     ledger,
		Ontology:   handler.NewOntologies(commands[0]),
		Database:   handler.NewDatabases(commands[1]),
		Experiment: handler.NewExperiments(commands[2]),
		Metrics:    importer.NewMetrics(),
		Logger:     logger,
	})

	return &app{cfg: cfg, logger: logger, ledger: ledger, orch: orch, out: cmd.OutOrStdout()}, nil
}

// run builds the app, calls fn and flushes logs and metrics afterwards.
func run(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	return runApp(cmd, false, fn)
}

// runImport is run holding the data directory lock.
func runImport(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	return runApp(cmd, true, fn)
}

func runApp(cmd *cobra.Command, exclusive bool, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.logger.Sync() }()

	if exclusive {
		lock, err := runlock.Acquire(a.cfg.LockPath())
		if err != nil {
			return err
		}
		a.logger.Debug("lock acquired", zap.String("path", lock.Path()))
		defer func() {
			if err := lock.Release(); err != nil {
				a.logger.Warn("failed to release lock", zap.Error(err))
			}
		}()
	}

	runErr := fn(cmd.Context(), a)

	if a.cfg.MetricsFile != "" {
		if err := a.orch.Metrics().WriteTextfile(a.cfg.MetricsFile); err != nil {
			a.logger.Warn("failed to write metrics", zap.String("path", a.cfg.MetricsFile), zap.Error(err))
		}
	}
	return runErr
}
