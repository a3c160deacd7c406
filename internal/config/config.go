// Package config loads the importer configuration.
//
// Directory layout, release version, handler commands and the logging level
// come from environment variables. The catalogue of known ontologies and
// database resources comes from an optional HCL file and falls back to the
// built-in catalogue.
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.ImportDir)
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for an import run.
type Config struct {
	// Data layout. Empty directories are derived from DataDir.
	DataDir              string `env:"KGB_DATA_DIR" envDefault:"../../../data"`
	ImportDir            string `env:"KGB_IMPORT_DIR"`
	StatsDir             string `env:"KGB_STATS_DIR"`
	StatsFile            string `env:"KGB_STATS_FILE" envDefault:"stats.db"`
	ExperimentsDir       string `env:"KGB_EXPERIMENTS_DIR"`
	ExperimentsImportDir string `env:"KGB_EXPERIMENTS_IMPORT_DIR"`

	// Version is the release whose statistics table receives new rows.
	Version string `env:"KGB_VERSION" envDefault:"1.0"`

	// Jobs is the parallelism used by the full import for databases and experiments.
	Jobs int `env:"KGB_JOBS" envDefault:"4"`

	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	MetricsFile  string `env:"KGB_METRICS_FILE"`
	ResourceFile string `env:"KGB_RESOURCES"`

	Handlers HandlerConfig

	// Resources is filled from ResourceFile, or the built-in catalogue.
	Resources *Resources
}

// HandlerConfig holds the command lines of the external importer handlers.
// Each value is split on whitespace into argv.
type HandlerConfig struct {
	Ontology   string `env:"KGB_ONTOLOGY_HANDLER" envDefault:"kg-ontologies"`
	Database   string `env:"KGB_DATABASE_HANDLER" envDefault:"kg-databases"`
	Experiment string `env:"KGB_EXPERIMENT_HANDLER" envDefault:"kg-experiments"`
}

// Load reads configuration from environment variables and the resource file.
func Load() (*Config, error) {
	return LoadWith(nil)
}

// LoadWith is Load with override applied after the environment is read and
// before directories are derived, e.g. for command-line flags.
func LoadWith(override func(*Config)) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if override != nil {
		override(cfg)
	}
	if err := cfg.Resolve(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Resolve derives unset directories, makes every path absolute and loads the
// resource catalogue.
func (c *Config) Resolve() error {
	if c.ImportDir == "" {
		c.ImportDir = filepath.Join(c.DataDir, "imports")
	}
	if c.StatsDir == "" {
		c.StatsDir = filepath.Join(c.ImportDir, "stats")
	}
	if c.ExperimentsImportDir == "" {
		c.ExperimentsImportDir = filepath.Join(c.ImportDir, "experiments")
	}
	if c.ExperimentsDir == "" {
		c.ExperimentsDir = filepath.Join(c.DataDir, "experiments")
	}

	for _, p := range []*string{&c.DataDir, &c.ImportDir, &c.StatsDir, &c.ExperimentsDir, &c.ExperimentsImportDir} {
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", *p, err)
		}
		*p = abs
	}

	if c.Resources != nil {
		return nil
	}
	if c.ResourceFile == "" {
		c.Resources = DefaultResources()
		return nil
	}
	res, err := LoadResources(c.ResourceFile)
	if err != nil {
		return err
	}
	c.Resources = res
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("release version is required")
	}
	if strings.ContainsAny(c.Version, "\"/ ") {
		return fmt.Errorf("invalid release version %q", c.Version)
	}
	if c.StatsFile == "" || strings.ContainsRune(c.StatsFile, filepath.Separator) {
		return fmt.Errorf("invalid stats file name %q", c.StatsFile)
	}
	if c.Jobs < 1 {
		return fmt.Errorf("jobs must be at least 1")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	if c.Resources == nil {
		return fmt.Errorf("resource catalogue not loaded")
	}
	return c.Resources.Validate()
}

// LockPath is the file locked while an import runs.
func (c *Config) LockPath() string {
	return filepath.Join(c.StatsDir, ".kgbuild.lock")
}

// Argv splits a handler command line.
func Argv(cmdline string) []string {
	return strings.Fields(cmdline)
}
