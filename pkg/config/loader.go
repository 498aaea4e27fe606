package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// HarnessYAMLConfig represents the complete harness.yaml file structure.
type HarnessYAMLConfig struct {
	Paths     *Paths           `yaml:"paths"`
	Scheduler *SchedulerConfig `yaml:"scheduler"`
	Retention *RetentionConfig `yaml:"retention"`
}

// Initialize loads harness.yaml (if present) from configDir, expands
// environment variables, merges it over the built-in defaults, and
// returns a ready-to-use Config. Missing harness.yaml is not an error —
// the harness runs entirely on defaults + env overrides, per spec.md §6.
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)

	yamlCfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	paths := DefaultPaths()
	if yamlCfg.Paths != nil {
		if err := mergo.Merge(&paths, *yamlCfg.Paths, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge paths config: %w", err)
		}
	}

	scheduler := DefaultSchedulerConfig()
	if yamlCfg.Scheduler != nil {
		if err := mergo.Merge(scheduler, yamlCfg.Scheduler, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge scheduler config: %w", err)
		}
	}

	retention := DefaultRetentionConfig()
	if yamlCfg.Retention != nil {
		if err := mergo.Merge(retention, yamlCfg.Retention, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge retention config: %w", err)
		}
	}

	log.Info("Configuration initialized",
		"data_dir", paths.DataDir, "logs_dir", paths.LogsDir,
		"parallelism", scheduler.Parallelism)

	return &Config{
		configDir: configDir,
		Paths:     paths,
		Scheduler: scheduler,
		Retention: retention,
	}, nil
}

// load reads and parses harness.yaml. A missing file yields an empty
// (all-nil) HarnessYAMLConfig rather than an error.
func load(configDir string) (*HarnessYAMLConfig, error) {
	path := filepath.Join(configDir, "harness.yaml")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &HarnessYAMLConfig{}, nil
		}
		return nil, NewLoadError(path, err)
	}

	data = ExpandEnv(data)

	var cfg HarnessYAMLConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	return &cfg, nil
}
