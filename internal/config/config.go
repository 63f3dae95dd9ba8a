// Package config loads and validates the engine's run configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"pkg.jsn.cam/popdyn/pkg/derivations"
	"pkg.jsn.cam/popdyn/pkg/popdyn"
	"pkg.jsn.cam/popdyn/pkg/reductions"
)

// Config holds one run's configuration. Flag values override file values
// in the CLI; Default fills everything a file omits.
type Config struct {
	Input  string `yaml:"input"`
	Output string `yaml:"output"`

	// TempDir holds shard files between pass 2 and merge.
	TempDir string `yaml:"temp_dir"`
	// Manifest is the bbolt run-manifest path. Empty disables persistence.
	Manifest string `yaml:"manifest"`

	// ShardCount is the planning granularity; the default scales with the
	// worker count so shards stay big enough to amortize startup but
	// small enough to parallelize.
	ShardCount  int `yaml:"shard_count"`
	WorkerCount int `yaml:"worker_count"`

	Reduction     string `yaml:"reduction"`
	Derivation    string `yaml:"derivation"`
	DerivedColumn string `yaml:"derived_column"`

	Schema SchemaConfig `yaml:"schema"`
}

// SchemaConfig names the input columns the engine needs.
type SchemaConfig struct {
	Delimiter   string   `yaml:"delimiter"`
	KeyColumns  []string `yaml:"key_columns"`
	SliceColumn string   `yaml:"slice_column"`
	ValueColumn string   `yaml:"value_column"`
}

// Default returns the configuration for the news popularity dataset the
// engine was built around.
func Default() Config {
	workers := runtime.NumCPU()
	return Config{
		TempDir:       filepath.Join(os.TempDir(), "popdyn"),
		ShardCount:    4 * workers,
		WorkerCount:   workers,
		Reduction:     "firstslice",
		Derivation:    "retention",
		DerivedColumn: "Retention",
		Schema: SchemaConfig{
			Delimiter:   ",",
			KeyColumns:  []string{"IDLink", "Platform"},
			SliceColumn: "TimeSlice",
			ValueColumn: "Popularity",
		},
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate fails fast, before any I/O is scheduled, with the engine's
// configuration error.
func (c *Config) Validate() error {
	switch {
	case c.Input == "":
		return &popdyn.ConfigError{Reason: "input path is required"}
	case c.Output == "":
		return &popdyn.ConfigError{Reason: "output path is required"}
	case c.ShardCount < 1:
		return &popdyn.ConfigError{Reason: fmt.Sprintf("shard count must be >= 1, got %d", c.ShardCount)}
	case c.WorkerCount < 1:
		return &popdyn.ConfigError{Reason: fmt.Sprintf("worker count must be >= 1, got %d", c.WorkerCount)}
	case len(c.Schema.Delimiter) != 1:
		return &popdyn.ConfigError{Reason: fmt.Sprintf("delimiter must be one byte, got %q", c.Schema.Delimiter)}
	case len(c.Schema.KeyColumns) == 0:
		return &popdyn.ConfigError{Reason: "at least one key column is required"}
	case c.Schema.SliceColumn == "":
		return &popdyn.ConfigError{Reason: "time-slice column is required"}
	case c.Schema.ValueColumn == "":
		return &popdyn.ConfigError{Reason: "value column is required"}
	case !reductions.IsValid(c.Reduction):
		return &popdyn.ConfigError{Reason: fmt.Sprintf("unknown reduction %q (have %v)", c.Reduction, reductions.List())}
	case !derivations.IsValid(c.Derivation):
		return &popdyn.ConfigError{Reason: fmt.Sprintf("unknown derivation %q (have %v)", c.Derivation, derivations.List())}
	}
	return nil
}

// EngineSchema converts the schema section to the engine's type.
func (c *Config) EngineSchema() popdyn.Schema {
	return popdyn.Schema{
		Delimiter:   c.Schema.Delimiter[0],
		KeyColumns:  c.Schema.KeyColumns,
		SliceColumn: c.Schema.SliceColumn,
		ValueColumn: c.Schema.ValueColumn,
	}
}
