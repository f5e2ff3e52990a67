// Package config holds the execution configuration handed to code under test.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Defaults used by Empty.
const (
	DefaultRegion        = "us-east-1"
	DefaultOutputDir     = "s3://test-example/foo"
	DefaultFixtureRoot   = "testdata/placebo"
	DefaultFixtureFormat = "json"
)

// Config is the fixed set of execution settings.
type Config struct {
	Region         string `yaml:"region" toml:"region"`
	Cache          string `yaml:"cache" toml:"cache"`
	Profile        string `yaml:"profile" toml:"profile"`
	AssumeRole     string `yaml:"assume_role" toml:"assume_role"`
	LogGroup       string `yaml:"log_group" toml:"log_group"`
	MetricsEnabled bool   `yaml:"metrics_enabled" toml:"metrics_enabled"`
	OutputDir      string `yaml:"output_dir" toml:"output_dir"`
	CachePeriod    int    `yaml:"cache_period" toml:"cache_period"` // minutes; 0 disables caching
	DryRun         bool   `yaml:"dryrun" toml:"dryrun"`

	// FixtureRoot is the directory holding one cassette per test case.
	FixtureRoot string `yaml:"fixture_root" toml:"fixture_root"`

	// FixtureFormat is the cassette entry format: "json" or "yaml".
	FixtureFormat string `yaml:"fixture_format" toml:"fixture_format"`
}

// Override changes one or more fields of a Config built by Empty.
type Override func(*Config)

// Empty returns the default configuration with overrides applied in order.
func Empty(overrides ...Override) Config {
	c := Config{
		Region:        DefaultRegion,
		OutputDir:     DefaultOutputDir,
		FixtureRoot:   DefaultFixtureRoot,
		FixtureFormat: DefaultFixtureFormat,
	}
	for _, o := range overrides {
		o(&c)
	}
	return c
}

// WithRegion overrides the region.
func WithRegion(region string) Override {
	return func(c *Config) { c.Region = region }
}

// WithProfile overrides the credential profile.
func WithProfile(profile string) Override {
	return func(c *Config) { c.Profile = profile }
}

// WithOutputDir overrides the output location.
func WithOutputDir(dir string) Override {
	return func(c *Config) { c.OutputDir = dir }
}

// WithCache overrides the cache location and period.
func WithCache(location string, periodMinutes int) Override {
	return func(c *Config) {
		c.Cache = location
		c.CachePeriod = periodMinutes
	}
}

// WithDryRun overrides the dry-run flag.
func WithDryRun(dryRun bool) Override {
	return func(c *Config) { c.DryRun = dryRun }
}

// WithFixtureRoot overrides the cassette root directory.
func WithFixtureRoot(root string) Override {
	return func(c *Config) { c.FixtureRoot = root }
}

// WithFixtureFormat overrides the cassette entry format.
func WithFixtureFormat(format string) Override {
	return func(c *Config) { c.FixtureFormat = format }
}

// Load reads a config file on top of the defaults. Files ending in .toml
// are parsed as TOML, everything else as YAML. Unknown keys are rejected so
// typos fail loudly.
func Load(path string, overrides ...Override) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	c := Empty()
	if filepath.Ext(path) == ".toml" {
		err = toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields().Decode(&c)
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&c)
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	for _, o := range overrides {
		o(&c)
	}

	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return c, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if c.Region == "" {
		return fmt.Errorf("region is required")
	}
	if c.CachePeriod < 0 {
		return fmt.Errorf("cache_period must be >= 0, got %d", c.CachePeriod)
	}
	switch c.FixtureFormat {
	case "json", "yaml":
	default:
		return fmt.Errorf("fixture_format must be json or yaml, got %q", c.FixtureFormat)
	}
	return nil
}
