// Package config loads analysis settings from a YAML file.
package config

import (
	"os"
	"runtime"

	"github.com/apex/log"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Analysis Analysis `yaml:"analysis"`
	Log      Log      `yaml:"log"`
}

type Analysis struct {
	// How many functions are analyzed in parallel.
	Workers int `yaml:"workers"`
	// Per-block revisit cap before value propagation widens.
	MaxIterations int `yaml:"max_iterations"`
	// How many times value propagation may feed jump tables back into CFG
	// recovery for one function.
	MaxResolutionRounds int `yaml:"max_resolution_rounds"`
	// Instructions decoded per function before recovery stops.
	MaxInstructions int `yaml:"max_instructions"`
	// Largest lookup table value propagation will enumerate.
	MaxTableEntries int `yaml:"max_table_entries"`
	// Decoded instructions kept in the LRU cache.
	DecodeCacheSize int `yaml:"decode_cache_size"`
	// Create functions at call destinations.
	AutoDiscovery bool `yaml:"auto_discovery"`
}

type Log struct {
	Level string `yaml:"level"`
	Color bool   `yaml:"color"`
}

// Default returns the settings used when no file is given.
func Default() *Config {
	return &Config{
		Analysis: Analysis{
			Workers:             runtime.GOMAXPROCS(0),
			MaxIterations:       64,
			MaxResolutionRounds: 4,
			MaxInstructions:     100_000,
			MaxTableEntries:     256,
			DecodeCacheSize:     1 << 16,
			AutoDiscovery:       true,
		},
		Log: Log{Level: "info", Color: true},
	}
}

// Load reads path over the defaults. Keys missing from the file keep their
// default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: read %q", path)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, errors.Wrap(err, "config: parse")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	a := c.Analysis
	switch {
	case a.Workers < 1:
		return errors.New("config: analysis.workers must be positive")
	case a.MaxIterations < 1:
		return errors.New("config: analysis.max_iterations must be positive")
	case a.MaxResolutionRounds < 0:
		return errors.New("config: analysis.max_resolution_rounds must be non-negative")
	case a.MaxInstructions < 1:
		return errors.New("config: analysis.max_instructions must be positive")
	case a.MaxTableEntries < 1:
		return errors.New("config: analysis.max_table_entries must be positive")
	case a.DecodeCacheSize < 0:
		return errors.New("config: analysis.decode_cache_size must be non-negative")
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrapf(err, "config: log.level")
	}
	return nil
}

// LogLevel returns the parsed log level. Validate has already checked it.
func (c *Config) LogLevel() log.Level {
	lvl, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}
