// Package config provides configuration loading and hot-reload for
// simulation runs.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Format is the configuration file format.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// File is the on-disk schema for a simulation run. Field semantics mirror
// kernel.Config and kernel.RunOptions.
type File struct {
	RealTime    bool    `yaml:"real_time" json:"real_time"`
	ClockSpeed  float64 `yaml:"clock_speed" json:"clock_speed"` // 0 = jump to next event
	StartTime   float64 `yaml:"start_time" json:"start_time"`
	Tolerant    bool    `yaml:"tolerant" json:"tolerant"`
	Strict      bool    `yaml:"strict" json:"strict"`
	Workers     int     `yaml:"workers" json:"workers"`
	Iterations  int     `yaml:"iterations" json:"iterations"`
	Seconds     float64 `yaml:"seconds" json:"seconds"`
	PauseIfIdle bool    `yaml:"pause_if_idle" json:"pause_if_idle"`
	LogLevel    string  `yaml:"log_level" json:"log_level"`
	Journal     string  `yaml:"journal" json:"journal"`
}

// Default returns the configuration used when no file is given: a
// single-process simulated-clock run with the copy-contract check on and
// non-strict routing, that pauses when idle.
func Default() *File {
	return &File{
		PauseIfIdle: true,
		LogLevel:    "info",
	}
}

// FormatFor maps a file path to its configuration format by extension.
func FormatFor(path string) (Format, error) {
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported config file format: %s", path)
	}
}

// Load reads and parses a configuration file. Fields absent from the file
// keep their Default values.
func Load(path string) (*File, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse yaml config: %w", err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse json config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the kernel cannot honor.
func (f *File) Validate() error {
	if f.ClockSpeed < 0 {
		return fmt.Errorf("clock_speed must be >= 0, got %v", f.ClockSpeed)
	}
	if f.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", f.Workers)
	}
	if f.Seconds < 0 {
		return fmt.Errorf("seconds must be >= 0, got %v", f.Seconds)
	}
	if f.Iterations < 0 {
		return fmt.Errorf("iterations must be >= 0, got %d", f.Iterations)
	}
	return nil
}
