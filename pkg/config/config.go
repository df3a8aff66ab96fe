// Package config provides configuration loading and management for virtualhe.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"virtualhe/internal/models"
	"virtualhe/pkg/compositor"
	"virtualhe/pkg/normalize"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Normalization parameters
	Normalization struct {
		// Percentile is the upper percentile that maps to full intensity
		Percentile float64 `yaml:"percentile"`
	} `yaml:"normalization"`

	// Stain holds the absorbance model
	Stain struct {
		// K scales both channels before exponentiation
		K float64 `yaml:"k"`

		models.StainTable `yaml:",inline"`
	} `yaml:"stain"`

	// Output parameters
	Output struct {
		// JPEGQuality is used when the output path ends in .jpg/.jpeg
		JPEGQuality int `yaml:"jpegQuality"`

		// SaveIntermediaryResults determines whether to save the normalized channels
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults"`

		// IntermediaryDir is where intermediary results go
		IntermediaryDir string `yaml:"intermediaryDir"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`

	// Display parameters
	Display struct {
		// MaxSize bounds the longest side of the preview in pixels
		MaxSize int `yaml:"maxSize"`
	} `yaml:"display"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Normalization.Percentile = normalize.DefaultPercentile

	params := compositor.DefaultParams()
	cfg.Stain.K = params.K
	cfg.Stain.StainTable = params.Table

	cfg.Output.JPEGQuality = 95
	cfg.Output.SaveIntermediaryResults = false
	cfg.Output.IntermediaryDir = "intermediary_results"
	cfg.Output.Verbose = false

	cfg.Display.MaxSize = 1024

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	p := c.Normalization.Percentile
	if math.IsNaN(p) || p < 0 || p > 100 {
		return fmt.Errorf("normalization.percentile %v out of range [0, 100]", p)
	}
	if err := c.StainParams().Validate(); err != nil {
		return fmt.Errorf("stain: %w", err)
	}
	if c.Output.JPEGQuality < 1 || c.Output.JPEGQuality > 100 {
		return fmt.Errorf("output.jpegQuality %d out of range [1, 100]", c.Output.JPEGQuality)
	}
	if c.Output.SaveIntermediaryResults && c.Output.IntermediaryDir == "" {
		return errors.New("output.intermediaryDir is required when saving intermediary results")
	}
	if c.Display.MaxSize <= 0 {
		return fmt.Errorf("display.maxSize must be positive, got %d", c.Display.MaxSize)
	}
	return nil
}

// StainParams returns the compositor parameters held by the configuration
func (c *Config) StainParams() compositor.Params {
	return compositor.Params{
		Table: c.Stain.StainTable,
		K:     c.Stain.K,
	}
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
