// Package config provides configuration loading and management for rtgeom.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumWorkers specifies how many slices are traced concurrently
		NumWorkers int `yaml:"numWorkers"`

		// MaskThreshold is the gray level above which an input pixel is
		// treated as foreground when loading mask images
		MaskThreshold uint8 `yaml:"maskThreshold"`
	} `yaml:"processing"`

	// Geometry parameters applied to loaded mask slices
	Geometry struct {
		// DeltaCol and DeltaRow are the pixel spacings in mm
		DeltaCol float64 `yaml:"deltaCol"`
		DeltaRow float64 `yaml:"deltaRow"`

		// PosX and PosY locate the center of pixel (0,0) in mm
		PosX float64 `yaml:"posX"`
		PosY float64 `yaml:"posY"`

		// FirstSlicePos and SliceGap place consecutive slices along z, in mm
		FirstSlicePos float64 `yaml:"firstSlicePos"`
		SliceGap      float64 `yaml:"sliceGap"`
	} `yaml:"geometry"`

	// Staple fusion parameters
	Staple struct {
		// MaxIterations caps the EM loop
		MaxIterations int `yaml:"maxIterations"`

		// RemoveEmptyIndices enables the empty-position prefilter
		RemoveEmptyIndices bool `yaml:"removeEmptyIndices"`
	} `yaml:"staple"`

	// Output parameters
	Output struct {
		// SaveContourImages determines whether labeled contour rasters are
		// written as PNG alongside the contour data
		SaveContourImages bool `yaml:"saveContourImages"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumWorkers = runtime.NumCPU()
	cfg.Processing.MaskThreshold = 127

	cfg.Geometry.DeltaCol = 1.0
	cfg.Geometry.DeltaRow = 1.0
	cfg.Geometry.FirstSlicePos = 0.0
	cfg.Geometry.SliceGap = 1.0

	cfg.Staple.MaxIterations = 100
	cfg.Staple.RemoveEmptyIndices = false

	cfg.Output.SaveContourImages = true
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
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
