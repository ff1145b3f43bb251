// Package config holds the run configuration and its YAML form.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/mrsinham/radqy/internal/dicom/modalities"
)

// DefaultOutputRoot is the directory output folders are created in.
const DefaultOutputRoot = "UserInterface/Data"

// DefaultTagsDir holds MRI_TAGS.yaml and CT_TAGS.yaml.
const DefaultTagsDir = "configs"

// Config is one quality run.
type Config struct {
	OutputName string `yaml:"output_name"`
	InputDir   string `yaml:"input_dir"`
	OutputRoot string `yaml:"output_root"`
	TagsDir    string `yaml:"tags_dir"`

	ScanType         string `yaml:"scan_type"`
	SaveMasks        bool   `yaml:"save_masks"`
	SampleStride     int    `yaml:"sample_stride"`
	MiddlePercent    int    `yaml:"middle_percent"`
	Workers          int    `yaml:"workers"`
	GroupByDirectory bool   `yaml:"group_by_directory"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		OutputRoot:    DefaultOutputRoot,
		TagsDir:       DefaultTagsDir,
		ScanType:      string(modalities.MRI),
		SampleStride:  1,
		MiddlePercent: 100,
		Workers:       1,
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (*Config, error) {
	return LoadOnto(Default(), path)
}

// LoadOnto reads a YAML file over a copy of base. Fields the file leaves
// out keep their value from base.
func LoadOnto(base *Config, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := *base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes the configuration as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks the run parameters and normalizes the scan type.
func (c *Config) Validate() error {
	if c.OutputName == "" {
		return fmt.Errorf("output folder name is required")
	}
	if c.InputDir == "" {
		return fmt.Errorf("input directory is required")
	}
	info, err := os.Stat(c.InputDir)
	if err != nil {
		return fmt.Errorf("input directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("input directory: %s is not a directory", c.InputDir)
	}
	scanType, err := modalities.ParseScanType(c.ScanType)
	if err != nil {
		return err
	}
	c.ScanType = string(scanType)
	if c.SampleStride < 1 {
		return fmt.Errorf("sample stride must be at least 1, got %d", c.SampleStride)
	}
	if c.MiddlePercent < 0 || c.MiddlePercent > 100 {
		return fmt.Errorf("middle percentage must be between 0 and 100, got %d", c.MiddlePercent)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	return nil
}

// OutputDir is the directory the run writes into.
func (c *Config) OutputDir() string {
	return filepath.Join(c.OutputRoot, c.OutputName)
}

// TagFile is the tag dictionary for the configured scan type.
func (c *Config) TagFile() string {
	return filepath.Join(c.TagsDir, modalities.GetProfile(modalities.ScanType(c.ScanType)).TagFile())
}
