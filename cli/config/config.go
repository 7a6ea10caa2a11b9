// Package config provides configuration management for the chronicle CLI.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the chronicle CLI configuration
type Config struct {
	// Version of the config file format
	Version string `yaml:"version"`

	// Project configuration
	Project ProjectConfig `yaml:"project"`

	// Storage configuration
	Storage StorageConfig `yaml:"storage"`

	// Engine configuration for projection workers
	Engine EngineConfig `yaml:"engine"`
}

// ProjectConfig contains project-level settings
type ProjectConfig struct {
	// Name of the project
	Name string `yaml:"name"`

	// Module is the Go module path
	Module string `yaml:"module"`
}

// StorageConfig contains event log storage settings
type StorageConfig struct {
	// Driver is the storage driver (postgres, memory)
	Driver string `yaml:"driver"`

	// URL is the database connection string
	URL string `yaml:"url,omitempty"`

	// Schema is the database schema to use
	Schema string `yaml:"schema"`
}

// Duration wraps time.Duration so YAML accepts values like "100ms".
type Duration time.Duration

// String returns the duration in time.Duration notation.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// EngineConfig contains projection engine settings
type EngineConfig struct {
	// PollInterval between checks for new events
	PollInterval Duration `yaml:"poll_interval"`

	// BatchSize is the maximum events read per poll
	BatchSize int `yaml:"batch_size"`

	// RebuildBatchSize is the batch size used during full rebuilds
	RebuildBatchSize int `yaml:"rebuild_batch_size"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		Project: ProjectConfig{
			Name:   "my-chronicle-app",
			Module: "github.com/user/my-chronicle-app",
		},
		Storage: StorageConfig{
			Driver: "postgres",
			Schema: "chronicle",
		},
		Engine: EngineConfig{
			PollInterval:     Duration(100 * time.Millisecond),
			BatchSize:        100,
			RebuildBatchSize: 1000,
		},
	}
}

// ConfigFileName is the default config file name
const ConfigFileName = "chronicle.yaml"

// Load loads configuration from the specified directory
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadFile loads configuration from a specific file path
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves the configuration to the specified directory
func (c *Config) Save(dir string) error {
	return c.SaveFile(filepath.Join(dir, ConfigFileName))
}

// SaveFile saves the configuration to a specific file path
func (c *Config) SaveFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Exists checks if a config file exists in the directory
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ConfigFileName))
	return err == nil
}

// FindConfig searches for a config file starting from dir and going up
func FindConfig(dir string) (string, *Config, error) {
	current := dir
	for {
		configPath := filepath.Join(current, ConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			cfg, err := LoadFile(configPath)
			if err != nil {
				return "", nil, err
			}
			return current, cfg, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", nil, os.ErrNotExist
		}
		current = parent
	}
}

// DatabaseURL resolves the connection string, expanding environment
// variable references. Returns an empty string when unset.
func (c *Config) DatabaseURL() string {
	url := os.ExpandEnv(c.Storage.URL)
	if url == "${DATABASE_URL}" {
		return ""
	}
	return url
}

// Validate validates the configuration
func (c *Config) Validate() []string {
	var errors []string

	if c.Project.Name == "" {
		errors = append(errors, "project.name is required")
	}

	if c.Storage.Driver == "" {
		errors = append(errors, "storage.driver is required")
	}

	if c.Storage.Driver != "postgres" && c.Storage.Driver != "memory" {
		errors = append(errors, "storage.driver must be 'postgres' or 'memory'")
	}

	if c.Storage.Driver == "postgres" && c.Storage.URL == "" {
		errors = append(errors, "storage.url is required for postgres driver")
	}

	if c.Engine.BatchSize < 0 {
		errors = append(errors, "engine.batch_size must not be negative")
	}

	return errors
}

// GenerateYAML generates YAML content with comments
func GenerateYAML(cfg *Config) string {
	return `# Chronicle Configuration File
# This file configures the chronicle CLI

version: "1"

# Project settings
project:
  # Name of your project
  name: "` + cfg.Project.Name + `"

  # Go module path (from go.mod)
  module: "` + cfg.Project.Module + `"

# Event log storage
storage:
  # Driver: postgres or memory
  driver: "` + cfg.Storage.Driver + `"

  # Connection URL (required for postgres)
  url: "${DATABASE_URL}"

  # Database schema (postgres only)
  schema: "` + cfg.Storage.Schema + `"

# Projection engine settings
engine:
  poll_interval: ` + cfg.Engine.PollInterval.String() + `
  batch_size: ` + strconv.Itoa(cfg.Engine.BatchSize) + `
  rebuild_batch_size: ` + strconv.Itoa(cfg.Engine.RebuildBatchSize) + `
`
}
