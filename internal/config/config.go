package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all deckard configuration.
type Config struct {
	Project ProjectConfig `yaml:"project"`
	Store   StoreConfig   `yaml:"store"`
	Solver  SolverConfig  `yaml:"solver"`
	Logging LoggingConfig `yaml:"logging"`
}

// ProjectConfig identifies the card project.
type ProjectConfig struct {
	Dir    string `yaml:"dir"`
	Prefix string `yaml:"prefix"`
}

// StoreConfig selects the card store backend.
type StoreConfig struct {
	Backend string `yaml:"backend"` // yaml, sqlite
	Path    string `yaml:"path"`    // sqlite database path
}

// SolverConfig configures the logic solver.
type SolverConfig struct {
	QueryTimeout string `yaml:"query_timeout"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Verbose bool `yaml:"verbose"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Project: ProjectConfig{Dir: ".", Prefix: "card"},
		Store:   StoreConfig{Backend: "yaml"},
		Solver:  SolverConfig{QueryTimeout: "30s"},
	}
}

// Load reads configuration from a YAML file, falling back to defaults
// for unset fields.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "", "yaml", "sqlite":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Store.Backend == "sqlite" && c.Store.Path == "" {
		return fmt.Errorf("sqlite backend requires store.path")
	}
	if c.Solver.QueryTimeout != "" {
		if _, err := time.ParseDuration(c.Solver.QueryTimeout); err != nil {
			return fmt.Errorf("invalid solver.query_timeout: %w", err)
		}
	}
	return nil
}

// QueryTimeout returns the parsed solver timeout, defaulting to 30s.
func (c *Config) QueryTimeout() time.Duration {
	d, err := time.ParseDuration(c.Solver.QueryTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// DatabasePath resolves the sqlite path relative to the project dir.
func (c *Config) DatabasePath() string {
	if filepath.IsAbs(c.Store.Path) {
		return c.Store.Path
	}
	return filepath.Join(c.Project.Dir, c.Store.Path)
}
