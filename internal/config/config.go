// Package config loads and persists toolbench configuration.
// Configuration lives at <workspace>/.toolbench/config.yaml; environment
// variables override file values so the API key never has to be written
// to disk.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all toolbench configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Model service configuration
	LLM LLMConfig `yaml:"llm"`

	// Durable storage
	Storage StorageConfig `yaml:"storage"`

	// Section buffer behavior
	Buffer BufferConfig `yaml:"buffer"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the dispatch gateway.
type LLMConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

// StorageConfig configures the durable store adapter.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// BufferConfig configures section buffer debouncing.
type BufferConfig struct {
	QuietPeriod string `yaml:"quiet_period"`
}

// LoggingConfig configures the categorized file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	Categories map[string]bool `yaml:"categories,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "toolbench",
		Version: "1.0.0",

		LLM: LLMConfig{
			Model:   "gemini-3-flash-preview",
			BaseURL: "https://generativelanguage.googleapis.com/v1beta",
			Timeout: "120s",
		},

		Storage: StorageConfig{
			DatabasePath: filepath.Join(".toolbench", "workspace.db"),
		},

		Buffer: BufferConfig{
			QuietPeriod: "1s",
		},

		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Path returns the config file location for a workspace directory.
func Path(workspace string) string {
	return filepath.Join(workspace, ".toolbench", "config.yaml")
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; a malformed file is an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if model := os.Getenv("TOOLBENCH_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if url := os.Getenv("TOOLBENCH_BASE_URL"); url != "" {
		c.LLM.BaseURL = url
	}
	if path := os.Getenv("TOOLBENCH_DB"); path != "" {
		c.Storage.DatabasePath = path
	}
}

// GetLLMTimeout returns the model service timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetQuietPeriod returns the section buffer quiet period as a duration.
func (c *Config) GetQuietPeriod() time.Duration {
	d, err := time.ParseDuration(c.Buffer.QuietPeriod)
	if err != nil {
		return time.Second
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return fmt.Errorf("model API key not configured (set GEMINI_API_KEY or llm.api_key)")
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		return fmt.Errorf("llm.model must not be empty")
	}
	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("storage.database_path must not be empty")
	}
	return nil
}
