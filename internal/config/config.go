// Package config loads and validates the parley configuration from
// ~/.parley/config.yaml, with hot-reload via fsnotify.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/parleyhq/parley/internal/llm"
)

// MemoryConfig holds the context-compression knobs.
type MemoryConfig struct {
	// CompressionEnabled gates compression globally. Default true.
	CompressionEnabled *bool `yaml:"compression_enabled"`

	// CompressionThreshold is the fraction of a model's context
	// length that triggers compression. Must be in (0, 1]. Default 0.8.
	CompressionThreshold float64 `yaml:"compression_threshold"`

	// KeepRounds is how many recent rounds survive compression
	// verbatim. Default 10.
	KeepRounds *int `yaml:"keep_rounds"`
}

// Enabled resolves the pointer with its default.
func (m MemoryConfig) Enabled() bool {
	if m.CompressionEnabled == nil {
		return true
	}
	return *m.CompressionEnabled
}

// Rounds resolves the pointer with its default.
func (m MemoryConfig) Rounds() int {
	if m.KeepRounds == nil {
		return 10
	}
	return *m.KeepRounds
}

// LLMConfig names the configured providers and the default one.
type LLMConfig struct {
	DefaultProvider string                      `yaml:"default_provider"`
	Providers       map[string]llm.ModelProfile `yaml:"providers"`
}

// UploadsConfig bounds the upload path.
type UploadsConfig struct {
	Dir          string   `yaml:"dir"`
	MaxSizeBytes int64    `yaml:"max_size_bytes"`
	AllowedExts  []string `yaml:"allowed_exts"`
}

// RetentionConfig drives the periodic upload sweep.
type RetentionConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // 5-field cron expression
	MaxAge   string `yaml:"max_age"`  // Go duration, e.g. "720h"
}

// OtelConfig selects the trace exporter.
type OtelConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"` // "otlp-http", "stdout", "none"
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"` // default "parley"
	SampleRate  float64 `yaml:"sample_rate"`  // fraction of turns traced, default 1.0
}

// SearchConfig tunes the web search augmentation.
type SearchConfig struct {
	// NumResults is how many hits are prepended per turn. Default 3.
	NumResults int `yaml:"num_results"`
}

// Config is the whole configuration file.
type Config struct {
	HomeDir string `yaml:"-"`

	DBPath   string `yaml:"db_path"`
	LogLevel string `yaml:"log_level"`

	SystemPrompt string `yaml:"system_prompt"`

	LLM       LLMConfig       `yaml:"llm"`
	Memory    MemoryConfig    `yaml:"memory"`
	Uploads   UploadsConfig   `yaml:"uploads"`
	Retention RetentionConfig `yaml:"retention"`
	Search    SearchConfig    `yaml:"search"`
	Otel      OtelConfig      `yaml:"otel"`
}

// HomeDir returns the parley home directory, honoring PARLEY_HOME.
func HomeDir() string {
	if dir := os.Getenv("PARLEY_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".parley"
	}
	return filepath.Join(home, ".parley")
}

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
		Memory: MemoryConfig{
			CompressionThreshold: 0.8,
		},
		Retention: RetentionConfig{
			Schedule: "0 3 * * *",
			MaxAge:   "720h",
		},
		Search: SearchConfig{
			NumResults: 3,
		},
		Otel: OtelConfig{
			Exporter:    "none",
			ServiceName: "parley",
			SampleRate:  1.0,
		},
	}
}

// Load reads config.yaml from the parley home, creating the directory
// if needed. A missing file yields the defaults.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create parley home: %w", err)
	}

	configPath := filepath.Join(cfg.HomeDir, "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	normalize(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.HomeDir, "parley.db")
	}
	if cfg.Uploads.Dir == "" {
		cfg.Uploads.Dir = filepath.Join(cfg.HomeDir, "uploads")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Memory.CompressionThreshold == 0 {
		cfg.Memory.CompressionThreshold = 0.8
	}
	if cfg.Otel.Exporter == "" {
		cfg.Otel.Exporter = "none"
	}
	if cfg.Otel.ServiceName == "" {
		cfg.Otel.ServiceName = "parley"
	}
	if cfg.Otel.SampleRate == 0 {
		cfg.Otel.SampleRate = 1.0
	}
	if cfg.Search.NumResults <= 0 {
		cfg.Search.NumResults = 3
	}
	if cfg.Retention.Schedule == "" {
		cfg.Retention.Schedule = "0 3 * * *"
	}
	for id, p := range cfg.LLM.Providers {
		p.ID = id
		cfg.LLM.Providers[id] = p
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Memory.CompressionThreshold <= 0 || c.Memory.CompressionThreshold > 1 {
		return fmt.Errorf("memory.compression_threshold must be in (0, 1], got %v", c.Memory.CompressionThreshold)
	}
	if c.Memory.Rounds() < 0 {
		return fmt.Errorf("memory.keep_rounds must be >= 0, got %d", c.Memory.Rounds())
	}
	switch strings.ToLower(c.Otel.Exporter) {
	case "otlp-http", "stdout", "none":
	default:
		return fmt.Errorf("otel.exporter must be otlp-http, stdout, or none, got %q", c.Otel.Exporter)
	}
	if c.Otel.SampleRate < 0 || c.Otel.SampleRate > 1 {
		return fmt.Errorf("otel.sample_rate must be in [0, 1], got %v", c.Otel.SampleRate)
	}
	for id, p := range c.LLM.Providers {
		if err := p.Validate(); err != nil {
			return err
		}
		c.LLM.Providers[id] = p
	}
	if c.LLM.DefaultProvider != "" {
		if _, ok := c.LLM.Providers[c.LLM.DefaultProvider]; !ok {
			return fmt.Errorf("llm.default_provider %q is not a configured provider", c.LLM.DefaultProvider)
		}
	}
	return nil
}

// Save writes the config back to config.yaml.
func (c *Config) Save() error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	path := filepath.Join(c.HomeDir, "config.yaml")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config.yaml: %w", err)
	}
	return nil
}
