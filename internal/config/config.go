// Package config loads and validates the boardcache configuration file.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"boardcache/internal/resource"
)

//go:embed config.sample.yaml
var sampleConfig string

// GetSampleConfig returns the embedded sample configuration content.
func GetSampleConfig() string {
	return sampleConfig
}

// Config is the top-level configuration.
type Config struct {
	Upstream           UpstreamConfig `yaml:"upstream"`
	Refresh            RefreshConfig  `yaml:"refresh"`
	StalenessThreshold string         `yaml:"staleness_threshold"`
	Server             ServerConfig   `yaml:"server"`
	StorePath          string         `yaml:"store_path"`
}

// UpstreamConfig describes the remote API and retry behavior.
type UpstreamConfig struct {
	BaseURL    string            `yaml:"base_url"`
	APIVersion string            `yaml:"api_version"`
	Databases  map[string]string `yaml:"databases"`
	MaxRetries int               `yaml:"max_retries"`
	RetryDelay string            `yaml:"retry_delay"`
}

// RefreshConfig controls the periodic refresh loops.
type RefreshConfig struct {
	Interval  string            `yaml:"interval"`
	Overrides map[string]string `yaml:"overrides"`
	OnStart   bool              `yaml:"on_start"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// DefaultConfig returns a configuration with all defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Upstream: UpstreamConfig{
			BaseURL:    "https://api.notion.com",
			APIVersion: "2022-06-28",
			Databases:  map[string]string{},
			MaxRetries: 5,
			RetryDelay: "1s",
		},
		Refresh: RefreshConfig{
			Interval: "30m",
			OnStart:  true,
		},
		StalenessThreshold: "1h",
		Server: ServerConfig{
			ListenAddr: "127.0.0.1:8750",
		},
		StorePath: filepath.Join(GetDataDir(), "snapshots.db"),
	}
}

// Load loads configuration from the specified path, or the default XDG
// path if empty. A missing config file is created from the embedded
// sample, and defaults are returned.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = filepath.Join(GetConfigDir(), "config.yaml")
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := writeSample(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in config file: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = d.Upstream.BaseURL
	}
	if c.Upstream.APIVersion == "" {
		c.Upstream.APIVersion = d.Upstream.APIVersion
	}
	if c.Upstream.Databases == nil {
		c.Upstream.Databases = map[string]string{}
	}
	if c.Upstream.MaxRetries == 0 {
		c.Upstream.MaxRetries = d.Upstream.MaxRetries
	}
	if c.Upstream.RetryDelay == "" {
		c.Upstream.RetryDelay = d.Upstream.RetryDelay
	}
	if c.Refresh.Interval == "" {
		c.Refresh.Interval = d.Refresh.Interval
	}
	if c.StalenessThreshold == "" {
		c.StalenessThreshold = d.StalenessThreshold
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = d.Server.ListenAddr
	}
	if c.StorePath == "" {
		c.StorePath = d.StorePath
	} else {
		c.StorePath = ExpandPath(c.StorePath)
	}
}

func writeSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks the configuration is usable: durations parse, database
// keys name known resource types, and intervals are sane.
func (c *Config) Validate() error {
	for key, value := range map[string]string{
		"upstream.retry_delay": c.Upstream.RetryDelay,
		"refresh.interval":     c.Refresh.Interval,
		"staleness_threshold":  c.StalenessThreshold,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %q", key, value)
		}
	}

	for name := range c.Upstream.Databases {
		if _, err := resource.Parse(name); err != nil {
			return fmt.Errorf("upstream.databases: %w", err)
		}
	}
	for name, value := range c.Refresh.Overrides {
		if _, err := resource.Parse(name); err != nil {
			return fmt.Errorf("refresh.overrides: %w", err)
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for refresh.overrides.%s: %q", name, value)
		}
	}

	if c.Upstream.MaxRetries < 0 {
		return fmt.Errorf("upstream.max_retries must not be negative: %d", c.Upstream.MaxRetries)
	}
	return nil
}

// RefreshInterval returns the parsed default refresh interval.
func (c *Config) RefreshInterval() time.Duration {
	d, err := time.ParseDuration(c.Refresh.Interval)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}

// RefreshOverrides returns the parsed per-resource interval overrides.
func (c *Config) RefreshOverrides() map[resource.Type]time.Duration {
	overrides := make(map[resource.Type]time.Duration, len(c.Refresh.Overrides))
	for name, value := range c.Refresh.Overrides {
		res, err := resource.Parse(name)
		if err != nil {
			continue
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			continue
		}
		overrides[res] = d
	}
	return overrides
}

// Staleness returns the parsed staleness threshold.
func (c *Config) Staleness() time.Duration {
	d, err := time.ParseDuration(c.StalenessThreshold)
	if err != nil {
		return time.Hour
	}
	return d
}

// RetryDelay returns the parsed upstream retry base delay.
func (c *Config) RetryDelay() time.Duration {
	d, err := time.ParseDuration(c.Upstream.RetryDelay)
	if err != nil {
		return time.Second
	}
	return d
}

// DatabaseIDs returns the configured database IDs keyed by resource type,
// skipping empty entries.
func (c *Config) DatabaseIDs() map[resource.Type]string {
	ids := make(map[resource.Type]string, len(c.Upstream.Databases))
	for name, id := range c.Upstream.Databases {
		if id == "" {
			continue
		}
		res, err := resource.Parse(name)
		if err != nil {
			continue
		}
		ids[res] = id
	}
	return ids
}

// getXDGDir returns a directory path following the XDG spec.
func getXDGDir(envVar, fallbackPath string) string {
	if xdgDir := os.Getenv(envVar); xdgDir != "" {
		return filepath.Join(xdgDir, "boardcache")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", fallbackPath, "boardcache")
	}
	return filepath.Join(home, fallbackPath, "boardcache")
}

// GetConfigDir returns the configuration directory following the XDG spec.
func GetConfigDir() string {
	return getXDGDir("XDG_CONFIG_HOME", ".config")
}

// GetDataDir returns the data directory following the XDG spec.
func GetDataDir() string {
	return getXDGDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	return os.ExpandEnv(path)
}
