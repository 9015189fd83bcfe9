// Package config provides the library-wide configuration for ArrayStore.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/arraystore/arraystore/internal/circuit"
	"github.com/arraystore/arraystore/pkg/retry"
)

// Configuration represents the complete library configuration.
type Configuration struct {
	Global   GlobalConfig   `yaml:"global"`
	Defaults DefaultsConfig `yaml:"defaults"`
	Remote   RemoteConfig   `yaml:"remote"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// GlobalConfig represents global library settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level"`
}

// DefaultsConfig represents defaults applied to create/open calls that do
// not specify a value.
type DefaultsConfig struct {
	ChunkSizeHint int64 `yaml:"chunk_size_hint"`
	InitialSize   int64 `yaml:"initial_size"`
}

// RemoteConfig represents remote-backend settings.
type RemoteConfig struct {
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	ForcePathStyle  bool          `yaml:"force_path_style"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	HTTPTimeout     time.Duration `yaml:"http_timeout"`
	Retry           retry.Config  `yaml:"retry"`

	// CacheSize bounds the payload cache for read-only remote opens; zero
	// disables caching.
	CacheSize int64          `yaml:"cache_size"`
	CacheTTL  time.Duration  `yaml:"cache_ttl"`
	Breaker   circuit.Config `yaml:"breaker"`
}

// MetricsConfig represents metrics settings.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// NewDefault returns a configuration with sensible defaults.
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel: "INFO",
		},
		Defaults: DefaultsConfig{
			ChunkSizeHint: 4 * 1024 * 1024,
			InitialSize:   0,
		},
		Remote: RemoteConfig{
			Region:      "us-east-1",
			HTTPTimeout: 30 * time.Second,
			Retry:       retry.DefaultConfig(),
			CacheSize:   64 * 1024 * 1024,
			CacheTTL:    time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Namespace: "arraystore",
		},
	}
}

// LoadFromFile loads configuration from a YAML file.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// LoadFromEnv loads configuration overrides from environment variables.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("ARRAYSTORE_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("ARRAYSTORE_CHUNK_SIZE_HINT"); val != "" {
		if hint, err := strconv.ParseInt(val, 10, 64); err == nil {
			c.Defaults.ChunkSizeHint = hint
		}
	}
	if val := os.Getenv("ARRAYSTORE_REMOTE_REGION"); val != "" {
		c.Remote.Region = val
	}
	if val := os.Getenv("ARRAYSTORE_REMOTE_ENDPOINT"); val != "" {
		c.Remote.Endpoint = val
	}
	if val := os.Getenv("ARRAYSTORE_REMOTE_PATH_STYLE"); val != "" {
		c.Remote.ForcePathStyle = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("ARRAYSTORE_REMOTE_HTTP_TIMEOUT"); val != "" {
		if timeout, err := time.ParseDuration(val); err == nil {
			c.Remote.HTTPTimeout = timeout
		}
	}
	if val := os.Getenv("ARRAYSTORE_METRICS_ENABLED"); val != "" {
		c.Metrics.Enabled = strings.ToLower(val) == "true"
	}
	return nil
}

// Validate validates the configuration.
func (c *Configuration) Validate() error {
	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if c.Global.LogLevel == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if c.Defaults.ChunkSizeHint < 0 {
		return fmt.Errorf("chunk_size_hint must not be negative")
	}
	if c.Remote.HTTPTimeout <= 0 {
		return fmt.Errorf("remote http_timeout must be greater than 0")
	}
	if c.Remote.CacheSize < 0 {
		return fmt.Errorf("remote cache_size must not be negative")
	}
	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		return fmt.Errorf("metrics namespace must be set when metrics are enabled")
	}
	return nil
}
