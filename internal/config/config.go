// Package config provides configuration for the memodrill services. Settings
// come from three layers: built-in defaults, an optional YAML file, and
// environment variables with the MEMODRILL_ prefix. Later layers win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all settings for the web service and the trainer job.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Selection SelectionConfig `yaml:"selection"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port int    `yaml:"port"` // default: 6464
	Host string `yaml:"host"` // default: 127.0.0.1
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Engine      string `yaml:"engine"`       // sqlite or postgres (default: sqlite)
	DataPath    string `yaml:"data_path"`    // sqlite data directory (default: ./data)
	PostgresDSN string `yaml:"postgres_dsn"` // required when engine is postgres
}

// SchedulerConfig tunes the review scheduler defaults. Per-user fitted
// parameters override the weight-dependent parts at runtime.
type SchedulerConfig struct {
	DesiredRetention   float64 `yaml:"desired_retention"`    // default: 0.9
	MaximumIntervalDay int     `yaml:"maximum_interval_day"` // default: 36500
	DisableFuzzing     bool    `yaml:"disable_fuzzing"`      // default: false
}

// SelectionConfig tunes the item-selection engine.
type SelectionConfig struct {
	HardThreshold      float64 `yaml:"hard_threshold"`       // default: 7.0
	ContentProviderURL string  `yaml:"content_provider_url"` // default: http://localhost:8080
}

// OptimizerConfig tunes the nightly weight-fitting job.
type OptimizerConfig struct {
	MaxIterations int     `yaml:"max_iterations"` // default: 100
	LearningRate  float64 `yaml:"learning_rate"`  // default: 0.04
	Schedule      string  `yaml:"schedule"`       // cron spec, default: "0 3 * * *"
}

// RateLimitConfig tunes the per-client HTTP rate limiter.
type RateLimitConfig struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"` // default: 20
	Burst             int           `yaml:"burst"`               // default: 40
	ClientTTL         time.Duration `yaml:"client_ttl"`          // default: 10m
}

// Load builds the configuration: defaults, then the YAML file named by
// MEMODRILL_CONFIG (if set), then environment overrides.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("MEMODRILL_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 6464,
			Host: "127.0.0.1",
		},
		Storage: StorageConfig{
			Engine:   "sqlite",
			DataPath: "./data",
		},
		Scheduler: SchedulerConfig{
			DesiredRetention:   0.9,
			MaximumIntervalDay: 36500,
		},
		Selection: SelectionConfig{
			HardThreshold:      7.0,
			ContentProviderURL: "http://localhost:8080",
		},
		Optimizer: OptimizerConfig{
			MaxIterations: 100,
			LearningRate:  0.04,
			Schedule:      "0 3 * * *",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
			ClientTTL:         10 * time.Minute,
		},
	}
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnvInt("MEMODRILL_PORT", c.Server.Port)
	c.Server.Host = getEnv("MEMODRILL_HOST", c.Server.Host)

	c.Storage.Engine = getEnv("MEMODRILL_STORAGE_ENGINE", c.Storage.Engine)
	c.Storage.DataPath = getEnv("MEMODRILL_DATA_PATH", c.Storage.DataPath)
	c.Storage.PostgresDSN = getEnv("MEMODRILL_POSTGRES_DSN", c.Storage.PostgresDSN)

	c.Scheduler.DesiredRetention = getEnvFloat("MEMODRILL_DESIRED_RETENTION", c.Scheduler.DesiredRetention)
	c.Scheduler.MaximumIntervalDay = getEnvInt("MEMODRILL_MAXIMUM_INTERVAL_DAY", c.Scheduler.MaximumIntervalDay)
	c.Scheduler.DisableFuzzing = getEnvBool("MEMODRILL_DISABLE_FUZZING", c.Scheduler.DisableFuzzing)

	c.Selection.HardThreshold = getEnvFloat("MEMODRILL_HARD_THRESHOLD", c.Selection.HardThreshold)
	c.Selection.ContentProviderURL = getEnv("MEMODRILL_CONTENT_PROVIDER_URL", c.Selection.ContentProviderURL)

	c.Optimizer.MaxIterations = getEnvInt("MEMODRILL_OPTIMIZER_MAX_ITERATIONS", c.Optimizer.MaxIterations)
	c.Optimizer.LearningRate = getEnvFloat("MEMODRILL_OPTIMIZER_LEARNING_RATE", c.Optimizer.LearningRate)
	c.Optimizer.Schedule = getEnv("MEMODRILL_OPTIMIZER_SCHEDULE", c.Optimizer.Schedule)

	c.RateLimit.RequestsPerSecond = getEnvFloat("MEMODRILL_RATE_LIMIT_RPS", c.RateLimit.RequestsPerSecond)
	c.RateLimit.Burst = getEnvInt("MEMODRILL_RATE_LIMIT_BURST", c.RateLimit.Burst)
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Server.Port)
	}
	switch c.Storage.Engine {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("config: postgres engine requires MEMODRILL_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("config: unknown storage engine %q", c.Storage.Engine)
	}
	if c.Scheduler.DesiredRetention <= 0.7 || c.Scheduler.DesiredRetention > 0.99 {
		return fmt.Errorf("config: desired retention %.2f outside (0.7, 0.99]", c.Scheduler.DesiredRetention)
	}
	return nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default
// value. It recognizes "true", "1", "yes" and "false", "0", "no".
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}
