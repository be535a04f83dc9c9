// Package config provides configuration loading from environment variables,
// an optional .env file and an optional YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServiceConfig holds configuration for the jobs service.
type ServiceConfig struct {
	Port              string        `yaml:"port"`
	MetricsPort       string        `yaml:"metricsPort"`
	LogLevel          string        `yaml:"logLevel"`
	LogFormat         string        `yaml:"logFormat"` // json or console
	ShutdownDrainWait time.Duration `yaml:"shutdownDrainWait"`
	ListLimitMax      int           `yaml:"listLimitMax"`

	Gemini GeminiConfig `yaml:"gemini"`
	Image  ImageConfig  `yaml:"image"`
	Runner RunnerConfig `yaml:"runner"`
}

// GeminiConfig configures the brief analyzer backend.
type GeminiConfig struct {
	APIKey  string        `yaml:"apiKey"`
	Model   string        `yaml:"model"`
	BaseURL string        `yaml:"baseURL"`
	Timeout time.Duration `yaml:"timeout"`
}

// ImageConfig configures image validation and optional CVI analysis.
type ImageConfig struct {
	FetchTimeout    time.Duration `yaml:"fetchTimeout"`
	MaxBytes        int64         `yaml:"maxBytes"`
	MaxPixels       int64         `yaml:"maxPixels"`
	AnalysisEnabled bool          `yaml:"analysisEnabled"`
}

// RunnerConfig configures the background orchestration pool.
type RunnerConfig struct {
	Workers     int           `yaml:"workers"`
	BufferSize  int           `yaml:"bufferSize"`
	TaskTimeout time.Duration `yaml:"taskTimeout"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *ServiceConfig {
	return &ServiceConfig{
		Port:              "8000",
		MetricsPort:       "9090",
		LogLevel:          "info",
		LogFormat:         "json",
		ShutdownDrainWait: 5 * time.Second,
		ListLimitMax:      1000,
		Gemini: GeminiConfig{
			Model:   "gemini-1.5-pro",
			BaseURL: "https://generativelanguage.googleapis.com/v1beta",
			Timeout: 60 * time.Second,
		},
		Image: ImageConfig{
			FetchTimeout: 10 * time.Second,
			MaxBytes:     10 << 20,
			MaxPixels:    89_478_485,
		},
		Runner: RunnerConfig{
			Workers:     4,
			BufferSize:  1000,
			TaskTimeout: 5 * time.Minute,
		},
	}
}

// Load builds the service configuration. Precedence, lowest first:
// defaults, CONFIG_FILE (YAML), environment (including DOTENV_FILE, default .env).
func Load() (*ServiceConfig, error) {
	if err := LoadDotEnv(GetEnv("DOTENV_FILE", ".env")); err != nil {
		return nil, err
	}

	cfg := Defaults()
	if path := GetEnv("CONFIG_FILE", ""); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFile overlays values present in a YAML file onto cfg.
func (c *ServiceConfig) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *ServiceConfig) applyEnv() {
	c.Port = GetEnv("PORT", c.Port)
	c.MetricsPort = GetEnv("METRICS_PORT", c.MetricsPort)
	c.LogLevel = GetEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = GetEnv("LOG_FORMAT", c.LogFormat)
	c.ShutdownDrainWait = GetDurationEnv("SHUTDOWN_DRAIN_WAIT", c.ShutdownDrainWait)
	c.ListLimitMax = GetIntEnv("LIST_LIMIT_MAX", c.ListLimitMax)

	c.Gemini.APIKey = GetEnv("GEMINI_API_KEY", GetEnv("GOOGLE_API_KEY", c.Gemini.APIKey))
	if secret := GetSecretFile(GetEnv("GEMINI_API_KEY_FILE", "")); secret != "" {
		c.Gemini.APIKey = secret
	}
	c.Gemini.Model = GetEnv("GEMINI_MODEL", c.Gemini.Model)
	c.Gemini.BaseURL = GetEnv("GEMINI_BASE_URL", c.Gemini.BaseURL)
	c.Gemini.Timeout = GetDurationEnv("GEMINI_TIMEOUT", c.Gemini.Timeout)

	c.Image.FetchTimeout = GetDurationEnv("IMAGE_FETCH_TIMEOUT", c.Image.FetchTimeout)
	c.Image.MaxBytes = GetInt64Env("IMAGE_MAX_BYTES", c.Image.MaxBytes)
	c.Image.MaxPixels = GetInt64Env("IMAGE_MAX_PIXELS", c.Image.MaxPixels)
	c.Image.AnalysisEnabled = GetBoolEnv("IMAGE_ANALYSIS_ENABLED", c.Image.AnalysisEnabled)

	c.Runner.Workers = GetIntEnv("RUNNER_WORKERS", c.Runner.Workers)
	c.Runner.BufferSize = GetIntEnv("RUNNER_BUFFER_SIZE", c.Runner.BufferSize)
	c.Runner.TaskTimeout = GetDurationEnv("RUNNER_TASK_TIMEOUT", c.Runner.TaskTimeout)
}

// Validate rejects settings the service cannot start with.
func (c *ServiceConfig) Validate() error {
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat)
	}
	if c.ListLimitMax <= 0 {
		return fmt.Errorf("LIST_LIMIT_MAX must be positive, got %d", c.ListLimitMax)
	}
	if c.Image.MaxBytes <= 0 {
		return fmt.Errorf("IMAGE_MAX_BYTES must be positive, got %d", c.Image.MaxBytes)
	}
	if c.Image.MaxPixels <= 0 {
		return fmt.Errorf("IMAGE_MAX_PIXELS must be positive, got %d", c.Image.MaxPixels)
	}
	if c.Gemini.Model == "" {
		return fmt.Errorf("GEMINI_MODEL is required")
	}
	return nil
}
