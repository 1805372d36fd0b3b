// Package config loads pageimages settings from a YAML file, a .env file
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/novvoo/go-pageimages/internal/observability"
	"github.com/novvoo/go-pageimages/pkg/pdf"
)

// Environment variables that override file settings.
const (
	EnvPage      = "PAGEIMAGES_PAGE"
	EnvOutputDir = "PAGEIMAGES_OUTPUT_DIR"
	EnvRaw       = "PAGEIMAGES_RAW"
	EnvMode      = "PAGEIMAGES_MODE"
	EnvPassword  = "PAGEIMAGES_PASSWORD"
	EnvLogLevel  = "PAGEIMAGES_LOG_LEVEL"
	EnvLogFormat = "PAGEIMAGES_LOG_FORMAT"
)

// Config holds all pageimages configuration.
type Config struct {
	Extract ExtractConfig `yaml:"extract"`
	Log     LogConfig     `yaml:"log"`
}

// ExtractConfig holds extraction settings.
type ExtractConfig struct {
	Page      int    `yaml:"page"`
	OutputDir string `yaml:"output_dir"`
	Mode      string `yaml:"mode"` // native or raw
	// Raw is shorthand for mode raw and wins over Mode when set
	Raw      bool   `yaml:"raw"`
	Password string `yaml:"password"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() *Config {
	return &Config{
		Extract: ExtractConfig{
			Page:      0,
			OutputDir: ".",
			Mode:      "native",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads configuration from path (optional), then applies the .env
// file of the working directory and environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	// A missing .env is normal; variables already set win over it.
	_ = godotenv.Load()

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Extract.Page < 0 {
		return fmt.Errorf("page must be zero or greater, got %d", c.Extract.Page)
	}
	if _, err := c.Extract.ImageMode(); err != nil {
		return err
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}
	if !observability.ValidLevel(c.Log.Level) {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	return nil
}

// ImageMode returns the image mode selected by Mode and Raw.
func (e ExtractConfig) ImageMode() (pdf.ImageMode, error) {
	if e.Raw {
		return pdf.ImageModeRaw, nil
	}
	return pdf.ParseImageMode(e.Mode)
}

// LoggerConfig converts the log settings for observability.NewLogger.
func (c *Config) LoggerConfig() observability.LogConfig {
	return observability.LogConfig{
		Level:       c.Log.Level,
		Format:      c.Log.Format,
		ServiceName: "pageimages",
	}
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv(EnvPage); v != "" {
		page, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPage, err)
		}
		cfg.Extract.Page = page
	}

	if v := os.Getenv(EnvOutputDir); v != "" {
		cfg.Extract.OutputDir = v
	}

	if v := os.Getenv(EnvRaw); v != "" {
		raw, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRaw, err)
		}
		cfg.Extract.Raw = raw
	}

	if v := os.Getenv(EnvMode); v != "" {
		cfg.Extract.Mode = strings.ToLower(strings.TrimSpace(v))
	}

	if v := os.Getenv(EnvPassword); v != "" {
		cfg.Extract.Password = v
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}

	if v := os.Getenv(EnvLogFormat); v != "" {
		cfg.Log.Format = strings.ToLower(v)
	}

	return nil
}
