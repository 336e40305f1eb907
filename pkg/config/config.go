package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Formats lists the resource formats the scraper knows how to request
var Formats = []string{"csv", "ods", "html", "pdf", "xls", "zip"}

// Config holds all configuration options for the data.gov.uk scraper
type Config struct {
	// Catalog endpoint settings
	Catalog CatalogConfig `yaml:"catalog" json:"catalog"`

	// Rate limiting configuration
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Download settings
	Download DownloadConfig `yaml:"download" json:"download"`

	// Output settings
	Output OutputConfig `yaml:"output" json:"output"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// CatalogConfig holds settings for the data.gov.uk endpoints
type CatalogConfig struct {
	BaseURL        string        `yaml:"base_url" json:"base_url"`
	UserAgent      string        `yaml:"user_agent" json:"user_agent"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries" json:"max_retries"`
	PerPage        int           `yaml:"per_page" json:"per_page"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
}

// DownloadConfig holds download-specific configuration
type DownloadConfig struct {
	ConcurrentDownloads int           `yaml:"concurrent_downloads" json:"concurrent_downloads"`
	DownloadTimeout     time.Duration `yaml:"download_timeout" json:"download_timeout"`
}

// OutputConfig holds output directory configuration
type OutputConfig struct {
	BaseDirectory string `yaml:"base_directory" json:"base_directory"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		Catalog: CatalogConfig{
			BaseURL:        "https://data.gov.uk",
			UserAgent:      "Mozilla/5.0 (Windows NT 6.1; Win64; x64; rv:23.0) Gecko/20131011 Firefox/23.0",
			RequestTimeout: 30 * time.Second,
			MaxRetries:     3,
			PerPage:        20,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
		},
		Download: DownloadConfig{
			ConcurrentDownloads: 3,
			DownloadTimeout:     60 * time.Second,
		},
		Output: OutputConfig{
			BaseDirectory: filepath.Join(home, "datagovuk"),
		},
		Logging: LoggingConfig{
			Level: "warn",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, the
// environment, and command line flag overrides, in that precedence order
func Load(configFile string, flags map[string]interface{}) (*Config, error) {
	cfg := DefaultConfig()

	// Load .env if present; missing files are fine
	_ = godotenv.Load()

	if configFile == "" {
		configFile = defaultConfigPath()
	}
	if configFile != "" {
		if err := cfg.loadFromFile(configFile); err != nil {
			return nil, err
		}
	}

	cfg.loadFromEnv()
	cfg.applyFlags(flags)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultConfigPath returns $HOME/.datagovuk.yaml if it exists
func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	path := filepath.Join(home, ".datagovuk.yaml")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// loadFromFile overlays configuration from a YAML file
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s", path)
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// loadFromEnv overlays configuration from DATAGOVUK_* environment variables
func (c *Config) loadFromEnv() {
	if v := os.Getenv("DATAGOVUK_BASE_URL"); v != "" {
		c.Catalog.BaseURL = v
	}
	if v := os.Getenv("DATAGOVUK_USER_AGENT"); v != "" {
		c.Catalog.UserAgent = v
	}
	if v := os.Getenv("DATAGOVUK_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Catalog.MaxRetries = n
		}
	}
	if v := os.Getenv("DATAGOVUK_REQUESTS_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.RequestsPerMinute = n
		}
	}
	if v := os.Getenv("DATAGOVUK_CONCURRENT_DOWNLOADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Download.ConcurrentDownloads = n
		}
	}
	if v := os.Getenv("DATAGOVUK_OUTPUT_DIR"); v != "" {
		c.Output.BaseDirectory = v
	}
	if v := os.Getenv("DATAGOVUK_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// applyFlags overlays configuration from command line flag values
func (c *Config) applyFlags(flags map[string]interface{}) {
	for key, value := range flags {
		switch key {
		case "base-url":
			if v, ok := value.(string); ok {
				c.Catalog.BaseURL = v
			}
		case "max-retries":
			if v, ok := value.(int); ok {
				c.Catalog.MaxRetries = v
			}
		case "requests-per-minute":
			if v, ok := value.(int); ok {
				c.RateLimit.RequestsPerMinute = v
			}
		case "concurrent-downloads":
			if v, ok := value.(int); ok {
				c.Download.ConcurrentDownloads = v
			}
		case "download-timeout":
			if v, ok := value.(int); ok {
				c.Download.DownloadTimeout = time.Duration(v) * time.Second
			}
		case "output-dir":
			if v, ok := value.(string); ok {
				c.Output.BaseDirectory = v
			}
		case "log-level":
			if v, ok := value.(string); ok {
				c.Logging.Level = v
			}
		}
	}
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Catalog.BaseURL, "http://") && !strings.HasPrefix(c.Catalog.BaseURL, "https://") {
		return fmt.Errorf("catalog base_url must be an http(s) URL, got %q", c.Catalog.BaseURL)
	}
	if c.Catalog.RequestTimeout <= 0 {
		return fmt.Errorf("catalog request_timeout must be positive")
	}
	if c.Catalog.MaxRetries < 0 {
		return fmt.Errorf("catalog max_retries must not be negative")
	}
	if c.Catalog.PerPage <= 0 {
		return fmt.Errorf("catalog per_page must be positive")
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("rate_limit requests_per_minute must be positive")
	}
	if c.Download.ConcurrentDownloads <= 0 {
		return fmt.Errorf("download concurrent_downloads must be positive")
	}
	if c.Download.DownloadTimeout <= 0 {
		return fmt.Errorf("download download_timeout must be positive")
	}
	if c.Output.BaseDirectory == "" {
		return fmt.Errorf("output base_directory must not be empty")
	}
	return nil
}

// IsValidFormat reports whether the given format is one the catalog indexes
func IsValidFormat(format string) bool {
	format = strings.ToLower(format)
	for _, f := range Formats {
		if f == format {
			return true
		}
	}
	return false
}
