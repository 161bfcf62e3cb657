package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for gitsnap
type Config struct {
	// GitHub API and archive endpoints
	GitHub GitHubConfig `yaml:"github" json:"github"`

	// Output settings
	Output OutputConfig `yaml:"output" json:"output"`

	// Download settings
	Download DownloadConfig `yaml:"download" json:"download"`

	// Rate limiting configuration
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// GitHubConfig holds GitHub-specific configuration
type GitHubConfig struct {
	Token          string `yaml:"token" json:"token"`
	APIBaseURL     string `yaml:"api_base_url" json:"api_base_url"`
	ArchiveBaseURL string `yaml:"archive_base_url" json:"archive_base_url"`
	UserAgent      string `yaml:"user_agent" json:"user_agent"`
	PerPage        int    `yaml:"per_page" json:"per_page"`
}

// OutputConfig holds output directory configuration
type OutputConfig struct {
	// Directory receives the archives. Empty means ./<username>.
	Directory string `yaml:"directory" json:"directory"`
	// WriteMetadata stores a <name>.zip.json sidecar next to each new archive
	WriteMetadata bool `yaml:"write_metadata" json:"write_metadata"`
}

// DownloadConfig holds download-specific configuration
type DownloadConfig struct {
	IdleTimeout    time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	RetryAttempts  int           `yaml:"retry_attempts" json:"retry_attempts"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" json:"retry_base_delay"`
	ChunkSize      int           `yaml:"chunk_size" json:"chunk_size"`
	VerifyArchives bool          `yaml:"verify_archives" json:"verify_archives"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		GitHub: GitHubConfig{
			APIBaseURL:     "https://api.github.com/",
			ArchiveBaseURL: "https://codeload.github.com",
			UserAgent:      "gitsnap",
			PerPage:        100,
		},
		Download: DownloadConfig{
			IdleTimeout:    30 * time.Second,
			RequestTimeout: 10 * time.Second,
			RetryAttempts:  3,
			RetryBaseDelay: time.Second,
			ChunkSize:      32 * 1024,
			VerifyArchives: true,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
		},
		Logging: LoggingConfig{
			Level: "warn",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	// GITSNAP_GITHUB_TOKEN wins over the generic GITHUB_TOKEN
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		c.GitHub.Token = token
	}
	if token := os.Getenv("GITSNAP_GITHUB_TOKEN"); token != "" {
		c.GitHub.Token = token
	}
	if apiURL := os.Getenv("GITSNAP_API_URL"); apiURL != "" {
		c.GitHub.APIBaseURL = apiURL
	}
	if archiveURL := os.Getenv("GITSNAP_ARCHIVE_URL"); archiveURL != "" {
		c.GitHub.ArchiveBaseURL = archiveURL
	}

	if outputDir := os.Getenv("GITSNAP_OUTPUT_DIR"); outputDir != "" {
		c.Output.Directory = outputDir
	}

	if retries := os.Getenv("GITSNAP_MAX_RETRIES"); retries != "" {
		val, err := strconv.Atoi(retries)
		if err != nil {
			return fmt.Errorf("invalid GITSNAP_MAX_RETRIES %q: %w", retries, err)
		}
		c.Download.RetryAttempts = val
	}

	if timeout := os.Getenv("GITSNAP_DOWNLOAD_TIMEOUT"); timeout != "" {
		d, err := parseSeconds(timeout)
		if err != nil {
			return fmt.Errorf("invalid GITSNAP_DOWNLOAD_TIMEOUT %q: %w", timeout, err)
		}
		c.Download.IdleTimeout = d
	}

	if rpm := os.Getenv("GITSNAP_REQUESTS_PER_MINUTE"); rpm != "" {
		val, err := strconv.Atoi(rpm)
		if err != nil {
			return fmt.Errorf("invalid GITSNAP_REQUESTS_PER_MINUTE %q: %w", rpm, err)
		}
		c.RateLimit.RequestsPerMinute = val
	}

	if logLevel := os.Getenv("GITSNAP_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	return nil
}

// parseSeconds accepts either a bare number of seconds or a Go duration
func parseSeconds(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home, _ := os.UserHomeDir()
	locations := []string{
		".gitsnap.yaml",
		".gitsnap.yml",
	}
	if home != "" {
		locations = append(locations,
			filepath.Join(home, ".config", "gitsnap", "config.yaml"),
			filepath.Join(home, ".config", "gitsnap", "config.yml"),
			filepath.Join(home, ".gitsnap.yaml"),
			filepath.Join(home, ".gitsnap.yml"),
		)
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Normalize fixes up values that have a single canonical form.
// Enterprise API roots are often given without the trailing slash.
func (c *Config) Normalize() {
	if c.GitHub.APIBaseURL != "" && !strings.HasSuffix(c.GitHub.APIBaseURL, "/") {
		c.GitHub.APIBaseURL += "/"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.GitHub.APIBaseURL == "" {
		errs = append(errs, errors.New("GitHub API base URL is required"))
	}
	if c.GitHub.ArchiveBaseURL == "" {
		errs = append(errs, errors.New("archive base URL is required"))
	}
	if c.GitHub.PerPage <= 0 || c.GitHub.PerPage > 100 {
		errs = append(errs, errors.New("per page must be between 1 and 100"))
	}

	if c.Download.IdleTimeout <= 0 {
		errs = append(errs, errors.New("download timeout must be positive"))
	}
	if c.Download.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}
	if c.Download.RetryAttempts < 1 {
		errs = append(errs, errors.New("retry attempts must be at least 1"))
	}
	if c.Download.RetryAttempts > 10 {
		errs = append(errs, errors.New("retry attempts should not exceed 10"))
	}
	if c.Download.RetryBaseDelay < 0 {
		errs = append(errs, errors.New("retry delay cannot be negative"))
	}
	if c.Download.ChunkSize <= 0 {
		errs = append(errs, errors.New("chunk size must be positive"))
	}

	if c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Errorf("invalid log level %q", c.Logging.Level))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// TargetDirectory returns the directory archives for username are written to
func (c *Config) TargetDirectory(username string) string {
	if c.Output.Directory != "" {
		return c.Output.Directory
	}
	return filepath.Join(".", username)
}

// MergeCommandLineFlags merges command line flags into the configuration.
// Only keys present in the map are applied.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if outputDir, ok := flags["output"].(string); ok && outputDir != "" {
		c.Output.Directory = outputDir
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
	if retries, ok := flags["max-retries"].(int); ok {
		c.Download.RetryAttempts = retries
	}
	if timeout, ok := flags["timeout"].(int); ok {
		c.Download.IdleTimeout = time.Duration(timeout) * time.Second
	}
	if rpm, ok := flags["rate-limit"].(int); ok {
		c.RateLimit.RequestsPerMinute = rpm
	}
	if verify, ok := flags["verify"].(bool); ok {
		c.Download.VerifyArchives = verify
	}
	if writeMetadata, ok := flags["metadata"].(bool); ok {
		c.Output.WriteMetadata = writeMetadata
	}
	if token, ok := flags["token"].(string); ok && token != "" {
		c.GitHub.Token = token
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	if home, err := os.UserHomeDir(); err == nil {
		_ = godotenv.Load(filepath.Join(home, ".gitsnap.env"))
	}

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	// Override with environment variables (includes values from .env)
	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)
	config.Normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
