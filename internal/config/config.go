// Package config loads service configuration from config.yaml, .env, and
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete repometrics configuration
type Config struct {
	Organization string          `json:"organization" mapstructure:"organization"`
	Projects     []ProjectConfig `json:"projects" mapstructure:"projects"`

	Service  ServiceConfig  `json:"service" mapstructure:"service"`
	API      APIConfig      `json:"api" mapstructure:"api"`
	Output   OutputConfig   `json:"output" mapstructure:"output"`
	Database DatabaseConfig `json:"database" mapstructure:"database"`
	HTTP     HTTPConfig     `json:"http" mapstructure:"http"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`

	// From environment only, never from the config file.
	AzurePAT    string `json:"-" mapstructure:"-"`
	AzureOrgURL string `json:"-" mapstructure:"-"`
}

// ProjectConfig names a project and the repositories to analyze in it
type ProjectConfig struct {
	Name         string   `json:"name" mapstructure:"name"`
	Repositories []string `json:"repositories" mapstructure:"repositories"`
}

// ServiceConfig contains polling service configuration
type ServiceConfig struct {
	PollIntervalSeconds int `json:"pollIntervalSeconds" mapstructure:"poll_interval_seconds"`
	StaleTimeoutSeconds int `json:"staleTimeoutSeconds" mapstructure:"stale_timeout_seconds"`
}

// APIConfig contains upstream API client configuration
type APIConfig struct {
	TimeoutSeconds        int `json:"timeoutSeconds" mapstructure:"timeout_seconds"`
	MaxRetries            int `json:"maxRetries" mapstructure:"max_retries"`
	RateLimitDelayMillis  int `json:"rateLimitDelayMillis" mapstructure:"rate_limit_delay_ms"`
	MaxConcurrentRequests int `json:"maxConcurrentRequests" mapstructure:"max_concurrent_requests"`
}

// OutputConfig contains report artifact configuration
type OutputConfig struct {
	Directory      string `json:"directory" mapstructure:"directory"`
	FilenamePrefix string `json:"filenamePrefix" mapstructure:"filename_prefix"`
}

// DatabaseConfig contains persistent store configuration
type DatabaseConfig struct {
	Path        string `json:"path" mapstructure:"path"`
	CleanupDays int    `json:"cleanupDays" mapstructure:"cleanup_days"`
}

// HTTPConfig contains the status/enqueue API listener configuration
type HTTPConfig struct {
	ListenAddr string `json:"listenAddr" mapstructure:"listen_addr"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format"`
	Level  string `json:"level" mapstructure:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			PollIntervalSeconds: 10,
			StaleTimeoutSeconds: 300,
		},
		API: APIConfig{
			TimeoutSeconds:        30,
			MaxRetries:            3,
			RateLimitDelayMillis:  1000,
			MaxConcurrentRequests: 5,
		},
		Output: OutputConfig{
			Directory:      "output",
			FilenamePrefix: "repometrics",
		},
		Database: DatabaseConfig{
			Path:        "repometrics.db",
			CleanupDays: 90,
		},
		HTTP: HTTPConfig{
			ListenAddr: ":8080",
		},
		Logging: LoggingConfig{
			Format: "human",
			Level:  "info",
		},
	}
}

// Load reads configuration from the given file (or config.yaml in the working
// directory when path is empty), applies REPOMETRICS_* environment overrides,
// and picks up Azure credentials from the environment or a .env file.
func Load(path string) (*Config, error) {
	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("REPOMETRICS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// No config file: defaults plus environment.
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.AzurePAT = os.Getenv("AZURE_DEVOPS_PAT")
	cfg.AzureOrgURL = strings.TrimRight(os.Getenv("AZURE_DEVOPS_ORG_URL"), "/")

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("service.poll_interval_seconds", d.Service.PollIntervalSeconds)
	v.SetDefault("service.stale_timeout_seconds", d.Service.StaleTimeoutSeconds)
	v.SetDefault("api.timeout_seconds", d.API.TimeoutSeconds)
	v.SetDefault("api.max_retries", d.API.MaxRetries)
	v.SetDefault("api.rate_limit_delay_ms", d.API.RateLimitDelayMillis)
	v.SetDefault("api.max_concurrent_requests", d.API.MaxConcurrentRequests)
	v.SetDefault("output.directory", d.Output.Directory)
	v.SetDefault("output.filename_prefix", d.Output.FilenamePrefix)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.cleanup_days", d.Database.CleanupDays)
	v.SetDefault("http.listen_addr", d.HTTP.ListenAddr)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.level", d.Logging.Level)
}

// PollInterval returns the scheduler wake cadence as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Service.PollIntervalSeconds) * time.Second
}

// StaleTimeout returns the threshold after which a Running request with no
// live owner is presumed orphaned.
func (c *Config) StaleTimeout() time.Duration {
	return time.Duration(c.Service.StaleTimeoutSeconds) * time.Second
}

// ValidateForFetch checks the settings required to talk to Azure DevOps.
// Queue-only commands (status, enqueue) work without them.
func (c *Config) ValidateForFetch() error {
	var errs []string

	if c.AzurePAT == "" {
		errs = append(errs, "AZURE_DEVOPS_PAT environment variable is required")
	}
	if c.AzureOrgURL == "" {
		errs = append(errs, "AZURE_DEVOPS_ORG_URL environment variable is required")
	}
	if c.Organization == "" {
		errs = append(errs, "organization must be set in the config file")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

// OutputPath returns the path of filename inside the output directory,
// creating the directory if needed.
func (c *Config) OutputPath(filename string) (string, error) {
	if err := os.MkdirAll(c.Output.Directory, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	return filepath.Join(c.Output.Directory, filename), nil
}
