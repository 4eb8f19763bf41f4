package config

import (
	"time"

	"github.com/vietddude/triage/internal/core/domain"
	redisclient "github.com/vietddude/triage/internal/infra/redis"
	"github.com/vietddude/triage/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server     ServerConfig       `yaml:"server"`
	Logging    LoggingConfig      `yaml:"logging"`
	Classifier ClassifierConfig   `yaml:"classifier"`
	Runner     RunnerConfig       `yaml:"runner"`
	Retry      RetryConfig        `yaml:"retry"`
	Redis      redisclient.Config `yaml:"redis"`
	Database   postgres.Config    `yaml:"database"`
}

// ServerConfig holds the metrics HTTP server settings. Port 0 disables it.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// ClassifierConfig holds settings for the external classifier service.
type ClassifierConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`
	Concurrency int           `yaml:"concurrency"`
}

// RunnerConfig holds settings for the test re-execution command.
type RunnerConfig struct {
	// Command is the template invoked per test selector; the
	// {test_selector} placeholder is substituted in each element.
	Command     []string      `yaml:"command"`
	Workdir     string        `yaml:"workdir"`
	Timeout     time.Duration `yaml:"timeout"`
	Parallelism int           `yaml:"parallelism"`
}

// RetryConfig holds the retry budget and per-category overrides.
type RetryConfig struct {
	MaxAttemptsPerTest int                                         `yaml:"max_attempts_per_test"`
	MaxTotalRetries    int                                         `yaml:"max_total_retries"`
	CategoryOverrides  map[domain.Category]domain.CategoryOverride `yaml:"category_overrides"`
}

// Policy converts the retry section into the domain policy value.
func (r RetryConfig) Policy() domain.RetryPolicy {
	return domain.RetryPolicy{
		MaxAttemptsPerTest: r.MaxAttemptsPerTest,
		MaxTotalRetries:    r.MaxTotalRetries,
		CategoryOverrides:  r.CategoryOverrides,
	}
}
