package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Classifier.Model == "" {
		cfg.Classifier.Model = "gpt-4o-mini"
	}
	if cfg.Classifier.Timeout == 0 {
		cfg.Classifier.Timeout = 30 * time.Second
	}
	if cfg.Classifier.Concurrency == 0 {
		cfg.Classifier.Concurrency = 5
	}
	if len(cfg.Runner.Command) == 0 {
		cfg.Runner.Command = []string{"mvn", "-q", "-Dtest={test_selector}", "test"}
	}
	if cfg.Runner.Timeout == 0 {
		cfg.Runner.Timeout = 10 * time.Minute
	}
	if cfg.Runner.Parallelism == 0 {
		cfg.Runner.Parallelism = 1
	}
	if cfg.Retry.MaxAttemptsPerTest == 0 {
		cfg.Retry.MaxAttemptsPerTest = 2
	}
	if cfg.Retry.MaxTotalRetries == 0 {
		cfg.Retry.MaxTotalRetries = 10
	}
}

func validate(cfg *AppConfig) error {
	if cfg.Retry.MaxAttemptsPerTest < 1 {
		return fmt.Errorf("retry.max_attempts_per_test must be >= 1, got %d",
			cfg.Retry.MaxAttemptsPerTest)
	}
	if cfg.Retry.MaxTotalRetries < 0 {
		return fmt.Errorf("retry.max_total_retries must be >= 0, got %d",
			cfg.Retry.MaxTotalRetries)
	}
	for cat, o := range cfg.Retry.CategoryOverrides {
		switch o {
		case "always", "never", "defer":
		default:
			return fmt.Errorf("retry.category_overrides[%s]: unknown override %q", cat, o)
		}
	}
	return nil
}
